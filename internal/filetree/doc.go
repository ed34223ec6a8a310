// Package filetree models the remote Moodle content hierarchy as a tree of
// Nodes. The crawler builds the tree, the downloader walks its leaves, and
// the CLI lists or exports it.
//
// Node names are the remote display names. They are only sanitized when a
// filesystem path is derived, so the tree can be rendered faithfully while
// paths stay valid on every platform.
package filetree
