package filetree

import (
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// invalidChars are removed from path components.
const invalidChars = `~"#%&*:<>?/\{|}`

// Sanitize turns a display name into a single valid path component.
// Percent escapes are decoded, characters that are invalid on common
// filesystems are dropped, surrounding spaces are trimmed and the result
// is NFC normalized so that equal names map to equal files on every OS.
func Sanitize(name string) string {
	if unescaped, err := url.PathUnescape(name); err == nil {
		name = unescaped
	}
	name = strings.Map(func(r rune) rune {
		if strings.ContainsRune(invalidChars, r) {
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, "amp;", "&")
	return norm.NFC.String(name)
}

// SanitizedName returns the node name as a slash separated relative path.
// Every "/" separated segment is sanitized on its own, empty segments are
// dropped.
func (n *Node) SanitizedName() string {
	segments := strings.Split(n.Name, "/")
	kept := segments[:0]
	for _, s := range segments {
		if s = Sanitize(s); s != "" && s != "." && s != ".." {
			kept = append(kept, s)
		}
	}
	return strings.Join(kept, "/")
}

// RelPath returns the slash separated path of n below the root.
// The root itself has an empty relative path.
func (n *Node) RelPath() string {
	var parts []string
	for cur := n; cur != nil && cur.parent != nil; cur = cur.parent {
		parts = append(parts, cur.SanitizedName())
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return path.Join(parts...)
}

// SanitizedPath returns the filesystem path of n below base.
func (n *Node) SanitizedPath(base string) string {
	return filepath.Join(base, filepath.FromSlash(n.RelPath()))
}

// ListFiles returns the sanitized path of every node in pre-order,
// rooted at "/".
func (n *Node) ListFiles() []string {
	var files []string
	var walk func(*Node, string)
	walk = func(c *Node, parent string) {
		p := path.Join(parent, c.SanitizedName())
		files = append(files, p)
		for _, child := range c.Children {
			walk(child, p)
		}
	}
	walk(n, "/")
	return files
}
