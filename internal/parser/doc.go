// Package parser extracts the parts of Moodle, identity provider and
// Opencast pages the sync client needs: hidden form inputs, anchors,
// iframes, embedded video sources and inline scripts.
package parser
