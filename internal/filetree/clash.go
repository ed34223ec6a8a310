package filetree

import (
	"crypto/md5" //nolint:gosec // used for stable file name suffixes, not security
	"encoding/base64"
	"encoding/hex"
	"path"
)

// RemoveNameClashes renames siblings that share a name but point to
// different URLs, so that every file gets its own path. It recurses into
// the whole subtree.
//
// Opencast recordings are disambiguated first by appending the last URL
// segment. Any clash that remains gets a short hash of the node id
// inserted before the extension. Renamed siblings move directly behind
// the first node carrying the name.
func (n *Node) RemoveNameClashes() {
	n.Children = resolveClashes(n.Children, func(c *Node) bool {
		return c.Type == KindOpencast
	}, func(first *Node, siblings []*Node) {
		first.Name = baseName(first.Name) + "_" + lastSegment(first.URL)
		for _, s := range siblings {
			s.Name = s.Name + "_" + lastSegment(s.URL)
		}
	})

	n.Children = resolveClashes(n.Children, func(*Node) bool {
		return true
	}, func(first *Node, siblings []*Node) {
		first.Name = hashedName(first)
		for _, s := range siblings {
			s.Name = hashedName(s)
		}
	})

	for _, c := range n.Children {
		c.RemoveNameClashes()
	}
}

// resolveClashes walks children in order. For each child selected by
// eligible, the later siblings with the same name and a different URL are
// passed to rename together with the child and regrouped behind it.
func resolveClashes(children []*Node, eligible func(*Node) bool, rename func(*Node, []*Node)) []*Node {
	remaining := append([]*Node(nil), children...)
	out := make([]*Node, 0, len(children))

	for len(remaining) > 0 {
		child := remaining[0]
		remaining = remaining[1:]
		out = append(out, child)
		if !eligible(child) {
			continue
		}

		var siblings, rest []*Node
		for _, c := range remaining {
			if c.Name == child.Name && c.URL != child.URL {
				siblings = append(siblings, c)
			} else {
				rest = append(rest, c)
			}
		}
		if len(siblings) == 0 {
			continue
		}
		rename(child, siblings)
		remaining = rest
		out = append(out, siblings...)
	}
	return out
}

func baseName(name string) string {
	if name == "" {
		return ""
	}
	return path.Base(name)
}

// hashedName returns the name with an id-derived suffix before the extension.
func hashedName(n *Node) string {
	stem, ext := splitExt(n.Name)
	return stem + "_" + IDSuffix(n.ID) + ext
}

// IDSuffix returns the ten character suffix derived from a node id:
// the URL-safe base64 encoding of the hex MD5 digest of the id.
func IDSuffix(id string) string {
	sum := md5.Sum([]byte(id)) //nolint:gosec // naming only
	return base64.URLEncoding.EncodeToString([]byte(hex.EncodeToString(sum[:])))[:10]
}
