package filetree

import (
	"path"
	"strings"
)

// Kind is the type of a node. It selects the download strategy for leaves.
type Kind string

// Node kinds.
const (
	KindRoot           Kind = "Root"
	KindSemester       Kind = "Semester"
	KindCourse         Kind = "Course"
	KindSection        Kind = "Section"
	KindAssignment     Kind = "Assignment"
	KindAssignmentFile Kind = "Assignment File"
	KindFolder         Kind = "Folder"
	KindFolderFile     Kind = "Folder File"
	KindOpencast       Kind = "Opencast"
	KindYoutube        Kind = "Youtube"
	KindQuiz           Kind = "Quiz"
	KindScieboFile     Kind = "Sciebo file"
	KindVideoJS        Kind = "Embedded videojs"
)

// LinkedFile returns the kind of a file found behind a link, labelled with
// its content type.
func LinkedFile(contentType string) Kind {
	return Kind("Linked file [" + contentType + "]")
}

// Node is one entry of the content tree. Nodes with children are
// directories; leaves with a URL are downloadable files.
type Node struct {
	// Name is the display name. It may contain "/" to express
	// subdirectories inside a folder or an assignment.
	Name string `json:"name"`

	// ID is the remote identifier: a Moodle id, a file URL, an Opencast
	// episode id, or empty.
	ID string `json:"id,omitempty"`

	Type Kind   `json:"type"`
	URL  string `json:"url,omitempty"`

	// CourseID is the course an Opencast recording belongs to.
	CourseID int `json:"course_id,omitempty"`

	// Downloaded marks leaves that must not be fetched.
	Downloaded bool `json:"downloaded,omitempty"`

	Children []*Node `json:"children,omitempty"`

	parent *Node
}

// ChildOption configures a node created by AddChild.
type ChildOption func(*Node)

// WithCourseID records the course a node belongs to.
func WithCourseID(id int) ChildOption {
	return func(n *Node) {
		n.CourseID = id
	}
}

// New returns a root node.
func New(name string) *Node {
	return &Node{Name: name, Type: KindRoot}
}

// Parent returns the parent node, or nil for the root.
func (n *Node) Parent() *Node {
	return n.parent
}

// NormalizeURL maps equivalent Moodle file URLs to one form so that the
// same file is recognized regardless of how it was linked.
func NormalizeURL(u string) string {
	u = strings.ReplaceAll(u, "?forcedownload=1", "")
	u = strings.ReplaceAll(u, "mod_page/content/3", "mod_page/content")
	u = strings.ReplaceAll(u, "webservice/pluginfile.php", "pluginfile.php")
	return u
}

// AddChild appends a new child. The URL is normalized first. If a sibling
// already carries the same URL the child is not added and nil is returned.
func (n *Node) AddChild(name, id string, kind Kind, url string, opts ...ChildOption) *Node {
	if url != "" {
		url = NormalizeURL(url)
		for _, c := range n.Children {
			if c.URL == url {
				return nil
			}
		}
	}

	child := &Node{Name: name, ID: id, Type: kind, URL: url, parent: n}
	for _, opt := range opts {
		opt(child)
	}
	n.Children = append(n.Children, child)
	return child
}

// Attach appends an already built subtree as a child.
func (n *Node) Attach(child *Node) {
	child.parent = n
	n.Children = append(n.Children, child)
}

// Child returns the first direct child with the given name and kind.
func (n *Node) Child(name string, kind Kind) *Node {
	for _, c := range n.Children {
		if c.Name == name && c.Type == kind {
			return c
		}
	}
	return nil
}

// GetOrAddChild returns the child with the given name and kind, creating
// it when missing.
func (n *Node) GetOrAddChild(name, id string, kind Kind) *Node {
	if c := n.Child(name, kind); c != nil {
		return c
	}
	return n.AddChild(name, id, kind, "")
}

// Path returns the names from the root down to n.
func (n *Node) Path() []string {
	var names []string
	for cur := n; cur != nil; cur = cur.parent {
		names = append(names, cur.Name)
	}
	for i, j := 0, len(names)-1; i < j; i, j = i+1, j-1 {
		names[i], names[j] = names[j], names[i]
	}
	return names
}

// Walk calls fn for n and every descendant in pre-order.
// Returning false from fn skips the node's children.
func (n *Node) Walk(fn func(*Node) bool) {
	if !fn(n) {
		return
	}
	for _, c := range n.Children {
		c.Walk(fn)
	}
}

// Leaves returns the downloadable leaves below n in pre-order: nodes
// without children that have a URL and are not marked as downloaded.
func (n *Node) Leaves() []*Node {
	var leaves []*Node
	n.Walk(func(c *Node) bool {
		if len(c.Children) == 0 && c.URL != "" && !c.Downloaded {
			leaves = append(leaves, c)
		}
		return true
	})
	return leaves
}

// Count returns the number of nodes of the given kind below and including n.
func (n *Node) Count(kind Kind) int {
	count := 0
	n.Walk(func(c *Node) bool {
		if c.Type == kind {
			count++
		}
		return true
	})
	return count
}

// lastSegment returns the part of u after the last slash.
func lastSegment(u string) string {
	if i := strings.LastIndex(u, "/"); i >= 0 {
		return u[i+1:]
	}
	return u
}

// splitExt splits the final path element of name into stem and extension.
// A leading dot does not start an extension.
func splitExt(name string) (stem, ext string) {
	base := path.Base(name)
	ext = path.Ext(base)
	if ext == base {
		ext = ""
	}
	return strings.TrimSuffix(name, ext), ext
}
