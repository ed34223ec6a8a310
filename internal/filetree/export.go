package filetree

import (
	"io"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// ExportDOT renders the subtree as a Graphviz strict digraph, one
// statement per line. Node identifiers encode the child index path:
// the root is node_0, its first child node_00, and indexes of ten or more
// are delimited by underscores to keep identifiers unique.
func (n *Node) ExportDOT() []string {
	lines := []string{"strict digraph {"}
	var walk func(*Node, string)
	walk = func(c *Node, id string) {
		lines = append(lines, "node_"+id+` [label="`+escapeLabel(c.Name)+`"];`)
		for i, child := range c.Children {
			childID := id + indexToken(i)
			lines = append(lines, "node_"+id+" -> node_"+childID+";")
			walk(child, childID)
		}
	}
	walk(n, "0")
	return append(lines, "}")
}

func indexToken(i int) string {
	if i < 10 {
		return strconv.Itoa(i)
	}
	return "_" + strconv.Itoa(i) + "_"
}

func escapeLabel(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}

// WriteDOT writes the DOT rendering of the subtree to w.
func (n *Node) WriteDOT(w io.Writer) error {
	_, err := io.WriteString(w, strings.Join(n.ExportDOT(), "\n")+"\n")
	return err
}

// WriteJSON writes the subtree as indented JSON to w.
func (n *Node) WriteJSON(w io.Writer) error {
	data, err := json.MarshalIndent(n, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}

// ReadJSON decodes a tree written by WriteJSON and restores parent links.
func ReadJSON(r io.Reader) (*Node, error) {
	var root Node
	if err := json.NewDecoder(r).Decode(&root); err != nil {
		return nil, err
	}
	root.relink()
	return &root, nil
}

func (n *Node) relink() {
	for _, c := range n.Children {
		c.parent = n
		c.relink()
	}
}
