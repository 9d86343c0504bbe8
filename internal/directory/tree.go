package directory

import (
	"fmt"
	"strings"

	"github.com/desertwitch/imgfs/internal/pathing"
	"github.com/desertwitch/imgfs/internal/schema"
)

const (
	connectorMid  = "├── "
	connectorLast = "└── "
	indentMid     = "│   "
	indentLast    = "    "
)

// Node is one element of a directory tree.
type Node struct {
	Name     string
	Inode    uint32
	Type     schema.FileType
	Size     uint64
	Cycle    bool
	Children []*Node
}

// IsDir returns whether the node is a directory.
func (n *Node) IsDir() bool {
	return n.Type == schema.TypeDirectory
}

// BuildTree returns the tree rooted at p, depth-first in insertion order. An
// inode reached twice on the same branch is marked as a cycle and not
// descended into.
func (h *Handler) BuildTree(p string) (*Node, error) {
	num, err := h.Resolve(p)
	if err != nil {
		return nil, fmt.Errorf("(dir-tree) %w", err)
	}

	name := "/"
	if !pathing.IsRoot(p) {
		_, name, _ = pathing.SplitParent(p)
	}

	node, err := h.buildNode(name, num, make(map[uint32]struct{}))
	if err != nil {
		return nil, fmt.Errorf("(dir-tree) %w", err)
	}

	return node, nil
}

func (h *Handler) buildNode(name string, num uint32, visited map[uint32]struct{}) (*Node, error) {
	ino, err := h.table.Read(num)
	if err != nil {
		return nil, err
	}

	node := &Node{
		Name:  name,
		Inode: num,
		Type:  ino.Type,
		Size:  ino.Size,
	}

	if _, seen := visited[num]; seen {
		node.Cycle = true

		return node, nil
	}

	if !node.IsDir() {
		return node, nil
	}

	visited[num] = struct{}{}
	defer delete(visited, num)

	for e, err := range h.Entries(num) {
		if err != nil {
			return nil, err
		}

		child, err := h.buildNode(e.Name, e.Inode, visited)
		if err != nil {
			return nil, err
		}

		node.Children = append(node.Children, child)
	}

	return node, nil
}

// Lines renders the tree one entry per line, with box-drawing connectors.
// Directories carry a trailing slash.
func (n *Node) Lines() []string {
	lines := []string{n.label()}
	n.appendChildren(&lines, "")

	return lines
}

func (n *Node) String() string {
	return strings.Join(n.Lines(), "\n")
}

func (n *Node) label() string {
	label := n.Name
	if n.IsDir() && label != "/" {
		label += "/"
	}

	if n.Cycle {
		label += " [cycle]"
	}

	return label
}

func (n *Node) appendChildren(lines *[]string, prefix string) {
	for i, c := range n.Children {
		connector, indent := connectorMid, indentMid
		if i == len(n.Children)-1 {
			connector, indent = connectorLast, indentLast
		}

		*lines = append(*lines, prefix+connector+c.label())
		c.appendChildren(lines, prefix+indent)
	}
}
