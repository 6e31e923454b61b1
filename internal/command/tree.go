// Package command holds the static command tree: modules of nested
// command nodes with aliases, permission descriptors, and inherited
// precondition gates. The tree is built once at startup and only read
// afterwards.
package command

import (
	"sort"
	"strings"

	"github.com/sahilm/fuzzy"

	"github.com/ThePrimedTNT/astolfo/internal/permissions"
)

// Action is a leaf command body.
type Action func(ctx *Context) error

// Predicate is an inherited precondition, evaluated for a node and all
// of its descendants before any leaf runs. Returning false aborts the
// command; the predicate is expected to have replied already if the
// user deserves an explanation.
type Predicate func(ctx *Context) bool

// Node is one entry of the command tree.
type Node struct {
	Name       string
	Aliases    []string
	Inherited  []Predicate
	Action     Action
	Children   []*Node
	Permission permissions.Descriptor
}

// Module groups root nodes under a name with display flags.
type Module struct {
	Name   string
	Hidden bool
	NSFW   bool
	Roots  []*Node
}

// Tree is the read-only command hierarchy.
type Tree struct {
	modules []*Module
	names   []string // all root-level names and aliases, for suggestions
}

// NewTree builds the tree and derives dotted permission nodes for any
// node that did not declare one ("music play" -> "music.play").
func NewTree(modules ...*Module) *Tree {
	t := &Tree{modules: modules}
	for _, m := range modules {
		for _, root := range m.Roots {
			fillPermissionNodes(root, "")
			t.names = append(t.names, root.Name)
			t.names = append(t.names, root.Aliases...)
		}
	}
	sort.Strings(t.names)
	return t
}

func fillPermissionNodes(n *Node, parent string) {
	path := n.Name
	if parent != "" {
		path = parent + "." + n.Name
	}
	if n.Permission.Node == "" {
		n.Permission.Node = path
	}
	for _, c := range n.Children {
		fillPermissionNodes(c, path)
	}
}

// Modules returns the module list in registration order.
func (t *Tree) Modules() []*Module {
	return t.modules
}

// Resolution is the result of walking the tree for a command line.
type Resolution struct {
	Module *Module
	Chain  []*Node // traversed nodes, root first
	Node   *Node   // last matched node
	Path   string  // space-joined, e.g. "music play"
	Args   string  // remaining argument text
}

// PermissionNode returns the dotted permission path of the resolved node.
func (r *Resolution) PermissionNode() string {
	return r.Node.Permission.Node
}

// Resolve walks the tree token by token, taking the longest matching
// prefix of the command line. Matching is case-insensitive over names
// and aliases. Returns nil when the first token matches nothing.
func (t *Tree) Resolve(line string) *Resolution {
	tokens := strings.Fields(line)
	if len(tokens) == 0 {
		return nil
	}

	var module *Module
	var node *Node
	for _, m := range t.modules {
		for _, root := range m.Roots {
			if nodeMatches(root, tokens[0]) {
				module, node = m, root
				break
			}
		}
		if node != nil {
			break
		}
	}
	if node == nil {
		return nil
	}

	chain := []*Node{node}
	consumed := 1
	for consumed < len(tokens) {
		var next *Node
		for _, c := range node.Children {
			if nodeMatches(c, tokens[consumed]) {
				next = c
				break
			}
		}
		if next == nil {
			break
		}
		node = next
		chain = append(chain, node)
		consumed++
	}

	names := make([]string, len(chain))
	for i, n := range chain {
		names[i] = n.Name
	}
	return &Resolution{
		Module: module,
		Chain:  chain,
		Node:   node,
		Path:   strings.Join(names, " "),
		Args:   strings.Join(tokens[consumed:], " "),
	}
}

// Suggest returns the closest root command name for an unknown input,
// or "" when nothing is remotely similar.
func (t *Tree) Suggest(input string) string {
	if strings.TrimSpace(input) == "" {
		return ""
	}
	matches := fuzzy.Find(strings.ToLower(input), t.names)
	if len(matches) == 0 {
		return ""
	}
	return matches[0].Str
}

// SuggestChild returns the closest child name under a node.
func SuggestChild(n *Node, input string) string {
	if strings.TrimSpace(input) == "" {
		return ""
	}
	var names []string
	for _, c := range n.Children {
		names = append(names, c.Name)
	}
	matches := fuzzy.Find(strings.ToLower(input), names)
	if len(matches) == 0 {
		return ""
	}
	return matches[0].Str
}

func nodeMatches(n *Node, token string) bool {
	if strings.EqualFold(n.Name, token) {
		return true
	}
	for _, a := range n.Aliases {
		if strings.EqualFold(a, token) {
			return true
		}
	}
	return false
}
