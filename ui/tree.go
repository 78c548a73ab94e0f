package ui

import (
	"github.com/vkngwrapper/fathom/handles"
)

// Node is one entry in a widget tree: a widget plus its place in the
// hierarchy.
type Node struct {
	widget Widget

	parent    NodeIndex
	hasParent bool
	children  []NodeIndex
}

// Widget exposes the node's content.
func (n *Node) Widget() Widget { return n.widget }

// NodeIndex is a weak reference to a tree node.
type NodeIndex = handles.Index[*Node]

// Tree is a retained widget hierarchy backed by an indexed node store.
// Nodes are addressed by weak indices; a stale index resolves to nothing
// rather than to a recycled node.
//
// Structural invariants are enforced with panics: a tree has at most one
// root, and no node may be attached beneath itself. Both are programming
// errors in the caller, never runtime conditions.
type Tree struct {
	nodes *handles.Store[*Node]

	root    NodeIndex
	hasRoot bool
}

// NewTree creates a Tree holding at most maxNodes nodes.
func NewTree(maxNodes uint32) *Tree {
	return &Tree{
		nodes: handles.NewStore[*Node](maxNodes),
	}
}

// InsertRoot places widget at the root of an empty tree. Inserting a
// second root panics.
func (t *Tree) InsertRoot(widget Widget) (NodeIndex, error) {
	if t.hasRoot {
		panic("ui: tree already has a root")
	}

	id, err := t.nodes.Insert(&Node{widget: widget})
	if err != nil {
		return NodeIndex{}, err
	}

	t.root = id
	t.hasRoot = true
	return id, nil
}

// Insert places widget as the last child of parent. A stale parent index
// panics: the caller holds a reference to a node it already removed.
func (t *Tree) Insert(parent NodeIndex, widget Widget) (NodeIndex, error) {
	parentNode := t.nodes.Get(parent)
	if parentNode == nil {
		panic("ui: inserting under a node that is not in the tree")
	}

	id, err := t.nodes.Insert(&Node{widget: widget})
	if err != nil {
		return NodeIndex{}, err
	}

	node := *t.nodes.Get(id)
	node.parent = parent
	node.hasParent = true
	(*parentNode).children = append((*parentNode).children, id)
	return id, nil
}

// Move reattaches the subtree rooted at id beneath newParent. Attaching a
// node beneath itself or one of its own descendants would disconnect the
// subtree into a cycle, so Move panics in that case.
func (t *Tree) Move(id NodeIndex, newParent NodeIndex) {
	if id == newParent {
		panic("ui: a node cannot be its own child")
	}

	node := t.nodes.Get(id)
	parentNode := t.nodes.Get(newParent)
	if node == nil || parentNode == nil {
		panic("ui: moving a node that is not in the tree")
	}

	// Walk up from the new parent; finding id means the destination is
	// inside the moved subtree.
	ancestor := newParent
	for {
		ancestorNode := *t.nodes.Get(ancestor)
		if !ancestorNode.hasParent {
			break
		}
		ancestor = ancestorNode.parent
		if ancestor == id {
			panic("ui: a node cannot be moved beneath its own descendant")
		}
	}

	t.detach(id)
	(*node).parent = newParent
	(*node).hasParent = true
	(*parentNode).children = append((*parentNode).children, id)
}

func (t *Tree) detach(id NodeIndex) {
	node := *t.nodes.Get(id)
	if !node.hasParent {
		return
	}

	parent := t.nodes.Get(node.parent)
	children := (*parent).children
	for i, child := range children {
		if child == id {
			(*parent).children = append(children[:i], children[i+1:]...)
			break
		}
	}
	node.hasParent = false
}

// Remove deletes the subtree rooted at id, children first. It reports how
// many nodes were removed; a stale index removes nothing.
func (t *Tree) Remove(id NodeIndex) int {
	nodePtr := t.nodes.Get(id)
	if nodePtr == nil {
		return 0
	}

	t.detach(id)
	if t.hasRoot && id == t.root {
		t.hasRoot = false
	}
	return t.removeSubtree(id)
}

func (t *Tree) removeSubtree(id NodeIndex) int {
	node, ok := t.nodes.Remove(id)
	if !ok {
		return 0
	}

	removed := 1
	for _, child := range node.children {
		removed += t.removeSubtree(child)
	}
	return removed
}

// Root reports the root node's index, if the tree has one.
func (t *Tree) Root() (NodeIndex, bool) {
	return t.root, t.hasRoot
}

// Node resolves id, or nil if the index is stale.
func (t *Tree) Node(id NodeIndex) *Node {
	nodePtr := t.nodes.Get(id)
	if nodePtr == nil {
		return nil
	}
	return *nodePtr
}

// Children reports the child indices of id in insertion order.
func (t *Tree) Children(id NodeIndex) []NodeIndex {
	node := t.Node(id)
	if node == nil {
		return nil
	}
	return node.children
}

// Count reports the number of live nodes.
func (t *Tree) Count() int {
	return t.nodes.Count()
}

// Draw runs the redraw pass: every widget's Draw in depth-first order,
// parents before children. An empty tree draws nothing.
func (t *Tree) Draw(ctx *DrawContext) {
	if !t.hasRoot {
		return
	}
	t.drawNode(t.root, ctx)
}

func (t *Tree) drawNode(id NodeIndex, ctx *DrawContext) {
	node := *t.nodes.Get(id)
	node.widget.Draw(ctx)

	for _, child := range node.children {
		t.drawNode(child, ctx)
	}
}
