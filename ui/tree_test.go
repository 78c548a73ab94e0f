package ui_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/fathom/render"
	"github.com/vkngwrapper/fathom/ui"
	vkngmath "github.com/vkngwrapper/math"
)

// labelWidget records the order widgets were drawn in.
type labelWidget struct {
	label string
	drawn *[]string
}

func (w *labelWidget) Draw(ctx *ui.DrawContext) {
	*w.drawn = append(*w.drawn, w.label)
	ctx.FillRect(render.NewRect(0, 0, 10, 10), vkngmath.Vec4[float32]{W: 1})
}

func newLabel(label string, drawn *[]string) *labelWidget {
	return &labelWidget{label: label, drawn: drawn}
}

func TestTreeDrawOrderIsDepthFirst(t *testing.T) {
	tree := ui.NewTree(16)
	var drawn []string

	root, err := tree.InsertRoot(newLabel("root", &drawn))
	require.NoError(t, err)

	left, err := tree.Insert(root, newLabel("left", &drawn))
	require.NoError(t, err)
	_, err = tree.Insert(left, newLabel("left.child", &drawn))
	require.NoError(t, err)
	_, err = tree.Insert(root, newLabel("right", &drawn))
	require.NoError(t, err)

	list := &render.DrawList{}
	tree.Draw(ui.NewDrawContext(list))

	require.Equal(t, []string{"root", "left", "left.child", "right"}, drawn)
	require.Equal(t, 16, list.VertexCount())
}

func TestTreeEmptyDrawsNothing(t *testing.T) {
	tree := ui.NewTree(16)

	list := &render.DrawList{}
	tree.Draw(ui.NewDrawContext(list))
	require.Zero(t, list.VertexCount())
}

func TestTreeDoubleRootPanics(t *testing.T) {
	tree := ui.NewTree(16)
	var drawn []string

	_, err := tree.InsertRoot(newLabel("root", &drawn))
	require.NoError(t, err)

	require.Panics(t, func() {
		_, _ = tree.InsertRoot(newLabel("usurper", &drawn))
	})
}

func TestTreeRootReplaceableAfterRemove(t *testing.T) {
	tree := ui.NewTree(16)
	var drawn []string

	root, err := tree.InsertRoot(newLabel("first", &drawn))
	require.NoError(t, err)
	require.Equal(t, 1, tree.Remove(root))

	_, err = tree.InsertRoot(newLabel("second", &drawn))
	require.NoError(t, err)
}

func TestTreeNodeCannotBeItsOwnChild(t *testing.T) {
	tree := ui.NewTree(16)
	var drawn []string

	root, err := tree.InsertRoot(newLabel("root", &drawn))
	require.NoError(t, err)
	child, err := tree.Insert(root, newLabel("child", &drawn))
	require.NoError(t, err)

	require.Panics(t, func() {
		tree.Move(child, child)
	})
}

func TestTreeMoveBeneathDescendantPanics(t *testing.T) {
	tree := ui.NewTree(16)
	var drawn []string

	root, err := tree.InsertRoot(newLabel("root", &drawn))
	require.NoError(t, err)
	middle, err := tree.Insert(root, newLabel("middle", &drawn))
	require.NoError(t, err)
	leaf, err := tree.Insert(middle, newLabel("leaf", &drawn))
	require.NoError(t, err)

	require.Panics(t, func() {
		tree.Move(middle, leaf)
	})
}

func TestTreeMoveReattachesSubtree(t *testing.T) {
	tree := ui.NewTree(16)
	var drawn []string

	root, err := tree.InsertRoot(newLabel("root", &drawn))
	require.NoError(t, err)
	left, err := tree.Insert(root, newLabel("left", &drawn))
	require.NoError(t, err)
	right, err := tree.Insert(root, newLabel("right", &drawn))
	require.NoError(t, err)
	leaf, err := tree.Insert(left, newLabel("leaf", &drawn))
	require.NoError(t, err)

	tree.Move(leaf, right)

	require.Empty(t, tree.Children(left))
	require.Equal(t, []ui.NodeIndex{leaf}, tree.Children(right))

	tree.Draw(ui.NewDrawContext(&render.DrawList{}))
	require.Equal(t, []string{"root", "left", "right", "leaf"}, drawn)
}

func TestTreeRemoveDeletesWholeSubtree(t *testing.T) {
	tree := ui.NewTree(16)
	var drawn []string

	root, err := tree.InsertRoot(newLabel("root", &drawn))
	require.NoError(t, err)
	left, err := tree.Insert(root, newLabel("left", &drawn))
	require.NoError(t, err)
	_, err = tree.Insert(left, newLabel("leaf1", &drawn))
	require.NoError(t, err)
	leaf2, err := tree.Insert(left, newLabel("leaf2", &drawn))
	require.NoError(t, err)

	require.Equal(t, 3, tree.Remove(left))
	require.Equal(t, 1, tree.Count())
	require.Nil(t, tree.Node(left))
	require.Nil(t, tree.Node(leaf2))

	// Removing through the now-stale index is a no-op.
	require.Zero(t, tree.Remove(left))
}

func TestTreeInsertUnderStaleParentPanics(t *testing.T) {
	tree := ui.NewTree(16)
	var drawn []string

	root, err := tree.InsertRoot(newLabel("root", &drawn))
	require.NoError(t, err)
	child, err := tree.Insert(root, newLabel("child", &drawn))
	require.NoError(t, err)
	tree.Remove(child)

	require.Panics(t, func() {
		_, _ = tree.Insert(child, newLabel("orphan", &drawn))
	})
}
