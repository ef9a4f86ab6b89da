package thread

import "github.com/hitoshi/campusboard/internal/model"

// Node はツリー内のコメント。Childrenは Tree.Nodes のインデックス。
type Node struct {
	model.Comment
	Children []int
}

// Tree はインデックスで親子関係を表すコメントツリー。
// 各ノードはRootsかいずれかのノードのChildrenのどちらか一方に高々1回だけ現れる。
type Tree struct {
	Nodes []Node
	Roots []int
}

// Len はツリーに含まれるノード数を返す。
func (t *Tree) Len() int {
	return len(t.Nodes)
}

// Walk はルートから深さ優先でノードを訪問する。fnがfalseを返すとその子孫は訪問しない。
func (t *Tree) Walk(fn func(n *Node, depth int) bool) {
	var visit func(i, depth int)
	visit = func(i, depth int) {
		n := &t.Nodes[i]
		if !fn(n, depth) {
			return
		}
		for _, c := range n.Children {
			visit(c, depth+1)
		}
	}
	for _, r := range t.Roots {
		visit(r, 0)
	}
}

// build はフラットなコメント集合をツリーに組み直す。
// 深さがrootDepthのコメントを根とし、親チェーンが親ノードのチェーン+親ノードIDに
// 一致し、深さがちょうど1大きいコメントだけを子として取り付ける。
// どこにも取り付けられなかったコメント（途中の親が取り込まれなかったもの）は捨てる。
func build(flat []model.Comment, rootDepth int) *Tree {
	tree := &Tree{Nodes: make([]Node, 0, len(flat))}
	index := make(map[model.RecordID]int, len(flat))
	for _, c := range flat {
		if _, dup := index[c.ID]; dup {
			continue
		}
		index[c.ID] = len(tree.Nodes)
		tree.Nodes = append(tree.Nodes, Node{Comment: c})
	}

	byParent := make(map[model.RecordID][]int)
	for i := range tree.Nodes {
		if parent, ok := tree.Nodes[i].DirectParent(); ok {
			byParent[parent] = append(byParent[parent], i)
		}
	}

	attached := make([]bool, len(tree.Nodes))
	var attach func(i int)
	attach = func(i int) {
		for _, j := range byParent[tree.Nodes[i].ID] {
			if attached[j] || !extends(&tree.Nodes[j].Comment, &tree.Nodes[i].Comment) {
				continue
			}
			attached[j] = true
			tree.Nodes[i].Children = append(tree.Nodes[i].Children, j)
			attach(j)
		}
	}

	for i := range tree.Nodes {
		if attached[i] || tree.Nodes[i].Depth() != rootDepth {
			continue
		}
		attached[i] = true
		tree.Roots = append(tree.Roots, i)
		attach(i)
	}

	return compact(tree, attached)
}

// compact は取り付けられなかったノードを取り除き、インデックスを詰め直す。
func compact(tree *Tree, keep []bool) *Tree {
	remap := make([]int, len(tree.Nodes))
	nodes := make([]Node, 0, len(tree.Nodes))
	for i, n := range tree.Nodes {
		if !keep[i] {
			continue
		}
		remap[i] = len(nodes)
		nodes = append(nodes, n)
	}
	for i := range nodes {
		for j, c := range nodes[i].Children {
			nodes[i].Children[j] = remap[c]
		}
	}
	roots := make([]int, len(tree.Roots))
	for i, r := range tree.Roots {
		roots[i] = remap[r]
	}
	return &Tree{Nodes: nodes, Roots: roots}
}

// extends はchildの親チェーンがparentのチェーンにparent自身を加えたものと一致するかを返す。
func extends(child, parent *model.Comment) bool {
	if child.ID == parent.ID || child.Depth() != parent.Depth()+1 {
		return false
	}
	if child.ParentPost != parent.ParentPost {
		return false
	}
	for i, id := range parent.ParentComments {
		if child.ParentComments[i] != id {
			return false
		}
	}
	return child.ParentComments[parent.Depth()] == parent.ID
}
