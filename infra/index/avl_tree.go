package index

import (
	"math"

	"github.com/cockroachdb/errors"
)

// EmptyKey marks an absent child in level-order serializations and is
// returned by nearest-neighbour searches that find nothing. It can never be
// stored as a key.
const EmptyKey uint64 = math.MaxUint64

// NotFound is the rank returned by Find for an absent key.
const NotFound = -1

const nilNode = -1

var (
	ErrDuplicateKey = errors.New("index: duplicate key")
	ErrReservedKey  = errors.New("index: key is reserved")
	ErrCorrupt      = errors.New("index: corrupt serialization")
)

// node lives in Tree.nodes and links its children by slot number.
type node struct {
	key    uint64
	left   int
	right  int
	count  int
	height int
}

// Tree is an AVL tree over uint64 keys with subtree sizes for rank queries.
// Nodes are kept in an arena; rotations only rewrite slot numbers.
// Tree is not safe for concurrent use.
type Tree struct {
	nodes []node
	free  []int
	root  int
}

func NewTree() *Tree {
	return &Tree{root: nilNode}
}

func (t *Tree) Len() int {
	return t.count(t.root)
}

func (t *Tree) Empty() bool {
	return t.root == nilNode
}

func (t *Tree) Height() int {
	return t.height(t.root)
}

// Insert adds key. Keys already present are rejected with ErrDuplicateKey.
func (t *Tree) Insert(key uint64) error {
	if key == EmptyKey {
		return ErrReservedKey
	}
	if t.Contains(key) {
		return errors.Wrapf(ErrDuplicateKey, "key %d", key)
	}
	t.root = t.insert(t.root, key)
	return nil
}

// Erase removes key; absent keys are a no-op. It reports whether key was removed.
func (t *Tree) Erase(key uint64) bool {
	root, ok := t.erase(t.root, key)
	t.root = root
	return ok
}

func (t *Tree) Contains(key uint64) bool {
	return t.Find(key) != NotFound
}

// Find returns the number of keys smaller than key, or NotFound.
func (t *Tree) Find(key uint64) int {
	rank := 0
	n := t.root
	for n != nilNode {
		nd := &t.nodes[n]
		switch {
		case key < nd.key:
			n = nd.left
		case key > nd.key:
			rank += t.count(nd.left) + 1
			n = nd.right
		default:
			return rank + t.count(nd.left)
		}
	}
	return NotFound
}

// At returns the key with the given rank.
func (t *Tree) At(rank int) (uint64, bool) {
	if rank < 0 || rank >= t.Len() {
		return EmptyKey, false
	}
	n := t.root
	for {
		left := t.count(t.nodes[n].left)
		switch {
		case rank < left:
			n = t.nodes[n].left
		case rank > left:
			rank -= left + 1
			n = t.nodes[n].right
		default:
			return t.nodes[n].key, true
		}
	}
}

// FirstLower returns the greatest key <= bound, or EmptyKey.
func (t *Tree) FirstLower(bound uint64) uint64 {
	best := EmptyKey
	n := t.root
	for n != nilNode {
		nd := &t.nodes[n]
		if nd.key <= bound {
			best = nd.key
			n = nd.right
		} else {
			n = nd.left
		}
	}
	return best
}

// FirstHigher returns the smallest key >= bound, or EmptyKey.
func (t *Tree) FirstHigher(bound uint64) uint64 {
	best := EmptyKey
	n := t.root
	for n != nilNode {
		nd := &t.nodes[n]
		if nd.key >= bound {
			best = nd.key
			n = nd.left
		} else {
			n = nd.right
		}
	}
	return best
}

// ---- serialization ----

// Serialize encodes the tree breadth first. Every absent child of a present
// node is written as EmptyKey so Deserialize restores the exact shape.
func (t *Tree) Serialize() []uint64 {
	if t.root == nilNode {
		return nil
	}

	out := make([]uint64, 0, 2*t.Len()+1)
	queue := []int{t.root}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]

		if n == nilNode {
			out = append(out, EmptyKey)
			continue
		}
		out = append(out, t.nodes[n].key)
		queue = append(queue, t.nodes[n].left, t.nodes[n].right)
	}
	return out
}

// Deserialize replaces the tree with the shape encoded by Serialize.
// Subtree sizes and heights are recomputed; key order is validated.
func (t *Tree) Deserialize(data []uint64) error {
	t.nodes = t.nodes[:0]
	t.free = t.free[:0]
	t.root = nilNode

	if len(data) == 0 || data[0] == EmptyKey {
		return nil
	}

	t.root = t.alloc(data[0])
	queue := []int{t.root}
	i := 1
	for len(queue) > 0 && i < len(data) {
		parent := queue[0]
		queue = queue[1:]

		if i < len(data) {
			if data[i] != EmptyKey {
				c := t.alloc(data[i])
				t.nodes[parent].left = c
				queue = append(queue, c)
			}
			i++
		}
		if i < len(data) {
			if data[i] != EmptyKey {
				c := t.alloc(data[i])
				t.nodes[parent].right = c
				queue = append(queue, c)
			}
			i++
		}
	}

	t.recompute(t.root)

	keys := t.SerializeInorder()
	for j := 1; j < len(keys); j++ {
		if keys[j-1] >= keys[j] {
			t.Deserialize(nil)
			return errors.Wrapf(ErrCorrupt, "keys out of order at %d", keys[j])
		}
	}
	return nil
}

// SerializeInorder returns every key in ascending order.
func (t *Tree) SerializeInorder() []uint64 {
	return t.inorder(0, true)
}

// SerializeInorderFrom returns the keys strictly greater than bound, ascending.
func (t *Tree) SerializeInorderFrom(bound uint64) []uint64 {
	return t.inorder(bound, false)
}

// SerializeInorderIncl returns the keys greater than or equal to bound, ascending.
func (t *Tree) SerializeInorderIncl(bound uint64) []uint64 {
	return t.inorder(bound, true)
}

func (t *Tree) inorder(bound uint64, incl bool) []uint64 {
	keep := func(k uint64) bool {
		if incl {
			return k >= bound
		}
		return k > bound
	}

	out := make([]uint64, 0, t.Len())
	var stack []int
	n := t.root
	for n != nilNode || len(stack) > 0 {
		for n != nilNode {
			// Left subtrees below the bound hold nothing we want.
			if keep(t.nodes[n].key) {
				stack = append(stack, n)
				n = t.nodes[n].left
			} else {
				n = t.nodes[n].right
			}
		}
		if len(stack) == 0 {
			break
		}
		n = stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		out = append(out, t.nodes[n].key)
		n = t.nodes[n].right
	}
	return out
}

// ---- mutation internals ----

func (t *Tree) insert(n int, key uint64) int {
	if n == nilNode {
		return t.alloc(key)
	}
	if key < t.nodes[n].key {
		l := t.insert(t.nodes[n].left, key)
		t.nodes[n].left = l
	} else {
		r := t.insert(t.nodes[n].right, key)
		t.nodes[n].right = r
	}
	return t.rebalance(n)
}

func (t *Tree) erase(n int, key uint64) (int, bool) {
	if n == nilNode {
		return nilNode, false
	}

	var ok bool
	switch {
	case key < t.nodes[n].key:
		var l int
		l, ok = t.erase(t.nodes[n].left, key)
		t.nodes[n].left = l
	case key > t.nodes[n].key:
		var r int
		r, ok = t.erase(t.nodes[n].right, key)
		t.nodes[n].right = r
	default:
		left, right := t.nodes[n].left, t.nodes[n].right
		t.release(n)
		if left == nilNode {
			return right, true
		}
		if right == nilNode {
			return left, true
		}
		// Splice the in-order successor into the removed slot.
		rest, succ := t.detachMin(right)
		t.nodes[succ].left = left
		t.nodes[succ].right = rest
		return t.rebalance(succ), true
	}
	return t.rebalance(n), ok
}

// detachMin unlinks the leftmost node under n and returns the new subtree root
// together with the detached node.
func (t *Tree) detachMin(n int) (int, int) {
	if t.nodes[n].left == nilNode {
		return t.nodes[n].right, n
	}
	l, min := t.detachMin(t.nodes[n].left)
	t.nodes[n].left = l
	return t.rebalance(n), min
}

func (t *Tree) rebalance(n int) int {
	t.update(n)

	bf := t.balance(n)
	switch {
	case bf >= 2:
		if t.balance(t.nodes[n].left) < 0 {
			t.nodes[n].left = t.rotateLeft(t.nodes[n].left)
		}
		return t.rotateRight(n)
	case bf <= -2:
		if t.balance(t.nodes[n].right) > 0 {
			t.nodes[n].right = t.rotateRight(t.nodes[n].right)
		}
		return t.rotateLeft(n)
	}
	return n
}

func (t *Tree) rotateLeft(n int) int {
	r := t.nodes[n].right
	t.nodes[n].right = t.nodes[r].left
	t.nodes[r].left = n
	t.update(n)
	t.update(r)
	return r
}

func (t *Tree) rotateRight(n int) int {
	l := t.nodes[n].left
	t.nodes[n].left = t.nodes[l].right
	t.nodes[l].right = n
	t.update(n)
	t.update(l)
	return l
}

func (t *Tree) update(n int) {
	nd := &t.nodes[n]
	nd.count = t.count(nd.left) + t.count(nd.right) + 1
	nd.height = max(t.height(nd.left), t.height(nd.right)) + 1
}

func (t *Tree) recompute(n int) {
	if n == nilNode {
		return
	}
	t.recompute(t.nodes[n].left)
	t.recompute(t.nodes[n].right)
	t.update(n)
}

func (t *Tree) balance(n int) int {
	if n == nilNode {
		return 0
	}
	return t.height(t.nodes[n].left) - t.height(t.nodes[n].right)
}

func (t *Tree) count(n int) int {
	if n == nilNode {
		return 0
	}
	return t.nodes[n].count
}

func (t *Tree) height(n int) int {
	if n == nilNode {
		return 0
	}
	return t.nodes[n].height
}

func (t *Tree) alloc(key uint64) int {
	nd := node{key: key, left: nilNode, right: nilNode, count: 1, height: 1}
	if k := len(t.free); k > 0 {
		n := t.free[k-1]
		t.free = t.free[:k-1]
		t.nodes[n] = nd
		return n
	}
	t.nodes = append(t.nodes, nd)
	return len(t.nodes) - 1
}

func (t *Tree) release(n int) {
	t.nodes[n] = node{left: nilNode, right: nilNode}
	t.free = append(t.free, n)
}
