// Package lagstats keeps a multiset of lag samples with O(log n) order statistics.
package lagstats

import (
	"math"
	"math/rand/v2"
)

// Treap-based multiset of int64 samples.
//
// Ordering: value ASC. Equal samples share one node with a multiplicity
// count, so size counts samples rather than nodes. Priorities are random,
// which keeps the expected depth logarithmic regardless of insert order.

// quantileEpsilon absorbs float error in p*n before the ceiling.
const quantileEpsilon = 1e-9

type node struct {
	value int64
	count int
	prio  uint64
	left  *node
	right *node
	size  int // samples in this subtree, counting multiplicity
}

func nsize(n *node) int {
	if n == nil {
		return 0
	}
	return n.size
}

func fix(n *node) {
	if n != nil {
		n.size = n.count + nsize(n.left) + nsize(n.right)
	}
}

func rotateRight(y *node) *node {
	x := y.left
	t2 := x.right
	x.right = y
	y.left = t2
	fix(y)
	fix(x)
	return x
}

func rotateLeft(x *node) *node {
	y := x.right
	t2 := y.left
	y.left = x
	x.right = t2
	fix(x)
	fix(y)
	return y
}

func (w *Window) insert(n *node, v int64) *node {
	if n == nil {
		return &node{value: v, count: 1, prio: w.rng.Uint64(), size: 1}
	}
	switch {
	case v == n.value:
		n.count++
	case v < n.value:
		n.left = w.insert(n.left, v)
		if n.left.prio > n.prio {
			n = rotateRight(n)
		}
	default:
		n.right = w.insert(n.right, v)
		if n.right.prio > n.prio {
			n = rotateLeft(n)
		}
	}
	fix(n)
	return n
}

// remove drops one occurrence of v. The caller must know v is present.
func remove(n *node, v int64) *node {
	if n == nil {
		return nil
	}
	switch {
	case v < n.value:
		n.left = remove(n.left, v)
	case v > n.value:
		n.right = remove(n.right, v)
	default:
		if n.count > 1 {
			n.count--
			break
		}
		// Rotate the node down until it has at most one child.
		if n.left == nil {
			return n.right
		}
		if n.right == nil {
			return n.left
		}
		if n.left.prio > n.right.prio {
			n = rotateRight(n)
			n.right = remove(n.right, v)
		} else {
			n = rotateLeft(n)
			n.left = remove(n.left, v)
		}
	}
	fix(n)
	return n
}

func find(n *node, v int64) *node {
	for n != nil {
		switch {
		case v < n.value:
			n = n.left
		case v > n.value:
			n = n.right
		default:
			return n
		}
	}
	return nil
}

// kth returns the sample at zero-based rank k in ascending order.
func kth(n *node, k int) int64 {
	for n != nil {
		ls := nsize(n.left)
		switch {
		case k < ls:
			n = n.left
		case k < ls+n.count:
			return n.value
		default:
			k -= ls + n.count
			n = n.right
		}
	}
	return 0
}

// Window is a multiset of lag samples in nanoseconds.
// It is not safe for concurrent use; the aggregator owns it.
type Window struct {
	root *node
	sum  int64
	rng  *rand.Rand
}

// New returns an empty window.
func New(opts ...Option) *Window {
	w := &Window{}
	for _, opt := range opts {
		opt(w)
	}
	if w.rng == nil {
		w.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return w
}

// Insert adds one occurrence of v.
func (w *Window) Insert(v int64) {
	w.root = w.insert(w.root, v)
	w.sum += v
}

// Remove deletes one occurrence of v and reports whether it was present.
// Removing an absent value leaves the window unchanged.
func (w *Window) Remove(v int64) bool {
	if find(w.root, v) == nil {
		return false
	}
	w.root = remove(w.root, v)
	w.sum -= v
	return true
}

// Len returns the number of samples, counting duplicates.
func (w *Window) Len() int { return nsize(w.root) }

// Mean returns the arithmetic mean, or false when empty.
func (w *Window) Mean() (float64, bool) {
	n := w.Len()
	if n == 0 {
		return 0, false
	}
	return float64(w.sum) / float64(n), true
}

// Min returns the smallest sample, or false when empty.
func (w *Window) Min() (int64, bool) {
	n := w.root
	if n == nil {
		return 0, false
	}
	for n.left != nil {
		n = n.left
	}
	return n.value, true
}

// Max returns the largest sample, or false when empty.
func (w *Window) Max() (int64, bool) {
	n := w.root
	if n == nil {
		return 0, false
	}
	for n.right != nil {
		n = n.right
	}
	return n.value, true
}

// Quantile returns the nearest-rank quantile for p in [0, 1]: the sample at
// ascending index ceil(p*n)-1, clamped into range. p outside [0, 1] is
// clamped too. It returns false when the window is empty.
func (w *Window) Quantile(p float64) (int64, bool) {
	n := w.Len()
	if n == 0 {
		return 0, false
	}
	return kth(w.root, Rank(p, n)), true
}

// Rank returns the zero-based nearest-rank index for quantile p over n samples.
func Rank(p float64, n int) int {
	if n <= 0 {
		return 0
	}
	if math.IsNaN(p) || p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}
	idx := int(math.Ceil(p*float64(n)-quantileEpsilon)) - 1
	if idx < 0 {
		idx = 0
	}
	if idx > n-1 {
		idx = n - 1
	}
	return idx
}

// values returns all samples in ascending order.
func (w *Window) values() []int64 {
	out := make([]int64, 0, w.Len())
	var walk func(n *node)
	walk = func(n *node) {
		if n == nil {
			return
		}
		walk(n.left)
		for i := 0; i < n.count; i++ {
			out = append(out, n.value)
		}
		walk(n.right)
	}
	walk(w.root)
	return out
}
