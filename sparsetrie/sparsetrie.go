package sparsetrie

import (
	"github.com/ethcorego/execution-core/trie/nibbles"
)

// SparseTrie is a Merkle-Patricia Trie partitioned into an upper subtrie
// (paths shorter than two nibbles) and 256 lower subtries, each
// revealed from a Provider only as paths are actually visited.
type SparseTrie struct {
	upper *SparseSubtrie
	lower [256]*lowerSlot
}

// NewEmpty returns a SparseTrie with an empty upper subtrie and every
// lower subtrie blind.
func NewEmpty() *SparseTrie {
	st := &SparseTrie{upper: newSubtrie()}
	for i := range st.lower {
		st.lower[i] = &lowerSlot{state: lowerBlind}
	}
	return st
}

// subtrieFor returns the subtrie that owns path, revealing (allocating
// or reviving) a lower slot the first time it is touched.
func (t *SparseTrie) subtrieFor(path nibbles.Nibbles) *SparseSubtrie {
	if belongsToUpper(path) {
		return t.upper
	}
	slot := t.lower[lowerIndex(path)]
	if slot.state == lowerBlind {
		if slot.collapsed != nil {
			slot.live, slot.collapsed = slot.collapsed, nil
		} else {
			slot.live = newSubtrie()
		}
		slot.state = lowerRevealed
	}
	return slot.live
}

// isTerminal reports whether suffix represents "nothing left but the
// terminator" — i.e. a value lives exactly at the node that consumed
// everything before suffix.
func isTerminal(suffix nibbles.Nibbles) bool {
	return len(suffix) == 1 && suffix.HasTerm()
}

// ensureNode returns the node stored at path, revealing it from
// provider the first time it is visited.
func (t *SparseTrie) ensureNode(path nibbles.Nibbles, provider Provider) (*SparseNode, error) {
	sub := t.subtrieFor(path)
	if n, ok := sub.nodes[keyOf(path)]; ok {
		return n, nil
	}
	enc, err := provider.GetNode(path)
	if err != nil {
		return nil, err
	}
	n, err := decodeIntoSubtrie(sub, path, enc)
	if err != nil {
		return nil, err
	}
	return n, nil
}

func (t *SparseTrie) setNode(path nibbles.Nibbles, n *SparseNode) {
	sub := t.subtrieFor(path)
	sub.nodes[keyOf(path)] = n
}

func (t *SparseTrie) deleteNode(path nibbles.Nibbles) {
	sub := t.subtrieFor(path)
	delete(sub.nodes, keyOf(path))
}

func (t *SparseTrie) setValue(path nibbles.Nibbles, value []byte) {
	sub := t.subtrieFor(path)
	sub.values[keyOf(path)] = value
}

// getValue looks a value up in the subtrie that owns path and then in
// the upper subtrie: a Leaf revealed at a path shorter than two nibbles
// has its value stored alongside it in the upper subtrie.
func (t *SparseTrie) getValue(path nibbles.Nibbles) ([]byte, bool) {
	sub := t.subtrieFor(path)
	v, ok := sub.values[keyOf(path)]
	if !ok && sub != t.upper {
		v, ok = t.upper.values[keyOf(path)]
	}
	return v, ok
}

func (t *SparseTrie) deleteValue(path nibbles.Nibbles) {
	sub := t.subtrieFor(path)
	delete(sub.values, keyOf(path))
	delete(t.upper.values, keyOf(path))
}

// markDirtyPath marks every path in ancestors dirty in whichever
// subtrie owns it, so a later Root call knows to recompute their
// hashes.
func (t *SparseTrie) markDirtyPath(ancestors []nibbles.Nibbles) {
	for _, p := range ancestors {
		t.subtrieFor(p).markNodeDirty(p)
	}
}

// Get returns the value stored for key, or nil if key is absent. It
// reveals whatever nodes are necessary along the way.
func (t *SparseTrie) Get(key []byte, provider Provider) ([]byte, error) {
	target := nibbles.FromKeyBytes(key)
	p := nibbles.Nibbles{}
	for {
		node, err := t.ensureNode(p, provider)
		if err != nil {
			return nil, err
		}
		switch node.Kind {
		case NodeEmpty:
			return nil, nil
		case NodeHash:
			return nil, errUnrevealable(p)
		case NodeLeaf:
			full := p.Join(node.Key)
			if full.Equal(target) {
				v, _ := t.getValue(full)
				return v, nil
			}
			return nil, nil
		case NodeExtension:
			suffix := target[len(p):]
			if !hasPrefix(suffix, node.Key) {
				return nil, nil
			}
			p = p.Join(node.Key)
		case NodeBranch:
			suffix := target[len(p):]
			if isTerminal(suffix) {
				v, _ := t.getValue(p.Join(nibbles.Nibbles{16}))
				return v, nil
			}
			nxt := suffix[0]
			if node.StateMask&(1<<nxt) == 0 {
				return nil, nil
			}
			p = p.Join(nibbles.Nibbles{nxt})
		}
	}
}

// hasPrefix reports whether suffix begins with the full (possibly
// terminated) nibble sequence key.
func hasPrefix(suffix, key nibbles.Nibbles) bool {
	if len(suffix) < len(key) {
		return false
	}
	for i := range key {
		if suffix[i] != key[i] {
			return false
		}
	}
	return true
}
