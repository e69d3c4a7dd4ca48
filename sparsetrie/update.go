package sparsetrie

import (
	"github.com/ethcorego/execution-core/trie/nibbles"
)

// UpdateLeaf inserts or overwrites the value stored for key, revealing
// whatever nodes are necessary along the way.
func (t *SparseTrie) UpdateLeaf(key, value []byte, provider Provider) error {
	target := nibbles.FromKeyBytes(key)
	var ancestors []nibbles.Nibbles
	p := nibbles.Nibbles{}
	for {
		ancestors = append(ancestors, p.Copy())
		node, err := t.ensureNode(p, provider)
		if err != nil {
			return err
		}
		suffix := target[len(p):]
		switch node.Kind {
		case NodeEmpty:
			t.setNode(p, &SparseNode{Kind: NodeLeaf, Key: suffix.Copy()})
			t.setValue(p.Join(suffix), value)
			t.markDirtyPath(ancestors)
			return nil

		case NodeLeaf:
			full := p.Join(node.Key)
			if full.Equal(target) {
				t.setValue(full, value)
				t.markDirtyPath(ancestors)
				return nil
			}
			cp := suffix.PrefixLen(node.Key)
			t.splitLeaf(p, node, suffix, cp, value)
			t.markDirtyPath(ancestors)
			return nil

		case NodeExtension:
			cp := suffix.PrefixLen(node.Key)
			if cp == len(node.Key) {
				p = p.Join(node.Key)
				continue
			}
			t.splitExtension(p, node, suffix, cp, value)
			t.markDirtyPath(ancestors)
			return nil

		case NodeBranch:
			if isTerminal(suffix) {
				t.setValue(p.Join(nibbles.Nibbles{16}), value)
				t.markDirtyPath(ancestors)
				return nil
			}
			nxt := suffix[0]
			node.StateMask |= 1 << uint(nxt)
			p = p.Join(nibbles.Nibbles{nxt})

		case NodeHash:
			return errUnrevealable(p)
		}
	}
}

// splitLeaf replaces the leaf node previously stored at p with either a
// Branch (when the two keys diverge at p itself) or an Extension over a
// new Branch (when they still share a prefix past p).
func (t *SparseTrie) splitLeaf(p nibbles.Nibbles, old *SparseNode, newSuffix nibbles.Nibbles, cp int, newValue []byte) {
	oldFull := p.Join(old.Key)
	oldValue, _ := t.getValue(oldFull)
	common := old.Key[:cp]
	branchPath := p.Join(common)

	t.deleteNode(p)
	t.deleteValue(oldFull)

	branch := &SparseNode{Kind: NodeBranch}
	t.placeDiverging(branch, branchPath, old.Key[cp:], oldValue)
	t.placeDiverging(branch, branchPath, newSuffix[cp:], newValue)
	t.setNode(branchPath, branch)
	if cp > 0 {
		t.setNode(p, &SparseNode{Kind: NodeExtension, Key: common.Copy()})
	}
}

// placeDiverging installs value at the point where it diverges from a
// sibling under branch, rooted at branchPath: directly as the branch's
// own terminal value when remaining holds nothing but the terminator,
// otherwise as a fresh Leaf child.
func (t *SparseTrie) placeDiverging(branch *SparseNode, branchPath, remaining nibbles.Nibbles, value []byte) {
	if isTerminal(remaining) {
		t.setValue(branchPath.Join(nibbles.Nibbles{16}), value)
		return
	}
	nxt := remaining[0]
	branch.StateMask |= 1 << uint(nxt)
	childPath := branchPath.Join(nibbles.Nibbles{nxt})
	childKey := remaining[1:]
	t.setNode(childPath, &SparseNode{Kind: NodeLeaf, Key: childKey.Copy()})
	t.setValue(childPath.Join(childKey), value)
}

// splitExtension replaces the extension node previously stored at p
// with a Branch (at the point the two paths diverge), preserving the
// original child's subtree wherever it already lives.
func (t *SparseTrie) splitExtension(p nibbles.Nibbles, old *SparseNode, newSuffix nibbles.Nibbles, cp int, newValue []byte) {
	common := old.Key[:cp]
	branchPath := p.Join(common)
	oldRemainder := old.Key[cp:]

	t.deleteNode(p)

	branch := &SparseNode{Kind: NodeBranch}

	firstOld := oldRemainder[0]
	branch.StateMask |= 1 << uint(firstOld)
	rest := oldRemainder[1:]
	if len(rest) > 0 {
		midPath := branchPath.Join(nibbles.Nibbles{firstOld})
		t.setNode(midPath, &SparseNode{Kind: NodeExtension, Key: rest.Copy()})
	}
	// When rest is empty, branchPath.Join([firstOld]) already equals the
	// original child's own path (p.Join(old.Key)); nothing to relocate.

	t.placeDiverging(branch, branchPath, newSuffix[cp:], newValue)

	t.setNode(branchPath, branch)
	if cp > 0 {
		t.setNode(p, &SparseNode{Kind: NodeExtension, Key: common.Copy()})
	}
}
