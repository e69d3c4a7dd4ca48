package sparsetrie

import (
	"fmt"
	"math/bits"

	"github.com/ethcorego/execution-core/trie/nibbles"
)

type frame struct {
	path nibbles.Nibbles
	node *SparseNode
}

// RemoveLeaf deletes key if present; removing an absent key is a no-op.
// Branch nodes left with too few children after the removal are
// collapsed per the usual Merkle-Patricia rules: an empty branch
// vanishes, a branch left with exactly one child and no value absorbs
// that child (merging Extension/Leaf keys, or wrapping a remaining
// Branch child in a one-nibble Extension), and the collapse propagates
// upward through any Extension whose only child just vanished.
func (t *SparseTrie) RemoveLeaf(key []byte, provider Provider) error {
	target := nibbles.FromKeyBytes(key)
	var stack []frame
	p := nibbles.Nibbles{}
	for {
		node, err := t.ensureNode(p, provider)
		if err != nil {
			return err
		}
		stack = append(stack, frame{path: p.Copy(), node: node})
		switch node.Kind {
		case NodeEmpty:
			return nil
		case NodeHash:
			return errUnrevealable(p)
		case NodeLeaf:
			full := p.Join(node.Key)
			if !full.Equal(target) {
				return nil
			}
			return t.finishRemove(stack, provider)
		case NodeExtension:
			suffix := target[len(p):]
			if !hasPrefix(suffix, node.Key) {
				return nil
			}
			p = p.Join(node.Key)
		case NodeBranch:
			suffix := target[len(p):]
			if isTerminal(suffix) {
				if _, ok := t.getValue(p.Join(nibbles.Nibbles{16})); !ok {
					return nil
				}
				return t.finishRemove(stack, provider)
			}
			nxt := suffix[0]
			if node.StateMask&(1<<uint(nxt)) == 0 {
				return nil
			}
			p = p.Join(nibbles.Nibbles{nxt})
		}
	}
}

func (t *SparseTrie) finishRemove(stack []frame, provider Provider) error {
	last := stack[len(stack)-1]

	ancestorPaths := make([]nibbles.Nibbles, len(stack))
	for i, f := range stack {
		ancestorPaths[i] = f.path
	}
	t.markDirtyPath(ancestorPaths)

	var gone bool
	switch last.node.Kind {
	case NodeLeaf:
		t.deleteNode(last.path)
		t.deleteValue(last.path.Join(last.node.Key))
		gone = true
	case NodeBranch:
		t.deleteValue(last.path.Join(nibbles.Nibbles{16}))
		settled, deleted, err := t.settleBranch(last.path, last.node, provider)
		if err != nil {
			return err
		}
		gone = deleted
		if !deleted {
			stack[len(stack)-1].node = settled
		}
	default:
		return fmt.Errorf("sparsetrie: remove: unexpected terminal node kind %d", last.node.Kind)
	}

	for i := len(stack) - 2; i >= 0; i-- {
		f := stack[i]
		childPath := stack[i+1].path
		switch f.node.Kind {
		case NodeBranch:
			if gone {
				nib := childPath[len(f.path)]
				f.node.StateMask &^= 1 << uint(nib)
			}
			settled, deleted, err := t.settleBranch(f.path, f.node, provider)
			if err != nil {
				return err
			}
			gone = deleted
			if !deleted {
				stack[i].node = settled
			}
		case NodeExtension:
			if gone {
				t.deleteNode(f.path)
				continue
			}
			merged, didMerge := mergeExtensionWithChild(f.node, stack[i+1].node)
			if didMerge {
				t.deleteNode(childPath)
				t.setNode(f.path, merged)
				stack[i].node = merged
			}
			gone = false
		default:
			return fmt.Errorf("sparsetrie: remove: unexpected interior node kind %d", f.node.Kind)
		}
	}
	return nil
}

// settleBranch applies the branch-collapse rules after one of its
// children or its own value has just disappeared, returning the node
// now occupying path (possibly a different kind, or nil if the branch
// vanished entirely).
func (t *SparseTrie) settleBranch(path nibbles.Nibbles, node *SparseNode, provider Provider) (*SparseNode, bool, error) {
	childCount := bits.OnesCount16(node.StateMask)
	_, hasValue := t.getValue(path.Join(nibbles.Nibbles{16}))

	switch {
	case childCount == 0 && !hasValue:
		t.deleteNode(path)
		return nil, true, nil

	case childCount == 0 && hasValue:
		leaf := &SparseNode{Kind: NodeLeaf, Key: nibbles.Nibbles{16}}
		t.setNode(path, leaf)
		return leaf, false, nil

	case childCount == 1 && !hasValue:
		nib := byte(bits.TrailingZeros16(node.StateMask))
		childPath := path.Join(nibbles.Nibbles{nib})
		child, err := t.ensureNode(childPath, provider)
		if err != nil {
			return nil, false, err
		}
		switch child.Kind {
		case NodeLeaf:
			merged := &SparseNode{Kind: NodeLeaf, Key: nibbles.Nibbles{nib}.Join(child.Key)}
			t.deleteNode(childPath)
			t.setNode(path, merged)
			return merged, false, nil
		case NodeExtension:
			merged := &SparseNode{Kind: NodeExtension, Key: nibbles.Nibbles{nib}.Join(child.Key)}
			t.deleteNode(childPath)
			t.setNode(path, merged)
			return merged, false, nil
		case NodeBranch:
			merged := &SparseNode{Kind: NodeExtension, Key: nibbles.Nibbles{nib}}
			t.setNode(path, merged)
			return merged, false, nil
		default:
			return nil, false, fmt.Errorf("sparsetrie: collapse: unexpected child kind %d at %v", child.Kind, childPath)
		}

	default:
		return node, false, nil
	}
}

// mergeExtensionWithChild folds child into ext when child is itself a
// Leaf or Extension, combining their keys; a Branch child cannot be
// folded and ext is left untouched.
func mergeExtensionWithChild(ext *SparseNode, child *SparseNode) (*SparseNode, bool) {
	switch child.Kind {
	case NodeLeaf:
		return &SparseNode{Kind: NodeLeaf, Key: ext.Key.Join(child.Key)}, true
	case NodeExtension:
		return &SparseNode{Kind: NodeExtension, Key: ext.Key.Join(child.Key)}, true
	default:
		return nil, false
	}
}
