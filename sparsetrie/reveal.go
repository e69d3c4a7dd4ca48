package sparsetrie

import (
	"errors"
	"fmt"

	"github.com/ethcorego/execution-core/trie/nibbles"
	"github.com/ethcorego/execution-core/trie/rlpnode"
)

var errNodeUnrevealable = errors.New("sparsetrie: node known only by hash, cannot be revealed")

func errUnrevealable(path nibbles.Nibbles) error {
	return fmt.Errorf("%w: path %v", errNodeUnrevealable, path)
}

// decodeIntoSubtrie turns a provider's raw RLP encoding of the node at
// path into a SparseNode, storing it (and any terminal value it
// carries) into sub, then returns it. A nil encoding means the
// provider has authoritatively confirmed nothing lives at path.
func decodeIntoSubtrie(sub *SparseSubtrie, path nibbles.Nibbles, enc []byte) (*SparseNode, error) {
	if enc == nil {
		n := &SparseNode{Kind: NodeEmpty}
		sub.nodes[keyOf(path)] = n
		return n, nil
	}
	decoded, err := rlpnode.Decode(enc)
	if err != nil {
		return nil, fmt.Errorf("sparsetrie: decode node at path %v: %w", path, err)
	}
	var n *SparseNode
	switch v := decoded.(type) {
	case *rlpnode.Leaf:
		n = &SparseNode{Kind: NodeLeaf, Key: v.Partial.Copy()}
		full := path.Join(v.Partial)
		sub.values[keyOf(full)] = v.Value
	case *rlpnode.Extension:
		n = &SparseNode{Kind: NodeExtension, Key: v.Prefix.Copy()}
	case *rlpnode.Branch:
		var mask uint16
		for i, c := range v.Children {
			if !c.IsEmpty() {
				mask |= 1 << uint(i)
			}
		}
		n = &SparseNode{Kind: NodeBranch, StateMask: mask}
		if v.Value != nil {
			sub.values[keyOf(path.Join(nibbles.Nibbles{16}))] = v.Value
		}
	default:
		return nil, fmt.Errorf("sparsetrie: decode node at path %v: unknown node type %T", path, decoded)
	}
	sub.nodes[keyOf(path)] = n
	return n, nil
}

// RevealNodeInto installs a node the caller already has the RLP
// encoding for (e.g. fetched out of band, such as during a parallel
// prefetch) directly at path, as if the trie had requested it from its
// own provider.
func (t *SparseTrie) RevealNodeInto(path nibbles.Nibbles, enc []byte) error {
	sub := t.subtrieFor(path)
	_, err := decodeIntoSubtrie(sub, path, enc)
	return err
}
