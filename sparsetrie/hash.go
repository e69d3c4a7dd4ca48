package sparsetrie

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/ethcorego/execution-core/trie/nibbles"
	"github.com/ethcorego/execution-core/trie/rlpnode"
)

// Root computes the trie's root hash, revealing whatever is still
// needed from provider and reusing each node's memoized encoding unless
// its own path was marked dirty (mutations mark every ancestor of the
// changed node).
func (t *SparseTrie) Root(provider Provider) (common.Hash, error) {
	root, err := t.ensureNode(nibbles.Nibbles{}, provider)
	if err != nil {
		return common.Hash{}, err
	}
	switch root.Kind {
	case NodeEmpty:
		return rlpnode.EmptyRootHash, nil
	case NodeHash:
		if root.Hash == nil {
			return common.Hash{}, errUnrevealable(nibbles.Nibbles{})
		}
		return *root.Hash, nil
	}
	_, enc, err := t.hashAt(nibbles.Nibbles{}, provider)
	if err != nil {
		return common.Hash{}, err
	}
	return rlpnode.Keccak256(enc), nil
}

// hashAt returns the ChildRef a parent would use to reference the node
// at path, plus that node's own raw RLP encoding.
func (t *SparseTrie) hashAt(path nibbles.Nibbles, provider Provider) (rlpnode.ChildRef, []byte, error) {
	node, err := t.ensureNode(path, provider)
	if err != nil {
		return rlpnode.ChildRef{}, nil, err
	}
	sub := t.subtrieFor(path)
	_, dirty := sub.dirtyNodes[keyOf(path)]
	if !dirty && node.encCache != nil {
		ref, err := rlpnode.NewChildRef(node.encCache)
		return ref, node.encCache, err
	}

	var view rlpnode.Node
	switch node.Kind {
	case NodeEmpty:
		return rlpnode.EmptyRef, []byte{0x80}, nil
	case NodeHash:
		if node.Hash == nil {
			return rlpnode.ChildRef{}, nil, errUnrevealable(path)
		}
		raw, err := rlp.EncodeToBytes(node.Hash[:])
		if err != nil {
			return rlpnode.ChildRef{}, nil, err
		}
		return rlpnode.ChildRef{Kind: rlpnode.RefHashed, Hash: *node.Hash, Raw: raw}, nil, nil
	case NodeLeaf:
		value, _ := t.getValue(path.Join(node.Key))
		leaf := rlpnode.Leaf{Partial: node.Key, Value: value}
		view = &leaf
	case NodeExtension:
		childRef, _, err := t.hashAt(path.Join(node.Key), provider)
		if err != nil {
			return rlpnode.ChildRef{}, nil, err
		}
		ext := rlpnode.Extension{Prefix: node.Key, Child: childRef}
		view = &ext
	case NodeBranch:
		branch, err := t.branchView(path, node, provider)
		if err != nil {
			return rlpnode.ChildRef{}, nil, err
		}
		view = branch
	default:
		return rlpnode.ChildRef{}, nil, fmt.Errorf("sparsetrie: hash: unknown node kind %d", node.Kind)
	}

	ref, enc, err := rlpnode.HashOrInline(view)
	if err != nil {
		return rlpnode.ChildRef{}, nil, err
	}
	if !dirty {
		node.encCache = enc
	}
	return ref, enc, nil
}

func (t *SparseTrie) branchView(path nibbles.Nibbles, node *SparseNode, provider Provider) (*rlpnode.Branch, error) {
	b := &rlpnode.Branch{}
	if value, ok := t.getValue(path.Join(nibbles.Nibbles{16})); ok {
		b.Value = value
	}
	for i := 0; i < 16; i++ {
		if node.StateMask&(1<<uint(i)) == 0 {
			b.Children[i] = rlpnode.EmptyRef
			continue
		}
		ref, _, err := t.hashAt(path.Join(nibbles.Nibbles{byte(i)}), provider)
		if err != nil {
			return nil, err
		}
		b.Children[i] = ref
	}
	return b, nil
}
