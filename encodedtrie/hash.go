package encodedtrie

import (
	"bytes"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ethcorego/execution-core/trie/rlpnode"
)

// Hash returns the trie's root hash, re-encoding only nodes whose
// overrides or dirty children demand it; unmodified nodes with a cached
// encoding (or a cached reference from a prior Hash call) are reused
// verbatim, satisfying hash idempotence.
func (t *Trie) Hash() (common.Hash, error) {
	if t.IsEmpty() {
		return rlpnode.EmptyRootHash, nil
	}
	_, enc, err := t.hashNode(t.rootIndex, false)
	if err != nil {
		return common.Hash{}, err
	}
	return rlpnode.Keccak256(enc), nil
}

// Authenticate performs the same recursive hash computation as Hash, but
// never takes the cached-encoding shortcut: every node is re-derived
// from its live fields, and every materialised child's reference is
// freshly recomputed from the child's own subtree and checked against
// the reference its parent recorded. A pruned child embedded inline is
// decoded and re-encoded and must reproduce its recorded bytes; a pruned
// child known only by hash has no subtree here, so its recorded
// reference is used as is. This is the "load-time" check: an
// initially loaded, unmodified trie must authenticate to the same root
// hash that Hash() returns.
func (t *Trie) Authenticate() (common.Hash, error) {
	if t.IsEmpty() {
		return rlpnode.EmptyRootHash, nil
	}
	_, enc, err := t.hashNode(t.rootIndex, true)
	if err != nil {
		return common.Hash{}, err
	}
	return rlpnode.Keccak256(enc), nil
}

// LoadAndAuthenticate loads a witness node arena (see LoadFromRLP) and
// authenticates it against expectedRoot in one step: every materialised
// child's reference is checked against its recomputed hash, and the
// final recomputed root is checked against expectedRoot, returning
// errRootMismatch if they disagree.
func LoadAndAuthenticate(nodeEncodings [][]byte, expectedRoot common.Hash) (*Trie, error) {
	t, err := LoadFromRLP(nodeEncodings)
	if err != nil {
		return nil, err
	}
	got, err := t.Authenticate()
	if err != nil {
		return nil, err
	}
	if got != expectedRoot {
		return nil, errRootMismatch
	}
	return t, nil
}

// hashNode returns the ChildRef a parent would use to reference idx,
// plus idx's own raw RLP encoding. When force is true the cached
// shortcut (encRange reuse, and the result cache) is bypassed so every
// child reference is freshly rebuilt from its subtree, which is what
// authentication requires.
func (t *Trie) hashNode(idx int, force bool) (rlpnode.ChildRef, []byte, error) {
	if !force {
		if c := t.cache[idx]; c != nil {
			return c.ref, c.enc, nil
		}
	}

	e := &t.nodes[idx]
	if !force && !e.dirty && e.encRange != nil {
		enc := t.encodedData[e.encRange[0]:e.encRange[1]]
		ref, err := rlpnode.NewChildRef(enc)
		if err != nil {
			return rlpnode.ChildRef{}, nil, err
		}
		t.cache[idx] = &nodeCache{ref: ref, enc: enc}
		return ref, enc, nil
	}

	var node rlpnode.Node
	switch e.kind {
	case KindLeaf:
		leaf := rlpnodeLeafView(e)
		node = &leaf
	case KindExtension:
		childRef, err := t.childRefFor(&e.child, force)
		if err != nil {
			return rlpnode.ChildRef{}, nil, err
		}
		ext := rlpnodeExtensionView(e, childRef)
		node = &ext
	case KindBranch:
		branch, err := t.branchView(e, force)
		if err != nil {
			return rlpnode.ChildRef{}, nil, err
		}
		node = branch
	default:
		return rlpnode.ChildRef{}, nil, fmt.Errorf("encodedtrie: hash: unknown node kind %d", e.kind)
	}

	ref, enc, err := rlpnode.HashOrInline(node)
	if err != nil {
		return rlpnode.ChildRef{}, nil, err
	}
	if !force {
		t.cache[idx] = &nodeCache{ref: ref, enc: enc}
	}
	return ref, enc, nil
}

// childRefFor resolves the reference a parent embeds for slot: a
// pruned slot's originally-recorded reference is used as-is (when force
// is set, an inline one is first checked by re-encoding it), a present
// slot's reference is derived by recursing into its arena entry.
func (t *Trie) childRefFor(slot *childSlot, force bool) (rlpnode.ChildRef, error) {
	switch slot.kind {
	case slotNone:
		return rlpnode.EmptyRef, nil
	case slotPruned:
		if force && slot.prunedRef.Kind == rlpnode.RefInline {
			n, err := rlpnode.Decode(slot.prunedRef.Raw)
			if err != nil {
				return rlpnode.ChildRef{}, err
			}
			ref, _, err := rlpnode.HashOrInline(n)
			if err != nil {
				return rlpnode.ChildRef{}, err
			}
			if !refEqual(ref, slot.prunedRef) {
				return rlpnode.ChildRef{}, errAuthenticateRef
			}
		}
		return slot.prunedRef, nil
	case slotPresent:
		ref, _, err := t.hashNode(slot.index, force)
		if err != nil {
			return rlpnode.ChildRef{}, err
		}
		if force && slot.claimedRef != nil && !refEqual(ref, *slot.claimedRef) {
			return rlpnode.ChildRef{}, errAuthenticateRef
		}
		return ref, nil
	default:
		return rlpnode.ChildRef{}, fmt.Errorf("encodedtrie: hash: unknown slot kind %d", slot.kind)
	}
}

// refEqual compares two child references for equality; Raw is compared
// byte-for-byte rather than relying on struct equality, since ChildRef
// embeds a byte slice.
func refEqual(a, b rlpnode.ChildRef) bool {
	return a.Kind == b.Kind && a.Hash == b.Hash && bytes.Equal(a.Raw, b.Raw)
}

func (t *Trie) branchView(e *entry, force bool) (*rlpnode.Branch, error) {
	b := &rlpnode.Branch{Value: e.branchValue}
	for i := range e.children {
		ref, err := t.childRefFor(&e.children[i], force)
		if err != nil {
			return nil, err
		}
		b.Children[i] = ref
	}
	return b, nil
}

func rlpnodeLeafView(e *entry) rlpnode.Leaf {
	return rlpnode.Leaf{Partial: e.partial, Value: e.value}
}

func rlpnodeExtensionView(e *entry, child rlpnode.ChildRef) rlpnode.Extension {
	return rlpnode.Extension{Prefix: e.prefix, Child: child}
}
