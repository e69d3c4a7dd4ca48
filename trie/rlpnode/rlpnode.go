// Package rlpnode is the node-hash arena shared by the encoded trie and
// the sparse trie: it defines the three Merkle-Patricia node variants
// (Leaf, Extension, Branch), their child-reference polymorphism, and the
// canonical RLP encode/decode + keccak256 hashing rules that both trie
// representations build on.
//
// Nodes are never linked by pointer; callers address children either by
// arena index (encoded trie) or by path (sparse trie). This package only
// knows how to turn a node into bytes and a hash, and back.
package rlpnode

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"golang.org/x/crypto/sha3"

	"github.com/ethcorego/execution-core/trie/nibbles"
)

// EmptyRootHash is keccak256(RLP(0x80)), the hash of the empty trie.
var EmptyRootHash = Keccak256([]byte{0x80})

// Keccak256 hashes data with the protocol's hash function.
func Keccak256(data []byte) common.Hash {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	var out common.Hash
	h.Sum(out[:0])
	return out
}

// RefKind discriminates the three states a ChildRef can be in.
type RefKind uint8

const (
	RefEmpty RefKind = iota
	RefInline
	RefHashed
)

// ChildRef is a reference to a child node: empty, inlined verbatim (its
// RLP is under 32 bytes), or referenced by hash. Raw always holds the
// exact RLP bytes this reference contributes to its parent's encoding,
// so re-encoding a parent never has to re-derive it.
type ChildRef struct {
	Kind RefKind
	Hash common.Hash    // valid when Kind == RefHashed
	Raw  rlp.RawValue   // the RLP bytes spliced into the parent (all kinds)
}

// EmptyRef is the reference held by a Branch slot with no child.
var EmptyRef = ChildRef{Kind: RefEmpty, Raw: rlp.RawValue{0x80}}

// NewChildRef derives the mechanical reference for an already-encoded
// child: the RLP is embedded inline if it is under 32 bytes, otherwise
// the child is referenced by its keccak256 hash.
func NewChildRef(encoded []byte) (ChildRef, error) {
	if len(encoded) == 0 {
		return EmptyRef, nil
	}
	if len(encoded) < 32 {
		return ChildRef{Kind: RefInline, Raw: append(rlp.RawValue{}, encoded...)}, nil
	}
	h := Keccak256(encoded)
	raw, err := rlp.EncodeToBytes(h[:])
	if err != nil {
		return ChildRef{}, err
	}
	return ChildRef{Kind: RefHashed, Hash: h, Raw: raw}, nil
}

// IsEmpty reports whether the reference points at no child.
func (c ChildRef) IsEmpty() bool { return c.Kind == RefEmpty }

// decodeChildRef classifies a raw RLP element taken from a parent's child
// slot. Hash and empty references always encode as RLP strings; an
// inlined child's encoding is always a list (every node variant encodes
// as a 2- or 17-element list), so the leading byte alone disambiguates.
func decodeChildRef(raw rlp.RawValue) (ChildRef, error) {
	if len(raw) == 0 {
		return ChildRef{}, fmt.Errorf("rlpnode: empty child element")
	}
	if raw[0] >= 0xc0 {
		return ChildRef{Kind: RefInline, Raw: append(rlp.RawValue{}, raw...)}, nil
	}
	var content []byte
	if err := rlp.DecodeBytes(raw, &content); err != nil {
		return ChildRef{}, fmt.Errorf("rlpnode: decode child ref: %w", err)
	}
	switch len(content) {
	case 0:
		return ChildRef{Kind: RefEmpty, Raw: append(rlp.RawValue{}, raw...)}, nil
	case 32:
		var h common.Hash
		copy(h[:], content)
		return ChildRef{Kind: RefHashed, Hash: h, Raw: append(rlp.RawValue{}, raw...)}, nil
	default:
		return ChildRef{}, fmt.Errorf("rlpnode: child reference string of unexpected length %d", len(content))
	}
}

// Node is one of Leaf, Extension, Branch.
type Node interface {
	isNode()
	fmt.Stringer
}

// Leaf carries the remaining path nibbles (terminated) and a value.
type Leaf struct {
	Partial nibbles.Nibbles
	Value   []byte
}

func (*Leaf) isNode() {}
func (n *Leaf) String() string {
	return fmt.Sprintf("Leaf{partial=%v, value=%x}", n.Partial, n.Value)
}

// Extension carries a non-empty, non-terminated prefix and a reference to
// its single child.
type Extension struct {
	Prefix nibbles.Nibbles
	Child  ChildRef
}

func (*Extension) isNode() {}
func (n *Extension) String() string {
	return fmt.Sprintf("Extension{prefix=%v, child=%v}", n.Prefix, n.Child)
}

// Branch carries 16 child references and an optional terminal value
// (populated only when a key terminates exactly at this depth).
type Branch struct {
	Children [16]ChildRef
	Value    []byte // nil when no key terminates here
}

func (*Branch) isNode() {}
func (n *Branch) String() string {
	return fmt.Sprintf("Branch{children=%v, value=%x}", n.Children, n.Value)
}

// rawShort (Leaf and Extension) and rawBranch are the wire shapes used to drive the
// rlp package: RawValue fields splice their bytes verbatim, so building
// one from a Node's already-resolved ChildRefs costs no re-derivation.
type rawShort struct {
	Compact []byte
	Val     rlp.RawValue
}

type rawBranch struct {
	C0, C1, C2, C3, C4, C5, C6, C7, C8, C9, C10, C11, C12, C13, C14, C15 rlp.RawValue
	Val                                                                  rlp.RawValue
}

func (b *Branch) toRaw() rawBranch {
	slots := [16]rlp.RawValue{}
	for i, c := range b.Children {
		slots[i] = c.Raw
	}
	val := rlp.RawValue{0x80}
	if b.Value != nil {
		enc, _ := rlp.EncodeToBytes(b.Value)
		val = enc
	}
	return rawBranch{
		slots[0], slots[1], slots[2], slots[3], slots[4], slots[5], slots[6], slots[7],
		slots[8], slots[9], slots[10], slots[11], slots[12], slots[13], slots[14], slots[15],
		val,
	}
}

// Encode produces the canonical RLP encoding of a node.
func Encode(n Node) ([]byte, error) {
	switch v := n.(type) {
	case *Leaf:
		valEnc, err := rlp.EncodeToBytes(v.Value)
		if err != nil {
			return nil, err
		}
		return rlp.EncodeToBytes(rawShort{Compact: nibbles.ToCompact(v.Partial), Val: valEnc})
	case *Extension:
		return rlp.EncodeToBytes(rawShort{Compact: nibbles.ToCompact(v.Prefix), Val: v.Child.Raw})
	case *Branch:
		return rlp.EncodeToBytes(v.toRaw())
	default:
		return nil, fmt.Errorf("rlpnode: cannot encode node type %T", n)
	}
}

// HashOrInline encodes n and returns both the ChildRef by which a parent
// would reference it, and the raw encoding.
func HashOrInline(n Node) (ChildRef, []byte, error) {
	enc, err := Encode(n)
	if err != nil {
		return ChildRef{}, nil, err
	}
	ref, err := NewChildRef(enc)
	return ref, enc, err
}

// Decode parses the canonical RLP encoding of a node.
func Decode(enc []byte) (Node, error) {
	var raw []rlp.RawValue
	if err := rlp.DecodeBytes(enc, &raw); err != nil {
		return nil, fmt.Errorf("rlpnode: decode: %w", err)
	}
	switch len(raw) {
	case 2:
		var compact []byte
		if err := rlp.DecodeBytes(raw[0], &compact); err != nil {
			return nil, fmt.Errorf("rlpnode: decode compact key: %w", err)
		}
		path, terminated := nibbles.FromCompact(compact)
		if terminated {
			var value []byte
			if err := rlp.DecodeBytes(raw[1], &value); err != nil {
				return nil, fmt.Errorf("rlpnode: decode leaf value: %w", err)
			}
			return &Leaf{Partial: path, Value: value}, nil
		}
		ref, err := decodeChildRef(raw[1])
		if err != nil {
			return nil, err
		}
		return &Extension{Prefix: path, Child: ref}, nil
	case 17:
		var b Branch
		for i := 0; i < 16; i++ {
			ref, err := decodeChildRef(raw[i])
			if err != nil {
				return nil, err
			}
			b.Children[i] = ref
		}
		var val []byte
		if err := rlp.DecodeBytes(raw[16], &val); err != nil {
			return nil, fmt.Errorf("rlpnode: decode branch value: %w", err)
		}
		if len(val) > 0 {
			b.Value = val
		}
		return &b, nil
	default:
		return nil, fmt.Errorf("rlpnode: decode: unexpected element count %d", len(raw))
	}
}
