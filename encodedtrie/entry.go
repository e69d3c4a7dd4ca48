package encodedtrie

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/ethcorego/execution-core/trie/nibbles"
	"github.com/ethcorego/execution-core/trie/rlpnode"
)

// Kind discriminates the three node variants held in the trie's arena.
type Kind uint8

const (
	KindLeaf Kind = iota
	KindExtension
	KindBranch
)

// slotKind discriminates the three states a Branch/Extension child slot
// can be in, matching the nested-option design described in the node
// hash arena's design notes: no child, a child that existed in the
// originally-loaded encoding but was never materialised into the arena
// ("pruned"), or a materialised child living at an arena index.
type slotKind uint8

const (
	slotNone slotKind = iota
	slotPruned
	slotPresent
)

// childSlot is a Branch/Extension child reference.
type childSlot struct {
	kind      slotKind
	prunedRef rlpnode.ChildRef // valid when kind == slotPruned
	index     int              // valid when kind == slotPresent

	// claimedRef is the reference the parent's original encoding recorded
	// for this child, set only when the child was materialised straight
	// from a witness's node arena (see linkWitnessChildren) rather than
	// built by Insert/Remove. Authenticate recomputes the child's hash
	// from its own live fields and compares it back against claimedRef;
	// nil means there is nothing to check (an organically built child has
	// no prior claim to disagree with).
	claimedRef *rlpnode.ChildRef
}

func presentSlot(index int) childSlot { return childSlot{kind: slotPresent, index: index} }

func prunedSlot(ref rlpnode.ChildRef) childSlot {
	if ref.IsEmpty() {
		return childSlot{kind: slotNone}
	}
	return childSlot{kind: slotPruned, prunedRef: ref}
}

// entry is one arena slot: a Leaf, Extension, or Branch node, carrying
// whatever override state distinguishes it from its originally-loaded
// encoding. dirty is set whenever the node (or something on its path to
// the mutation point) changed; encRange, when non-nil and dirty is
// false, lets hash() reuse the node's originally-loaded RLP bytes
// verbatim instead of re-encoding.
type entry struct {
	kind  Kind
	dirty bool

	// encRange, when set, is the [start,end) span in the trie's shared
	// encodedData buffer holding this node's original RLP encoding.
	encRange *[2]int

	// Leaf
	partial nibbles.Nibbles
	value   []byte

	// Extension
	prefix nibbles.Nibbles
	child  childSlot

	// Branch
	children    [16]childSlot
	branchValue []byte // nil when no key terminates at this branch
}

// reveal resolves slot into a materialised arena index, decoding and
// appending a new entry the first time a pruned-but-inline child is
// traversed. Traversing a pruned child that is only known by hash (no
// retained encoding) is a programming error per the node-hash arena's
// contract: the caller must ensure paths visit only retained nodes.
func (t *Trie) reveal(slot *childSlot) (int, error) {
	switch slot.kind {
	case slotPresent:
		return slot.index, nil
	case slotNone:
		return -1, errNoChild
	case slotPruned:
		if slot.prunedRef.Kind != rlpnode.RefInline {
			return -1, errHashOnlyChild
		}
		node, err := rlpnode.Decode(slot.prunedRef.Raw)
		if err != nil {
			return -1, err
		}
		idx := t.newEntryFromNode(node)
		*slot = presentSlot(idx)
		return idx, nil
	default:
		return -1, errNoChild
	}
}

// newEntryFromNode appends a fresh arena entry decoded from a node that
// had no prior arena slot (e.g. revealed from a pruned inline child).
func (t *Trie) newEntryFromNode(n rlpnode.Node) int {
	var e entry
	switch v := n.(type) {
	case *rlpnode.Leaf:
		e = entry{kind: KindLeaf, partial: v.Partial, value: v.Value}
	case *rlpnode.Extension:
		e = entry{kind: KindExtension, prefix: v.Prefix, child: prunedSlot(v.Child)}
	case *rlpnode.Branch:
		e = entry{kind: KindBranch, branchValue: v.Value}
		for i, c := range v.Children {
			e.children[i] = prunedSlot(c)
		}
	}
	t.nodes = append(t.nodes, e)
	t.cache = append(t.cache, nil)
	return len(t.nodes) - 1
}

// linkWitnessChildren rewrites idx's child slots that were decoded as
// slotPruned-by-hash into slotPresent whenever the witness supplied that
// child's own encoding (found via hashToIdx), recording the parent's
// original reference in claimedRef so Authenticate has something to
// check the materialised child's recomputed hash against. Inline
// children need no relinking: reveal already decodes them lazily from
// the bytes the pruned ref already carries.
func (t *Trie) linkWitnessChildren(idx int, hashToIdx map[common.Hash]int) {
	e := &t.nodes[idx]
	switch e.kind {
	case KindExtension:
		linkWitnessChild(&e.child, hashToIdx)
	case KindBranch:
		for i := range e.children {
			linkWitnessChild(&e.children[i], hashToIdx)
		}
	}
}

func linkWitnessChild(slot *childSlot, hashToIdx map[common.Hash]int) {
	if slot.kind != slotPruned || slot.prunedRef.Kind != rlpnode.RefHashed {
		return
	}
	childIdx, ok := hashToIdx[slot.prunedRef.Hash]
	if !ok {
		return
	}
	claimed := slot.prunedRef
	*slot = presentSlot(childIdx)
	slot.claimedRef = &claimed
}

func (t *Trie) appendEntry(e entry) int {
	t.nodes = append(t.nodes, e)
	t.cache = append(t.cache, nil)
	return len(t.nodes) - 1
}

func (t *Trie) markDirty(idx int) {
	t.nodes[idx].dirty = true
	t.cache[idx] = nil
}
