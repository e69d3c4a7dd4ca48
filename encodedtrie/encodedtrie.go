// Package encodedtrie implements the zkVM-oriented representation of the
// Merkle-Patricia Trie: a contiguous RLP buffer (encoded_data) plus an
// integer-indexed node array (nodes), with mutations recorded as small
// per-node overrides rather than fresh allocations, so the initial load
// stays contiguous and cheap to prove over.
//
// See github.com/ethcorego/execution-core/trie/rlpnode for the shared
// node-hash arena (variants, RLP encode/decode, keccak256 hashing) this
// package builds its own arena representation on top of.
package encodedtrie

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/ethcorego/execution-core/trie/nibbles"
	"github.com/ethcorego/execution-core/trie/rlpnode"
)

var (
	errNoChild         = errors.New("encodedtrie: no child at this slot")
	errHashOnlyChild   = errors.New("encodedtrie: cannot traverse a pruned child known only by hash")
	errRootMismatch    = errors.New("encodedtrie: computed root hash does not match the claimed root")
	errAuthenticateRef = errors.New("encodedtrie: child reference does not match its computed hash")
)

// nodeCache memoises a node's resolved reference and raw encoding so
// repeated Hash() calls on an unmodified trie never re-encode.
type nodeCache struct {
	ref rlpnode.ChildRef
	enc []byte
}

// Trie is the encoded-trie representation described in SPEC_FULL.md §3.2.
type Trie struct {
	nodes       []entry
	cache       []*nodeCache
	encodedData []byte
	rootIndex   int // -1 means the trie is empty

	logger log.Logger
}

// NewEmpty returns a trie with no entries.
func NewEmpty() *Trie {
	return &Trie{rootIndex: -1}
}

// SetLogger attaches a logger used for trace/debug diagnostics; nil
// disables logging (the default).
func (t *Trie) SetLogger(l log.Logger) { t.logger = l }

func (t *Trie) isLogTrace() bool { return t.logger != nil && t.logger.Enabled(nil, log.LevelTrace) }
func (t *Trie) isLogDebug() bool { return t.logger != nil && t.logger.Enabled(nil, log.LevelDebug) }

func (t *Trie) logTrace(msg string, ctx ...interface{}) {
	if !t.isLogTrace() {
		return
	}
	t.logger.Trace(msg, ctx...)
}

func (t *Trie) logDebug(msg string, ctx ...interface{}) {
	if !t.isLogDebug() {
		return
	}
	t.logger.Debug(msg, ctx...)
}

// LoadFromRLP builds a trie from a witness node arena: nodeEncodings[0]
// is the root's own RLP node encoding, and every further element is
// another node's encoding supplied alongside it (e.g. the nodes an
// eth_getProof-style witness touched). Every supplied encoding is
// retained verbatim in encoded_data so hash() can reuse it until the
// node (or something beneath it) is mutated. A child whose hashed
// reference matches one of the other supplied encodings is materialised
// as a present arena entry (with its parent's claimed reference recorded
// for Authenticate to check); a child the witness never supplied stays
// pruned, known only by its reference, exactly as before.
func LoadFromRLP(nodeEncodings [][]byte) (*Trie, error) {
	if len(nodeEncodings) == 0 {
		return nil, fmt.Errorf("encodedtrie: load: no node encodings supplied")
	}

	t := &Trie{rootIndex: -1}
	hashToIdx := make(map[common.Hash]int, len(nodeEncodings))
	indices := make([]int, len(nodeEncodings))

	for i, enc := range nodeEncodings {
		node, err := rlpnode.Decode(enc)
		if err != nil {
			return nil, fmt.Errorf("encodedtrie: load: %w", err)
		}
		start := len(t.encodedData)
		t.encodedData = append(t.encodedData, enc...)

		idx := t.newEntryFromNode(node)
		t.nodes[idx].encRange = &[2]int{start, len(t.encodedData)}
		indices[i] = idx
		hashToIdx[rlpnode.Keccak256(enc)] = idx
	}

	for _, idx := range indices {
		t.linkWitnessChildren(idx, hashToIdx)
	}

	t.rootIndex = indices[0]
	return t, nil
}

// IsEmpty reports whether the trie holds no entries.
func (t *Trie) IsEmpty() bool { return t.rootIndex < 0 }

func keyPath(key []byte) nibbles.Nibbles { return nibbles.FromKeyBytes(key) }

// Get returns the value stored at key, or nil if absent.
func (t *Trie) Get(key []byte) ([]byte, error) {
	if t.IsEmpty() {
		return nil, nil
	}
	return t.get(t.rootIndex, keyPath(key))
}

func (t *Trie) get(idx int, path nibbles.Nibbles) ([]byte, error) {
	e := &t.nodes[idx]
	switch e.kind {
	case KindLeaf:
		if e.partial.Equal(path) {
			return e.value, nil
		}
		return nil, nil
	case KindExtension:
		if len(path) < len(e.prefix) || !nibbles.Nibbles(path[:len(e.prefix)]).Equal(e.prefix) {
			return nil, nil
		}
		childIdx, err := t.reveal(&e.child)
		if err != nil {
			return nil, err
		}
		return t.get(childIdx, path[len(e.prefix):])
	case KindBranch:
		if len(path) == 1 && path[0] == 16 {
			return e.branchValue, nil
		}
		nib := path[0]
		slot := &e.children[nib]
		if slot.kind == slotNone {
			return nil, nil
		}
		childIdx, err := t.reveal(slot)
		if err != nil {
			return nil, err
		}
		return t.get(childIdx, path[1:])
	default:
		return nil, fmt.Errorf("encodedtrie: get: unknown node kind %d", e.kind)
	}
}

// Insert maps key to value, creating or overwriting as needed.
func (t *Trie) Insert(key, value []byte) error {
	path := keyPath(key)
	t.logTrace("insert", "key", fmt.Sprintf("%x", key), "path", path)
	if t.IsEmpty() {
		t.rootIndex = t.appendEntry(entry{kind: KindLeaf, partial: path, value: value})
		return nil
	}
	return t.insert(t.rootIndex, path, value)
}

func (t *Trie) insert(idx int, path nibbles.Nibbles, value []byte) error {
	e := &t.nodes[idx]
	switch e.kind {
	case KindLeaf:
		if e.partial.Equal(path) {
			if bytes.Equal(e.value, value) {
				return nil
			}
			e.value = value
			t.markDirty(idx)
			return nil
		}
		return t.splitLeaf(idx, path, value)
	case KindExtension:
		k := path.PrefixLen(e.prefix)
		if k == len(e.prefix) {
			childIdx, err := t.reveal(&e.child)
			if err != nil {
				return err
			}
			if err := t.insert(childIdx, path[k:], value); err != nil {
				return err
			}
			t.markDirty(idx)
			return nil
		}
		return t.splitExtension(idx, k, path, value)
	case KindBranch:
		if len(path) == 1 && path[0] == 16 {
			if bytes.Equal(e.branchValue, value) {
				return nil
			}
			e.branchValue = value
			t.markDirty(idx)
			return nil
		}
		nib := path[0]
		slot := &e.children[nib]
		if slot.kind == slotNone {
			childIdx := t.appendEntry(entry{kind: KindLeaf, partial: path[1:], value: value})
			*slot = presentSlot(childIdx)
			t.markDirty(idx)
			return nil
		}
		childIdx, err := t.reveal(slot)
		if err != nil {
			return err
		}
		if err := t.insert(childIdx, path[1:], value); err != nil {
			return err
		}
		t.markDirty(idx)
		return nil
	default:
		return fmt.Errorf("encodedtrie: insert: unknown node kind %d", e.kind)
	}
}

// splitLeaf handles a Leaf whose partial path diverges from the
// inserted path at common-prefix length k, per SPEC_FULL.md §4.1: a new
// Leaf for the inserted entry, an Extension(prefix[0..k]) -> Branch
// holding the two leaves (the Extension omitted when k == 0).
func (t *Trie) splitLeaf(idx int, path nibbles.Nibbles, value []byte) error {
	e := t.nodes[idx]
	existing := e.partial
	k := path.PrefixLen(existing)

	branch := entry{kind: KindBranch}
	if err := placeDivergingEntry(t, &branch, existing, e.value, k); err != nil {
		return err
	}
	if err := placeDivergingEntry(t, &branch, path, value, k); err != nil {
		return err
	}

	t.installSplit(idx, existing[:k], branch)
	return nil
}

// splitExtension handles an Extension whose prefix diverges from path at
// common-prefix length k (0 <= k < len(prefix)).
func (t *Trie) splitExtension(idx int, k int, path nibbles.Nibbles, value []byte) error {
	e := t.nodes[idx]
	prefix := e.prefix

	branch := entry{kind: KindBranch}
	existingNib := prefix[k]
	var tailIdx int
	if k+1 == len(prefix) {
		var err error
		tailIdx, err = t.reveal(&e.child)
		if err != nil {
			return err
		}
	} else {
		tailIdx = t.appendEntry(entry{kind: KindExtension, prefix: prefix[k+1:].Copy(), child: e.child})
	}
	branch.children[existingNib] = presentSlot(tailIdx)

	if err := placeDivergingEntry(t, &branch, path, value, k); err != nil {
		return err
	}

	t.installSplit(idx, prefix[:k], branch)
	return nil
}

// placeDivergingEntry places one side of a Leaf/Extension split into
// branch: if path is exhausted exactly at k (terminator reached), the
// value goes into the branch's terminal slot; otherwise a new Leaf is
// created at the diverging nibble.
func placeDivergingEntry(t *Trie, branch *entry, path nibbles.Nibbles, value []byte, k int) error {
	if len(path) == k+1 && path[k] == 16 {
		branch.branchValue = value
		return nil
	}
	if len(path) <= k {
		return fmt.Errorf("encodedtrie: malformed path shorter than common prefix")
	}
	nib := path[k]
	idx := t.appendEntry(entry{kind: KindLeaf, partial: path[k+1:].Copy(), value: value})
	branch.children[nib] = presentSlot(idx)
	return nil
}

// installSplit turns idx into the new subtree root: either the branch
// directly (when the common prefix is empty) or an Extension wrapping a
// freshly appended branch entry.
func (t *Trie) installSplit(idx int, commonPrefix nibbles.Nibbles, branch entry) {
	if len(commonPrefix) == 0 {
		t.nodes[idx] = branch
	} else {
		branchIdx := t.appendEntry(branch)
		t.nodes[idx] = entry{kind: KindExtension, prefix: commonPrefix.Copy(), child: presentSlot(branchIdx)}
	}
	t.markDirty(idx)
}

// Remove deletes key from the trie if present; otherwise it is a no-op.
func (t *Trie) Remove(key []byte) error {
	if t.IsEmpty() {
		return nil
	}
	path := keyPath(key)
	stillPresent, err := t.remove(t.rootIndex, path)
	if err != nil {
		return err
	}
	if !stillPresent {
		t.rootIndex = -1
	}
	return nil
}

// remove returns whether the subtree rooted at idx is still non-empty
// after removing path. false tells the caller to clear its own slot.
func (t *Trie) remove(idx int, path nibbles.Nibbles) (bool, error) {
	e := &t.nodes[idx]
	switch e.kind {
	case KindLeaf:
		if !e.partial.Equal(path) {
			return true, nil
		}
		return false, nil
	case KindExtension:
		k := path.PrefixLen(e.prefix)
		if k != len(e.prefix) {
			return true, nil
		}
		childIdx, err := t.reveal(&e.child)
		if err != nil {
			return false, err
		}
		stillPresent, err := t.remove(childIdx, path[k:])
		if err != nil {
			return false, err
		}
		if !stillPresent {
			return false, nil
		}
		t.mergeExtensionChild(idx, childIdx)
		t.markDirty(idx)
		return true, nil
	case KindBranch:
		if len(path) == 1 && path[0] == 16 {
			if e.branchValue == nil {
				return true, nil
			}
			e.branchValue = nil
			return t.collapseBranchIfNeeded(idx)
		}
		nib := path[0]
		slot := &e.children[nib]
		if slot.kind == slotNone {
			return true, nil
		}
		childIdx, err := t.reveal(slot)
		if err != nil {
			return false, err
		}
		stillPresent, err := t.remove(childIdx, path[1:])
		if err != nil {
			return false, err
		}
		if !stillPresent {
			*slot = childSlot{kind: slotNone}
		}
		return t.collapseBranchIfNeeded(idx)
	default:
		return false, fmt.Errorf("encodedtrie: remove: unknown node kind %d", e.kind)
	}
}

// mergeExtensionChild implements "Extension+Leaf -> Leaf" and
// "Extension+Extension -> Extension" key merging; an Extension over a
// Branch child is left as-is.
func (t *Trie) mergeExtensionChild(idx, childIdx int) {
	prefix := t.nodes[idx].prefix
	child := t.nodes[childIdx]
	switch child.kind {
	case KindLeaf:
		t.nodes[idx] = entry{kind: KindLeaf, partial: prefix.Join(child.partial)}
		t.nodes[idx].value = child.value
	case KindExtension:
		t.nodes[idx] = entry{kind: KindExtension, prefix: prefix.Join(child.prefix), child: child.child}
	case KindBranch:
		t.nodes[idx].child = presentSlot(childIdx)
	}
}

// collapseBranchIfNeeded applies the branch collapse rules: zero
// children and no value vanishes; zero children with a value becomes a
// terminal Leaf; exactly one child merges per mergeExtensionChild-style
// rules into a Leaf, Extension, or a one-nibble Extension over a Branch.
func (t *Trie) collapseBranchIfNeeded(idx int) (bool, error) {
	e := &t.nodes[idx]
	count, lastNib := 0, -1
	for i := range e.children {
		if e.children[i].kind != slotNone {
			count++
			lastNib = i
		}
	}
	hasValue := e.branchValue != nil

	switch {
	case count == 0 && !hasValue:
		return false, nil
	case count == 0 && hasValue:
		t.nodes[idx] = entry{kind: KindLeaf, partial: nibbles.Nibbles{16}, value: e.branchValue}
		t.markDirty(idx)
		return true, nil
	case count == 1 && !hasValue:
		slot := &t.nodes[idx].children[lastNib]
		childIdx, err := t.reveal(slot)
		if err != nil {
			return false, err
		}
		child := t.nodes[childIdx]
		nibPrefix := nibbles.Nibbles{byte(lastNib)}
		switch child.kind {
		case KindLeaf:
			t.nodes[idx] = entry{kind: KindLeaf, partial: nibPrefix.Join(child.partial), value: child.value}
		case KindExtension:
			t.nodes[idx] = entry{kind: KindExtension, prefix: nibPrefix.Join(child.prefix), child: child.child}
		case KindBranch:
			t.nodes[idx] = entry{kind: KindExtension, prefix: nibPrefix, child: presentSlot(childIdx)}
		}
		t.markDirty(idx)
		return true, nil
	default:
		t.markDirty(idx)
		return true, nil
	}
}

