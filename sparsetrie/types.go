// Package sparsetrie implements the upper/lower-partitioned Merkle-
// Patricia Trie described in SPEC_FULL.md §3.3/§4.2: an upper subtrie for
// paths shorter than two nibbles, and 256 lower subtries — one per
// (nibble0*16 + nibble1) — each revealed on demand from a provider and
// mutated in place with lazy hashing.
//
// Every lower subtrie is independent storage, so parallel prefetch (see
// prefetch.go) can mutate 256 disjoint slots with no locking: each
// worker owns exactly one lower subtrie for the duration of its walk.
package sparsetrie

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/ethcorego/execution-core/trie/nibbles"
)

// NodeKind discriminates the five states a SparseNode can be in.
type NodeKind uint8

const (
	NodeEmpty NodeKind = iota
	NodeHash           // unrevealed: only a hash placeholder is known
	NodeLeaf
	NodeExtension
	NodeBranch
)

// SparseNode is one node in a sparse subtrie. Key holds the Leaf's
// partial path or the Extension's prefix; it is unused for Branch and
// Hash nodes. StateMask is valid only for Branch: bit i set means a
// child exists at nibble i, either revealed elsewhere in the owning
// subtrie/a neighbouring one, or as a Hash placeholder. Hash is set only
// for a NodeHash node, where it is the (already known) hash of the
// unrevealed subtree itself; Leaf/Extension/Branch nodes memoize their
// encoding in encCache instead.
type SparseNode struct {
	Kind      NodeKind
	Key       nibbles.Nibbles
	StateMask uint16
	Hash      *common.Hash

	// encCache memoizes this node's own RLP encoding between Root calls;
	// cleared (by never being consulted) whenever the owning subtrie
	// marks the node's path dirty.
	encCache []byte
}

// pathKey is the map key used for PathVec-indexed maps: nibble paths
// contain only values 0-16, so the raw bytes convert losslessly to a
// Go string for use as a map key.
type pathKey string

func keyOf(path nibbles.Nibbles) pathKey { return pathKey(path) }

// SparseSubtrie is either the upper subtrie or one of the 256 lower
// subtries. It owns its own nodes, terminal values, and the set of
// node paths whose cached hash is stale.
type SparseSubtrie struct {
	nodes      map[pathKey]*SparseNode
	values     map[pathKey][]byte
	dirtyNodes map[pathKey]struct{}
}

func newSubtrie() *SparseSubtrie {
	return &SparseSubtrie{
		nodes:      make(map[pathKey]*SparseNode),
		values:     make(map[pathKey][]byte),
		dirtyNodes: make(map[pathKey]struct{}),
	}
}

func (s *SparseSubtrie) markNodeDirty(path nibbles.Nibbles) {
	s.dirtyNodes[keyOf(path)] = struct{}{}
	if n, ok := s.nodes[keyOf(path)]; ok {
		n.Hash = nil
	}
}

// lowerState discriminates the two states a lower slot can be in: blind
// (possibly holding a collapsed subtrie that can be revived) or
// revealed (a live SparseSubtrie).
type lowerState uint8

const (
	lowerBlind lowerState = iota
	lowerRevealed
)

type lowerSlot struct {
	state     lowerState
	collapsed *SparseSubtrie // set only while blind, if something to revive
	live      *SparseSubtrie // set only while revealed
}

// Provider is the sparse trie's external collaborator (SPEC_FULL.md §6):
// it supplies the RLP encoding of a node at a given path when the trie
// needs to reveal something it does not yet hold.
type Provider interface {
	GetNode(path nibbles.Nibbles) ([]byte, error)
}

// lowerIndex returns the lower-subtrie slot a path of length >= 2 routes
// to: (nibble0 * 16 + nibble1).
func lowerIndex(path nibbles.Nibbles) int {
	return int(path[0])*16 + int(path[1])
}

// belongsToUpper reports whether path routes to the upper subtrie
// (length < 2) as opposed to a lower subtrie.
func belongsToUpper(path nibbles.Nibbles) bool {
	return len(path) < 2
}
