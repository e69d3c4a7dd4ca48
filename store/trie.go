package store

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/ethcorego/execution-core/sparsetrie"
	"github.com/ethcorego/execution-core/trie/nibbles"
)

// trieNodePrefix namespaces the flat per-path trie node table; state
// and storage tries share it, keyed by their own root so that two
// tries never collide on the same path.
var trieNodePrefix = []byte("t")

func trieNodeKey(root common.Hash, path nibbles.Nibbles) []byte {
	key := make([]byte, 0, len(trieNodePrefix)+common.HashLength+len(path))
	key = append(key, trieNodePrefix...)
	key = append(key, root.Bytes()...)
	key = append(key, []byte(path)...)
	return key
}

// snapshotProvider answers sparsetrie.Provider.GetNode from a read
// transaction's point-in-time snapshot, scoped to one trie root.
type snapshotProvider struct {
	tx   *readTx
	root common.Hash
}

func (p *snapshotProvider) GetNode(path nibbles.Nibbles) ([]byte, error) {
	return p.tx.rawGet(trieNodeKey(p.root, path))
}

func openTrie(tx *readTx, root common.Hash) (*sparsetrie.SparseTrie, sparsetrie.Provider, error) {
	return sparsetrie.NewEmpty(), &snapshotProvider{tx: tx, root: root}, nil
}

// trieNodeWriter lets a write transaction persist newly hashed trie
// nodes back into the flat node table under a (possibly new) root.
type trieNodeWriter struct {
	tx   *writeTx
	root common.Hash
}

func (w *trieNodeWriter) PutNode(path nibbles.Nibbles, encoding []byte) {
	w.tx.batch.Put(trieNodeKey(w.root, path), encoding)
}

func (tx *writeTx) TrieNodeWriter(root common.Hash) *trieNodeWriter {
	return &trieNodeWriter{tx: tx, root: root}
}
