// Package store implements the two-transaction storage facade described
// in SPEC_FULL.md §4.3: read transactions serve headers, bodies,
// receipts, transaction locations, canonical mappings, chain config,
// payload bundles, and trie handles; write transactions stage inserts
// and commit or roll back atomically. The engine underneath is a flat
// LevelDB keyspace (github.com/syndtr/goleveldb) fronted by a fastcache
// (github.com/VictoriaMetrics/fastcache) read-through cache for hot
// header/body lookups, mirroring the layering the teacher's own
// ethdb/rawdb stack assumes but never had to assemble end to end.
package store

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/params"
	"github.com/syndtr/goleveldb/leveldb"

	"github.com/VictoriaMetrics/fastcache"

	"github.com/ethcorego/execution-core/encodedtrie"
	"github.com/ethcorego/execution-core/sparsetrie"
	"github.com/ethcorego/execution-core/store/errkind"
)

// TxLookup locates the canonical block a transaction was included in.
type TxLookup struct {
	BlockHash  common.Hash
	BlockIndex uint64
	Index      uint64
}

// InvalidAncestor records that a chain descending from BadHash is
// invalid, alongside the most recent hash on that chain still known
// good.
type InvalidAncestor struct {
	BadHash   common.Hash
	ValidHash common.Hash
}

// StorageHealEntry is one account's pending storage-heal paths; RLP has
// no map primitive, so the heal-paths checkpoint is a slice of these
// rather than a map keyed by account hash.
type StorageHealEntry struct {
	Account common.Hash
	Paths   []string
}

// Checkpoints bundles the single-key snapshot/heal progress markers
// named in SPEC_FULL.md §6.
type Checkpoints struct {
	HeaderDownload        common.Hash
	StateTrieAccount      common.Hash
	StateTrieStorage      common.Hash
	StorageHealPaths      []StorageHealEntry
	StateHealPaths        []string
	StateRebuildRoot      common.Hash
	StateRebuildSegments  []common.Hash
	StorageRebuildPending []common.Hash
}

// Config configures an Engine.
type Config struct {
	// Path is the on-disk LevelDB directory. Empty means in-memory.
	Path string
	// CacheSizeBytes sizes the fastcache front for header/body reads.
	CacheSizeBytes int
	Logger         log.Logger
}

func (c Config) withDefaults() Config {
	if c.CacheSizeBytes <= 0 {
		c.CacheSizeBytes = 32 * 1024 * 1024
	}
	if c.Logger == nil {
		c.Logger = log.Root()
	}
	return c
}

// Engine is the storage facade's concrete backend: one LevelDB handle,
// one read-through cache, and the commit lock write transactions
// serialise on.
type Engine struct {
	db     *leveldb.DB
	cache  *fastcache.Cache
	logger log.Logger

	commitMu sync.Mutex
}

// Open opens (creating if absent) the LevelDB store at cfg.Path.
func Open(cfg Config) (*Engine, error) {
	cfg = cfg.withDefaults()

	var (
		db  *leveldb.DB
		err error
	)
	if cfg.Path != "" {
		db, err = leveldb.OpenFile(cfg.Path, nil)
	} else {
		db, err = openMemDB()
	}
	if err != nil {
		return nil, fmt.Errorf("store: open %q: %w: %v", cfg.Path, errkind.ErrStorageIO, err)
	}
	return &Engine{
		db:     db,
		cache:  fastcache.New(cfg.CacheSizeBytes),
		logger: cfg.Logger,
	}, nil
}

func (e *Engine) Close() error {
	if err := e.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w: %v", errkind.ErrStorageIO, err)
	}
	return nil
}

// View opens a read transaction and runs fn against it. Multiple Views
// may run concurrently; LevelDB snapshots give each one a consistent
// point-in-time read.
func (e *Engine) View(fn func(ReadTx) error) error {
	snap, err := e.db.GetSnapshot()
	if err != nil {
		return fmt.Errorf("store: snapshot: %w: %v", errkind.ErrStorageIO, err)
	}
	defer snap.Release()
	return fn(&readTx{snap: snap, cache: e.cache})
}

// Update opens a write transaction, runs fn against it, and commits the
// staged batch unless fn returns an error or calls Rollback, in which
// case nothing is written. Write transactions are serialised by
// commitMu: the underlying engine does not allow concurrent batch
// writes to interleave.
func (e *Engine) Update(fn func(WriteTx) error) error {
	e.commitMu.Lock()
	defer e.commitMu.Unlock()

	tx := &writeTx{engine: e, batch: new(leveldb.Batch)}
	if err := fn(tx); err != nil {
		return err
	}
	if tx.rolledBack {
		return nil
	}
	if err := e.db.Write(tx.batch, nil); err != nil {
		return fmt.Errorf("store: commit: %w: %v", errkind.ErrStorageIO, err)
	}
	for _, hook := range tx.onCommit {
		hook()
	}
	return nil
}

// ReadTx is the read side of the storage facade (SPEC_FULL.md §4.3).
type ReadTx interface {
	HeaderByHash(hash common.Hash) (*types.Header, error)
	HeaderByNumber(number uint64) (*types.Header, error)
	Body(hash common.Hash, number uint64) (*types.Body, error)
	Receipts(hash common.Hash, number uint64) (types.Receipts, error)
	TransactionLocation(txHash common.Hash) (*TxLookup, error)
	CanonicalHash(number uint64) (common.Hash, error)
	ChainConfig() (*params.ChainConfig, error)

	EarliestBlock() (uint64, error)
	LatestBlock() (uint64, error)
	SafeBlock() (uint64, error)
	FinalizedBlock() (uint64, error)
	PendingBlock() (uint64, error)

	Payload(id uint64) ([]byte, error)
	InvalidAncestor(badHash common.Hash) (*InvalidAncestor, error)

	AccountSnapshotRange(start common.Hash, max int) (map[common.Hash][]byte, error)
	StorageSnapshotRange(account, start common.Hash, max int) (map[common.Hash][]byte, error)
	Checkpoints() (Checkpoints, error)

	// OpenStateTrie and OpenStorageTrie return a sparse trie rooted at
	// root, backed by a Provider that resolves unrevealed nodes from
	// this transaction's snapshot.
	OpenStateTrie(root common.Hash) (*sparsetrie.SparseTrie, sparsetrie.Provider, error)
	OpenStorageTrie(account common.Hash, root common.Hash) (*sparsetrie.SparseTrie, sparsetrie.Provider, error)
}

// WriteTx is the write side of the storage facade.
type WriteTx interface {
	AddHeader(h *types.Header) error
	AddBody(hash common.Hash, number uint64, body *types.Body) error
	AddReceipts(hash common.Hash, number uint64, receipts types.Receipts) error
	AddTransactionLocations(block *types.Block) error
	AddCanonical(number uint64, hash common.Hash) error
	AddPayload(id uint64, encoded []byte) error
	AddInvalidAncestor(badHash, validHash common.Hash) error
	PutChainConfig(cfg *params.ChainConfig) error

	PutAccountSnapshot(accountHash common.Hash, encoded []byte) error
	PutStorageSnapshot(accountHash, storageKey common.Hash, value []byte) error
	ClearSnapState() error
	ClearSnapshot() error
	PutCheckpoints(Checkpoints) error

	SetHeadBlock(hash common.Hash) error
	SetSafeBlock(hash common.Hash) error
	SetFinalizedBlock(hash common.Hash) error

	// Rollback discards every staged write; the transaction's Update
	// call returns nil without touching the engine.
	Rollback()
}

// LoadWitness decodes a witness node arena (the root plus every other
// node a stateless verifier was handed alongside it) into an encoded
// trie and authenticates it against expectedRoot: the contiguous-buffer
// representation is the one worth authenticating and re-hashing cheaply
// in a proving context, whereas the sparse trie behind
// OpenStateTrie/OpenStorageTrie is the one the live engine mutates block
// by block.
func LoadWitness(nodeEncodings [][]byte, expectedRoot common.Hash) (*encodedtrie.Trie, error) {
	t, err := encodedtrie.LoadAndAuthenticate(nodeEncodings, expectedRoot)
	if err != nil {
		return nil, fmt.Errorf("store: load witness: %w: %v", errkind.ErrDecoding, err)
	}
	return t, nil
}
