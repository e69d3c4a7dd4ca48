package store

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/params"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/VictoriaMetrics/fastcache"

	"github.com/ethcorego/execution-core/sparsetrie"
	"github.com/ethcorego/execution-core/store/errkind"
)

type readTx struct {
	snap  *leveldb.Snapshot
	cache *fastcache.Cache
}

// rawGet reads key from the snapshot, returning (nil, nil) for a
// missing key so callers can distinguish "absent" from a decode error.
func (tx *readTx) rawGet(key []byte) ([]byte, error) {
	v, err := tx.snap.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get: %w: %v", errkind.ErrStorageIO, err)
	}
	return v, nil
}

func (tx *readTx) cachedGet(cacheKey, dbKey []byte) ([]byte, error) {
	if v, ok := tx.cache.HasGet(nil, cacheKey); ok {
		return v, nil
	}
	v, err := tx.rawGet(dbKey)
	if err != nil || v == nil {
		return v, err
	}
	tx.cache.Set(cacheKey, v)
	return v, nil
}

func (tx *readTx) HeaderByHash(hash common.Hash) (*types.Header, error) {
	numEnc, err := tx.rawGet(headerNumberKey(hash))
	if err != nil {
		return nil, err
	}
	if numEnc == nil {
		return nil, fmt.Errorf("store: header %s: %w", hash, errkind.ErrNotFound)
	}
	return tx.headerByNumberAndHash(decodeBlockNumber(numEnc), hash)
}

func (tx *readTx) HeaderByNumber(number uint64) (*types.Header, error) {
	hash, err := tx.CanonicalHash(number)
	if err != nil {
		return nil, err
	}
	return tx.headerByNumberAndHash(number, hash)
}

func (tx *readTx) headerByNumberAndHash(number uint64, hash common.Hash) (*types.Header, error) {
	key := headerKey(number, hash)
	enc, err := tx.cachedGet(key, key)
	if err != nil {
		return nil, err
	}
	if enc == nil {
		return nil, fmt.Errorf("store: header %d/%s: %w", number, hash, errkind.ErrNotFound)
	}
	header := new(types.Header)
	if err := rlp.DecodeBytes(enc, header); err != nil {
		return nil, fmt.Errorf("store: decode header: %w: %v", errkind.ErrDecoding, err)
	}
	return header, nil
}

func (tx *readTx) Body(hash common.Hash, number uint64) (*types.Body, error) {
	key := bodyKey(number, hash)
	enc, err := tx.cachedGet(key, key)
	if err != nil {
		return nil, err
	}
	if enc == nil {
		return nil, fmt.Errorf("store: body %d/%s: %w", number, hash, errkind.ErrNotFound)
	}
	body := new(types.Body)
	if err := rlp.DecodeBytes(enc, body); err != nil {
		return nil, fmt.Errorf("store: decode body: %w: %v", errkind.ErrDecoding, err)
	}
	return body, nil
}

// Receipts decodes the receipts of a block, which are stored as one
// list under a single (number, hash) key; there are no per-index
// receipt entries.
func (tx *readTx) Receipts(hash common.Hash, number uint64) (types.Receipts, error) {
	key := receiptsKey(number, hash)
	enc, err := tx.rawGet(key)
	if err != nil {
		return nil, err
	}
	if enc == nil {
		return nil, fmt.Errorf("store: receipts %d/%s: %w", number, hash, errkind.ErrNotFound)
	}
	var storage []*types.ReceiptForStorage
	if err := rlp.DecodeBytes(enc, &storage); err != nil {
		return nil, fmt.Errorf("store: decode receipts: %w: %v", errkind.ErrDecoding, err)
	}
	receipts := make(types.Receipts, len(storage))
	for i, r := range storage {
		receipts[i] = (*types.Receipt)(r)
	}
	return receipts, nil
}

// TransactionLocation returns the location of txHash within the
// canonical chain. If the hash was indexed under more than one block
// (a reorg left a stale entry behind) only the entry whose block hash
// is still canonical at that number is returned, per the invariant in
// SPEC_FULL.md §4.3.
func (tx *readTx) TransactionLocation(txHash common.Hash) (*TxLookup, error) {
	enc, err := tx.rawGet(txLookupKey(txHash))
	if err != nil {
		return nil, err
	}
	if enc == nil {
		return nil, fmt.Errorf("store: tx location %s: %w", txHash, errkind.ErrNotFound)
	}
	var candidates []TxLookup
	if err := rlp.DecodeBytes(enc, &candidates); err != nil {
		return nil, fmt.Errorf("store: decode tx location: %w: %v", errkind.ErrDecoding, err)
	}
	for i := range candidates {
		canon, err := tx.CanonicalHash(candidates[i].BlockIndex)
		if err == nil && canon == candidates[i].BlockHash {
			return &candidates[i], nil
		}
	}
	return nil, fmt.Errorf("store: tx location %s: %w", txHash, errkind.ErrNotFound)
}

func (tx *readTx) CanonicalHash(number uint64) (common.Hash, error) {
	enc, err := tx.rawGet(canonicalKey(number))
	if err != nil {
		return common.Hash{}, err
	}
	if enc == nil {
		return common.Hash{}, fmt.Errorf("store: canonical %d: %w", number, errkind.ErrNotFound)
	}
	return common.BytesToHash(enc), nil
}

func (tx *readTx) ChainConfig() (*params.ChainConfig, error) {
	enc, err := tx.rawGet(chainConfigKey)
	if err != nil {
		return nil, err
	}
	if enc == nil {
		return nil, fmt.Errorf("store: chain config: %w", errkind.ErrNotFound)
	}
	cfg := new(params.ChainConfig)
	if err := json.Unmarshal(enc, cfg); err != nil {
		return nil, fmt.Errorf("store: decode chain config: %w: %v", errkind.ErrDecoding, err)
	}
	return cfg, nil
}

func (tx *readTx) blockNumberAt(key []byte) (uint64, error) {
	enc, err := tx.rawGet(key)
	if err != nil {
		return 0, err
	}
	if enc == nil {
		return 0, fmt.Errorf("store: %s: %w", string(key), errkind.ErrNotFound)
	}
	hash := common.BytesToHash(enc)
	numEnc, err := tx.rawGet(headerNumberKey(hash))
	if err != nil {
		return 0, err
	}
	if numEnc == nil {
		return 0, fmt.Errorf("store: header number for %s: %w", hash, errkind.ErrNotFound)
	}
	return decodeBlockNumber(numEnc), nil
}

func (tx *readTx) EarliestBlock() (uint64, error)   { return 0, nil }
func (tx *readTx) LatestBlock() (uint64, error)      { return tx.blockNumberAt(headBlockKey) }
func (tx *readTx) SafeBlock() (uint64, error)        { return tx.blockNumberAt(safeBlockKey) }
func (tx *readTx) FinalizedBlock() (uint64, error)   { return tx.blockNumberAt(finalizedBlockKey) }
func (tx *readTx) PendingBlock() (uint64, error) {
	latest, err := tx.LatestBlock()
	if err != nil {
		return 0, err
	}
	return latest + 1, nil
}

func (tx *readTx) Payload(id uint64) ([]byte, error) {
	enc, err := tx.rawGet(payloadKey(id))
	if err != nil {
		return nil, err
	}
	if enc == nil {
		return nil, fmt.Errorf("store: payload %d: %w", id, errkind.ErrNotFound)
	}
	return enc, nil
}

func (tx *readTx) InvalidAncestor(badHash common.Hash) (*InvalidAncestor, error) {
	enc, err := tx.rawGet(invalidAncestorKey(badHash))
	if err != nil {
		return nil, err
	}
	if enc == nil {
		return nil, nil
	}
	return &InvalidAncestor{BadHash: badHash, ValidHash: common.BytesToHash(enc)}, nil
}

const maxSnapshotReads = 4096

func (tx *readTx) AccountSnapshotRange(start common.Hash, max int) (map[common.Hash][]byte, error) {
	if max <= 0 || max > maxSnapshotReads {
		max = maxSnapshotReads
	}
	rng := util.BytesPrefix(accountSnapshotPrefix)
	rng.Start = accountSnapshotKey(start)
	it := tx.snap.NewIterator(rng, nil)
	defer it.Release()

	out := make(map[common.Hash][]byte)
	for len(out) < max && it.Next() {
		key := it.Key()
		hash := common.BytesToHash(key[len(accountSnapshotPrefix):])
		out[hash] = append([]byte{}, it.Value()...)
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("store: account snapshot scan: %w: %v", errkind.ErrStorageIO, err)
	}
	return out, nil
}

func (tx *readTx) StorageSnapshotRange(account, start common.Hash, max int) (map[common.Hash][]byte, error) {
	if max <= 0 || max > maxSnapshotReads {
		max = maxSnapshotReads
	}
	prefix := append(append([]byte{}, storageSnapshotPrefix...), account.Bytes()...)
	from := append(append([]byte{}, prefix...), start.Bytes()...)
	rng := util.BytesPrefix(prefix)
	rng.Start = from
	it := tx.snap.NewIterator(rng, nil)
	defer it.Release()

	out := make(map[common.Hash][]byte)
	for len(out) < max && it.Next() {
		key := it.Key()
		storageKey := common.BytesToHash(key[len(prefix):])
		out[storageKey] = append([]byte{}, it.Value()...)
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("store: storage snapshot scan: %w: %v", errkind.ErrStorageIO, err)
	}
	return out, nil
}

func (tx *readTx) Checkpoints() (Checkpoints, error) {
	var cp Checkpoints
	get := func(key []byte) (common.Hash, error) {
		enc, err := tx.rawGet(key)
		if err != nil || enc == nil {
			return common.Hash{}, err
		}
		return common.BytesToHash(enc), nil
	}
	var err error
	if cp.HeaderDownload, err = get(headerDownloadCheckpointKey); err != nil {
		return cp, err
	}
	if cp.StateTrieAccount, err = get(stateTrieAccountCheckpointKey); err != nil {
		return cp, err
	}
	if cp.StateTrieStorage, err = get(stateTrieStorageCheckpointKey); err != nil {
		return cp, err
	}
	if enc, gerr := tx.rawGet(storageHealPathsKey); gerr != nil {
		return cp, gerr
	} else if enc != nil {
		if derr := rlp.DecodeBytes(enc, &cp.StorageHealPaths); derr != nil {
			return cp, fmt.Errorf("store: decode storage heal paths: %w: %v", errkind.ErrDecoding, derr)
		}
	}
	if enc, gerr := tx.rawGet(stateHealPathsKey); gerr != nil {
		return cp, gerr
	} else if enc != nil {
		if derr := rlp.DecodeBytes(enc, &cp.StateHealPaths); derr != nil {
			return cp, fmt.Errorf("store: decode state heal paths: %w: %v", errkind.ErrDecoding, derr)
		}
	}
	if enc, gerr := tx.rawGet(stateRebuildCheckpointKey); gerr != nil {
		return cp, gerr
	} else if enc != nil {
		var rebuild struct {
			Root     common.Hash
			Segments []common.Hash
		}
		if derr := rlp.DecodeBytes(enc, &rebuild); derr != nil {
			return cp, fmt.Errorf("store: decode state rebuild checkpoint: %w: %v", errkind.ErrDecoding, derr)
		}
		cp.StateRebuildRoot, cp.StateRebuildSegments = rebuild.Root, rebuild.Segments
	}
	if enc, gerr := tx.rawGet(storageRebuildPendingKey); gerr != nil {
		return cp, gerr
	} else if enc != nil {
		if derr := rlp.DecodeBytes(enc, &cp.StorageRebuildPending); derr != nil {
			return cp, fmt.Errorf("store: decode storage rebuild pending: %w: %v", errkind.ErrDecoding, derr)
		}
	}
	return cp, nil
}

func (tx *readTx) OpenStateTrie(root common.Hash) (*sparsetrie.SparseTrie, sparsetrie.Provider, error) {
	return openTrie(tx, root)
}

func (tx *readTx) OpenStorageTrie(account, root common.Hash) (*sparsetrie.SparseTrie, sparsetrie.Provider, error) {
	return openTrie(tx, root)
}
