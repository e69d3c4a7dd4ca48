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

	"github.com/ethcorego/execution-core/store/errkind"
)

type writeTx struct {
	engine     *Engine
	batch      *leveldb.Batch
	onCommit   []func()
	rolledBack bool
}

func (tx *writeTx) Rollback() { tx.rolledBack = true }

func (tx *writeTx) putRLP(key []byte, v interface{}) error {
	enc, err := rlp.EncodeToBytes(v)
	if err != nil {
		return fmt.Errorf("store: encode: %w: %v", errkind.ErrDecoding, err)
	}
	tx.batch.Put(key, enc)
	return nil
}

func (tx *writeTx) AddHeader(h *types.Header) error {
	hash := h.Hash()
	if err := tx.putRLP(headerKey(h.Number.Uint64(), hash), h); err != nil {
		return err
	}
	tx.batch.Put(headerNumberKey(hash), encodeBlockNumber(h.Number.Uint64()))
	return nil
}

func (tx *writeTx) AddBody(hash common.Hash, number uint64, body *types.Body) error {
	return tx.putRLP(bodyKey(number, hash), body)
}

// AddReceipts stores a block's receipts as one RLP list under a single
// (number, hash) key, replacing whatever list was stored there; there
// are no per-index receipt entries.
func (tx *writeTx) AddReceipts(hash common.Hash, number uint64, receipts types.Receipts) error {
	storage := make([]*types.ReceiptForStorage, len(receipts))
	for i, r := range receipts {
		storage[i] = (*types.ReceiptForStorage)(r)
	}
	return tx.putRLP(receiptsKey(number, hash), storage)
}

func (tx *writeTx) AddTransactionLocations(block *types.Block) error {
	for i, txn := range block.Transactions() {
		loc := TxLookup{BlockHash: block.Hash(), BlockIndex: block.NumberU64(), Index: uint64(i)}
		key := txLookupKey(txn.Hash())

		existing, err := tx.engine.db.Get(key, nil)
		if err != nil && err != leveldb.ErrNotFound {
			return fmt.Errorf("store: read tx location: %w: %v", errkind.ErrStorageIO, err)
		}
		var locs []TxLookup
		if err == nil {
			if derr := rlp.DecodeBytes(existing, &locs); derr != nil {
				return fmt.Errorf("store: decode tx location: %w: %v", errkind.ErrDecoding, derr)
			}
		}
		locs = append(locs, loc)
		if err := tx.putRLP(key, locs); err != nil {
			return err
		}
	}
	return nil
}

func (tx *writeTx) AddCanonical(number uint64, hash common.Hash) error {
	tx.batch.Put(canonicalKey(number), hash.Bytes())
	return nil
}

func (tx *writeTx) AddPayload(id uint64, encoded []byte) error {
	tx.batch.Put(payloadKey(id), encoded)
	return nil
}

func (tx *writeTx) AddInvalidAncestor(badHash, validHash common.Hash) error {
	tx.batch.Put(invalidAncestorKey(badHash), validHash.Bytes())
	return nil
}

func (tx *writeTx) PutChainConfig(cfg *params.ChainConfig) error {
	enc, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("store: encode chain config: %w: %v", errkind.ErrDecoding, err)
	}
	tx.batch.Put(chainConfigKey, enc)
	return nil
}

func (tx *writeTx) PutAccountSnapshot(accountHash common.Hash, encoded []byte) error {
	tx.batch.Put(accountSnapshotKey(accountHash), encoded)
	return nil
}

func (tx *writeTx) PutStorageSnapshot(accountHash, storageKey common.Hash, value []byte) error {
	tx.batch.Put(storageSnapshotKey(accountHash, storageKey), value)
	return nil
}

// ClearSnapState deletes the single-key snap-sync checkpoint entries
// (every one except the header-download checkpoint). ClearSnapshot drops
// the account and storage snapshot tables by deleting every key under
// their prefixes, so that reopening them yields empty state per the
// invariant in SPEC_FULL.md §4.3; it enumerates those keys through the
// live engine rather than the batch, since a batch cannot enumerate keys
// it hasn't itself written.
func (tx *writeTx) ClearSnapState() error {
	return tx.clearPrefix(storageHealPathsKey, stateHealPathsKey, stateRebuildCheckpointKey, storageRebuildPendingKey, stateTrieAccountCheckpointKey, stateTrieStorageCheckpointKey)
}

func (tx *writeTx) ClearSnapshot() error {
	if err := tx.clearRange(accountSnapshotPrefix); err != nil {
		return err
	}
	return tx.clearRange(storageSnapshotPrefix)
}

func (tx *writeTx) clearPrefix(keys ...[]byte) error {
	for _, k := range keys {
		tx.batch.Delete(k)
	}
	return nil
}

func (tx *writeTx) clearRange(prefix []byte) error {
	it := tx.engine.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer it.Release()
	for it.Next() {
		tx.batch.Delete(append([]byte{}, it.Key()...))
	}
	if err := it.Error(); err != nil {
		return fmt.Errorf("store: clear %s: %w: %v", string(prefix), errkind.ErrStorageIO, err)
	}
	return nil
}

func (tx *writeTx) PutCheckpoints(cp Checkpoints) error {
	tx.batch.Put(headerDownloadCheckpointKey, cp.HeaderDownload.Bytes())
	tx.batch.Put(stateTrieAccountCheckpointKey, cp.StateTrieAccount.Bytes())
	tx.batch.Put(stateTrieStorageCheckpointKey, cp.StateTrieStorage.Bytes())
	if err := tx.putRLP(storageHealPathsKey, cp.StorageHealPaths); err != nil {
		return err
	}
	if err := tx.putRLP(stateHealPathsKey, cp.StateHealPaths); err != nil {
		return err
	}
	rebuild := struct {
		Root     common.Hash
		Segments []common.Hash
	}{cp.StateRebuildRoot, cp.StateRebuildSegments}
	if err := tx.putRLP(stateRebuildCheckpointKey, rebuild); err != nil {
		return err
	}
	return tx.putRLP(storageRebuildPendingKey, cp.StorageRebuildPending)
}

func (tx *writeTx) SetHeadBlock(hash common.Hash) error {
	tx.batch.Put(headBlockKey, hash.Bytes())
	return nil
}

func (tx *writeTx) SetSafeBlock(hash common.Hash) error {
	tx.batch.Put(safeBlockKey, hash.Bytes())
	return nil
}

func (tx *writeTx) SetFinalizedBlock(hash common.Hash) error {
	tx.batch.Put(finalizedBlockKey, hash.Bytes())
	return nil
}
