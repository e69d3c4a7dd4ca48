package store

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
)

// Key prefixes for the flat key-value namespace the engine persists to.
// Mirrors the layout named in SPEC_FULL.md §6: every logical table is a
// byte-string prefix followed by a big-endian block number and/or a
// hash, so that range scans (used by the snapshot iterators) stay
// lexicographically ordered.
var (
	headerPrefix        = []byte("h") // headerPrefix + num (8 bytes) + hash -> rlp(header)
	headerNumberPrefix   = []byte("H") // headerNumberPrefix + hash -> num (8 bytes)
	bodyPrefix           = []byte("b") // bodyPrefix + num + hash -> rlp(body)
	receiptsPrefix       = []byte("r") // receiptsPrefix + num + hash -> rlp([]receipt)
	txLookupPrefix       = []byte("l") // txLookupPrefix + txHash -> rlp([]TxLookup)
	canonicalPrefix      = []byte("c") // canonicalPrefix + num -> hash
	payloadPrefix        = []byte("p") // payloadPrefix + id -> rlp(payload bundle)
	invalidAncestorPrefix = []byte("i") // invalidAncestorPrefix + badHash -> validHash

	accountSnapshotPrefix = []byte("a") // accountSnapshotPrefix + accountHash -> rlp(account)
	storageSnapshotPrefix = []byte("s") // storageSnapshotPrefix + accountHash + storageKey -> value

	headHeaderKey      = []byte("LastHeader")
	headFastBlockKey   = []byte("LastFast")
	headBlockKey       = []byte("LastBlock")
	safeBlockKey       = []byte("LastSafe")
	finalizedBlockKey  = []byte("LastFinalized")
	chainConfigKey     = []byte("ChainConfig")

	headerDownloadCheckpointKey  = []byte("SnapHeaderCheckpoint")
	stateTrieAccountCheckpointKey = []byte("SnapStateTrieAccountCheckpoint")
	stateTrieStorageCheckpointKey = []byte("SnapStateTrieStorageCheckpoint")
	storageHealPathsKey         = []byte("SnapStorageHealPaths")
	stateHealPathsKey           = []byte("SnapStateHealPaths")
	stateRebuildCheckpointKey   = []byte("SnapStateRebuildCheckpoint")
	storageRebuildPendingKey    = []byte("SnapStorageRebuildPending")
)

func encodeBlockNumber(number uint64) []byte {
	enc := make([]byte, 8)
	binary.BigEndian.PutUint64(enc, number)
	return enc
}

func decodeBlockNumber(enc []byte) uint64 {
	return binary.BigEndian.Uint64(enc)
}

func headerKey(number uint64, hash common.Hash) []byte {
	return append(append(append([]byte{}, headerPrefix...), encodeBlockNumber(number)...), hash.Bytes()...)
}

func headerNumberKey(hash common.Hash) []byte {
	return append(append([]byte{}, headerNumberPrefix...), hash.Bytes()...)
}

func bodyKey(number uint64, hash common.Hash) []byte {
	return append(append(append([]byte{}, bodyPrefix...), encodeBlockNumber(number)...), hash.Bytes()...)
}

func receiptsKey(number uint64, hash common.Hash) []byte {
	return append(append(append([]byte{}, receiptsPrefix...), encodeBlockNumber(number)...), hash.Bytes()...)
}

func txLookupKey(txHash common.Hash) []byte {
	return append(append([]byte{}, txLookupPrefix...), txHash.Bytes()...)
}

func canonicalKey(number uint64) []byte {
	return append(append([]byte{}, canonicalPrefix...), encodeBlockNumber(number)...)
}

func payloadKey(id uint64) []byte {
	return append(append([]byte{}, payloadPrefix...), encodeBlockNumber(id)...)
}

func invalidAncestorKey(badHash common.Hash) []byte {
	return append(append([]byte{}, invalidAncestorPrefix...), badHash.Bytes()...)
}

func accountSnapshotKey(accountHash common.Hash) []byte {
	return append(append([]byte{}, accountSnapshotPrefix...), accountHash.Bytes()...)
}

func storageSnapshotKey(accountHash, storageKey common.Hash) []byte {
	return append(append(append([]byte{}, storageSnapshotPrefix...), accountHash.Bytes()...), storageKey.Bytes()...)
}
