// Package errkind defines the sentinel error kinds shared by the
// storage facade and payload builder, so that callers can
// classify a failure with errors.Is instead of parsing strings.
package errkind

import "errors"

var (
	// ErrDecoding marks malformed RLP, a wrong-length field, or invalid
	// nibble data.
	ErrDecoding = errors.New("decoding error")

	// ErrInconsistency marks a trie-healing diagnostic: a node was
	// expected at a given hash reference but is missing.
	ErrInconsistency = errors.New("inconsistent state")

	// ErrNotFound marks an absent key in a storage table reached
	// through a strict (non-optional) lookup.
	ErrNotFound = errors.New("not found")

	// ErrGasLimit marks a transaction that did not fit the remaining
	// gas or block size; not fatal, the transaction is dropped.
	ErrGasLimit = errors.New("gas or size limit exceeded")

	// ErrExecution marks an EVM revert or out-of-gas bubbling out of
	// transaction execution.
	ErrExecution = errors.New("evm execution failed")

	// ErrSystemContract marks a system-contract call failure; fatal for
	// the block under construction.
	ErrSystemContract = errors.New("system contract call failed")

	// ErrStorageIO marks a disk/engine error; fatal for the in-progress
	// transaction, which must roll back.
	ErrStorageIO = errors.New("storage io error")

	// ErrDiscovery marks a malformed, expired, or forged discovery
	// packet; the message is dropped.
	ErrDiscovery = errors.New("discovery protocol error")

	// ErrInternal marks an internal invariant violation, e.g. a blob
	// transaction reaching the builder without a blobs bundle.
	ErrInternal = errors.New("internal invariant violation")
)
