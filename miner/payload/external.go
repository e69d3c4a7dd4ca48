// Package payload implements the block-building context and
// transaction fill algorithm described in SPEC_FULL.md §3.4/§4.4: a
// cooperative build loop that repeatedly reassembles a candidate block
// from two priority-ordered transaction queues until a deadline or
// cancellation fires, handing callers the most recently completed
// result.
package payload

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
)

// Mempool is the external transaction source consumed (not implemented)
// by this package, per SPEC_FULL.md §6.
type Mempool interface {
	// FilterTransactions returns every pending transaction grouped by
	// sender, each sender's slice ordered by nonce ascending.
	FilterTransactions(filter TransactionFilter) (map[common.Address][]*MempoolTransaction, error)
	// GetBlobsBundle returns the blobs bundle a blob transaction
	// promised, if still held by the mempool.
	GetBlobsBundle(txHash common.Hash) (*BlobsBundle, bool)
	// Remove evicts a transaction, e.g. one found to be replay-protected
	// pre-EIP-155 on a chain that predates EIP-155.
	Remove(txHash common.Hash)
}

// TransactionFilter selects which pending transactions a Mempool query
// should return; BaseFee/BlobBaseFee let the mempool pre-filter what
// could never pay, and OnlyPlain/OnlyBlob ask it to return only plain
// or only blob transactions. This package does not filter the results
// again.
type TransactionFilter struct {
	BaseFee     *uint256.Int
	BlobBaseFee *uint256.Int
	OnlyPlain   bool
	OnlyBlob    bool
}

// StateTransitions is the accumulated set of account/storage writes an
// EVM handle has produced across every executed transaction in the
// current build.
type StateTransitions interface {
	// Apply commits every accumulated transition into the trie handles
	// the build context holds, returning the resulting state root.
	Apply() (common.Hash, error)
}

// EVM is the execution engine consumed (not implemented) by this
// package, per SPEC_FULL.md §6.
type EVM interface {
	ExecuteTx(tx *types.Transaction, header *types.Header, remainingGas *uint64, sender common.Address) (*types.Receipt, uint64, error)
	ApplySystemCalls(header *types.Header) error
	ProcessWithdrawals(withdrawals []*types.Withdrawal) error
	ExtractRequests(receipts types.Receipts, header *types.Header) ([]byte, error)
	GetStateTransitions() StateTransitions
}

// BlobsBundle carries the out-of-band blob data an EIP-4844 transaction
// promises versioned-hash commitments for. KZG proof/commitment
// validity is assumed already established by the mempool; this package
// only ever moves the bundle shape around.
type BlobsBundle struct {
	Blobs           [][]byte
	Commitments     [][]byte
	Proofs          [][]byte
	VersionedHashes []common.Hash
}

// MempoolTransaction is one transaction as the mempool hands it over:
// enough to compute ordering without re-deriving anything from the
// raw transaction encoding.
type MempoolTransaction struct {
	Tx          *types.Transaction
	Sender      common.Address
	ArrivalTime time.Time
	// Privileged marks an L2 deposit transaction, which must sort to
	// the front of the block ahead of everything else.
	Privileged bool
}

func (m *MempoolTransaction) effectiveTip(baseFee *uint256.Int) *uint256.Int {
	tip, _ := uint256.FromBig(m.Tx.GasTipCap())
	feeCap, _ := uint256.FromBig(m.Tx.GasFeeCap())
	headroom := new(uint256.Int)
	if feeCap.Cmp(baseFee) > 0 {
		headroom.Sub(feeCap, baseFee)
	}
	if tip.Cmp(headroom) < 0 {
		return tip
	}
	return headroom
}
