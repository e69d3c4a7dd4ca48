package payload

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
	mapset "github.com/deckarep/golang-set/v2"

	"github.com/ethcorego/execution-core/encodedtrie"
	"github.com/ethcorego/execution-core/store/errkind"
)

// BuildInputs is everything buildPayload needs besides the mempool and
// EVM handle threaded through PayloadBuildContext: the parent header,
// the pre-filled skeleton header/body, the fork configuration, and the
// block's withdrawals.
type BuildInputs struct {
	ParentHeader *types.Header
	Skeleton     *types.Header
	Withdrawals  []*types.Withdrawal
	Fork         ForkConfig
	Mempool      Mempool
	EVM          EVM
	Proposer     common.Address
}

// Result is one completed buildPayload call.
type Result struct {
	Header      *types.Header
	Body        *types.Body
	Receipts    types.Receipts
	BlockValue  *uint256.Int
	BlobsBundle BlobsBundle
	// RequestsHash is the EIP-7685 execution requests hash (Prague
	// onward). Carried on Result rather than the header, since this
	// fork's Header type predates RequestsHash.
	RequestsHash *common.Hash
}

// derivableHasher adapts the encoded trie (SPEC_FULL.md §3.2/§4.1) to
// go-ethereum's types.TrieHasher, so transactions/receipts roots are
// derived through the same proof-friendly representation the state
// trie witness uses, rather than a second throwaway hasher.
type derivableHasher struct{ t *encodedtrie.Trie }

func newDerivableHasher() *derivableHasher { return &derivableHasher{t: encodedtrie.NewEmpty()} }
func (h *derivableHasher) Reset()          { h.t = encodedtrie.NewEmpty() }
func (h *derivableHasher) Update(key, value []byte) error {
	return h.t.Insert(key, value)
}
func (h *derivableHasher) Hash() common.Hash {
	hash, err := h.t.Hash()
	if err != nil {
		return common.Hash{}
	}
	return hash
}

// buildPayload runs the six steps of SPEC_FULL.md §4.4.2 once.
func buildPayload(in BuildInputs) (*Result, error) {
	var parentExcessBlobGas uint64
	if in.ParentHeader.ExcessBlobGas != nil {
		parentExcessBlobGas = *in.ParentHeader.ExcessBlobGas
	}
	blobBaseFee := baseFeePerBlobGas(parentExcessBlobGas, in.Fork)
	ctx := newBuildContext(in.Skeleton, in.EVM, blobBaseFee)

	// §6's EVM interface exposes one coarse ApplySystemCalls(header) that
	// runs every system contract call a fork requires (beacon root,
	// parent block hash, ...); invoke it once regardless of how many
	// individual forks are active, since Prague is itself Cancun-onward
	// and calling it a second time would re-apply every system call.
	if (in.Fork.IsCancun && in.ParentHeader.ParentBeaconRoot != nil) || in.Fork.IsPrague {
		if err := ctx.evm.ApplySystemCalls(ctx.Header); err != nil {
			return nil, fmt.Errorf("payload: system calls: %w: %v", errkind.ErrSystemContract, err)
		}
	}

	if err := ctx.evm.ProcessWithdrawals(in.Withdrawals); err != nil {
		return nil, fmt.Errorf("payload: process withdrawals: %w: %v", errkind.ErrSystemContract, err)
	}
	ctx.Body.Withdrawals = in.Withdrawals

	baseFee, _ := uint256.FromBig(ctx.Header.BaseFee)
	if err := fillTransactions(ctx, in, baseFee); err != nil {
		return nil, err
	}

	var requestsHash *common.Hash
	if in.Fork.IsPrague {
		raw, err := ctx.evm.ExtractRequests(ctx.Receipts, ctx.Header)
		if err != nil {
			return nil, fmt.Errorf("payload: extract requests: %w: %v", errkind.ErrSystemContract, err)
		}
		h := common.BytesToHash(raw)
		requestsHash = &h
	}

	stateRoot, err := ctx.evm.GetStateTransitions().Apply()
	if err != nil {
		return nil, fmt.Errorf("payload: apply state transitions: %w: %v", errkind.ErrExecution, err)
	}
	ctx.Header.Root = stateRoot

	hasher := newDerivableHasher()
	ctx.Header.TxHash = types.DeriveSha(types.Transactions(ctx.Body.Transactions), hasher)
	hasher.Reset()
	ctx.Header.ReceiptHash = types.DeriveSha(ctx.Receipts, hasher)
	ctx.Header.GasUsed = in.Skeleton.GasLimit - ctx.RemainingGas
	ctx.Header.Bloom = types.CreateBloom(ctx.Receipts)

	return &Result{
		Header:       ctx.Header,
		Body:         ctx.Body,
		Receipts:     ctx.Receipts,
		BlockValue:   ctx.BlockValue,
		BlobsBundle:  ctx.BlobsBundle,
		RequestsHash: requestsHash,
	}, nil
}

// fillTransactions runs the main loop of SPEC_FULL.md §4.4.3.
func fillTransactions(ctx *PayloadBuildContext, in BuildInputs, baseFee *uint256.Int) error {
	plain := NewTransactionQueue(in.Proposer, baseFee)
	blob := NewTransactionQueue(in.Proposer, ctx.blobBaseFee)

	plainTxs, err := in.Mempool.FilterTransactions(TransactionFilter{BaseFee: baseFee, OnlyPlain: true})
	if err != nil {
		return fmt.Errorf("payload: filter plain transactions: %w", err)
	}
	for sender, txs := range plainTxs {
		plain.AddSender(sender, txs)
	}
	blobTxs, err := in.Mempool.FilterTransactions(TransactionFilter{BlobBaseFee: ctx.blobBaseFee, OnlyBlob: true})
	if err != nil {
		return fmt.Errorf("payload: filter blob transactions: %w", err)
	}
	for sender, txs := range blobTxs {
		blob.AddSender(sender, txs)
	}

	maxBlobs := maxBlobsPerBlock(in.Fork)
	seenVersionedHashes := mapset.NewSet[common.Hash]()

	for {
		if ctx.RemainingGas < TxGasCost {
			break
		}
		if ctx.blobCount >= maxBlobs {
			blob.Clear()
		}

		head, queue, ok := bestOf(plain, blob, in.Proposer)
		if !ok {
			break
		}

		if head.Tx.Gas() > ctx.RemainingGas {
			queue.Pop()
			txSkippedTotal.WithLabelValues("gas_limit").Inc()
			continue
		}
		if ctx.PayloadSize+estimateEncodedSize(head.Tx) > MaxRLPBlockSize && in.Fork.IsOsaka {
			break
		}
		if head.Tx.Protected() && !in.Fork.EIP155 {
			queue.Pop()
			in.Mempool.Remove(head.Tx.Hash())
			txSkippedTotal.WithLabelValues("pre_eip155_replay_protected").Inc()
			continue
		}

		receipt, gasUsed, err := ctx.evm.ExecuteTx(head.Tx, ctx.Header, &ctx.RemainingGas, head.Sender)
		if err != nil {
			queue.Pop()
			txSkippedTotal.WithLabelValues("execution_failed").Inc()
			continue
		}

		ctx.Receipts = append(ctx.Receipts, receipt)
		ctx.Body.Transactions = append(ctx.Body.Transactions, head.Tx)
		ctx.BlockValue.Add(ctx.BlockValue, new(uint256.Int).Mul(uint256.NewInt(gasUsed), head.tip))
		ctx.PayloadSize += estimateEncodedSize(head.Tx)
		txIncludedTotal.Inc()

		if head.Tx.Type() == types.BlobTxType {
			bundle, ok := in.Mempool.GetBlobsBundle(head.Tx.Hash())
			if !ok {
				return fmt.Errorf("payload: blob tx %s reached builder without a bundle: %w", head.Tx.Hash(), errkind.ErrInternal)
			}
			for _, vh := range bundle.VersionedHashes {
				if !seenVersionedHashes.Add(vh) {
					return fmt.Errorf("payload: duplicate versioned hash %s across blob txs: %w", vh, errkind.ErrInternal)
				}
			}
			mergeBlobsBundle(&ctx.BlobsBundle, bundle)
			ctx.blobCount += uint64(len(bundle.Blobs))
			ctx.Header.BlobGasUsed = addBlobGasUsed(ctx.Header.BlobGasUsed, uint64(len(bundle.Blobs)))
		}

		queue.Shift()
	}

	return nil
}

func bestOf(plain, blob *TransactionQueue, proposer common.Address) (*HeadTransaction, *TransactionQueue, bool) {
	p, pok := plain.Peek()
	b, bok := blob.Peek()
	switch {
	case pok && bok:
		if less(p, b, proposer) {
			return p, plain, true
		}
		return b, blob, true
	case pok:
		return p, plain, true
	case bok:
		return b, blob, true
	default:
		return nil, nil, false
	}
}

func estimateEncodedSize(tx *types.Transaction) uint64 {
	return uint64(tx.Size())
}

func mergeBlobsBundle(dst *BlobsBundle, src *BlobsBundle) {
	dst.Blobs = append(dst.Blobs, src.Blobs...)
	dst.Commitments = append(dst.Commitments, src.Commitments...)
	dst.Proofs = append(dst.Proofs, src.Proofs...)
	dst.VersionedHashes = append(dst.VersionedHashes, src.VersionedHashes...)
}

func addBlobGasUsed(prev *uint64, blobCount uint64) *uint64 {
	var base uint64
	if prev != nil {
		base = *prev
	}
	next := base + blobCount*GasPerBlob
	return &next
}
