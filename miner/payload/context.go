package payload

import (
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
)

// ForkConfig gates the system-level operations and constants that
// change across hard forks: the beacon-root and parent-block-hash
// system calls (§4.4.2 step 2), request extraction (step 5), and the
// blob base fee schedule (step 1, supplemented from original_source
// per SPEC_FULL.md §10 — Cancun uses a fixed denominator, Prague
// onward a fork-specific schedule).
type ForkConfig struct {
	IsCancun bool
	IsPrague bool
	IsOsaka  bool
	// EIP155 reports whether replay protection is active at this
	// block; a protected transaction reaching the builder before
	// EIP-155 activates must be dropped and evicted from the mempool.
	EIP155 bool

	// BlobBaseFeeUpdateFraction is Cancun's fixed EIP-4844 denominator.
	BlobBaseFeeUpdateFraction uint64
	// BlobSchedule is the active fork's update-fraction and max blobs
	// per block, consulted instead of the fixed Cancun constant once
	// IsPrague holds (EIP-7691).
	BlobSchedule BlobScheduleEntry
}

// BlobScheduleEntry is one fork's blob-gas-pricing and per-block cap,
// per EIP-7691.
type BlobScheduleEntry struct {
	UpdateFraction uint64
	MaxBlobsPerBlock uint64
}

// PayloadBuildContext holds everything one call to buildPayload
// accumulates, per SPEC_FULL.md §3.4.
type PayloadBuildContext struct {
	Header *types.Header
	Body   *types.Body

	RemainingGas uint64
	Receipts     types.Receipts
	BlockValue   *uint256.Int
	BlobsBundle  BlobsBundle
	PayloadSize  uint64

	evm EVM

	blobBaseFee *uint256.Int
	blobCount   uint64
}

func newBuildContext(header *types.Header, evm EVM, blobBaseFee *uint256.Int) *PayloadBuildContext {
	return &PayloadBuildContext{
		Header:       header,
		Body:         &types.Body{},
		RemainingGas: header.GasLimit,
		BlockValue:   new(uint256.Int),
		evm:          evm,
		blobBaseFee:  blobBaseFee,
	}
}

// baseFeePerBlobGas computes EIP-4844/7691 blob base fee from the
// parent's excess blob gas, using Cancun's fixed denominator or the
// Prague-onward per-fork schedule.
func baseFeePerBlobGas(parentExcessBlobGas uint64, fork ForkConfig) *uint256.Int {
	fraction := fork.BlobBaseFeeUpdateFraction
	if fork.IsPrague && fork.BlobSchedule.UpdateFraction > 0 {
		fraction = fork.BlobSchedule.UpdateFraction
	}
	if fraction == 0 {
		fraction = 1
	}
	return fakeExponential(uint256.NewInt(1), uint256.NewInt(parentExcessBlobGas), uint256.NewInt(fraction))
}

// fakeExponential evaluates the EIP-4844 approximation of
// factor * e^(numerator/denominator) using integer arithmetic.
func fakeExponential(factor, numerator, denominator *uint256.Int) *uint256.Int {
	i := uint256.NewInt(1)
	output := new(uint256.Int)
	numAccum := new(uint256.Int).Mul(factor, denominator)

	for numAccum.Sign() > 0 {
		output.Add(output, numAccum)

		next := new(uint256.Int).Mul(numAccum, numerator)
		divisor := new(uint256.Int).Mul(denominator, i)
		numAccum = next.Div(next, divisor)

		i = new(uint256.Int).AddUint64(i, 1)
	}
	return output.Div(output, denominator)
}

func maxBlobsPerBlock(fork ForkConfig) uint64 {
	if fork.IsPrague && fork.BlobSchedule.MaxBlobsPerBlock > 0 {
		return fork.BlobSchedule.MaxBlobsPerBlock
	}
	return 6
}
