package payload

import "time"

// Magic constants SPEC_FULL.md §6 requires implementers to match
// bit-exactly.
const (
	// TxGasCost is the minimum possible gas cost of any transaction;
	// once remaining gas drops below it the fill loop stops.
	TxGasCost uint64 = 21_000

	// SecondsPerSlot bounds how long the build loop may keep
	// rebuilding a payload before the consumer calls GetPayload.
	SecondsPerSlot = 12 * time.Second

	// GasPerBlob is the blob gas charged per blob carried by a blob
	// transaction.
	GasPerBlob uint64 = 1 << 17 // 131072

	// MaxRLPBlockSize is the post-Osaka cap on a block's encoded size.
	MaxRLPBlockSize = 10 * 1024 * 1024

	// MaxPayloads bounds the payload cache's FIFO capacity.
	MaxPayloads = 10
)
