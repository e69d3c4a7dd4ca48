package payload

import (
	"crypto/ecdsa"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return key
}

// fakeStateTransitions is a no-op StateTransitions that always commits
// cleanly to a fixed root.
type fakeStateTransitions struct{ root common.Hash }

func (f *fakeStateTransitions) Apply() (common.Hash, error) { return f.root, nil }

// fakeEVM fails the transactions whose hashes are in fail and executes
// every other one successfully, charging gasCharge (or the tx's gas
// limit in full when gasCharge is zero) and producing an empty-logs
// receipt.
type fakeEVM struct {
	stateRoot common.Hash
	gasCharge uint64
	fail      map[common.Hash]bool

	systemCallCount int
}

func (f *fakeEVM) ExecuteTx(tx *types.Transaction, header *types.Header, remainingGas *uint64, sender common.Address) (*types.Receipt, uint64, error) {
	if f.fail[tx.Hash()] {
		return nil, 0, errFakeExecution
	}
	used := f.gasCharge
	if used == 0 {
		used = tx.Gas()
	}
	*remainingGas -= used
	return &types.Receipt{Type: tx.Type(), Status: types.ReceiptStatusSuccessful, GasUsed: used, TxHash: tx.Hash()}, used, nil
}

func (f *fakeEVM) ApplySystemCalls(header *types.Header) error {
	f.systemCallCount++
	return nil
}
func (f *fakeEVM) ProcessWithdrawals(withdrawals []*types.Withdrawal) error { return nil }
func (f *fakeEVM) ExtractRequests(receipts types.Receipts, header *types.Header) ([]byte, error) {
	return []byte{0x01}, nil
}
func (f *fakeEVM) GetStateTransitions() StateTransitions { return &fakeStateTransitions{root: f.stateRoot} }

var errFakeExecution = fakeErr("simulated execution failure")

type fakeErr string

func (e fakeErr) Error() string { return string(e) }

// fakeMempool returns fixed sets of plain/blob transactions and serves
// blobs bundles from bundles, recording every removed hash.
type fakeMempool struct {
	plain map[common.Address][]*MempoolTransaction
	blob  map[common.Address][]*MempoolTransaction
	bundles map[common.Hash]*BlobsBundle
	removed []common.Hash
}

func (m *fakeMempool) FilterTransactions(filter TransactionFilter) (map[common.Address][]*MempoolTransaction, error) {
	if filter.OnlyBlob {
		return m.blob, nil
	}
	return m.plain, nil
}

func (m *fakeMempool) GetBlobsBundle(txHash common.Hash) (*BlobsBundle, bool) {
	b, ok := m.bundles[txHash]
	return b, ok
}

func (m *fakeMempool) Remove(txHash common.Hash) {
	m.removed = append(m.removed, txHash)
}

func baseSkeleton(gasLimit uint64) *types.Header {
	return &types.Header{
		GasLimit: gasLimit,
		BaseFee:  big.NewInt(1),
	}
}

func fork() ForkConfig {
	return ForkConfig{EIP155: true, BlobBaseFeeUpdateFraction: 3_338_477}
}

func TestBuildPayloadIncludesHigherTipSenderFirst(t *testing.T) {
	now := time.Now()
	low := common.Address{0x01}
	high := common.Address{0x02}

	mempool := &fakeMempool{
		plain: map[common.Address][]*MempoolTransaction{
			low:  {mempoolTx(newDynamicTx(t, 0, 2, 3), low, now, false)},
			high: {mempoolTx(newDynamicTx(t, 0, 10, 20), high, now, false)},
		},
	}

	in := BuildInputs{
		ParentHeader: &types.Header{},
		Skeleton:     baseSkeleton(100_000),
		Fork:         fork(),
		Mempool:      mempool,
		EVM:          &fakeEVM{gasCharge: 21_000},
	}

	res, err := buildPayload(in)
	require.NoError(t, err)
	require.Len(t, res.Body.Transactions, 2)
	require.Equal(t, uint64(0), res.Body.Transactions[0].Nonce())
	require.True(t, res.Body.Transactions[0].GasTipCap().Cmp(res.Body.Transactions[1].GasTipCap()) >= 0)
}

func TestBuildPayloadStopsWhenRemainingGasTooLow(t *testing.T) {
	now := time.Now()
	sender := common.Address{0x01}

	mempool := &fakeMempool{
		plain: map[common.Address][]*MempoolTransaction{
			sender: {mempoolTx(newDynamicTx(t, 0, 2, 3), sender, now, false)},
		},
	}

	in := BuildInputs{
		ParentHeader: &types.Header{},
		Skeleton:     baseSkeleton(TxGasCost - 1),
		Fork:         fork(),
		Mempool:      mempool,
		EVM:          &fakeEVM{gasCharge: 21_000},
	}

	res, err := buildPayload(in)
	require.NoError(t, err)
	require.Empty(t, res.Body.Transactions)
}

func TestBuildPayloadPopsTransactionExceedingRemainingGas(t *testing.T) {
	now := time.Now()
	sender := common.Address{0x01}
	tx := types.NewTx(&types.DynamicFeeTx{
		Nonce: 0, GasTipCap: big.NewInt(5), GasFeeCap: big.NewInt(5), Gas: 50_000,
	})

	mempool := &fakeMempool{
		plain: map[common.Address][]*MempoolTransaction{
			sender: {mempoolTx(tx, sender, now, false)},
		},
	}

	in := BuildInputs{
		ParentHeader: &types.Header{},
		Skeleton:     baseSkeleton(40_000),
		Fork:         fork(),
		Mempool:      mempool,
		EVM:          &fakeEVM{},
	}

	res, err := buildPayload(in)
	require.NoError(t, err)
	require.Empty(t, res.Body.Transactions)
}

func TestBuildPayloadClearsBlobQueueAtCap(t *testing.T) {
	now := time.Now()
	plainSender := common.Address{0x01}
	blobSender := common.Address{0x02}

	blobTx := types.NewTx(&types.BlobTx{
		Nonce: 0, GasTipCap: uint256.NewInt(5), GasFeeCap: uint256.NewInt(5), Gas: 21_000,
		BlobHashes: []common.Hash{{0x01}},
	})

	mempool := &fakeMempool{
		plain: map[common.Address][]*MempoolTransaction{
			plainSender: {mempoolTx(newDynamicTx(t, 0, 1, 5), plainSender, now, false)},
		},
		blob: map[common.Address][]*MempoolTransaction{
			blobSender: {mempoolTx(blobTx, blobSender, now, false)},
		},
		bundles: map[common.Hash]*BlobsBundle{
			blobTx.Hash(): {VersionedHashes: []common.Hash{{0x01}}, Blobs: [][]byte{make([]byte, 1)}},
		},
	}

	fc := fork()
	fc.IsPrague = true
	fc.BlobSchedule = BlobScheduleEntry{UpdateFraction: 3_338_477, MaxBlobsPerBlock: 1}

	in := BuildInputs{
		ParentHeader: &types.Header{},
		Skeleton:     baseSkeleton(1_000_000),
		Fork:         fc,
		Mempool:      mempool,
		EVM:          &fakeEVM{gasCharge: 21_000},
	}

	res, err := buildPayload(in)
	require.NoError(t, err)
	require.Len(t, res.Body.Transactions, 2)
	require.NotNil(t, res.RequestsHash)
}

func TestBuildPayloadAppliesSystemCallsOnceAcrossCancunAndPrague(t *testing.T) {
	fc := fork()
	fc.IsCancun = true
	fc.IsPrague = true

	beaconRoot := common.Hash{0x01}
	evm := &fakeEVM{}
	in := BuildInputs{
		ParentHeader: &types.Header{ParentBeaconRoot: &beaconRoot},
		Skeleton:     baseSkeleton(40_000),
		Fork:         fc,
		Mempool:      &fakeMempool{},
		EVM:          evm,
	}

	_, err := buildPayload(in)
	require.NoError(t, err)
	require.Equal(t, 1, evm.systemCallCount, "a block active under both Cancun and Prague must apply system calls exactly once")
}

func TestBuildPayloadEvictsPreEIP155ReplayProtectedTx(t *testing.T) {
	now := time.Now()
	sender := common.Address{0x01}
	legacy := types.NewTx(&types.LegacyTx{Nonce: 0, GasPrice: big.NewInt(5), Gas: 21_000})
	signed, err := types.SignTx(legacy, types.NewEIP155Signer(big.NewInt(1)), testKey(t))
	require.NoError(t, err)

	mempool := &fakeMempool{
		plain: map[common.Address][]*MempoolTransaction{
			sender: {mempoolTx(signed, sender, now, false)},
		},
	}

	fc := fork()
	fc.EIP155 = false

	in := BuildInputs{
		ParentHeader: &types.Header{},
		Skeleton:     baseSkeleton(100_000),
		Fork:         fc,
		Mempool:      mempool,
		EVM:          &fakeEVM{gasCharge: 21_000},
	}

	res, err := buildPayload(in)
	require.NoError(t, err)
	require.Empty(t, res.Body.Transactions)
	require.Len(t, mempool.removed, 1)
}
