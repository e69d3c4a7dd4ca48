package payload

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func newDynamicTx(t *testing.T, nonce uint64, tip, feeCap int64) *types.Transaction {
	t.Helper()
	return types.NewTx(&types.DynamicFeeTx{
		Nonce:     nonce,
		GasTipCap: uint256.NewInt(uint64(tip)).ToBig(),
		GasFeeCap: uint256.NewInt(uint64(feeCap)).ToBig(),
		Gas:       21_000,
	})
}

func mempoolTx(tx *types.Transaction, sender common.Address, arrival time.Time, privileged bool) *MempoolTransaction {
	return &MempoolTransaction{Tx: tx, Sender: sender, ArrivalTime: arrival, Privileged: privileged}
}

func TestTransactionQueueOrdersByEffectiveTipDescending(t *testing.T) {
	baseFee := uint256.NewInt(10)
	q := NewTransactionQueue(common.Address{}, baseFee)

	low := common.Address{0x01}
	high := common.Address{0x02}
	now := time.Now()

	q.AddSender(low, []*MempoolTransaction{mempoolTx(newDynamicTx(t, 0, 1, 11), low, now, false)})
	q.AddSender(high, []*MempoolTransaction{mempoolTx(newDynamicTx(t, 0, 5, 15), high, now, false)})

	head, ok := q.Peek()
	require.True(t, ok)
	require.Equal(t, high, head.Sender)
}

func TestTransactionQueueTieBreaksByEarlierArrival(t *testing.T) {
	baseFee := uint256.NewInt(0)
	q := NewTransactionQueue(common.Address{}, baseFee)

	earlier := common.Address{0x01}
	later := common.Address{0x02}
	now := time.Now()

	q.AddSender(later, []*MempoolTransaction{mempoolTx(newDynamicTx(t, 0, 5, 5), later, now.Add(time.Second), false)})
	q.AddSender(earlier, []*MempoolTransaction{mempoolTx(newDynamicTx(t, 0, 5, 5), earlier, now, false)})

	head, ok := q.Peek()
	require.True(t, ok)
	require.Equal(t, earlier, head.Sender)
}

func TestTransactionQueuePrivilegedSortsFirst(t *testing.T) {
	baseFee := uint256.NewInt(0)
	q := NewTransactionQueue(common.Address{}, baseFee)

	now := time.Now()
	normal := common.Address{0x01}
	deposit := common.Address{0x02}

	q.AddSender(normal, []*MempoolTransaction{mempoolTx(newDynamicTx(t, 0, 100, 100), normal, now, false)})
	q.AddSender(deposit, []*MempoolTransaction{mempoolTx(newDynamicTx(t, 0, 0, 0), deposit, now, true)})

	head, ok := q.Peek()
	require.True(t, ok)
	require.Equal(t, deposit, head.Sender)
}

func TestTransactionQueueProposerDestinedSortsLast(t *testing.T) {
	proposer := common.Address{0xAA}
	baseFee := uint256.NewInt(0)
	q := NewTransactionQueue(proposer, baseFee)

	now := time.Now()
	sender := common.Address{0x01}
	toProposer := common.Address{0x02}

	txToProposer := types.NewTx(&types.DynamicFeeTx{
		Nonce: 0, GasTipCap: uint256.NewInt(1000).ToBig(), GasFeeCap: uint256.NewInt(1000).ToBig(),
		Gas: 21_000, To: &proposer,
	})

	q.AddSender(toProposer, []*MempoolTransaction{mempoolTx(txToProposer, toProposer, now, false)})
	q.AddSender(sender, []*MempoolTransaction{mempoolTx(newDynamicTx(t, 0, 1, 1), sender, now, false)})

	head, ok := q.Peek()
	require.True(t, ok)
	require.Equal(t, sender, head.Sender)
}

func TestTransactionQueueShiftPromotesSendersTail(t *testing.T) {
	baseFee := uint256.NewInt(0)
	q := NewTransactionQueue(common.Address{}, baseFee)

	sender := common.Address{0x01}
	now := time.Now()
	q.AddSender(sender, []*MempoolTransaction{
		mempoolTx(newDynamicTx(t, 0, 5, 5), sender, now, false),
		mempoolTx(newDynamicTx(t, 1, 5, 5), sender, now, false),
	})

	head, ok := q.Peek()
	require.True(t, ok)
	require.EqualValues(t, 0, head.Tx.Nonce())

	q.Shift()

	head, ok = q.Peek()
	require.True(t, ok)
	require.EqualValues(t, 1, head.Tx.Nonce())
}

func TestTransactionQueuePopDiscardsSendersTail(t *testing.T) {
	baseFee := uint256.NewInt(0)
	q := NewTransactionQueue(common.Address{}, baseFee)

	sender := common.Address{0x01}
	now := time.Now()
	q.AddSender(sender, []*MempoolTransaction{
		mempoolTx(newDynamicTx(t, 0, 5, 5), sender, now, false),
		mempoolTx(newDynamicTx(t, 1, 5, 5), sender, now, false),
	})

	q.Pop()

	_, ok := q.Peek()
	require.False(t, ok)
}

func TestTransactionQueueClearEmptiesQueue(t *testing.T) {
	baseFee := uint256.NewInt(0)
	q := NewTransactionQueue(common.Address{}, baseFee)

	sender := common.Address{0x01}
	q.AddSender(sender, []*MempoolTransaction{mempoolTx(newDynamicTx(t, 0, 5, 5), sender, time.Now(), false)})
	q.Clear()

	_, ok := q.Peek()
	require.False(t, ok)
}
