package payload

import (
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// HeadTransaction is the current front transaction of one sender's
// queue, carrying its effective tip pre-computed so the comparator
// never has to re-derive it.
type HeadTransaction struct {
	*MempoolTransaction
	tip *uint256.Int
}

func isProposerDestined(tx *MempoolTransaction, proposer common.Address) bool {
	to := tx.Tx.To()
	return to != nil && *to == proposer
}

// less reports whether a sorts strictly before b under the ordering of
// SPEC_FULL.md §4.4.3: privileged transactions first (nonce ascending
// among themselves), proposer-destined transactions last, otherwise
// higher effective tip wins with ties broken by earlier arrival.
func less(a, b *HeadTransaction, proposer common.Address) bool {
	if a.Privileged != b.Privileged {
		return a.Privileged
	}
	if a.Privileged && b.Privileged {
		return a.Tx.Nonce() < b.Tx.Nonce()
	}
	aProp, bProp := isProposerDestined(a.MempoolTransaction, proposer), isProposerDestined(b.MempoolTransaction, proposer)
	if aProp != bProp {
		return !aProp
	}
	if c := a.tip.Cmp(b.tip); c != 0 {
		return c > 0
	}
	return a.ArrivalTime.Before(b.ArrivalTime)
}

// senderTail is the ordered-by-nonce remainder of one sender's
// transactions, not yet promoted to heads.
type senderTail struct {
	sender common.Address
	txs    []*MempoolTransaction
}

// TransactionQueue is one of the two priority queues described in
// SPEC_FULL.md §4.4.3: heads holds the current front transaction per
// sender, always kept sorted best-first by less; txs holds each
// sender's remaining nonce-ordered tail. Since every operation only
// ever reads or removes the very front of heads, a sorted slice
// (insertion position found by binary search) is simpler here than a
// full heap and costs the same O(log n) to locate.
type TransactionQueue struct {
	proposer common.Address
	baseFee  *uint256.Int

	heads []*HeadTransaction
	tails map[common.Address]*senderTail
}

// NewTransactionQueue constructs an empty queue. proposer is the
// on-chain proposer address transactions destined for must sort behind
// everything else; baseFee prices every head's effective tip.
func NewTransactionQueue(proposer common.Address, baseFee *uint256.Int) *TransactionQueue {
	return &TransactionQueue{
		proposer: proposer,
		baseFee:  baseFee,
		tails:    make(map[common.Address]*senderTail),
	}
}

// AddSender seeds the queue with one sender's transactions, already
// ordered by nonce ascending; the first becomes a head, the rest its
// tail.
func (q *TransactionQueue) AddSender(sender common.Address, txs []*MempoolTransaction) {
	if len(txs) == 0 {
		return
	}
	q.insertHead(txs[0])
	if len(txs) > 1 {
		q.tails[sender] = &senderTail{sender: sender, txs: txs[1:]}
	}
}

func (q *TransactionQueue) insertHead(tx *MempoolTransaction) {
	head := &HeadTransaction{MempoolTransaction: tx, tip: tx.effectiveTip(q.baseFee)}
	i := sort.Search(len(q.heads), func(i int) bool { return less(head, q.heads[i], q.proposer) })
	q.heads = append(q.heads, nil)
	copy(q.heads[i+1:], q.heads[i:])
	q.heads[i] = head
}

// Peek returns the current best head, if any.
func (q *TransactionQueue) Peek() (*HeadTransaction, bool) {
	if len(q.heads) == 0 {
		return nil, false
	}
	return q.heads[0], true
}

func (q *TransactionQueue) popFront() *HeadTransaction {
	head := q.heads[0]
	q.heads = q.heads[1:]
	return head
}

// Shift consumes the current head and, if its sender has more
// transactions queued, promotes the next one to a head in sorted
// position.
func (q *TransactionQueue) Shift() {
	if len(q.heads) == 0 {
		return
	}
	head := q.popFront()
	sender := head.Sender
	tail, ok := q.tails[sender]
	if !ok || len(tail.txs) == 0 {
		delete(q.tails, sender)
		return
	}
	next := tail.txs[0]
	tail.txs = tail.txs[1:]
	if len(tail.txs) == 0 {
		delete(q.tails, sender)
	}
	q.insertHead(next)
}

// Pop consumes the current head and discards every remaining
// transaction from that sender, used when a transaction fails or its
// sender cannot pay.
func (q *TransactionQueue) Pop() {
	if len(q.heads) == 0 {
		return
	}
	head := q.popFront()
	delete(q.tails, head.Sender)
}

// Clear drops every queued transaction.
func (q *TransactionQueue) Clear() {
	q.heads = nil
	q.tails = make(map[common.Address]*senderTail)
}
