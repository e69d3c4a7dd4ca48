package peertable

import (
	"context"
	"net"
	"time"

	"github.com/ethereum/go-ethereum/p2p/enode"
	"github.com/ethereum/go-ethereum/p2p/enr"
)

// Handle is the clonable, concurrency-safe reference to one Table,
// per SPEC_FULL.md §5: casts are applied in received order with
// per-caller order preserved, because every call is just a closure
// submitted to a single goroutine's inbox. Copying a Handle by value
// yields another handle to the same table.
type Handle struct {
	reqs chan func(*Table)
}

// New starts a peer table's message loop and returns a handle to it.
// The loop runs until ctx is cancelled.
func New(ctx context.Context, localID enode.ID) *Handle {
	h := &Handle{reqs: make(chan func(*Table), 64)}
	t := newTable(localID)
	go h.run(ctx, t)
	return h
}

func (h *Handle) run(ctx context.Context, t *Table) {
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-h.reqs:
			fn(t)
		}
	}
}

func (h *Handle) call(fn func(*Table)) {
	done := make(chan struct{})
	h.reqs <- func(t *Table) {
		fn(t)
		close(done)
	}
	<-done
}

// Cast submits fn without waiting for it to run, for callers that
// don't need a result (e.g. fire-and-forget bookkeeping updates).
func (h *Handle) Cast(fn func(*Table)) {
	h.reqs <- fn
}

// LocalID returns the node id this table was created for.
func (h *Handle) LocalID() enode.ID {
	var id enode.ID
	h.call(func(t *Table) { id = t.localID })
	return id
}

// AddContacts registers freshly discovered nodes as contacts.
func (h *Handle) AddContacts(nodes []*enode.Node) {
	h.call(func(t *Table) { t.newContacts(nodes) })
}

// ValidateContact records a liveness proof from id, arriving from
// senderIP, per §4.5.1.
func (h *Handle) ValidateContact(id enode.ID, senderIP net.IP) (ValidationOutcome, *Contact) {
	var outcome ValidationOutcome
	var contact *Contact
	h.call(func(t *Table) { outcome, contact = t.validateContact(id, senderIP) })
	return outcome, contact
}

// GetContactsToRevalidate returns every contact due for a fresh ping.
func (h *Handle) GetContactsToRevalidate(interval time.Duration) []*Contact {
	var out []*Contact
	h.call(func(t *Table) { out = t.getContactsToRevalidate(interval) })
	return out
}

// Prune moves disposable contacts to the discard tombstone set.
func (h *Handle) Prune() {
	h.call(func(t *Table) { t.prune() })
}

// GetContactToInitiate returns the next contact worth dialing, if any.
func (h *Handle) GetContactToInitiate() *Contact {
	var c *Contact
	h.call(func(t *Table) { c = t.getContactToInitiate() })
	return c
}

// GetContactForLookup returns a random contact to send a FindNode to.
func (h *Handle) GetContactForLookup() *Contact {
	var c *Contact
	h.call(func(t *Table) { c = t.getContactForLookup() })
	return c
}

// GetContactForENRLookup returns a random contact to request a record
// from.
func (h *Handle) GetContactForENRLookup() *Contact {
	var c *Contact
	h.call(func(t *Table) { c = t.getContactForENRLookup() })
	return c
}

// SetRecord stores a contact's ENR, once fetched.
func (h *Handle) SetRecord(id enode.ID, rec *enr.Record) {
	h.call(func(t *Table) {
		if c, ok := t.contacts[id]; ok {
			c.Record = rec
		}
	})
}

// PromoteToPeer moves a known contact into the connected peer set; it
// does not check that the contact has been validated.
func (h *Handle) PromoteToPeer(id enode.ID, caps []string, inbound bool, handle interface{}) *PeerData {
	var p *PeerData
	h.call(func(t *Table) { p = t.promoteToPeer(id, caps, inbound, handle) })
	return p
}

// RemovePeer disconnects a peer.
func (h *Handle) RemovePeer(id enode.ID) {
	h.call(func(t *Table) { t.removePeer(id) })
}

// GetBestPeer returns the highest-weight connected, open peer
// advertising at least one capability in capabilities.
func (h *Handle) GetBestPeer(capabilities []string) *PeerData {
	var p *PeerData
	h.call(func(t *Table) { p = t.getBestPeer(capabilities) })
	return p
}

// RecordSuccess raises a peer's score by one.
func (h *Handle) RecordSuccess(id enode.ID) {
	h.call(func(t *Table) {
		if p, ok := t.peers[id]; ok {
			p.recordSuccess()
		}
	})
}

// RecordFailure lowers a peer's score by one.
func (h *Handle) RecordFailure(id enode.ID) {
	h.call(func(t *Table) {
		if p, ok := t.peers[id]; ok {
			p.recordFailure()
		}
	})
}

// RecordCriticalFailure drops a peer's score to MinScoreCritical.
func (h *Handle) RecordCriticalFailure(id enode.ID) {
	h.call(func(t *Table) {
		if p, ok := t.peers[id]; ok {
			p.recordCriticalFailure()
		}
	})
}

// TargetReached reports whether the connected peer count has reached
// target.
func (h *Handle) TargetReached(target int) bool {
	var reached bool
	h.call(func(t *Table) { reached = t.targetReached(target) })
	return reached
}

// TargetPeersCompletion returns the fraction of target peers connected.
func (h *Handle) TargetPeersCompletion(target int) float64 {
	var frac float64
	h.call(func(t *Table) { frac = t.targetPeersCompletion(target) })
	return frac
}

// NodesAtDistances returns, for each requested bucket distance, the
// known nodes exactly that far from localID.
func (h *Handle) NodesAtDistances(localID enode.ID, distances []int) map[int][]*enode.Node {
	var out map[int][]*enode.Node
	h.call(func(t *Table) { out = t.nodesAtDistances(localID, distances) })
	return out
}
