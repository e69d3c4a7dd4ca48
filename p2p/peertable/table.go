package peertable

import (
	"net"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/p2p/enode"
)

// Table is the unsynchronized state machine of SPEC_FULL.md §3.5/§4.5.
// Every method here assumes single-threaded access; Handle (handle.go)
// is what concurrent callers actually hold.
type Table struct {
	localID enode.ID

	contacts     map[enode.ID]*Contact
	contactOrder []enode.ID
	peers        map[enode.ID]*PeerData

	// discardedContacts is the tombstone set of §4.5.1: once an id lands
	// here, newContacts never re-admits it. alreadyTried is the dialing
	// ring of §4.5.2: cleared once getContactToInitiate runs out of
	// untried contacts, so the next round starts over.
	discardedContacts mapset.Set[enode.ID]
	alreadyTried      mapset.Set[enode.ID]
}

func newTable(localID enode.ID) *Table {
	return &Table{
		localID:           localID,
		contacts:          make(map[enode.ID]*Contact),
		peers:             make(map[enode.ID]*PeerData),
		discardedContacts: mapset.NewSet[enode.ID](),
		alreadyTried:      mapset.NewSet[enode.ID](),
	}
}

// newContacts adds freshly discovered nodes, skipping ids already
// known as a peer, already a contact, or tombstoned — per the §3.5
// invariant that a node id lives in at most one of {contacts, peers}
// and a discarded contact is never re-added.
func (t *Table) newContacts(nodes []*enode.Node) {
	for _, n := range nodes {
		id := n.ID()
		if id == t.localID {
			continue
		}
		if _, isPeer := t.peers[id]; isPeer {
			continue
		}
		if _, isContact := t.contacts[id]; isContact {
			continue
		}
		if t.discardedContacts.Contains(id) {
			continue
		}
		t.contacts[id] = newContact(n)
		t.contactOrder = append(t.contactOrder, id)
	}
}

// validateContact implements §4.5.1: a pong (or equivalent liveness
// proof) from senderIP is checked against the contact's known address
// before it is accepted as validation.
func (t *Table) validateContact(id enode.ID, senderIP net.IP) (ValidationOutcome, *Contact) {
	c, ok := t.contacts[id]
	if !ok {
		return ValidationUnknown, nil
	}
	if c.Node.IP() != nil && senderIP != nil && !c.Node.IP().Equal(senderIP) {
		return ValidationIPMismatch, c
	}
	if c.lastSenderIP != "" && senderIP != nil && c.lastSenderIP != senderIP.String() {
		return ValidationIPMismatch, c
	}
	if senderIP != nil {
		c.lastSenderIP = senderIP.String()
	}
	c.ValidatedAt = time.Now()
	c.PendingPingReq = nil
	c.KnowsUs = true
	return ValidationOK, c
}

// getContactsToRevalidate returns every contact that has never been
// validated, was last validated longer ago than interval, or has a
// ping outstanding and was inserted more than 30s ago, per §4.5.1. The
// time a ping was sent is not recorded, so the age of the outstanding
// ping itself is not measured.
func (t *Table) getContactsToRevalidate(interval time.Duration) []*Contact {
	now := time.Now()
	var out []*Contact
	for _, id := range t.contactOrder {
		c, ok := t.contacts[id]
		if !ok {
			continue
		}
		switch {
		case c.ValidatedAt.IsZero():
			out = append(out, c)
		case now.Sub(c.ValidatedAt) > interval:
			out = append(out, c)
		case c.PendingPingReq != nil && now.Sub(c.insertedAt) > outstandingPingTimeout:
			out = append(out, c)
		}
	}
	return out
}

// prune moves every disposable contact into the discarded tombstone
// set, per §4.5.1.
func (t *Table) prune() {
	var kept []enode.ID
	for _, id := range t.contactOrder {
		c, ok := t.contacts[id]
		if !ok {
			continue
		}
		if c.Disposable {
			delete(t.contacts, id)
			t.discardedContacts.Add(id)
			continue
		}
		kept = append(kept, id)
	}
	t.contactOrder = kept
}

// getContactToInitiate implements §4.5.2: the first contact, in
// insertion order, that is not already a peer, hasn't already been
// tried this round, knows us, isn't unwanted, and has a valid fork id.
// When no such contact remains, the already-tried ring is cleared and
// nil is returned so the next call starts over.
func (t *Table) getContactToInitiate() *Contact {
	for _, id := range t.contactOrder {
		if t.alreadyTried.Contains(id) {
			continue
		}
		c, ok := t.contacts[id]
		if !ok {
			continue
		}
		if _, isPeer := t.peers[id]; isPeer {
			continue
		}
		if !c.KnowsUs || c.Unwanted || !c.ForkIDValid {
			continue
		}
		t.alreadyTried.Add(id)
		return c
	}
	t.alreadyTried.Clear()
	return nil
}

// getContactForLookup implements §4.5.2: a random non-disposable
// contact that hasn't exhausted its FindNode allowance.
func (t *Table) getContactForLookup() *Contact {
	var eligible []*Contact
	for _, id := range t.contactOrder {
		c, ok := t.contacts[id]
		if !ok || c.Disposable || c.FindNodeCount >= MaxFindNodePerPeer {
			continue
		}
		eligible = append(eligible, c)
	}
	if len(eligible) == 0 {
		return nil
	}
	return eligible[randomIndex(len(eligible))]
}

// getContactForENRLookup implements §4.5.2: a random validated,
// non-disposable contact with no outstanding ENR request and no
// already-known record.
func (t *Table) getContactForENRLookup() *Contact {
	var eligible []*Contact
	for _, id := range t.contactOrder {
		c, ok := t.contacts[id]
		if !ok || c.Disposable || !c.validated() {
			continue
		}
		if c.PendingENRRequestHash != nil || c.Record != nil {
			continue
		}
		eligible = append(eligible, c)
	}
	if len(eligible) == 0 {
		return nil
	}
	return eligible[randomIndex(len(eligible))]
}

// getBestPeer implements §4.5.3: the connected, open peer advertising at
// least one of the requested capabilities with the highest
// weight(score, inFlight).
func (t *Table) getBestPeer(capabilities []string) *PeerData {
	var best *PeerData
	bestWeight := 0
	for _, p := range t.peers {
		if p.Handle == nil {
			continue
		}
		if !hasAnyCapability(p.Capabilities, capabilities) {
			continue
		}
		if !canTryMoreRequests(p.score, p.inFlightRequests) {
			continue
		}
		w := weight(p.score, p.inFlightRequests)
		if best == nil || w > bestWeight {
			best = p
			bestWeight = w
		}
	}
	return best
}

// hasAnyCapability reports whether have and want share at least one
// entry, per §4.5.3's "support at least one of the requested
// capabilities."
func hasAnyCapability(have, want []string) bool {
	set := make(map[string]bool, len(have))
	for _, c := range have {
		set[c] = true
	}
	for _, c := range want {
		if set[c] {
			return true
		}
	}
	return false
}

// promoteToPeer moves a contact into the peer table, satisfying the
// single-owner invariant that a node id is never in both sets at once.
func (t *Table) promoteToPeer(id enode.ID, caps []string, inbound bool, handle interface{}) *PeerData {
	c, ok := t.contacts[id]
	if !ok {
		return nil
	}
	delete(t.contacts, id)
	p := newPeerData(c.Node, caps, inbound, handle)
	t.peers[id] = p
	return p
}

func (t *Table) removePeer(id enode.ID) {
	delete(t.peers, id)
}

// targetReached reports whether the peer count has reached target.
func (t *Table) targetReached(target int) bool {
	return len(t.peers) >= target
}

// targetPeersCompletion returns the fraction of target peers currently
// connected, capped at 1.0.
func (t *Table) targetPeersCompletion(target int) float64 {
	if target <= 0 {
		return 1
	}
	frac := float64(len(t.peers)) / float64(target)
	if frac > 1 {
		frac = 1
	}
	return frac
}
