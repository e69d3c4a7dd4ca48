// Package peertable implements the contact and peer bookkeeping
// described in SPEC_FULL.md §3.5/§4.5: a single-owner state machine,
// reachable only through its own message loop (per §9's
// lock-ordering-bug rationale), exposed to every other goroutine
// through a clonable handle.
package peertable

import (
	"math/rand"
	"time"

	"github.com/ethereum/go-ethereum/p2p/enode"
	"github.com/ethereum/go-ethereum/p2p/enr"
)

// Scoring bounds, per SPEC_FULL.md §4.5.3.
const (
	MinScore         = -50
	MaxScore         = 50
	MinScoreCritical = -150

	MaxConcurrentRequestsPerPeer = 100
	MaxFindNodePerPeer           = 20
	MaxEnrsPerFindNodeResponse   = 16

	outstandingPingTimeout = 30 * time.Second
)

// Contact is a node known by address but not yet (or no longer)
// connected as a peer, per SPEC_FULL.md §3.5.
type Contact struct {
	Node *enode.Node

	ValidatedAt    time.Time
	PendingPingReq *uint64

	// PendingENRRequestHash is the hash of the ENR-request packet this
	// contact owes a response to, if any.
	PendingENRRequestHash []byte

	FindNodeCount int
	Record        *enr.Record

	Disposable bool
	// KnowsUs reports whether this contact has validated us by replying
	// to one of our pings (not just the other way around).
	KnowsUs bool
	Unwanted bool

	ForkIDValid bool

	// lastSenderIP is the source address the most recent packet from
	// this contact actually arrived from, independent of whatever
	// endpoint it advertises — the anti-amplification check of
	// SPEC_FULL.md §4.5.1/§8.1 compares the sender against this as well
	// as against Node.IP().
	lastSenderIP string

	insertedAt time.Time
}

func newContact(n *enode.Node) *Contact {
	return &Contact{Node: n, insertedAt: time.Now()}
}

// validated reports whether this contact has completed a ping/pong
// round trip and has no outstanding ping request, per §4.5.1.
func (c *Contact) validated() bool {
	return !c.ValidatedAt.IsZero() && c.PendingPingReq == nil
}

// ValidationOutcome is the result of ValidateContact.
type ValidationOutcome int

const (
	ValidationUnknown ValidationOutcome = iota
	ValidationInvalid
	ValidationIPMismatch
	ValidationOK
)

// PeerData is a connected peer, per SPEC_FULL.md §3.5.
type PeerData struct {
	Node         *enode.Node
	Capabilities []string
	Inbound      bool

	// Handle is an opaque connection reference (transport, not owned by
	// this package); callers type-assert it back to whatever concrete
	// connection type they registered.
	Handle interface{}

	score           int
	inFlightRequests int
}

func newPeerData(n *enode.Node, caps []string, inbound bool, handle interface{}) *PeerData {
	return &PeerData{Node: n, Capabilities: caps, Inbound: inbound, Handle: handle, score: 0}
}

// Score returns the peer's current reputation, clamped to
// [MinScoreCritical, MaxScore].
func (p *PeerData) Score() int { return p.score }

// InFlightRequests returns the number of requests this peer currently
// has outstanding.
func (p *PeerData) InFlightRequests() int { return p.inFlightRequests }

func randomIndex(n int) int {
	if n == 0 {
		return 0
	}
	return rand.Intn(n)
}
