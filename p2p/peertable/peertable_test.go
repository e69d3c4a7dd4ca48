package peertable

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/p2p/enode"
	"github.com/stretchr/testify/require"
)

func newTestNode(t *testing.T, ip net.IP) *enode.Node {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return enode.NewV4(&key.PublicKey, ip, 30303, 30303)
}

func newTestHandle(t *testing.T) *Handle {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	local, err := crypto.GenerateKey()
	require.NoError(t, err)
	localNode := enode.NewV4(&local.PublicKey, net.ParseIP("127.0.0.1"), 30303, 30303)
	return New(ctx, localNode.ID())
}

func TestGetBestPeerPrefersHigherWeight(t *testing.T) {
	h := newTestHandle(t)

	lowNode := newTestNode(t, net.ParseIP("1.1.1.1"))
	highNode := newTestNode(t, net.ParseIP("2.2.2.2"))

	h.AddContacts([]*enode.Node{lowNode, highNode})
	low := h.PromoteToPeer(lowNode.ID(), []string{"eth"}, true, "conn")
	high := h.PromoteToPeer(highNode.ID(), []string{"eth"}, true, "conn")
	require.NotNil(t, low)
	require.NotNil(t, high)

	for i := 0; i < 10; i++ {
		h.RecordSuccess(highNode.ID())
	}
	h.RecordFailure(lowNode.ID())

	best := h.GetBestPeer([]string{"eth"})
	require.NotNil(t, best)
	require.Equal(t, highNode.ID(), best.Node.ID())
}

func TestGetBestPeerRequiresCapability(t *testing.T) {
	h := newTestHandle(t)
	node := newTestNode(t, net.ParseIP("1.1.1.1"))
	h.AddContacts([]*enode.Node{node})
	h.PromoteToPeer(node.ID(), []string{"eth"}, true, "conn")

	best := h.GetBestPeer([]string{"snap"})
	require.Nil(t, best)
}

func TestGetBestPeerAcceptsAnyOverlappingCapability(t *testing.T) {
	h := newTestHandle(t)
	node := newTestNode(t, net.ParseIP("1.1.1.1"))
	h.AddContacts([]*enode.Node{node})
	h.PromoteToPeer(node.ID(), []string{"eth", "snap"}, true, "conn")

	best := h.GetBestPeer([]string{"snap", "les"})
	require.NotNil(t, best, "a peer need only support one of the requested capabilities")
}

func TestGetBestPeerExcludesPeerWithNoOpenConnection(t *testing.T) {
	h := newTestHandle(t)
	node := newTestNode(t, net.ParseIP("1.1.1.1"))
	h.AddContacts([]*enode.Node{node})
	h.PromoteToPeer(node.ID(), []string{"eth"}, true, nil)

	best := h.GetBestPeer([]string{"eth"})
	require.Nil(t, best, "a peer with no open connection handle must never be selected")
}

func TestCanTryMoreRequestsScalesWithScore(t *testing.T) {
	require.True(t, canTryMoreRequests(MaxScore, MaxConcurrentRequestsPerPeer))
	require.False(t, canTryMoreRequests(MinScore, 1))
}

func TestRecordCriticalFailureDropsToMinScoreCritical(t *testing.T) {
	h := newTestHandle(t)
	node := newTestNode(t, net.ParseIP("1.1.1.1"))
	h.AddContacts([]*enode.Node{node})
	p := h.PromoteToPeer(node.ID(), []string{"eth"}, true, "conn")
	require.NotNil(t, p)

	h.RecordCriticalFailure(node.ID())
	best := h.GetBestPeer([]string{"eth"})
	require.Nil(t, best, "a peer at MinScoreCritical can never satisfy canTryMoreRequests")
}

func TestGetContactsToRevalidateIncludesNeverValidated(t *testing.T) {
	h := newTestHandle(t)
	node := newTestNode(t, net.ParseIP("1.1.1.1"))
	h.AddContacts([]*enode.Node{node})

	due := h.GetContactsToRevalidate(time.Hour)
	require.Len(t, due, 1)
	require.Equal(t, node.ID(), due[0].Node.ID())
}

func TestGetContactsToRevalidateExcludesRecentlyValidated(t *testing.T) {
	h := newTestHandle(t)
	node := newTestNode(t, net.ParseIP("1.1.1.1"))
	h.AddContacts([]*enode.Node{node})

	outcome, _ := h.ValidateContact(node.ID(), net.ParseIP("1.1.1.1"))
	require.Equal(t, ValidationOK, outcome)

	due := h.GetContactsToRevalidate(time.Hour)
	require.Empty(t, due)
}

func TestValidateContactRejectsIPMismatch(t *testing.T) {
	h := newTestHandle(t)
	node := newTestNode(t, net.ParseIP("1.1.1.1"))
	h.AddContacts([]*enode.Node{node})

	outcome, _ := h.ValidateContact(node.ID(), net.ParseIP("9.9.9.9"))
	require.Equal(t, ValidationIPMismatch, outcome)
}

func TestValidateContactUnknownID(t *testing.T) {
	h := newTestHandle(t)
	node := newTestNode(t, net.ParseIP("1.1.1.1"))

	outcome, contact := h.ValidateContact(node.ID(), net.ParseIP("1.1.1.1"))
	require.Equal(t, ValidationUnknown, outcome)
	require.Nil(t, contact)
}

func TestGetContactToInitiateSkipsIneligibleAndClearsWhenExhausted(t *testing.T) {
	h := newTestHandle(t)
	node := newTestNode(t, net.ParseIP("1.1.1.1"))
	h.AddContacts([]*enode.Node{node})

	// Not known-us yet: ineligible.
	require.Nil(t, h.GetContactToInitiate())

	h.ValidateContact(node.ID(), net.ParseIP("1.1.1.1"))
	h.Cast(func(t *Table) { t.contacts[node.ID()].ForkIDValid = true })

	c := h.GetContactToInitiate()
	require.NotNil(t, c)
	require.Equal(t, node.ID(), c.Node.ID())

	// Already tried this round: next call finds nothing and resets.
	require.Nil(t, h.GetContactToInitiate())

	// The reset made the contact eligible again.
	require.NotNil(t, h.GetContactToInitiate())
}
