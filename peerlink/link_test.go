package peerlink

import (
	"context"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/network"
	mocknet "github.com/libp2p/go-libp2p/p2p/net/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Full hello exchange over an in-memory libp2p network: outbound side writes
// first and reads the reply, inbound side does the reverse, both end up OPEN
// with each other's identity and gossip sample.
func TestLink_HelloHandshake(t *testing.T) {
	mn := mocknet.New()
	defer mn.Close()

	a, err := mn.GenPeer()
	require.NoError(t, err)
	b, err := mn.GenPeer()
	require.NoError(t, err)
	require.NoError(t, mn.LinkAll())
	require.NoError(t, mn.ConnectAllButSelf())

	helloA := Hello{Identity: Identity{Hostname: "a.example", Port: 16600, NodeID: a.ID().String()}}
	helloB := Hello{
		Identity: Identity{Hostname: "b.example", Port: 16601, NodeID: b.ID().String()},
		Peers:    []GossipPeer{{Hostname: "c.example", Port: 16602, TCPPort: 15602, UDPPort: 14602}},
	}

	type inboundResult struct {
		link   *Link
		remote Hello
		err    error
	}
	results := make(chan inboundResult, 1)
	b.SetStreamHandler(ProtocolHello, func(s network.Stream) {
		link, remote, err := OpenInbound(s, s.Conn().RemotePeer(), 200*time.Millisecond, helloB)
		results <- inboundResult{link: link, remote: remote, err: err}
	})

	s, err := a.NewStream(context.Background(), b.ID(), ProtocolHello)
	require.NoError(t, err)

	link, remote, err := OpenOutbound(s, b.ID(), 200*time.Millisecond, helloA)
	require.NoError(t, err)
	assert.Equal(t, Open, link.State())
	assert.Equal(t, Outbound, link.Direction())
	assert.Equal(t, b.ID(), link.RemoteID())
	assert.Equal(t, "b.example", remote.Identity.Hostname)
	require.Len(t, remote.Peers, 1)
	assert.Equal(t, "c.example", remote.Peers[0].Hostname)

	select {
	case r := <-results:
		require.NoError(t, r.err)
		assert.Equal(t, Open, r.link.State())
		assert.Equal(t, Inbound, r.link.Direction())
		assert.Equal(t, "a.example", r.remote.Identity.Hostname)
	case <-time.After(2 * time.Second):
		t.Fatal("inbound handshake never completed")
	}

	// Close is idempotent and the first reason wins.
	link.Close("test done")
	assert.Equal(t, Closed, link.State())
	link.Close("second reason")
	assert.Equal(t, "test done", link.CloseReason())
}

// A silent peer misses three beats and the link transitions to CLOSED with
// reason "timeout".
func TestLink_HeartbeatTimeoutOnSilentPeer(t *testing.T) {
	mn := mocknet.New()
	defer mn.Close()

	a, err := mn.GenPeer()
	require.NoError(t, err)
	b, err := mn.GenPeer()
	require.NoError(t, err)
	require.NoError(t, mn.LinkAll())
	require.NoError(t, mn.ConnectAllButSelf())

	// the remote holds the stream open but never sends a beat
	hold := make(chan struct{})
	b.SetStreamHandler(ProtocolHeartbeat, func(s network.Stream) {
		<-hold
		_ = s.Reset()
	})
	defer close(hold)

	s, err := a.NewStream(context.Background(), b.ID(), ProtocolHeartbeat)
	require.NoError(t, err)

	const beat = 20 * time.Millisecond
	l := newLink(b.ID(), Outbound, s, beat)

	timedOut := make(chan struct{})
	go l.RunHeartbeat(s, func() { close(timedOut) })

	select {
	case <-timedOut:
	case <-time.After(2 * time.Second):
		t.Fatal("link never timed out despite silence")
	}
	assert.Equal(t, Closed, l.State())
	assert.Equal(t, "timeout", l.CloseReason())
}

func TestBuildHello_CapsGossipSample(t *testing.T) {
	sample := []GossipPeer{
		{Hostname: "p1"}, {Hostname: "p2"}, {Hostname: "p3"},
	}
	h := BuildHello(Identity{Hostname: "self"}, sample, 2)
	assert.Len(t, h.Peers, 2)

	h = BuildHello(Identity{Hostname: "self"}, sample, 0)
	assert.Len(t, h.Peers, 3)
}
