package node

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/multiformats/go-multiaddr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lra/nelson.cli/global"
	"github.com/lra/nelson.cli/heart"
	"github.com/lra/nelson.cli/iriclient"
	"github.com/lra/nelson.cli/peerlink"
	"github.com/lra/nelson.cli/peerlist"
)

// fakeLedgerMux answers the three IRI RPCs with empty results, enough for
// iriclient.Start to succeed and reconciliation calls to land somewhere.
func fakeLedgerMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		switch body["command"] {
		case "getNeighbors":
			_, _ = w.Write([]byte(`{"neighbors":[]}`))
		case "addNeighbors":
			_, _ = w.Write([]byte(`{"addedNeighbors":0}`))
		case "removeNeighbors":
			_, _ = w.Write([]byte(`{"removedNeighbors":0}`))
		}
	})
	return mux
}

// newTestNode composes a full Node on a loopback libp2p host with an
// in-memory peer store and a fake ledger. Heart intervals are an hour so no
// tick interferes with the assertions.
func newTestNode(t *testing.T, selfHostname string) *Node {
	t.Helper()

	env := global.NewDefault()
	list, err := peerlist.New(env, peerlist.Config{Temporary: true})
	require.NoError(t, err)

	srv := httptest.NewServer(fakeLedgerMux())
	t.Cleanup(srv.Close)
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	ledgerPort, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	iri := iriclient.New(env, iriclient.Config{Hostname: u.Hostname(), Port: ledgerPort, Timeout: time.Second})

	n, err := New(env, Config{
		ListenPort:     0,
		TargetLinks:    4,
		GossipSize:     4,
		CycleEvictFrac: 0.25,
		Self: peerlink.Identity{
			Hostname: selfHostname,
			Port:     14700,
			TCPPort:  15600,
			UDPPort:  14600,
		},
		Heart: heart.Config{
			BeatInterval:  time.Hour,
			CycleInterval: time.Hour,
			EpochInterval: time.Hour,
		},
	}, list, iri, nil)
	require.NoError(t, err)
	require.NoError(t, n.Run(env.Ctx()))
	t.Cleanup(n.Stop)

	// the startup health flip enqueues an epoch on the scheduler; let it
	// drain so its reshuffle cannot interleave with the assertions below
	require.Eventually(t, func() bool {
		return n.hrt.Snapshot().CurrentEpoch >= 1
	}, 2*time.Second, 10*time.Millisecond)
	return n
}

func tcpPortOf(t *testing.T, h host.Host) int {
	t.Helper()
	for _, a := range h.Addrs() {
		if p, err := a.ValueForProtocol(multiaddr.P_TCP); err == nil {
			port, err := strconv.Atoi(p)
			require.NoError(t, err)
			return port
		}
	}
	t.Fatal("host has no tcp listen address")
	return 0
}

// End to end over loopback: A dials B, both register one OPEN link, B learns
// A's advertised identity from the hello, and closing the link withdraws the
// peer from the advertised set and increments its tried counter.
func TestNode_DialHandshakeAndGossip(t *testing.T) {
	na := newTestNode(t, "node-a.test")
	nb := newTestNode(t, "node-b.test")

	p, err := na.list.Add("127.0.0.1", tcpPortOf(t, nb.host), 15601, 14601, true, 1.0)
	require.NoError(t, err)
	na.learnID(p.Key(), nb.host.ID())

	na.dialPeer(context.Background(), p)

	require.True(t, na.hasOpenLink(p.Key()))
	assert.Equal(t, 1, na.OpenLinkCount())

	// markConnected ran on the successful OPEN
	d := p.Data()
	assert.Equal(t, 1, d.Connected)
	assert.Equal(t, 0, d.Tried)

	// invariant 2: the dialed peer entered the advertised set
	na.advMutex.Lock()
	_, advertised := na.advertised[p.Key()]
	na.advMutex.Unlock()
	assert.True(t, advertised)

	// B registers the inbound link and learns A's identity from the hello
	require.Eventually(t, func() bool { return nb.OpenLinkCount() == 1 }, 2*time.Second, 20*time.Millisecond)
	require.Eventually(t, func() bool {
		for _, q := range nb.list.All() {
			if q.Hostname() == "node-a.test" {
				return true
			}
		}
		return false
	}, 2*time.Second, 20*time.Millisecond)

	// invariant 1: dialing the same identity again does not add a link
	na.dialPeer(context.Background(), p)
	assert.Equal(t, 1, na.OpenLinkCount())

	// cycle-time gossip: B pushes its sample over the open link and A
	// learns a peer it had never seen
	_, err = nb.list.Add("peer-d.example", 14700, 15600, 14600, false, 1.0)
	require.NoError(t, err)
	nb.broadcastGossip()
	require.Eventually(t, func() bool {
		return len(na.list.FindByAddress("peer-d.example", 14700)) == 1
	}, 2*time.Second, 20*time.Millisecond)

	// eviction: the link closes, the peer leaves the advertised set and its
	// tried counter is incremented
	na.closeLinkByKey(p.Key(), "test eviction")
	assert.Equal(t, 0, na.OpenLinkCount())
	na.advMutex.Lock()
	_, advertised = na.advertised[p.Key()]
	na.advMutex.Unlock()
	assert.False(t, advertised)
	assert.Equal(t, 1, p.Data().Tried)
}

// A peer with no learned transport ID is skipped without a dial attempt and
// without a tried penalty.
func TestNode_DialSkipsPeerWithUnknownID(t *testing.T) {
	na := newTestNode(t, "node-c.test")

	p, err := na.list.Add("unreachable.example", 14700, 15600, 14600, false, 1.0)
	require.NoError(t, err)

	na.dialPeer(context.Background(), p)
	assert.Equal(t, 0, na.OpenLinkCount())
	assert.Equal(t, 0, p.Data().Tried)
}

func TestParseMultiaddrHostPort(t *testing.T) {
	h, p, ok := parseMultiaddrHostPort("/ip4/1.2.3.4/tcp/4001")
	assert.True(t, ok)
	assert.Equal(t, "1.2.3.4", h)
	assert.Equal(t, 4001, p)

	h, p, ok = parseMultiaddrHostPort("/dns4/peer.example/tcp/14700")
	assert.True(t, ok)
	assert.Equal(t, "peer.example", h)
	assert.Equal(t, 14700, p)

	_, _, ok = parseMultiaddrHostPort("/ip4/1.2.3.4/udp/4001")
	assert.False(t, ok)
}

func TestHostMultiaddr(t *testing.T) {
	m, err := hostMultiaddr("peer.example", 14700)
	require.NoError(t, err)
	assert.Equal(t, "/dns4/peer.example/tcp/14700", m.String())

	m, err = hostMultiaddr("8.8.8.8", 14700)
	require.NoError(t, err)
	assert.Equal(t, "/ip4/8.8.8.8/tcp/14700", m.String())

	m, err = hostMultiaddr("::1", 14700)
	require.NoError(t, err)
	assert.Equal(t, "/ip6/::1/tcp/14700", m.String())
}
