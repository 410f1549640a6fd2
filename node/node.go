// Package node composes the PeerList, IRIClient and Heart scheduler behind
// one live-link table and enforces the daemon's global invariants:
//  1. at most one OPEN PeerLink per Peer identity at any instant
//  2. the ledger's advertised neighbor set is exactly the OPEN PeerLinks
//     minus those reported as static
//  3. an IRIClient health-flip to healthy schedules an epoch reshuffle
//  4. a CLOSED PeerLink is replaced within one beat if below target
//     concurrency
package node

import (
	"context"
	"fmt"
	"sync"

	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/transport/tcp"
	"go.uber.org/atomic"

	"github.com/lra/nelson.cli/global"
	"github.com/lra/nelson.cli/heart"
	"github.com/lra/nelson.cli/iriclient"
	"github.com/lra/nelson.cli/metrics"
	nelpeer "github.com/lra/nelson.cli/peer"
	"github.com/lra/nelson.cli/peerlink"
	"github.com/lra/nelson.cli/peerlist"
)

const (
	Name     = "node"
	TraceTag = Name
)

type (
	environment interface {
		global.NodeGlobal
	}

	Config struct {
		ListenPort      int
		TargetLinks     int // desired number of concurrently OPEN links
		GossipSize      int // cap on peers advertised per hello
		CycleEvictFrac  float64
		MaxDynamicPeers int // >0 enables DHT-assisted autopeering
		Self            peerlink.Identity
		Heart           heart.Config
	}

	Node struct {
		environment
		cfg Config

		host host.Host
		list *peerlist.PeerList
		iri  *iriclient.Client
		hrt  *heart.Heart
		met  *metrics.Metrics // nil-safe: may be unset in tests
		dht  *dht.IpfsDHT     // non-nil only when autopeering is enabled

		mutex sync.RWMutex
		links map[string]*peerlink.Link // keyed by normalized peer address
		ids   map[string]peer.ID        // transport IDs learned from hellos, gossip and the DHT

		advMutex   sync.Mutex
		advertised map[string]*nelpeer.Peer // last peer set pushed to the ledger

		lastIRIHealthy atomic.Bool
		stopOnce       sync.Once
	}
)

func New(env environment, cfg Config, list *peerlist.PeerList, iri *iriclient.Client, met *metrics.Metrics) (*Node, error) {
	h, err := libp2p.New(
		libp2p.ListenAddrStrings(fmt.Sprintf("/ip4/0.0.0.0/tcp/%d", cfg.ListenPort)),
		libp2p.Transport(tcp.NewTCPTransport),
		libp2p.NoSecurity, // peer links are unauthenticated
	)
	if err != nil {
		return nil, fmt.Errorf("node: cannot create libp2p host: %w", err)
	}

	// the hello payload must carry our transport ID so remotes can dial back
	cfg.Self.NodeID = h.ID().String()

	n := &Node{
		environment: env,
		cfg:         cfg,
		host:        h,
		list:        list,
		iri:         iri,
		met:         met,
		links:       make(map[string]*peerlink.Link),
		ids:         make(map[string]peer.ID),
		advertised:  make(map[string]*nelpeer.Peer),
	}
	n.hrt = heart.New(env, cfg.Heart, heart.Callbacks{
		OnBeat:  n.onBeat,
		OnCycle: n.onCycle,
		OnEpoch: n.onEpoch,
	})
	return n, nil
}

func (n *Node) Run(ctx context.Context) error {
	n.MarkWorkProcessStarted(Name)

	n.host.SetStreamHandler(peerlink.ProtocolHello, n.inboundHelloHandler)
	n.host.SetStreamHandler(peerlink.ProtocolGossip, n.inboundGossipHandler)
	n.host.SetStreamHandler(peerlink.ProtocolHeartbeat, n.inboundHeartbeatHandler)

	n.iri.OnHealthChange(n.onIRIHealthChange)
	if err := n.iri.Start(ctx); err != nil {
		n.MarkWorkProcessStopped(Name)
		return fmt.Errorf("node: iriclient start: %w", err)
	}

	n.hrt.Start()

	if err := n.startAutopeering(n.cfg.MaxDynamicPeers); err != nil {
		n.Log().Warnf("[node] autopeering disabled: %v", err)
	}

	n.Log().Infof("[node] started, listening on %v", n.host.Addrs())
	return nil
}

func (n *Node) Stop() {
	n.stopOnce.Do(func() {
		n.hrt.End()
		n.iri.Stop()

		n.mutex.Lock()
		for _, l := range n.links {
			l.Close("shutdown")
		}
		n.links = make(map[string]*peerlink.Link)
		n.mutex.Unlock()

		if n.dht != nil {
			_ = n.dht.Close()
		}
		_ = n.host.Close()
		_ = n.list.Close()
		n.MarkWorkProcessStopped(Name)
	})
}

func (n *Node) SelfID() peer.ID { return n.host.ID() }

// OpenLinkCount returns the number of currently OPEN links.
func (n *Node) OpenLinkCount() int {
	n.mutex.RLock()
	defer n.mutex.RUnlock()
	count := 0
	for _, l := range n.links {
		if l.State() == peerlink.Open {
			count++
		}
	}
	return count
}

// connectedPeerKeys returns the addresses of every peer currently in an OPEN
// link, used by the status API and to compute the ledger-advertised set.
func (n *Node) connectedPeerKeys() []string {
	n.mutex.RLock()
	defer n.mutex.RUnlock()
	ret := make([]string, 0, len(n.links))
	for key, l := range n.links {
		if l.State() == peerlink.Open {
			ret = append(ret, key)
		}
	}
	return ret
}

func (n *Node) onIRIHealthChange(healthy bool, _ []string) {
	if n.met != nil {
		n.met.SetIRIHealthy(healthy)
	}
	// invariant 3: an epoch reshuffle is scheduled when health FLIPS to
	// healthy, not on every healthy tick of the 15s ticker. TriggerEpoch
	// only enqueues; the tick runs on the Heart's scheduler goroutine.
	wasHealthy := n.lastIRIHealthy.Swap(healthy)
	if healthy && !wasHealthy {
		n.hrt.TriggerEpoch()
	}
}
