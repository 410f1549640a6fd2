package node

import (
	"strconv"
	"strings"
	"time"

	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/routing"
	p2putil "github.com/libp2p/go-libp2p/p2p/discovery/util"
	"golang.org/x/exp/maps"
)

// rendezvous is the fixed DHT advertise/find-peers string Nelson nodes use
// to discover each other.
const rendezvous = "nelson-peer-discovery"

// startAutopeering brings up a Kademlia DHT on the existing libp2p host and
// advertises/searches under rendezvous. Disabled unless
// cfg.MaxDynamicPeers > 0. Freshly discovered addresses are fed into
// PeerList.Add as untrusted, weight-1.0 candidates -- the ledger ports are
// unknown until a hello handshake completes, so TCP/UDP ports are left at 0
// and corrected once the peer is dialed (node.learnFromHello).
func (n *Node) startAutopeering(maxDynamicPeers int) error {
	if maxDynamicPeers <= 0 {
		n.Log().Infof("[node] autopeering disabled (maxDynamicPeers=0)")
		return nil
	}

	kad, err := dht.New(n.Ctx(), n.host, dht.Mode(dht.ModeAutoServer))
	if err != nil {
		return err
	}
	if err := kad.Bootstrap(n.Ctx()); err != nil {
		return err
	}
	disc := routing.NewRoutingDiscovery(kad)
	p2putil.Advertise(n.Ctx(), disc, rendezvous)

	n.mutex.Lock()
	n.dht = kad
	n.mutex.Unlock()

	go n.autopeeringLoop(disc, maxDynamicPeers)
	n.Log().Infof("[node] autopeering enabled, max dynamic peers = %d", maxDynamicPeers)
	return nil
}

// autopeeringLoop periodically re-discovers peers via the DHT rendezvous
// and seeds PeerList with any not already known, capped at maxDynamicPeers
// total dynamic (non-trusted) peers.
func (n *Node) autopeeringLoop(disc *routing.RoutingDiscovery, maxDynamicPeers int) {
	ticker := time.NewTicker(n.cfg.Heart.CycleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-n.Ctx().Done():
			return
		case <-ticker.C:
			n.discoverOnce(disc, maxDynamicPeers)
		}
	}
}

func (n *Node) discoverOnce(disc *routing.RoutingDiscovery, maxDynamicPeers int) {
	if n.dynamicPeerCount() >= maxDynamicPeers {
		return
	}
	peerChan, err := disc.FindPeers(n.Ctx(), rendezvous)
	if err != nil {
		n.Log().Warnf("[node] autopeering FindPeers: %v", err)
		return
	}

	// dedupe this round's results by peer ID before resolving addresses
	seen := make(map[peer.ID]peer.AddrInfo)
	for info := range peerChan {
		if info.ID == n.host.ID() || len(info.Addrs) == 0 {
			continue
		}
		seen[info.ID] = info
	}

	for _, id := range maps.Keys(seen) {
		if n.dynamicPeerCount() >= maxDynamicPeers {
			return
		}
		info := seen[id]
		n.host.Peerstore().AddAddrs(info.ID, info.Addrs, peerPermanentTTL)
		host, port := addrInfoHostPort(info)
		if host == "" {
			continue
		}
		added, err := n.list.Add(host, port, 0, 0, false, 1.0)
		if err != nil {
			n.Log().Warnf("[node] autopeering add %s failed: %v", host, err)
			continue
		}
		n.learnID(added.Key(), info.ID)
	}
}

func (n *Node) dynamicPeerCount() int {
	count := 0
	for _, p := range n.list.All() {
		if !p.IsTrusted() {
			count++
		}
	}
	return count
}

func addrInfoHostPort(info peer.AddrInfo) (string, int) {
	for _, a := range info.Addrs {
		if host, port, ok := parseMultiaddrHostPort(a.String()); ok {
			return host, port
		}
	}
	return "", 0
}

// parseMultiaddrHostPort extracts the host and tcp port from a multiaddr
// string of the form "/ip4/1.2.3.4/tcp/4001" or "/dns4/host.name/tcp/4001".
func parseMultiaddrHostPort(s string) (host string, port int, ok bool) {
	parts := strings.Split(strings.Trim(s, "/"), "/")
	for i := 0; i+1 < len(parts); i++ {
		switch parts[i] {
		case "ip4", "ip6", "dns4", "dns6", "dnsaddr":
			host = parts[i+1]
		case "tcp":
			if p, err := strconv.Atoi(parts[i+1]); err == nil {
				port = p
			}
		}
	}
	return host, port, host != "" && port != 0
}
