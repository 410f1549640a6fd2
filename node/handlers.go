package node

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/peerstore"
	"github.com/multiformats/go-multiaddr"

	nelpeer "github.com/lra/nelson.cli/peer"
	"github.com/lra/nelson.cli/peerlink"
)

const peerPermanentTTL = peerstore.PermanentAddrTTL

// inboundHelloHandler accepts an inbound PeerLink on ProtocolHello. On
// success it registers the link; its heartbeat loop starts once the dialer
// opens the heartbeat stream (inboundHeartbeatHandler). On any handshake
// failure the stream is simply dropped.
func (n *Node) inboundHelloHandler(stream network.Stream) {
	remoteID := stream.Conn().RemotePeer()

	link, remoteHello, err := peerlink.OpenInbound(stream, remoteID, n.cfg.Heart.BeatInterval, n.localHello())
	if err != nil {
		n.Log().Warnf("[node] inbound hello handshake with %s failed: %v", remoteID, err)
		return
	}

	key := n.learnFromHello(remoteHello, remoteID)
	n.registerLink(key, link)
}

// gossipSample draws a weighted sample of known peers, capped at the
// configured gossip size, which bounds the write amplification of every
// peer-discovery event. Entries carry the transport ID when we have
// learned one, so receivers end up with dialable peers.
func (n *Node) gossipSample() []peerlink.GossipPeer {
	sample := n.list.GetWeighted(n.cfg.GossipSize)
	peers := make([]peerlink.GossipPeer, 0, len(sample))
	for _, w := range sample {
		d := w.Peer.Data()
		gp := peerlink.GossipPeer{
			Hostname: d.Hostname,
			Port:     d.Port,
			TCPPort:  d.TCPPort,
			UDPPort:  d.UDPPort,
		}
		if id, ok := n.idForKey(w.Peer.Key()); ok {
			gp.NodeID = id.String()
		}
		peers = append(peers, gp)
	}
	return peers
}

// localHello builds the hello payload advertising this node's own identity
// plus a gossip sample.
func (n *Node) localHello() peerlink.Hello {
	return peerlink.BuildHello(n.cfg.Self, n.gossipSample(), n.cfg.GossipSize)
}

// learnFromHello feeds the advertising identity and every gossiped peer into
// PeerList.Add, records their transport IDs, and returns the store key for
// the advertising identity itself.
func (n *Node) learnFromHello(hello peerlink.Hello, remoteID peer.ID) string {
	self := hello.Identity
	p, err := n.list.Add(self.Hostname, self.Port, self.TCPPort, self.UDPPort, self.IsTrusted, 1.0)
	key := ""
	if err != nil {
		n.Log().Warnf("[node] cannot add advertising peer %s: %v", self.Hostname, err)
	} else {
		key = p.Key()
		n.learnID(key, remoteID)
	}

	n.learnFromGossip(hello.Peers)
	return key
}

// learnFromGossip feeds gossiped peers into PeerList.Add as untrusted
// candidates and records any transport IDs they carry.
func (n *Node) learnFromGossip(peers []peerlink.GossipPeer) {
	for _, gp := range peers {
		added, err := n.list.Add(gp.Hostname, gp.Port, gp.TCPPort, gp.UDPPort, false, 1.0)
		if err != nil {
			n.Log().Warnf("[node] cannot add gossiped peer %s: %v", gp.Hostname, err)
			continue
		}
		if gp.NodeID != "" {
			if id, err := peer.Decode(gp.NodeID); err == nil {
				n.learnID(added.Key(), id)
			}
		}
	}
}

// dialPeer opens an outbound PeerLink to p. On success the link is
// registered and a heartbeat goroutine is started; on failure p's tried
// counter is incremented. A peer whose transport ID has never been learned
// (no hello, gossip or DHT sighting yet) is skipped without penalty: there
// is nothing to dial toward until gossip supplies one.
func (n *Node) dialPeer(ctx context.Context, p *nelpeer.Peer) {
	d := p.Data()
	key := p.Key()

	if n.hasOpenLink(key) {
		return // invariant 1: at most one OPEN link per identity
	}

	id, ok := n.idForKey(key)
	if !ok {
		n.Tracef(TraceTag, "dial %s skipped: transport id not yet known", key)
		return
	}

	maddr, err := hostMultiaddr(d.Hostname, d.Port)
	if err != nil {
		n.Log().Warnf("[node] bad multiaddr for %s: %v", d.Hostname, err)
		return
	}

	n.host.Peerstore().AddAddrs(id, []multiaddr.Multiaddr{maddr}, peerPermanentTTL)
	stream, err := n.host.NewStream(ctx, id, peerlink.ProtocolHello)
	if err != nil {
		n.Log().Infof("[node] dial %s failed: %v", d.Hostname, err)
		_ = n.list.IncrementTried(p)
		return
	}

	link, remoteHello, err := peerlink.OpenOutbound(stream, id, n.cfg.Heart.BeatInterval, n.localHello())
	if err != nil {
		n.Log().Infof("[node] hello handshake with %s failed: %v", d.Hostname, err)
		_ = n.list.IncrementTried(p)
		return
	}

	n.learnFromHello(remoteHello, id)
	n.registerLink(key, link)
	if err := n.list.MarkConnected(p, false); err != nil {
		n.Log().Errorf("[node] markConnected failed for %s: %v", d.Hostname, err)
	}
}

// hostMultiaddr builds the dial multiaddr for an address that may be a v4 or
// v6 literal or a DNS name.
func hostMultiaddr(hostname string, port int) (multiaddr.Multiaddr, error) {
	proto := "dns4"
	if ip := net.ParseIP(hostname); ip != nil {
		proto = "ip4"
		if strings.Contains(hostname, ":") {
			proto = "ip6"
		}
	}
	return multiaddr.NewMultiaddr(fmt.Sprintf("/%s/%s/tcp/%d", proto, hostname, port))
}
