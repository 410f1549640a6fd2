package node

import (
	"time"

	"github.com/libp2p/go-libp2p/core/network"

	"github.com/lra/nelson.cli/peerlink"
)

// broadcastGossip pushes a fresh weighted peer sample to every OPEN link on
// ProtocolGossip, one frame per stream, fire-and-forget. Cycle-time gossip
// keeps candidate lists warm between the hello exchanges that only happen
// at link open.
func (n *Node) broadcastGossip() {
	sample := n.gossipSample()
	if len(sample) == 0 {
		return
	}

	n.mutex.RLock()
	targets := make([]*peerlink.Link, 0, len(n.links))
	for _, l := range n.links {
		if l.State() == peerlink.Open {
			targets = append(targets, l)
		}
	}
	n.mutex.RUnlock()

	for _, l := range targets {
		go func(l *peerlink.Link) {
			s, err := n.host.NewStream(n.Ctx(), l.RemoteID(), peerlink.ProtocolGossip)
			if err != nil {
				n.Log().Infof("[node] gossip to %s failed: %v", l.RemoteID(), err)
				return
			}
			defer s.Close()
			if err := peerlink.WriteGossip(s, peerlink.Gossip{Peers: sample}); err != nil {
				n.Log().Infof("[node] gossip write to %s failed: %v", l.RemoteID(), err)
			}
		}(l)
	}
}

// inboundGossipHandler accepts one gossip frame from an already-linked peer
// and feeds it into the peer list.
func (n *Node) inboundGossipHandler(stream network.Stream) {
	defer stream.Close()

	// reads carry a deadline of three beat intervals
	if beat := n.cfg.Heart.BeatInterval; beat > 0 {
		_ = stream.SetReadDeadline(time.Now().Add(3 * beat))
	}
	g, err := peerlink.ReadGossip(stream)
	if err != nil {
		n.Log().Warnf("[node] gossip read from %s failed: %v", stream.Conn().RemotePeer(), err)
		_ = stream.Reset()
		return
	}
	n.learnFromGossip(g.Peers)
}
