package node

import (
	"time"

	"github.com/libp2p/go-libp2p/core/network"

	"github.com/lra/nelson.cli/peerlink"
)

// runHeartbeat is the Outbound side of the heartbeat protocol: it dialed the
// link, so it also initiates the single bidirectional heartbeat stream the
// Inbound side accepts via inboundHeartbeatHandler. One stream carries both
// directions of the beat traffic: three missed beats close the link and
// the peer's tried counter is incremented.
func (n *Node) runHeartbeat(key string, link *peerlink.Link) {
	hbStream, err := n.host.NewStream(n.Ctx(), link.RemoteID(), peerlink.ProtocolHeartbeat)
	if err != nil {
		n.Log().Warnf("[node] cannot open heartbeat stream to %s: %v", key, err)
		link.Close("no heartbeat stream")
		n.removeLink(key, link)
		return
	}
	defer hbStream.Close()

	link.RunHeartbeat(hbStream, func() {
		n.removeLink(key, link)
	})
}

// inboundHeartbeatHandler is the Inbound side's acceptance of the heartbeat
// stream the Outbound side opens in runHeartbeat. It correlates the stream
// to an already-registered Link by remote peer ID and runs the same liveness
// loop on its end of that single stream.
func (n *Node) inboundHeartbeatHandler(stream network.Stream) {
	remoteID := stream.Conn().RemotePeer()

	// the dialer opens this stream as soon as its hello handshake returns,
	// which can be before our own hello handler has registered the link;
	// give registration a moment before treating the stream as stray
	key, link := n.linkByRemoteID(remoteID)
	for i := 0; link == nil && i < 20; i++ {
		time.Sleep(25 * time.Millisecond)
		key, link = n.linkByRemoteID(remoteID)
	}
	if link == nil {
		n.Log().Warnf("[node] heartbeat stream from %s with no registered link", remoteID)
		_ = stream.Reset()
		return
	}

	link.RunHeartbeat(stream, func() {
		n.removeLink(key, link)
	})
}
