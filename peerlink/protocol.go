package peerlink

import "github.com/libp2p/go-libp2p/core/protocol"

// Protocol IDs for the three sub-protocols used by a PeerLink.
const (
	ProtocolHello     protocol.ID = "/nelson/hello/1"
	ProtocolGossip    protocol.ID = "/nelson/gossip/1"
	ProtocolHeartbeat protocol.ID = "/nelson/heartbeat/1"
)
