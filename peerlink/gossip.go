package peerlink

import "io"

// BuildHello assembles the hello payload for the local side: its own
// identity plus up to gossipSize peers drawn from the supplied weighted
// sample (already produced by peerlist.PeerList.GetWeighted by the caller,
// which owns the PeerList).
func BuildHello(self Identity, sample []GossipPeer, gossipSize int) Hello {
	if gossipSize > 0 && len(sample) > gossipSize {
		sample = sample[:gossipSize]
	}
	return Hello{Identity: self, Peers: sample}
}

// Gossip is a standalone peer sample exchanged on ProtocolGossip between
// already-linked peers, refreshing candidate lists between the hello
// exchanges that only happen at link open. One frame per stream.
type Gossip struct {
	Peers []GossipPeer `json:"peers"`
}

func WriteGossip(w io.Writer, g Gossip) error {
	return writeJSONFrame(w, g)
}

func ReadGossip(r io.Reader) (Gossip, error) {
	var g Gossip
	err := readJSONFrame(r, &g)
	return g, err
}
