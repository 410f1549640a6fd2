package node

import (
	nelpeer "github.com/lra/nelson.cli/peer"
	"github.com/lra/nelson.cli/statusapi"
)

// The methods below implement statusapi.Source, keeping net/http entirely
// out of the link-management core.

func (n *Node) Ready() bool { return n.iri.IsHealthy() || n.OpenLinkCount() > 0 }

func (n *Node) IRIHealthy() bool { return n.iri.IsHealthy() }

func (n *Node) TotalPeers() int { return len(n.list.All()) }

func (n *Node) AllPeers() []statusapi.PeerView {
	all := n.list.All()
	ret := make([]statusapi.PeerView, 0, len(all))
	for _, p := range all {
		ret = append(ret, peerView(p.Data()))
	}
	return ret
}

func (n *Node) ConnectedPeers() []statusapi.PeerView {
	keys := n.connectedPeerKeys()
	ret := make([]statusapi.PeerView, 0, len(keys))
	for _, key := range keys {
		if p := n.peerByKey(key); p != nil {
			ret = append(ret, peerView(p.Data()))
		}
	}
	return ret
}

func (n *Node) Stats() []statusapi.StatBucket {
	buckets := n.list.Stats()
	ret := make([]statusapi.StatBucket, len(buckets))
	for i, b := range buckets {
		ret[i] = statusapi.StatBucket{Window: b.Window, FirstSeen: b.FirstSeen, LastActive: b.LastActive}
	}
	return ret
}

func (n *Node) Heart() statusapi.HeartView {
	snap := n.hrt.Snapshot()
	return statusapi.HeartView{
		Personality:  snap.Personality,
		CurrentCycle: snap.CurrentCycle,
		CurrentEpoch: snap.CurrentEpoch,
		StartDate:    snap.StartDate,
		LastBeat:     snap.LastBeat,
		LastCycle:    snap.LastCycle,
		LastEpoch:    snap.LastEpoch,
	}
}

func (n *Node) ConfigEcho() map[string]any {
	return map[string]any{
		"listenPort":     n.cfg.ListenPort,
		"targetLinks":    n.cfg.TargetLinks,
		"gossipSize":     n.cfg.GossipSize,
		"cycleEvictFrac": n.cfg.CycleEvictFrac,
		"beatInterval":   n.cfg.Heart.BeatInterval.String(),
		"cycleInterval":  n.cfg.Heart.CycleInterval.String(),
		"epochInterval":  n.cfg.Heart.EpochInterval.String(),
	}
}

func peerView(d nelpeer.Data) statusapi.PeerView {
	return statusapi.PeerView{
		Hostname:          d.Hostname,
		IP:                d.IP,
		Port:              d.Port,
		TCPPort:           d.TCPPort,
		UDPPort:           d.UDPPort,
		IsTrusted:         d.IsTrusted,
		Weight:            d.Weight,
		DateCreated:       d.DateCreated,
		DateLastConnected: d.DateLastConnected,
		Connected:         d.Connected,
		Tried:             d.Tried,
	}
}
