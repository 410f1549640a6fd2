package node

import (
	"context"
	"sort"
	"sync"

	nelpeer "github.com/lra/nelson.cli/peer"
	"github.com/lra/nelson.cli/peerlink"
)

// onBeat is the Heart's shortest tick: housekeeping only. Beat itself
// carries no liveness traffic -- each Link drives its own heartbeat
// goroutine (node/heartbeat.go) -- but invariant 4 ("a CLOSED PeerLink is
// replaced within one beat if below target concurrency") is decided here.
func (n *Node) onBeat() {
	n.fillToTarget()
}

// onCycle is the medium tick: a partial reshuffle. It closes the
// worst-performing fraction of currently OPEN links (ranked by ascending
// peer weight, the same reputation signal PeerList.GetWeighted samples on),
// opens replacements via weighted sampling, then pushes a fresh gossip
// sample to every surviving link.
func (n *Node) onCycle() {
	victims := n.worstLinks(n.cfg.CycleEvictFrac)
	for _, key := range victims {
		n.closeLinkByKey(key, "cycle reshuffle")
	}
	n.fillToTarget()
	n.broadcastGossip()
	if n.met != nil {
		n.met.CurrentCycle.Set(float64(n.hrt.Snapshot().CurrentCycle))
	}
}

// onEpoch is the longest tick: a full reshuffle. Every non-trusted link is
// closed and the link table is repopulated from scratch, then
// IRIClient.UpdateNeighbors is called with the resulting set (invariant 2).
func (n *Node) onEpoch() {
	n.mutex.RLock()
	var nonTrusted []string
	for key := range n.links {
		if p := n.peerByKey(key); p == nil || !p.IsTrusted() {
			nonTrusted = append(nonTrusted, key)
		}
	}
	n.mutex.RUnlock()

	for _, key := range nonTrusted {
		n.closeLinkByKey(key, "epoch reshuffle")
	}
	n.fillToTarget().Wait()

	current := make(map[string]*nelpeer.Peer)
	peers := make([]*nelpeer.Peer, 0)
	for _, key := range n.connectedPeerKeys() {
		if p := n.peerByKey(key); p != nil {
			current[key] = p
			peers = append(peers, p)
		}
	}

	// UpdateNeighbors pushes the full set, so the reconcile baseline resets
	// to exactly what was pushed.
	n.advMutex.Lock()
	n.advertised = current
	n.advMutex.Unlock()

	go func() {
		if err := n.iri.UpdateNeighbors(n.Ctx(), peers, false); err != nil {
			n.Log().Warnf("[node] epoch updateNeighbors: %v", err)
		}
	}()

	if n.met != nil {
		n.met.CurrentEpoch.Set(float64(n.hrt.Snapshot().CurrentEpoch))
	}
}

// worstLinks ranks currently OPEN links by ascending peer weight and returns
// the keys of the bottom frac fraction (at least one if any links are open
// and frac>0).
func (n *Node) worstLinks(frac float64) []string {
	if frac <= 0 {
		return nil
	}
	n.mutex.RLock()
	type scored struct {
		key    string
		weight float64
	}
	var open []scored
	for key, l := range n.links {
		if l.State() != peerlink.Open {
			continue
		}
		w := 0.0
		if p := n.peerByKey(key); p != nil {
			w = p.Weight()
		}
		open = append(open, scored{key: key, weight: w})
	}
	n.mutex.RUnlock()

	if len(open) == 0 {
		return nil
	}
	sort.Slice(open, func(i, j int) bool { return open[i].weight < open[j].weight })

	count := int(float64(len(open)) * frac)
	if count < 1 {
		count = 1
	}
	if count > len(open) {
		count = len(open)
	}
	ret := make([]string, count)
	for i := 0; i < count; i++ {
		ret[i] = open[i].key
	}
	return ret
}

func (n *Node) closeLinkByKey(key, reason string) {
	n.mutex.Lock()
	l, ok := n.links[key]
	n.mutex.Unlock()
	if !ok {
		return
	}
	l.Close(reason)
	n.removeLink(key, l)
}

// fillToTarget samples enough fresh peers via weighted selection to bring
// the OPEN link count up to cfg.TargetLinks, skipping any peer that already
// has an OPEN link (invariant 1). Dials run in their own goroutines; the
// returned WaitGroup is done once all of them have finished.
func (n *Node) fillToTarget() *sync.WaitGroup {
	var wg sync.WaitGroup
	deficit := n.cfg.TargetLinks - n.OpenLinkCount()
	if deficit <= 0 {
		return &wg
	}

	candidates := n.list.GetWeighted(deficit * 3)
	dialed := 0
	for _, w := range candidates {
		if dialed >= deficit {
			break
		}
		if n.hasOpenLink(w.Peer.Key()) {
			continue
		}
		dialed++
		wg.Add(1)
		go func(p *nelpeer.Peer) {
			defer wg.Done()
			n.dialPeer(context.Background(), p)
		}(w.Peer)
	}
	return &wg
}
