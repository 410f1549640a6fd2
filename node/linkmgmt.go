package node

import (
	"github.com/libp2p/go-libp2p/core/peer"

	nelpeer "github.com/lra/nelson.cli/peer"
	"github.com/lra/nelson.cli/peerlink"
)

// registerLink installs link as the OPEN link for key, enforcing invariant 1
// (at most one OPEN link per identity): if a link already exists for key it
// is closed first. The heartbeat loop is then started in its own goroutine,
// and on timeout the link is removed and the Node reconciles within the next
// beat (invariant 4).
func (n *Node) registerLink(key string, link *peerlink.Link) {
	if key == "" {
		link.Close("no identity")
		return
	}

	n.mutex.Lock()
	if existing, ok := n.links[key]; ok {
		existing.Close("superseded")
	}
	n.links[key] = link
	n.mutex.Unlock()

	n.Log().Infof("[node] link %s OPEN (%v)", key, link.Direction())
	if n.met != nil {
		n.met.LinksOpened.Inc()
	}

	// Only the Outbound side initiates the heartbeat stream; the Inbound
	// side accepts it via inboundHeartbeatHandler (registered on
	// ProtocolHeartbeat) so exactly one bidirectional stream carries the
	// liveness traffic for this link, not two independent ones.
	if link.Direction() == peerlink.Outbound {
		go n.runHeartbeat(key, link)
	}
	n.reconcileIRI()
}

func (n *Node) hasOpenLink(key string) bool {
	n.mutex.RLock()
	defer n.mutex.RUnlock()
	l, ok := n.links[key]
	return ok && l.State() == peerlink.Open
}

// linkByRemoteID finds the registered link (and its table key) whose remote
// peer ID matches id, used to correlate an accepted heartbeat stream back to
// the Link it belongs to.
func (n *Node) linkByRemoteID(id peer.ID) (string, *peerlink.Link) {
	n.mutex.RLock()
	defer n.mutex.RUnlock()
	for key, l := range n.links {
		if l.RemoteID() == id {
			return key, l
		}
	}
	return "", nil
}

func (n *Node) removeLink(key string, link *peerlink.Link) {
	n.mutex.Lock()
	if cur, ok := n.links[key]; ok && cur == link {
		delete(n.links, key)
	}
	n.mutex.Unlock()

	if err := n.list.IncrementTried(mustPeerByKey(n, key)); err != nil {
		n.Log().Errorf("[node] incrementTried failed for %s: %v", key, err)
	}

	n.Log().Infof("[node] link %s CLOSED (%s)", key, link.CloseReason())
	if n.met != nil {
		n.met.LinksClosed.Inc()
	}
	n.reconcileIRI()
}

func mustPeerByKey(n *Node, key string) *nelpeer.Peer {
	if p := n.peerByKey(key); p != nil {
		return p
	}
	// peer was removed from the list concurrently (e.g. Clear()); nothing to
	// increment against. Return a throwaway so the caller's IncrementTried
	// turns into a harmless no-op store error instead of a nil deref.
	return nelpeer.New(key, nelpeer.Data{}, noopUpdater{})
}

type noopUpdater struct{}

func (noopUpdater) ApplySelfUpdate(string, nelpeer.Data, bool) {}

func (n *Node) peerByKey(key string) *nelpeer.Peer {
	for _, p := range n.list.All() {
		if p.Key() == key {
			return p
		}
	}
	return nil
}

// learnID records the libp2p transport ID for the peer stored under key.
// Streams can only be opened toward a known ID, so a peer is dialable iff
// some hello, gossip entry or DHT discovery has supplied one.
func (n *Node) learnID(key string, id peer.ID) {
	if key == "" || id == "" {
		return
	}
	n.mutex.Lock()
	n.ids[key] = id
	n.mutex.Unlock()
}

func (n *Node) idForKey(key string) (peer.ID, bool) {
	n.mutex.RLock()
	defer n.mutex.RUnlock()
	id, ok := n.ids[key]
	return id, ok
}

// reconcileIRI is invariant 2: the set of peers advertised to the ledger via
// IRIClient is exactly the set of Peers currently in OPEN PeerLinks, minus
// those reported as static. It diffs the current OPEN set against the last
// pushed one and issues only the delta (IRIClient.RemoveNeighbors filters
// statics on the remove side; re-adding a static is a harmless ledger no-op).
func (n *Node) reconcileIRI() {
	keys := n.connectedPeerKeys()
	current := make(map[string]*nelpeer.Peer, len(keys))
	for _, key := range keys {
		if p := n.peerByKey(key); p != nil {
			current[key] = p
		}
	}

	n.advMutex.Lock()
	var toAdd, toRemove []*nelpeer.Peer
	for key, p := range current {
		if _, ok := n.advertised[key]; !ok {
			toAdd = append(toAdd, p)
		}
	}
	for key, p := range n.advertised {
		if _, ok := current[key]; !ok {
			toRemove = append(toRemove, p)
		}
	}
	n.advertised = current
	n.advMutex.Unlock()

	if n.met != nil {
		n.met.ReconcileCalls.Inc()
		n.met.TotalPeers.Set(float64(len(n.list.All())))
		n.met.OpenLinks.Set(float64(len(keys)))
	}

	if len(toAdd) == 0 && len(toRemove) == 0 {
		return
	}
	go func() {
		if len(toRemove) > 0 {
			if _, err := n.iri.RemoveNeighbors(n.Ctx(), toRemove); err != nil {
				n.Log().Warnf("[node] reconcileIRI removeNeighbors: %v", err)
			}
		}
		if len(toAdd) > 0 {
			if _, err := n.iri.AddNeighbors(n.Ctx(), toAdd); err != nil {
				n.Log().Warnf("[node] reconcileIRI addNeighbors: %v", err)
			}
		}
	}()
}
