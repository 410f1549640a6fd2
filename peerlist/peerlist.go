// Package peerlist is the persistent collection of known Peer records:
// lookup, weighted sampling, and the single writer of the on-disk store.
// All Peer mutation is routed through here so persistence never drifts
// from memory.
package peerlist

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lra/nelson.cli/global"
	"github.com/lra/nelson.cli/peer"
)

const (
	Name     = "peerlist"
	TraceTag = Name
)

type (
	environment interface {
		global.NodeGlobal
	}

	Config struct {
		DataPath  string
		Temporary bool
		IsMaster  bool
		MultiPort bool
	}

	PeerList struct {
		environment
		mutex sync.RWMutex
		cfg   Config
		store *store
		peers map[string]*peer.Peer // keyed by normalized address (store key)
	}
)

func New(env environment, cfg Config) (*PeerList, error) {
	st, err := openStore(cfg.DataPath, cfg.Temporary)
	if err != nil {
		return nil, fmt.Errorf("peerlist: cannot open store: %w", err)
	}
	return &PeerList{
		environment: env,
		cfg:         cfg,
		store:       st,
		peers:       make(map[string]*peer.Peer),
	}, nil
}

// Close releases the store handle.
func (pl *PeerList) Close() error {
	return pl.store.close()
}

// Load reads all records from the store into memory, then upserts each
// default URI (format "hostname/port/TCPPort/UDPPort") as trusted with
// weight=1.0. Idempotent: calling it twice never duplicates peers. Fails only
// if the store itself cannot be read.
func (pl *PeerList) Load(defaults []string) error {
	records, err := pl.store.loadAll()
	if err != nil {
		return fmt.Errorf("peerlist: load failed: %w", err)
	}

	pl.mutex.Lock()
	for key, data := range records {
		pl.peers[key] = peer.New(key, data, pl)
	}
	pl.mutex.Unlock()

	for _, d := range defaults {
		hostname, port, tcpPort, udpPort, err := parseDefaultURI(d)
		if err != nil {
			pl.Log().Errorf("[peerlist] skipping malformed default peer %q: %v", d, err)
			continue
		}
		if _, err := pl.Add(hostname, port, tcpPort, udpPort, true, 1.0); err != nil {
			pl.Log().Errorf("[peerlist] cannot add default peer %q: %v", d, err)
		}
	}
	return nil
}

// parseDefaultURI parses "hostname/port/TCPPort/UDPPort".
func parseDefaultURI(s string) (hostname string, port, tcpPort, udpPort int, err error) {
	parts := strings.Split(s, "/")
	if len(parts) != 4 {
		return "", 0, 0, 0, fmt.Errorf("expected hostname/port/TCPPort/UDPPort, got %q", s)
	}
	hostname = parts[0]
	if port, err = strconv.Atoi(parts[1]); err != nil {
		return "", 0, 0, 0, err
	}
	if tcpPort, err = strconv.Atoi(parts[2]); err != nil {
		return "", 0, 0, 0, err
	}
	if udpPort, err = strconv.Atoi(parts[3]); err != nil {
		return "", 0, 0, 0, err
	}
	return hostname, port, tcpPort, udpPort, nil
}

// Add upserts a peer by normalized address. Bad input (an out-of-range
// port) returns an error without mutating anything.
func (pl *PeerList) Add(hostname string, port, tcpPort, udpPort int, isTrusted bool, weight float64) (*peer.Peer, error) {
	if port < 0 || port > 65535 || tcpPort < 0 || tcpPort > 65535 || udpPort < 0 || udpPort > 65535 {
		return nil, fmt.Errorf("peerlist: add: invalid port for %q", hostname)
	}
	if weight > peer.MaxWeight {
		weight = peer.MaxWeight
	}

	normalized := cleanAddress(hostname)

	pl.mutex.Lock()
	defer pl.mutex.Unlock()

	existing := pl._findByAddress(normalized, port)
	if len(existing) == 0 {
		key := pl._makeKey(normalized, port)
		now := time.Now()
		data := peer.Data{
			Hostname:    hostname,
			IP:          resolveIfLiteral(hostname),
			Port:        port,
			TCPPort:     tcpPort,
			UDPPort:     udpPort,
			IsTrusted:   isTrusted,
			Weight:      weight,
			DateCreated: now,
		}
		p := peer.New(key, data, pl)
		pl.peers[key] = p
		if err := pl.store.put(key, data); err != nil {
			delete(pl.peers, key)
			return nil, fmt.Errorf("peerlist: add: store write failed: %w", err)
		}
		return p, nil
	}

	p := existing[0]
	data := p.Data()
	mutated := false

	if !pl.cfg.MultiPort && (data.TCPPort != tcpPort || data.UDPPort != udpPort || data.Port != port) {
		data.TCPPort = tcpPort
		data.UDPPort = udpPort
		data.Port = port
		mutated = true
	}
	if weight > data.Weight {
		data.Weight = weight
		mutated = true
	}
	if !mutated {
		return p, nil
	}
	if err := pl.store.put(p.Key(), data); err != nil {
		return nil, fmt.Errorf("peerlist: add: store write failed: %w", err)
	}
	p.Update(data, false)
	return p, nil
}

func resolveIfLiteral(hostname string) string {
	if isIPLiteral(hostname) {
		return cleanAddress(hostname)
	}
	return ""
}

func (pl *PeerList) _makeKey(normalizedHostname string, port int) string {
	if pl.cfg.MultiPort {
		return fmt.Sprintf("%s:%d", normalizedHostname, port)
	}
	return normalizedHostname
}

// FindByAddress returns every peer matching address by hostname, raw
// address or resolved IP; under multiPort the match is further filtered
// by port.
func (pl *PeerList) FindByAddress(address string, port int) []*peer.Peer {
	pl.mutex.RLock()
	defer pl.mutex.RUnlock()

	return pl._findByAddress(cleanAddress(address), port)
}

func (pl *PeerList) _findByAddress(normalized string, port int) []*peer.Peer {
	resolved := normalized
	if !isIPLiteral(normalized) && !pl.cfg.MultiPort {
		if ips, err := net.LookupIP(normalized); err == nil && len(ips) > 0 {
			resolved = cleanAddress(ips[0].String())
		}
	}

	var ret []*peer.Peer
	for _, p := range pl.peers {
		d := p.Data()
		matches := d.Hostname == normalized || cleanAddress(d.Hostname) == normalized ||
			d.IP == normalized || d.IP == resolved
		if !matches {
			continue
		}
		if pl.cfg.MultiPort && d.Port != port {
			continue
		}
		ret = append(ret, p)
	}
	return ret
}

// Update writes data to the store as p's record and, when refreshInMemory is
// true, replaces p's in-memory data with it. When refreshInMemory is false,
// the in-memory object is taken to be current already and only the store
// write happens.
func (pl *PeerList) Update(p *peer.Peer, data peer.Data, refreshInMemory bool) error {
	if err := pl.store.put(p.Key(), data); err != nil {
		return fmt.Errorf("peerlist: update: store write failed: %w", err)
	}
	if refreshInMemory {
		p.Update(data, false)
	}
	return nil
}

// ApplySelfUpdate implements peer.Updater: it is invoked by Peer.Update when
// persist=true, routing the write back through the store.
func (pl *PeerList) ApplySelfUpdate(key string, data peer.Data, persist bool) {
	if !persist {
		return
	}
	if err := pl.store.put(key, data); err != nil {
		pl.Log().Errorf("[peerlist] self-update store write failed for %s: %v", key, err)
	}
}

// MarkConnected resets the failed-attempt counter, bumps the connection
// count and stamps dateLastConnected.
func (pl *PeerList) MarkConnected(p *peer.Peer, increaseWeight bool) error {
	const weightMultiplier = 1.0 // reserved hook, no-op multiplier for now

	data := p.Data()
	data.Tried = 0
	data.Connected++
	data.DateLastConnected = time.Now()
	if increaseWeight {
		w := data.Weight * weightMultiplier
		if w > peer.MaxWeight {
			w = peer.MaxWeight
		}
		data.Weight = w
	}
	return pl.Update(p, data, true)
}

// IncrementTried bumps the failed-attempt counter, used on PeerLink CLOSED.
func (pl *PeerList) IncrementTried(p *peer.Peer) error {
	data := p.Data()
	data.Tried++
	return pl.Update(p, data, true)
}

// Remove deletes a single peer from the store and the in-memory index,
// leaving the rest untouched.
func (pl *PeerList) Remove(p *peer.Peer) error {
	pl.mutex.Lock()
	defer pl.mutex.Unlock()

	if err := pl.store.delete(p.Key()); err != nil {
		return fmt.Errorf("peerlist: remove: %w", err)
	}
	delete(pl.peers, p.Key())
	return nil
}

// Clear wipes the store and the in-memory list.
func (pl *PeerList) Clear() error {
	pl.mutex.Lock()
	defer pl.mutex.Unlock()

	if err := pl.store.wipe(); err != nil {
		return fmt.Errorf("peerlist: clear: %w", err)
	}
	pl.peers = make(map[string]*peer.Peer)
	return nil
}

// IsTrusted looks hostname up as FindByAddress does (port only matters under
// multiPort) and reports whether any matching peer carries the trust bit.
func (pl *PeerList) IsTrusted(hostname string, port int) bool {
	for _, p := range pl.FindByAddress(hostname, port) {
		if p.IsTrusted() {
			return true
		}
	}
	return false
}

// All returns a snapshot slice of every known peer, in indeterminate order.
func (pl *PeerList) All() []*peer.Peer {
	pl.mutex.RLock()
	defer pl.mutex.RUnlock()

	ret := make([]*peer.Peer, 0, len(pl.peers))
	for _, p := range pl.peers {
		ret = append(ret, p)
	}
	return ret
}

// GetWeighted performs weighted sampling without replacement. amount==0
// means "all". source defaults to All() when not given.
func (pl *PeerList) GetWeighted(amount int, source ...[]*peer.Peer) []WeightedPeer {
	pool := pl.All()
	if len(source) > 0 {
		pool = source[0]
	}
	return getWeighted(pool, amount, pl.cfg.IsMaster)
}
