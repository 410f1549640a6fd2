// Package peer defines the in-memory record of a remote participant known to
// the daemon. A Peer is a thin value holder: all mutation is routed through
// the owning PeerList (see package peerlist) so persistence stays consistent.
// Rather than closing over a callback into the list, a Peer carries only its
// identity and a handle back to the list it belongs to.
package peer

import (
	"strconv"
	"time"
)

// MaxWeight is the ceiling on Peer.Weight.
const MaxWeight = 4_000_000

// Updater is implemented by the owning PeerList. A Peer calls back into it to
// persist changes instead of holding a store handle itself.
type Updater interface {
	ApplySelfUpdate(key string, data Data, persist bool)
}

// Data is the mutable, persisted portion of a Peer.
type Data struct {
	Hostname string
	IP       string // resolved v4/v6 literal, empty if unresolved
	Port     int    // peer-to-peer control port
	TCPPort  int
	UDPPort  int

	IsTrusted bool
	Weight    float64

	DateCreated       time.Time
	DateLastConnected time.Time // zero value means "never"
	Connected         int
	Tried             int
}

// Peer is the identity + reputation record for one remote participant.
type Peer struct {
	key  string // normalized address, the store's primary key
	data Data
	list Updater
}

// New constructs a Peer bound to the given list. Only PeerList should call this.
func New(key string, data Data, list Updater) *Peer {
	return &Peer{key: key, data: data, list: list}
}

func (p *Peer) Key() string { return p.key }

func (p *Peer) Data() Data { return p.data }

// setData overwrites the in-memory data without persisting.
func (p *Peer) setData(d Data) { p.data = d }

// Update replaces the peer's data with newData and, if persist is true, asks
// the owning list to rewrite the store entry. Mutations on one Peer are always observed
// in program order: the call does not return until the (possibly synchronous)
// store write has been issued.
func (p *Peer) Update(newData Data, persist bool) {
	p.data = newData
	if persist {
		p.list.ApplySelfUpdate(p.key, p.data, true)
	}
}

func (p *Peer) IsTrusted() bool { return p.data.IsTrusted }

func (p *Peer) Weight() float64 { return p.data.Weight }

func (p *Peer) Hostname() string { return p.data.Hostname }

func (p *Peer) Port() int { return p.data.Port }

// GetUDPURI formats the URI sent to IRI for peer-to-peer (UDP) neighboring.
func (p *Peer) GetUDPURI() string {
	return formatURI("udp", p.data.Hostname, p.data.UDPPort)
}

// GetTCPURI formats the URI sent to IRI for peer-to-peer (TCP) neighboring.
func (p *Peer) GetTCPURI() string {
	return formatURI("tcp", p.data.Hostname, p.data.TCPPort)
}

func formatURI(scheme, host string, port int) string {
	return scheme + "://" + host + ":" + strconv.Itoa(port)
}
