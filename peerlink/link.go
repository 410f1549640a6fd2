// Package peerlink implements one outbound/inbound peer-to-peer session:
// handshake, gossip exchange and heartbeat liveness over a libp2p stream.
package peerlink

import (
	"fmt"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
)

type Direction int

const (
	Outbound Direction = iota
	Inbound
)

type State int

const (
	Dialing State = iota
	Open
	Closed
)

func (s State) String() string {
	switch s {
	case Dialing:
		return "DIALING"
	case Open:
		return "OPEN"
	default:
		return "CLOSED"
	}
}

// aliveNumHeartbeats is how many missed beats are tolerated before a link
// is declared dead.
const aliveNumHeartbeats = 3

// Link is a single bi-directional long-lived session to one remote peer.
// Transient; never persisted.
type Link struct {
	remoteID  peer.ID
	direction Direction
	stream    network.Stream

	mutex           sync.Mutex
	state           State
	lastMsg         time.Time
	closeReason     string
	missedBeats     int
	beatInterval    time.Duration
	heartbeatSeq    int64
	stopHeartbeat   chan struct{}
	stopHeartbeatOk sync.Once
}

// newLink wraps an already-connected stream (dialed by the caller via
// host.NewStream, or accepted via SetStreamHandler) into a Link in state
// DIALING; OpenOutbound/OpenInbound move it to OPEN once the hello handshake
// completes.
func newLink(remoteID peer.ID, direction Direction, stream network.Stream, beatInterval time.Duration) *Link {
	return &Link{
		remoteID:      remoteID,
		direction:     direction,
		stream:        stream,
		state:         Dialing,
		lastMsg:       time.Now(),
		beatInterval:  beatInterval,
		stopHeartbeat: make(chan struct{}),
	}
}

// handshakeDeadline applies the three-beat read/write deadline to the hello
// exchange; it is cleared once the link reaches OPEN.
func handshakeDeadline(stream network.Stream, beatInterval time.Duration) {
	if beatInterval > 0 {
		_ = stream.SetDeadline(time.Now().Add(time.Duration(aliveNumHeartbeats) * beatInterval))
	}
}

// OpenOutbound finalizes an outbound link: stream is already opened on
// ProtocolHello by the caller (node.Node, which owns the libp2p host).
func OpenOutbound(stream network.Stream, remoteID peer.ID, beatInterval time.Duration, local Hello) (*Link, Hello, error) {
	l := newLink(remoteID, Outbound, stream, beatInterval)

	handshakeDeadline(stream, beatInterval)
	if err := writeJSONFrame(stream, local); err != nil {
		_ = stream.Reset()
		return nil, Hello{}, fmt.Errorf("peerlink: hello write: %w", err)
	}
	var remote Hello
	if err := readJSONFrame(stream, &remote); err != nil {
		_ = stream.Reset()
		return nil, Hello{}, fmt.Errorf("peerlink: hello read: %w", err)
	}
	_ = stream.SetDeadline(time.Time{})
	l.mutex.Lock()
	l.state = Open
	l.lastMsg = time.Now()
	l.mutex.Unlock()
	return l, remote, nil
}

// OpenInbound finalizes an inbound link: stream was just accepted on
// ProtocolHello via SetStreamHandler.
func OpenInbound(stream network.Stream, remoteID peer.ID, beatInterval time.Duration, local Hello) (*Link, Hello, error) {
	l := newLink(remoteID, Inbound, stream, beatInterval)

	handshakeDeadline(stream, beatInterval)
	var remote Hello
	if err := readJSONFrame(stream, &remote); err != nil {
		_ = stream.Reset()
		return nil, Hello{}, fmt.Errorf("peerlink: hello read: %w", err)
	}
	if err := writeJSONFrame(stream, local); err != nil {
		_ = stream.Reset()
		return nil, Hello{}, fmt.Errorf("peerlink: hello write: %w", err)
	}
	_ = stream.SetDeadline(time.Time{})
	l.mutex.Lock()
	l.state = Open
	l.lastMsg = time.Now()
	l.mutex.Unlock()
	return l, remote, nil
}

func (l *Link) RemoteID() peer.ID { return l.remoteID }

func (l *Link) Direction() Direction { return l.direction }

func (l *Link) State() State {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return l.state
}

func (l *Link) LastMessage() time.Time {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return l.lastMsg
}

// evidenceActivity records that a message was just seen on this link,
// resetting the missed-beats counter.
func (l *Link) evidenceActivity() {
	l.mutex.Lock()
	l.lastMsg = time.Now()
	l.missedBeats = 0
	l.mutex.Unlock()
}

// Close transitions the link to CLOSED with reason, idempotently.
func (l *Link) Close(reason string) {
	l.mutex.Lock()
	if l.state == Closed {
		l.mutex.Unlock()
		return
	}
	l.state = Closed
	l.closeReason = reason
	l.mutex.Unlock()

	l.stopHeartbeatOk.Do(func() { close(l.stopHeartbeat) })
	_ = l.stream.Close()
}

func (l *Link) CloseReason() string {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return l.closeReason
}

// RunHeartbeat drives the liveness protocol on this link until it closes:
// a heartbeat is sent every beatInterval, and three consecutive missed
// beats (silence from the peer on the heartbeat stream) close the link
// with reason "timeout". The caller supplies a separate heartbeat stream
// (opened/accepted on ProtocolHeartbeat).
func (l *Link) RunHeartbeat(hbStream network.Stream, onTimeout func()) {
	ticker := time.NewTicker(l.beatInterval)
	defer ticker.Stop()

	readErrs := make(chan error, 1)
	go func() {
		for {
			// reads carry a deadline of three beat intervals
			if l.beatInterval > 0 {
				_ = hbStream.SetReadDeadline(time.Now().Add(time.Duration(aliveNumHeartbeats) * l.beatInterval))
			}
			var hb heartbeat
			if err := readJSONFrame(hbStream, &hb); err != nil {
				readErrs <- err
				return
			}
			l.evidenceActivity()
		}
	}()

	for {
		select {
		case <-l.stopHeartbeat:
			return
		case <-readErrs:
			l.mutex.Lock()
			l.missedBeats = aliveNumHeartbeats
			l.mutex.Unlock()
			l.Close("timeout")
			onTimeout()
			return
		case <-ticker.C:
			l.heartbeatSeq++
			if err := writeJSONFrame(hbStream, heartbeat{Seq: l.heartbeatSeq}); err != nil {
				l.Close("timeout")
				onTimeout()
				return
			}
			l.mutex.Lock()
			silentFor := time.Since(l.lastMsg)
			l.mutex.Unlock()
			if silentFor >= time.Duration(aliveNumHeartbeats)*l.beatInterval {
				l.Close("timeout")
				onTimeout()
				return
			}
		}
	}
}
