// Package heart is the scheduler clock of the daemon: three stacked timers
// (beat, cycle, epoch) driving the reshuffle cadence, run as one cooperative
// event loop so ticks never execute concurrently with each other.
package heart

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/lra/nelson.cli/global"
	"go.uber.org/atomic"
)

const (
	Name     = "heart"
	TraceTag = Name
)

type (
	environment interface {
		global.NodeGlobal
	}

	Config struct {
		BeatInterval  time.Duration
		CycleInterval time.Duration
		EpochInterval time.Duration
	}

	// Callbacks are invoked synchronously from the scheduler's single
	// goroutine. When ticks coincide, epoch subsumes cycle subsumes beat.
	Callbacks struct {
		OnBeat  func()
		OnCycle func()
		OnEpoch func()
	}

	Heart struct {
		environment
		cfg       Config
		callbacks Callbacks

		mutex         sync.RWMutex
		currentCycle  int64
		currentEpoch  int64
		personality   string
		startDate     time.Time
		lastBeat      time.Time
		lastCycle     time.Time
		lastEpoch     time.Time

		running      atomic.Bool
		stopChan     chan struct{}
		stopOnce     sync.Once
		doneChan     chan struct{}
		triggerEpoch chan struct{}
	}
)

func New(env environment, cfg Config, callbacks Callbacks) *Heart {
	return &Heart{
		environment:  env,
		cfg:          cfg,
		callbacks:    callbacks,
		personality:  newPersonality(),
		startDate:    time.Now(),
		triggerEpoch: make(chan struct{}, 1),
	}
}

func newPersonality() string {
	var buf [16]byte
	_, _ = rand.Read(buf[:])
	return hex.EncodeToString(buf[:])
}

// Start begins ticking. Safe to call again after End to resume.
func (h *Heart) Start() {
	if !h.running.CompareAndSwap(false, true) {
		return
	}
	h.MarkWorkProcessStarted(Name)

	h.mutex.Lock()
	h.stopChan = make(chan struct{})
	h.doneChan = make(chan struct{})
	stopChan := h.stopChan
	doneChan := h.doneChan
	h.mutex.Unlock()

	go h.run(stopChan, doneChan)
}

// End stops all timers and returns to a quiescent state.
func (h *Heart) End() {
	if !h.running.CompareAndSwap(true, false) {
		return
	}
	h.mutex.RLock()
	stopChan := h.stopChan
	doneChan := h.doneChan
	h.mutex.RUnlock()

	close(stopChan)
	<-doneChan
	h.MarkWorkProcessStopped(Name)
}

func (h *Heart) run(stopChan, doneChan chan struct{}) {
	defer close(doneChan)

	beatT := time.NewTicker(h.cfg.BeatInterval)
	cycleT := time.NewTicker(h.cfg.CycleInterval)
	epochT := time.NewTicker(h.cfg.EpochInterval)
	defer beatT.Stop()
	defer cycleT.Stop()
	defer epochT.Stop()

	for {
		// epoch checked first so that a coincident epoch+cycle+beat tick
		// runs epoch's handler before cycle's and cycle's before beat's,
		// i.e. epoch subsumes cycle subsumes beat. A requested epoch
		// (TriggerEpoch) ranks with the scheduled one.
		select {
		case <-stopChan:
			return
		case <-epochT.C:
			h.doEpoch()
			continue
		case <-h.triggerEpoch:
			h.doEpoch()
			continue
		default:
		}
		select {
		case <-stopChan:
			return
		case <-cycleT.C:
			h.doCycle()
			continue
		default:
		}
		select {
		case <-stopChan:
			return
		case <-epochT.C:
			h.doEpoch()
		case <-h.triggerEpoch:
			h.doEpoch()
		case <-cycleT.C:
			h.doCycle()
		case <-beatT.C:
			h.doBeat()
		}
	}
}

// Ticks missed during an overrun are not queued up: the handlers below run
// synchronously on the single scheduler goroutine, and each time.Ticker
// buffers at most one pending tick (channel capacity 1), dropping every
// further tick the receiver is not ready for. So if doEpoch is still running
// when beat/cycle ticks fire, the first of each waits in its channel and is
// served right after doEpoch returns; the rest are skipped.

func (h *Heart) doBeat() {
	h.mutex.Lock()
	h.lastBeat = time.Now()
	h.mutex.Unlock()

	if h.callbacks.OnBeat != nil {
		h.callbacks.OnBeat()
	}
}

func (h *Heart) doCycle() {
	h.mutex.Lock()
	h.currentCycle++
	h.lastCycle = time.Now()
	h.mutex.Unlock()

	if h.callbacks.OnCycle != nil {
		h.callbacks.OnCycle()
	}
}

func (h *Heart) doEpoch() {
	h.mutex.Lock()
	h.currentEpoch++
	h.lastEpoch = time.Now()
	h.personality = newPersonality()
	h.mutex.Unlock()

	if h.callbacks.OnEpoch != nil {
		h.callbacks.OnEpoch()
	}
}

// TriggerEpoch requests an epoch reshuffle outside the normal schedule,
// used by Node when IRIClient health flips back to healthy. The request is
// only enqueued: the tick itself runs on the scheduler goroutine like any
// other, so it never overlaps a beat, cycle or scheduled epoch. A request
// made while one is already pending coalesces with it; a request made
// before Start is retained and served once the scheduler runs.
func (h *Heart) TriggerEpoch() {
	select {
	case h.triggerEpoch <- struct{}{}:
	default:
	}
}

type Snapshot struct {
	Personality  string
	CurrentCycle int64
	CurrentEpoch int64
	StartDate    time.Time
	LastBeat     time.Time
	LastCycle    time.Time
	LastEpoch    time.Time
}

func (h *Heart) Snapshot() Snapshot {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return Snapshot{
		Personality:  h.personality,
		CurrentCycle: h.currentCycle,
		CurrentEpoch: h.currentEpoch,
		StartDate:    h.startDate,
		LastBeat:     h.lastBeat,
		LastCycle:    h.lastCycle,
		LastEpoch:    h.lastEpoch,
	}
}

func (h *Heart) Personality() string {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.personality
}
