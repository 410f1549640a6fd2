package heart

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lra/nelson.cli/global"
)

func TestHeart_InitialState(t *testing.T) {
	h := New(global.NewDefault(), Config{
		BeatInterval:  time.Hour,
		CycleInterval: time.Hour,
		EpochInterval: time.Hour,
	}, Callbacks{})

	snap := h.Snapshot()
	assert.EqualValues(t, 0, snap.CurrentCycle)
	assert.EqualValues(t, 0, snap.CurrentEpoch)
	assert.NotEmpty(t, snap.Personality)
	assert.False(t, snap.StartDate.IsZero())
}

// TriggerEpoch enqueues an out-of-schedule epoch; the scheduler goroutine
// picks it up, increments currentEpoch and regenerates personality.
func TestHeart_TriggerEpoch(t *testing.T) {
	epochs := make(chan struct{}, 4)
	h := New(global.NewDefault(), Config{
		BeatInterval:  time.Hour,
		CycleInterval: time.Hour,
		EpochInterval: time.Hour,
	}, Callbacks{
		OnEpoch: func() { epochs <- struct{}{} },
	})

	before := h.Personality()
	h.Start()
	defer h.End()
	h.TriggerEpoch()

	select {
	case <-epochs:
	case <-time.After(time.Second):
		t.Fatal("triggered epoch never ran")
	}
	after := h.Snapshot()
	assert.EqualValues(t, 1, after.CurrentEpoch)
	assert.NotEqual(t, before, after.Personality)
}

// Start/End/Start: End stops the scheduler, Start resumes it without error.
func TestHeart_StartEndResume(t *testing.T) {
	var beats atomic.Int64
	h := New(global.NewDefault(), Config{
		BeatInterval:  10 * time.Millisecond,
		CycleInterval: time.Hour,
		EpochInterval: time.Hour,
	}, Callbacks{
		OnBeat: func() { beats.Add(1) },
	})

	h.Start()
	require.Eventually(t, func() bool { return beats.Load() > 0 }, time.Second, 5*time.Millisecond)
	h.End()

	stopped := beats.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, stopped, beats.Load(), "no beats should fire while stopped")

	h.Start()
	defer h.End()
	require.Eventually(t, func() bool { return beats.Load() > stopped }, time.Second, 5*time.Millisecond)
}

// Ordering: when epoch, cycle and beat all fire, epoch's handler must be
// observed before cycle's and cycle's before beat's.
func TestHeart_EpochSubsumesCycleSubsumesBeat(t *testing.T) {
	var order []string
	h := New(global.NewDefault(), Config{
		BeatInterval:  time.Hour,
		CycleInterval: time.Hour,
		EpochInterval: time.Hour,
	}, Callbacks{
		OnBeat:  func() { order = append(order, "beat") },
		OnCycle: func() { order = append(order, "cycle") },
		OnEpoch: func() { order = append(order, "epoch") },
	})

	// doBeat/doCycle/doEpoch are unexported but reachable from within the
	// package; call them directly to assert a coincident-tick ordering
	// without depending on wall-clock ticker races.
	h.doEpoch()
	h.doCycle()
	h.doBeat()

	assert.Equal(t, []string{"epoch", "cycle", "beat"}, order)
}
