package flowcontrol

import (
	"sync"
	"testing"
	"time"

	"github.com/shrtyk/logstream-core/api"
	"github.com/shrtyk/logstream-core/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSequencer(t *testing.T, limit int) (*SequencerFlowControl, *DynamicLimiter) {
	t.Helper()
	_, log := logger.NewTestLogger()
	limiter := NewLimiter(NewFixed(limit), WithBypass(IsWhitelisted))
	s := NewSequencerFlowControl(limiter, log)
	t.Cleanup(s.Close)
	return s, limiter
}

func TestSequencerFlowControlRelease(t *testing.T) {
	s, limiter := newTestSequencer(t, 100)

	for _, pos := range []int64{5, 1, 3, 9, 7} {
		require.True(t, s.TryAcquire(pos, api.IntentJobCreate))
	}
	require.Equal(t, 5, s.Pending())

	s.OnResponse(5)
	assert.Equal(t, 2, s.Pending(), "listeners at 1, 3 and 5 are released")
	assert.Equal(t, 2, limiter.Inflight())

	s.OnIgnore(6)
	assert.Equal(t, 2, s.Pending(), "nothing registered in (5, 6]")

	s.OnIgnore(100)
	assert.Equal(t, 0, s.Pending())
	assert.Equal(t, 0, limiter.Inflight())
}

func TestSequencerFlowControlReleaseProperty(t *testing.T) {
	positions := []int64{12, 3, 44, 3, 17, 8, 30, 1, 44, 25}
	for _, p := range []int64{0, 1, 3, 8, 20, 44, 50} {
		s, limiter := newTestSequencer(t, 100)
		for _, pos := range positions {
			require.True(t, s.TryAcquire(pos, api.IntentJobCreate))
		}

		s.OnResponse(p)

		remaining := 0
		for _, pos := range positions {
			if pos > p {
				remaining++
			}
		}
		assert.Equal(t, remaining, s.Pending(), "release up to %d", p)
		assert.Equal(t, remaining, limiter.Inflight(), "release up to %d", p)
	}
}

func TestSequencerFlowControlAdmission(t *testing.T) {
	whitelisted := []api.Intent{
		api.IntentJobComplete,
		api.IntentJobFail,
		api.IntentProcessInstanceCancel,
		api.IntentDeploymentCreate,
		api.IntentDeploymentDistribute,
		api.IntentDeploymentDistributionComplete,
		api.IntentCommandDistributionAcknowledge,
	}
	others := []api.Intent{
		api.IntentJobCreate,
		api.IntentProcessInstanceCreate,
		api.IntentMessagePublish,
	}

	t.Run("below limit everything is admitted", func(t *testing.T) {
		s, _ := newTestSequencer(t, 100)
		for i, intent := range append(others, whitelisted...) {
			assert.True(t, s.TryAcquire(int64(i), intent), intent)
		}
	})

	t.Run("at limit only whitelisted intents pass", func(t *testing.T) {
		s, limiter := newTestSequencer(t, 2)
		require.True(t, s.TryAcquire(1, api.IntentJobCreate))
		require.True(t, s.TryAcquire(2, api.IntentJobCreate))
		require.Equal(t, limiter.Limit(), limiter.Inflight())

		for _, intent := range others {
			assert.False(t, s.TryAcquire(3, intent), intent)
		}
		for i, intent := range whitelisted {
			assert.True(t, s.TryAcquire(int64(3+i), intent), intent)
		}

		// Whitelisted admissions keep their slot until released.
		assert.Equal(t, 2+len(whitelisted), limiter.Inflight())
		assert.Equal(t, 2+len(whitelisted), s.Pending())

		s.OnResponse(2)
		assert.False(t, s.TryAcquire(20, api.IntentJobCreate), "whitelisted listeners still hold slots")

		s.OnResponse(100)
		assert.True(t, s.TryAcquire(21, api.IntentJobCreate))
	})

	t.Run("rejected commands are not registered", func(t *testing.T) {
		s, _ := newTestSequencer(t, 1)
		require.True(t, s.TryAcquire(1, api.IntentJobCreate))
		require.False(t, s.TryAcquire(2, api.IntentJobCreate))
		assert.Equal(t, 1, s.Pending())
	})
}

func TestSequencerFlowControlConcurrent(t *testing.T) {
	s, limiter := newTestSequencer(t, 1000)

	var wg sync.WaitGroup
	for w := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 100 {
				pos := int64(w*100 + i)
				assert.True(t, s.TryAcquire(pos, api.IntentJobCreate))
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 800, s.Pending())

	s.OnResponse(399)
	s.OnResponse(799)
	assert.Equal(t, 0, s.Pending())
	assert.Equal(t, 0, limiter.Inflight())
}

func TestSequencerFlowControlClose(t *testing.T) {
	_, log := logger.NewTestLogger()
	limiter := NewLimiter(NewFixed(10))
	s := NewSequencerFlowControl(limiter, log)

	require.True(t, s.TryAcquire(1, api.IntentJobCreate))
	s.Close()
	s.Close()

	assert.Equal(t, 0, limiter.Inflight(), "outstanding listeners are released on close")
	assert.False(t, s.TryAcquire(2, api.IntentJobCreate))
	assert.Equal(t, 0, s.Pending())

	done := make(chan struct{})
	go func() {
		s.OnResponse(5)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("OnResponse blocked after close")
	}
}

func TestAppenderFlowControl(t *testing.T) {
	_, log := logger.NewTestLogger()
	obs := &appenderObserver{}

	fc := NewAppenderFlowControl(NewLimiter(NewFixed(1)), obs, log)
	fc.now = fakeClock(time.Millisecond)

	append1, ok := fc.TryAcquire()
	require.True(t, ok)
	_, ok = fc.TryAcquire()
	require.False(t, ok)

	append1.OnWrite(10)
	append1.OnCommit(10)

	append2, ok := fc.TryAcquire()
	require.True(t, ok)
	append2.OnWriteError(assert.AnError)

	_, ok = fc.TryAcquire()
	assert.True(t, ok)

	assert.Equal(t, 4, obs.tried)
	assert.Equal(t, 1, obs.deferred)
	assert.Equal(t, int64(10), obs.written)
	assert.Equal(t, int64(10), obs.committed)
	assert.Equal(t, []time.Duration{time.Millisecond}, obs.appendLatency)
	assert.Equal(t, []time.Duration{time.Millisecond}, obs.commitLatency)
}

type appenderObserver struct {
	tried, deferred    int
	written, committed int64
	appendLatency      []time.Duration
	commitLatency      []time.Duration
}

func (o *appenderObserver) IncreaseTriedAppends()              { o.tried++ }
func (o *appenderObserver) IncreaseDeferredAppends()           { o.deferred++ }
func (o *appenderObserver) SetLastWrittenPosition(pos int64)   { o.written = pos }
func (o *appenderObserver) SetLastCommittedPosition(pos int64) { o.committed = pos }
func (o *appenderObserver) ObserveAppendLatency(d time.Duration) {
	o.appendLatency = append(o.appendLatency, d)
}
func (o *appenderObserver) ObserveCommitLatency(d time.Duration) {
	o.commitLatency = append(o.commitLatency, d)
}
