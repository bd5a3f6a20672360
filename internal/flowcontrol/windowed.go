package flowcontrol

import (
	"time"

	"github.com/shrtyk/logstream-core/api"
)

const (
	defaultMinWindowTime = time.Second
	defaultMaxWindowTime = time.Second
	defaultWindowSize    = 10
	minRttThreshold      = 100 * time.Microsecond
)

// Windowed collects samples over a time window and feeds the delegate one
// aggregated sample per window: the average rtt, the highest inflight count
// and whether any operation in the window was dropped.
type Windowed struct {
	delegate      CongestionControlAlgorithm
	minWindowTime time.Duration
	maxWindowTime time.Duration
	windowSize    int

	nextUpdate time.Time
	window     sampleWindow
}

type sampleWindow struct {
	count       int
	sum         time.Duration
	minRtt      time.Duration
	maxInflight int
	didDrop     bool
}

func (w *sampleWindow) add(rtt time.Duration, inflight int, didDrop bool) {
	if w.count == 0 || rtt < w.minRtt {
		w.minRtt = rtt
	}
	w.count++
	w.sum += rtt
	w.maxInflight = max(w.maxInflight, inflight)
	w.didDrop = w.didDrop || didDrop
}

func (w *sampleWindow) averageRtt() time.Duration {
	if w.count == 0 {
		return 0
	}
	return w.sum / time.Duration(w.count)
}

func NewWindowed(delegate CongestionControlAlgorithm, cfg api.WindowCfg) *Windowed {
	w := &Windowed{
		delegate:      delegate,
		minWindowTime: cfg.MinWindowTime,
		maxWindowTime: cfg.MaxWindowTime,
		windowSize:    cfg.WindowSize,
	}
	if w.minWindowTime <= 0 {
		w.minWindowTime = defaultMinWindowTime
	}
	if w.maxWindowTime < w.minWindowTime {
		w.maxWindowTime = max(defaultMaxWindowTime, w.minWindowTime)
	}
	if w.windowSize <= 0 {
		w.windowSize = defaultWindowSize
	}
	return w
}

func (w *Windowed) Limit() int {
	return w.delegate.Limit()
}

func (w *Windowed) OnSample(start time.Time, rtt time.Duration, inflight int, didDrop bool) int {
	if rtt < minRttThreshold {
		return w.Limit()
	}

	end := start.Add(rtt)
	w.window.add(rtt, inflight, didDrop)
	if end.Before(w.nextUpdate) || w.window.count < w.windowSize {
		return w.Limit()
	}

	current := w.window
	w.window = sampleWindow{}
	next := min(max(2*current.minRtt, w.minWindowTime), w.maxWindowTime)
	w.nextUpdate = end.Add(next)
	return w.delegate.OnSample(start, current.averageRtt(), current.maxInflight, current.didDrop)
}
