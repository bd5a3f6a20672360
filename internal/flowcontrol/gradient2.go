package flowcontrol

import (
	"math"
	"time"

	"github.com/shrtyk/logstream-core/api"
)

const gradientWarmupSamples = 10

// Gradient2 compares a short term rtt (the last sample) with an exponentially
// averaged long term rtt. A growing short rtt means queueing, so the limit is
// scaled down by their ratio, bounded to [0.5, 1], and QueueSize is added on top
// to keep probing for more capacity.
type Gradient2 struct {
	estimatedLimit float64
	minLimit       float64
	maxLimit       float64
	smoothing      float64
	rttTolerance   float64
	queueSize      float64
	longRtt        *expAvg
	lastRtt        time.Duration
}

func NewGradient2(cfg api.Gradient2Cfg) *Gradient2 {
	g := &Gradient2{
		estimatedLimit: float64(cfg.InitialLimit),
		minLimit:       float64(cfg.MinLimit),
		maxLimit:       float64(cfg.MaxLimit),
		smoothing:      cfg.Smoothing,
		rttTolerance:   cfg.RTTTolerance,
		queueSize:      float64(cfg.QueueSize),
	}
	if g.estimatedLimit < 1 {
		g.estimatedLimit = 20
	}
	if g.minLimit < 1 {
		g.minLimit = 1
	}
	if g.maxLimit < g.estimatedLimit {
		g.maxLimit = max(200, g.estimatedLimit)
	}
	if g.smoothing <= 0 || g.smoothing > 1 {
		g.smoothing = 0.2
	}
	if g.rttTolerance < 1 {
		g.rttTolerance = 1.5
	}
	if g.queueSize <= 0 {
		g.queueSize = 4
	}
	window := cfg.LongWindow
	if window <= 0 {
		window = 600
	}
	g.longRtt = newExpAvg(window, gradientWarmupSamples)
	return g
}

func (g *Gradient2) Limit() int {
	return int(g.estimatedLimit)
}

func (g *Gradient2) OnSample(_ time.Time, rtt time.Duration, inflight int, _ bool) int {
	if rtt <= 0 {
		return g.Limit()
	}
	g.lastRtt = rtt
	short := float64(rtt)
	long := g.longRtt.add(short)

	// The long rtt drifted far above the current one, e.g. after a latency
	// spike, so pull it back down faster than the average would.
	if long/short > 2 {
		long = g.longRtt.scale(0.95)
	}

	if float64(inflight) < g.estimatedLimit/2 {
		return g.Limit()
	}

	gradient := math.Max(0.5, math.Min(1.0, g.rttTolerance*long/short))
	newLimit := g.estimatedLimit*gradient + g.queueSize
	newLimit = g.estimatedLimit*(1-g.smoothing) + newLimit*g.smoothing
	g.estimatedLimit = math.Max(g.minLimit, math.Min(g.maxLimit, newLimit))
	return g.Limit()
}

// expAvg is an exponential moving average which behaves like a plain
// average over the first warmup samples.
type expAvg struct {
	window int
	warmup int
	count  int
	sum    float64
	value  float64
}

func newExpAvg(window, warmup int) *expAvg {
	return &expAvg{window: window, warmup: warmup}
}

func (a *expAvg) add(sample float64) float64 {
	if a.count < a.warmup {
		a.count++
		a.sum += sample
		a.value = a.sum / float64(a.count)
		return a.value
	}
	factor := 2.0 / float64(a.window+1)
	a.value = a.value*(1-factor) + sample*factor
	return a.value
}

func (a *expAvg) scale(f float64) float64 {
	a.value *= f
	a.sum *= f
	return a.value
}
