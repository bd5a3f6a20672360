package flowcontrol

import (
	"math"
	"time"

	"github.com/shrtyk/logstream-core/api"
)

// Vegas estimates the queue built up behind the limit from the difference
// between the observed rtt and the lowest rtt seen so far (the no-load rtt).
// A small queue grows the limit, a large one shrinks it.
type Vegas struct {
	estimatedLimit float64
	maxLimit       float64
	smoothing      float64
	alphaFactor    float64
	betaFactor     float64
	rttNoLoad      time.Duration
}

func NewVegas(cfg api.VegasCfg) *Vegas {
	v := &Vegas{
		estimatedLimit: float64(cfg.InitialLimit),
		maxLimit:       float64(cfg.MaxLimit),
		smoothing:      cfg.Smoothing,
		alphaFactor:    cfg.AlphaFactor,
		betaFactor:     cfg.BetaFactor,
	}
	if v.estimatedLimit < 1 {
		v.estimatedLimit = 20
	}
	if v.maxLimit < v.estimatedLimit {
		v.maxLimit = max(1000, v.estimatedLimit)
	}
	if v.smoothing <= 0 || v.smoothing > 1 {
		v.smoothing = 1
	}
	if v.alphaFactor <= 0 {
		v.alphaFactor = 3
	}
	if v.betaFactor <= v.alphaFactor {
		v.betaFactor = 2 * v.alphaFactor
	}
	return v
}

func (v *Vegas) Limit() int {
	return int(v.estimatedLimit)
}

func (v *Vegas) OnSample(_ time.Time, rtt time.Duration, inflight int, didDrop bool) int {
	if rtt <= 0 {
		return v.Limit()
	}
	if v.rttNoLoad == 0 || rtt < v.rttNoLoad {
		v.rttNoLoad = rtt
		return v.Limit()
	}
	return v.update(rtt, inflight, didDrop)
}

func (v *Vegas) update(rtt time.Duration, inflight int, didDrop bool) int {
	limit := v.estimatedLimit
	logLimit := math.Log10(math.Max(limit, 1))
	queueSize := math.Ceil(limit * (1 - float64(v.rttNoLoad)/float64(rtt)))

	var newLimit float64
	switch {
	case didDrop:
		newLimit = limit - logLimit
	case float64(inflight)*2 < limit:
		// Not enough load to tell anything about the limit.
		return v.Limit()
	case queueSize <= logLimit:
		newLimit = limit + v.betaFactor*logLimit
	case queueSize < v.alphaFactor*logLimit:
		newLimit = limit + logLimit
	case queueSize > v.betaFactor*logLimit:
		newLimit = limit - logLimit
	default:
		return v.Limit()
	}

	newLimit = math.Max(1, math.Min(v.maxLimit, newLimit))
	v.estimatedLimit = (1-v.smoothing)*limit + v.smoothing*newLimit
	return v.Limit()
}
