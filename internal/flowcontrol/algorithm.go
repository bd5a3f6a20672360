package flowcontrol

import (
	"fmt"
	"time"

	"github.com/shrtyk/logstream-core/api"
)

// CongestionControlAlgorithm turns latency samples into a concurrency limit.
// Implementations are not safe for concurrent use, the owning limiter
// serializes calls.
type CongestionControlAlgorithm interface {
	// OnSample records an operation which started at start and took rtt.
	// inflight is the number of operations in flight when it was admitted.
	// It returns the new limit.
	OnSample(start time.Time, rtt time.Duration, inflight int, didDrop bool) int

	Limit() int
}

// NewAlgorithm builds the algorithm selected by cfg.
func NewAlgorithm(cfg api.BackpressureCfg) (CongestionControlAlgorithm, error) {
	var algo CongestionControlAlgorithm
	switch cfg.Algorithm {
	case api.AlgorithmVegas, "":
		algo = NewVegas(cfg.Vegas)
	case api.AlgorithmGradient2:
		algo = NewGradient2(cfg.Gradient2)
	case api.AlgorithmFixed:
		algo = NewFixed(cfg.Vegas.InitialLimit)
	default:
		return nil, fmt.Errorf("unknown backpressure algorithm: %q", cfg.Algorithm)
	}

	if cfg.Windowed {
		algo = NewWindowed(algo, cfg.Window)
	}
	return algo, nil
}

// Fixed never changes its limit.
type Fixed struct {
	limit int
}

func NewFixed(limit int) *Fixed {
	return &Fixed{limit: max(1, limit)}
}

func (f *Fixed) OnSample(time.Time, time.Duration, int, bool) int { return f.limit }

func (f *Fixed) Limit() int { return f.limit }
