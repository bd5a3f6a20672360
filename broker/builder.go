package broker

import (
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shrtyk/logstream-core/api"
	"github.com/shrtyk/logstream-core/internal/config"
	"github.com/shrtyk/logstream-core/internal/snapshot"
	"github.com/shrtyk/logstream-core/pkg/logger"
	"github.com/shrtyk/logstream-core/pkg/metrics"
)

type brokerBuilder struct {
	// optional with defaults
	cfg        *api.Config
	storage    api.LogStorage
	transport  api.Transport
	logger     *slog.Logger
	registerer prometheus.Registerer
}

func NewBrokerBuilder() api.BrokerBuilder {
	return &brokerBuilder{
		cfg: DefaultConfig(),
	}
}

func (bb *brokerBuilder) Build() (api.Broker, error) {
	if err := config.Validate(bb.cfg); err != nil {
		return nil, fmt.Errorf("builder: %w", err)
	}

	log := bb.logger
	if log == nil {
		log = logger.NewLogger(bb.cfg.Log.Env, bb.cfg.Log.AddSource)
	}
	log = log.With(
		slog.Int("partition", bb.cfg.Partition.ID),
		slog.String("member", string(bb.cfg.Partition.MemberID)),
	)

	reg, gatherer := bb.registerer, prometheus.Gatherer(prometheus.DefaultGatherer)
	if reg == nil {
		r := prometheus.NewRegistry()
		reg, gatherer = r, r
	} else if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	b := &Broker{
		cfg:       bb.cfg,
		logger:    log,
		metrics:   metrics.New(reg),
		gatherer:  gatherer,
		storage:   bb.storage,
		transport: bb.transport,
		receiving: make(map[string]*snapshot.ReceivedSnapshot),
	}
	b.process = newProcess(b)
	return b, nil
}

func (bb *brokerBuilder) WithConfig(cfg *api.Config) api.BrokerBuilder {
	bb.cfg = cfg
	return bb
}

func (bb *brokerBuilder) WithLogStorage(s api.LogStorage) api.BrokerBuilder {
	bb.storage = s
	return bb
}

func (bb *brokerBuilder) WithTransport(t api.Transport) api.BrokerBuilder {
	bb.transport = t
	return bb
}

func (bb *brokerBuilder) WithLogger(l *slog.Logger) api.BrokerBuilder {
	bb.logger = l
	return bb
}

func (bb *brokerBuilder) WithRegisterer(r prometheus.Registerer) api.BrokerBuilder {
	bb.registerer = r
	return bb
}
