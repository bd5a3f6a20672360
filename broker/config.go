package broker

import (
	"time"

	"github.com/shrtyk/logstream-core/api"
	"github.com/shrtyk/logstream-core/pkg/logger"
)

const (
	defaultHttpMonitoringAddr = ""
	defaultGRPCAddr           = ""
	defaultDataDir            = "data"
)

func DefaultConfig() *api.Config {
	return &api.Config{
		Log: api.LoggerCfg{
			Env: logger.Dev,
		},
		Partition: api.PartitionCfg{
			ID:       1,
			MemberID: "broker-0",
			DataDir:  defaultDataDir,
		},
		Timings: api.Timings{
			RPCTimeout:      time.Second,
			ShutdownTimeout: 3 * time.Second,
		},
		Backpressure: api.BackpressureCfg{
			Enabled:   true,
			Algorithm: api.AlgorithmVegas,
			Vegas: api.VegasCfg{
				InitialLimit: 20,
				MaxLimit:     1000,
				Smoothing:    1,
				AlphaFactor:  3,
				BetaFactor:   6,
			},
			Gradient2: api.Gradient2Cfg{
				InitialLimit: 20,
				MinLimit:     20,
				MaxLimit:     200,
				Smoothing:    0.2,
				RTTTolerance: 1.5,
				LongWindow:   600,
				QueueSize:    4,
			},
			Window: api.WindowCfg{
				MinWindowTime: time.Second,
				MaxWindowTime: time.Second,
				WindowSize:    10,
			},
		},
		Append: api.AppendCfg{
			BatchSize: 128,
			Timeout:   15 * time.Millisecond,
		},
		Replication: api.ReplicationCfg{
			RequestTimeout:      5 * time.Second,
			MaxBytesPerResponse: 4 << 20,
			MaxRounds:           0,
			RetryAttempts:       3,
		},
		Snapshots: api.SnapshotsCfg{
			Retain:        2,
			TransferRate:  100,
			TransferBurst: 10,
		},
		CBreaker: api.CircuitBreakerCfg{
			FailureThreshold: 6,
			SuccessThreshold: 4,
			ResetTimeout:     5 * time.Second,
		},
		HttpMonitoringAddr: defaultHttpMonitoringAddr,
		GRPCAddr:           defaultGRPCAddr,
	}
}

func TestsConfig() *api.Config {
	cfg := DefaultConfig()
	cfg.Backpressure.Algorithm = api.AlgorithmFixed
	cfg.Backpressure.Vegas.InitialLimit = 100
	cfg.Append = api.AppendCfg{
		BatchSize: 10,
		Timeout:   5 * time.Millisecond,
	}
	cfg.Replication.RequestTimeout = time.Second
	cfg.Replication.MaxBytesPerResponse = 1 << 10
	cfg.Snapshots.TransferRate = 1000
	cfg.Timings.RPCTimeout = 500 * time.Millisecond
	return cfg
}
