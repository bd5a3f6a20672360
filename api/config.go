package api

import (
	"time"

	"github.com/shrtyk/logstream-core/pkg/logger"
)

type Config struct {
	Log                LoggerCfg         `yaml:"log"`
	Partition          PartitionCfg      `yaml:"partition"`
	Timings            Timings           `yaml:"timings"`
	Backpressure       BackpressureCfg   `yaml:"backpressure"`
	Append             AppendCfg         `yaml:"append"`
	Replication        ReplicationCfg    `yaml:"replication"`
	Snapshots          SnapshotsCfg      `yaml:"snapshots"`
	CBreaker           CircuitBreakerCfg `yaml:"cbreaker"`
	Members            []MemberCfg       `yaml:"members"`
	GRPCAddr           string            `yaml:"grpc_addr"`
	HttpMonitoringAddr string            `yaml:"http_monitoring_addr"`
}

type LoggerCfg struct {
	Env       logger.Enviroment `yaml:"env"`
	AddSource bool              `yaml:"add_source"`
}

type PartitionCfg struct {
	ID       int      `yaml:"id"`
	MemberID MemberID `yaml:"member_id"`
	DataDir  string   `yaml:"data_dir"`
}

type Timings struct {
	RPCTimeout      time.Duration `yaml:"rpc_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LimitAlgorithm selects the congestion control algorithm of a limiter.
type LimitAlgorithm string

const (
	AlgorithmVegas     LimitAlgorithm = "vegas"
	AlgorithmGradient2 LimitAlgorithm = "gradient2"
	// AlgorithmFixed keeps the initial limit forever. Mostly useful in tests.
	AlgorithmFixed LimitAlgorithm = "fixed"
)

type BackpressureCfg struct {
	Enabled   bool           `yaml:"enabled"`
	Algorithm LimitAlgorithm `yaml:"algorithm"`
	Windowed  bool           `yaml:"windowed"`
	Vegas     VegasCfg       `yaml:"vegas"`
	Gradient2 Gradient2Cfg   `yaml:"gradient2"`
	Window    WindowCfg      `yaml:"window"`
}

type VegasCfg struct {
	InitialLimit int     `yaml:"initial_limit"`
	MaxLimit     int     `yaml:"max_limit"`
	Smoothing    float64 `yaml:"smoothing"`
	AlphaFactor  float64 `yaml:"alpha_factor"`
	BetaFactor   float64 `yaml:"beta_factor"`
}

type Gradient2Cfg struct {
	InitialLimit int     `yaml:"initial_limit"`
	MinLimit     int     `yaml:"min_limit"`
	MaxLimit     int     `yaml:"max_limit"`
	Smoothing    float64 `yaml:"smoothing"`
	RTTTolerance float64 `yaml:"rtt_tolerance"`
	LongWindow   int     `yaml:"long_window"`
	QueueSize    int     `yaml:"queue_size"`
}

type WindowCfg struct {
	MinWindowTime time.Duration `yaml:"min_window_time"`
	MaxWindowTime time.Duration `yaml:"max_window_time"`
	WindowSize    int           `yaml:"window_size"`
}

// AppendCfg tunes the batched fsync worker of the log storage.
type AppendCfg struct {
	BatchSize int           `yaml:"batch_size"`
	Timeout   time.Duration `yaml:"timeout"`
}

type ReplicationCfg struct {
	RequestTimeout      time.Duration `yaml:"request_timeout"`
	MaxBytesPerResponse int           `yaml:"max_bytes_per_response"`
	// MaxRounds bounds round trips of one catch-up session. 0 means unbounded.
	MaxRounds     int `yaml:"max_rounds"`
	RetryAttempts int `yaml:"retry_attempts"`
}

type SnapshotsCfg struct {
	Retain int `yaml:"retain"`
	// TransferRate is the number of chunks per second sent to a member.
	TransferRate  float64 `yaml:"transfer_rate"`
	TransferBurst int     `yaml:"transfer_burst"`
}

type CircuitBreakerCfg struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
	ResetTimeout     time.Duration `yaml:"reset_timeout"`
}

type MemberCfg struct {
	ID   MemberID `yaml:"id"`
	Addr string   `yaml:"addr"`
}
