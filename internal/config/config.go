// Package config loads the broker configuration from YAML files.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
	"github.com/shrtyk/logstream-core/api"
)

// Load reads the YAML file at path on top of base and validates the result.
// Fields missing from the file keep the values of base. Unknown fields are rejected.
func Load(path string, base *api.Config) (*api.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}
	return Parse(data, base)
}

// Parse is Load for data already in memory.
func Parse(data []byte, base *api.Config) (*api.Config, error) {
	cfg := *base
	cfg.Members = append([]api.MemberCfg(nil), base.Members...)

	if err := yaml.UnmarshalWithOptions(data, &cfg, yaml.DisallowUnknownField()); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every invalid setting of cfg at once.
func Validate(cfg *api.Config) error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(cfg.Partition.ID >= 0, "partition.id must not be negative, got %d", cfg.Partition.ID)
	check(cfg.Partition.DataDir != "", "partition.data_dir is required")

	switch cfg.Backpressure.Algorithm {
	case "", api.AlgorithmVegas, api.AlgorithmGradient2, api.AlgorithmFixed:
	default:
		errs = append(errs, fmt.Errorf("backpressure.algorithm: unknown algorithm %q", cfg.Backpressure.Algorithm))
	}
	w := cfg.Backpressure.Window
	check(w.MaxWindowTime == 0 || w.MinWindowTime <= w.MaxWindowTime,
		"backpressure.window: min_window_time %s exceeds max_window_time %s", w.MinWindowTime, w.MaxWindowTime)

	check(cfg.Append.BatchSize > 0, "append.batch_size must be positive, got %d", cfg.Append.BatchSize)
	check(cfg.Append.Timeout > 0, "append.timeout must be positive, got %s", cfg.Append.Timeout)

	check(cfg.Replication.RequestTimeout > 0, "replication.request_timeout must be positive")
	check(cfg.Replication.MaxBytesPerResponse > 0, "replication.max_bytes_per_response must be positive")
	check(cfg.Replication.MaxRounds >= 0, "replication.max_rounds must not be negative")

	check(cfg.Snapshots.Retain >= 1, "snapshots.retain must be at least 1, got %d", cfg.Snapshots.Retain)
	check(cfg.Snapshots.TransferRate > 0, "snapshots.transfer_rate must be positive")

	seen := make(map[api.MemberID]bool, len(cfg.Members))
	for i, m := range cfg.Members {
		check(m.ID != "", "members[%d].id is required", i)
		check(m.Addr != "", "members[%d].addr is required", i)
		check(!seen[m.ID], "members[%d]: duplicate member id %q", i, m.ID)
		check(m.ID != cfg.Partition.MemberID, "members[%d]: member %q is the local member", i, m.ID)
		seen[m.ID] = true
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}
