// Package config enables config file parsing.
package config

import (
	"fmt"
	"strings"
	"time"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"

	"github.com/jefdiesel/appchain-ens/log"
)

const (
	// DefaultBatchSize is the largest number of registry writes submitted in
	// a single transaction. It matches the RPC provider's documented ceiling
	// of 5 calls per batched request.
	DefaultBatchSize = 5

	// DefaultRequestTimeout bounds every individual network call.
	DefaultRequestTimeout = 30 * time.Second

	// DefaultGroupDelay is the pause inserted between successive groups of
	// concurrent lookups within a cycle, to smooth the request rate.
	DefaultGroupDelay = 250 * time.Millisecond
)

// Config contains the CLI configuration.
type Config struct {
	Oracle  *OracleConfig  `koanf:"oracle"`
	Log     *LogConfig     `koanf:"log"`
	Metrics *MetricsConfig `koanf:"metrics"`
}

// Validate performs config validation.
func (cfg *Config) Validate() error {
	if cfg.Oracle == nil {
		return fmt.Errorf("oracle section not configured")
	}
	if err := cfg.Oracle.Validate(); err != nil {
		return fmt.Errorf("oracle: %w", err)
	}
	if cfg.Log != nil {
		if err := cfg.Log.Validate(); err != nil {
			return fmt.Errorf("log: %w", err)
		}
	}
	if cfg.Metrics != nil {
		if err := cfg.Metrics.Validate(); err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
	}

	return nil
}

// OracleConfig is the configuration for the reconciliation oracle.
type OracleConfig struct {
	// RPCEndpoint is the JSON-RPC URL of the chain hosting the registry.
	RPCEndpoint string `koanf:"rpc_endpoint"`

	// RegistryAddress is the address of the name registry contract.
	RegistryAddress string `koanf:"registry_address"`

	// PrivateKey is the hex-encoded key of the authorized updater account.
	// Typically supplied via the ORACLE__PRIVATE_KEY environment variable.
	PrivateKey string `koanf:"private_key"`

	// IndexerURL is the base URL of the ownership indexer API.
	IndexerURL string `koanf:"indexer_url"`

	// NamesFile is the path to a flat JSON array of tracked names.
	NamesFile string `koanf:"names_file"`

	// IntervalSeconds is the polling cadence for reconciliation cycles.
	IntervalSeconds uint64 `koanf:"interval_seconds"`

	// BatchSize overrides the per-transaction write ceiling. Leave zero to
	// use the provider default.
	BatchSize int `koanf:"batch_size"`

	// RequestTimeoutSeconds overrides the per-call network timeout.
	RequestTimeoutSeconds uint64 `koanf:"request_timeout_seconds"`
}

// Validate validates the oracle configuration.
func (cfg *OracleConfig) Validate() error {
	if cfg.RPCEndpoint == "" {
		return fmt.Errorf("rpc_endpoint not specified")
	}
	if !ethCommon.IsHexAddress(cfg.RegistryAddress) {
		return fmt.Errorf("registry_address '%s' is not a valid address", cfg.RegistryAddress)
	}
	if cfg.PrivateKey == "" {
		return fmt.Errorf("private_key not specified")
	}
	if cfg.IndexerURL == "" {
		return fmt.Errorf("indexer_url not specified")
	}
	if cfg.NamesFile == "" {
		return fmt.Errorf("names_file not specified")
	}
	if cfg.IntervalSeconds == 0 {
		return fmt.Errorf("interval_seconds must be positive")
	}
	if cfg.BatchSize < 0 || cfg.BatchSize > DefaultBatchSize {
		return fmt.Errorf("batch_size %d exceeds the provider ceiling of %d", cfg.BatchSize, DefaultBatchSize)
	}
	return nil
}

// Interval returns the polling cadence.
func (cfg *OracleConfig) Interval() time.Duration {
	return time.Duration(cfg.IntervalSeconds) * time.Second
}

// RequestTimeout returns the per-call network timeout.
func (cfg *OracleConfig) RequestTimeout() time.Duration {
	if cfg.RequestTimeoutSeconds == 0 {
		return DefaultRequestTimeout
	}
	return time.Duration(cfg.RequestTimeoutSeconds) * time.Second
}

// EffectiveBatchSize returns the per-transaction write ceiling.
func (cfg *OracleConfig) EffectiveBatchSize() int {
	if cfg.BatchSize == 0 {
		return DefaultBatchSize
	}
	return cfg.BatchSize
}

// LogConfig contains the logging configuration.
type LogConfig struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
	File   string `koanf:"file"`
}

// Validate validates the logging configuration.
func (cfg *LogConfig) Validate() error {
	var format log.Format
	if err := format.Set(cfg.Format); err != nil {
		return err
	}
	var level log.Level
	return level.Set(cfg.Level)
}

// MetricsConfig contains the metrics configuration.
type MetricsConfig struct {
	PullEndpoint string `koanf:"pull_endpoint"`
}

// Validate validates the metrics configuration.
func (cfg *MetricsConfig) Validate() error {
	if cfg.PullEndpoint == "" {
		return fmt.Errorf("malformed Prometheus pull endpoint '%s'", cfg.PullEndpoint)
	}
	return nil
}

// InitConfig initializes configuration from file.
func InitConfig(f string) (*Config, error) {
	var config Config
	k := koanf.New(".")

	// Load configuration from the yaml config.
	if err := k.Load(file.Provider(f), yaml.Parser()); err != nil {
		return nil, err
	}

	// Load environment variables and merge into the loaded config.
	if err := k.Load(env.Provider("", ".", func(s string) string {
		// `__` is used as a hierarchy delimiter.
		return strings.ReplaceAll(strings.ToLower(s), "__", ".")
	}), nil); err != nil {
		return nil, err
	}

	// Unmarshal into config.
	if err := k.Unmarshal("", &config); err != nil {
		return nil, err
	}

	// Validate config.
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}
