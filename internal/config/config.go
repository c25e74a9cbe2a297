// Package config handles configuration loading using viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"firestige.xyz/tcpseg/internal/core/decoder"
	"firestige.xyz/tcpseg/internal/filter"
)

// GlobalConfig represents the top-level configuration.
// Maps to the `tcpseg:` root key in YAML.
type GlobalConfig struct {
	Log      LogConfig      `mapstructure:"log"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Decoder  DecoderConfig  `mapstructure:"decoder"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Output   OutputConfig   `mapstructure:"output"`
}

// ─── Log ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string           `mapstructure:"level"`   // debug / info / warn / error
	Format  string           `mapstructure:"format"`  // json / text / pattern
	Pattern string           `mapstructure:"pattern"` // used by format=pattern
	Outputs LogOutputsConfig `mapstructure:"outputs"`
}

// LogOutputsConfig contains log destinations besides stderr.
type LogOutputsConfig struct {
	File FileOutputConfig `mapstructure:"file"`
}

// FileOutputConfig configures file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Path     string         `mapstructure:"path"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb"`  // MB
	MaxAgeDays int  `mapstructure:"max_age_days"` // Days
	MaxBackups int  `mapstructure:"max_backups"`
	Compress   bool `mapstructure:"compress"`
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`
}

// ─── Decoder ───

// DecoderConfig configures envelope decoding.
type DecoderConfig struct {
	// LinkType overrides the capture file's link type; empty keeps it.
	LinkType string       `mapstructure:"link_type"`
	Tunnel   TunnelConfig `mapstructure:"tunnel"`
}

// TunnelConfig controls tunnel decapsulation.
type TunnelConfig struct {
	VXLAN  bool `mapstructure:"vxlan"`
	GRE    bool `mapstructure:"gre"`
	Geneve bool `mapstructure:"geneve"`
	IPIP   bool `mapstructure:"ipip"`
}

// Any reports whether at least one tunnel type is unwrapped.
func (t TunnelConfig) Any() bool {
	return t.VXLAN || t.GRE || t.Geneve || t.IPIP
}

// ─── Pipeline ───

// PipelineConfig configures the capture-to-sink pipeline.
type PipelineConfig struct {
	BufferSize int    `mapstructure:"buffer_size"` // raw packet channel capacity
	TCPOnly    bool   `mapstructure:"tcp_only"`    // stock BPF pre-filter
	BPFRaw     string `mapstructure:"bpf_raw"`     // `tcpdump -ddd` output
	MinLength  int    `mapstructure:"min_length"`  // drop shorter frames before decoding
}

// ─── Output ───

// OutputConfig selects how results are printed.
type OutputConfig struct {
	Format   string            `mapstructure:"format"`   // text / json / yaml
	Segments bool              `mapstructure:"segments"` // print every located segment
	Kafka    KafkaOutputConfig `mapstructure:"kafka"`
}

// KafkaOutputConfig publishes located segments to a Kafka topic.
type KafkaOutputConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	BatchSize    int           `mapstructure:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	Compression  string        `mapstructure:"compression"` // none / gzip / snappy / lz4 / zstd
	MaxAttempts  int           `mapstructure:"max_attempts"`
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `tcpseg: ...`.
type configRoot struct {
	TCPSeg GlobalConfig `mapstructure:"tcpseg"`
}

// Load loads configuration from file. An empty path yields the defaults,
// still subject to environment overrides.
// Env vars use the TCPSEG_ prefix (e.g., TCPSEG_LOG_LEVEL).
func Load(path string) (*GlobalConfig, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// The `tcpseg.` key prefix maps to `TCPSEG_` through the key replacer.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.TCPSeg

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values for configuration.
// All keys use the "tcpseg." prefix to match the YAML root wrapper.
func setDefaults(v *viper.Viper) {
	// Log defaults
	v.SetDefault("tcpseg.log.level", "info")
	v.SetDefault("tcpseg.log.format", "text")
	v.SetDefault("tcpseg.log.pattern", "")
	v.SetDefault("tcpseg.log.outputs.file.enabled", false)
	v.SetDefault("tcpseg.log.outputs.file.path", "/var/log/tcpseg/tcpseg.log")
	v.SetDefault("tcpseg.log.outputs.file.rotation.max_size_mb", 100)
	v.SetDefault("tcpseg.log.outputs.file.rotation.max_age_days", 30)
	v.SetDefault("tcpseg.log.outputs.file.rotation.max_backups", 5)
	v.SetDefault("tcpseg.log.outputs.file.rotation.compress", true)

	// Metrics defaults
	v.SetDefault("tcpseg.metrics.enabled", false)
	v.SetDefault("tcpseg.metrics.listen", ":9091")
	v.SetDefault("tcpseg.metrics.path", "/metrics")

	// Decoder defaults
	v.SetDefault("tcpseg.decoder.link_type", "")
	v.SetDefault("tcpseg.decoder.tunnel.vxlan", false)
	v.SetDefault("tcpseg.decoder.tunnel.gre", false)
	v.SetDefault("tcpseg.decoder.tunnel.geneve", false)
	v.SetDefault("tcpseg.decoder.tunnel.ipip", false)

	// Pipeline defaults
	v.SetDefault("tcpseg.pipeline.buffer_size", 1024)
	v.SetDefault("tcpseg.pipeline.tcp_only", true)
	v.SetDefault("tcpseg.pipeline.bpf_raw", "")
	v.SetDefault("tcpseg.pipeline.min_length", 0)

	// Output defaults
	v.SetDefault("tcpseg.output.format", "text")
	v.SetDefault("tcpseg.output.segments", true)
	v.SetDefault("tcpseg.output.kafka.enabled", false)
	v.SetDefault("tcpseg.output.kafka.brokers", []string{})
	v.SetDefault("tcpseg.output.kafka.topic", "")
	v.SetDefault("tcpseg.output.kafka.batch_size", 100)
	v.SetDefault("tcpseg.output.kafka.batch_timeout", "100ms")
	v.SetDefault("tcpseg.output.kafka.compression", "snappy")
	v.SetDefault("tcpseg.output.kafka.max_attempts", 3)
}

// ValidateAndApplyDefaults validates configuration and normalises values.
func (cfg *GlobalConfig) ValidateAndApplyDefaults() error {
	// ── Log ──
	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug/info/warn/error)", cfg.Log.Level)
	}
	switch cfg.Log.Format {
	case "json", "text", "pattern":
	default:
		return fmt.Errorf("invalid log format: %s (must be json/text/pattern)", cfg.Log.Format)
	}
	if cfg.Log.Outputs.File.Enabled && cfg.Log.Outputs.File.Path == "" {
		return fmt.Errorf("log.outputs.file.path is required when file output is enabled")
	}

	// ── Metrics ──
	if cfg.Metrics.Enabled && cfg.Metrics.Listen == "" {
		return fmt.Errorf("metrics.listen is required when metrics.enabled=true")
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	// ── Decoder ──
	cfg.Decoder.LinkType = strings.ToLower(cfg.Decoder.LinkType)
	if cfg.Decoder.LinkType != "" {
		if _, err := decoder.ParseLinkType(cfg.Decoder.LinkType); err != nil {
			return fmt.Errorf("invalid decoder.link_type: %w", err)
		}
	}

	// ── Pipeline ──
	if cfg.Pipeline.BufferSize <= 0 {
		cfg.Pipeline.BufferSize = 1024
	}
	if cfg.Pipeline.MinLength < 0 {
		return fmt.Errorf("invalid pipeline.min_length: %d", cfg.Pipeline.MinLength)
	}
	if cfg.Pipeline.BPFRaw != "" {
		if _, err := filter.ParseRaw(cfg.Pipeline.BPFRaw); err != nil {
			return fmt.Errorf("invalid pipeline.bpf_raw: %w", err)
		}
	}

	// ── Output ──
	switch cfg.Output.Format {
	case "text", "json", "yaml":
	default:
		return fmt.Errorf("invalid output format: %s (must be text/json/yaml)", cfg.Output.Format)
	}
	if k := &cfg.Output.Kafka; k.Enabled {
		if len(k.Brokers) == 0 {
			return fmt.Errorf("output.kafka.brokers is required when output.kafka.enabled=true")
		}
		if k.Topic == "" {
			return fmt.Errorf("output.kafka.topic is required when output.kafka.enabled=true")
		}
		switch k.Compression {
		case "", "none", "gzip", "snappy", "lz4", "zstd":
		default:
			return fmt.Errorf("invalid output.kafka.compression: %s (must be none/gzip/snappy/lz4/zstd)", k.Compression)
		}
	}

	return nil
}
