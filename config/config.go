// Package config defines the frozen configuration surface for the kill-switch pipeline.
// A Config is built once via New and never mutated afterward; every "runtime adaptation"
// the components perform (hysteresis, decay, recovery) reads from this frozen record, never
// from a mutable field. This mirrors the teacher's functional-option construction of
// immutable runtime/run options (RuntimeOption, RunOption in goa-ai's runtime package).
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the frozen configuration surface described in spec.md §6. Zero value is not
// valid; always construct via New, which applies defaults before options are applied.
type Config struct {
	MaxTokensPerMinute        int
	MaxToolCallsPerMinute     int
	LoopSimilarityThreshold   float64
	LoopWindowSize            int
	TempoCompressionRatio     float64
	CooldownDurationMs        int64
	MinStateDurationMs        int64
	CriticalExitMultiplier    int64
	IntensityLowThreshold     float64
	IntensityHighThreshold    float64
	SoftSuspend               float64
	HardStop                  float64
	RecoveryRate              float64
	RecoveryCap               float64
	ConfidenceMinimum         float64
	ConfidenceDecayRatePerSec float64
	SoftAnomalySeverity       float64
	HardAnomalySeverity       float64
	EventBufferSize           int
	TokenHistorySize          int
	FrequencyWindowSize       int
}

// Option mutates a Config under construction. Options are applied in New before the record
// is returned and never again afterward.
type Option func(*Config)

// defaults returns the spec.md §6 default configuration.
func defaults() Config {
	return Config{
		MaxTokensPerMinute:        50_000,
		MaxToolCallsPerMinute:     60,
		LoopSimilarityThreshold:   0.9,
		LoopWindowSize:            5,
		TempoCompressionRatio:     0.3,
		CooldownDurationMs:        60_000,
		MinStateDurationMs:        10_000,
		CriticalExitMultiplier:    3,
		IntensityLowThreshold:     5_000,
		IntensityHighThreshold:    30_000,
		SoftSuspend:               0.6,
		HardStop:                  0.3,
		RecoveryRate:              0.01,
		RecoveryCap:               0.8,
		ConfidenceMinimum:         0.2,
		ConfidenceDecayRatePerSec: 0.0001,
		SoftAnomalySeverity:       0.02,
		HardAnomalySeverity:       0.10,
		EventBufferSize:           100,
		TokenHistorySize:          20,
		FrequencyWindowSize:       10,
	}
}

// New constructs a frozen Config, applying defaults and then the given options in order.
func New(opts ...Option) Config {
	cfg := defaults()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

func WithMaxTokensPerMinute(n int) Option      { return func(c *Config) { c.MaxTokensPerMinute = n } }
func WithMaxToolCallsPerMinute(n int) Option   { return func(c *Config) { c.MaxToolCallsPerMinute = n } }
func WithLoopSimilarityThreshold(v float64) Option {
	return func(c *Config) { c.LoopSimilarityThreshold = v }
}
func WithLoopWindowSize(n int) Option { return func(c *Config) { c.LoopWindowSize = n } }
func WithTempoCompressionRatio(v float64) Option {
	return func(c *Config) { c.TempoCompressionRatio = v }
}
func WithCooldownDuration(d time.Duration) Option {
	return func(c *Config) { c.CooldownDurationMs = d.Milliseconds() }
}
func WithMinStateDuration(d time.Duration) Option {
	return func(c *Config) { c.MinStateDurationMs = d.Milliseconds() }
}
func WithCriticalExitMultiplier(n int64) Option {
	return func(c *Config) { c.CriticalExitMultiplier = n }
}
func WithIntensityThresholds(low, high float64) Option {
	return func(c *Config) { c.IntensityLowThreshold = low; c.IntensityHighThreshold = high }
}
func WithHealthBands(softSuspend, hardStop float64) Option {
	return func(c *Config) { c.SoftSuspend = softSuspend; c.HardStop = hardStop }
}
func WithRecovery(rate, cap float64) Option {
	return func(c *Config) { c.RecoveryRate = rate; c.RecoveryCap = cap }
}
func WithConfidenceMinimum(v float64) Option { return func(c *Config) { c.ConfidenceMinimum = v } }
func WithConfidenceDecayRate(perSecond float64) Option {
	return func(c *Config) { c.ConfidenceDecayRatePerSec = perSecond }
}
func WithAnomalySeverities(soft, hard float64) Option {
	return func(c *Config) { c.SoftAnomalySeverity = soft; c.HardAnomalySeverity = hard }
}
func WithEventBufferSize(n int) Option { return func(c *Config) { c.EventBufferSize = n } }

// yamlOverrides mirrors Config's fields, except TokenHistorySize and FrequencyWindowSize,
// which cannot be set from YAML, for partial YAML overrides. Zero-value fields left
// unset in the file are ignored so a partial override file only touches what it names.
type yamlOverrides struct {
	MaxTokensPerMinute        *int     `yaml:"max_tokens_per_minute"`
	MaxToolCallsPerMinute     *int     `yaml:"max_tool_calls_per_minute"`
	LoopSimilarityThreshold   *float64 `yaml:"loop_similarity_threshold"`
	LoopWindowSize            *int     `yaml:"loop_window_size"`
	TempoCompressionRatio     *float64 `yaml:"tempo_compression_ratio"`
	CooldownDurationMs        *int64   `yaml:"cooldown_duration_ms"`
	MinStateDurationMs        *int64   `yaml:"min_state_duration_ms"`
	CriticalExitMultiplier    *int64   `yaml:"critical_exit_multiplier"`
	IntensityLowThreshold     *float64 `yaml:"intensity_low_threshold"`
	IntensityHighThreshold    *float64 `yaml:"intensity_high_threshold"`
	SoftSuspend               *float64 `yaml:"soft_suspend"`
	HardStop                  *float64 `yaml:"hard_stop"`
	RecoveryRate              *float64 `yaml:"recovery_rate"`
	RecoveryCap               *float64 `yaml:"recovery_cap"`
	ConfidenceMinimum         *float64 `yaml:"confidence_minimum"`
	ConfidenceDecayRatePerSec *float64 `yaml:"confidence_decay_rate_per_sec"`
	SoftAnomalySeverity       *float64 `yaml:"soft_anomaly_severity"`
	HardAnomalySeverity       *float64 `yaml:"hard_anomaly_severity"`
	EventBufferSize           *int     `yaml:"event_buffer_size"`
}

// FromYAML loads a Config override file and returns a frozen Config with defaults applied
// for every field the file does not mention. Operators use this to tune thresholds without
// a rebuild, per spec.md §6.
func FromYAML(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	var overrides yamlOverrides
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg := defaults()
	applyOverrides(&cfg, overrides)
	return cfg, nil
}

func applyOverrides(cfg *Config, o yamlOverrides) {
	if o.MaxTokensPerMinute != nil {
		cfg.MaxTokensPerMinute = *o.MaxTokensPerMinute
	}
	if o.MaxToolCallsPerMinute != nil {
		cfg.MaxToolCallsPerMinute = *o.MaxToolCallsPerMinute
	}
	if o.LoopSimilarityThreshold != nil {
		cfg.LoopSimilarityThreshold = *o.LoopSimilarityThreshold
	}
	if o.LoopWindowSize != nil {
		cfg.LoopWindowSize = *o.LoopWindowSize
	}
	if o.TempoCompressionRatio != nil {
		cfg.TempoCompressionRatio = *o.TempoCompressionRatio
	}
	if o.CooldownDurationMs != nil {
		cfg.CooldownDurationMs = *o.CooldownDurationMs
	}
	if o.MinStateDurationMs != nil {
		cfg.MinStateDurationMs = *o.MinStateDurationMs
	}
	if o.CriticalExitMultiplier != nil {
		cfg.CriticalExitMultiplier = *o.CriticalExitMultiplier
	}
	if o.IntensityLowThreshold != nil {
		cfg.IntensityLowThreshold = *o.IntensityLowThreshold
	}
	if o.IntensityHighThreshold != nil {
		cfg.IntensityHighThreshold = *o.IntensityHighThreshold
	}
	if o.SoftSuspend != nil {
		cfg.SoftSuspend = *o.SoftSuspend
	}
	if o.HardStop != nil {
		cfg.HardStop = *o.HardStop
	}
	if o.RecoveryRate != nil {
		cfg.RecoveryRate = *o.RecoveryRate
	}
	if o.RecoveryCap != nil {
		cfg.RecoveryCap = *o.RecoveryCap
	}
	if o.ConfidenceMinimum != nil {
		cfg.ConfidenceMinimum = *o.ConfidenceMinimum
	}
	if o.ConfidenceDecayRatePerSec != nil {
		cfg.ConfidenceDecayRatePerSec = *o.ConfidenceDecayRatePerSec
	}
	if o.SoftAnomalySeverity != nil {
		cfg.SoftAnomalySeverity = *o.SoftAnomalySeverity
	}
	if o.HardAnomalySeverity != nil {
		cfg.HardAnomalySeverity = *o.HardAnomalySeverity
	}
	if o.EventBufferSize != nil {
		cfg.EventBufferSize = *o.EventBufferSize
	}
}

// Fingerprint returns a SHA-256 hex digest of the config's canonical JSON serialization.
// It identifies which threshold set produced a given decision stream; nothing in this
// module attaches it to the records that store/sqlite or sink/mongo persist. It has no bearing on the §6 replay-parity fingerprint, which is defined purely
// over the event/intent/decision/result stream.
func (c Config) Fingerprint() string {
	// Field order is fixed by struct definition order, so json.Marshal of a struct (not a
	// map) is already canonical here.
	b, err := json.Marshal(c)
	if err != nil {
		// Config contains only plain numeric fields; Marshal cannot fail.
		panic(fmt.Sprintf("config: marshal for fingerprint: %v", err))
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
