// Package config loads the YAML configuration shared by the binaries and
// turns it into stage configs and an encoder.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/danielpatrickdp/boundary-state/internal/codec"
	"github.com/danielpatrickdp/boundary-state/internal/encoder"
	"github.com/danielpatrickdp/boundary-state/internal/pipeline"
	"github.com/danielpatrickdp/boundary-state/internal/state"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

// Encoder kinds.
const (
	EncoderRule    = "rule"
	EncoderLearned = "learned"
	EncoderRemote  = "remote"
)

// #region types

// Config is the on-disk configuration. Zero-valued sections are filled from
// Default when loaded.
type Config struct {
	Thresholds ThresholdsConfig `yaml:"thresholds"`
	WarmUp     WarmUpConfig     `yaml:"warmup"`
	Session    SessionConfig    `yaml:"session"`
	Encoder    EncoderConfig    `yaml:"encoder"`
	Risk       RiskConfig       `yaml:"risk"`
	Journal    JournalConfig    `yaml:"journal"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Authority  AuthorityConfig  `yaml:"authority"`
}

// ThresholdsConfig carries the channel boundaries as ratios.
type ThresholdsConfig struct {
	ChannelHigh    float64 `yaml:"channel_high"`
	ChannelLow     float64 `yaml:"channel_low"`
	TauMinHigh     int     `yaml:"tau_min_high"`
	TauMinLow      int     `yaml:"tau_min_low"`
	TauOptimalHigh int     `yaml:"tau_optimal_high"`
	TauOptimalLow  int     `yaml:"tau_optimal_low"`
	DirThreshold   int     `yaml:"dir_threshold"`
}

type WarmUpConfig struct {
	Bars     int `yaml:"bars"`
	ColdBars int `yaml:"cold_bars"`
}

type SessionConfig struct {
	Enabled               bool    `yaml:"enabled"`
	ObservationWindow     int     `yaml:"observation_window"`
	ForceMin              float64 `yaml:"force_min"`
	TauMin                int     `yaml:"tau_min"`
	ForceAccumulationGate float64 `yaml:"force_accumulation_gate"`
}

// EncoderConfig selects the encoder. Weights is read for "learned";
// RemoteAddr and Timeout for "remote".
type EncoderConfig struct {
	Kind       string  `yaml:"kind"`
	RuleWeight float64 `yaml:"rule_weight"`
	Weights    string  `yaml:"weights"`
	RemoteAddr string  `yaml:"remote_addr"`
	Timeout    string  `yaml:"timeout"`
}

type RiskConfig struct {
	ElevatedEnergy float64 `yaml:"elevated_energy"`
	ExtremeEnergy  float64 `yaml:"extreme_energy"`
}

type JournalConfig struct {
	Path string `yaml:"path"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type AuthorityConfig struct {
	Enabled       bool `yaml:"enabled"`
	MaxLossInZone int  `yaml:"max_loss_in_zone"`
}

// #endregion types

// #region load

// Default returns the calibrated configuration with the rule encoder.
func Default() *Config {
	base := pipeline.DefaultConfig()
	th := base.Thresholds
	return &Config{
		Thresholds: ThresholdsConfig{
			ChannelHigh:    th.ChannelHigh.Float64(),
			ChannelLow:     th.ChannelLow.Float64(),
			TauMinHigh:     th.TauMinHigh,
			TauMinLow:      th.TauMinLow,
			TauOptimalHigh: th.TauOptimalHigh,
			TauOptimalLow:  th.TauOptimalLow,
			DirThreshold:   th.DirThreshold,
		},
		WarmUp: WarmUpConfig{Bars: base.Hardening.WarmUpBars, ColdBars: base.Hardening.ColdBars},
		Session: SessionConfig{
			Enabled:               base.Session.Enabled,
			ObservationWindow:     base.Session.ObservationWindow,
			ForceMin:              base.Session.ForceMin,
			TauMin:                base.Session.TauMin,
			ForceAccumulationGate: base.Session.ForceAccumulationGate,
		},
		Encoder: EncoderConfig{
			Kind:       EncoderRule,
			RuleWeight: encoder.DefaultRuleWeight,
			Timeout:    codec.DefaultTimeout.String(),
		},
		Risk:      RiskConfig{ElevatedEnergy: base.Risk.ElevatedEnergy, ExtremeEnergy: base.Risk.ExtremeEnergy},
		Logging:   LoggingConfig{Level: "info"},
		Authority: AuthorityConfig{Enabled: true, MaxLossInZone: base.Authority.MaxLossInZone},
	}
}

// Load reads path over Default, then applies BSTATE_* environment overrides.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}
	cfg.applyEnvOverrides()
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("BSTATE_ENCODER"); v != "" {
		c.Encoder.Kind = v
	}
	if v := os.Getenv("BSTATE_ENCODER_WEIGHTS"); v != "" {
		c.Encoder.Weights = v
	}
	if v := os.Getenv("BSTATE_ESTIMATOR_ADDR"); v != "" {
		c.Encoder.RemoteAddr = v
	}
	if v := os.Getenv("BSTATE_RULE_WEIGHT"); v != "" {
		if w, err := strconv.ParseFloat(v, 64); err == nil {
			c.Encoder.RuleWeight = w
		}
	}
	if v := os.Getenv("BSTATE_JOURNAL"); v != "" {
		c.Journal.Path = v
	}
	if v := os.Getenv("BSTATE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("BSTATE_METRICS_ADDR"); v != "" {
		c.Metrics.Addr = v
	}
}

// #endregion load

// #region validate

// Validate checks the values a stage would silently misbehave on.
func (c *Config) Validate() error {
	th := c.Thresholds
	if !(th.ChannelLow > 0 && th.ChannelLow < th.ChannelHigh && th.ChannelHigh < 1) {
		return fmt.Errorf("%w: channel thresholds need 0 < low < high < 1, got %v/%v", ErrInvalid, th.ChannelLow, th.ChannelHigh)
	}
	if th.TauMinHigh < 1 || th.TauMinLow < 1 {
		return fmt.Errorf("%w: tau_min must be at least 1", ErrInvalid)
	}
	if th.TauOptimalHigh < th.TauMinHigh || th.TauOptimalLow < th.TauMinLow {
		return fmt.Errorf("%w: tau_optimal must not be below tau_min", ErrInvalid)
	}
	if th.DirThreshold < 1 {
		return fmt.Errorf("%w: dir_threshold must be at least 1", ErrInvalid)
	}
	if c.WarmUp.Bars < 0 || c.WarmUp.ColdBars < 0 {
		return fmt.Errorf("%w: warm-up bars must not be negative", ErrInvalid)
	}
	if c.Risk.ElevatedEnergy > c.Risk.ExtremeEnergy {
		return fmt.Errorf("%w: elevated_energy above extreme_energy", ErrInvalid)
	}
	if c.Encoder.RuleWeight < 0 || c.Encoder.RuleWeight > 1 {
		return fmt.Errorf("%w: rule_weight %v outside [0,1]", ErrInvalid, c.Encoder.RuleWeight)
	}
	switch c.Encoder.Kind {
	case EncoderRule, EncoderLearned:
	case EncoderRemote:
		if c.Encoder.RemoteAddr == "" {
			return fmt.Errorf("%w: remote encoder needs remote_addr", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown encoder kind %q", ErrInvalid, c.Encoder.Kind)
	}
	if _, err := c.timeout(); err != nil {
		return fmt.Errorf("%w: encoder timeout: %v", ErrInvalid, err)
	}
	if _, err := zap.ParseAtomicLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("%w: logging level: %v", ErrInvalid, err)
	}
	return nil
}

func (c *Config) timeout() (time.Duration, error) {
	if c.Encoder.Timeout == "" {
		return codec.DefaultTimeout, nil
	}
	return time.ParseDuration(c.Encoder.Timeout)
}

// #endregion validate

// #region build

// Pipeline converts the file config into stage configs.
func (c *Config) Pipeline() pipeline.Config {
	th := state.DefaultThresholds()
	th.ChannelHigh = state.ToFixed(c.Thresholds.ChannelHigh)
	th.ChannelLow = state.ToFixed(c.Thresholds.ChannelLow)
	th.TauMinHigh, th.TauMinLow = c.Thresholds.TauMinHigh, c.Thresholds.TauMinLow
	th.TauOptimalHigh, th.TauOptimalLow = c.Thresholds.TauOptimalHigh, c.Thresholds.TauOptimalLow
	th.DirThreshold = c.Thresholds.DirThreshold

	out := pipeline.DefaultConfig().WithThresholds(th)
	out.Hardening.WarmUpBars = c.WarmUp.Bars
	out.Hardening.ColdBars = c.WarmUp.ColdBars
	out.Session.Enabled = c.Session.Enabled
	out.Session.ObservationWindow = c.Session.ObservationWindow
	out.Session.ForceMin = c.Session.ForceMin
	out.Session.TauMin = c.Session.TauMin
	out.Session.DirThreshold = th.DirThreshold
	out.Session.ForceAccumulationGate = c.Session.ForceAccumulationGate
	out.Risk.ElevatedEnergy = c.Risk.ElevatedEnergy
	out.Risk.ExtremeEnergy = c.Risk.ExtremeEnergy
	out.Authority.MaxLossInZone = c.Authority.MaxLossInZone
	return out
}

// NewEncoder builds the configured encoder. The returned close function
// releases the remote connection, if any, and is never nil.
func (c *Config) NewEncoder(pc pipeline.Config, logger *zap.Logger) (encoder.Encoder, func() error, error) {
	noop := func() error { return nil }
	switch c.Encoder.Kind {
	case EncoderRule, "":
		return encoder.NewRuleEncoder(pc.Encoder), noop, nil
	case EncoderLearned:
		est := encoder.IdentityEstimator()
		if c.Encoder.Weights != "" {
			loaded, err := encoder.LoadLinearEstimator(c.Encoder.Weights)
			if err != nil {
				return nil, nil, err
			}
			est = loaded
		}
		return encoder.NewLearnedEncoder(pc.Encoder, est, c.Encoder.RuleWeight, logger), noop, nil
	case EncoderRemote:
		timeout, err := c.timeout()
		if err != nil {
			return nil, nil, fmt.Errorf("%w: encoder timeout: %v", ErrInvalid, err)
		}
		client, err := codec.NewEstimatorClient(c.Encoder.RemoteAddr, timeout)
		if err != nil {
			return nil, nil, err
		}
		return encoder.NewLearnedEncoder(pc.Encoder, client, c.Encoder.RuleWeight, logger), client.Close, nil
	default:
		return nil, nil, fmt.Errorf("%w: unknown encoder kind %q", ErrInvalid, c.Encoder.Kind)
	}
}

// Logger builds a production zap logger at the configured level.
func (c *Config) Logger() (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	level, err := zap.ParseAtomicLevel(c.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("%w: logging level: %v", ErrInvalid, err)
	}
	zc.Level = level
	return zc.Build()
}

// #endregion build
