package replay

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/danielpatrickdp/boundary-state/internal/candle"
	"github.com/danielpatrickdp/boundary-state/internal/encoder"
	"github.com/danielpatrickdp/boundary-state/internal/gate"
	"github.com/danielpatrickdp/boundary-state/internal/pipeline"
)

// #region fixture-types

// Fixture is the top-level JSON structure for a replay fixture: a candle
// series and the actions expected on some of its bars.
type Fixture struct {
	Description string               `json:"description"`
	Config      FixtureConfig        `json:"config"`
	Candles     json.RawMessage      `json:"candles"`
	Expected    []FixtureExpectation `json:"expected"`
}

// FixtureConfig overrides the defaults for one fixture. Unset fields keep
// the calibrated values.
type FixtureConfig struct {
	Encoder           string `json:"encoder,omitempty"` // "rule" (default) or "learned" with identity weights
	WarmUpBars        *int   `json:"warmup_bars,omitempty"`
	ObservationWindow *int   `json:"observation_window,omitempty"`
	Authority         *bool  `json:"authority,omitempty"`
}

// FixtureExpectation pins the action of one bar. Reason, when set, must be
// a substring of the decision's reason.
type FixtureExpectation struct {
	Bar    int         `json:"bar"`
	Action gate.Action `json:"action"`
	Reason string      `json:"reason,omitempty"`
}

// Mismatch is one expectation the replay did not meet.
type Mismatch struct {
	Bar    int
	Want   gate.Action
	Got    gate.Action
	Reason string
}

func (m Mismatch) String() string {
	return fmt.Sprintf("bar %d: expected %s, got %s (reason: %s)", m.Bar, m.Want, m.Got, m.Reason)
}

// #endregion fixture-types

// #region fixture-loader

// LoadFixture reads and parses a JSON fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	return &f, nil
}

// CandleSeries decodes the fixture's candles with the regular loader.
func (f *Fixture) CandleSeries() ([]candle.Candle, error) {
	cs, err := candle.ReadJSON(bytes.NewReader(f.Candles))
	if err != nil {
		return nil, fmt.Errorf("fixture candles: %w", err)
	}
	return cs, nil
}

// PipelineConfig applies the fixture's overrides to the defaults.
func (f *Fixture) PipelineConfig() pipeline.Config {
	cfg := pipeline.DefaultConfig()
	if f.Config.WarmUpBars != nil {
		cfg.Hardening.WarmUpBars = *f.Config.WarmUpBars
	}
	if f.Config.ObservationWindow != nil {
		cfg.Session.ObservationWindow = *f.Config.ObservationWindow
	}
	return cfg
}

// NewEncoder builds the fixture's encoder.
func (f *Fixture) NewEncoder(cfg pipeline.Config) (encoder.Encoder, error) {
	switch f.Config.Encoder {
	case "", encoder.RuleName:
		return encoder.NewRuleEncoder(cfg.Encoder), nil
	case encoder.LearnedName:
		return encoder.NewLearnedEncoder(cfg.Encoder, encoder.IdentityEstimator(), encoder.DefaultRuleWeight, nil), nil
	default:
		return nil, fmt.Errorf("fixture encoder %q: unknown", f.Config.Encoder)
	}
}

// #endregion fixture-loader

// #region fixture-run

// RunFixture replays f and compares the pinned bars. opts are passed to the
// harness; the fixture's own authority setting is applied last.
func RunFixture(f *Fixture, opts ...Option) (Result, []Mismatch, error) {
	cs, err := f.CandleSeries()
	if err != nil {
		return Result{}, nil, err
	}
	cfg := f.PipelineConfig()
	enc, err := f.NewEncoder(cfg)
	if err != nil {
		return Result{}, nil, err
	}
	if f.Config.Authority != nil && !*f.Config.Authority {
		opts = append(opts, WithoutAuthority())
	}

	res, err := New(enc, cfg, opts...).Run(cs)
	if err != nil {
		return res, nil, err
	}
	return res, Check(f.Expected, res.Outputs), nil
}

// Check compares outputs against expectations. A pinned bar past the end
// of outs is a mismatch with Got left as Wait and a reason saying so.
func Check(expected []FixtureExpectation, outs []pipeline.Output) []Mismatch {
	var out []Mismatch
	for _, e := range expected {
		if e.Bar < 0 || e.Bar >= len(outs) {
			out = append(out, Mismatch{Bar: e.Bar, Want: e.Action, Reason: fmt.Sprintf("only %d bars replayed", len(outs))})
			continue
		}
		d := outs[e.Bar].Action
		if d.Action != e.Action || (e.Reason != "" && !strings.Contains(d.Reason, e.Reason)) {
			out = append(out, Mismatch{Bar: e.Bar, Want: e.Action, Got: d.Action, Reason: d.Reason})
		}
	}
	return out
}

// #endregion fixture-run
