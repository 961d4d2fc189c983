package pipeline

import (
	"github.com/danielpatrickdp/boundary-state/internal/authority"
	"github.com/danielpatrickdp/boundary-state/internal/candle"
	"github.com/danielpatrickdp/boundary-state/internal/encoder"
	"github.com/danielpatrickdp/boundary-state/internal/eval"
	"github.com/danielpatrickdp/boundary-state/internal/gate"
	"github.com/danielpatrickdp/boundary-state/internal/hardening"
	"github.com/danielpatrickdp/boundary-state/internal/mediator"
	"github.com/danielpatrickdp/boundary-state/internal/orchestrator"
	"github.com/danielpatrickdp/boundary-state/internal/risk"
	"github.com/danielpatrickdp/boundary-state/internal/state"
	"github.com/danielpatrickdp/boundary-state/internal/validator"
)

// #region config
// Config bundles the configuration of every stage.
type Config struct {
	Thresholds state.Thresholds
	Encoder    encoder.Config
	Mediator   mediator.Config
	Gate       gate.GateConfig
	Eval       eval.EvalConfig
	Hardening  hardening.Config
	Risk       risk.Config
	Session    orchestrator.Config
	Authority  authority.Config
}

// DefaultConfig returns the calibrated defaults for all stages.
func DefaultConfig() Config {
	return Config{
		Thresholds: state.DefaultThresholds(),
		Encoder:    encoder.DefaultConfig(),
		Mediator:   mediator.DefaultConfig(),
		Gate:       gate.DefaultGateConfig(),
		Eval:       eval.DefaultEvalConfig(),
		Hardening:  hardening.DefaultConfig(),
		Risk:       risk.DefaultConfig(),
		Session:    orchestrator.DefaultConfig(),
		Authority:  authority.DefaultConfig(),
	}
}

// WithThresholds copies th into every stage that reads the shared thresholds.
func (c Config) WithThresholds(th state.Thresholds) Config {
	c.Thresholds = th
	c.Encoder.Thresholds = th
	c.Mediator.Thresholds = th
	c.Risk.Thresholds = th
	return c
}

// #endregion config

// #region output
// Output is the flat per-bar record.
type Output struct {
	Bar            int                   `json:"bar"`
	CloseTime      candle.Timestamp      `json:"close_time"`
	Close          float64               `json:"close"`
	State          state.State4D         `json:"state"`
	Validation     validator.Outcome     `json:"validation"`
	Mediation      mediator.Mediation    `json:"mediation"`
	Action         gate.Decision         `json:"action"`
	Direction      state.Direction       `json:"direction"`
	EncoderName    string                `json:"encoder_name"`
	WarmUp         hardening.WarmUp      `json:"warmup"`
	Fallback       bool                  `json:"fallback"`
	FallbackReason string                `json:"fallback_reason,omitempty"`
	Session        *orchestrator.Verdict `json:"session,omitempty"`
	Authority      *authority.Response   `json:"authority,omitempty"`
	Risk           *risk.Sample          `json:"risk,omitempty"`
}

// #endregion output

// #region hooks

// Recorder observes every Output after the bar is fully processed.
type Recorder interface {
	RecordOutput(Output)
}

// Certifier supplies the authority request for an Enter: the certified
// level and the retry context. SignalID is filled in by the pipeline.
type Certifier interface {
	Certify(o Output) authority.Request
}

// #endregion hooks
