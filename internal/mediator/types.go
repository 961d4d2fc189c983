package mediator

import (
	"github.com/danielpatrickdp/boundary-state/internal/enum"
	"github.com/danielpatrickdp/boundary-state/internal/state"
)

// #region phase
// Phase is the behavioural phase of a validated state.
type Phase int

const (
	Accumulation Phase = iota
	Vortex
	Committed
	Release
)

var phaseNames = enum.Names{"accumulation", "vortex", "committed", "release"}

func (p Phase) String() string                { return phaseNames.String("phase", int(p)) }
func (p Phase) MarshalText() ([]byte, error) { return phaseNames.Marshal("phase", int(p)) }
func (p *Phase) UnmarshalText(b []byte) error {
	i, err := phaseNames.Parse("phase", b)
	if err != nil {
		return err
	}
	*p = Phase(i)
	return nil
}

// baseConfidence is the starting confidence of each phase.
var baseConfidence = [...]float64{
	Accumulation: 0.5,
	Vortex:       0.3,
	Committed:    0.8,
	Release:      0.7,
}

// #endregion phase

// #region config
// Config holds the mediator's windows and cut-offs.
type Config struct {
	ForceWindow       int     // rolling Force values kept (<=20)
	VortexLookback    int     // values inspected for sign flips
	VortexFlips       int     // flips within the lookback that mean vortex
	VortexUncertainty float64 // force uncertainty above this means vortex
	MinHold           int     // hold below this is always accumulation
	ReleaseRatio      float64 // delta > ratio*force means release
	Thresholds        state.Thresholds
}

// DefaultConfig returns the calibrated mediator settings.
func DefaultConfig() Config {
	return Config{
		ForceWindow:       20,
		VortexLookback:    5,
		VortexFlips:       2,
		VortexUncertainty: 0.3,
		MinHold:           3,
		ReleaseRatio:      2.0,
		Thresholds:        state.DefaultThresholds(),
	}
}

// #endregion config

// #region mediation
// Mediation is the mediator's output for one bar.
type Mediation struct {
	Phase              Phase   `json:"phase"`
	InVortex           bool    `json:"in_vortex"`
	DirectionCommitted bool    `json:"direction_committed"`
	Confidence         float64 `json:"confidence"`
	DirectionStreak    int     `json:"direction_streak"`
	SignFlips          int     `json:"sign_flips"`
}

// #endregion mediation
