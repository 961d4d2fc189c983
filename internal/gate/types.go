package gate

import (
	"github.com/danielpatrickdp/boundary-state/internal/candle"
	"github.com/danielpatrickdp/boundary-state/internal/enum"
	"github.com/danielpatrickdp/boundary-state/internal/state"
)

// #region action
// Action is the concrete instruction emitted for one bar.
type Action int

const (
	Wait Action = iota
	Observe
	Ready
	Enter
	Hold
	Exit
)

var actionNames = enum.Names{"WAIT", "OBSERVE", "READY", "ENTER", "HOLD", "EXIT"}

// Actions lists every action in declaration order.
var Actions = []Action{Wait, Observe, Ready, Enter, Hold, Exit}

func (a Action) String() string                { return actionNames.String("action", int(a)) }
func (a Action) MarshalText() ([]byte, error) { return actionNames.Marshal("action", int(a)) }
func (a *Action) UnmarshalText(b []byte) error {
	i, err := actionNames.Parse("action", b)
	if err != nil {
		return err
	}
	*a = Action(i)
	return nil
}

// #endregion action

// #region risk-level
// RiskLevel grades the risk attached to a decision.
type RiskLevel int

const (
	RiskLow RiskLevel = iota
	RiskMedium
	RiskHigh
)

var riskNames = enum.Names{"LOW", "MEDIUM", "HIGH"}

func (r RiskLevel) String() string                { return riskNames.String("risk level", int(r)) }
func (r RiskLevel) MarshalText() ([]byte, error) { return riskNames.Marshal("risk level", int(r)) }
func (r *RiskLevel) UnmarshalText(b []byte) error {
	i, err := riskNames.Parse("risk level", b)
	if err != nil {
		return err
	}
	*r = RiskLevel(i)
	return nil
}

// #endregion risk-level

// #region exit-reason
// ExitReason names why an open position is being closed.
type ExitReason int

const (
	ExitNone ExitReason = iota
	ExitVortex
	ExitDirectionLost
)

var exitReasonNames = enum.Names{"none", "vortex", "direction_lost"}

func (e ExitReason) String() string                { return exitReasonNames.String("exit reason", int(e)) }
func (e ExitReason) MarshalText() ([]byte, error) { return exitReasonNames.Marshal("exit reason", int(e)) }
func (e *ExitReason) UnmarshalText(b []byte) error {
	i, err := exitReasonNames.Parse("exit reason", b)
	if err != nil {
		return err
	}
	*e = ExitReason(i)
	return nil
}

// #endregion exit-reason

// #region gate-config
// GateConfig holds the sizing formula and exit thresholds.
type GateConfig struct {
	BaseSize          float64 // size floor for a committed entry
	HoldSizeRate      float64 // size added per bar of hold
	HoldSizeCap       float64 // cap on the hold contribution
	ConfidenceWeight  float64 // size added per unit of confidence
	EnterMinSize      float64 // below this a committed state is only Ready
	DirectionLostBars int     // consecutive bars against the position that force an exit
}

// DefaultGateConfig returns the calibrated gate settings.
func DefaultGateConfig() GateConfig {
	return GateConfig{
		BaseSize:          0.3,
		HoldSizeRate:      0.05,
		HoldSizeCap:       0.4,
		ConfidenceWeight:  0.3,
		EnterMinSize:      0.5,
		DirectionLostBars: 3,
	}
}

// #endregion gate-config

// #region decision
// Decision is the output of the gate evaluation.
type Decision struct {
	Action        Action     `json:"action"`
	Reason        string     `json:"reason"`
	Risk          RiskLevel  `json:"risk_level"`
	PositionSize  float64    `json:"position_size"`
	StopCondition string     `json:"stop_condition,omitempty"`
	ExitReason    ExitReason `json:"exit_reason"`
}

// Entry is the snapshot taken when a position is opened.
type Entry struct {
	Direction state.Direction  `json:"direction"`
	Bar       int              `json:"bar"`
	CloseTime candle.Timestamp `json:"close_time"`
	Price     float64          `json:"price"`
	Size      float64          `json:"size"`
	State     state.State4D    `json:"state"`
}

// #endregion decision
