package orchestrator

// #region imports
import (
	"github.com/danielpatrickdp/boundary-state/internal/enum"
	"github.com/danielpatrickdp/boundary-state/internal/state"
)

// #endregion

// #region rule

// Rule names one of the blocking rules that can forbid an exit.
type Rule int

const (
	ObservationWindow Rule = iota // too few bars since entry
	StructuralHold                // hold >= tau_min and a streak of dir_threshold bars either way
	ForcePersistence              // force still at or above force_min
)

var ruleNames = enum.Names{"observation_window", "structural_hold", "force_persistence"}

// Rules lists every rule in priority order.
var Rules = []Rule{ObservationWindow, StructuralHold, ForcePersistence}

func (r Rule) String() string                { return ruleNames.String("rule", int(r)) }
func (r Rule) MarshalText() ([]byte, error) { return ruleNames.Marshal("rule", int(r)) }
func (r *Rule) UnmarshalText(b []byte) error {
	i, err := ruleNames.Parse("rule", b)
	if err != nil {
		return err
	}
	*r = Rule(i)
	return nil
}

// #endregion

// #region config

// Config holds the session constants. Do not casually change them.
type Config struct {
	Enabled               bool    // false: exits are never blocked
	ObservationWindow     int     // bars after entry during which exit is blocked
	ForceMin              float64 // force at or above this blocks exit
	TauMin                int     // hold time that, with the streak, blocks exit
	DirThreshold          int     // |streak| that, with the hold, blocks exit; a streak against the position counts too
	ForceAccumulationGate float64 // accumulated force that unlocks extended hold
}

// DefaultConfig returns the calibrated session constants.
func DefaultConfig() Config {
	return Config{
		Enabled:               true,
		ObservationWindow:     3,
		ForceMin:              10.0,
		TauMin:                5,
		DirThreshold:          3,
		ForceAccumulationGate: 100.0,
	}
}

// #endregion

// #region session

// Session is created at entry, mutated every bar while the position is
// open, and discarded at exit.
type Session struct {
	ID               string          `json:"id"`
	Direction        state.Direction `json:"direction"`
	BarsSinceEnter   int             `json:"bars_since_enter"`
	ForceAccumulated float64         `json:"force_accumulated"`
	LastHoldTime     int             `json:"last_hold_time"`
	LastForce        float64         `json:"last_force"`
	DirectionStreak  int             `json:"direction_streak"`
	CanExit          bool            `json:"can_exit"`
	BlockingRules    []Rule          `json:"blocking_rules"`
}

// #endregion

// #region verdict

// Verdict is the per-bar answer to "may this position exit now?".
type Verdict struct {
	SessionID     string `json:"session_id"`
	CanExit       bool   `json:"can_exit"`
	BlockingRules []Rule `json:"blocking_rules"`
	HoldReason    string `json:"hold_reason,omitempty"`
	ExtendedHold  bool   `json:"extended_hold"`
}

// Blocked reports whether any rule forbids exit.
func (v Verdict) Blocked() bool { return !v.CanExit }

// #endregion
