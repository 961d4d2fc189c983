// Package gate turns validator and mediator output into an action.
package gate

import (
	"fmt"
	"math"

	"github.com/danielpatrickdp/boundary-state/internal/mediator"
	"github.com/danielpatrickdp/boundary-state/internal/state"
	"github.com/danielpatrickdp/boundary-state/internal/validator"
)

// #region gate
// Gate is a two-state machine: flat, or holding one position. The open flag
// and entry snapshot change only through EnterPosition and ExitPosition.
type Gate struct {
	config GateConfig
	open   bool
	entry  Entry
}

// NewGate creates a flat gate with the given configuration.
func NewGate(config GateConfig) *Gate {
	return &Gate{config: config}
}

// Evaluate picks the action for the current bar. It reads the open flag but
// never changes it.
func (g *Gate) Evaluate(s state.State4D, v validator.Outcome, m mediator.Mediation) Decision {
	if g.open {
		return g.evaluateOpen(s, m)
	}
	return g.evaluateFlat(s, v, m)
}

func (g *Gate) evaluateFlat(s state.State4D, v validator.Outcome, m mediator.Mediation) Decision {
	switch v.Kind {
	case validator.Reject:
		return Decision{Action: Wait, Reason: v.Reason.String(), Risk: RiskLow}
	case validator.Pending:
		return Decision{Action: Observe, Reason: v.Reason.String(), Risk: RiskLow}
	}

	switch m.Phase {
	case mediator.Vortex:
		return Decision{Action: Wait, Reason: "vortex: no directional commitment", Risk: RiskHigh}
	case mediator.Committed:
		size := g.Size(s.HoldTime, m.Confidence)
		d := Decision{
			Action:        Enter,
			Reason:        fmt.Sprintf("committed %s, confidence %.2f", v.Direction, m.Confidence),
			Risk:          RiskMedium,
			PositionSize:  size,
			StopCondition: g.stopCondition(v.Direction),
		}
		if size < g.config.EnterMinSize {
			d.Action = Ready
			d.Reason = fmt.Sprintf("committed %s, size %.2f below entry minimum", v.Direction, size)
		}
		return d
	default:
		return Decision{Action: Observe, Reason: "state forming", Risk: RiskLow}
	}
}

func (g *Gate) evaluateOpen(s state.State4D, m mediator.Mediation) Decision {
	if m.Phase == mediator.Vortex {
		return Decision{
			Action:     Exit,
			Reason:     "vortex: preserve capital",
			Risk:       RiskHigh,
			ExitReason: ExitVortex,
		}
	}
	if against := -m.DirectionStreak * int(g.entry.Direction.Sign()); against >= g.config.DirectionLostBars {
		return Decision{
			Action:     Exit,
			Reason:     fmt.Sprintf("direction lost for %d bars", against),
			Risk:       RiskMedium,
			ExitReason: ExitDirectionLost,
		}
	}
	if m.Phase == mediator.Release {
		return Decision{
			Action:        Hold,
			Reason:        "release under way: target the release",
			Risk:          RiskLow,
			PositionSize:  1.0,
			StopCondition: g.stopCondition(g.entry.Direction),
		}
	}
	return Decision{
		Action:        Hold,
		Reason:        fmt.Sprintf("holding %s, phase %s", g.entry.Direction, m.Phase),
		Risk:          RiskMedium,
		PositionSize:  g.entry.Size,
		StopCondition: g.stopCondition(g.entry.Direction),
	}
}

// #endregion gate

// #region position

// EnterPosition opens a position from e.
func (g *Gate) EnterPosition(e Entry) {
	g.open = true
	g.entry = e
}

// ExitPosition closes the open position and returns its entry snapshot.
func (g *Gate) ExitPosition() (Entry, bool) {
	if !g.open {
		return Entry{}, false
	}
	e := g.entry
	g.open = false
	g.entry = Entry{}
	return e, true
}

// Open reports whether a position is held.
func (g *Gate) Open() bool { return g.open }

// Position returns the entry snapshot of the open position.
func (g *Gate) Position() (Entry, bool) { return g.entry, g.open }

// #endregion position

// #region sizing

// Size is clamp(base + min(cap, rate*hold) + weight*confidence, 0, 1).
func (g *Gate) Size(hold int, confidence float64) float64 {
	holdPart := math.Min(g.config.HoldSizeCap, g.config.HoldSizeRate*float64(hold))
	return state.Clamp(g.config.BaseSize+holdPart+g.config.ConfidenceWeight*confidence, 0, 1)
}

func (g *Gate) stopCondition(dir state.Direction) string {
	return fmt.Sprintf("exit on vortex or %d bars of force against %s", g.config.DirectionLostBars, dir)
}

// #endregion sizing

// #region deferral

// Defer turns an Exit that a session rule still blocks into a Hold.
func (d Decision) Defer(rule string, size float64) Decision {
	if d.Action != Exit {
		return d
	}
	return Decision{
		Action:        Hold,
		Reason:        fmt.Sprintf("exit (%s) blocked by %s", d.ExitReason, rule),
		Risk:          d.Risk,
		PositionSize:  size,
		StopCondition: d.StopCondition,
		ExitReason:    ExitNone,
	}
}

// #endregion deferral
