// Package mediator classifies each state into a behavioural phase from a
// short rolling window of Force values and the current hold time.
package mediator

import (
	"math"

	"github.com/danielpatrickdp/boundary-state/internal/ring"
	"github.com/danielpatrickdp/boundary-state/internal/state"
)

// #region mediator
// Mediator owns the Force window and the signed streak of same-sign bars.
// Not safe for concurrent use.
type Mediator struct {
	cfg    Config
	forces *ring.Buffer[float64]
	streak int
}

// New creates a mediator with empty buffers.
func New(cfg Config) *Mediator {
	if cfg.ForceWindow <= 0 || cfg.ForceWindow > 20 {
		cfg.ForceWindow = 20
	}
	return &Mediator{cfg: cfg, forces: ring.New[float64](cfg.ForceWindow)}
}

// Update records s.Force and classifies s against the boundary named by dir.
func (m *Mediator) Update(s state.State4D, dir state.Direction) Mediation {
	m.forces.Push(s.Force)
	m.advanceStreak(state.Sign(s.Force))

	flips := m.signFlips()
	vortex := flips >= m.cfg.VortexFlips || s.ForceUncertainty > m.cfg.VortexUncertainty
	committed := m.committed(s.Force, dir)

	phase := Accumulation
	switch {
	case s.HoldTime < m.cfg.MinHold:
		phase = Accumulation
	case vortex:
		phase = Vortex
	case committed:
		phase = Committed
	case s.Delta > m.cfg.ReleaseRatio*s.Force:
		phase = Release
	}

	return Mediation{
		Phase:              phase,
		InVortex:           vortex,
		DirectionCommitted: committed,
		Confidence:         confidence(phase, s),
		DirectionStreak:    m.streak,
		SignFlips:          flips,
	}
}

// Streak is the signed count of consecutive same-sign Force bars: positive
// for bullish runs, negative for bearish, 0 after a zero Force.
func (m *Mediator) Streak() int { return m.streak }

// Reset empties the window and clears the streak.
func (m *Mediator) Reset() {
	m.forces.Reset()
	m.streak = 0
}

// #endregion mediator

// #region helpers

func (m *Mediator) advanceStreak(sign int) {
	switch {
	case sign == 0:
		m.streak = 0
	case state.Sign(float64(m.streak)) == sign:
		m.streak += sign
	default:
		m.streak = sign
	}
}

// signFlips counts adjacent pairs of strictly opposite sign in the lookback.
func (m *Mediator) signFlips() int {
	vals := m.forces.Tail(m.cfg.VortexLookback)
	flips := 0
	for i := 1; i < len(vals); i++ {
		if state.Sign(vals[i])*state.Sign(vals[i-1]) < 0 {
			flips++
		}
	}
	return flips
}

// committed needs the current Force to agree with dir and to have kept its
// sign for DirThreshold bars in a row.
func (m *Mediator) committed(force float64, dir state.Direction) bool {
	want := int(dir.Sign())
	if state.Sign(force) != want {
		return false
	}
	return m.streak*want >= m.cfg.Thresholds.DirThreshold
}

func confidence(p Phase, s state.State4D) float64 {
	penalty := math.Min(0.3, 0.5*s.ForceUncertainty+0.5*s.ChannelUncertainty)
	bonus := math.Min(0.2, 0.02*float64(s.HoldTime))
	return state.Clamp(baseConfidence[p]-penalty+bonus, 0.1, 1.0)
}

// #endregion helpers
