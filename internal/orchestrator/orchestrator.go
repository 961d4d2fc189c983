// Package orchestrator decides, bar by bar while a position is open, whether
// its exit is still blocked.
package orchestrator

// #region imports
import (
	"math"

	"github.com/google/uuid"

	"github.com/danielpatrickdp/boundary-state/internal/state"
)

// #endregion

// #region orchestrator-struct

// Orchestrator owns at most one open Session. Not safe for concurrent use.
type Orchestrator struct {
	cfg     Config
	session *Session
	newID   func() string
}

// #endregion

// #region constructor

// New creates an orchestrator with no open session.
func New(cfg Config) *Orchestrator {
	return &Orchestrator{cfg: cfg, newID: uuid.NewString}
}

// Config returns the session constants.
func (o *Orchestrator) Config() Config { return o.cfg }

// Enabled returns whether exits can be blocked at all.
func (o *Orchestrator) Enabled() bool { return o.cfg.Enabled }

// #endregion

// #region lifecycle

// Start opens a session for a position in dir, replacing any open one.
func (o *Orchestrator) Start(dir state.Direction) Session {
	o.session = &Session{ID: o.newID(), Direction: dir}
	return *o.session
}

// End discards the open session and returns its final state.
func (o *Orchestrator) End() (Session, bool) {
	if o.session == nil {
		return Session{}, false
	}
	s := *o.session
	o.session = nil
	return s, true
}

// Session returns a copy of the open session.
func (o *Orchestrator) Session() (Session, bool) {
	if o.session == nil {
		return Session{}, false
	}
	s := *o.session
	s.BlockingRules = append([]Rule(nil), o.session.BlockingRules...)
	return s, true
}

// #endregion

// #region update

// Update folds one bar into the open session. force and streak are expected
// already aligned to the position direction: positive means "with the
// position". Without an open session every exit is allowed.
func (o *Orchestrator) Update(holdTime int, force float64, streak int) Verdict {
	if o.session == nil {
		return Verdict{CanExit: true}
	}
	s := o.session
	s.BarsSinceEnter++
	s.ForceAccumulated += force
	s.LastHoldTime = holdTime
	s.LastForce = force
	s.DirectionStreak = streak

	var rules []Rule
	if o.cfg.Enabled {
		rules = o.blockingRules(s)
	}
	s.BlockingRules = rules
	s.CanExit = len(rules) == 0

	v := Verdict{
		SessionID:     s.ID,
		CanExit:       s.CanExit,
		BlockingRules: append([]Rule(nil), rules...),
		ExtendedHold:  o.ExtendedHold(),
	}
	if len(rules) > 0 {
		v.HoldReason = rules[0].String()
	}
	return v
}

// blockingRules evaluates the three rules independently, in priority order.
func (o *Orchestrator) blockingRules(s *Session) []Rule {
	var rules []Rule
	if s.BarsSinceEnter < o.cfg.ObservationWindow {
		rules = append(rules, ObservationWindow)
	}
	if s.LastHoldTime >= o.cfg.TauMin && absInt(s.DirectionStreak) >= o.cfg.DirThreshold {
		rules = append(rules, StructuralHold)
	}
	if s.LastForce >= o.cfg.ForceMin {
		rules = append(rules, ForcePersistence)
	}
	return rules
}

// ExtendedHold reports whether the accumulated force of the open session has
// reached the accumulation gate. It is independent of the blocking rules.
func (o *Orchestrator) ExtendedHold() bool {
	return o.session != nil && o.session.ForceAccumulated >= o.cfg.ForceAccumulationGate
}

// #endregion

// #region helpers

func absInt(v int) int {
	return int(math.Abs(float64(v)))
}

// #endregion
