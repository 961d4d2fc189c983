package pipeline

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/boundary-state/internal/authority"
	"github.com/danielpatrickdp/boundary-state/internal/candle"
	"github.com/danielpatrickdp/boundary-state/internal/encoder"
	"github.com/danielpatrickdp/boundary-state/internal/gate"
	"github.com/danielpatrickdp/boundary-state/internal/hardening"
	"github.com/danielpatrickdp/boundary-state/internal/mediator"
	"github.com/danielpatrickdp/boundary-state/internal/orchestrator"
	"github.com/danielpatrickdp/boundary-state/internal/state"
	"github.com/danielpatrickdp/boundary-state/internal/validator"
)

// #region fixtures

func mk(i int, open, high, low, close float64) candle.Candle {
	return candle.Candle{Open: open, High: high, Low: low, Close: close, CloseTime: candle.Timestamp(1_700_000_000_000 + 60_000*int64(i))}
}

// prefix is 17 small bullish bars stepping down (channel pinned low), one
// bar lifting off the low band, one large bar reversing to the top of the
// channel, and one more bar up.
func prefix() []candle.Candle {
	var cs []candle.Candle
	for i := 0; i < 17; i++ {
		o := 110 - float64(i)
		cs = append(cs, mk(i, o, o+0.9, o-0.1, o+0.8))
	}
	cs = append(cs, mk(17, 95, 95.9, 94.9, 95.8))
	cs = append(cs, mk(18, 93, 111, 91, 109))
	cs = append(cs, mk(19, 109, 110.8, 108.8, 110.6))
	return cs
}

// trendingRun holds the top of the channel for 7 bars with every recent
// bar bullish.
func trendingRun() []candle.Candle {
	cs := prefix()
	o := 110.6
	for i := 20; i < 25; i++ {
		c := o + 1.6
		cs = append(cs, mk(i, o, c+0.2, o-0.2, c))
		o = c
	}
	return cs
}

// vortexRun holds the same boundary but the last five bars alternate.
func vortexRun() []candle.Candle {
	cs := prefix()
	return append(cs,
		mk(20, 110.6, 110.8, 109.9, 110.0),
		mk(21, 110.0, 111.6, 109.9, 111.5),
		mk(22, 111.5, 111.6, 110.8, 110.9),
		mk(23, 110.9, 112.6, 110.8, 112.5),
		mk(24, 112.5, 112.6, 111.8, 111.9),
	)
}

// scripted replays fixed states, ignoring the candles.
type scripted struct {
	states []state.State4D
	i      int
	resets int
}

func (s *scripted) Name() string { return "scripted" }

func (s *scripted) Update(candle.Candle) state.State4D {
	out := s.states[s.i%len(s.states)]
	s.i++
	return out
}

func (s *scripted) Reset() { s.i = 0; s.resets++ }

func quiet() state.State4D {
	return state.State4D{ChannelPos: state.FixedHalf, ForceUncertainty: 0.1, ChannelUncertainty: 0.1}
}

// entryScript warms up for 20 bars, then holds a committed high boundary
// for three bars (Enter on bar 22), then appends tail.
func entryScript(tail ...state.State4D) *scripted {
	var ss []state.State4D
	for i := 0; i < 20; i++ {
		ss = append(ss, quiet())
	}
	for i := 0; i < 3; i++ {
		ss = append(ss, state.State4D{Force: 2, ChannelPos: 9500, HoldTime: 7, Delta: 0.5, ForceUncertainty: 0.1, ChannelUncertainty: 0.1})
	}
	return &scripted{states: append(ss, tail...)}
}

func against(n int) []state.State4D {
	out := make([]state.State4D, n)
	for i := range out {
		out[i] = state.State4D{Force: -1, ChannelPos: 5000, Delta: 0.5, ForceUncertainty: 0.1, ChannelUncertainty: 0.1}
	}
	return out
}

func flat(n int) []candle.Candle {
	out := make([]candle.Candle, n)
	for i := range out {
		out[i] = mk(i, 100, 101, 99, 100.5)
	}
	return out
}

type fixedCertifier struct {
	req authority.Request
}

func (f fixedCertifier) Certify(Output) authority.Request { return f.req }

type collector struct{ outs []Output }

func (c *collector) RecordOutput(o Output) { c.outs = append(c.outs, o) }

func actions(outs []Output) []gate.Action {
	as := make([]gate.Action, len(outs))
	for i, o := range outs {
		as[i] = o.Action.Action
	}
	return as
}

// #endregion fixtures

func TestScenario_TrendingBoundaryEnters(t *testing.T) {
	p := New(encoder.NewRuleEncoder(encoder.DefaultConfig()), DefaultConfig())
	outs, err := p.Run(trendingRun())
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		assert.Equal(t, gate.Wait, outs[i].Action.Action, "bar %d", i)
	}
	for i := 20; i < 24; i++ {
		assert.Equal(t, gate.Observe, outs[i].Action.Action, "bar %d", i)
		assert.Equal(t, validator.Pending, outs[i].Validation.Kind, "bar %d", i)
	}

	last := outs[24]
	assert.Equal(t, 7, last.State.HoldTime)
	assert.Greater(t, last.State.ChannelPos, state.Fixed(9000))
	assert.Equal(t, state.High, last.Direction)
	assert.Equal(t, validator.Validated, last.Validation.Kind)
	assert.Equal(t, mediator.Committed, last.Mediation.Phase)
	assert.True(t, last.Mediation.DirectionCommitted)
	assert.Equal(t, gate.Enter, last.Action.Action)
	assert.Greater(t, last.Action.PositionSize, 0.0)
	assert.LessOrEqual(t, last.Action.PositionSize, 1.0)
	assert.InDelta(t, 0.721, last.Mediation.Confidence, 0.01)
	assert.Equal(t, encoder.RuleName, last.EncoderName)
	assert.True(t, p.Gate().Open())
}

func TestScenario_TrendingBoundaryAuthorizedLarge(t *testing.T) {
	auth := authority.New(authority.DefaultConfig())
	p := New(encoder.NewRuleEncoder(encoder.DefaultConfig()), DefaultConfig(),
		WithAuthority(auth, fixedCertifier{authority.Request{Theta: 3}}))
	outs, err := p.Run(trendingRun())
	require.NoError(t, err)

	last := outs[24]
	require.NotNil(t, last.Authority)
	assert.Equal(t, authority.Allow, last.Authority.Authority)
	assert.Equal(t, authority.SizeLarge, last.Authority.Policy.Size)
	assert.NotEmpty(t, last.Authority.SignalID)
	assert.Equal(t, gate.Enter, last.Action.Action)
	assert.Equal(t, 1, auth.Stats().AllowByTheta[3])
}

func TestScenario_AuthorityDenyKeepsGateFlat(t *testing.T) {
	auth := authority.New(authority.DefaultConfig())
	p := New(encoder.NewRuleEncoder(encoder.DefaultConfig()), DefaultConfig(),
		WithAuthority(auth, fixedCertifier{authority.Request{Theta: 1, IsRetry: true}}))
	outs, err := p.Run(trendingRun())
	require.NoError(t, err)

	last := outs[24]
	require.NotNil(t, last.Authority)
	assert.Equal(t, authority.RetryNotAllowed, last.Authority.Code)
	assert.Equal(t, gate.Wait, last.Action.Action)
	assert.Contains(t, last.Action.Reason, "retry not allowed at θ=1")
	assert.False(t, p.Gate().Open())
}

func TestScenario_VortexWaitsEvenWhenValidated(t *testing.T) {
	p := New(encoder.NewRuleEncoder(encoder.DefaultConfig()), DefaultConfig())
	outs, err := p.Run(vortexRun())
	require.NoError(t, err)

	last := outs[24]
	assert.Equal(t, 7, last.State.HoldTime)
	assert.Equal(t, validator.Validated, last.Validation.Kind)
	assert.True(t, last.Mediation.InVortex)
	assert.Equal(t, mediator.Vortex, last.Mediation.Phase)
	assert.Equal(t, gate.Wait, last.Action.Action)
	assert.Equal(t, gate.RiskHigh, last.Action.Risk)
	assert.False(t, p.Gate().Open())
}

func TestScenario_ColdStartAlwaysWaits(t *testing.T) {
	// bar 3 closes at the very top of its channel
	cs := []candle.Candle{
		mk(0, 100, 101, 99, 100),
		mk(1, 100, 101, 99, 100.5),
		mk(2, 100.5, 101, 99.5, 100.9),
		mk(3, 100.9, 108, 100.8, 107.95),
	}
	o := 107.95
	for i := 4; i < 15; i++ {
		cs = append(cs, mk(i, o, o+1.1, o-0.1, o+1))
		o++
	}
	p := New(encoder.NewRuleEncoder(encoder.DefaultConfig()), DefaultConfig())
	outs, err := p.Run(cs)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, outs[3].State.ChannelPos, state.Fixed(9900))
	for i, out := range outs {
		assert.Equal(t, gate.Wait, out.Action.Action, "bar %d", i)
		if i < 10 {
			assert.Equal(t, hardening.Cold, out.WarmUp, "bar %d", i)
		} else {
			assert.Equal(t, hardening.Warming, out.WarmUp, "bar %d", i)
		}
	}
}

func TestDeterminism(t *testing.T) {
	cs := append(trendingRun(), vortexRun()[20:]...)
	for i := 25; i < len(cs); i++ {
		cs[i].CloseTime = candle.Timestamp(1_700_000_000_000 + 60_000*int64(i))
	}
	run := func() []byte {
		p := New(encoder.NewRuleEncoder(encoder.DefaultConfig()), DefaultConfig())
		outs, err := p.Run(cs)
		require.NoError(t, err)
		decisions := make([]gate.Decision, len(outs))
		for i, o := range outs {
			decisions[i] = o.Action
		}
		b, err := json.Marshal(decisions)
		require.NoError(t, err)
		return b
	}
	assert.Equal(t, run(), run())
}

func TestLearnedIdentityMatchesRuleActions(t *testing.T) {
	rule := New(encoder.NewRuleEncoder(encoder.DefaultConfig()), DefaultConfig())
	learned := New(encoder.NewLearnedEncoder(encoder.DefaultConfig(), encoder.IdentityEstimator(), encoder.DefaultRuleWeight, nil), DefaultConfig())

	for _, cs := range [][]candle.Candle{trendingRun(), vortexRun()} {
		a, err := rule.Run(cs)
		require.NoError(t, err)
		b, err := learned.Run(cs)
		require.NoError(t, err)
		assert.Equal(t, actions(a), actions(b))
		rule.Reset()
		learned.Reset()
	}
}

func TestStep_RejectsMalformedAndOutOfOrder(t *testing.T) {
	p := New(encoder.NewRuleEncoder(encoder.DefaultConfig()), DefaultConfig())
	_, err := p.Step(mk(0, 100, 101, 99, 100))
	require.NoError(t, err)

	_, err = p.Step(mk(0, 100, 101, 99, 100))
	assert.True(t, errors.Is(err, candle.ErrOutOfOrder))

	bad := mk(1, 100, 101, 99, math.NaN())
	_, err = p.Step(bad)
	assert.True(t, errors.Is(err, candle.ErrMalformed))

	assert.Equal(t, 1, p.Bars())
	out, err := p.Step(mk(1, 100, 101, 99, 100))
	require.NoError(t, err)
	assert.Equal(t, 1, out.Bar)
}

func TestFallbackOnInvalidEncoderOutput(t *testing.T) {
	good := quiet()
	bad := quiet()
	bad.ForceUncertainty = math.NaN()
	enc := &scripted{states: []state.State4D{bad, good, bad}}

	c := &collector{}
	p := New(enc, DefaultConfig(), WithRecorder(c))
	outs, err := p.Run(flat(3))
	require.NoError(t, err)

	assert.True(t, outs[0].Fallback)
	assert.Equal(t, state.Neutral(), outs[0].State)
	assert.Contains(t, outs[0].FallbackReason, "force_uncertainty missing")
	assert.False(t, outs[1].Fallback)
	assert.True(t, outs[2].Fallback)
	assert.Equal(t, good, outs[2].State)
	assert.Equal(t, 2, p.FallbackCount())
	assert.Len(t, c.outs, 3)
}

func TestDirectionLostExit(t *testing.T) {
	enc := entryScript(against(4)...)
	p := New(enc, DefaultConfig())
	outs, err := p.Run(flat(27))
	require.NoError(t, err)

	assert.Equal(t, gate.Enter, outs[22].Action.Action)
	assert.Equal(t, gate.Hold, outs[23].Action.Action)
	assert.Equal(t, gate.Hold, outs[24].Action.Action)
	require.NotNil(t, outs[23].Session)
	assert.Equal(t, []orchestrator.Rule{orchestrator.ObservationWindow}, outs[23].Session.BlockingRules)

	assert.Equal(t, gate.Exit, outs[25].Action.Action)
	assert.Equal(t, gate.ExitDirectionLost, outs[25].Action.ExitReason)
	assert.True(t, outs[25].Session.CanExit)
	assert.False(t, p.Gate().Open())

	// flat again: the next bar is judged from scratch
	assert.Nil(t, outs[26].Session)
}

func TestDirectionLostExitDeferredBySession(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Session.ObservationWindow = 5
	p := New(entryScript(against(6)...), cfg)
	outs, err := p.Run(flat(29))
	require.NoError(t, err)

	for _, i := range []int{25, 26} {
		assert.Equal(t, gate.Hold, outs[i].Action.Action, "bar %d", i)
		assert.Contains(t, outs[i].Action.Reason, "blocked by observation_window", "bar %d", i)
		assert.Equal(t, "observation_window", outs[i].Session.HoldReason)
	}
	assert.Equal(t, gate.Exit, outs[27].Action.Action)
	assert.Equal(t, gate.ExitDirectionLost, outs[27].Action.ExitReason)
}

func TestDirectionLostExitDeferredByStructuralHold(t *testing.T) {
	// bearish bars that keep the channel pinned at the high boundary
	pinned := state.State4D{Force: -1, ChannelPos: 9500, HoldTime: 6, Delta: 0.5, ForceUncertainty: 0.1, ChannelUncertainty: 0.1}
	tail := []state.State4D{pinned, pinned, pinned, pinned}
	p := New(entryScript(append(tail, against(1)...)...), DefaultConfig())
	outs, err := p.Run(flat(28))
	require.NoError(t, err)

	assert.Equal(t, gate.Enter, outs[22].Action.Action)
	for _, i := range []int{25, 26} {
		out := outs[i]
		assert.Equal(t, gate.Hold, out.Action.Action, "bar %d", i)
		assert.Contains(t, out.Action.Reason, "exit (direction_lost) blocked by structural_hold", "bar %d", i)
		require.NotNil(t, out.Session)
		assert.Equal(t, []orchestrator.Rule{orchestrator.StructuralHold}, out.Session.BlockingRules, "bar %d", i)
		assert.LessOrEqual(t, out.Mediation.DirectionStreak, -3, "bar %d", i)
	}

	// the hold breaks and the deferred exit goes through
	assert.Equal(t, gate.Exit, outs[27].Action.Action)
	assert.Equal(t, gate.ExitDirectionLost, outs[27].Action.ExitReason)
	assert.True(t, outs[27].Session.CanExit)
	assert.False(t, p.Gate().Open())
}

func TestVortexExitIgnoresSessionBlocking(t *testing.T) {
	churn := state.State4D{Force: 1, ChannelPos: 9500, HoldTime: 8, Delta: 0.5, ForceUncertainty: 0.6, ChannelUncertainty: 0.1}
	p := New(entryScript(churn), DefaultConfig())
	outs, err := p.Run(flat(24))
	require.NoError(t, err)

	assert.Equal(t, gate.Enter, outs[22].Action.Action)
	out := outs[23]
	assert.True(t, out.Session.Blocked(), "still inside the observation window")
	assert.Equal(t, gate.Exit, out.Action.Action)
	assert.Equal(t, gate.ExitVortex, out.Action.ExitReason)
	assert.False(t, p.Gate().Open())
}

func TestSwapEncoderRestartsWarmUp(t *testing.T) {
	p := New(encoder.NewRuleEncoder(encoder.DefaultConfig()), DefaultConfig())
	cs := trendingRun()
	_, err := p.Run(cs[:22])
	require.NoError(t, err)

	next := &scripted{states: []state.State4D{quiet()}}
	p.SwapEncoder(next)
	assert.Equal(t, 1, next.resets)
	assert.Equal(t, "scripted", p.Encoder().Name())

	outs, err := p.Run(cs[22:])
	require.NoError(t, err)
	for _, o := range outs {
		assert.Equal(t, gate.Wait, o.Action.Action)
		assert.Equal(t, hardening.Cold, o.WarmUp)
		assert.Equal(t, "scripted", o.EncoderName)
	}
}

func TestSwapEncoderWhileOpenHolds(t *testing.T) {
	p := New(entryScript(), DefaultConfig())
	_, err := p.Run(flat(23))
	require.NoError(t, err)
	require.True(t, p.Gate().Open())

	p.SwapEncoder(&scripted{states: against(1)})
	cs := make([]candle.Candle, 5)
	for i := range cs {
		cs[i] = mk(23+i, 100, 101, 99, 100.5)
	}
	outs, err := p.Run(cs)
	require.NoError(t, err)
	for _, o := range outs {
		assert.Equal(t, gate.Hold, o.Action.Action)
		assert.NotNil(t, o.Session)
	}
	assert.True(t, p.Gate().Open())
}

func TestRiskSampleFinalizedOnZoneExit(t *testing.T) {
	tail := append([]state.State4D{}, against(1)...)
	p := New(entryScript(tail...), DefaultConfig())
	outs, err := p.Run(flat(24))
	require.NoError(t, err)

	require.NotNil(t, outs[23].Risk)
	assert.Equal(t, 3, outs[23].Risk.Bars)
	assert.InDelta(t, 1.5, outs[23].Risk.Energy, 1e-12)
	for _, o := range outs[:23] {
		assert.Nil(t, o.Risk)
	}
}

func TestOutputJSON(t *testing.T) {
	p := New(encoder.NewRuleEncoder(encoder.DefaultConfig()), DefaultConfig())
	out, err := p.Step(mk(0, 100, 101, 99, 100.5))
	require.NoError(t, err)

	b, err := json.Marshal(out)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	for _, key := range []string{"state", "validation", "mediation", "action", "direction", "encoder_name"} {
		assert.Contains(t, m, key)
	}
	assert.Equal(t, "WAIT", m["action"].(map[string]any)["action"])
	assert.Equal(t, "cold", m["warmup"])
	assert.NotContains(t, m, "session")
}
