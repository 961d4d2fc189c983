package replay

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/boundary-state/internal/authority"
	"github.com/danielpatrickdp/boundary-state/internal/candle"
	"github.com/danielpatrickdp/boundary-state/internal/gate"
	"github.com/danielpatrickdp/boundary-state/internal/mediator"
	"github.com/danielpatrickdp/boundary-state/internal/pipeline"
	"github.com/danielpatrickdp/boundary-state/internal/state"
	"github.com/danielpatrickdp/boundary-state/internal/validator"
)

// #region helpers

// scripted replays fixed states, ignoring the candles.
type scripted struct {
	states []state.State4D
	i      int
}

func (s *scripted) Name() string { return "scripted" }

func (s *scripted) Update(candle.Candle) state.State4D {
	out := s.states[s.i%len(s.states)]
	s.i++
	return out
}

func (s *scripted) Reset() { s.i = 0 }

func repeat(s state.State4D, n int) []state.State4D {
	out := make([]state.State4D, n)
	for i := range out {
		out[i] = s
	}
	return out
}

var (
	quiet     = state.State4D{ChannelPos: state.FixedHalf, ForceUncertainty: 0.1, ChannelUncertainty: 0.1}
	committed = state.State4D{Force: 2, ChannelPos: 9500, HoldTime: 7, Delta: 0.5, ForceUncertainty: 0.1, ChannelUncertainty: 0.1}
	// bearish bars that never leave the high zone
	turned = state.State4D{Force: -1, ChannelPos: 9500, Delta: 0.5, ForceUncertainty: 0.1, ChannelUncertainty: 0.1}
)

// losingCycles is 20 warm-up bars then three rounds of three committed bars
// followed by three bars against the position, all inside the high zone.
// Entries land on bars 22, 28 and 34; exits on 25 and 31.
func losingCycles() *scripted {
	ss := repeat(quiet, 20)
	for i := 0; i < 3; i++ {
		ss = append(ss, repeat(committed, 3)...)
		if i < 2 {
			ss = append(ss, repeat(turned, 3)...)
		}
	}
	return &scripted{states: ss}
}

// falling closes one point lower every bar, so every long loses.
func falling(n int) []candle.Candle {
	out := make([]candle.Candle, n)
	for i := range out {
		c := 200 - float64(i)
		out[i] = candle.Candle{Open: c, High: c + 1, Low: c - 1, Close: c, CloseTime: candle.Timestamp(1_700_000_000_000 + 60_000*int64(i))}
	}
	return out
}

type verdicts struct{ got []authority.Response }

func (v *verdicts) RecordAuthority(r authority.Response) { v.got = append(v.got, r) }

// #endregion helpers

func TestLedger_RetryThenCollapse(t *testing.T) {
	seen := &verdicts{}
	h := New(losingCycles(), pipeline.DefaultConfig(), WithAuthorityRecorder(seen))
	res, err := h.Run(falling(35))
	require.NoError(t, err)
	outs := res.Outputs

	for _, bar := range []int{22, 28} {
		require.Equal(t, gate.Enter, outs[bar].Action.Action, "bar %d: %s", bar, outs[bar].Action.Reason)
	}
	for _, bar := range []int{25, 31} {
		require.Equal(t, gate.Exit, outs[bar].Action.Action, "bar %d: %s", bar, outs[bar].Action.Reason)
	}

	require.Len(t, seen.got, 3)
	first, retry, last := seen.got[0], seen.got[1], seen.got[2]
	assert.True(t, first.Allowed())
	assert.Equal(t, 2, first.Theta)
	assert.True(t, retry.Allowed(), "retry after one loss")
	if assert.NotNil(t, retry.Policy) {
		assert.True(t, retry.Policy.AllowRetry)
	}
	assert.False(t, last.Allowed())
	assert.Equal(t, authority.StateCollapse, last.Code)

	assert.Equal(t, gate.Wait, outs[34].Action.Action, "denied entry waits")

	trades := res.Trades
	require.Len(t, trades, 2)
	assert.False(t, trades[0].Retry)
	assert.True(t, trades[1].Retry)
	assert.True(t, trades[0].PnL.Equal(decimal.NewFromInt(-3)), "first trade pnl %s", trades[0].PnL)
	assert.Equal(t, gate.ExitDirectionLost, trades[0].ExitReason)
	assert.Equal(t, 2, h.Ledger().LossStreak())

	s := res.Summary
	assert.Equal(t, 35, s.Bars)
	assert.Equal(t, 2, s.Entries)
	assert.Equal(t, 2, s.Exits)
	assert.Equal(t, 1, s.Denied)
	assert.Equal(t, 2, s.Losses)
	assert.Zero(t, s.Wins)
	assert.True(t, s.NetPnL.Equal(decimal.NewFromInt(-6)), "net pnl %s", s.NetPnL)
	assert.Equal(t, 1, h.Authority().Stats().Denied)
}

func TestLedger_WithoutAuthorityEntersThirdTime(t *testing.T) {
	h := New(losingCycles(), pipeline.DefaultConfig(), WithoutAuthority())
	res, err := h.Run(falling(35))
	require.NoError(t, err)
	require.Nil(t, h.Authority())

	assert.Equal(t, gate.Enter, res.Outputs[34].Action.Action)
	assert.Nil(t, res.Outputs[34].Authority)
	open, ok := h.Ledger().Open()
	require.True(t, ok)
	assert.Equal(t, 34, open.EntryBar)
	assert.True(t, open.Retry)
}

func TestLedger_LeavingZoneClearsRetryAndLosses(t *testing.T) {
	th := state.DefaultThresholds()
	l := NewLedger(th)

	enter := pipeline.Output{Bar: 0, Close: 100, Direction: state.High, State: committed,
		Action: gate.Decision{Action: gate.Enter}}
	exit := pipeline.Output{Bar: 3, Close: 99, State: turned,
		Action: gate.Decision{Action: gate.Exit, ExitReason: gate.ExitDirectionLost}}

	l.RecordOutput(enter)
	l.RecordOutput(exit)
	req := l.Certify(pipeline.Output{})
	assert.True(t, req.IsRetry)
	assert.Equal(t, 1, req.ConsecutiveLossInZone)

	l.RecordOutput(pipeline.Output{Bar: 4, State: quiet, Action: gate.Decision{Action: gate.Wait}})
	req = l.Certify(pipeline.Output{})
	assert.False(t, req.IsRetry)
	assert.Zero(t, req.ConsecutiveLossInZone)
}

func TestLevelFromOutput(t *testing.T) {
	th := state.DefaultThresholds()
	cases := []struct {
		name  string
		kind  validator.Kind
		phase mediator.Phase
		hold  int
		want  int
	}{
		{"pending", validator.Pending, mediator.Committed, 20, 0},
		{"rejected", validator.Reject, mediator.Committed, 20, 0},
		{"validated", validator.Validated, mediator.Accumulation, 7, 1},
		{"committed", validator.Validated, mediator.Committed, 7, 2},
		{"long hold", validator.Validated, mediator.Accumulation, 14, 2},
		{"committed long hold", validator.Validated, mediator.Committed, 14, 3},
	}
	for _, tc := range cases {
		o := pipeline.Output{
			Direction:  state.High,
			State:      state.State4D{HoldTime: tc.hold},
			Validation: validator.Outcome{Kind: tc.kind},
			Mediation:  mediator.Mediation{Phase: tc.phase},
		}
		assert.Equal(t, tc.want, LevelFromOutput(o, th), tc.name)
	}
}

func TestSummarize(t *testing.T) {
	deny := authority.Response{Authority: authority.Deny}
	outs := []pipeline.Output{
		{Action: gate.Decision{Action: gate.Wait}, Fallback: true},
		{Action: gate.Decision{Action: gate.Wait}, Authority: &deny},
		{Action: gate.Decision{Action: gate.Enter}},
		{Action: gate.Decision{Action: gate.Hold}},
		{Action: gate.Decision{Action: gate.Exit}},
	}
	trades := []Trade{
		{PnL: decimal.RequireFromString("1.25")},
		{PnL: decimal.RequireFromString("-0.5")},
		{PnL: decimal.Zero},
	}
	s := Summarize(outs, trades)
	assert.Equal(t, 2, s.Actions[gate.Wait])
	assert.Equal(t, 1, s.Actions[gate.Hold])
	assert.Equal(t, 1, s.Entries)
	assert.Equal(t, 1, s.Exits)
	assert.Equal(t, 1, s.Denied)
	assert.Equal(t, 1, s.Fallbacks)
	assert.Equal(t, 3, s.Trades)
	assert.Equal(t, 1, s.Wins)
	assert.Equal(t, 1, s.Losses)
	assert.True(t, s.NetPnL.Equal(decimal.RequireFromString("0.75")), "net pnl %s", s.NetPnL)
}

func TestHarness_StopsOnMalformedCandle(t *testing.T) {
	cs := falling(5)
	cs[3].High = cs[3].Low - 1
	h := New(&scripted{states: []state.State4D{quiet}}, pipeline.DefaultConfig())
	res, err := h.Run(cs)
	require.Error(t, err)
	assert.Len(t, res.Outputs, 3)
	assert.Equal(t, 3, res.Summary.Bars)
}

func TestHarness_Reset(t *testing.T) {
	h := New(losingCycles(), pipeline.DefaultConfig())
	_, err := h.Run(falling(35))
	require.NoError(t, err)

	h.Reset()
	assert.Empty(t, h.Ledger().Trades())
	assert.Zero(t, h.Pipeline().Bars())
	assert.Zero(t, h.Authority().Stats().Allowed)

	res, err := h.Run(falling(35))
	require.NoError(t, err)
	assert.Len(t, res.Trades, 2, "same trades after reset")
}
