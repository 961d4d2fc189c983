package replay

import (
	"github.com/shopspring/decimal"

	"github.com/danielpatrickdp/boundary-state/internal/authority"
	"github.com/danielpatrickdp/boundary-state/internal/gate"
	"github.com/danielpatrickdp/boundary-state/internal/mediator"
	"github.com/danielpatrickdp/boundary-state/internal/pipeline"
	"github.com/danielpatrickdp/boundary-state/internal/state"
	"github.com/danielpatrickdp/boundary-state/internal/validator"
)

// #region level

// LevelFromOutput is the certified level θ of a bar: 0 unless the state
// validated, then one more for a committed phase and one more for a hold of
// at least twice the optimal hold time.
func LevelFromOutput(o pipeline.Output, th state.Thresholds) int {
	if o.Validation.Kind != validator.Validated {
		return 0
	}
	theta := 1
	if o.Mediation.Phase == mediator.Committed {
		theta++
	}
	if o.State.HoldTime >= 2*th.TauOptimal(o.Direction) {
		theta++
	}
	return theta
}

// #endregion level

// #region ledger

// Ledger follows the pipeline's positions as paper trades and supplies the
// retry context the authority gate asks for. It is both a
// pipeline.Certifier and a pipeline.Recorder and must be installed as both.
//
// A re-entry is a retry when the channel has not left the boundary zone
// since the previous exit. Losses count consecutively within one zone stay;
// leaving the zone or a non-losing trade resets the count.
type Ledger struct {
	th     state.Thresholds
	trades []Trade
	open   *Trade

	exited     bool // at least one exit, and the zone has not been left since
	lossStreak int
}

// NewLedger returns an empty ledger judging zones with th.
func NewLedger(th state.Thresholds) *Ledger {
	return &Ledger{th: th}
}

// Certify implements pipeline.Certifier.
func (l *Ledger) Certify(o pipeline.Output) authority.Request {
	return authority.Request{
		Theta:                 LevelFromOutput(o, l.th),
		IsRetry:               l.exited,
		ConsecutiveLossInZone: l.lossStreak,
	}
}

// RecordOutput implements pipeline.Recorder.
func (l *Ledger) RecordOutput(o pipeline.Output) {
	switch o.Action.Action {
	case gate.Enter:
		l.open = &Trade{
			Direction:  o.Direction,
			EntryBar:   o.Bar,
			EntryTime:  o.CloseTime,
			EntryPrice: o.Close,
			Retry:      l.exited,
		}
		if o.Authority != nil {
			l.open.Theta = o.Authority.Theta
		} else {
			l.open.Theta = LevelFromOutput(o, l.th)
		}
	case gate.Exit:
		if l.open == nil {
			break
		}
		t := *l.open
		t.ExitBar = o.Bar
		t.ExitTime = o.CloseTime
		t.ExitPrice = o.Close
		t.ExitReason = o.Action.ExitReason
		t.PnL = decimal.NewFromFloat(t.ExitPrice).
			Sub(decimal.NewFromFloat(t.EntryPrice)).
			Mul(decimal.NewFromFloat(t.Direction.Sign()))
		l.trades = append(l.trades, t)
		l.open = nil

		if t.Loss() {
			l.lossStreak++
		} else {
			l.lossStreak = 0
		}
		l.exited = true
	}

	if !l.th.InZone(o.State.ChannelPos) {
		l.exited = false
		l.lossStreak = 0
	}
}

// Trades returns the closed trades.
func (l *Ledger) Trades() []Trade {
	return append([]Trade(nil), l.trades...)
}

// Open returns the position in progress, if any.
func (l *Ledger) Open() (Trade, bool) {
	if l.open == nil {
		return Trade{}, false
	}
	return *l.open, true
}

// LossStreak is the current count of consecutive losses in the zone.
func (l *Ledger) LossStreak() int { return l.lossStreak }

// Reset forgets every trade.
func (l *Ledger) Reset() {
	l.trades = nil
	l.open = nil
	l.exited = false
	l.lossStreak = 0
}

// #endregion ledger
