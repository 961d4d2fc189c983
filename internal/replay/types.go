package replay

import (
	"github.com/shopspring/decimal"

	"github.com/danielpatrickdp/boundary-state/internal/candle"
	"github.com/danielpatrickdp/boundary-state/internal/gate"
	"github.com/danielpatrickdp/boundary-state/internal/pipeline"
	"github.com/danielpatrickdp/boundary-state/internal/state"
)

// #region types

// Trade is one paper position, entered and exited at bar closes.
type Trade struct {
	Direction  state.Direction  `json:"direction"`
	EntryBar   int              `json:"entry_bar"`
	EntryTime  candle.Timestamp `json:"entry_time"`
	EntryPrice float64          `json:"entry_price"`
	ExitBar    int              `json:"exit_bar"`
	ExitTime   candle.Timestamp `json:"exit_time"`
	ExitPrice  float64          `json:"exit_price"`
	ExitReason gate.ExitReason  `json:"exit_reason"`
	Theta      int              `json:"theta"`
	Retry      bool             `json:"retry"`
	PnL        decimal.Decimal  `json:"pnl"` // price points in the trade's favour
}

// Win reports a strictly positive result.
func (t Trade) Win() bool { return t.PnL.IsPositive() }

// Loss reports a strictly negative result.
func (t Trade) Loss() bool { return t.PnL.IsNegative() }

// Summary aggregates a replay run.
type Summary struct {
	Bars      int                 `json:"bars"`
	Actions   map[gate.Action]int `json:"actions"`
	Entries   int                 `json:"entries"`
	Exits     int                 `json:"exits"`
	Denied    int                 `json:"denied"`
	Fallbacks int                 `json:"fallbacks"`
	Trades    int                 `json:"trades"`
	Wins      int                 `json:"wins"`
	Losses    int                 `json:"losses"`
	NetPnL    decimal.Decimal     `json:"net_pnl"`
}

// Result is everything a replay run produced.
type Result struct {
	Outputs []pipeline.Output `json:"outputs"`
	Trades  []Trade           `json:"trades"`
	Summary Summary           `json:"summary"`
}

// #endregion types

// #region summarize

// Summarize counts outputs and trades. An Enter refused by the authority
// gate is reported under Wait and counted in Denied.
func Summarize(outs []pipeline.Output, trades []Trade) Summary {
	s := Summary{
		Bars:    len(outs),
		Actions: make(map[gate.Action]int, len(gate.Actions)),
		Trades:  len(trades),
		NetPnL:  decimal.Zero,
	}
	for _, o := range outs {
		s.Actions[o.Action.Action]++
		switch o.Action.Action {
		case gate.Enter:
			s.Entries++
		case gate.Exit:
			s.Exits++
		}
		if o.Authority != nil && !o.Authority.Allowed() {
			s.Denied++
		}
		if o.Fallback {
			s.Fallbacks++
		}
	}
	for _, t := range trades {
		switch {
		case t.Win():
			s.Wins++
		case t.Loss():
			s.Losses++
		}
		s.NetPnL = s.NetPnL.Add(t.PnL)
	}
	return s
}

// #endregion summarize
