// Package replay runs recorded candle series through a pipeline offline,
// tracking paper trades and checking fixtures of expected actions.
package replay

import (
	"go.uber.org/zap"

	"github.com/danielpatrickdp/boundary-state/internal/authority"
	"github.com/danielpatrickdp/boundary-state/internal/candle"
	"github.com/danielpatrickdp/boundary-state/internal/encoder"
	"github.com/danielpatrickdp/boundary-state/internal/pipeline"
)

// #region options

type options struct {
	logger      *zap.Logger
	recorders   []pipeline.Recorder
	authOpts    []authority.Option
	noAuthority bool
}

// Option configures a Harness.
type Option func(*options)

// WithLogger sets the logger handed to the pipeline.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithRecorder adds a recorder that sees every output after the ledger.
func WithRecorder(r pipeline.Recorder) Option {
	return func(o *options) { o.recorders = append(o.recorders, r) }
}

// WithAuthorityRecorder forwards every authority verdict to r.
func WithAuthorityRecorder(r authority.Recorder) Option {
	return func(o *options) { o.authOpts = append(o.authOpts, authority.WithRecorder(r)) }
}

// WithoutAuthority replays with every Enter admitted.
func WithoutAuthority() Option {
	return func(o *options) { o.noAuthority = true }
}

// #endregion options

// #region harness

// Harness owns a pipeline, its ledger and, unless disabled, an authority
// gate certified by the ledger.
type Harness struct {
	pipeline  *pipeline.Pipeline
	ledger    *Ledger
	authority *authority.Gate
	logger    *zap.Logger
}

// New builds a harness around enc.
func New(enc encoder.Encoder, cfg pipeline.Config, opts ...Option) *Harness {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	h := &Harness{
		ledger: NewLedger(cfg.Thresholds),
		logger: o.logger.Named("replay"),
	}
	popts := []pipeline.Option{pipeline.WithLogger(o.logger), pipeline.WithRecorder(h.ledger)}
	if !o.noAuthority {
		h.authority = authority.New(cfg.Authority, o.authOpts...)
		popts = append(popts, pipeline.WithAuthority(h.authority, h.ledger))
	}
	for _, r := range o.recorders {
		popts = append(popts, pipeline.WithRecorder(r))
	}
	h.pipeline = pipeline.New(enc, cfg, popts...)
	return h
}

// Pipeline exposes the underlying pipeline.
func (h *Harness) Pipeline() *pipeline.Pipeline { return h.pipeline }

// Ledger exposes the trade ledger.
func (h *Harness) Ledger() *Ledger { return h.ledger }

// Authority returns the authority gate, nil when replaying without one.
func (h *Harness) Authority() *authority.Gate { return h.authority }

// Run replays cs. On a rejected candle the result covers the bars processed
// so far and the error is returned alongside it.
func (h *Harness) Run(cs []candle.Candle) (Result, error) {
	outs, err := h.pipeline.Run(cs)
	trades := h.ledger.Trades()
	res := Result{Outputs: outs, Trades: trades, Summary: Summarize(outs, trades)}
	if err != nil {
		h.logger.Warn("replay stopped", zap.Int("bars", len(outs)), zap.Error(err))
		return res, err
	}
	h.logger.Info("replay complete",
		zap.Int("bars", res.Summary.Bars),
		zap.Int("trades", res.Summary.Trades),
		zap.Int("denied", res.Summary.Denied),
		zap.Int("fallbacks", res.Summary.Fallbacks),
		zap.String("net_pnl", res.Summary.NetPnL.String()))
	return res, nil
}

// Reset clears the pipeline, the ledger and the authority statistics.
func (h *Harness) Reset() {
	h.pipeline.Reset()
	h.ledger.Reset()
	if h.authority != nil {
		h.authority.ResetStats()
	}
}

// #endregion harness
