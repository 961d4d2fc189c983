// Package pipeline runs one candle at a time through the decision stages:
// encoder, output check, validator, mediator, action gate, and, around an
// Enter, the authority gate and the session orchestrator.
package pipeline

import (
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/danielpatrickdp/boundary-state/internal/authority"
	"github.com/danielpatrickdp/boundary-state/internal/candle"
	"github.com/danielpatrickdp/boundary-state/internal/encoder"
	"github.com/danielpatrickdp/boundary-state/internal/eval"
	"github.com/danielpatrickdp/boundary-state/internal/gate"
	"github.com/danielpatrickdp/boundary-state/internal/hardening"
	"github.com/danielpatrickdp/boundary-state/internal/mediator"
	"github.com/danielpatrickdp/boundary-state/internal/orchestrator"
	"github.com/danielpatrickdp/boundary-state/internal/risk"
	"github.com/danielpatrickdp/boundary-state/internal/state"
	"github.com/danielpatrickdp/boundary-state/internal/validator"
)

// #region options

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithRecorder adds a recorder; recorders run in the order added.
func WithRecorder(r Recorder) Option {
	return func(p *Pipeline) { p.recorders = append(p.recorders, r) }
}

// WithAuthority routes every Enter through g, with c supplying the request.
func WithAuthority(g *authority.Gate, c Certifier) Option {
	return func(p *Pipeline) { p.authority, p.certifier = g, c }
}

// #endregion options

// #region pipeline

// Pipeline owns one instance of every stage. Not safe for concurrent use:
// each candle is fully processed before the next is admitted.
type Pipeline struct {
	cfg       Config
	enc       encoder.Encoder
	validator validator.Validator
	mediator  *mediator.Mediator
	gate      *gate.Gate
	session   *orchestrator.Orchestrator
	fallback  *hardening.Fallback
	coldStart *hardening.ColdStart
	clock     hardening.Clock
	riskAcc   risk.Accumulator

	authority *authority.Gate
	certifier Certifier
	recorders []Recorder
	logger    *zap.Logger
	newID     func() string

	bar int
}

// New builds a pipeline around enc. enc is Reset before use.
func New(enc encoder.Encoder, cfg Config, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:       cfg,
		enc:       enc,
		validator: validator.New(cfg.Thresholds),
		mediator:  mediator.New(cfg.Mediator),
		gate:      gate.NewGate(cfg.Gate),
		session:   orchestrator.New(cfg.Session),
		fallback:  hardening.NewFallback(eval.NewEvalHarness(cfg.Eval)),
		coldStart: hardening.NewColdStart(cfg.Hardening),
		logger:    zap.NewNop(),
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.Named("pipeline")
	p.enc.Reset()
	return p
}

// Encoder returns the active encoder.
func (p *Pipeline) Encoder() encoder.Encoder { return p.enc }

// Gate exposes the action gate's position state.
func (p *Pipeline) Gate() *gate.Gate { return p.gate }

// Bars is the number of candles admitted so far.
func (p *Pipeline) Bars() int { return p.bar }

// FallbackCount is the number of bars that used a substitute state.
func (p *Pipeline) FallbackCount() int { return p.fallback.Count() }

// SwapEncoder makes enc the active encoder. enc is Reset first and the
// warm-up restarts, since enc has seen none of the stream. An open position
// stays open.
func (p *Pipeline) SwapEncoder(enc encoder.Encoder) {
	enc.Reset()
	p.logger.Info("encoder swapped",
		zap.String("from", p.enc.Name()),
		zap.String("to", enc.Name()),
		zap.Int("bar", p.bar))
	p.enc = enc
	p.mediator.Reset()
	p.fallback.Reset()
	p.coldStart.Reset()
	p.riskAcc = risk.Accumulator{}
}

// Reset returns the pipeline to its initial state, closing any position.
func (p *Pipeline) Reset() {
	p.enc.Reset()
	p.mediator.Reset()
	p.fallback.Reset()
	p.coldStart.Reset()
	p.clock.Reset()
	p.gate.ExitPosition()
	p.session.End()
	p.riskAcc = risk.Accumulator{}
	p.bar = 0
}

// #endregion pipeline

// #region step

// Step processes one candle. A malformed candle, or one whose close_time is
// not after the previous one, is rejected with an error and leaves every
// stage untouched.
func (p *Pipeline) Step(c candle.Candle) (Output, error) {
	if err := c.Validate(); err != nil {
		return Output{}, fmt.Errorf("bar %d: %w", p.bar, err)
	}
	if err := p.clock.Admit(c.CloseTime); err != nil {
		return Output{}, fmt.Errorf("bar %d: %w", p.bar, err)
	}

	raw := p.enc.Update(c)
	s, check, fellBack := p.fallback.Guard(raw)
	if fellBack {
		p.logger.Warn("encoder output rejected, using fallback state",
			zap.String("encoder", p.enc.Name()),
			zap.Int("bar", p.bar),
			zap.String("reason", check.Reason))
	}

	th := p.cfg.Thresholds
	entry, open := p.gate.Position()
	dir := th.DirectionOf(s.ChannelPos)
	if open {
		dir = entry.Direction
	}

	v := p.validator.Validate(s, dir)
	m := p.mediator.Update(s, dir)
	warm := p.coldStart.Tick()

	out := Output{
		Bar:         p.bar,
		CloseTime:   c.CloseTime,
		Close:       c.Close,
		State:       s,
		Validation:  v,
		Mediation:   m,
		Direction:   dir,
		EncoderName: p.enc.Name(),
		WarmUp:      warm,
		Fallback:    fellBack,
	}
	if fellBack {
		out.FallbackReason = check.Reason
	}

	var sample risk.Sample
	var finalized bool
	p.riskAcc, sample, finalized = risk.Annotate(p.riskAcc, s.ChannelPos, s.Delta, p.cfg.Risk)
	if finalized {
		out.Risk = &sample
	}

	switch {
	case open:
		out.Action, out.Session = p.stepOpen(s, v, m, warm, entry)
	case warm.Suppressed():
		out.Action = gate.Decision{
			Action: gate.Wait,
			Reason: fmt.Sprintf("cold start: %s bar %d of %d", warm, p.coldStart.Bars(), p.cfg.Hardening.WarmUpBars),
			Risk:   gate.RiskLow,
		}
	default:
		out.Action = p.gate.Evaluate(s, v, m)
		if out.Action.Action == gate.Enter {
			p.enter(&out)
		}
	}

	p.bar++
	p.logger.Debug("bar",
		zap.Int("bar", out.Bar),
		zap.Int64("close_time", int64(out.CloseTime)),
		zap.Stringer("action", out.Action.Action),
		zap.Stringer("phase", out.Mediation.Phase),
		zap.Stringer("validation", out.Validation.Kind),
		zap.Int("hold", s.HoldTime))
	for _, r := range p.recorders {
		r.RecordOutput(out)
	}
	return out, nil
}

// stepOpen advances the session and decides Hold or Exit. During a warm-up
// restarted by an encoder swap the position is simply held.
func (p *Pipeline) stepOpen(s state.State4D, v validator.Outcome, m mediator.Mediation, warm hardening.WarmUp, entry gate.Entry) (gate.Decision, *orchestrator.Verdict) {
	sign := entry.Direction.Sign()
	verdict := p.session.Update(s.HoldTime, s.Force*sign, m.DirectionStreak*int(sign))

	var d gate.Decision
	if warm.Suppressed() {
		d = gate.Decision{
			Action:       gate.Hold,
			Reason:       fmt.Sprintf("cold start: %s, holding open position", warm),
			Risk:         gate.RiskMedium,
			PositionSize: entry.Size,
		}
	} else {
		d = p.gate.Evaluate(s, v, m)
	}

	// a vortex exits unconditionally; a lost direction waits for the session rules
	if d.Action == gate.Exit && d.ExitReason == gate.ExitDirectionLost && verdict.Blocked() {
		d = d.Defer(verdict.HoldReason, entry.Size)
	}
	if d.Action == gate.Exit {
		p.exit(d, entry)
	}
	return d, &verdict
}

func (p *Pipeline) enter(out *Output) {
	if p.authority != nil && p.certifier != nil {
		req := p.certifier.Certify(*out)
		req.SignalID = p.newID()
		resp := p.authority.Decide(req)
		out.Authority = &resp
		if !resp.Allowed() {
			p.logger.Info("entry denied",
				zap.Int("bar", out.Bar),
				zap.Int("theta", resp.Theta),
				zap.Stringer("code", resp.Code),
				zap.String("reason", resp.Reason))
			out.Action = gate.Decision{
				Action: gate.Wait,
				Reason: "authority denied: " + resp.Reason,
				Risk:   out.Action.Risk,
			}
			return
		}
	}

	p.gate.EnterPosition(gate.Entry{
		Direction: out.Direction,
		Bar:       out.Bar,
		CloseTime: out.CloseTime,
		Price:     out.Close,
		Size:      out.Action.PositionSize,
		State:     out.State,
	})
	session := p.session.Start(out.Direction)
	p.logger.Info("position entered",
		zap.String("session", session.ID),
		zap.Int("bar", out.Bar),
		zap.Stringer("direction", out.Direction),
		zap.Float64("size", out.Action.PositionSize),
		zap.Float64("price", out.Close))
}

func (p *Pipeline) exit(d gate.Decision, entry gate.Entry) {
	p.gate.ExitPosition()
	session, _ := p.session.End()
	p.logger.Info("position exited",
		zap.String("session", session.ID),
		zap.Stringer("reason", d.ExitReason),
		zap.Int("entry_bar", entry.Bar),
		zap.Int("bars_held", session.BarsSinceEnter))
}

// #endregion step

// #region run

// Run steps through cs, stopping at the first rejected candle.
func (p *Pipeline) Run(cs []candle.Candle) ([]Output, error) {
	outs := make([]Output, 0, len(cs))
	for _, c := range cs {
		o, err := p.Step(c)
		if err != nil {
			return outs, err
		}
		outs = append(outs, o)
	}
	return outs, nil
}

// #endregion run
