package encoder

import (
	"go.uber.org/zap"

	"github.com/danielpatrickdp/boundary-state/internal/candle"
	"github.com/danielpatrickdp/boundary-state/internal/state"
)

// LearnedName is the Name of the learned encoder.
const LearnedName = "learned"

// DefaultRuleWeight is the share of the rule value in a blended field (70/30).
const DefaultRuleWeight = 0.7

// #region learned-encoder

// LearnedEncoder blends an Estimator's Force, Delta and ForceUncertainty with
// the rule encoder's values. ChannelPos, HoldTime and ChannelUncertainty are
// passed through from the rule encoder untouched.
type LearnedEncoder struct {
	rule       *RuleEncoder
	est        Estimator
	ruleWeight float64
	logger     *zap.Logger
	failures   int
}

// NewLearnedEncoder wraps est. ruleWeight outside [0,1] is clamped; logger may be nil.
func NewLearnedEncoder(cfg Config, est Estimator, ruleWeight float64, logger *zap.Logger) *LearnedEncoder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LearnedEncoder{
		rule:       NewRuleEncoder(cfg),
		est:        est,
		ruleWeight: state.Clamp(ruleWeight, 0, 1),
		logger:     logger.Named("encoder"),
	}
}

func (e *LearnedEncoder) Name() string { return LearnedName }

// RuleWeight returns the blend weight given to the rule values.
func (e *LearnedEncoder) RuleWeight() float64 { return e.ruleWeight }

// Failures counts estimator errors since the last Reset.
func (e *LearnedEncoder) Failures() int { return e.failures }

// Update runs the rule encoder, then blends in the estimate. An estimator
// error degrades to the pure rule state for this bar.
func (e *LearnedEncoder) Update(c candle.Candle) state.State4D {
	base := e.rule.Update(c)

	est, err := e.est.Estimate(e.features(base))
	if err != nil {
		e.failures++
		e.logger.Warn("estimator failed, using rule state",
			zap.String("estimator", e.est.Name()),
			zap.Int64("close_time", int64(c.CloseTime)),
			zap.Error(err))
		return base
	}

	out := base
	out.Force = e.blend(base.Force, est.Force)
	out.Delta = e.blend(base.Delta, est.Delta)
	out.ForceUncertainty = e.blend(base.ForceUncertainty, est.ForceUncertainty)
	return out
}

// Reset clears the wrapped rule encoder.
func (e *LearnedEncoder) Reset() {
	e.rule.Reset()
	e.failures = 0
}

// blend is w·rule + (1-w)·learned, written as an offset from the rule value
// so an estimate equal to the rule value reproduces it bit for bit.
func (e *LearnedEncoder) blend(rule, learned float64) float64 {
	return rule + (1-e.ruleWeight)*(learned-rule)
}

func (e *LearnedEncoder) features(base state.State4D) Features {
	f := Features{
		Force:            base.Force,
		ChannelPos:       base.ChannelPos.Float64(),
		Delta:            base.Delta,
		HoldTime:         float64(base.HoldTime),
		ForceUncertainty: base.ForceUncertainty,
	}
	if prev, cur, ok := e.rule.lastTwo(); ok {
		f.BodyRatio = cur.BodyRatio()
		if prev.Close != 0 {
			f.Return = (cur.Close - prev.Close) / prev.Close
		}
	} else if cur, ok := e.rule.history.Latest(); ok {
		f.BodyRatio = cur.BodyRatio()
	}
	return f
}

// #endregion learned-encoder
