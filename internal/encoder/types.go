package encoder

import (
	"github.com/danielpatrickdp/boundary-state/internal/candle"
	"github.com/danielpatrickdp/boundary-state/internal/state"
)

// #region encoder-interface

// Encoder turns one candle at a time into a State4D. Implementations keep
// their own rolling history; Reset must be called before an encoder is handed
// a stream it has not accumulated itself.
type Encoder interface {
	Name() string
	Update(c candle.Candle) state.State4D
	Reset()
}

// #endregion encoder-interface

// #region config

// Config sizes the rule encoder's rolling windows.
type Config struct {
	HistoryCap        int // raw candle history (100)
	ForceWindow       int // bars summed into Force (5)
	ChannelWindow     int // bars spanned by the channel (20)
	UncertaintyWindow int // trailing observations for std-dev (10)
	Thresholds        state.Thresholds
}

// DefaultConfig returns the calibrated window sizes.
func DefaultConfig() Config {
	return Config{
		HistoryCap:        100,
		ForceWindow:       5,
		ChannelWindow:     20,
		UncertaintyWindow: 10,
		Thresholds:        state.DefaultThresholds(),
	}
}

// #endregion config

// #region estimator

// Features is what a learned estimator sees for the current bar. It is built
// from the rule encoder's output so the estimator never needs raw history.
type Features struct {
	Force            float64 `json:"force"`
	ChannelPos       float64 `json:"channel_pos"`
	Delta            float64 `json:"delta"`
	HoldTime         float64 `json:"hold_time"`
	ForceUncertainty float64 `json:"force_uncertainty"`
	BodyRatio        float64 `json:"body_ratio"`
	Return           float64 `json:"return"`
}

// FeatureNames is the fixed order used when features are flattened.
var FeatureNames = []string{"force", "channel_pos", "delta", "hold_time", "force_uncertainty", "body_ratio", "return"}

// Values flattens f in FeatureNames order.
func (f Features) Values() []float64 {
	return []float64{f.Force, f.ChannelPos, f.Delta, f.HoldTime, f.ForceUncertainty, f.BodyRatio, f.Return}
}

// Estimate is a learned opinion on the fields an estimator may influence.
// A NaN ForceUncertainty means the estimator did not provide one.
type Estimate struct {
	Force            float64
	Delta            float64
	ForceUncertainty float64
}

// Estimator is the learned slot behind LearnedEncoder.
type Estimator interface {
	Name() string
	Estimate(f Features) (Estimate, error)
}

// #endregion estimator
