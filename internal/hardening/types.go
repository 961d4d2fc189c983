package hardening

import "github.com/danielpatrickdp/boundary-state/internal/enum"

// #region config
// Config holds the cold-start constants. Do not casually change them: every
// rolling window in the encoder needs WarmUpBars bars to fill.
type Config struct {
	WarmUpBars int // bars forced to Wait
	ColdBars   int // leading part of the warm-up reported as cold
}

// DefaultConfig returns the calibrated warm-up.
func DefaultConfig() Config {
	return Config{WarmUpBars: 20, ColdBars: 10}
}

// #endregion config

// #region warmup-phase
// WarmUp is the cold-start sub-phase of a bar.
type WarmUp int

const (
	Cold WarmUp = iota
	Warming
	Warm
)

var warmUpNames = enum.Names{"cold", "warming", "warm"}

func (w WarmUp) String() string                { return warmUpNames.String("warm-up", int(w)) }
func (w WarmUp) MarshalText() ([]byte, error) { return warmUpNames.Marshal("warm-up", int(w)) }
func (w *WarmUp) UnmarshalText(b []byte) error {
	i, err := warmUpNames.Parse("warm-up", b)
	if err != nil {
		return err
	}
	*w = WarmUp(i)
	return nil
}

// Suppressed reports whether decisions are forced to Wait.
func (w WarmUp) Suppressed() bool { return w != Warm }

// #endregion warmup-phase
