package state

import (
	"fmt"
	"math"
)

// #region state-4d
// State4D is the per-bar estimate produced by an observation encoder.
// It is a value type: encoders return a fresh copy every bar and nothing
// downstream mutates it.
type State4D struct {
	Force              float64 `json:"force"`
	ChannelPos         Fixed   `json:"channel_pos"`
	Delta              float64 `json:"delta"`
	HoldTime           int     `json:"hold_time"`
	ForceUncertainty   float64 `json:"force_uncertainty"`
	ChannelUncertainty float64 `json:"channel_uncertainty"`
}

// Neutral is the state substituted when no valid encoder output exists yet.
func Neutral() State4D {
	return State4D{
		Force:              0,
		ChannelPos:         FixedHalf,
		Delta:              0,
		HoldTime:           0,
		ForceUncertainty:   1.0,
		ChannelUncertainty: 1.0,
	}
}

// #endregion state-4d

// #region direction
// Direction names the channel boundary a state is measured against.
type Direction int

const (
	High Direction = iota
	Low
)

var directionNames = [...]string{"high", "low"}

func (d Direction) String() string {
	if d < 0 || int(d) >= len(directionNames) {
		return fmt.Sprintf("direction(%d)", int(d))
	}
	return directionNames[d]
}

// Sign is +1 for High and -1 for Low: the Force sign that agrees with the boundary.
func (d Direction) Sign() float64 {
	if d == Low {
		return -1
	}
	return 1
}

func (d Direction) MarshalText() ([]byte, error) {
	if d < 0 || int(d) >= len(directionNames) {
		return nil, fmt.Errorf("invalid direction %d", int(d))
	}
	return []byte(directionNames[d]), nil
}

func (d *Direction) UnmarshalText(b []byte) error {
	for i, n := range directionNames {
		if n == string(b) {
			*d = Direction(i)
			return nil
		}
	}
	return fmt.Errorf("unknown direction %q", string(b))
}

// #endregion direction

// #region helpers

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Sign returns -1, 0 or +1.
func Sign(v float64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

// Finite reports whether v is neither NaN nor infinite.
func Finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// #endregion helpers
