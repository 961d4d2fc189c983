package state

import (
	"math"
	"strconv"
)

// #region fixed
// Fixed is a ratio stored as a scaled integer with four decimal places.
// Channel positions and channel thresholds are compared as Fixed so that
// float noise around 0.9 / 0.1 cannot flip a boundary test.
type Fixed int32

// FixedScale is the number of Fixed units in 1.0.
const FixedScale = 10000

const (
	FixedZero Fixed = 0
	FixedHalf Fixed = FixedScale / 2
	FixedOne  Fixed = FixedScale

	// FixedInvalid marks a value that could not be represented (NaN input).
	FixedInvalid Fixed = math.MinInt32
)

// ToFixed rounds f half away from zero onto the Fixed grid.
func ToFixed(f float64) Fixed {
	if math.IsNaN(f) {
		return FixedInvalid
	}
	scaled := math.Round(f * FixedScale)
	if scaled > math.MaxInt32 {
		return Fixed(math.MaxInt32)
	}
	if scaled < math.MinInt32+1 {
		return Fixed(math.MinInt32 + 1)
	}
	return Fixed(scaled)
}

// Float64 converts back to a float for arithmetic that is not a threshold test.
func (f Fixed) Float64() float64 {
	return float64(f) / FixedScale
}

// InUnit reports whether 0 <= f <= 1.
func (f Fixed) InUnit() bool {
	return f >= FixedZero && f <= FixedOne
}

func (f Fixed) String() string {
	return strconv.FormatFloat(f.Float64(), 'f', 4, 64)
}

func (f Fixed) MarshalJSON() ([]byte, error) {
	return []byte(f.String()), nil
}

func (f *Fixed) UnmarshalJSON(b []byte) error {
	v, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return err
	}
	*f = ToFixed(v)
	return nil
}

// #endregion fixed
