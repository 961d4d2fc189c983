// Package risk tags the energy released during each stay in a boundary zone.
// Annotations are read-only diagnostics and never feed back into a decision.
package risk

import (
	"github.com/danielpatrickdp/boundary-state/internal/enum"
	"github.com/danielpatrickdp/boundary-state/internal/state"
)

// #region level
// Level grades a finalized zone sample.
type Level int

const (
	Quiet Level = iota
	Elevated
	Extreme
)

var levelNames = enum.Names{"quiet", "elevated", "extreme"}

func (l Level) String() string                { return levelNames.String("risk level", int(l)) }
func (l Level) MarshalText() ([]byte, error) { return levelNames.Marshal("risk level", int(l)) }
func (l *Level) UnmarshalText(b []byte) error {
	i, err := levelNames.Parse("risk level", b)
	if err != nil {
		return err
	}
	*l = Level(i)
	return nil
}

// #endregion level

// #region config
// Config holds the energy cut-offs, in price units of summed delta.
type Config struct {
	ElevatedEnergy float64
	ExtremeEnergy  float64
	Thresholds     state.Thresholds
}

// DefaultConfig returns the default cut-offs.
func DefaultConfig() Config {
	return Config{
		ElevatedEnergy: 5.0,
		ExtremeEnergy:  15.0,
		Thresholds:     state.DefaultThresholds(),
	}
}

// #endregion config

// #region types
// Accumulator is the running total for the zone stay in progress. The zero
// value means "not in a zone".
type Accumulator struct {
	InZone    bool            `json:"in_zone"`
	Direction state.Direction `json:"direction"`
	Bars      int             `json:"bars"`
	Energy    float64         `json:"energy"`
}

// Sample is a finalized zone stay.
type Sample struct {
	Direction state.Direction `json:"direction"`
	Bars      int             `json:"bars"`
	Energy    float64         `json:"energy"`
	Level     Level           `json:"level"`
}

// #endregion types

// #region annotate

// Annotate folds one bar into acc. When the bar leaves the zone acc was
// tracking (or jumps to the opposite boundary) the finished stay is returned
// as a Sample with ok set.
func Annotate(acc Accumulator, ch state.Fixed, delta float64, cfg Config) (next Accumulator, sample Sample, ok bool) {
	th := cfg.Thresholds
	inZone := th.InZone(ch)
	dir := th.DirectionOf(ch)

	if acc.InZone && (!inZone || dir != acc.Direction) {
		sample, ok = finalize(acc, cfg), true
		acc = Accumulator{}
	}
	if !inZone {
		return Accumulator{}, sample, ok
	}
	if !acc.InZone {
		acc = Accumulator{InZone: true, Direction: dir}
	}
	acc.Bars++
	acc.Energy += delta
	return acc, sample, ok
}

// Classify grades an energy total.
func Classify(energy float64, cfg Config) Level {
	switch {
	case energy >= cfg.ExtremeEnergy:
		return Extreme
	case energy >= cfg.ElevatedEnergy:
		return Elevated
	default:
		return Quiet
	}
}

func finalize(acc Accumulator, cfg Config) Sample {
	return Sample{
		Direction: acc.Direction,
		Bars:      acc.Bars,
		Energy:    acc.Energy,
		Level:     Classify(acc.Energy, cfg),
	}
}

// #endregion annotate
