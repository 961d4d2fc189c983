// Package candle defines the OHLC bar consumed by the pipeline and the
// loaders that read bars from CSV and JSON sources.
package candle

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/danielpatrickdp/boundary-state/internal/state"
)

var (
	// ErrMalformed is returned for a bar missing open/high/low/close or carrying
	// non-finite prices. It is the only fatal input condition.
	ErrMalformed = errors.New("malformed candle")

	// ErrOutOfOrder is returned when close_time does not strictly increase.
	ErrOutOfOrder = errors.New("candle close_time not increasing")
)

// #region timestamp

// Timestamp is a bar close time in unix milliseconds. It is the canonical
// time axis; wall-clock arrival time is never used.
type Timestamp int64

// secondsCutoff separates unix seconds from unix milliseconds (year 2001 in ms).
const secondsCutoff = 1_000_000_000_000

// FromUnix normalizes seconds or milliseconds to a Timestamp.
func FromUnix(v int64) Timestamp {
	if v < secondsCutoff && v > -secondsCutoff {
		return Timestamp(v * 1000)
	}
	return Timestamp(v)
}

// ParseTimestamp accepts unix seconds, unix milliseconds or RFC3339.
func ParseTimestamp(s string) (Timestamp, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty timestamp")
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return FromUnix(n), nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return FromUnix(int64(f)), nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return 0, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return Timestamp(t.UnixMilli()), nil
}

// Time converts to a UTC time.Time.
func (ts Timestamp) Time() time.Time {
	return time.UnixMilli(int64(ts)).UTC()
}

func (ts Timestamp) MarshalJSON() ([]byte, error) {
	return strconv.AppendInt(nil, int64(ts), 10), nil
}

// UnmarshalJSON accepts a JSON number or a JSON string.
func (ts *Timestamp) UnmarshalJSON(b []byte) error {
	s := string(b)
	if s == "null" {
		return fmt.Errorf("null timestamp")
	}
	if unq, err := strconv.Unquote(s); err == nil {
		s = unq
	}
	v, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	*ts = v
	return nil
}

// #endregion timestamp

// #region candle

// Candle is one OHLC bar. Volume is accepted but unused by the pipeline.
type Candle struct {
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume,omitempty"`
	CloseTime Timestamp `json:"close_time"`
}

// Validate checks the prices are finite and High >= Low.
func (c Candle) Validate() error {
	for name, v := range map[string]float64{"open": c.Open, "high": c.High, "low": c.Low, "close": c.Close} {
		if !state.Finite(v) {
			return fmt.Errorf("%w: %s is not finite", ErrMalformed, name)
		}
	}
	if c.High < c.Low {
		return fmt.Errorf("%w: high %.8g below low %.8g", ErrMalformed, c.High, c.Low)
	}
	return nil
}

// Range is High - Low.
func (c Candle) Range() float64 { return c.High - c.Low }

// Body is |Close - Open|.
func (c Candle) Body() float64 {
	if c.Close >= c.Open {
		return c.Close - c.Open
	}
	return c.Open - c.Close
}

// BodyRatio is Body / Range, 0 for a zero-range bar.
func (c Candle) BodyRatio() float64 {
	r := c.Range()
	if r <= 0 {
		return 0
	}
	return c.Body() / r
}

// Bullish reports Close > Open.
func (c Candle) Bullish() bool { return c.Close > c.Open }

// Bearish reports Close < Open.
func (c Candle) Bearish() bool { return c.Close < c.Open }

// #endregion candle
