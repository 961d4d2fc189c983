package state

// #region thresholds
// Thresholds are the frozen structural constants shared by the encoder,
// validator and mediator. They are exposed so callers can study them against
// real data, but the defaults are the calibrated values: do not casually
// change them.
//
// TauMin and TauOptimal are kept per direction. Historical runs disagree on
// whether the low side needs 4 or 5 bars; both sides default to 5/7 until
// that is settled against data.
type Thresholds struct {
	ChannelHigh    Fixed // channel_pos >= this is the high boundary (0.9)
	ChannelLow     Fixed // channel_pos <= this is the low boundary (0.1)
	TauMinHigh     int
	TauMinLow      int
	TauOptimalHigh int
	TauOptimalLow  int
	DirThreshold   int // consecutive same-sign Force bars for commitment
}

// DefaultThresholds returns the calibrated constants.
func DefaultThresholds() Thresholds {
	return Thresholds{
		ChannelHigh:    9000,
		ChannelLow:     1000,
		TauMinHigh:     5,
		TauMinLow:      5,
		TauOptimalHigh: 7,
		TauOptimalLow:  7,
		DirThreshold:   3,
	}
}

// AtHigh reports whether ch sits on the high boundary.
func (t Thresholds) AtHigh(ch Fixed) bool { return ch >= t.ChannelHigh }

// AtLow reports whether ch sits on the low boundary.
func (t Thresholds) AtLow(ch Fixed) bool { return ch <= t.ChannelLow }

// AtBoundary reports whether ch sits on the boundary named by dir.
func (t Thresholds) AtBoundary(ch Fixed, dir Direction) bool {
	if dir == Low {
		return t.AtLow(ch)
	}
	return t.AtHigh(ch)
}

// InZone reports whether ch sits on either boundary.
func (t Thresholds) InZone(ch Fixed) bool {
	return t.AtHigh(ch) || t.AtLow(ch)
}

// DirectionOf picks the boundary a channel position is measured against:
// the boundary it sits on, otherwise the nearer half of the channel.
func (t Thresholds) DirectionOf(ch Fixed) Direction {
	switch {
	case t.AtHigh(ch):
		return High
	case t.AtLow(ch):
		return Low
	case ch >= FixedHalf:
		return High
	default:
		return Low
	}
}

// TauMin returns the minimum hold time for dir.
func (t Thresholds) TauMin(dir Direction) int {
	if dir == Low {
		return t.TauMinLow
	}
	return t.TauMinHigh
}

// TauOptimal returns the optimal hold time for dir.
func (t Thresholds) TauOptimal(dir Direction) int {
	if dir == Low {
		return t.TauOptimalLow
	}
	return t.TauOptimalHigh
}

// #endregion thresholds
