package journal

import "time"

// #region run
// Run is one replay or controller session.
type Run struct {
	RunID       string
	Source      string // candle file, fixture or "stdin"
	Encoder     string
	StartedAt   time.Time
	FinishedAt  time.Time // zero while the run is open
	ConfigJSON  string
	SummaryJSON string
}

// Finished reports whether FinishRun was called.
func (r Run) Finished() bool { return !r.FinishedAt.IsZero() }

// #endregion run

// #region decision
// Decision is one bar's row in the decisions table. OutputJSON holds the
// complete pipeline output for replaying the bar later.
type Decision struct {
	RunID         string
	Bar           int
	CloseTime     int64
	Close         float64
	Action        string
	Reason        string
	RiskLevel     string
	PositionSize  float64
	Phase         string
	Validation    string
	Direction     string
	WarmUp        string
	Fallback      bool
	Authority     string // empty when the authority gate was not consulted
	Theta         int
	AuthorityCode string
	OutputJSON    string
}

// #endregion decision
