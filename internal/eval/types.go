package eval

// #region eval-config
// EvalConfig holds the bounds an encoder's output must respect.
type EvalConfig struct {
	MaxAbsForce       float64 // warn if |force| exceeds this; informational
	MaxUncertainty    float64 // reject if either uncertainty exceeds this
	RequireDeltaFloor bool    // reject negative delta
}

// DefaultEvalConfig returns the bounds used by the pipeline. A five-bar rule
// Force can never exceed 5 in magnitude.
func DefaultEvalConfig() EvalConfig {
	return EvalConfig{
		MaxAbsForce:       5.0,
		MaxUncertainty:    1e6,
		RequireDeltaFloor: true,
	}
}

// #endregion eval-config

// #region eval-metric
// EvalMetric captures a single validation check result.
type EvalMetric struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
	Pass  bool    `json:"pass"`
}

// #endregion eval-metric

// #region eval-result
// EvalResult is the verdict on one encoder output.
type EvalResult struct {
	Passed  bool         `json:"passed"`
	Metrics []EvalMetric `json:"metrics"`
	Reason  string       `json:"reason"`
}

// #endregion eval-result
