package encoder

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// #region linear-estimator

// Linear is bias + Σ weight·feature over FeatureNames.
type Linear struct {
	Bias    float64            `yaml:"bias"`
	Weights map[string]float64 `yaml:"weights"`
}

// Apply evaluates the model. Features are visited in FeatureNames order so the
// floating-point sum is reproducible.
func (l Linear) Apply(f Features) float64 {
	out := l.Bias
	vals := f.Values()
	for i, name := range FeatureNames {
		if w, ok := l.Weights[name]; ok {
			out += w * vals[i]
		}
	}
	return out
}

// LinearEstimator is an in-process Estimator with fixed weights. It is an
// inference slot only; weights are produced elsewhere.
type LinearEstimator struct {
	Label            string `yaml:"name"`
	Force            Linear `yaml:"force"`
	Delta            Linear `yaml:"delta"`
	ForceUncertainty Linear `yaml:"force_uncertainty"`
}

// IdentityEstimator echoes the rule features back. Blending with it leaves
// the rule state unchanged.
func IdentityEstimator() *LinearEstimator {
	return &LinearEstimator{
		Label:            "identity",
		Force:            Linear{Weights: map[string]float64{"force": 1}},
		Delta:            Linear{Weights: map[string]float64{"delta": 1}},
		ForceUncertainty: Linear{Weights: map[string]float64{"force_uncertainty": 1}},
	}
}

// LoadLinearEstimator reads weights from a YAML file.
func LoadLinearEstimator(path string) (*LinearEstimator, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read weights %s: %w", path, err)
	}
	var est LinearEstimator
	if err := yaml.Unmarshal(data, &est); err != nil {
		return nil, fmt.Errorf("parse weights %s: %w", path, err)
	}
	for _, l := range []Linear{est.Force, est.Delta, est.ForceUncertainty} {
		for name := range l.Weights {
			if !knownFeature(name) {
				return nil, fmt.Errorf("weights %s: unknown feature %q", path, name)
			}
		}
	}
	if est.Label == "" {
		est.Label = "linear"
	}
	return &est, nil
}

func knownFeature(name string) bool {
	for _, n := range FeatureNames {
		if n == name {
			return true
		}
	}
	return false
}

func (l *LinearEstimator) Name() string { return l.Label }

func (l *LinearEstimator) Estimate(f Features) (Estimate, error) {
	return Estimate{
		Force:            l.Force.Apply(f),
		Delta:            l.Delta.Apply(f),
		ForceUncertainty: l.ForceUncertainty.Apply(f),
	}, nil
}

// #endregion linear-estimator
