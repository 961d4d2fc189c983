package replay

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/boundary-state/internal/gate"
	"github.com/danielpatrickdp/boundary-state/internal/hardening"
	"github.com/danielpatrickdp/boundary-state/internal/pipeline"
)

// #region fixture-tests

// TestFixtures replays every fixture under testdata and checks the pinned
// bars. This is the regression baseline: if a threshold or window changes,
// the drift shows up here.
func TestFixtures(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("testdata", "*.json"))
	require.NoError(t, err)
	require.NotEmpty(t, paths, "no fixtures found")

	for _, path := range paths {
		t.Run(strings.TrimSuffix(filepath.Base(path), ".json"), func(t *testing.T) {
			f, err := LoadFixture(path)
			require.NoError(t, err)
			require.NotEmpty(t, f.Expected, "fixture pins no bars")

			_, mismatches, err := RunFixture(f)
			require.NoError(t, err)
			for _, m := range mismatches {
				t.Error(m)
			}
		})
	}
}

// TestFixture_ColdStart checks the whole cold-start series waits and never
// leaves the warm-up.
func TestFixture_ColdStart(t *testing.T) {
	f, err := LoadFixture(filepath.Join("testdata", "cold_start.json"))
	require.NoError(t, err)
	res, _, err := RunFixture(f)
	require.NoError(t, err)

	require.LessOrEqual(t, len(res.Outputs), 15)
	for _, o := range res.Outputs {
		assert.Equal(t, gate.Wait, o.Action.Action, "bar %d", o.Bar)
		assert.NotEqual(t, hardening.Warm, o.WarmUp, "bar %d: warm-up finished early", o.Bar)
	}
	assert.Equal(t, len(res.Outputs), res.Summary.Actions[gate.Wait])
}

func TestFixture_TrendingOpensTrade(t *testing.T) {
	f, err := LoadFixture(filepath.Join("testdata", "trending_boundary.json"))
	require.NoError(t, err)
	res, _, err := RunFixture(f)
	require.NoError(t, err)

	last := res.Outputs[len(res.Outputs)-1]
	require.NotNil(t, last.Authority)
	assert.True(t, last.Authority.Allowed())
	assert.Equal(t, 2, last.Authority.Theta)
	assert.Equal(t, 1, res.Summary.Entries)
	assert.Zero(t, res.Summary.Trades)
}

func TestFixture_Overrides(t *testing.T) {
	warm, window, auth := 5, 7, false
	f := &Fixture{Config: FixtureConfig{WarmUpBars: &warm, ObservationWindow: &window, Authority: &auth}}
	cfg := f.PipelineConfig()
	assert.Equal(t, 5, cfg.Hardening.WarmUpBars)
	assert.Equal(t, 7, cfg.Session.ObservationWindow)
	assert.Equal(t, pipeline.DefaultConfig().Thresholds, cfg.Thresholds, "thresholds keep their defaults")

	f.Config.Encoder = "oracle"
	_, err := f.NewEncoder(cfg)
	assert.Error(t, err, "unknown encoder")
}

func TestLoadFixture_Errors(t *testing.T) {
	_, err := LoadFixture(filepath.Join("testdata", "missing.json"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"candles": [`), 0o644))
	_, err = LoadFixture(bad)
	assert.Error(t, err)

	f := &Fixture{Candles: []byte(`[{"open": 1, "high": 2, "low": 0.5, "close_time": 1}]`)}
	_, _, err = RunFixture(f)
	assert.Error(t, err, "candle without close")
}

func TestCheck(t *testing.T) {
	outs := []pipeline.Output{
		{Action: gate.Decision{Action: gate.Wait, Reason: "cold start: cold bar 1 of 20"}},
		{Action: gate.Decision{Action: gate.Observe, Reason: "state forming"}},
	}
	expected := []FixtureExpectation{
		{Bar: 0, Action: gate.Wait, Reason: "cold start"},
		{Bar: 1, Action: gate.Observe, Reason: "accumulating"},
		{Bar: 2, Action: gate.Enter},
	}
	got := Check(expected, outs)
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].Bar)
	assert.Equal(t, gate.Observe, got[0].Got)
	assert.Equal(t, 2, got[1].Bar)
	assert.Contains(t, got[1].String(), "only 2 bars")
}

// #endregion fixture-tests
