// Command replay runs candle files, or a fixture, through the decision
// pipeline offline and reports trades and action counts.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/danielpatrickdp/boundary-state/internal/candle"
	"github.com/danielpatrickdp/boundary-state/internal/config"
	"github.com/danielpatrickdp/boundary-state/internal/journal"
	"github.com/danielpatrickdp/boundary-state/internal/replay"
)

var (
	configPath  string
	fixturePath string
	journalPath string
	noAuthority bool
	jsonOut     bool
	verbose     bool
	parallel    int

	logger *zap.Logger
)

// #region main

var rootCmd = &cobra.Command{
	Use:   "replay [candles...]",
	Short: "Replay candle files through the boundary-state pipeline",
	Long: `Replays one or more candle files (.csv, .json, .ndjson) through the
pipeline, each with its own encoder and trade ledger, and prints a summary
per file. With --fixture, replays a fixture and checks its pinned actions.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()
		zc := zap.NewProductionConfig()
		if verbose {
			zc.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		}
		var err error
		logger, err = zc.Build()
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: run,
}

func main() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "YAML config file")
	rootCmd.Flags().StringVar(&fixturePath, "fixture", "", "replay a fixture and check its expectations")
	rootCmd.Flags().StringVar(&journalPath, "journal", "", "sqlite journal to record runs into (overrides config)")
	rootCmd.Flags().BoolVar(&noAuthority, "no-authority", false, "admit every entry without the authority gate")
	rootCmd.Flags().BoolVar(&jsonOut, "json", false, "print results as JSON")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "debug logging, one line per bar")
	rootCmd.Flags().IntVar(&parallel, "parallel", 4, "files replayed concurrently")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	switch {
	case fixturePath != "" && len(args) > 0:
		return fmt.Errorf("--fixture and candle files are exclusive")
	case fixturePath != "":
		return runFixture(fixturePath)
	case len(args) == 0:
		return fmt.Errorf("no candle files given")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if journalPath != "" {
		cfg.Journal.Path = journalPath
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	return runFiles(cmd.Context(), cfg, args)
}

// #endregion main

// #region file-mode

type fileResult struct {
	File    string         `json:"file"`
	RunID   string         `json:"run_id,omitempty"`
	Summary replay.Summary `json:"summary"`
	Trades  []replay.Trade `json:"trades"`
}

func runFiles(ctx context.Context, cfg *config.Config, files []string) error {
	var store *journal.Store
	if cfg.Journal.Path != "" {
		var err error
		store, err = journal.Open(cfg.Journal.Path, logger)
		if err != nil {
			return err
		}
		defer store.Close()
	}

	results := make([]fileResult, len(files))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(parallel, 1))
	for i, file := range files {
		i, file := i, file
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res, err := replayFile(cfg, store, file)
			if err != nil {
				return fmt.Errorf("%s: %w", file, err)
			}
			mu.Lock()
			results[i] = res
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if jsonOut {
		return printJSON(results)
	}
	printTable(results)
	return nil
}

func replayFile(cfg *config.Config, store *journal.Store, file string) (fileResult, error) {
	cs, err := candle.LoadFile(file)
	if err != nil {
		return fileResult{}, err
	}
	pc := cfg.Pipeline()
	log := logger.With(zap.String("file", filepath.Base(file)))
	enc, closeEnc, err := cfg.NewEncoder(pc, log)
	if err != nil {
		return fileResult{}, err
	}
	defer closeEnc()

	opts := []replay.Option{replay.WithLogger(log)}
	if noAuthority || !cfg.Authority.Enabled {
		opts = append(opts, replay.WithoutAuthority())
	}

	out := fileResult{File: file}
	var rec *journal.Recorder
	if store != nil {
		r, err := store.StartRun(file, enc.Name(), cfg)
		if err != nil {
			return fileResult{}, err
		}
		out.RunID = r.RunID
		rec = store.Recorder(r.RunID)
		opts = append(opts, replay.WithRecorder(rec))
	}

	res, err := replay.New(enc, pc, opts...).Run(cs)
	if err != nil {
		return fileResult{}, err
	}
	out.Summary, out.Trades = res.Summary, res.Trades

	if store != nil {
		if err := rec.Err(); err != nil {
			return fileResult{}, err
		}
		if err := store.FinishRun(out.RunID, res.Summary); err != nil {
			return fileResult{}, err
		}
	}
	return out, nil
}

// #endregion file-mode

// #region fixture-mode

type fixtureReport struct {
	Description string         `json:"description"`
	Summary     replay.Summary `json:"summary"`
	Mismatches  []string       `json:"mismatches"`
}

func runFixture(path string) error {
	f, err := replay.LoadFixture(path)
	if err != nil {
		return err
	}
	opts := []replay.Option{replay.WithLogger(logger)}
	if noAuthority {
		opts = append(opts, replay.WithoutAuthority())
	}
	res, mismatches, err := replay.RunFixture(f, opts...)
	if err != nil {
		return err
	}

	if jsonOut {
		if err := printJSON(fixtureReport{f.Description, res.Summary, mismatchStrings(mismatches)}); err != nil {
			return err
		}
	} else {
		fmt.Printf("%s\n  %d bars, %d pinned, %d mismatches\n", f.Description, res.Summary.Bars, len(f.Expected), len(mismatches))
		for _, m := range mismatches {
			fmt.Printf("  %s\n", m)
		}
	}
	if len(mismatches) > 0 {
		return fmt.Errorf("%d of %d pinned bars did not match", len(mismatches), len(f.Expected))
	}
	return nil
}

func mismatchStrings(ms []replay.Mismatch) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.String()
	}
	return out
}

// #endregion fixture-mode

// #region output

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printTable(results []fileResult) {
	fmt.Printf("%-28s  %6s  %5s  %5s  %6s  %6s  %4s  %6s  %10s\n",
		"File", "Bars", "Enter", "Exit", "Denied", "Trades", "Wins", "Losses", "Net PnL")
	for _, r := range results {
		s := r.Summary
		fmt.Printf("%-28s  %6d  %5d  %5d  %6d  %6d  %4d  %6d  %10s\n",
			truncate(filepath.Base(r.File), 28), s.Bars, s.Entries, s.Exits, s.Denied,
			s.Trades, s.Wins, s.Losses, s.NetPnL.StringFixed(4))
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

// #endregion output
