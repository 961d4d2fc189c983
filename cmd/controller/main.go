// Command controller runs the decision pipeline over a live candle stream:
// newline-delimited JSON candles on stdin, one JSON output per bar on stdout.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/danielpatrickdp/boundary-state/internal/authority"
	"github.com/danielpatrickdp/boundary-state/internal/candle"
	"github.com/danielpatrickdp/boundary-state/internal/codec"
	"github.com/danielpatrickdp/boundary-state/internal/config"
	"github.com/danielpatrickdp/boundary-state/internal/encoder"
	"github.com/danielpatrickdp/boundary-state/internal/journal"
	"github.com/danielpatrickdp/boundary-state/internal/metrics"
	"github.com/danielpatrickdp/boundary-state/internal/pipeline"
	"github.com/danielpatrickdp/boundary-state/internal/replay"
)

var (
	configPath string
	verbose    bool

	listenAddr  string
	weightsPath string

	logger *zap.Logger
)

// #region main

var rootCmd = &cobra.Command{
	Use:   "controller",
	Short: "Run the boundary-state pipeline over candles on stdin",
	Long: `Reads newline-delimited JSON candles from stdin and writes one JSON
output per bar to stdout. Metrics are served on metrics.addr when set.
SIGHUP reloads the config and swaps in a freshly built encoder.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: runController,
}

var estimatorCmd = &cobra.Command{
	Use:   "estimator",
	Short: "Serve a linear estimator over gRPC",
	Long: `Serves the in-process linear estimator on the remote estimator
protocol, for use with encoder.kind=remote. Without --weights the identity
estimator is served.`,
	RunE: runEstimator,
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	estimatorCmd.Flags().StringVar(&listenAddr, "listen", ":7070", "gRPC listen address")
	estimatorCmd.Flags().StringVar(&weightsPath, "weights", "", "YAML weights file")
	rootCmd.AddCommand(estimatorCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		if logger, err = cfg.Logger(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// #endregion main

// #region controller

func runController(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pc := cfg.Pipeline()
	enc, closeEnc, err := cfg.NewEncoder(pc, logger)
	if err != nil {
		return err
	}

	m := metrics.New()
	opts := []pipeline.Option{pipeline.WithLogger(logger), pipeline.WithRecorder(m)}
	if cfg.Authority.Enabled {
		ledger := replay.NewLedger(pc.Thresholds)
		auth := authority.New(pc.Authority, authority.WithRecorder(m))
		opts = append(opts, pipeline.WithAuthority(auth, ledger), pipeline.WithRecorder(ledger))
	}

	if cfg.Journal.Path != "" {
		store, err := journal.Open(cfg.Journal.Path, logger)
		if err != nil {
			return err
		}
		defer store.Close()
		run, err := store.StartRun("stdin", enc.Name(), cfg)
		if err != nil {
			return err
		}
		rec := store.Recorder(run.RunID)
		opts = append(opts, pipeline.WithRecorder(rec))
		defer func() {
			if err := store.FinishRun(run.RunID, map[string]int{"written": rec.Written()}); err != nil {
				logger.Warn("finish run", zap.Error(err))
			}
		}()
	}

	c := &controller{p: pipeline.New(enc, pc, opts...), closeEnc: closeEnc}
	defer func() { _ = c.closeEnc() }()

	g, ctx := errgroup.WithContext(ctx)
	if cfg.Metrics.Addr != "" {
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: metricsMux(m), ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			logger.Info("metrics listening", zap.String("addr", cfg.Metrics.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	// the reader stays outside the group: a read blocked on stdin must not
	// hold up shutdown
	candles := make(chan candle.Candle)
	readErr := make(chan error, 1)
	go func() {
		defer close(candles)
		readErr <- readCandles(ctx, os.Stdin, candles)
	}()
	g.Go(func() error {
		defer stop()
		if err := c.process(ctx, candles, os.Stdout); err != nil {
			return err
		}
		select {
		case err := <-readErr:
			return err
		default:
			return nil
		}
	})
	return g.Wait()
}

func metricsMux(m *metrics.Metrics) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

// readCandles decodes r until EOF. A malformed candle ends the stream.
func readCandles(ctx context.Context, r io.Reader, out chan<- candle.Candle) error {
	dec := candle.NewDecoder(r)
	for {
		c, err := dec.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read candle: %w", err)
		}
		select {
		case out <- c:
		case <-ctx.Done():
			return nil
		}
	}
}

// controller owns the pipeline; bars and encoder swaps are serialized in
// process.
type controller struct {
	p        *pipeline.Pipeline
	closeEnc func() error
}

func (c *controller) process(ctx context.Context, in <-chan candle.Candle, w io.Writer) error {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	out := json.NewEncoder(w)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-hup:
			c.swapEncoder()
		case bar, ok := <-in:
			if !ok {
				logger.Info("input closed", zap.Int("bars", c.p.Bars()), zap.Int("fallbacks", c.p.FallbackCount()))
				return nil
			}
			o, err := c.p.Step(bar)
			if errors.Is(err, candle.ErrOutOfOrder) {
				logger.Warn("dropping candle", zap.Error(err))
				continue
			}
			if err != nil {
				return err
			}
			if err := out.Encode(o); err != nil {
				return fmt.Errorf("write output: %w", err)
			}
		}
	}
}

// swapEncoder rebuilds the encoder from a freshly loaded config. A failed
// reload keeps the current encoder.
func (c *controller) swapEncoder() {
	cfg, err := config.Load(configPath)
	if err == nil {
		err = cfg.Validate()
	}
	var enc encoder.Encoder
	var closeEnc func() error
	if err == nil {
		enc, closeEnc, err = cfg.NewEncoder(cfg.Pipeline(), logger)
	}
	if err != nil {
		logger.Warn("encoder reload failed, keeping current encoder", zap.Error(err))
		return
	}
	c.p.SwapEncoder(enc)
	if err := c.closeEnc(); err != nil {
		logger.Warn("close previous encoder", zap.Error(err))
	}
	c.closeEnc = closeEnc
}

// #endregion controller

// #region estimator

func runEstimator(cmd *cobra.Command, args []string) error {
	if _, err := loadConfig(); err != nil {
		return err
	}
	est := encoder.IdentityEstimator()
	if weightsPath != "" {
		loaded, err := encoder.LoadLinearEstimator(weightsPath)
		if err != nil {
			return err
		}
		est = loaded
	}

	lis, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", listenAddr, err)
	}
	srv := grpc.NewServer()
	codec.RegisterEstimatorServer(srv, codec.NewEstimatorService(est))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		srv.GracefulStop()
	}()

	logger.Info("estimator listening", zap.String("addr", lis.Addr().String()), zap.String("estimator", est.Name()))
	return srv.Serve(lis)
}

// #endregion estimator
