// Package journal keeps a sqlite record of runs and of every decision made in
// them. It sits beside the pipeline as a recorder; the pipeline itself never
// touches storage.
package journal

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/danielpatrickdp/boundary-state/internal/pipeline"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id        TEXT PRIMARY KEY,
	source        TEXT NOT NULL,
	encoder       TEXT NOT NULL,
	started_at    TEXT NOT NULL,
	finished_at   TEXT,
	config_json   TEXT,
	summary_json  TEXT
);

CREATE TABLE IF NOT EXISTS decisions (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id         TEXT NOT NULL,
	bar            INTEGER NOT NULL,
	close_time     INTEGER NOT NULL,
	close          REAL NOT NULL,
	action         TEXT NOT NULL,
	reason         TEXT,
	risk_level     TEXT NOT NULL,
	position_size  REAL NOT NULL,
	phase          TEXT NOT NULL,
	validation     TEXT NOT NULL,
	direction      TEXT NOT NULL,
	warmup         TEXT NOT NULL,
	fallback       INTEGER NOT NULL,
	authority      TEXT,
	theta          INTEGER,
	authority_code TEXT,
	output_json    TEXT NOT NULL,
	UNIQUE (run_id, bar),
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);

CREATE INDEX IF NOT EXISTS decisions_action ON decisions(run_id, action);
`

// #endregion schema

// #region store-struct
// Store is the decision journal.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

// timeLayout is fixed width so text order is time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// #endregion store-struct

// #region constructor
// Open opens (or creates) the journal at dbPath and runs migrations.
// ":memory:" gives a private in-memory journal.
func Open(dbPath string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// every connection to :memory: is a different database
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db, logger: logger.Named("journal"), now: time.Now}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB.
func (s *Store) DB() *sql.DB {
	return s.db
}

// #endregion constructor

// #region runs

// StartRun opens a run. cfg is stored as JSON and may be nil.
func (s *Store) StartRun(source, encoderName string, cfg any) (Run, error) {
	run := Run{
		RunID:     uuid.New().String(),
		Source:    source,
		Encoder:   encoderName,
		StartedAt: s.now().UTC(),
	}
	if cfg != nil {
		b, err := json.Marshal(cfg)
		if err != nil {
			return Run{}, fmt.Errorf("marshal config: %w", err)
		}
		run.ConfigJSON = string(b)
	}
	_, err := s.db.Exec(
		`INSERT INTO runs (run_id, source, encoder, started_at, config_json) VALUES (?, ?, ?, ?, ?)`,
		run.RunID, run.Source, run.Encoder, run.StartedAt.Format(timeLayout), nullIfEmpty(run.ConfigJSON),
	)
	if err != nil {
		return Run{}, fmt.Errorf("insert run: %w", err)
	}
	s.logger.Info("run started", zap.String("run", run.RunID), zap.String("source", source))
	return run, nil
}

// FinishRun closes a run, storing summary as JSON.
func (s *Store) FinishRun(runID string, summary any) error {
	var summaryJSON string
	if summary != nil {
		b, err := json.Marshal(summary)
		if err != nil {
			return fmt.Errorf("marshal summary: %w", err)
		}
		summaryJSON = string(b)
	}
	res, err := s.db.Exec(
		`UPDATE runs SET finished_at = ?, summary_json = ? WHERE run_id = ?`,
		s.now().UTC().Format(timeLayout), nullIfEmpty(summaryJSON), runID,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s not found", runID)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *Store) GetRun(runID string) (Run, error) {
	row := s.db.QueryRow(
		`SELECT run_id, source, encoder, started_at, finished_at, config_json, summary_json
		 FROM runs WHERE run_id = ?`, runID)
	run, err := scanRun(row)
	if err != nil {
		return Run{}, fmt.Errorf("get run %s: %w", runID, err)
	}
	return run, nil
}

// ListRuns returns the most recent runs.
func (s *Store) ListRuns(limit int) ([]Run, error) {
	rows, err := s.db.Query(
		`SELECT run_id, source, encoder, started_at, finished_at, config_json, summary_json
		 FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (Run, error) {
	var run Run
	var started string
	var finished, cfg, summary sql.NullString
	if err := sc.Scan(&run.RunID, &run.Source, &run.Encoder, &started, &finished, &cfg, &summary); err != nil {
		return Run{}, err
	}
	run.StartedAt, _ = time.Parse(timeLayout, started)
	if finished.Valid {
		run.FinishedAt, _ = time.Parse(timeLayout, finished.String)
	}
	run.ConfigJSON = cfg.String
	run.SummaryJSON = summary.String
	return run, nil
}

// #endregion runs

// #region decisions

// LogDecision writes one bar of run.
func (s *Store) LogDecision(runID string, o pipeline.Output) error {
	d, err := decisionFromOutput(runID, o)
	if err != nil {
		return err
	}
	var theta any
	if d.Authority != "" {
		theta = d.Theta
	}
	_, err = s.db.Exec(
		`INSERT INTO decisions (run_id, bar, close_time, close, action, reason, risk_level, position_size,
			phase, validation, direction, warmup, fallback, authority, theta, authority_code, output_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.RunID, d.Bar, d.CloseTime, d.Close, d.Action, nullIfEmpty(d.Reason), d.RiskLevel, d.PositionSize,
		d.Phase, d.Validation, d.Direction, d.WarmUp, d.Fallback, nullIfEmpty(d.Authority), theta,
		nullIfEmpty(d.AuthorityCode), d.OutputJSON,
	)
	if err != nil {
		return fmt.Errorf("log decision bar %d: %w", d.Bar, err)
	}
	return nil
}

func decisionFromOutput(runID string, o pipeline.Output) (Decision, error) {
	b, err := json.Marshal(o)
	if err != nil {
		return Decision{}, fmt.Errorf("marshal output bar %d: %w", o.Bar, err)
	}
	d := Decision{
		RunID:        runID,
		Bar:          o.Bar,
		CloseTime:    int64(o.CloseTime),
		Close:        o.Close,
		Action:       o.Action.Action.String(),
		Reason:       o.Action.Reason,
		RiskLevel:    o.Action.Risk.String(),
		PositionSize: o.Action.PositionSize,
		Phase:        o.Mediation.Phase.String(),
		Validation:   o.Validation.Kind.String(),
		Direction:    o.Direction.String(),
		WarmUp:       o.WarmUp.String(),
		Fallback:     o.Fallback,
		OutputJSON:   string(b),
	}
	if o.Authority != nil {
		d.Authority = o.Authority.Authority.String()
		d.Theta = o.Authority.Theta
		d.AuthorityCode = o.Authority.Code.String()
	}
	return d, nil
}

// Decisions returns every bar of a run in bar order.
func (s *Store) Decisions(runID string) ([]Decision, error) {
	rows, err := s.db.Query(
		`SELECT run_id, bar, close_time, close, action, reason, risk_level, position_size, phase,
			validation, direction, warmup, fallback, authority, theta, authority_code, output_json
		 FROM decisions WHERE run_id = ? ORDER BY bar`, runID)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	defer rows.Close()

	var out []Decision
	for rows.Next() {
		var d Decision
		var reason, auth, code sql.NullString
		var theta sql.NullInt64
		if err := rows.Scan(&d.RunID, &d.Bar, &d.CloseTime, &d.Close, &d.Action, &reason, &d.RiskLevel,
			&d.PositionSize, &d.Phase, &d.Validation, &d.Direction, &d.WarmUp, &d.Fallback,
			&auth, &theta, &code, &d.OutputJSON); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		d.Reason = reason.String
		d.Authority = auth.String
		d.Theta = int(theta.Int64)
		d.AuthorityCode = code.String
		out = append(out, d)
	}
	return out, rows.Err()
}

// ActionCounts tallies a run's decisions by action.
func (s *Store) ActionCounts(runID string) (map[string]int, error) {
	rows, err := s.db.Query(
		`SELECT action, COUNT(*) FROM decisions WHERE run_id = ? GROUP BY action`, runID)
	if err != nil {
		return nil, fmt.Errorf("action counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var action string
		var n int
		if err := rows.Scan(&action, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[action] = n
	}
	return counts, rows.Err()
}

// #endregion decisions

// #region recorder

// Recorder adapts a store to pipeline.Recorder for one run. Recording does
// not stop on a failed insert; the first error is kept for Err.
type Recorder struct {
	store *Store
	runID string

	mu  sync.Mutex
	err error
	n   int
}

// Recorder returns a pipeline recorder writing into runID.
func (s *Store) Recorder(runID string) *Recorder {
	return &Recorder{store: s, runID: runID}
}

// RecordOutput implements pipeline.Recorder.
func (r *Recorder) RecordOutput(o pipeline.Output) {
	err := r.store.LogDecision(r.runID, o)
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		if r.err == nil {
			r.err = err
			r.store.logger.Warn("journal write failed", zap.String("run", r.runID), zap.Error(err))
		}
		return
	}
	r.n++
}

// Err returns the first write error.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Written is the number of decisions stored.
func (r *Recorder) Written() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}

// #endregion recorder

// #region helpers
func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// #endregion helpers
