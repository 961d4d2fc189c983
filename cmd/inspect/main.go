// Command inspect reads a decision journal: recent runs, and the bars and
// action counts of one run.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/boundary-state/internal/gate"
	"github.com/danielpatrickdp/boundary-state/internal/journal"
)

var (
	dbPath  string
	last    int
	action  string
	jsonOut bool
)

// #region main

var rootCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Inspect a boundary-state decision journal",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()
		if dbPath == "" {
			dbPath = os.Getenv("BSTATE_JOURNAL")
		}
		if dbPath == "" {
			return fmt.Errorf("no journal: pass --db or set BSTATE_JOURNAL")
		}
		return nil
	},
	SilenceUsage: true,
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List the most recent runs with their action counts",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

var runCmd = &cobra.Command{
	Use:   "run <run-id>",
	Short: "Show the decisions of one run",
	Args:  cobra.ExactArgs(1),
	RunE:  runDetail,
}

func main() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "journal sqlite file (default $BSTATE_JOURNAL)")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "output as JSON instead of table")
	runsCmd.Flags().IntVar(&last, "last", 20, "show N most recent runs")
	runCmd.Flags().StringVar(&action, "action", "", "only bars with this action (e.g. ENTER)")
	rootCmd.AddCommand(runsCmd, runCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// #endregion main

// #region list-mode

type listRow struct {
	RunID     string         `json:"run_id"`
	Source    string         `json:"source"`
	Encoder   string         `json:"encoder"`
	StartedAt string         `json:"started_at"`
	Finished  bool           `json:"finished"`
	Actions   map[string]int `json:"actions"`
	TotalBars int            `json:"total_bars"`
}

func runList(cmd *cobra.Command, args []string) error {
	store, err := journal.Open(dbPath, nil)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.ListRuns(last)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(os.Stderr, "no runs found")
		return nil
	}

	rows := make([]listRow, len(runs))
	for i, r := range runs {
		counts, err := store.ActionCounts(r.RunID)
		if err != nil {
			return err
		}
		total := 0
		for _, n := range counts {
			total += n
		}
		rows[i] = listRow{
			RunID:     r.RunID,
			Source:    r.Source,
			Encoder:   r.Encoder,
			StartedAt: r.StartedAt.Format("2006-01-02T15:04:05Z"),
			Finished:  r.Finished(),
			Actions:   counts,
			TotalBars: total,
		}
	}

	if jsonOut {
		return printJSON(rows)
	}
	printListTable(rows)
	return nil
}

func printListTable(rows []listRow) {
	fmt.Printf("%-36s  %-20s  %-8s  %6s", "Run", "Source", "Encoder", "Bars")
	for _, a := range gate.Actions {
		fmt.Printf("  %7s", a)
	}
	fmt.Printf("  %s\n", "Started")
	for _, r := range rows {
		fmt.Printf("%-36s  %-20s  %-8s  %6d", r.RunID, clip(r.Source, 20), r.Encoder, r.TotalBars)
		for _, a := range gate.Actions {
			fmt.Printf("  %7d", r.Actions[a.String()])
		}
		started := r.StartedAt
		if !r.Finished {
			started += " (open)"
		}
		fmt.Printf("  %s\n", started)
	}
}

// #endregion list-mode

// #region detail-mode

func runDetail(cmd *cobra.Command, args []string) error {
	store, err := journal.Open(dbPath, nil)
	if err != nil {
		return err
	}
	defer store.Close()

	run, err := store.GetRun(args[0])
	if err != nil {
		return err
	}
	decisions, err := store.Decisions(run.RunID)
	if err != nil {
		return err
	}
	if action != "" {
		var a gate.Action
		if err := a.UnmarshalText([]byte(action)); err != nil {
			return err
		}
		kept := decisions[:0]
		for _, d := range decisions {
			if d.Action == a.String() {
				kept = append(kept, d)
			}
		}
		decisions = kept
	}

	if jsonOut {
		outs := make([]json.RawMessage, len(decisions))
		for i, d := range decisions {
			outs[i] = json.RawMessage(d.OutputJSON)
		}
		return printJSON(outs)
	}

	fmt.Printf("Run %s  source=%s  encoder=%s\n", run.RunID, run.Source, run.Encoder)
	if run.SummaryJSON != "" {
		fmt.Printf("Summary %s\n", run.SummaryJSON)
	}
	fmt.Println()
	fmt.Printf("%5s  %-7s  %-6s  %5s  %-12s  %-9s  %-5s  %-7s  %5s  %s\n",
		"Bar", "Action", "Risk", "Size", "Phase", "Valid", "Dir", "Auth", "θ", "Reason")
	for _, d := range decisions {
		auth, theta := "-", "-"
		if d.Authority != "" {
			auth, theta = d.Authority, fmt.Sprint(d.Theta)
		}
		fmt.Printf("%5d  %-7s  %-6s  %5.2f  %-12s  %-9s  %-5s  %-7s  %5s  %s\n",
			d.Bar, d.Action, d.RiskLevel, d.PositionSize, d.Phase, d.Validation, d.Direction, auth, theta, d.Reason)
	}

	counts := map[string]int{}
	for _, d := range decisions {
		counts[d.Action]++
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Println()
	for _, k := range keys {
		fmt.Printf("%-7s %d\n", k, counts[k])
	}
	return nil
}

// #endregion detail-mode

// #region helpers

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n+3:]
}

// #endregion helpers
