package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeanregisser/agent-wallet/internal/store"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Limit int
}

// HistoryEntry is one run in the history output.
type HistoryEntry struct {
	RunID       string           `json:"run_id"`
	StartedAt   string           `json:"started_at"`
	FinishedAt  string           `json:"finished_at"`
	State       string           `json:"state,omitempty"`
	ErrorCode   string           `json:"error_code,omitempty"`
	Checkpoints []CheckpointView `json:"checkpoints"`
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent reconciliation runs",
		Long: `Show the checkpoints of recent reconciliation runs for the configured
account and chain, newest first.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, cmd)
		},
	}

	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 10, "maximum number of runs to show")

	return cmd
}

func runHistory(opts *HistoryOptions, cmd *cobra.Command) error {
	if opts.Limit < 1 {
		return NewExitError(ExitCommandError, fmt.Sprintf("--limit must be at least 1, got %d", opts.Limit))
	}

	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())
	cfg, err := loadConfig(opts.RootOptions, logger)
	if err != nil {
		return err
	}

	st, err := store.Open(cfg.StatePath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open state database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Error("error closing state database", "error", closeErr)
		}
	}()

	runs, err := st.ListRuns(cmd.Context(), cfg.Account, cfg.ChainID, opts.Limit)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read run history", err)
	}

	entries := make([]HistoryEntry, 0, len(runs))
	for _, r := range runs {
		entries = append(entries, historyEntry(r))
	}

	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
	if opts.Format == "json" {
		return formatter.Success(entries)
	}

	w := cmd.OutOrStdout()
	if len(entries) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return nil
	}
	for _, e := range entries {
		verdict := e.State
		if e.ErrorCode != "" {
			verdict = e.ErrorCode
		}
		fmt.Fprintf(w, "%s  %s  %s\n", e.StartedAt, e.RunID, verdict)
		for _, cp := range e.Checkpoints {
			fmt.Fprintf(w, "  %s %-28s %s\n", statusMark(cp.Status), cp.Step, cp.Status)
		}
	}
	return nil
}

func historyEntry(r store.Run) HistoryEntry {
	e := HistoryEntry{
		RunID:       r.ID,
		StartedAt:   r.StartedAt.UTC().Format(time.RFC3339),
		FinishedAt:  r.FinishedAt.UTC().Format(time.RFC3339),
		State:       r.State,
		ErrorCode:   r.ErrorCode,
		Checkpoints: make([]CheckpointView, 0, len(r.Checkpoints)),
	}
	for _, cp := range r.Checkpoints {
		e.Checkpoints = append(e.Checkpoints, CheckpointView{Step: cp.Name, Status: cp.Status, Details: cp.Details})
	}
	return e
}
