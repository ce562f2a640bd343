package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/jeanregisser/agent-wallet/internal/engine"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Reconciliation failure, failed scenarios
	ExitCommandError = 2 // Command error (bad flags, config, policy file, etc.)
)

// Error codes for failures that are not reconciliation errors.
const (
	ErrCodeGeneric    = "E_CLI"
	ErrCodePolicyFile = "E_POLICY_FILE"
	ErrCodeTestFailed = "E_TEST_FAILED"
)

// ExitError represents an error with a specific exit code.
// Use this to return errors with meaningful exit codes from CLI commands.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Separate writer for verbose/diagnostic output (defaults to Writer)
	Verbose   bool
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string      `json:"status"`           // "ok" or "error"
	Data   interface{} `json:"data,omitempty"`   // success payload
	Error  *CLIError   `json:"error,omitempty"`  // error details
	RunID  string      `json:"run_id,omitempty"` // reconciliation run correlation
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string      `json:"code"`              // "E_REMOTE", "E_POLICY_FILE", etc.
	Message string      `json:"message"`           // human-readable message
	Hint    string      `json:"hint,omitempty"`    // next step for the operator
	Details interface{} `json:"details,omitempty"` // additional context
}

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data interface{}) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "ok",
			Data:   data,
		})
	}

	// Human-readable text output
	fmt.Fprintln(f.Writer, data)
	return nil
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details interface{}) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error: &CLIError{
				Code:    code,
				Message: message,
				Details: details,
			},
		})
	}

	// Human-readable error
	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// VerboseLog outputs a message only if verbose mode is enabled.
// Uses ErrWriter if set, otherwise falls back to Writer.
// When format is JSON, verbose logs go to ErrWriter to avoid corrupting JSON output.
func (f *OutputFormatter) VerboseLog(format string, args ...interface{}) {
	if !f.Verbose {
		return
	}
	w := f.ErrWriter
	if w == nil {
		w = f.Writer
	}
	fmt.Fprintf(w, format+"\n", args...)
}

// CheckpointView is the rendered form of one step checkpoint.
type CheckpointView struct {
	Step    string            `json:"step"`
	Status  string            `json:"status"`
	Details map[string]string `json:"details,omitempty"`
}

// RunView is the rendered result of one reconciliation run.
type RunView struct {
	RunID       string           `json:"run_id"`
	Account     string           `json:"account"`
	ChainID     uint64           `json:"chain_id"`
	State       string           `json:"state,omitempty"`
	RecordID    string           `json:"record_id,omitempty"`
	NextAction  string           `json:"next_action,omitempty"`
	ResumeFrom  string           `json:"resume_from,omitempty"`
	Checkpoints []CheckpointView `json:"checkpoints"`
}

// NewRunView renders an engine result.
func NewRunView(req engine.Request, res engine.Result) RunView {
	v := RunView{
		RunID:       res.RunID,
		Account:     req.Account,
		ChainID:     req.ChainID,
		State:       string(res.State),
		ResumeFrom:  engine.ResumeFrom(res.Checkpoints),
		Checkpoints: make([]CheckpointView, 0, len(res.Checkpoints)),
	}
	if res.Record != nil {
		v.RecordID = res.Record.ID
	}
	if res.State == engine.StatePending {
		v.NextAction = engine.NextActionSettle
	}
	for _, cp := range res.Checkpoints {
		v.Checkpoints = append(v.Checkpoints, CheckpointView{
			Step:    cp.Name,
			Status:  string(cp.Status),
			Details: cp.Details,
		})
	}
	return v
}

// Run outputs a reconciliation run and its error, if any.
func (f *OutputFormatter) Run(v RunView, runErr error) error {
	if f.Format == "json" {
		resp := CLIResponse{Status: "ok", Data: v, RunID: v.RunID}
		if runErr != nil {
			resp.Status = "error"
			resp.Error = cliError(runErr)
		}
		enc := json.NewEncoder(f.Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}

	w := f.Writer
	fmt.Fprintf(w, "Run %s (account %s, chain %d)\n", v.RunID, v.Account, v.ChainID)
	for _, cp := range v.Checkpoints {
		fmt.Fprintf(w, "  %s %-28s %s\n", statusMark(cp.Status), cp.Step, cp.Status)
		if f.Verbose {
			for _, k := range sortedKeys(cp.Details) {
				fmt.Fprintf(w, "      %s: %s\n", k, cp.Details[k])
			}
		}
	}

	if runErr != nil {
		e := cliError(runErr)
		fmt.Fprintf(w, "Error [%s]: %s\n", e.Code, e.Message)
		if e.Hint != "" {
			fmt.Fprintf(w, "Hint: %s\n", e.Hint)
		}
		return nil
	}

	fmt.Fprintf(w, "State: %s\n", v.State)
	if v.RecordID != "" {
		fmt.Fprintf(w, "Capability: %s\n", v.RecordID)
	}
	if v.NextAction != "" {
		fmt.Fprintf(w, "Next: %s\n", v.NextAction)
	}
	return nil
}

// cliError maps an engine error to its CLI form.
func cliError(err error) *CLIError {
	var e *engine.Error
	if errors.As(err, &e) {
		out := &CLIError{Code: string(e.Code), Message: err.Error(), Hint: e.Hint}
		if len(e.Details) > 0 {
			out.Details = e.Details
		}
		return out
	}
	return &CLIError{Code: ErrCodeGeneric, Message: err.Error()}
}

func statusMark(status string) string {
	switch engine.Status(status) {
	case engine.StatusFailed:
		return "✗"
	case engine.StatusAlreadyOK:
		return "✓"
	default:
		return "→"
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
