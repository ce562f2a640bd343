package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// SettleResult is the output of the settle command.
type SettleResult struct {
	RequestID       string `json:"request_id"`
	Status          string `json:"status"`
	TransactionHash string `json:"transaction_hash,omitempty"`
}

// NewSettleCommand creates the settle command.
func NewSettleCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "settle <request-id>",
		Short: "Track settlement of the first operation under a pending capability",
		Long: `Attach the relay request ID of the first real operation executed under
the pending capability and report its settlement status.

Later reconcile and status runs report the settlement status on every
poll until the capability is enforced.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSettle(rootOpts, cmd, args[0])
		},
	}
}

func runSettle(opts *RootOptions, cmd *cobra.Command, requestID string) error {
	e, err := openEnv(opts, cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	ctx, cancel := signalContext(cmd, e.logger)
	defer cancel()

	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	status, err := e.engine.TrackSettlement(ctx, e.cfg.Account, e.cfg.ChainID, requestID)
	if err != nil {
		ce := cliError(err)
		if outErr := formatter.Error(ce.Code, ce.Message, ce.Details); outErr != nil {
			return outErr
		}
		return WrapExitError(ExitFailure, "settlement tracking failed", err)
	}

	result := SettleResult{
		RequestID:       requestID,
		Status:          string(status.Status),
		TransactionHash: status.TransactionHash,
	}
	if opts.Format == "json" {
		return formatter.Success(result)
	}
	line := fmt.Sprintf("Settlement %s: %s", result.RequestID, result.Status)
	if result.TransactionHash != "" {
		line += fmt.Sprintf(" (tx %s)", result.TransactionHash)
	}
	return formatter.Success(line)
}
