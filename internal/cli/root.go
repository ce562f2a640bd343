package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jeanregisser/agent-wallet/internal/engine"
	"github.com/jeanregisser/agent-wallet/internal/signer"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	// ConfigPath overrides AGENT_WALLET_CONFIG and the default location.
	ConfigPath string

	// Flag overrides for config file values. Zero means "not set".
	Account  string
	ChainID  uint64
	RelayURL string

	// KeystoreOptions are passed to the keystore (for testing).
	KeystoreOptions []signer.KeystoreOption

	// RunIDs overrides the run ID generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	RunIDs engine.RunIDGenerator
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the agent-wallet CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent-wallet",
		Short: "Reconcile agent capability grants on a smart-account relay",
		Long: `agent-wallet converges the capability granted to an agent signing key
on a smart-account relay with a desired policy: call targets, a spend
limit per period, a fee limit and an expiry.

Every run walks the same steps (account readiness, key readiness,
capability discovery, preparation, classification) and is idempotent:
rerunning after success changes nothing.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to config file")
	cmd.PersistentFlags().StringVar(&opts.Account, "account", "", "smart account address (overrides config)")
	cmd.PersistentFlags().Uint64Var(&opts.ChainID, "chain", 0, "chain ID (overrides config)")
	cmd.PersistentFlags().StringVar(&opts.RelayURL, "relay-url", "", "relay JSON-RPC endpoint (overrides config)")

	cmd.AddCommand(NewReconcileCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewSettleCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
