package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jeanregisser/agent-wallet/internal/policy"
	"github.com/jeanregisser/agent-wallet/internal/policyfile"
)

// ValidationResult holds the normalized form of a valid policy file.
type ValidationResult struct {
	Valid       bool       `json:"valid"`
	Fingerprint string     `json:"fingerprint"`
	Calls       []CallView `json:"calls"`
	Spend       SpendView  `json:"spend"`
	FeeLimit    string     `json:"fee_limit,omitempty"`
	ExpiryDays  int        `json:"expiry_days"`
}

// CallView is a canonical call entry.
type CallView struct {
	To       string `json:"to"`
	Selector string `json:"selector"`
}

// SpendView is a canonical spend entry.
type SpendView struct {
	Limit  string `json:"limit"`
	Period string `json:"period"`
	Token  string `json:"token"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <policy.cue>",
		Short: "Validate a policy file without contacting the relay",
		Long: `Validate a CUE policy file against the policy schema and print its
canonical form and fingerprint.

With --account, the call scope is also checked for unsafe self-calls on
that account.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	p, err := policyfile.Load(path)
	if err != nil {
		var details map[string]any
		var le *policyfile.LoadError
		if errors.As(err, &le) && le.Pos.IsValid() {
			details = map[string]any{"line": le.Pos.Line(), "column": le.Pos.Column()}
		}
		if outErr := formatter.Error(ErrCodePolicyFile, err.Error(), details); outErr != nil {
			return outErr
		}
		return WrapExitError(ExitCommandError, "invalid policy file", err)
	}

	if opts.Account != "" {
		if err := policy.ValidatePolicy(p, opts.Account); err != nil {
			if outErr := formatter.Error(ErrCodePolicyFile, err.Error(), nil); outErr != nil {
				return outErr
			}
			return WrapExitError(ExitCommandError, "unsafe policy", err)
		}
	}

	fp, err := policy.Fingerprint(p)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to fingerprint policy", err)
	}
	formatter.VerboseLog("policy %s is valid", path)

	result := validationResult(p, fp)
	if opts.Format == "json" {
		return formatter.Success(result)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "✓ %s is valid\n", path)
	fmt.Fprintf(w, "  fingerprint: %s\n", result.Fingerprint)
	for _, c := range result.Calls {
		fmt.Fprintf(w, "  call: %s %s\n", c.To, c.Selector)
	}
	fmt.Fprintf(w, "  spend: %s per %s of %s\n", result.Spend.Limit, result.Spend.Period, result.Spend.Token)
	if result.FeeLimit != "" {
		fmt.Fprintf(w, "  fee limit: %s\n", result.FeeLimit)
	}
	fmt.Fprintf(w, "  expiry: %d days\n", result.ExpiryDays)
	return nil
}

func validationResult(p policy.DesiredPolicy, fingerprint string) ValidationResult {
	c := policy.Normalize(p)
	r := ValidationResult{
		Valid:       true,
		Fingerprint: fingerprint,
		Spend: SpendView{
			Limit:  c.Spend.Limit.String(),
			Period: string(c.Spend.Period),
			Token:  c.Spend.Token,
		},
		ExpiryDays: c.ExpiryDays,
	}
	for _, call := range c.Calls {
		r.Calls = append(r.Calls, CallView{To: call.To, Selector: call.Selector})
	}
	if c.FeeLimit != nil {
		r.FeeLimit = c.FeeLimit.String()
	}
	return r
}
