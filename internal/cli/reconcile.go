package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeanregisser/agent-wallet/internal/engine"
	"github.com/jeanregisser/agent-wallet/internal/policy"
	"github.com/jeanregisser/agent-wallet/internal/policyfile"
)

// PolicyFlags holds the desired policy, given as a CUE file or inline.
type PolicyFlags struct {
	File        string
	Calls       []string
	SpendLimit  string
	SpendPeriod string
	SpendToken  string
	FeeLimit    string
	ExpiryDays  int
}

func (p *PolicyFlags) register(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&p.File, "policy", "", "CUE policy file")
	f.StringArrayVar(&p.Calls, "call", nil, "allowed call as <to>[:<selector or signature>] (repeatable; none allows any call)")
	f.StringVar(&p.SpendLimit, "spend-limit", "", "spend limit in base units (decimal or 0x hex)")
	f.StringVar(&p.SpendPeriod, "spend-period", "day", "spend period (minute|hour|day|week|month|year)")
	f.StringVar(&p.SpendToken, "spend-token", "", "spend token address (default: native asset)")
	f.StringVar(&p.FeeLimit, "fee-limit", "", "fee limit in base units")
	f.IntVar(&p.ExpiryDays, "expiry-days", policy.DefaultExpiryDays, "grant validity in days")
}

// inline reports whether any inline policy flag was set.
func (p *PolicyFlags) inline(cmd *cobra.Command) bool {
	for _, name := range []string{"call", "spend-limit", "spend-period", "spend-token", "fee-limit", "expiry-days"} {
		if cmd.Flags().Changed(name) {
			return true
		}
	}
	return false
}

// Policy builds the desired policy from the file or the inline flags.
func (p *PolicyFlags) Policy(cmd *cobra.Command) (policy.DesiredPolicy, error) {
	inline := p.inline(cmd)
	switch {
	case p.File != "" && inline:
		return policy.DesiredPolicy{}, errors.New("--policy cannot be combined with inline policy flags")
	case p.File != "":
		return policyfile.Load(p.File)
	case p.SpendLimit == "":
		return policy.DesiredPolicy{}, errors.New("a desired policy is required: pass --policy or --spend-limit")
	}

	calls := make([]policy.CallEntry, 0, len(p.Calls))
	for _, c := range p.Calls {
		entry, err := ParseCall(c)
		if err != nil {
			return policy.DesiredPolicy{}, err
		}
		calls = append(calls, entry)
	}
	return policy.NewDesiredPolicy(policy.PolicyInput{
		Calls:       calls,
		SpendLimit:  p.SpendLimit,
		SpendPeriod: p.SpendPeriod,
		SpendToken:  p.SpendToken,
		FeeLimit:    p.FeeLimit,
		ExpiryDays:  p.ExpiryDays,
	})
}

// ParseCall parses "<to>" or "<to>:<selector>". The selector may be a
// 4-byte hex selector or a function signature.
func ParseCall(s string) (policy.CallEntry, error) {
	to, sel, _ := strings.Cut(strings.TrimSpace(s), ":")
	if !policy.IsAddress(to) {
		return policy.CallEntry{}, fmt.Errorf("--call %q: target %q is not an address", s, to)
	}
	return policy.CallEntry{To: to, Selector: strings.TrimSpace(sel)}, nil
}

// NewReconcileCommand creates the reconcile command.
func NewReconcileCommand(rootOpts *RootOptions) *cobra.Command {
	pf := &PolicyFlags{}

	cmd := &cobra.Command{
		Use:     "reconcile",
		Aliases: []string{"grant"},
		Short:   "Converge the agent capability with a desired policy",
		Long: `Converge the capability granted to the agent key with a desired policy.

An active capability satisfying the policy is reused; otherwise a pending
one is reused or a new grant is requested. The run then polls the relay
until the capability is enforced or the activation window closes.

Exit codes:
  0 - Capability is ACTIVE_ONCHAIN or PENDING_ACTIVATION
  1 - Reconciliation failed
  2 - Command error (flags, config, policy file)

Examples:
  agent-wallet reconcile --policy ./policy.cue
  agent-wallet reconcile --call 0xA0b8...eB48:transfer(address,uint256) --spend-limit 1000000 --spend-period day
  agent-wallet grant --spend-limit 0x64 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := pf.Policy(cmd)
			if err != nil {
				var le *policyfile.LoadError
				if errors.As(err, &le) {
					return WrapExitError(ExitCommandError, "invalid policy file", err)
				}
				return WrapExitError(ExitCommandError, "invalid policy", err)
			}
			return runReconcile(rootOpts, cmd, &p)
		},
	}
	pf.register(cmd)

	return cmd
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Classify the existing capability without granting",
		Long: `Run reconciliation without a desired policy.

Existing active and pending capabilities are discovered and classified;
no grant is ever requested. Fails when nothing exists yet or when an
unsafe capability is enforced.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(rootOpts, cmd, nil)
		},
	}
}

func runReconcile(opts *RootOptions, cmd *cobra.Command, p *policy.DesiredPolicy) error {
	e, err := openEnv(opts, cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	ctx, cancel := signalContext(cmd, e.logger)
	defer cancel()

	req := engine.Request{Account: e.cfg.Account, ChainID: e.cfg.ChainID, Policy: p}
	res, runErr := e.engine.Reconcile(ctx, req)

	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
	if err := formatter.Run(NewRunView(req, res), runErr); err != nil {
		return err
	}

	if runErr != nil {
		return WrapExitError(ExitFailure, "reconciliation failed", runErr)
	}
	return nil
}
