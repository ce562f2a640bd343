// Package policyfile loads a desired capability policy from a CUE file.
//
// The file is unified with an embedded schema, so field names, address
// shapes, spend periods and amount formats are checked before the values
// reach policy.NewDesiredPolicy.
package policyfile

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/jeanregisser/agent-wallet/internal/policy"
)

//go:embed schema.cue
var schemaCUE string

// LoadError reports a policy file problem with its CUE position when known.
type LoadError struct {
	Path    string
	Message string
	Pos     token.Pos
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Load reads and validates the policy file at path.
func Load(path string) (policy.DesiredPolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return policy.DesiredPolicy{}, &LoadError{Path: path, Message: err.Error()}
	}
	return Parse(path, data)
}

// Parse validates data as a policy file. path is used in positions only.
func Parse(path string, data []byte) (policy.DesiredPolicy, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return policy.DesiredPolicy{}, fmt.Errorf("compile policy schema: %w", err)
	}

	file := ctx.CompileBytes(data, cue.Filename(path))
	if err := file.Err(); err != nil {
		return policy.DesiredPolicy{}, convertError(path, err)
	}

	value := schema.Unify(file)
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return policy.DesiredPolicy{}, convertError(path, err)
	}

	in, err := extract(value.LookupPath(cue.ParsePath("policy")))
	if err != nil {
		return policy.DesiredPolicy{}, &LoadError{Path: path, Message: err.Error()}
	}
	p, err := policy.NewDesiredPolicy(in)
	if err != nil {
		return policy.DesiredPolicy{}, &LoadError{Path: path, Message: err.Error()}
	}
	return p, nil
}

func extract(v cue.Value) (policy.PolicyInput, error) {
	var in policy.PolicyInput

	iter, err := field(v, "calls").List()
	if err != nil {
		return in, fmt.Errorf("calls: %w", err)
	}
	for iter.Next() {
		var c struct {
			To       string `json:"to"`
			Selector string `json:"selector"`
		}
		if err := iter.Value().Decode(&c); err != nil {
			return in, fmt.Errorf("calls[%s]: %w", iter.Selector(), err)
		}
		in.Calls = append(in.Calls, policy.CallEntry{To: c.To, Selector: c.Selector})
	}

	spend := v.LookupPath(cue.ParsePath("spend"))
	if in.SpendLimit, err = amount(spend.LookupPath(cue.ParsePath("limit"))); err != nil {
		return in, fmt.Errorf("spend.limit: %w", err)
	}
	if in.SpendPeriod, err = spend.LookupPath(cue.ParsePath("period")).String(); err != nil {
		return in, fmt.Errorf("spend.period: %w", err)
	}
	if token := spend.LookupPath(cue.ParsePath("token")); token.Exists() {
		if in.SpendToken, err = token.String(); err != nil {
			return in, fmt.Errorf("spend.token: %w", err)
		}
	}

	if fee := v.LookupPath(cue.ParsePath("fee_limit")); fee.Exists() {
		if in.FeeLimit, err = amount(fee); err != nil {
			return in, fmt.Errorf("fee_limit: %w", err)
		}
	}

	days, err := field(v, "expiry_days").Int64()
	if err != nil {
		return in, fmt.Errorf("expiry_days: %w", err)
	}
	in.ExpiryDays = int(days)
	return in, nil
}

// field looks up name, resolving a schema default when the file left it
// unset.
func field(v cue.Value, name string) cue.Value {
	f := v.LookupPath(cue.ParsePath(name))
	if d, ok := f.Default(); ok {
		return d
	}
	return f
}

// amount renders a CUE string or arbitrary-precision int as the decimal
// or hex text policy.ParseAmount accepts.
func amount(v cue.Value) (string, error) {
	switch v.Kind() {
	case cue.IntKind:
		n, err := v.Int(nil)
		if err != nil {
			return "", err
		}
		return n.String(), nil
	default:
		return v.String()
	}
}

// convertError keeps the first CUE position so editors can jump to it.
func convertError(path string, err error) *LoadError {
	le := &LoadError{Path: path, Message: cueerrors.Details(err, nil)}
	var cerr cueerrors.Error
	if errors.As(err, &cerr) {
		le.Message = cerr.Error()
		le.Pos = cerr.Position()
	}
	return le
}
