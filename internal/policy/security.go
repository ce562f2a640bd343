package policy

import "fmt"

// SecurityViolation reports a call entry that would let the agent call the
// account itself with any function.
type SecurityViolation struct {
	Account string
	Entry   CallEntry
}

func (e *SecurityViolation) Error() string {
	sel := e.Entry.Selector
	if sel == "" {
		sel = "<any>"
	}
	return fmt.Sprintf("unsafe self-call scope: to=%s selector=%s allows arbitrary calls on account %s",
		e.Entry.To, sel, e.Account)
}

// IsUnsafeSelfCall reports whether c targets account with no selector or
// the any-selector wildcard.
func IsUnsafeSelfCall(c CallEntry, account string) bool {
	if CanonicalAddress(c.To) != CanonicalAddress(account) {
		return false
	}
	return CanonicalSelector(c.Selector) == AnySelector
}

// ValidateCalls returns a *SecurityViolation for the first unsafe self-call.
func ValidateCalls(calls []CallEntry, account string) error {
	for _, c := range calls {
		if IsUnsafeSelfCall(c, account) {
			return &SecurityViolation{Account: account, Entry: c}
		}
	}
	return nil
}

// ValidatePolicy checks a desired policy before it is granted.
func ValidatePolicy(p DesiredPolicy, account string) error {
	return ValidateCalls(p.Calls, account)
}

// ValidateRecord checks an observed record before it is trusted.
func ValidateRecord(r CapabilityRecord, account string) error {
	return ValidateCalls(r.Calls, account)
}
