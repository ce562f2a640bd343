package policy

// Matches reports whether observed satisfies desired.
//
// Call scope is a subset check: every canonical entry of desired must appear
// in observed, which may carry extra relay bookkeeping entries. An empty
// desired scope means unrestricted; an empty observed scope grants nothing.
// Spend is exact: observed needs an entry with the same period, limit and
// token.
func Matches(desired DesiredPolicy, observed CapabilityRecord) bool {
	return callsSubset(CanonicalCalls(desired.Calls), canonicalEntries(observed.Calls)) &&
		hasSpend(CanonicalSpend(desired.Spend()), observed.Spends)
}

func canonicalEntries(calls []CallEntry) []CallEntry {
	out := make([]CallEntry, len(calls))
	for i, c := range calls {
		out[i] = CanonicalCall(c)
	}
	return out
}

func callsSubset(required, have []CallEntry) bool {
	set := make(map[CallEntry]struct{}, len(have))
	for _, c := range have {
		set[c] = struct{}{}
	}
	for _, c := range required {
		if _, ok := set[c]; !ok {
			return false
		}
	}
	return true
}

func hasSpend(want SpendEntry, have []SpendEntry) bool {
	if want.Limit == nil {
		return false
	}
	for _, s := range have {
		s = CanonicalSpend(s)
		if s.Period != want.Period || s.Token != want.Token || s.Limit == nil {
			continue
		}
		if s.Limit.Cmp(want.Limit) == 0 {
			return true
		}
	}
	return false
}
