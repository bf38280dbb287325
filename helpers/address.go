package helpers

import "strings"

// SplitEmailAddress splits an address into local part and domain. The local
// part keeps its case, the domain is folded to lower case. The domain is empty
// if the address has no @.
func SplitEmailAddress(email string) (string, string) {
	idx := strings.LastIndex(email, "@")
	if idx < 0 {
		return email, ""
	}
	return email[:idx], strings.ToLower(email[idx+1:])
}

// AddressesEqual compares two email addresses for list membership purposes.
// The local part is compared case sensitively, the domain is not.
func AddressesEqual(a, b string) bool {
	aLocal, aDomain := SplitEmailAddress(strings.TrimSpace(a))
	bLocal, bDomain := SplitEmailAddress(strings.TrimSpace(b))
	return aLocal == bLocal && aDomain == bDomain
}
