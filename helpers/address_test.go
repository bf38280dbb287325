package helpers

import "testing"

func TestSplitEmailAddress(t *testing.T) {
	tests := []struct {
		input  string
		local  string
		domain string
	}{
		{"user@example.com", "user", "example.com"},
		{"User@EXAMPLE.COM", "User", "example.com"},
		{"user+detail@example.com", "user+detail", "example.com"},
		{"no-at-sign", "no-at-sign", ""},
	}

	for _, tc := range tests {
		local, domain := SplitEmailAddress(tc.input)
		if local != tc.local || domain != tc.domain {
			t.Errorf("SplitEmailAddress(%q) = (%q, %q), want (%q, %q)",
				tc.input, local, domain, tc.local, tc.domain)
		}
	}
}

func TestAddressesEqual(t *testing.T) {
	tests := []struct {
		a, b  string
		equal bool
	}{
		{"user@example.com", "user@example.com", true},
		{"user@example.com", "user@EXAMPLE.com", true},
		{"User@example.com", "user@example.com", false},
		{"user@example.com", "other@example.com", false},
		{" user@example.com ", "user@example.com", true},
	}

	for _, tc := range tests {
		if got := AddressesEqual(tc.a, tc.b); got != tc.equal {
			t.Errorf("AddressesEqual(%q, %q) = %v, want %v", tc.a, tc.b, got, tc.equal)
		}
	}
}
