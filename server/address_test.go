package server

import "testing"

func TestNewAddress(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantErr   bool
		localPart string
		domain    string
		detail    string
	}{
		{"simple", "user@example.com", false, "user", "example.com", ""},
		{"detail", "list+request@example.com", false, "list+request", "example.com", "request"},
		{"domain folded", "user@EXAMPLE.Com", false, "user", "example.com", ""},
		{"local case kept", "User@example.com", false, "User", "example.com", ""},
		{"trimmed", "  user@example.com  ", false, "user", "example.com", ""},
		{"empty", "", true, "", "", ""},
		{"no at", "userexample.com", true, "", "", ""},
		{"two ats", "user@foo@example.com", true, "", "", ""},
		{"inner whitespace", "us er@example.com", true, "", "", ""},
		{"bad domain", "user@-example-", true, "", "", ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			addr, err := NewAddress(tc.input)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q, got %+v", tc.input, addr)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewAddress(%q): %v", tc.input, err)
			}
			if addr.LocalPart() != tc.localPart {
				t.Errorf("LocalPart() = %q, want %q", addr.LocalPart(), tc.localPart)
			}
			if addr.Domain() != tc.domain {
				t.Errorf("Domain() = %q, want %q", addr.Domain(), tc.domain)
			}
			if addr.Detail() != tc.detail {
				t.Errorf("Detail() = %q, want %q", addr.Detail(), tc.detail)
			}
		})
	}
}

func TestBaseAddress(t *testing.T) {
	addr, err := NewAddress("list+subscribe@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if addr.BaseLocalPart() != "list" {
		t.Errorf("BaseLocalPart() = %q, want %q", addr.BaseLocalPart(), "list")
	}
	if addr.BaseAddress() != "list@example.com" {
		t.Errorf("BaseAddress() = %q, want %q", addr.BaseAddress(), "list@example.com")
	}
}

func TestAddressEqual(t *testing.T) {
	mk := func(s string) Address {
		a, err := NewAddress(s)
		if err != nil {
			t.Fatal(err)
		}
		return a
	}

	if !mk("user@example.com").Equal(mk("user@EXAMPLE.com")) {
		t.Error("domain comparison should be case insensitive")
	}
	if mk("User@example.com").Equal(mk("user@example.com")) {
		t.Error("local part comparison should be case sensitive")
	}
}
