package validator

import "testing"

func TestParseEmail(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantValid  bool
		wantLocal  string
		wantDomain string
	}{
		{"Simple", "alice@example.com", true, "alice", "example.com"},
		{"Uppercase Normalized", "Alice@Example.COM", true, "alice", "example.com"},
		{"Surrounding Whitespace", "  bob@example.com  ", true, "bob", "example.com"},
		{"Mailto Prefix", "mailto:carol@example.com", true, "carol", "example.com"},
		{"Plus Tag", "dave+tag@example.com", true, "dave+tag", "example.com"},
		{"Subdomain", "eve@mail.corp.example.com", true, "eve", "mail.corp.example.com"},
		{"Empty", "", false, "", ""},
		{"No At", "not-an-email", false, "", ""},
		{"No Local", "@example.com", false, "", ""},
		{"No Domain", "alice@", false, "", ""},
		{"Bare TLD", "alice@localhost", false, "", ""},
		{"Double Dot Local", "a..b@example.com", false, "", ""},
		{"Leading Dot Local", ".alice@example.com", false, "", ""},
		{"Space In Local", "ali ce@example.com", false, "", ""},
		{"Hyphen Edge Label", "alice@-example.com", false, "", ""},
		{"Empty Label", "alice@example..com", false, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := ParseEmail(tt.input)
			if p.Valid != tt.wantValid {
				t.Fatalf("Valid = %v, want %v", p.Valid, tt.wantValid)
			}
			if !tt.wantValid {
				return
			}
			if p.Local != tt.wantLocal {
				t.Errorf("Local = %q, want %q", p.Local, tt.wantLocal)
			}
			if p.Domain != tt.wantDomain {
				t.Errorf("Domain = %q, want %q", p.Domain, tt.wantDomain)
			}
		})
	}
}

func TestParseEmailLengthLimits(t *testing.T) {
	long := make([]byte, 70)
	for i := range long {
		long[i] = 'a'
	}
	if ParseEmail(string(long) + "@example.com").Valid {
		t.Error("65+ character local part should be invalid")
	}

	total := make([]byte, 250)
	for i := range total {
		total[i] = 'a'
	}
	if ParseEmail(string(total) + "@example.com").Valid {
		t.Error("address over 254 characters should be invalid")
	}
}
