package analyzer

import "testing"

func TestShannonEntropy(t *testing.T) {
	if got := ShannonEntropy(""); got != 0 {
		t.Errorf("empty string entropy = %v, want 0", got)
	}
	if got := ShannonEntropy("aaaa"); got != 0 {
		t.Errorf("uniform string entropy = %v, want 0", got)
	}
	low := ShannonEntropy("john.smith")
	high := ShannonEntropy("x7k2q9vb3m1z8")
	if high <= low {
		t.Errorf("random string entropy %v should exceed name entropy %v", high, low)
	}
	if high <= 3.5 {
		t.Errorf("high-entropy sample %v should exceed the 3.5 threshold", high)
	}
}

func TestAnalyzeLocal(t *testing.T) {
	tests := []struct {
		name        string
		local       string
		wantPattern string
		wantHuman   bool
		wantFlagged bool
	}{
		{"Firstname Dot Lastname", "john.smith", "firstname.lastname", true, false},
		{"Initial Dot Lastname", "j.smith", "f.lastname", true, false},
		{"Underscore Pair", "john_smith", "firstname_lastname", true, false},
		{"Hyphen Pair", "john-smith", "firstname-lastname", true, false},
		{"Name With Digits", "john42", "firstnameNNN", true, false},
		{"Plain Word", "jsmith", "flastname", true, false},
		{"Machine Generated", "x7k2q9vb3m1z8a4", "", false, true},
		{"Single Char", "x", "", false, true},
		{"Mostly Numeric", "12345678a", "", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := AnalyzeLocal(tt.local)
			if a.Pattern != tt.wantPattern {
				t.Errorf("Pattern = %q, want %q", a.Pattern, tt.wantPattern)
			}
			if a.LooksHuman != tt.wantHuman {
				t.Errorf("LooksHuman = %v, want %v", a.LooksHuman, tt.wantHuman)
			}
			if (len(a.Flags) > 0) != tt.wantFlagged {
				t.Errorf("Flags = %v, flagged = %v, want %v", a.Flags, len(a.Flags) > 0, tt.wantFlagged)
			}
		})
	}
}

func TestDetectBulkAnomalies(t *testing.T) {
	addr := func(local, domain string) Address {
		return Address{Email: local + "@" + domain, Local: local, Domain: domain}
	}

	t.Run("Odd One Out", func(t *testing.T) {
		batch := []Address{
			addr("anna.bell", "corp.com"),
			addr("ben.carter", "corp.com"),
			addr("carla.diaz", "corp.com"),
			addr("dan.evans", "corp.com"),
			addr("erin.frost", "corp.com"),
			addr("xkq192", "corp.com"),
		}
		anomalies := DetectBulkAnomalies(batch)
		if !anomalies["xkq192@corp.com"] {
			t.Error("xkq192 should be flagged against the firstname.lastname majority")
		}
		if len(anomalies) != 1 {
			t.Errorf("anomalies = %v, want exactly one", anomalies)
		}
	})

	t.Run("Different Real Pattern Still Flagged", func(t *testing.T) {
		// The rule flags every non-match of the dominant pattern, even a local
		// that matches another legitimate shape.
		batch := []Address{
			addr("anna.bell", "corp.com"),
			addr("ben.carter", "corp.com"),
			addr("carla.diaz", "corp.com"),
			addr("dan_evans", "corp.com"),
		}
		anomalies := DetectBulkAnomalies(batch)
		if !anomalies["dan_evans@corp.com"] {
			t.Error("underscore local should be flagged against a dot-majority roster")
		}
	})

	t.Run("Too Few Per Domain", func(t *testing.T) {
		batch := []Address{
			addr("anna.bell", "a.com"),
			addr("ben.carter", "b.com"),
			addr("xkq192", "c.com"),
		}
		if anomalies := DetectBulkAnomalies(batch); len(anomalies) != 0 {
			t.Errorf("anomalies = %v, want none across distinct domains", anomalies)
		}
	})

	t.Run("No Dominant Pattern", func(t *testing.T) {
		batch := []Address{
			addr("x9q1z7kk2", "corp.com"),
			addr("p0w3r8mv5", "corp.com"),
			addr("t5y2u9bn4", "corp.com"),
		}
		if anomalies := DetectBulkAnomalies(batch); len(anomalies) != 0 {
			t.Errorf("anomalies = %v, want none without a dominant pattern", anomalies)
		}
	})

	t.Run("Dominant Below Half", func(t *testing.T) {
		batch := []Address{
			addr("anna.bell", "corp.com"),
			addr("ben.carter", "corp.com"),
			addr("carla.diaz", "corp.com"),
			addr("z1x9q2w8e", "corp.com"),
			addr("m3n7b4v1c", "corp.com"),
			addr("k6j2h9g5f", "corp.com"),
			addr("q8w1e5r9t", "corp.com"),
		}
		if anomalies := DetectBulkAnomalies(batch); len(anomalies) != 0 {
			t.Errorf("anomalies = %v, want none when dominant covers under half", anomalies)
		}
	})
}
