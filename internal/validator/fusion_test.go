package validator

import (
	"reflect"
	"strings"
	"testing"

	"mailprobe/internal/analyzer"
	"mailprobe/internal/models"
)

func parsedAddr(email string) ParsedEmail {
	return ParseEmail(email)
}

func smtp(verdict models.SmtpVerdict) *models.SmtpResult {
	return &models.SmtpResult{Verdict: verdict, Host: "mx.test"}
}

func evidenceFor(email string, verdict models.SmtpVerdict) Evidence {
	p := parsedAddr(email)
	return Evidence{
		Email: p,
		Mx:    models.MxPresent,
		Smtp:  smtp(verdict),
		Local: analyzer.AnalyzeLocal(p.Local),
	}
}

func TestFuse(t *testing.T) {
	tests := []struct {
		name           string
		ev             Evidence
		expectedStatus models.VerificationStatus
		expectedMin    int
		expectedMax    int
		wantNote       string
	}{
		// ── Syntax and DNS gates ─────────────────────────────────────────────
		{
			name:           "Empty Input",
			ev:             Evidence{Email: parsedAddr("")},
			expectedStatus: models.StatusInvalid,
			expectedMin:    0,
			expectedMax:    0,
			wantNote:       "Invalid syntax",
		},
		{
			name:           "Malformed Address",
			ev:             Evidence{Email: parsedAddr("not-an-email")},
			expectedStatus: models.StatusInvalid,
			expectedMin:    0,
			expectedMax:    0,
			wantNote:       "Invalid syntax",
		},
		{
			name: "DNS Unresolvable",
			ev: Evidence{
				Email: parsedAddr("alice@example.com"),
				Mx:    models.MxUnknown,
			},
			expectedStatus: models.StatusUnknown,
			expectedMin:    10,
			expectedMax:    10,
		},
		{
			name: "No Mail Servers",
			ev: Evidence{
				Email: parsedAddr("alice@example.com"),
				Mx:    models.MxAbsent,
			},
			expectedStatus: models.StatusInvalid,
			expectedMin:    0,
			expectedMax:    5,
		},

		// ── SMTP verdict baselines ───────────────────────────────────────────
		{
			// Scenario: real RCPT 250, random RCPT 550.
			name:           "Clean Accept",
			ev:             evidenceFor("alice@example.com", models.SmtpAccepted),
			expectedStatus: models.StatusValid,
			expectedMin:    85,
			expectedMax:    97,
		},
		{
			name:           "Rejected User Unknown",
			ev:             evidenceFor("ghost@example.com", models.SmtpRejected),
			expectedStatus: models.StatusInvalid,
			expectedMin:    0,
			expectedMax:    5,
		},
		{
			name:           "Catch-All Domain",
			ev:             evidenceFor("alice@example.com", models.SmtpCatchAll),
			expectedStatus: models.StatusRisky,
			expectedMin:    40,
			expectedMax:    50,
		},
		{
			name:           "Greylisted Twice",
			ev:             evidenceFor("alice@example.com", models.SmtpGreylisted),
			expectedStatus: models.StatusRisky,
			expectedMin:    35,
			expectedMax:    45,
		},

		// ── Identity provider overrides ──────────────────────────────────────
		{
			// Scenario: gmail SMTP error + NeedsBrowser from Google.
			name: "Google Confirms On Blocked SMTP",
			ev: func() Evidence {
				ev := evidenceFor("alice@gmail.com", models.SmtpError)
				ev.MajorDomain = true
				ev.Checks.Google = models.True()
				return ev
			}(),
			expectedStatus: models.StatusValid,
			expectedMin:    94,
			expectedMax:    97,
		},
		{
			// A definitive provider negative beats an accepted RCPT.
			name: "Provider Negative Overrides Accept",
			ev: func() Evidence {
				ev := evidenceFor("alice@outlook.com", models.SmtpAccepted)
				ev.MajorDomain = true
				ev.Checks.Microsoft = models.False()
				return ev
			}(),
			expectedStatus: models.StatusInvalid,
			expectedMin:    0,
			expectedMax:    5,
		},
		{
			name: "Microsoft Veto Lifts Rejection",
			ev: func() Evidence {
				ev := evidenceFor("bob@contoso.com", models.SmtpRejected)
				ev.Checks.Microsoft = models.True()
				return ev
			}(),
			expectedStatus: models.StatusValid,
			expectedMin:    93,
			expectedMax:    97,
		},

		// ── Risk flags ───────────────────────────────────────────────────────
		{
			// Scenario: disposable + role. Cap(25) then role(-10) = 15.
			name: "Disposable Role Account",
			ev: func() Evidence {
				ev := evidenceFor("admin@mailinator.com", models.SmtpAccepted)
				ev.Disposable = true
				ev.RoleAccount = true
				return ev
			}(),
			expectedStatus: models.StatusRisky,
			expectedMin:    0,
			expectedMax:    25,
		},
		{
			// Base(35) - parked(15) - age(15) = 5, and both notes present.
			name: "Parked Young Domain",
			ev: func() Evidence {
				ev := evidenceFor("user@parked-new.example.com", models.SmtpError)
				ev.Intel.WebsiteAlive = models.True()
				ev.Intel.IsParked = models.True()
				ev.Intel.DomainAgeDays = 10
				return ev
			}(),
			expectedStatus: models.StatusUnknown,
			expectedMin:    0,
			expectedMax:    5,
			wantNote:       "parked",
		},

		// ── OSINT floors ─────────────────────────────────────────────────────
		{
			name: "Gravatar Floor On Inconclusive SMTP",
			ev: func() Evidence {
				ev := evidenceFor("jane.doe@smallcorp.com", models.SmtpError)
				ev.Checks.Gravatar = models.True()
				return ev
			}(),
			expectedStatus: models.StatusValid,
			expectedMin:    80,
			expectedMax:    97,
		},
		{
			name: "Major Provider Inconclusive Without Probes",
			ev: func() Evidence {
				ev := evidenceFor("somebody@yahoo.com", models.SmtpError)
				ev.MajorDomain = true
				return ev
			}(),
			expectedStatus: models.StatusValid,
			expectedMin:    60,
			expectedMax:    70,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, confidence, notes := Fuse(tt.ev)

			if status != tt.expectedStatus {
				t.Errorf("Status %q != expected %q", status, tt.expectedStatus)
			}
			if confidence < tt.expectedMin || confidence > tt.expectedMax {
				t.Errorf("Confidence %d not in range [%d, %d]", confidence, tt.expectedMin, tt.expectedMax)
			}
			if confidence < 0 || confidence > 97 {
				t.Errorf("Confidence %d outside [0, 97]", confidence)
			}
			if tt.wantNote != "" && !containsNote(notes, tt.wantNote) {
				t.Errorf("Notes %v missing %q", notes, tt.wantNote)
			}
		})
	}
}

func TestFuseTypoSuggestion(t *testing.T) {
	ev := evidenceFor("user@gmial.com", models.SmtpError)
	ev.SuggestedEmail = "user@gmail.com"

	_, _, notes := Fuse(ev)
	if !containsNote(notes, "Did you mean gmail.com?") {
		t.Errorf("Notes %v missing typo suggestion", notes)
	}
}

func TestFuseInvalidConfidenceCeiling(t *testing.T) {
	// Even a Gravatar floor cannot push an Invalid verdict above 5.
	ev := evidenceFor("ghost@example.com", models.SmtpRejected)
	ev.Checks.Gravatar = models.True()

	status, confidence, _ := Fuse(ev)
	if status != models.StatusInvalid {
		t.Fatalf("Status %q != invalid", status)
	}
	if confidence > 5 {
		t.Errorf("Invalid status carries confidence %d > 5", confidence)
	}
}

func TestFuseParkedYoungDomainNotes(t *testing.T) {
	ev := evidenceFor("user@parked-new.example.com", models.SmtpError)
	ev.Intel.WebsiteAlive = models.True()
	ev.Intel.IsParked = models.True()
	ev.Intel.DomainAgeDays = 10

	_, _, notes := Fuse(ev)
	if !containsNote(notes, "parked") {
		t.Errorf("Notes %v missing parked note", notes)
	}
	if !containsNote(notes, "days old") {
		t.Errorf("Notes %v missing domain-age note", notes)
	}
}

func TestFuseBounceReports(t *testing.T) {
	ev := evidenceFor("alice@example.com", models.SmtpAccepted)
	ev.BounceReporters = 1
	if _, _, notes := Fuse(ev); containsNote(notes, "bouncing") {
		t.Error("single reporter should not produce a bounce note")
	}

	ev.BounceReporters = 3
	if _, _, notes := Fuse(ev); !containsNote(notes, "bouncing") {
		t.Error("three reporters should produce a bounce note")
	}
}

func TestFuseIsPure(t *testing.T) {
	ev := evidenceFor("alice@example.com", models.SmtpCatchAll)
	ev.Intel.HasSPF = models.True()
	ev.Intel.HasDMARC = models.True()
	ev.Checks.HIBP = models.True()

	s1, c1, n1 := Fuse(ev)
	s2, c2, n2 := Fuse(ev)
	if s1 != s2 || c1 != c2 || !reflect.DeepEqual(n1, n2) {
		t.Errorf("Fuse not deterministic: (%v,%d,%v) vs (%v,%d,%v)", s1, c1, n1, s2, c2, n2)
	}
}

func TestFuseConfidenceAlwaysInRange(t *testing.T) {
	// Stack every positive signal; the clamp must hold.
	ev := evidenceFor("alice@example.com", models.SmtpAccepted)
	ev.Intel.HasSPF = models.True()
	ev.Intel.HasDMARC = models.True()
	ev.Checks.Microsoft = models.True()
	ev.Checks.Gravatar = models.True()
	ev.Checks.GitHub = models.True()
	ev.Checks.PGP = models.True()
	ev.Checks.HIBP = models.True()

	_, confidence, _ := Fuse(ev)
	if confidence > 97 {
		t.Errorf("Confidence %d exceeds 97", confidence)
	}

	// Stack every negative signal; it must not go below zero.
	ev = evidenceFor("x@example.com", models.SmtpError)
	ev.Intel.HasSPF = models.False()
	ev.Intel.HasDMARC = models.False()
	ev.Intel.WebsiteAlive = models.False()
	ev.Intel.IsParked = models.True()
	ev.Intel.Blacklisted = models.True()
	ev.Intel.DomainAgeDays = 3
	ev.RoleAccount = true

	_, confidence, _ = Fuse(ev)
	if confidence < 0 {
		t.Errorf("Confidence %d below 0", confidence)
	}
}

func containsNote(notes []string, fragment string) bool {
	for _, n := range notes {
		if strings.Contains(n, fragment) {
			return true
		}
	}
	return false
}
