package behavior

import (
	"testing"
	"time"

	"mailprobe/internal/models"
)

func TestSuspectedCatchAll(t *testing.T) {
	s := New()

	// Below the probe floor nothing is suspect, whatever the rate.
	for i := 0; i < 9; i++ {
		s.Record("mx.test", models.SmtpAccepted)
	}
	if s.SuspectedCatchAll("mx.test") {
		t.Error("suspect after only 9 probes")
	}

	s.Record("mx.test", models.SmtpAccepted)
	if !s.SuspectedCatchAll("mx.test") {
		t.Error("10/10 accepts should be suspect")
	}

	// Rejections drag the accept rate under the threshold.
	s.Record("mx.test", models.SmtpRejected)
	s.Record("mx.test", models.SmtpRejected)
	if s.SuspectedCatchAll("mx.test") {
		t.Error("10/12 accepts is not above the 0.9 threshold")
	}

	if s.SuspectedCatchAll("never-seen.test") {
		t.Error("unknown host cannot be suspect")
	}
}

func TestCatchAllVerdictsCount(t *testing.T) {
	s := New()
	for i := 0; i < 10; i++ {
		s.Record("mx.test", models.SmtpCatchAll)
	}
	if !s.SuspectedCatchAll("mx.test") {
		t.Error("explicit catch-all verdicts should count toward the accept rate")
	}
}

func TestSweepEvictsIdleHosts(t *testing.T) {
	s := New()
	s.Record("old.test", models.SmtpAccepted)
	s.Record("fresh.test", models.SmtpAccepted)

	s.mu.Lock()
	s.hosts["old.test"].LastSeen = time.Now().Add(-8 * 24 * time.Hour)
	s.mu.Unlock()

	s.Sweep()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.hosts["old.test"]; ok {
		t.Error("idle host survived the sweep")
	}
	if _, ok := s.hosts["fresh.test"]; !ok {
		t.Error("fresh host evicted")
	}
}
