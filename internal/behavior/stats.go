// Package behavior keeps rolling per-MX-host probe statistics across
// requests. A host that accepts nearly everything we throw at it is almost
// certainly a catch-all, even when a single session looks clean.
package behavior

import (
	"context"
	"sync"
	"time"

	"mailprobe/internal/models"
)

const (
	// minProbes is how many sessions we need before trusting the accept rate.
	minProbes = 10
	// catchAllRate is the accept fraction above which a host is suspect.
	catchAllRate = 0.9
	// idleEviction drops hosts we have not probed in a week.
	idleEviction = 7 * 24 * time.Hour
)

type hostCounts struct {
	Total    int
	Accepted int
	Rejected int
	CatchAll int
	LastSeen time.Time
}

// Stats is the process-wide server-behavior cache.
type Stats struct {
	mu    sync.Mutex
	hosts map[string]*hostCounts
}

func New() *Stats {
	return &Stats{hosts: make(map[string]*hostCounts)}
}

// Record folds one probe verdict into the host's rolling counters.
func (s *Stats) Record(host string, verdict models.SmtpVerdict) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.hosts[host]
	if !ok {
		c = &hostCounts{}
		s.hosts[host] = c
	}
	c.Total++
	c.LastSeen = time.Now()

	switch verdict {
	case models.SmtpAccepted:
		c.Accepted++
	case models.SmtpRejected:
		c.Rejected++
	case models.SmtpCatchAll:
		c.CatchAll++
	}
}

// SuspectedCatchAll reports whether the host's history says it accepts
// practically every recipient.
func (s *Stats) SuspectedCatchAll(host string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.hosts[host]
	if !ok || c.Total < minProbes {
		return false
	}
	rate := float64(c.Accepted+c.CatchAll) / float64(c.Total)
	return rate > catchAllRate
}

// Sweep evicts hosts idle for longer than the retention window.
func (s *Stats) Sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-idleEviction)
	for host, c := range s.hosts {
		if c.LastSeen.Before(cutoff) {
			delete(s.hosts, host)
		}
	}
}

// StartSweep runs Sweep on a timer until ctx is cancelled.
func (s *Stats) StartSweep(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Sweep()
			case <-ctx.Done():
				return
			}
		}
	}()
}
