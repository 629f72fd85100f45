// Package bounce collects user-submitted bounce reports. Reports are keyed
// by a SHA-256 of the lowercased address so the raw email is never stored.
package bounce

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"
)

// retention is how long a report counts toward the unique-reporter tally.
const retention = 30 * 24 * time.Hour

// HashEmail derives the storage key for an address.
func HashEmail(email string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(email))))
	return hex.EncodeToString(sum[:])
}

// Store records bounce reports and answers how many distinct IPs reported a
// given address within the retention window.
type Store interface {
	Report(ctx context.Context, emailHash, reporterIP string) error
	UniqueReporters(ctx context.Context, emailHash string) (int, error)
	Prune(ctx context.Context) error
}

// MemoryStore is the single-process default.
type MemoryStore struct {
	mu      sync.Mutex
	reports map[string]map[string]time.Time // hash -> ip -> last report
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{reports: make(map[string]map[string]time.Time)}
}

func (s *MemoryStore) Report(ctx context.Context, emailHash, reporterIP string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byIP, ok := s.reports[emailHash]
	if !ok {
		byIP = make(map[string]time.Time)
		s.reports[emailHash] = byIP
	}
	byIP[reporterIP] = time.Now()
	return nil
}

func (s *MemoryStore) UniqueReporters(ctx context.Context, emailHash string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-retention)
	count := 0
	for _, at := range s.reports[emailHash] {
		if at.After(cutoff) {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) Prune(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-retention)
	for hash, byIP := range s.reports {
		for ip, at := range byIP {
			if at.Before(cutoff) {
				delete(byIP, ip)
			}
		}
		if len(byIP) == 0 {
			delete(s.reports, hash)
		}
	}
	return nil
}

// StartPrune runs Prune on a timer until ctx is cancelled.
func StartPrune(ctx context.Context, s Store, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Prune(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}
