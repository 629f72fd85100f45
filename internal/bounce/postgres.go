package bounce

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists bounce reports so multiple processes share one
// ledger. Same 30-day retention as the in-memory store.
type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(connString string) (*PostgresStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	if err := db.Ping(ctx); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	query := `
	CREATE TABLE IF NOT EXISTS bounce_reports (
		email_hash TEXT NOT NULL,
		reporter_ip TEXT NOT NULL,
		reported_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (email_hash, reporter_ip)
	);`
	if _, err := db.Exec(ctx, query); err != nil {
		return nil, fmt.Errorf("migration failed (bounce_reports): %w", err)
	}

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Report(ctx context.Context, emailHash, reporterIP string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO bounce_reports (email_hash, reporter_ip, reported_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (email_hash, reporter_ip) DO UPDATE SET reported_at = NOW()
	`, emailHash, reporterIP)
	if err != nil {
		return fmt.Errorf("failed to save bounce report: %w", err)
	}
	return nil
}

func (s *PostgresStore) UniqueReporters(ctx context.Context, emailHash string) (int, error) {
	var count int
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(DISTINCT reporter_ip) FROM bounce_reports
		WHERE email_hash = $1 AND reported_at > NOW() - INTERVAL '30 days'
	`, emailHash).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count reporters: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) Prune(ctx context.Context) error {
	_, err := s.db.Exec(ctx,
		`DELETE FROM bounce_reports WHERE reported_at < NOW() - INTERVAL '30 days'`)
	if err != nil {
		return fmt.Errorf("failed to prune bounce reports: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() {
	s.db.Close()
}
