package audit

import (
	"context"
	"database/sql"
	"fmt"
	"net"

	"github.com/lib/pq"
	"github.com/sqlc-dev/pqtype"

	"github.com/onnwee/slider-captcha/internal/circuitbreaker"
)

const createTable = `
CREATE TABLE IF NOT EXISTS captcha_verifications (
    id           BIGSERIAL PRIMARY KEY,
    challenge_id TEXT        NOT NULL,
    outcome      TEXT        NOT NULL,
    attempts     INTEGER     NOT NULL,
    client_ip    INET,
    occurred_at  TIMESTAMPTZ NOT NULL
)`

// PostgresSink writes events to the captcha_verifications table.
type PostgresSink struct {
	db      *sql.DB
	breaker *circuitbreaker.CircuitBreaker
}

// OpenPostgres connects to dsn, creates the table when missing and returns a sink
// guarded by a circuit breaker.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresSink, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping audit database: %w", err)
	}
	if _, err := db.ExecContext(ctx, createTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create audit table: %w", err)
	}

	return &PostgresSink{
		db:      db,
		breaker: circuitbreaker.New(circuitbreaker.Config{Name: "audit_postgres"}),
	}, nil
}

// Write copies events into the table in one transaction.
func (s *PostgresSink) Write(ctx context.Context, events []Event) error {
	return s.breaker.Call(ctx, func(ctx context.Context) error {
		return s.copyIn(ctx, events)
	})
}

func (s *PostgresSink) copyIn(ctx context.Context, events []Event) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin audit tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("captcha_verifications",
		"challenge_id", "outcome", "attempts", "client_ip", "occurred_at"))
	if err != nil {
		return fmt.Errorf("prepare audit copy: %w", err)
	}
	for _, e := range events {
		if _, err = stmt.ExecContext(ctx, e.ChallengeID, e.Outcome, int64(e.Attempts), clientInet(e.ClientIP), e.OccurredAt); err != nil {
			stmt.Close()
			return fmt.Errorf("copy audit row: %w", err)
		}
	}
	if _, err = stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return fmt.Errorf("flush audit copy: %w", err)
	}
	if err = stmt.Close(); err != nil {
		return fmt.Errorf("close audit copy: %w", err)
	}
	return tx.Commit()
}

// Close releases the connection pool.
func (s *PostgresSink) Close() error {
	return s.db.Close()
}

// clientInet converts a textual address into a host-sized INET value. Unparseable
// input becomes NULL.
func clientInet(addr string) pqtype.Inet {
	ip := net.ParseIP(addr)
	if ip == nil {
		return pqtype.Inet{}
	}
	bits := 128
	if v4 := ip.To4(); v4 != nil {
		ip, bits = v4, 32
	}
	return pqtype.Inet{
		IPNet: net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)},
		Valid: true,
	}
}
