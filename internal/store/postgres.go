package store

import (
	"context"
	_ "embed"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/PratikDhanave/paywall-attribution-service/internal/attribution"
)

// schemaSQL is embedded so the service can self-bootstrap its database schema.
//
//go:embed schema.sql
var schemaSQL string

// PostgresStore is the journal of commerce events relayed to the attribution
// backend.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a connection pool and fails fast if DB is unreachable.
func NewPostgresStore(ctx context.Context, dbURL string) (*PostgresStore, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// EnsureSchema applies schema.sql. Safe to run multiple times.
func (p *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, schemaSQL)
	return err
}

// Ping is used by readiness endpoint to validate DB connectivity.
func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close shuts down the connection pool.
func (p *PostgresStore) Close() {
	p.pool.Close()
}

// RecordEvent persists ev and returns inserted=false when its ID was already
// recorded.
func (p *PostgresStore) RecordEvent(ctx context.Context, ev attribution.Event) (bool, error) {
	if ev.ID == "" || ev.Kind == "" {
		return false, errors.New("event id and kind required")
	}

	var amount *float64
	var currency *string
	if ev.Price != nil {
		amount = &ev.Price.Amount
		currency = &ev.Price.Currency
	}

	// RETURNING 1 only when inserted; duplicates return no rows.
	var one int
	err := p.pool.QueryRow(ctx, `
		INSERT INTO commerce_events(event_id, kind, activation_id, paywall_name, product_id, amount, currency, ts)
		VALUES ($1,$2,NULLIF($3,''),NULLIF($4,''),NULLIF($5,''),$6,$7,$8)
		ON CONFLICT (event_id) DO NOTHING
		RETURNING 1
	`, ev.ID, string(ev.Kind), ev.ActivationID, ev.PaywallName, ev.ProductID, amount, currency, ev.At).Scan(&one)

	if err == nil {
		return true, nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	return false, err
}

// CountEvents returns the number of events of kind in the window [from,to).
func (p *PostgresStore) CountEvents(ctx context.Context, kind string, from, to time.Time) (int64, error) {
	var count int64
	err := p.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM commerce_events
		WHERE kind=$1
		  AND ts >= $2
		  AND ts <  $3
	`, kind, from, to).Scan(&count)

	return count, err
}
