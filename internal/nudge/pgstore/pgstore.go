// Package pgstore provides a PostgreSQL implementation of nudge.Store.
package pgstore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var tracer = otel.Tracer("github.com/linnemanlabs/nudge/internal/nudge/pgstore")

//go:embed schema.sql
var schema string

// Store persists user attributes and site options in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema on the given pool and returns a ready Store.
// The caller owns the pool.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// GetAttr reads one user attribute.
func (s *Store) GetAttr(ctx context.Context, userID, key string) ([]byte, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.GetAttr", "SELECT")
	defer span.End()

	var value []byte
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM user_attributes WHERE user_id = $1 AND key = $2`,
		userID, key,
	).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		recordErr(span, err)
		return nil, false, fmt.Errorf("select attribute %s: %w", key, err)
	}
	return value, true, nil
}

// SetAttrs upserts all values for a user in one transaction.
func (s *Store) SetAttrs(ctx context.Context, userID string, values map[string][]byte) error {
	ctx, span := startSpan(ctx, "pgstore.SetAttrs", "UPSERT")
	defer span.End()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		recordErr(span, err)
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	for key, value := range values {
		if value == nil {
			value = []byte{}
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO user_attributes (user_id, key, value, updated_at)
			 VALUES ($1, $2, $3, now())
			 ON CONFLICT (user_id, key) DO UPDATE SET
			 	value      = EXCLUDED.value,
			 	updated_at = EXCLUDED.updated_at`,
			userID, key, value,
		)
		if err != nil {
			recordErr(span, err)
			return fmt.Errorf("upsert attribute %s: %w", key, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		recordErr(span, err)
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// LoadOrStoreOption inserts the option if absent and returns the stored value.
func (s *Store) LoadOrStoreOption(ctx context.Context, key string, value []byte) ([]byte, error) {
	ctx, span := startSpan(ctx, "pgstore.LoadOrStoreOption", "UPSERT")
	defer span.End()

	if value == nil {
		value = []byte{}
	}
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO site_options (key, value) VALUES ($1, $2) ON CONFLICT (key) DO NOTHING`,
		key, value,
	); err != nil {
		recordErr(span, err)
		return nil, fmt.Errorf("insert option %s: %w", key, err)
	}

	var stored []byte
	if err := s.pool.QueryRow(ctx, `SELECT value FROM site_options WHERE key = $1`, key).Scan(&stored); err != nil {
		recordErr(span, err)
		return nil, fmt.Errorf("select option %s: %w", key, err)
	}
	return stored, nil
}

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
	))
}

func recordErr(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
