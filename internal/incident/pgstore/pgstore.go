// Package pgstore provides a PostgreSQL-backed incident.Registry.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/remedy/internal/incident"
)

var tracer = otel.Tracer("github.com/linnemanlabs/remedy/internal/incident/pgstore")

//go:embed schema.sql
var schema string

// Store reads incidents from PostgreSQL. The registry order is creation time,
// then insertion order; positional keys follow that order.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema on pool and returns a ready Store.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

const incidentColumns = `transaction_id, status, amount, currency, sender_id, receiver_id, metadata, created_at`

// List implements incident.Registry.
func (s *Store) List(ctx context.Context) ([]incident.Entry, error) {
	ctx, span := tracer.Start(ctx, "pgstore.List", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	incs, err := s.list(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("remedy.incidents", len(incs)))
	return incident.Entries(incs), nil
}

// Get implements incident.Registry. Positional keys depend on the full
// ordering, so the lookup runs over the listed set.
func (s *Store) Get(ctx context.Context, key string) (incident.Entry, bool, error) {
	entries, err := s.List(ctx)
	if err != nil {
		return incident.Entry{}, false, err
	}
	e, ok := incident.Find(entries, key)
	return e, ok, nil
}

func (s *Store) list(ctx context.Context) ([]incident.Incident, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+incidentColumns+` FROM incidents ORDER BY created_at NULLS LAST, id`)
	if err != nil {
		return nil, fmt.Errorf("query incidents: %w", err)
	}
	defer rows.Close()

	var out []incident.Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate incidents: %w", err)
	}
	return out, nil
}

func scanIncident(row pgx.Row) (incident.Incident, error) {
	var (
		inc          incident.Incident
		txID         *string
		metadataJSON []byte
		createdAt    *time.Time
	)
	err := row.Scan(&txID, &inc.Status, &inc.Amount, &inc.Currency, &inc.SenderID, &inc.ReceiverID, &metadataJSON, &createdAt)
	if err != nil {
		return incident.Incident{}, fmt.Errorf("scan incident: %w", err)
	}
	if txID != nil {
		inc.TransactionID = *txID
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &inc.Metadata); err != nil {
			return incident.Incident{}, fmt.Errorf("unmarshal metadata for %q: %w", inc.TransactionID, err)
		}
	}
	if createdAt != nil {
		inc.CreatedAt = createdAt.UTC().Format(time.RFC3339)
	}
	return inc, nil
}

// Import inserts incidents in order, updating rows whose transaction ID
// already exists. It runs in one transaction and returns the number written.
func (s *Store) Import(ctx context.Context, incs []incident.Incident) (int, error) {
	ctx, span := tracer.Start(ctx, "pgstore.Import", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "UPSERT"),
		attribute.Int("remedy.incidents", len(incs)),
	))
	defer span.End()

	n, err := s.importTx(ctx, incs)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}
	return n, nil
}

func (s *Store) importTx(ctx context.Context, incs []incident.Incident) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	for i := range incs {
		if err := upsertIncident(ctx, tx, &incs[i]); err != nil {
			return 0, fmt.Errorf("incident %d: %w", i, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return len(incs), nil
}

func upsertIncident(ctx context.Context, tx pgx.Tx, inc *incident.Incident) error {
	var metadataJSON []byte
	if inc.Metadata != nil {
		b, err := json.Marshal(inc.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		metadataJSON = b
	}

	var createdAt *time.Time
	if inc.CreatedAt != "" {
		ts, err := time.Parse(time.RFC3339, inc.CreatedAt)
		if err != nil {
			return fmt.Errorf("parse created_at: %w", err)
		}
		createdAt = &ts
	}

	var txID *string
	if inc.TransactionID != "" {
		txID = &inc.TransactionID
	}

	_, err := tx.Exec(ctx, `INSERT INTO incidents (`+incidentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (transaction_id) DO UPDATE SET
			status      = EXCLUDED.status,
			amount      = EXCLUDED.amount,
			currency    = EXCLUDED.currency,
			sender_id   = EXCLUDED.sender_id,
			receiver_id = EXCLUDED.receiver_id,
			metadata    = EXCLUDED.metadata,
			created_at  = EXCLUDED.created_at`,
		txID, inc.Status, inc.Amount, inc.Currency, inc.SenderID, inc.ReceiverID, metadataJSON, createdAt,
	)
	if err != nil {
		return fmt.Errorf("upsert incident: %w", err)
	}
	return nil
}
