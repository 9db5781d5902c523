package pgstore_test

import (
	"context"
	"os"
	"testing"

	"github.com/linnemanlabs/remedy/internal/incident"
	"github.com/linnemanlabs/remedy/internal/incident/pgstore"
	"github.com/linnemanlabs/remedy/internal/postgres"
)

func openStore(t *testing.T) *pgstore.Store {
	t.Helper()
	dsn := os.Getenv("REMEDY_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("REMEDY_TEST_DATABASE_URL not set, skipping integration test")
	}
	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, dsn)
	if err != nil {
		t.Fatalf("postgres.NewPool: %v", err)
	}
	t.Cleanup(pool.Close)

	if _, err := pool.Exec(ctx, `DROP TABLE IF EXISTS incidents`); err != nil {
		t.Fatalf("reset: %v", err)
	}
	s, err := pgstore.New(ctx, pool)
	if err != nil {
		t.Fatalf("pgstore.New: %v", err)
	}
	return s
}

func TestImportAndList(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	incs := []incident.Incident{
		{
			TransactionID: "tx-b",
			Status:        "FAILED",
			Amount:        42.5,
			Currency:      "SGD",
			SenderID:      "alice@upi",
			ReceiverID:    "bob@upi",
			Metadata:      map[string]any{"error_detection_signal": "timeout"},
			CreatedAt:     "2025-01-02T10:00:00Z",
		},
		{TransactionID: "tx-a", Status: "FLAGGED", CreatedAt: "2025-01-01T10:00:00Z"},
		{Status: "PENDING"},
	}

	n, err := s.Import(ctx, incs)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if n != 3 {
		t.Errorf("imported = %d, want 3", n)
	}

	entries, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("len = %d, want 3", len(entries))
	}

	// ordered by created_at, undated rows last
	keys := []string{entries[0].Key, entries[1].Key, entries[2].Key}
	if keys[0] != "tx-a" || keys[1] != "tx-b" || keys[2] != "2" {
		t.Errorf("keys = %v, want [tx-a tx-b 2]", keys)
	}

	b := entries[1].Incident
	if b.Amount != 42.5 || b.AlertSignal() != "timeout" || b.CreatedAt != "2025-01-02T10:00:00Z" {
		t.Errorf("tx-b = %+v", b)
	}
}

func TestImportUpserts(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	if _, err := s.Import(ctx, []incident.Incident{{TransactionID: "tx-1", Status: "FAILED"}}); err != nil {
		t.Fatalf("first Import: %v", err)
	}
	if _, err := s.Import(ctx, []incident.Incident{{TransactionID: "tx-1", Status: "RESOLVED"}}); err != nil {
		t.Fatalf("second Import: %v", err)
	}

	e, ok, err := s.Get(ctx, "tx-1")
	if err != nil || !ok {
		t.Fatalf("Get: %v, %v", ok, err)
	}
	if e.Incident.Status != "RESOLVED" {
		t.Errorf("status = %q, want RESOLVED", e.Incident.Status)
	}

	all, _ := s.List(ctx)
	if len(all) != 1 {
		t.Errorf("rows = %d, want 1", len(all))
	}
}

func TestGetMissing(t *testing.T) {
	s := openStore(t)

	_, ok, err := s.Get(context.Background(), "nope")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Error("Get returned ok=true for missing key")
	}
}

func TestImportRejectsBadTimestamp(t *testing.T) {
	s := openStore(t)

	_, err := s.Import(context.Background(), []incident.Incident{{TransactionID: "x", CreatedAt: "yesterday"}})
	if err == nil {
		t.Fatal("expected error for unparseable created_at")
	}
}
