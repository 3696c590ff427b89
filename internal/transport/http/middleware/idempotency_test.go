package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRequestHashDeterministic(t *testing.T) {
	hash1 := RequestHash([]byte("payload"))
	hash2 := RequestHash([]byte("payload"))
	hash3 := RequestHash([]byte("other"))

	if hash1 != hash2 {
		t.Fatal("expected deterministic hash")
	}
	if hash1 == hash3 {
		t.Fatal("expected different hash for different payload")
	}
}

func TestMemoryIdempotencyStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryIdempotencyStore()
	hash := RequestHash([]byte(`{"organizationId":"org-1"}`))

	if _, found, err := store.Check(ctx, "ops-1", "payroll.runs.create", "k1", hash); err != nil || found {
		t.Fatalf("expected miss, got found=%v err=%v", found, err)
	}
	if err := store.Save(ctx, "ops-1", "payroll.runs.create", "k1", hash, json.RawMessage(`{"id":"run-1"}`)); err != nil {
		t.Fatalf("save: %v", err)
	}

	stored, found, err := store.Check(ctx, "ops-1", "payroll.runs.create", "k1", hash)
	if err != nil || !found || string(stored) != `{"id":"run-1"}` {
		t.Fatalf("expected replay, got %s found=%v err=%v", stored, found, err)
	}

	if _, _, err := store.Check(ctx, "ops-1", "payroll.runs.create", "k1", RequestHash([]byte("different"))); !errors.Is(err, ErrIdempotencyConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if _, found, _ := store.Check(ctx, "ops-2", "payroll.runs.create", "k1", hash); found {
		t.Fatal("keys must be scoped per actor")
	}
}
