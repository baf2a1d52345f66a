package file

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"wellbeing-survey-service/internal/domain"
	"wellbeing-survey-service/internal/record"
	"wellbeing-survey-service/internal/record/recordtest"
)

func TestRecordStoreContract(t *testing.T) {
	recordtest.Run(t, func(t *testing.T) record.Store {
		return NewRecordStore(t.TempDir(), zerolog.Nop())
	})
}

func TestRecordStoreLayoutAndTempFiles(t *testing.T) {
	dir := t.TempDir()
	store := NewRecordStore(dir, zerolog.Nop())
	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := store.Put(ctx, record.KindResponse, "r1", []byte(`{}`)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "response", "r1.json")); err != nil {
		t.Fatalf("expected one file per record: %v", err)
	}

	// a leftover temp file from a crashed writer is never surfaced
	if err := os.WriteFile(filepath.Join(dir, "response", ".r2.tmp-123"), []byte(`{"partial`), 0o600); err != nil {
		t.Fatalf("write temp: %v", err)
	}
	var ids []string
	if err := store.Scan(ctx, record.KindResponse, func(id string, _ []byte) error {
		ids = append(ids, id)
		return nil
	}); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(ids) != 1 || ids[0] != "r1" {
		t.Fatalf("unexpected ids %v", ids)
	}
}

func TestRecordStoreRejectsPathIDs(t *testing.T) {
	store := NewRecordStore(t.TempDir(), zerolog.Nop())
	for _, id := range []string{"../escape", "a/b", "..", ".hidden"} {
		if err := store.Put(context.Background(), record.KindUser, id, []byte(`{}`)); !errors.Is(err, domain.ErrContractViolation) {
			t.Fatalf("id %q: expected contract violation, got %v", id, err)
		}
	}
}
