package redis

import (
	"context"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"

	"wellbeing-survey-service/internal/record"
	"wellbeing-survey-service/internal/record/recordtest"
)

func TestRecordStoreContract(t *testing.T) {
	recordtest.Run(t, func(t *testing.T) record.Store {
		mr, err := miniredis.Run()
		if err != nil {
			t.Fatalf("run miniredis: %v", err)
		}
		t.Cleanup(mr.Close)
		return NewRecordStore(newClient(mr))
	})
}

func TestRecordStoreKeys(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	store := NewRecordStore(newClient(mr))
	ctx := context.Background()
	if err := store.Put(ctx, record.KindAssessment, "a1", []byte(`{}`)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if !mr.Exists("record:assessment:a1") {
		t.Fatalf("expected document key")
	}
	if ok, _ := mr.SIsMember("records:assessment", "a1"); !ok {
		t.Fatalf("expected id indexed")
	}

	if err := store.Delete(ctx, record.KindAssessment, "a1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if mr.Exists("record:assessment:a1") {
		t.Fatalf("expected document removed")
	}
	if ok, _ := mr.SIsMember("records:assessment", "a1"); ok {
		t.Fatalf("expected index entry removed")
	}
}
