// Package recordtest holds the behaviour every record.Store backend must share.
package recordtest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"

	"wellbeing-survey-service/internal/domain"
	"wellbeing-survey-service/internal/record"
)

// Run exercises a store created by newStore against the record.Store contract.
func Run(t *testing.T, newStore func(t *testing.T) record.Store) {
	t.Helper()

	t.Run("PutGetReplace", func(t *testing.T) {
		ctx := context.Background()
		s := initialized(t, newStore)
		if err := s.Put(ctx, record.KindUser, "u1", []byte(`{"v":1}`)); err != nil {
			t.Fatalf("put: %v", err)
		}
		if err := s.Put(ctx, record.KindUser, "u1", []byte(`{"v":2}`)); err != nil {
			t.Fatalf("replace: %v", err)
		}
		got, err := s.Get(ctx, record.KindUser, "u1")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if doc := decode(t, got); doc["v"] != float64(2) {
			t.Fatalf("expected replaced document, got %s", got)
		}
	})

	t.Run("MissingIsNotFound", func(t *testing.T) {
		ctx := context.Background()
		s := initialized(t, newStore)
		if _, err := s.Get(ctx, record.KindResponse, "nope"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
		if err := s.Delete(ctx, record.KindResponse, "nope"); err != nil {
			t.Fatalf("delete of a missing record must be a no-op, got %v", err)
		}
	})

	t.Run("ScanIsPerKind", func(t *testing.T) {
		ctx := context.Background()
		s := initialized(t, newStore)
		for i := 0; i < 3; i++ {
			if err := s.Put(ctx, record.KindResponse, fmt.Sprintf("r%d", i), []byte(`{}`)); err != nil {
				t.Fatalf("put: %v", err)
			}
		}
		if err := s.Put(ctx, record.KindAssessment, "a1", []byte(`{}`)); err != nil {
			t.Fatalf("put: %v", err)
		}
		if err := s.Delete(ctx, record.KindResponse, "r1"); err != nil {
			t.Fatalf("delete: %v", err)
		}
		var ids []string
		err := s.Scan(ctx, record.KindResponse, func(id string, _ []byte) error {
			ids = append(ids, id)
			return nil
		})
		if err != nil {
			t.Fatalf("scan: %v", err)
		}
		sort.Strings(ids)
		if fmt.Sprint(ids) != "[r0 r2]" {
			t.Fatalf("unexpected scan result %v", ids)
		}
	})

	t.Run("ConcurrentWritersSameID", func(t *testing.T) {
		ctx := context.Background()
		s := initialized(t, newStore)
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				doc := []byte(fmt.Sprintf(`{"writer":%d}`, i))
				if err := s.Put(ctx, record.KindUser, "shared", doc); err != nil {
					t.Errorf("put %d: %v", i, err)
				}
			}(i)
		}
		wg.Wait()
		got, err := s.Get(ctx, record.KindUser, "shared")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if _, ok := decode(t, got)["writer"].(float64); !ok {
			t.Fatalf("document torn by concurrent writers: %s", got)
		}
	})

	t.Run("InitIsIdempotent", func(t *testing.T) {
		s := initialized(t, newStore)
		if err := s.Init(context.Background()); err != nil {
			t.Fatalf("second init: %v", err)
		}
	})
}

func decode(t *testing.T, raw []byte) map[string]any {
	t.Helper()
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("stored document is not valid JSON: %s (%v)", raw, err)
	}
	return doc
}

func initialized(t *testing.T, newStore func(t *testing.T) record.Store) record.Store {
	t.Helper()
	s := newStore(t)
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	return s
}
