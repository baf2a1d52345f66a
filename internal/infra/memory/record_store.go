package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"wellbeing-survey-service/internal/domain"
	"wellbeing-survey-service/internal/record"
)

// RecordStore is a map-backed record.Store for tests and demos.
type RecordStore struct {
	mu      sync.RWMutex
	records map[record.Kind]map[string][]byte
}

func NewRecordStore() *RecordStore {
	return &RecordStore{records: make(map[record.Kind]map[string][]byte)}
}

func (s *RecordStore) Init(context.Context) error { return nil }

func (s *RecordStore) Put(_ context.Context, kind record.Kind, id string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket, ok := s.records[kind]
	if !ok {
		bucket = make(map[string][]byte)
		s.records[kind] = bucket
	}
	bucket[id] = append([]byte(nil), data...)
	return nil
}

func (s *RecordStore) Get(_ context.Context, kind record.Kind, id string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.records[kind][id]
	if !ok {
		return nil, fmt.Errorf("%s %s: %w", kind, id, domain.ErrNotFound)
	}
	return append([]byte(nil), data...), nil
}

// Scan visits a snapshot in id order so fn may call back into the store.
func (s *RecordStore) Scan(ctx context.Context, kind record.Kind, fn func(id string, data []byte) error) error {
	s.mu.RLock()
	ids := make([]string, 0, len(s.records[kind]))
	snapshot := make(map[string][]byte, len(s.records[kind]))
	for id, data := range s.records[kind] {
		ids = append(ids, id)
		snapshot[id] = data
	}
	s.mu.RUnlock()

	sort.Strings(ids)
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(id, append([]byte(nil), snapshot[id]...)); err != nil {
			return err
		}
	}
	return nil
}

func (s *RecordStore) Delete(_ context.Context, kind record.Kind, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records[kind], id)
	return nil
}
