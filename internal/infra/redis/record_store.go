package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"wellbeing-survey-service/internal/domain"
	"wellbeing-survey-service/internal/record"
)

const scanBatch = 100

// RecordStore keeps records in Redis:
//
//	SET  record:{kind}:{id} {envelope}
//	SADD records:{kind} {id}
//
// Both commands run in one MULTI/EXEC so the index never points at a missing document
// written by this store.
type RecordStore struct {
	client *redis.Client
}

func NewRecordStore(client *redis.Client) *RecordStore {
	return &RecordStore{client: client}
}

func (s *RecordStore) Init(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RecordStore) Put(ctx context.Context, kind record.Kind, id string, data []byte) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(kind, id), data, 0)
		pipe.SAdd(ctx, s.index(kind), id)
		return nil
	})
	return err
}

func (s *RecordStore) Get(ctx context.Context, kind record.Kind, id string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.key(kind, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%s %s: %w", kind, id, domain.ErrNotFound)
	}
	return data, err
}

func (s *RecordStore) Scan(ctx context.Context, kind record.Kind, fn func(id string, data []byte) error) error {
	ids, err := s.client.SMembers(ctx, s.index(kind)).Result()
	if err != nil {
		return err
	}
	sort.Strings(ids)
	for start := 0; start < len(ids); start += scanBatch {
		end := start + scanBatch
		if end > len(ids) {
			end = len(ids)
		}
		batch := ids[start:end]
		keys := make([]string, len(batch))
		for i, id := range batch {
			keys[i] = s.key(kind, id)
		}
		values, err := s.client.MGet(ctx, keys...).Result()
		if err != nil {
			return err
		}
		for i, v := range values {
			str, ok := v.(string)
			if !ok {
				// deleted between SMEMBERS and MGET
				continue
			}
			if err := fn(batch[i], []byte(str)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *RecordStore) Delete(ctx context.Context, kind record.Kind, id string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key(kind, id))
		pipe.SRem(ctx, s.index(kind), id)
		return nil
	})
	return err
}

func (s *RecordStore) key(kind record.Kind, id string) string {
	return "record:" + string(kind) + ":" + id
}

func (s *RecordStore) index(kind record.Kind) string {
	return "records:" + string(kind)
}
