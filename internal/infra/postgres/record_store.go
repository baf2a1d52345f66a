package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"wellbeing-survey-service/internal/domain"
	"wellbeing-survey-service/internal/infra/postgres/migrations"
	"wellbeing-survey-service/internal/record"
)

// RecordStore keeps records in the records(kind, id, data jsonb) table. Each Put is a
// single-row upsert, so concurrent writers of one id are serialized by the row lock.
type RecordStore struct {
	pool *pgxpool.Pool
}

func NewRecordStore(pool *pgxpool.Pool) *RecordStore {
	return &RecordStore{pool: pool}
}

// Init creates the tables when migrations have not been run.
func (s *RecordStore) Init(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, migrations.CreateSurveyTablesSQL()); err != nil {
		return fmt.Errorf("init records table: %w", err)
	}
	return nil
}

func (s *RecordStore) Put(ctx context.Context, kind record.Kind, id string, data []byte) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO records (kind, id, data, updated_at) VALUES ($1, $2, $3, now())
ON CONFLICT (kind, id) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`,
		string(kind), id, data)
	return err
}

func (s *RecordStore) Get(ctx context.Context, kind record.Kind, id string) ([]byte, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM records WHERE kind=$1 AND id=$2`, string(kind), id).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s %s: %w", kind, id, domain.ErrNotFound)
	}
	return raw, err
}

func (s *RecordStore) Scan(ctx context.Context, kind record.Kind, fn func(id string, data []byte) error) error {
	rows, err := s.pool.Query(ctx, `SELECT id, data FROM records WHERE kind=$1 ORDER BY id`, string(kind))
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id  string
			raw []byte
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return err
		}
		if err := fn(id, raw); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *RecordStore) Delete(ctx context.Context, kind record.Kind, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM records WHERE kind=$1 AND id=$2`, string(kind), id)
	return err
}
