package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"wellbeing-survey-service/internal/domain"
)

// DefinitionLoader loads survey definition JSONB from Postgres.
type DefinitionLoader struct {
	pool *pgxpool.Pool
}

func NewDefinitionLoader(pool *pgxpool.Pool) *DefinitionLoader {
	return &DefinitionLoader{pool: pool}
}

func (l *DefinitionLoader) LoadDefinition(ctx context.Context, surveyID string) (domain.SurveyDefinition, error) {
	var raw []byte
	err := l.pool.QueryRow(ctx, `SELECT data FROM survey_definitions WHERE id=$1`, surveyID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.SurveyDefinition{}, domain.ErrSurveyNotFound
	}
	if err != nil {
		return domain.SurveyDefinition{}, fmt.Errorf("load survey definition: %w", err)
	}
	var def domain.SurveyDefinition
	if err := json.Unmarshal(raw, &def); err != nil {
		return domain.SurveyDefinition{}, fmt.Errorf("unmarshal survey definition %s: %w", surveyID, err)
	}
	return def, nil
}

func (l *DefinitionLoader) ListDefinitionIDs(ctx context.Context) ([]string, error) {
	rows, err := l.pool.Query(ctx, `SELECT id FROM survey_definitions ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list survey definitions: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Seed inserts definitions that are not stored yet. Existing ids are left untouched
// since a published definition never changes. It returns how many were inserted.
func (l *DefinitionLoader) Seed(ctx context.Context, defs []domain.SurveyDefinition) (int, error) {
	batch := &pgx.Batch{}
	for _, def := range defs {
		data, err := json.Marshal(def)
		if err != nil {
			return 0, err
		}
		batch.Queue(`INSERT INTO survey_definitions (id, data) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`, def.ID(), data)
	}
	br := l.pool.SendBatch(ctx, batch)
	defer br.Close()

	inserted := 0
	for range defs {
		tag, err := br.Exec()
		if err != nil {
			return inserted, fmt.Errorf("seed survey definitions: %w", err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}
