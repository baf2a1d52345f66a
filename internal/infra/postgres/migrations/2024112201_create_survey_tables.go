package migrations

import (
	"context"
	_ "embed"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
)

//go:embed 2024112201_create_survey_tables.sql
var createSurveyTablesSQL string

// CreateSurveyTablesSQL is also applied by the record store on Init.
func CreateSurveyTablesSQL() string { return createSurveyTablesSQL }

var Migrations = migrate.NewMigrations()

func init() {
	Migrations.MustRegister(
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.ExecContext(ctx, createSurveyTablesSQL)
			return err
		},
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.ExecContext(ctx, `DROP TABLE IF EXISTS records; DROP TABLE IF EXISTS survey_definitions`)
			return err
		},
	)
}
