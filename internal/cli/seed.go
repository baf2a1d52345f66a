package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"wellbeing-survey-service/internal/config"
	pgstore "wellbeing-survey-service/internal/infra/postgres"
)

// NewSeedCmd inserts the survey catalog into Postgres. Existing definitions are kept:
// a published definition never changes, new versions get new ids.
func NewSeedCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Insert survey definitions into Postgres",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			log := cfg.Logger()
			if err := runMigrationsWithConfig(ctx, cfg, log); err != nil {
				return err
			}
			d, err := buildDeps(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer d.Close()
			_, err = seedDefinitions(ctx, cfg, d)
			return err
		},
	}
}

func seedDefinitions(ctx context.Context, cfg config.Config, d *deps) (int, error) {
	if d.pool == nil {
		return 0, fmt.Errorf("postgres url not configured")
	}
	defs, err := catalogDefinitions(ctx, cfg)
	if err != nil {
		return 0, err
	}
	inserted, err := pgstore.NewDefinitionLoader(d.pool).Seed(ctx, defs)
	if err != nil {
		return 0, err
	}
	d.log.Info().Int("catalog", len(defs)).Int("inserted", inserted).Msg("survey definitions seeded")
	return inserted, nil
}
