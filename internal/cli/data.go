package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"wellbeing-survey-service/internal/config"
	"wellbeing-survey-service/internal/record"
	"wellbeing-survey-service/internal/tabular"
)

var tableFiles = map[record.Kind]string{
	record.KindUser:       "users.csv",
	record.KindResponse:   "responses.csv",
	record.KindAssessment: "assessments.csv",
}

// NewExportCmd writes every stored record as flat CSV tables.
func NewExportCmd(configPath *string) *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export users, responses and assessments as CSV tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			log := cfg.Logger()
			d, err := buildDeps(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer d.Close()

			var c tabular.Collection
			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() (err error) {
				c.Users, err = d.records.ListUsers(gctx)
				return err
			})
			g.Go(func() (err error) {
				c.Responses, err = d.records.ListResponses(gctx)
				return err
			})
			g.Go(func() (err error) {
				c.Assessments, err = d.records.ListAssessments(gctx)
				return err
			})
			if err := g.Wait(); err != nil {
				return err
			}

			if err := writeTables(ctx, dir, c); err != nil {
				return err
			}
			log.Info().
				Str("dir", dir).
				Int("users", len(c.Users)).
				Int("responses", len(c.Responses)).
				Int("assessments", len(c.Assessments)).
				Msg("export complete")
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "export", "directory to write the CSV tables to")
	return cmd
}

// writeTables exports c into dir. Tables are written to temporary files and renamed into
// place only once every table is complete, so an abandoned export leaves no tables behind.
func writeTables(ctx context.Context, dir string, c tabular.Collection) (err error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	temps := make(map[record.Kind]*os.File, len(tableFiles))
	defer func() {
		for _, f := range temps {
			_ = f.Close()
			if err != nil {
				_ = os.Remove(f.Name())
			}
		}
	}()

	err = tabular.Export(ctx, c, func(kind record.Kind) (io.Writer, error) {
		f, err := os.CreateTemp(dir, "."+tableFiles[kind]+".*.tmp")
		if err != nil {
			return nil, err
		}
		temps[kind] = f
		return f, nil
	})
	if err != nil {
		return err
	}
	for _, kind := range record.Kinds {
		f := temps[kind]
		if err = f.Sync(); err != nil {
			return err
		}
		if err = f.Close(); err != nil {
			return err
		}
	}
	for _, kind := range record.Kinds {
		if err = os.Rename(temps[kind].Name(), filepath.Join(dir, tableFiles[kind])); err != nil {
			return err
		}
	}
	return nil
}

// NewImportCmd loads CSV tables into storage. The batch is validated as a whole before
// anything is written; records with existing ids are replaced.
func NewImportCmd(configPath *string) *cobra.Command {
	var (
		paths   []string
		unknown string
	)
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import CSV tables produced by export",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if len(paths) == 0 {
				return fmt.Errorf("at least one --file is required")
			}
			policy, err := tabular.ParseUnknownColumns(unknown)
			if err != nil {
				return err
			}
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			log := cfg.Logger()

			readers := make([]io.Reader, 0, len(paths))
			for _, p := range paths {
				f, err := os.Open(p)
				if err != nil {
					return err
				}
				defer f.Close()
				readers = append(readers, f)
			}
			c, err := tabular.ImportAll(tabular.Options{UnknownColumns: policy}, readers...)
			if err != nil {
				return err
			}
			for kind, extra := range c.Extras {
				log.Warn().Str("kind", string(kind)).Strs("columns", extra.Names).Msg("extra columns are not stored")
			}

			d, err := buildDeps(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer d.Close()
			service, err := newService(cfg, d)
			if err != nil {
				return err
			}

			res, err := service.Import(ctx, c.Users, c.Responses, c.Assessments)
			if err != nil {
				return err
			}
			log.Info().
				Int("users", res.Users).
				Int("responses", res.Responses).
				Int("assessments", res.Assessments).
				Msg("import complete")
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&paths, "file", nil, "CSV table to import (repeatable)")
	cmd.Flags().StringVar(&unknown, "unknown-columns", "preserve", "how to treat unknown columns: preserve or reject")
	return cmd
}
