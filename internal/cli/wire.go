package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"wellbeing-survey-service/internal/app"
	"wellbeing-survey-service/internal/config"
	"wellbeing-survey-service/internal/domain"
	"wellbeing-survey-service/internal/infra/file"
	"wellbeing-survey-service/internal/infra/memory"
	mongostore "wellbeing-survey-service/internal/infra/mongo"
	pgstore "wellbeing-survey-service/internal/infra/postgres"
	redisinfra "wellbeing-survey-service/internal/infra/redis"
	"wellbeing-survey-service/internal/record"
	"wellbeing-survey-service/internal/survey"
)

const (
	defaultDataDir       = "data"
	defaultMongoDatabase = "wellbeing"
)

// deps holds the wired infrastructure of one process.
type deps struct {
	log     zerolog.Logger
	records *record.Repository
	defs    app.DefinitionRepository
	locks   app.Locker
	pool    *pgxpool.Pool
	closers []func()
}

func (d *deps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
}

func buildDeps(ctx context.Context, cfg config.Config, log zerolog.Logger) (*deps, error) {
	d := &deps{log: log}
	ok := false
	defer func() {
		if !ok {
			d.Close()
		}
	}()

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		d.closers = append(d.closers, func() { _ = redisClient.Close() })
	}

	if cfg.Postgres.URL != "" {
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		d.pool = pool
		d.closers = append(d.closers, pool.Close)
	}

	var store record.Store
	switch driver := cfg.StorageDriver(); driver {
	case config.DriverMemory:
		store = memory.NewRecordStore()
	case config.DriverFile:
		dir := cfg.Storage.Dir
		if dir == "" {
			dir = defaultDataDir
		}
		store = file.NewRecordStore(dir, log)
	case config.DriverRedis:
		if redisClient == nil {
			return nil, fmt.Errorf("storage driver redis needs redis.addr")
		}
		store = redisinfra.NewRecordStore(redisClient)
	case config.DriverPostgres:
		if d.pool == nil {
			return nil, fmt.Errorf("storage driver postgres needs postgres.url")
		}
		store = pgstore.NewRecordStore(d.pool)
	case config.DriverMongo:
		if cfg.Mongo.URI == "" {
			return nil, fmt.Errorf("storage driver mongo needs mongo.uri")
		}
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Mongo.URI))
		if err != nil {
			return nil, fmt.Errorf("connect mongo: %w", err)
		}
		d.closers = append(d.closers, func() {
			dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = client.Disconnect(dctx)
		})
		database := cfg.Mongo.Database
		if database == "" {
			database = defaultMongoDatabase
		}
		store = mongostore.NewRecordStore(client.Database(database))
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}

	d.records = record.NewRepository(store, log)
	if err := d.records.Init(ctx); err != nil {
		return nil, err
	}

	var loader survey.Loader
	switch {
	case cfg.Surveys.Path != "":
		catalog, err := survey.LoadCatalogFile(cfg.Surveys.Path)
		if err != nil {
			return nil, err
		}
		loader = survey.NewStaticLoader(catalog)
	case d.pool != nil:
		loader = pgstore.NewDefinitionLoader(d.pool)
	default:
		loader = survey.NewStaticLoader(survey.DefaultCatalog())
	}

	surveyTTL := config.TTLDuration(cfg.Surveys.TTL, 10*time.Minute)
	if redisClient != nil {
		d.defs = redisinfra.NewDefinitionRepository(redisClient, loader, surveyTTL, log)
		d.locks = redisinfra.NewLocker(redisClient, config.TTLDuration(cfg.Locks.TTL, 30*time.Second), log)
	} else {
		d.defs = memory.NewDefinitionRepository(loader, surveyTTL)
		d.locks = memory.NewLocker()
	}

	log.Info().
		Str("storage", cfg.StorageDriver()).
		Bool("redis", redisClient != nil).
		Bool("postgres", d.pool != nil).
		Msg("infrastructure ready")
	ok = true
	return d, nil
}

func newService(cfg config.Config, d *deps) (*app.Service, error) {
	policy, err := cfg.RiskPolicy()
	if err != nil {
		return nil, err
	}
	return app.NewService(d.records, d.defs, d.locks, d.log,
		app.WithPolicy(policy),
		app.WithLockTimeout(config.TTLDuration(cfg.Locks.Timeout, app.DefaultLockTimeout)),
		app.WithCollector(survey.NewCollector(survey.WithMaxOpenTextRunes(cfg.Collector.OpenTextMaxRunes))),
	)
}

// catalogDefinitions returns the configured YAML catalog or the built-in one, ordered by id.
func catalogDefinitions(ctx context.Context, cfg config.Config) ([]domain.SurveyDefinition, error) {
	defs := survey.DefaultCatalog()
	if cfg.Surveys.Path != "" {
		loaded, err := survey.LoadCatalogFile(cfg.Surveys.Path)
		if err != nil {
			return nil, err
		}
		defs = loaded
	}
	loader := survey.NewStaticLoader(defs)
	ids, err := loader.ListDefinitionIDs(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.SurveyDefinition, 0, len(ids))
	for _, id := range ids {
		out = append(out, defs[id])
	}
	return out, nil
}
