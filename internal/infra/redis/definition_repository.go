package redis

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"wellbeing-survey-service/internal/domain"
	"wellbeing-survey-service/internal/survey"
)

// DefinitionRepository caches survey definitions in Redis and falls back to a loader on
// cache miss. Definitions are stored as their JSON document:
//
//	SET survey:{surveyID}:definition {json} PX ttl
type DefinitionRepository struct {
	client *redis.Client
	loader survey.Loader
	ttl    time.Duration
	log    zerolog.Logger
	sf     singleflight.Group
	rnd    *rand.Rand
	rndMu  sync.Mutex
}

func NewDefinitionRepository(client *redis.Client, loader survey.Loader, ttl time.Duration, log zerolog.Logger) *DefinitionRepository {
	return &DefinitionRepository{
		client: client,
		loader: loader,
		ttl:    ttl,
		log:    log.With().Str("component", "redis_definitions").Logger(),
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *DefinitionRepository) GetDefinition(ctx context.Context, surveyID string) (domain.SurveyDefinition, error) {
	if def, ok := r.cached(ctx, surveyID); ok {
		return def, nil
	}

	result, err, _ := r.sf.Do(surveyID, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if def, ok := r.cached(ctx, surveyID); ok {
			return def, nil
		}

		def, err := r.loader.LoadDefinition(ctx, surveyID)
		if err != nil {
			return domain.SurveyDefinition{}, err
		}

		data, err := json.Marshal(def)
		if err != nil {
			return domain.SurveyDefinition{}, err
		}
		if err := r.client.Set(ctx, r.key(surveyID), data, r.ttlWithJitter()).Err(); err != nil {
			// the cache is best effort
			r.log.Warn().Err(err).Str("survey_id", surveyID).Msg("cache definition")
		}
		return def, nil
	})
	if err != nil {
		return domain.SurveyDefinition{}, err
	}
	return result.(domain.SurveyDefinition), nil
}

func (r *DefinitionRepository) ListDefinitionIDs(ctx context.Context) ([]string, error) {
	return r.loader.ListDefinitionIDs(ctx)
}

func (r *DefinitionRepository) cached(ctx context.Context, surveyID string) (domain.SurveyDefinition, bool) {
	data, err := r.client.Get(ctx, r.key(surveyID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.log.Warn().Err(err).Str("survey_id", surveyID).Msg("read cached definition")
		}
		return domain.SurveyDefinition{}, false
	}
	var def domain.SurveyDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		r.log.Warn().Err(err).Str("survey_id", surveyID).Msg("discard corrupt cached definition")
		return domain.SurveyDefinition{}, false
	}
	return def, true
}

func (r *DefinitionRepository) key(surveyID string) string {
	return "survey:" + surveyID + ":definition"
}

func (r *DefinitionRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	jitterMax := int64(r.ttl) / 10
	r.rndMu.Lock()
	defer r.rndMu.Unlock()
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
