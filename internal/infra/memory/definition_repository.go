package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"wellbeing-survey-service/internal/domain"
	"wellbeing-survey-service/internal/survey"
)

// DefinitionRepository caches survey definitions with TTL to avoid repeated loader hits.
// Definitions are immutable per id, so a cached entry is never stale, only evicted.
type DefinitionRepository struct {
	loader survey.Loader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand
	rndMu  sync.Mutex

	mu    sync.RWMutex
	cache map[string]cachedDefinition
}

type cachedDefinition struct {
	def       domain.SurveyDefinition
	expiresAt time.Time
}

func NewDefinitionRepository(loader survey.Loader, ttl time.Duration) *DefinitionRepository {
	return &DefinitionRepository{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedDefinition),
	}
}

func (r *DefinitionRepository) GetDefinition(ctx context.Context, surveyID string) (domain.SurveyDefinition, error) {
	if def, ok := r.lookup(surveyID); ok {
		return def, nil
	}

	result, err, _ := r.sf.Do(surveyID, func() (interface{}, error) {
		if def, ok := r.lookup(surveyID); ok {
			return def, nil
		}

		def, err := r.loader.LoadDefinition(ctx, surveyID)
		if err != nil {
			return domain.SurveyDefinition{}, err
		}

		r.mu.Lock()
		r.cache[surveyID] = cachedDefinition{
			def:       def,
			expiresAt: r.clock().Add(r.ttlWithJitter()),
		}
		r.mu.Unlock()
		return def, nil
	})
	if err != nil {
		return domain.SurveyDefinition{}, err
	}
	return result.(domain.SurveyDefinition), nil
}

// ListDefinitionIDs is not cached; new surveys become visible immediately.
func (r *DefinitionRepository) ListDefinitionIDs(ctx context.Context) ([]string, error) {
	return r.loader.ListDefinitionIDs(ctx)
}

func (r *DefinitionRepository) lookup(surveyID string) (domain.SurveyDefinition, bool) {
	now := r.clock()
	r.mu.RLock()
	defer r.mu.RUnlock()
	if entry, ok := r.cache[surveyID]; ok && entry.expiresAt.After(now) {
		return entry.def, true
	}
	return domain.SurveyDefinition{}, false
}

func (r *DefinitionRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(r.ttl) / 10
	r.rndMu.Lock()
	defer r.rndMu.Unlock()
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
