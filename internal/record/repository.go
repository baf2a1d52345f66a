package record

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"wellbeing-survey-service/internal/domain"
)

// Repository is the typed API over a Store.
type Repository struct {
	store Store
	now   func() time.Time
	log   zerolog.Logger
}

func NewRepository(store Store, log zerolog.Logger) *Repository {
	return &Repository{store: store, now: time.Now, log: log.With().Str("component", "records").Logger()}
}

// NewRepositoryWithClock is used by tests for deterministic envelope timestamps.
func NewRepositoryWithClock(store Store, log zerolog.Logger, now func() time.Time) *Repository {
	r := NewRepository(store, log)
	r.now = now
	return r
}

// Init prepares the backing store.
func (r *Repository) Init(ctx context.Context) error {
	return r.store.Init(ctx)
}

func (r *Repository) WriteUser(ctx context.Context, u domain.User) error {
	return r.put(ctx, KindUser, u.ID, u)
}

func (r *Repository) ReadUser(ctx context.Context, id string) (domain.User, error) {
	var u domain.User
	if err := r.get(ctx, KindUser, id, &u); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.User{}, domain.ErrUserNotFound
		}
		return domain.User{}, err
	}
	return u, nil
}

// ListUsers returns every user ordered by creation time.
func (r *Repository) ListUsers(ctx context.Context) ([]domain.User, error) {
	var out []domain.User
	err := r.scan(ctx, KindUser, func() any { return &domain.User{} }, func(v any) {
		out = append(out, *v.(*domain.User))
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *Repository) WriteResponse(ctx context.Context, resp domain.SurveyResponse) error {
	return r.put(ctx, KindResponse, resp.ID, resp)
}

func (r *Repository) ReadResponse(ctx context.Context, id string) (domain.SurveyResponse, error) {
	var resp domain.SurveyResponse
	if err := r.get(ctx, KindResponse, id, &resp); err != nil {
		return domain.SurveyResponse{}, err
	}
	return resp, nil
}

// ListResponses returns every response ordered by submission time.
func (r *Repository) ListResponses(ctx context.Context) ([]domain.SurveyResponse, error) {
	return r.listResponses(ctx, func(domain.SurveyResponse) bool { return true })
}

// ListResponsesByUser returns one user's responses ordered by submission time.
func (r *Repository) ListResponsesByUser(ctx context.Context, userID string) ([]domain.SurveyResponse, error) {
	return r.listResponses(ctx, func(resp domain.SurveyResponse) bool { return resp.UserID == userID })
}

func (r *Repository) listResponses(ctx context.Context, keep func(domain.SurveyResponse) bool) ([]domain.SurveyResponse, error) {
	var out []domain.SurveyResponse
	err := r.scan(ctx, KindResponse, func() any { return &domain.SurveyResponse{} }, func(v any) {
		if resp := *v.(*domain.SurveyResponse); keep(resp) {
			out = append(out, resp)
		}
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].SubmittedAt.Before(out[j].SubmittedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *Repository) WriteAssessment(ctx context.Context, a domain.RiskAssessment) error {
	return r.put(ctx, KindAssessment, a.ID, a)
}

func (r *Repository) ReadAssessment(ctx context.Context, id string) (domain.RiskAssessment, error) {
	var a domain.RiskAssessment
	if err := r.get(ctx, KindAssessment, id, &a); err != nil {
		return domain.RiskAssessment{}, err
	}
	return a, nil
}

// ListAssessments returns every assessment ordered by computation time.
func (r *Repository) ListAssessments(ctx context.Context) ([]domain.RiskAssessment, error) {
	return r.listAssessments(ctx, func(domain.RiskAssessment) bool { return true })
}

// ListAssessmentsByUser returns one user's assessments, oldest first.
func (r *Repository) ListAssessmentsByUser(ctx context.Context, userID string) ([]domain.RiskAssessment, error) {
	return r.listAssessments(ctx, func(a domain.RiskAssessment) bool { return a.UserID == userID })
}

func (r *Repository) listAssessments(ctx context.Context, keep func(domain.RiskAssessment) bool) ([]domain.RiskAssessment, error) {
	var out []domain.RiskAssessment
	err := r.scan(ctx, KindAssessment, func() any { return &domain.RiskAssessment{} }, func(v any) {
		if a := *v.(*domain.RiskAssessment); keep(a) {
			out = append(out, a)
		}
	})
	if err != nil {
		return nil, err
	}
	SortAssessments(out)
	return out, nil
}

// SortAssessments orders assessments oldest first; ties break on id.
func SortAssessments(list []domain.RiskAssessment) {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].ComputedAt.Equal(list[j].ComputedAt) {
			return list[i].ComputedAt.Before(list[j].ComputedAt)
		}
		return list[i].ID < list[j].ID
	})
}

// DeleteUser removes a user together with every response and assessment it owns.
// Owned records go first so a failed cascade can be retried.
func (r *Repository) DeleteUser(ctx context.Context, userID string) error {
	if _, err := r.ReadUser(ctx, userID); err != nil {
		return err
	}
	responses, err := r.ListResponsesByUser(ctx, userID)
	if err != nil {
		return err
	}
	for _, resp := range responses {
		if err := r.delete(ctx, KindResponse, resp.ID); err != nil {
			return err
		}
	}
	assessments, err := r.ListAssessmentsByUser(ctx, userID)
	if err != nil {
		return err
	}
	for _, a := range assessments {
		if err := r.delete(ctx, KindAssessment, a.ID); err != nil {
			return err
		}
	}
	if err := r.delete(ctx, KindUser, userID); err != nil {
		return err
	}
	r.log.Info().
		Str("user_id", userID).
		Int("responses", len(responses)).
		Int("assessments", len(assessments)).
		Msg("user deleted")
	return nil
}

// Count returns the number of records of a kind.
func (r *Repository) Count(ctx context.Context, kind Kind) (int, error) {
	n := 0
	err := r.store.Scan(ctx, kind, func(string, []byte) error {
		n++
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", kind, err)
	}
	return n, nil
}

func (r *Repository) put(ctx context.Context, kind Kind, id string, v any) error {
	if id == "" {
		return domain.ContractError("write %s without id", kind)
	}
	doc, err := Seal(kind, id, r.now(), v)
	if err != nil {
		return domain.ContractError("%v", err)
	}
	if err := r.store.Put(ctx, kind, id, doc); err != nil {
		var sc *domain.StorageConsistencyError
		if errors.As(err, &sc) {
			return err
		}
		return &domain.StorageConsistencyError{Op: "put", Kind: string(kind), ID: id, Err: err}
	}
	return nil
}

func (r *Repository) get(ctx context.Context, kind Kind, id string, v any) error {
	raw, err := r.store.Get(ctx, kind, id)
	if err != nil {
		return err
	}
	if _, err := Open(kind, raw, v); err != nil {
		return err
	}
	return nil
}

func (r *Repository) scan(ctx context.Context, kind Kind, alloc func() any, add func(any)) error {
	return r.store.Scan(ctx, kind, func(id string, raw []byte) error {
		v := alloc()
		if _, err := Open(kind, raw, v); err != nil {
			return err
		}
		add(v)
		return nil
	})
}

func (r *Repository) delete(ctx context.Context, kind Kind, id string) error {
	if err := r.store.Delete(ctx, kind, id); err != nil {
		return &domain.StorageConsistencyError{Op: "delete", Kind: string(kind), ID: id, Err: err}
	}
	return nil
}
