// Package report computes read-only aggregates over stored records.
package report

import (
	"context"
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"

	"wellbeing-survey-service/internal/domain"
	"wellbeing-survey-service/internal/record"
	"wellbeing-survey-service/internal/scoring"
)

// Records is the part of the record repository the reporter reads.
type Records interface {
	Count(ctx context.Context, kind record.Kind) (int, error)
	ListUsers(ctx context.Context) ([]domain.User, error)
	ListResponses(ctx context.Context) ([]domain.SurveyResponse, error)
	ListAssessments(ctx context.Context) ([]domain.RiskAssessment, error)
}

// Definitions resolves survey definitions.
type Definitions interface {
	GetDefinition(ctx context.Context, surveyID string) (domain.SurveyDefinition, error)
	ListDefinitionIDs(ctx context.Context) ([]string, error)
}

type Reporter struct {
	records Records
	defs    Definitions
	engine  *scoring.Engine
}

func NewReporter(records Records, defs Definitions, engine *scoring.Engine) *Reporter {
	return &Reporter{records: records, defs: defs, engine: engine}
}

// Stats are the headline counts.
type Stats struct {
	Users     int `json:"users"`
	Responses int `json:"responses"`
	Surveys   int `json:"surveys"`
}

// Stats counts users, responses and available surveys concurrently.
func (r *Reporter) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := r.records.Count(ctx, record.KindUser)
		s.Users = n
		return err
	})
	g.Go(func() error {
		n, err := r.records.Count(ctx, record.KindResponse)
		s.Responses = n
		return err
	})
	g.Go(func() error {
		ids, err := r.defs.ListDefinitionIDs(ctx)
		s.Surveys = len(ids)
		return err
	})
	if err := g.Wait(); err != nil {
		return Stats{}, fmt.Errorf("aggregate stats: %w", err)
	}
	return s, nil
}

// CategoryScore summarizes scale answers of one question category on a 0-100 scale.
type CategoryScore struct {
	Count   int     `json:"count"`
	Average float64 `json:"average"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
}

type SurveySummary struct {
	SurveyID  string `json:"surveyId"`
	Responses int    `json:"responses"`
	// Flagged counts responses that raised at least one indicator.
	Flagged    int                      `json:"flagged"`
	Categories map[string]CategoryScore `json:"categories,omitempty"`
}

// SurveySummary aggregates every stored response to one survey. Scale answers are
// normalized to 0-100 so categories with different scales can be compared.
func (r *Reporter) SurveySummary(ctx context.Context, surveyID string) (SurveySummary, error) {
	def, err := r.defs.GetDefinition(ctx, surveyID)
	if err != nil {
		return SurveySummary{}, err
	}
	responses, err := r.records.ListResponses(ctx)
	if err != nil {
		return SurveySummary{}, err
	}

	out := SurveySummary{SurveyID: surveyID}
	sums := make(map[string]float64)
	for _, resp := range responses {
		if resp.SurveyID != surveyID {
			continue
		}
		out.Responses++

		indicators, err := r.engine.Score(resp, def)
		if err != nil {
			return SurveySummary{}, fmt.Errorf("score response %s: %w", resp.ID, err)
		}
		if len(indicators) > 0 {
			out.Flagged++
		}

		for _, ans := range resp.Answers {
			q, ok := def.Question(ans.QuestionID)
			if !ok {
				continue
			}
			v, ok := normalized(q.Type, ans.Value)
			if !ok {
				continue
			}
			if out.Categories == nil {
				out.Categories = make(map[string]CategoryScore)
			}
			cs, seen := out.Categories[q.Category]
			if !seen {
				cs.Min, cs.Max = math.Inf(1), math.Inf(-1)
			}
			cs.Count++
			cs.Min = math.Min(cs.Min, v)
			cs.Max = math.Max(cs.Max, v)
			sums[q.Category] += v
			out.Categories[q.Category] = cs
		}
	}
	for cat, cs := range out.Categories {
		cs.Average = sums[cat] / float64(cs.Count)
		out.Categories[cat] = cs
	}
	return out, nil
}

func normalized(t domain.QuestionType, v domain.Value) (float64, bool) {
	var lo, hi int
	switch qt := t.(type) {
	case domain.LikertScale:
		lo, hi = qt.Min, qt.Max
	case domain.RatingScale:
		lo, hi = qt.Min, qt.Max
	default:
		return 0, false
	}
	if v.Kind != domain.ValueInt || hi <= lo {
		return 0, false
	}
	return float64(v.Int-lo) / float64(hi-lo) * 100, true
}

// LevelDistribution counts users by the level of their latest assessment. Users never
// assessed count as low.
func (r *Reporter) LevelDistribution(ctx context.Context) (map[domain.RiskLevel]int, error) {
	var (
		users       []domain.User
		assessments []domain.RiskAssessment
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		users, err = r.records.ListUsers(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		assessments, err = r.records.ListAssessments(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("level distribution: %w", err)
	}

	latest := make(map[string]domain.RiskLevel, len(users))
	for _, u := range users {
		latest[u.ID] = domain.LevelLow
	}
	// assessments are ordered oldest first
	for _, a := range assessments {
		if _, ok := latest[a.UserID]; ok {
			latest[a.UserID] = a.Level
		}
	}

	out := make(map[domain.RiskLevel]int, len(domain.RiskLevels))
	for _, l := range domain.RiskLevels {
		out[l] = 0
	}
	for _, l := range latest {
		out[l]++
	}
	return out, nil
}
