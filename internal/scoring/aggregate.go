package scoring

import (
	"fmt"
	"sort"
	"time"

	"wellbeing-survey-service/internal/domain"
)

// History is the evidence available for one user: every response reference, including
// responses that raised nothing, and the indicators they produced.
type History struct {
	Responses  []ResponseRef
	Indicators []domain.RiskIndicator
}

// Aggregator turns indicator history into risk assessments.
type Aggregator struct {
	policy Policy
	now    func() time.Time
}

func NewAggregator(p Policy) *Aggregator {
	return NewAggregatorWithClock(p, time.Now)
}

// NewAggregatorWithClock is used by tests for deterministic windows and timestamps.
func NewAggregatorWithClock(p Policy, now func() time.Time) *Aggregator {
	if p.Window == nil {
		p.Window = LastResponses{N: DefaultWindowResponses}
	}
	return &Aggregator{policy: p, now: now}
}

// Aggregate evaluates the rules over indicators alone; responses are inferred from the
// indicators' sources.
func (a *Aggregator) Aggregate(userID string, indicators []domain.RiskIndicator) domain.RiskAssessment {
	seen := make(map[string]int)
	var refs []ResponseRef
	for _, ind := range indicators {
		i, ok := seen[ind.SourceResponseID]
		if !ok {
			seen[ind.SourceResponseID] = len(refs)
			refs = append(refs, ResponseRef{ID: ind.SourceResponseID, SubmittedAt: ind.ObservedAt})
			continue
		}
		if ind.ObservedAt.After(refs[i].SubmittedAt) {
			refs[i].SubmittedAt = ind.ObservedAt
		}
	}
	return a.AggregateHistory(userID, History{Responses: refs, Indicators: indicators})
}

// AggregateHistory applies the window and the escalation rules. The highest rule wins;
// no indicators means low.
func (a *Aggregator) AggregateHistory(userID string, h History) domain.RiskAssessment {
	now := a.now().UTC()
	keep := a.policy.Window.Select(now, h.Responses)

	var window []domain.RiskIndicator
	for _, ind := range h.Indicators {
		if keep[ind.SourceResponseID] {
			window = append(window, ind)
		}
	}
	sortIndicators(window)

	level, reasons := a.evaluate(window)
	return domain.RiskAssessment{
		UserID:     userID,
		ComputedAt: now,
		Level:      level,
		Indicators: window,
		Reasons:    reasons,
		Window:     a.policy.Window.Describe(),
	}
}

// Reassess aggregates the history and applies the prior assessment as a floor.
// Indicators at or before the prior's evidence cutoff are ignored.
func (a *Aggregator) Reassess(userID string, h History, prior *domain.RiskAssessment) domain.RiskAssessment {
	if prior == nil {
		return a.AggregateHistory(userID, h)
	}
	since := prior.EvidenceSince
	if !since.IsZero() {
		h = h.after(since)
	}
	out := a.AggregateHistory(userID, h)
	out.Supersedes = prior.ID
	out.EvidenceSince = since
	if prior.Level > out.Level {
		out.Level = prior.Level
		out.Reasons = append(out.Reasons, fmt.Sprintf("held at %s until assessment %s is resolved", prior.Level, prior.ID))
	}
	return out
}

func (h History) after(since time.Time) History {
	var out History
	for _, r := range h.Responses {
		if r.SubmittedAt.After(since) {
			out.Responses = append(out.Responses, r)
		}
	}
	for _, ind := range h.Indicators {
		if ind.ObservedAt.After(since) {
			out.Indicators = append(out.Indicators, ind)
		}
	}
	return out
}

func (a *Aggregator) evaluate(window []domain.RiskIndicator) (domain.RiskLevel, []string) {
	level := domain.LevelLow
	var reasons []string
	if len(window) == 0 {
		return level, nil
	}

	counted := 0
	peak := 0.0
	kinds := make(map[domain.IndicatorKind]struct{})
	for _, ind := range window {
		if ind.Severity >= a.policy.CountSeverity-epsilon {
			counted++
		}
		if ind.Severity > peak {
			peak = ind.Severity
		}
		kinds[ind.Kind] = struct{}{}
	}

	if counted >= a.policy.CountThreshold {
		level = domain.MaxLevel(level, domain.LevelModerate)
		reasons = append(reasons, fmt.Sprintf("%d indicators at severity %.2f or above", counted, a.policy.CountSeverity))
	}
	if peak >= a.policy.HighSeverity-epsilon {
		level = domain.MaxLevel(level, domain.LevelHigh)
		reasons = append(reasons, fmt.Sprintf("an indicator reached severity %.2f", peak))
	}
	if len(kinds) >= a.policy.CriticalKinds {
		level = domain.MaxLevel(level, domain.LevelCritical)
		reasons = append(reasons, fmt.Sprintf("%d distinct indicator kinds co-occur", len(kinds)))
	}
	return level, reasons
}

func sortIndicators(list []domain.RiskIndicator) {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if !a.ObservedAt.Equal(b.ObservedAt) {
			return a.ObservedAt.Before(b.ObservedAt)
		}
		if a.SourceResponseID != b.SourceResponseID {
			return a.SourceResponseID < b.SourceResponseID
		}
		return a.QuestionID < b.QuestionID
	})
}
