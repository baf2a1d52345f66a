package scoring

import (
	"time"

	"wellbeing-survey-service/internal/domain"
)

// Engine scores single responses and maintains emotional profiles.
type Engine struct {
	threshold float64
	smoothing float64
}

func NewEngine(p Policy) *Engine {
	e := &Engine{threshold: p.ScaleThreshold, smoothing: p.ProfileSmoothing}
	if e.threshold <= 0 {
		e.threshold = DefaultScaleThreshold
	}
	if e.smoothing <= 0 {
		e.smoothing = DefaultProfileSmoothing
	}
	return e
}

// Evaluation is the full scoring outcome of one response.
type Evaluation struct {
	Indicators []domain.RiskIndicator
	// Observed holds the per-kind contribution of every risk-weighted question, including
	// contributions below the emission threshold, capped at 1.
	Observed map[domain.IndicatorKind]float64
}

// Score returns the indicators a response raises.
func (e *Engine) Score(resp domain.SurveyResponse, def domain.SurveyDefinition) ([]domain.RiskIndicator, error) {
	ev, err := e.Evaluate(resp, def)
	if err != nil {
		return nil, err
	}
	return ev.Indicators, nil
}

// Evaluate scores every risk-weighted answer. A response that does not match its
// definition is a contract violation.
func (e *Engine) Evaluate(resp domain.SurveyResponse, def domain.SurveyDefinition) (Evaluation, error) {
	if resp.SurveyID != def.ID() {
		return Evaluation{}, domain.ContractError("response %s belongs to survey %q, scored against %q", resp.ID, resp.SurveyID, def.ID())
	}
	if len(resp.Answers) != def.Len() {
		return Evaluation{}, domain.ContractError("response %s has %d answers for %d questions", resp.ID, len(resp.Answers), def.Len())
	}

	ev := Evaluation{Observed: make(map[domain.IndicatorKind]float64)}
	seen := make(map[string]bool, len(resp.Answers))
	for _, ans := range resp.Answers {
		q, ok := def.Question(ans.QuestionID)
		if !ok {
			return Evaluation{}, domain.ContractError("response %s answers unknown question %q", resp.ID, ans.QuestionID)
		}
		if seen[q.ID] {
			return Evaluation{}, domain.ContractError("response %s answers question %q twice", resp.ID, q.ID)
		}
		seen[q.ID] = true
		want, err := domain.ValueKindFor(q.Type)
		if err != nil {
			return Evaluation{}, err
		}
		if ans.Value.Kind != want {
			return Evaluation{}, domain.ContractError("question %q holds a %s value, expected %s", q.ID, ans.Value.Kind, want)
		}
		if !q.RiskRelevant() {
			continue
		}

		contribution, emit, err := e.contribution(q, ans.Value)
		if err != nil {
			return Evaluation{}, err
		}
		ev.Observed[q.RiskKind] = clamp(ev.Observed[q.RiskKind] + contribution)
		if emit {
			ev.Indicators = append(ev.Indicators, domain.RiskIndicator{
				Kind:             q.RiskKind,
				Severity:         contribution,
				SourceResponseID: resp.ID,
				QuestionID:       q.ID,
				ObservedAt:       resp.SubmittedAt,
			})
		}
	}
	return ev, nil
}

// contribution returns the severity of one answer and whether it emits an indicator.
func (e *Engine) contribution(q domain.Question, v domain.Value) (float64, bool, error) {
	switch t := q.Type.(type) {
	case domain.LikertScale:
		return e.scale(q.RiskWeight, t.Min, t.Max, v.Int)
	case domain.RatingScale:
		return e.scale(q.RiskWeight, t.Min, t.Max, v.Int)
	case domain.MultipleChoice:
		if contains(q.RiskOptions, v.Text) {
			return clamp(q.RiskWeight), true, nil
		}
		return 0, false, nil
	case domain.Checkbox:
		// Any risk option in the selection signals; one indicator per question.
		for _, c := range v.Choices {
			if contains(q.RiskOptions, c) {
				return clamp(q.RiskWeight), true, nil
			}
		}
		return 0, false, nil
	case domain.YesNo:
		answer := domain.RiskAnswerNo
		if v.Bool {
			answer = domain.RiskAnswerYes
		}
		risky := q.RiskOptions
		if len(risky) == 0 {
			risky = []string{domain.RiskAnswerYes}
		}
		if contains(risky, answer) {
			return clamp(q.RiskWeight), true, nil
		}
		return 0, false, nil
	case domain.OpenText:
		return 0, false, nil
	default:
		return 0, false, domain.ContractError("unhandled question type %T for %q", q.Type, q.ID)
	}
}

func (e *Engine) scale(weight float64, lo, hi, v int) (float64, bool, error) {
	if hi <= lo {
		return 0, false, domain.ContractError("scale bounds %d..%d", lo, hi)
	}
	if v < lo || v > hi {
		return 0, false, domain.ContractError("scale value %d outside %d..%d", v, lo, hi)
	}
	position := float64(v-lo) / float64(hi-lo)
	return clamp(weight * position), position >= e.threshold-epsilon, nil
}

// UpdateProfile folds an evaluation into the running profile with exponential smoothing.
// A kind observed for the first time starts at its observed value.
func (e *Engine) UpdateProfile(profile domain.EmotionalProfile, ev Evaluation, now time.Time) domain.EmotionalProfile {
	levels := make(map[domain.IndicatorKind]float64, len(profile.Levels)+len(ev.Observed))
	for k, v := range profile.Levels {
		levels[k] = v
	}
	for k, observed := range ev.Observed {
		old, seen := levels[k]
		if !seen {
			levels[k] = clamp(observed)
			continue
		}
		levels[k] = clamp((1-e.smoothing)*old + e.smoothing*observed)
	}
	if len(levels) == 0 {
		levels = nil
	}
	return domain.EmotionalProfile{Levels: levels, UpdatedAt: now.UTC()}
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
