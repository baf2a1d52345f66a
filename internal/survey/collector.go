package survey

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"wellbeing-survey-service/internal/domain"
)

// DefaultMaxOpenTextRunes bounds stored open text answers.
const DefaultMaxOpenTextRunes = 1000

// Collector turns raw answers into a complete, validated SurveyResponse.
// It has no side effects and is safe for concurrent use.
type Collector struct {
	maxOpenText int
	now         func() time.Time
	newID       func() string
}

// Option customizes a Collector.
type Option func(*Collector)

// WithMaxOpenTextRunes sets the open text bound. Non-positive values keep the default.
func WithMaxOpenTextRunes(n int) Option {
	return func(c *Collector) {
		if n > 0 {
			c.maxOpenText = n
		}
	}
}

// WithClock overrides the submission timestamp source.
func WithClock(now func() time.Time) Option {
	return func(c *Collector) { c.now = now }
}

// WithIDGenerator overrides response id generation.
func WithIDGenerator(gen func() string) Option {
	return func(c *Collector) { c.newID = gen }
}

func NewCollector(opts ...Option) *Collector {
	c := &Collector{
		maxOpenText: DefaultMaxOpenTextRunes,
		now:         time.Now,
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Collected is the outcome of a successful collection.
type Collected struct {
	Response domain.SurveyResponse
	// Truncated lists open text question ids whose answer was cut.
	Truncated []string
}

// Collect validates answers against def. Either every answer is accepted and a response
// is returned, or a *domain.ValidationError lists every failing question.
func (c *Collector) Collect(def domain.SurveyDefinition, userID string, answers []domain.RawAnswer) (Collected, error) {
	if def.IsZero() {
		return Collected{}, domain.ContractError("collect called without a survey definition")
	}
	if userID == "" {
		return Collected{}, domain.ContractError("collect called without a user id")
	}

	var fails []domain.FieldError
	byID := make(map[string]any, len(answers))
	for _, a := range answers {
		if _, ok := def.Question(a.QuestionID); !ok {
			fails = append(fails, domain.FieldError{
				Field:  a.QuestionID,
				Code:   domain.FieldUnknownQuestion,
				Reason: fmt.Sprintf("question %q is not part of survey %q", a.QuestionID, def.ID()),
			})
			continue
		}
		if _, dup := byID[a.QuestionID]; dup {
			fails = append(fails, domain.FieldError{
				Field:  a.QuestionID,
				Code:   domain.FieldDuplicate,
				Reason: fmt.Sprintf("question %q was answered more than once", a.QuestionID),
			})
			continue
		}
		byID[a.QuestionID] = a.Value
	}

	out := make([]domain.Answer, 0, def.Len())
	var truncated []string
	for _, q := range def.Questions() {
		raw, ok := byID[q.ID]
		if !ok {
			fails = append(fails, domain.FieldError{Field: q.ID, Code: domain.FieldMissing, Reason: "an answer is required"})
			continue
		}
		ans, fe, err := c.normalize(q, raw)
		if err != nil {
			return Collected{}, err
		}
		if fe != nil {
			fails = append(fails, *fe)
			continue
		}
		if ans.Truncated {
			truncated = append(truncated, q.ID)
		}
		out = append(out, ans)
	}
	if len(fails) > 0 {
		return Collected{}, &domain.ValidationError{Fields: fails}
	}

	return Collected{
		Response: domain.SurveyResponse{
			ID:          c.newID(),
			UserID:      userID,
			SurveyID:    def.ID(),
			SubmittedAt: c.now().UTC(),
			Answers:     out,
		},
		Truncated: truncated,
	}, nil
}

// Verify checks a response built elsewhere, such as an import, against def. It accepts
// exactly what Collect would have produced: one answer per question in definition
// order, each value already normalized. Failures are reported as *domain.ValidationError.
func (c *Collector) Verify(def domain.SurveyDefinition, resp domain.SurveyResponse) error {
	if def.IsZero() || resp.SurveyID != def.ID() {
		return domain.ContractError("response %s of survey %q verified against %q", resp.ID, resp.SurveyID, def.ID())
	}
	var fails []domain.FieldError
	if resp.ID == "" {
		fails = append(fails, domain.FieldError{Field: "id", Code: domain.FieldMissing, Reason: "an id is required"})
	}
	if resp.UserID == "" {
		fails = append(fails, domain.FieldError{Field: "userId", Code: domain.FieldMissing, Reason: "a user id is required"})
	}
	if resp.SubmittedAt.IsZero() {
		fails = append(fails, domain.FieldError{Field: "submittedAt", Code: domain.FieldMissing, Reason: "a submission time is required"})
	}
	if len(fails) > 0 {
		return &domain.ValidationError{Fields: fails}
	}

	raw := make([]domain.RawAnswer, 0, len(resp.Answers))
	for _, a := range resp.Answers {
		raw = append(raw, domain.RawAnswer{QuestionID: a.QuestionID, Value: rawValue(a.Value)})
	}
	collected, err := c.Collect(def, resp.UserID, raw)
	if err != nil {
		return err
	}

	if len(collected.Response.Answers) != len(resp.Answers) {
		return &domain.ValidationError{Fields: []domain.FieldError{{
			Field:  "answers",
			Code:   domain.FieldInvalid,
			Reason: fmt.Sprintf("expected %d answers, got %d", len(collected.Response.Answers), len(resp.Answers)),
		}}}
	}
	for i, want := range collected.Response.Answers {
		got := resp.Answers[i]
		if got.QuestionID != want.QuestionID {
			fails = append(fails, domain.FieldError{
				Field:  got.QuestionID,
				Code:   domain.FieldInvalid,
				Reason: fmt.Sprintf("answer %d should be for question %q", i, want.QuestionID),
			})
			continue
		}
		q, _ := def.Question(want.QuestionID)
		_, openText := q.Type.(domain.OpenText)
		switch {
		case !sameValue(got.Value, want.Value):
			fails = append(fails, domain.FieldError{Field: got.QuestionID, Code: domain.FieldWrongType, Reason: "value is not in normalized form"})
		case got.Truncated && !openText:
			fails = append(fails, domain.FieldError{Field: got.QuestionID, Code: domain.FieldInvalid, Reason: "only open text answers can be truncated"})
		}
	}
	if len(fails) > 0 {
		return &domain.ValidationError{Fields: fails}
	}
	return nil
}

// rawValue turns a stored value back into the form a client would submit.
func rawValue(v domain.Value) any {
	switch v.Kind {
	case domain.ValueInt:
		return v.Int
	case domain.ValueBool:
		return v.Bool
	case domain.ValueText, domain.ValueChoice:
		return v.Text
	case domain.ValueChoices:
		return v.Choices
	}
	return nil
}

func sameValue(a, b domain.Value) bool {
	if a.Kind != b.Kind || a.Int != b.Int || a.Bool != b.Bool || a.Text != b.Text || len(a.Choices) != len(b.Choices) {
		return false
	}
	for i := range a.Choices {
		if a.Choices[i] != b.Choices[i] {
			return false
		}
	}
	return true
}

func (c *Collector) normalize(q domain.Question, raw any) (domain.Answer, *domain.FieldError, error) {
	fail := func(code, format string, args ...any) (domain.Answer, *domain.FieldError, error) {
		return domain.Answer{}, &domain.FieldError{Field: q.ID, Code: code, Reason: fmt.Sprintf(format, args...)}, nil
	}
	ans := domain.Answer{QuestionID: q.ID}

	switch t := q.Type.(type) {
	case domain.LikertScale:
		return c.scale(q.ID, t.Min, t.Max, raw)
	case domain.RatingScale:
		return c.scale(q.ID, t.Min, t.Max, raw)
	case domain.MultipleChoice:
		s, ok := raw.(string)
		if !ok {
			return fail(domain.FieldWrongType, "expected one option")
		}
		if indexOf(t.Options, s) < 0 {
			return fail(domain.FieldNotAnOption, "%q is not one of the options", s)
		}
		ans.Value = domain.ChoiceValue(s)
		return ans, nil, nil
	case domain.Checkbox:
		selected, ok := stringList(raw)
		if !ok {
			return fail(domain.FieldWrongType, "expected a list of options")
		}
		picked := make(map[string]bool, len(selected))
		for _, s := range selected {
			if indexOf(t.Options, s) < 0 {
				return fail(domain.FieldNotAnOption, "%q is not one of the options", s)
			}
			if picked[s] {
				return fail(domain.FieldDuplicate, "option %q selected twice", s)
			}
			picked[s] = true
		}
		if len(picked) == 0 && !t.AllowEmpty {
			return fail(domain.FieldEmptySelection, "select at least one option")
		}
		ordered := make([]string, 0, len(picked))
		for _, o := range t.Options {
			if picked[o] {
				ordered = append(ordered, o)
			}
		}
		ans.Value = domain.ChoicesValue(ordered)
		return ans, nil, nil
	case domain.YesNo:
		b, ok := yesNo(raw)
		if !ok {
			return fail(domain.FieldWrongType, "expected yes or no")
		}
		ans.Value = domain.BoolValue(b)
		return ans, nil, nil
	case domain.OpenText:
		s, ok := raw.(string)
		if !ok {
			return fail(domain.FieldWrongType, "expected text")
		}
		if utf8.RuneCountInString(s) > c.maxOpenText {
			s = string([]rune(s)[:c.maxOpenText])
			ans.Truncated = true
		}
		ans.Value = domain.TextValue(s)
		return ans, nil, nil
	default:
		return domain.Answer{}, nil, domain.ContractError("unhandled question type %T for %q", q.Type, q.ID)
	}
}

func (c *Collector) scale(id string, lo, hi int, raw any) (domain.Answer, *domain.FieldError, error) {
	n, ok := integer(raw)
	if !ok {
		return domain.Answer{}, &domain.FieldError{Field: id, Code: domain.FieldWrongType, Reason: "expected a whole number"}, nil
	}
	if n < lo || n > hi {
		return domain.Answer{}, &domain.FieldError{
			Field:  id,
			Code:   domain.FieldOutOfRange,
			Reason: fmt.Sprintf("must be between %d and %d", lo, hi),
		}, nil
	}
	return domain.Answer{QuestionID: id, Value: domain.IntValue(n)}, nil, nil
}

// integer accepts Go integers, integral floats (JSON numbers) and decimal strings.
func integer(raw any) (int, bool) {
	switch v := raw.(type) {
	case int:
		return v, true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case float64:
		if math.Trunc(v) != v || math.IsInf(v, 0) || v > math.MaxInt32 || v < math.MinInt32 {
			return 0, false
		}
		return int(v), true
	case json.Number:
		n, err := strconv.Atoi(v.String())
		return n, err == nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		return n, err == nil
	}
	return 0, false
}

func stringList(raw any) ([]string, bool) {
	switch v := raw.(type) {
	case nil:
		return nil, true
	case []string:
		return v, true
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	}
	return nil, false
}

func yesNo(raw any) (bool, bool) {
	switch v := raw.(type) {
	case bool:
		return v, true
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "yes", "true", "sí", "si":
			return true, true
		case "no", "false":
			return false, true
		}
	}
	return false, false
}

func indexOf(list []string, v string) int {
	for i, s := range list {
		if s == v {
			return i
		}
	}
	return -1
}
