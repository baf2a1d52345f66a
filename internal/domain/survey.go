package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInvalidDefinition is returned when a survey definition document is malformed.
var ErrInvalidDefinition = errors.New("invalid survey definition")

// Survey categories.
const (
	CategoryEmotionalState = "emotional-state"
	CategoryLifeHabits     = "life-habits"
	CategoryRiskEvaluation = "risk-evaluation"
	CategoryGeneral        = "general"
)

// TypeKind names a QuestionType variant on the wire.
type TypeKind string

const (
	KindLikert         TypeKind = "likert_scale"
	KindRating         TypeKind = "rating_scale"
	KindMultipleChoice TypeKind = "multiple_choice"
	KindCheckbox       TypeKind = "checkbox"
	KindYesNo          TypeKind = "yes_no"
	KindOpenText       TypeKind = "open_text"
)

// QuestionType is the closed set of answer shapes. Only the variants declared in this
// package implement it.
type QuestionType interface {
	Kind() TypeKind
	questionType()
}

// LikertScale is an ordinal agreement/intensity scale, e.g. 1-5.
type LikertScale struct{ Min, Max int }

// RatingScale is a numeric rating, e.g. 1-10.
type RatingScale struct{ Min, Max int }

// MultipleChoice accepts exactly one of Options.
type MultipleChoice struct{ Options []string }

// Checkbox accepts any subset of Options; the empty subset only when AllowEmpty.
type Checkbox struct {
	Options    []string
	AllowEmpty bool
}

// YesNo accepts a boolean.
type YesNo struct{}

// OpenText accepts free text, stored for qualitative review only.
type OpenText struct{}

func (LikertScale) Kind() TypeKind    { return KindLikert }
func (RatingScale) Kind() TypeKind    { return KindRating }
func (MultipleChoice) Kind() TypeKind { return KindMultipleChoice }
func (Checkbox) Kind() TypeKind       { return KindCheckbox }
func (YesNo) Kind() TypeKind          { return KindYesNo }
func (OpenText) Kind() TypeKind       { return KindOpenText }

func (LikertScale) questionType()    {}
func (RatingScale) questionType()    {}
func (MultipleChoice) questionType() {}
func (Checkbox) questionType()       {}
func (YesNo) questionType()          {}
func (OpenText) questionType()       {}

// YesNo risk options.
const (
	RiskAnswerYes = "yes"
	RiskAnswerNo  = "no"
)

// Question is one item of a survey definition.
type Question struct {
	ID       string
	Prompt   string
	Category string
	Type     QuestionType
	// RiskWeight is a non-negative coefficient; zero means informational only.
	RiskWeight float64
	RiskKind   IndicatorKind
	// RiskOptions lists the selections that signal risk for choice questions,
	// or "yes"/"no" for YesNo questions (default "yes").
	RiskOptions []string
}

// RiskRelevant reports whether the scoring engine looks at this question.
func (q Question) RiskRelevant() bool { return q.RiskWeight > 0 }

// QuestionSpec is the self-describing document form of a Question.
type QuestionSpec struct {
	ID          string        `json:"id" yaml:"id"`
	Prompt      string        `json:"prompt" yaml:"prompt"`
	Category    string        `json:"category,omitempty" yaml:"category,omitempty"`
	Type        TypeKind      `json:"type" yaml:"type"`
	Min         int           `json:"min,omitempty" yaml:"min,omitempty"`
	Max         int           `json:"max,omitempty" yaml:"max,omitempty"`
	Options     []string      `json:"options,omitempty" yaml:"options,omitempty"`
	AllowEmpty  bool          `json:"allowEmpty,omitempty" yaml:"allowEmpty,omitempty"`
	RiskWeight  float64       `json:"riskWeight,omitempty" yaml:"riskWeight,omitempty"`
	RiskKind    IndicatorKind `json:"riskKind,omitempty" yaml:"riskKind,omitempty"`
	RiskOptions []string      `json:"riskOptions,omitempty" yaml:"riskOptions,omitempty"`
}

// Build validates the document and returns the Question.
func (s QuestionSpec) Build() (Question, error) {
	fail := func(format string, args ...any) (Question, error) {
		return Question{}, fmt.Errorf("%w: question %q: %s", ErrInvalidDefinition, s.ID, fmt.Sprintf(format, args...))
	}
	if s.ID == "" {
		return fail("id is required")
	}
	if s.Prompt == "" {
		return fail("prompt is required")
	}
	if s.RiskWeight < 0 || math.IsNaN(s.RiskWeight) || math.IsInf(s.RiskWeight, 0) {
		return fail("risk weight must be a non-negative number")
	}
	if s.RiskWeight > 0 && !s.RiskKind.Valid() {
		return fail("risk kind %q is not a known indicator kind", s.RiskKind)
	}

	var qt QuestionType
	switch s.Type {
	case KindLikert, KindRating:
		if s.Min >= s.Max {
			return fail("scale min %d must be below max %d", s.Min, s.Max)
		}
		if s.Type == KindLikert {
			qt = LikertScale{Min: s.Min, Max: s.Max}
		} else {
			qt = RatingScale{Min: s.Min, Max: s.Max}
		}
	case KindMultipleChoice, KindCheckbox:
		if err := checkOptions(s.Options); err != nil {
			return fail("%v", err)
		}
		if s.RiskWeight > 0 {
			if len(s.RiskOptions) == 0 {
				return fail("risk-weighted choice question needs risk options")
			}
			for _, ro := range s.RiskOptions {
				if !contains(s.Options, ro) {
					return fail("risk option %q is not a declared option", ro)
				}
			}
		}
		opts := append([]string(nil), s.Options...)
		if s.Type == KindMultipleChoice {
			qt = MultipleChoice{Options: opts}
		} else {
			qt = Checkbox{Options: opts, AllowEmpty: s.AllowEmpty}
		}
	case KindYesNo:
		for _, ro := range s.RiskOptions {
			if ro != RiskAnswerYes && ro != RiskAnswerNo {
				return fail("yes/no risk option must be %q or %q", RiskAnswerYes, RiskAnswerNo)
			}
		}
		qt = YesNo{}
	case KindOpenText:
		if s.RiskWeight > 0 {
			return fail("open text questions cannot carry a risk weight")
		}
		qt = OpenText{}
	default:
		return fail("unknown question type %q", s.Type)
	}

	q := Question{
		ID:         s.ID,
		Prompt:     s.Prompt,
		Category:   s.Category,
		Type:       qt,
		RiskWeight: s.RiskWeight,
		RiskKind:   s.RiskKind,
	}
	if len(s.RiskOptions) > 0 {
		q.RiskOptions = append([]string(nil), s.RiskOptions...)
	}
	if q.Category == "" {
		q.Category = CategoryGeneral
	}
	return q, nil
}

// Spec returns the document form of q.
func (q Question) Spec() QuestionSpec {
	s := QuestionSpec{
		ID:          q.ID,
		Prompt:      q.Prompt,
		Category:    q.Category,
		RiskWeight:  q.RiskWeight,
		RiskKind:    q.RiskKind,
		RiskOptions: q.RiskOptions,
	}
	if q.Type == nil {
		return s
	}
	s.Type = q.Type.Kind()
	switch t := q.Type.(type) {
	case LikertScale:
		s.Min, s.Max = t.Min, t.Max
	case RatingScale:
		s.Min, s.Max = t.Min, t.Max
	case MultipleChoice:
		s.Options = t.Options
	case Checkbox:
		s.Options, s.AllowEmpty = t.Options, t.AllowEmpty
	case YesNo, OpenText:
	}
	return s
}

func checkOptions(options []string) error {
	if len(options) == 0 {
		return errors.New("options are required")
	}
	seen := make(map[string]struct{}, len(options))
	for _, o := range options {
		if o == "" {
			return errors.New("options must not be empty strings")
		}
		if _, dup := seen[o]; dup {
			return fmt.Errorf("option %q is declared twice", o)
		}
		seen[o] = struct{}{}
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// DefinitionSpec is the self-describing document form of a SurveyDefinition.
type DefinitionSpec struct {
	ID          string         `json:"id" yaml:"id"`
	Title       string         `json:"title" yaml:"title"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Category    string         `json:"category" yaml:"category"`
	Questions   []QuestionSpec `json:"questions" yaml:"questions"`
}

// SurveyDefinition is an immutable, ordered set of questions. A new version of a survey
// is a new definition with a new id, so stored responses stay interpretable.
// It is safe to share between goroutines.
type SurveyDefinition struct {
	id          string
	title       string
	description string
	category    string
	questions   []Question
	index       map[string]int
}

// NewDefinition validates spec and builds the definition.
func NewDefinition(spec DefinitionSpec) (SurveyDefinition, error) {
	if spec.ID == "" {
		return SurveyDefinition{}, fmt.Errorf("%w: id is required", ErrInvalidDefinition)
	}
	if spec.Title == "" {
		return SurveyDefinition{}, fmt.Errorf("%w: survey %q: title is required", ErrInvalidDefinition, spec.ID)
	}
	switch spec.Category {
	case CategoryEmotionalState, CategoryLifeHabits, CategoryRiskEvaluation, CategoryGeneral:
	default:
		return SurveyDefinition{}, fmt.Errorf("%w: survey %q: unknown category %q", ErrInvalidDefinition, spec.ID, spec.Category)
	}
	if len(spec.Questions) == 0 {
		return SurveyDefinition{}, fmt.Errorf("%w: survey %q has no questions", ErrInvalidDefinition, spec.ID)
	}
	d := SurveyDefinition{
		id:          spec.ID,
		title:       spec.Title,
		description: spec.Description,
		category:    spec.Category,
		questions:   make([]Question, 0, len(spec.Questions)),
		index:       make(map[string]int, len(spec.Questions)),
	}
	for _, qs := range spec.Questions {
		q, err := qs.Build()
		if err != nil {
			return SurveyDefinition{}, fmt.Errorf("survey %q: %w", spec.ID, err)
		}
		if _, dup := d.index[q.ID]; dup {
			return SurveyDefinition{}, fmt.Errorf("%w: survey %q: question %q declared twice", ErrInvalidDefinition, spec.ID, q.ID)
		}
		d.index[q.ID] = len(d.questions)
		d.questions = append(d.questions, q)
	}
	return d, nil
}

// MustDefinition is NewDefinition for static catalogs; it panics on an invalid spec.
func MustDefinition(spec DefinitionSpec) SurveyDefinition {
	d, err := NewDefinition(spec)
	if err != nil {
		panic(err)
	}
	return d
}

func (d SurveyDefinition) ID() string          { return d.id }
func (d SurveyDefinition) Title() string       { return d.title }
func (d SurveyDefinition) Description() string { return d.description }
func (d SurveyDefinition) Category() string    { return d.category }
func (d SurveyDefinition) Len() int            { return len(d.questions) }
func (d SurveyDefinition) IsZero() bool        { return d.id == "" }

// Questions returns the questions in order. Callers must not modify the option slices.
func (d SurveyDefinition) Questions() []Question {
	return append([]Question(nil), d.questions...)
}

// Question looks up a question by id.
func (d SurveyDefinition) Question(id string) (Question, bool) {
	i, ok := d.index[id]
	if !ok {
		return Question{}, false
	}
	return d.questions[i], true
}

// Spec returns the document form of d.
func (d SurveyDefinition) Spec() DefinitionSpec {
	qs := make([]QuestionSpec, 0, len(d.questions))
	for _, q := range d.questions {
		qs = append(qs, q.Spec())
	}
	return DefinitionSpec{ID: d.id, Title: d.title, Description: d.description, Category: d.category, Questions: qs}
}

func (d SurveyDefinition) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Spec())
}

func (d *SurveyDefinition) UnmarshalJSON(data []byte) error {
	var spec DefinitionSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return err
	}
	built, err := NewDefinition(spec)
	if err != nil {
		return err
	}
	*d = built
	return nil
}

// ValueKind names the normalized shape of an answer value.
type ValueKind string

const (
	ValueInt     ValueKind = "int"
	ValueBool    ValueKind = "bool"
	ValueText    ValueKind = "text"
	ValueChoice  ValueKind = "choice"
	ValueChoices ValueKind = "choices"
)

// ValueKindFor returns the value shape a question type accepts.
func ValueKindFor(t QuestionType) (ValueKind, error) {
	switch t.(type) {
	case LikertScale, RatingScale:
		return ValueInt, nil
	case MultipleChoice:
		return ValueChoice, nil
	case Checkbox:
		return ValueChoices, nil
	case YesNo:
		return ValueBool, nil
	case OpenText:
		return ValueText, nil
	default:
		return "", ContractError("unhandled question type %T", t)
	}
}

// Value is a normalized answer value. Exactly the field matching Kind is meaningful.
// An empty checkbox selection is represented by a nil Choices slice.
type Value struct {
	Kind    ValueKind `json:"kind"`
	Int     int       `json:"int,omitempty"`
	Bool    bool      `json:"bool,omitempty"`
	Text    string    `json:"text,omitempty"`
	Choices []string  `json:"choices,omitempty"`
}

func IntValue(n int) Value       { return Value{Kind: ValueInt, Int: n} }
func BoolValue(b bool) Value     { return Value{Kind: ValueBool, Bool: b} }
func TextValue(s string) Value   { return Value{Kind: ValueText, Text: s} }
func ChoiceValue(s string) Value { return Value{Kind: ValueChoice, Text: s} }

func ChoicesValue(selected []string) Value {
	if len(selected) == 0 {
		return Value{Kind: ValueChoices}
	}
	return Value{Kind: ValueChoices, Choices: append([]string(nil), selected...)}
}

// Answer is one validated answer of a response.
type Answer struct {
	QuestionID string `json:"questionId"`
	Value      Value  `json:"value"`
	// Truncated is set when open text was cut to the storage bound.
	Truncated bool `json:"truncated,omitempty"`
}

// RawAnswer is an unvalidated answer as submitted by the web layer.
type RawAnswer struct {
	QuestionID string `json:"questionId"`
	Value      any    `json:"value"`
}

// SurveyResponse is a complete, validated set of answers. It is never edited;
// corrections are submitted as a new response.
type SurveyResponse struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	SurveyID    string    `json:"surveyId"`
	SubmittedAt time.Time `json:"submittedAt"`
	Answers     []Answer  `json:"answers"`
}

// Answer returns the answer for a question id.
func (r SurveyResponse) Answer(questionID string) (Answer, bool) {
	for _, a := range r.Answers {
		if a.QuestionID == questionID {
			return a, true
		}
	}
	return Answer{}, false
}
