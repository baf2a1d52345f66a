package domain_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"wellbeing-survey-service/internal/domain"
)

func TestNewUserRequiresConsentForMinors(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	_, err := domain.NewUser(domain.Registration{Handle: "kid_01", Email: "kid@example.org", Age: 16}, "u1", now)
	if !errors.Is(err, domain.ErrConsentRequired) {
		t.Fatalf("expected consent error, got %v", err)
	}
	var ve *domain.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %T", err)
	}
	if got := ve.Offending(domain.FieldConsentRequired); len(got) != 1 || got[0] != "consent" {
		t.Fatalf("expected consent field flagged, got %v", got)
	}
	if code, _ := domain.Describe(err); code != domain.CodeConsentRequired {
		t.Fatalf("expected consent code, got %s", code)
	}

	user, err := domain.NewUser(domain.Registration{Handle: "kid_01", Email: "Kid@Example.org", Age: 16, Consent: true}, "u1", now)
	if err != nil {
		t.Fatalf("register with consent: %v", err)
	}
	if user.Email != "kid@example.org" || !user.CreatedAt.Equal(now) {
		t.Fatalf("unexpected user %+v", user)
	}
}

func TestNewUserCollectsEveryField(t *testing.T) {
	_, err := domain.NewUser(domain.Registration{Handle: "x", Email: "nope", Age: 40}, "u1", time.Now())
	var ve *domain.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(ve.Fields) != 3 {
		t.Fatalf("expected handle, email and age rejected, got %+v", ve.Fields)
	}
	if errors.Is(err, domain.ErrConsentRequired) {
		t.Fatalf("adult registration must not report consent")
	}
}

func TestNewDefinitionRejectsBadDocuments(t *testing.T) {
	base := func() domain.DefinitionSpec {
		return domain.DefinitionSpec{
			ID:       "s1",
			Title:    "Check-in",
			Category: domain.CategoryEmotionalState,
			Questions: []domain.QuestionSpec{
				{ID: "q1", Prompt: "Stress?", Type: domain.KindLikert, Min: 1, Max: 5, RiskWeight: 1, RiskKind: domain.ElevatedStress},
			},
		}
	}
	cases := map[string]func(*domain.DefinitionSpec){
		"missing id":          func(s *domain.DefinitionSpec) { s.ID = "" },
		"unknown category":    func(s *domain.DefinitionSpec) { s.Category = "sleep" },
		"inverted scale":      func(s *domain.DefinitionSpec) { s.Questions[0].Min = 5 },
		"unknown risk kind":   func(s *domain.DefinitionSpec) { s.Questions[0].RiskKind = "boredom" },
		"negative weight":     func(s *domain.DefinitionSpec) { s.Questions[0].RiskWeight = -1 },
		"duplicate question":  func(s *domain.DefinitionSpec) { s.Questions = append(s.Questions, s.Questions[0]) },
		"weighted open text":  func(s *domain.DefinitionSpec) { s.Questions[0].Type = domain.KindOpenText },
		"unknown type":        func(s *domain.DefinitionSpec) { s.Questions[0].Type = "slider" },
		"risk option missing": func(s *domain.DefinitionSpec) { s.Questions[0] = domain.QuestionSpec{ID: "q1", Prompt: "p", Type: domain.KindCheckbox, Options: []string{"a"}, RiskWeight: 1, RiskKind: domain.HabitDisruption, RiskOptions: []string{"b"}} },
		"duplicate option":    func(s *domain.DefinitionSpec) { s.Questions[0] = domain.QuestionSpec{ID: "q1", Prompt: "p", Type: domain.KindMultipleChoice, Options: []string{"a", "a"}} },
	}
	if _, err := domain.NewDefinition(base()); err != nil {
		t.Fatalf("base definition rejected: %v", err)
	}
	for name, mutate := range cases {
		spec := base()
		mutate(&spec)
		if _, err := domain.NewDefinition(spec); !errors.Is(err, domain.ErrInvalidDefinition) {
			t.Fatalf("%s: expected invalid definition, got %v", name, err)
		}
	}
}

func TestDefinitionJSONKeepsOrderAndTypes(t *testing.T) {
	def := domain.MustDefinition(domain.DefinitionSpec{
		ID:       "habits-v1",
		Title:    "Habits",
		Category: domain.CategoryLifeHabits,
		Questions: []domain.QuestionSpec{
			{ID: "sleep", Prompt: "Hours of sleep", Type: domain.KindRating, Min: 0, Max: 12},
			{ID: "activities", Prompt: "Activities", Type: domain.KindCheckbox, Options: []string{"sport", "music", "none"}, AllowEmpty: true},
			{ID: "alone", Prompt: "Alone?", Type: domain.KindYesNo, RiskWeight: 0.6, RiskKind: domain.SocialIsolation},
			{ID: "notes", Prompt: "Anything else?", Type: domain.KindOpenText},
		},
	})
	data, err := json.Marshal(def)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back domain.SurveyDefinition
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	qs := back.Questions()
	if back.ID() != "habits-v1" || len(qs) != 4 || qs[0].ID != "sleep" || qs[3].ID != "notes" {
		t.Fatalf("order not preserved: %+v", qs)
	}
	cb, ok := qs[1].Type.(domain.Checkbox)
	if !ok || !cb.AllowEmpty || len(cb.Options) != 3 {
		t.Fatalf("checkbox not restored: %#v", qs[1].Type)
	}
	if q, ok := back.Question("alone"); !ok || q.RiskKind != domain.SocialIsolation {
		t.Fatalf("lookup failed: %+v", q)
	}
}

func TestRiskLevelText(t *testing.T) {
	for _, l := range domain.RiskLevels {
		text, err := l.MarshalText()
		if err != nil {
			t.Fatalf("marshal %v: %v", l, err)
		}
		var back domain.RiskLevel
		if err := back.UnmarshalText(text); err != nil || back != l {
			t.Fatalf("round trip %v -> %q -> %v (%v)", l, text, back, err)
		}
	}
	if !(domain.LevelLow < domain.LevelModerate && domain.LevelModerate < domain.LevelHigh && domain.LevelHigh < domain.LevelCritical) {
		t.Fatalf("levels must be ordered")
	}
	if _, err := domain.RiskLevel(9).MarshalText(); !errors.Is(err, domain.ErrContractViolation) {
		t.Fatalf("expected contract violation for out-of-range level, got %v", err)
	}
}

func TestUserValidate(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	u, err := domain.NewUser(domain.Registration{Handle: " ana_09 ", Email: "Ana@Example.com", Age: 15, Consent: true}, "u1", now)
	if err != nil {
		t.Fatalf("new user: %v", err)
	}
	if err := u.Validate(); err != nil {
		t.Fatalf("a registered user must validate: %v", err)
	}

	bad := u
	bad.ID = ""
	bad.Email = "Ana@Example.com"
	bad.Age = 9
	bad.Profile.Levels = map[domain.IndicatorKind]float64{domain.ElevatedStress: 1.5}
	var ve *domain.ValidationError
	if err := bad.Validate(); !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}
	got := map[string]bool{}
	for _, f := range ve.Fields {
		got[f.Field] = true
	}
	for _, want := range []string{"id", "email", "age", "profile." + string(domain.ElevatedStress)} {
		if !got[want] {
			t.Fatalf("expected %q to be reported, got %+v", want, ve.Fields)
		}
	}
}

func TestRiskAssessmentValidate(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	a := domain.RiskAssessment{
		ID: "a1", UserID: "u1", ComputedAt: now, Level: domain.LevelModerate,
		Indicators: []domain.RiskIndicator{{Kind: domain.ElevatedStress, Severity: 0.5, SourceResponseID: "r1"}},
	}
	if err := a.Validate(); err != nil {
		t.Fatalf("valid assessment rejected: %v", err)
	}

	a.Level = domain.RiskLevel(7)
	a.Indicators[0].Severity = 2
	a.Resolution = &domain.Resolution{Note: "ok"}
	var ve *domain.ValidationError
	if err := a.Validate(); !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if got := ve.Offending(domain.FieldOutOfRange); len(got) != 1 || got[0] != "indicators[0]" {
		t.Fatalf("expected severity out of range, got %+v", ve.Fields)
	}
	if got := ve.Offending(domain.FieldMissing); len(got) != 1 || got[0] != "resolution" {
		t.Fatalf("expected missing resolution time, got %+v", ve.Fields)
	}
	if got := ve.Offending(domain.FieldInvalid); len(got) != 1 || got[0] != "level" {
		t.Fatalf("expected invalid level, got %+v", ve.Fields)
	}
}
