package survey

import (
	"context"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"wellbeing-survey-service/internal/domain"
)

// Stable ids of the built-in surveys.
const (
	EmotionalStateID = "emotional-state-v1"
	LifeHabitsID     = "life-habits-v1"
	RiskEvaluationID = "risk-evaluation-v1"
)

var frequency = []string{"Nunca", "Raramente", "A veces", "Frecuentemente", "Siempre"}

// Loader fetches survey definitions from a backing store.
type Loader interface {
	LoadDefinition(ctx context.Context, surveyID string) (domain.SurveyDefinition, error)
	ListDefinitionIDs(ctx context.Context) ([]string, error)
}

// DefaultSpecs returns the documents of the built-in surveys.
func DefaultSpecs() []domain.DefinitionSpec {
	return []domain.DefinitionSpec{
		{
			ID:          EmotionalStateID,
			Title:       "Evaluación de Estado Emocional",
			Description: "Encuesta para evaluar tu estado emocional actual y bienestar general.",
			Category:    domain.CategoryEmotionalState,
			Questions: []domain.QuestionSpec{
				{ID: "mood_current", Prompt: "¿Cómo describirías tu estado de ánimo en este momento?", Category: "estado_emocional", Type: domain.KindLikert, Min: 1, Max: 5},
				{ID: "stress_level", Prompt: "En una escala del 1 al 10, ¿qué tan estresado/a te sientes?", Category: "estres", Type: domain.KindRating, Min: 1, Max: 10, RiskWeight: 1, RiskKind: domain.ElevatedStress},
				{ID: "anxiety_level", Prompt: "¿Con qué frecuencia has sentido ansiedad en la última semana?", Category: "ansiedad", Type: domain.KindMultipleChoice, Options: frequency, RiskWeight: 0.6, RiskKind: domain.PersistentAnxiety, RiskOptions: []string{"Frecuentemente", "Siempre"}},
				{ID: "sleep_quality", Prompt: "¿Cómo calificarías la calidad de tu sueño en la última semana?", Category: "bienestar_fisico", Type: domain.KindLikert, Min: 1, Max: 5},
				{ID: "social_support", Prompt: "¿Sientes que tienes suficiente apoyo de familiares y amigos?", Category: "apoyo_social", Type: domain.KindYesNo, RiskWeight: 0.5, RiskKind: domain.SocialIsolation, RiskOptions: []string{domain.RiskAnswerNo}},
				{ID: "emotional_concerns", Prompt: "¿Hay algo específico que te preocupe emocionalmente en este momento?", Category: "preocupaciones", Type: domain.KindOpenText},
			},
		},
		{
			ID:          LifeHabitsID,
			Title:       "Evaluación de Hábitos y Bienestar",
			Description: "Encuesta sobre tus hábitos diarios y su impacto en tu bienestar.",
			Category:    domain.CategoryLifeHabits,
			Questions: []domain.QuestionSpec{
				{ID: "exercise_frequency", Prompt: "¿Con qué frecuencia realizas actividad física?", Category: "actividad_fisica", Type: domain.KindMultipleChoice, Options: []string{"Nunca", "1-2 veces por semana", "3-4 veces por semana", "5-6 veces por semana", "Todos los días"}, RiskWeight: 0.3, RiskKind: domain.HabitDisruption, RiskOptions: []string{"Nunca"}},
				{ID: "screen_time", Prompt: "¿Cuántas horas al día pasas frente a pantallas (celular, computadora, TV)?", Category: "uso_tecnologia", Type: domain.KindMultipleChoice, Options: []string{"Menos de 2 horas", "2-4 horas", "4-6 horas", "6-8 horas", "Más de 8 horas"}, RiskWeight: 0.4, RiskKind: domain.HabitDisruption, RiskOptions: []string{"6-8 horas", "Más de 8 horas"}},
				{ID: "social_activities", Prompt: "¿Participas regularmente en actividades sociales o comunitarias?", Category: "participacion_social", Type: domain.KindYesNo, RiskWeight: 0.3, RiskKind: domain.SocialIsolation, RiskOptions: []string{domain.RiskAnswerNo}},
				{ID: "healthy_eating", Prompt: "¿Qué tan saludable consideras tu alimentación?", Category: "alimentacion", Type: domain.KindLikert, Min: 1, Max: 5},
				{ID: "substance_use", Prompt: "¿Has consumido alcohol o sustancias en la última semana?", Category: "consumo_sustancias", Type: domain.KindCheckbox, Options: []string{"Alcohol", "Tabaco", "Otras sustancias", "Ninguna"}, RiskWeight: 0.6, RiskKind: domain.RiskBehaviorPattern, RiskOptions: []string{"Alcohol", "Tabaco", "Otras sustancias"}},
			},
		},
		{
			ID:          RiskEvaluationID,
			Title:       "Evaluación de Factores de Riesgo",
			Description: "Evaluación confidencial para identificar factores de riesgo y necesidades de apoyo.",
			Category:    domain.CategoryRiskEvaluation,
			Questions: []domain.QuestionSpec{
				{ID: "hopelessness", Prompt: "¿Has sentido que no vale la pena vivir?", Category: "riesgo_alto", Type: domain.KindMultipleChoice, Options: frequency, RiskWeight: 0.9, RiskKind: domain.PersistentAnxiety, RiskOptions: []string{"Frecuentemente", "Siempre"}},
				{ID: "self_harm", Prompt: "¿Has pensado en hacerte daño a ti mismo/a?", Category: "riesgo_alto", Type: domain.KindYesNo, RiskWeight: 1, RiskKind: domain.RiskBehaviorPattern},
				{ID: "isolation", Prompt: "¿Te sientes aislado/a de otras personas?", Category: "aislamiento", Type: domain.KindLikert, Min: 1, Max: 5, RiskWeight: 1, RiskKind: domain.SocialIsolation},
				{ID: "family_problems", Prompt: "¿Tienes problemas significativos en casa o con tu familia?", Category: "problemas_familiares", Type: domain.KindYesNo, RiskWeight: 0.5, RiskKind: domain.ElevatedStress},
				{ID: "academic_stress", Prompt: "¿Qué tan estresado/a te sientes por temas académicos o laborales?", Category: "estres_academico", Type: domain.KindRating, Min: 1, Max: 10, RiskWeight: 0.8, RiskKind: domain.ElevatedStress},
				{ID: "help_seeking", Prompt: "¿Estarías dispuesto/a a buscar ayuda profesional si la necesitaras?", Category: "disposicion_ayuda", Type: domain.KindYesNo},
			},
		},
	}
}

// DefaultCatalog builds the built-in surveys keyed by id.
func DefaultCatalog() map[string]domain.SurveyDefinition {
	out := make(map[string]domain.SurveyDefinition, 3)
	for _, spec := range DefaultSpecs() {
		out[spec.ID] = domain.MustDefinition(spec)
	}
	return out
}

type catalogFile struct {
	Surveys []domain.DefinitionSpec `yaml:"surveys"`
}

// LoadCatalogFile reads survey definitions from a YAML document with a top-level
// "surveys" list.
func LoadCatalogFile(path string) (map[string]domain.SurveyDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read survey catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes a YAML catalog document.
func ParseCatalog(data []byte) (map[string]domain.SurveyDefinition, error) {
	var doc catalogFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode survey catalog: %w", err)
	}
	out := make(map[string]domain.SurveyDefinition, len(doc.Surveys))
	for _, spec := range doc.Surveys {
		def, err := domain.NewDefinition(spec)
		if err != nil {
			return nil, err
		}
		if _, dup := out[def.ID()]; dup {
			return nil, fmt.Errorf("%w: survey %q declared twice", domain.ErrInvalidDefinition, def.ID())
		}
		out[def.ID()] = def
	}
	return out, nil
}

// StaticLoader is a loader backed by an in-memory map (useful for tests and demos).
type StaticLoader struct {
	surveys map[string]domain.SurveyDefinition
}

func NewStaticLoader(surveys map[string]domain.SurveyDefinition) *StaticLoader {
	return &StaticLoader{surveys: surveys}
}

func (l *StaticLoader) LoadDefinition(_ context.Context, surveyID string) (domain.SurveyDefinition, error) {
	if def, ok := l.surveys[surveyID]; ok {
		return def, nil
	}
	return domain.SurveyDefinition{}, domain.ErrSurveyNotFound
}

func (l *StaticLoader) ListDefinitionIDs(_ context.Context) ([]string, error) {
	ids := make([]string, 0, len(l.surveys))
	for id := range l.surveys {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
