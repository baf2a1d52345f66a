package domain

import (
	"fmt"
	"time"
)

// IndicatorKind is the closed set of signals the scoring engine can raise.
type IndicatorKind string

const (
	ElevatedStress      IndicatorKind = "elevated-stress"
	PersistentAnxiety   IndicatorKind = "persistent-anxiety"
	RiskBehaviorPattern IndicatorKind = "risk-behavior-pattern"
	SocialIsolation     IndicatorKind = "social-isolation"
	HabitDisruption     IndicatorKind = "habit-disruption"
)

// IndicatorKinds lists every kind in a fixed order used for exports and reports.
var IndicatorKinds = []IndicatorKind{
	ElevatedStress,
	PersistentAnxiety,
	RiskBehaviorPattern,
	SocialIsolation,
	HabitDisruption,
}

func (k IndicatorKind) Valid() bool {
	switch k {
	case ElevatedStress, PersistentAnxiety, RiskBehaviorPattern, SocialIsolation, HabitDisruption:
		return true
	}
	return false
}

// RiskIndicator is one detected signal, traceable to the answer that produced it.
type RiskIndicator struct {
	Kind             IndicatorKind `json:"kind"`
	Severity         float64       `json:"severity"`
	SourceResponseID string        `json:"sourceResponseId"`
	QuestionID       string        `json:"questionId"`
	ObservedAt       time.Time     `json:"observedAt"`
}

// RiskLevel is a totally ordered risk category.
type RiskLevel int

const (
	LevelLow RiskLevel = iota
	LevelModerate
	LevelHigh
	LevelCritical
)

// RiskLevels lists every level from lowest to highest.
var RiskLevels = []RiskLevel{LevelLow, LevelModerate, LevelHigh, LevelCritical}

func (l RiskLevel) String() string {
	switch l {
	case LevelLow:
		return "low"
	case LevelModerate:
		return "moderate"
	case LevelHigh:
		return "high"
	case LevelCritical:
		return "critical"
	}
	return fmt.Sprintf("RiskLevel(%d)", int(l))
}

// ParseRiskLevel is the inverse of RiskLevel.String.
func ParseRiskLevel(s string) (RiskLevel, error) {
	for _, l := range RiskLevels {
		if l.String() == s {
			return l, nil
		}
	}
	return LevelLow, fmt.Errorf("unknown risk level %q", s)
}

func (l RiskLevel) MarshalText() ([]byte, error) {
	if l < LevelLow || l > LevelCritical {
		return nil, ContractError("risk level %d out of range", int(l))
	}
	return []byte(l.String()), nil
}

func (l *RiskLevel) UnmarshalText(text []byte) error {
	parsed, err := ParseRiskLevel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// MaxLevel returns the higher of two levels.
func MaxLevel(a, b RiskLevel) RiskLevel {
	if a > b {
		return a
	}
	return b
}

// Resolution records an explicit counselor decision that closes an assessment.
type Resolution struct {
	ResolvedAt time.Time `json:"resolvedAt"`
	Note       string    `json:"note"`
}

// RiskAssessment is a point-in-time risk judgment. Assessments are append-only:
// a newer assessment supersedes an older one and never rewrites it.
type RiskAssessment struct {
	ID         string          `json:"id"`
	UserID     string          `json:"userId"`
	ComputedAt time.Time       `json:"computedAt"`
	Level      RiskLevel       `json:"level"`
	Indicators []RiskIndicator `json:"indicators,omitempty"`
	Reasons    []string        `json:"reasons,omitempty"`
	// Window describes the aggregation window the level was computed over.
	Window     string `json:"window"`
	Supersedes string `json:"supersedes,omitempty"`
	// EvidenceSince excludes indicators observed at or before it; set by a resolution
	// and carried forward by later assessments.
	EvidenceSince time.Time   `json:"evidenceSince,omitempty"`
	Resolution    *Resolution `json:"resolution,omitempty"`
}

// Resolved reports whether this assessment is an explicit resolution.
func (a RiskAssessment) Resolved() bool { return a.Resolution != nil }

// Validate checks an assessment built outside the aggregator, such as an import.
func (a RiskAssessment) Validate() error {
	var fields []FieldError
	if a.ID == "" {
		fields = append(fields, FieldError{Field: "id", Code: FieldMissing, Reason: "an id is required"})
	}
	if a.UserID == "" {
		fields = append(fields, FieldError{Field: "userId", Code: FieldMissing, Reason: "a user id is required"})
	}
	if a.ComputedAt.IsZero() {
		fields = append(fields, FieldError{Field: "computedAt", Code: FieldMissing, Reason: "a computation time is required"})
	}
	if a.Level < LevelLow || a.Level > LevelCritical {
		fields = append(fields, FieldError{Field: "level", Code: FieldInvalid, Reason: fmt.Sprintf("unknown risk level %d", int(a.Level))})
	}
	for i, ind := range a.Indicators {
		field := fmt.Sprintf("indicators[%d]", i)
		if !ind.Kind.Valid() {
			fields = append(fields, FieldError{Field: field, Code: FieldInvalid, Reason: fmt.Sprintf("unknown indicator kind %q", ind.Kind)})
		}
		if !(ind.Severity >= 0 && ind.Severity <= 1) {
			fields = append(fields, FieldError{Field: field, Code: FieldOutOfRange, Reason: "severity must be between 0 and 1"})
		}
		if ind.SourceResponseID == "" {
			fields = append(fields, FieldError{Field: field, Code: FieldMissing, Reason: "a source response is required"})
		}
	}
	if a.Resolution != nil && a.Resolution.ResolvedAt.IsZero() {
		fields = append(fields, FieldError{Field: "resolution", Code: FieldMissing, Reason: "a resolution time is required"})
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}
