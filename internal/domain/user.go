package domain

import (
	"fmt"
	"time"

	"wellbeing-survey-service/internal/validate"
)

// Registration is the raw registration input from the web layer.
type Registration struct {
	Handle  string `json:"handle"`
	Email   string `json:"email"`
	Age     int    `json:"age"`
	Consent bool   `json:"consent"`
}

// User is a registered participant. It owns its EmotionalProfile, responses and assessments.
type User struct {
	ID        string           `json:"id"`
	Handle    string           `json:"handle"`
	Email     string           `json:"email"`
	Age       int              `json:"age"`
	Consent   bool             `json:"consent"`
	CreatedAt time.Time        `json:"createdAt"`
	Profile   EmotionalProfile `json:"profile"`
}

// EmotionalProfile holds running indicator levels in [0,1].
// Only the scoring engine produces new profile values.
type EmotionalProfile struct {
	Levels    map[IndicatorKind]float64 `json:"levels,omitempty"`
	UpdatedAt time.Time                 `json:"updatedAt"`
}

// Level returns the running level for kind, 0 when never observed.
func (p EmotionalProfile) Level(kind IndicatorKind) float64 {
	return p.Levels[kind]
}

// NewUser validates a registration and builds the user. A minor without consent is rejected
// with an error matching ErrConsentRequired.
func NewUser(reg Registration, id string, now time.Time) (User, error) {
	handle, email, age, fields := checkRegistration(reg)
	if len(fields) > 0 {
		return User{}, &ValidationError{Fields: fields}
	}
	return User{
		ID:        id,
		Handle:    handle.String(),
		Email:     email.String(),
		Age:       age.Int(),
		Consent:   reg.Consent,
		CreatedAt: now.UTC(),
	}, nil
}

// Validate applies the registration rules to a user built elsewhere, such as an import.
// Handle and email must already be in the form NewUser stores.
func (u User) Validate() error {
	var fields []FieldError
	if u.ID == "" {
		fields = append(fields, FieldError{Field: "id", Code: FieldMissing, Reason: "an id is required"})
	}
	handle, email, _, more := checkRegistration(Registration{Handle: u.Handle, Email: u.Email, Age: u.Age, Consent: u.Consent})
	fields = append(fields, more...)
	if handle.OK && handle.String() != u.Handle {
		fields = append(fields, FieldError{Field: "handle", Code: FieldInvalid, Reason: "handle has surrounding spaces"})
	}
	if email.OK && email.String() != u.Email {
		fields = append(fields, FieldError{Field: "email", Code: FieldInvalid, Reason: "email must be trimmed and lower case"})
	}
	if u.CreatedAt.IsZero() {
		fields = append(fields, FieldError{Field: "createdAt", Code: FieldMissing, Reason: "a registration time is required"})
	}
	for _, kind := range IndicatorKinds {
		if level, ok := u.Profile.Levels[kind]; ok && !(level >= 0 && level <= 1) {
			fields = append(fields, FieldError{Field: "profile." + string(kind), Code: FieldOutOfRange, Reason: "must be between 0 and 1"})
		}
	}
	for kind := range u.Profile.Levels {
		if !kind.Valid() {
			fields = append(fields, FieldError{Field: "profile", Code: FieldInvalid, Reason: fmt.Sprintf("unknown indicator kind %q", kind)})
		}
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

func checkRegistration(reg Registration) (handle, email, age validate.Result, fields []FieldError) {
	handle = validate.Handle(reg.Handle)
	if !handle.OK {
		fields = append(fields, FieldError{Field: "handle", Code: FieldInvalid, Reason: handle.Reason})
	}
	email = validate.Email(reg.Email)
	if !email.OK {
		fields = append(fields, FieldError{Field: "email", Code: FieldInvalid, Reason: email.Reason})
	}
	age = validate.Age(reg.Age)
	if !age.OK {
		fields = append(fields, FieldError{Field: "age", Code: FieldInvalid, Reason: age.Reason})
	}
	if consent := validate.Consent(reg.Age, reg.Consent); !consent.OK {
		fields = append(fields, FieldError{Field: "consent", Code: FieldConsentRequired, Reason: consent.Reason})
	}
	return handle, email, age, fields
}
