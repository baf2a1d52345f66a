package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"wellbeing-survey-service/internal/domain"
	"wellbeing-survey-service/internal/record"
)

// ImportResult counts the records an import wrote.
type ImportResult struct {
	Users       int `json:"users"`
	Responses   int `json:"responses"`
	Assessments int `json:"assessments"`
}

type importBatch struct {
	user        *domain.User
	responses   []domain.SurveyResponse
	assessments []domain.RiskAssessment
}

// Import stores records produced outside the service, such as a tabular export. The
// whole batch is checked first with the rules RegisterUser and SubmitResponse apply;
// nothing is written unless every record passes. Records with existing ids are replaced.
func (s *Service) Import(ctx context.Context, users []domain.User, responses []domain.SurveyResponse, assessments []domain.RiskAssessment) (ImportResult, error) {
	unlock, err := s.lock(ctx, registrationLock)
	if err != nil {
		return ImportResult{}, err
	}
	defer unlock()

	if err := s.checkImport(ctx, users, responses, assessments); err != nil {
		return ImportResult{}, err
	}

	var order []string
	batches := make(map[string]*importBatch)
	batch := func(userID string) *importBatch {
		b, ok := batches[userID]
		if !ok {
			b = &importBatch{}
			batches[userID] = b
			order = append(order, userID)
		}
		return b
	}
	for i := range users {
		batch(users[i].ID).user = &users[i]
	}
	for _, r := range responses {
		b := batch(r.UserID)
		b.responses = append(b.responses, r)
	}
	for _, a := range assessments {
		b := batch(a.UserID)
		b.assessments = append(b.assessments, a)
	}

	var res ImportResult
	for _, userID := range order {
		if err := s.writeBatch(ctx, userID, batches[userID], &res); err != nil {
			return res, err
		}
	}
	s.log.Info().
		Int("users", res.Users).
		Int("responses", res.Responses).
		Int("assessments", res.Assessments).
		Msg("records imported")
	return res, nil
}

func (s *Service) writeBatch(ctx context.Context, userID string, b *importBatch, res *ImportResult) error {
	unlock, err := s.lock(ctx, "user:"+userID)
	if err != nil {
		return err
	}
	defer unlock()

	if b.user != nil {
		if err := s.records.WriteUser(ctx, *b.user); err != nil {
			return err
		}
		res.Users++
	}
	for _, r := range b.responses {
		if err := s.records.WriteResponse(ctx, r); err != nil {
			return err
		}
		res.Responses++
	}
	for _, a := range b.assessments {
		if err := s.records.WriteAssessment(ctx, a); err != nil {
			return err
		}
		res.Assessments++
	}
	if len(b.assessments) > 0 {
		latest, err := s.latest(ctx, userID)
		if err != nil {
			return err
		}
		if latest != nil {
			s.hub.publish(*latest)
		}
	}
	return nil
}

// checkImport validates every record and reports all failures at once. Field names are
// prefixed with the record they belong to.
func (s *Service) checkImport(ctx context.Context, users []domain.User, responses []domain.SurveyResponse, assessments []domain.RiskAssessment) error {
	var fields []domain.FieldError
	collect := func(kind record.Kind, id string, err error) error {
		var ve *domain.ValidationError
		if !errors.As(err, &ve) {
			return err
		}
		for _, f := range ve.Fields {
			f.Field = fmt.Sprintf("%s %s: %s", kind, id, f.Field)
			fields = append(fields, f)
		}
		return nil
	}
	reject := func(kind record.Kind, id, field, code, reason string) {
		fields = append(fields, domain.FieldError{Field: fmt.Sprintf("%s %s: %s", kind, id, field), Code: code, Reason: reason})
	}

	replaced := make(map[string]bool, len(users))
	for _, u := range users {
		replaced[u.ID] = true
	}
	stored, err := s.records.ListUsers(ctx)
	if err != nil {
		return err
	}
	known := make(map[string]bool, len(stored)+len(users))
	handles := make(map[string]string)
	emails := make(map[string]string)
	for _, u := range stored {
		known[u.ID] = true
		if replaced[u.ID] {
			continue
		}
		handles[strings.ToLower(u.Handle)] = u.ID
		emails[strings.ToLower(u.Email)] = u.ID
	}

	for _, u := range users {
		if err := u.Validate(); err != nil {
			if err := collect(record.KindUser, u.ID, err); err != nil {
				return err
			}
		}
		if owner, ok := handles[strings.ToLower(u.Handle)]; ok && owner != u.ID {
			reject(record.KindUser, u.ID, "handle", domain.FieldDuplicate, "handle is already taken")
		}
		if owner, ok := emails[strings.ToLower(u.Email)]; ok && owner != u.ID {
			reject(record.KindUser, u.ID, "email", domain.FieldDuplicate, "email is already registered")
		}
		handles[strings.ToLower(u.Handle)] = u.ID
		emails[strings.ToLower(u.Email)] = u.ID
		known[u.ID] = true
	}

	defs := make(map[string]domain.SurveyDefinition)
	for _, r := range responses {
		def, ok := defs[r.SurveyID]
		if !ok {
			def, err = s.defs.GetDefinition(ctx, r.SurveyID)
			if errors.Is(err, domain.ErrSurveyNotFound) {
				return &domain.SchemaMismatchError{SurveyID: r.SurveyID, Err: fmt.Errorf("response %s: %w", r.ID, err)}
			}
			if err != nil {
				return err
			}
			defs[r.SurveyID] = def
		}
		if err := s.collector.Verify(def, r); err != nil {
			if err := collect(record.KindResponse, r.ID, err); err != nil {
				return err
			}
			continue
		}
		if _, err := s.engine.Evaluate(r, def); err != nil {
			return err
		}
		if !known[r.UserID] {
			reject(record.KindResponse, r.ID, "userId", domain.FieldInvalid, fmt.Sprintf("user %s is neither stored nor imported", r.UserID))
		}
	}

	for _, a := range assessments {
		if err := a.Validate(); err != nil {
			if err := collect(record.KindAssessment, a.ID, err); err != nil {
				return err
			}
			continue
		}
		if !known[a.UserID] {
			reject(record.KindAssessment, a.ID, "userId", domain.FieldInvalid, fmt.Sprintf("user %s is neither stored nor imported", a.UserID))
		}
	}

	if len(fields) > 0 {
		return &domain.ValidationError{Fields: fields}
	}
	return nil
}
