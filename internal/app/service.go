package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"wellbeing-survey-service/internal/domain"
	"wellbeing-survey-service/internal/record"
	"wellbeing-survey-service/internal/report"
	"wellbeing-survey-service/internal/scoring"
	"wellbeing-survey-service/internal/survey"
)

// DefinitionRepository loads survey definitions (from cache/backing store).
type DefinitionRepository interface {
	GetDefinition(ctx context.Context, surveyID string) (domain.SurveyDefinition, error)
	ListDefinitionIDs(ctx context.Context) ([]string, error)
}

// Locker serializes work per key (in-process or Redis).
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// DefaultLockTimeout bounds how long a submission waits for a concurrent one of the same user.
const DefaultLockTimeout = 5 * time.Second

const registrationLock = "registration"

// Service contains the wellbeing use cases exposed to the web layer.
type Service struct {
	records     *record.Repository
	defs        DefinitionRepository
	locks       Locker
	collector   *survey.Collector
	policy      scoring.Policy
	engine      *scoring.Engine
	aggregator  *scoring.Aggregator
	reporter    *report.Reporter
	hub         *hub
	lockTimeout time.Duration
	now         func() time.Time
	newID       func() string
	log         zerolog.Logger
}

type Option func(*Service)

func WithPolicy(p scoring.Policy) Option {
	return func(s *Service) { s.policy = p }
}

func WithCollector(c *survey.Collector) Option {
	return func(s *Service) { s.collector = c }
}

func WithLockTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.lockTimeout = d
		}
	}
}

// WithClock is test-only for deterministic timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithIDGenerator(gen func() string) Option {
	return func(s *Service) { s.newID = gen }
}

func NewService(records *record.Repository, defs DefinitionRepository, locks Locker, log zerolog.Logger, opts ...Option) (*Service, error) {
	s := &Service{
		records:     records,
		defs:        defs,
		locks:       locks,
		policy:      scoring.DefaultPolicy(),
		hub:         newHub(),
		lockTimeout: DefaultLockTimeout,
		now:         time.Now,
		newID:       uuid.NewString,
		log:         log.With().Str("component", "service").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.policy.Validate(); err != nil {
		return nil, fmt.Errorf("risk policy: %w", err)
	}
	if s.collector == nil {
		s.collector = survey.NewCollector(survey.WithClock(s.now), survey.WithIDGenerator(s.newID))
	}
	s.engine = scoring.NewEngine(s.policy)
	s.aggregator = scoring.NewAggregatorWithClock(s.policy, s.now)
	s.reporter = report.NewReporter(records, defs, s.engine)
	return s, nil
}

// RegisterUser validates a registration and stores the new user. Handles and emails are
// unique, compared case-insensitively.
func (s *Service) RegisterUser(ctx context.Context, reg domain.Registration) (domain.User, error) {
	user, err := domain.NewUser(reg, s.newID(), s.now())
	if err != nil {
		return domain.User{}, err
	}

	unlock, err := s.lock(ctx, registrationLock)
	if err != nil {
		return domain.User{}, err
	}
	defer unlock()

	existing, err := s.records.ListUsers(ctx)
	if err != nil {
		return domain.User{}, err
	}
	var fields []domain.FieldError
	for _, u := range existing {
		if strings.EqualFold(u.Handle, user.Handle) {
			fields = append(fields, domain.FieldError{Field: "handle", Code: domain.FieldDuplicate, Reason: "handle is already taken"})
		}
		if strings.EqualFold(u.Email, user.Email) {
			fields = append(fields, domain.FieldError{Field: "email", Code: domain.FieldDuplicate, Reason: "email is already registered"})
		}
	}
	if len(fields) > 0 {
		return domain.User{}, &domain.ValidationError{Fields: fields}
	}

	if err := s.records.WriteUser(ctx, user); err != nil {
		return domain.User{}, err
	}
	s.log.Info().Str("user_id", user.ID).Int("age", user.Age).Msg("user registered")
	return user, nil
}

// Submission is the outcome of one accepted survey response. Truncated lists open-text
// questions whose answers were shortened.
type Submission struct {
	Response   domain.SurveyResponse   `json:"response"`
	Truncated  []string                `json:"truncated,omitempty"`
	Indicators []domain.RiskIndicator  `json:"indicators,omitempty"`
	Assessment domain.RiskAssessment   `json:"assessment"`
	Profile    domain.EmotionalProfile `json:"profile"`
}

// SubmitResponse validates and stores a response, rescores the user's history, updates
// the profile and appends a new assessment. Submissions of one user are serialized.
func (s *Service) SubmitResponse(ctx context.Context, userID, surveyID string, answers []domain.RawAnswer) (Submission, error) {
	unlock, err := s.lock(ctx, "user:"+userID)
	if err != nil {
		return Submission{}, err
	}
	defer unlock()

	user, err := s.records.ReadUser(ctx, userID)
	if err != nil {
		return Submission{}, err
	}
	def, err := s.defs.GetDefinition(ctx, surveyID)
	if err != nil {
		if errors.Is(err, domain.ErrSurveyNotFound) {
			return Submission{}, &domain.SchemaMismatchError{SurveyID: surveyID, Err: err}
		}
		return Submission{}, err
	}

	collected, err := s.collector.Collect(def, userID, answers)
	if err != nil {
		return Submission{}, err
	}
	resp := collected.Response
	current, err := s.engine.Evaluate(resp, def)
	if err != nil {
		return Submission{}, err
	}
	if err := s.records.WriteResponse(ctx, resp); err != nil {
		return Submission{}, err
	}

	history, err := s.history(ctx, userID, map[string]domain.SurveyDefinition{def.ID(): def})
	if err != nil {
		return Submission{}, err
	}

	now := s.now()
	user.Profile = s.engine.UpdateProfile(user.Profile, current, now)
	if err := s.records.WriteUser(ctx, user); err != nil {
		return Submission{}, err
	}

	prior, err := s.latest(ctx, userID)
	if err != nil {
		return Submission{}, err
	}
	assessment := s.aggregator.Reassess(userID, history, prior)
	assessment.ID = s.newID()
	if err := s.records.WriteAssessment(ctx, assessment); err != nil {
		return Submission{}, err
	}
	s.hub.publish(assessment)

	s.log.Info().
		Str("user_id", userID).
		Str("survey_id", surveyID).
		Str("response_id", resp.ID).
		Int("indicators", len(current.Indicators)).
		Stringer("level", assessment.Level).
		Msg("response scored")
	if assessment.Level >= domain.LevelHigh {
		s.log.Warn().Str("user_id", userID).Stringer("level", assessment.Level).Strs("reasons", assessment.Reasons).Msg("user needs follow-up")
	}

	return Submission{
		Response:   resp,
		Truncated:  collected.Truncated,
		Indicators: current.Indicators,
		Assessment: assessment,
		Profile:    user.Profile,
	}, nil
}

// history rescores every stored response of a user. Definitions are immutable, so
// rescoring old responses always reproduces their indicators.
func (s *Service) history(ctx context.Context, userID string, defs map[string]domain.SurveyDefinition) (scoring.History, error) {
	responses, err := s.records.ListResponsesByUser(ctx, userID)
	if err != nil {
		return scoring.History{}, err
	}
	var h scoring.History
	for _, resp := range responses {
		def, ok := defs[resp.SurveyID]
		if !ok {
			def, err = s.defs.GetDefinition(ctx, resp.SurveyID)
			if errors.Is(err, domain.ErrSurveyNotFound) {
				s.log.Warn().Str("response_id", resp.ID).Str("survey_id", resp.SurveyID).Msg("skipping response of unknown survey")
				continue
			}
			if err != nil {
				return scoring.History{}, err
			}
			defs[resp.SurveyID] = def
		}
		indicators, err := s.engine.Score(resp, def)
		if err != nil {
			return scoring.History{}, fmt.Errorf("rescore response %s: %w", resp.ID, err)
		}
		h.Responses = append(h.Responses, scoring.ResponseRef{ID: resp.ID, SubmittedAt: resp.SubmittedAt})
		h.Indicators = append(h.Indicators, indicators...)
	}
	return h, nil
}

// latest returns the newest assessment of a user, nil when there is none.
func (s *Service) latest(ctx context.Context, userID string) (*domain.RiskAssessment, error) {
	list, err := s.records.ListAssessmentsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return &list[len(list)-1], nil
}

// GetLatestAssessment returns the current assessment of a user. A user without
// assessments is at low risk.
func (s *Service) GetLatestAssessment(ctx context.Context, userID string) (domain.RiskAssessment, error) {
	if _, err := s.records.ReadUser(ctx, userID); err != nil {
		return domain.RiskAssessment{}, err
	}
	prior, err := s.latest(ctx, userID)
	if err != nil {
		return domain.RiskAssessment{}, err
	}
	if prior == nil {
		return s.aggregator.Aggregate(userID, nil), nil
	}
	return *prior, nil
}

// ResolveAssessment records a counselor's resolution. Evidence observed up to now no
// longer counts toward later assessments.
func (s *Service) ResolveAssessment(ctx context.Context, userID, note string) (domain.RiskAssessment, error) {
	unlock, err := s.lock(ctx, "user:"+userID)
	if err != nil {
		return domain.RiskAssessment{}, err
	}
	defer unlock()

	if _, err := s.records.ReadUser(ctx, userID); err != nil {
		return domain.RiskAssessment{}, err
	}
	prior, err := s.latest(ctx, userID)
	if err != nil {
		return domain.RiskAssessment{}, err
	}

	now := s.now().UTC()
	resolved := domain.RiskAssessment{
		ID:            s.newID(),
		UserID:        userID,
		ComputedAt:    now,
		Level:         domain.LevelLow,
		Reasons:       []string{"resolved by counselor"},
		Window:        s.policy.Window.Describe(),
		EvidenceSince: now,
		Resolution:    &domain.Resolution{ResolvedAt: now, Note: note},
	}
	if prior != nil {
		resolved.Supersedes = prior.ID
	}
	if err := s.records.WriteAssessment(ctx, resolved); err != nil {
		return domain.RiskAssessment{}, err
	}
	s.hub.publish(resolved)
	s.log.Info().Str("user_id", userID).Str("assessment_id", resolved.ID).Msg("assessment resolved")
	return resolved, nil
}

// DeleteUser removes a user and everything it owns, and ends its subscriptions.
func (s *Service) DeleteUser(ctx context.Context, userID string) error {
	unlock, err := s.lock(ctx, "user:"+userID)
	if err != nil {
		return err
	}
	defer unlock()

	if err := s.records.DeleteUser(ctx, userID); err != nil {
		return err
	}
	s.hub.close(userID)
	return nil
}

// AggregateStats are the headline counts plus users per current risk level.
type AggregateStats struct {
	report.Stats
	Levels map[domain.RiskLevel]int `json:"levels"`
}

func (s *Service) GetAggregateStats(ctx context.Context) (AggregateStats, error) {
	stats, err := s.reporter.Stats(ctx)
	if err != nil {
		return AggregateStats{}, err
	}
	levels, err := s.reporter.LevelDistribution(ctx)
	if err != nil {
		return AggregateStats{}, err
	}
	return AggregateStats{Stats: stats, Levels: levels}, nil
}

func (s *Service) SurveySummary(ctx context.Context, surveyID string) (report.SurveySummary, error) {
	return s.reporter.SurveySummary(ctx, surveyID)
}

// GetSurvey returns a definition so clients can render it.
func (s *Service) GetSurvey(ctx context.Context, surveyID string) (domain.SurveyDefinition, error) {
	return s.defs.GetDefinition(ctx, surveyID)
}

// Subscribe returns a channel that receives the current assessment of a user followed by
// every new one. The caller must invoke the returned cancel function to avoid leaks.
// Assessments are published under the user lock, so holding it while reading the current
// one and registering means no update falls between the two.
func (s *Service) Subscribe(ctx context.Context, userID string) (<-chan domain.RiskAssessment, func(), error) {
	unlock, err := s.lock(ctx, "user:"+userID)
	if err != nil {
		return nil, nil, err
	}
	defer unlock()

	current, err := s.GetLatestAssessment(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	ch, cancel := s.hub.subscribe(userID, current)
	return ch, cancel, nil
}

func (s *Service) lock(ctx context.Context, key string) (func(), error) {
	lctx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()
	unlock, err := s.locks.Lock(lctx, key)
	if err != nil {
		if errors.Is(err, domain.ErrLockTimeout) && ctx.Err() == nil {
			return nil, &domain.StorageConsistencyError{Op: "lock", Kind: "lock", ID: key, Err: err}
		}
		return nil, err
	}
	return unlock, nil
}
