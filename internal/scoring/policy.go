// Package scoring derives risk indicators from validated responses and aggregates them
// into risk assessments. Everything here is deterministic and free of I/O.
package scoring

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// Default policy values.
const (
	// DefaultScaleThreshold is the normalized scale position at which a scale answer emits
	// an indicator: 4 on a 1-5 scale, 8 on a 1-10 scale.
	DefaultScaleThreshold = 0.75
	// DefaultCountSeverity and DefaultCountThreshold: this many indicators at or above this
	// severity escalate to moderate.
	DefaultCountSeverity  = 0.5
	DefaultCountThreshold = 3
	// DefaultHighSeverity escalates to high when any single indicator reaches it.
	DefaultHighSeverity = 0.8
	// DefaultCriticalKinds escalates to critical when this many distinct kinds co-occur.
	DefaultCriticalKinds = 3
	// DefaultProfileSmoothing is the weight of a new observation in the profile average.
	DefaultProfileSmoothing = 0.5
	// DefaultWindowResponses bounds aggregation to the latest responses.
	DefaultWindowResponses = 10
)

// epsilon absorbs float rounding in threshold comparisons.
const epsilon = 1e-9

// Policy holds every tunable of the engine and aggregator.
type Policy struct {
	Window           Window
	CountSeverity    float64
	CountThreshold   int
	HighSeverity     float64
	CriticalKinds    int
	ScaleThreshold   float64
	ProfileSmoothing float64
}

func DefaultPolicy() Policy {
	return Policy{
		Window:           LastResponses{N: DefaultWindowResponses},
		CountSeverity:    DefaultCountSeverity,
		CountThreshold:   DefaultCountThreshold,
		HighSeverity:     DefaultHighSeverity,
		CriticalKinds:    DefaultCriticalKinds,
		ScaleThreshold:   DefaultScaleThreshold,
		ProfileSmoothing: DefaultProfileSmoothing,
	}
}

// Validate rejects policies that would make rules meaningless.
func (p Policy) Validate() error {
	var errs []error
	if p.Window == nil {
		errs = append(errs, errors.New("window is required"))
	}
	if p.CountSeverity < 0 || p.CountSeverity > 1 {
		errs = append(errs, fmt.Errorf("countSeverity %v outside [0,1]", p.CountSeverity))
	}
	if p.CountThreshold < 1 {
		errs = append(errs, fmt.Errorf("countThreshold %d must be at least 1", p.CountThreshold))
	}
	if p.HighSeverity <= 0 || p.HighSeverity > 1 {
		errs = append(errs, fmt.Errorf("highSeverity %v outside (0,1]", p.HighSeverity))
	}
	if p.CriticalKinds < 1 {
		errs = append(errs, fmt.Errorf("criticalKinds %d must be at least 1", p.CriticalKinds))
	}
	if p.ScaleThreshold <= 0 || p.ScaleThreshold > 1 {
		errs = append(errs, fmt.Errorf("scaleThreshold %v outside (0,1]", p.ScaleThreshold))
	}
	if p.ProfileSmoothing <= 0 || p.ProfileSmoothing > 1 {
		errs = append(errs, fmt.Errorf("profileSmoothing %v outside (0,1]", p.ProfileSmoothing))
	}
	return errors.Join(errs...)
}

// ResponseRef identifies a response in a user's history.
type ResponseRef struct {
	ID          string
	SubmittedAt time.Time
}

// Window selects which responses contribute to an assessment.
type Window interface {
	Select(now time.Time, responses []ResponseRef) map[string]bool
	Describe() string
}

// LastResponses keeps the N most recent responses. N <= 0 keeps everything.
type LastResponses struct{ N int }

func (w LastResponses) Select(_ time.Time, responses []ResponseRef) map[string]bool {
	ordered := append([]ResponseRef(nil), responses...)
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].SubmittedAt.Equal(ordered[j].SubmittedAt) {
			return ordered[i].SubmittedAt.After(ordered[j].SubmittedAt)
		}
		return ordered[i].ID > ordered[j].ID
	})
	if w.N > 0 && len(ordered) > w.N {
		ordered = ordered[:w.N]
	}
	keep := make(map[string]bool, len(ordered))
	for _, r := range ordered {
		keep[r.ID] = true
	}
	return keep
}

func (w LastResponses) Describe() string {
	if w.N <= 0 {
		return "all responses"
	}
	return fmt.Sprintf("last %d responses", w.N)
}

// TimeWindow keeps responses submitted within Span before now. Span <= 0 keeps everything.
type TimeWindow struct{ Span time.Duration }

func (w TimeWindow) Select(now time.Time, responses []ResponseRef) map[string]bool {
	keep := make(map[string]bool, len(responses))
	for _, r := range responses {
		if w.Span <= 0 || !r.SubmittedAt.Before(now.Add(-w.Span)) {
			keep[r.ID] = true
		}
	}
	return keep
}

func (w TimeWindow) Describe() string {
	if w.Span <= 0 {
		return "all responses"
	}
	return "responses within " + w.Span.String()
}
