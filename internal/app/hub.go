package app

import (
	"sync"

	"wellbeing-survey-service/internal/domain"
)

// hub fans assessment updates out to per-user subscribers.
type hub struct {
	mu          sync.Mutex
	subscribers map[string]map[chan domain.RiskAssessment]struct{}
}

func newHub() *hub {
	return &hub{subscribers: make(map[string]map[chan domain.RiskAssessment]struct{})}
}

// subscribe registers a channel primed with initial. cancel is idempotent.
func (h *hub) subscribe(userID string, initial domain.RiskAssessment) (<-chan domain.RiskAssessment, func()) {
	ch := make(chan domain.RiskAssessment, 8)
	ch <- initial

	h.mu.Lock()
	subs, ok := h.subscribers[userID]
	if !ok {
		subs = make(map[chan domain.RiskAssessment]struct{})
		h.subscribers[userID] = subs
	}
	subs[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		subs := h.subscribers[userID]
		if _, ok := subs[ch]; !ok {
			return
		}
		delete(subs, ch)
		close(ch)
		if len(subs) == 0 {
			delete(h.subscribers, userID)
		}
	}
	return ch, cancel
}

func (h *hub) publish(a domain.RiskAssessment) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subscribers[a.UserID] {
		select {
		case ch <- a:
		default:
			// a slow subscriber only ever needs the newest assessment
			select {
			case <-ch:
			default:
			}
			ch <- a
		}
	}
}

// close ends every subscription of a user.
func (h *hub) close(userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subscribers[userID] {
		close(ch)
	}
	delete(h.subscribers, userID)
}
