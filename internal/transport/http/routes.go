package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"wellbeing-survey-service/internal/app"
	"wellbeing-survey-service/internal/domain"
)

// NewMux wires the health, stats and websocket endpoints.
func NewMux(service *app.Service, log zerolog.Logger) *http.ServeMux {
	ws := NewWSHandler(service, log)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		stats, err := service.GetAggregateStats(r.Context())
		if err != nil {
			log.Error().Err(err).Msg("aggregate stats")
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	})
	mux.HandleFunc("/ws", ws.ServeWS)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	code, reason := domain.Describe(err)
	status := http.StatusInternalServerError
	if errors.Is(err, domain.ErrNotFound) {
		status = http.StatusNotFound
	}
	writeJSON(w, status, errorPayload{Code: code, Reason: reason})
}
