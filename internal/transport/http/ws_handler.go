package http

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"wellbeing-survey-service/internal/app"
	"wellbeing-survey-service/internal/domain"
)

type WSHandler struct {
	service  *app.Service
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

func NewWSHandler(service *app.Service, log zerolog.Logger) *WSHandler {
	return &WSHandler{
		service: service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log: log.With().Str("component", "ws").Logger(),
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type answerPayload struct {
	QuestionID string `json:"questionId"`
	Value      any    `json:"value"`
}

type submitPayload struct {
	SurveyID string          `json:"surveyId"`
	Answers  []answerPayload `json:"answers"`
}

type surveyPayload struct {
	SurveyID string `json:"surveyId"`
}

type submitResult struct {
	ResponseID string                 `json:"responseId"`
	SurveyID   string                 `json:"surveyId"`
	Truncated  []string               `json:"truncated,omitempty"`
	Indicators []domain.RiskIndicator `json:"indicators,omitempty"`
	Level      domain.RiskLevel       `json:"level"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Code   domain.Code `json:"code"`
	Reason string      `json:"reason"`
}

func errorMessage(err error) outboundMessage[any] {
	code, reason := domain.Describe(err)
	return outboundMessage[any]{Type: "error", Payload: errorPayload{Code: code, Reason: reason}}
}

// ServeWS upgrades HTTP requests to websockets. The connection receives the user's
// current assessment, every later one, and accepts survey submissions.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, "missing userId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	updates, cancel, err := h.service.Subscribe(r.Context(), userID)
	if err != nil {
		_ = conn.WriteJSON(errorMessage(err))
		return
	}
	defer cancel()

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	// single writer; gorilla connections do not support concurrent writes
	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				h.log.Debug().Err(err).Str("user_id", userID).Msg("ws write failed")
				return
			}
		}
	}()

	go func() {
		defer close(updatesDone)
		for {
			select {
			case update, ok := <-updates:
				if !ok {
					// user deleted; unblock the reader
					_ = conn.Close()
					return
				}
				select {
				case send <- outboundMessage[any]{Type: "assessment", Payload: update}:
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "submit":
			var payload submitPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Code: domain.CodeValidation, Reason: "invalid submit payload"}}
				continue
			}
			answers := make([]domain.RawAnswer, 0, len(payload.Answers))
			for _, a := range payload.Answers {
				answers = append(answers, domain.RawAnswer{QuestionID: a.QuestionID, Value: a.Value})
			}
			sub, err := h.service.SubmitResponse(r.Context(), userID, payload.SurveyID, answers)
			if err != nil {
				h.log.Info().Err(err).Str("user_id", userID).Str("survey_id", payload.SurveyID).Msg("submission rejected")
				send <- errorMessage(err)
				continue
			}
			send <- outboundMessage[any]{Type: "submitted", Payload: submitResult{
				ResponseID: sub.Response.ID,
				SurveyID:   sub.Response.SurveyID,
				Truncated:  sub.Truncated,
				Indicators: sub.Indicators,
				Level:      sub.Assessment.Level,
			}}
		case "survey":
			var payload surveyPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Code: domain.CodeValidation, Reason: "invalid survey payload"}}
				continue
			}
			def, err := h.service.GetSurvey(r.Context(), payload.SurveyID)
			if err != nil {
				send <- errorMessage(err)
				continue
			}
			send <- outboundMessage[any]{Type: "survey", Payload: def}
		default:
			send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Code: domain.CodeValidation, Reason: "unsupported message type"}}
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}
