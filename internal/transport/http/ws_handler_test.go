package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"wellbeing-survey-service/internal/app"
	"wellbeing-survey-service/internal/domain"
	"wellbeing-survey-service/internal/infra/memory"
	"wellbeing-survey-service/internal/record"
	"wellbeing-survey-service/internal/survey"
)

func newTestServer(t *testing.T) (*httptest.Server, *app.Service) {
	t.Helper()
	records := record.NewRepository(memory.NewRecordStore(), zerolog.Nop())
	defs := memory.NewDefinitionRepository(survey.NewStaticLoader(survey.DefaultCatalog()), time.Minute)
	service, err := app.NewService(records, defs, memory.NewLocker(), zerolog.Nop())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	server := httptest.NewServer(NewMux(service, zerolog.Nop()))
	t.Cleanup(server.Close)
	return server, service
}

func registerUser(t *testing.T, service *app.Service) domain.User {
	t.Helper()
	u, err := service.RegisterUser(context.Background(), domain.Registration{
		Handle: "ana_09", Email: "ana@example.com", Age: 17, Consent: true,
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return u
}

func dial(t *testing.T, server *httptest.Server, userID string) *websocket.Conn {
	t.Helper()
	u := "ws" + server.URL[len("http"):] + "/ws?userId=" + userID
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestWebSocketSubmitFlow(t *testing.T) {
	server, service := newTestServer(t)
	u := registerUser(t, service)
	conn := dial(t, server, u.ID)

	_, payload := readNext(conn, t, "assessment")
	if payload["level"] != "low" {
		t.Fatalf("expected initial low assessment, got %v", payload)
	}

	submit := map[string]any{
		"type": "submit",
		"payload": map[string]any{
			"surveyId": survey.EmotionalStateID,
			"answers": []map[string]any{
				{"questionId": "mood_current", "value": 2},
				{"questionId": "stress_level", "value": 10},
				{"questionId": "anxiety_level", "value": "A veces"},
				{"questionId": "sleep_quality", "value": 3},
				{"questionId": "social_support", "value": true},
				{"questionId": "emotional_concerns", "value": "exámenes finales"},
			},
		},
	}
	if err := conn.WriteJSON(submit); err != nil {
		t.Fatalf("write submit: %v", err)
	}

	// the push and the reply travel on different goroutines, so either may come first
	submittedSeen := false
	assessmentSeen := false
	for i := 0; i < 2; i++ {
		typ, payload := readNext(conn, t, "")
		switch typ {
		case "submitted":
			submittedSeen = true
			if payload["level"] != "high" {
				t.Fatalf("expected high level in reply, got %v", payload)
			}
		case "assessment":
			assessmentSeen = true
			if payload["level"] != "high" {
				t.Fatalf("expected high assessment push, got %v", payload)
			}
		default:
			t.Fatalf("unexpected message %s: %v", typ, payload)
		}
	}
	if !submittedSeen || !assessmentSeen {
		t.Fatalf("expected submitted and assessment, got submitted=%v assessment=%v", submittedSeen, assessmentSeen)
	}
}

func TestWebSocketReportsErrors(t *testing.T) {
	server, service := newTestServer(t)
	u := registerUser(t, service)
	conn := dial(t, server, u.ID)
	readNext(conn, t, "assessment")

	bad := map[string]any{"type": "submit", "payload": map[string]any{"surveyId": "retired-survey"}}
	if err := conn.WriteJSON(bad); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, payload := readNext(conn, t, "error")
	if payload["code"] != string(domain.CodeSchemaMismatch) || payload["reason"] == "" {
		t.Fatalf("unexpected error payload %v", payload)
	}

	missing := map[string]any{"type": "submit", "payload": map[string]any{
		"surveyId": survey.EmotionalStateID,
		"answers":  []map[string]any{{"questionId": "stress_level", "value": 4}},
	}}
	if err := conn.WriteJSON(missing); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, payload = readNext(conn, t, "error")
	if payload["code"] != string(domain.CodeValidation) {
		t.Fatalf("expected validation code, got %v", payload)
	}

	ghost := dial(t, server, "ghost")
	_, payload = readNext(ghost, t, "error")
	if payload["code"] != string(domain.CodeNotFound) {
		t.Fatalf("expected not_found for unknown user, got %v", payload)
	}
}

func TestStatsEndpoint(t *testing.T) {
	server, service := newTestServer(t)
	registerUser(t, service)

	resp, err := http.Get(server.URL + "/stats")
	if err != nil {
		t.Fatalf("get stats: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	var body struct {
		Users   int            `json:"users"`
		Surveys int            `json:"surveys"`
		Levels  map[string]int `json:"levels"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Users != 1 || body.Surveys != 3 || body.Levels["low"] != 1 {
		t.Fatalf("unexpected stats %+v", body)
	}
}

func readNext(conn *websocket.Conn, t *testing.T, expect string) (string, map[string]any) {
	t.Helper()
	var msg struct {
		Type    string         `json:"type"`
		Payload map[string]any `json:"payload"`
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read json: %v", err)
	}
	if expect != "" && msg.Type != expect {
		t.Fatalf("expected type %s, got %s (%v)", expect, msg.Type, msg.Payload)
	}
	return msg.Type, msg.Payload
}
