package record_test

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"wellbeing-survey-service/internal/domain"
	"wellbeing-survey-service/internal/infra/memory"
	"wellbeing-survey-service/internal/record"
)

var t0 = time.Date(2024, 4, 10, 8, 0, 0, 0, time.UTC)

func newRepo() (*record.Repository, *memory.RecordStore) {
	store := memory.NewRecordStore()
	return record.NewRepositoryWithClock(store, zerolog.Nop(), func() time.Time { return t0 }), store
}

func sampleUser(id string, created time.Time) domain.User {
	return domain.User{
		ID:        id,
		Handle:    "handle_" + id,
		Email:     id + "@example.org",
		Age:       17,
		Consent:   true,
		CreatedAt: created,
		Profile: domain.EmotionalProfile{
			Levels:    map[domain.IndicatorKind]float64{domain.ElevatedStress: 0.75},
			UpdatedAt: created,
		},
	}
}

func TestUserRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo, _ := newRepo()
	u := sampleUser("u1", t0)
	if err := repo.WriteUser(ctx, u); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := repo.ReadUser(ctx, "u1")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !reflect.DeepEqual(got, u) {
		t.Fatalf("user changed on round trip:\n got %+v\nwant %+v", got, u)
	}
	if _, err := repo.ReadUser(ctx, "missing"); !errors.Is(err, domain.ErrUserNotFound) {
		t.Fatalf("expected user not found, got %v", err)
	}
}

func TestEnvelopeIsSelfDescribing(t *testing.T) {
	ctx := context.Background()
	repo, store := newRepo()
	if err := repo.WriteUser(ctx, sampleUser("u1", t0)); err != nil {
		t.Fatalf("write: %v", err)
	}
	raw, err := store.Get(ctx, record.KindUser, "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var env map[string]json.RawMessage
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, key := range []string{"kind", "schemaVersion", "id", "writtenAt", "data"} {
		if _, ok := env[key]; !ok {
			t.Fatalf("envelope lacks %q: %s", key, raw)
		}
	}
}

func TestOpenToleratesUnknownFieldsAndRejectsNewerSchema(t *testing.T) {
	doc := []byte(`{"kind":"user","schemaVersion":1,"id":"u1","writtenAt":"2024-04-10T08:00:00Z","extra":true,"data":{"id":"u1","handle":"abc","nickname":"x"}}`)
	var u domain.User
	if _, err := record.Open(record.KindUser, doc, &u); err != nil || u.Handle != "abc" {
		t.Fatalf("unknown fields must be tolerated: %v %+v", err, u)
	}
	newer := []byte(`{"kind":"user","schemaVersion":2,"id":"u1","data":{}}`)
	if _, err := record.Open(record.KindUser, newer, &u); !errors.Is(err, record.ErrUnsupportedSchema) {
		t.Fatalf("expected unsupported schema, got %v", err)
	}
	if _, err := record.Open(record.KindResponse, doc, &u); err == nil {
		t.Fatalf("expected kind mismatch error")
	}
}

func TestListsAreOrderedAndFiltered(t *testing.T) {
	ctx := context.Background()
	repo, _ := newRepo()
	for i, id := range []string{"r3", "r1", "r2"} {
		resp := domain.SurveyResponse{ID: id, UserID: "u1", SurveyID: "s", SubmittedAt: t0.Add(time.Duration(3-i) * time.Minute)}
		if err := repo.WriteResponse(ctx, resp); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := repo.WriteResponse(ctx, domain.SurveyResponse{ID: "other", UserID: "u2", SurveyID: "s", SubmittedAt: t0}); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := repo.ListResponsesByUser(ctx, "u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var ids []string
	for _, r := range got {
		ids = append(ids, r.ID)
	}
	if !reflect.DeepEqual(ids, []string{"r2", "r1", "r3"}) {
		t.Fatalf("expected submission order, got %v", ids)
	}
	if n, _ := repo.Count(ctx, record.KindResponse); n != 4 {
		t.Fatalf("expected 4 responses, got %d", n)
	}
}

func TestDeleteUserCascades(t *testing.T) {
	ctx := context.Background()
	repo, _ := newRepo()
	for _, id := range []string{"u1", "u2"} {
		if err := repo.WriteUser(ctx, sampleUser(id, t0)); err != nil {
			t.Fatalf("write user: %v", err)
		}
		if err := repo.WriteResponse(ctx, domain.SurveyResponse{ID: "r-" + id, UserID: id, SurveyID: "s", SubmittedAt: t0}); err != nil {
			t.Fatalf("write response: %v", err)
		}
		if err := repo.WriteAssessment(ctx, domain.RiskAssessment{ID: "a-" + id, UserID: id, ComputedAt: t0}); err != nil {
			t.Fatalf("write assessment: %v", err)
		}
	}

	if err := repo.DeleteUser(ctx, "u1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := repo.ReadUser(ctx, "u1"); !errors.Is(err, domain.ErrUserNotFound) {
		t.Fatalf("user still present: %v", err)
	}
	if _, err := repo.ReadResponse(ctx, "r-u1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("response not cascaded: %v", err)
	}
	if _, err := repo.ReadAssessment(ctx, "a-u1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("assessment not cascaded: %v", err)
	}
	if _, err := repo.ReadResponse(ctx, "r-u2"); err != nil {
		t.Fatalf("other user's data must survive: %v", err)
	}
	if err := repo.DeleteUser(ctx, "u1"); !errors.Is(err, domain.ErrUserNotFound) {
		t.Fatalf("second delete must report not found, got %v", err)
	}
}

type failingStore struct{ record.Store }

func (failingStore) Put(context.Context, record.Kind, string, []byte) error {
	return errors.New("disk full")
}

func TestWriteFailureIsStorageConsistency(t *testing.T) {
	repo := record.NewRepository(failingStore{memory.NewRecordStore()}, zerolog.Nop())
	err := repo.WriteUser(context.Background(), sampleUser("u1", t0))
	var sc *domain.StorageConsistencyError
	if !errors.As(err, &sc) || sc.Kind != "user" || sc.ID != "u1" {
		t.Fatalf("expected storage consistency error, got %v", err)
	}
}
