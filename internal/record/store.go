// Package record persists users, responses and assessments as self-describing JSON
// documents on top of a pluggable byte store.
package record

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Kind names a record collection.
type Kind string

const (
	KindUser       Kind = "user"
	KindResponse   Kind = "response"
	KindAssessment Kind = "assessment"
)

// Kinds lists every collection in dependency order.
var Kinds = []Kind{KindUser, KindResponse, KindAssessment}

// SchemaVersion is written into every envelope.
const SchemaVersion = 1

// ErrUnsupportedSchema is returned for envelopes written by a newer schema.
var ErrUnsupportedSchema = errors.New("unsupported record schema version")

// Store is the byte-level contract every backend implements.
//
// Put replaces the record atomically: a concurrent Get sees either the old or the new
// document, never a partial one. Backends serialize writers per id. Get returns an error
// matching domain.ErrNotFound when the record is absent. Delete of a missing record is a
// no-op. Init is idempotent.
type Store interface {
	Init(ctx context.Context) error
	Put(ctx context.Context, kind Kind, id string, data []byte) error
	Get(ctx context.Context, kind Kind, id string) ([]byte, error)
	Scan(ctx context.Context, kind Kind, fn func(id string, data []byte) error) error
	Delete(ctx context.Context, kind Kind, id string) error
}

// Envelope wraps every stored document. Unknown fields are ignored on read.
type Envelope struct {
	Kind          Kind            `json:"kind"`
	SchemaVersion int             `json:"schemaVersion"`
	ID            string          `json:"id"`
	WrittenAt     time.Time       `json:"writtenAt"`
	Data          json.RawMessage `json:"data"`
}

// Seal encodes v into an envelope document.
func Seal(kind Kind, id string, writtenAt time.Time, v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s %s: %w", kind, id, err)
	}
	return json.Marshal(Envelope{
		Kind:          kind,
		SchemaVersion: SchemaVersion,
		ID:            id,
		WrittenAt:     writtenAt.UTC(),
		Data:          data,
	})
}

// Open decodes an envelope document into v, checking kind and version.
func Open(kind Kind, raw []byte, v any) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode %s envelope: %w", kind, err)
	}
	if env.Kind != kind {
		return Envelope{}, fmt.Errorf("decode envelope: expected kind %s, got %q", kind, env.Kind)
	}
	if env.SchemaVersion > SchemaVersion || env.SchemaVersion < 1 {
		return Envelope{}, fmt.Errorf("%w: %s %s has version %d", ErrUnsupportedSchema, kind, env.ID, env.SchemaVersion)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return Envelope{}, fmt.Errorf("decode %s %s: %w", kind, env.ID, err)
	}
	return env, nil
}
