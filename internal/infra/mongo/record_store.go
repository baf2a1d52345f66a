// Package mongo stores records as documents in a MongoDB collection.
package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"wellbeing-survey-service/internal/domain"
	"wellbeing-survey-service/internal/record"
)

const collectionName = "records"

type recordDocument struct {
	Key  string   `bson:"_id"`
	Kind string   `bson:"kind"`
	ID   string   `bson:"id"`
	Data bson.Raw `bson:"data"`
}

// RecordStore keeps one document per record, keyed by "{kind}:{id}". The envelope is
// stored as a nested document so records stay queryable from the mongo shell.
type RecordStore struct {
	coll *mongo.Collection
}

func NewRecordStore(db *mongo.Database) *RecordStore {
	return &RecordStore{coll: db.Collection(collectionName)}
}

// Init creates the kind index used by Scan. Creating an existing index is a no-op.
func (s *RecordStore) Init(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "kind", Value: 1}, {Key: "id", Value: 1}},
		Options: options.Index().SetName("kind_id"),
	})
	if err != nil {
		return fmt.Errorf("init records collection: %w", err)
	}
	return nil
}

func (s *RecordStore) Put(ctx context.Context, kind record.Kind, id string, data []byte) error {
	var payload bson.Raw
	if err := bson.UnmarshalExtJSON(data, false, &payload); err != nil {
		return fmt.Errorf("convert %s %s to bson: %w", kind, id, err)
	}
	doc := recordDocument{Key: s.key(kind, id), Kind: string(kind), ID: id, Data: payload}
	opts := options.Replace().SetUpsert(true)

	_, err := s.coll.ReplaceOne(ctx, bson.M{"_id": doc.Key}, doc, opts)
	if mongo.IsDuplicateKeyError(err) {
		// two upserts raced to insert the same key; the retry updates
		_, err = s.coll.ReplaceOne(ctx, bson.M{"_id": doc.Key}, doc, opts)
	}
	return err
}

func (s *RecordStore) Get(ctx context.Context, kind record.Kind, id string) ([]byte, error) {
	var doc recordDocument
	err := s.coll.FindOne(ctx, bson.M{"_id": s.key(kind, id)}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%s %s: %w", kind, id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return bson.MarshalExtJSON(doc.Data, false, false)
}

func (s *RecordStore) Scan(ctx context.Context, kind record.Kind, fn func(id string, data []byte) error) error {
	cur, err := s.coll.Find(ctx, bson.M{"kind": string(kind)}, options.Find().SetSort(bson.D{{Key: "id", Value: 1}}))
	if err != nil {
		return err
	}
	defer cur.Close(ctx)
	for cur.Next(ctx) {
		var doc recordDocument
		if err := cur.Decode(&doc); err != nil {
			return err
		}
		data, err := bson.MarshalExtJSON(doc.Data, false, false)
		if err != nil {
			return err
		}
		if err := fn(doc.ID, data); err != nil {
			return err
		}
	}
	return cur.Err()
}

func (s *RecordStore) Delete(ctx context.Context, kind record.Kind, id string) error {
	_, err := s.coll.DeleteOne(ctx, bson.M{"_id": s.key(kind, id)})
	return err
}

func (s *RecordStore) key(kind record.Kind, id string) string {
	return string(kind) + ":" + id
}
