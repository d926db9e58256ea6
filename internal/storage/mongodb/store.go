// Package mongodb persists distribution cursors and documents in MongoDB.
//
// One cursor document per company lives in the cursors collection, keyed by
// tax ID. Documents are unique per (tax_id, nsu).
package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/sirosfoundation/go-dfe/internal/storage"
)

// Store is the MongoDB storage.Store
type Store struct {
	client *mongo.Client
	db     *mongo.Database

	cursors   *mongo.Collection
	documents *mongo.Collection
}

var _ storage.Store = (*Store)(nil)

// Config names the deployment and database
type Config struct {
	URI      string
	Database string
}

// NewStore connects, pings and ensures the document indexes
func NewStore(ctx context.Context, cfg *Config) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connecting to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("pinging MongoDB: %w", err)
	}

	db := client.Database(cfg.Database)

	s := &Store{
		client:    client,
		db:        db,
		cursors:   db.Collection("cursors"),
		documents: db.Collection("documents"),
	}

	if err := s.createIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("creating indexes: %w", err)
	}

	return s, nil
}

func (s *Store) createIndexes(ctx context.Context) error {
	_, err := s.documents.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "tax_id", Value: 1}, {Key: "nsu", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "tax_id", Value: 1}, {Key: "kind", Value: 1}, {Key: "nsu", Value: 1}}},
		{Keys: bson.D{{Key: "access_key", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("creating document indexes: %w", err)
	}
	return nil
}

// Close disconnects from MongoDB
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Ping checks database connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Cursor operations

func (s *Store) GetCursor(ctx context.Context, taxID string) (*storage.Cursor, error) {
	var cursor storage.Cursor
	err := s.cursors.FindOne(ctx, bson.M{"_id": taxID}).Decode(&cursor)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cursor, nil
}

func (s *Store) SaveCursor(ctx context.Context, cursor *storage.Cursor) error {
	if cursor.UpdatedAt.IsZero() {
		cursor.UpdatedAt = time.Now().UTC()
	}
	update := bson.M{
		"$max": bson.M{"last_nsu": cursor.LastNSU},
		"$set": bson.M{
			"max_nsu":     cursor.MaxNSU,
			"updated_at":  cursor.UpdatedAt,
			"last_status": cursor.LastStatus,
			"last_reason": cursor.LastReason,
		},
	}
	_, err := s.cursors.UpdateOne(ctx, bson.M{"_id": cursor.TaxID}, update, options.Update().SetUpsert(true))
	return err
}

func (s *Store) ListCursors(ctx context.Context) ([]*storage.Cursor, error) {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	cur, err := s.cursors.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	cursors := []*storage.Cursor{}
	if err := cur.All(ctx, &cursors); err != nil {
		return nil, err
	}
	return cursors, nil
}

// Document operations

func (s *Store) SaveDocuments(ctx context.Context, docs []*storage.Document) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}

	models := make([]mongo.WriteModel, 0, len(docs))
	for _, d := range docs {
		if d.ID == "" {
			d.ID = storage.DocumentID(d.TaxID, d.NSU)
		}
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": d.ID}).
			SetReplacement(d).
			SetUpsert(true))
	}

	res, err := s.documents.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(true))
	if err != nil {
		return 0, fmt.Errorf("writing documents: %w", err)
	}
	return int(res.UpsertedCount), nil
}

func (s *Store) GetDocument(ctx context.Context, taxID string, nsu uint64) (*storage.Document, error) {
	var doc storage.Document
	err := s.documents.FindOne(ctx, bson.M{"_id": storage.DocumentID(taxID, nsu)}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (s *Store) ListDocuments(ctx context.Context, taxID string, filter *storage.DocumentFilter) ([]*storage.Document, error) {
	opts := options.Find().SetSort(bson.D{{Key: "nsu", Value: 1}})
	if filter != nil {
		if filter.Limit > 0 {
			opts.SetLimit(int64(filter.Limit))
		}
		if filter.Offset > 0 {
			opts.SetSkip(int64(filter.Offset))
		}
	}

	cur, err := s.documents.Find(ctx, documentQuery(taxID, filter), opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	docs := []*storage.Document{}
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

func (s *Store) CountDocuments(ctx context.Context, taxID string, filter *storage.DocumentFilter) (int64, error) {
	return s.documents.CountDocuments(ctx, documentQuery(taxID, filter))
}

func documentQuery(taxID string, filter *storage.DocumentFilter) bson.M {
	query := bson.M{"tax_id": taxID}
	if filter != nil {
		if filter.Kind != "" {
			query["kind"] = filter.Kind
		}
		if filter.AccessKey != "" {
			query["access_key"] = filter.AccessKey
		}
		if filter.AfterNSU > 0 {
			query["nsu"] = bson.M{"$gt": filter.AfterNSU}
		}
	}
	return query
}
