// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package docstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/AleutianAI/AleutianVault/pkg/validation"
	"github.com/AleutianAI/AleutianVault/services/reconciler/datatypes"
)

// =============================================================================
// Configuration
// =============================================================================

// MongoConfig configures a MongoStore.
type MongoConfig struct {
	// URI is a standard MongoDB connection string.
	URI string `yaml:"uri" toml:"uri" validate:"required"`

	// Database holds every collection the reconciler reads.
	Database string `yaml:"database" toml:"database" validate:"required"`

	// ConnectTimeout bounds the initial connect and ping.
	ConnectTimeout time.Duration `yaml:"connect_timeout" toml:"connect_timeout" validate:"gt=0"`

	// SubCollectionSeparator joins parent and child names for nested
	// collections. "users" + "__" + "biometric_vectors" is the physical
	// collection holding users/{id}/biometric_vectors.
	SubCollectionSeparator string `yaml:"sub_collection_separator" toml:"sub_collection_separator"`

	// ParentField is the field in a nested document holding the parent id.
	ParentField string `yaml:"parent_field" toml:"parent_field"`
}

// DefaultMongoConfig returns defaults for a local deployment.
func DefaultMongoConfig() MongoConfig {
	return MongoConfig{
		URI:                    "mongodb://localhost:27017",
		Database:               "vault",
		ConnectTimeout:         10 * time.Second,
		SubCollectionSeparator: "__",
		ParentField:            "_parentId",
	}
}

// =============================================================================
// MongoStore
// =============================================================================

// MongoStore is a Store backed by MongoDB.
//
// # Description
//
// Document primary keys live in "_id" and may be strings or ObjectIDs.
// Lookups by id match both forms, and results are normalised so "_id"
// becomes a string "id" field and BSON datetimes become time.Time in UTC.
//
// # Thread Safety
//
// Safe for concurrent use. The driver pools connections internally.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
	config MongoConfig
	logger *slog.Logger
}

// OpenMongo connects to MongoDB and verifies the connection with a ping.
//
// # Inputs
//
//   - ctx: Bounds the connect and ping together with ConnectTimeout.
//   - config: Connection settings. Empty fields take DefaultMongoConfig values.
//   - logger: Destination for connection logs. Nil uses slog.Default().
//
// # Outputs
//
//   - *MongoStore: Ready to use. Caller must Close it.
//   - error: Non-nil if the deployment is unreachable.
func OpenMongo(ctx context.Context, config MongoConfig, logger *slog.Logger) (*MongoStore, error) {
	defaults := DefaultMongoConfig()
	if config.URI == "" {
		config.URI = defaults.URI
	}
	if config.Database == "" {
		config.Database = defaults.Database
	}
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = defaults.ConnectTimeout
	}
	if config.SubCollectionSeparator == "" {
		config.SubCollectionSeparator = defaults.SubCollectionSeparator
	}
	if config.ParentField == "" {
		config.ParentField = defaults.ParentField
	}
	if logger == nil {
		logger = slog.Default()
	}

	connectCtx, cancel := context.WithTimeout(ctx, config.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(config.URI))
	if err != nil {
		return nil, fmt.Errorf("connecting to mongodb: %w", err)
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("pinging mongodb: %w", err)
	}

	logger.Info("Connected to document store", "database", config.Database)

	return &MongoStore{
		client: client,
		db:     client.Database(config.Database),
		config: config,
		logger: logger,
	}, nil
}

// Get implements Store.
func (s *MongoStore) Get(ctx context.Context, collection, id string) (datatypes.Document, error) {
	if err := validation.ValidateCollectionName(collection); err != nil {
		return nil, err
	}

	var raw bson.M
	err := s.db.Collection(collection).FindOne(ctx, bson.M{"_id": idFilter(id)}).Decode(&raw)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	return normalize(raw), nil
}

// Query implements Store.
func (s *MongoStore) Query(ctx context.Context, collection, field string, value any) ([]datatypes.Document, error) {
	if err := validation.ValidateCollectionName(collection); err != nil {
		return nil, err
	}
	if err := validation.ValidateFieldName(field); err != nil {
		return nil, err
	}

	filter := bson.M{field: value}
	if str, ok := value.(string); ok {
		filter = bson.M{field: idFilter(str)}
	}
	return s.find(ctx, collection, filter)
}

// ListIDs implements Store.
func (s *MongoStore) ListIDs(ctx context.Context, collection string) ([]string, error) {
	if err := validation.ValidateCollectionName(collection); err != nil {
		return nil, err
	}

	opts := options.Find().
		SetProjection(bson.M{"_id": 1}).
		SetSort(bson.D{{Key: "_id", Value: 1}})
	cursor, err := s.db.Collection(collection).Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", collection, err)
	}
	defer cursor.Close(ctx)

	var ids []string
	for cursor.Next(ctx) {
		var row struct {
			ID any `bson:"_id"`
		}
		if err := cursor.Decode(&row); err != nil {
			return nil, fmt.Errorf("decode %s id: %w", collection, err)
		}
		ids = append(ids, idString(row.ID))
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("list %s: %w", collection, err)
	}
	return ids, nil
}

// ListSub implements Store.
func (s *MongoStore) ListSub(ctx context.Context, parent, parentID, sub string) ([]datatypes.Document, error) {
	physical := parent + s.config.SubCollectionSeparator + sub
	if err := validation.ValidateCollectionName(physical); err != nil {
		return nil, err
	}
	return s.find(ctx, physical, bson.M{s.config.ParentField: idFilter(parentID)})
}

// Close implements Store.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) find(ctx context.Context, collection string, filter bson.M) ([]datatypes.Document, error) {
	cursor, err := s.db.Collection(collection).Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}
	defer cursor.Close(ctx)

	var rows []bson.M
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("decode %s: %w", collection, err)
	}

	docs := make([]datatypes.Document, 0, len(rows))
	for _, row := range rows {
		docs = append(docs, normalize(row))
	}
	return docs, nil
}

// =============================================================================
// Normalisation
// =============================================================================

// idFilter matches id as a string and, when it is valid hex, as an ObjectID.
func idFilter(id string) any {
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		return bson.M{"$in": bson.A{id, oid}}
	}
	return id
}

func idString(v any) string {
	switch id := v.(type) {
	case primitive.ObjectID:
		return id.Hex()
	case string:
		return id
	default:
		return fmt.Sprint(id)
	}
}

// normalize converts a raw BSON document into a driver-free Document.
// normalize converts driver types and moves _id to IDField. A document that
// carries a different "id" of its own keeps it under SourceIDField; the
// store key always wins.
func normalize(raw bson.M) datatypes.Document {
	doc := make(datatypes.Document, len(raw))
	for k, v := range raw {
		if k == "_id" || k == datatypes.IDField {
			continue
		}
		doc[k] = normalizeValue(v)
	}

	key, hasKey := raw["_id"]
	if hasKey {
		doc[datatypes.IDField] = idString(key)
	}
	if own, ok := raw[datatypes.IDField]; ok {
		own = normalizeValue(own)
		switch s, isString := own.(string); {
		case !hasKey:
			doc[datatypes.IDField] = own
		case !isString || s != doc.ID():
			doc[datatypes.SourceIDField] = own
		}
	}
	return doc
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case primitive.DateTime:
		return val.Time().UTC()
	case primitive.Timestamp:
		return time.Unix(int64(val.T), 0).UTC()
	case primitive.ObjectID:
		return val.Hex()
	case primitive.Decimal128:
		return val.String()
	case bson.M:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = normalizeValue(inner)
		}
		return out
	case bson.D:
		out := make(map[string]any, len(val))
		for _, e := range val {
			out[e.Key] = normalizeValue(e.Value)
		}
		return out
	case bson.A:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = normalizeValue(inner)
		}
		return out
	default:
		return v
	}
}
