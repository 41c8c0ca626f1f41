// Package legacy writes promoted questions into the MongoDB collection read
// by the legacy product. Documents are keyed by an integer _id and carry the
// current-store id as sourceId.
package legacy

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/quizforge/backend/internal/apperr"
	"github.com/quizforge/backend/internal/logger"
	"github.com/quizforge/backend/internal/models"
)

// Connect opens a client and pings the server.
func Connect(ctx context.Context, uri string, connectTimeout time.Duration, maxPoolSize uint64, log *logger.Logger) (*mongo.Client, error) {
	if uri == "" {
		return nil, fmt.Errorf("legacy store connection URI is empty")
	}

	clientOptions := options.Client().ApplyURI(uri).
		SetMaxPoolSize(maxPoolSize).
		SetConnectTimeout(connectTimeout).
		SetSocketTimeout(10 * time.Second)

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	pingCtx, cancelPing := context.WithTimeout(ctx, 2*time.Second)
	defer cancelPing()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	log.Info("connected to legacy store")
	return client, nil
}

type Store struct {
	coll *mongo.Collection
}

func NewStore(client *mongo.Client, database, collection string) *Store {
	return &Store{coll: client.Database(database).Collection(collection)}
}

// EnsureIndexes makes sourceId unique among documents that have one.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "sourceId", Value: 1}},
		Options: options.Index().SetUnique(true).SetSparse(true).SetName("uniq_source_id"),
	})
	if err != nil {
		return fmt.Errorf("create legacy indexes: %w", err)
	}
	return nil
}

// FindMaxKey returns the largest _id in the collection, or 0 when empty.
func (s *Store) FindMaxKey(ctx context.Context) (int64, error) {
	var doc struct {
		ID int64 `bson:"_id"`
	}
	opts := options.FindOne().SetSort(bson.D{{Key: "_id", Value: -1}}).SetProjection(bson.M{"_id": 1})
	err := s.coll.FindOne(ctx, bson.M{}, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("find max legacy key: %w", err)
	}
	return doc.ID, nil
}

// FindKeyBySource returns the key of the document promoted from sourceID.
func (s *Store) FindKeyBySource(ctx context.Context, sourceID string) (int64, bool, error) {
	var doc struct {
		ID int64 `bson:"_id"`
	}
	opts := options.FindOne().SetProjection(bson.M{"_id": 1})
	err := s.coll.FindOne(ctx, bson.M{"sourceId": sourceID}, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("find legacy key of %s: %w", sourceID, err)
	}
	return doc.ID, true, nil
}

// Upsert writes the full document under key. A key held by a document with
// a different sourceId is a conflict and is left untouched.
func (s *Store) Upsert(ctx context.Context, key int64, doc models.LegacyQuestion) error {
	doc.ID = key
	filter := bson.M{"_id": key, "sourceId": doc.SourceID}
	_, err := s.coll.ReplaceOne(ctx, filter, doc, options.Replace().SetUpsert(true))
	if mongo.IsDuplicateKeyError(err) {
		return apperr.Conflict("legacy_upsert", strconv.FormatInt(key, 10),
			fmt.Sprintf("legacy key %d is held by another question", key))
	}
	if err != nil {
		return fmt.Errorf("upsert legacy %d: %w", key, err)
	}
	return nil
}

// Get loads the document stored under key.
func (s *Store) Get(ctx context.Context, key int64) (*models.LegacyQuestion, error) {
	var doc models.LegacyQuestion
	err := s.coll.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperr.NotFound("legacy_get", strconv.FormatInt(key, 10))
	}
	if err != nil {
		return nil, fmt.Errorf("get legacy %d: %w", key, err)
	}
	return &doc, nil
}
