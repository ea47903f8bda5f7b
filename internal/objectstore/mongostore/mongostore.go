// Package mongostore keeps objects as documents keyed by "bucket/key".
package mongostore

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/aridsondez/sqs-redrive/internal/objectstore"
)

var _ objectstore.Store = (*Store)(nil)

const collectionName = "objects"

type document struct {
	ID          string    `bson:"_id"`
	Bucket      string    `bson:"bucket"`
	Key         string    `bson:"key"`
	ContentType string    `bson:"content_type"`
	Body        []byte    `bson:"body"`
	UpdatedAt   time.Time `bson:"updated_at"`
}

type Store struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// Connect dials mongoURI and verifies the connection.
func Connect(ctx context.Context, mongoURI, database string) (*Store, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(mongoURI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return &Store{
		client: client,
		coll:   client.Database(database).Collection(collectionName),
	}, nil
}

func (s *Store) PutObject(ctx context.Context, bucket, key string, body []byte, contentType string) error {
	id := objectstore.Path(bucket, key)
	doc := document{
		ID:          id,
		Bucket:      bucket,
		Key:         key,
		ContentType: contentType,
		Body:        body,
		UpdatedAt:   time.Now().UTC(),
	}

	_, err := s.coll.ReplaceOne(ctx, bson.M{"_id": id}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to store object %s: %w", id, err)
	}
	return nil
}

// Get returns a stored object.
func (s *Store) Get(ctx context.Context, bucket, key string) (objectstore.Object, error) {
	var doc document
	if err := s.coll.FindOne(ctx, bson.M{"_id": objectstore.Path(bucket, key)}).Decode(&doc); err != nil {
		return objectstore.Object{}, err
	}
	return objectstore.Object{Body: doc.Body, ContentType: doc.ContentType}, nil
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
