// Package redisstore keeps each object in a hash at "bucket/key" holding
// the body and its content type.
package redisstore

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/aridsondez/sqs-redrive/internal/objectstore"
)

var _ objectstore.Store = (*Store)(nil)

const (
	fieldBody        = "body"
	fieldContentType = "content_type"
)

type Store struct {
	client redis.UniversalClient
}

func New(client redis.UniversalClient) *Store {
	return &Store{client: client}
}

// Connect parses redisURL and pings the server.
func Connect(ctx context.Context, redisURL string) (*Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return New(client), nil
}

func (s *Store) PutObject(ctx context.Context, bucket, key string, body []byte, contentType string) error {
	path := objectstore.Path(bucket, key)
	if err := s.client.HSet(ctx, path, fieldBody, body, fieldContentType, contentType).Err(); err != nil {
		return fmt.Errorf("failed to store object %s: %w", path, err)
	}
	return nil
}

// Get returns a stored object, or redis.Nil when it does not exist.
func (s *Store) Get(ctx context.Context, bucket, key string) (objectstore.Object, error) {
	vals, err := s.client.HGetAll(ctx, objectstore.Path(bucket, key)).Result()
	if err != nil {
		return objectstore.Object{}, err
	}
	if len(vals) == 0 {
		return objectstore.Object{}, redis.Nil
	}
	return objectstore.Object{
		Body:        []byte(vals[fieldBody]),
		ContentType: vals[fieldContentType],
	}, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}
