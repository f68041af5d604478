package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ErlanBelekov/email-login/internal/tokenstore"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const DefaultCollectionName = "login_tokens"

// tokenDoc is one stored intent. The TTL index on exp lets the server drop
// expired documents; reads still filter on exp because the TTL monitor only
// runs about once a minute.
type tokenDoc struct {
	Key     string    `bson:"_id"`
	Value   []byte    `bson:"v"`
	Expires time.Time `bson:"exp"`
	Created time.Time `bson:"c"`
}

func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return client, nil
}

type TokenStore struct {
	coll *mongo.Collection
	now  func() time.Time
}

// NewTokenStore uses coll and makes sure its TTL index exists.
func NewTokenStore(ctx context.Context, coll *mongo.Collection) (*TokenStore, error) {
	_, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "exp", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0),
	})
	if err != nil {
		return nil, fmt.Errorf("create ttl index: %w", err)
	}
	return &TokenStore{coll: coll, now: time.Now}, nil
}

func (s *TokenStore) Put(ctx context.Context, key string, value []byte, expiresAt time.Time) error {
	doc := tokenDoc{Key: key, Value: value, Expires: expiresAt, Created: s.now()}
	_, err := s.coll.ReplaceOne(ctx, bson.M{"_id": key}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("mongo token store: put: %w", err)
	}
	return nil
}

func (s *TokenStore) Get(ctx context.Context, key string) ([]byte, error) {
	var doc tokenDoc
	err := s.coll.FindOne(ctx, s.live(key)).Decode(&doc)
	return doc.Value, notFound(err, "get")
}

// Take uses FindOneAndDelete, which is atomic per document.
func (s *TokenStore) Take(ctx context.Context, key string) ([]byte, error) {
	var doc tokenDoc
	err := s.coll.FindOneAndDelete(ctx, s.live(key)).Decode(&doc)
	return doc.Value, notFound(err, "take")
}

func (s *TokenStore) Delete(ctx context.Context, key string) error {
	if _, err := s.coll.DeleteOne(ctx, bson.M{"_id": key}); err != nil {
		return fmt.Errorf("mongo token store: delete: %w", err)
	}
	return nil
}

func (s *TokenStore) Ping(ctx context.Context) error {
	return s.coll.Database().Client().Ping(ctx, readpref.Primary())
}

func (s *TokenStore) live(key string) bson.M {
	return bson.M{"_id": key, "exp": bson.M{"$gt": s.now()}}
}

func notFound(err error, op string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return tokenstore.ErrNotFound
	default:
		return fmt.Errorf("mongo token store: %s: %w", op, err)
	}
}
