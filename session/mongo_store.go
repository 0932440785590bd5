package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/snehaltandel/process-map-agent/coach"
	"github.com/snehaltandel/process-map-agent/config"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongoopts "go.mongodb.org/mongo-driver/v2/mongo/options"
)

// mongoDocument is one session; state holds the coach.State JSON text.
type mongoDocument struct {
	ID        string     `bson:"_id"`
	State     string     `bson:"state"`
	CreatedAt time.Time  `bson:"created_at"`
	UpdatedAt time.Time  `bson:"updated_at"`
	ExpiresAt *time.Time `bson:"expires_at,omitempty"`
}

// MongoStore keeps sessions in a MongoDB collection.
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
	opts       options
}

// DialMongo connects using the mongo config section and ensures the expiry index.
func DialMongo(ctx context.Context, cfg config.MongoConfig, opts ...Option) (*MongoStore, error) {
	if cfg.URI == "" {
		return nil, errors.New("session: mongo uri is required")
	}
	clientOpts := mongoopts.Client().ApplyURI(cfg.URI)
	if cfg.ConnectTimeout > 0 {
		clientOpts.SetConnectTimeout(cfg.ConnectTimeout)
	}
	client, err := mongo.Connect(clientOpts)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	store := NewMongoStore(client, client.Database(cfg.Database).Collection(cfg.Collection), opts...)
	if err := store.ensureIndexes(ctx); err != nil {
		client.Disconnect(context.Background())
		return nil, err
	}
	return store, nil
}

// NewMongoStore wraps an existing collection
func NewMongoStore(client *mongo.Client, collection *mongo.Collection, opts ...Option) *MongoStore {
	return &MongoStore{client: client, collection: collection, opts: buildOptions(opts)}
}

// ensureIndexes adds a TTL index so the server removes expired sessions.
func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "expires_at", Value: 1}},
		Options: mongoopts.Index().SetExpireAfterSeconds(0).SetName("expires_at_ttl"),
	})
	if err != nil {
		return fmt.Errorf("create mongo ttl index: %w", err)
	}
	return nil
}

// liveFilter matches unexpired documents, optionally by id
func (s *MongoStore) liveFilter(id string) bson.M {
	filter := bson.M{
		"$or": bson.A{
			bson.M{"expires_at": bson.M{"$exists": false}},
			bson.M{"expires_at": nil},
			bson.M{"expires_at": bson.M{"$gt": s.opts.now()}},
		},
	}
	if id != "" {
		filter["_id"] = id
	}
	return filter
}

// newDocument builds the stored form of a session
func (s *MongoStore) newDocument(id string, state *coach.State) (*mongoDocument, error) {
	data, err := encodeState(state)
	if err != nil {
		return nil, err
	}
	now := s.opts.now()
	return &mongoDocument{
		ID:        id,
		State:     string(data),
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: s.opts.expiry(now),
	}, nil
}

// Load implements Store
func (s *MongoStore) Load(ctx context.Context, id string) (*coach.State, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	var doc mongoDocument
	err := s.collection.FindOne(ctx, s.liveFilter(id)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeState([]byte(doc.State))
}

// Save implements Store; created_at is only written on insert.
func (s *MongoStore) Save(ctx context.Context, id string, state *coach.State) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	doc, err := s.newDocument(id, state)
	if err != nil {
		return err
	}
	set := bson.M{"state": doc.State, "updated_at": doc.UpdatedAt}
	update := bson.M{
		"$set":         set,
		"$setOnInsert": bson.M{"created_at": doc.CreatedAt},
	}
	if doc.ExpiresAt != nil {
		set["expires_at"] = *doc.ExpiresAt
	} else {
		update["$unset"] = bson.M{"expires_at": ""}
	}
	_, err = s.collection.UpdateOne(ctx, bson.M{"_id": id}, update, mongoopts.UpdateOne().SetUpsert(true))
	return err
}

// Delete implements Store
func (s *MongoStore) Delete(ctx context.Context, id string) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	res, err := s.collection.DeleteOne(ctx, s.liveFilter(id))
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// List implements Store
func (s *MongoStore) List(ctx context.Context) ([]string, error) {
	cursor, err := s.collection.Find(ctx, s.liveFilter(""),
		mongoopts.Find().SetProjection(bson.M{"_id": 1}).SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	ids := []string{}
	for cursor.Next(ctx) {
		var doc struct {
			ID string `bson:"_id"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		ids = append(ids, doc.ID)
	}
	return ids, cursor.Err()
}

// Ping implements Store
func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close implements Store
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
