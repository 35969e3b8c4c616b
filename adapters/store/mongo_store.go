package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/layer-3/tokenward/core"
	"github.com/layer-3/tokenward/ports"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const (
	mongoSessionsCollection  = "sessions"
	mongoBlacklistCollection = "token_blacklist"
)

// ConnectMongo connects to uri and pings the primary
func ConnectMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect error: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping error: %w", err)
	}
	return client, nil
}

type sessionDocument struct {
	ID                    string    `bson:"_id"`
	Subject               string    `bson:"subject"`
	CurrentRefreshTokenID string    `bson:"current_refresh_token_id"`
	CreatedAt             time.Time `bson:"created_at"`
	LastRotatedAt         time.Time `bson:"last_rotated_at"`
	ExpiresAt             time.Time `bson:"expires_at"`
	RememberMe            bool      `bson:"remember_me"`
	UserAgent             string    `bson:"user_agent,omitempty"`
	IPAddress             string    `bson:"ip_address,omitempty"`
	Platform              string    `bson:"platform,omitempty"`
	DeviceID              string    `bson:"device_id,omitempty"`
	DeviceName            string    `bson:"device_name,omitempty"`
}

func (d sessionDocument) session() *core.Session {
	return &core.Session{
		ID:                    d.ID,
		Subject:               d.Subject,
		CurrentRefreshTokenID: d.CurrentRefreshTokenID,
		CreatedAt:             d.CreatedAt,
		LastRotatedAt:         d.LastRotatedAt,
		ExpiresAt:             d.ExpiresAt,
		RememberMe:            d.RememberMe,
		Client: core.ClientMetadata{
			UserAgent:  d.UserAgent,
			IPAddress:  d.IPAddress,
			Platform:   core.Platform(d.Platform),
			DeviceID:   d.DeviceID,
			DeviceName: d.DeviceName,
		},
	}
}

// MongoSessionStore keeps one document per session. A TTL index on
// expires_at lets MongoDB drop expired sessions on its own.
type MongoSessionStore struct {
	coll *mongo.Collection
	now  Clock
}

var _ ports.SessionStore = (*MongoSessionStore)(nil)

// NewMongoSessionStore creates a session store over db.sessions
func NewMongoSessionStore(db *mongo.Database, now Clock) *MongoSessionStore {
	return &MongoSessionStore{coll: db.Collection(mongoSessionsCollection), now: clockOrNow(now)}
}

// EnsureIndexes creates the subject lookup index and the expiry TTL index
func (s *MongoSessionStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "subject", Value: 1}, {Key: "last_rotated_at", Value: -1}}},
		{Keys: bson.D{{Key: "expires_at", Value: 1}}, Options: options.Index().SetExpireAfterSeconds(0)},
	})
	if err != nil {
		return fmt.Errorf("create session indexes: %w", err)
	}
	return nil
}

func (s *MongoSessionStore) Create(ctx context.Context, subject, refreshTokenID string, ttl time.Duration, opts core.SessionOptions) (string, error) {
	now := s.now()
	doc := sessionDocument{
		ID:                    uuid.NewString(),
		Subject:               subject,
		CurrentRefreshTokenID: refreshTokenID,
		CreatedAt:             now,
		LastRotatedAt:         now,
		ExpiresAt:             now.Add(ttl),
		RememberMe:            opts.RememberMe,
		UserAgent:             opts.Client.UserAgent,
		IPAddress:             opts.Client.IPAddress,
		Platform:              string(opts.Client.Platform),
		DeviceID:              opts.Client.DeviceID,
		DeviceName:            opts.Client.DeviceName,
	}

	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		return "", unavailable("create session", err)
	}
	return doc.ID, nil
}

func (s *MongoSessionStore) Get(ctx context.Context, sessionID string) (*core.Session, error) {
	var doc sessionDocument
	err := s.coll.FindOne(ctx, s.liveFilter(sessionID)).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, core.ErrNotFound
		}
		return nil, unavailable("get session", err)
	}
	return doc.session(), nil
}

func (s *MongoSessionStore) Rotate(ctx context.Context, sessionID, expectedRefreshTokenID, newRefreshTokenID string, extendTo time.Time) (*core.Session, error) {
	now := s.now()
	filter := s.liveFilter(sessionID)
	filter = append(filter, bson.E{Key: "current_refresh_token_id", Value: expectedRefreshTokenID})

	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "current_refresh_token_id", Value: newRefreshTokenID},
		{Key: "last_rotated_at", Value: now},
	}}}
	if !extendTo.IsZero() {
		update = append(update, bson.E{Key: "$max", Value: bson.D{{Key: "expires_at", Value: extendTo}}})
	}

	var doc sessionDocument
	err := s.coll.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err == nil {
		return doc.session(), nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, unavailable("rotate session", err)
	}

	err = s.coll.FindOne(ctx, s.liveFilter(sessionID)).Err()
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		return nil, core.ErrNotFound
	case err != nil:
		return nil, unavailable("rotate session", err)
	default:
		return nil, core.ErrConflict
	}
}

func (s *MongoSessionStore) Revoke(ctx context.Context, sessionID string) error {
	res, err := s.coll.DeleteOne(ctx, bson.D{{Key: "_id", Value: sessionID}})
	if err != nil {
		return unavailable("revoke session", err)
	}
	if res.DeletedCount == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (s *MongoSessionStore) ListBySubject(ctx context.Context, subject string) ([]core.Session, error) {
	filter := bson.D{
		{Key: "subject", Value: subject},
		{Key: "expires_at", Value: bson.D{{Key: "$gt", Value: s.now()}}},
	}
	cursor, err := s.coll.Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "last_rotated_at", Value: -1}, {Key: "_id", Value: 1}}),
	)
	if err != nil {
		return nil, unavailable("list sessions", err)
	}

	var docs []sessionDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, unavailable("list sessions", err)
	}

	out := make([]core.Session, 0, len(docs))
	for _, doc := range docs {
		out = append(out, *doc.session())
	}
	return out, nil
}

// PurgeExpired removes what the TTL monitor has not collected yet
func (s *MongoSessionStore) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := s.coll.DeleteMany(ctx, bson.D{{Key: "expires_at", Value: bson.D{{Key: "$lte", Value: now}}}})
	if err != nil {
		return 0, unavailable("purge sessions", err)
	}
	return int(res.DeletedCount), nil
}

func (s *MongoSessionStore) liveFilter(sessionID string) bson.D {
	return bson.D{
		{Key: "_id", Value: sessionID},
		{Key: "expires_at", Value: bson.D{{Key: "$gt", Value: s.now()}}},
	}
}

// MongoBlacklistStore keeps one document per revoked token id
type MongoBlacklistStore struct {
	coll *mongo.Collection
	now  Clock
}

var _ ports.BlacklistStore = (*MongoBlacklistStore)(nil)

// NewMongoBlacklistStore creates a blacklist over db.token_blacklist
func NewMongoBlacklistStore(db *mongo.Database, now Clock) *MongoBlacklistStore {
	return &MongoBlacklistStore{coll: db.Collection(mongoBlacklistCollection), now: clockOrNow(now)}
}

// EnsureIndexes creates the expiry TTL index
func (s *MongoBlacklistStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "expires_at", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0),
	})
	if err != nil {
		return fmt.Errorf("create blacklist index: %w", err)
	}
	return nil
}

func (s *MongoBlacklistStore) Add(ctx context.Context, tokenID string, expiresAt time.Time) error {
	filter := bson.D{{Key: "_id", Value: tokenID}}
	update := bson.D{{Key: "$max", Value: bson.D{{Key: "expires_at", Value: expiresAt}}}}
	opts := options.UpdateOne().SetUpsert(true)

	_, err := s.coll.UpdateOne(ctx, filter, update, opts)
	if mongo.IsDuplicateKeyError(err) {
		// Lost an upsert race, the document exists now
		_, err = s.coll.UpdateOne(ctx, filter, update)
	}
	if err != nil {
		return unavailable("blacklist token", err)
	}
	return nil
}

func (s *MongoBlacklistStore) Contains(ctx context.Context, tokenID string) (bool, error) {
	filter := bson.D{
		{Key: "_id", Value: tokenID},
		{Key: "expires_at", Value: bson.D{{Key: "$gt", Value: s.now()}}},
	}
	n, err := s.coll.CountDocuments(ctx, filter, options.Count().SetLimit(1))
	if err != nil {
		return false, unavailable("check blacklist", err)
	}
	return n > 0, nil
}

func (s *MongoBlacklistStore) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := s.coll.DeleteMany(ctx, bson.D{{Key: "expires_at", Value: bson.D{{Key: "$lte", Value: now}}}})
	if err != nil {
		return 0, unavailable("purge blacklist", err)
	}
	return int(res.DeletedCount), nil
}
