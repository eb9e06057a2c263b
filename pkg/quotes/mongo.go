package quotes

import (
	"context"
	"io"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/matzehuels/quotecard/pkg/errors"
)

// Mongo defaults.
const (
	DefaultDatabase   = "quotecard"
	DefaultCollection = "quotes"
)

// MongoOptions configures a MongoSource.
type MongoOptions struct {
	URI        string
	Database   string
	Collection string
	Timeout    time.Duration // connect and per-call timeout, default 10s
	Logger     *log.Logger
}

// MongoSource reads quotes from a MongoDB collection keyed by slug.
type MongoSource struct {
	client  *mongo.Client
	coll    *mongo.Collection
	timeout time.Duration
	logger  *log.Logger
}

// NewMongoSource connects, pings the primary and ensures a unique index on
// slug.
func NewMongoSource(ctx context.Context, opts MongoOptions) (*MongoSource, error) {
	if opts.URI == "" {
		return nil, errors.New(errors.ErrCodeInvalidInput, "mongo URI is required")
	}
	if opts.Database == "" {
		opts.Database = DefaultDatabase
	}
	if opts.Collection == "" {
		opts.Collection = DefaultCollection
	}
	if opts.Timeout == 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = log.NewWithOptions(io.Discard, log.Options{})
	}

	client, err := mongo.Connect(ctx, options.Client().
		ApplyURI(opts.URI).
		SetConnectTimeout(opts.Timeout).
		SetServerSelectionTimeout(opts.Timeout))
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "connect to mongo")
	}

	s := &MongoSource{
		client:  client,
		coll:    client.Database(opts.Database).Collection(opts.Collection),
		timeout: opts.Timeout,
		logger:  opts.Logger,
	}

	pingCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "ping mongo")
	}
	if _, err := s.coll.Indexes().CreateOne(pingCtx, mongo.IndexModel{
		Keys:    bson.D{{Key: "slug", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "create slug index")
	}

	s.logger.Info("Connected to mongo", "db", opts.Database, "collection", opts.Collection)
	return s, nil
}

func (s *MongoSource) Get(ctx context.Context, slug string) (*Quote, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var q Quote
	err := s.coll.FindOne(ctx, bson.M{"slug": slug}).Decode(&q)
	if err == mongo.ErrNoDocuments {
		return nil, notFound(slug)
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "find quote %q", slug)
	}
	return &q, nil
}

func (s *MongoSource) List(ctx context.Context, limit int) ([]Quote, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	find := options.Find().SetSort(bson.D{{Key: "slug", Value: 1}})
	if limit > 0 {
		find.SetLimit(int64(limit))
	}
	cur, err := s.coll.Find(ctx, bson.D{}, find)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "list quotes")
	}
	var out []Quote
	if err := cur.All(ctx, &out); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "decode quotes")
	}
	return out, nil
}

// Put upserts q by slug. The document ID is kept on replace and assigned
// on insert.
func (s *MongoSource) Put(ctx context.Context, q Quote) error {
	if err := q.Validate(); err != nil {
		return err
	}
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	update := bson.M{
		"$set": bson.M{
			"content":        q.Content,
			"author":         q.Author,
			"background_url": q.BackgroundURL,
		},
		"$setOnInsert": bson.M{"_id": q.ID},
	}
	if _, err := s.coll.UpdateOne(ctx, bson.M{"slug": q.Slug}, update, options.Update().SetUpsert(true)); err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err, "store quote %q", q.Slug)
	}
	return nil
}

// Delete removes the quote with slug. Deleting a missing quote is not an
// error.
func (s *MongoSource) Delete(ctx context.Context, slug string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if _, err := s.coll.DeleteOne(ctx, bson.M{"slug": slug}); err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err, "delete quote %q", slug)
	}
	return nil
}

func (s *MongoSource) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	return s.client.Disconnect(ctx)
}
