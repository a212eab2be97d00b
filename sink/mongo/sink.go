// Package mongo persists kernel telemetry (hooks.Event records) into a MongoDB collection,
// adapted from goa-ai's features/runlog/mongo client: a thin collection wrapper behind a
// narrow interface (for fakeable tests), one append operation per event, and the same
// context-with-timeout discipline. Unlike the teacher's runlog client this package exposes
// no read path — the collection is a write-only audit trail; querying it is an operational
// concern outside the kernel.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/tripwire-kernel/kernel/hooks"
)

const (
	defaultCollection = "kernel_telemetry"
	defaultTimeout    = 5 * time.Second
)

// eventDocument is the BSON representation of one hooks.Event.
type eventDocument struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	Type      string             `bson:"type"`
	Timestamp int64              `bson:"timestamp"`
	Payload   any                `bson:"payload"`
}

// collection is the subset of *mongo.Collection the sink needs, narrowed so tests can
// supply a fake without a live MongoDB deployment.
type collection interface {
	InsertOne(ctx context.Context, document any, opts ...*options.InsertOneOptions) (*mongodriver.InsertOneResult, error)
}

// Sink appends every hooks.Event it receives to a MongoDB collection. It implements
// hooks.Subscriber.
type Sink struct {
	coll    collection
	timeout time.Duration
}

// Options configures a Sink.
type Options struct {
	// Client is the MongoDB client used to reach the telemetry collection. Required.
	Client *mongodriver.Client
	// Database names the target database. Required.
	Database string
	// Collection names the target collection. Defaults to "kernel_telemetry".
	Collection string
	// Timeout bounds each InsertOne call. Defaults to 5s.
	Timeout time.Duration
}

// NewSink constructs a Sink backed by the provided MongoDB client.
func NewSink(opts Options) (*Sink, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo: client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("mongo: database name is required")
	}
	collName := opts.Collection
	if collName == "" {
		collName = defaultCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	coll := opts.Client.Database(opts.Database).Collection(collName)
	return &Sink{coll: coll, timeout: timeout}, nil
}

// HandleEvent implements hooks.Subscriber. It inserts event as a document. A failure is
// returned to the bus, which logs it and does not affect any decision already made.
func (s *Sink) HandleEvent(ctx context.Context, event hooks.Event) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	doc := eventDocument{
		Type:      string(event.Type()),
		Timestamp: event.Timestamp(),
		Payload:   event,
	}
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("mongo: insert telemetry event: %w", err)
	}
	return nil
}
