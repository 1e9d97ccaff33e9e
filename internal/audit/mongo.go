package audit

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/sincronizacion-distribuida/chatmutex/internal/logging"
)

// bufferSize bounds the fire-and-forget queue between Record and the
// background drain goroutine. When full, events are dropped (logged at
// Warn) rather than blocking the caller.
const bufferSize = 256

// MongoSink writes Events to a MongoDB collection asynchronously. It is
// strictly observability exhaust: internal/dme never reads it back, and
// the DME layer itself keeps no persistent state across restarts whether
// or not a MongoSink is attached.
type MongoSink struct {
	log    logging.Logger
	client *mongo.Client
	coll   *mongo.Collection
	events chan Event
	done   chan struct{}
}

// NewMongoSink connects to uri and returns a Sink that writes into
// database.collection. The connection uses a short timeout; a failure to
// connect is returned so the caller can fall back to Noop() rather than
// silently losing all audit data without explanation.
func NewMongoSink(uri, database, collection string, log logging.Logger) (*MongoSink, error) {
	if log == nil {
		log = logging.Noop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, errors.Wrap(err, "audit: connect to mongo")
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, errors.Wrap(err, "audit: ping mongo")
	}

	s := &MongoSink{
		log:    log,
		client: client,
		coll:   client.Database(database).Collection(collection),
		events: make(chan Event, bufferSize),
		done:   make(chan struct{}),
	}
	go s.drain()
	return s, nil
}

func (s *MongoSink) Record(e Event) {
	select {
	case s.events <- e:
	default:
		s.log.Warnf("audit: buffer full, dropping %s event for %s", e.Kind, e.NodeID)
	}
}

func (s *MongoSink) drain() {
	defer close(s.done)
	for e := range s.events {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if _, err := s.coll.InsertOne(ctx, e); err != nil {
			s.log.Warnf("audit: failed to persist %s event for %s: %v", e.Kind, e.NodeID, err)
		}
		cancel()
	}
}

// Close stops accepting new events, drains the queue, and disconnects.
func (s *MongoSink) Close() {
	close(s.events)
	<-s.done
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.client.Disconnect(ctx); err != nil {
		s.log.Warnf("audit: error disconnecting from mongo: %v", err)
	}
}
