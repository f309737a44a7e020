// Package data provides the chat domain models and the MongoDB-backed Store.
package data

import (
	"context"     // Used for cancellation and timeouts
	"fmt"         // Error wrapping
	"sync/atomic" // Connection handle swap
	"time"        // Clock

	"github.com/PaulBabatuyi/chatstore/internal/db" // Connection and collections
	"github.com/charmbracelet/log"                  // Structured logging
	"github.com/google/uuid"                        // Id minting
	"go.mongodb.org/mongo-driver/v2/mongo"          // MongoDB driver
)

// Options configures the database a Store connects to.
type Options struct {
	URI            string
	Database       string
	ConnectTimeout time.Duration
}

// Store owns one connection handle and implements every user and
// conversation operation. It is safe for concurrent use once connected;
// each operation is a single request against the shared handle.
type Store struct {
	opts   Options
	logger *log.Logger

	// conn is nil until Connect succeeds and again after Close
	conn atomic.Pointer[db.Client]

	// clock and newID are replaced in tests
	clock func() time.Time
	newID func() string
}

// New returns an unconnected Store. Call Connect before any other method.
func New(opts Options, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.Default()
	}
	return &Store{
		opts:   opts,
		logger: logger.WithPrefix("store"),
		clock:  time.Now,
		newID:  func() string { return uuid.NewString() },
	}
}

// Connect establishes the database connection and binds the working
// database. It must succeed before any other operation and is not meant to
// be called concurrently with itself.
func (s *Store) Connect(ctx context.Context) error {
	if s.conn.Load() != nil {
		s.logger.Debug("already connected")
		return nil
	}

	client, err := db.New(ctx, db.Options{
		URI:            s.opts.URI,
		Database:       s.opts.Database,
		ConnectTimeout: s.opts.ConnectTimeout,
	})
	if err != nil {
		s.logger.Error("connect failed", "database", s.opts.Database, "err", err)
		return fmt.Errorf("%w: %w", ErrConnectionFailure, err)
	}

	s.conn.Store(client)
	s.logger.Info("connected", "database", s.opts.Database)
	return nil
}

// Close releases the connection. Failures are logged, not returned, and
// closing an already closed Store is a no-op.
func (s *Store) Close(ctx context.Context) {
	client := s.conn.Swap(nil)
	if client == nil {
		return
	}
	if err := client.Close(ctx); err != nil {
		s.logger.Warn("disconnect failed", "err", err)
		return
	}
	s.logger.Debug("disconnected")
}

// EnsureIndexes creates the collection indexes. Safe to run repeatedly.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	client, err := s.client()
	if err != nil {
		return err
	}
	if err := client.CreateIndexes(ctx); err != nil {
		s.logger.Error("create indexes failed", "err", err)
		return err
	}
	s.logger.Info("indexes ensured")
	return nil
}

func (s *Store) client() (*db.Client, error) {
	client := s.conn.Load()
	if client == nil {
		s.logger.Error("operation before connect")
		return nil, ErrNotInitialized
	}
	return client, nil
}

func (s *Store) users() (*mongo.Collection, error) {
	client, err := s.client()
	if err != nil {
		return nil, err
	}
	return client.UsersCollection(), nil
}

func (s *Store) conversations() (*mongo.Collection, error) {
	client, err := s.client()
	if err != nil {
		return nil, err
	}
	return client.ConversationsCollection(), nil
}

// now returns the current time at BSON precision so records returned by
// create operations compare equal to what a later lookup decodes.
func (s *Store) now() time.Time {
	return s.clock().UTC().Truncate(time.Millisecond)
}
