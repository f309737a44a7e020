// Package db manages the MongoDB connection and collections.
package db

import (
	"context" // For connection timeout/cancellation
	"fmt"     // Error formatting
	"time"    // Duration for timeouts

	"go.mongodb.org/mongo-driver/v2/bson"           // Index keys
	"go.mongodb.org/mongo-driver/v2/mongo"          // MongoDB driver
	"go.mongodb.org/mongo-driver/v2/mongo/options"  // MongoDB options
	"go.mongodb.org/mongo-driver/v2/mongo/readpref" // MongoDB read preference
)

// Collection names shared with existing deployments of the chat database.
const (
	UsersCollectionName         = "user"
	ConversationsCollectionName = "conversation"
)

// Client wraps mongo.Client and exposes collections.
type Client struct {
	// client is the underlying MongoDB connection (thread-safe, pools internally)
	client *mongo.Client

	// db is the working database; collections are accessed via this reference
	db *mongo.Database
}

// Options configures New.
type Options struct {
	URI            string
	Database       string
	ConnectTimeout time.Duration
}

// New connects to MongoDB, verifies the connection with a ping and returns a
// Client bound to the configured database.
func New(ctx context.Context, o Options) (*Client, error) {
	timeout := o.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	// SetConnectTimeout: fail fast if MongoDB is unreachable
	opts := options.Client().
		ApplyURI(o.URI).
		SetConnectTimeout(timeout)

	// Connect only validates options; the pool dials lazily
	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Ping is the actual connection test
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return &Client{
		client: client,
		db:     client.Database(o.Database),
	}, nil
}

// UsersCollection returns the user collection.
func (c *Client) UsersCollection() *mongo.Collection {
	return c.db.Collection(UsersCollectionName)
}

// ConversationsCollection returns the conversation collection.
func (c *Client) ConversationsCollection() *mongo.Collection {
	return c.db.Collection(ConversationsCollectionName)
}

// Close disconnects from MongoDB.
func (c *Client) Close(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}

// CreateIndexes creates the indexes both collections rely on.
func (c *Client) CreateIndexes(ctx context.Context) error {
	// ===== USER COLLECTION INDEXES =====
	userIndexes := []mongo.IndexModel{
		{
			// Point lookups by domain id; ids are unique across the store
			Keys:    bson.D{{Key: "id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			// FindUserByEmail; duplicate registration is rejected
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		// Anchored prefix regexes in SearchUsers can use these
		{Keys: bson.D{{Key: "firstName", Value: 1}}},
		{Keys: bson.D{{Key: "lastName", Value: 1}}},
	}
	if _, err := c.UsersCollection().Indexes().CreateMany(ctx, userIndexes); err != nil {
		return fmt.Errorf("failed to create user indexes: %w", err)
	}

	// ===== CONVERSATION COLLECTION INDEXES =====
	conversationIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		// FindUserConversations matches on either participant of any message
		{Keys: bson.D{{Key: "messages.from.id", Value: 1}}},
		{Keys: bson.D{{Key: "messages.to.id", Value: 1}}},
	}
	if _, err := c.ConversationsCollection().Indexes().CreateMany(ctx, conversationIndexes); err != nil {
		return fmt.Errorf("failed to create conversation indexes: %w", err)
	}

	return nil
}

// Drop removes both collections. Intended for tests.
func (c *Client) Drop(ctx context.Context) error {
	if err := c.UsersCollection().Drop(ctx); err != nil {
		return err
	}
	return c.ConversationsCollection().Drop(ctx)
}
