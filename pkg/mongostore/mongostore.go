// Package mongostore implements db.Database on MongoDB, the primary document store.
package mongostore

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	opportunitiesCollection = "opportunities"
	organizationsCollection = "organizations"
	usersCollection         = "users"
	chatMessagesCollection  = "chat_messages"
	ledgerCollection        = "notification_ledger"
)

// DB provides database operations using MongoDB
type DB struct {
	client        *mongo.Client
	opportunities *mongo.Collection
	organizations *mongo.Collection
	users         *mongo.Collection
	messages      *mongo.Collection
	ledger        *mongo.Collection
}

// NewDB connects to MongoDB and checks the server is reachable
func NewDB(ctx context.Context, uri, database string) (*DB, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	mdb := client.Database(database)
	return &DB{
		client:        client,
		opportunities: mdb.Collection(opportunitiesCollection),
		organizations: mdb.Collection(organizationsCollection),
		users:         mdb.Collection(usersCollection),
		messages:      mdb.Collection(chatMessagesCollection),
		ledger:        mdb.Collection(ledgerCollection),
	}, nil
}

// Close disconnects the client
func (d *DB) Close(ctx context.Context) error {
	return d.client.Disconnect(ctx)
}

// Ping checks the server is reachable
func (d *DB) Ping(ctx context.Context) error {
	return d.client.Ping(ctx, nil)
}

// EnsureIndexes creates the indexes the stores rely on. Safe to run repeatedly.
func (d *DB) EnsureIndexes(ctx context.Context) error {
	indexes := []struct {
		coll   *mongo.Collection
		models []mongo.IndexModel
	}{
		{d.opportunities, []mongo.IndexModel{
			{Keys: bson.D{{Key: "parentOpportunityId", Value: 1}}},
			{Keys: bson.D{{Key: "organizationId", Value: 1}, {Key: "date", Value: 1}}},
			{Keys: bson.D{{Key: "legacyId", Value: 1}}, Options: options.Index().SetUnique(true).SetSparse(true)},
		}},
		{d.users, []mongo.IndexModel{
			{Keys: bson.D{{Key: "commitments", Value: 1}}},
		}},
		{d.messages, []mongo.IndexModel{
			{Keys: bson.D{{Key: "createdAt", Value: 1}}},
		}},
		{d.ledger, []mongo.IndexModel{
			{Keys: bson.D{{Key: "lastSentAt", Value: 1}}},
		}},
	}

	for _, idx := range indexes {
		if _, err := idx.coll.Indexes().CreateMany(ctx, idx.models); err != nil {
			return fmt.Errorf("failed to create indexes on %s: %w", idx.coll.Name(), err)
		}
	}
	return nil
}
