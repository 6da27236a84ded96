package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/jakechorley/community-connect/pkg/core/model"
	"github.com/jakechorley/community-connect/pkg/db"
)

// GetOpportunity resolves a reference in either encoding
func (d *DB) GetOpportunity(ctx context.Context, ref model.OpportunityRef) (*db.Opportunity, error) {
	filter, ok := refFilter(ref)
	if !ok {
		return nil, db.ErrNotFound
	}

	var doc opportunityDoc
	err := d.opportunities.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, db.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find opportunity: %w", err)
	}
	opp := doc.toModel()
	return &opp, nil
}

// GetOpportunityFamily retrieves the parent and every child pointing at it
func (d *DB) GetOpportunityFamily(ctx context.Context, parentID string) ([]db.Opportunity, error) {
	or := bson.A{bson.M{"parentOpportunityId": parentID}}
	if oid, err := primitive.ObjectIDFromHex(parentID); err == nil {
		or = append(or, bson.M{"_id": oid})
	}

	opts := options.Find().SetSort(bson.D{{Key: "date", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := d.opportunities.Find(ctx, bson.M{"$or": or}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find opportunity family: %w", err)
	}
	defer cursor.Close(ctx)

	var family []db.Opportunity
	for cursor.Next(ctx) {
		var doc opportunityDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode opportunity: %w", err)
		}
		family = append(family, doc.toModel())
	}

	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("error iterating opportunities: %w", err)
	}

	return family, nil
}

func (d *DB) prepareOpportunity(opp *db.Opportunity) (opportunityDoc, error) {
	if opp.ID == "" {
		opp.ID = primitive.NewObjectID().Hex()
	}
	now := time.Now().UTC()
	if opp.CreatedAt.IsZero() {
		opp.CreatedAt = now
	}
	opp.UpdatedAt = now

	doc, err := opportunityFromModel(*opp)
	if err != nil {
		return doc, fmt.Errorf("invalid opportunity id %q: %w", opp.ID, err)
	}
	return doc, nil
}

// InsertOpportunity inserts a single opportunity
func (d *DB) InsertOpportunity(ctx context.Context, opp *db.Opportunity) error {
	doc, err := d.prepareOpportunity(opp)
	if err != nil {
		return err
	}
	if _, err := d.opportunities.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to insert opportunity: %w", err)
	}
	return nil
}

// InsertOpportunities inserts a batch. If part of the batch fails, the
// documents that did land are removed again so the batch acts as a unit.
func (d *DB) InsertOpportunities(ctx context.Context, opps []db.Opportunity) error {
	if len(opps) == 0 {
		return nil
	}

	docs := make([]interface{}, len(opps))
	for i := range opps {
		doc, err := d.prepareOpportunity(&opps[i])
		if err != nil {
			return err
		}
		docs[i] = doc
	}

	_, err := d.opportunities.InsertMany(ctx, docs)
	if err == nil {
		return nil
	}

	ids := make([]string, len(opps))
	for i, o := range opps {
		ids[i] = o.ID
	}
	if _, cleanupErr := d.DeleteOpportunities(ctx, ids); cleanupErr != nil {
		return fmt.Errorf("failed to insert opportunities: %w (cleanup failed: %v)", err, cleanupErr)
	}
	return fmt.Errorf("failed to insert opportunities: %w", err)
}

// UpdateOpportunities applies the same partial update to every listed opportunity
func (d *DB) UpdateOpportunities(ctx context.Context, ids []string, fields db.OpportunityFields) (int, error) {
	update := fieldsUpdate(fields, time.Now())
	oids := objectIDs(ids)
	if len(update) == 0 || len(oids) == 0 {
		return 0, nil
	}

	res, err := d.opportunities.UpdateMany(ctx, bson.M{"_id": bson.M{"$in": oids}}, update)
	if err != nil {
		return 0, fmt.Errorf("failed to update opportunities: %w", err)
	}
	return int(res.MatchedCount), nil
}

// DeleteOpportunities deletes every listed opportunity
func (d *DB) DeleteOpportunities(ctx context.Context, ids []string) (int, error) {
	oids := objectIDs(ids)
	if len(oids) == 0 {
		return 0, nil
	}

	res, err := d.opportunities.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": oids}})
	if err != nil {
		return 0, fmt.Errorf("failed to delete opportunities: %w", err)
	}
	return int(res.DeletedCount), nil
}

// AdjustFilledSpots changes filledSpots by delta in one guarded update
func (d *DB) AdjustFilledSpots(ctx context.Context, id string, delta int) (bool, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return false, nil
	}

	res, err := d.opportunities.UpdateOne(ctx, adjustFilter(oid, delta), bson.M{
		"$inc": bson.M{"filledSpots": delta},
		"$set": bson.M{"updatedAt": time.Now().UTC()},
	})
	if err != nil {
		return false, fmt.Errorf("failed to adjust filled spots: %w", err)
	}
	return res.ModifiedCount == 1, nil
}

// GetOrganization retrieves an organization by id
func (d *DB) GetOrganization(ctx context.Context, id string) (*db.Organization, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, db.ErrNotFound
	}

	var doc organizationDoc
	err = d.organizations.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, db.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find organization: %w", err)
	}
	org := doc.toModel()
	return &org, nil
}

// AddOrganizationOpportunities adds references the organization does not hold yet
func (d *DB) AddOrganizationOpportunities(ctx context.Context, orgID string, refs []model.OpportunityRef) error {
	oid, err := primitive.ObjectIDFromHex(orgID)
	if err != nil {
		return db.ErrNotFound
	}

	res, err := d.organizations.UpdateOne(ctx, bson.M{"_id": oid}, bson.M{
		"$addToSet": bson.M{"opportunityIds": bson.M{"$each": refs}},
	})
	if err != nil {
		return fmt.Errorf("failed to add organization opportunities: %w", err)
	}
	if res.MatchedCount == 0 {
		return db.ErrNotFound
	}
	return nil
}

// RemoveOrganizationOpportunities removes every stored form of the references
func (d *DB) RemoveOrganizationOpportunities(ctx context.Context, orgID string, refs []model.OpportunityRef) error {
	oid, err := primitive.ObjectIDFromHex(orgID)
	if err != nil {
		return db.ErrNotFound
	}

	res, err := d.organizations.UpdateOne(ctx, bson.M{"_id": oid}, bson.M{
		"$pull": bson.M{"opportunityIds": bson.M{"$in": refMatchValues(refs)}},
	})
	if err != nil {
		return fmt.Errorf("failed to remove organization opportunities: %w", err)
	}
	if res.MatchedCount == 0 {
		return db.ErrNotFound
	}
	return nil
}

// GetUser retrieves a volunteer by id
func (d *DB) GetUser(ctx context.Context, id string) (*db.User, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, db.ErrNotFound
	}

	var doc userDoc
	err = d.users.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, db.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	user := doc.toModel()
	return &user, nil
}

// ListCommittedUsers retrieves volunteers committed under any stored form of refs
func (d *DB) ListCommittedUsers(ctx context.Context, refs []model.OpportunityRef) ([]db.User, error) {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	cursor, err := d.users.Find(ctx, bson.M{"commitments": bson.M{"$in": refMatchValues(refs)}}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find committed users: %w", err)
	}
	defer cursor.Close(ctx)

	var users []db.User
	for cursor.Next(ctx) {
		var doc userDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode user: %w", err)
		}
		users = append(users, doc.toModel())
	}

	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("error iterating users: %w", err)
	}

	return users, nil
}

// AddCommitment pushes ref when the user is below max and holds no candidate form
func (d *DB) AddCommitment(ctx context.Context, userID string, ref model.OpportunityRef, candidates []model.OpportunityRef, max int) (bool, error) {
	oid, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return false, nil
	}

	filter := bson.M{
		"_id":         oid,
		"commitments": bson.M{"$nin": refMatchValues(candidates)},
		"$expr": bson.M{"$lt": bson.A{
			bson.M{"$size": bson.M{"$ifNull": bson.A{"$commitments", bson.A{}}}},
			max,
		}},
	}
	res, err := d.users.UpdateOne(ctx, filter, bson.M{"$push": bson.M{"commitments": ref}})
	if err != nil {
		return false, fmt.Errorf("failed to add commitment: %w", err)
	}
	return res.ModifiedCount == 1, nil
}

// RemoveCommitment pulls every stored form of the candidates
func (d *DB) RemoveCommitment(ctx context.Context, userID string, candidates []model.OpportunityRef) (bool, error) {
	oid, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return false, nil
	}

	values := refMatchValues(candidates)
	res, err := d.users.UpdateOne(ctx,
		bson.M{"_id": oid, "commitments": bson.M{"$in": values}},
		bson.M{"$pull": bson.M{"commitments": bson.M{"$in": values}}},
	)
	if err != nil {
		return false, fmt.Errorf("failed to remove commitment: %w", err)
	}
	return res.ModifiedCount == 1, nil
}

// InsertChatMessage inserts a chat message, assigning an id when empty
func (d *DB) InsertChatMessage(ctx context.Context, msg *db.ChatMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if _, err := d.messages.InsertOne(ctx, chatMessageFromModel(*msg)); err != nil {
		return fmt.Errorf("failed to insert chat message: %w", err)
	}
	return nil
}

// ListChatMessagesSince retrieves messages created at or after since, oldest first
func (d *DB) ListChatMessagesSince(ctx context.Context, since time.Time) ([]db.ChatMessage, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}})
	cursor, err := d.messages.Find(ctx, bson.M{"createdAt": bson.M{"$gte": since.UTC()}}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find chat messages: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []chatMessageDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode chat messages: %w", err)
	}

	messages := make([]db.ChatMessage, len(docs))
	for i, doc := range docs {
		messages[i] = doc.toModel()
	}
	return messages, nil
}

// GetLedgerEntry retrieves the last notification sent to email about an opportunity
func (d *DB) GetLedgerEntry(ctx context.Context, opportunityID, email string) (*db.LedgerEntry, error) {
	var doc ledgerDoc
	err := d.ledger.FindOne(ctx, bson.M{"_id": ledgerID(opportunityID, email)}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, db.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find ledger entry: %w", err)
	}
	return &db.LedgerEntry{OpportunityID: doc.OpportunityID, Email: doc.Email, LastSentAt: doc.LastSentAt.UTC()}, nil
}

// UpsertLedgerEntry records a sent notification
func (d *DB) UpsertLedgerEntry(ctx context.Context, entry db.LedgerEntry) error {
	doc := ledgerFromModel(entry)
	_, err := d.ledger.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to upsert ledger entry: %w", err)
	}
	return nil
}

// DeleteLedgerEntriesBefore deletes entries last written before cutoff
func (d *DB) DeleteLedgerEntriesBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := d.ledger.DeleteMany(ctx, bson.M{"lastSentAt": bson.M{"$lt": cutoff.UTC()}})
	if err != nil {
		return 0, fmt.Errorf("failed to prune ledger: %w", err)
	}
	return int(res.DeletedCount), nil
}
