package mongostore

import (
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/jakechorley/community-connect/pkg/core/model"
	"github.com/jakechorley/community-connect/pkg/db"
)

type opportunityDoc struct {
	ID                  primitive.ObjectID `bson:"_id,omitempty"`
	LegacyID            *int64             `bson:"legacyId,omitempty"`
	Title               string             `bson:"title"`
	Description         string             `bson:"description"`
	Category            string             `bson:"category"`
	Date                string             `bson:"date"`
	ArrivalTime         string             `bson:"arrivalTime"`
	DepartureTime       string             `bson:"departureTime"`
	TotalSpots          int                `bson:"totalSpots"`
	FilledSpots         int                `bson:"filledSpots"`
	Location            string             `bson:"location"`
	ContactEmail        string             `bson:"contactEmail"`
	ContactPhone        string             `bson:"contactPhone"`
	OrganizationID      string             `bson:"organizationId"`
	IsRecurring         bool               `bson:"isRecurring"`
	Frequency           string             `bson:"frequency,omitempty"`
	DayFilter           []string           `bson:"dayFilter,omitempty"`
	ParentOpportunityID string             `bson:"parentOpportunityId,omitempty"`
	CreatedAt           time.Time          `bson:"createdAt"`
	UpdatedAt           time.Time          `bson:"updatedAt"`
}

func (d opportunityDoc) toModel() db.Opportunity {
	return db.Opportunity{
		ID:                  d.ID.Hex(),
		LegacyID:            d.LegacyID,
		Title:               d.Title,
		Description:         d.Description,
		Category:            d.Category,
		Date:                d.Date,
		ArrivalTime:         d.ArrivalTime,
		DepartureTime:       d.DepartureTime,
		TotalSpots:          d.TotalSpots,
		FilledSpots:         d.FilledSpots,
		Location:            d.Location,
		ContactEmail:        d.ContactEmail,
		ContactPhone:        d.ContactPhone,
		OrganizationID:      d.OrganizationID,
		IsRecurring:         d.IsRecurring,
		Frequency:           model.RecurrenceFrequency(d.Frequency),
		DayFilter:           d.DayFilter,
		ParentOpportunityID: d.ParentOpportunityID,
		CreatedAt:           d.CreatedAt.UTC(),
		UpdatedAt:           d.UpdatedAt.UTC(),
	}
}

func opportunityFromModel(o db.Opportunity) (opportunityDoc, error) {
	doc := opportunityDoc{
		LegacyID:            o.LegacyID,
		Title:               o.Title,
		Description:         o.Description,
		Category:            o.Category,
		Date:                o.Date,
		ArrivalTime:         o.ArrivalTime,
		DepartureTime:       o.DepartureTime,
		TotalSpots:          o.TotalSpots,
		FilledSpots:         o.FilledSpots,
		Location:            o.Location,
		ContactEmail:        o.ContactEmail,
		ContactPhone:        o.ContactPhone,
		OrganizationID:      o.OrganizationID,
		IsRecurring:         o.IsRecurring,
		Frequency:           string(o.Frequency),
		DayFilter:           o.DayFilter,
		ParentOpportunityID: o.ParentOpportunityID,
		CreatedAt:           o.CreatedAt,
		UpdatedAt:           o.UpdatedAt,
	}
	if o.ID != "" {
		oid, err := primitive.ObjectIDFromHex(o.ID)
		if err != nil {
			return doc, err
		}
		doc.ID = oid
	}
	return doc, nil
}

type organizationDoc struct {
	ID                    primitive.ObjectID     `bson:"_id"`
	Name                  string                 `bson:"name"`
	Email                 string                 `bson:"email"`
	NotificationFrequency string                 `bson:"notificationFrequency,omitempty"`
	OpportunityIDs        []model.OpportunityRef `bson:"opportunityIds"`
}

func (d organizationDoc) toModel() db.Organization {
	return db.Organization{
		ID:                    d.ID.Hex(),
		Name:                  d.Name,
		Email:                 d.Email,
		NotificationFrequency: model.ParseNotificationFrequency(d.NotificationFrequency),
		OpportunityIDs:        d.OpportunityIDs,
	}
}

type userDoc struct {
	ID                    primitive.ObjectID     `bson:"_id"`
	FirstName             string                 `bson:"firstName"`
	LastName              string                 `bson:"lastName"`
	Email                 string                 `bson:"email"`
	NotificationFrequency string                 `bson:"notificationFrequency,omitempty"`
	Commitments           []model.OpportunityRef `bson:"commitments"`
}

func (d userDoc) toModel() db.User {
	return db.User{
		ID:                    d.ID.Hex(),
		FirstName:             d.FirstName,
		LastName:              d.LastName,
		Email:                 d.Email,
		NotificationFrequency: model.ParseNotificationFrequency(d.NotificationFrequency),
		Commitments:           d.Commitments,
	}
}

type chatMessageDoc struct {
	ID               string    `bson:"_id"`
	OpportunityID    string    `bson:"opportunityId"`
	SenderID         string    `bson:"senderId"`
	SenderEmail      string    `bson:"senderEmail"`
	SenderName       string    `bson:"senderName"`
	SenderType       string    `bson:"senderType"`
	ActingAdminEmail string    `bson:"actingAdminEmail,omitempty"`
	Text             string    `bson:"text"`
	CreatedAt        time.Time `bson:"createdAt"`
}

func (d chatMessageDoc) toModel() db.ChatMessage {
	return db.ChatMessage{
		ID:               d.ID,
		OpportunityID:    d.OpportunityID,
		SenderID:         d.SenderID,
		SenderEmail:      d.SenderEmail,
		SenderName:       d.SenderName,
		SenderType:       model.SenderType(d.SenderType),
		ActingAdminEmail: d.ActingAdminEmail,
		Text:             d.Text,
		CreatedAt:        d.CreatedAt.UTC(),
	}
}

func chatMessageFromModel(m db.ChatMessage) chatMessageDoc {
	return chatMessageDoc{
		ID:               m.ID,
		OpportunityID:    m.OpportunityID,
		SenderID:         m.SenderID,
		SenderEmail:      m.SenderEmail,
		SenderName:       m.SenderName,
		SenderType:       string(m.SenderType),
		ActingAdminEmail: m.ActingAdminEmail,
		Text:             m.Text,
		CreatedAt:        m.CreatedAt.UTC(),
	}
}

type ledgerDoc struct {
	ID            string    `bson:"_id"`
	OpportunityID string    `bson:"opportunityId"`
	Email         string    `bson:"email"`
	LastSentAt    time.Time `bson:"lastSentAt"`
}

func ledgerID(opportunityID, email string) string {
	return opportunityID + "|" + strings.ToLower(email)
}

func ledgerFromModel(e db.LedgerEntry) ledgerDoc {
	return ledgerDoc{
		ID:            ledgerID(e.OpportunityID, e.Email),
		OpportunityID: e.OpportunityID,
		Email:         strings.ToLower(e.Email),
		LastSentAt:    e.LastSentAt.UTC(),
	}
}

// refMatchValues lists every stored form a reference may take. Generated ids
// that are valid hex also match when stored as ObjectIDs.
func refMatchValues(refs []model.OpportunityRef) bson.A {
	values := bson.A{}
	for _, ref := range refs {
		if n, ok := ref.Numeric(); ok {
			values = append(values, n)
			continue
		}
		if id, ok := ref.Generated(); ok {
			values = append(values, id)
			if oid, err := primitive.ObjectIDFromHex(id); err == nil {
				values = append(values, oid)
			}
		}
	}
	return values
}

// refFilter builds the lookup filter for an opportunity reference. The second
// value is false when the reference cannot match any stored opportunity.
func refFilter(ref model.OpportunityRef) (bson.M, bool) {
	if n, ok := ref.Numeric(); ok {
		return bson.M{"legacyId": n}, true
	}
	if id, ok := ref.Generated(); ok {
		oid, err := primitive.ObjectIDFromHex(id)
		if err != nil {
			return nil, false
		}
		return bson.M{"_id": oid}, true
	}
	return nil, false
}

// objectIDs converts hex ids, dropping any that are not valid ObjectIDs
func objectIDs(ids []string) []primitive.ObjectID {
	oids := make([]primitive.ObjectID, 0, len(ids))
	for _, id := range ids {
		if oid, err := primitive.ObjectIDFromHex(id); err == nil {
			oids = append(oids, oid)
		}
	}
	return oids
}

// fieldsUpdate builds the update document for a partial opportunity update
func fieldsUpdate(fields db.OpportunityFields, now time.Time) bson.M {
	set := bson.M{}
	unset := bson.M{}

	if fields.Title != nil {
		set["title"] = *fields.Title
	}
	if fields.Description != nil {
		set["description"] = *fields.Description
	}
	if fields.Category != nil {
		set["category"] = *fields.Category
	}
	if fields.ArrivalTime != nil {
		set["arrivalTime"] = *fields.ArrivalTime
	}
	if fields.DepartureTime != nil {
		set["departureTime"] = *fields.DepartureTime
	}
	if fields.TotalSpots != nil {
		set["totalSpots"] = *fields.TotalSpots
	}
	if fields.Location != nil {
		set["location"] = *fields.Location
	}
	if fields.ContactEmail != nil {
		set["contactEmail"] = *fields.ContactEmail
	}
	if fields.ContactPhone != nil {
		set["contactPhone"] = *fields.ContactPhone
	}
	if fields.ParentOpportunityID != nil {
		if *fields.ParentOpportunityID == "" {
			unset["parentOpportunityId"] = ""
		} else {
			set["parentOpportunityId"] = *fields.ParentOpportunityID
		}
	}

	if fields.UnsetRecurrence {
		set["isRecurring"] = false
		unset["frequency"] = ""
		unset["dayFilter"] = ""
	} else {
		if fields.IsRecurring != nil {
			set["isRecurring"] = *fields.IsRecurring
		}
		if fields.Frequency != nil {
			set["frequency"] = string(*fields.Frequency)
		}
		if fields.DayFilter != nil {
			set["dayFilter"] = fields.DayFilter
		}
	}

	update := bson.M{}
	if len(set) == 0 && len(unset) == 0 {
		return update
	}
	set["updatedAt"] = now.UTC()
	update["$set"] = set
	if len(unset) > 0 {
		update["$unset"] = unset
	}
	return update
}

// adjustFilter matches the opportunity only when filledSpots+delta stays within [0, totalSpots]
func adjustFilter(oid primitive.ObjectID, delta int) bson.M {
	next := bson.M{"$add": bson.A{"$filledSpots", delta}}
	return bson.M{
		"_id": oid,
		"$expr": bson.M{"$and": bson.A{
			bson.M{"$gte": bson.A{next, 0}},
			bson.M{"$lte": bson.A{next, "$totalSpots"}},
		}},
	}
}
