package db

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Directions for logged messages.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// ClientRecord is one end customer (phone number) of a tenant.
type ClientRecord struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	TenantID  string             `bson:"tenant_id" json:"tenant_id"`
	Phone     string             `bson:"phone" json:"phone"`
	Name      string             `bson:"name" json:"name"`
	CreatedAt time.Time          `bson:"created_at" json:"created_at"`
}

// MessageRecord is one logged inbound or outbound text.
type MessageRecord struct {
	TenantID  string             `bson:"tenant_id" json:"tenant_id"`
	ClientID  primitive.ObjectID `bson:"client_id" json:"client_id"`
	Content   string             `bson:"content" json:"content"`
	Direction string             `bson:"direction" json:"direction"`
	Timestamp time.Time          `bson:"timestamp" json:"timestamp"`
}

// MessageLog keeps the conversation history in MongoDB. All writes are
// best-effort from the router's point of view.
type MessageLog struct {
	client   *mongo.Client
	clients  *mongo.Collection
	messages *mongo.Collection
}

func NewMessageLog(ctx context.Context, uri, database string) (*MessageLog, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	dbh := client.Database(database)
	return &MessageLog{
		client:   client,
		clients:  dbh.Collection("clients"),
		messages: dbh.Collection("messages"),
	}, nil
}

// FindOrCreateClient upserts the contact record for a phone number and
// returns it.
func (l *MessageLog) FindOrCreateClient(ctx context.Context, tenantID, phone, name string) (*ClientRecord, error) {
	filter := bson.M{"tenant_id": tenantID, "phone": phone}
	update := bson.M{
		"$setOnInsert": bson.M{
			"tenant_id":  tenantID,
			"phone":      phone,
			"name":       name,
			"created_at": time.Now(),
		},
	}
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var record ClientRecord
	if err := l.clients.FindOneAndUpdate(ctx, filter, update, opts).Decode(&record); err != nil {
		return nil, fmt.Errorf("failed to upsert client %s: %w", phone, err)
	}
	return &record, nil
}

// SaveMessage appends one message to the history.
func (l *MessageLog) SaveMessage(ctx context.Context, tenantID string, clientID primitive.ObjectID, content, direction string) error {
	_, err := l.messages.InsertOne(ctx, MessageRecord{
		TenantID:  tenantID,
		ClientID:  clientID,
		Content:   content,
		Direction: direction,
		Timestamp: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

func (l *MessageLog) Close(ctx context.Context) error {
	return l.client.Disconnect(ctx)
}
