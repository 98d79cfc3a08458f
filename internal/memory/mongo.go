package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// mongoSession is the stored document shape: one document per user.
type mongoSession struct {
	UserID      string    `bson:"userId"`
	Messages    []Message `bson:"messages"`
	LastUpdated time.Time `bson:"lastUpdated"`
	CreatedAt   time.Time `bson:"createdAt"`
}

func (d *mongoSession) toSession() *Session {
	return &Session{
		UserID:    d.UserID,
		Messages:  d.Messages,
		CreatedAt: d.CreatedAt.UTC(),
		UpdatedAt: d.LastUpdated.UTC(),
	}
}

// MongoBackend stores sessions in a MongoDB collection.
type MongoBackend struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// NewMongoBackend connects, pings, and ensures the userId and
// lastUpdated indexes.
func NewMongoBackend(ctx context.Context, uri, database, collection string) (*MongoBackend, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	b := &MongoBackend{
		client: client,
		coll:   client.Database(database).Collection(collection),
	}
	_, err = b.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "userId", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "lastUpdated", Value: 1}}},
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("create indexes: %w", err)
	}
	return b, nil
}

// Load reads the user's document.
func (b *MongoBackend) Load(ctx context.Context, userID string) (*Session, error) {
	var doc mongoSession
	err := b.coll.FindOne(ctx, bson.M{"userId": userID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	return doc.toSession(), nil
}

// Append pushes msg and slices to the last max messages in a single
// upserting update.
func (b *MongoBackend) Append(ctx context.Context, userID string, msg Message, max int) error {
	_, err := b.coll.UpdateOne(ctx,
		bson.M{"userId": userID},
		appendUpdate(msg, max),
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("append conversation: %w", err)
	}
	return nil
}

func appendUpdate(msg Message, max int) bson.M {
	push := bson.M{"$each": []Message{msg}}
	if max > 0 {
		push["$slice"] = -max
	}
	return bson.M{
		"$push":        bson.M{"messages": push},
		"$set":         bson.M{"lastUpdated": msg.Timestamp},
		"$setOnInsert": bson.M{"createdAt": msg.Timestamp},
	}
}

// Delete removes the user's document.
func (b *MongoBackend) Delete(ctx context.Context, userID string) error {
	if _, err := b.coll.DeleteOne(ctx, bson.M{"userId": userID}); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return nil
}

// DeleteOlderThan removes documents last updated before cutoff.
func (b *MongoBackend) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := b.coll.DeleteMany(ctx, bson.M{"lastUpdated": bson.M{"$lt": cutoff}})
	if err != nil {
		return 0, fmt.Errorf("sweep conversations: %w", err)
	}
	return res.DeletedCount, nil
}

// Close disconnects the client.
func (b *MongoBackend) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return b.client.Disconnect(ctx)
}
