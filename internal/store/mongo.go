// ABOUTME: MongoDB implementation of the Store interface using the official mongo-driver
// ABOUTME: Users and messages live in their own collections with ObjectID hex identifiers

package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	usersCollection    = "users"
	messagesCollection = "messages"
)

// MongoStore implements the Store interface on MongoDB.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
	logger *slog.Logger
}

type userDoc struct {
	ID         primitive.ObjectID `bson:"_id,omitempty"`
	FullName   string             `bson:"fullName"`
	Email      string             `bson:"email"`
	ProfilePic string             `bson:"profilePic"`
	Locked     bool               `bson:"accountLocked"`
	CreatedAt  time.Time          `bson:"createdAt"`
	UpdatedAt  time.Time          `bson:"updatedAt"`
}

type messageDoc struct {
	ID         primitive.ObjectID `bson:"_id,omitempty"`
	SenderID   string             `bson:"senderId"`
	ReceiverID string             `bson:"receiverId"`
	Text       string             `bson:"text,omitempty"`
	Image      string             `bson:"image,omitempty"`
	Seen       bool               `bson:"seen"`
	SeenAt     *time.Time         `bson:"seenAt,omitempty"`
	IsDeleted  bool               `bson:"isDeleted"`
	DeletedAt  *time.Time         `bson:"deletedAt,omitempty"`
	CreatedAt  time.Time          `bson:"createdAt"`
}

// NewMongoStore connects to uri, pings the primary, and ensures indexes on database dbName.
func NewMongoStore(ctx context.Context, uri, dbName string) (*MongoStore, error) {
	logger := slog.Default().With("component", "store")

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connecting to mongo: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("pinging mongo: %w", err)
	}

	s := &MongoStore{
		client: client,
		db:     client.Database(dbName),
		logger: logger,
	}

	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("creating indexes: %w", err)
	}

	logger.Info("MongoDB store initialized", "database", dbName)
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.db.Collection(usersCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true).SetCollation(&options.Collation{Locale: "en", Strength: 2}),
	})
	if err != nil {
		return fmt.Errorf("users email index: %w", err)
	}

	_, err = s.db.Collection(messagesCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "senderId", Value: 1}, {Key: "receiverId", Value: 1}, {Key: "createdAt", Value: 1}}},
		{Keys: bson.D{{Key: "senderId", Value: 1}, {Key: "receiverId", Value: 1}, {Key: "seen", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("messages indexes: %w", err)
	}
	return nil
}

// Close disconnects the client.
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// Ping verifies the primary is reachable.
func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Database exposes the underlying database, mainly for tests that need to drop it.
func (s *MongoStore) Database() *mongo.Database {
	return s.db
}

// CreateUser stores a new user. A preset ID must be an ObjectID hex string.
func (s *MongoStore) CreateUser(ctx context.Context, user *User) error {
	now := mongoNow()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	doc := userDoc{
		FullName:   user.FullName,
		Email:      user.Email,
		ProfilePic: user.ProfilePic,
		Locked:     user.Locked,
		CreatedAt:  user.CreatedAt,
		UpdatedAt:  user.UpdatedAt,
	}
	if user.ID != "" {
		oid, err := primitive.ObjectIDFromHex(user.ID)
		if err != nil {
			return fmt.Errorf("invalid user id %q: %w", user.ID, err)
		}
		doc.ID = oid
	} else {
		doc.ID = primitive.NewObjectID()
	}

	if _, err := s.db.Collection(usersCollection).InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("inserting user: %w", err)
	}
	user.ID = doc.ID.Hex()
	return nil
}

// GetUser retrieves a user by ID.
func (s *MongoStore) GetUser(ctx context.Context, id string) (*User, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrNotFound
	}
	return s.findUser(ctx, bson.M{"_id": oid}, nil)
}

// GetUserByEmail retrieves a user by email, case-insensitively.
func (s *MongoStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	opts := options.FindOne().SetCollation(&options.Collation{Locale: "en", Strength: 2})
	return s.findUser(ctx, bson.M{"email": email}, opts)
}

func (s *MongoStore) findUser(ctx context.Context, filter bson.M, opts *options.FindOneOptions) (*User, error) {
	var doc userDoc
	var err error
	if opts != nil {
		err = s.db.Collection(usersCollection).FindOne(ctx, filter, opts).Decode(&doc)
	} else {
		err = s.db.Collection(usersCollection).FindOne(ctx, filter).Decode(&doc)
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finding user: %w", err)
	}
	return doc.toUser(), nil
}

// ListUsers returns every user ordered by creation time.
func (s *MongoStore) ListUsers(ctx context.Context) ([]*User, error) {
	return s.listUsers(ctx, bson.M{})
}

// ListUsersExcept returns every user other than id ordered by creation time.
func (s *MongoStore) ListUsersExcept(ctx context.Context, id string) ([]*User, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return s.listUsers(ctx, bson.M{})
	}
	return s.listUsers(ctx, bson.M{"_id": bson.M{"$ne": oid}})
}

func (s *MongoStore) listUsers(ctx context.Context, filter bson.M) ([]*User, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := s.db.Collection(usersCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []userDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decoding users: %w", err)
	}

	users := make([]*User, 0, len(docs))
	for i := range docs {
		users = append(users, docs[i].toUser())
	}
	return users, nil
}

// UpdateProfilePic sets a user's avatar URL and returns the updated user.
func (s *MongoStore) UpdateProfilePic(ctx context.Context, id, url string) (*User, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrNotFound
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	update := bson.M{"$set": bson.M{"profilePic": url, "updatedAt": mongoNow()}}

	var doc userDoc
	err = s.db.Collection(usersCollection).FindOneAndUpdate(ctx, bson.M{"_id": oid}, update, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("updating profile pic: %w", err)
	}
	return doc.toUser(), nil
}

// SetLocked locks or unlocks a user account.
func (s *MongoStore) SetLocked(ctx context.Context, id string, locked bool) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return ErrNotFound
	}
	res, err := s.db.Collection(usersCollection).UpdateOne(ctx,
		bson.M{"_id": oid},
		bson.M{"$set": bson.M{"accountLocked": locked, "updatedAt": mongoNow()}})
	if err != nil {
		return fmt.Errorf("updating lock: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateMessage stores a new message.
func (s *MongoStore) CreateMessage(ctx context.Context, msg *Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = mongoNow()
	} else {
		msg.CreatedAt = msg.CreatedAt.UTC().Truncate(time.Millisecond)
	}
	doc := messageDoc{
		ID:         primitive.NewObjectID(),
		SenderID:   msg.SenderID,
		ReceiverID: msg.ReceiverID,
		Text:       msg.Text,
		Image:      msg.Image,
		CreatedAt:  msg.CreatedAt,
	}
	if _, err := s.db.Collection(messagesCollection).InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	msg.ID = doc.ID.Hex()
	msg.Seen = false
	msg.SeenAt = nil
	msg.IsDeleted = false
	msg.DeletedAt = nil
	return nil
}

// GetMessage retrieves a message by ID.
func (s *MongoStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrNotFound
	}

	var doc messageDoc
	err = s.db.Collection(messagesCollection).FindOne(ctx, bson.M{"_id": oid}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finding message: %w", err)
	}
	return doc.toMessage(), nil
}

// ListConversation returns messages between two users, oldest first.
func (s *MongoStore) ListConversation(ctx context.Context, userA, userB string) ([]*Message, error) {
	filter := bson.M{"$or": bson.A{
		bson.M{"senderId": userA, "receiverId": userB},
		bson.M{"senderId": userB, "receiverId": userA},
	}}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}})

	cursor, err := s.db.Collection(messagesCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []messageDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decoding conversation: %w", err)
	}

	var messages []*Message
	for i := range docs {
		messages = append(messages, docs[i].toMessage())
	}
	return messages, nil
}

// MarkSeen flips unseen senderID->receiverID messages to seen.
// Each candidate is updated on seen=false, so a receipt is only returned for
// a message this call actually stamped. A concurrent viewer gets the rest.
func (s *MongoStore) MarkSeen(ctx context.Context, senderID, receiverID string, seenAt time.Time) ([]SeenReceipt, error) {
	seenAt = seenAt.UTC().Truncate(time.Millisecond)
	coll := s.db.Collection(messagesCollection)
	filter := bson.M{"senderId": senderID, "receiverId": receiverID, "seen": false}

	opts := options.Find().SetProjection(bson.M{"_id": 1}).SetSort(bson.D{{Key: "createdAt", Value: 1}})
	cursor, err := coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("finding unseen: %w", err)
	}
	var docs []struct {
		ID primitive.ObjectID `bson:"_id"`
	}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decoding unseen: %w", err)
	}
	if len(docs) == 0 {
		return nil, nil
	}

	update := bson.M{"$set": bson.M{"seen": true, "seenAt": seenAt}}
	receipts := make([]SeenReceipt, 0, len(docs))
	for _, d := range docs {
		res, err := coll.UpdateOne(ctx, bson.M{"_id": d.ID, "seen": false}, update)
		if err != nil {
			return nil, fmt.Errorf("marking seen: %w", err)
		}
		if res.ModifiedCount == 0 {
			continue
		}
		receipts = append(receipts, SeenReceipt{MessageID: d.ID.Hex(), SeenAt: seenAt})
	}
	if len(receipts) != len(docs) {
		s.logger.Debug("concurrent seen update", "expected", len(docs), "modified", len(receipts))
	}
	return receipts, nil
}

// MarkDeleted logically deletes a message owned by senderID.
func (s *MongoStore) MarkDeleted(ctx context.Context, id, senderID string, deletedAt time.Time) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return ErrNotFound
	}
	res, err := s.db.Collection(messagesCollection).UpdateOne(ctx,
		bson.M{"_id": oid, "senderId": senderID, "isDeleted": false},
		bson.M{"$set": bson.M{"isDeleted": true, "deletedAt": deletedAt.UTC().Truncate(time.Millisecond)}})
	if err != nil {
		return fmt.Errorf("marking deleted: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (d *userDoc) toUser() *User {
	return &User{
		ID:         d.ID.Hex(),
		FullName:   d.FullName,
		Email:      d.Email,
		ProfilePic: d.ProfilePic,
		Locked:     d.Locked,
		CreatedAt:  d.CreatedAt.UTC(),
		UpdatedAt:  d.UpdatedAt.UTC(),
	}
}

func (d *messageDoc) toMessage() *Message {
	msg := &Message{
		ID:         d.ID.Hex(),
		SenderID:   d.SenderID,
		ReceiverID: d.ReceiverID,
		Text:       d.Text,
		Image:      d.Image,
		Seen:       d.Seen,
		IsDeleted:  d.IsDeleted,
		CreatedAt:  d.CreatedAt.UTC(),
	}
	if d.SeenAt != nil {
		t := d.SeenAt.UTC()
		msg.SeenAt = &t
	}
	if d.DeletedAt != nil {
		t := d.DeletedAt.UTC()
		msg.DeletedAt = &t
	}
	return msg
}

// mongoNow matches the millisecond precision BSON dates round-trip with.
func mongoNow() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
