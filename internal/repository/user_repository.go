package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/otpbay/otpbay/internal/models"
	"github.com/otpbay/otpbay/pkg/database"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const usersCollection = "users"

type UserRepository struct {
	db     *database.MongoDB
	logger *logrus.Logger
}

func NewUserRepository(db *database.MongoDB, logger *logrus.Logger) *UserRepository {
	return &UserRepository{
		db:     db,
		logger: logger,
	}
}

func (r *UserRepository) FindByUID(ctx context.Context, uid string) (*models.User, error) {
	var user models.User
	err := r.db.Collection(usersCollection).FindOne(ctx, bson.M{"uid": uid}).Decode(&user)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, models.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	return &user, nil
}

func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt

	if _, err := r.db.Collection(usersCollection).InsertOne(ctx, user); err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}

	return nil
}

// DebitAndClaim takes amount off the user's balance and records the new
// order as the user's single active one. Called only inside the purchase
// transaction, on the same document the balance check read, so concurrent
// purchases conflict on the user document and one of them aborts.
func (r *UserRepository) DebitAndClaim(ctx context.Context, uid string, amount float64, orderID string) error {
	filter := bson.M{"uid": uid}
	update := bson.M{
		"$inc": bson.M{"balance": -amount},
		"$set": bson.M{
			"active_order_id": orderID,
			"updated_at":      time.Now(),
		},
	}

	result, err := r.db.Collection(usersCollection).UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to debit balance: %w", err)
	}
	if result.MatchedCount == 0 {
		return models.ErrUserNotFound
	}

	return nil
}

// ReleaseClaim clears the active-order marker if it still points at orderID.
func (r *UserRepository) ReleaseClaim(ctx context.Context, uid, orderID string) error {
	filter := bson.M{"uid": uid, "active_order_id": orderID}
	update := bson.M{
		"$set": bson.M{
			"active_order_id": "",
			"updated_at":      time.Now(),
		},
	}

	if _, err := r.db.Collection(usersCollection).UpdateOne(ctx, filter, update); err != nil {
		return fmt.Errorf("failed to release active order claim: %w", err)
	}

	return nil
}

// ReleaseClaims clears the marker for every user whose active order is in
// orderIDs. The sweep uses this after batch-expiring orders.
func (r *UserRepository) ReleaseClaims(ctx context.Context, orderIDs []string) error {
	if len(orderIDs) == 0 {
		return nil
	}

	filter := bson.M{"active_order_id": bson.M{"$in": orderIDs}}
	update := bson.M{
		"$set": bson.M{
			"active_order_id": "",
			"updated_at":      time.Now(),
		},
	}

	if _, err := r.db.Collection(usersCollection).UpdateMany(ctx, filter, update); err != nil {
		return fmt.Errorf("failed to release active order claims: %w", err)
	}

	return nil
}

// Credit adds amount to the user's balance (recharge flow).
func (r *UserRepository) Credit(ctx context.Context, uid string, amount float64) (*models.User, error) {
	filter := bson.M{"uid": uid}
	update := bson.M{
		"$inc": bson.M{"balance": amount},
		"$set": bson.M{"updated_at": time.Now()},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var user models.User
	err := r.db.Collection(usersCollection).FindOneAndUpdate(ctx, filter, update, opts).Decode(&user)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, models.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to credit balance: %w", err)
	}

	return &user, nil
}

func (r *UserRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "uid", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "active_order_id", Value: 1}},
		},
	}

	_, err := r.db.Collection(usersCollection).Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create users indexes: %w", err)
	}

	return nil
}
