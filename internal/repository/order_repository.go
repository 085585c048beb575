package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/otpbay/otpbay/internal/models"
	"github.com/otpbay/otpbay/pkg/database"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const ordersCollection = "orders"

type OrderRepository struct {
	db     *database.MongoDB
	logger *logrus.Logger
}

func NewOrderRepository(db *database.MongoDB, logger *logrus.Logger) *OrderRepository {
	return &OrderRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new order. The purchase path calls this with a session
// context so the insert commits atomically with the balance debit.
func (r *OrderRepository) Create(ctx context.Context, order *models.Order) error {
	order.CreatedAt = time.Now()
	order.UpdatedAt = order.CreatedAt

	result, err := r.db.Collection(ordersCollection).InsertOne(ctx, order)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}

	order.ID = result.InsertedID.(primitive.ObjectID)
	return nil
}

func (r *OrderRepository) FindByOrderID(ctx context.Context, userID, orderID string) (*models.Order, error) {
	var order models.Order
	err := r.db.Collection(ordersCollection).FindOne(ctx, bson.M{"order_id": orderID, "user_id": userID}).Decode(&order)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, models.ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to find order: %w", err)
	}

	return &order, nil
}

// FindActive returns the user's PENDING order, or nil when none exists.
func (r *OrderRepository) FindActive(ctx context.Context, userID string) (*models.Order, error) {
	filter := bson.M{"user_id": userID, "status": models.OrderStatusPending}
	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}})

	var order models.Order
	err := r.db.Collection(ordersCollection).FindOne(ctx, filter, opts).Decode(&order)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find active order: %w", err)
	}

	return &order, nil
}

func (r *OrderRepository) ListByUser(ctx context.Context, userID string, limit int64) ([]*models.Order, error) {
	filter := bson.M{"user_id": userID}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}).SetLimit(limit)

	cursor, err := r.db.Collection(ordersCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer cursor.Close(ctx)

	var orders []*models.Order
	for cursor.Next(ctx) {
		var order models.Order
		if err := cursor.Decode(&order); err != nil {
			return nil, fmt.Errorf("failed to decode order: %w", err)
		}
		orders = append(orders, &order)
	}

	return orders, nil
}

// UpdateStatus moves an order from one status to another. The filter carries
// the expected current status, so a stale or illegal transition matches
// nothing and the caller can reject it.
func (r *OrderRepository) UpdateStatus(ctx context.Context, userID, orderID string, from, to models.OrderStatus) (bool, error) {
	filter := bson.M{
		"order_id": orderID,
		"user_id":  userID,
		"status":   from,
	}
	update := bson.M{
		"$set": bson.M{
			"status":     to,
			"updated_at": time.Now(),
		},
	}

	result, err := r.db.Collection(ordersCollection).UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("failed to update order status: %w", err)
	}

	return result.MatchedCount > 0, nil
}

// FindExpiredPending returns every PENDING order whose deadline has passed.
func (r *OrderRepository) FindExpiredPending(ctx context.Context, now time.Time) ([]*models.Order, error) {
	filter := bson.M{
		"status":  models.OrderStatusPending,
		"expires": bson.M{"$lte": now},
	}

	cursor, err := r.db.Collection(ordersCollection).Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to find expired orders: %w", err)
	}
	defer cursor.Close(ctx)

	var orders []*models.Order
	for cursor.Next(ctx) {
		var order models.Order
		if err := cursor.Decode(&order); err != nil {
			return nil, fmt.Errorf("failed to decode order: %w", err)
		}
		orders = append(orders, &order)
	}

	return orders, nil
}

// ExpireByIDs marks the given orders EXPIRED in one batched write. Only
// orders still PENDING are touched, which keeps a re-run a no-op.
func (r *OrderRepository) ExpireByIDs(ctx context.Context, orderIDs []string, now time.Time) (int64, error) {
	if len(orderIDs) == 0 {
		return 0, nil
	}

	filter := bson.M{
		"order_id": bson.M{"$in": orderIDs},
		"status":   models.OrderStatusPending,
	}
	update := bson.M{
		"$set": bson.M{
			"status":     models.OrderStatusExpired,
			"updated_at": now,
		},
	}

	result, err := r.db.Collection(ordersCollection).UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, fmt.Errorf("failed to expire orders: %w", err)
	}

	return result.ModifiedCount, nil
}

func (r *OrderRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "order_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}},
		},
		{
			Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "status", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "status", Value: 1}, {Key: "expires", Value: 1}},
		},
	}

	_, err := r.db.Collection(ordersCollection).Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create orders indexes: %w", err)
	}

	return nil
}
