package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type OrderStatus string

const (
	OrderStatusPending  OrderStatus = "PENDING"
	OrderStatusFinished OrderStatus = "FINISHED"
	OrderStatusCanceled OrderStatus = "CANCELED"
	OrderStatusExpired  OrderStatus = "EXPIRED"
)

// Order is one purchase of a virtual phone number for one service, valid
// until Expires. PENDING is the only non-terminal status.
type Order struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	OrderID   string             `bson:"order_id" json:"order_id"`
	UserID    string             `bson:"user_id" json:"user_id"`
	Phone     string             `bson:"phone" json:"phone"`
	Product   string             `bson:"product" json:"product"`
	Price     float64            `bson:"price" json:"price"`
	Provider  string             `bson:"provider" json:"provider"`
	Server    string             `bson:"server" json:"server"`
	Status    OrderStatus        `bson:"status" json:"status"`
	SMS       *string            `bson:"sms" json:"sms"`
	CreatedAt time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time          `bson:"updated_at" json:"updated_at"`
	Expires   time.Time          `bson:"expires" json:"expires"`
}

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending: {OrderStatusFinished, OrderStatusCanceled, OrderStatusExpired},
}

// CanTransition reports whether an order may move from one status to another.
// FINISHED, CANCELED and EXPIRED are terminal.
func CanTransition(from, to OrderStatus) bool {
	for _, allowed := range orderTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusFinished, OrderStatusCanceled, OrderStatusExpired:
		return true
	}
	return false
}

func (s OrderStatus) Terminal() bool {
	return s.Valid() && s != OrderStatusPending
}

// PurchaseRequest is the client-facing purchase payload: a service (product)
// at a price from a provider, in a given country/region.
type PurchaseRequest struct {
	Service  string  `json:"service" binding:"required"`
	Price    float64 `json:"price" binding:"required"`
	Provider string  `json:"provider" binding:"required"`
	Server   string  `json:"server" binding:"required"`
}
