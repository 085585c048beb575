package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// User is the marketplace profile document. Balance is mutated only inside
// the purchase and recharge transactions. ActiveOrderID is the denormalized
// claim for the single allowed PENDING order; empty when no order is active.
type User struct {
	ID            primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UID           string             `bson:"uid" json:"uid"`
	Email         string             `bson:"email" json:"email"`
	DisplayName   string             `bson:"display_name" json:"display_name"`
	PhotoURL      string             `bson:"photo_url" json:"photo_url"`
	Balance       float64            `bson:"balance" json:"balance"`
	Rating        int                `bson:"rating" json:"rating"`
	ActiveOrderID string             `bson:"active_order_id" json:"active_order_id,omitempty"`
	CreatedAt     time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt     time.Time          `bson:"updated_at" json:"updated_at"`
}
