package repository

import (
	"context"

	"github.com/otpbay/otpbay/pkg/database"

	"go.mongodb.org/mongo-driver/mongo"
)

// TxRunner executes fn inside a MongoDB multi-document transaction. The
// context passed to fn is session-scoped; store calls made with it join the
// transaction.
type TxRunner struct {
	db *database.MongoDB
}

func NewTxRunner(db *database.MongoDB) *TxRunner {
	return &TxRunner{db: db}
}

func (t *TxRunner) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := t.db.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	return err
}
