package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/otpbay/otpbay/internal/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// OrderStore is the persistence surface the ledger needs for orders.
type OrderStore interface {
	Create(ctx context.Context, order *models.Order) error
	FindByOrderID(ctx context.Context, userID, orderID string) (*models.Order, error)
	FindActive(ctx context.Context, userID string) (*models.Order, error)
	ListByUser(ctx context.Context, userID string, limit int64) ([]*models.Order, error)
	UpdateStatus(ctx context.Context, userID, orderID string, from, to models.OrderStatus) (bool, error)
	FindExpiredPending(ctx context.Context, now time.Time) ([]*models.Order, error)
	ExpireByIDs(ctx context.Context, orderIDs []string, now time.Time) (int64, error)
}

// UserStore is the persistence surface the ledger needs for users.
type UserStore interface {
	FindByUID(ctx context.Context, uid string) (*models.User, error)
	DebitAndClaim(ctx context.Context, uid string, amount float64, orderID string) error
	ReleaseClaim(ctx context.Context, uid, orderID string) error
	ReleaseClaims(ctx context.Context, orderIDs []string) error
	Credit(ctx context.Context, uid string, amount float64) (*models.User, error)
}

// TxRunner runs fn inside a storage transaction; fn's context joins it.
type TxRunner interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderService is the order ledger: it owns the purchase transaction, the
// status state machine and the expiry sweep.
type OrderService struct {
	orders  OrderStore
	users   UserStore
	tx      TxRunner
	events  *EventPublisher
	metrics *Metrics
	logger  *logrus.Logger

	orderExpiry time.Duration
	now         func() time.Time
}

func NewOrderService(orders OrderStore, users UserStore, tx TxRunner, events *EventPublisher, metrics *Metrics, orderExpiry time.Duration, logger *logrus.Logger) *OrderService {
	return &OrderService{
		orders:      orders,
		users:       users,
		tx:          tx,
		events:      events,
		metrics:     metrics,
		logger:      logger,
		orderExpiry: orderExpiry,
		now:         time.Now,
	}
}

// WithClock overrides the ledger clock. Tests use this to control expiry.
func (s *OrderService) WithClock(now func() time.Time) *OrderService {
	s.now = now
	return s
}

// Now reads the ledger clock.
func (s *OrderService) Now() time.Time {
	return s.now()
}

// Purchase debits the user and creates a PENDING order in one transaction.
// The balance check, the active-order claim and the debit all touch the same
// user document, so two concurrent purchases by one user conflict and only
// one commits.
func (s *OrderService) Purchase(ctx context.Context, userID string, req models.PurchaseRequest) (*models.Order, error) {
	now := s.now()
	order := &models.Order{
		OrderID:   uuid.New().String(),
		UserID:    userID,
		Phone:     placeholderPhone(),
		Product:   req.Service,
		Price:     req.Price,
		Provider:  req.Provider,
		Server:    req.Server,
		Status:    models.OrderStatusPending,
		CreatedAt: now,
		Expires:   now.Add(s.orderExpiry),
	}

	err := s.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		user, err := s.users.FindByUID(txCtx, userID)
		if err != nil {
			return err
		}

		if user.ActiveOrderID != "" {
			return models.ErrAlreadyActive
		}
		if user.Balance < req.Price {
			return models.ErrInsufficientBalance
		}

		if err := s.orders.Create(txCtx, order); err != nil {
			return err
		}

		return s.users.DebitAndClaim(txCtx, userID, req.Price, order.OrderID)
	})
	if err != nil {
		s.metrics.RecordPurchase(purchaseOutcome(err))
		return nil, err
	}

	s.metrics.RecordPurchase("success")
	s.events.PublishOrderEvent(order)
	s.logger.WithFields(logrus.Fields{
		"order_id": order.OrderID,
		"user_id":  userID,
		"product":  order.Product,
		"price":    order.Price,
	}).Info("Order created")

	return order, nil
}

func purchaseOutcome(err error) string {
	switch {
	case errors.Is(err, models.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, models.ErrAlreadyActive):
		return "already_active"
	default:
		return "error"
	}
}

// UpdateStatus moves an order from PENDING to a terminal status and releases
// the user's active-order claim. Terminal orders are immutable; an illegal or
// stale transition is rejected without touching storage.
func (s *OrderService) UpdateStatus(ctx context.Context, userID, orderID string, to models.OrderStatus) (*models.Order, error) {
	if !to.Valid() || !to.Terminal() {
		return nil, models.ErrIllegalTransition
	}

	order, err := s.orders.FindByOrderID(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}

	if !models.CanTransition(order.Status, to) {
		return nil, models.ErrIllegalTransition
	}

	updated, err := s.orders.UpdateStatus(ctx, userID, orderID, order.Status, to)
	if err != nil {
		return nil, err
	}
	if !updated {
		// Someone else moved the order between our read and the update.
		return nil, models.ErrIllegalTransition
	}

	if err := s.users.ReleaseClaim(ctx, userID, orderID); err != nil {
		s.logger.WithError(err).WithField("order_id", orderID).Error("Failed to release active order claim")
	}

	order.Status = to
	order.UpdatedAt = s.now()

	s.metrics.RecordStatusTransition(string(to))
	s.events.PublishOrderEvent(order)
	s.logger.WithFields(logrus.Fields{
		"order_id": orderID,
		"user_id":  userID,
		"status":   to,
	}).Info("Order status updated")

	return order, nil
}

// SweepExpired moves every PENDING order whose expiry has passed to EXPIRED
// and releases the owners' claims. Running it twice over the same instant is
// a no-op the second time.
func (s *OrderService) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	expired, err := s.orders.FindExpiredPending(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("failed to find expired orders: %w", err)
	}

	if len(expired) == 0 {
		return 0, nil
	}

	orderIDs := make([]string, 0, len(expired))
	for _, order := range expired {
		orderIDs = append(orderIDs, order.OrderID)
	}

	count, err := s.orders.ExpireByIDs(ctx, orderIDs, now)
	if err != nil {
		return 0, fmt.Errorf("failed to expire orders: %w", err)
	}

	if err := s.users.ReleaseClaims(ctx, orderIDs); err != nil {
		s.logger.WithError(err).Error("Failed to release claims for expired orders")
	}

	for _, order := range expired {
		order.Status = models.OrderStatusExpired
		s.events.PublishOrderEvent(order)
	}

	s.metrics.RecordSweep(count)
	s.logger.WithField("count", count).Info("Expired pending orders")

	return count, nil
}

// StartSweeper runs the expiry sweep on a fixed interval until ctx is done.
func (s *OrderService) StartSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.WithField("interval", interval).Info("Order expiry sweeper started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Order expiry sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.SweepExpired(ctx, s.now()); err != nil {
				s.logger.WithError(err).Error("Expiry sweep failed")
			}
		}
	}
}

// GetProfile returns the caller's account, including balance.
func (s *OrderService) GetProfile(ctx context.Context, userID string) (*models.User, error) {
	return s.users.FindByUID(ctx, userID)
}

// ListOrders returns the caller's order history, newest first.
func (s *OrderService) ListOrders(ctx context.Context, userID string, limit int64) ([]*models.Order, error) {
	return s.orders.ListByUser(ctx, userID, limit)
}

// ActiveOrder returns the caller's current PENDING order, or nil.
func (s *OrderService) ActiveOrder(ctx context.Context, userID string) (*models.Order, error) {
	return s.orders.FindActive(ctx, userID)
}

// Recharge credits the caller's balance and returns the updated account.
func (s *OrderService) Recharge(ctx context.Context, userID string, amount float64) (*models.User, error) {
	user, err := s.users.Credit(ctx, userID, amount)
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"user_id": userID,
		"amount":  amount,
		"balance": user.Balance,
	}).Info("Balance recharged")

	return user, nil
}

// placeholderPhone fabricates a number for the order record until the
// provider's real number is attached by the client flow.
func placeholderPhone() string {
	return fmt.Sprintf("+%d", 1_000_000_000+rand.Int63n(9_000_000_000))
}
