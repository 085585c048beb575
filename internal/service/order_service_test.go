package service

import (
	"context"
	"testing"
	"time"

	"github.com/otpbay/otpbay/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

// MockOrderStore is a mock implementation of OrderStore
type MockOrderStore struct {
	mock.Mock
}

func (m *MockOrderStore) Create(ctx context.Context, order *models.Order) error {
	args := m.Called(ctx, order)
	return args.Error(0)
}

func (m *MockOrderStore) FindByOrderID(ctx context.Context, userID, orderID string) (*models.Order, error) {
	args := m.Called(ctx, userID, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Order), args.Error(1)
}

func (m *MockOrderStore) FindActive(ctx context.Context, userID string) (*models.Order, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Order), args.Error(1)
}

func (m *MockOrderStore) ListByUser(ctx context.Context, userID string, limit int64) ([]*models.Order, error) {
	args := m.Called(ctx, userID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Order), args.Error(1)
}

func (m *MockOrderStore) UpdateStatus(ctx context.Context, userID, orderID string, from, to models.OrderStatus) (bool, error) {
	args := m.Called(ctx, userID, orderID, from, to)
	return args.Bool(0), args.Error(1)
}

func (m *MockOrderStore) FindExpiredPending(ctx context.Context, now time.Time) ([]*models.Order, error) {
	args := m.Called(ctx, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Order), args.Error(1)
}

func (m *MockOrderStore) ExpireByIDs(ctx context.Context, orderIDs []string, now time.Time) (int64, error) {
	args := m.Called(ctx, orderIDs, now)
	return args.Get(0).(int64), args.Error(1)
}

// MockUserStore is a mock implementation of UserStore
type MockUserStore struct {
	mock.Mock
}

func (m *MockUserStore) FindByUID(ctx context.Context, uid string) (*models.User, error) {
	args := m.Called(ctx, uid)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserStore) DebitAndClaim(ctx context.Context, uid string, amount float64, orderID string) error {
	args := m.Called(ctx, uid, amount, orderID)
	return args.Error(0)
}

func (m *MockUserStore) ReleaseClaim(ctx context.Context, uid, orderID string) error {
	args := m.Called(ctx, uid, orderID)
	return args.Error(0)
}

func (m *MockUserStore) ReleaseClaims(ctx context.Context, orderIDs []string) error {
	args := m.Called(ctx, orderIDs)
	return args.Error(0)
}

func (m *MockUserStore) Credit(ctx context.Context, uid string, amount float64) (*models.User, error) {
	args := m.Called(ctx, uid, amount)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

// fakeTxRunner runs the callback on the plain context, as if the storage
// transaction always commits when the callback succeeds.
type fakeTxRunner struct{}

func (fakeTxRunner) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type OrderServiceTestSuite struct {
	suite.Suite
	ctx    context.Context
	orders *MockOrderStore
	users  *MockUserStore
	now    time.Time
	svc    *OrderService
}

func (s *OrderServiceTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.orders = new(MockOrderStore)
	s.users = new(MockUserStore)
	s.now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	s.svc = NewOrderService(s.orders, s.users, fakeTxRunner{}, nil, nil, 15*time.Minute, logger).
		WithClock(func() time.Time { return s.now })
}

func TestOrderServiceTestSuite(t *testing.T) {
	suite.Run(t, new(OrderServiceTestSuite))
}

func (s *OrderServiceTestSuite) purchaseRequest() models.PurchaseRequest {
	return models.PurchaseRequest{
		Service:  "telegram",
		Price:    3.00,
		Provider: "5sim",
		Server:   "russia",
	}
}

func (s *OrderServiceTestSuite) TestPurchase_Success() {
	user := &models.User{UID: "user-1", Balance: 5.00}

	s.users.On("FindByUID", s.ctx, "user-1").Return(user, nil)
	s.orders.On("Create", s.ctx, mock.AnythingOfType("*models.Order")).Return(nil)
	s.users.On("DebitAndClaim", s.ctx, "user-1", 3.00, mock.AnythingOfType("string")).Return(nil)

	order, err := s.svc.Purchase(s.ctx, "user-1", s.purchaseRequest())
	s.Require().NoError(err)
	s.Require().NotNil(order)

	s.Equal(models.OrderStatusPending, order.Status)
	s.Equal("user-1", order.UserID)
	s.Equal("telegram", order.Product)
	s.Equal(3.00, order.Price)
	s.NotEmpty(order.OrderID)
	s.NotEmpty(order.Phone)
	s.Equal(s.now.Add(15*time.Minute), order.Expires)

	s.orders.AssertExpectations(s.T())
	s.users.AssertExpectations(s.T())
}

func (s *OrderServiceTestSuite) TestPurchase_InsufficientBalance() {
	user := &models.User{UID: "user-1", Balance: 1.00}

	s.users.On("FindByUID", s.ctx, "user-1").Return(user, nil)

	order, err := s.svc.Purchase(s.ctx, "user-1", s.purchaseRequest())
	s.Require().ErrorIs(err, models.ErrInsufficientBalance)
	s.Nil(order)

	// The transaction aborts before any write happens.
	s.orders.AssertNotCalled(s.T(), "Create", mock.Anything, mock.Anything)
	s.users.AssertNotCalled(s.T(), "DebitAndClaim", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func (s *OrderServiceTestSuite) TestPurchase_AlreadyActive() {
	user := &models.User{UID: "user-1", Balance: 50.00, ActiveOrderID: "existing-order"}

	s.users.On("FindByUID", s.ctx, "user-1").Return(user, nil)

	order, err := s.svc.Purchase(s.ctx, "user-1", s.purchaseRequest())
	s.Require().ErrorIs(err, models.ErrAlreadyActive)
	s.Nil(order)

	s.orders.AssertNotCalled(s.T(), "Create", mock.Anything, mock.Anything)
}

func (s *OrderServiceTestSuite) TestPurchase_ExactBalance() {
	user := &models.User{UID: "user-1", Balance: 3.00}

	s.users.On("FindByUID", s.ctx, "user-1").Return(user, nil)
	s.orders.On("Create", s.ctx, mock.AnythingOfType("*models.Order")).Return(nil)
	s.users.On("DebitAndClaim", s.ctx, "user-1", 3.00, mock.AnythingOfType("string")).Return(nil)

	_, err := s.svc.Purchase(s.ctx, "user-1", s.purchaseRequest())
	s.Require().NoError(err)

	s.users.AssertExpectations(s.T())
}

func (s *OrderServiceTestSuite) TestPurchase_UserNotFound() {
	s.users.On("FindByUID", s.ctx, "missing").Return(nil, models.ErrUserNotFound)

	_, err := s.svc.Purchase(s.ctx, "missing", s.purchaseRequest())
	s.Require().ErrorIs(err, models.ErrUserNotFound)
}

func (s *OrderServiceTestSuite) TestUpdateStatus_FinishPending() {
	pending := &models.Order{OrderID: "order-1", UserID: "user-1", Status: models.OrderStatusPending}

	s.orders.On("FindByOrderID", s.ctx, "user-1", "order-1").Return(pending, nil)
	s.orders.On("UpdateStatus", s.ctx, "user-1", "order-1", models.OrderStatusPending, models.OrderStatusFinished).Return(true, nil)
	s.users.On("ReleaseClaim", s.ctx, "user-1", "order-1").Return(nil)

	order, err := s.svc.UpdateStatus(s.ctx, "user-1", "order-1", models.OrderStatusFinished)
	s.Require().NoError(err)
	s.Equal(models.OrderStatusFinished, order.Status)

	s.orders.AssertExpectations(s.T())
	s.users.AssertExpectations(s.T())
}

func (s *OrderServiceTestSuite) TestUpdateStatus_TerminalOrderIsImmutable() {
	finished := &models.Order{OrderID: "order-1", UserID: "user-1", Status: models.OrderStatusFinished}

	s.orders.On("FindByOrderID", s.ctx, "user-1", "order-1").Return(finished, nil)

	_, err := s.svc.UpdateStatus(s.ctx, "user-1", "order-1", models.OrderStatusCanceled)
	s.Require().ErrorIs(err, models.ErrIllegalTransition)

	s.orders.AssertNotCalled(s.T(), "UpdateStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func (s *OrderServiceTestSuite) TestUpdateStatus_PendingIsNotATarget() {
	_, err := s.svc.UpdateStatus(s.ctx, "user-1", "order-1", models.OrderStatusPending)
	s.Require().ErrorIs(err, models.ErrIllegalTransition)

	s.orders.AssertNotCalled(s.T(), "FindByOrderID", mock.Anything, mock.Anything, mock.Anything)
}

func (s *OrderServiceTestSuite) TestUpdateStatus_LostRace() {
	pending := &models.Order{OrderID: "order-1", UserID: "user-1", Status: models.OrderStatusPending}

	s.orders.On("FindByOrderID", s.ctx, "user-1", "order-1").Return(pending, nil)
	s.orders.On("UpdateStatus", s.ctx, "user-1", "order-1", models.OrderStatusPending, models.OrderStatusCanceled).Return(false, nil)

	_, err := s.svc.UpdateStatus(s.ctx, "user-1", "order-1", models.OrderStatusCanceled)
	s.Require().ErrorIs(err, models.ErrIllegalTransition)

	s.users.AssertNotCalled(s.T(), "ReleaseClaim", mock.Anything, mock.Anything, mock.Anything)
}

func (s *OrderServiceTestSuite) TestUpdateStatus_OrderNotFound() {
	s.orders.On("FindByOrderID", s.ctx, "user-1", "missing").Return(nil, models.ErrOrderNotFound)

	_, err := s.svc.UpdateStatus(s.ctx, "user-1", "missing", models.OrderStatusCanceled)
	s.Require().ErrorIs(err, models.ErrOrderNotFound)
}

func (s *OrderServiceTestSuite) TestSweepExpired_MovesPendingPastExpiry() {
	expired := []*models.Order{
		{OrderID: "order-1", UserID: "user-1", Status: models.OrderStatusPending},
		{OrderID: "order-2", UserID: "user-2", Status: models.OrderStatusPending},
	}
	ids := []string{"order-1", "order-2"}

	s.orders.On("FindExpiredPending", s.ctx, s.now).Return(expired, nil)
	s.orders.On("ExpireByIDs", s.ctx, ids, s.now).Return(int64(2), nil)
	s.users.On("ReleaseClaims", s.ctx, ids).Return(nil)

	count, err := s.svc.SweepExpired(s.ctx, s.now)
	s.Require().NoError(err)
	s.Equal(int64(2), count)

	s.orders.AssertExpectations(s.T())
	s.users.AssertExpectations(s.T())
}

func (s *OrderServiceTestSuite) TestSweepExpired_NothingToDo() {
	s.orders.On("FindExpiredPending", s.ctx, s.now).Return([]*models.Order{}, nil)

	count, err := s.svc.SweepExpired(s.ctx, s.now)
	s.Require().NoError(err)
	s.Equal(int64(0), count)

	s.orders.AssertNotCalled(s.T(), "ExpireByIDs", mock.Anything, mock.Anything, mock.Anything)
	s.users.AssertNotCalled(s.T(), "ReleaseClaims", mock.Anything, mock.Anything)
}

func (s *OrderServiceTestSuite) TestSweepExpired_OrderDueAtBoundary() {
	// An order expiring one second from now is untouched; two seconds later
	// the same sweep picks it up.
	due := &models.Order{OrderID: "order-1", UserID: "user-1", Status: models.OrderStatusPending, Expires: s.now.Add(time.Second)}

	s.orders.On("FindExpiredPending", s.ctx, s.now).Return([]*models.Order{}, nil)

	count, err := s.svc.SweepExpired(s.ctx, s.now)
	s.Require().NoError(err)
	s.Equal(int64(0), count)

	later := s.now.Add(2 * time.Second)
	s.orders.On("FindExpiredPending", s.ctx, later).Return([]*models.Order{due}, nil)
	s.orders.On("ExpireByIDs", s.ctx, []string{"order-1"}, later).Return(int64(1), nil)
	s.users.On("ReleaseClaims", s.ctx, []string{"order-1"}).Return(nil)

	count, err = s.svc.SweepExpired(s.ctx, later)
	s.Require().NoError(err)
	s.Equal(int64(1), count)
}

func (s *OrderServiceTestSuite) TestRecharge() {
	updated := &models.User{UID: "user-1", Balance: 13.00}

	s.users.On("Credit", s.ctx, "user-1", 10.00).Return(updated, nil)

	user, err := s.svc.Recharge(s.ctx, "user-1", 10.00)
	s.Require().NoError(err)
	s.Equal(13.00, user.Balance)
}
