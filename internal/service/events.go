package service

import (
	"time"

	"github.com/otpbay/otpbay/internal/models"
	"github.com/otpbay/otpbay/pkg/messaging"

	"github.com/sirupsen/logrus"
)

const ordersExchange = "orders.events"

// OrderEvent is published on every order lifecycle change. Consumers key off
// the routing key (order.created, order.finished, order.canceled,
// order.expired).
type OrderEvent struct {
	OrderID   string    `json:"order_id"`
	UserID    string    `json:"user_id"`
	Product   string    `json:"product"`
	Provider  string    `json:"provider"`
	Status    string    `json:"status"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// EventPublisher fans order lifecycle events out to RabbitMQ. A nil publisher
// is valid and drops events, so the service runs without a broker.
type EventPublisher struct {
	publisher messaging.Publisher
	logger    *logrus.Logger
}

func NewEventPublisher(publisher messaging.Publisher, logger *logrus.Logger) (*EventPublisher, error) {
	if publisher != nil {
		if err := publisher.DeclareExchange(ordersExchange, "topic", true, false); err != nil {
			return nil, err
		}
	}
	return &EventPublisher{publisher: publisher, logger: logger}, nil
}

func (p *EventPublisher) PublishOrderEvent(order *models.Order) {
	if p == nil || p.publisher == nil {
		return
	}

	routingKey := "order." + string(order.Status)
	switch order.Status {
	case models.OrderStatusPending:
		routingKey = "order.created"
	case models.OrderStatusFinished:
		routingKey = "order.finished"
	case models.OrderStatusCanceled:
		routingKey = "order.canceled"
	case models.OrderStatusExpired:
		routingKey = "order.expired"
	}

	event := OrderEvent{
		OrderID:   order.OrderID,
		UserID:    order.UserID,
		Product:   order.Product,
		Provider:  order.Provider,
		Status:    string(order.Status),
		Price:     order.Price,
		Timestamp: time.Now(),
	}

	if err := p.publisher.Publish(ordersExchange, routingKey, event); err != nil {
		p.logger.WithError(err).WithField("order_id", order.OrderID).Warn("Failed to publish order event")
	}
}
