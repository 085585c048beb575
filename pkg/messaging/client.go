package messaging

// Publisher is the slice of messaging used by services that only emit events.
type Publisher interface {
	DeclareExchange(name, kind string, durable, autoDelete bool) error
	Publish(exchange, routingKey string, message interface{}) error
	Close() error
}

var _ Publisher = (*RabbitMQ)(nil)
