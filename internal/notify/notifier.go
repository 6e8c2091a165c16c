package notify

import (
	"context"
	"encoding/json"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"messenger-service/internal/observability"
)

// Notifier is the outbound push/SMS call-out for offline recipients.
// Fire-and-forget: failures are logged and counted, never propagated into
// message delivery.
type Notifier interface {
	Notify(ctx context.Context, userID int, title string, body string) error
	Close() error
}

// Notification is the payload handed to the downstream delivery workers.
type Notification struct {
	UserID    int       `json:"user_id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// NewNotifier builds an AMQP notifier or a noop notifier when AMQP is not
// configured or unreachable.
func NewNotifier(amqpURL, exchange string) Notifier {
	if amqpURL == "" {
		log.Printf("notifications disabled, using noop: empty amqp url")
		return noopNotifier{reason: "empty amqp url"}
	}

	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		log.Printf("notifications disabled, using noop: %v", err)
		return noopNotifier{reason: err.Error()}
	}

	ch, err := conn.Channel()
	if err != nil {
		log.Printf("notifications disabled, using noop: %v", err)
		_ = conn.Close()
		return noopNotifier{reason: err.Error()}
	}

	if err := ch.ExchangeDeclare(
		exchange,
		"topic",
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		log.Printf("notifications disabled, using noop: %v", err)
		_ = ch.Close()
		_ = conn.Close()
		return noopNotifier{reason: err.Error()}
	}

	log.Printf("notifications connected exchange=%s", exchange)
	return &amqpNotifier{conn: conn, ch: ch, exchange: exchange}
}

type amqpNotifier struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

func (n *amqpNotifier) Notify(ctx context.Context, userID int, title string, body string) error {
	payload, err := json.Marshal(Notification{
		UserID:    userID,
		Title:     title,
		Body:      body,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	err = n.ch.PublishWithContext(ctx, n.exchange, "notifications.push", false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         payload,
	})
	if err != nil {
		observability.IncNotifyPublishError()
		log.Printf("notification publish failed user=%d: %v", userID, err)
	}
	return err
}

func (n *amqpNotifier) Close() error {
	if n.ch != nil {
		_ = n.ch.Close()
	}
	if n.conn != nil {
		return n.conn.Close()
	}
	return nil
}

type noopNotifier struct {
	reason string
}

func (noopNotifier) Notify(ctx context.Context, userID int, title string, body string) error {
	log.Printf("notification noop user=%d title=%q", userID, title)
	return nil
}

func (noopNotifier) Close() error {
	return nil
}
