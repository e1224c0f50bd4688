// Package event publishes progression events to RabbitMQ.
package event

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

// Routing keys.
const (
	AttemptRecorded = "quiz.attempt.recorded"
	LessonCompleted = "lesson.completed"
)

// DefaultExchange is the topic exchange events are published to.
const DefaultExchange = "stepwise.events"

// Event is the message body of every published event.
type Event struct {
	Type      string    `json:"event_type"`
	UserID    int64     `json:"user_id"`
	LessonID  int64     `json:"lesson_id"`
	AttemptID int64     `json:"attempt_id,omitempty"`
	Score     *int      `json:"score,omitempty"`
	Passed    *bool     `json:"passed,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher sends events.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// AMQPPublisher publishes to a topic exchange. A publisher created with an
// empty URI is disabled and drops every event.
type AMQPPublisher struct {
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	exchange string
	enabled  bool
}

// NewAMQPPublisher connects to RabbitMQ and declares the exchange.
func NewAMQPPublisher(uri, exchange string) (*AMQPPublisher, error) {
	if uri == "" {
		slog.Warn("RabbitMQ URI is empty, event publishing is disabled")
		return &AMQPPublisher{enabled: false}, nil
	}
	if exchange == "" {
		exchange = DefaultExchange
	}

	conn, err := amqp091.Dial(uri)
	if err != nil {
		return nil, fmt.Errorf("connect to RabbitMQ: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	err = channel.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	return &AMQPPublisher{conn: conn, channel: channel, exchange: exchange, enabled: true}, nil
}

// Publish sends ev with its type as the routing key.
func (p *AMQPPublisher) Publish(ctx context.Context, ev Event) error {
	if !p.enabled {
		slog.Debug("event publishing disabled, skipping event", "type", ev.Type)
		return nil
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = p.channel.PublishWithContext(pubCtx, p.exchange, ev.Type, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		Timestamp:    ev.Timestamp,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}
	slog.Debug("published event", "type", ev.Type, "user_id", ev.UserID, "lesson_id", ev.LessonID)
	return nil
}

// Close closes the channel and connection.
func (p *AMQPPublisher) Close() error {
	if !p.enabled {
		return nil
	}
	if err := p.channel.Close(); err != nil {
		p.conn.Close()
		return err
	}
	return p.conn.Close()
}

// NewAttemptRecorded builds the event for a graded attempt.
func NewAttemptRecorded(userID, lessonID, attemptID int64, score int, passed bool) Event {
	return Event{
		Type:      AttemptRecorded,
		UserID:    userID,
		LessonID:  lessonID,
		AttemptID: attemptID,
		Score:     &score,
		Passed:    &passed,
		Timestamp: time.Now().UTC(),
	}
}

// NewLessonCompleted builds the event for a completed lesson.
func NewLessonCompleted(userID, lessonID int64) Event {
	return Event{Type: LessonCompleted, UserID: userID, LessonID: lessonID, Timestamp: time.Now().UTC()}
}
