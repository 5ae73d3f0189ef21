// README: Delivery backends: log, Redis pub/sub, Kafka, RabbitMQ and FCM.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"firebase.google.com/go/v4/messaging"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"zemi/internal/types"
)

// RedisChannel is the pub/sub channel trip events are published on.
const RedisChannel = "zemi:trip-events"

type LogNotifier struct {
	log logrus.FieldLogger
}

func NewLogNotifier(log logrus.FieldLogger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Name() string { return "log" }

func (n *LogNotifier) Notify(_ context.Context, e Event) error {
	fields := logrus.Fields{"event": e.Type, "trip_id": e.TripID, "client_id": e.ClientID, "status": e.Status}
	if e.DriverID != nil {
		fields["driver_id"] = *e.DriverID
	}
	if len(e.Recipients) > 0 {
		fields["recipients"] = len(e.Recipients)
	}
	n.log.WithFields(fields).Info("trip event")
	return nil
}

type RedisNotifier struct {
	redis *redis.Client
}

func NewRedisNotifier(client *redis.Client) *RedisNotifier {
	return &RedisNotifier{redis: client}
}

func (n *RedisNotifier) Name() string { return "redis" }

func (n *RedisNotifier) Notify(ctx context.Context, e Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return n.redis.Publish(ctx, RedisChannel, b).Err()
}

// MessageWriter is satisfied by *kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type KafkaNotifier struct {
	writer MessageWriter
}

func NewKafkaNotifier(w MessageWriter) *KafkaNotifier {
	return &KafkaNotifier{writer: w}
}

func (n *KafkaNotifier) Name() string { return "kafka" }

// Notify keys by trip id so one trip's events stay ordered within a partition.
func (n *KafkaNotifier) Notify(ctx context.Context, e Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return n.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(e.TripID),
		Value:   b,
		Time:    e.OccurredAt,
		Headers: []kafka.Header{{Key: "event", Value: []byte(e.Type)}},
	})
}

// AMQPPublisher is satisfied by *amqp.Channel.
type AMQPPublisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

type RabbitNotifier struct {
	ch       AMQPPublisher
	exchange string
}

func NewRabbitNotifier(ch AMQPPublisher, exchange string) *RabbitNotifier {
	return &RabbitNotifier{ch: ch, exchange: exchange}
}

func (n *RabbitNotifier) Name() string { return "rabbitmq" }

// Notify routes by event type, e.g. "trip.accepted", on the topic exchange.
func (n *RabbitNotifier) Notify(ctx context.Context, e Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return n.ch.PublishWithContext(ctx, n.exchange, string(e.Type), false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         b,
		DeliveryMode: amqp.Persistent,
		MessageId:    string(e.TripID) + ":" + string(e.Type),
		Timestamp:    e.OccurredAt,
	})
}

// MessageSender is satisfied by *messaging.Client.
type MessageSender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

type FCMNotifier struct {
	client MessageSender
}

func NewFCMNotifier(client MessageSender) *FCMNotifier {
	return &FCMNotifier{client: client}
}

func (n *FCMNotifier) Name() string { return "fcm" }

// Notify pushes to the per-user topics of everyone the event concerns.
func (n *FCMNotifier) Notify(ctx context.Context, e Event) error {
	for _, topic := range fcmTopics(e) {
		_, err := n.client.Send(ctx, &messaging.Message{
			Topic: topic,
			Data: map[string]string{
				"type":        string(e.Type),
				"trip_id":     string(e.TripID),
				"status":      e.Status,
				"occurred_at": e.OccurredAt.UTC().Format(time.RFC3339),
			},
			Android: &messaging.AndroidConfig{Priority: "high"},
		})
		if err != nil {
			return fmt.Errorf("fcm send to %s: %w", topic, err)
		}
	}
	return nil
}

// fcmTopics: new requests go to the sampled online drivers; every later
// event goes to the client and, once assigned, the driver.
func fcmTopics(e Event) []string {
	if e.Type == TripRequested {
		topics := make([]string, 0, len(e.Recipients))
		for _, id := range e.Recipients {
			topics = append(topics, DriverTopic(id))
		}
		return topics
	}
	topics := []string{ClientTopic(e.ClientID)}
	if e.DriverID != nil {
		topics = append(topics, DriverTopic(*e.DriverID))
	}
	return topics
}

func DriverTopic(id types.ID) string { return "driver-" + string(id) }
func ClientTopic(id types.ID) string { return "client-" + string(id) }
