package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/streadway/amqp"

	"github.com/21tmccauley/stat-tracker/models"
	"github.com/21tmccauley/stat-tracker/storage"
	"github.com/21tmccauley/stat-tracker/storage/cache"
)

// LevelUpMessage is the payload published whenever a completion levels a
// user up. ID makes redelivered messages deduplicable on the consumer side.
type LevelUpMessage struct {
	ID      string `json:"id"`
	UserID  string `json:"userId"`
	Level   int    `json:"level"`
	Message string `json:"message"`
}

// LevelUpProducerFactory is a struct for creating new LevelUpProducer instances.
type LevelUpProducerFactory struct{}

// LevelUpConsumerFactory is a struct for creating new LevelUpConsumer instances.
// It carries the cache used for deduplication and the store the resulting
// notifications are persisted to.
type LevelUpConsumerFactory struct {
	Cache cache.CacheInterface
	Store storage.StorageInterface
}

// LevelUpProducer manages the connection, channel, and queue of the AMQP
// message producer for level-up events.
type LevelUpProducer struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   *amqp.Queue
}

// LevelUpConsumer manages the connection, channel, queue, dedupe cache and
// notification store of the AMQP message consumer for level-up events.
type LevelUpConsumer struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   *amqp.Queue
	cache   cache.CacheInterface
	store   storage.StorageInterface
}

// CreateProducer instantiates a new LevelUpProducer with the given
// connection, channel, and queue.
func (f *LevelUpProducerFactory) CreateProducer(conn *amqp.Connection, ch *amqp.Channel, queue *amqp.Queue) (Producer, error) {
	return &LevelUpProducer{
		conn:    conn,
		channel: ch,
		queue:   queue,
	}, nil
}

// CreateConsumer instantiates a new LevelUpConsumer with the given
// connection, channel, and queue, plus the factory's cache and store.
func (f *LevelUpConsumerFactory) CreateConsumer(conn *amqp.Connection, ch *amqp.Channel, queue *amqp.Queue) (Consumer, error) {
	return &LevelUpConsumer{
		conn:    conn,
		channel: ch,
		queue:   queue,
		cache:   f.Cache,
		store:   f.Store,
	}, nil
}

// Publish publishes the given message body to the AMQP queue.
// Returns an error if there was a problem with publishing the message.
func (lp *LevelUpProducer) Publish(body []byte) error {
	err := lp.channel.Publish(
		"",            // exchange
		lp.queue.Name, // routing key
		false,         // mandatory
		false,         // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
		})
	if err != nil {
		return fmt.Errorf("failed to publish a message: %w", err)
	}

	return nil
}

// Consume sets up a consumer on the queue and launches a goroutine that
// continuously reads from it. Each message is unmarshalled, checked against
// the dedupe cache, and then either persisted as a notification record or
// discarded as already processed.
func (lc *LevelUpConsumer) Consume(ctx context.Context) (<-chan amqp.Delivery, error) {
	msgs, err := lc.channel.Consume(
		lc.queue.Name,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return nil, err
	}

	// Deploy the consumer worker to read messages from the queue.
	go func() {
		for {
			select {
			case d, ok := <-msgs:

				if !ok {
					return
				}

				message := &LevelUpMessage{}
				if err := json.Unmarshal(d.Body, message); err != nil {
					log.Printf("failed to unmarshal level-up message: %v", err)
					d.Nack(false, true) // requeue the message in case of transient error.
					continue
				}

				// Fetch processed state from the dedupe cache. Without a
				// cache every delivery is treated as fresh.
				if lc.cache != nil {
					processed, err := lc.cache.Get(ctx, "levelup_"+message.ID)
					if err != nil && !errors.Is(err, cache.ErrCacheMiss) {
						log.Printf("error checking cache: %v", err)
						d.Nack(false, true) // requeue the message in case of transient error.
						continue
					}

					if processed != nil {
						d.Ack(false)
						continue
					}
				}

				// The message has not been processed yet, so persist the
				// notification.
				notification := &models.Notification{
					ID:        message.ID,
					UserID:    message.UserID,
					Level:     message.Level,
					Message:   message.Message,
					CreatedAt: time.Now().UTC(),
				}
				if err := lc.store.AddNotification(ctx, notification); err != nil {
					log.Printf("failed to store notification: %v", err)
					d.Nack(false, true) // requeue the message in case of transient error.
				} else {
					d.Ack(false)
					if lc.cache != nil {
						if err := lc.cache.Set(ctx, "levelup_"+message.ID, true); err != nil {
							log.Printf("failed to set key in cache: %v", err)
						}
					}
				}

			case <-ctx.Done():
				return
			}
		}
	}()

	return msgs, nil
}

// BuildLevelUpQueue initializes a new Queue for handling level-up messages.
// It creates numProducers LevelUpProducer and numConsumers LevelUpConsumer
// instances backed by the given dedupe cache and notification store, and
// attaches them all to the "levelUpQueue" queue on the RabbitMQ server at
// rabbitMQURL.
func BuildLevelUpQueue(rabbitMQURL string, numProducers int, numConsumers int, dedupeCache cache.CacheInterface, store storage.StorageInterface) (*Queue, error) {

	// Producer factories
	prodFactories := make([]ProducerFactory, numProducers)
	for i := 0; i < numProducers; i++ {
		prodFactories[i] = &LevelUpProducerFactory{}
	}

	// Consumer factories
	consFactories := make([]ConsumerFactory, numConsumers)
	for i := 0; i < numConsumers; i++ {
		consFactories[i] = &LevelUpConsumerFactory{Cache: dedupeCache, Store: store}
	}

	return InitQueue(rabbitMQURL, "levelUpQueue", prodFactories, consFactories)
}

// ProcessLevelUp serializes a level-up message to JSON and publishes it onto
// the queue using one of the producers in a round-robin manner.
func ProcessLevelUp(msg *LevelUpMessage, levelUpQueue *Queue) error {

	body, err := json.Marshal(msg)
	if err != nil {
		return errors.New("failed to marshal level-up message: " + err.Error())
	}

	if err := levelUpQueue.Publish(body); err != nil {
		return errors.New("failed to publish level-up message: " + err.Error())
	}

	return nil
}
