package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

// Every broadcast channel maps onto one fixed topic, keyed by session id,
// so ordering is preserved per session.
const (
	topicBroadcastEvents = "broadcast-events"
	topicRoomUpdates     = "broadcast-room-updates"
)

// channelToTopicAndKey converts a channel name to a Kafka topic and key.
//
//	"broadcast:session:S1:events" → topic "broadcast-events",      key "S1"
//	"broadcast:session:S1:room"   → topic "broadcast-room-updates", key "S1"
func channelToTopicAndKey(channel string) (topic, key string, err error) {
	parts := strings.Split(channel, ":")
	if len(parts) != 4 || parts[0] != "broadcast" || parts[1] != "session" {
		return "", "", fmt.Errorf("invalid channel format: %s", channel)
	}
	switch parts[3] {
	case "events":
		topic = topicBroadcastEvents
	case "room":
		topic = topicRoomUpdates
	default:
		return "", "", fmt.Errorf("unknown channel suffix: %s", parts[3])
	}
	return topic, parts[2], nil
}

// kafkaSubscription tracks a single consumer subscription.
type kafkaSubscription struct {
	consumer *kafka.Consumer
	cancel   context.CancelFunc
}

// KafkaPubSub implements PubSub using Apache Kafka.
type KafkaPubSub struct {
	producer      *kafka.Producer
	subscriptions map[string]*kafkaSubscription
	config        KafkaConfig
	mu            sync.Mutex
}

// NewKafkaPubSub creates a new Kafka-based PubSub instance.
func NewKafkaPubSub(cfg KafkaConfig) (*KafkaPubSub, error) {
	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": cfg.Brokers,
		"acks":              "1",
		"linger.ms":         5,
		"compression.type":  "snappy",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	kps := &KafkaPubSub{
		producer:      p,
		subscriptions: make(map[string]*kafkaSubscription),
		config:        cfg,
	}

	if err := kps.ensureTopics(); err != nil {
		// Topics may already exist, or the broker auto-creates them.
		fmt.Printf("warning: failed to ensure kafka topics: %v\n", err)
	}

	return kps, nil
}

// ensureTopics creates the fixed topics if they don't exist.
func (k *KafkaPubSub) ensureTopics() error {
	admin, err := kafka.NewAdminClient(&kafka.ConfigMap{
		"bootstrap.servers": k.config.Brokers,
	})
	if err != nil {
		return fmt.Errorf("failed to create admin client: %w", err)
	}
	defer admin.Close()

	partitions := k.config.Partitions
	if partitions <= 0 {
		partitions = 4
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	topics := []kafka.TopicSpecification{
		{Topic: topicBroadcastEvents, NumPartitions: partitions, ReplicationFactor: 1},
		{Topic: topicRoomUpdates, NumPartitions: partitions, ReplicationFactor: 1},
	}

	_, err = admin.CreateTopics(ctx, topics)
	return err
}

// Publish publishes an event to the topic derived from the channel.
func (k *KafkaPubSub) Publish(ctx context.Context, channel string, event *Event) error {
	topic, key, err := channelToTopicAndKey(channel)
	if err != nil {
		return err
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	return k.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Key:            []byte(key),
		Value:          data,
	}, nil)
}

// Subscribe subscribes to a specific channel. Events for other sessions
// on the shared topic are filtered out.
func (k *KafkaPubSub) Subscribe(ctx context.Context, channel string) (<-chan *Event, error) {
	topic, sessionID, err := channelToTopicAndKey(channel)
	if err != nil {
		return nil, err
	}

	consumer, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers": k.config.Brokers,
		"group.id":          k.config.GroupID + "-" + sessionID,
		"auto.offset.reset": "latest",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}

	if err := consumer.Subscribe(topic, nil); err != nil {
		consumer.Close()
		return nil, fmt.Errorf("failed to subscribe to topic %s: %w", topic, err)
	}

	subCtx, cancel := context.WithCancel(ctx)

	k.mu.Lock()
	k.subscriptions[channel] = &kafkaSubscription{consumer: consumer, cancel: cancel}
	k.mu.Unlock()

	eventCh := make(chan *Event, 100)
	go k.consume(subCtx, consumer, sessionID, eventCh)

	return eventCh, nil
}

// Unsubscribe unsubscribes from a channel.
func (k *KafkaPubSub) Unsubscribe(ctx context.Context, channel string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if sub, ok := k.subscriptions[channel]; ok {
		sub.cancel()
		delete(k.subscriptions, channel)
	}
	return nil
}

// Close shuts down the producer and all consumers.
func (k *KafkaPubSub) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	for _, sub := range k.subscriptions {
		sub.cancel()
	}
	k.subscriptions = make(map[string]*kafkaSubscription)

	k.producer.Flush(5000)
	k.producer.Close()
	return nil
}

// consume reads messages from the consumer and forwards matching events.
func (k *KafkaPubSub) consume(ctx context.Context, consumer *kafka.Consumer, sessionID string, eventCh chan<- *Event) {
	defer func() {
		consumer.Close()
		close(eventCh)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msg, err := consumer.ReadMessage(500 * time.Millisecond)
		if err != nil {
			continue
		}

		if string(msg.Key) != sessionID {
			continue
		}

		var event Event
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			continue
		}

		select {
		case eventCh <- &event:
		case <-ctx.Done():
			return
		default:
			// Channel full, skip message
		}
	}
}

var _ PubSub = (*KafkaPubSub)(nil)
