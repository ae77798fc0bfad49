package sink

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/luminastream/shardpipe/internal/offset"
	"github.com/luminastream/shardpipe/internal/resolver"
)

// KafkaSink publishes messages to one topic through a synchronous producer:
// Publish returns after the broker ACKs, so the caller can commit the offset
// the moment it does.
type KafkaSink struct {
	topic    string
	resolver resolver.Resolver

	mu sync.Mutex
	sp sarama.SyncProducer
}

type KafkaConfig struct {
	Topic    string
	Resolver resolver.Resolver
}

func NewKafkaSink(cfg KafkaConfig) (*KafkaSink, error) {
	if cfg.Topic == "" {
		return nil, errors.New("kafka sink: topic empty")
	}
	if cfg.Resolver == nil {
		return nil, errors.New("kafka sink: resolver required")
	}
	return &KafkaSink{topic: cfg.Topic, resolver: cfg.Resolver}, nil
}

// Prepare re-resolves the broker list and rebuilds the producer when none is
// connected. Called at the start of every streaming attempt, so a restart
// after a broker failover picks up fresh endpoints.
func (s *KafkaSink) Prepare(ctx context.Context, _ string, _ offset.ShardTag) (Destination, error) {
	dest := Destination{Kind: "kafka", Name: s.topic}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sp != nil {
		return dest, nil
	}

	brokers, err := s.resolver.Locate(ctx, "kafka")
	if err != nil {
		return Destination{}, err
	}

	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 10
	cfg.Producer.Retry.Backoff = 200 * time.Millisecond
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1
	cfg.Version = sarama.V2_1_0_0

	sp, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return Destination{}, fmt.Errorf("kafka sink: connect %v: %w", brokers, err)
	}
	s.sp = sp
	return dest, nil
}

func (s *KafkaSink) Publish(ctx context.Context, msg Message) error {
	s.mu.Lock()
	sp := s.sp
	s.mu.Unlock()
	if sp == nil {
		return errors.New("kafka sink: not prepared")
	}

	pm := &sarama.ProducerMessage{
		Topic: s.topic,
		Value: sarama.ByteEncoder(msg.Payload),
	}
	if msg.Key != "" {
		pm.Key = sarama.StringEncoder(msg.Key)
	}

	// SyncProducer does not take a context; check before and after so a
	// stopping worker unwinds promptly.
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if _, _, err := sp.SendMessage(pm); err != nil {
		// drop the producer so the next Prepare re-resolves and reconnects
		s.mu.Lock()
		if s.sp == sp {
			_ = sp.Close()
			s.sp = nil
		}
		s.mu.Unlock()
		return err
	}

	select {
	case <-ctx.Done():
		// already acked; report the stop so the caller exits without
		// committing, the message is re-published on resume (at-least-once)
		return ctx.Err()
	default:
	}
	return nil
}

// EnsureTopic creates the topic if it does not exist. Used as the one-time
// prepare barrier for broker pipelines; safe to call from many shards, the
// broker treats an existing topic as success here.
func EnsureTopic(ctx context.Context, res resolver.Resolver, topic string, partitions int32, replication int16) error {
	brokers, err := res.Locate(ctx, "kafka")
	if err != nil {
		return err
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0

	admin, err := sarama.NewClusterAdmin(brokers, cfg)
	if err != nil {
		return fmt.Errorf("kafka admin: connect %v: %w", brokers, err)
	}
	defer admin.Close()

	err = admin.CreateTopic(topic, &sarama.TopicDetail{
		NumPartitions:     partitions,
		ReplicationFactor: replication,
	}, false)
	if err != nil {
		var topicErr *sarama.TopicError
		if errors.As(err, &topicErr) && topicErr.Err == sarama.ErrTopicAlreadyExists {
			return nil
		}
		return fmt.Errorf("kafka admin: create topic %s: %w", topic, err)
	}
	return nil
}

func (s *KafkaSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sp != nil {
		err := s.sp.Close()
		s.sp = nil
		return err
	}
	return nil
}

var _ Sink = (*KafkaSink)(nil)
