package kafka

import (
	"context"
	"errors"
	"strings"
	"time"

	"OmniIngest/internal/modules/ingest/infrastructure/mq"

	"github.com/IBM/sarama"
)

type PublisherConfig struct {
	Brokers  []string
	ClientID string
}

type saramaPublisher struct {
	p sarama.SyncProducer
}

func NewPublisher(cfg PublisherConfig) (mq.Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers is empty")
	}

	sc := sarama.NewConfig()
	sc.Version = sarama.V2_8_0_0
	sc.Producer.Return.Successes = true
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Retry.Max = 10
	sc.Producer.Retry.Backoff = 100 * time.Millisecond
	sc.Producer.Idempotent = true
	sc.Net.MaxOpenRequests = 1
	sc.Producer.Partitioner = sarama.NewHashPartitioner
	sc.ClientID = strings.TrimSpace(cfg.ClientID)

	p, err := sarama.NewSyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, err
	}
	return &saramaPublisher{p: p}, nil
}

func (s *saramaPublisher) Publish(ctx context.Context, msg mq.Message) error {
	if ctx != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	if strings.TrimSpace(msg.Topic) == "" {
		return errors.New("kafka topic is empty")
	}

	_, _, err := s.p.SendMessage(&sarama.ProducerMessage{
		Topic: msg.Topic,
		Key:   sarama.ByteEncoder(msg.Key),
		Value: sarama.ByteEncoder(msg.Value),
	})
	return err
}

func (s *saramaPublisher) Close() error {
	if s == nil || s.p == nil {
		return nil
	}
	return s.p.Close()
}
