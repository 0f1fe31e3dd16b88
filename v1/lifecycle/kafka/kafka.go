// Package kafka delivers lifecycle transitions through a single-partition
// Kafka topic. One partition keeps the stream totally ordered.
package kafka

import (
	"context"
	"sync"

	sarama "github.com/IBM/sarama"

	"github.com/mirkobrombin/go-lockguard/v1/lifecycle"
)

// DefaultTopic is the topic used when none is configured.
const DefaultTopic = "lockguard-lifecycle"

// Source implements lifecycle.Source and lifecycle.Publisher with a sarama
// producer and a single shared partition consumer fanned out to every
// subscription.
type Source struct {
	producer sarama.SyncProducer
	consumer sarama.Consumer
	topic    string
	client   sarama.Client

	mu   sync.Mutex
	pc   sarama.PartitionConsumer
	subs map[string]*lifecycle.Subscription
	stop chan struct{}
}

// New connects to brokers and returns a Source for topic.
func New(brokers []string, cfg *sarama.Config, topic string) (*Source, error) {
	if cfg == nil {
		cfg = sarama.NewConfig()
	}
	cfg.Producer.Return.Successes = true
	client, err := sarama.NewClient(brokers, cfg)
	if err != nil {
		return nil, err
	}
	producer, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = producer.Close()
		_ = client.Close()
		return nil, err
	}
	s := NewFromClients(producer, consumer, topic)
	s.client = client
	return s, nil
}

// NewFromClients builds a Source from existing sarama clients.
func NewFromClients(producer sarama.SyncProducer, consumer sarama.Consumer, topic string) *Source {
	if topic == "" {
		topic = DefaultTopic
	}
	return &Source{
		producer: producer,
		consumer: consumer,
		topic:    topic,
		subs:     make(map[string]*lifecycle.Subscription),
	}
}

// Publish implements lifecycle.Publisher.
func (s *Source) Publish(ctx context.Context, t lifecycle.Transition) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	name, err := t.MarshalText()
	if err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{Topic: s.topic, Partition: 0, Value: sarama.ByteEncoder(name)}
	_, _, err = s.producer.SendMessage(msg)
	return err
}

// Subscribe implements lifecycle.Source.
func (s *Source) Subscribe(ctx context.Context) (*lifecycle.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pc == nil {
		pc, err := s.consumer.ConsumePartition(s.topic, 0, sarama.OffsetNewest)
		if err != nil {
			return nil, err
		}
		s.pc = pc
		s.stop = make(chan struct{})
		go s.dispatch(pc, s.stop)
	}
	sub, err := lifecycle.NewSubscription(ctx, s.release)
	if err != nil {
		return nil, err
	}
	s.subs[sub.ID()] = sub
	return sub, nil
}

func (s *Source) release(sub *lifecycle.Subscription) error {
	s.mu.Lock()
	delete(s.subs, sub.ID())
	if len(s.subs) > 0 || s.pc == nil {
		s.mu.Unlock()
		return nil
	}
	pc := s.pc
	s.pc = nil
	close(s.stop)
	s.mu.Unlock()
	return pc.Close()
}

func (s *Source) dispatch(pc sarama.PartitionConsumer, stop <-chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-stop
		cancel()
	}()
	for msg := range pc.Messages() {
		t, err := lifecycle.ParseTransition(string(msg.Value))
		if err != nil {
			continue
		}
		s.mu.Lock()
		subs := make([]*lifecycle.Subscription, 0, len(s.subs))
		for _, sub := range s.subs {
			subs = append(subs, sub)
		}
		s.mu.Unlock()
		for _, sub := range subs {
			_ = sub.Deliver(ctx, t)
		}
	}
	cancel()
}

// Close releases the producer, the consumer and, when owned, the client.
func (s *Source) Close() error {
	s.mu.Lock()
	subs := make([]*lifecycle.Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()
	for _, sub := range subs {
		_ = sub.Close()
	}
	perr := s.producer.Close()
	cerr := s.consumer.Close()
	if s.client != nil {
		_ = s.client.Close()
	}
	if perr != nil {
		return perr
	}
	return cerr
}
