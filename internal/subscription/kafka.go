package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/catalog-kml/internal/core/model"
	"github.com/mohammed-shakir/catalog-kml/internal/core/observability"
)

var ErrSinkClosed = errors.New("kafka sink closed")

// Event is the message published for every registration change.
// Registration state is keyed by subscription id, so a compacted topic keeps
// the live registration of each id; change notifications use their own key.
type Event struct {
	Op           string       `json:"op"` // "register", "unregister" or "changed"
	Subscription string       `json:"subscription"`
	Token        string       `json:"token,omitempty"`
	Entry        string       `json:"entry,omitempty"`
	Delivery     string       `json:"delivery,omitempty"`
	Query        *model.Query `json:"query,omitempty"`
	TS           time.Time    `json:"ts"`
}

func (ev Event) key() string {
	if ev.Op == "changed" {
		return ev.Subscription + "/changed"
	}
	return ev.Subscription
}

// KafkaSink publishes registration events without blocking the caller. When
// the queue is full the event is dropped and the call fails. Releasing a
// registration that a newer one for the same id has replaced publishes
// nothing, so the last state event per id is always the live one.
type KafkaSink struct {
	topic   string
	events  chan Event
	prod    sarama.AsyncProducer
	log     *slog.Logger
	now     func() time.Time
	mu      sync.RWMutex
	closed  bool
	stopped chan struct{}

	liveMu sync.Mutex
	live   map[string]string // subscription id -> token of its newest registration
}

// NewKafkaProducer builds the async producer KafkaSink expects.
func NewKafkaProducer(brokers []string) (sarama.AsyncProducer, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Producer.Return.Errors = true
	cfg.Producer.Return.Successes = false
	cfg.Producer.RequiredAcks = sarama.WaitForLocal

	prod, err := sarama.NewAsyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("subscription: create async producer: %w", err)
	}
	return prod, nil
}

func NewKafkaSink(prod sarama.AsyncProducer, topic string, queueSize int, log *slog.Logger) *KafkaSink {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if log == nil {
		log = slog.Default()
	}
	s := &KafkaSink{
		topic:   topic,
		events:  make(chan Event, queueSize),
		prod:    prod,
		log:     log,
		now:     time.Now,
		stopped: make(chan struct{}),
		live:    make(map[string]string),
	}

	go func() {
		defer close(s.stopped)
		for ev := range s.events {
			b, err := json.Marshal(ev)
			if err != nil {
				s.log.Error("subscription event marshal failed", "subscription_id", ev.Subscription, "err", err)
				continue
			}
			s.prod.Input() <- &sarama.ProducerMessage{
				Topic: s.topic,
				Key:   sarama.StringEncoder(ev.key()),
				Value: sarama.ByteEncoder(b),
			}
		}
	}()

	go func() {
		for err := range s.prod.Errors() {
			if err != nil {
				s.log.Warn("subscription event publish failed", "topic", s.topic, "err", err)
			}
		}
	}()

	return s
}

func (s *KafkaSink) Register(_ context.Context, sub Subscription) (Registration, error) {
	ev := Event{
		Op:           "register",
		Subscription: sub.ID,
		Token:        sub.Token,
		Delivery:     sub.DeliveryKind(),
		Query:        sub.Query,
		TS:           s.now().UTC(),
	}
	s.liveMu.Lock()
	defer s.liveMu.Unlock()
	if err := s.publish(ev); err != nil {
		return nil, err
	}
	s.live[sub.ID] = sub.Token
	return &kafkaRegistration{sink: s, id: sub.ID, token: sub.Token}, nil
}

func (s *KafkaSink) publish(ev Event) error {
	start := time.Now()
	s.mu.RLock()
	defer s.mu.RUnlock()
	var err error
	if s.closed {
		err = ErrSinkClosed
	} else {
		select {
		case s.events <- ev:
		default:
			err = fmt.Errorf("subscription %q: kafka queue full, %s event dropped", ev.Subscription, ev.Op)
		}
	}
	observability.ObserveSinkOp("kafka", ev.Op, err, start)
	return err
}

// Notify publishes a "changed" event for each subscription whose area a
// catalog change to entryID touched.
func (s *KafkaSink) Notify(_ context.Context, ids []string, entryID string) error {
	var errs []error
	for _, id := range ids {
		err := s.publish(Event{Op: "changed", Subscription: id, Entry: entryID, TS: s.now().UTC()})
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close drains queued events and closes the producer.
func (s *KafkaSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.events)
	s.mu.Unlock()
	<-s.stopped

	if err := s.prod.Close(); err != nil {
		return fmt.Errorf("subscription: close producer: %w", err)
	}
	return nil
}

type kafkaRegistration struct {
	sink  *KafkaSink
	id    string
	token string
	done  atomic.Bool
}

func (r *kafkaRegistration) Unregister(context.Context) error {
	if !r.done.CompareAndSwap(false, true) {
		return ErrAlreadyUnregistered
	}
	s := r.sink
	s.liveMu.Lock()
	defer s.liveMu.Unlock()
	if cur, ok := s.live[r.id]; ok && cur != r.token {
		return nil
	}
	if err := s.publish(Event{
		Op:           "unregister",
		Subscription: r.id,
		Token:        r.token,
		TS:           s.now().UTC(),
	}); err != nil {
		return err
	}
	delete(s.live, r.id)
	return nil
}
