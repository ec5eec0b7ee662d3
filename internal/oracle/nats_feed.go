package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"github.com/nats-io/nats.go/jetstream"
)

// priceMessage is the wire format on the price subject.
type priceMessage struct {
	Price     string    `json:"price"` // 18-decimal, as a decimal string
	Timestamp time.Time `json:"timestamp"`
}

// NATSFeed tracks the latest collateral price published on a JetStream
// subject. Price gaps and duplicates are tolerable: only the newest message
// matters, so the consumer uses DeliverNewPolicy and last-write-wins.
type NATSFeed struct {
	js       jetstream.JetStream
	stream   string
	subject  string
	consumer string

	mu       sync.RWMutex
	price    *uint256.Int
	updated  time.Time
	maxAge   time.Duration
	consume  jetstream.ConsumeContext
}

func NewNATSFeed(js jetstream.JetStream, stream, subject, consumer string, maxAge time.Duration) *NATSFeed {
	return &NATSFeed{
		js:       js,
		stream:   stream,
		subject:  subject,
		consumer: consumer,
		maxAge:   maxAge,
	}
}

// Subscribe creates the JetStream consumer and starts updating the feed.
func (f *NATSFeed) Subscribe(ctx context.Context) error {
	consumer, err := f.js.CreateOrUpdateConsumer(ctx, f.stream, jetstream.ConsumerConfig{
		Durable:       f.consumer,
		FilterSubject: f.subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("create price consumer %s: %w", f.consumer, err)
	}

	consumeCtx, err := consumer.Consume(func(msg jetstream.Msg) {
		defer msg.Ack()

		var pm priceMessage
		if err := json.Unmarshal(msg.Data(), &pm); err != nil {
			log.Printf("WARN: bad price message on %s: %v", msg.Subject(), err)
			return
		}

		price, err := uint256.FromDecimal(pm.Price)
		if err != nil || price.IsZero() {
			log.Printf("WARN: invalid price %q on %s", pm.Price, msg.Subject())
			return
		}

		f.mu.Lock()
		f.price = price
		f.updated = time.Now()
		f.mu.Unlock()
	})
	if err != nil {
		return fmt.Errorf("consume %s: %w", f.consumer, err)
	}

	f.consume = consumeCtx
	log.Printf("INFO: subscribed to price subject %s (consumer=%s)", f.subject, f.consumer)
	return nil
}

// Stop drains the consumer.
func (f *NATSFeed) Stop() {
	if f.consume != nil {
		f.consume.Stop()
	}
}

// Price returns the latest price, or ErrNoPrice when none has arrived yet or
// the last update is older than maxAge.
func (f *NATSFeed) Price() (*uint256.Int, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.price == nil {
		return nil, ErrNoPrice
	}
	if f.maxAge > 0 && time.Since(f.updated) > f.maxAge {
		return nil, fmt.Errorf("price is stale (age %s): %w", time.Since(f.updated), ErrNoPrice)
	}
	return new(uint256.Int).Set(f.price), nil
}
