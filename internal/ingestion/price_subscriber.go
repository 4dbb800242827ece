package ingestion

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"CoverLedger/internal/observability"
	"CoverLedger/internal/oracle"
)

const (
	PriceStreamName  = "COVER_PRICES"
	PriceSubject     = "cover.prices.>"
	priceConsumer    = "coverledger-prices"
	dedupLRUCapacity = 100_000
)

// PriceSubscriber consumes streamed price updates from NATS JetStream and
// feeds the oracle cache. Duplicate publications (JetStream redelivery,
// upstream retries) are dropped by an LRU keyed on price_id and
// publish_time.
type PriceSubscriber struct {
	js       jetstream.JetStream
	cache    *oracle.CacheFeed
	dedup    *DedupLRU
	metrics  *observability.Metrics
	consumer jetstream.ConsumeContext
}

func NewPriceSubscriber(js jetstream.JetStream, cache *oracle.CacheFeed, metrics *observability.Metrics) *PriceSubscriber {
	return &PriceSubscriber{
		js:      js,
		cache:   cache,
		dedup:   NewDedupLRU(dedupLRUCapacity),
		metrics: metrics,
	}
}

// Subscribe creates the durable price consumer. Explicit ACK; malformed
// messages are ACKed and dropped rather than redelivered forever.
func (ps *PriceSubscriber) Subscribe(ctx context.Context) error {
	consumer, err := ps.js.CreateOrUpdateConsumer(ctx, PriceStreamName, jetstream.ConsumerConfig{
		Durable:       priceConsumer,
		FilterSubject: PriceSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", priceConsumer, err)
	}

	consumeCtx, err := consumer.Consume(func(msg jetstream.Msg) {
		quote, err := ParsePriceMessage(msg.Data())
		if err != nil {
			log.Printf("WARN: dropping malformed price message on %s: %v", msg.Subject(), err)
			msg.Ack()
			return
		}

		if ps.dedup.Contains(dedupKey(quote)) {
			if ps.metrics != nil {
				ps.metrics.PriceUpdateDedups.Inc()
			}
			msg.Ack()
			return
		}

		ps.cache.Update(quote)
		ps.dedup.Add(dedupKey(quote))
		if ps.metrics != nil {
			ps.metrics.PriceUpdates.WithLabelValues(quote.PriceID).Inc()
		}
		msg.Ack()
	})
	if err != nil {
		return fmt.Errorf("consume %s: %w", priceConsumer, err)
	}

	ps.consumer = consumeCtx
	log.Printf("INFO: subscribed to %s (consumer=%s)", PriceSubject, priceConsumer)
	return nil
}

// Stop gracefully stops the consumer.
func (ps *PriceSubscriber) Stop() {
	if ps.consumer != nil {
		ps.consumer.Stop()
	}
	log.Println("INFO: price subscriber stopped")
}

// EnsurePriceStream creates the inbound price stream if it doesn't exist.
func EnsurePriceStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      PriceStreamName,
		Subjects:  []string{PriceSubject},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", PriceStreamName, err)
	}
	log.Printf("INFO: ensured stream %s", PriceStreamName)
	return nil
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Printf("WARN: NATS disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Println("INFO: NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("create JetStream context: %w", err)
	}

	return nc, js, nil
}
