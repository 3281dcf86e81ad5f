// Package refreshevents publishes per-tile refresh outcomes to Kafka.
package refreshevents

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/quadtile-crawler/internal/core/observability"
)

type Event struct {
	TileIndex string    `json:"tile_index"`
	Region    string    `json:"region"`
	OK        bool      `json:"ok"`
	TS        time.Time `json:"ts"`
}

type Publisher struct {
	topic   string
	log     *slog.Logger
	events  chan Event
	prod    sarama.AsyncProducer
	stopped chan struct{}
	errsEnd chan struct{}
}

func NewPublisher(brokers []string, topic string, queueSize int, log *slog.Logger) (*Publisher, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Producer.Return.Errors = true
	cfg.Producer.Return.Successes = false
	cfg.Producer.RequiredAcks = sarama.WaitForLocal

	prod, err := sarama.NewAsyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("refreshevents: create async producer: %w", err)
	}
	return NewPublisherWithProducer(prod, topic, queueSize, log), nil
}

// NewPublisherWithProducer wraps an existing producer; Close closes it.
func NewPublisherWithProducer(prod sarama.AsyncProducer, topic string, queueSize int, log *slog.Logger) *Publisher {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if log == nil {
		log = slog.Default()
	}
	p := &Publisher{
		topic:   topic,
		log:     log,
		events:  make(chan Event, queueSize),
		prod:    prod,
		stopped: make(chan struct{}),
		errsEnd: make(chan struct{}),
	}

	go func() {
		defer close(p.stopped)
		for ev := range p.events {
			b, err := json.Marshal(ev)
			if err != nil {
				p.log.Warn("refresh event marshal failed", "tile", ev.TileIndex, "err", err)
				observability.IncRefreshEvent("marshal_error")
				continue
			}
			p.prod.Input() <- &sarama.ProducerMessage{
				Topic: p.topic,
				Key:   sarama.StringEncoder(ev.TileIndex),
				Value: sarama.ByteEncoder(b),
			}
		}
	}()

	go func() {
		defer close(p.errsEnd)
		for err := range p.prod.Errors() {
			if err != nil {
				p.log.Warn("refresh event producer error", "err", err)
				observability.IncRefreshEvent("producer_error")
			}
		}
	}()

	return p
}

// Publish never blocks the crawl; a full queue drops the event.
func (p *Publisher) Publish(ev Event) {
	select {
	case p.events <- ev:
		observability.IncRefreshEvent("queued")
	default:
		observability.IncRefreshEvent("dropped")
	}
}

func (p *Publisher) Close() error {
	close(p.events)
	<-p.stopped

	if err := p.prod.Close(); err != nil {
		return fmt.Errorf("refreshevents: close producer: %w", err)
	}
	<-p.errsEnd
	return nil
}
