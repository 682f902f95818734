// Package events announces newly published index generations over Kafka and
// lets searchers hot-reload when one arrives.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/Adithya-Monish-Kumar-K/barrel-search/internal/store"
	"github.com/Adithya-Monish-Kumar-K/barrel-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/barrel-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/barrel-search/pkg/resilience"
)

// GenerationEvent is the payload of an index.complete message.
type GenerationEvent struct {
	Generation  string    `json:"generation"`
	Barrels     int       `json:"barrels"`
	Documents   int       `json:"documents"`
	Terms       int       `json:"terms"`
	PublishedAt time.Time `json:"published_at"`
}

// EventWriter is the subset of kafka.Producer the publisher needs.
type EventWriter interface {
	Publish(ctx context.Context, event kafka.Event) error
}

// Publisher announces generations.
type Publisher struct {
	writer EventWriter
	retry  resilience.RetryConfig
	logger *slog.Logger
}

func NewPublisher(writer EventWriter, retry resilience.RetryConfig) *Publisher {
	return &Publisher{
		writer: writer,
		retry:  retry,
		logger: slog.Default().With("component", "generation-publisher"),
	}
}

// GenerationPublished writes ev keyed by its generation ID, retrying with
// backoff.
func (p *Publisher) GenerationPublished(ctx context.Context, ev GenerationEvent) error {
	if ev.PublishedAt.IsZero() {
		ev.PublishedAt = time.Now().UTC()
	}
	err := resilience.Retry(ctx, "publish-generation", p.retry, func() error {
		return p.writer.Publish(ctx, kafka.Event{Key: ev.Generation, Value: ev})
	})
	if err != nil {
		return fmt.Errorf("announcing generation %s: %w", ev.Generation, err)
	}
	p.logger.Info("generation announced", "generation", ev.Generation)
	return nil
}

// Reloader is the engine surface the listener drives.
type Reloader interface {
	Generation() string
	Reload(ctx context.Context) (string, error)
}

// Listener reloads a searcher when a newer generation is announced.
type Listener struct {
	reloader Reloader
	logger   *slog.Logger
}

func NewListener(reloader Reloader) *Listener {
	return &Listener{
		reloader: reloader,
		logger:   slog.Default().With("component", "generation-listener"),
	}
}

// Handle is a kafka.MessageHandler. Events for the active generation or an
// older one are ignored. A failed reload returns an error so the message is
// not committed.
func (l *Listener) Handle(ctx context.Context, _ []byte, value []byte) error {
	ev, err := kafka.DecodeJSON[GenerationEvent](value)
	if err != nil {
		l.logger.Warn("dropping malformed generation event", "error", err)
		return nil
	}
	current := l.reloader.Generation()
	if !store.Newer(ev.Generation, current) {
		l.logger.Debug("ignoring stale generation event",
			"event_generation", ev.Generation,
			"active_generation", current,
		)
		return nil
	}
	loaded, err := l.reloader.Reload(ctx)
	if err != nil {
		return fmt.Errorf("reloading for generation %s: %w", ev.Generation, err)
	}
	l.logger.Info("reloaded after generation event",
		"event_generation", ev.Generation,
		"previous_generation", current,
		"active_generation", loaded,
	)
	return nil
}

// Run consumes the index-complete topic until ctx is cancelled. Each
// process joins its own consumer group so every replica sees every event.
func (l *Listener) Run(ctx context.Context, cfg config.KafkaConfig) error {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	group := fmt.Sprintf("%s-%s-%d", cfg.ConsumerGroup, host, os.Getpid())
	consumer := kafka.NewConsumer(cfg, cfg.Topics.IndexComplete, group, l.Handle)
	return consumer.Start(ctx)
}
