package main

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	"github.com/angelmondragon/tradeloop-backend/pkg/config"
	"github.com/angelmondragon/tradeloop-backend/pkg/db/models"
	"github.com/angelmondragon/tradeloop-backend/pkg/logger"
	"github.com/angelmondragon/tradeloop-backend/pkg/outbox"
	"github.com/angelmondragon/tradeloop-backend/pkg/tracing"
)

const (
	publishTimeout = 15 * time.Second
	maxBackoff     = 10 * time.Second
	jitterWindow   = 250 * time.Millisecond

	resultPublished    = "published"
	resultRetry        = "retry"
	reasonNonRetryable = "non_retryable"
	reasonMaxAttempts  = "max_attempts"
)

type dbClient interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type pubSubClient interface {
	Ping(context.Context) error
	Publisher(name string) *gcppubsub.Publisher
}

type outboxRepository interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type registryResolver interface {
	Resolve(models.OutboxEvent) (*outbox.ResolvedEvent, error)
}

type ServiceParams struct {
	Config           *config.Config
	Logger           *logger.Logger
	DB               dbClient
	PubSub           pubSubClient
	Repository       outboxRepository
	Registry         registryResolver
	PublisherFactory publisherFactory
	// Results counts publish outcomes by result label; optional.
	Results *prometheus.CounterVec
}

// Service drains outbox_events to Pub/Sub. Each batch runs in one transaction
// holding row locks so concurrent publishers never claim the same rows.
type Service struct {
	logg             *logger.Logger
	db               dbClient
	pubsub           pubSubClient
	repo             outboxRepository
	registry         registryResolver
	publisherFactory publisherFactory
	results          *prometheus.CounterVec
	batchSize        int
	maxAttempts      int
	pollInterval     time.Duration
	jitter           *rand.Rand
}

func NewService(p ServiceParams) (*Service, error) {
	for name, missing := range map[string]bool{
		"config":            p.Config == nil,
		"logger":            p.Logger == nil,
		"database client":   p.DB == nil,
		"pubsub client":     p.PubSub == nil,
		"outbox repository": p.Repository == nil,
		"event registry":    p.Registry == nil,
	} {
		if missing {
			return nil, fmt.Errorf("%s is required", name)
		}
	}

	factory := p.PublisherFactory
	if factory == nil {
		factory = pubsubPublishers(p.PubSub)
	}
	cfg := p.Config.Outbox
	return &Service{
		logg:             p.Logger,
		db:               p.DB,
		pubsub:           p.PubSub,
		repo:             p.Repository,
		registry:         p.Registry,
		publisherFactory: factory,
		results:          p.Results,
		batchSize:        positiveOr(cfg.BatchSize, 50),
		maxAttempts:      positiveOr(cfg.MaxAttempts, 10),
		pollInterval:     positiveOr(cfg.PollInterval, 500*time.Millisecond),
		jitter:           rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// Run polls until ctx ends. A full batch loops immediately; an empty one
// waits a poll interval; a failed one backs off exponentially.
func (s *Service) Run(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	if err := s.pubsub.Ping(ctx); err != nil {
		return fmt.Errorf("pubsub ping failed: %w", err)
	}

	delay := s.pollInterval
	for ctx.Err() == nil {
		busy, err := s.processBatch(ctx)
		switch {
		case err != nil:
			s.logg.Error(ctx, "outbox batch failed", err)
			delay = nextBackoff(delay, s.pollInterval, maxBackoff)
		case busy:
			delay = s.pollInterval
			continue
		default:
			delay = s.pollInterval
		}
		if err := s.wait(ctx, delay); err != nil {
			break
		}
	}
	s.logg.Info(ctx, "outbox publisher stopping")
	return ctx.Err()
}

// processBatch reports whether any rows were claimed.
func (s *Service) processBatch(ctx context.Context) (bool, error) {
	var claimed int
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := s.repo.FetchUnpublishedForPublish(tx, s.batchSize, s.maxAttempts)
		if err != nil {
			return fmt.Errorf("claim outbox rows: %w", err)
		}
		claimed = len(rows)
		for _, row := range rows {
			if err := s.dispatch(ctx, tx, row); err != nil {
				return err
			}
		}
		return nil
	})
	return claimed > 0, err
}

// dispatch publishes one row and records the outcome. Only repository
// failures are returned; publish failures are recorded on the row.
func (s *Service) dispatch(ctx context.Context, tx *gorm.DB, row models.OutboxEvent) (err error) {
	ctx, span := tracing.Start(ctx, "outbox.publish",
		attribute.String("outbox.id", row.ID.String()),
		attribute.String("outbox.event_type", string(row.EventType)),
		attribute.Int("outbox.attempt", row.AttemptCount+1),
	)
	defer func() { tracing.End(span, err) }()

	ctx = s.logg.WithFields(ctx, map[string]any{
		"outbox_id":      row.ID.String(),
		"event_type":     row.EventType,
		"aggregate_type": row.AggregateType,
		"aggregate_id":   row.AggregateID.String(),
		"attempt_count":  row.AttemptCount,
	})

	resolved, err := s.registry.Resolve(row)
	if err != nil {
		return s.park(ctx, tx, row, reasonNonRetryable, err)
	}
	ctx = s.logg.WithFields(ctx, map[string]any{"topic": resolved.Topic, "event_id": resolved.Envelope.EventID})

	pubErr := s.publish(ctx, row, resolved)
	var nonRetryable outbox.NonRetryableError
	switch {
	case pubErr == nil:
		if err := s.repo.MarkPublishedTx(tx, row.ID); err != nil {
			return fmt.Errorf("mark published %s: %w", row.ID, err)
		}
		s.count(resultPublished)
		s.logg.Info(ctx, "outbox event published")
		return nil
	case errors.As(pubErr, &nonRetryable):
		return s.park(ctx, tx, row, reasonNonRetryable, pubErr)
	case row.AttemptCount+1 >= s.maxAttempts:
		return s.park(ctx, tx, row, reasonMaxAttempts, fmt.Errorf("gave up after %d attempts: %w", s.maxAttempts, pubErr))
	}

	s.logg.Warn(s.logg.WithField(ctx, "error", pubErr.Error()), "outbox publish failed, will retry")
	s.count(resultRetry)
	if err := s.repo.MarkFailedTx(tx, row.ID, pubErr); err != nil {
		return fmt.Errorf("mark failed %s: %w", row.ID, err)
	}
	return nil
}

// park leaves a row that will never publish in place with attempt_count at
// the ceiling so the claim query skips it until an operator resets it.
func (s *Service) park(ctx context.Context, tx *gorm.DB, row models.OutboxEvent, reason string, cause error) error {
	ctx = s.logg.WithFields(ctx, map[string]any{"terminal_reason": reason, "error": cause.Error()})
	s.logg.Warn(ctx, "outbox event parked")
	s.count(reason)
	if err := s.repo.MarkTerminalTx(tx, row.ID, cause, s.maxAttempts); err != nil {
		return fmt.Errorf("mark terminal %s: %w", row.ID, err)
	}
	return nil
}

func (s *Service) publish(ctx context.Context, row models.OutboxEvent, resolved *outbox.ResolvedEvent) error {
	pub := s.publisherFactory(resolved.Topic)
	if pub == nil {
		return outbox.NonRetryableError{Err: fmt.Errorf("no publisher for topic %s", resolved.Topic)}
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	res := pub.Publish(ctx, newMessage(ctx, row, resolved.Envelope))
	if res == nil {
		return outbox.NonRetryableError{Err: fmt.Errorf("publisher for %s returned no result", resolved.Topic)}
	}
	_, err := res.Get(ctx)
	return err
}

func newMessage(ctx context.Context, row models.OutboxEvent, env outbox.PayloadEnvelope) *gcppubsub.Message {
	attrs := map[string]string{
		"event_id":       env.EventID,
		"event_type":     string(row.EventType),
		"aggregate_type": string(row.AggregateType),
		"aggregate_id":   row.AggregateID.String(),
		"created_at":     row.CreatedAt.Format(time.RFC3339Nano),
	}
	// Prefer the producer's trace so subscribers join the originating request.
	if id := cmp.Or(env.TraceID, tracing.TraceID(ctx)); id != "" {
		attrs["trace_id"] = id
	}
	return &gcppubsub.Message{Data: row.Payload, Attributes: attrs}
}

func (s *Service) count(result string) {
	if s.results != nil {
		s.results.WithLabelValues(result).Inc()
	}
}

func (s *Service) wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d + time.Duration(s.jitter.Int63n(int64(jitterWindow))))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func nextBackoff(current, base, limit time.Duration) time.Duration {
	if current <= 0 {
		current = base
	}
	return min(current*2, limit)
}

func positiveOr[T int | time.Duration](v, fallback T) T {
	if v > 0 {
		return v
	}
	return fallback
}
