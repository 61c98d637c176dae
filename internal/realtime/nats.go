// Package realtime carries ingestion jobs and status events over NATS
// and fans status events out to websocket clients.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/altiviz/datachat/internal/storage"
)

// Stream names for JetStream.
const (
	StreamIngest = "INGEST"
	StreamStatus = "STATUS"
)

// Subject patterns for event routing.
const (
	SubjectIngestDocument = "ingest.document"
	SubjectDocumentStatus = "status.document"
)

// IngestQueue is the queue group worker processes share; one worker
// handles each job.
const IngestQueue = "ingest-workers"

// Redelivery policy for ingest jobs. Transient failures back off before
// retrying; after maxDeliveries the job is dead.
const (
	ingestMaxDeliveries = 5
	ingestRetryDelay    = 30 * time.Second
)

// ErrTerminalJob marks a handler failure that redelivery cannot fix.
// The consumer terminates the message instead of requeueing it.
var ErrTerminalJob = errors.New("terminal job failure")

// IngestJob asks a worker to process an uploaded document.
type IngestJob struct {
	DocumentID uuid.UUID `json:"document_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// DocumentStatusEvent announces a document status transition.
type DocumentStatusEvent struct {
	DocumentID uuid.UUID              `json:"document_id"`
	Status     storage.DocumentStatus `json:"status"`
	Message    string                 `json:"message,omitempty"`
	At         time.Time              `json:"at"`
}

// NATSConfig holds NATS connection configuration.
type NATSConfig struct {
	URL            string
	Name           string
	MaxReconnects  int
	ReconnectWait  time.Duration
	ConnectTimeout time.Duration
}

// DefaultNATSConfig returns a sensible default configuration.
func DefaultNATSConfig(url string) NATSConfig {
	if url == "" {
		url = nats.DefaultURL
	}
	return NATSConfig{
		URL:            url,
		Name:           "datachat",
		MaxReconnects:  -1,
		ReconnectWait:  2 * time.Second,
		ConnectTimeout: 10 * time.Second,
	}
}

// NATSClient wraps the NATS connection and JetStream context.
type NATSClient struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	config NATSConfig
	logger *slog.Logger
	mu     sync.Mutex
	subs   []*nats.Subscription
}

// NewNATSClient connects and initializes JetStream.
func NewNATSClient(cfg NATSConfig, logger *slog.Logger) (*NATSClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client := &NATSClient{
		config: cfg,
		logger: logger.With("component", "nats"),
	}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.ConnectTimeout),
		nats.DisconnectErrHandler(func(conn *nats.Conn, err error) {
			if err != nil {
				client.logger.Warn("disconnected from NATS", "error", err)
			}
		}),
		nats.ReconnectHandler(func(conn *nats.Conn) {
			client.logger.Info("reconnected to NATS", "url", conn.ConnectedUrl())
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := conn.JetStream(nats.PublishAsyncMaxPending(256))
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	client.conn = conn
	client.js = js
	client.logger.Info("connected to NATS", "url", cfg.URL)
	return client, nil
}

// SetupStreams creates or updates the required JetStream streams.
func (c *NATSClient) SetupStreams(ctx context.Context) error {
	streams := []nats.StreamConfig{
		{
			Name:        StreamIngest,
			Description: "Document ingestion jobs",
			Subjects:    []string{"ingest.>"},
			Storage:     nats.FileStorage,
			Retention:   nats.WorkQueuePolicy,
			MaxAge:      24 * time.Hour,
			Replicas:    1,
		},
		{
			Name:        StreamStatus,
			Description: "Document status transitions",
			Subjects:    []string{"status.>"},
			Storage:     nats.MemoryStorage,
			Retention:   nats.LimitsPolicy,
			MaxAge:      time.Hour,
			Replicas:    1,
			Discard:     nats.DiscardOld,
		},
	}

	for _, cfg := range streams {
		_, err := c.js.StreamInfo(cfg.Name)
		if errors.Is(err, nats.ErrStreamNotFound) {
			if _, err := c.js.AddStream(&cfg); err != nil {
				return fmt.Errorf("failed to create stream %s: %w", cfg.Name, err)
			}
			c.logger.Info("created stream", "stream", cfg.Name)
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to get stream info for %s: %w", cfg.Name, err)
		}
		if _, err := c.js.UpdateStream(&cfg); err != nil {
			c.logger.Warn("failed to update stream", "stream", cfg.Name, "error", err)
		}
	}
	return nil
}

func (c *NATSClient) publish(ctx context.Context, subject string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if _, err := c.js.Publish(subject, data, nats.Context(ctx)); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	c.logger.Debug("published event", "subject", subject, "size", len(data))
	return nil
}

// EnqueueIngest publishes an ingestion job for a worker to pick up.
func (c *NATSClient) EnqueueIngest(ctx context.Context, docID uuid.UUID) error {
	return c.publish(ctx, SubjectIngestDocument, IngestJob{
		DocumentID: docID,
		EnqueuedAt: time.Now().UTC(),
	})
}

// NotifyDocumentStatus publishes a status transition. Failures are
// logged, not returned: status events are advisory and must never fail
// the pipeline.
func (c *NATSClient) NotifyDocumentStatus(ctx context.Context, docID uuid.UUID, status storage.DocumentStatus, message string) {
	event := DocumentStatusEvent{
		DocumentID: docID,
		Status:     status,
		Message:    message,
		At:         time.Now().UTC(),
	}
	if err := c.publish(ctx, SubjectDocumentStatus, event); err != nil {
		c.logger.Warn("failed to publish status event", "document_id", docID, "error", err)
	}
}

// ConsumeIngestJobs starts a durable queue subscription delivering
// ingestion jobs to handler. Transient handler errors requeue the
// message with a delay, up to the delivery cap; ErrTerminalJob failures
// are terminated so a permanently broken document cannot loop.
func (c *NATSClient) ConsumeIngestJobs(ctx context.Context, handler func(ctx context.Context, job IngestJob) error) error {
	sub, err := c.js.QueueSubscribe(SubjectIngestDocument, IngestQueue, func(msg *nats.Msg) {
		var job IngestJob
		if err := json.Unmarshal(msg.Data, &job); err != nil {
			c.logger.Error("dropping malformed ingest job", "error", err)
			_ = msg.Term()
			return
		}
		if err := handler(ctx, job); err != nil {
			if errors.Is(err, ErrTerminalJob) {
				c.logger.Error("ingest job failed permanently", "document_id", job.DocumentID, "error", err)
				_ = msg.Term()
				return
			}
			c.logger.Error("ingest job failed, will retry", "document_id", job.DocumentID, "error", err)
			_ = msg.NakWithDelay(ingestRetryDelay)
			return
		}
		_ = msg.Ack()
	}, nats.Durable("ingest-worker"), nats.ManualAck(), nats.MaxDeliver(ingestMaxDeliveries))
	if err != nil {
		return fmt.Errorf("failed to subscribe to ingest jobs: %w", err)
	}

	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()
	return nil
}

// SubscribeStatus delivers document status events to handler. Each
// subscriber gets every event.
func (c *NATSClient) SubscribeStatus(handler func(event DocumentStatusEvent)) error {
	sub, err := c.js.Subscribe(SubjectDocumentStatus, func(msg *nats.Msg) {
		var event DocumentStatusEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			c.logger.Error("dropping malformed status event", "error", err)
			return
		}
		handler(event)
	}, nats.DeliverNew())
	if err != nil {
		return fmt.Errorf("failed to subscribe to status events: %w", err)
	}

	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()
	return nil
}

// IsConnected reports connection health.
func (c *NATSClient) IsConnected() bool {
	return c.conn != nil && c.conn.IsConnected()
}

// Close drains subscriptions and closes the connection.
func (c *NATSClient) Close() error {
	c.mu.Lock()
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Drain(); err != nil {
			c.logger.Warn("failed to drain subscription", "subject", sub.Subject, "error", err)
		}
	}
	if c.conn != nil {
		return c.conn.Drain()
	}
	return nil
}
