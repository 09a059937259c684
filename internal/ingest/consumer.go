package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/darkace1998/video-pipeline/internal/lifecycle"
	"github.com/darkace1998/video-pipeline/internal/logger"
	"github.com/darkace1998/video-pipeline/internal/models"
	"github.com/darkace1998/video-pipeline/internal/pinning"
)

const ackWait = 5 * time.Minute

// Completer handles one upload-finished event
type Completer interface {
	CompleteUpload(ctx context.Context, c Completion) (*models.EncodingJob, error)
}

type disposition int

const (
	dispositionAck disposition = iota
	dispositionNak
	dispositionTerm
)

// Consumer feeds upload-finished events from a JetStream durable consumer
// into the ingest service
type Consumer struct {
	nc        *nats.Conn
	js        nats.JetStreamContext
	sub       *nats.Subscription
	subject   string
	durable   string
	completer Completer
	log       *logger.ComponentLogger
}

// NewConsumer connects to NATS and binds a JetStream context
func NewConsumer(url, subject, durable string, completer Completer) (*Consumer, error) {
	nc, err := nats.Connect(url, nats.Name(durable))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create jetstream context: %w", err)
	}

	return &Consumer{
		nc:        nc,
		js:        js,
		subject:   subject,
		durable:   durable,
		completer: completer,
		log:       logger.NewComponentLogger("ingest-consumer"),
	}, nil
}

// Start subscribes with manual acks. Handlers run on the parent context's
// values but are not cancelled by it, so an in-flight completion finishes
// during drain.
func (c *Consumer) Start(ctx context.Context) error {
	base := context.WithoutCancel(ctx)
	sub, err := c.js.Subscribe(c.subject, func(m *nats.Msg) {
		c.handle(base, m)
	}, nats.Durable(c.durable), nats.ManualAck(), nats.AckWait(ackWait))
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", c.subject, err)
	}
	c.sub = sub
	c.log.Info("Subscribed to upload events", "subject", c.subject, "durable", c.durable)
	return nil
}

// Close drains the subscription and the connection
func (c *Consumer) Close() error {
	if c.sub != nil {
		if err := c.sub.Drain(); err != nil {
			c.log.Warn("Failed to drain subscription", "error", err)
		}
	}
	if err := c.nc.Drain(); err != nil {
		return fmt.Errorf("failed to drain nats connection: %w", err)
	}
	return nil
}

func (c *Consumer) handle(parent context.Context, m *nats.Msg) {
	ctx := logger.ContextWithCorrelationID(parent, logger.NewCorrelationID())
	log := c.log.WithContext(ctx)

	completion, err := decodeCompletion(m.Data)
	if err == nil {
		_, err = c.completer.CompleteUpload(ctx, completion)
	}

	var ackErr error
	switch classify(err) {
	case dispositionAck:
		if err != nil {
			log.Warn("Upload event dropped", "permlink", completion.Permlink, "error", err)
		}
		ackErr = m.Ack()
	case dispositionTerm:
		log.Error("Malformed upload event", "error", err)
		ackErr = m.Term()
	default:
		log.Error("Upload event failed, redelivering", "permlink", completion.Permlink, "error", err)
		ackErr = m.Nak()
	}
	if ackErr != nil {
		log.Warn("Failed to acknowledge upload event", "error", ackErr)
	}
}

func decodeCompletion(data []byte) (Completion, error) {
	var c Completion
	if err := json.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("%w: %v", ErrInvalidUpload, err)
	}
	if c.Owner == "" || c.Permlink == "" || c.LocalFilePath == "" {
		return c, fmt.Errorf("%w: owner, permlink and local_file_path are required", ErrInvalidUpload)
	}
	return c, nil
}

// classify decides whether an event is finished with or worth redelivering.
// Events that can never succeed are acked so they do not loop. A failed pin
// is acked only once the video has been marked failed.
func classify(err error) disposition {
	switch {
	case errors.Is(err, ErrFailureNotRecorded):
		return dispositionNak
	case err == nil,
		errors.Is(err, lifecycle.ErrNotFound),
		errors.Is(err, lifecycle.ErrInvalidTransition),
		errors.Is(err, lifecycle.ErrVideoDeleted),
		errors.Is(err, ErrDuplicateJob),
		errors.Is(err, pinning.ErrPinFailed),
		errors.Is(err, ErrOwnerMismatch):
		return dispositionAck
	case errors.Is(err, ErrInvalidUpload):
		return dispositionTerm
	default:
		return dispositionNak
	}
}
