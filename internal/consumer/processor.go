// Package consumer pulls resync work items off Kafka and replays them against
// the upstream API.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/segmentio/kafka-go"

	"example.com/stravasync/internal/queue"
)

// Reader exposes the minimal kafka.Reader interface needed by the processor.
type Reader interface {
	FetchMessage(context.Context) (kafka.Message, error)
	CommitMessages(context.Context, ...kafka.Message) error
	Close() error
}

// Handler receives decoded resync messages.
type Handler interface {
	Handle(context.Context, Message) error
}

// Message is the decoded representation of one resync work item.
type Message struct {
	Topic       string
	Partition   int
	Offset      int64
	Timestamp   time.Time
	RequestTime time.Time
	UserID      string
	ActivityID  int64
}

// Option configures optional behaviour for the Processor.
type Option func(*Processor)

// WithLogger overrides the logger used to report errors.
func WithLogger(logger *log.Logger) Option {
	return func(p *Processor) {
		p.logger = logger
	}
}

// Processor pulls messages from Kafka, decodes them, and dispatches to a Handler.
type Processor struct {
	reader  Reader
	handler Handler
	logger  *log.Logger
}

// NewProcessor constructs a Processor with the provided reader and handler.
func NewProcessor(reader Reader, handler Handler, opts ...Option) *Processor {
	p := &Processor{
		reader:  reader,
		handler: handler,
		logger:  log.New(log.Writer(), "[consumer] ", log.LstdFlags|log.Lshortfile),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run starts a blocking loop that processes Kafka messages until the context is cancelled.
func (p *Processor) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msg, err := p.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			p.logger.Printf("fetch error: %v", err)
			continue
		}

		work, decodeErr := decodeMessage(msg)
		if decodeErr != nil {
			p.logger.Printf("decode error (topic=%s, partition=%d, offset=%d): %v", msg.Topic, msg.Partition, msg.Offset, decodeErr)
			recordDecodeError(msg.Topic)
			// Commit malformed messages to avoid poison-pill loops.
			if commitErr := p.reader.CommitMessages(ctx, msg); commitErr != nil {
				p.logger.Printf("commit error after decode failure: %v", commitErr)
			}
			continue
		}

		if handleErr := p.handler.Handle(ctx, work); handleErr != nil {
			p.logger.Printf("handler error (user=%s, activity=%d): %v", work.UserID, work.ActivityID, handleErr)
			recordHandlerError(work)
			continue
		}

		if commitErr := p.reader.CommitMessages(ctx, msg); commitErr != nil {
			p.logger.Printf("commit error: %v", commitErr)
		} else {
			recordProcessed(work)
		}
	}
}

func decodeMessage(msg kafka.Message) (Message, error) {
	var body queue.ResyncMessage
	if err := json.Unmarshal(msg.Value, &body); err != nil {
		return Message{}, err
	}
	if body.UserID == "" {
		return Message{}, errors.New("missing user_id")
	}
	if body.ActivityID <= 0 {
		return Message{}, errors.New("missing activity_id")
	}

	return Message{
		Topic:       msg.Topic,
		Partition:   msg.Partition,
		Offset:      msg.Offset,
		Timestamp:   msg.Time,
		RequestTime: body.RequestTime,
		UserID:      body.UserID,
		ActivityID:  body.ActivityID,
	}, nil
}
