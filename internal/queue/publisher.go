// Package queue publishes and describes resync work items.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// ResyncMessage asks the consumer to re-fetch one activity for one user.
type ResyncMessage struct {
	RequestTime time.Time `json:"request_time"`
	UserID      string    `json:"user_id"`
	ActivityID  int64     `json:"activity_id"`
}

// Publisher lazily manages writers per topic.
type Publisher struct {
	brokers []string
	mu      sync.Mutex
	writers map[string]*kafka.Writer
}

// NewPublisher creates a Publisher.
func NewPublisher(brokers []string) *Publisher {
	return &Publisher{
		brokers: brokers,
		writers: make(map[string]*kafka.Writer),
	}
}

// PublishResync enqueues one message per activity id, keyed by user and
// activity so replays land on the same partition.
func (p *Publisher) PublishResync(ctx context.Context, topic, userID string, activityIDs []int64) error {
	if len(activityIDs) == 0 {
		return nil
	}

	requestTime := time.Now().UTC()
	msgs := make([]kafka.Message, 0, len(activityIDs))
	for _, activityID := range activityIDs {
		body, err := json.Marshal(ResyncMessage{
			RequestTime: requestTime,
			UserID:      userID,
			ActivityID:  activityID,
		})
		if err != nil {
			return err
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(fmt.Sprintf("%s:%d", userID, activityID)),
			Value: body,
		})
	}

	writer := p.writerForTopic(topic)
	if err := writer.WriteMessages(ctx, msgs...); err != nil {
		return err
	}
	recordPublished(topic, len(msgs))
	return nil
}

func (p *Publisher) writerForTopic(topic string) *kafka.Writer {
	p.mu.Lock()
	defer p.mu.Unlock()

	if writer, ok := p.writers[topic]; ok {
		return writer
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(p.brokers...),
		Topic:        topic,
		RequiredAcks: kafka.RequireAll,
		Compression:  kafka.Snappy,
		Async:        false,
	}
	p.writers[topic] = writer
	return writer
}

// Close releases all writers.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for topic, writer := range p.writers {
		if err := writer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(p.writers, topic)
	}
	return firstErr
}
