// Package publisher announces persisted records to downstream consumers.
package publisher

import (
	"context"
	"fmt"

	"github.com/JakeFAU/preprint-crawler/internal/ingest"
)

// Publisher sends one payload to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Notification is the message body sent for each record.
type Notification struct {
	RunID         string `json:"run_id"`
	Source        string `json:"source"`
	ID            string `json:"id"`
	Title         string `json:"title,omitempty"`
	CleanTextPath string `json:"clean_text_path,omitempty"`
}

// Notifier is a record sink that publishes a Notification per record.
type Notifier struct {
	pub   Publisher
	topic string
	runID string
	close func() error
}

// NewNotifier creates a Notifier. closeFn, if set, runs on Close.
func NewNotifier(pub Publisher, topic, runID string, closeFn func() error) (*Notifier, error) {
	if pub == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	return &Notifier{pub: pub, topic: topic, runID: runID, close: closeFn}, nil
}

// Name labels the sink in logs and metrics.
func (n *Notifier) Name() string { return "pubsub" }

// Append publishes the record notification and waits for the server ack.
func (n *Notifier) Append(ctx context.Context, rec ingest.Record) error {
	msg := Notification{
		RunID:         n.runID,
		Source:        rec.Source,
		ID:            rec.ID,
		Title:         rec.Title,
		CleanTextPath: rec.CleanTextPath,
	}
	if _, err := n.pub.Publish(ctx, n.topic, msg); err != nil {
		return fmt.Errorf("notify %s/%s: %w", rec.Source, rec.ID, err)
	}
	return nil
}

// Close implements ingest.RecordSink.
func (n *Notifier) Close() error {
	if n.close == nil {
		return nil
	}
	return n.close()
}
