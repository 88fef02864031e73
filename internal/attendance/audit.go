package attendance

import (
	"context"
	"time"

	"github.com/segmentio/ksuid"

	"qrattend/internal/queue"
)

// Decision is the audit trail entry written for every admission attempt.
type Decision struct {
	ID        string    `json:"id" db:"id"`
	Kind      string    `json:"kind" db:"kind"`
	StudentID string    `json:"student_id,omitempty" db:"student_id"`
	EventID   string    `json:"event_id" db:"event_id"`
	Session   string    `json:"session" db:"session"`
	Action    string    `json:"action" db:"action"`
	Outcome   Outcome   `json:"outcome" db:"outcome"`
	Reason    Reason    `json:"reason,omitempty" db:"reason"`
	Matcher   string    `json:"matcher,omitempty" db:"matcher"`
	DecidedAt time.Time `json:"decided_at" db:"decided_at"`
}

func newDecision(kind string, at time.Time) Decision {
	return Decision{ID: ksuid.New().String(), Kind: kind, DecidedAt: at}
}

// Publisher ships decisions to the audit worker.
type Publisher interface {
	PublishDecision(ctx context.Context, d Decision) error
}

// QueuePublisher publishes decisions on a queue.
type QueuePublisher struct {
	q queue.Queue
}

// NewQueuePublisher wraps q.
func NewQueuePublisher(q queue.Queue) *QueuePublisher {
	return &QueuePublisher{q: q}
}

func (p *QueuePublisher) PublishDecision(ctx context.Context, d Decision) error {
	msg, err := queue.NewJSON(queue.TypeDecision, d)
	if err != nil {
		return err
	}
	return p.q.Publish(ctx, msg)
}

// DecisionWriter persists decisions; implemented by Repository.
type DecisionWriter interface {
	InsertDecision(ctx context.Context, d Decision) error
}

// ConsumeDecisions drains msgs into w until the channel closes. handled is
// called after every message with the write result.
func ConsumeDecisions(ctx context.Context, msgs <-chan queue.Message, w DecisionWriter, handled func(Decision, error)) {
	for msg := range msgs {
		if msg.Type != queue.TypeDecision {
			continue
		}
		var d Decision
		err := msg.Decode(&d)
		if err == nil {
			err = w.InsertDecision(ctx, d)
		}
		if handled != nil {
			handled(d, err)
		}
	}
}
