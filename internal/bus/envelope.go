package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Topic names a kind of domain event.
type Topic string

const (
	TopicPlayerJoined  Topic = "player.joined"
	TopicRunCode       Topic = "run.code"
	TopicCodeProcessed Topic = "code.processed"
	TopicMatchStarted  Topic = "match.started"
	TopicAnalyzeCode   Topic = "analyze.code"
)

// Envelope wraps every event with a stable header. Payload is the topic's
// JSON document and is decoded by the consumer that owns the topic.
type Envelope struct {
	ID         string          `json:"id"`
	Topic      Topic           `json:"topic"`
	MatchID    string          `json:"matchId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Payload    json.RawMessage `json:"payload"`
}

func NewEnvelope(topic Topic, matchID string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", topic, err)
	}
	return Envelope{
		ID:         uuid.NewString(),
		Topic:      topic,
		MatchID:    matchID,
		OccurredAt: time.Now().UTC(),
		Payload:    raw,
	}, nil
}

// Decode unmarshals the payload into v. Failures are permanent.
func (e Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return Permanent(fmt.Errorf("%s: empty payload", e.Topic))
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return Permanent(fmt.Errorf("%s: decode payload: %w", e.Topic, err))
	}
	return nil
}

type Handler func(ctx context.Context, env Envelope) error

type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
}

type Bus interface {
	Publisher
	Subscribe(topic Topic, h Handler) error
	Close() error
}

// Emit builds an envelope and publishes it.
func Emit(ctx context.Context, p Publisher, topic Topic, matchID string, payload any) error {
	env, err := NewEnvelope(topic, matchID, payload)
	if err != nil {
		return err
	}
	return p.Publish(ctx, env)
}

var ErrClosed = errf("bus closed")

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }
