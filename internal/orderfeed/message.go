package orderfeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"affiliates/internal/domain"
)

// Message is one raw record read from the broker.
type Message struct {
	Topic   string
	Payload []byte

	// commit acknowledges the record to the broker. Nil when no ack is needed.
	commit func(ctx context.Context) error
}

// Commit acknowledges m once it has been handled.
func (m Message) Commit(ctx context.Context) error {
	if m.commit == nil {
		return nil
	}
	return m.commit(ctx)
}

// Consumer reads up to max messages, returning early when none are pending.
type Consumer interface {
	Poll(ctx context.Context, max int) ([]Message, error)
}

// Requeuer is implemented by consumers that redeliver messages whose dispatch failed.
type Requeuer interface {
	Requeue(msgs []Message)
}

// backlog holds requeued messages. They are served before new reads.
type backlog struct {
	mu   sync.Mutex
	msgs []Message
}

func (b *backlog) push(msgs []Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = append(append([]Message{}, msgs...), b.msgs...)
}

func (b *backlog) take(max int) []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	if max <= 0 {
		max = 1
	}
	n := min(max, len(b.msgs))
	out := make([]Message, n, max)
	copy(out, b.msgs[:n])
	b.msgs = b.msgs[n:]
	return out
}

// Lifecycle message types.
const (
	TypeOrderCanceled = "order.canceled"
	TypeOrderRefunded = "order.refunded"
)

// Envelope is the wire shape of an order lifecycle message.
type Envelope struct {
	Type  string       `json:"type"`
	Order domain.Order `json:"order"`
}

var errUnhandledType = errors.New("unhandled message type")

// Decode parses payload and maps its type to the event dispatched to affiliates.
func Decode(payload []byte) (domain.EventType, domain.Order, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return "", domain.Order{}, fmt.Errorf("decode envelope: %w", err)
	}
	var event domain.EventType
	switch env.Type {
	case TypeOrderCanceled:
		event = domain.EventOrderCanceled
	case TypeOrderRefunded:
		event = domain.EventOrderRefunded
	default:
		return "", env.Order, fmt.Errorf("%w %q", errUnhandledType, env.Type)
	}
	if env.Order.Number == "" {
		return "", env.Order, fmt.Errorf("%s message without order_number", env.Type)
	}
	return event, env.Order, nil
}
