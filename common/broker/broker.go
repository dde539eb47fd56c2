package broker

import (
	"context"
	"fmt"
	"sync"

	"github.com/lemline/lemline/common/logger"
)

// Handler processes one inbound message. A non-nil error routes the message
// to the dead-letter channel.
type Handler func(ctx context.Context, body string) error

// Broker is the transport contract: an inbound stream of UTF-8 JSON strings
// and an outbound sink on a single logical channel, plus dead-letter routing.
type Broker interface {
	// Publish sends a message to the outbound channel.
	Publish(ctx context.Context, body string) error
	// PublishDLQ sends a message to the dead-letter channel.
	PublishDLQ(ctx context.Context, body string) error
	// Subscribe attaches a handler to the inbound channel. It does not block;
	// delivery stops when ctx is cancelled.
	Subscribe(ctx context.Context, handler Handler) error
	// Health reports broker reachability.
	Health(ctx context.Context) error
	Close() error
}

// MemoryBroker is an in-process broker for tests and single-node development
type MemoryBroker struct {
	inbound   chan string
	mu        sync.Mutex
	published []string
	dlq       []string
	closed    bool
	log       *logger.Logger
}

// NewMemoryBroker creates a new in-memory broker
func NewMemoryBroker(log *logger.Logger) *MemoryBroker {
	return &MemoryBroker{
		inbound: make(chan string, 1024),
		log:     log,
	}
}

// Publish records the message on the outbound channel
func (b *MemoryBroker) Publish(ctx context.Context, body string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("broker closed")
	}
	b.published = append(b.published, body)
	return nil
}

// PublishDLQ records the message on the dead-letter channel
func (b *MemoryBroker) PublishDLQ(ctx context.Context, body string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("broker closed")
	}
	b.dlq = append(b.dlq, body)
	return nil
}

// Feed injects a message into the inbound channel
func (b *MemoryBroker) Feed(ctx context.Context, body string) error {
	select {
	case b.inbound <- body:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe attaches a handler to the inbound channel
func (b *MemoryBroker) Subscribe(ctx context.Context, handler Handler) error {
	go func() {
		for {
			select {
			case <-ctx.Done():
				b.log.Info("memory broker subscription cancelled")
				return
			case body := <-b.inbound:
				if err := handler(ctx, body); err != nil {
					b.log.Error("message handler failed, routing to DLQ", "error", err)
					if dlqErr := b.PublishDLQ(ctx, body); dlqErr != nil {
						b.log.Error("DLQ publish failed", "error", dlqErr)
					}
				}
			}
		}
	}()
	return nil
}

// Published returns a copy of everything sent to the outbound channel
func (b *MemoryBroker) Published() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.published))
	copy(out, b.published)
	return out
}

// DLQ returns a copy of everything routed to the dead-letter channel
func (b *MemoryBroker) DLQ() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.dlq))
	copy(out, b.dlq)
	return out
}

// Health always succeeds for the in-memory broker
func (b *MemoryBroker) Health(ctx context.Context) error {
	return nil
}

// Close closes the broker
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
