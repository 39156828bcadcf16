package provenance

import (
	"sync"
	"time"

	"github.com/paddockio/paddock/pkg/types"
)

// EventKind represents the kind of provenance event
type EventKind string

const (
	EventLLMCall      EventKind = "llm_call"
	EventTierDemotion EventKind = "tier_demotion"
	EventToolCall     EventKind = "tool_call"
)

// Event is one provenance record. Events are advisory: the ledger is the
// source of truth and losing events never affects run correctness.
type Event struct {
	Kind       EventKind     `json:"kind"`
	TraceID    string        `json:"trace_id,omitempty"`
	TenantID   string        `json:"tenant_id"`
	RunID      string        `json:"run_id"`
	StepID     string        `json:"step_id,omitempty"`
	Tier       types.TierID  `json:"tier"`
	PromptHash string        `json:"prompt_hash,omitempty"`
	Tokens     int64         `json:"tokens,omitempty"`
	Cost       float64       `json:"cost,omitempty"`
	Duration   time.Duration `json:"duration,omitempty"`
	Timestamp  time.Time     `json:"timestamp"`
}

// Subscriber is a channel that receives events
type Subscriber chan *Event

// Broker manages provenance subscriptions and distribution. Delivery is
// best-effort: a subscriber with a full buffer misses the event.
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
}

// NewBroker creates a new provenance broker
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 256), // Buffered; publishers never block on slow sinks
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's distribution loop
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker
func (b *Broker) Stop() {
	close(b.stopCh)
}

// Subscribe creates a new subscription and returns a channel
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 64) // Buffer per subscriber
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.subscribers, sub)
	close(sub)
}

// Publish publishes an event to all subscribers. Never blocks the caller
// beyond the broker buffer; when the buffer is full the event is dropped.
func (b *Broker) Publish(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	default:
		// Buffer full; provenance is lossy by contract
	}
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			// Subscriber buffer full, skip
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
