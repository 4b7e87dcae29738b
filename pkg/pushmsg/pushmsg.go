// Package pushmsg is the process-wide frontend push-message bus from
// spec.md §3.8/§4.J: a mutex-guarded, deduplicated-by-id set with a
// fanout to subscribers (the websocket handler in pkg/api/push.go) modeled on the
// teacher's pkg/events.Broker subscribe/publish shape.
package pushmsg

import (
	"sync"

	"github.com/unmanic/unmanicd/pkg/orcherr"
)

// Type is the push-message severity/category.
type Type string

const (
	TypeError   Type = "error"
	TypeWarning Type = "warning"
	TypeSuccess Type = "success"
	TypeInfo    Type = "info"
	TypeStatus  Type = "status"
)

var validTypes = map[Type]bool{
	TypeError: true, TypeWarning: true, TypeSuccess: true, TypeInfo: true, TypeStatus: true,
}

// Well-known message ids the Foreman emits.
const (
	IDPluginSettingsChangeWorkersStopped = "pluginSettingsChangeWorkersStopped"
	IDPendingTaskHaltedPostProcessorQueueFull = "pendingTaskHaltedPostProcessorQueueFull"
)

// Message is a single frontend push-message, per spec.md §3.8.
type Message struct {
	ID      string `json:"id"`
	Type    Type   `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Timeout int    `json:"timeout"`
}

func (m Message) validate() error {
	if m.ID == "" || m.Code == "" || m.Message == "" {
		return orcherr.New(orcherr.KindUserConfig, "push message missing required field", nil)
	}
	if !validTypes[m.Type] {
		return orcherr.New(orcherr.KindUserConfig, "push message has invalid type", nil)
	}
	return nil
}

// Subscriber receives every Add/Update/Remove as it happens.
type Subscriber chan Message

// Bus is the process-wide push-message singleton.
type Bus struct {
	mu          sync.Mutex
	messages    map[string]Message
	subscribers map[Subscriber]bool
}

// New constructs an empty Bus.
func New() *Bus {
	return &Bus{
		messages:    make(map[string]Message),
		subscribers: make(map[Subscriber]bool),
	}
}

// Add inserts msg if msg.ID is not already present; a duplicate id is a
// no-op, matching spec.md's dedup-by-id semantics exactly (Update is the
// only way to change an existing record).
func (b *Bus) Add(msg Message) error {
	if err := msg.validate(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.messages[msg.ID]; exists {
		return nil
	}
	b.messages[msg.ID] = msg
	b.broadcast(msg)
	return nil
}

// Update replaces the record for msg.ID regardless of whether it already
// existed.
func (b *Bus) Update(msg Message) error {
	if err := msg.validate(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages[msg.ID] = msg
	b.broadcast(msg)
	return nil
}

// Remove deletes id if present; removing an absent id is a no-op
// (idempotent per spec.md §4.J).
func (b *Bus) Remove(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.messages, id)
}

// ReadAll returns every current message without draining the set.
func (b *Bus) ReadAll() []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Message, 0, len(b.messages))
	for _, m := range b.messages {
		out = append(out, m)
	}
	return out
}

// Subscribe registers sub to receive every future Add/Update. Callers must
// Unsubscribe when done to avoid leaking the channel.
func (b *Bus) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := make(Subscriber, 32)
	b.subscribers[sub] = true
	return sub
}

func (b *Bus) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subscribers[sub] {
		delete(b.subscribers, sub)
		close(sub)
	}
}

// broadcast must be called with b.mu held.
func (b *Bus) broadcast(msg Message) {
	for sub := range b.subscribers {
		select {
		case sub <- msg:
		default:
			// Subscriber's buffer is full (e.g. a stalled websocket writer);
			// drop rather than block the bus under its own lock.
		}
	}
}
