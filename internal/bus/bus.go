package bus

import (
	"fmt"
	"log/slog"
	"sync"
)

// Handler processes a published message. Handlers run on the publisher's
// goroutine outside the bus lock; they may call back into the bus but must
// not block for long.
type Handler func(Message)

// Inbox is an actor's FIFO message queue.
type Inbox chan Message

// DefaultInboxSize bounds each actor inbox.
const DefaultInboxSize = 256

// Bus is the single in-process message router. Delivery order per target
// equals the serialized publish order; no ordering is promised across
// targets.
type Bus struct {
	mu      sync.Mutex
	inboxes map[string]Inbox
	topics  map[string][]subscriber
	global  []subscriber
	nextID  int
}

type subscriber struct {
	id int
	fn Handler
}

func New() *Bus {
	return &Bus{
		inboxes: make(map[string]Inbox),
		topics:  make(map[string][]subscriber),
	}
}

// Register associates an actor name with its inbox for direct delivery.
// Registering an already-registered name fails.
func (b *Bus) Register(name string, inbox Inbox) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.inboxes[name]; exists {
		return fmt.Errorf("actor %q already registered", name)
	}
	b.inboxes[name] = inbox
	slog.Info("actor registered with bus", "actor", name)
	return nil
}

// Unregister removes the actor's inbox. Later publishes targeting the name
// are dropped.
func (b *Bus) Unregister(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.inboxes, name)
}

// Subscribe attaches a handler to every message whose Type equals topic.
// The returned id cancels the subscription via Unsubscribe.
func (b *Bus) Subscribe(topic string, fn Handler) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.topics[topic] = append(b.topics[topic], subscriber{id: b.nextID, fn: fn})
	return b.nextID
}

func (b *Bus) Unsubscribe(topic string, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.topics[topic] = removeSubscriber(b.topics[topic], id)
}

// SubscribeGlobal attaches a handler to every published message.
func (b *Bus) SubscribeGlobal(fn Handler) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.global = append(b.global, subscriber{id: b.nextID, fn: fn})
	return b.nextID
}

func (b *Bus) UnsubscribeGlobal(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.global = removeSubscriber(b.global, id)
}

// Publish routes a message: targeted inbox delivery first, then topic
// subscribers, then global subscribers. A missing target is logged and
// dropped, never an error to the publisher. Subscriber panics are isolated.
//
// The routing tables are only snapshotted under the lock; delivery and
// handler invocation happen outside it, so handlers may call back into the
// bus (publish, register, interrupt) and a full inbox stalls only its own
// publisher.
func (b *Bus) Publish(msg Message) {
	b.mu.Lock()
	var inbox Inbox
	if msg.Target != "" {
		var ok bool
		if inbox, ok = b.inboxes[msg.Target]; !ok {
			slog.Warn("bus: target actor not found, dropping",
				"target", msg.Target, "type", msg.Type)
		}
	}
	subs := make([]subscriber, 0, len(b.topics[msg.Type])+len(b.global))
	subs = append(subs, b.topics[msg.Type]...)
	subs = append(subs, b.global...)
	b.mu.Unlock()

	if inbox != nil {
		inbox <- msg
	}
	for _, sub := range subs {
		safeInvoke(sub.fn, msg)
	}
}

// Registered reports whether name currently has an inbox.
func (b *Bus) Registered(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.inboxes[name]
	return ok
}

func safeInvoke(fn Handler, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("bus: subscriber panicked", "type", msg.Type, "panic", r)
		}
	}()
	fn(msg)
}

func removeSubscriber(subs []subscriber, id int) []subscriber {
	out := subs[:0]
	for _, s := range subs {
		if s.id != id {
			out = append(out, s)
		}
	}
	return out
}
