package bus

import (
	"testing"
	"time"
)

func TestPublishTargetedDelivery(t *testing.T) {
	b := New()
	inbox := make(Inbox, 8)
	if err := b.Register("worker", inbox); err != nil {
		t.Fatal(err)
	}

	b.Publish(Message{Type: TypeWorkSubmitted, Target: "worker", Content: "task"})

	select {
	case msg := <-inbox:
		if msg.Content != "task" {
			t.Errorf("got %q, want %q", msg.Content, "task")
		}
	default:
		t.Fatal("message not delivered to inbox")
	}
}

func TestPublishPreservesOrderPerTarget(t *testing.T) {
	b := New()
	inbox := make(Inbox, 8)
	if err := b.Register("worker", inbox); err != nil {
		t.Fatal(err)
	}

	for _, content := range []string{"one", "two", "three"} {
		b.Publish(Message{Type: TypeWorkSubmitted, Target: "worker", Content: content})
	}

	for _, want := range []string{"one", "two", "three"} {
		got := <-inbox
		if got.Content != want {
			t.Errorf("got %q, want %q", got.Content, want)
		}
	}
}

func TestRegisterDuplicateFails(t *testing.T) {
	b := New()
	if err := b.Register("worker", make(Inbox, 1)); err != nil {
		t.Fatal(err)
	}
	if err := b.Register("worker", make(Inbox, 1)); err == nil {
		t.Fatal("expected error registering duplicate name")
	}
}

func TestUnregisterDropsLaterPublishes(t *testing.T) {
	b := New()
	inbox := make(Inbox, 1)
	if err := b.Register("worker", inbox); err != nil {
		t.Fatal(err)
	}
	b.Unregister("worker")

	// Must not block or panic.
	b.Publish(Message{Type: TypeWorkSubmitted, Target: "worker"})

	if len(inbox) != 0 {
		t.Errorf("inbox should be empty, has %d", len(inbox))
	}
	if b.Registered("worker") {
		t.Error("worker should not be registered")
	}
}

func TestTopicSubscription(t *testing.T) {
	b := New()
	var got []string
	id := b.Subscribe(TypeToolUse, func(msg Message) {
		got = append(got, msg.Tool)
	})

	b.Publish(Message{Type: TypeToolUse, Tool: "web_search"})
	b.Publish(Message{Type: TypeWorkSubmitted, Content: "not a tool use"})
	b.Publish(Message{Type: TypeToolUse, Tool: "python_run"})

	if len(got) != 2 || got[0] != "web_search" || got[1] != "python_run" {
		t.Errorf("topic handler saw %v", got)
	}

	b.Unsubscribe(TypeToolUse, id)
	b.Publish(Message{Type: TypeToolUse, Tool: "after"})
	if len(got) != 2 {
		t.Errorf("handler called after unsubscribe: %v", got)
	}
}

func TestGlobalSubscriberSeesEverything(t *testing.T) {
	b := New()
	inbox := make(Inbox, 8)
	if err := b.Register("worker", inbox); err != nil {
		t.Fatal(err)
	}

	var count int
	id := b.SubscribeGlobal(func(Message) { count++ })

	b.Publish(Message{Type: TypeWorkSubmitted, Target: "worker"})
	b.Publish(Message{Type: TypeToolUse})
	b.Publish(Message{Type: TypeAgentSpawned})

	if count != 3 {
		t.Errorf("global handler saw %d messages, want 3", count)
	}

	b.UnsubscribeGlobal(id)
	b.Publish(Message{Type: TypeToolUse})
	if count != 3 {
		t.Errorf("global handler called after unsubscribe")
	}
}

func TestSubscriberPanicIsolated(t *testing.T) {
	b := New()
	b.Subscribe(TypeToolUse, func(Message) { panic("boom") })

	var after bool
	b.Subscribe(TypeToolUse, func(Message) { after = true })

	b.Publish(Message{Type: TypeToolUse})

	if !after {
		t.Error("subscriber after the panicking one was not invoked")
	}
}

func TestStampedSetsTimestampOnce(t *testing.T) {
	msg := Message{Type: TypeToolUse}
	stamped := msg.Stamped()
	if stamped.Timestamp == "" {
		t.Fatal("Stamped did not set a timestamp")
	}
	again := stamped.Stamped()
	if again.Timestamp != stamped.Timestamp {
		t.Error("Stamped overwrote an existing timestamp")
	}
}

func TestSubscriberMayReenterBus(t *testing.T) {
	b := New()
	caller := make(Inbox, 8)
	if err := b.Register("caller", caller); err != nil {
		t.Fatal(err)
	}

	// A subscriber that registers a new actor, checks the table, and
	// publishes a reply, the way kernel syscall handlers do.
	b.Subscribe(TypeSystemCall, func(msg Message) {
		if err := b.Register("spawned", make(Inbox, 1)); err != nil {
			t.Errorf("nested Register: %v", err)
		}
		if !b.Registered("spawned") {
			t.Error("nested Registered lookup failed")
		}
		b.Publish(Message{Type: TypeSystemCallResult, Target: msg.From, Content: "done"})
	})

	finished := make(chan struct{})
	go func() {
		b.Publish(Message{Type: TypeSystemCall, From: "caller", Command: "spawn_agent"})
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish did not return with a re-entrant subscriber")
	}

	select {
	case msg := <-caller:
		if msg.Type != TypeSystemCallResult || msg.Content != "done" {
			t.Errorf("reply = %+v", msg)
		}
	default:
		t.Fatal("nested publish not delivered")
	}
}

func TestPublishFullInboxStallsOnlyThatDelivery(t *testing.T) {
	b := New()
	full := make(Inbox, 1)
	if err := b.Register("stuck", full); err != nil {
		t.Fatal(err)
	}
	b.Publish(Message{Type: TypeWorkSubmitted, Target: "stuck", Content: "first"})

	blocked := make(chan struct{})
	go func() {
		b.Publish(Message{Type: TypeWorkSubmitted, Target: "stuck", Content: "second"})
		close(blocked)
	}()

	// While that publisher is parked on the full inbox, the bus itself
	// stays usable for everyone else.
	other := make(Inbox, 1)
	if err := b.Register("other", other); err != nil {
		t.Fatal(err)
	}
	b.Publish(Message{Type: TypeWorkSubmitted, Target: "other", Content: "flows"})
	select {
	case msg := <-other:
		if msg.Content != "flows" {
			t.Errorf("got %q", msg.Content)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("unrelated publish blocked by a full inbox")
	}

	<-full
	select {
	case <-blocked:
	case <-time.After(2 * time.Second):
		t.Fatal("parked publisher never resumed after inbox drained")
	}
}
