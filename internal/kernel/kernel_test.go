package kernel

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nextlevelbuilder/crewd/internal/actor"
	"github.com/nextlevelbuilder/crewd/internal/bus"
	"github.com/nextlevelbuilder/crewd/internal/eventlog"
)

type stubHandler struct {
	name       string
	handled    chan bus.Message
	interrupts chan bus.Message
	fail       error
}

func newStubHandler(name string) *stubHandler {
	return &stubHandler{
		name:       name,
		handled:    make(chan bus.Message, 16),
		interrupts: make(chan bus.Message, 16),
	}
}

func (h *stubHandler) HandleMessage(_ context.Context, msg bus.Message) error {
	h.handled <- msg
	return h.fail
}

func (h *stubHandler) HandleInterrupt(msg bus.Message) {
	h.interrupts <- msg
}

type testKernel struct {
	*Kernel
	bus      *bus.Bus
	log      *eventlog.Logger
	handlers map[string]*stubHandler
}

func newTestKernel(t *testing.T) *testKernel {
	t.Helper()
	b := bus.New()
	log, err := eventlog.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	tk := &testKernel{bus: b, log: log, handlers: make(map[string]*stubHandler)}
	factory := func(name, systemPrompt string, temperature float64) (actor.Handler, error) {
		h, ok := tk.handlers[name]
		if !ok {
			h = newStubHandler(name)
			tk.handlers[name] = h
		}
		return h, nil
	}
	tk.Kernel = New(b, log, factory, "Atlas", 10)
	tk.Start(context.Background())
	t.Cleanup(tk.Stop)
	return tk
}

func recvMessage(t *testing.T, ch chan bus.Message, what string) bus.Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		return bus.Message{}
	}
}

func TestSpawnListKill(t *testing.T) {
	tk := newTestKernel(t)

	spawned := make(chan bus.Message, 4)
	stopped := make(chan bus.Message, 4)
	tk.bus.Subscribe(bus.TypeAgentSpawned, func(m bus.Message) { spawned <- m })
	tk.bus.Subscribe(bus.TypeAgentStopped, func(m bus.Message) { stopped <- m })

	if err := tk.SpawnAgent("Harper", "prompt", 0.7); err != nil {
		t.Fatal(err)
	}
	if err := tk.SpawnAgent("Harper", "prompt", 0.7); err == nil {
		t.Fatal("duplicate spawn should fail")
	}

	ev := recvMessage(t, spawned, "agent-spawned")
	if ev.Content != "Harper" || ev.SystemPrompt != "prompt" {
		t.Errorf("agent-spawned payload %+v", ev)
	}

	if got := tk.ListAgents(); len(got) != 1 || got[0] != "Harper" {
		t.Errorf("ListAgents = %v", got)
	}

	if err := tk.KillAgent("Harper"); err != nil {
		t.Fatal(err)
	}
	ev = recvMessage(t, stopped, "agent-stopped")
	if ev.Content != "Harper" {
		t.Errorf("agent-stopped payload %+v", ev)
	}
	if got := tk.ListAgents(); len(got) != 0 {
		t.Errorf("ListAgents after kill = %v", got)
	}
	if err := tk.KillAgent("Harper"); err == nil {
		t.Fatal("killing a dead agent should fail")
	}
}

func TestSystemCallsAnswerCaller(t *testing.T) {
	tk := newTestKernel(t)

	caller := make(bus.Inbox, 16)
	if err := tk.bus.Register("Atlas", caller); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		command string
		args    map[string]any
		want    string
	}{
		{"spawn", "spawn_agent", map[string]any{"name": "Lucas", "system_prompt": "p", "temperature": 0.5}, "Spawned agent Lucas"},
		{"list", "list_agents", nil, `["Lucas"]`},
		{"allocate", "allocate_budget", map[string]any{"name": "Lucas", "amount": float64(5)}, "Allocated 5 budget to Lucas"},
		{"kill", "kill_agent", map[string]any{"name": "Lucas"}, "Killed agent Lucas"},
		{"unknown", "reboot", nil, "unknown system call: reboot"},
		{"allocate missing", "allocate_budget", map[string]any{"name": "Ghost", "amount": float64(1)}, "no such agent: Ghost"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tk.bus.Publish(bus.Message{
				Type:       bus.TypeSystemCall,
				From:       "Atlas",
				Command:    tt.command,
				Args:       tt.args,
				ToolCallID: "call-" + tt.name,
			})
			for {
				msg := recvMessage(t, caller, "system-call-result")
				if msg.Type != bus.TypeSystemCallResult {
					continue // skip unrelated targeted traffic
				}
				if msg.Content != tt.want {
					t.Errorf("result %q, want %q", msg.Content, tt.want)
				}
				if msg.ToolCallID != "call-"+tt.name {
					t.Errorf("tool call id %q", msg.ToolCallID)
				}
				return
			}
		})
	}
}

func TestLoopDetection(t *testing.T) {
	tk := newTestKernel(t)
	if err := tk.SpawnAgent("Harper", "p", 0.7); err != nil {
		t.Fatal(err)
	}
	h := tk.handlers["Harper"]

	use := func(args map[string]any) {
		tk.bus.Publish(bus.Message{Type: bus.TypeToolUse, From: "Harper", Tool: "web_search", Args: args})
	}

	// Two identical calls then a different one: no loop.
	use(map[string]any{"query": "go"})
	use(map[string]any{"query": "go"})
	use(map[string]any{"query": "rust"})
	select {
	case msg := <-h.interrupts:
		t.Fatalf("unexpected interrupt: %v", msg)
	case <-time.After(100 * time.Millisecond):
	}

	// Three in a row: interrupt with the loop reason.
	use(map[string]any{"query": "go"})
	use(map[string]any{"query": "go"})
	use(map[string]any{"query": "go"})

	msg := recvMessage(t, h.interrupts, "loop interrupt")
	want := "Loop Detected: You are repeating web_search with same arguments. Stop."
	if msg.Content != want {
		t.Errorf("interrupt reason %q, want %q", msg.Content, want)
	}

	// Window cleared after detection: three more are needed to retrigger.
	use(map[string]any{"query": "go"})
	use(map[string]any{"query": "go"})
	select {
	case msg := <-h.interrupts:
		t.Fatalf("retriggered too early: %v", msg)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestCrashedActorIsReaped(t *testing.T) {
	tk := newTestKernel(t)

	leaderInbox := make(bus.Inbox, 16)
	if err := tk.bus.Register("Atlas", leaderInbox); err != nil {
		t.Fatal(err)
	}

	h := newStubHandler("Harper")
	h.fail = errors.New("broken pipe")
	tk.handlers["Harper"] = h
	if err := tk.SpawnAgent("Harper", "p", 0.7); err != nil {
		t.Fatal(err)
	}

	tk.bus.Publish(bus.Message{Type: bus.TypeWorkSubmitted, Target: "Harper", Content: "task"})

	msg := recvMessage(t, leaderInbox, "actor-crashed")
	if msg.Type != bus.TypeActorCrashed {
		t.Fatalf("leader got %s, want actor-crashed", msg.Type)
	}
	if msg.Error == "" {
		t.Error("actor-crashed carries no error")
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(tk.ListAgents()) != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("crashed actor still in table: %v", tk.ListAgents())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRecoverReplaysSpawns(t *testing.T) {
	dir := t.TempDir()
	b := bus.New()
	log, err := eventlog.New(dir)
	if err != nil {
		t.Fatal(err)
	}

	factory := func(name, systemPrompt string, temperature float64) (actor.Handler, error) {
		return newStubHandler(name), nil
	}
	k := New(b, log, factory, "Atlas", 10)
	k.Start(context.Background())

	// Spawn through the syscall path so the journal records it.
	b.Publish(bus.Message{
		Type:    bus.TypeSystemCall,
		From:    "tester",
		Command: "spawn_agent",
		Args:    map[string]any{"name": "Harper", "system_prompt": "p", "temperature": 0.7},
	})
	b.Publish(bus.Message{
		Type:    bus.TypeSystemCall,
		From:    "tester",
		Command: "spawn_agent",
		Args:    map[string]any{"name": "Lucas", "system_prompt": "q"},
	})
	deadline := time.Now().Add(2 * time.Second)
	for len(k.ListAgents()) != 2 {
		if time.Now().After(deadline) {
			t.Fatalf("agents not spawned: %v", k.ListAgents())
		}
		time.Sleep(10 * time.Millisecond)
	}
	k.Stop()

	// Fresh kernel over the same journal.
	b2 := bus.New()
	log2, err := eventlog.New(dir)
	if err != nil {
		t.Fatal(err)
	}
	k2 := New(b2, log2, factory, "Atlas", 10)
	k2.Start(context.Background())
	defer k2.Stop()

	if got := k2.Recover(); got != 2 {
		t.Errorf("Recover() = %d, want 2", got)
	}
	names := k2.ListAgents()
	data, _ := json.Marshal(names)
	if string(data) != `["Harper","Lucas"]` {
		t.Errorf("recovered roster %v", names)
	}
}
