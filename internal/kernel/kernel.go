// Package kernel supervises the actor table: it spawns and kills agents,
// services system calls, reaps crashed actors, watches tool usage for
// loops, and journals every bus message for structural recovery.
package kernel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/nextlevelbuilder/crewd/internal/actor"
	"github.com/nextlevelbuilder/crewd/internal/bus"
	"github.com/nextlevelbuilder/crewd/internal/eventlog"
)

// AgentFactory builds the handler for a newly spawned agent.
type AgentFactory func(name, systemPrompt string, temperature float64) (actor.Handler, error)

const stopTimeout = 5 * time.Second

// Kernel owns the actor table and the supervision loops.
type Kernel struct {
	bus         *bus.Bus
	log         *eventlog.Logger
	factory     AgentFactory
	leader      string
	startBudget int

	mu          sync.Mutex
	actors      map[string]*actor.Actor
	toolHistory map[string][]string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	sysSubID    int
	toolSubID   int
	globalSubID int
}

// New builds a kernel. The leader receives actor-crashed and
// budget-exhausted notifications.
func New(b *bus.Bus, log *eventlog.Logger, factory AgentFactory, leader string, startBudget int) *Kernel {
	return &Kernel{
		bus:         b,
		log:         log,
		factory:     factory,
		leader:      leader,
		startBudget: startBudget,
		actors:      make(map[string]*actor.Actor),
		toolHistory: make(map[string][]string),
	}
}

// Start wires the kernel's bus subscriptions. Actors are spawned separately.
func (k *Kernel) Start(ctx context.Context) {
	k.ctx, k.cancel = context.WithCancel(ctx)
	k.sysSubID = k.bus.Subscribe(bus.TypeSystemCall, k.handleSystemCall)
	k.toolSubID = k.bus.Subscribe(bus.TypeToolUse, k.handleToolUse)
	k.globalSubID = k.bus.SubscribeGlobal(k.journal)
	slog.Info("kernel started", "leader", k.leader)
}

// Stop poisons every actor, waits for their loops to exit, and tears down
// the subscriptions.
func (k *Kernel) Stop() {
	k.mu.Lock()
	running := make([]*actor.Actor, 0, len(k.actors))
	for _, a := range k.actors {
		running = append(running, a)
	}
	k.mu.Unlock()

	for _, a := range running {
		a.Stop()
	}

	deadline := time.After(stopTimeout)
	for _, a := range running {
		select {
		case <-a.Done():
		case <-deadline:
			slog.Warn("kernel stop timed out waiting for actor", "actor", a.Name())
		}
	}

	if k.cancel != nil {
		k.cancel()
	}
	k.bus.Unsubscribe(bus.TypeSystemCall, k.sysSubID)
	k.bus.Unsubscribe(bus.TypeToolUse, k.toolSubID)
	k.bus.UnsubscribeGlobal(k.globalSubID)
	k.wg.Wait()
	slog.Info("kernel stopped")
}

// journal is the global bus subscriber feeding the event log.
func (k *Kernel) journal(msg bus.Message) {
	k.log.Log(msg)
}

// StartActor adopts an externally constructed actor into the table and
// starts its loop under kernel supervision.
func (k *Kernel) StartActor(a *actor.Actor) error {
	k.mu.Lock()
	if _, exists := k.actors[a.Name()]; exists {
		k.mu.Unlock()
		return fmt.Errorf("actor already exists: %s", a.Name())
	}
	k.actors[a.Name()] = a
	k.mu.Unlock()

	a.Start(k.ctx)
	k.reap(a)
	return nil
}

// SpawnAgent creates an agent actor via the factory, registers it, and
// starts it. The name must be unused.
func (k *Kernel) SpawnAgent(name, systemPrompt string, temperature float64) error {
	k.mu.Lock()
	_, exists := k.actors[name]
	k.mu.Unlock()
	if exists {
		return fmt.Errorf("agent already exists: %s", name)
	}

	handler, err := k.factory(name, systemPrompt, temperature)
	if err != nil {
		return fmt.Errorf("build agent %s: %w", name, err)
	}
	a, err := actor.New(name, k.bus, handler, k.leader, k.startBudget)
	if err != nil {
		return err
	}
	if binder, ok := handler.(interface{ BindActor(*actor.Actor) }); ok {
		binder.BindActor(a)
	}
	if err := k.StartActor(a); err != nil {
		k.bus.Unregister(name)
		return err
	}

	k.bus.Publish(bus.Message{
		Type:         bus.TypeAgentSpawned,
		From:         "Kernel",
		Content:      name,
		SystemPrompt: systemPrompt,
		Temperature:  temperature,
	})
	return nil
}

// KillAgent poisons an agent and removes it from the table.
func (k *Kernel) KillAgent(name string) error {
	k.mu.Lock()
	a, ok := k.actors[name]
	if ok {
		delete(k.actors, name)
	}
	k.mu.Unlock()
	if !ok {
		return fmt.Errorf("no such agent: %s", name)
	}

	a.Stop()
	select {
	case <-a.Done():
	case <-time.After(stopTimeout):
		slog.Warn("kill timed out waiting for actor", "actor", name)
	}
	k.bus.Unregister(name)

	k.bus.Publish(bus.Message{
		Type:    bus.TypeAgentStopped,
		From:    "Kernel",
		Content: name,
	})
	return nil
}

// InterruptAgent delivers an interrupt signal with a reason. Interrupts
// bypass the budget check but queue behind messages already in the inbox.
func (k *Kernel) InterruptAgent(name, reason string) error {
	if !k.bus.Registered(name) {
		return fmt.Errorf("no such agent: %s", name)
	}
	k.bus.Publish(bus.Message{Type: bus.TypeInterrupt, Target: name, Content: reason})
	return nil
}

// ListAgents returns the running actor names, sorted.
func (k *Kernel) ListAgents() []string {
	k.mu.Lock()
	defer k.mu.Unlock()
	names := make([]string, 0, len(k.actors))
	for name := range k.actors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AllocateBudget grants work credits to a running actor.
func (k *Kernel) AllocateBudget(name string, amount int) error {
	if !k.bus.Registered(name) {
		return fmt.Errorf("no such agent: %s", name)
	}
	k.bus.Publish(bus.Message{Type: bus.TypeBudgetUpdate, Target: name, Amount: amount})
	return nil
}

// Agent returns the actor by name.
func (k *Kernel) Agent(name string) (*actor.Actor, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	a, ok := k.actors[name]
	return a, ok
}

// reap watches an actor's goroutine. An exit with an error is a crash: the
// actor is removed from the table and the leader is notified.
func (k *Kernel) reap(a *actor.Actor) {
	k.wg.Add(1)
	go func() {
		defer k.wg.Done()
		<-a.Done()
		err := a.Err()
		if err == nil {
			return
		}
		slog.Error("reaper: actor crashed", "actor", a.Name(), "error", err)

		k.mu.Lock()
		delete(k.actors, a.Name())
		k.mu.Unlock()
		k.bus.Unregister(a.Name())

		k.bus.Publish(bus.Message{
			Type:    bus.TypeActorCrashed,
			From:    "Kernel",
			Target:  k.leader,
			Error:   err.Error(),
			Content: fmt.Sprintf("Agent %s crashed: %v", a.Name(), err),
		})
	}()
}

// handleSystemCall services the syscall table. Every call is answered with
// exactly one system-call-result carrying the caller's tool_call_id.
func (k *Kernel) handleSystemCall(msg bus.Message) {
	slog.Info("kernel system call", "command", msg.Command, "from", msg.From)

	var result string
	switch msg.Command {
	case "spawn_agent":
		name, _ := msg.Args["name"].(string)
		prompt, _ := msg.Args["system_prompt"].(string)
		temp := 0.7
		if t, ok := msg.Args["temperature"].(float64); ok {
			temp = t
		}
		if err := k.SpawnAgent(name, prompt, temp); err != nil {
			result = err.Error()
		} else {
			result = fmt.Sprintf("Spawned agent %s", name)
		}

	case "kill_agent":
		name, _ := msg.Args["name"].(string)
		if err := k.KillAgent(name); err != nil {
			result = err.Error()
		} else {
			result = fmt.Sprintf("Killed agent %s", name)
		}

	case "list_agents":
		data, err := json.Marshal(k.ListAgents())
		if err != nil {
			result = err.Error()
		} else {
			result = string(data)
		}

	case "allocate_budget":
		name, _ := msg.Args["name"].(string)
		amount := 0
		if n, ok := msg.Args["amount"].(float64); ok {
			amount = int(n)
		}
		if !k.bus.Registered(name) {
			result = fmt.Sprintf("no such agent: %s", name)
		} else {
			k.bus.Publish(bus.Message{Type: bus.TypeBudgetUpdate, Target: name, Amount: amount})
			result = fmt.Sprintf("Allocated %d budget to %s", amount, name)
		}

	default:
		result = fmt.Sprintf("unknown system call: %s", msg.Command)
	}

	if msg.From != "" {
		k.bus.Publish(bus.Message{
			Type:       bus.TypeSystemCallResult,
			Target:     msg.From,
			Content:    result,
			ToolCallID: msg.ToolCallID,
		})
	}
}
