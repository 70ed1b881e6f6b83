// Package actor implements the cooperative actor runtime: named actors with
// FIFO inboxes, work-credit budgets, and control signals for interruption,
// shutdown, and budget grants.
package actor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nextlevelbuilder/crewd/internal/bus"
)

// Handler implements the actor's behavior. HandleMessage is called for each
// work message; returning an error crashes the actor and is reported by the
// kernel's reaper. HandleInterrupt is called for interrupt signals, which
// bypass the budget check.
type Handler interface {
	HandleMessage(ctx context.Context, msg bus.Message) error
	HandleInterrupt(msg bus.Message)
}

// Actor owns one inbox and processes it sequentially.
type Actor struct {
	name       string
	bus        *bus.Bus
	inbox      bus.Inbox
	handler    Handler
	supervisor string

	mu     sync.Mutex
	budget int

	done chan struct{}
	err  error
}

// New registers an inbox for name on the bus and returns the actor.
// The supervisor is notified when the budget runs out.
func New(name string, b *bus.Bus, handler Handler, supervisor string, startBudget int) (*Actor, error) {
	inbox := make(bus.Inbox, bus.DefaultInboxSize)
	if err := b.Register(name, inbox); err != nil {
		return nil, fmt.Errorf("register actor %s: %w", name, err)
	}
	return &Actor{
		name:       name,
		bus:        b,
		inbox:      inbox,
		handler:    handler,
		supervisor: supervisor,
		budget:     startBudget,
		done:       make(chan struct{}),
	}, nil
}

// Name returns the actor's bus name.
func (a *Actor) Name() string { return a.name }

// Supervisor returns the name of the actor notified on budget exhaustion.
func (a *Actor) Supervisor() string { return a.supervisor }

// Budget returns the current work-credit balance.
func (a *Actor) Budget() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.budget
}

// ConsumeCredit spends one work credit. It reports false when the balance
// is already empty.
func (a *Actor) ConsumeCredit() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.budget <= 0 {
		return false
	}
	a.budget--
	return true
}

func (a *Actor) addBudget(amount int) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.budget += amount
	return a.budget
}

// Start runs the actor loop in its own goroutine.
func (a *Actor) Start(ctx context.Context) {
	go func() {
		a.err = a.run(ctx)
		close(a.done)
	}()
}

// Done is closed when the loop exits.
func (a *Actor) Done() <-chan struct{} { return a.done }

// Err returns the loop's exit error after Done is closed. A nil error means
// a clean stop (poison pill or context cancellation).
func (a *Actor) Err() error { return a.err }

// Stop enqueues a poison pill. The actor finishes messages already ahead of
// it in the inbox first.
func (a *Actor) Stop() {
	a.bus.Publish(bus.Message{Type: bus.TypePoison, Target: a.name})
}

func (a *Actor) run(ctx context.Context) error {
	slog.Info("actor started", "actor", a.name, "budget", a.Budget())
	defer slog.Info("actor stopped", "actor", a.name)

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-a.inbox:
			switch msg.Type {
			case bus.TypeInterrupt:
				a.handler.HandleInterrupt(msg)
				continue
			case bus.TypePoison:
				return nil
			case bus.TypeBudgetUpdate:
				newBudget := a.addBudget(msg.Amount)
				slog.Info("actor budget updated", "actor", a.name, "budget", newBudget)
				continue
			}

			if a.Budget() <= 0 {
				a.reportExhaustion(msg)
				continue
			}

			if err := a.handler.HandleMessage(ctx, msg); err != nil {
				slog.Error("actor handler failed", "actor", a.name, "type", msg.Type, "error", err)
				return fmt.Errorf("handle %s: %w", msg.Type, err)
			}
		}
	}
}

// reportExhaustion tells the supervisor the actor is out of credits and
// fails the pending task back to its sender. The triggering message is
// dropped rather than requeued so the loop stays live for budget updates.
func (a *Actor) reportExhaustion(msg bus.Message) {
	slog.Warn("actor budget exhausted", "actor", a.name, "dropped", msg.Type)
	a.bus.Publish(bus.Message{
		Type:    bus.TypeBudgetExhausted,
		From:    a.name,
		Target:  a.supervisor,
		Content: "I have run out of budget. Please allocate more.",
	})
	if msg.From != "" && msg.From != a.name {
		a.bus.Publish(bus.Message{
			Type:          bus.TypeTaskFailed,
			From:          a.name,
			Target:        msg.From,
			CorrelationID: msg.CorrelationID,
			Error:         "BudgetExhausted",
		})
	}
}
