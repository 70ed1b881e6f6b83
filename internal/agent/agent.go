// Package agent implements the reasoning worker: an actor handler that
// keeps a conversation history, consults the reasoning oracle, dispatches
// tool calls, compacts long histories, and archives oversized tool output.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/nextlevelbuilder/crewd/internal/actor"
	"github.com/nextlevelbuilder/crewd/internal/artifacts"
	"github.com/nextlevelbuilder/crewd/internal/bus"
	"github.com/nextlevelbuilder/crewd/internal/providers"
	"github.com/nextlevelbuilder/crewd/internal/tools"
)

// Options configures a new Agent.
type Options struct {
	Name         string
	SystemPrompt string
	Temperature  float64
	Model        string
	MaxTokens    int
	Role         tools.Role

	Bus       *bus.Bus
	Provider  providers.Provider
	Registry  *tools.Registry
	Artifacts *artifacts.Store

	// Roster lists all live agent names; used to expand the "All"
	// recipient. Optional.
	Roster func() []string
}

// Agent is the work handler bound to one actor.
type Agent struct {
	name         string
	systemPrompt string
	temperature  float64
	model        string
	maxTokens    int
	role         tools.Role

	bus       *bus.Bus
	provider  providers.Provider
	registry  *tools.Registry
	artifacts *artifacts.Store
	roster    func() []string

	act *actor.Actor

	mu      sync.Mutex
	history []providers.Message

	// replyTo/corr track the initiator of the current exchange so loop
	// outcomes route back to it.
	replyTo string
	corr    string
}

// New builds an agent with its system prompt as the first history record.
func New(opts Options) *Agent {
	a := &Agent{
		name:         opts.Name,
		systemPrompt: opts.SystemPrompt,
		temperature:  opts.Temperature,
		model:        opts.Model,
		maxTokens:    opts.MaxTokens,
		role:         opts.Role,
		bus:          opts.Bus,
		provider:     opts.Provider,
		registry:     opts.Registry,
		artifacts:    opts.Artifacts,
		roster:       opts.Roster,
	}
	a.history = []providers.Message{{Role: "system", Content: opts.SystemPrompt}}
	return a
}

// BindActor attaches the owning actor; the think step spends its credits.
func (a *Agent) BindActor(act *actor.Actor) { a.act = act }

// Name returns the agent's bus name.
func (a *Agent) Name() string { return a.name }

// History returns a copy of the conversation records.
func (a *Agent) History() []providers.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]providers.Message, len(a.history))
	copy(out, a.history)
	return out
}

// HistoryLen returns the number of conversation records.
func (a *Agent) HistoryLen() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.history)
}

func (a *Agent) append(msg providers.Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history = append(a.history, msg)
}

// AppendToolResult records a tool outcome keyed by its call id, archiving
// oversized content first.
func (a *Agent) AppendToolResult(toolCallID, name, content string) {
	a.append(providers.Message{
		Role:       "tool",
		ToolCallID: toolCallID,
		Name:       name,
		Content:    a.archiveIfLarge(content),
	})
}

// HandleInterrupt records the interruption reason and clears the reasoning
// tail so the next think starts from a clean slate.
func (a *Agent) HandleInterrupt(msg bus.Message) {
	slog.Warn("agent interrupted", "agent", a.name, "reason", msg.Content)
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history = []providers.Message{{Role: "system", Content: a.systemPrompt}}
	if msg.Content != "" {
		a.history = append(a.history, providers.Message{Role: "system", Content: msg.Content})
	}
}

// HandleMessage dispatches one inbox message.
func (a *Agent) HandleMessage(ctx context.Context, msg bus.Message) error {
	switch msg.Type {
	case bus.TypeWorkSubmitted:
		a.mu.Lock()
		a.replyTo = msg.From
		a.corr = msg.CorrelationID
		a.mu.Unlock()
		a.append(providers.Message{
			Role:    "user",
			Content: fmt.Sprintf("[Message from %s]: %s", msg.From, msg.Content),
		})
		return a.runLoop(ctx)

	case bus.TypeWorkCompleted:
		a.append(providers.Message{
			Role:    "user",
			Content: fmt.Sprintf("[Result from %s]: %s", msg.From, msg.Content),
		})
		return a.runLoop(ctx)

	case bus.TypeSystemCallResult:
		a.AppendToolResult(msg.ToolCallID, "system", msg.Content)
		return a.runLoop(ctx)

	case bus.TypeTaskFailed:
		a.append(providers.Message{
			Role:    "user",
			Content: fmt.Sprintf("[Error from %s]: %s", msg.From, msg.Error),
		})
		return a.runLoop(ctx)

	default:
		slog.Debug("agent ignoring message", "agent", a.name, "type", msg.Type)
		return nil
	}
}

// runLoop is the think/act/observe loop. It exits when the oracle stops
// calling tools, when a message-send or system call hands control away, or
// when the budget runs dry.
func (a *Agent) runLoop(ctx context.Context) error {
	for {
		a.compactIfNeeded(ctx)

		if a.act != nil && !a.act.ConsumeCredit() {
			a.bus.Publish(bus.Message{
				Type:    bus.TypeBudgetExhausted,
				From:    a.name,
				Target:  a.act.Supervisor(),
				Content: "I have run out of budget. Please allocate more.",
			})
			return nil
		}

		resp, err := a.think(ctx)
		if err != nil {
			// Surface the failure into the conversation rather than
			// crashing the actor; the oracle may recover next round.
			a.append(providers.Message{
				Role:    "assistant",
				Content: fmt.Sprintf("I encountered an error while thinking: %v", err),
			})
			slog.Error("agent think failed", "agent", a.name, "error", err)
			return nil
		}

		a.append(providers.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		a.mu.Lock()
		replyTo, corr := a.replyTo, a.corr
		a.mu.Unlock()

		if resp.Content != "" && replyTo != "" {
			a.bus.Publish(bus.Message{
				Type:          bus.TypeWorkCompleted,
				From:          a.name,
				Target:        replyTo,
				Content:       resp.Content,
				CorrelationID: corr,
			})
		}

		if len(resp.ToolCalls) == 0 {
			return nil
		}

		stop := false
		for _, tc := range resp.ToolCalls {
			a.bus.Publish(bus.Message{
				Type: bus.TypeToolUse,
				From: a.name,
				Tool: tc.Name,
				Args: tc.Arguments,
			})

			switch {
			case tc.Name == "chatroom_send":
				a.AppendToolResult(tc.ID, tc.Name, a.dispatchSend(tc, corr))
				stop = true
			case a.registry.IsSystem(tc.Name):
				a.bus.Publish(bus.Message{
					Type:       bus.TypeSystemCall,
					From:       a.name,
					Command:    tc.Name,
					Args:       tc.Arguments,
					ToolCallID: tc.ID,
				})
				stop = true
			default:
				result := a.registry.Execute(ctx, tc.Name, tc.Arguments)
				a.AppendToolResult(tc.ID, tc.Name, result.ForLLM)
			}
		}
		if stop {
			return nil
		}
	}
}

func (a *Agent) think(ctx context.Context) (*providers.ChatResponse, error) {
	a.mu.Lock()
	messages := make([]providers.Message, len(a.history))
	copy(messages, a.history)
	a.mu.Unlock()

	return a.provider.Chat(ctx, providers.ChatRequest{
		Messages:    messages,
		Tools:       a.registry.Definitions(a.role),
		Model:       a.model,
		Temperature: a.temperature,
		MaxTokens:   a.maxTokens,
	})
}

// dispatchSend delivers a chatroom_send to each recipient as a
// work-submitted message and returns the acknowledgement text.
func (a *Agent) dispatchSend(tc providers.ToolCall, corr string) string {
	text, _ := tc.Arguments["message"].(string)
	if text == "" {
		return "error: message is required"
	}
	recipients := Recipients(tc.Arguments["to"], a.name, a.roster)
	if len(recipients) == 0 {
		return "error: no valid recipients"
	}

	var sent []string
	for _, to := range recipients {
		if !a.bus.Registered(to) {
			continue
		}
		a.bus.Publish(bus.Message{
			Type:          bus.TypeWorkSubmitted,
			From:          a.name,
			Target:        to,
			Content:       text,
			CorrelationID: corr,
		})
		sent = append(sent, to)
	}
	if len(sent) == 0 {
		return "error: no recipients reachable"
	}
	return fmt.Sprintf("Message sent to %s", strings.Join(sent, ", "))
}

// Recipients normalizes the "to" argument of chatroom_send: string or list,
// "All" expanded to every roster name except the caller, duplicates removed.
func Recipients(to any, caller string, roster func() []string) []string {
	var raw []string
	switch v := to.(type) {
	case string:
		raw = []string{v}
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				raw = append(raw, s)
			}
		}
	case []string:
		raw = v
	}

	seen := make(map[string]bool)
	var out []string
	add := func(name string) {
		if name == "" || name == caller || seen[name] {
			return
		}
		seen[name] = true
		out = append(out, name)
	}
	for _, name := range raw {
		if strings.EqualFold(name, "All") {
			if roster != nil {
				for _, peer := range roster() {
					add(peer)
				}
			}
			continue
		}
		add(name)
	}
	return out
}
