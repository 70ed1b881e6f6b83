package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nextlevelbuilder/crewd/internal/bus"
	"github.com/nextlevelbuilder/crewd/internal/providers"
)

// CriticAgent is a shadow observer. It subscribes to work-completed events
// and publishes a short critique of each result without joining the main
// conversation flow. It satisfies actor.Handler so the kernel can supervise
// it like any other actor.
type CriticAgent struct {
	name     string
	bus      *bus.Bus
	provider providers.Provider
	model    string
	subID    int
}

func NewCriticAgent(name string, b *bus.Bus, provider providers.Provider, model string) *CriticAgent {
	return &CriticAgent{name: name, bus: b, provider: provider, model: model}
}

func (c *CriticAgent) Name() string { return c.name }

// Attach subscribes the critic to completed work on the bus.
func (c *CriticAgent) Attach() {
	c.subID = c.bus.Subscribe(bus.TypeWorkCompleted, c.observe)
}

// Detach removes the bus subscription.
func (c *CriticAgent) Detach() {
	c.bus.Unsubscribe(bus.TypeWorkCompleted, c.subID)
}

// HandleMessage ignores direct mail; the critic works off its subscription.
func (c *CriticAgent) HandleMessage(context.Context, bus.Message) error { return nil }

func (c *CriticAgent) HandleInterrupt(bus.Message) {}

// observe runs on the publisher's goroutine, so it only hands the event
// off; the oracle call can take seconds and must not stall publishers.
func (c *CriticAgent) observe(msg bus.Message) {
	if msg.From == c.name || msg.Content == "" {
		return
	}
	go c.critique(msg)
}

func (c *CriticAgent) critique(msg bus.Message) {
	critique := fmt.Sprintf("Critique of %s: response received, no objection.", msg.From)
	if c.provider != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		resp, err := c.provider.Chat(ctx, providers.ChatRequest{
			Messages: []providers.Message{
				{Role: "system", Content: "You are a silent critic. In one sentence, assess the quality of the following agent response."},
				{Role: "user", Content: fmt.Sprintf("Response from %s: %s", msg.From, msg.Content)},
			},
			Model:       c.model,
			Temperature: 0.3,
			MaxTokens:   128,
		})
		if err != nil {
			slog.Warn("critic review failed", "critic", c.name, "error", err)
		} else if resp.Content != "" {
			critique = resp.Content
		}
	}

	c.bus.Publish(bus.Message{
		Type:          bus.TypeShadowCritique,
		From:          c.name,
		Content:       critique,
		CorrelationID: msg.CorrelationID,
	})
}
