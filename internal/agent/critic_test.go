package agent

import (
	"context"
	"testing"
	"time"

	"github.com/nextlevelbuilder/crewd/internal/bus"
	"github.com/nextlevelbuilder/crewd/internal/providers"
)

// gatedProvider blocks every Chat call until released.
type gatedProvider struct {
	release chan struct{}
	resp    *providers.ChatResponse
}

func (g *gatedProvider) Chat(ctx context.Context, _ providers.ChatRequest) (*providers.ChatResponse, error) {
	select {
	case <-g.release:
		return g.resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (g *gatedProvider) ChatStream(ctx context.Context, req providers.ChatRequest, _ func(providers.StreamChunk)) (*providers.ChatResponse, error) {
	return g.Chat(ctx, req)
}

func (g *gatedProvider) DefaultModel() string { return "fake-model" }
func (g *gatedProvider) Name() string         { return "fake" }

func TestCriticDoesNotBlockPublisher(t *testing.T) {
	b := bus.New()
	provider := &gatedProvider{
		release: make(chan struct{}),
		resp:    textResponse("Concise and correct."),
	}

	critiques := make(chan bus.Message, 4)
	b.Subscribe(bus.TypeShadowCritique, func(msg bus.Message) {
		critiques <- msg
	})

	critic := NewCriticAgent("Shadow", b, provider, "fake-model")
	critic.Attach()
	defer critic.Detach()

	published := make(chan struct{})
	go func() {
		b.Publish(bus.Message{
			Type:          bus.TypeWorkCompleted,
			From:          "Harper",
			Content:       "The number is 7.",
			CorrelationID: "corr-1",
		})
		close(published)
	}()

	// The publisher returns while the critic's oracle call is parked.
	select {
	case <-published:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on the critic's oracle call")
	}

	close(provider.release)
	select {
	case msg := <-critiques:
		if msg.From != "Shadow" || msg.Content != "Concise and correct." {
			t.Errorf("critique = %+v", msg)
		}
		if msg.CorrelationID != "corr-1" {
			t.Errorf("correlation id = %q", msg.CorrelationID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no critique published after oracle returned")
	}
}

func TestCriticIgnoresOwnAndEmptyResults(t *testing.T) {
	b := bus.New()
	provider := &gatedProvider{release: make(chan struct{}), resp: textResponse("x")}
	close(provider.release)

	critiques := make(chan bus.Message, 4)
	b.Subscribe(bus.TypeShadowCritique, func(msg bus.Message) {
		critiques <- msg
	})

	critic := NewCriticAgent("Shadow", b, provider, "fake-model")
	critic.Attach()
	defer critic.Detach()

	b.Publish(bus.Message{Type: bus.TypeWorkCompleted, From: "Shadow", Content: "self"})
	b.Publish(bus.Message{Type: bus.TypeWorkCompleted, From: "Harper", Content: ""})

	select {
	case msg := <-critiques:
		t.Fatalf("unexpected critique: %+v", msg)
	case <-time.After(100 * time.Millisecond):
	}
}
