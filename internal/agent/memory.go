package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nextlevelbuilder/crewd/internal/artifacts"
	"github.com/nextlevelbuilder/crewd/internal/bus"
	"github.com/nextlevelbuilder/crewd/internal/providers"
)

const (
	// historySoftLimit triggers compaction once exceeded.
	historySoftLimit = 20
	// compactKeepTail is the minimum number of recent records kept verbatim.
	compactKeepTail = 10
	// archivePreviewLen bounds the preview kept inline for archived output.
	archivePreviewLen = 500
)

const summarizerPrompt = `You compress an agent's working memory. Given a conversation transcript, respond with exactly two sections:
FACTS: the established facts, results, and constraints so far, as terse bullet points.
PLAN: what the agent should do next, in one short paragraph.`

// archiveIfLarge stores oversized tool output in the artifact store and
// returns a truncated record carrying the artifact id and a preview.
func (a *Agent) archiveIfLarge(content string) string {
	if a.artifacts == nil || len(content) <= artifacts.DefaultSliceLength {
		return content
	}
	id := a.artifacts.Put(content)
	preview := content[:archivePreviewLen]

	a.bus.Publish(bus.Message{
		Type:    bus.TypeArtifactCreated,
		From:    a.name,
		Content: id,
		Preview: preview,
	})
	return fmt.Sprintf(
		"[Large Output Stored as artifact %s, %d bytes. Preview:]\n%s\n[Call artifact_read with artifact_id=%q for the rest.]",
		id, len(content), preview, id,
	)
}

// compactIfNeeded summarizes the older half of a long history into two
// synthetic system records. The split never separates an assistant record
// from its tool records, and a summarization failure leaves the history
// untouched.
func (a *Agent) compactIfNeeded(ctx context.Context) {
	a.mu.Lock()
	if len(a.history) <= historySoftLimit {
		a.mu.Unlock()
		return
	}
	split := len(a.history) - compactKeepTail
	for split > 1 && a.history[split].Role == "tool" {
		split--
	}
	if split < 2 {
		a.mu.Unlock()
		return
	}
	prefix := make([]providers.Message, split)
	copy(prefix, a.history[:split])
	a.mu.Unlock()

	facts, plan, err := a.summarize(ctx, prefix)
	if err != nil {
		slog.Warn("memory compaction failed", "agent", a.name, "error", err)
		return
	}

	a.mu.Lock()
	tail := a.history[split:]
	compacted := make([]providers.Message, 0, len(tail)+3)
	compacted = append(compacted,
		providers.Message{Role: "system", Content: a.systemPrompt},
		providers.Message{Role: "system", Content: "[Memory Summary] " + facts},
		providers.Message{Role: "system", Content: "[Current Plan] " + plan},
	)
	compacted = append(compacted, tail...)
	dropped := len(a.history) - len(compacted)
	a.history = compacted
	a.mu.Unlock()

	slog.Info("memory compacted", "agent", a.name, "dropped", dropped)
	a.bus.Publish(bus.Message{
		Type:    bus.TypeMemoryCompacted,
		From:    a.name,
		Content: fmt.Sprintf("compacted %d records", dropped),
	})
}

func (a *Agent) summarize(ctx context.Context, prefix []providers.Message) (facts, plan string, err error) {
	var transcript strings.Builder
	for _, m := range prefix {
		fmt.Fprintf(&transcript, "%s: %s\n", m.Role, m.Content)
		for _, tc := range m.ToolCalls {
			fmt.Fprintf(&transcript, "  tool call: %s\n", tc.Name)
		}
	}

	resp, err := a.provider.Chat(ctx, providers.ChatRequest{
		Messages: []providers.Message{
			{Role: "system", Content: summarizerPrompt},
			{Role: "user", Content: transcript.String()},
		},
		Model:       a.model,
		Temperature: 0.2,
		MaxTokens:   1024,
	})
	if err != nil {
		return "", "", err
	}
	facts, plan = splitSummary(resp.Content)
	return facts, plan, nil
}

func splitSummary(content string) (facts, plan string) {
	facts = strings.TrimSpace(content)
	plan = "Continue the current task."
	if idx := strings.Index(content, "PLAN:"); idx >= 0 {
		facts = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(content[:idx]), "FACTS:"))
		plan = strings.TrimSpace(content[idx+len("PLAN:"):])
	} else {
		facts = strings.TrimSpace(strings.TrimPrefix(facts, "FACTS:"))
	}
	if facts == "" {
		facts = "(no facts recorded)"
	}
	if plan == "" {
		plan = "Continue the current task."
	}
	return facts, plan
}
