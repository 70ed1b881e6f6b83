package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/crewd/internal/agent"
	"github.com/nextlevelbuilder/crewd/internal/providers"
	"github.com/nextlevelbuilder/crewd/pkg/protocol"
)

const (
	sendPreviewLen = 200
	maxTitleLen    = 120
)

func appendToolResult(st *AgentState, toolCallID, name, content string) {
	st.History = append(st.History, providers.Message{
		Role:       "tool",
		ToolCallID: toolCallID,
		Name:       name,
		Content:    content,
	})
}

func preview(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

// handleLeaderTool executes one leader tool call in the session loop.
// It reports whether the leader needs a follow-up step: any non-send,
// non-wait tool, any errored tool, or a wait with nothing outstanding.
func (o *Orchestrator) handleLeaderTool(ctx context.Context, leader *AgentState, tc providers.ToolCall) (followUp bool) {
	switch tc.Name {
	case "chatroom_send":
		return o.leaderSend(ctx, leader, tc)

	case "wait":
		if !o.collaborationOutstanding() && len(o.pending) == 0 {
			leader.History = append(leader.History, systemRecord("Error: no teammates pending; there is nothing to wait for."))
			appendToolResult(leader, tc.ID, tc.Name, "Error: no teammates pending.")
			return true
		}
		o.emit(ctx, protocol.StreamEvent{Type: protocol.StreamWait, Agent: o.leader})
		appendToolResult(leader, tc.ID, tc.Name, "Waiting for teammates.")
		return false

	case "set_conversation_title":
		title, _ := tc.Arguments["title"].(string)
		title = strings.TrimSpace(title)
		if title == "" {
			appendToolResult(leader, tc.ID, tc.Name, "Error: title must be non-empty.")
			return true
		}
		if len(title) > maxTitleLen {
			title = title[:maxTitleLen]
		}
		o.emit(ctx, protocol.StreamEvent{Type: protocol.StreamConversationTitle, Title: title})
		if o.history != nil && o.convID != "" {
			o.history.RecordTitle(o.convID, title)
		}
		appendToolResult(leader, tc.ID, tc.Name, fmt.Sprintf("Conversation title set: %s", title))
		return true

	default:
		if o.registry.IsSystem(tc.Name) {
			appendToolResult(leader, tc.ID, tc.Name, o.systemTool(tc))
			return true
		}
		if _, ok := o.registry.Get(tc.Name); !ok {
			appendToolResult(leader, tc.ID, tc.Name, fmt.Sprintf("Error: Tool %s not found.", tc.Name))
			return true
		}
		o.emitToolUse(ctx, o.leader, tc)
		result := o.registry.Execute(ctx, tc.Name, tc.Arguments)
		appendToolResult(leader, tc.ID, tc.Name, result.ForLLM)
		return true
	}
}

// leaderSend routes a leader chatroom_send. Recipients already owing the
// leader a reply are skipped and reported in the tool result.
func (o *Orchestrator) leaderSend(ctx context.Context, leader *AgentState, tc providers.ToolCall) (followUp bool) {
	message, _ := tc.Arguments["message"].(string)
	if strings.TrimSpace(message) == "" {
		appendToolResult(leader, tc.ID, tc.Name, "Error: message must be a non-empty string.")
		return true
	}

	recipients := agent.Recipients(tc.Arguments["to"], o.leader, func() []string { return o.roster })
	if len(recipients) == 0 {
		appendToolResult(leader, tc.ID, tc.Name, "Error: no valid recipients.")
		return true
	}

	var sent []string
	var fragments []string
	for _, name := range recipients {
		if o.pending[name] {
			fragments = append(fragments, fmt.Sprintf("Error: skipped pending recipient %s.", name))
			continue
		}
		if _, ok := o.agents[name]; !ok {
			fragments = append(fragments, fmt.Sprintf("Error: unknown recipient %s.", name))
			continue
		}
		o.deliver(delivery{To: name, From: o.leader, Content: message})
		o.pending[name] = true
		sent = append(sent, name)
		o.emit(ctx, protocol.StreamEvent{
			Type:    protocol.StreamChatroomSend,
			Agent:   o.leader,
			To:      name,
			Content: preview(message, sendPreviewLen),
		})
	}

	var result string
	if len(sent) > 0 {
		result = fmt.Sprintf("Message sent to %s.", strings.Join(sent, ", "))
	}
	if len(fragments) > 0 {
		if result != "" {
			result += " "
		}
		result += strings.Join(fragments, " ")
	}
	appendToolResult(leader, tc.ID, tc.Name, result)
	return len(sent) == 0
}

// systemTool services a leader system tool synchronously via the kernel.
func (o *Orchestrator) systemTool(tc providers.ToolCall) string {
	if o.system == nil {
		return fmt.Sprintf("Error: %s is not available in this session.", tc.Name)
	}
	name, _ := tc.Arguments["name"].(string)
	switch tc.Name {
	case "spawn_agent":
		prompt, _ := tc.Arguments["system_prompt"].(string)
		temp := 0.7
		if t, ok := tc.Arguments["temperature"].(float64); ok {
			temp = t
		}
		if err := o.system.SpawnAgent(name, prompt, temp); err != nil {
			return fmt.Sprintf("Error: %v", err)
		}
		return fmt.Sprintf("Spawned agent %s", name)
	case "kill_agent":
		if err := o.system.KillAgent(name); err != nil {
			return fmt.Sprintf("Error: %v", err)
		}
		return fmt.Sprintf("Killed agent %s", name)
	case "list_agents":
		return strings.Join(o.system.ListAgents(), ", ")
	case "allocate_budget":
		amount := 0
		if n, ok := tc.Arguments["amount"].(float64); ok {
			amount = int(n)
		}
		if err := o.system.AllocateBudget(name, amount); err != nil {
			return fmt.Sprintf("Error: %v", err)
		}
		return fmt.Sprintf("Allocated %d budget to %s", amount, name)
	default:
		return fmt.Sprintf("Error: unknown system tool %s.", tc.Name)
	}
}

func (o *Orchestrator) emitToolUse(ctx context.Context, agentName string, tc providers.ToolCall) {
	ev := protocol.StreamEvent{Type: protocol.StreamToolUse, Agent: agentName, Tool: tc.Name}
	if q, ok := tc.Arguments["query"].(string); ok {
		ev.Query = q
	}
	o.emit(ctx, ev)
}
