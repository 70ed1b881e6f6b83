package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/crewd/internal/agent"
	"github.com/nextlevelbuilder/crewd/internal/providers"
	"github.com/nextlevelbuilder/crewd/pkg/protocol"
)

const collabPolicy = "Asynchronous collaboration policy: you work asynchronously and the leader is waiting. Favor sending the leader a partial or final deliverable via chatroom_send as soon as you have one. Use at most one additional non-send tool per round."

const finalizeDirective = "Finalize now: send the leader your best available result via chatroom_send. No other tools are available."

// collaboratorStep runs one awakening of a collaborator. It executes in its
// own goroutine, so it only reads the roster and mutates the collaborator's
// own history; mailbox effects are returned as deliveries for the session
// loop to apply.
func (o *Orchestrator) collaboratorStep(ctx context.Context, st *AgentState, mail []Mail) stepOutcome {
	out := stepOutcome{agent: st.Name}

	for _, m := range mail {
		st.History = append(st.History, systemRecord(fmt.Sprintf("Message from %s: %s", m.From, m.Content)))
	}

	for round := 0; round < o.maxToolRounds; round++ {
		resp, err := o.step(ctx, st, collabPolicy, nil)
		if err != nil {
			out.err = err
			return out
		}

		if resp.Content != "" {
			out.events = append(out.events, protocol.StreamEvent{
				Type: protocol.StreamThought, Agent: st.Name, Content: resp.Content,
			})
		}

		if len(resp.ToolCalls) == 0 {
			if resp.Content != "" {
				// Plain text is auto-forwarded to the leader as the deliverable.
				out.deliveries = append(out.deliveries, delivery{
					To: o.leader, From: st.Name, Content: resp.Content,
				})
			}
			return out
		}

		sent := false
		for _, tc := range resp.ToolCalls {
			if o.collabTool(ctx, st, tc, &out) {
				sent = true
			}
		}
		if sent {
			// Delivery is the deliverable.
			return out
		}
	}

	// Round budget reached without a send.
	out.deliveries = append(out.deliveries, delivery{
		To:      o.leader,
		From:    "System",
		Content: fmt.Sprintf("[auto-guard] %s stopped on tool-step budget.", st.Name),
	})
	o.forceFinalize(ctx, st, &out)
	return out
}

// collabTool executes one collaborator tool call, collecting its events and
// deliveries. It reports whether the call was a successful chatroom_send.
func (o *Orchestrator) collabTool(ctx context.Context, st *AgentState, tc providers.ToolCall, out *stepOutcome) bool {
	switch tc.Name {
	case "chatroom_send":
		message, _ := tc.Arguments["message"].(string)
		if message == "" {
			appendToolResult(st, tc.ID, tc.Name, "Error: message must be a non-empty string.")
			return false
		}
		recipients := agent.Recipients(tc.Arguments["to"], st.Name, func() []string { return o.roster })
		var sent []string
		for _, name := range recipients {
			if _, ok := o.agents[name]; !ok {
				continue
			}
			out.deliveries = append(out.deliveries, delivery{To: name, From: st.Name, Content: message})
			out.events = append(out.events, protocol.StreamEvent{
				Type:    protocol.StreamChatroomSend,
				Agent:   st.Name,
				To:      name,
				Content: preview(message, sendPreviewLen),
			})
			sent = append(sent, name)
		}
		if len(sent) == 0 {
			appendToolResult(st, tc.ID, tc.Name, "Error: no valid recipients.")
			return false
		}
		appendToolResult(st, tc.ID, tc.Name, fmt.Sprintf("Message sent to %s.", strings.Join(sent, ", ")))
		return true

	case "wait":
		out.events = append(out.events, protocol.StreamEvent{Type: protocol.StreamWait, Agent: st.Name})
		appendToolResult(st, tc.ID, tc.Name, "Waited.")
		return false

	case "set_conversation_title":
		appendToolResult(st, tc.ID, tc.Name, "Error: only the leader can set the conversation title.")
		return false

	default:
		if o.registry.IsSystem(tc.Name) {
			appendToolResult(st, tc.ID, tc.Name, fmt.Sprintf("Error: %s is not permitted for collaborators.", tc.Name))
			return false
		}
		if _, ok := o.registry.Get(tc.Name); !ok {
			appendToolResult(st, tc.ID, tc.Name, fmt.Sprintf("Error: Tool %s not found.", tc.Name))
			return false
		}
		ev := protocol.StreamEvent{Type: protocol.StreamToolUse, Agent: st.Name, Tool: tc.Name}
		if q, ok := tc.Arguments["query"].(string); ok {
			ev.Query = q
		}
		out.events = append(out.events, ev)
		result := o.registry.Execute(ctx, tc.Name, tc.Arguments)
		appendToolResult(st, tc.ID, tc.Name, result.ForLLM)
		return false
	}
}

// forceFinalize reruns the collaborator restricted to chatroom_send. If it
// still does not send, a placeholder is delivered on its behalf.
func (o *Orchestrator) forceFinalize(ctx context.Context, st *AgentState, out *stepOutcome) {
	resp, err := o.step(ctx, st, finalizeDirective, []string{"chatroom_send"})
	if err == nil {
		for _, tc := range resp.ToolCalls {
			if tc.Name == "chatroom_send" && o.collabTool(ctx, st, tc, out) {
				return
			}
		}
	}
	out.deliveries = append(out.deliveries, delivery{
		To:      o.leader,
		From:    st.Name,
		Content: fmt.Sprintf("%s did not produce a final message.", st.Name),
	})
}
