package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nextlevelbuilder/crewd/internal/providers"
	"github.com/nextlevelbuilder/crewd/pkg/protocol"
)

func systemRecord(content string) providers.Message {
	return providers.Message{Role: "system", Content: content}
}

func userRecord(content string) providers.Message {
	return providers.Message{Role: "user", Content: content}
}

// stepOutcome is what a collaborator task hands back to the session loop.
// Events are emitted contiguously on receipt; deliveries are applied to
// mailboxes only by the session loop.
type stepOutcome struct {
	agent      string
	events     []protocol.StreamEvent
	deliveries []delivery
	err        error
}

type delivery struct {
	To      string
	From    string
	Content string
}

// RunStream executes the session and returns the caller's event stream.
// The channel is closed after the terminal done or error event.
func (o *Orchestrator) RunStream(ctx context.Context, req Request) <-chan protocol.StreamEvent {
	o.events = make(chan protocol.StreamEvent, 64)
	go func() {
		defer close(o.events)
		o.run(ctx, req)
	}()
	return o.events
}

// Run executes the session and returns the concatenated final answer.
func (o *Orchestrator) Run(ctx context.Context, message string) (string, error) {
	var answer strings.Builder
	var failure error
	for ev := range o.RunStream(ctx, Request{Message: message}) {
		switch ev.Type {
		case protocol.StreamToken:
			answer.WriteString(ev.Content)
		case protocol.StreamError:
			failure = fmt.Errorf("%s", ev.Content)
		}
	}
	if failure != nil {
		return "", failure
	}
	return answer.String(), nil
}

func (o *Orchestrator) emit(ctx context.Context, ev protocol.StreamEvent) {
	if ev.Type == protocol.StreamThought && ev.Content != "" {
		o.thoughts = append(o.thoughts, fmt.Sprintf("%s: %s", ev.Agent, ev.Content))
	}
	select {
	case o.events <- ev:
	case <-ctx.Done():
	}
}

func (o *Orchestrator) run(ctx context.Context, req Request) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	o.convID = req.ConversationID
	if o.convID != "" {
		o.emit(ctx, protocol.StreamEvent{Type: protocol.StreamConversation, ConversationID: o.convID})
	}
	for name, temp := range req.Temperatures {
		if st, ok := o.agents[name]; ok {
			st.Temperature = temp
		}
	}

	leader := o.agents[o.leader]
	if o.requireTitle {
		leader.History = append(leader.History, systemRecord(
			"Before solving the task, call set_conversation_title exactly once with a concise title for this dialog."))
	}
	leader.History = append(leader.History, userRecord(req.Message))
	o.recordMessage("user", req.Message, nil)

	o.emit(ctx, protocol.StreamEvent{Type: protocol.StreamStatus, Content: "Agents thinking..."})

	completions := make(chan stepOutcome, len(o.roster))
	followUp := true

	for step := 0; step < o.maxSteps; step++ {
		if ctx.Err() != nil {
			return
		}

		mailboxChanged := o.ingestLeaderMailbox()

		if mailboxChanged || followUp {
			followUp = false
			final, needFollowUp, err := o.leaderTurn(ctx)
			if err != nil {
				o.fail(ctx, err.Error())
				return
			}
			if final != "" {
				o.finish(ctx, final)
				return
			}
			followUp = needFollowUp
		}

		o.launchReady(ctx, completions)

		// Tool handling may have refilled the leader's mailbox; serve it
		// before blocking on collaborators.
		if len(leader.Mailbox) > 0 {
			continue
		}

		if len(o.running) > 0 {
			o.awaitCompletion(ctx, completions)
			continue
		}

		if !followUp && !o.anyCollaboratorMailbox() {
			// Nothing can make progress and no final answer was produced.
			o.fail(ctx, "session ended without a final answer")
			return
		}
	}

	o.fail(ctx, "session budget reached without a final answer")
}

// leaderTurn runs one leader think step and its tool calls. It returns the
// final answer when the session should terminate.
func (o *Orchestrator) leaderTurn(ctx context.Context) (final string, followUp bool, err error) {
	leader := o.agents[o.leader]

	extra := ""
	if pending := o.pendingNames(); len(pending) > 0 {
		extra = fmt.Sprintf(
			"You are still waiting for replies from: %s. Call wait if you need their results before proceeding.",
			strings.Join(pending, ", "))
	}

	resp, err := o.step(ctx, leader, extra, nil)
	if err != nil {
		return "", false, err
	}

	if resp.Content != "" {
		o.emit(ctx, protocol.StreamEvent{Type: protocol.StreamThought, Agent: o.leader, Content: resp.Content})
	}

	if len(resp.ToolCalls) == 0 {
		if resp.Content == "" {
			leader.History = append(leader.History, systemRecord(
				"Error: empty response. Reply with either a final answer or a tool call."))
			return "", true, nil
		}
		if o.collaborationOutstanding() {
			// Not final yet; the leader is re-entered once the
			// collaborators report back.
			return "", false, nil
		}
		return resp.Content, false, nil
	}

	for _, tc := range resp.ToolCalls {
		if o.handleLeaderTool(ctx, leader, tc) {
			followUp = true
		}
	}
	return "", followUp, nil
}

// launchReady starts a collaborator task for every non-leader agent with
// pending mail that is not already running. The mailbox snapshot is taken
// here so the task never touches shared state.
func (o *Orchestrator) launchReady(ctx context.Context, completions chan<- stepOutcome) {
	for _, name := range o.roster {
		if name == o.leader || o.running[name] {
			continue
		}
		st := o.agents[name]
		if len(st.Mailbox) == 0 {
			continue
		}
		mail := st.Mailbox
		st.Mailbox = nil
		o.running[name] = true
		go func(st *AgentState, mail []Mail) {
			completions <- o.collaboratorStep(ctx, st, mail)
		}(st, mail)
	}
}

// awaitCompletion blocks for one finished collaborator task, emits its
// events contiguously, and applies its deliveries.
func (o *Orchestrator) awaitCompletion(ctx context.Context, completions <-chan stepOutcome) {
	select {
	case <-ctx.Done():
		return
	case out := <-completions:
		delete(o.running, out.agent)
		for _, ev := range out.events {
			o.emit(ctx, ev)
		}
		if out.err != nil {
			slog.Warn("collaborator step failed", "agent", out.agent, "error", out.err)
			o.deliver(delivery{
				To:      o.leader,
				From:    "System",
				Content: fmt.Sprintf("Error: %s failed: %v", out.agent, out.err),
			})
		}
		for _, d := range out.deliveries {
			o.deliver(d)
		}
	}
}

func (o *Orchestrator) deliver(d delivery) {
	st, ok := o.agents[d.To]
	if !ok {
		slog.Warn("delivery to unknown agent dropped", "to", d.To, "from", d.From)
		return
	}
	st.Mailbox = append(st.Mailbox, Mail{From: d.From, Content: d.Content})
}

// finish streams the final answer as word-level token chunks and ends the
// session.
func (o *Orchestrator) finish(ctx context.Context, answer string) {
	o.recordMessage("assistant", answer, o.thoughts)
	words := strings.Split(answer, " ")
	for i, word := range words {
		token := word
		if i > 0 {
			token = " " + word
		}
		o.emit(ctx, protocol.StreamEvent{Type: protocol.StreamToken, Content: token})
	}
	o.emit(ctx, protocol.StreamEvent{Type: protocol.StreamDone})
}

func (o *Orchestrator) fail(ctx context.Context, reason string) {
	slog.Error("session failed", "reason", reason)
	o.emit(ctx, protocol.StreamEvent{Type: protocol.StreamError, Content: reason})
	o.emit(ctx, protocol.StreamEvent{Type: protocol.StreamDone})
}

func (o *Orchestrator) recordMessage(role, content string, thoughts []string) {
	if o.history == nil || o.convID == "" {
		return
	}
	o.history.RecordMessage(o.convID, role, content, thoughts)
}
