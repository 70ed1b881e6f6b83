package tools

import (
	"context"
	"fmt"
)

// schemaTool declares a tool that is intercepted before execution: the
// messaging tools are handled by the orchestrator and the system tools are
// routed to the kernel as system calls. Execute is only reached if that
// interception is missing.
type schemaTool struct {
	name        string
	description string
	parameters  map[string]interface{}
}

func (t *schemaTool) Name() string                       { return t.name }
func (t *schemaTool) Description() string                { return t.description }
func (t *schemaTool) Parameters() map[string]interface{} { return t.parameters }

func (t *schemaTool) Execute(context.Context, map[string]interface{}) *Result {
	return ErrorResult(fmt.Sprintf("%s is dispatched by the runtime", t.name))
}

// NewChatroomSendTool declares chatroom_send.
func NewChatroomSendTool() Tool {
	return &schemaTool{
		name:        "chatroom_send",
		description: "Send a message to other agents in your team. If another agent sends you a message while you are thinking, it will be directly inserted into your context as a function turn.",
		parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"message": map[string]interface{}{
					"type":        "string",
					"description": "Message content to send. Can include tasks, context, or analysis results.",
				},
				"to": map[string]interface{}{
					"description": "Names of the message recipients. Pass 'All' to broadcast to the entire group, or a specific name like 'Harper'.",
					"anyOf": []interface{}{
						map[string]interface{}{"type": "string"},
						map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
					},
				},
			},
			"required": []string{"message", "to"},
		},
	}
}

// NewWaitTool declares wait. Delivery is event driven, so waiting is a
// signal to the orchestrator rather than a timed sleep.
func NewWaitTool() Tool {
	return &schemaTool{
		name:        "wait",
		description: "Wait for a teammate's message. Use this when you have delegated a task and need the result before proceeding.",
		parameters: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{},
		},
	}
}

// NewSetConversationTitleTool declares set_conversation_title.
func NewSetConversationTitleTool() Tool {
	return &schemaTool{
		name:        "set_conversation_title",
		description: "Set a short human-readable title for this conversation. Call this once, before starting on the task.",
		parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"title": map[string]interface{}{
					"type":        "string",
					"description": "Conversation title, at most 120 characters.",
				},
			},
			"required": []string{"title"},
		},
	}
}

// RegisterSystemTools adds the kernel tool schemas. These are routed to the
// kernel as system calls and answered asynchronously.
func RegisterSystemTools(r *Registry) {
	r.RegisterSystem(&schemaTool{
		name:        "spawn_agent",
		description: "Create and start a new agent with the given name, system prompt, and temperature.",
		parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"name": map[string]interface{}{
					"type":        "string",
					"description": "Unique name for the new agent.",
				},
				"system_prompt": map[string]interface{}{
					"type":        "string",
					"description": "System prompt defining the agent's role.",
				},
				"temperature": map[string]interface{}{
					"type":        "number",
					"description": "Sampling temperature for the agent.",
				},
			},
			"required": []string{"name", "system_prompt"},
		},
	})
	r.RegisterSystem(&schemaTool{
		name:        "kill_agent",
		description: "Stop an agent and remove it from the actor table.",
		parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"name": map[string]interface{}{
					"type":        "string",
					"description": "Name of the agent to stop.",
				},
			},
			"required": []string{"name"},
		},
	})
	r.RegisterSystem(&schemaTool{
		name:        "list_agents",
		description: "List the currently running agents.",
		parameters: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{},
		},
	})
	r.RegisterSystem(&schemaTool{
		name:        "allocate_budget",
		description: "Grant additional work credits to an agent.",
		parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"name": map[string]interface{}{
					"type":        "string",
					"description": "Name of the agent receiving the credits.",
				},
				"amount": map[string]interface{}{
					"type":        "integer",
					"description": "Number of work credits to grant.",
				},
			},
			"required": []string{"name", "amount"},
		},
	})
}
