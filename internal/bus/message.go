package bus

import "time"

// Message type discriminators routed over the bus.
const (
	TypeWorkSubmitted    = "work-submitted"
	TypeWorkCompleted    = "work-completed"
	TypeWorkFailed       = "work-failed"
	TypeTaskFailed       = "task-failed"
	TypeInterrupt        = "interrupt"
	TypePoison           = "poison"
	TypeBudgetUpdate     = "budget-update"
	TypeBudgetExhausted  = "budget-exhausted"
	TypeToolUse          = "tool-use"
	TypeSystemCall       = "system-call"
	TypeSystemCallResult = "system-call-result"
	TypeArtifactCreated  = "artifact-created"
	TypeMemoryCompacted  = "memory-compacted"
	TypeAgentSpawned     = "agent-spawned"
	TypeAgentStopped     = "agent-stopped"
	TypeActorCrashed     = "actor-crashed"
	TypeShadowCritique   = "shadow-critique"
)

// Message is the bus envelope. Messages are immutable once published:
// handlers must not mutate a received Message.
type Message struct {
	Type          string `json:"type"`
	From          string `json:"from,omitempty"`
	Target        string `json:"target,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
	Content       string `json:"content,omitempty"`
	Timestamp     string `json:"timestamp,omitempty"`

	// Tool routing fields (tool-use, system-call, system-call-result).
	Tool       string         `json:"tool,omitempty"`
	Args       map[string]any `json:"args,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Command    string         `json:"command,omitempty"`

	// Type-specific payloads.
	Error   string `json:"error,omitempty"`
	Amount  int    `json:"amount,omitempty"`
	Preview string `json:"preview,omitempty"`

	// Spawn parameters (agent-spawned, spawn_agent system-call replay).
	SystemPrompt string  `json:"system_prompt,omitempty"`
	Temperature  float64 `json:"temperature,omitempty"`
}

// Stamped returns a copy with a UTC timestamp set, if absent.
func (m Message) Stamped() Message {
	if m.Timestamp == "" {
		m.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	return m
}
