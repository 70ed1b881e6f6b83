package protocol

// Stream event kinds emitted to the caller during a chat session.
const (
	StreamConversation      = "conversation"
	StreamStatus            = "status"
	StreamThought           = "thought"
	StreamToolUse           = "tool_use"
	StreamChatroomSend      = "chatroom_send"
	StreamConversationTitle = "conversation_title"
	StreamWait              = "wait"
	StreamToken             = "token"
	StreamDone              = "done"
	StreamError             = "error"
)

// StreamEvent is one frame of the caller-facing event stream.
// Exactly one of the optional fields is populated depending on Type.
type StreamEvent struct {
	Type           string `json:"type"`
	Agent          string `json:"agent,omitempty"`
	Content        string `json:"content,omitempty"`
	Tool           string `json:"tool,omitempty"`
	Query          string `json:"query,omitempty"`
	To             string `json:"to,omitempty"`
	Title          string `json:"title,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
}
