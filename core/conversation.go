package core

// Message is one exchange inside a stored conversation.
type Message struct {
	UserInput     string `json:"user_input"`
	AgentResponse string `json:"agent_response"`
	Timestamp     string `json:"timestamp"`
}

// ConversationSummary is attached to a conversation when it is branched.
type ConversationSummary struct {
	Text                string `json:"summary_text"`
	CreatedAt           string `json:"created_at"`
	ChildConversationID string `json:"child_conversation_id,omitempty"`
}

// Conversation is a node in the conversation forest. Parent/child links use
// stable IDs resolved through an index lookup, never in-memory
// back-references, so lineage traversal cannot form reference cycles.
type Conversation struct {
	ID        string               `json:"conversation_id"`
	ThreadID  string               `json:"thread_id,omitempty"`
	Title     string               `json:"title,omitempty"`
	ParentID  string               `json:"parent_id,omitempty"`
	Messages  []Message            `json:"messages"`
	CreatedAt string               `json:"created_at"`
	Summary   *ConversationSummary `json:"summary,omitempty"`
}
