package core

import "time"

// TimeFormat is the timestamp layout used across all persisted records.
const TimeFormat = time.RFC3339

// Now returns the current time formatted for record timestamps.
func Now() string {
	return time.Now().UTC().Format(TimeFormat)
}

// ParseTime parses a record timestamp. Zero time is returned for
// unparseable values so that stale persisted data degrades to "very old"
// rather than failing a load.
func ParseTime(ts string) time.Time {
	t, err := time.Parse(TimeFormat, ts)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Interaction is a single user/agent exchange. Immutable once created;
// it moves (never copies) between memory tiers during consolidation.
type Interaction struct {
	UserInput     string            `json:"user_input"`
	AgentResponse string            `json:"agent_response"`
	Timestamp     string            `json:"timestamp"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// NewInteraction builds an Interaction, stamping the current time when
// timestamp is empty.
func NewInteraction(userInput, agentResponse, timestamp string, metadata map[string]string) Interaction {
	if timestamp == "" {
		timestamp = Now()
	}
	return Interaction{
		UserInput:     userInput,
		AgentResponse: agentResponse,
		Timestamp:     timestamp,
		Metadata:      metadata,
	}
}

// Meta returns a metadata value, or "" when absent.
func (i Interaction) Meta(key string) string {
	if i.Metadata == nil {
		return ""
	}
	return i.Metadata[key]
}

// KnowledgeEntry is a durable long-term fact with its normalized embedding.
type KnowledgeEntry struct {
	ID        string    `json:"id"`
	Knowledge string    `json:"knowledge"`
	Timestamp string    `json:"timestamp"`
	Embedding []float32 `json:"embedding"`
}

// Profile is an owner's long-term profile text.
type Profile struct {
	OwnerID     string `json:"owner_id"`
	Data        string `json:"data"`
	LastUpdated string `json:"last_updated"`
}
