package core

import "errors"

// Error classes for the memory system. Callers match with errors.Is; sites
// that produce them wrap with fmt.Errorf("...: %w", ...).
var (
	// ErrCollaborator marks a failed embedding, LLM, or tokenizer call.
	// Consolidation catches these locally and retries on the next hot cycle.
	ErrCollaborator = errors.New("collaborator call failed")

	// ErrPersistence marks a failed or corrupt load/save against the
	// durable store. Loads fall back to fresh state instead of propagating.
	ErrPersistence = errors.New("persistence failure")

	// ErrValidation marks caller-supplied invalid input, e.g. empty
	// knowledge text. Knowledge adds treat it as a silent no-op.
	ErrValidation = errors.New("invalid input")
)
