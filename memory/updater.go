package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/memoryos/memoryos-go/core"
)

const (
	profileAnalysisPrompt = `You are a user-profiling assistant. From the conversation below, extract a concise description of the user: stable traits, preferences, goals, and context. If nothing new can be learned, reply with exactly "None".

Conversation:
%s`

	knowledgeExtractionPrompt = `You are a memory extraction engine. From the conversation below, extract two kinds of durable knowledge:
1. "private": facts about the user's own data, plans, and circumstances
2. "assistant_knowledge": facts the assistant learned that are useful across users

One fact per line, each line starting with "- ". Use "None" for a section with nothing to extract.

Return strict JSON: {"private":"...","assistant_knowledge":"..."}

Conversation:
%s`

	profileMergePrompt = `You maintain a user profile. Merge the new observations into the existing profile: keep stable facts, replace outdated ones, drop duplicates. Return only the merged profile text.

Existing profile:
%s

New observations:
%s`

	branchSummaryPrompt = `You are an archival summarizer. Create a succinct summary of the following conversation. Highlight key decisions, turning points, and intended next steps. Output one short paragraph.`

	rollingSummaryPrompt = `You are a rolling summarizer. Provide a short, updated summary of the recent conversation. Summarize key points and overall direction. Keep it concise; this overwrites previous versions.`
)

// rollingSummaryWindow caps how many recent exchanges feed a rolling summary.
const rollingSummaryWindow = 40

// Updater is the consolidation engine. It moves records short-term ->
// mid-term when the buffer fills, and distills hot mid-term sessions into
// long-term profile and knowledge through LLM extraction.
//
// Per session the lifecycle is ACCUMULATING -> HOT (heat over threshold) ->
// ANALYZING (extraction in flight) -> ACCUMULATING (counters reset). A
// failed or cancelled extraction leaves every page unanalyzed, so the next
// hot cycle retries the same work: at-least-once, never partially marked.
type Updater struct {
	cfg          *Config
	logger       *log.Logger
	ownerID      string
	short        *ShortTermBuffer
	mid          *MidTermStore
	userLTM      *LongTermStore
	assistantLTM *LongTermStore
	embedder     Embedder
	llm          LLMClient
	tokenizer    Tokenizer
}

// NewUpdater wires the consolidation engine over the three tiers.
func NewUpdater(cfg *Config, ownerID string, short *ShortTermBuffer, mid *MidTermStore, userLTM, assistantLTM *LongTermStore, embedder Embedder, llm LLMClient, tokenizer Tokenizer) *Updater {
	return &Updater{
		cfg:          cfg,
		logger:       cfg.Logger,
		ownerID:      ownerID,
		short:        short,
		mid:          mid,
		userLTM:      userLTM,
		assistantLTM: assistantLTM,
		embedder:     embedder,
		llm:          llm,
		tokenizer:    tokenizer,
	}
}

// PromoteShortTerm drains the short-term buffer into mid-term sessions,
// preserving insertion order. If embedding fails partway, the unprocessed
// records are requeued at the front of the buffer so no record is dropped
// and ordering across the promotion boundary is kept.
func (u *Updater) PromoteShortTerm(ctx context.Context) error {
	records := u.short.Drain()
	if len(records) == 0 {
		return nil
	}
	u.logger.Printf("[UPDATER] Promoting %d short-term records to mid-term", len(records))

	for i, rec := range records {
		emb, err := u.embedder.Embed(ctx, rec.UserInput+"\n"+rec.AgentResponse)
		if err != nil {
			u.short.Requeue(records[i:])
			return fmt.Errorf("promote record %d: %w: %v", i, core.ErrCollaborator, err)
		}
		u.mid.AssignOrCreate(rec, emb)
	}
	return nil
}

// CheckConsolidation inspects the hottest mid-term session and runs
// extraction when its heat reaches the configured threshold.
func (u *Updater) CheckConsolidation(ctx context.Context) {
	u.consolidate(ctx, u.cfg.HeatThreshold)
}

// ForceConsolidation bypasses the heat threshold; test and ops hook.
func (u *Updater) ForceConsolidation(ctx context.Context) {
	u.consolidate(ctx, 0)
}

func (u *Updater) consolidate(ctx context.Context, threshold float64) {
	session := u.mid.PeekHottest()
	if session == nil {
		return
	}
	if session.Heat < threshold {
		return
	}
	pages := session.UnanalyzedPages()
	if len(pages) == 0 {
		u.logger.Printf("[UPDATER] Hot session %s has no unanalyzed pages, skipping", session.ID)
		return
	}

	u.logger.Printf("[UPDATER] Session %s heat %.2f over threshold, analyzing %d pages", session.ID, session.Heat, len(pages))

	result, err := u.extract(ctx, pages)
	if err != nil {
		// Pages stay unanalyzed; the next hot cycle retries.
		u.logger.Printf("[UPDATER] Extraction failed, session %s left unanalyzed: %v", session.ID, err)
		return
	}

	u.applyExtraction(ctx, result)
	u.mid.MarkAnalyzedAndReset(session.ID)
}

// ExtractionResult carries the three independent extraction outputs. Empty
// fields mean the LLM reported nothing to extract.
type ExtractionResult struct {
	ProfileDelta       string
	UserKnowledge      []string
	AssistantKnowledge []string
}

// extract runs the profile and knowledge extraction calls. Either call
// failing fails the whole extraction; "None" answers become absences.
func (u *Updater) extract(ctx context.Context, pages []Page) (*ExtractionResult, error) {
	convoText := formatPages(pages)

	profileText, err := u.llm.ChatCompletion(ctx, ChatRequest{
		Model: u.cfg.Model,
		Messages: []ChatMessage{
			{Role: "user", Content: fmt.Sprintf(profileAnalysisPrompt, convoText)},
		},
		Temperature: 0.3,
		MaxTokens:   800,
	})
	if err != nil {
		return nil, fmt.Errorf("profile analysis: %w: %v", core.ErrCollaborator, err)
	}

	knowledgeRaw, err := u.llm.ChatCompletion(ctx, ChatRequest{
		Model: u.cfg.Model,
		Messages: []ChatMessage{
			{Role: "user", Content: fmt.Sprintf(knowledgeExtractionPrompt, convoText)},
		},
		Temperature: 0.3,
		MaxTokens:   1200,
	})
	if err != nil {
		return nil, fmt.Errorf("knowledge extraction: %w: %v", core.ErrCollaborator, err)
	}

	private, assistant := parseKnowledgeExtraction(knowledgeRaw)
	result := &ExtractionResult{
		UserKnowledge:      knowledgeLines(private),
		AssistantKnowledge: knowledgeLines(assistant),
	}
	if !isNone(profileText) {
		result.ProfileDelta = strings.TrimSpace(profileText)
	}
	return result, nil
}

// applyExtraction writes extraction output into the long-term stores.
// Individual write failures are logged and skipped: the extraction itself
// completed, so the session still transitions back to ACCUMULATING.
func (u *Updater) applyExtraction(ctx context.Context, result *ExtractionResult) {
	if result.ProfileDelta != "" {
		u.updateProfile(ctx, result.ProfileDelta)
	}
	for _, line := range result.UserKnowledge {
		if err := u.userLTM.AddKnowledge(ctx, line); err != nil {
			u.logger.Printf("[UPDATER] User knowledge add failed: %v", err)
		}
	}
	for _, line := range result.AssistantKnowledge {
		if err := u.assistantLTM.AddKnowledge(ctx, line); err != nil {
			u.logger.Printf("[UPDATER] Assistant knowledge add failed: %v", err)
		}
	}
}

// updateProfile re-synthesizes the profile through the LLM when one already
// exists, otherwise stores the delta as the initial profile.
func (u *Updater) updateProfile(ctx context.Context, delta string) {
	old := u.userLTM.Profile(u.ownerID)
	if old == "" || isNone(old) {
		u.userLTM.UpdateProfile(u.ownerID, delta, false)
		return
	}

	merged, err := u.llm.ChatCompletion(ctx, ChatRequest{
		Model: u.cfg.Model,
		Messages: []ChatMessage{
			{Role: "user", Content: fmt.Sprintf(profileMergePrompt, old, delta)},
		},
		Temperature: 0.3,
		MaxTokens:   1000,
	})
	if err != nil {
		// Fall back to a textual append so the delta is not lost.
		u.logger.Printf("[UPDATER] Profile merge call failed, appending instead: %v", err)
		u.userLTM.UpdateProfile(u.ownerID, delta, true)
		return
	}
	u.userLTM.UpdateProfile(u.ownerID, strings.TrimSpace(merged), false)
}

// --- Auto-branching ---

// CheckAutoBranch scans a thread's conversations and branches any whose
// cumulative token count exceeds the ceiling. Conversations that already
// carry a branch summary are skipped.
func (u *Updater) CheckAutoBranch(ctx context.Context, threadID string) {
	if u.tokenizer == nil {
		return
	}
	for _, convo := range u.userLTM.ConversationsForThread(threadID) {
		if convo.Summary != nil {
			continue
		}
		tokens := 0
		for _, msg := range convo.Messages {
			tokens += u.tokenizer.CountTokens(msg.UserInput)
			tokens += u.tokenizer.CountTokens(msg.AgentResponse)
		}
		if tokens <= u.cfg.TokenCeiling {
			continue
		}
		u.logger.Printf("[UPDATER] Conversation %s exceeded %d tokens (%d), auto-branching", convo.ID, u.cfg.TokenCeiling, tokens)
		if _, err := u.SummarizeAndBranch(ctx, convo.ID); err != nil {
			u.logger.Printf("[UPDATER] Auto-branch failed for %s: %v", convo.ID, err)
		}
	}
}

// SummarizeAndBranch summarizes a conversation and creates a linked child
// conversation that continues the thread. Returns the child.
func (u *Updater) SummarizeAndBranch(ctx context.Context, conversationID string) (*core.Conversation, error) {
	convo := u.userLTM.Conversation(conversationID)
	if convo == nil {
		return nil, fmt.Errorf("branch: %w: conversation %s not found", core.ErrValidation, conversationID)
	}

	summary, err := u.llm.ChatCompletion(ctx, ChatRequest{
		Model: u.cfg.Model,
		Messages: []ChatMessage{
			{Role: "system", Content: branchSummaryPrompt},
			{Role: "user", Content: formatMessages(convo.Messages)},
		},
		Temperature: 0.5,
		MaxTokens:   400,
	})
	if err != nil {
		return nil, fmt.Errorf("branch summary: %w: %v", core.ErrCollaborator, err)
	}

	child := &core.Conversation{
		ID:        uuid.New().String(),
		ThreadID:  convo.ThreadID,
		Title:     fmt.Sprintf("Child of %s", convo.ID),
		ParentID:  convo.ID,
		CreatedAt: core.Now(),
	}
	u.userLTM.StoreConversation(child)
	u.userLTM.AttachSummary(convo.ID, core.ConversationSummary{
		Text:                strings.TrimSpace(summary),
		CreatedAt:           core.Now(),
		ChildConversationID: child.ID,
	})
	u.logger.Printf("[UPDATER] Branched conversation %s -> child %s", convo.ID, child.ID)
	return child, nil
}

// UpdateRollingSummary regenerates the thread's rolling summary from its
// most recent exchanges. The summary is overwritten, not appended.
func (u *Updater) UpdateRollingSummary(ctx context.Context, threadID string) {
	var msgs []core.Message
	for _, convo := range u.userLTM.ConversationsForThread(threadID) {
		msgs = append(msgs, convo.Messages...)
	}
	if len(msgs) == 0 {
		return
	}
	if len(msgs) > rollingSummaryWindow {
		msgs = msgs[len(msgs)-rollingSummaryWindow:]
	}

	summary, err := u.llm.ChatCompletion(ctx, ChatRequest{
		Model: u.cfg.Model,
		Messages: []ChatMessage{
			{Role: "system", Content: rollingSummaryPrompt},
			{Role: "user", Content: formatMessages(msgs)},
		},
		Temperature: 0.4,
		MaxTokens:   300,
	})
	if err != nil {
		u.logger.Printf("[UPDATER] Rolling summary failed for thread %s: %v", threadID, err)
		return
	}
	u.userLTM.AttachRollingSummary(threadID, strings.TrimSpace(summary))
}

// --- Helpers ---

func formatPages(pages []Page) string {
	var b strings.Builder
	for _, p := range pages {
		fmt.Fprintf(&b, "User: %s\nAssistant: %s\n", p.Interaction.UserInput, p.Interaction.AgentResponse)
	}
	return b.String()
}

func formatMessages(msgs []core.Message) string {
	var b strings.Builder
	for _, m := range msgs {
		fmt.Fprintf(&b, "User: %s\nAssistant: %s\n", m.UserInput, m.AgentResponse)
	}
	return b.String()
}

func isNone(s string) bool {
	return strings.EqualFold(strings.TrimSpace(s), "none")
}

type knowledgePayload struct {
	Private            string `json:"private"`
	AssistantKnowledge string `json:"assistant_knowledge"`
}

// parseKnowledgeExtraction decodes the extraction JSON, tolerating code
// fences. An undecodable response is treated as user-private knowledge
// rather than discarded.
func parseKnowledgeExtraction(raw string) (private, assistant string) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var payload knowledgePayload
	if err := json.Unmarshal([]byte(cleaned), &payload); err != nil {
		return cleaned, ""
	}
	return payload.Private, payload.AssistantKnowledge
}

// knowledgeLines splits an extraction section into individual entries,
// dropping blank and placeholder lines.
func knowledgeLines(section string) []string {
	if isNone(section) {
		return nil
	}
	var out []string
	for _, line := range strings.Split(section, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || placeholderKnowledge[strings.ToLower(line)] {
			continue
		}
		out = append(out, line)
	}
	return out
}
