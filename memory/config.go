package memory

import "log"

// Config holds tier capacities, thresholds, and heat parameters.
// Zero values are replaced with defaults by the System constructor.
type Config struct {
	// ShortTermCapacity is the short-term buffer size. Buffer-full is the
	// promotion trigger. Default: 100.
	ShortTermCapacity int

	// MidTermCapacity caps the number of mid-term sessions; the coldest
	// session is evicted when exceeded. Default: 50.
	MidTermCapacity int

	// KnowledgeCapacity bounds each long-term knowledge deque (user and
	// assistant scopes independently). Eviction is strict FIFO. Default: 1000.
	KnowledgeCapacity int

	// SessionSimilarity is the acceptance threshold for appending an
	// incoming interaction to an existing mid-term session. Below it a new
	// session is created. Default: 0.6.
	SessionSimilarity float64

	// MidTermSimilarity is the retrieval threshold for including a
	// mid-term session's pages in query results. Default: 0.3.
	MidTermSimilarity float64

	// KnowledgeThreshold is the minimum similarity for long-term knowledge
	// search hits. Default: 0.1.
	KnowledgeThreshold float64

	// RetrievalQueueCapacity caps retrieved mid-term pages per query.
	// Default: 50.
	RetrievalQueueCapacity int

	// KnowledgeTopK caps knowledge search results per scope. Default: 5.
	KnowledgeTopK int

	// HeatThreshold triggers mid-term -> long-term consolidation when the
	// hottest session reaches it. Default: 5.0.
	HeatThreshold float64

	// Heat curve parameters:
	// H = HeatAlpha*NVisit + HeatBeta*LInteraction + HeatGamma*R
	// where R = exp(-hoursSinceLastVisit / RecencyTauHours).
	// Defaults: 1.0 / 1.0 / 1.0, tau 24h.
	HeatAlpha       float64
	HeatBeta        float64
	HeatGamma       float64
	RecencyTauHours float64

	// TokenCeiling is the cumulative token count at which a conversation
	// is summarized and branched into a child. Default: 80000.
	TokenCeiling int

	// Model is passed through to LLMClient calls. Default: "gpt-4".
	Model string

	// Logger receives operational logging. Defaults to the standard
	// logger; tests inject a silenced one.
	Logger *log.Logger
}

// DefaultConfig returns the stock configuration.
func DefaultConfig() *Config {
	return &Config{
		ShortTermCapacity:      100,
		MidTermCapacity:        50,
		KnowledgeCapacity:      1000,
		SessionSimilarity:      0.6,
		MidTermSimilarity:      0.3,
		KnowledgeThreshold:     0.1,
		RetrievalQueueCapacity: 50,
		KnowledgeTopK:          5,
		HeatThreshold:          5.0,
		HeatAlpha:              1.0,
		HeatBeta:               1.0,
		HeatGamma:              1.0,
		RecencyTauHours:        24.0,
		TokenCeiling:           80000,
		Model:                  "gpt-4",
		Logger:                 log.Default(),
	}
}

// withDefaults fills zero-valued fields. Negative capacities are a
// construction-time misconfiguration and panic.
func (c *Config) withDefaults() *Config {
	if c == nil {
		return DefaultConfig()
	}
	d := DefaultConfig()
	out := *c
	if out.ShortTermCapacity == 0 {
		out.ShortTermCapacity = d.ShortTermCapacity
	}
	if out.MidTermCapacity == 0 {
		out.MidTermCapacity = d.MidTermCapacity
	}
	if out.KnowledgeCapacity == 0 {
		out.KnowledgeCapacity = d.KnowledgeCapacity
	}
	if out.ShortTermCapacity < 0 || out.MidTermCapacity < 0 || out.KnowledgeCapacity < 0 {
		panic("memory: negative capacity")
	}
	if out.SessionSimilarity == 0 {
		out.SessionSimilarity = d.SessionSimilarity
	}
	if out.MidTermSimilarity == 0 {
		out.MidTermSimilarity = d.MidTermSimilarity
	}
	if out.KnowledgeThreshold == 0 {
		out.KnowledgeThreshold = d.KnowledgeThreshold
	}
	if out.RetrievalQueueCapacity == 0 {
		out.RetrievalQueueCapacity = d.RetrievalQueueCapacity
	}
	if out.KnowledgeTopK == 0 {
		out.KnowledgeTopK = d.KnowledgeTopK
	}
	if out.HeatThreshold == 0 {
		out.HeatThreshold = d.HeatThreshold
	}
	if out.HeatAlpha == 0 {
		out.HeatAlpha = d.HeatAlpha
	}
	if out.HeatBeta == 0 {
		out.HeatBeta = d.HeatBeta
	}
	if out.HeatGamma == 0 {
		out.HeatGamma = d.HeatGamma
	}
	if out.RecencyTauHours == 0 {
		out.RecencyTauHours = d.RecencyTauHours
	}
	if out.TokenCeiling == 0 {
		out.TokenCeiling = d.TokenCeiling
	}
	if out.Model == "" {
		out.Model = d.Model
	}
	if out.Logger == nil {
		out.Logger = d.Logger
	}
	return &out
}
