// Package models provides a registry of well-known LLM model metadata:
// context windows, output limits, capability flags, and per-million-token
// pricing used to keep assistant-message cost invariants up to date.
//
// Usage:
//
//	info := models.Lookup("claude-sonnet-4-5-20251219")
//	if info != nil {
//	    fmt.Println(info.ContextWindow) // 200000
//	}
package models

import (
	"strings"

	"github.com/calderhq/agentloop/pkg/ai"
)

// ---------------------------------------------------------------------------
// ModelInfo
// ---------------------------------------------------------------------------

// ModelInfo holds static metadata for a known model.
type ModelInfo struct {
	// ID is the canonical model identifier string.
	ID string

	// Provider is the canonical provider name ("anthropic", "bedrock", …).
	Provider string

	// DisplayName is a short human-readable name.
	DisplayName string

	// ContextWindow is the maximum number of input tokens (prompt + history).
	ContextWindow int

	// MaxOutputTokens is the maximum tokens the model generates per response.
	MaxOutputTokens int

	// SupportsVision is true when the model accepts image inputs.
	SupportsVision bool

	// SupportsThinking is true when the model has an extended-reasoning mode.
	SupportsThinking bool

	// AdaptiveThinking is true when reasoning is requested via an effort
	// parameter instead of a fixed token budget.
	AdaptiveThinking bool

	// InputCostPer1M is the cost in USD per 1 million input tokens.
	InputCostPer1M float64

	// OutputCostPer1M is the cost in USD per 1 million output tokens.
	OutputCostPer1M float64

	// CacheReadCostPer1M is the cost in USD per 1 million cache-read tokens.
	CacheReadCostPer1M float64

	// CacheWriteCostPer1M is the cost in USD per 1 million cache-write tokens.
	CacheWriteCostPer1M float64
}

// Pricing returns the ai.Pricing for this model. A nil receiver yields the
// zero pricing, so cost for unknown models computes to zero.
func (m *ModelInfo) Pricing() ai.Pricing {
	if m == nil {
		return ai.Pricing{}
	}
	return ai.Pricing{
		InputPer1M:      m.InputCostPer1M,
		OutputPer1M:     m.OutputCostPer1M,
		CacheReadPer1M:  m.CacheReadCostPer1M,
		CacheWritePer1M: m.CacheWriteCostPer1M,
	}
}

// ---------------------------------------------------------------------------
// Registry
// ---------------------------------------------------------------------------

// registry holds all known models, indexed by their canonical ID.
var registry = buildRegistry()

// Lookup returns the ModelInfo for id (exact match first, then prefix
// match). Returns nil if the model is unknown. The prefix match handles
// versioned IDs like "claude-sonnet-4-5-20251219" matching a key registered
// as "claude-sonnet-4-5".
func Lookup(id string) *ModelInfo {
	if m, ok := registry[id]; ok {
		return m
	}
	id = strings.ToLower(id)
	for k, m := range registry {
		kl := strings.ToLower(k)
		if strings.HasPrefix(id, kl) || strings.HasPrefix(kl, id) {
			return m
		}
	}
	return nil
}

// PricingFor returns the pricing table for id; unknown models price at zero.
func PricingFor(id string) ai.Pricing {
	return Lookup(id).Pricing()
}

// MaxOutputFor returns the max output tokens for id, or 0 if unknown.
func MaxOutputFor(id string) int {
	if m := Lookup(id); m != nil {
		return m.MaxOutputTokens
	}
	return 0
}

// SupportsVision reports whether id declares image-input capability.
// Unknown models are assumed text-only: images are stripped pre-flight.
func SupportsVision(id string) bool {
	if m := Lookup(id); m != nil {
		return m.SupportsVision
	}
	return false
}

// AdaptiveThinking reports whether id takes an effort parameter rather than
// a thinking token budget.
func AdaptiveThinking(id string) bool {
	if m := Lookup(id); m != nil {
		return m.AdaptiveThinking
	}
	return false
}

// All returns every registered ModelInfo, unsorted.
func All() []*ModelInfo {
	out := make([]*ModelInfo, 0, len(registry))
	for _, m := range registry {
		out = append(out, m)
	}
	return out
}

// ---------------------------------------------------------------------------
// Registry builder
// ---------------------------------------------------------------------------

func reg(m ModelInfo) *ModelInfo { return &m }

func buildRegistry() map[string]*ModelInfo {
	ms := []*ModelInfo{
		// ── Anthropic ──────────────────────────────────────────────────────
		reg(ModelInfo{
			ID: "claude-opus-4-5", Provider: "anthropic", DisplayName: "Claude Opus 4.5",
			ContextWindow: 200000, MaxOutputTokens: 32000,
			SupportsVision: true, SupportsThinking: true, AdaptiveThinking: true,
			InputCostPer1M: 15, OutputCostPer1M: 75,
			CacheReadCostPer1M: 1.5, CacheWriteCostPer1M: 18.75,
		}),
		reg(ModelInfo{
			ID: "claude-sonnet-4-5", Provider: "anthropic", DisplayName: "Claude Sonnet 4.5",
			ContextWindow: 200000, MaxOutputTokens: 64000,
			SupportsVision: true, SupportsThinking: true, AdaptiveThinking: true,
			InputCostPer1M: 3, OutputCostPer1M: 15,
			CacheReadCostPer1M: 0.3, CacheWriteCostPer1M: 3.75,
		}),
		reg(ModelInfo{
			ID: "claude-haiku-4-5", Provider: "anthropic", DisplayName: "Claude Haiku 4.5",
			ContextWindow: 200000, MaxOutputTokens: 16000,
			SupportsVision: true, SupportsThinking: false,
			InputCostPer1M: 0.8, OutputCostPer1M: 4,
			CacheReadCostPer1M: 0.08, CacheWriteCostPer1M: 1,
		}),
		reg(ModelInfo{
			ID: "claude-3-7-sonnet-20250219", Provider: "anthropic", DisplayName: "Claude 3.7 Sonnet",
			ContextWindow: 200000, MaxOutputTokens: 64000,
			SupportsVision: true, SupportsThinking: true,
			InputCostPer1M: 3, OutputCostPer1M: 15,
			CacheReadCostPer1M: 0.3, CacheWriteCostPer1M: 3.75,
		}),
		reg(ModelInfo{
			ID: "claude-3-5-sonnet-20241022", Provider: "anthropic", DisplayName: "Claude 3.5 Sonnet",
			ContextWindow: 200000, MaxOutputTokens: 8192,
			SupportsVision: true, SupportsThinking: false,
			InputCostPer1M: 3, OutputCostPer1M: 15,
			CacheReadCostPer1M: 0.3, CacheWriteCostPer1M: 3.75,
		}),
		reg(ModelInfo{
			ID: "claude-3-5-haiku-20241022", Provider: "anthropic", DisplayName: "Claude 3.5 Haiku",
			ContextWindow: 200000, MaxOutputTokens: 8192,
			SupportsVision: true, SupportsThinking: false,
			InputCostPer1M: 0.8, OutputCostPer1M: 4,
			CacheReadCostPer1M: 0.08, CacheWriteCostPer1M: 1,
		}),

		// ── Claude on AWS Bedrock ─────────────────────────────────────────
		reg(ModelInfo{
			ID: "us.anthropic.claude-sonnet-4-5-20250929-v1:0", Provider: "bedrock", DisplayName: "Claude Sonnet 4.5 (Bedrock)",
			ContextWindow: 200000, MaxOutputTokens: 64000,
			SupportsVision: true, SupportsThinking: true, AdaptiveThinking: true,
			InputCostPer1M: 3, OutputCostPer1M: 15,
			CacheReadCostPer1M: 0.3, CacheWriteCostPer1M: 3.75,
		}),
		reg(ModelInfo{
			ID: "us.anthropic.claude-3-7-sonnet-20250219-v1:0", Provider: "bedrock", DisplayName: "Claude 3.7 Sonnet (Bedrock)",
			ContextWindow: 200000, MaxOutputTokens: 64000,
			SupportsVision: true, SupportsThinking: true,
			InputCostPer1M: 3, OutputCostPer1M: 15,
			CacheReadCostPer1M: 0.3, CacheWriteCostPer1M: 3.75,
		}),
		reg(ModelInfo{
			ID: "us.anthropic.claude-3-5-sonnet-20241022-v2:0", Provider: "bedrock", DisplayName: "Claude 3.5 Sonnet (Bedrock)",
			ContextWindow: 200000, MaxOutputTokens: 8192,
			SupportsVision: true, SupportsThinking: false,
			InputCostPer1M: 3, OutputCostPer1M: 15,
		}),
	}

	out := make(map[string]*ModelInfo, len(ms))
	for _, m := range ms {
		out[m.ID] = m
	}
	return out
}
