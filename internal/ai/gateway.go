// Package ai exposes the provider gateway: a single Generate operation over
// interchangeable AI backends with cost-driven model selection. The gateway
// never lets an exception or raw transport error escape to its caller; every
// outcome is a Result.
package ai

import (
	"context"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog/log"

	"pomelo/internal/ai/component"
	"pomelo/internal/config"
	mdl "pomelo/internal/model"
)

// Feature request tag driving model selection and token ceilings
type Feature string

const (
	FeatureChat         Feature = "ai_chat"
	FeatureAutofill     Feature = "autofill"
	FeatureLeadAnalysis Feature = "lead_analysis"
	FeatureEmailDraft   Feature = "email_draft"
)

// fullModelFeatures feature tags that always use the full-capability model
var fullModelFeatures = map[Feature]struct{}{
	FeatureAutofill:     {},
	FeatureLeadAnalysis: {},
	FeatureEmailDraft:   {},
}

// failure reasons, user-presentable
const (
	ReasonNotConfigured = "not_configured"
	ReasonEmptyResponse = "empty_response"
	ReasonRateLimited   = "rate_limited"
	ReasonProviderError = "provider_error"
)

// Request one generation request
type Request struct {
	Feature           Feature
	Prompt            string
	SystemInstruction string
	Temperature       float64
	MaxTokens         int
}

// Result uniform success/failure envelope
type Result struct {
	Success   bool            `json:"success"`
	Response  string          `json:"response,omitempty"`
	Reason    string          `json:"reason,omitempty"`
	Message   string          `json:"message,omitempty"`
	ModelUsed string          `json:"model_used,omitempty"`
	Usage     *mdl.TokenUsage `json:"usage,omitempty"`
}

// callTimeout fixed ceiling on one provider call; a timeout degrades to a
// structured failure, no retry is issued
const callTimeout = 30 * time.Second

// Gateway cost-optimized front for the configured AI backends
type Gateway struct {
	chatModel model.BaseChatModel
	provider  string
	fullModel string
	liteModel string
	opts      config.AIOptionsConfig
}

// NewGateway creates the gateway. When the primary backend lacks credentials
// but the secondary has them, the secondary is used and the substitution is
// logged; with no credentials at all the gateway stays up in "not configured"
// mode rather than failing construction.
func NewGateway(ctx context.Context, cfg *config.AIConfig) (*Gateway, error) {
	g := &Gateway{opts: cfg.Options}

	backend := cfg.Primary
	if backend.APIKey == "" && cfg.Secondary.APIKey != "" {
		log.Warn().
			Str("primary", cfg.Primary.Provider).
			Str("secondary", cfg.Secondary.Provider).
			Msg("primary AI provider has no credentials, falling back to secondary")
		backend = cfg.Secondary
	}

	if backend.APIKey == "" {
		log.Warn().Msg("no AI provider credentials configured, gateway disabled")
		return g, nil
	}

	chatModel, err := component.NewChatModel(ctx, &backend)
	if err != nil {
		return nil, err
	}

	g.chatModel = chatModel
	g.provider = backend.Provider
	g.fullModel = backend.Model
	g.liteModel = backend.LiteModel
	if g.liteModel == "" {
		g.liteModel = g.fullModel
	}
	return g, nil
}

// Configured reports whether a backend is available
func (g *Gateway) Configured() bool {
	return g.chatModel != nil
}

// Generate runs one request against the selected model
func (g *Gateway) Generate(ctx context.Context, req *Request) (result *Result) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("AI gateway panic recovered")
			result = failure(ReasonProviderError, "AI provider call failed")
		}
	}()

	if !g.Configured() {
		return failure(ReasonNotConfigured, "AI is not configured for this environment")
	}

	modelName := g.selectModel(req)
	maxTokens := g.tokenCeiling(req)

	messages := make([]*schema.Message, 0, 2)
	if sys := Truncate(req.SystemInstruction, g.opts.SystemPromptBudget); sys != "" {
		messages = append(messages, schema.SystemMessage(sys))
	}
	messages = append(messages, schema.UserMessage(req.Prompt))

	temperature := req.Temperature
	if temperature <= 0 {
		temperature = g.opts.Temperature
	}

	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	resp, err := g.chatModel.Generate(callCtx, messages,
		model.WithModel(modelName),
		model.WithTemperature(float32(temperature)),
		model.WithMaxTokens(maxTokens),
	)
	if err != nil {
		if isRateLimited(err) {
			log.Warn().Err(err).Str("model", modelName).Msg("AI provider rate limited")
			return failure(ReasonRateLimited, "AI provider is receiving too many requests, try again shortly")
		}
		log.Error().Err(err).Str("model", modelName).Msg("AI provider call failed")
		return failure(ReasonProviderError, "AI provider call failed")
	}

	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return failure(ReasonEmptyResponse, "AI provider returned an empty response")
	}

	return &Result{
		Success:   true,
		Response:  resp.Content,
		ModelUsed: modelName,
		Usage:     usageOf(resp),
	}
}

// selectModel routes trivial conversational prompts to the cheap model;
// the structured features always get the full model
func (g *Gateway) selectModel(req *Request) string {
	if _, full := fullModelFeatures[req.Feature]; full {
		return g.fullModel
	}
	if req.Feature == FeatureChat && isTrivialChat(req.Prompt) {
		return g.liteModel
	}
	return g.fullModel
}

// tokenCeiling applies the per-feature response cap
func (g *Gateway) tokenCeiling(req *Request) int {
	ceiling := g.opts.TaskMaxTokens
	if req.Feature == FeatureChat {
		ceiling = g.opts.ChatMaxTokens
	}
	if req.MaxTokens > 0 && req.MaxTokens < ceiling {
		return req.MaxTokens
	}
	if ceiling <= 0 {
		ceiling = 1024
	}
	return ceiling
}

func failure(reason, message string) *Result {
	return &Result{Reason: reason, Message: message}
}

func isRateLimited(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "too many requests")
}

func usageOf(resp *schema.Message) *mdl.TokenUsage {
	if resp.ResponseMeta == nil || resp.ResponseMeta.Usage == nil {
		return nil
	}
	u := resp.ResponseMeta.Usage
	return &mdl.TokenUsage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
}

// Truncate cuts s to at most budget runes; zero or negative budget means
// unlimited
func Truncate(s string, budget int) string {
	if budget <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= budget {
		return s
	}
	return string(runes[:budget])
}

// EstimateTokens rough token estimate used for quota admission, matching the
// 4-chars-per-token heuristic the providers themselves suggest
func EstimateTokens(text string) int {
	n := len(text) / 4
	if n == 0 && text != "" {
		n = 1
	}
	return n
}
