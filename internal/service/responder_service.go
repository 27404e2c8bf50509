package service

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"pomelo/internal/ai"
	"pomelo/internal/config"
	"pomelo/internal/model"
	"pomelo/internal/pkg/cache"
	"pomelo/internal/pkg/textnorm"
	"pomelo/internal/repository"
)

// skip reasons reported by the responder gates
const (
	SkipHumanAssigned = "human_assigned"
	SkipRateLimited   = "rate_limited"
	SkipNoAgent       = "no_agent"
	SkipOutsideHours  = "outside_hours"
	SkipDebounced     = "debounced"
	SkipGroup         = "group"
	SkipQuota         = "quota_declined"
	SkipProvider      = "provider_failed"
	SkipEmpty         = "empty_input"
)

// reply sources, most specific wins
const (
	SourceCanned   = "canned"
	SourceFAQ      = "faq"
	SourceCache    = "cache"
	SourceProvider = "provider"
)

// RespondOutcome what the orchestrator did for one inbound event
type RespondOutcome struct {
	Replied    bool
	Source     string
	Reply      string
	SkipReason string
}

func skipped(reason string) *RespondOutcome {
	return &RespondOutcome{SkipReason: reason}
}

// agentStore subset of AgentRepo used by the responder
type agentStore interface {
	FindActiveForSession(ctx context.Context, tenantID, sessionID string) (*model.AgentProfile, error)
}

// inboundLister feeds the message-combination window
type inboundLister interface {
	ListInboundSince(ctx context.Context, conversationID primitive.ObjectID, since time.Time) ([]*model.Message, error)
}

// replySender delivers the final text and persists the outgoing record
type replySender interface {
	SendText(ctx context.Context, tenantID string, conv *model.Conversation, text string) (*model.Message, error)
}

// aiGateway the single generation operation the responder needs
type aiGateway interface {
	Generate(ctx context.Context, req *ai.Request) *ai.Result
}

// quotaGate the pre-call checks from the quota enforcer
type quotaGate interface {
	CheckFeature(ctx context.Context, tenantID, feature string) (*model.QuotaDecision, error)
	CheckUsage(ctx context.Context, tenantID string, estimatedTokens int) (*model.QuotaDecision, error)
	CheckRate(ctx context.Context, tenantID string) (*model.RateDecision, error)
	RecordUsage(ctx context.Context, tenantID string, usage *model.TokenUsage)
}

// learningPath the learning-store operations on the response ladder
type learningPath interface {
	Recall(ctx context.Context, tenantID, text string) ([]*model.MemoryEntry, error)
	LookupFAQ(ctx context.Context, tenantID, question string) (*model.FAQEntry, FAQLevel, error)
	CacheGet(ctx context.Context, tenantID, question string) (string, bool)
	Context(ctx context.Context, tenantID string, conversationID primitive.ObjectID) (*model.ConversationContext, error)
	Enqueue(fb *Feedback)
}

// ResponderService top-level auto-reply control flow: the gate chain, the
// message-combination window, the layered response ladder and delivery.
// Every gate failure is a silent skip; the next inbound event re-evaluates.
type ResponderService struct {
	agents   agentStore
	inbound  inboundLister
	sender   replySender
	gateway  aiGateway
	quota    quotaGate
	learning learningPath
	locks    cache.Store
	counters cache.CounterStore
	canned   map[string]string
	cfg      config.ResponderConfig
	now      func() time.Time
	wait     func(time.Duration)
}

// NewResponderService creates the response orchestrator
func NewResponderService(
	agents agentStore,
	inbound inboundLister,
	sender replySender,
	gateway aiGateway,
	quota quotaGate,
	learning learningPath,
	locks cache.Store,
	counters cache.CounterStore,
	cfg config.ResponderConfig,
) *ResponderService {
	return &ResponderService{
		agents:   agents,
		inbound:  inbound,
		sender:   sender,
		gateway:  gateway,
		quota:    quota,
		learning: learning,
		locks:    locks,
		counters: counters,
		canned:   buildCannedReplies(cfg.CannedReplies),
		cfg:      cfg,
		now:      time.Now,
		wait:     time.Sleep,
	}
}

// Respond evaluates one inbound message for an AI reply. Never returns an
// error for gate or provider outcomes; an error here means a store failed.
func (s *ResponderService) Respond(ctx context.Context, tenantID string, conv *model.Conversation, evt *model.MessageEvent) (*RespondOutcome, error) {
	if conv.IsGroup {
		return skipped(SkipGroup), nil
	}
	if conv.HumanAssigned() {
		return skipped(SkipHumanAssigned), nil
	}

	// session-wide event rate, counted before any further work so a storm
	// cannot reach the provider path
	if s.cfg.SessionEventsPerMinute > 0 {
		n, err := s.counters.IncrWindow(ctx, cache.SessionRateKey(conv.SessionID), time.Minute)
		if err != nil {
			return nil, err
		}
		if n > s.cfg.SessionEventsPerMinute {
			log.Warn().Str("session_id", conv.SessionID).Int64("count", n).Msg("session event rate exceeded, skipping")
			return skipped(SkipRateLimited), nil
		}
	}

	agent, err := s.agents.FindActiveForSession(ctx, tenantID, conv.SessionID)
	if err != nil {
		if err == repository.ErrNotFound {
			return skipped(SkipNoAgent), nil
		}
		return nil, err
	}

	if agent.Timezone == "" {
		agent.Timezone = s.cfg.Timezone
	}
	if !agent.ActiveAt(s.now()) {
		return skipped(SkipOutsideHours), nil
	}

	prompt, err := s.combinedInput(ctx, conv, evt.Content())
	if err != nil {
		return nil, err
	}
	if prompt == "" {
		return skipped(SkipEmpty), nil
	}

	return s.reply(ctx, tenantID, conv, agent, prompt)
}

// combinedInput merges the inbound messages of the combination window into
// one chronologically ordered, de-duplicated blob; a user sending several
// short messages gets one coherent answer instead of several partial ones
func (s *ResponderService) combinedInput(ctx context.Context, conv *model.Conversation, fallback string) (string, error) {
	since := s.now().Add(-s.cfg.CombineWindow)
	msgs, err := s.inbound.ListInboundSince(ctx, conv.ID, since)
	if err != nil {
		return "", err
	}

	seen := make(map[string]struct{}, len(msgs))
	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		text := strings.TrimSpace(m.Content)
		if text == "" {
			continue
		}
		if _, dup := seen[text]; dup {
			continue
		}
		seen[text] = struct{}{}
		parts = append(parts, text)
	}

	if len(parts) == 0 {
		return strings.TrimSpace(fallback), nil
	}
	return strings.Join(parts, "\n"), nil
}

// gratitudePhrases normalized thanks phrases treated as a positive signal
// on the answer served just before them
var gratitudePhrases = map[string]struct{}{
	"obrigado": {}, "obrigada": {}, "muito obrigado": {}, "muito obrigada": {},
	"valeu": {}, "thanks": {}, "thank you": {},
}

// reply walks the response ladder in strict priority order; no later step is
// attempted once an earlier one produced an answer
func (s *ResponderService) reply(ctx context.Context, tenantID string, conv *model.Conversation, agent *model.AgentProfile, prompt string) (*RespondOutcome, error) {
	normalized := textnorm.Normalize(prompt)
	if _, thanks := gratitudePhrases[normalized]; thanks {
		s.markHelpful(ctx, tenantID, conv)
	}

	if text, ok := s.canned[normalized]; ok {
		return s.deliver(ctx, tenantID, conv, SourceCanned, prompt, text)
	}

	faq, level, err := s.learning.LookupFAQ(ctx, tenantID, prompt)
	if err != nil {
		log.Error().Err(err).Str("tenant_id", tenantID).Msg("FAQ lookup failed, continuing without it")
		level = FAQNone
	}
	if level == FAQExact || level == FAQVerbatim {
		return s.deliver(ctx, tenantID, conv, SourceFAQ, prompt, faq.Answer)
	}

	if text, ok := s.learning.CacheGet(ctx, tenantID, prompt); ok {
		return s.deliver(ctx, tenantID, conv, SourceCache, prompt, text)
	}

	var hint string
	if level == FAQHint {
		hint = faq.Answer
	}
	return s.generate(ctx, tenantID, conv, agent, prompt, hint)
}

// generate holds the per-conversation debounce window, then runs the quota
// gates and the provider call. The cheaper ladder tiers answer immediately
// and never touch the window; only provider-bound triggers are debounced.
func (s *ResponderService) generate(ctx context.Context, tenantID string, conv *model.Conversation, agent *model.AgentProfile, prompt, hint string) (*RespondOutcome, error) {
	locked, err := s.locks.SetNX(ctx, cache.DebounceKey(conv.ID.Hex()), 1, s.cfg.DebounceWindow)
	if err != nil {
		return nil, err
	}
	if !locked {
		// another trigger holds the window; this message is already
		// persisted and rides along on the holder's combined prompt
		return skipped(SkipDebounced), nil
	}

	// wait out the window so rapid follow-ups collapse into one provider
	// call, then rebuild the prompt with whatever accumulated meanwhile
	if s.cfg.DebounceWindow > 0 {
		s.wait(s.cfg.DebounceWindow)
		combined, err := s.combinedInput(ctx, conv, prompt)
		if err != nil {
			return nil, err
		}
		if combined != "" {
			prompt = combined
		}
	}

	decision, err := s.quota.CheckFeature(ctx, tenantID, model.FeatureAIChat)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		log.Info().Str("tenant_id", tenantID).Str("reason", decision.Reason).Msg("AI reply declined by feature gate")
		return skipped(SkipQuota), nil
	}

	system := s.systemInstruction(ctx, tenantID, conv, agent, prompt, hint)

	decision, err = s.quota.CheckUsage(ctx, tenantID, ai.EstimateTokens(system+prompt))
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		log.Info().Str("tenant_id", tenantID).Str("reason", decision.Reason).Msg("AI reply declined by usage gate")
		return skipped(SkipQuota), nil
	}

	rate, err := s.quota.CheckRate(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if !rate.Allowed {
		log.Info().Str("tenant_id", tenantID).Msg("AI reply declined by provider rate gate")
		return skipped(SkipQuota), nil
	}

	result := s.gateway.Generate(ctx, &ai.Request{
		Feature:           ai.FeatureChat,
		Prompt:            prompt,
		SystemInstruction: system,
		Temperature:       agent.Temperature,
	})
	if !result.Success {
		log.Warn().Str("tenant_id", tenantID).Str("reason", result.Reason).Msg("AI generation failed")
		return skipped(SkipProvider), nil
	}

	s.quota.RecordUsage(ctx, tenantID, result.Usage)

	outcome, err := s.deliver(ctx, tenantID, conv, SourceProvider, prompt, result.Response)
	if err != nil {
		return nil, err
	}

	// learning writes happen only after the reply is already on its way;
	// a full queue drops the item, it never delays the user
	s.learning.Enqueue(&Feedback{
		Kind:           FeedbackExchange,
		TenantID:       tenantID,
		ConversationID: conv.ID,
		Question:       prompt,
		Answer:         result.Response,
		Intent:         "chat",
	})
	return outcome, nil
}

// systemInstruction assembles the agent prompt plus recalled knowledge, the
// conversation's accumulated context and an optional near-match FAQ hint
func (s *ResponderService) systemInstruction(ctx context.Context, tenantID string, conv *model.Conversation, agent *model.AgentProfile, prompt, hint string) string {
	var b strings.Builder
	b.WriteString(agent.SystemPrompt)

	memories, err := s.learning.Recall(ctx, tenantID, prompt)
	if err != nil {
		log.Error().Err(err).Str("tenant_id", tenantID).Msg("memory recall failed, continuing without it")
	}
	if len(memories) > 0 {
		b.WriteString("\n\nKnown facts about this business and its customers:\n")
		for _, m := range memories {
			b.WriteString("- ")
			b.WriteString(m.Content)
			b.WriteString("\n")
		}
	}

	cc, err := s.learning.Context(ctx, tenantID, conv.ID)
	if err != nil {
		log.Error().Err(err).Str("tenant_id", tenantID).Msg("context load failed, continuing without it")
	}
	if cc != nil && len(cc.Topics) > 0 {
		b.WriteString("\nTopics discussed so far in this conversation: ")
		b.WriteString(strings.Join(cc.Topics, ", "))
		b.WriteString("\n")
	}

	if hint != "" {
		b.WriteString("\nA previous answer to a similar question, use it if relevant:\n")
		b.WriteString(hint)
		b.WriteString("\n")
	}
	return b.String()
}

// helpfulWindow how long a served answer stays attributable to a thanks
const helpfulWindow = time.Hour

func (s *ResponderService) deliver(ctx context.Context, tenantID string, conv *model.Conversation, source, prompt, text string) (*RespondOutcome, error) {
	if _, err := s.sender.SendText(ctx, tenantID, conv, text); err != nil {
		log.Error().Err(err).Str("conversation_id", conv.ID.Hex()).Msg("AI reply delivery failed")
		return skipped(SkipProvider), nil
	}

	// remember which question this answer belongs to, so a following thanks
	// can promote the stored FAQ entry; canned fillers carry no knowledge
	if source != SourceCanned {
		if err := s.locks.Set(ctx, cache.LastQuestionKey(conv.ID.Hex()), prompt, helpfulWindow); err != nil {
			log.Error().Err(err).Str("conversation_id", conv.ID.Hex()).Msg("last question record failed")
		}
	}
	return &RespondOutcome{Replied: true, Source: source, Reply: text}, nil
}

// markHelpful turns a user's thanks into a positive learning signal on the
// last served answer; absent attribution it is silently a no-op
func (s *ResponderService) markHelpful(ctx context.Context, tenantID string, conv *model.Conversation) {
	key := cache.LastQuestionKey(conv.ID.Hex())
	var question string
	if err := s.locks.Get(ctx, key, &question); err != nil {
		if err != cache.ErrMiss {
			log.Error().Err(err).Str("conversation_id", conv.ID.Hex()).Msg("last question lookup failed")
		}
		return
	}
	if question == "" {
		return
	}

	s.learning.Enqueue(&Feedback{
		Kind:           FeedbackHelpful,
		TenantID:       tenantID,
		ConversationID: conv.ID,
		Question:       question,
	})

	// one thanks, one signal
	if err := s.locks.Delete(ctx, key); err != nil {
		log.Error().Err(err).Str("conversation_id", conv.ID.Hex()).Msg("last question clear failed")
	}
}
