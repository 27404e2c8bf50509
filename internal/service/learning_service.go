package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"pomelo/internal/config"
	"pomelo/internal/model"
	"pomelo/internal/pkg/cache"
	"pomelo/internal/pkg/textnorm"
	"pomelo/internal/repository"
)

// recall limits
const (
	maxRecallKeywords = 8
	maxRecallEntries  = 5
)

// FAQLevel strength of an FAQ lookup hit
type FAQLevel int

const (
	FAQNone     FAQLevel = iota
	FAQExact             // exact normalized-question hash match
	FAQVerbatim          // fuzzy hit strong enough to bypass the provider
	FAQHint              // fuzzy hit injected as context only
)

// FeedbackKind discriminates queued learning writes
type FeedbackKind int

const (
	// FeedbackExchange one completed question/answer exchange
	FeedbackExchange FeedbackKind = iota
	// FeedbackHelpful positive signal on a previously served answer
	FeedbackHelpful
)

// Feedback one queued learning-store write
type Feedback struct {
	Kind           FeedbackKind
	TenantID       string
	ConversationID primitive.ObjectID
	Question       string
	Answer         string
	Intent         string
	Sentiment      string
}

// memoryStore subset of the memory repository used by the service
type memoryStore interface {
	Upsert(ctx context.Context, entry *model.MemoryEntry) error
	Search(ctx context.Context, tenantID string, keywords []string, limit int64) ([]*model.MemoryEntry, error)
	BumpUsage(ctx context.Context, ids []primitive.ObjectID) error
	Boost(ctx context.Context, tenantID, memType, key string, increment float64) error
}

type faqStore interface {
	FindByHash(ctx context.Context, tenantID, questionHash string) (*model.FAQEntry, error)
	FindByKeywords(ctx context.Context, tenantID string, keywords []string, minHelpfulness float64, limit int64) ([]*model.FAQEntry, error)
	Upsert(ctx context.Context, entry *model.FAQEntry) error
	RecordHelpful(ctx context.Context, tenantID, questionHash string) error
}

type patternStore interface {
	Observe(ctx context.Context, tenantID, intent string, keywords []string, successful bool) error
}

type contextStore interface {
	Merge(ctx context.Context, tenantID string, conversationID primitive.ObjectID, topics []string, sentiment string, messageDelta, aiResponseDelta int) error
	Find(ctx context.Context, tenantID string, conversationID primitive.ObjectID) (*model.ConversationContext, error)
}

// LearningService tenant-scoped learned knowledge: memories, the FAQ cache,
// observed patterns and conversation context. Post-response writes go
// through a bounded queue so a learning failure can never delay a reply.
type LearningService struct {
	memories memoryStore
	faqs     faqStore
	patterns patternStore
	contexts contextStore
	store    cache.Store
	cfg      config.LearningConfig

	queue chan *Feedback
	wg    sync.WaitGroup
	once  sync.Once
}

// NewLearningService creates the learning service; call Start to launch the
// feedback workers
func NewLearningService(memories memoryStore, faqs faqStore, patterns patternStore, contexts contextStore, store cache.Store, cfg config.LearningConfig) *LearningService {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	return &LearningService{
		memories: memories,
		faqs:     faqs,
		patterns: patterns,
		contexts: contexts,
		store:    store,
		cfg:      cfg,
		queue:    make(chan *Feedback, cfg.QueueSize),
	}
}

// Start launches the feedback workers
func (s *LearningService) Start() {
	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
}

// Close stops accepting feedback and drains the queue
func (s *LearningService) Close() {
	s.once.Do(func() { close(s.queue) })
	s.wg.Wait()
}

func (s *LearningService) worker() {
	defer s.wg.Done()
	for fb := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		s.process(ctx, fb)
		cancel()
	}
}

// Enqueue hands a feedback item to the workers without blocking; when the
// queue is full the item is dropped with a log line, the reply path never
// waits on learning
func (s *LearningService) Enqueue(fb *Feedback) {
	select {
	case s.queue <- fb:
	default:
		log.Warn().
			Str("tenant_id", fb.TenantID).
			Int("kind", int(fb.Kind)).
			Msg("learning queue full, dropping feedback")
	}
}

// process applies one queued write; every failure is logged and swallowed
func (s *LearningService) process(ctx context.Context, fb *Feedback) {
	switch fb.Kind {
	case FeedbackExchange:
		if err := s.SaveFAQ(ctx, fb.TenantID, fb.Question, fb.Answer); err != nil {
			log.Error().Err(err).Str("tenant_id", fb.TenantID).Msg("learning: FAQ save failed")
		}
		s.CachePut(ctx, fb.TenantID, fb.Question, fb.Answer)

		keywords := textnorm.Keywords(fb.Question, maxRecallKeywords)
		if fb.Intent != "" && len(keywords) > 0 {
			if err := s.patterns.Observe(ctx, fb.TenantID, fb.Intent, keywords, true); err != nil {
				log.Error().Err(err).Str("tenant_id", fb.TenantID).Msg("learning: pattern observe failed")
			}
		}
		if !fb.ConversationID.IsZero() {
			if err := s.contexts.Merge(ctx, fb.TenantID, fb.ConversationID, keywords, fb.Sentiment, 1, 1); err != nil {
				log.Error().Err(err).Str("tenant_id", fb.TenantID).Msg("learning: context merge failed")
			}
		}

	case FeedbackHelpful:
		if err := s.faqs.RecordHelpful(ctx, fb.TenantID, textnorm.Hash(fb.Question)); err != nil {
			log.Error().Err(err).Str("tenant_id", fb.TenantID).Msg("learning: helpful signal failed")
		}
	}
}

// Context returns the accumulated context of a conversation; nil when none
// has been recorded yet
func (s *LearningService) Context(ctx context.Context, tenantID string, conversationID primitive.ObjectID) (*model.ConversationContext, error) {
	c, err := s.contexts.Find(ctx, tenantID, conversationID)
	if err != nil {
		if err == repository.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	return c, nil
}

// Recall finds memories relevant to text and bumps their usage counters
func (s *LearningService) Recall(ctx context.Context, tenantID, text string) ([]*model.MemoryEntry, error) {
	keywords := textnorm.Keywords(text, maxRecallKeywords)
	if len(keywords) == 0 {
		return nil, nil
	}

	entries, err := s.memories.Search(ctx, tenantID, keywords, maxRecallEntries)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}

	ids := make([]primitive.ObjectID, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.ID)
	}
	if err := s.memories.BumpUsage(ctx, ids); err != nil {
		log.Error().Err(err).Str("tenant_id", tenantID).Msg("learning: usage bump failed")
	}
	return entries, nil
}

// Remember upserts a memory, indexing it under the keywords of its content
func (s *LearningService) Remember(ctx context.Context, tenantID, memType, key, content string) error {
	return s.memories.Upsert(ctx, &model.MemoryEntry{
		TenantID: tenantID,
		Type:     memType,
		Key:      key,
		Content:  content,
		Keywords: textnorm.Keywords(key+" "+content, maxRecallKeywords),
	})
}

// BoostMemory raises a memory's confidence on positive feedback
func (s *LearningService) BoostMemory(ctx context.Context, tenantID, memType, key string) error {
	return s.memories.Boost(ctx, tenantID, memType, key, s.cfg.ConfidenceIncrement)
}

// LookupFAQ resolves a question against the learned FAQ store: an exact
// normalized-hash hit returns immediately; otherwise the best fuzzy keyword
// match is graded against the bypass and hint thresholds
func (s *LearningService) LookupFAQ(ctx context.Context, tenantID, question string) (*model.FAQEntry, FAQLevel, error) {
	entry, err := s.faqs.FindByHash(ctx, tenantID, textnorm.Hash(question))
	if err != nil && err != repository.ErrNotFound {
		return nil, FAQNone, err
	}
	if entry != nil {
		return entry, FAQExact, nil
	}

	keywords := textnorm.Keywords(question, maxRecallKeywords)
	if len(keywords) == 0 {
		return nil, FAQNone, nil
	}

	entries, err := s.faqs.FindByKeywords(ctx, tenantID, keywords, s.cfg.FAQHintThreshold, 1)
	if err != nil {
		return nil, FAQNone, err
	}
	if len(entries) == 0 {
		return nil, FAQNone, nil
	}

	best := entries[0]
	if best.Helpfulness >= s.cfg.FAQBypassThreshold {
		return best, FAQVerbatim, nil
	}
	return best, FAQHint, nil
}

// SaveFAQ stores a successful exchange, guarding against caching fallback
// answers and questions too short to be meaningful
func (s *LearningService) SaveFAQ(ctx context.Context, tenantID, question, answer string) error {
	normalized := textnorm.Normalize(question)
	if len([]rune(normalized)) < s.cfg.CacheMinQuestionLen {
		return nil
	}
	if s.cfg.CacheMaxQuestionLen > 0 && len([]rune(normalized)) > s.cfg.CacheMaxQuestionLen {
		return nil
	}
	if isGenericAnswer(answer) {
		return nil
	}
	if s.cfg.CacheMaxAnswerLen > 0 && len([]rune(answer)) > s.cfg.CacheMaxAnswerLen {
		return nil
	}

	return s.faqs.Upsert(ctx, &model.FAQEntry{
		TenantID:     tenantID,
		QuestionHash: textnorm.Hash(question),
		Question:     question,
		Answer:       answer,
		Keywords:     textnorm.Keywords(question, maxRecallKeywords),
	})
}

// RecordHelpful queues a positive signal for a served FAQ answer
func (s *LearningService) RecordHelpful(tenantID, question string) {
	s.Enqueue(&Feedback{Kind: FeedbackHelpful, TenantID: tenantID, Question: question})
}

// CacheGet looks up a cached response for the normalized question
func (s *LearningService) CacheGet(ctx context.Context, tenantID, question string) (string, bool) {
	if !s.cacheable(question) {
		return "", false
	}

	var answer string
	err := s.store.Get(ctx, cache.ResponseCacheKey(tenantID, textnorm.Hash(question)), &answer)
	if err != nil {
		if err != cache.ErrMiss {
			log.Error().Err(err).Str("tenant_id", tenantID).Msg("response cache read failed")
		}
		return "", false
	}
	return answer, answer != ""
}

// CachePut stores a response when the question and answer fall inside the
// cacheable bounds; failures are logged and swallowed
func (s *LearningService) CachePut(ctx context.Context, tenantID, question, answer string) {
	if !s.cacheable(question) {
		return
	}
	if answer == "" || (s.cfg.CacheMaxAnswerLen > 0 && len([]rune(answer)) > s.cfg.CacheMaxAnswerLen) {
		return
	}
	if isGenericAnswer(answer) {
		return
	}

	key := cache.ResponseCacheKey(tenantID, textnorm.Hash(question))
	if err := s.store.Set(ctx, key, answer, s.cfg.CacheTTL); err != nil {
		log.Error().Err(err).Str("tenant_id", tenantID).Msg("response cache write failed")
	}
}

// cacheable bounds the question length: very short messages collide too
// easily after normalization, very long ones never repeat
func (s *LearningService) cacheable(question string) bool {
	n := len([]rune(textnorm.Normalize(question)))
	if n < s.cfg.CacheMinQuestionLen {
		return false
	}
	if s.cfg.CacheMaxQuestionLen > 0 && n > s.cfg.CacheMaxQuestionLen {
		return false
	}
	return true
}

// genericAnswerMarkers phrases that identify fallback answers; caching them
// would lock a conversation into an "I didn't understand" loop
var genericAnswerMarkers = []string{
	"nao entendi",
	"nao consegui entender",
	"desculpe nao posso ajudar",
	"i didn t understand",
	"i don t understand",
	"i m not sure i understand",
}

func isGenericAnswer(answer string) bool {
	normalized := textnorm.Normalize(answer)
	for _, marker := range genericAnswerMarkers {
		if normalized == marker || (len(normalized) < 80 && strings.Contains(normalized, marker)) {
			return true
		}
	}
	return false
}
