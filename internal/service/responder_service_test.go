package service

import (
	"context"
	"errors"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"pomelo/internal/ai"
	"pomelo/internal/config"
	"pomelo/internal/model"
	"pomelo/internal/repository"
)

type fakeAgentStore struct {
	agent *model.AgentProfile
	err   error
}

func (f *fakeAgentStore) FindActiveForSession(ctx context.Context, tenantID, sessionID string) (*model.AgentProfile, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.agent, nil
}

type fakeReplySender struct {
	sent []string
	err  error
}

func (f *fakeReplySender) SendText(ctx context.Context, tenantID string, conv *model.Conversation, text string) (*model.Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, text)
	return &model.Message{ID: primitive.NewObjectID(), Content: text}, nil
}

type fakeGateway struct {
	calls   int
	result  *ai.Result
	lastReq *ai.Request
}

func (f *fakeGateway) Generate(ctx context.Context, req *ai.Request) *ai.Result {
	f.calls++
	f.lastReq = req
	return f.result
}

type fakeQuotaGate struct {
	feature  *model.QuotaDecision
	usage    *model.QuotaDecision
	rate     *model.RateDecision
	recorded int
}

func allowAllQuota() *fakeQuotaGate {
	return &fakeQuotaGate{
		feature: model.Allow(),
		usage:   model.Allow(),
		rate:    &model.RateDecision{Allowed: true, Remaining: 10},
	}
}

func (f *fakeQuotaGate) CheckFeature(ctx context.Context, tenantID, feature string) (*model.QuotaDecision, error) {
	return f.feature, nil
}

func (f *fakeQuotaGate) CheckUsage(ctx context.Context, tenantID string, estimatedTokens int) (*model.QuotaDecision, error) {
	return f.usage, nil
}

func (f *fakeQuotaGate) CheckRate(ctx context.Context, tenantID string) (*model.RateDecision, error) {
	return f.rate, nil
}

func (f *fakeQuotaGate) RecordUsage(ctx context.Context, tenantID string, usage *model.TokenUsage) {
	f.recorded++
}

type fakeLearningPath struct {
	memories []*model.MemoryEntry
	faq      *model.FAQEntry
	faqLevel FAQLevel
	faqErr   error
	cached   string
	context  *model.ConversationContext
	enqueued []*Feedback
}

func (f *fakeLearningPath) Recall(ctx context.Context, tenantID, text string) ([]*model.MemoryEntry, error) {
	return f.memories, nil
}

func (f *fakeLearningPath) LookupFAQ(ctx context.Context, tenantID, question string) (*model.FAQEntry, FAQLevel, error) {
	if f.faqErr != nil {
		return nil, FAQNone, f.faqErr
	}
	return f.faq, f.faqLevel, nil
}

func (f *fakeLearningPath) CacheGet(ctx context.Context, tenantID, question string) (string, bool) {
	return f.cached, f.cached != ""
}

func (f *fakeLearningPath) Context(ctx context.Context, tenantID string, conversationID primitive.ObjectID) (*model.ConversationContext, error) {
	return f.context, nil
}

func (f *fakeLearningPath) Enqueue(fb *Feedback) {
	f.enqueued = append(f.enqueued, fb)
}

// responderHarness wires a responder over fakes with everything permissive
type responderHarness struct {
	svc      *ResponderService
	agents   *fakeAgentStore
	inbound  *fakeMessageStore
	sender   *fakeReplySender
	gateway  *fakeGateway
	quota    *fakeQuotaGate
	learning *fakeLearningPath
	locks    *fakeKV
	counters *fakeCounterStore
	now      time.Time
}

func newResponderHarness() *responderHarness {
	h := &responderHarness{
		agents: &fakeAgentStore{agent: &model.AgentProfile{
			Name:         "Atendente",
			SystemPrompt: "Você é o atendente virtual da loja.",
			Temperature:  0.7,
			Active:       true,
		}},
		inbound: newFakeMessageStore(),
		sender:  &fakeReplySender{},
		gateway: &fakeGateway{result: &ai.Result{
			Success:  true,
			Response: "Entregamos em todo o Brasil em até 5 dias úteis.",
			Usage:    &model.TokenUsage{PromptTokens: 30, CompletionTokens: 20, TotalTokens: 50},
		}},
		quota:    allowAllQuota(),
		learning: &fakeLearningPath{},
		locks:    newFakeKV(),
		counters: &fakeCounterStore{},
		now:      time.Date(2026, 8, 31, 14, 0, 0, 0, time.UTC),
	}
	h.svc = NewResponderService(h.agents, h.inbound, h.sender, h.gateway, h.quota, h.learning, h.locks, h.counters, config.ResponderConfig{
		DebounceWindow:         8 * time.Second,
		CombineWindow:          15 * time.Second,
		SessionEventsPerMinute: 20,
		Timezone:               "UTC",
	})
	h.svc.now = func() time.Time { return h.now }
	h.svc.wait = func(time.Duration) {}
	return h
}

func inboundEvent(text string) *model.MessageEvent {
	return &model.MessageEvent{From: "5511999887766@s.whatsapp.net", Type: "chat", Text: text, MessageID: "M1"}
}

func TestResponderGates(t *testing.T) {
	Convey("the responder gate chain", t, func() {
		ctx := context.Background()
		h := newResponderHarness()
		conv := directConversation()

		Convey("group conversations are never auto-replied", func() {
			conv.IsGroup = true
			out, err := h.svc.Respond(ctx, "t1", conv, inboundEvent("oi pessoal"))
			So(err, ShouldBeNil)
			So(out.Replied, ShouldBeFalse)
			So(out.SkipReason, ShouldEqual, SkipGroup)
			So(h.gateway.calls, ShouldEqual, 0)
		})

		Convey("a human-assigned conversation is left alone", func() {
			conv.AssignedTo = "user-7"
			out, err := h.svc.Respond(ctx, "t1", conv, inboundEvent("pode me ajudar?"))
			So(err, ShouldBeNil)
			So(out.SkipReason, ShouldEqual, SkipHumanAssigned)
			So(len(h.sender.sent), ShouldEqual, 0)
		})

		Convey("the session event rate caps the whole pipeline", func() {
			h.counters.n = 20 // window already full
			out, err := h.svc.Respond(ctx, "t1", conv, inboundEvent("e aí?"))
			So(err, ShouldBeNil)
			So(out.SkipReason, ShouldEqual, SkipRateLimited)
			So(h.gateway.calls, ShouldEqual, 0)
		})

		Convey("no active agent profile means no reply", func() {
			h.agents.err = repository.ErrNotFound
			out, err := h.svc.Respond(ctx, "t1", conv, inboundEvent("tem alguém aí?"))
			So(err, ShouldBeNil)
			So(out.SkipReason, ShouldEqual, SkipNoAgent)
		})

		Convey("outside the agent's service hours nothing fires", func() {
			h.agents.agent.Hours = []model.HourWindow{{Day: time.Monday, Start: "09:00", End: "12:00"}}
			// harness clock is Monday 14:00 UTC
			out, err := h.svc.Respond(ctx, "t1", conv, inboundEvent("bom dia"))
			So(err, ShouldBeNil)
			So(out.SkipReason, ShouldEqual, SkipOutsideHours)
		})

		Convey("a held debounce lock suppresses the second provider trigger", func() {
			_, err := h.svc.Respond(ctx, "t1", conv, inboundEvent("primeira"))
			So(err, ShouldBeNil)

			out, err := h.svc.Respond(ctx, "t1", conv, inboundEvent("segunda"))
			So(err, ShouldBeNil)
			So(out.SkipReason, ShouldEqual, SkipDebounced)
			So(len(h.sender.sent), ShouldEqual, 1)
		})

		Convey("a canned reply does not consume the debounce window", func() {
			out, err := h.svc.Respond(ctx, "t1", conv, inboundEvent("Oi"))
			So(err, ShouldBeNil)
			So(out.Source, ShouldEqual, SourceCanned)

			h.now = h.now.Add(2 * time.Second)
			h.inbound.msgs = append(h.inbound.msgs,
				&model.Message{ConversationID: conv.ID, Direction: model.DirectionIn, Content: "Oi", Timestamp: h.now.Add(-2 * time.Second)},
				&model.Message{ConversationID: conv.ID, Direction: model.DirectionIn, Content: "Queria saber o preço", Timestamp: h.now},
			)

			out, err = h.svc.Respond(ctx, "t1", conv, inboundEvent("Queria saber o preço"))
			So(err, ShouldBeNil)
			So(out.Replied, ShouldBeTrue)
			So(out.Source, ShouldEqual, SourceProvider)
			So(h.gateway.calls, ShouldEqual, 1)
			So(h.gateway.lastReq.Prompt, ShouldEqual, "Oi\nQueria saber o preço")
		})

		Convey("an empty payload is skipped after the gates", func() {
			out, err := h.svc.Respond(ctx, "t1", conv, inboundEvent("   "))
			So(err, ShouldBeNil)
			So(out.SkipReason, ShouldEqual, SkipEmpty)
		})
	})
}

func TestResponderLadder(t *testing.T) {
	Convey("the response ladder", t, func() {
		ctx := context.Background()
		h := newResponderHarness()
		conv := directConversation()

		Convey("a canned filler never reaches quota or the provider", func() {
			out, err := h.svc.Respond(ctx, "t1", conv, inboundEvent("Oi!"))
			So(err, ShouldBeNil)
			So(out.Replied, ShouldBeTrue)
			So(out.Source, ShouldEqual, SourceCanned)
			So(h.sender.sent, ShouldResemble, []string{"Olá! Como posso ajudar você hoje?"})
			So(h.gateway.calls, ShouldEqual, 0)
			So(h.quota.recorded, ShouldEqual, 0)
		})

		Convey("a deployment-configured canned reply overrides the built-in set", func() {
			custom := NewResponderService(h.agents, h.inbound, h.sender, h.gateway, h.quota, h.learning, h.locks, h.counters, config.ResponderConfig{
				DebounceWindow: 8 * time.Second,
				CombineWindow:  15 * time.Second,
				Timezone:       "UTC",
				CannedReplies:  map[string]string{"Cadê meu pedido?": "Me passa o número do pedido que eu verifico pra você."},
			})
			custom.now = h.svc.now

			out, err := custom.Respond(ctx, "t1", conv, inboundEvent("cade meu pedido"))
			So(err, ShouldBeNil)
			So(out.Source, ShouldEqual, SourceCanned)
			So(out.Reply, ShouldEqual, "Me passa o número do pedido que eu verifico pra você.")
			So(h.gateway.calls, ShouldEqual, 0)
		})

		Convey("an exact FAQ hit is served verbatim", func() {
			h.learning.faq = &model.FAQEntry{Answer: "Funcionamos das 9h às 18h."}
			h.learning.faqLevel = FAQExact

			out, err := h.svc.Respond(ctx, "t1", conv, inboundEvent("qual o horário de vocês?"))
			So(err, ShouldBeNil)
			So(out.Source, ShouldEqual, SourceFAQ)
			So(out.Reply, ShouldEqual, "Funcionamos das 9h às 18h.")
			So(h.gateway.calls, ShouldEqual, 0)
		})

		Convey("a cached response short-circuits generation", func() {
			h.learning.cached = "O frete para Campinas é grátis."

			out, err := h.svc.Respond(ctx, "t1", conv, inboundEvent("quanto fica o frete pra campinas?"))
			So(err, ShouldBeNil)
			So(out.Source, ShouldEqual, SourceCache)
			So(h.gateway.calls, ShouldEqual, 0)
		})

		Convey("a failed FAQ lookup degrades to generation instead of failing", func() {
			h.learning.faqErr = errors.New("index rebuild in progress")

			out, err := h.svc.Respond(ctx, "t1", conv, inboundEvent("onde fica a loja de vocês?"))
			So(err, ShouldBeNil)
			So(out.Source, ShouldEqual, SourceProvider)
			So(h.gateway.calls, ShouldEqual, 1)
		})

		Convey("a thanks after a served answer records a helpful signal", func() {
			_, err := h.svc.Respond(ctx, "t1", conv, inboundEvent("vocês entregam em Recife?"))
			So(err, ShouldBeNil)

			out, err := h.svc.Respond(ctx, "t1", conv, inboundEvent("Obrigado!"))
			So(err, ShouldBeNil)
			So(out.Source, ShouldEqual, SourceCanned)
			So(len(h.learning.enqueued), ShouldEqual, 2)
			So(h.learning.enqueued[1].Kind, ShouldEqual, FeedbackHelpful)
			So(h.learning.enqueued[1].Question, ShouldEqual, "vocês entregam em Recife?")

			Convey("and a repeated thanks does not double-count", func() {
				_, err := h.svc.Respond(ctx, "t1", conv, inboundEvent("valeu"))
				So(err, ShouldBeNil)
				So(len(h.learning.enqueued), ShouldEqual, 2)
			})
		})

		Convey("a thanks with nothing served before it carries no signal", func() {
			out, err := h.svc.Respond(ctx, "t1", conv, inboundEvent("obrigado"))
			So(err, ShouldBeNil)
			So(out.Source, ShouldEqual, SourceCanned)
			So(len(h.learning.enqueued), ShouldEqual, 0)
		})

		Convey("generation delivers, records usage and queues the exchange", func() {
			out, err := h.svc.Respond(ctx, "t1", conv, inboundEvent("vocês entregam em Recife?"))
			So(err, ShouldBeNil)
			So(out.Replied, ShouldBeTrue)
			So(out.Source, ShouldEqual, SourceProvider)
			So(h.quota.recorded, ShouldEqual, 1)
			So(len(h.learning.enqueued), ShouldEqual, 1)
			So(h.learning.enqueued[0].Kind, ShouldEqual, FeedbackExchange)
			So(h.learning.enqueued[0].Question, ShouldEqual, "vocês entregam em Recife?")
		})

		Convey("an FAQ hint, recalled memories and conversation context travel in the system instruction", func() {
			h.learning.faq = &model.FAQEntry{Answer: "Entregamos em capitais em 3 dias."}
			h.learning.faqLevel = FAQHint
			h.learning.memories = []*model.MemoryEntry{{Content: "Frete grátis acima de R$200."}}
			h.learning.context = &model.ConversationContext{Topics: []string{"frete", "prazo"}}

			_, err := h.svc.Respond(ctx, "t1", conv, inboundEvent("vocês entregam em Recife?"))
			So(err, ShouldBeNil)
			So(h.gateway.calls, ShouldEqual, 1)
			So(h.gateway.lastReq.SystemInstruction, ShouldContainSubstring, "Você é o atendente virtual da loja.")
			So(h.gateway.lastReq.SystemInstruction, ShouldContainSubstring, "Frete grátis acima de R$200.")
			So(h.gateway.lastReq.SystemInstruction, ShouldContainSubstring, "frete, prazo")
			So(h.gateway.lastReq.SystemInstruction, ShouldContainSubstring, "Entregamos em capitais em 3 dias.")
			So(h.gateway.lastReq.Temperature, ShouldEqual, 0.7)
		})

		Convey("a quota decline stops before the provider", func() {
			h.quota.usage = model.Decline(model.ReasonMonthlyLimitExceeded, "monthly AI usage limit reached", true)

			out, err := h.svc.Respond(ctx, "t1", conv, inboundEvent("vocês entregam em Recife?"))
			So(err, ShouldBeNil)
			So(out.SkipReason, ShouldEqual, SkipQuota)
			So(h.gateway.calls, ShouldEqual, 0)
			So(len(h.learning.enqueued), ShouldEqual, 0)
		})

		Convey("a provider rate decline stops before the provider", func() {
			h.quota.rate = &model.RateDecision{Allowed: false, RetryAfter: 60}

			out, err := h.svc.Respond(ctx, "t1", conv, inboundEvent("vocês entregam em Recife?"))
			So(err, ShouldBeNil)
			So(out.SkipReason, ShouldEqual, SkipQuota)
			So(h.gateway.calls, ShouldEqual, 0)
		})

		Convey("a provider failure is a silent skip with no usage charge", func() {
			h.gateway.result = &ai.Result{Success: false, Reason: ai.ReasonProviderError}

			out, err := h.svc.Respond(ctx, "t1", conv, inboundEvent("vocês entregam em Recife?"))
			So(err, ShouldBeNil)
			So(out.SkipReason, ShouldEqual, SkipProvider)
			So(h.quota.recorded, ShouldEqual, 0)
			So(len(h.sender.sent), ShouldEqual, 0)
		})

		Convey("a delivery failure does not propagate as an error", func() {
			h.sender.err = errors.New("channel down")

			out, err := h.svc.Respond(ctx, "t1", conv, inboundEvent("vocês entregam em Recife?"))
			So(err, ShouldBeNil)
			So(out.Replied, ShouldBeFalse)
			So(out.SkipReason, ShouldEqual, SkipProvider)
		})
	})
}

func TestResponderCombineWindow(t *testing.T) {
	Convey("the message combination window", t, func() {
		ctx := context.Background()
		h := newResponderHarness()
		conv := directConversation()

		h.inbound.msgs = append(h.inbound.msgs,
			&model.Message{ConversationID: conv.ID, Direction: model.DirectionIn, Content: "Oi", Timestamp: h.now.Add(-10 * time.Second)},
			&model.Message{ConversationID: conv.ID, Direction: model.DirectionIn, Content: "Queria saber o preço", Timestamp: h.now.Add(-4 * time.Second)},
			&model.Message{ConversationID: conv.ID, Direction: model.DirectionIn, Content: "Queria saber o preço", Timestamp: h.now.Add(-2 * time.Second)},
			&model.Message{ConversationID: conv.ID, Direction: model.DirectionIn, Content: "mensagem antiga", Timestamp: h.now.Add(-5 * time.Minute)},
		)

		Convey("recent inbound messages merge deduplicated into one prompt", func() {
			_, err := h.svc.Respond(ctx, "t1", conv, inboundEvent("Queria saber o preço"))
			So(err, ShouldBeNil)
			So(h.gateway.calls, ShouldEqual, 1)
			So(h.gateway.lastReq.Prompt, ShouldEqual, "Oi\nQueria saber o preço")
		})

		Convey("with nothing in the window the event's own text is the prompt", func() {
			h.inbound.msgs = nil
			_, err := h.svc.Respond(ctx, "t1", conv, inboundEvent("Tem estoque do azul?"))
			So(err, ShouldBeNil)
			So(h.gateway.lastReq.Prompt, ShouldEqual, "Tem estoque do azul?")
		})

		Convey("messages arriving during the debounce hold join the one provider call", func() {
			h.inbound.msgs = nil
			h.svc.wait = func(d time.Duration) {
				So(d, ShouldEqual, 8*time.Second)
				h.now = h.now.Add(d)
				h.inbound.msgs = append(h.inbound.msgs,
					&model.Message{ConversationID: conv.ID, Direction: model.DirectionIn, Content: "Preciso trocar um produto", Timestamp: h.now.Add(-8 * time.Second)},
					&model.Message{ConversationID: conv.ID, Direction: model.DirectionIn, Content: "Chegou com defeito", Timestamp: h.now.Add(-6 * time.Second)},
				)
			}

			out, err := h.svc.Respond(ctx, "t1", conv, inboundEvent("Preciso trocar um produto"))
			So(err, ShouldBeNil)
			So(out.Source, ShouldEqual, SourceProvider)
			So(h.gateway.calls, ShouldEqual, 1)
			So(h.gateway.lastReq.Prompt, ShouldEqual, "Preciso trocar um produto\nChegou com defeito")
		})
	})
}
