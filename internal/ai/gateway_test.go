package ai

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	. "github.com/smartystreets/goconvey/convey"

	"pomelo/internal/config"
)

// fakeChatModel scripted backend for gateway tests
type fakeChatModel struct {
	response *schema.Message
	err      error
	calls    int
}

func (f *fakeChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.response, nil
}

func (f *fakeChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("stream not supported in tests")
}

func testGateway(fake *fakeChatModel) *Gateway {
	return &Gateway{
		chatModel: fake,
		provider:  "openai",
		fullModel: "full-model",
		liteModel: "lite-model",
		opts: config.AIOptionsConfig{
			Temperature:        0.7,
			ChatMaxTokens:      512,
			TaskMaxTokens:      2048,
			SystemPromptBudget: 100,
		},
	}
}

func TestGatewayGenerate(t *testing.T) {
	Convey("Gateway.Generate", t, func() {
		ctx := context.Background()

		Convey("a successful call returns the response and usage", func() {
			fake := &fakeChatModel{response: &schema.Message{
				Content: "A entrega leva 3 dias úteis.",
				ResponseMeta: &schema.ResponseMeta{
					Usage: &schema.TokenUsage{PromptTokens: 20, CompletionTokens: 12, TotalTokens: 32},
				},
			}}
			g := testGateway(fake)

			res := g.Generate(ctx, &Request{Feature: FeatureChat, Prompt: "quanto tempo leva a entrega?"})
			So(res.Success, ShouldBeTrue)
			So(res.Response, ShouldEqual, "A entrega leva 3 dias úteis.")
			So(res.Usage, ShouldNotBeNil)
			So(res.Usage.TotalTokens, ShouldEqual, 32)
			So(fake.calls, ShouldEqual, 1)
		})

		Convey("an unconfigured gateway declines without calling anything", func() {
			g := &Gateway{}
			res := g.Generate(ctx, &Request{Feature: FeatureChat, Prompt: "oi"})
			So(res.Success, ShouldBeFalse)
			So(res.Reason, ShouldEqual, ReasonNotConfigured)
		})

		Convey("upstream 429 maps to the rate-limited reason", func() {
			fake := &fakeChatModel{err: errors.New("request failed with status 429 Too Many Requests")}
			g := testGateway(fake)

			res := g.Generate(ctx, &Request{Feature: FeatureChat, Prompt: "oi"})
			So(res.Success, ShouldBeFalse)
			So(res.Reason, ShouldEqual, ReasonRateLimited)
		})

		Convey("other provider errors map to a generic failure", func() {
			fake := &fakeChatModel{err: errors.New("connection reset by peer")}
			g := testGateway(fake)

			res := g.Generate(ctx, &Request{Feature: FeatureChat, Prompt: "oi"})
			So(res.Success, ShouldBeFalse)
			So(res.Reason, ShouldEqual, ReasonProviderError)
		})

		Convey("an empty response body is its own failure reason", func() {
			fake := &fakeChatModel{response: &schema.Message{Content: "   "}}
			g := testGateway(fake)

			res := g.Generate(ctx, &Request{Feature: FeatureChat, Prompt: "oi"})
			So(res.Success, ShouldBeFalse)
			So(res.Reason, ShouldEqual, ReasonEmptyResponse)
		})
	})
}

func TestGatewayModelSelection(t *testing.T) {
	Convey("selectModel picks by feature and triviality", t, func() {
		g := testGateway(&fakeChatModel{})

		Convey("structured features always use the full model", func() {
			So(g.selectModel(&Request{Feature: FeatureAutofill, Prompt: "oi"}), ShouldEqual, "full-model")
			So(g.selectModel(&Request{Feature: FeatureLeadAnalysis, Prompt: "oi"}), ShouldEqual, "full-model")
			So(g.selectModel(&Request{Feature: FeatureEmailDraft, Prompt: "oi"}), ShouldEqual, "full-model")
		})

		Convey("trivial chat goes to the lite model", func() {
			So(g.selectModel(&Request{Feature: FeatureChat, Prompt: "bom dia"}), ShouldEqual, "lite-model")
		})

		Convey("substantial chat uses the full model", func() {
			prompt := "preciso de ajuda com um pedido que chegou com a embalagem danificada e gostaria de saber como proceder"
			So(g.selectModel(&Request{Feature: FeatureChat, Prompt: prompt}), ShouldEqual, "full-model")
		})
	})
}

func TestGatewayTokenCeiling(t *testing.T) {
	Convey("tokenCeiling applies per-feature caps", t, func() {
		g := testGateway(&fakeChatModel{})

		So(g.tokenCeiling(&Request{Feature: FeatureChat}), ShouldEqual, 512)
		So(g.tokenCeiling(&Request{Feature: FeatureAutofill}), ShouldEqual, 2048)

		Convey("a tighter caller cap wins", func() {
			So(g.tokenCeiling(&Request{Feature: FeatureChat, MaxTokens: 100}), ShouldEqual, 100)
		})

		Convey("a looser caller cap does not", func() {
			So(g.tokenCeiling(&Request{Feature: FeatureChat, MaxTokens: 9000}), ShouldEqual, 512)
		})
	})
}

func TestTruncate(t *testing.T) {
	Convey("Truncate cuts by runes", t, func() {
		So(Truncate("abcdef", 3), ShouldEqual, "abc")
		So(Truncate("abc", 10), ShouldEqual, "abc")
		So(Truncate("ação é boa", 4), ShouldEqual, "ação")
		So(Truncate("anything", 0), ShouldEqual, "anything")
	})
}

func TestEstimateTokens(t *testing.T) {
	Convey("EstimateTokens uses the 4-chars heuristic with a floor of 1", t, func() {
		So(EstimateTokens(""), ShouldEqual, 0)
		So(EstimateTokens("ab"), ShouldEqual, 1)
		So(EstimateTokens("abcdefgh"), ShouldEqual, 2)
	})
}
