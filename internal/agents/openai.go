package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/futurisms/overlay-platform-sub000/internal/models"
)

type OpenAISettings struct {
	APIKey  string
	BaseURL string
}

// OpenAIEvaluator implements Evaluator over the openai-go chat completions
// API. The model for each invocation comes from the tier router.
type OpenAIEvaluator struct {
	router *models.Router
	opts   []option.RequestOption
}

func NewOpenAIEvaluator(cfg OpenAISettings, router *models.Router) (*OpenAIEvaluator, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai api key missing; set OVERLAY_OPENAI_API_KEY")
	}
	if router == nil {
		router = models.NewDefaultRouter()
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAIEvaluator{router: router, opts: opts}, nil
}

func (o *OpenAIEvaluator) Invoke(ctx context.Context, req Request) (Result, Usage, error) {
	route := o.router.Route(models.RouteInput{AgentKind: string(req.Kind)})
	usage := Usage{Model: route.Model, Calls: 1}
	if req.DocumentText == "" {
		return Result{}, usage, Permanent(errors.New("document text is empty"))
	}

	client := openai.NewClient(o.opts...)
	p := buildPrompt(req)
	resp, err := client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(route.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(p.System),
			openai.UserMessage(p.User),
		},
	})
	if err != nil {
		return Result{}, usage, classify(err)
	}
	usage.InputTokens = int(resp.Usage.PromptTokens)
	usage.OutputTokens = int(resp.Usage.CompletionTokens)
	if len(resp.Choices) == 0 {
		return Result{}, usage, Transient(errors.New("openai: empty choices"))
	}

	raw, ok := extractJSON(resp.Choices[0].Message.Content)
	if !ok {
		return Result{}, usage, Transient(errors.New("openai: response contains no JSON object"))
	}
	var result Result
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return Result{}, usage, Transient(fmt.Errorf("openai: decode findings: %w", err))
	}
	return result, usage, nil
}

// classify maps SDK errors onto the retry taxonomy: throttling and server
// trouble are transient, request rejections are permanent.
func classify(err error) error {
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		switch {
		case apierr.StatusCode == 408 || apierr.StatusCode == 429 || apierr.StatusCode >= 500:
			return Transient(err)
		case apierr.StatusCode >= 400:
			return Permanent(err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Transient(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return Transient(err)
	}
	return Transient(err)
}
