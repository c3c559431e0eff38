package extraction

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	DefaultModelName   = string(anthropic.ModelClaudeSonnet4_20250514)
	DefaultTemperature = 0.1
	DefaultMaxTokens   = 4096
)

// Response is what one LLM call returns. Content is expected to hold JSON.
type Response struct {
	Content    string
	ModelName  string
	TokenCount int64
}

// LLMCaller is the single external call the executor makes per attempt.
type LLMCaller interface {
	Call(ctx context.Context, systemPrompt, userPrompt string) (Response, error)
}

// Settings tune the LLM call. None of them affect aggregation.
type Settings struct {
	ModelName   string
	Temperature float64
	MaxTokens   int64
	Timeout     time.Duration
}

func DefaultSettings() Settings {
	return Settings{
		ModelName:   DefaultModelName,
		Temperature: DefaultTemperature,
		MaxTokens:   DefaultMaxTokens,
		Timeout:     30 * time.Second,
	}
}

type AnthropicMessager interface {
	New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

type AnthropicClientCreator func(apiKey string) AnthropicMessager

func defaultAnthropicCreator(apiKey string) AnthropicMessager {
	c := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &c.Messages
}

var newAnthropicClient AnthropicClientCreator = defaultAnthropicCreator

type AnthropicCaller struct {
	messages AnthropicMessager
	settings Settings
}

// NewAnthropicCaller configures a caller. It fails fast on a missing key so
// commands can report the problem before any section is processed.
func NewAnthropicCaller(apiKey string, settings Settings) (*AnthropicCaller, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("ANTHROPIC_API_KEY not configured")
	}
	if strings.TrimSpace(settings.ModelName) == "" {
		settings.ModelName = DefaultModelName
	}
	if settings.MaxTokens <= 0 {
		settings.MaxTokens = DefaultMaxTokens
	}
	return &AnthropicCaller{messages: newAnthropicClient(apiKey), settings: settings}, nil
}

func (a *AnthropicCaller) ModelName() string { return a.settings.ModelName }

func (a *AnthropicCaller) Call(ctx context.Context, systemPrompt, userPrompt string) (Response, error) {
	if a.settings.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.settings.Timeout)
		defer cancel()
	}
	resp, err := a.messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(a.settings.ModelName),
		MaxTokens:   a.settings.MaxTokens,
		System:      []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages:    []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt))},
		Temperature: anthropic.Float(a.settings.Temperature),
	})
	if err != nil {
		return Response{}, err
	}
	var sb strings.Builder
	for _, b := range resp.Content {
		if b.Type == "text" {
			sb.WriteString(b.Text)
		}
	}
	model := string(resp.Model)
	if model == "" {
		model = a.settings.ModelName
	}
	return Response{
		Content:    sb.String(),
		ModelName:  model,
		TokenCount: resp.Usage.InputTokens + resp.Usage.OutputTokens,
	}, nil
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		parts := strings.SplitN(s, "\n", 2)
		if len(parts) == 2 {
			s = parts[1]
		}
		s = strings.TrimPrefix(s, "json")
		s = strings.TrimSpace(strings.TrimSuffix(s, "```"))
	}
	return s
}

func classifyTransportError(err error) FailureKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return FailureTimeout
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429"):
		return FailureRateLimit
	case strings.Contains(msg, "status code: 4"):
		return FailureClient
	default:
		return FailureTransport
	}
}
