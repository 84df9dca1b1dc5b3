package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/aescanero/canvas/pkg/domain"
	"github.com/aescanero/canvas/pkg/task"
)

// TaskName is the registry name of the completion task.
const TaskName = "llm.complete"

const (
	DefaultModel     = "claude-sonnet-4-5"
	DefaultMaxTokens = 1024
)

// MessagesAPI is the part of the Anthropic SDK the client uses.
type MessagesAPI interface {
	New(ctx context.Context, body anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// Config holds LLM client configuration
type Config struct {
	Provider  string
	APIKey    string
	Model     string
	MaxTokens int64
	Logger    *zap.Logger
}

// Client completes prompts
type Client struct {
	api       MessagesAPI
	model     string
	maxTokens int64
	logger    *zap.Logger
}

// NewClient creates a new LLM client based on provider
func NewClient(cfg *Config) (*Client, error) {
	switch cfg.Provider {
	case "anthropic":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("anthropic API key is required")
		}
		sdk := anthropic.NewClient(option.WithAPIKey(cfg.APIKey))
		return NewClientWithAPI(&sdk.Messages, cfg.Model, cfg.MaxTokens, cfg.Logger), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
}

// NewClientWithAPI creates a client over an existing messages API.
func NewClientWithAPI(api MessagesAPI, model string, maxTokens int64, logger *zap.Logger) *Client {
	if model == "" {
		model = DefaultModel
	}
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{api: api, model: model, maxTokens: maxTokens, logger: logger}
}

// Complete sends prompt as a single user message and returns the text of
// the reply.
func (c *Client) Complete(ctx context.Context, prompt, system string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	msg, err := c.api.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("completion request failed: %w", err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}

	c.logger.Debug("completion finished",
		zap.String("model", c.model),
		zap.Int64("input_tokens", msg.Usage.InputTokens),
		zap.Int64("output_tokens", msg.Usage.OutputTokens))

	return sb.String(), nil
}

// Handler returns the llm.complete task handler. It takes a prompt and an
// optional system keyword. A non-string prompt, such as the result of a
// previous step, is sent as JSON.
func (c *Client) Handler() task.Handler {
	return func(tc *task.Context, args []any, kwargs map[string]any) (any, error) {
		rest := make(map[string]any, len(kwargs))
		system := ""
		for k, v := range kwargs {
			if k == "system" {
				s, ok := v.(string)
				if !ok {
					return nil, domain.NewTaskError(domain.KindTypeError, "argument \"system\": expected a string, got %T", v)
				}
				system = s
				continue
			}
			rest[k] = v
		}

		bound, err := task.Bind(args, rest, "prompt")
		if err != nil {
			return nil, err
		}
		prompt, err := promptText(bound[0])
		if err != nil {
			return nil, err
		}

		tc.Logger.Info("requesting completion", zap.Int("prompt_len", len(prompt)))
		return c.Complete(tc, prompt, system)
	}
}

// Register adds llm.complete to reg.
func (c *Client) Register(reg *task.Registry) error {
	return reg.Register(TaskName, c.Handler(), task.WithUnwrap(task.UnwrapNone))
}

func promptText(v any) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", domain.NewTaskError(domain.KindTypeError, "prompt is not serializable: %v", err)
	}
	return string(data), nil
}
