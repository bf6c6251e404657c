package adapters

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog"

	"github.com/bizyhq/bizy/pkg/orchestrator"
	"github.com/bizyhq/bizy/pkg/rule"
)

// LLMConfig configures an LLMAdapter.
type LLMConfig struct {
	// Name is the adapter instance name.
	Name string `yaml:"name" json:"name"`

	// APIKey authenticates against the Anthropic API.
	APIKey string `yaml:"api_key" json:"-"`

	// Model selects the model. Defaults to claude-3-5-haiku-latest.
	Model string `yaml:"model,omitempty" json:"model,omitempty"`

	// MaxTokens caps the response length. Defaults to 1024.
	MaxTokens int64 `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty"`
}

// LLMAdapter serves the "llm" framework by calling the Anthropic Messages
// API. Supported actions: complete, classify, summarize.
type LLMAdapter struct {
	BaseAdapter

	client    anthropic.Client
	model     string
	maxTokens int64
}

var _ orchestrator.Adapter = (*LLMAdapter)(nil)

// NewLLMAdapter creates an LLM adapter.
func NewLLMAdapter(logger zerolog.Logger, cfg LLMConfig) (*LLMAdapter, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm adapter %s requires an API key", cfg.Name)
	}
	model := cfg.Model
	if model == "" {
		model = "claude-3-5-haiku-latest"
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	return &LLMAdapter{
		BaseAdapter: NewBaseAdapter(logger, cfg.Name, "llm",
			[]string{"complete", "classify", "summarize"}),
		client:    anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:     model,
		maxTokens: maxTokens,
	}, nil
}

// Connect marks the adapter connected. The API client is stateless.
func (a *LLMAdapter) Connect(_ context.Context) error {
	a.setConnected(true)
	return nil
}

// Disconnect marks the adapter disconnected.
func (a *LLMAdapter) Disconnect(_ context.Context) error {
	a.setConnected(false)
	return nil
}

// Execute runs one LLM action. The prompt is built from the action name
// and parameters, then sent as a single user message.
func (a *LLMAdapter) Execute(ctx context.Context, action rule.Action, execCtx map[string]interface{}) (map[string]interface{}, error) {
	prompt, err := buildPrompt(action, execCtx)
	if err != nil {
		return nil, orchestrator.NewPermanentError(err.Error(), nil).
			WithCode(orchestrator.ErrCodeValidation).
			WithFramework(a.Framework())
	}

	execCtx2, cancel := withExecuteTimeout(ctx, action)
	defer cancel()

	start := time.Now()
	message, err := a.client.Messages.New(execCtx2, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: a.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return nil, classifyLLMError(err, a.Framework())
	}

	var text strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	logger := a.Logger()
	logger.Debug().
		Str("action", action.Name).
		Dur("latency", time.Since(start)).
		Int64("input_tokens", message.Usage.InputTokens).
		Int64("output_tokens", message.Usage.OutputTokens).
		Msg("LLM call completed")

	return map[string]interface{}{
		"text":          text.String(),
		"model":         a.model,
		"input_tokens":  message.Usage.InputTokens,
		"output_tokens": message.Usage.OutputTokens,
	}, nil
}

// Health reports healthy while connected. No probe request is made to
// avoid burning tokens on health checks.
func (a *LLMAdapter) Health(_ context.Context) orchestrator.AdapterHealth {
	if !a.Connected() {
		return a.health(false, "not connected", 0)
	}
	return a.health(true, "ok", 0)
}

// buildPrompt assembles the user prompt for an LLM action.
func buildPrompt(action rule.Action, execCtx map[string]interface{}) (string, error) {
	prompt, _ := action.Parameters["prompt"].(string)

	switch action.Name {
	case "complete":
		if prompt == "" {
			return "", fmt.Errorf("action complete requires a prompt parameter")
		}
		return prompt, nil

	case "classify":
		input, _ := action.Parameters["input"].(string)
		if input == "" {
			return "", fmt.Errorf("action classify requires an input parameter")
		}
		labels := labelList(action.Parameters["labels"])
		if len(labels) == 0 {
			return "", fmt.Errorf("action classify requires a labels parameter")
		}
		return fmt.Sprintf(
			"Classify the following input into exactly one of these labels: %s.\n"+
				"Respond with the label only.\n\nInput:\n%s",
			strings.Join(labels, ", "), input), nil

	case "summarize":
		input, _ := action.Parameters["input"].(string)
		if input == "" {
			return "", fmt.Errorf("action summarize requires an input parameter")
		}
		return fmt.Sprintf("Summarize the following in at most three sentences:\n\n%s", input), nil

	default:
		return "", fmt.Errorf("unsupported llm action %s", action.Name)
	}
}

func labelList(v interface{}) []string {
	switch labels := v.(type) {
	case []string:
		return labels
	case []interface{}:
		out := make([]string, 0, len(labels))
		for _, l := range labels {
			if s, ok := l.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// classifyLLMError maps API failures onto error classes. Rate limits and
// overloads retry; auth and validation failures do not.
func classifyLLMError(err error, framework string) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 429:
			return orchestrator.NewThrottledError("llm provider throttled the request", err).
				WithCode(orchestrator.ErrCodeRateLimited).
				WithFramework(framework)
		case 500, 502, 503, 529:
			return orchestrator.NewTransientError("llm provider is unavailable", err).
				WithCode(orchestrator.ErrCodeAdapterFailed).
				WithFramework(framework)
		default:
			return orchestrator.NewPermanentError("llm request rejected", err).
				WithCode(orchestrator.ErrCodeAdapterFailed).
				WithFramework(framework)
		}
	}
	return orchestrator.NewTransientError("llm call failed", err).
		WithCode(orchestrator.ErrCodeAdapterFailed).
		WithFramework(framework)
}
