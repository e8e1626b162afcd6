// Package claude wraps the Anthropic Messages API for single-turn text
// completions.
package claude

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	DefaultModel     = "claude-sonnet-4-5"
	defaultMaxTokens = 4096
	requestTimeout   = 120 * time.Second
)

// ErrNoText is returned when a response carries no text block.
var ErrNoText = errors.New("claude: no text content in response")

// Completion is the text of one response plus its token usage.
type Completion struct {
	Text         string
	Model        string
	InputTokens  int64
	OutputTokens int64
}

// Client sends single-turn prompts to Claude.
type Client struct {
	sdk   anthropic.Client
	model string
}

// New creates a Claude client. An empty model selects DefaultModel. Extra
// request options are passed to the SDK (tests point it at a local server).
func New(apiKey, model string, opts ...option.RequestOption) *Client {
	if model == "" {
		model = DefaultModel
	}
	all := append([]option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithRequestTimeout(requestTimeout),
	}, opts...)
	return &Client{
		sdk:   anthropic.NewClient(all...),
		model: model,
	}
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

// Complete sends system and prompt as one user turn and returns the first
// text block of the reply.
func (c *Client) Complete(ctx context.Context, system, prompt string) (*Completion, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: defaultMaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	msg, err := c.sdk.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("claude: messages.new: %w", err)
	}

	out := &Completion{
		Model:        string(msg.Model),
		InputTokens:  msg.Usage.InputTokens,
		OutputTokens: msg.Usage.OutputTokens,
	}
	for _, block := range msg.Content {
		if block.Type == "text" {
			out.Text = strings.TrimSpace(block.Text)
			return out, nil
		}
	}
	return out, ErrNoText
}
