// Package marketing generates ad copy for vendor products with a single
// tool-less model call.
package marketing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nugget/vendorbot/internal/llm"
	"github.com/nugget/vendorbot/internal/prompts"
)

// DefaultTimeout bounds one generation call.
const DefaultTimeout = 45 * time.Second

// AdRequest describes the product to advertise.
type AdRequest struct {
	ProductName string
	Description string
	Price       string
	StoreName   string
	Platform    string
	Tone        string
}

// Ad is generated copy plus the tokens it cost.
type Ad struct {
	Platform     string `json:"platform"`
	Tone         string `json:"tone"`
	Text         string `json:"text"`
	InputTokens  int    `json:"-"`
	OutputTokens int    `json:"-"`
}

// Generator produces ad copy.
type Generator struct {
	llm     llm.Client
	model   string
	timeout time.Duration
	logger  *slog.Logger
}

// NewGenerator creates a Generator using model on client.
func NewGenerator(client llm.Client, model string, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		llm:     client,
		model:   model,
		timeout: DefaultTimeout,
		logger:  logger.With("component", "marketing"),
	}
}

// Generate writes ad copy for req.
func (g *Generator) Generate(ctx context.Context, req AdRequest) (*Ad, error) {
	if strings.TrimSpace(req.ProductName) == "" {
		return nil, errors.New("product name is required")
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	prompt := prompts.AdCopyPrompt(req.ProductName, req.Description, req.Price, req.StoreName, req.Platform, req.Tone)
	msgs := []llm.Message{{Role: llm.RoleUser, Content: prompt}}

	start := time.Now()
	resp, err := g.llm.Chat(ctx, g.model, msgs, nil)
	if err != nil {
		return nil, fmt.Errorf("generate ad copy: %w", err)
	}

	text := strings.Trim(strings.TrimSpace(resp.Message.Content), `"`)
	if text == "" {
		return nil, errors.New("generate ad copy: model returned no text")
	}

	g.logger.Debug("ad copy generated",
		"product", req.ProductName,
		"platform", req.Platform,
		"input_tokens", resp.InputTokens,
		"output_tokens", resp.OutputTokens,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)

	platform := strings.ToLower(req.Platform)
	if platform == "" {
		platform = "general"
	}
	tone := req.Tone
	if tone == "" {
		tone = "friendly"
	}
	return &Ad{
		Platform:     platform,
		Tone:         tone,
		Text:         text,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
	}, nil
}
