// Package classify scores extracted articles for market impact using a
// forced structured tool call to the model.
package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/watchfolio/newsimpact/internal/model"
	"github.com/watchfolio/newsimpact/internal/resilience"
	"github.com/watchfolio/newsimpact/pkg/anthropic"
)

// ToolName is the single tool the model is forced to invoke. Its input
// schema mirrors model.Impact exactly.
const ToolName = "set_news_impact"

const systemPrompt = `You are a sell-side equity analyst assessing the market impact of a single news article on the stocks it mentions.

Read the article and record your assessment by calling the set_news_impact tool. Guidance:
- impact: 1-3 routine coverage, 4-6 notable but priced-in-quickly news, 7-8 materially moves the stock, 9-10 thesis-changing events.
- direction: the expected price direction for the mentioned tickers. Use "mixed" when effects cut both ways and "unclear" when the article does not support a directional call.
- category: the single best-fitting event category.
- points: 3 to 6 short bullet points justifying the assessment, each grounded in the article text.
- confidence: how well the article supports the assessment, from 0 to 1.

Base the assessment only on the article content. Do not speculate beyond it.`

// Params configures a Classifier.
type Params struct {
	Model           string
	PromptVersion   string
	MaxArticleChars int
	MaxTokens       int64
	Retry           resilience.RetryConfig
}

// Classifier turns extracted article text into a validated Impact verdict.
type Classifier struct {
	client anthropic.Client
	params Params
}

// New wires a Classifier over the given API client. Only transport-level
// failures are retried; a malformed model response is a hard error.
func New(client anthropic.Client, params Params) *Classifier {
	params.Retry.ShouldRetry = anthropic.IsRetryable
	if params.MaxTokens == 0 {
		params.MaxTokens = 1024
	}
	return &Classifier{client: client, params: params}
}

// Model reports the configured model ID.
func (c *Classifier) Model() string { return c.params.Model }

// PromptVersion reports the configured prompt version tag.
func (c *Classifier) PromptVersion() string { return c.params.PromptVersion }

// Classify scores one article. The article text is truncated to the
// configured character budget before being sent.
func (c *Classifier) Classify(ctx context.Context, item model.ExtractedItem) (*model.Impact, error) {
	req := anthropic.MessageRequest{
		Model:     c.params.Model,
		MaxTokens: c.params.MaxTokens,
		System:    systemPrompt,
		Messages: []anthropic.Message{
			{Role: "user", Content: c.userPrompt(item)},
		},
		Tools:      []anthropic.Tool{impactTool()},
		ToolChoice: &anthropic.ToolChoice{Name: ToolName},
	}

	resp, err := resilience.DoVal(ctx, c.params.Retry, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return c.client.CreateMessage(ctx, req)
	})
	if err != nil {
		return nil, eris.Wrap(err, "classify: create message")
	}

	tu := resp.ToolUse()
	if tu == nil {
		return nil, eris.Errorf("classify: model returned no tool_use block (stop_reason=%s)", resp.StopReason)
	}
	if tu.Name != ToolName {
		return nil, eris.Errorf("classify: model invoked unexpected tool %q", tu.Name)
	}

	var impact model.Impact
	if err := json.Unmarshal(tu.Input, &impact); err != nil {
		return nil, eris.Wrap(err, "classify: decode tool input")
	}
	if err := impact.Validate(); err != nil {
		return nil, eris.Wrap(err, "classify: invalid tool input")
	}

	resp.Usage.LogCost(c.params.Model, "classify")
	return &impact, nil
}

func (c *Classifier) userPrompt(item model.ExtractedItem) string {
	content := truncateRunes(item.Content, c.params.MaxArticleChars)

	var b strings.Builder
	fmt.Fprintf(&b, "Headline: %s\n", item.Headline)
	fmt.Fprintf(&b, "Source: %s\n", item.Source)
	fmt.Fprintf(&b, "Published: %s\n", item.PublishedAt.UTC().Format("2006-01-02 15:04 MST"))
	fmt.Fprintf(&b, "Tickers: %s\n\n", strings.Join(item.Tickers, ", "))
	b.WriteString("Article:\n")
	b.WriteString(content)
	return b.String()
}

func impactTool() anthropic.Tool {
	return anthropic.Tool{
		Name:        ToolName,
		Description: "Record the market impact assessment for a news article.",
		InputSchema: anthropic.ToolInputSchema{
			Properties: map[string]any{
				"impact": map[string]any{
					"type":        "integer",
					"minimum":     1,
					"maximum":     10,
					"description": "Market impact score from 1 (negligible) to 10 (thesis-changing).",
				},
				"direction": map[string]any{
					"type": "string",
					"enum": enumStrings(model.Directions),
				},
				"category": map[string]any{
					"type": "string",
					"enum": enumStrings(model.Categories),
				},
				"points": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"minItems":    3,
					"maxItems":    6,
					"description": "Short bullet points justifying the assessment.",
				},
				"confidence": map[string]any{
					"type":    "number",
					"minimum": 0,
					"maximum": 1,
				},
			},
			Required: []string{"impact", "direction", "category", "points", "confidence"},
		},
	}
}

func enumStrings[T ~string](vals []T) []string {
	out := make([]string, len(vals))
	for i, v := range vals {
		out[i] = string(v)
	}
	return out
}

func truncateRunes(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
