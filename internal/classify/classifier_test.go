package classify

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watchfolio/newsimpact/internal/model"
	"github.com/watchfolio/newsimpact/internal/resilience"
	"github.com/watchfolio/newsimpact/pkg/anthropic"
)

// fakeAIClient scripts successive CreateMessage outcomes.
type fakeAIClient struct {
	mu       sync.Mutex
	calls    int
	errs     []error
	response *anthropic.MessageResponse
	lastReq  anthropic.MessageRequest
}

func (f *fakeAIClient) CreateMessage(_ context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastReq = req
	n := f.calls
	f.calls++
	if n < len(f.errs) && f.errs[n] != nil {
		return nil, f.errs[n]
	}
	return f.response, nil
}

func toolUseResponse(t *testing.T, name string, input any) *anthropic.MessageResponse {
	t.Helper()
	raw, err := json.Marshal(input)
	require.NoError(t, err)
	return &anthropic.MessageResponse{
		StopReason: "tool_use",
		Content: []anthropic.ContentBlock{
			{Type: "tool_use", Name: name, Input: raw},
		},
	}
}

func validInput() map[string]any {
	return map[string]any{
		"impact":     7,
		"direction":  "positive",
		"category":   "EARNINGS",
		"points":     []string{"record revenue", "raised guidance", "beat on margins"},
		"confidence": 0.85,
	}
}

func sampleItem() model.ExtractedItem {
	return model.ExtractedItem{
		CanonicalItem: model.CanonicalItem{
			FetchedItem: model.FetchedItem{
				Headline:    "Apple beats estimates",
				Source:      "Example Wire",
				PublishedAt: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC),
				Tickers:     []string{"AAPL"},
			},
			CanonicalURL: "https://n.example.com/a",
			ContentHash:  "abc",
		},
		Content: strings.Repeat("word ", 300),
	}
}

func newClassifier(client anthropic.Client) *Classifier {
	return New(client, Params{
		Model:           "claude-haiku-4-5-20251001",
		PromptVersion:   "v1",
		MaxArticleChars: 12000,
		Retry: resilience.RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   time.Millisecond,
			MaxDelay:    5 * time.Millisecond,
		},
	})
}

func TestClassify_ForcesTool(t *testing.T) {
	client := &fakeAIClient{response: toolUseResponse(t, ToolName, validInput())}
	c := newClassifier(client)

	impact, err := c.Classify(context.Background(), sampleItem())
	require.NoError(t, err)
	assert.Equal(t, 7, impact.Score)
	assert.Equal(t, model.DirectionPositive, impact.Direction)
	assert.Equal(t, model.CategoryEarnings, impact.Category)

	require.NotNil(t, client.lastReq.ToolChoice)
	assert.Equal(t, ToolName, client.lastReq.ToolChoice.Name)
	require.Len(t, client.lastReq.Tools, 1)
	assert.Equal(t, ToolName, client.lastReq.Tools[0].Name)
}

func TestClassify_PromptCarriesMetadataAndContent(t *testing.T) {
	client := &fakeAIClient{response: toolUseResponse(t, ToolName, validInput())}
	c := newClassifier(client)

	_, err := c.Classify(context.Background(), sampleItem())
	require.NoError(t, err)

	require.Len(t, client.lastReq.Messages, 1)
	prompt := client.lastReq.Messages[0].Content
	assert.Contains(t, prompt, "Apple beats estimates")
	assert.Contains(t, prompt, "AAPL")
	assert.Contains(t, prompt, "word word")
}

func TestClassify_TruncatesArticle(t *testing.T) {
	client := &fakeAIClient{response: toolUseResponse(t, ToolName, validInput())}
	c := New(client, Params{
		Model:           "claude-haiku-4-5-20251001",
		PromptVersion:   "v1",
		MaxArticleChars: 100,
		Retry:           resilience.RetryConfig{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
	})

	item := sampleItem()
	item.Content = strings.Repeat("x", 5000)
	_, err := c.Classify(context.Background(), item)
	require.NoError(t, err)

	assert.Contains(t, client.lastReq.Messages[0].Content, strings.Repeat("x", 100))
	assert.NotContains(t, client.lastReq.Messages[0].Content, strings.Repeat("x", 101))
}

func TestClassify_RetriesTransientAPIError(t *testing.T) {
	client := &fakeAIClient{
		errs:     []error{&sdk.Error{StatusCode: 529}},
		response: toolUseResponse(t, ToolName, validInput()),
	}
	c := newClassifier(client)

	impact, err := c.Classify(context.Background(), sampleItem())
	require.NoError(t, err)
	assert.Equal(t, 7, impact.Score)
	assert.Equal(t, 2, client.calls)
}

func TestClassify_NoToolUseIsHardError(t *testing.T) {
	client := &fakeAIClient{response: &anthropic.MessageResponse{
		StopReason: "end_turn",
		Content:    []anthropic.ContentBlock{{Type: "text", Text: "I think this is positive."}},
	}}
	c := newClassifier(client)

	_, err := c.Classify(context.Background(), sampleItem())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no tool_use")
	assert.Equal(t, 1, client.calls, "schema failures must not be retried")
}

func TestClassify_WrongToolNameIsHardError(t *testing.T) {
	client := &fakeAIClient{response: toolUseResponse(t, "some_other_tool", validInput())}
	c := newClassifier(client)

	_, err := c.Classify(context.Background(), sampleItem())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected tool")
}

func TestClassify_InvalidInputIsHardError(t *testing.T) {
	input := validInput()
	input["impact"] = 11
	client := &fakeAIClient{response: toolUseResponse(t, ToolName, input)}
	c := newClassifier(client)

	_, err := c.Classify(context.Background(), sampleItem())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")
	assert.Equal(t, 1, client.calls)
}

func TestClassify_TooFewPointsIsHardError(t *testing.T) {
	input := validInput()
	input["points"] = []string{"only one"}
	client := &fakeAIClient{response: toolUseResponse(t, ToolName, input)}
	c := newClassifier(client)

	_, err := c.Classify(context.Background(), sampleItem())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "points")
}

func TestClassify_SchemaEnumsMatchModel(t *testing.T) {
	client := &fakeAIClient{response: toolUseResponse(t, ToolName, validInput())}
	c := newClassifier(client)

	_, err := c.Classify(context.Background(), sampleItem())
	require.NoError(t, err)

	props := client.lastReq.Tools[0].InputSchema.Properties
	dir := props["direction"].(map[string]any)
	assert.ElementsMatch(t, []string{"positive", "negative", "mixed", "unclear"}, dir["enum"].([]string))
	cat := props["category"].(map[string]any)
	assert.Len(t, cat["enum"].([]string), 10)
}
