package analysis

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
	"github.com/tidwall/gjson"

	"dockit/app/pkg/types"
)

const systemPrompt = `You are an elite executive assistant. Your job is to process incoming messages into a unified task list.

RULES:
1. TITLE: Rewrite the subject line to be action-oriented and clear. Remove "Fwd:", "Re:", and generic words. Return it as "cleanTitle".
2. SUMMARY: Summarize the context in 1-2 sentences. Return it as "summary".
3. ACTION: Extract the single most important next step for the user. Return it as "actionItem".
4. PRIORITY: Rate 1-4 (1=Low, 4=Critical). Strict deadlines or VIP senders = High/Critical. Return it as integer "priorityScore".
5. DEADLINE: If the message states a deadline, return it as ISO-8601 "deadlineISO", otherwise null.
6. OUTPUT: You must output a single VALID JSON object only. No markdown, no surrounding prose.`

type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

// OpenAIAnalyzer sends one chat completion per raw item with the response
// format forced to a JSON object at the protocol level. No caching, no
// retries; the caller owns timeout and retry policy via ctx.
type OpenAIAnalyzer struct {
	client openai.Client
	model  shared.ChatModel
}

func NewOpenAIAnalyzer(cfg Config) *OpenAIAnalyzer {
	// retry policy belongs to the sync cycle, not the transport
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey), option.WithMaxRetries(0)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAIAnalyzer{
		client: openai.NewClient(opts...),
		model:  shared.ChatModel(model),
	}
}

func (a *OpenAIAnalyzer) Analyze(ctx context.Context, item types.RawInboxItem) (types.Analysis, error) {
	resp, err := a.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: a.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userContent(item)),
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	})
	if err != nil {
		return types.Analysis{}, classifyCallError(err)
	}

	if len(resp.Choices) == 0 {
		return types.Analysis{}, fmt.Errorf("%w: response has no choices", types.ErrParsing)
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return types.Analysis{}, fmt.Errorf("%w: response content is empty", types.ErrParsing)
	}

	return parseAnalysisJSON(content)
}

// userContent serializes the raw item verbatim; all interpretation is the
// model's job.
func userContent(item types.RawInboxItem) string {
	var b strings.Builder
	b.WriteString("Sender: ")
	b.WriteString(item.Sender)
	b.WriteString("\nSource: ")
	b.WriteString(string(item.Source))
	b.WriteString("\nTimestamp: ")
	b.WriteString(item.Timestamp.UTC().Format(time.RFC3339))
	b.WriteString("\nRaw Content:\n")
	b.WriteString(item.Content)
	return b.String()
}

// parseAnalysisJSON decodes the model's JSON into an Analysis. Missing or
// undecodable structure is fatal to the call; a bad priority score or an
// unparseable deadline inside an otherwise valid object degrades to safe
// defaults instead.
func parseAnalysisJSON(content string) (types.Analysis, error) {
	if !gjson.Valid(content) {
		return types.Analysis{}, fmt.Errorf("%w: model output is not valid JSON", types.ErrParsing)
	}
	parsed := gjson.Parse(content)
	for _, field := range []string{"cleanTitle", "summary", "actionItem", "priorityScore"} {
		if !parsed.Get(field).Exists() {
			return types.Analysis{}, fmt.Errorf("%w: model output missing %q", types.ErrParsing, field)
		}
	}

	result := types.Analysis{
		Title:      parsed.Get("cleanTitle").String(),
		Summary:    parsed.Get("summary").String(),
		ActionItem: parsed.Get("actionItem").String(),
		Priority:   types.PriorityFromScore(int(parsed.Get("priorityScore").Int())),
	}

	if deadline := parsed.Get("deadlineISO"); deadline.Exists() && deadline.Type == gjson.String {
		if ts, err := time.Parse(time.RFC3339, deadline.String()); err == nil {
			utc := ts.UTC()
			result.EstimatedDeadline = &utc
		}
	}
	return result, nil
}

// classifyCallError folds SDK failures into the shared taxonomy: HTTP errors
// and transport failures are network problems, anything left is the envelope
// failing to decode.
func classifyCallError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%w: api status %d", types.ErrNetwork, apiErr.StatusCode)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return fmt.Errorf("%w: %v", types.ErrNetwork, err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", types.ErrNetwork, err)
	}
	return fmt.Errorf("%w: %v", types.ErrParsing, err)
}

var _ types.Analyzer = (*OpenAIAnalyzer)(nil)
