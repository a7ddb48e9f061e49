package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/massgen/massgen/internal/backend"
	"github.com/massgen/massgen/pkg/models"
)

// maxEmptyStreamEvents bounds consecutive events that produce no
// output before the stream is declared malformed.
const maxEmptyStreamEvents = 300

// Anthropic streams completions through the Messages API.
type Anthropic struct {
	client anthropic.Client
	cfg    backend.Config
}

// NewAnthropic builds the Anthropic adapter. The API key is required;
// BaseURL overrides the endpoint for proxies.
func NewAnthropic(cfg backend.Config) (backend.Backend, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: api key required")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Anthropic{client: anthropic.NewClient(opts...), cfg: cfg}, nil
}

func (a *Anthropic) Name() string { return "anthropic" }

// ExecuteStreaming starts a streaming completion. Conversion problems
// surface as an immediate error; everything after that arrives on the
// channel and ends with a done or error chunk.
func (a *Anthropic) ExecuteStreaming(ctx context.Context, req backend.Request) (<-chan *models.StreamChunk, error) {
	params, err := a.buildParams(req)
	if err != nil {
		return nil, err
	}

	chunks := make(chan *models.StreamChunk)
	go func() {
		defer close(chunks)
		a.run(ctx, params, chunks)
	}()
	return chunks, nil
}

func (a *Anthropic) buildParams(req backend.Request) (anthropic.MessageNewParams, error) {
	messages, err := anthropicMessages(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, fmt.Errorf("anthropic: convert messages: %w", err)
	}

	model := req.Model
	if model == "" {
		model = a.cfg.Model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = a.cfg.MaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	if len(req.Tools) > 0 {
		tools, err := anthropicTools(req.Tools)
		if err != nil {
			return anthropic.MessageNewParams{}, fmt.Errorf("anthropic: convert tools: %w", err)
		}
		params.Tools = tools
	}
	return params, nil
}

// run reconnects with backoff while nothing has been emitted yet. Once
// the first chunk is out, failures terminate the sequence instead.
func (a *Anthropic) run(ctx context.Context, params anthropic.MessageNewParams, chunks chan<- *models.StreamChunk) {
	policy := a.cfg.Retry
	for attempt := 0; ; attempt++ {
		stream := a.client.Messages.NewStreaming(ctx, params)
		emitted, err := a.consume(stream, chunks)
		if err == nil {
			return
		}
		if emitted || !retryableError(err) || attempt >= policy.MaxAttempts-1 {
			chunks <- models.ErrorChunk(fmt.Errorf("anthropic: %w", err))
			return
		}
		a.cfg.Logger.Warn("anthropic stream failed, retrying",
			"attempt", attempt+1, "error", err)
		select {
		case <-ctx.Done():
			chunks <- models.ErrorChunk(ctx.Err())
			return
		case <-time.After(policy.Delay(attempt)):
		}
	}
}

// consume translates SSE events into stream chunks. It reports whether
// any chunk was emitted so the caller knows if a reconnect is safe.
func (a *Anthropic) consume(stream *ssestream.Stream[anthropic.MessageStreamEventUnion], chunks chan<- *models.StreamChunk) (bool, error) {
	var (
		text       strings.Builder
		calls      []models.ToolCall
		current    *models.ToolCall
		currentArg strings.Builder
		emitted    bool
		emptyCount int
	)
	send := func(c *models.StreamChunk) {
		chunks <- c
		emitted = true
	}

	for stream.Next() {
		event := stream.Current()
		processed := false

		switch event.Type {
		case "message_start", "message_delta":
			processed = true

		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			if block.Type == "tool_use" {
				toolUse := block.AsToolUse()
				current = &models.ToolCall{ID: toolUse.ID, Name: toolUse.Name}
				currentArg.Reset()
				processed = true
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					text.WriteString(delta.Text)
					send(models.ContentChunk(delta.Text))
					processed = true
				}
			case "thinking_delta":
				if delta.Thinking != "" {
					send(models.ReasoningChunk(delta.Thinking))
					processed = true
				}
			case "input_json_delta":
				if delta.PartialJSON != "" {
					currentArg.WriteString(delta.PartialJSON)
					processed = true
				}
			}

		case "content_block_stop":
			if current != nil {
				args := currentArg.String()
				if args == "" {
					args = "{}"
				}
				current.Arguments = json.RawMessage(args)
				calls = append(calls, *current)
				send(models.ToolCallsChunk(*current))
				current = nil
				processed = true
			}

		case "message_stop":
			send(models.CompleteMessageChunk(models.RoleAssistant, text.String(), calls))
			send(models.DoneChunk())
			return emitted, nil

		case "error":
			return emitted, errors.New("stream error event")
		}

		if processed {
			emptyCount = 0
		} else {
			emptyCount++
			if emptyCount >= maxEmptyStreamEvents {
				return emitted, fmt.Errorf("malformed stream: %d consecutive empty events", emptyCount)
			}
		}
	}

	if err := stream.Err(); err != nil {
		return emitted, err
	}

	// Stream closed without message_stop. Finish the sequence with what
	// arrived rather than leaving it unterminated.
	send(models.CompleteMessageChunk(models.RoleAssistant, text.String(), calls))
	send(models.DoneChunk())
	return emitted, nil
}

// anthropicMessages converts the conversation to Anthropic content
// blocks. System messages are filtered here; they travel in
// params.System. Tool-result messages become user messages carrying a
// tool_result block.
func anthropicMessages(messages []models.Message) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam

	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			continue
		}

		var content []anthropic.ContentBlockParamUnion

		if msg.Role == models.RoleTool {
			content = append(content, anthropic.NewToolResultBlock(
				msg.ToolCallID, msg.Content, false))
			result = append(result, anthropic.NewUserMessage(content...))
			continue
		}

		if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}
		for _, call := range msg.ToolCalls {
			input, err := call.ArgumentsMap()
			if err != nil {
				return nil, err
			}
			content = append(content, anthropic.NewToolUseBlock(call.ID, input, call.Name))
		}
		if len(content) == 0 {
			continue
		}

		if msg.Role == models.RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}
	return result, nil
}

func anthropicTools(tools []backend.ToolSpec) ([]anthropic.ToolUnionParam, error) {
	var result []anthropic.ToolUnionParam
	for _, tool := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(tool.Parameters, &schema); err != nil {
			return nil, fmt.Errorf("invalid schema for tool %s: %w", tool.Name, err)
		}
		param := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if param.OfTool == nil {
			return nil, fmt.Errorf("invalid tool definition for %s", tool.Name)
		}
		param.OfTool.Description = anthropic.String(tool.Description)
		result = append(result, param)
	}
	return result, nil
}

func retryableError(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 429:
			return true
		case apiErr.StatusCode >= 500:
			return true
		default:
			return false
		}
	}
	msg := err.Error()
	for _, marker := range []string{
		"rate_limit", "429", "overloaded",
		"timeout", "deadline exceeded",
		"connection reset", "connection refused", "no such host",
		"500", "502", "503", "504",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
