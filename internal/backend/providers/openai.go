package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/massgen/massgen/internal/backend"
	"github.com/massgen/massgen/pkg/models"
)

// OpenAI streams completions through the chat completions API. It also
// serves OpenAI-compatible endpoints via Config.BaseURL.
type OpenAI struct {
	client *openai.Client
	cfg    backend.Config
}

// NewOpenAI builds the OpenAI adapter.
func NewOpenAI(cfg backend.Config) (backend.Backend, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: api key required")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAI{client: openai.NewClientWithConfig(clientCfg), cfg: cfg}, nil
}

func (o *OpenAI) Name() string { return "openai" }

// ExecuteStreaming starts a streaming chat completion. Connection
// errors are retried with backoff; once the stream is open, failures
// terminate the chunk sequence.
func (o *OpenAI) ExecuteStreaming(ctx context.Context, req backend.Request) (<-chan *models.StreamChunk, error) {
	request := o.buildRequest(req)

	chunks := make(chan *models.StreamChunk)
	go func() {
		defer close(chunks)

		stream, err := o.connect(ctx, request, chunks)
		if err != nil {
			return
		}
		defer stream.Close()
		o.consume(ctx, stream, chunks)
	}()
	return chunks, nil
}

func (o *OpenAI) buildRequest(req backend.Request) openai.ChatCompletionRequest {
	model := req.Model
	if model == "" {
		model = o.cfg.Model
	}
	request := openai.ChatCompletionRequest{
		Model:    model,
		Messages: openaiMessages(req.Messages, req.System),
		Stream:   true,
	}
	if req.MaxTokens > 0 {
		request.MaxTokens = req.MaxTokens
	}
	if req.Temperature > 0 {
		request.Temperature = float32(req.Temperature)
	}
	if len(req.Tools) > 0 {
		request.Tools = openaiTools(req.Tools)
	}
	return request
}

// connect opens the stream, retrying transient failures. A nil stream
// with nil error never happens; on permanent failure the error chunk
// has already been sent.
func (o *OpenAI) connect(ctx context.Context, request openai.ChatCompletionRequest, chunks chan<- *models.StreamChunk) (*openai.ChatCompletionStream, error) {
	policy := o.cfg.Retry
	var lastErr error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		stream, err := o.client.CreateChatCompletionStream(ctx, request)
		if err == nil {
			return stream, nil
		}
		lastErr = err
		if !retryableError(err) {
			break
		}
		o.cfg.Logger.Warn("openai connect failed, retrying",
			"attempt", attempt+1, "error", err)
		select {
		case <-ctx.Done():
			chunks <- models.ErrorChunk(ctx.Err())
			return nil, ctx.Err()
		case <-time.After(policy.Delay(attempt)):
		}
	}
	chunks <- models.ErrorChunk(fmt.Errorf("openai: %w", lastErr))
	return nil, lastErr
}

func (o *OpenAI) consume(ctx context.Context, stream *openai.ChatCompletionStream, chunks chan<- *models.StreamChunk) {
	var text strings.Builder
	pending := make(map[int]*models.ToolCall)
	order := []int{}

	flushCalls := func() []models.ToolCall {
		var calls []models.ToolCall
		for _, idx := range order {
			tc := pending[idx]
			if tc == nil || tc.ID == "" || tc.Name == "" {
				continue
			}
			if len(tc.Arguments) == 0 {
				tc.Arguments = json.RawMessage("{}")
			}
			calls = append(calls, *tc)
		}
		return calls
	}

	for {
		select {
		case <-ctx.Done():
			chunks <- models.ErrorChunk(ctx.Err())
			return
		default:
		}

		response, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				calls := flushCalls()
				if len(calls) > 0 {
					chunks <- models.ToolCallsChunk(calls...)
				}
				chunks <- models.CompleteMessageChunk(models.RoleAssistant, text.String(), calls)
				chunks <- models.DoneChunk()
				return
			}
			chunks <- models.ErrorChunk(fmt.Errorf("openai: %w", err))
			return
		}
		if len(response.Choices) == 0 {
			continue
		}

		delta := response.Choices[0].Delta
		if delta.Content != "" {
			text.WriteString(delta.Content)
			chunks <- models.ContentChunk(delta.Content)
		}

		for _, tc := range delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			if pending[index] == nil {
				pending[index] = &models.ToolCall{}
				order = append(order, index)
			}
			if tc.ID != "" {
				pending[index].ID = tc.ID
			}
			if tc.Function.Name != "" {
				pending[index].Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				// Argument JSON arrives in fragments.
				pending[index].Arguments = append(pending[index].Arguments,
					[]byte(tc.Function.Arguments)...)
			}
		}
	}
}

// openaiMessages converts the conversation to OpenAI chat messages.
// The system prompt is injected as the leading message; tool results
// each become a separate message with role "tool".
func openaiMessages(messages []models.Message, system string) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, msg := range messages {
		switch msg.Role {
		case models.RoleSystem:
			result = append(result, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleSystem,
				Content: msg.Content,
			})
		case models.RoleTool:
			result = append(result, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    msg.Content,
				ToolCallID: msg.ToolCallID,
			})
		case models.RoleAssistant:
			out := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: msg.Content,
			}
			for _, tc := range msg.ToolCalls {
				out.ToolCalls = append(out.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Arguments),
					},
				})
			}
			result = append(result, out)
		default:
			result = append(result, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: msg.Content,
			})
		}
	}
	return result
}

func openaiTools(tools []backend.ToolSpec) []openai.Tool {
	result := make([]openai.Tool, 0, len(tools))
	for _, tool := range tools {
		params := json.RawMessage(tool.Parameters)
		if len(params) == 0 {
			params = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		result = append(result, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  params,
			},
		})
	}
	return result
}
