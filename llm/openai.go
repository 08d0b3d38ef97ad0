// OpenAI Provider implementation using go-openai library.
//
// Information Hiding:
// - API endpoint and authentication
// - Request/response format for OpenAI Chat Completions API
// - Streaming tool-call fragment reassembly

package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider implements the Provider interface for OpenAI and
// OpenAI-compatible endpoints.
type OpenAIProvider struct {
	client      *openai.Client
	name        string
	model       string
	maxTokens   int
	temperature float32
}

// NewOpenAIProvider creates a new OpenAI provider.
func NewOpenAIProvider(apiKey, model string, maxTokens uint32, temperature float32) *OpenAIProvider {
	return &OpenAIProvider{
		client:      openai.NewClient(apiKey),
		name:        "openai",
		model:       model,
		maxTokens:   int(maxTokens),
		temperature: temperature,
	}
}

// Name returns the provider name.
func (p *OpenAIProvider) Name() string {
	return p.name
}

// Model returns the current model.
func (p *OpenAIProvider) Model() string {
	return p.model
}

// Chat sends a non-streamed chat completion request.
func (p *OpenAIProvider) Chat(ctx context.Context, messages []ChatMessage, opts *ChatOptions) (LLMResponse, error) {
	req := openai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    convertToOpenAIMessages(messages),
		MaxTokens:   p.maxTokens,
		Temperature: p.temperature,
	}
	applyOpenAIChatOptions(&req, opts)

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return LLMResponse{}, fmt.Errorf("chat completion failed: %w", err)
	}

	content := ""
	var toolCalls []ToolCall
	if len(resp.Choices) > 0 {
		content = resp.Choices[0].Message.Content
		for _, tc := range resp.Choices[0].Message.ToolCalls {
			toolCalls = append(toolCalls, ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: []byte(tc.Function.Arguments),
			})
		}
	}

	usage := &TokenUsage{
		PromptTokens:     uint32(resp.Usage.PromptTokens),
		CompletionTokens: uint32(resp.Usage.CompletionTokens),
		TotalTokens:      uint32(resp.Usage.TotalTokens),
	}

	return LLMResponse{Content: content, ToolCalls: toolCalls, Usage: usage}, nil
}

// Stream opens a streamed chat completion. Reasoning deltas (exposed
// by reasoning-capable openai-compatible models) surface as thinking
// frames; tool-call fragments are reassembled and delivered on the
// terminal frame.
func (p *OpenAIProvider) Stream(ctx context.Context, req StreamRequest) (Stream, error) {
	oaiReq := openai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    convertToOpenAIMessages(req.Messages),
		MaxTokens:   p.maxTokens,
		Temperature: p.temperature,
		Stream:      true,
	}
	if req.Model != "" {
		oaiReq.Model = req.Model
	}
	if req.Temperature != nil {
		oaiReq.Temperature = *req.Temperature
	}
	if req.MaxTokens > 0 {
		oaiReq.MaxTokens = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		oaiReq.Tools = convertToOpenAITools(req.Tools)
	}

	stream, err := p.client.CreateChatCompletionStream(ctx, oaiReq)
	if err != nil {
		return nil, fmt.Errorf("stream creation failed: %w", err)
	}
	return &openaiStream{stream: stream, drafts: make(map[int]*toolCallDraft)}, nil
}

// toolCallDraft accumulates streamed tool-call fragments by index.
type toolCallDraft struct {
	id   string
	name string
	args []byte
}

type openaiStream struct {
	stream *openai.ChatCompletionStream
	drafts map[int]*toolCallDraft
	done   bool
}

// Recv returns the next frame. Tool-call fragments are buffered until
// the upstream stream ends and delivered with the Done frame.
func (s *openaiStream) Recv() (Frame, error) {
	if s.done {
		return Frame{}, io.EOF
	}

	for {
		resp, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			s.done = true
			return Frame{ToolCalls: s.assembled(), Done: true}, nil
		}
		if err != nil {
			return Frame{}, fmt.Errorf("stream recv failed: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}

		delta := resp.Choices[0].Delta
		for _, tc := range delta.ToolCalls {
			s.accumulate(tc)
		}

		frame := Frame{Thinking: delta.ReasoningContent, Content: delta.Content}
		if frame.Empty() {
			continue
		}
		return frame, nil
	}
}

// Close releases the underlying HTTP stream.
func (s *openaiStream) Close() error {
	s.done = true
	s.stream.Close()
	return nil
}

func (s *openaiStream) accumulate(tc openai.ToolCall) {
	idx := 0
	if tc.Index != nil {
		idx = *tc.Index
	}
	draft, ok := s.drafts[idx]
	if !ok {
		draft = &toolCallDraft{}
		s.drafts[idx] = draft
	}
	if tc.ID != "" {
		draft.id = tc.ID
	}
	if tc.Function.Name != "" {
		draft.name = tc.Function.Name
	}
	draft.args = append(draft.args, tc.Function.Arguments...)
}

func (s *openaiStream) assembled() []ToolCall {
	if len(s.drafts) == 0 {
		return nil
	}
	indices := make([]int, 0, len(s.drafts))
	for idx := range s.drafts {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	calls := make([]ToolCall, 0, len(indices))
	for _, idx := range indices {
		draft := s.drafts[idx]
		if draft.name == "" {
			continue
		}
		id := draft.id
		if id == "" {
			id = fmt.Sprintf("call_%d", idx)
		}
		args := draft.args
		if len(args) == 0 {
			args = []byte("{}")
		}
		calls = append(calls, ToolCall{ID: id, Name: draft.name, Arguments: args})
	}
	return calls
}

func applyOpenAIChatOptions(req *openai.ChatCompletionRequest, opts *ChatOptions) {
	if opts == nil {
		return
	}
	if opts.Model != "" {
		req.Model = opts.Model
	}
	if opts.Temperature != nil {
		req.Temperature = *opts.Temperature
	}
	if opts.MaxTokens > 0 {
		req.MaxTokens = opts.MaxTokens
	}
}

// convertToOpenAIMessages converts ChatMessage values, including
// assistant tool calls and tool results, to the wire format.
func convertToOpenAIMessages(messages []ChatMessage) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, len(messages))
	for i, msg := range messages {
		oaiMsg := openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}

		for _, tc := range msg.ToolCalls {
			oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: string(tc.Arguments),
				},
			})
		}

		if msg.ToolCallID != "" {
			oaiMsg.ToolCallID = msg.ToolCallID
		}
		if msg.Role == "tool" && msg.ToolName != "" {
			oaiMsg.Name = msg.ToolName
		}

		result[i] = oaiMsg
	}
	return result
}

// convertToOpenAITools converts tool definitions to OpenAI format.
func convertToOpenAITools(tools []ToolDefinition) []openai.Tool {
	result := make([]openai.Tool, len(tools))
	for i, t := range tools {
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		}
	}
	return result
}

// Verify OpenAIProvider implements Provider
var _ Provider = (*OpenAIProvider)(nil)
