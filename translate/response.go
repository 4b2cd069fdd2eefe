package translate

import (
	"encoding/json"
	"fmt"

	"github.com/jbctechsolutions/inferswitch/canonical"
)

// AnthropicResponseFromWire parses a raw Anthropic Messages API response
// body into the canonical model. The wire shape already matches canonical
// almost one-to-one (spec.md §4.7): this is mostly a field rename.
func AnthropicResponseFromWire(body []byte) (canonical.Response, error) {
	var wire anthropicWireResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return canonical.Response{}, fmt.Errorf("translate: parsing anthropic response: %w", err)
	}

	blocks := make([]canonical.ContentBlock, 0, len(wire.Content))
	for _, b := range wire.Content {
		blocks = append(blocks, canonicalBlockFromAnthropic(b))
	}

	return canonical.Response{
		ID:         wire.ID,
		Model:      wire.Model,
		Role:       canonical.RoleAssistant,
		Content:    blocks,
		StopReason: anthropicStopReason(wire.StopReason),
		Usage: canonical.Usage{
			InputTokens:  wire.Usage.InputTokens,
			OutputTokens: wire.Usage.OutputTokens,
		},
	}, nil
}

// AnthropicResponseToWire serializes a canonical.Response as an Anthropic
// Messages API response body, the mirror of AnthropicResponseFromWire, used
// by the HTTP edge to answer non-streaming /v1/messages calls (including
// cache hits, which are stored as canonical.Response and never as raw wire
// bytes — spec.md §4.4 "C7 provides the serializer in both directions").
func AnthropicResponseToWire(resp canonical.Response) ([]byte, error) {
	blocks, err := anthropicBlocksFromCanonical(resp.Content)
	if err != nil {
		return nil, err
	}
	wire := anthropicWireResponse{
		ID:         resp.ID,
		Type:       "message",
		Role:       string(resp.Role),
		Model:      resp.Model,
		StopReason: anthropicStopReasonToWire(resp.StopReason),
		Usage:      anthropicWireUsage{InputTokens: resp.Usage.InputTokens, OutputTokens: resp.Usage.OutputTokens},
	}
	for _, b := range blocks {
		wire.Content = append(wire.Content, b)
	}
	return json.Marshal(wire)
}

func anthropicStopReasonToWire(r canonical.FinishReason) string {
	switch r {
	case canonical.FinishMaxTokens:
		return "max_tokens"
	case canonical.FinishToolUse:
		return "tool_use"
	case canonical.FinishStopSequence:
		return "stop_sequence"
	default:
		return "end_turn"
	}
}

// OpenAIResponseToWire serializes a canonical.Response as an OpenAI Chat
// Completions response body, the mirror of OpenAIResponseFromWire.
// requestID becomes the completion id since canonical.Response carries an
// Anthropic-shaped message id, not an OpenAI-shaped completion id.
func OpenAIResponseToWire(resp canonical.Response, requestID string) ([]byte, error) {
	var text string
	var toolCalls []openAIWireToolCall
	for _, b := range resp.Content {
		switch b.Type {
		case canonical.BlockText:
			text += b.Text
		case canonical.BlockToolUse:
			tc := openAIWireToolCall{ID: b.ToolUseID, Type: "function"}
			tc.Function.Name = b.ToolName
			tc.Function.Arguments = string(b.ToolInput)
			toolCalls = append(toolCalls, tc)
		}
	}

	wire := openAIWireResponse{ID: requestID, Model: resp.Model}
	wire.Choices = []struct {
		Message      openAIWireMessage `json:"message"`
		FinishReason string            `json:"finish_reason"`
	}{{
		Message:      openAIWireMessage{Role: "assistant", Content: text, ToolCalls: toolCalls},
		FinishReason: openAIFinishReasonFromCanonical(resp.StopReason),
	}}
	wire.Usage.PromptTokens = resp.Usage.InputTokens
	wire.Usage.CompletionTokens = resp.Usage.OutputTokens

	return json.Marshal(wire)
}

func canonicalBlockFromAnthropic(b anthropicWireBlock) canonical.ContentBlock {
	switch b.Type {
	case "tool_use":
		return canonical.ContentBlock{Type: canonical.BlockToolUse, ToolUseID: b.ID, ToolName: b.Name, ToolInput: b.Input}
	case "tool_result":
		var text string
		_ = json.Unmarshal(b.Content, &text)
		return canonical.ContentBlock{Type: canonical.BlockToolResult, ToolUseID: b.ToolUseID, ToolResultContent: text, ToolResultIsError: b.IsError}
	default:
		return canonical.ContentBlock{Type: canonical.BlockText, Text: b.Text}
	}
}

func anthropicStopReason(raw string) canonical.FinishReason {
	switch raw {
	case "max_tokens":
		return canonical.FinishMaxTokens
	case "tool_use":
		return canonical.FinishToolUse
	case "stop_sequence":
		return canonical.FinishStopSequence
	default:
		return canonical.FinishEndTurn
	}
}

// OpenAIResponseFromWire parses a raw OpenAI Chat Completions response body
// into the canonical model, mapping finish_reason per spec.md §4.7's table
// (stop -> end_turn, length -> max_tokens, tool_calls -> tool_use,
// content_filter -> stop_sequence).
func OpenAIResponseFromWire(body []byte) (canonical.Response, error) {
	var wire openAIWireResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return canonical.Response{}, fmt.Errorf("translate: parsing openai response: %w", err)
	}
	if len(wire.Choices) == 0 {
		return canonical.Response{}, fmt.Errorf("translate: openai response has no choices")
	}
	choice := wire.Choices[0]

	var blocks []canonical.ContentBlock
	if choice.Message.Content != "" {
		blocks = append(blocks, canonical.ContentBlock{Type: canonical.BlockText, Text: choice.Message.Content})
	}
	for _, tc := range choice.Message.ToolCalls {
		blocks = append(blocks, canonical.ContentBlock{
			Type: canonical.BlockToolUse, ToolUseID: tc.ID, ToolName: tc.Function.Name,
			ToolInput: json.RawMessage(tc.Function.Arguments),
		})
	}

	return canonical.Response{
		ID:         wire.ID,
		Model:      wire.Model,
		Role:       canonical.RoleAssistant,
		Content:    blocks,
		StopReason: openAIFinishReason(choice.FinishReason),
		Usage: canonical.Usage{
			InputTokens:  wire.Usage.PromptTokens,
			OutputTokens: wire.Usage.CompletionTokens,
		},
	}, nil
}

func openAIFinishReason(raw string) canonical.FinishReason {
	switch raw {
	case "length":
		return canonical.FinishMaxTokens
	case "tool_calls":
		return canonical.FinishToolUse
	case "content_filter":
		return canonical.FinishStopSequence
	default:
		return canonical.FinishEndTurn
	}
}

// OllamaResponseFromWire parses a single, fully-buffered Ollama /api/chat
// response (the last NDJSON line, where done == true) into the canonical
// model. Ollama reports no structured stop reason, so FinishEndTurn is
// always used, matching the teacher's StreamOllamaToAnthropic which never
// distinguishes stop causes either.
func OllamaResponseFromWire(body []byte) (canonical.Response, error) {
	var wire ollamaWireChunk
	if err := json.Unmarshal(body, &wire); err != nil {
		return canonical.Response{}, fmt.Errorf("translate: parsing ollama response: %w", err)
	}

	var blocks []canonical.ContentBlock
	if wire.Message.Content != "" {
		blocks = append(blocks, canonical.ContentBlock{Type: canonical.BlockText, Text: wire.Message.Content})
	}

	return canonical.Response{
		Role:       canonical.RoleAssistant,
		Content:    blocks,
		StopReason: canonical.FinishEndTurn,
		Usage:      canonical.Usage{OutputTokens: wire.EvalCount},
	}, nil
}
