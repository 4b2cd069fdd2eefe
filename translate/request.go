package translate

import (
	"encoding/json"
	"fmt"

	"github.com/jbctechsolutions/inferswitch/canonical"
)

const defaultMaxTokens = 4096

// AnthropicRequestBody marshals req into an Anthropic Messages API request
// body, renaming the model to apiModel (spec.md §4.7: the canonical model
// name is replaced with the backend's concrete api_model before the wire
// body is built).
func AnthropicRequestBody(req canonical.Request, apiModel string) ([]byte, error) {
	wire := anthropicWireRequest{
		Model:         apiModel,
		MaxTokens:     maxTokensOrDefault(req.MaxTokens),
		Temperature:   req.Temperature,
		TopP:          req.TopP,
		TopK:          req.TopK,
		StopSequences: req.StopSequences,
		Stream:        req.Stream,
	}

	for _, m := range req.Messages {
		blocks, err := anthropicBlocksFromCanonical(m.Content)
		if err != nil {
			return nil, err
		}
		content, err := json.Marshal(blocks)
		if err != nil {
			return nil, fmt.Errorf("translate: marshal message content: %w", err)
		}
		wire.Messages = append(wire.Messages, anthropicWireMessage{
			Role:    string(m.Role),
			Content: content,
		})
	}

	if len(req.System) > 0 {
		sysBlocks, err := anthropicBlocksFromCanonical(req.System)
		if err != nil {
			return nil, err
		}
		sys, err := json.Marshal(sysBlocks)
		if err != nil {
			return nil, fmt.Errorf("translate: marshal system prompt: %w", err)
		}
		wire.System = sys
	}

	for _, t := range req.Tools {
		schema := t.InputSchema
		if len(schema) == 0 {
			schema = json.RawMessage("null")
		}
		wire.Tools = append(wire.Tools, anthropicWireTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schema,
		})
	}

	return json.Marshal(wire)
}

func anthropicBlocksFromCanonical(blocks []canonical.ContentBlock) ([]anthropicWireBlock, error) {
	out := make([]anthropicWireBlock, 0, len(blocks))
	for _, b := range blocks {
		switch b.Type {
		case canonical.BlockText:
			out = append(out, anthropicWireBlock{Type: "text", Text: b.Text})
		case canonical.BlockImage:
			out = append(out, anthropicWireBlock{
				Type: "image",
				Source: &anthropicImageSource{
					Type:      "base64",
					MediaType: b.MediaType,
					Data:      b.Data,
				},
			})
		case canonical.BlockToolUse:
			input := b.ToolInput
			if len(input) == 0 {
				input = json.RawMessage("{}")
			}
			out = append(out, anthropicWireBlock{
				Type: "tool_use", ID: b.ToolUseID, Name: b.ToolName, Input: input,
			})
		case canonical.BlockToolResult:
			content, err := json.Marshal(b.ToolResultContent)
			if err != nil {
				return nil, fmt.Errorf("translate: marshal tool_result content: %w", err)
			}
			out = append(out, anthropicWireBlock{
				Type: "tool_result", ToolUseID: b.ToolUseID, Content: json.RawMessage(content), IsError: b.ToolResultIsError,
			})
		default:
			return nil, fmt.Errorf("translate: unknown content block type %q", b.Type)
		}
	}
	return out, nil
}

// OpenAIRequestBody marshals req into an OpenAI Chat Completions request
// body targeting apiModel. Anthropic's separate "system" field is flattened
// into a leading system message (spec.md §4.7 mapping table); tool_use /
// tool_result blocks become assistant tool_calls / tool messages.
func OpenAIRequestBody(req canonical.Request, apiModel string) ([]byte, error) {
	wire := openAIWireRequest{
		Model:       apiModel,
		MaxTokens:   maxTokensOrDefault(req.MaxTokens),
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.StopSequences,
		Stream:      req.Stream,
	}

	if sys := flattenText(req.System); sys != "" {
		wire.Messages = append(wire.Messages, openAIWireMessage{Role: "system", Content: sys})
	}

	for _, m := range req.Messages {
		msgs, err := openAIMessagesFromCanonical(m)
		if err != nil {
			return nil, err
		}
		wire.Messages = append(wire.Messages, msgs...)
	}

	for _, t := range req.Tools {
		var tool openAIWireTool
		tool.Type = "function"
		tool.Function.Name = t.Name
		tool.Function.Description = t.Description
		tool.Function.Parameters = t.InputSchema
		wire.Tools = append(wire.Tools, tool)
	}

	return json.Marshal(wire)
}

// openAIMessagesFromCanonical may expand a single canonical message into
// several OpenAI messages: a tool_result block becomes its own "tool" role
// message, since OpenAI has no inline tool-result content block.
func openAIMessagesFromCanonical(m canonical.Message) ([]openAIWireMessage, error) {
	var text string
	var toolCalls []openAIWireToolCall
	var toolResults []openAIWireMessage

	for _, b := range m.Content {
		switch b.Type {
		case canonical.BlockText:
			if text != "" {
				text += "\n"
			}
			text += b.Text
		case canonical.BlockToolUse:
			args := b.ToolInput
			if len(args) == 0 {
				args = json.RawMessage("{}")
			}
			tc := openAIWireToolCall{ID: b.ToolUseID, Type: "function"}
			tc.Function.Name = b.ToolName
			tc.Function.Arguments = string(args)
			toolCalls = append(toolCalls, tc)
		case canonical.BlockToolResult:
			toolResults = append(toolResults, openAIWireMessage{
				Role: "tool", Content: b.ToolResultContent, ToolCallID: b.ToolUseID,
			})
		case canonical.BlockImage:
			// OpenAI-compatible endpoints vary widely in image support;
			// spec.md §4.7 scopes image translation to Anthropic-only, so
			// we drop it here rather than guess a vendor-specific shape.
		}
	}

	var out []openAIWireMessage
	if text != "" || len(toolCalls) > 0 {
		out = append(out, openAIWireMessage{Role: string(m.Role), Content: text, ToolCalls: toolCalls})
	}
	out = append(out, toolResults...)
	return out, nil
}

// OllamaRequestBody marshals req into an Ollama /api/chat request body.
// Ollama has no native tool-calling or system-block distinction in the
// teacher's integration, so each message carries only its text blocks,
// joined by newlines; tool_use, tool_result and image blocks are dropped.
func OllamaRequestBody(req canonical.Request, apiModel string) ([]byte, error) {
	wire := ollamaWireRequest{
		Model:  apiModel,
		Stream: req.Stream,
		Options: ollamaWireOptions{
			NumPredict: maxTokensOrDefault(req.MaxTokens),
		},
	}
	if req.Temperature != nil {
		wire.Options.Temperature = *req.Temperature
	}

	if sys := flattenText(req.System); sys != "" {
		wire.Messages = append(wire.Messages, ollamaWireMessage{Role: "system", Content: sys})
	}
	for _, m := range req.Messages {
		wire.Messages = append(wire.Messages, ollamaWireMessage{Role: string(m.Role), Content: flattenText(m.Content)})
	}

	return json.Marshal(wire)
}

// AnthropicRequestFromWire parses an inbound Anthropic Messages API request
// body into the canonical model, the mirror of AnthropicRequestBody. System
// content arrives either as a bare string or as a content-block array
// (spec.md §4.7); both shapes are normalized to []ContentBlock.
func AnthropicRequestFromWire(body []byte) (canonical.Request, error) {
	var wire anthropicWireRequest
	if err := json.Unmarshal(body, &wire); err != nil {
		return canonical.Request{}, fmt.Errorf("translate: parsing anthropic request: %w", err)
	}

	req := canonical.Request{
		Model:         wire.Model,
		MaxTokens:     wire.MaxTokens,
		Temperature:   wire.Temperature,
		TopP:          wire.TopP,
		TopK:          wire.TopK,
		StopSequences: wire.StopSequences,
		Stream:        wire.Stream,
	}

	for _, m := range wire.Messages {
		blocks, err := canonicalBlocksFromAnthropicContent(m.Content)
		if err != nil {
			return canonical.Request{}, err
		}
		req.Messages = append(req.Messages, canonical.Message{Role: canonical.Role(m.Role), Content: blocks})
	}

	if len(wire.System) > 0 {
		sys, err := canonicalBlocksFromAnthropicContent(wire.System)
		if err != nil {
			return canonical.Request{}, err
		}
		req.System = sys
	}

	for _, t := range wire.Tools {
		req.Tools = append(req.Tools, canonical.Tool{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema})
	}

	return req, nil
}

// canonicalBlocksFromAnthropicContent parses an Anthropic "content" field,
// which is either a bare JSON string (flattened to a single text block) or a
// content-block array.
func canonicalBlocksFromAnthropicContent(raw json.RawMessage) ([]canonical.ContentBlock, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return []canonical.ContentBlock{{Type: canonical.BlockText, Text: asString}}, nil
	}

	var wireBlocks []anthropicWireBlock
	if err := json.Unmarshal(raw, &wireBlocks); err != nil {
		return nil, fmt.Errorf("translate: parsing anthropic content blocks: %w", err)
	}
	out := make([]canonical.ContentBlock, 0, len(wireBlocks))
	for _, b := range wireBlocks {
		out = append(out, canonicalBlockFromAnthropic(b))
	}
	return out, nil
}

// OpenAIRequestFromWire parses an inbound OpenAI Chat Completions request
// body into the canonical model, the mirror of OpenAIRequestBody. A leading
// "system" role message is split out into Request.System, matching
// Anthropic's separate system field.
func OpenAIRequestFromWire(body []byte) (canonical.Request, error) {
	var wire openAIWireRequest
	if err := json.Unmarshal(body, &wire); err != nil {
		return canonical.Request{}, fmt.Errorf("translate: parsing openai request: %w", err)
	}

	req := canonical.Request{
		Model:         wire.Model,
		MaxTokens:     wire.MaxTokens,
		Temperature:   wire.Temperature,
		TopP:          wire.TopP,
		StopSequences: wire.Stop,
		Stream:        wire.Stream,
	}

	for _, m := range wire.Messages {
		if m.Role == "system" {
			req.System = append(req.System, canonical.ContentBlock{Type: canonical.BlockText, Text: m.Content})
			continue
		}
		req.Messages = append(req.Messages, canonicalMessageFromOpenAI(m))
	}

	for _, t := range wire.Tools {
		req.Tools = append(req.Tools, canonical.Tool{Name: t.Function.Name, Description: t.Function.Description, InputSchema: t.Function.Parameters})
	}

	return req, nil
}

func canonicalMessageFromOpenAI(m openAIWireMessage) canonical.Message {
	if m.Role == "tool" {
		return canonical.Message{
			Role:    canonical.RoleTool,
			Content: []canonical.ContentBlock{{Type: canonical.BlockToolResult, ToolUseID: m.ToolCallID, ToolResultContent: m.Content}},
		}
	}

	var blocks []canonical.ContentBlock
	if m.Content != "" {
		blocks = append(blocks, canonical.ContentBlock{Type: canonical.BlockText, Text: m.Content})
	}
	for _, tc := range m.ToolCalls {
		blocks = append(blocks, canonical.ContentBlock{
			Type: canonical.BlockToolUse, ToolUseID: tc.ID, ToolName: tc.Function.Name,
			ToolInput: json.RawMessage(tc.Function.Arguments),
		})
	}
	return canonical.Message{Role: canonical.Role(m.Role), Content: blocks}
}

func flattenText(blocks []canonical.ContentBlock) string {
	var out string
	for _, b := range blocks {
		if b.Type != canonical.BlockText {
			continue
		}
		if out != "" {
			out += "\n"
		}
		out += b.Text
	}
	return out
}

func maxTokensOrDefault(n int) int {
	if n <= 0 {
		return defaultMaxTokens
	}
	return n
}
