package translate

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/jbctechsolutions/inferswitch/canonical"
)

// WriteAnthropicEvent serializes ev as a single Anthropic SSE frame
// ("event: <type>\ndata: <json>\n\n") to w, generalizing the teacher's
// writeSSEEvent/build* helpers to the full event taxonomy, including the
// tool_use input_json_delta case the teacher never emitted.
func WriteAnthropicEvent(w io.Writer, ev canonical.Event) error {
	payload, err := anthropicEventPayload(ev)
	if err != nil {
		return err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("translate: marshal anthropic event: %w", err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	return err
}

func anthropicEventPayload(ev canonical.Event) (any, error) {
	switch ev.Type {
	case canonical.EventMessageStart:
		return map[string]any{
			"type": "message_start",
			"message": map[string]any{
				"id": ev.MessageID, "type": "message", "role": "assistant",
				"model": ev.MessageModel, "content": []any{},
				"usage": map[string]int{"input_tokens": 0, "output_tokens": 0},
			},
		}, nil
	case canonical.EventContentBlockStart:
		block := map[string]any{"type": string(ev.BlockType)}
		switch ev.BlockType {
		case canonical.BlockToolUse:
			block["id"] = ev.ToolUseID
			block["name"] = ev.ToolName
			block["input"] = map[string]any{}
		default:
			block["text"] = ""
		}
		return map[string]any{"type": "content_block_start", "index": ev.Index, "content_block": block}, nil
	case canonical.EventContentBlockDelta:
		if ev.DeltaIsToolArgs {
			return map[string]any{
				"type": "content_block_delta", "index": ev.Index,
				"delta": map[string]any{"type": "input_json_delta", "partial_json": ev.PartialJSON},
			}, nil
		}
		return map[string]any{
			"type": "content_block_delta", "index": ev.Index,
			"delta": map[string]any{"type": "text_delta", "text": ev.TextDelta},
		}, nil
	case canonical.EventContentBlockStop:
		return map[string]any{"type": "content_block_stop", "index": ev.Index}, nil
	case canonical.EventMessageDelta:
		return map[string]any{
			"type":  "message_delta",
			"delta": map[string]any{"stop_reason": string(ev.StopReason)},
			"usage": map[string]int{"output_tokens": ev.OutputTokens},
		}, nil
	case canonical.EventMessageStop:
		return map[string]any{"type": "message_stop"}, nil
	case canonical.EventPing:
		return map[string]any{"type": "ping"}, nil
	case canonical.EventError:
		return map[string]any{"type": "error", "error": map[string]string{"message": ev.ErrMessage}}, nil
	default:
		return nil, fmt.Errorf("translate: unknown event type %q", ev.Type)
	}
}

// openAIChunkWriter holds the id/model pair, fixed at construction, that
// stamps every OpenAI-shaped streaming chunk it renders. It keeps no
// per-block state: a tool-argument delta's canonical block index is written
// as the OpenAI tool-call index as-is.
type openAIChunkWriter struct {
	id    string
	model string
}

// NewOpenAIChunkWriter returns a writer that renders canonical events as
// OpenAI Chat Completions streaming chunks, used when a request arrived on
// /v1/chat/completions but was served by an Anthropic-native backend.
func NewOpenAIChunkWriter(requestID, model string) *openAIChunkWriter {
	return &openAIChunkWriter{id: requestID, model: model}
}

// WriteEvent serializes ev as an OpenAI "data: {...}\n\n" chunk to w. A
// message_stop event is rendered as the terminal "data: [DONE]\n\n" frame.
func (cw *openAIChunkWriter) WriteEvent(w io.Writer, ev canonical.Event) error {
	if ev.Type == canonical.EventMessageStop {
		_, err := io.WriteString(w, "data: [DONE]\n\n")
		return err
	}

	chunk := map[string]any{"id": cw.id, "model": cw.model, "object": "chat.completion.chunk"}
	switch ev.Type {
	case canonical.EventContentBlockDelta:
		delta := map[string]any{}
		if ev.DeltaIsToolArgs {
			delta["tool_calls"] = []any{map[string]any{
				"index": ev.Index,
				"function": map[string]any{"arguments": ev.PartialJSON},
			}}
		} else {
			delta["content"] = ev.TextDelta
		}
		chunk["choices"] = []any{map[string]any{"index": 0, "delta": delta}}
	case canonical.EventMessageDelta:
		chunk["choices"] = []any{map[string]any{"index": 0, "delta": map[string]any{}, "finish_reason": openAIFinishReasonFromCanonical(ev.StopReason)}}
	default:
		// message_start/content_block_start/stop/ping/error carry no OpenAI
		// equivalent chunk; nothing is written for these types.
		return nil
	}

	data, err := json.Marshal(chunk)
	if err != nil {
		return fmt.Errorf("translate: marshal openai chunk: %w", err)
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

func openAIFinishReasonFromCanonical(r canonical.FinishReason) string {
	switch r {
	case canonical.FinishMaxTokens:
		return "length"
	case canonical.FinishToolUse:
		return "tool_calls"
	default:
		return "stop"
	}
}
