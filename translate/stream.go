package translate

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/jbctechsolutions/inferswitch/canonical"
)

// StreamState coalesces a provider's raw streaming deltas into canonical
// events. It is stateful across calls because OpenAI-compatible deltas
// arrive keyed by a flat "choice index" that has to be mapped onto
// Anthropic's per-block index space, and because tool-call argument
// fragments are re-emitted as input_json_delta events on the block index
// assigned to their tool-call slot —
// a generalization of the teacher's StreamOpenAIToAnthropic, which only
// ever tracked a single unnamed text block.
type StreamState struct {
	textBlockOpened bool
	textBlockClosed bool
	nextBlockIndex  int
	toolBlockIndex  map[int]int // openai tool-call slot -> assigned block index
	toolBlockOpened map[int]bool
	outputTokens    int
}

func newStreamState() *StreamState {
	return &StreamState{
		nextBlockIndex:  0,
		toolBlockIndex:  map[int]int{},
		toolBlockOpened: map[int]bool{},
	}
}

// ParseAnthropicStream re-emits an upstream Anthropic SSE response as
// canonical events. Since the upstream is already in the canonical event
// taxonomy, this is a near-verbatim parse rather than a translation.
func ParseAnthropicStream(r io.Reader) canonical.EventStream {
	events := make(chan canonical.Event)
	var streamErr error

	go func() {
		defer close(events)
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		var eventName string
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case strings.HasPrefix(line, "event:"):
				eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:"):
				payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
				ev, ok := anthropicEventFromJSON(eventName, []byte(payload))
				if ok {
					events <- ev
				}
			}
		}
		if err := scanner.Err(); err != nil {
			streamErr = fmt.Errorf("translate: reading anthropic stream: %w", err)
		}
	}()

	return canonical.EventStream{Events: events, Err: func() error { return streamErr }}
}

func anthropicEventFromJSON(eventName string, data []byte) (canonical.Event, bool) {
	var raw struct {
		Type    string `json:"type"`
		Index   int    `json:"index"`
		Message struct {
			ID    string `json:"id"`
			Model string `json:"model"`
		} `json:"message"`
		ContentBlock struct {
			Type string `json:"type"`
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"content_block"`
		Delta struct {
			Type        string `json:"type"`
			Text        string `json:"text"`
			PartialJSON string `json:"partial_json"`
			StopReason  string `json:"stop_reason"`
		} `json:"delta"`
		Usage struct {
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
		ErrorField struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return canonical.Event{}, false
	}
	typ := raw.Type
	if typ == "" {
		typ = eventName
	}

	switch canonical.EventType(typ) {
	case canonical.EventMessageStart:
		return canonical.Event{Type: canonical.EventMessageStart, MessageID: raw.Message.ID, MessageModel: raw.Message.Model}, true
	case canonical.EventContentBlockStart:
		bt := canonical.BlockText
		if raw.ContentBlock.Type == "tool_use" {
			bt = canonical.BlockToolUse
		}
		return canonical.Event{Type: canonical.EventContentBlockStart, Index: raw.Index, BlockType: bt, ToolUseID: raw.ContentBlock.ID, ToolName: raw.ContentBlock.Name}, true
	case canonical.EventContentBlockDelta:
		if raw.Delta.Type == "input_json_delta" {
			return canonical.Event{Type: canonical.EventContentBlockDelta, Index: raw.Index, PartialJSON: raw.Delta.PartialJSON, DeltaIsToolArgs: true}, true
		}
		return canonical.Event{Type: canonical.EventContentBlockDelta, Index: raw.Index, TextDelta: raw.Delta.Text}, true
	case canonical.EventContentBlockStop:
		return canonical.Event{Type: canonical.EventContentBlockStop, Index: raw.Index}, true
	case canonical.EventMessageDelta:
		return canonical.Event{Type: canonical.EventMessageDelta, StopReason: anthropicStopReason(raw.Delta.StopReason), OutputTokens: raw.Usage.OutputTokens}, true
	case canonical.EventMessageStop:
		return canonical.Event{Type: canonical.EventMessageStop}, true
	case canonical.EventPing:
		return canonical.Event{Type: canonical.EventPing}, true
	case canonical.EventError:
		return canonical.Event{Type: canonical.EventError, ErrMessage: raw.ErrorField.Message}, true
	default:
		return canonical.Event{}, false
	}
}

// ParseOpenAIStream reads an OpenAI-format "data: {...}\n\n" SSE body and
// coalesces it into canonical events, synthesizing the block-start/stop
// framing OpenAI's wire format omits.
func ParseOpenAIStream(r io.Reader) canonical.EventStream {
	events := make(chan canonical.Event)
	var streamErr error

	go func() {
		defer close(events)
		st := newStreamState()
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		events <- canonical.Event{Type: canonical.EventMessageStart}

		stopReason := canonical.FinishEndTurn
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "[DONE]" {
				break
			}

			var chunk openAIWireChunk
			if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
				continue
			}
			for _, emitted := range st.consumeOpenAIChunk(chunk) {
				events <- emitted
			}
			for _, choice := range chunk.Choices {
				if choice.FinishReason != "" {
					stopReason = openAIFinishReason(choice.FinishReason)
				}
			}
		}
		for _, emitted := range st.closeAllBlocks() {
			events <- emitted
		}
		events <- canonical.Event{Type: canonical.EventMessageDelta, StopReason: stopReason, OutputTokens: st.outputTokens}
		events <- canonical.Event{Type: canonical.EventMessageStop}

		if err := scanner.Err(); err != nil {
			streamErr = fmt.Errorf("translate: reading openai stream: %w", err)
		}
	}()

	return canonical.EventStream{Events: events, Err: func() error { return streamErr }}
}

// consumeOpenAIChunk maps one OpenAI delta chunk onto zero or more canonical
// events, opening the text block or a tool-call block lazily on first use.
func (st *StreamState) consumeOpenAIChunk(chunk openAIWireChunk) []canonical.Event {
	var out []canonical.Event
	for _, choice := range chunk.Choices {
		if choice.Delta.Content != "" {
			if !st.textBlockOpened {
				out = append(out, canonical.Event{Type: canonical.EventContentBlockStart, Index: 0, BlockType: canonical.BlockText})
				st.textBlockOpened = true
				if st.nextBlockIndex == 0 {
					st.nextBlockIndex = 1
				}
			}
			out = append(out, canonical.Event{Type: canonical.EventContentBlockDelta, Index: 0, TextDelta: choice.Delta.Content})
		}

		// A role transition from text to a tool call closes the still-open
		// text block before the tool_use block opens, same as the content
		// framing an Anthropic-native stream already carries.
		if len(choice.Delta.ToolCalls) > 0 && st.textBlockOpened && !st.textBlockClosed {
			out = append(out, canonical.Event{Type: canonical.EventContentBlockStop, Index: 0})
			st.textBlockClosed = true
		}

		for _, tc := range choice.Delta.ToolCalls {
			slot := tc.Index
			idx, seen := st.toolBlockIndex[slot]
			if !seen {
				idx = st.nextBlockIndex
				st.nextBlockIndex++
				st.toolBlockIndex[slot] = idx
			}
			if !st.toolBlockOpened[slot] {
				out = append(out, canonical.Event{Type: canonical.EventContentBlockStart, Index: idx, BlockType: canonical.BlockToolUse, ToolUseID: tc.ID, ToolName: tc.Function.Name})
				st.toolBlockOpened[slot] = true
			}
			if tc.Function.Arguments != "" {
				out = append(out, canonical.Event{Type: canonical.EventContentBlockDelta, Index: idx, PartialJSON: tc.Function.Arguments, DeltaIsToolArgs: true})
			}
		}
	}
	return out
}

func (st *StreamState) closeAllBlocks() []canonical.Event {
	var out []canonical.Event
	if st.textBlockOpened && !st.textBlockClosed {
		out = append(out, canonical.Event{Type: canonical.EventContentBlockStop, Index: 0})
	}
	for slot, idx := range st.toolBlockIndex {
		if st.toolBlockOpened[slot] {
			out = append(out, canonical.Event{Type: canonical.EventContentBlockStop, Index: idx})
		}
	}
	return out
}

// ParseOllamaStream reads Ollama's newline-delimited JSON /api/chat stream
// into canonical events. Ollama carries no tool-call or block framing, so
// everything is emitted on a single text block, matching the teacher's
// StreamOllamaToAnthropic.
func ParseOllamaStream(r io.Reader) canonical.EventStream {
	events := make(chan canonical.Event)
	var streamErr error

	go func() {
		defer close(events)
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		events <- canonical.Event{Type: canonical.EventMessageStart}
		events <- canonical.Event{Type: canonical.EventContentBlockStart, Index: 0, BlockType: canonical.BlockText}

		outputTokens := 0
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				continue
			}
			var chunk ollamaWireChunk
			if err := json.Unmarshal([]byte(line), &chunk); err != nil {
				continue
			}
			if chunk.Done {
				outputTokens = chunk.EvalCount
				break
			}
			if chunk.Message.Content != "" {
				events <- canonical.Event{Type: canonical.EventContentBlockDelta, Index: 0, TextDelta: chunk.Message.Content}
			}
		}

		events <- canonical.Event{Type: canonical.EventContentBlockStop, Index: 0}
		events <- canonical.Event{Type: canonical.EventMessageDelta, StopReason: canonical.FinishEndTurn, OutputTokens: outputTokens}
		events <- canonical.Event{Type: canonical.EventMessageStop}

		if err := scanner.Err(); err != nil {
			streamErr = fmt.Errorf("translate: reading ollama stream: %w", err)
		}
	}()

	return canonical.EventStream{Events: events, Err: func() error { return streamErr }}
}
