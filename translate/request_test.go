package translate

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/jbctechsolutions/inferswitch/canonical"
)

func sampleRequest() canonical.Request {
	return canonical.Request{
		Model:     "claude-3-5-sonnet-20241022",
		System:    []canonical.ContentBlock{{Type: canonical.BlockText, Text: "be terse"}},
		MaxTokens: 512,
		Messages: []canonical.Message{
			{Role: canonical.RoleUser, Content: []canonical.ContentBlock{{Type: canonical.BlockText, Text: "hi"}}},
		},
		Tools: []canonical.Tool{
			{Name: "get_weather", Description: "fetch weather", InputSchema: json.RawMessage(`{"type":"object"}`)},
		},
	}
}

func TestAnthropicRequestBodyRenamesModel(t *testing.T) {
	body, err := AnthropicRequestBody(sampleRequest(), "claude-opus-4")
	if err != nil {
		t.Fatalf("AnthropicRequestBody: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["model"] != "claude-opus-4" {
		t.Errorf("expected renamed model, got %v", decoded["model"])
	}
	if decoded["max_tokens"].(float64) != 512 {
		t.Errorf("expected max_tokens preserved, got %v", decoded["max_tokens"])
	}
}

func TestAnthropicRequestBodyDefaultsMaxTokens(t *testing.T) {
	req := sampleRequest()
	req.MaxTokens = 0
	body, _ := AnthropicRequestBody(req, "claude-opus-4")
	var decoded map[string]any
	json.Unmarshal(body, &decoded)
	if decoded["max_tokens"].(float64) != defaultMaxTokens {
		t.Errorf("expected default max_tokens, got %v", decoded["max_tokens"])
	}
}

func TestOpenAIRequestBodyFlattensSystemIntoMessage(t *testing.T) {
	body, err := OpenAIRequestBody(sampleRequest(), "gpt-4o")
	if err != nil {
		t.Fatalf("OpenAIRequestBody: %v", err)
	}
	if !strings.Contains(string(body), `"role":"system"`) {
		t.Errorf("expected a leading system message, got %s", body)
	}
	if !strings.Contains(string(body), `"model":"gpt-4o"`) {
		t.Errorf("expected renamed model, got %s", body)
	}
}

func TestOpenAIRequestBodyTranslatesToolUseAndResult(t *testing.T) {
	req := sampleRequest()
	req.Messages = append(req.Messages, canonical.Message{
		Role: canonical.RoleAssistant,
		Content: []canonical.ContentBlock{
			{Type: canonical.BlockToolUse, ToolUseID: "call_1", ToolName: "get_weather", ToolInput: json.RawMessage(`{"city":"nyc"}`)},
		},
	}, canonical.Message{
		Role: canonical.RoleTool,
		Content: []canonical.ContentBlock{
			{Type: canonical.BlockToolResult, ToolUseID: "call_1", ToolResultContent: "72F"},
		},
	})

	body, err := OpenAIRequestBody(req, "gpt-4o")
	if err != nil {
		t.Fatalf("OpenAIRequestBody: %v", err)
	}
	s := string(body)
	if !strings.Contains(s, `"tool_calls"`) {
		t.Errorf("expected tool_calls in body: %s", s)
	}
	if !strings.Contains(s, `"role":"tool"`) {
		t.Errorf("expected a tool-role message for the result: %s", s)
	}
}

func TestOllamaRequestBodyRenamesModelAndMapsMaxTokens(t *testing.T) {
	req := sampleRequest()
	body, err := OllamaRequestBody(req, "llama3:70b")
	if err != nil {
		t.Fatalf("OllamaRequestBody: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["model"] != "llama3:70b" {
		t.Errorf("expected renamed model, got %v", decoded["model"])
	}
	opts := decoded["options"].(map[string]any)
	if opts["num_predict"].(float64) != 512 {
		t.Errorf("expected num_predict from max_tokens, got %v", opts["num_predict"])
	}
}

func TestAnthropicRequestFromWireRoundTripsBareStringSystem(t *testing.T) {
	body := []byte(`{"model":"claude-3-5-sonnet","max_tokens":256,"system":"be terse","messages":[{"role":"user","content":"hi"}]}`)
	req, err := AnthropicRequestFromWire(body)
	if err != nil {
		t.Fatalf("AnthropicRequestFromWire: %v", err)
	}
	if req.Model != "claude-3-5-sonnet" || req.MaxTokens != 256 {
		t.Errorf("unexpected top-level fields: %+v", req)
	}
	if len(req.System) != 1 || req.System[0].Text != "be terse" {
		t.Errorf("expected flattened system text block, got %+v", req.System)
	}
	if len(req.Messages) != 1 || req.Messages[0].Content[0].Text != "hi" {
		t.Errorf("unexpected messages: %+v", req.Messages)
	}
}

func TestAnthropicRequestFromWireParsesBlockArrayContent(t *testing.T) {
	body := []byte(`{"model":"claude-3-5-sonnet","max_tokens":256,"messages":[{"role":"user","content":[{"type":"text","text":"hi"},{"type":"tool_result","tool_use_id":"call_1","content":"72F"}]}]}`)
	req, err := AnthropicRequestFromWire(body)
	if err != nil {
		t.Fatalf("AnthropicRequestFromWire: %v", err)
	}
	if len(req.Messages[0].Content) != 2 {
		t.Fatalf("expected two content blocks, got %+v", req.Messages[0].Content)
	}
	if req.Messages[0].Content[1].Type != canonical.BlockToolResult || req.Messages[0].Content[1].ToolResultContent != "72F" {
		t.Errorf("unexpected tool_result block: %+v", req.Messages[0].Content[1])
	}
}

func TestOpenAIRequestFromWireSplitsSystemMessage(t *testing.T) {
	body := []byte(`{"model":"gpt-4o","messages":[{"role":"system","content":"be terse"},{"role":"user","content":"hi"}]}`)
	req, err := OpenAIRequestFromWire(body)
	if err != nil {
		t.Fatalf("OpenAIRequestFromWire: %v", err)
	}
	if len(req.System) != 1 || req.System[0].Text != "be terse" {
		t.Errorf("expected system split out, got %+v", req.System)
	}
	if len(req.Messages) != 1 || req.Messages[0].Content[0].Text != "hi" {
		t.Errorf("unexpected messages: %+v", req.Messages)
	}
}

func TestOpenAIRequestFromWireParsesToolCallsAndResults(t *testing.T) {
	body := []byte(`{"model":"gpt-4o","messages":[
		{"role":"user","content":"weather in nyc?"},
		{"role":"assistant","tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"get_weather","arguments":"{\"city\":\"nyc\"}"}}]},
		{"role":"tool","tool_call_id":"call_1","content":"72F"}
	]}`)
	req, err := OpenAIRequestFromWire(body)
	if err != nil {
		t.Fatalf("OpenAIRequestFromWire: %v", err)
	}
	if len(req.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d: %+v", len(req.Messages), req.Messages)
	}
	if req.Messages[1].Content[0].Type != canonical.BlockToolUse || req.Messages[1].Content[0].ToolName != "get_weather" {
		t.Errorf("unexpected tool_use block: %+v", req.Messages[1].Content)
	}
	if req.Messages[2].Role != canonical.RoleTool || req.Messages[2].Content[0].ToolResultContent != "72F" {
		t.Errorf("unexpected tool message: %+v", req.Messages[2])
	}
}
