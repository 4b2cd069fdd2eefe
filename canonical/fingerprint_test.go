package canonical

import "testing"

func baseRequest() Request {
	temp := 0.7
	return Request{
		Model: "claude-3-5-sonnet-20241022",
		Messages: []Message{
			{Role: RoleUser, Content: []ContentBlock{{Type: BlockText, Text: "hello"}}},
		},
		MaxTokens:   1024,
		Temperature: &temp,
		Metadata:    map[string]any{"user_id": "abc"},
		Stream:      false,
	}
}

func TestFingerprintDeterministic(t *testing.T) {
	a := Fingerprint(baseRequest())
	b := Fingerprint(baseRequest())
	if a != b {
		t.Fatalf("fingerprints differ across identical requests: %s vs %s", a, b)
	}
}

func TestFingerprintIgnoresMetadata(t *testing.T) {
	r1 := baseRequest()
	r2 := baseRequest()
	r2.Metadata = map[string]any{"user_id": "different-user"}

	if Fingerprint(r1) != Fingerprint(r2) {
		t.Error("fingerprint must not depend on Metadata")
	}
}

func TestFingerprintIgnoresStream(t *testing.T) {
	r1 := baseRequest()
	r2 := baseRequest()
	r2.Stream = true

	if Fingerprint(r1) != Fingerprint(r2) {
		t.Error("fingerprint must not depend on Stream")
	}
}

func TestFingerprintSensitiveToModel(t *testing.T) {
	r1 := baseRequest()
	r2 := baseRequest()
	r2.Model = "gpt-4o"

	if Fingerprint(r1) == Fingerprint(r2) {
		t.Error("fingerprint must differ across distinct models")
	}
}

func TestFingerprintSensitiveToMessageOrder(t *testing.T) {
	r1 := baseRequest()
	r1.Messages = []Message{
		{Role: RoleUser, Content: []ContentBlock{{Type: BlockText, Text: "hello"}}},
		{Role: RoleAssistant, Content: []ContentBlock{{Type: BlockText, Text: "hi"}}},
	}
	r2 := baseRequest()
	r2.Messages = []Message{
		{Role: RoleAssistant, Content: []ContentBlock{{Type: BlockText, Text: "hi"}}},
		{Role: RoleUser, Content: []ContentBlock{{Type: BlockText, Text: "hello"}}},
	}

	if Fingerprint(r1) == Fingerprint(r2) {
		t.Error("fingerprint must differ when message order differs")
	}
}

func TestFingerprintToolOrderIndependent(t *testing.T) {
	r1 := baseRequest()
	r1.Tools = []Tool{{Name: "b"}, {Name: "a"}}
	r2 := baseRequest()
	r2.Tools = []Tool{{Name: "a"}, {Name: "b"}}

	if Fingerprint(r1) != Fingerprint(r2) {
		t.Error("tool declaration order should not affect the fingerprint")
	}
}

func TestFingerprintToolSchemaKeyOrderIndependent(t *testing.T) {
	r1 := baseRequest()
	r1.Tools = []Tool{{Name: "get_weather", InputSchema: []byte(`{"city":"nyc","units":"f"}`)}}
	r2 := baseRequest()
	r2.Tools = []Tool{{Name: "get_weather", InputSchema: []byte(`{"units":"f","city":"nyc"}`)}}

	if Fingerprint(r1) != Fingerprint(r2) {
		t.Error("tool input_schema mapping key order should not affect the fingerprint")
	}
}

func TestFingerprintToolInputKeyOrderIndependent(t *testing.T) {
	r1 := baseRequest()
	r1.Messages[0].Content = append(r1.Messages[0].Content, ContentBlock{
		Type: BlockToolUse, ToolName: "get_weather", ToolInput: []byte(`{"city":"nyc","units":"f"}`),
	})
	r2 := baseRequest()
	r2.Messages[0].Content = append(r2.Messages[0].Content, ContentBlock{
		Type: BlockToolUse, ToolName: "get_weather", ToolInput: []byte(`{"units":"f","city":"nyc"}`),
	})

	if Fingerprint(r1) != Fingerprint(r2) {
		t.Error("tool_use content block input mapping key order should not affect the fingerprint")
	}
}
