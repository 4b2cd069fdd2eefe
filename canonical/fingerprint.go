package canonical

import (
	"encoding/json"
	"sort"

	"github.com/cespare/xxhash/v2"
)

// fingerprintView is the subset of Request that participates in the cache
// key, serialized with sorted map keys and no insignificant whitespace.
// Metadata, request IDs, timestamps, transport headers, and Stream are
// deliberately excluded (spec.md §3/§4.4): streaming and non-streaming
// requests that are otherwise identical must share a cache entry.
type fingerprintView struct {
	Model         string          `json:"model"`
	Messages      []Message       `json:"messages"`
	System        []ContentBlock  `json:"system"`
	MaxTokens     int             `json:"max_tokens"`
	Temperature   *float64        `json:"temperature"`
	TopP          *float64        `json:"top_p"`
	TopK          *int            `json:"top_k"`
	StopSequences []string        `json:"stop_sequences"`
	Tools         []toolView      `json:"tools"`
}

type toolView struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// Fingerprint computes the deterministic cache key for req. Two requests
// equal in every fingerprinted field produce byte-equal fingerprints
// regardless of mapping key order. Go's encoding/json already sorts map
// keys it marshals directly, but Tool.InputSchema and ContentBlock.ToolInput
// arrive as opaque json.RawMessage — bytes an upstream client could have
// serialized with any key order — so canonicalizeJSON decodes and
// re-encodes those before hashing instead of hashing them verbatim.
// canonical.Request's own fields are already ordered sequences (message
// order is semantically significant and intentionally preserved).
func Fingerprint(req Request) string {
	view := fingerprintView{
		Model:         req.Model,
		Messages:      canonicalMessages(req.Messages),
		System:        canonicalBlocks(nilToEmpty(req.System)),
		MaxTokens:     req.MaxTokens,
		Temperature:   req.Temperature,
		TopP:          req.TopP,
		TopK:          req.TopK,
		StopSequences: nilToEmptyStr(req.StopSequences),
		Tools:         toolViews(req.Tools),
	}

	// encoding/json sorts map keys within struct/map values automatically;
	// our fields are slices/structs so no explicit sort is required beyond
	// normalizing nils to empty slices so "absent" and "empty" canonicalize
	// identically.
	data, err := json.Marshal(view)
	if err != nil {
		// Request fields are all JSON-marshalable primitives/slices/structs;
		// a marshal error here would indicate a programming error upstream.
		panic("canonical: fingerprint marshal: " + err.Error())
	}

	sum := xxhash.Sum64(data)
	return formatHex16(sum)
}

func toolViews(tools []Tool) []toolView {
	out := make([]toolView, 0, len(tools))
	for _, t := range tools {
		out = append(out, toolView{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: canonicalizeJSON(t.InputSchema),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// canonicalMessages deep-copies msgs with every ContentBlock.ToolInput
// re-canonicalized, leaving the message/content ordering untouched since
// that ordering is semantically significant.
func canonicalMessages(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = Message{Role: m.Role, Content: canonicalBlocks(m.Content)}
	}
	return out
}

func canonicalBlocks(blocks []ContentBlock) []ContentBlock {
	out := make([]ContentBlock, len(blocks))
	for i, b := range blocks {
		cb := b
		if cb.ToolInput != nil {
			cb.ToolInput = canonicalizeJSON(cb.ToolInput)
		}
		out[i] = cb
	}
	return out
}

// canonicalizeJSON re-marshals raw into a byte-stable form regardless of the
// source mapping's key order: decoding into interface{} and re-encoding
// relies on encoding/json always emitting object keys sorted lexically. A nil
// or malformed payload canonicalizes to the JSON null literal rather than
// failing the whole fingerprint, since these are already-accepted request
// bytes, not content this function validates.
func canonicalizeJSON(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return json.RawMessage("null")
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return json.RawMessage("null")
	}
	out, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("null")
	}
	return out
}

func nilToEmpty(b []ContentBlock) []ContentBlock {
	if b == nil {
		return []ContentBlock{}
	}
	return b
}

func nilToEmptyStr(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

const hexDigits = "0123456789abcdef"

func formatHex16(v uint64) string {
	buf := make([]byte, 16)
	for i := 15; i >= 0; i-- {
		buf[i] = hexDigits[v&0xf]
		v >>= 4
	}
	return string(buf)
}
