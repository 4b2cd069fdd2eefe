package httpapi

import (
	"io"
	"net/http"
	"strings"

	"github.com/jbctechsolutions/inferswitch/canonical"
	"github.com/jbctechsolutions/inferswitch/pipeline"
	"github.com/jbctechsolutions/inferswitch/translate"
)

// handleMessages implements POST /v1/messages: Anthropic shape in and out,
// streaming via text/event-stream when the body sets "stream": true
// (spec.md §6), grounded on the teacher's handleMessages request lifecycle.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	requestID := newRequestID()
	if r.Method != http.MethodPost {
		writeAnthropicError(w, requestID, &pipeline.Error{Kind: pipeline.KindBadRequest, Message: "method not allowed"})
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeAnthropicError(w, requestID, &pipeline.Error{Kind: pipeline.KindBadRequest, Message: "failed to read request body"})
		return
	}
	defer r.Body.Close()

	req, err := translate.AnthropicRequestFromWire(body)
	if err != nil {
		writeAnthropicError(w, requestID, &pipeline.Error{Kind: pipeline.KindBadRequest, Message: err.Error()})
		return
	}

	headers := requestHeaders(r)
	out, perr := s.pipeline.Execute(r.Context(), req, headers)
	if perr != nil {
		writeAnthropicError(w, requestID, perr)
		return
	}

	if out.Stream != nil {
		streamAnthropic(w, *out.Stream)
		return
	}

	wire, err := translate.AnthropicResponseToWire(*out.Response)
	if err != nil {
		writeAnthropicError(w, requestID, &pipeline.Error{Kind: pipeline.KindInternalError, Message: err.Error()})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(wire) //nolint:errcheck
}

// streamAnthropic writes a canonical.EventStream as Anthropic SSE frames,
// flushing after every event so the client sees deltas as they arrive
// (matching the teacher's writeSSEEvent-then-flush convention).
func streamAnthropic(w http.ResponseWriter, stream canonical.EventStream) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	for ev := range stream.Events {
		if err := translate.WriteAnthropicEvent(w, ev); err != nil {
			return
		}
		flusher.Flush()
	}
}

// handleCountTokens implements POST /v1/messages/count_tokens: {input_tokens: int}.
func (s *Server) handleCountTokens(w http.ResponseWriter, r *http.Request) {
	requestID := newRequestID()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeAnthropicError(w, requestID, &pipeline.Error{Kind: pipeline.KindBadRequest, Message: "failed to read request body"})
		return
	}
	defer r.Body.Close()

	req, err := translate.AnthropicRequestFromWire(body)
	if err != nil {
		writeAnthropicError(w, requestID, &pipeline.Error{Kind: pipeline.KindBadRequest, Message: err.Error()})
		return
	}
	n, perr := s.pipeline.CountTokens(r.Context(), req, requestHeaders(r))
	if perr != nil {
		writeAnthropicError(w, requestID, perr)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"input_tokens": n})
}

// handleChatTemplate implements POST /v1/messages/chat-template: a utility
// endpoint with no upstream call (spec.md §6), echoing the messages
// formatted as a Hugging Face chat-template string.
func (s *Server) handleChatTemplate(w http.ResponseWriter, r *http.Request) {
	requestID := newRequestID()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeAnthropicError(w, requestID, &pipeline.Error{Kind: pipeline.KindBadRequest, Message: "failed to read request body"})
		return
	}
	defer r.Body.Close()

	req, err := translate.AnthropicRequestFromWire(body)
	if err != nil {
		writeAnthropicError(w, requestID, &pipeline.Error{Kind: pipeline.KindBadRequest, Message: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"text": renderChatTemplate(req)})
}

// renderChatTemplate formats a canonical.Request's system prompt and
// messages as a generic Hugging Face-style chat template: one
// "<|role|>\n...<|end|>\n" turn per message, followed by the generation
// prompt for the assistant's next turn.
func renderChatTemplate(req canonical.Request) string {
	var b strings.Builder
	if sys := flattenBlockText(req.System); sys != "" {
		b.WriteString("<|system|>\n")
		b.WriteString(sys)
		b.WriteString("<|end|>\n")
	}
	for _, m := range req.Messages {
		b.WriteString("<|")
		b.WriteString(string(m.Role))
		b.WriteString("|>\n")
		b.WriteString(flattenBlockText(m.Content))
		b.WriteString("<|end|>\n")
	}
	b.WriteString("<|assistant|>\n")
	return b.String()
}

func flattenBlockText(blocks []canonical.ContentBlock) string {
	var b strings.Builder
	for _, blk := range blocks {
		if blk.Type != canonical.BlockText {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(blk.Text)
	}
	return b.String()
}
