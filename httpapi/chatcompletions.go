package httpapi

import (
	"io"
	"net/http"

	"github.com/jbctechsolutions/inferswitch/canonical"
	"github.com/jbctechsolutions/inferswitch/pipeline"
	"github.com/jbctechsolutions/inferswitch/translate"
)

// handleChatCompletions implements POST /v1/chat/completions: translate in
// -> canonical -> pipeline -> translate out (spec.md §6), regardless of
// which upstream kind actually served the request — the canonical model is
// what makes this edge-agnostic of backend shape.
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	requestID := "chatcmpl-" + newRequestID()
	if r.Method != http.MethodPost {
		writeOpenAIError(w, requestID, &pipeline.Error{Kind: pipeline.KindBadRequest, Message: "method not allowed"})
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeOpenAIError(w, requestID, &pipeline.Error{Kind: pipeline.KindBadRequest, Message: "failed to read request body"})
		return
	}
	defer r.Body.Close()

	req, err := translate.OpenAIRequestFromWire(body)
	if err != nil {
		writeOpenAIError(w, requestID, &pipeline.Error{Kind: pipeline.KindBadRequest, Message: err.Error()})
		return
	}

	headers := requestHeaders(r)
	out, perr := s.pipeline.Execute(r.Context(), req, headers)
	if perr != nil {
		writeOpenAIError(w, requestID, perr)
		return
	}

	if out.Stream != nil {
		streamOpenAI(w, *out.Stream, requestID, out.FromModel)
		return
	}

	wire, err := translate.OpenAIResponseToWire(*out.Response, requestID)
	if err != nil {
		writeOpenAIError(w, requestID, &pipeline.Error{Kind: pipeline.KindInternalError, Message: err.Error()})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(wire) //nolint:errcheck
}

// streamOpenAI writes a canonical.EventStream as OpenAI "data: {...}\n\n"
// chunks terminated by "data: [DONE]\n\n".
func streamOpenAI(w http.ResponseWriter, stream canonical.EventStream, requestID, model string) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	cw := translate.NewOpenAIChunkWriter(requestID, model)
	for ev := range stream.Events {
		if err := cw.WriteEvent(w, ev); err != nil {
			return
		}
		flusher.Flush()
	}
}
