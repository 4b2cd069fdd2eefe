// Package pipeline implements the Request Pipeline (C6), the gateway's
// orchestrator: validate, apply overrides, consult the cache, route, and
// iterate candidates with failover per spec.md §4.6. Grounded on the
// teacher's router/failover.go ExecuteWithFailover for the cascading-attempt
// shape, generalized into the spec's exact recovery rules (disable vs.
// failover vs. surface-immediately) and its "no bytes forwarded yet" commit
// rule for streaming.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/jbctechsolutions/inferswitch/availability"
	"github.com/jbctechsolutions/inferswitch/backend"
	"github.com/jbctechsolutions/inferswitch/cache"
	"github.com/jbctechsolutions/inferswitch/canonical"
	"github.com/jbctechsolutions/inferswitch/config"
	"github.com/jbctechsolutions/inferswitch/router"
	"github.com/jbctechsolutions/inferswitch/telemetry"
)

// Kind is the pipeline-level error taxonomy: every backend.ErrorKind plus
// the two outcomes only the pipeline itself can produce (spec.md §7).
type Kind string

const (
	KindBadRequest          Kind = "bad_request"
	KindAuthFailed          Kind = "auth_failed"
	KindNoRoute             Kind = "no_route"
	KindRateLimited         Kind = "rate_limited"
	KindInsufficientCredits Kind = "insufficient_credits"
	KindUpstreamError       Kind = "upstream_error"
	KindNetworkError        Kind = "network_error"
	KindTimeout             Kind = "timeout"
	KindCanceled            Kind = "canceled"
	KindInternalError       Kind = "internal_error"
)

// Error is the typed failure the pipeline surfaces to its caller (httpapi),
// carrying enough detail to build the Anthropic/OpenAI error envelope and,
// when known, the candidate that produced it for structured logging
// (spec.md §9 expansion: slog fields kind/backend/model/request_id).
type Error struct {
	Kind    Kind
	Message string
	Err     error
	Backend string
	Model   string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("pipeline: %s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("pipeline: %s", e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// severityRank orders Kinds by §4.6's exhaustion priority, most severe
// first: auth_failed > bad_request > rate_limited/insufficient_credits >
// upstream_error > network_error > timeout > no_route.
var severityRank = map[Kind]int{
	KindAuthFailed:          0,
	KindBadRequest:          1,
	KindRateLimited:         2,
	KindInsufficientCredits: 2,
	KindUpstreamError:       3,
	KindNetworkError:        4,
	KindTimeout:             5,
	KindNoRoute:             6,
	KindCanceled:            7,
	KindInternalError:       8,
}

func moreSevere(a, b *Error) *Error {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	if severityRank[a.Kind] <= severityRank[b.Kind] {
		return a
	}
	return b
}

func fromBackendErr(err error, cand router.Candidate) *Error {
	var be *backend.Error
	if errors.As(err, &be) {
		return &Error{Kind: Kind(be.Kind), Message: be.Message, Err: err, Backend: cand.Backend, Model: cand.Model}
	}
	return &Error{Kind: KindUpstreamError, Message: err.Error(), Err: err, Backend: cand.Backend, Model: cand.Model}
}

// maxCacheBytes bounds the streaming cache-admission buffer (spec.md §5
// Backpressure: "implementation default: 1 MiB per response").
const maxCacheBytes = 1 << 20

// Outcome is what Execute hands back to the HTTP edge: either a resolved
// unary Response or a live EventStream, never both.
type Outcome struct {
	Response    *canonical.Response
	Stream      *canonical.EventStream
	CacheHit    bool
	FromBackend string
	FromModel   string
}

// Pipeline wires together the cache, availability registry, classifier, and
// per-request config/adapters that every incoming request flows through.
type Pipeline struct {
	resolver   *config.Resolver
	catalog    *config.Catalog
	cache      *cache.Cache
	avail      *availability.Registry
	classifier *router.Classifier
	tokens     map[string]backend.TokenSource
	telemetry  *telemetry.Collector
	now        func() time.Time
}

// New constructs a Pipeline. tokens maps backend name to its OAuth token
// source for backends configured with auth.mode == oauth; entries may be
// omitted for static_key/none backends.
func New(resolver *config.Resolver, catalog *config.Catalog, respCache *cache.Cache, avail *availability.Registry, classifier *router.Classifier, tokens map[string]backend.TokenSource) *Pipeline {
	return &Pipeline{
		resolver:   resolver,
		catalog:    catalog,
		cache:      respCache,
		avail:      avail,
		classifier: classifier,
		tokens:     tokens,
		now:        time.Now,
	}
}

// SetTelemetry attaches a routing-event sink recorded alongside every
// successful Execute outcome. Optional: a nil collector (the default)
// means Execute simply skips recording.
func (p *Pipeline) SetTelemetry(tel *telemetry.Collector) {
	p.telemetry = tel
}

// recordTelemetry writes one RoutingEvent for a successful candidate,
// classifying req a second time purely for the route_class/task_type/tier
// labels telemetry groups on — the router itself doesn't thread
// Classification back out of Route. A failure here never affects the
// response already decided; telemetry is a sidecar, not part of the request
// path's success/failure contract.
func (p *Pipeline) recordTelemetry(req canonical.Request, headers map[string]string, cand router.Candidate, started time.Time, worst *Error) {
	if p.telemetry == nil {
		return
	}
	class := p.classifier.Classify(req, headers)

	cost := 0.0
	if p.catalog != nil {
		if m, ok := p.catalog.Models[cand.Model]; ok {
			cost = m.CostPer1kTok
		}
	}

	eventID := uuid.New().String()
	_ = p.telemetry.RecordRouting(telemetry.RoutingEvent{
		ID:            eventID,
		RouteClass:    class.RouteClass,
		TaskType:      class.TaskType,
		Tier:          class.Tier,
		Confidence:    class.Confidence,
		Backend:       cand.Backend,
		SelectedModel: cand.Model,
		Reason:        cand.Reason,
		LatencyMs:     int(time.Since(started).Milliseconds()),
		EstimatedCost: cost,
	})
	if worst != nil && worst.Model != "" && worst.Model != cand.Model {
		_ = p.telemetry.RecordFailover(eventID, worst.Model, cand.Model)
	}
}

// Execute runs the full C6 algorithm for one request. headers carries the
// lower-cased per-request override headers (x-backend, x-api-key,
// anthropic-version) already extracted by the HTTP edge.
func (p *Pipeline) Execute(ctx context.Context, req canonical.Request, headers map[string]string) (Outcome, *Error) {
	if err := validate(req); err != nil {
		return Outcome{}, err
	}

	cfg := p.effectiveConfig(headers)
	req.Model = router.ApplyModelOverride(cfg, req.Model)

	now := p.now()
	fingerprint := canonical.Fingerprint(req)

	if cfg.Cache.Enabled {
		if entry, ok := p.cache.Get(fingerprint, now); ok {
			var resp canonical.Response
			if err := json.Unmarshal(entry.ResponseBytes, &resp); err == nil {
				out := Outcome{Response: &resp, CacheHit: true}
				if req.Stream {
					stream := synthesizeEventStream(resp)
					out.Stream = &stream
				}
				return out, nil
			}
		}
	}

	rt := router.NewRouter(cfg, p.catalog, p.classifier, p.avail)
	decision, err := rt.Route(req, router.RequestContext{Headers: headers}, now)
	if err != nil {
		return Outcome{}, &Error{Kind: KindNoRoute, Message: "no route for model " + req.Model}
	}

	var worst *Error
	for _, cand := range decision.Candidates {
		backendCfg, ok := backendConfigFor(cfg, cand.Backend)
		if !ok {
			worst = moreSevere(worst, &Error{Kind: KindInternalError, Message: "unknown backend " + cand.Backend, Backend: cand.Backend, Model: cand.Model})
			continue
		}

		adapter, err := backend.New(cand.Backend, backendCfg, p.tokens[cand.Backend])
		if err != nil {
			worst = moreSevere(worst, &Error{Kind: KindInternalError, Message: err.Error(), Err: err, Backend: cand.Backend, Model: cand.Model})
			continue
		}

		candReq := req.Clone()
		candReq.Model = cand.Model
		if suffix := rt.InjectSuffix(cand.Model, ""); suffix != "" {
			candReq.System = append(candReq.System, canonical.ContentBlock{Type: canonical.BlockText, Text: suffix})
		}

		if req.Stream {
			out, cerr, done := p.tryStreamCandidate(ctx, adapter, cand, candReq, cfg, fingerprint)
			if done {
				if cerr == nil {
					p.recordTelemetry(req, headers, cand, now, worst)
				}
				return out, cerr
			}
			worst = moreSevere(worst, cerr)
			continue
		}

		out, cerr, done := p.tryUnaryCandidate(ctx, adapter, cand, candReq, cfg, fingerprint)
		if done {
			if cerr == nil {
				p.recordTelemetry(req, headers, cand, now, worst)
			}
			return out, cerr
		}
		worst = moreSevere(worst, cerr)
	}

	if worst == nil {
		worst = &Error{Kind: KindNoRoute, Message: "all candidates exhausted"}
	}
	return Outcome{}, worst
}

// CountTokens resolves req to its first routable candidate and asks that
// candidate's adapter for a best-effort token count (spec.md §4.2
// count_tokens), without touching the cache or failing over on error: a
// count_tokens call never admits to the response cache and spec.md draws no
// failover table for it, so the first candidate's result (or error) is
// final.
func (p *Pipeline) CountTokens(ctx context.Context, req canonical.Request, headers map[string]string) (int, *Error) {
	if req.Model == "" {
		return 0, &Error{Kind: KindBadRequest, Message: "model is required"}
	}
	if len(req.Messages) == 0 {
		return 0, &Error{Kind: KindBadRequest, Message: "messages must be non-empty"}
	}

	cfg := p.effectiveConfig(headers)
	req.Model = router.ApplyModelOverride(cfg, req.Model)

	rt := router.NewRouter(cfg, p.catalog, p.classifier, p.avail)
	decision, err := rt.Route(req, router.RequestContext{Headers: headers}, p.now())
	if err != nil {
		return 0, &Error{Kind: KindNoRoute, Message: "no route for model " + req.Model}
	}

	cand := decision.Candidates[0]
	backendCfg, ok := backendConfigFor(cfg, cand.Backend)
	if !ok {
		return 0, &Error{Kind: KindInternalError, Message: "unknown backend " + cand.Backend, Backend: cand.Backend, Model: cand.Model}
	}
	adapter, err := backend.New(cand.Backend, backendCfg, p.tokens[cand.Backend])
	if err != nil {
		return 0, &Error{Kind: KindInternalError, Message: err.Error(), Err: err, Backend: cand.Backend, Model: cand.Model}
	}

	candReq := req.Clone()
	candReq.Model = cand.Model
	n, cerr := adapter.CountTokens(ctx, candReq)
	if cerr != nil {
		return 0, fromBackendErr(cerr, cand)
	}
	return n, nil
}

// tryUnaryCandidate calls one candidate's unary Chat. done reports whether
// the candidate loop should stop (success, or a non-failover error class).
func (p *Pipeline) tryUnaryCandidate(ctx context.Context, adapter backend.Adapter, cand router.Candidate, req canonical.Request, cfg *config.Config, fingerprint string) (Outcome, *Error, bool) {
	resp, err := adapter.Chat(ctx, req)
	if err != nil {
		perr := fromBackendErr(err, cand)
		return p.handleCandidateFailure(perr, cand.Model)
	}

	if cfg.Cache.Enabled {
		if data, merr := json.Marshal(resp); merr == nil {
			p.cache.Put(fingerprint, data, "application/json", p.now())
		}
	}
	return Outcome{Response: &resp, FromBackend: cand.Backend, FromModel: cand.Model}, nil, true
}

// tryStreamCandidate calls ChatStream and peeks the first event before
// committing, per spec.md §4.6's "failover permitted only if no bytes have
// yet been forwarded" rule: a failure to obtain any event at all is treated
// identically to a failed unary call and may still fail over; once one
// event has been read, this candidate's outcome is final.
func (p *Pipeline) tryStreamCandidate(ctx context.Context, adapter backend.Adapter, cand router.Candidate, req canonical.Request, cfg *config.Config, fingerprint string) (Outcome, *Error, bool) {
	stream, err := adapter.ChatStream(ctx, req)
	if err != nil {
		perr := fromBackendErr(err, cand)
		return p.handleCandidateFailure(perr, cand.Model)
	}

	first, ok := <-stream.Events
	if !ok {
		// Stream closed before producing a single event: no bytes reached
		// the client yet, so this is still a failover-eligible failure.
		if streamErr := stream.Err(); streamErr != nil {
			return p.handleCandidateFailure(fromBackendErr(streamErr, cand), cand.Model)
		}
		return p.handleCandidateFailure(&Error{Kind: KindUpstreamError, Message: "empty stream", Backend: cand.Backend, Model: cand.Model}, cand.Model)
	}

	// Committed: forward everything from here on, regardless of later errors.
	out := make(chan canonical.Event, 8)
	var streamErr error
	go func() {
		defer close(out)
		var buf []canonical.Event
		bufBytes := 0
		admit := cfg.Cache.Enabled

		emit := func(ev canonical.Event) {
			out <- ev
			if admit {
				bufBytes += len(ev.TextDelta) + len(ev.PartialJSON) + len(ev.ErrMessage)
				if bufBytes > maxCacheBytes {
					admit = false
					buf = nil
				} else {
					buf = append(buf, ev)
				}
			}
		}

		emit(first)
		cleanStop := first.Type == canonical.EventMessageStop
		for ev := range stream.Events {
			emit(ev)
			if ev.Type == canonical.EventMessageStop {
				cleanStop = true
			}
		}
		streamErr = stream.Err()

		if admit && cleanStop && streamErr == nil {
			if resp := reconstructResponse(buf); resp != nil {
				if data, merr := json.Marshal(*resp); merr == nil {
					p.cache.Put(fingerprint, data, "application/json", p.now())
				}
			}
		}
	}()

	result := canonical.EventStream{
		Events: out,
		Err:    func() error { return streamErr },
	}
	return Outcome{Stream: &result, FromBackend: cand.Backend, FromModel: cand.Model}, nil, true
}

// handleCandidateFailure applies spec.md §4.6's recovery table: disable on
// rate_limited/insufficient_credits and continue, surface immediately on
// auth_failed/bad_request/canceled, or failover without disabling on
// upstream_error/network_error/timeout.
func (p *Pipeline) handleCandidateFailure(perr *Error, model string) (Outcome, *Error, bool) {
	switch perr.Kind {
	case KindRateLimited, KindInsufficientCredits:
		p.avail.Disable(model, p.now(), availability.DefaultDisableDuration)
		return Outcome{}, perr, false
	case KindAuthFailed, KindBadRequest:
		return Outcome{}, perr, true
	case KindCanceled:
		return Outcome{}, perr, true
	default:
		return Outcome{}, perr, false
	}
}

// effectiveConfig merges the process config snapshot with per-request
// header overrides (x-backend, x-api-key), per spec.md §4.1.
func (p *Pipeline) effectiveConfig(headers map[string]string) *config.Config {
	snapshot := p.resolver.Snapshot()
	h := make(http.Header, len(headers))
	for k, v := range headers {
		h.Set(k, v)
	}
	return config.WithRequestOverrides(snapshot, h)
}

// backendConfigFor resolves the Backend definition for name, applying the
// per-request x-api-key override (spec.md §4.1) when present.
func backendConfigFor(cfg *config.Config, name string) (config.Backend, bool) {
	b, ok := cfg.Backends[name]
	if !ok {
		return config.Backend{}, false
	}
	if cfg.RequestAPIKeyOverride != "" {
		b.APIKey = cfg.RequestAPIKeyOverride
	}
	return b, true
}

func validate(req canonical.Request) *Error {
	if req.MaxTokens <= 0 {
		return &Error{Kind: KindBadRequest, Message: "max_tokens must be a positive integer"}
	}
	if req.Model == "" {
		return &Error{Kind: KindBadRequest, Message: "model is required"}
	}
	if len(req.Messages) == 0 {
		return &Error{Kind: KindBadRequest, Message: "messages must be non-empty"}
	}
	return nil
}

// synthesizeEventStream reconstructs a full Anthropic event sequence from a
// cached unary Response, for streaming requests that hit the cache (spec.md
// §4.4: "re-emitted as a streaming event sequence if the client asked for
// streaming"). All events are produced synchronously before the channel is
// closed, since a cache hit has no upstream latency to interleave with.
func synthesizeEventStream(resp canonical.Response) canonical.EventStream {
	events := make(chan canonical.Event, len(resp.Content)*3+3)

	events <- canonical.Event{Type: canonical.EventMessageStart, MessageID: resp.ID, MessageModel: resp.Model}
	for i, blk := range resp.Content {
		events <- canonical.Event{Type: canonical.EventContentBlockStart, Index: i, BlockType: blk.Type, ToolUseID: blk.ToolUseID, ToolName: blk.ToolName}
		switch blk.Type {
		case canonical.BlockText:
			events <- canonical.Event{Type: canonical.EventContentBlockDelta, Index: i, TextDelta: blk.Text}
		case canonical.BlockToolUse:
			events <- canonical.Event{Type: canonical.EventContentBlockDelta, Index: i, PartialJSON: string(blk.ToolInput), DeltaIsToolArgs: true}
		}
		events <- canonical.Event{Type: canonical.EventContentBlockStop, Index: i}
	}
	events <- canonical.Event{Type: canonical.EventMessageDelta, StopReason: resp.StopReason, OutputTokens: resp.Usage.OutputTokens}
	events <- canonical.Event{Type: canonical.EventMessageStop}
	close(events)

	return canonical.EventStream{Events: events, Err: func() error { return nil }}
}

// reconstructResponse rebuilds the unary-equivalent Response from a buffered
// event sequence, for streaming-cache admission on clean termination
// (spec.md §4.6 step 5). Returns nil if the buffer doesn't describe a
// complete message (missing message_start, or no blocks).
func reconstructResponse(events []canonical.Event) *canonical.Response {
	var resp canonical.Response
	blocks := map[int]*canonical.ContentBlock{}
	order := []int{}
	sawStart := false

	for _, ev := range events {
		switch ev.Type {
		case canonical.EventMessageStart:
			sawStart = true
			resp.ID = ev.MessageID
			resp.Model = ev.MessageModel
			resp.Role = canonical.RoleAssistant
		case canonical.EventContentBlockStart:
			if _, ok := blocks[ev.Index]; !ok {
				order = append(order, ev.Index)
			}
			blocks[ev.Index] = &canonical.ContentBlock{Type: ev.BlockType, ToolUseID: ev.ToolUseID, ToolName: ev.ToolName}
		case canonical.EventContentBlockDelta:
			b, ok := blocks[ev.Index]
			if !ok {
				continue
			}
			if ev.DeltaIsToolArgs {
				b.ToolInput = append(b.ToolInput, []byte(ev.PartialJSON)...)
			} else {
				b.Text += ev.TextDelta
			}
		case canonical.EventMessageDelta:
			resp.StopReason = ev.StopReason
			resp.Usage.OutputTokens = ev.OutputTokens
		}
	}

	if !sawStart || len(order) == 0 {
		return nil
	}
	for _, idx := range order {
		resp.Content = append(resp.Content, *blocks[idx])
	}
	return &resp
}
