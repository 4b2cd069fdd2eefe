// Package router implements the Router (C5): resolving a canonical request
// into an ordered, non-empty RouteDecision per spec.md §4.5's eight-rule
// precedence chain, plus the two-layer classifier and prompt-suffix
// injection the chain depends on. Grounded on the teacher's router package,
// generalized from single-best-model scoring to an ordered candidate chain.
package router

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jbctechsolutions/inferswitch/availability"
	"github.com/jbctechsolutions/inferswitch/canonical"
	"github.com/jbctechsolutions/inferswitch/config"
)

// Candidate is one (backend, model) pair in a RouteDecision.
type Candidate struct {
	Backend string
	Model   string
	Reason  string
}

// RouteDecision is the Router's output: an ordered, non-empty list of
// candidates, tried head-first (spec.md §3 Data Model).
type RouteDecision struct {
	Candidates []Candidate
}

// ErrNoRoute is returned when every resolution rule yields nothing.
var ErrNoRoute = fmt.Errorf("router: no_route")

// EnvBackendOverride is the process-wide backend override spec.md §4.5 rule
// 2 names.
const EnvBackendOverride = "INFERSWITCH_BACKEND"

// Router resolves routing decisions against a config snapshot, an optional
// catalog of model/tier/task metadata for tie-break scoring, a classifier
// for expert/difficulty routing, and the live availability registry.
type Router struct {
	cfg        *config.Config
	catalog    *config.Catalog
	classifier *Classifier
	avail      *availability.Registry
}

// NewRouter wires a Router. catalog may be nil when no tiering/scoring
// metadata is configured; avail may be nil to treat every model as always
// available (useful in tests).
func NewRouter(cfg *config.Config, catalog *config.Catalog, classifier *Classifier, avail *availability.Registry) *Router {
	return &Router{cfg: cfg, catalog: catalog, classifier: classifier, avail: avail}
}

// RequestContext carries the per-request inputs the resolution chain needs
// beyond the canonical request itself.
type RequestContext struct {
	Headers map[string]string
}

// Route resolves req.Model (already override-substituted by the caller, per
// spec.md §4.6 step 2) into an ordered RouteDecision using the eight-rule
// chain. now is injected for deterministic availability checks in tests.
func (r *Router) Route(req canonical.Request, rctx RequestContext, now time.Time) (RouteDecision, error) {
	// Rule 1: explicit header override. No fallback list.
	if backend := rctx.Headers[strings.ToLower(config.HeaderBackend)]; backend != "" {
		return RouteDecision{Candidates: []Candidate{{Backend: backend, Model: req.Model, Reason: "x-backend header override"}}}, nil
	}

	// Rule 2: process-wide backend override. Same shape as rule 1.
	if backend := os.Getenv(EnvBackendOverride); backend != "" {
		return RouteDecision{Candidates: []Candidate{{Backend: backend, Model: req.Model, Reason: "INFERSWITCH_BACKEND override"}}}, nil
	}

	// Rule 3: expert routing.
	if r.cfg.ForceExpertRouting && len(r.cfg.ExpertDefinitions) > 0 && r.classifier != nil {
		experts := make([]string, 0, len(r.cfg.ExpertDefinitions))
		for name := range r.cfg.ExpertDefinitions {
			experts = append(experts, name)
		}
		sort.Strings(experts)
		expert := r.classifier.ClassifyExpert(req, experts)
		if models, ok := r.cfg.ExpertModels[expert]; ok {
			if cands := r.availableChain(models, "expert routing: "+expert, now); len(cands) > 0 {
				return RouteDecision{Candidates: cands}, nil
			}
		}
	}

	// Rule 4: legacy difficulty routing.
	if r.cfg.ForceDifficultyRouting && len(r.cfg.DifficultyModels) > 0 && r.classifier != nil {
		bucket := r.classifier.ClassifyDifficulty(req)
		if models, ok := lookupDifficultyBucket(r.cfg.DifficultyModels, bucket); ok {
			if cands := r.availableChain(models, fmt.Sprintf("difficulty bucket %d", bucket), now); len(cands) > 0 {
				return RouteDecision{Candidates: cands}, nil
			}
		}
	}

	// Rule 5: direct model mapping.
	if backend, ok := r.cfg.ModelProviders[req.Model]; ok {
		if r.isAvailable(req.Model, now) {
			return RouteDecision{Candidates: []Candidate{{Backend: backend, Model: req.Model, Reason: "model_providers mapping"}}}, nil
		}
	}

	// Rule 6: pattern matching.
	if backend, ok := patternMatchBackend(req.Model); ok {
		if r.isAvailable(req.Model, now) {
			return RouteDecision{Candidates: []Candidate{{Backend: backend, Model: req.Model, Reason: "pattern match"}}}, nil
		}
	}

	// Rule 7: fallback block.
	if r.cfg.Fallback.Provider != "" && r.cfg.Fallback.Model != "" && r.isAvailable(r.cfg.Fallback.Model, now) {
		return RouteDecision{Candidates: []Candidate{{Backend: r.cfg.Fallback.Provider, Model: r.cfg.Fallback.Model, Reason: "fallback block"}}}, nil
	}

	// Rule 8: exhausted.
	return RouteDecision{}, ErrNoRoute
}

// availableChain filters models down to those currently available, mapping
// each to its backend via model_providers or pattern matching, then orders
// them by weighted cost/quality score (orderByScore) before returning: the
// first becomes the primary, the rest fallbacks.
func (r *Router) availableChain(models []string, reason string, now time.Time) []Candidate {
	var out []Candidate
	for _, model := range models {
		if !r.isAvailable(model, now) {
			continue
		}
		backend, ok := r.cfg.ModelProviders[model]
		if !ok {
			backend, ok = patternMatchBackend(model)
			if !ok {
				continue
			}
		}
		out = append(out, Candidate{Backend: backend, Model: model, Reason: reason})
	}
	r.orderByScore(out)
	return out
}

// orderByScore stable-sorts cands by the same weighted cost/quality score
// ScoreCandidates applies, highest first, so a rule naming several
// equally-available models tries the best-scoring one before falling back
// to the rest rather than preserving the raw config list order. A model
// absent from the catalog scores 0 and sorts after any scored model but
// keeps its relative position among other unscored models.
func (r *Router) orderByScore(cands []Candidate) {
	if r.catalog == nil || len(cands) < 2 {
		return
	}
	maxCost := r.maxCatalogCost()
	scores := make(map[string]float64, len(cands))
	for _, c := range cands {
		if m, ok := r.catalog.Models[c.Model]; ok {
			scores[c.Model] = r.weightedScore(maxCost, m)
		}
	}
	sort.SliceStable(cands, func(i, j int) bool {
		return scores[cands[i].Model] > scores[cands[j].Model]
	})
}

func (r *Router) isAvailable(model string, now time.Time) bool {
	if r.avail == nil {
		return true
	}
	return r.avail.IsAvailable(model, now)
}

// patternMatchBackend implements spec.md §4.5 rule 6: claude-* -> anthropic,
// gpt-* -> openai, plus the implementation-defined extras the pack's other
// backends suggest (OpenRouter's vendor/model slugs, local Ollama tags).
func patternMatchBackend(model string) (string, bool) {
	switch {
	case strings.HasPrefix(model, "claude-"):
		return "anthropic", true
	case strings.HasPrefix(model, "gpt-") || strings.HasPrefix(model, "o1") || strings.HasPrefix(model, "o3"):
		return "openai", true
	case strings.Contains(model, "/"):
		return "openrouter", true
	case strings.HasPrefix(model, "llama") || strings.HasPrefix(model, "mistral") || strings.HasPrefix(model, "qwen"):
		return "ollama", true
	default:
		return "", false
	}
}

// lookupDifficultyBucket resolves an integer bucket against a table keyed by
// either single integers ("3") or inclusive ranges ("0-3"), per spec.md
// §4.5 rule 4. Among overlapping ranges containing the bucket, the one with
// the highest lower bound wins; which of two keys with the same lower bound
// wins is not defined.
func lookupDifficultyBucket(table map[string][]string, bucket int) ([]string, bool) {
	type match struct {
		lo, hi int
		models []string
	}
	var best *match
	for key, models := range table {
		lo, hi, ok := parseBucketKey(key)
		if !ok || bucket < lo || bucket > hi {
			continue
		}
		m := match{lo: lo, hi: hi, models: models}
		if best == nil || lo > best.lo {
			best = &m
		}
	}
	if best == nil {
		return nil, false
	}
	return best.models, true
}

func parseBucketKey(key string) (lo, hi int, ok bool) {
	if strings.Contains(key, "-") {
		parts := strings.SplitN(key, "-", 2)
		if len(parts) != 2 {
			return 0, 0, false
		}
		lo, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
		hi, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err1 != nil || err2 != nil {
			return 0, 0, false
		}
		return lo, hi, true
	}
	n, err := strconv.Atoi(strings.TrimSpace(key))
	if err != nil {
		return 0, 0, false
	}
	return n, n, true
}

// ScoreCandidates orders a bucket of qualifying models by the teacher's
// weighted cost/quality score (router/route.go's original Route), used
// outside the resolution chain to rank alternatives inside a tier for
// diagnostics. The chain's own tie-breaking is orderByScore, which shares
// the same weightedScore helper.
func (r *Router) ScoreCandidates(class Classification, models []string) []Candidate {
	if r.catalog == nil {
		out := make([]Candidate, 0, len(models))
		for _, m := range models {
			out = append(out, Candidate{Model: m})
		}
		return out
	}

	maxCost := r.maxCatalogCost()

	type scored struct {
		name  string
		score float64
	}
	var candidates []scored
	for _, name := range models {
		m, ok := r.catalog.Models[name]
		if !ok || m.QualityCeiling < class.MinQuality || !hasStrengths(m.Strengths, class.RequiredStrengths) {
			continue
		}
		candidates = append(candidates, scored{name: name, score: r.weightedScore(maxCost, m)})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].name < candidates[j].name
	})

	out := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		backend, _ := r.cfg.ModelProviders[c.name]
		out = append(out, Candidate{Backend: backend, Model: c.name, Reason: "scored"})
	}
	return out
}

// maxCatalogCost returns the highest cost_per_1k_tok across the catalog, used
// to normalize cost into a 0-1 score alongside quality_ceiling. A catalog
// with no cost data (all zero) normalizes against 1.0 so cost_score is 0
// rather than dividing by zero.
func (r *Router) maxCatalogCost() float64 {
	max := 0.0
	for _, m := range r.catalog.Models {
		if m.CostPer1kTok > max {
			max = m.CostPer1kTok
		}
	}
	if max == 0 {
		max = 1.0
	}
	return max
}

// weightedScore is the teacher's cost_weight/quality_weight blend: higher
// quality_ceiling and lower cost_per_1k_tok (relative to maxCost) both push
// the score up.
func (r *Router) weightedScore(maxCost float64, m config.CatalogModel) float64 {
	costScore := 1.0 - (m.CostPer1kTok / maxCost)
	cw := r.catalog.CatalogDefaults.CostWeight
	qw := r.catalog.CatalogDefaults.QualityWeight
	return cw*costScore + qw*m.QualityCeiling
}

// hasStrengths reports whether modelStrengths contains every element of
// required. An empty required slice always returns true.
func hasStrengths(modelStrengths, required []string) bool {
	if len(required) == 0 {
		return true
	}
	set := make(map[string]bool, len(modelStrengths))
	for _, s := range modelStrengths {
		set[s] = true
	}
	for _, need := range required {
		if !set[need] {
			return false
		}
	}
	return true
}

// ApplyModelOverride implements spec.md §4.5's "model overrides applied
// before rule evaluation": model_overrides[model] wins, else
// default_model_override substitutes any model with no explicit mapping.
func ApplyModelOverride(cfg *config.Config, model string) string {
	if override, ok := cfg.ModelOverrides[model]; ok && override != "" {
		return override
	}
	if cfg.DefaultModelOverride != "" {
		return cfg.DefaultModelOverride
	}
	return model
}
