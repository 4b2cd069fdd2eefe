// Package mcp exposes InferSwitch's classifier, router, and telemetry
// collector over the Model Context Protocol using stdio transport, grounded
// on the teacher's mcp/server.go — generalized from the teacher's
// classification-only Router.Route(Classification) call to the new
// candidate-chain Router that operates on a canonical.Request.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jbctechsolutions/inferswitch/canonical"
	"github.com/jbctechsolutions/inferswitch/config"
	"github.com/jbctechsolutions/inferswitch/router"
	"github.com/jbctechsolutions/inferswitch/telemetry"
	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Server wraps the classifier, catalog, router, and telemetry collector and
// registers four tools: route, classify, models, and stats.
type Server struct {
	cfg        *config.Config
	catalog    *config.Catalog
	classifier *router.Classifier
	router     *router.Router
	telemetry  *telemetry.Collector
}

// New constructs a Server from the already-initialized dependencies. The
// caller is responsible for loading config and building the classifier,
// router, and telemetry collector before calling this.
func New(cfg *config.Config, catalog *config.Catalog, classifier *router.Classifier, rtr *router.Router, tel *telemetry.Collector) *Server {
	return &Server{cfg: cfg, catalog: catalog, classifier: classifier, router: rtr, telemetry: tel}
}

// Start registers all tools with a new MCP server and begins serving
// requests over stdio. It blocks until stdin is closed or an error occurs.
func (s *Server) Start() error {
	srv := server.NewMCPServer(
		"inferswitch",
		"0.1.0",
		server.WithToolCapabilities(true),
	)

	srv.AddTool(mcpgo.NewTool("route",
		mcpgo.WithDescription("Classify a prompt and return the optimal (backend, model) routing decision"),
		mcpgo.WithString("prompt",
			mcpgo.Required(),
			mcpgo.Description("The prompt to classify and route"),
		),
		mcpgo.WithString("mode",
			mcpgo.Description("Override route class: interactive, background, or compaction"),
		),
	), s.handleRoute)

	srv.AddTool(mcpgo.NewTool("classify",
		mcpgo.WithDescription("Classify a prompt without routing — returns task type and route class"),
		mcpgo.WithString("prompt",
			mcpgo.Required(),
			mcpgo.Description("The prompt to classify"),
		),
	), s.handleClassify)

	srv.AddTool(mcpgo.NewTool("models",
		mcpgo.WithDescription("List configured models with capabilities and costs"),
		mcpgo.WithString("tier",
			mcpgo.Description("Filter by tier: premium, budget, speed, free"),
		),
	), s.handleModels)

	srv.AddTool(mcpgo.NewTool("stats",
		mcpgo.WithDescription("Show routing statistics and cost savings"),
		mcpgo.WithString("model",
			mcpgo.Description("Filter stats by model name"),
		),
	), s.handleStats)

	return server.ServeStdio(srv)
}

func promptRequest(prompt string) canonical.Request {
	return canonical.Request{
		Messages: []canonical.Message{{
			Role:    canonical.RoleUser,
			Content: []canonical.ContentBlock{{Type: canonical.BlockText, Text: prompt}},
		}},
	}
}

// routeResult is the JSON shape returned by the route tool.
type routeResult struct {
	Backend      string             `json:"backend"`
	Model        string             `json:"model"`
	Reason       string             `json:"reason"`
	RouteClass   string             `json:"route_class"`
	TaskType     string             `json:"task_type"`
	Tier         string             `json:"tier"`
	Alternatives []router.Candidate `json:"alternatives"`
}

// handleRoute classifies the prompt, scores the resulting tier's models, and
// returns the best (backend, model) candidate plus runner-up alternatives.
// An optional "mode" argument overrides the route class detected from
// content by way of the synthesized x-request-type header.
func (s *Server) handleRoute(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	prompt, err := req.RequireString("prompt")
	if err != nil {
		return mcpgo.NewToolResultError(err.Error()), nil
	}

	headers := make(map[string]string)
	if mode := req.GetString("mode", ""); mode != "" {
		headers["x-request-type"] = mode
	}

	creq := promptRequest(prompt)
	classification := s.classifier.Classify(creq, headers)

	tierModels := s.tierOrFailoverModels(classification.Tier)
	var candidates []router.Candidate
	if s.catalog != nil && len(tierModels) > 0 {
		candidates = s.router.ScoreCandidates(classification, tierModels)
	}
	if len(candidates) == 0 {
		return mcpgo.NewToolResultError(fmt.Sprintf("no candidate models for tier %q", classification.Tier)), nil
	}

	best := candidates[0]
	result := routeResult{
		Backend:      best.Backend,
		Model:        best.Model,
		Reason:       best.Reason,
		RouteClass:   classification.RouteClass,
		TaskType:     classification.TaskType,
		Tier:         classification.Tier,
		Alternatives: candidates[1:],
	}

	b, err := json.Marshal(result)
	if err != nil {
		return mcpgo.NewToolResultError(fmt.Sprintf("marshal result: %v", err)), nil
	}
	return mcpgo.NewToolResultText(string(b)), nil
}

func (s *Server) tierOrFailoverModels(tier string) []string {
	if s.catalog == nil {
		return nil
	}
	if models := s.catalog.GetTierModels(tier); len(models) > 0 {
		return models
	}
	return s.catalog.GetFailoverChain(tier)
}

// classifyResult is the JSON shape returned by the classify tool.
type classifyResult struct {
	RouteClass        string   `json:"route_class"`
	TaskType          string   `json:"task_type"`
	Tier              string   `json:"tier"`
	MinQuality        float64  `json:"min_quality"`
	LatencyBudgetMs   int      `json:"latency_budget_ms"`
	RequiredStrengths []string `json:"required_strengths"`
	Confidence        float64  `json:"confidence"`
}

// handleClassify runs the two-layer classifier and returns the result
// without performing any model selection.
func (s *Server) handleClassify(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	prompt, err := req.RequireString("prompt")
	if err != nil {
		return mcpgo.NewToolResultError(err.Error()), nil
	}

	classification := s.classifier.Classify(promptRequest(prompt), nil)

	result := classifyResult{
		RouteClass:        classification.RouteClass,
		TaskType:          classification.TaskType,
		Tier:              classification.Tier,
		MinQuality:        classification.MinQuality,
		LatencyBudgetMs:   classification.LatencyBudgetMs,
		RequiredStrengths: classification.RequiredStrengths,
		Confidence:        classification.Confidence,
	}

	b, err := json.Marshal(result)
	if err != nil {
		return mcpgo.NewToolResultError(fmt.Sprintf("marshal result: %v", err)), nil
	}
	return mcpgo.NewToolResultText(string(b)), nil
}

// modelEntry is the JSON shape for a single model in the models tool
// response.
type modelEntry struct {
	Name           string   `json:"name"`
	Provider       string   `json:"provider"`
	CostPer1kTok   float64  `json:"cost_per_1k_tokens"`
	QualityCeiling float64  `json:"quality_ceiling"`
	Strengths      []string `json:"strengths"`
}

// handleModels returns the list of configured models, optionally filtered by
// tier. When no tier is specified every model in the catalog is returned.
func (s *Server) handleModels(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	if s.catalog == nil {
		return mcpgo.NewToolResultError("no catalog configured"), nil
	}
	tierFilter := req.GetString("tier", "")

	var names []string
	if tierFilter != "" {
		names = s.catalog.GetTierModels(tierFilter)
		if len(names) == 0 {
			return mcpgo.NewToolResultError(fmt.Sprintf("unknown tier: %q", tierFilter)), nil
		}
	} else {
		for name := range s.catalog.Models {
			names = append(names, name)
		}
	}

	entries := make([]modelEntry, 0, len(names))
	for _, name := range names {
		model, ok := s.catalog.Models[name]
		if !ok {
			continue
		}
		entries = append(entries, modelEntry{
			Name:           name,
			Provider:       model.Provider,
			CostPer1kTok:   model.CostPer1kTok,
			QualityCeiling: model.QualityCeiling,
			Strengths:      model.Strengths,
		})
	}

	b, err := json.Marshal(entries)
	if err != nil {
		return mcpgo.NewToolResultError(fmt.Sprintf("marshal result: %v", err)), nil
	}
	return mcpgo.NewToolResultText(string(b)), nil
}

// handleStats returns aggregate routing statistics from the telemetry
// collector. An optional "model" argument scopes TotalRequests and
// TotalCost to that model only.
func (s *Server) handleStats(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	if s.telemetry == nil {
		return mcpgo.NewToolResultError("telemetry collector not available"), nil
	}

	modelFilter := req.GetString("model", "")

	stats, err := s.telemetry.GetStats(modelFilter)
	if err != nil {
		return mcpgo.NewToolResultError(fmt.Sprintf("get stats: %v", err)), nil
	}

	b, err := json.Marshal(stats)
	if err != nil {
		return mcpgo.NewToolResultError(fmt.Sprintf("marshal result: %v", err)), nil
	}
	return mcpgo.NewToolResultText(string(b)), nil
}
