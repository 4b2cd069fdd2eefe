package config

import (
	"os"
	"path/filepath"
	"testing"
)

const modelsYAML = `
defaults:
  quality_threshold: 0.6
  cost_weight: 0.4
  quality_weight: 0.6
  fallback_model: claude-haiku
tiers:
  premium:
    description: highest quality
    models: [claude-opus, gpt-4o]
  budget:
    description: cheap and fast
    models: [claude-haiku]
failover:
  premium:
    chain: [claude-opus, gpt-4o, claude-haiku]
    retry_on: ["429", "5xx"]
    max_retries: 2
models:
  claude-opus:
    provider: anthropic
    api_model: claude-opus-4
    strengths: [reasoning, coding]
    cost_per_1k_tokens: 0.015
    quality_ceiling: 0.95
  claude-haiku:
    provider: anthropic
    api_model: claude-haiku-4
    strengths: [speed]
    cost_per_1k_tokens: 0.001
    quality_ceiling: 0.7
`

const tasksYAML = `
tasks:
  coding:
    patterns: ["```", "function ", "def "]
    required_strengths: [coding]
    min_quality: 0.7
`

const routeClassesYAML = `
route_classes:
  interactive:
    description: low-latency chat
    default_tier: premium
    latency_budget_ms: 2000
    quality_floor: 0.6
`

func writeCatalogFixtures(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"models.yaml":        modelsYAML,
		"tasks.yaml":         tasksYAML,
		"route_classes.yaml": routeClassesYAML,
	}
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatalf("writing fixture %s: %v", name, err)
		}
	}
	return dir
}

func TestLoadCatalog(t *testing.T) {
	dir := writeCatalogFixtures(t)
	cat, err := LoadCatalog(dir)
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	if len(cat.Models) == 0 {
		t.Error("expected models to be loaded")
	}
	if len(cat.Tasks) == 0 {
		t.Error("expected tasks to be loaded")
	}
	if len(cat.RouteClasses) == 0 {
		t.Error("expected route classes to be loaded")
	}
}

func TestLoadCatalogMissingDirIsNotAnError(t *testing.T) {
	cat, err := LoadCatalog(filepath.Join(t.TempDir(), "nonexistent"))
	if err != nil {
		t.Fatalf("missing catalog dir should not error: %v", err)
	}
	if len(cat.Models) != 0 {
		t.Error("expected empty catalog when no files are present")
	}
}

func TestCatalogModelsHaveRequiredFields(t *testing.T) {
	dir := writeCatalogFixtures(t)
	cat, err := LoadCatalog(dir)
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	for name, m := range cat.Models {
		if m.Provider == "" {
			t.Errorf("model %s missing provider", name)
		}
		if m.APIModel == "" {
			t.Errorf("model %s missing api_model", name)
		}
		if m.QualityCeiling <= 0 {
			t.Errorf("model %s has invalid quality_ceiling", name)
		}
	}
}

func TestCatalogGetFailoverChain(t *testing.T) {
	dir := writeCatalogFixtures(t)
	cat, err := LoadCatalog(dir)
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}

	chain := cat.GetFailoverChain("premium")
	if len(chain) == 0 || chain[0] != "claude-opus" {
		t.Errorf("expected premium chain to start with claude-opus, got %v", chain)
	}

	fallback := cat.GetFailoverChain("no-such-tier")
	if len(fallback) != 1 || fallback[0] != "claude-haiku" {
		t.Errorf("expected fallback to the global default model, got %v", fallback)
	}
}

func TestCatalogGetTierModels(t *testing.T) {
	dir := writeCatalogFixtures(t)
	cat, err := LoadCatalog(dir)
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	for _, tier := range []string{"premium", "budget"} {
		if _, ok := cat.Tiers[tier]; !ok {
			t.Errorf("missing tier: %s", tier)
		}
	}
	if got := cat.GetTierModels("nonexistent"); got != nil {
		t.Errorf("expected nil for unknown tier, got %v", got)
	}
}
