package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Catalog is the model/tier/task/route-class metadata the Router and
// Classifier use for weighted intra-bucket scoring, failover chain
// construction, and prompt-suffix injection (spec.md §4.5/§9 Design Notes).
// It is loaded from YAML, distinct from the JSON-backed primary Config
// (spec.md §4.1): the Catalog describes the *shape* of the model space
// (cost, quality, strengths, classification patterns), while Config
// describes *where requests go* (backends, explicit provider mappings,
// cache/availability tuning). This split mirrors the teacher's original
// models.yaml/tasks.yaml/route_classes.yaml trio, generalized to a named
// type so it can sit alongside the new JSON Config without a naming clash.
type Catalog struct {
	CatalogDefaults CatalogDefaults         `yaml:"defaults"`
	Tiers           map[string]Tier         `yaml:"tiers"`
	Failover        map[string]FailoverSpec `yaml:"failover"`
	Models          map[string]CatalogModel `yaml:"models"`
	Tasks           map[string]TaskSpec     `yaml:"tasks"`
	RouteClasses    map[string]RouteClass   `yaml:"route_classes"`
}

// CatalogDefaults holds the global scoring weights and fallback model used
// when no more specific rule applies (spec.md §4.5 rule 7).
type CatalogDefaults struct {
	QualityThreshold float64 `yaml:"quality_threshold"`
	CostWeight       float64 `yaml:"cost_weight"`
	QualityWeight    float64 `yaml:"quality_weight"`
	FallbackModel    string  `yaml:"fallback_model"`
}

// Tier names a named bucket of models (e.g. "premium", "budget") consulted
// when difficulty-based routing selects a tier rather than an explicit
// model list.
type Tier struct {
	Description string   `yaml:"description"`
	Models      []string `yaml:"models"`
}

// FailoverSpec is the ordered chain of models tried for a tier once the
// primary candidate is unavailable or fails (spec.md §4.6).
type FailoverSpec struct {
	Chain      []string `yaml:"chain"`
	RetryOn    []string `yaml:"retry_on"`
	MaxRetries int      `yaml:"max_retries"`
}

// CatalogModel is per-model metadata used for tie-break scoring within a
// routing candidate bucket and for prompt-suffix injection (teacher's
// router/prompt.go InjectSuffix).
type CatalogModel struct {
	Provider       string   `yaml:"provider"`
	APIModel       string   `yaml:"api_model"`
	BaseURL        string   `yaml:"base_url,omitempty"`
	Strengths      []string `yaml:"strengths"`
	Weaknesses     []string `yaml:"weaknesses"`
	CostPer1kTok   float64  `yaml:"cost_per_1k_tokens"`
	AvgLatencyMs   int      `yaml:"avg_latency_ms"`
	QualityCeiling float64  `yaml:"quality_ceiling"`
	MaxContext     int      `yaml:"max_context"`
	PromptSuffix   *string  `yaml:"prompt_suffix"`
}

// TaskSpec is a pattern-matched task type used by the Classifier's second
// layer (spec.md §9 Design Notes: classification stays an in-process,
// regex-driven capability rather than an external opaque service).
type TaskSpec struct {
	Patterns          []string `yaml:"patterns"`
	RequiredStrengths []string `yaml:"required_strengths"`
	MinQuality        float64  `yaml:"min_quality"`
}

// RouteClass is a header/content-detected request class (e.g.
// "interactive", "batch") used by the Classifier's first layer.
type RouteClass struct {
	Description     string          `yaml:"description"`
	Detection       DetectionConfig `yaml:"detection"`
	DefaultTier     string          `yaml:"default_tier"`
	LatencyBudgetMs int             `yaml:"latency_budget_ms"`
	QualityFloor    float64         `yaml:"quality_floor"`
}

// DetectionConfig lists the signals that identify a RouteClass.
type DetectionConfig struct {
	Stdin                bool     `yaml:"stdin,omitempty"`
	Flags                []string `yaml:"flags,omitempty"`
	Headers              []string `yaml:"headers,omitempty"`
	Env                  []string `yaml:"env,omitempty"`
	ContentPatterns      []string `yaml:"content_patterns,omitempty"`
	SystemPromptPatterns []string `yaml:"system_prompt_patterns,omitempty"`
}

// LoadCatalog reads the three YAML files from catalogDir and merges them
// into a single Catalog. A missing directory (no catalog configured) is not
// an error: the Router and Classifier fall back to the primary Config's
// model_providers/expert_definitions and a single default route class.
func LoadCatalog(catalogDir string) (*Catalog, error) {
	cat := &Catalog{}

	modelsFile := filepath.Join(catalogDir, "models.yaml")
	if _, err := os.Stat(modelsFile); err == nil {
		if err := loadYAML(modelsFile, cat); err != nil {
			return nil, fmt.Errorf("loading models.yaml: %w", err)
		}
	}

	var tasksWrapper struct {
		Tasks map[string]TaskSpec `yaml:"tasks"`
	}
	tasksFile := filepath.Join(catalogDir, "tasks.yaml")
	if _, err := os.Stat(tasksFile); err == nil {
		if err := loadYAML(tasksFile, &tasksWrapper); err != nil {
			return nil, fmt.Errorf("loading tasks.yaml: %w", err)
		}
		cat.Tasks = tasksWrapper.Tasks
	}

	var rcWrapper struct {
		RouteClasses map[string]RouteClass `yaml:"route_classes"`
	}
	rcFile := filepath.Join(catalogDir, "route_classes.yaml")
	if _, err := os.Stat(rcFile); err == nil {
		if err := loadYAML(rcFile, &rcWrapper); err != nil {
			return nil, fmt.Errorf("loading route_classes.yaml: %w", err)
		}
		cat.RouteClasses = rcWrapper.RouteClasses
	}

	return cat, nil
}

func loadYAML(path string, target interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, target)
}

// GetFailoverChain returns the ordered list of model names to try for a
// tier. If the tier has no explicit failover spec, the global fallback
// model is returned as a single-element chain.
func (c *Catalog) GetFailoverChain(tier string) []string {
	if f, ok := c.Failover[tier]; ok {
		return f.Chain
	}
	if c.CatalogDefaults.FallbackModel == "" {
		return nil
	}
	return []string{c.CatalogDefaults.FallbackModel}
}

// GetTierModels returns the primary model list for a tier, or nil if the
// tier does not exist.
func (c *Catalog) GetTierModels(tier string) []string {
	if t, ok := c.Tiers[tier]; ok {
		return t.Models
	}
	return nil
}
