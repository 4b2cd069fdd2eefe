// Package config implements the Config Resolver (C1): built-in defaults, a
// single JSON configuration file, environment variables, and a documented
// subset of per-request headers are merged into an immutable effective
// configuration snapshot (spec.md §4.1). The model/tier/classification
// catalog consumed by the Router and Classifier lives alongside it in
// catalog.go, loaded from YAML in the teacher's original layout.
package config

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// AuthMode enumerates how an adapter authenticates against a backend.
type AuthMode string

const (
	AuthStaticKey AuthMode = "static_key"
	AuthOAuth     AuthMode = "oauth"
	AuthNone      AuthMode = "none"
)

// BackendKind enumerates the adapter families (spec.md §3 BackendDescriptor).
type BackendKind string

const (
	KindAnthropic    BackendKind = "anthropic"
	KindOpenAICompat BackendKind = "openai-compatible"
	KindOllama       BackendKind = "ollama"
)

// Auth describes how requests to a Backend are authenticated.
type Auth struct {
	Mode   AuthMode `json:"mode"`
	KeyRef string   `json:"key_ref,omitempty"`
}

// Backend is one named upstream configuration (spec.md §3 BackendDescriptor).
type Backend struct {
	Kind           BackendKind `json:"kind"`
	BaseURL        string      `json:"base_url"`
	APIKey         string      `json:"api_key,omitempty"`
	TimeoutSeconds int         `json:"timeout_seconds"`
	Auth           Auth        `json:"auth"`
	RateLimitRPS   float64     `json:"rate_limit_rps,omitempty"`
}

// Timeout returns the backend's call deadline, defaulting to 60s.
func (b Backend) Timeout() time.Duration {
	if b.TimeoutSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(b.TimeoutSeconds) * time.Second
}

// FallbackSpec names the last-resort (backend, model) pair appended to
// every RouteDecision when present (spec.md §4.5 rule 7).
type FallbackSpec struct {
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`
}

// CacheConfig configures the Response Cache (C4).
type CacheConfig struct {
	Enabled    bool `json:"enabled"`
	MaxEntries int  `json:"max_entries"`
	TTLSeconds int  `json:"ttl_seconds"`
}

// AvailabilityConfig configures the Model Availability Registry (C3).
type AvailabilityConfig struct {
	DisableDurationSeconds int `json:"disable_duration_seconds"`
}

// OAuthSpec names the OAuth client for a backend that authenticates via the
// OAuth collaborator.
type OAuthSpec struct {
	ClientID string `json:"client_id,omitempty"`
}

// ProviderAuth wraps the OAuth configuration for one backend name.
type ProviderAuth struct {
	OAuth OAuthSpec `json:"oauth"`
}

// Config is the layered, merged configuration (spec.md §3/§4.1).
//
// RequestBackendOverride and RequestAPIKeyOverride are only ever set on the
// per-request copy returned by WithRequestOverrides; the base snapshot
// returned by Resolver.Snapshot never carries them, and they are never
// populated from the file or environment layer.
type Config struct {
	Backends               map[string]Backend      `json:"backends"`
	ModelProviders         map[string]string       `json:"model_providers"`
	ModelOverrides         map[string]string       `json:"model_overrides"`
	DefaultModelOverride   string                  `json:"default_model_override"`
	DifficultyModels       map[string][]string     `json:"difficulty_models"`
	ExpertModels           map[string][]string     `json:"expert_models"`
	ExpertDefinitions      map[string]string       `json:"expert_definitions"`
	ForceExpertRouting     bool                    `json:"force_expert_routing"`
	ForceDifficultyRouting bool                    `json:"force_difficulty_routing"`
	Fallback               FallbackSpec            `json:"fallback"`
	Cache                  CacheConfig             `json:"cache"`
	ModelAvailability      AvailabilityConfig      `json:"model_availability"`
	ProvidersAuth          map[string]ProviderAuth `json:"providers_auth"`

	RequestBackendOverride string `json:"-"`
	RequestAPIKeyOverride  string `json:"-"`
}

// Defaults returns the built-in configuration layer (spec.md §4.1 "built-in
// defaults"), the lowest-precedence layer in Load.
func Defaults() *Config {
	return &Config{
		Backends:       map[string]Backend{},
		ModelProviders: map[string]string{},
		ModelOverrides: map[string]string{},
		Cache: CacheConfig{
			Enabled:    true,
			MaxEntries: 1000,
			TTLSeconds: 3600,
		},
		ModelAvailability: AvailabilityConfig{
			DisableDurationSeconds: 300,
		},
		ProvidersAuth: map[string]ProviderAuth{},
	}
}

// Resolver merges the layered configuration sources into an effective,
// immutable Config. Snapshot is cheap to call repeatedly and always returns
// the same pointer: config is read-only on the hot path (spec.md §4.1).
type Resolver struct {
	snapshot *Config
}

// Load builds a Resolver from built-in defaults, the JSON file at
// configPath (if it exists — a missing file is not an error, matching the
// teacher's tolerant startup), and environment variables, then validates
// the result. configPath may be empty, in which case only defaults+env
// apply.
func Load(configPath string) (*Resolver, error) {
	cfg := Defaults()

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			data, err := os.ReadFile(configPath)
			if err != nil {
				return nil, fmt.Errorf("reading config file %s: %w", configPath, err)
			}
			var fileCfg Config
			if err := json.Unmarshal(data, &fileCfg); err != nil {
				return nil, fmt.Errorf("parsing config file %s: %w", configPath, err)
			}
			mergeInto(cfg, &fileCfg)
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("stat config file %s: %w", configPath, err)
		}
	}

	applyEnv(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return &Resolver{snapshot: cfg}, nil
}

// Snapshot returns the effective base configuration (defaults+file+env),
// before any per-request header overrides are applied.
func (r *Resolver) Snapshot() *Config {
	return r.snapshot
}

// Documented per-request headers allowed to influence a single request's
// effective config (spec.md §4.1/§6). anthropic-version is consumed
// directly by the httpapi layer, not stored on Config.
const (
	HeaderBackend          = "x-backend"
	HeaderAPIKey           = "x-api-key"
	HeaderAnthropicVersion = "anthropic-version"
)

// WithRequestOverrides returns a shallow copy of base with the documented
// per-request header overrides applied. base is never mutated — callers
// hold a stable reference to the shared snapshot across requests.
func WithRequestOverrides(base *Config, h http.Header) *Config {
	backend := h.Get(HeaderBackend)
	key := h.Get(HeaderAPIKey)
	if backend == "" && key == "" {
		return base
	}

	cp := *base
	if backend != "" {
		cp.RequestBackendOverride = backend
	}
	if key != "" {
		cp.RequestAPIKeyOverride = key
	}
	return &cp
}

func mergeInto(dst, src *Config) {
	if src.Backends != nil {
		if dst.Backends == nil {
			dst.Backends = map[string]Backend{}
		}
		for k, v := range src.Backends {
			dst.Backends[k] = v
		}
	}
	if src.ModelProviders != nil {
		dst.ModelProviders = mergeStringMap(dst.ModelProviders, src.ModelProviders)
	}
	if src.ModelOverrides != nil {
		dst.ModelOverrides = mergeStringMap(dst.ModelOverrides, src.ModelOverrides)
	}
	if src.DefaultModelOverride != "" {
		dst.DefaultModelOverride = src.DefaultModelOverride
	}
	if src.DifficultyModels != nil {
		dst.DifficultyModels = src.DifficultyModels
	}
	if src.ExpertModels != nil {
		dst.ExpertModels = src.ExpertModels
	}
	if src.ExpertDefinitions != nil {
		dst.ExpertDefinitions = src.ExpertDefinitions
	}
	if src.ForceExpertRouting {
		dst.ForceExpertRouting = true
	}
	if src.ForceDifficultyRouting {
		dst.ForceDifficultyRouting = true
	}
	if src.Fallback.Model != "" {
		dst.Fallback = src.Fallback
	}
	if src.Cache.MaxEntries != 0 || src.Cache.TTLSeconds != 0 {
		dst.Cache = src.Cache
	}
	if src.ModelAvailability.DisableDurationSeconds != 0 {
		dst.ModelAvailability = src.ModelAvailability
	}
	if src.ProvidersAuth != nil {
		if dst.ProvidersAuth == nil {
			dst.ProvidersAuth = map[string]ProviderAuth{}
		}
		for k, v := range src.ProvidersAuth {
			dst.ProvidersAuth[k] = v
		}
	}
}

func mergeStringMap(dst, src map[string]string) map[string]string {
	if dst == nil {
		dst = map[string]string{}
	}
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// applyEnv layers environment-variable overrides on top of cfg (spec.md
// §4.1 precedence: env beats file beats defaults).
func applyEnv(cfg *Config) {
	for name, backend := range cfg.Backends {
		envVar := strings.ToUpper(strings.ReplaceAll(name, "-", "_")) + "_API_KEY"
		if v := os.Getenv(envVar); v != "" {
			backend.APIKey = v
			cfg.Backends[name] = backend
		}
	}

	// Well-known credential variables (spec.md §6).
	applyKeyEnv(cfg, "anthropic", "ANTHROPIC_API_KEY")
	applyKeyEnv(cfg, "openai", "OPENAI_API_KEY")
	applyKeyEnv(cfg, "openrouter", "OPENROUTER_API_KEY")

	if v := os.Getenv("OPENROUTER_BASE_URL"); v != "" {
		setBaseURL(cfg, "openrouter", v)
	}
	if v := os.Getenv("LM_STUDIO_BASE_URL"); v != "" {
		setBaseURL(cfg, "lm-studio", v)
	}

	if v := os.Getenv("CACHE_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Cache.Enabled = b
		}
	}
	if v := os.Getenv("CACHE_MAX_ENTRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Cache.MaxEntries = n
		}
	}
	if v := os.Getenv("CACHE_TTL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Cache.TTLSeconds = n
		}
	}
}

func applyKeyEnv(cfg *Config, backendName, envVar string) {
	v := os.Getenv(envVar)
	if v == "" {
		return
	}
	b, ok := cfg.Backends[backendName]
	if !ok {
		return
	}
	b.APIKey = v
	cfg.Backends[backendName] = b
}

func setBaseURL(cfg *Config, backendName, url string) {
	b, ok := cfg.Backends[backendName]
	if !ok {
		return
	}
	b.BaseURL = url
	cfg.Backends[backendName] = b
}

// validate enforces spec.md §4.1's "validation is total" contract: every
// model named in model_providers and the fallback block must resolve to a
// declared backend, and any backend declaring static_key auth must carry a
// credential by the time validation runs.
func validate(cfg *Config) error {
	for model, backendName := range cfg.ModelProviders {
		if _, ok := cfg.Backends[backendName]; !ok {
			return fmt.Errorf("config: model_providers[%q] references unknown backend %q", model, backendName)
		}
	}

	if cfg.Fallback.Provider != "" {
		if _, ok := cfg.Backends[cfg.Fallback.Provider]; !ok {
			return fmt.Errorf("config: fallback.provider references unknown backend %q", cfg.Fallback.Provider)
		}
	}

	for name, b := range cfg.Backends {
		switch b.Auth.Mode {
		case AuthStaticKey:
			if b.APIKey == "" {
				return fmt.Errorf("config: backend %q uses static_key auth but has no api_key", name)
			}
		case AuthOAuth, AuthNone, "":
			// OAuth credentials are supplied by the OAuth collaborator at
			// call time, not validated here; "" is allowed for backends
			// that need no credential at all (e.g. local Ollama).
		default:
			return fmt.Errorf("config: backend %q has unknown auth.mode %q", name, b.Auth.Mode)
		}
	}

	return nil
}
