// Command inferswitch is the process entry point (spec.md §6): it wires the
// Config Resolver, Catalog, Response Cache, Availability Registry,
// Classifier, Router, OAuth token sources, Pipeline, and HTTP edge together
// behind a cobra.Command tree, mirroring the teacher's cmd/main.go
// structure one subcommand at a time.
package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"log/slog"

	"github.com/spf13/cobra"

	"github.com/jbctechsolutions/inferswitch/availability"
	"github.com/jbctechsolutions/inferswitch/backend"
	"github.com/jbctechsolutions/inferswitch/cache"
	"github.com/jbctechsolutions/inferswitch/canonical"
	"github.com/jbctechsolutions/inferswitch/config"
	"github.com/jbctechsolutions/inferswitch/httpapi"
	"github.com/jbctechsolutions/inferswitch/mcp"
	"github.com/jbctechsolutions/inferswitch/oauth"
	"github.com/jbctechsolutions/inferswitch/pipeline"
	"github.com/jbctechsolutions/inferswitch/router"
	"github.com/jbctechsolutions/inferswitch/telemetry"
)

func main() {
	var configPath, catalogDir string

	rootCmd := &cobra.Command{
		Use:   "inferswitch",
		Short: "Content-aware LLM API gateway",
		Long:  "Terminates Anthropic and OpenAI-shaped chat requests and routes them to upstream backends by ordered routing rules, failing over between candidate models.",
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to the JSON config file (default: ./inferswitch.json)")
	rootCmd.PersistentFlags().StringVar(&catalogDir, "catalog", "catalog", "Directory holding the YAML model/tier/task catalog")

	resolveConfigPath := func() string {
		if configPath != "" {
			return configPath
		}
		if _, err := os.Stat("inferswitch.json"); err == nil {
			return "inferswitch.json"
		}
		home, err := os.UserHomeDir()
		if err == nil {
			candidate := filepath.Join(home, ".config", "inferswitch", "config.json")
			if _, err := os.Stat(candidate); err == nil {
				return candidate
			}
		}
		return ""
	}

	rootCmd.AddCommand(
		newServeCmd(resolveConfigPath, &catalogDir),
		newRouteCmd(resolveConfigPath, &catalogDir),
		newBackendsCmd(resolveConfigPath, &catalogDir),
		newCacheCmd(),
		newOAuthCmd(resolveConfigPath),
		newMCPCmd(resolveConfigPath, &catalogDir),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadResolverAndCatalog is the common "read config, read catalog" prologue
// every subcommand except the bare proxy surface needs.
func loadResolverAndCatalog(configPath, catalogDir string) (*config.Resolver, *config.Catalog, error) {
	resolver, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	catalog, err := config.LoadCatalog(catalogDir)
	if err != nil {
		return nil, nil, fmt.Errorf("loading catalog: %w", err)
	}
	return resolver, catalog, nil
}

// telemetryPath mirrors the teacher's filepath.Join(os.TempDir(), ...) choice
// for the SQLite telemetry database location.
func telemetryPath() string {
	return filepath.Join(os.TempDir(), "inferswitch-telemetry.db")
}

// buildTokenSources constructs one oauth.TokenSource per backend declaring
// providers_auth.<name>.oauth (spec.md §9), persisting each to its own file
// under the user config directory. The first one found (preferring
// "anthropic") is also returned as the primary surface /oauth/* exposes.
func buildTokenSources(cfg *config.Config) (map[string]backend.TokenSource, *oauth.TokenSource, error) {
	tokens := make(map[string]backend.TokenSource, len(cfg.ProvidersAuth))
	var primary *oauth.TokenSource

	home, _ := os.UserHomeDir()
	for name, auth := range cfg.ProvidersAuth {
		if auth.OAuth.ClientID == "" {
			continue
		}
		tokenPath := ""
		if home != "" {
			tokenPath = filepath.Join(home, ".config", "inferswitch", "oauth-"+name+".json")
		}
		ts, err := oauth.New(oauth.Config{
			ClientID:    auth.OAuth.ClientID,
			TokenPath:   tokenPath,
			RedirectURL: "http://localhost:1235/oauth/callback",
		})
		if err != nil {
			return nil, nil, fmt.Errorf("constructing oauth token source for %q: %w", name, err)
		}
		tokens[name] = ts
		if primary == nil || name == "anthropic" {
			primary = ts
		}
	}
	return tokens, primary, nil
}

// -----------------------------------------------------------------------
// serve — start the HTTP gateway
// -----------------------------------------------------------------------

func newServeCmd(resolveConfigPath func() string, catalogDir *string) *cobra.Command {
	var port string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			resolver, catalog, err := loadResolverAndCatalog(resolveConfigPath(), *catalogDir)
			if err != nil {
				return err
			}
			cfg := resolver.Snapshot()

			tokens, oauthTS, err := buildTokenSources(cfg)
			if err != nil {
				return err
			}

			respCache := cache.New(cfg.Cache.MaxEntries, time.Duration(cfg.Cache.TTLSeconds)*time.Second)
			avail := availability.New()
			classifier := router.NewClassifier(catalog)
			pl := pipeline.New(resolver, catalog, respCache, avail, classifier, tokens)

			// Telemetry is optional; a failure to open the database degrades
			// to no routing-event recording rather than refusing to serve.
			if tel, err := telemetry.NewCollector(telemetryPath()); err == nil {
				defer tel.Close()
				pl.SetTelemetry(tel)
			} else {
				slog.Warn("telemetry disabled", "error", err)
			}

			srv := httpapi.New(pl, resolver, respCache, avail, tokens, oauthTS)

			addr := ":" + resolvePort(port)
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				fmt.Fprintf(os.Stderr, "binding %s: %v\n", addr, err)
				os.Exit(2)
			}

			return runServer(ln, srv.Handler(), addr)
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "Port to listen on (default: $INFERSWITCH_PORT or 1235)")
	return cmd
}

func resolvePort(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if v := os.Getenv("INFERSWITCH_PORT"); v != "" {
		return v
	}
	return "1235"
}

// runServer blocks until ctx is canceled by SIGINT/SIGTERM (a clean
// shutdown, exit 0) or the HTTP server itself fails (any other error,
// surfaced to main's exit(1) path). Bind failures are handled by the caller
// before runServer is reached, so they can exit(2) distinctly.
func runServer(ln net.Listener, handler http.Handler, addr string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpSrv := &http.Server{Handler: handler}
	slog.Info("inferswitch listening", "addr", addr)

	serveErr := make(chan error, 1)
	go func() { serveErr <- httpSrv.Serve(ln) }()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		slog.Info("inferswitch shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	}
}

// -----------------------------------------------------------------------
// route — dry-run the router without calling upstream
// -----------------------------------------------------------------------

func newRouteCmd(resolveConfigPath func() string, catalogDir *string) *cobra.Command {
	var background, interactive bool
	cmd := &cobra.Command{
		Use:   "route [prompt]",
		Short: "Classify and route a prompt without calling any upstream",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt := strings.Join(args, " ")

			resolver, catalog, err := loadResolverAndCatalog(resolveConfigPath(), *catalogDir)
			if err != nil {
				return err
			}
			snapshot := resolver.Snapshot()

			classifier := router.NewClassifier(catalog)
			avail := availability.New()
			rtr := router.NewRouter(snapshot, catalog, classifier, avail)

			headers := map[string]string{}
			if background {
				headers["x-request-type"] = "background"
			}
			if interactive {
				headers["x-request-type"] = "chat"
			}

			req := canonical.Request{Messages: []canonical.Message{
				{Role: canonical.RoleUser, Content: []canonical.ContentBlock{{Type: canonical.BlockText, Text: prompt}}},
			}}
			class := classifier.Classify(req, headers)

			models := catalog.GetFailoverChain(class.Tier)
			if len(models) == 0 {
				models = catalog.GetTierModels(class.Tier)
			}
			candidates := rtr.ScoreCandidates(class, models)

			fmt.Printf("Route Class:  %s\n", class.RouteClass)
			fmt.Printf("Task Type:    %s\n", class.TaskType)
			fmt.Printf("Tier:         %s\n", class.Tier)
			fmt.Printf("Min Quality:  %.2f\n", class.MinQuality)
			fmt.Printf("Confidence:   %.2f\n", class.Confidence)
			if len(candidates) == 0 {
				fmt.Println("No candidates available")
				return nil
			}
			best := candidates[0]
			fmt.Printf("Backend:      %s\n", best.Backend)
			fmt.Printf("Model:        %s\n", best.Model)
			fmt.Printf("Reason:       %s\n", best.Reason)
			if len(candidates) > 1 {
				fmt.Print("Alternatives: ")
				for i, c := range candidates[1:] {
					if i > 0 {
						fmt.Print(", ")
					}
					fmt.Printf("%s/%s", c.Backend, c.Model)
				}
				fmt.Println()
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&background, "background", false, "Force background route class")
	cmd.Flags().BoolVar(&interactive, "interactive", false, "Force interactive route class")
	return cmd
}

// -----------------------------------------------------------------------
// backends status — health-check every configured backend
// -----------------------------------------------------------------------

func newBackendsCmd(resolveConfigPath func() string, catalogDir *string) *cobra.Command {
	backendsCmd := &cobra.Command{
		Use:   "backends",
		Short: "Inspect configured backends",
	}
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Health-check every configured backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			resolver, _, err := loadResolverAndCatalog(resolveConfigPath(), *catalogDir)
			if err != nil {
				return err
			}
			cfg := resolver.Snapshot()
			tokens, _, err := buildTokenSources(cfg)
			if err != nil {
				return err
			}

			names := make([]string, 0, len(cfg.Backends))
			for name := range cfg.Backends {
				names = append(names, name)
			}
			sort.Strings(names)

			fmt.Printf("%-20s %-8s %s\n", "BACKEND", "OK", "LATENCY")
			for _, name := range names {
				adapter, err := backend.New(name, cfg.Backends[name], tokens[name])
				if err != nil {
					fmt.Printf("%-20s %-8s %s\n", name, "false", err.Error())
					continue
				}
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				start := time.Now()
				healthErr := adapter.Health(ctx)
				elapsed := time.Since(start)
				cancel()
				fmt.Printf("%-20s %-8t %s\n", name, healthErr == nil, elapsed.Round(time.Millisecond))
			}
			return nil
		},
	}
	backendsCmd.AddCommand(statusCmd)
	return backendsCmd
}

// -----------------------------------------------------------------------
// cache {stats,clear} — inspect the response cache
// -----------------------------------------------------------------------

func newCacheCmd() *cobra.Command {
	var addr string
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect the response cache of a running gateway",
	}
	cacheCmd.PersistentFlags().StringVar(&addr, "addr", "http://localhost:1235", "Base URL of a running inferswitch serve process")

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Print /cache/stats from a running gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			var stats map[string]any
			if err := getJSON(addr+"/cache/stats", &stats); err != nil {
				return err
			}
			for _, k := range []string{"size", "hits", "misses", "hit_rate", "ttl", "max_size"} {
				fmt.Printf("%-10s %v\n", k+":", stats[k])
			}
			return nil
		},
	}
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "POST /cache/clear against a running gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := http.Post(addr+"/cache/clear", "application/json", nil)
			if err != nil {
				return fmt.Errorf("clearing cache: %w", err)
			}
			defer resp.Body.Close()
			var out map[string]int
			if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
				return fmt.Errorf("decoding response: %w", err)
			}
			fmt.Printf("Cleared %d entries\n", out["cleared"])
			return nil
		},
	}
	cacheCmd.AddCommand(statsCmd, clearCmd)
	return cacheCmd
}

// getJSON fetches url and decodes its JSON body into v.
func getJSON(url string, v any) error {
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decoding response from %s: %w", url, err)
	}
	return nil
}

// -----------------------------------------------------------------------
// oauth {login,status,logout}
// -----------------------------------------------------------------------

func newOAuthCmd(resolveConfigPath func() string) *cobra.Command {
	var backendName string
	oauthCmd := &cobra.Command{
		Use:   "oauth",
		Short: "Manage OAuth credentials",
	}

	tokenSourceFor := func() (*oauth.TokenSource, error) {
		resolver, err := config.Load(resolveConfigPath())
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		cfg := resolver.Snapshot()
		auth, ok := cfg.ProvidersAuth[backendName]
		if !ok || auth.OAuth.ClientID == "" {
			return nil, fmt.Errorf("no oauth client configured for backend %q", backendName)
		}
		home, _ := os.UserHomeDir()
		tokenPath := filepath.Join(home, ".config", "inferswitch", "oauth-"+backendName+".json")
		return oauth.New(oauth.Config{ClientID: auth.OAuth.ClientID, TokenPath: tokenPath, RedirectURL: "http://localhost:1235/oauth/callback"})
	}

	loginCmd := &cobra.Command{
		Use:   "login",
		Short: "Print the authorize URL to complete an OAuth login",
		RunE: func(cmd *cobra.Command, args []string) error {
			ts, err := tokenSourceFor()
			if err != nil {
				return err
			}
			state := randomToken(16)
			verifier := randomToken(32)
			fmt.Println("Open this URL to authorize:")
			fmt.Println(ts.AuthorizeURL(state, verifier))
			fmt.Printf("\nThen complete the exchange against a running gateway:\n")
			fmt.Printf("  GET /oauth/callback?code=<code>&code_verifier=%s\n", verifier)
			return nil
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Report whether a usable OAuth credential is present",
		RunE: func(cmd *cobra.Command, args []string) error {
			ts, err := tokenSourceFor()
			if err != nil {
				return err
			}
			st := ts.Status()
			fmt.Printf("Authenticated: %t\n", st.Authenticated)
			if st.Authenticated {
				fmt.Printf("Expires At:    %s\n", st.ExpiresAt.Format(time.RFC3339))
			}
			return nil
		},
	}

	logoutCmd := &cobra.Command{
		Use:   "logout",
		Short: "Discard the stored OAuth credential",
		RunE: func(cmd *cobra.Command, args []string) error {
			ts, err := tokenSourceFor()
			if err != nil {
				return err
			}
			if err := ts.Logout(); err != nil {
				return err
			}
			fmt.Println("Logged out.")
			return nil
		},
	}

	oauthCmd.PersistentFlags().StringVar(&backendName, "backend", "anthropic", "Backend name to authenticate")
	oauthCmd.AddCommand(loginCmd, statusCmd, logoutCmd)
	return oauthCmd
}

func randomToken(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}

// -----------------------------------------------------------------------
// mcp — start the stdio MCP server
// -----------------------------------------------------------------------

func newMCPCmd(resolveConfigPath func() string, catalogDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP server (stdio transport)",
		RunE: func(cmd *cobra.Command, args []string) error {
			resolver, catalog, err := loadResolverAndCatalog(resolveConfigPath(), *catalogDir)
			if err != nil {
				return err
			}
			cfg := resolver.Snapshot()
			classifier := router.NewClassifier(catalog)
			avail := availability.New()
			rtr := router.NewRouter(cfg, catalog, classifier, avail)

			// Telemetry is optional; if it fails to open, the MCP server
			// continues without routing-event recording.
			tel, _ := telemetry.NewCollector(telemetryPath())

			srv := mcp.New(cfg, catalog, classifier, rtr, tel)
			return srv.Start()
		},
	}
}
