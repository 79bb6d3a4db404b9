// Command cueso-server is the minimal composition root: it resolves
// configuration from the environment, wires a provider, a tool
// catalog, a session store, and the streaming bridge, then serves.
// The provider is selected by name (CUESO_PROVIDER: "anthropic" or
// "openai") rather than hard-coded to one vendor. Configuration is read from environment
// variables only; there is no config file loader.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cueso-tv/cueso/pkg/bridge"
	"github.com/cueso-tv/cueso/pkg/chat"
	"github.com/cueso-tv/cueso/pkg/driver"
	"github.com/cueso-tv/cueso/pkg/ecp"
	"github.com/cueso-tv/cueso/pkg/provider"
	"github.com/cueso-tv/cueso/pkg/provider/anthropic"
	"github.com/cueso-tv/cueso/pkg/provider/openai"
	"github.com/cueso-tv/cueso/pkg/search"
	"github.com/cueso-tv/cueso/pkg/session"
	"github.com/cueso-tv/cueso/pkg/telemetry"
	"github.com/cueso-tv/cueso/pkg/tool"
	"github.com/cueso-tv/cueso/pkg/tool/direct"
	"github.com/cueso-tv/cueso/pkg/tool/remote"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("cueso-server: %v", err)
	}
}

func run() error {
	prov, err := buildProvider()
	if err != nil {
		return fmt.Errorf("build provider: %w", err)
	}

	catalog := tool.NewCatalog()
	if err := registerDirectTools(catalog); err != nil {
		return fmt.Errorf("register direct tools: %w", err)
	}

	remoteExecutor := remote.New()
	if specs := parseRemoteServerSpecs(); len(specs) > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		defs, err := remoteExecutor.Connect(ctx, specs)
		if err != nil {
			return fmt.Errorf("connect remote tool servers: %w", err)
		}
		for _, def := range defs {
			if err := catalog.Register(def, remoteExecutor); err != nil {
				return fmt.Errorf("register remote tool %s: %w", def.Name, err)
			}
		}
		defer remoteExecutor.Close()
	}

	telem, err := telemetry.NewManager(telemetry.Config{ServiceName: "cueso-server"})
	if err != nil {
		return fmt.Errorf("build telemetry manager: %w", err)
	}
	defer telem.Shutdown(context.Background())

	d := driver.New(prov, catalog, telem)
	store := session.NewStore()

	srv := bridge.NewServer(d, store, bridge.Config{
		AllowedOrigins:        parseAllowedOrigins(),
		DefaultSessionConfig:  chat.SessionConfig{SystemPrompt: getEnv("CUESO_SYSTEM_PROMPT", defaultSystemPrompt)},
	})

	addr := getEnv("CUESO_LISTEN_ADDR", ":8787")
	log.Printf("cueso-server: listening on %s", addr)
	return srv.Start(addr)
}

const defaultSystemPrompt = "You help the user control a Roku TV through conversation. " +
	"Use the available tools to find and launch content, inspect device state, and send remote " +
	"key presses. Confirm destructive actions before taking them."

func buildProvider() (provider.Provider, error) {
	switch name := strings.ToLower(getEnv("CUESO_PROVIDER", "anthropic")); name {
	case "anthropic":
		apiKey := os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY is not set")
		}
		return anthropic.NewClient(apiKey), nil
	case "openai":
		apiKey := os.Getenv("OPENAI_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is not set")
		}
		opts := []openai.Option{}
		if base := os.Getenv("OPENAI_BASE_URL"); base != "" {
			opts = append(opts, openai.WithBaseURL(base))
		}
		return openai.NewClient(apiKey, opts...), nil
	default:
		return nil, fmt.Errorf("unknown CUESO_PROVIDER %q", name)
	}
}

func registerDirectTools(catalog *tool.Catalog) error {
	deviceHost := os.Getenv("CUESO_ROKU_HOST")
	if deviceHost == "" {
		log.Printf("cueso-server: CUESO_ROKU_HOST not set, direct Roku tools are disabled")
		return nil
	}
	deviceTimeout := getEnvDuration("CUESO_ROKU_TIMEOUT", 5*time.Second)
	device := ecp.NewClient(deviceHost, deviceTimeout)

	var searcher search.Searcher
	if searchURL := os.Getenv("CUESO_SEARCH_URL"); searchURL != "" {
		searcher = search.NewHTTPSearcher(searchURL, os.Getenv("CUESO_SEARCH_API_KEY"), getEnvDuration("CUESO_SEARCH_TIMEOUT", 10*time.Second))
	}

	executor := direct.New(searcher, device)
	for _, def := range direct.Definitions() {
		if err := catalog.Register(def, executor); err != nil {
			return err
		}
	}
	return nil
}

func parseRemoteServerSpecs() []remote.ServerSpec {
	raw := strings.TrimSpace(os.Getenv("CUESO_MCP_SERVERS"))
	if raw == "" {
		return nil
	}
	var specs []remote.ServerSpec
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, transport, ok := strings.Cut(entry, "=")
		if !ok {
			log.Printf("cueso-server: ignoring malformed CUESO_MCP_SERVERS entry %q", entry)
			continue
		}
		specs = append(specs, remote.ServerSpec{Name: strings.TrimSpace(name), Transport: strings.TrimSpace(transport)})
	}
	return specs
}

func parseAllowedOrigins() []string {
	raw := strings.TrimSpace(os.Getenv("CUESO_ALLOWED_ORIGINS"))
	if raw == "" {
		return nil
	}
	var origins []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return fallback
}
