// Command parley runs the streaming conversational-agent runtime.
//
// Usage:
//
//	parley serve --config parley.yaml
//	parley validate --config parley.yaml
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/redis/go-redis/v9"

	"github.com/parley-run/parley/pkg/config"
	"github.com/parley-run/parley/pkg/executor"
	"github.com/parley-run/parley/pkg/httpclient"
	"github.com/parley-run/parley/pkg/llms"
	"github.com/parley-run/parley/pkg/logger"
	"github.com/parley-run/parley/pkg/memory"
	"github.com/parley-run/parley/pkg/registry"
	"github.com/parley-run/parley/pkg/sensitive"
	"github.com/parley-run/parley/pkg/server"
	"github.com/parley-run/parley/pkg/tools"
)

// CLI defines the command-line interface.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Serve    ServeCmd    `cmd:"" help:"Start the dialogue server."`
	Validate ValidateCmd `cmd:"" help:"Validate a configuration file."`

	Config    string `short:"c" help:"Path to config file." default:"parley.yaml" type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple or verbose)." default:"simple"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("parley version %s\n", version)
	return nil
}

// ValidateCmd loads and validates a configuration file.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	cfg, err := config.LoadFromFile(cli.Config)
	if err != nil {
		return err
	}
	fmt.Printf("%s is valid: %d model(s), %d agent(s), %d tool(s)\n",
		cli.Config, len(cfg.Models), len(cfg.Agents), len(cfg.Tools))
	return nil
}

// ServeCmd starts the dialogue server.
type ServeCmd struct {
	Port int `help:"Override the configured listen port."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("Shutting down...")
		cancel()
	}()

	cfg, err := config.LoadFromFile(cli.Config)
	if err != nil {
		return err
	}
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Warn("Redis is not reachable yet, continuing", "addr", cfg.Redis.Addr, "error", err)
	}

	store := memory.NewRedisStore(rdb, memory.DefaultHistoryDepth)
	scratch := memory.NewRedisScratchStore(rdb)
	processor := sensitive.NewProcessor(sensitive.NewRedisMappingStore(rdb), 0)

	models, err := buildModels(cfg)
	if err != nil {
		return err
	}

	toolReg, err := buildTools(ctx, cfg)
	if err != nil {
		return err
	}
	slog.Info("Tools registered", "count", toolReg.Count(), "names", strings.Join(toolReg.Names(), ", "))

	resolve := func(agentID, modelID string) (*executor.Executor, error) {
		agent, ok := cfg.Agents[agentID]
		if !ok {
			return nil, fmt.Errorf("agent '%s' not found", agentID)
		}

		deps := executor.Deps{
			Tools:     toolReg,
			Store:     store,
			Scratch:   scratch,
			Sensitive: processor,
		}
		if agent.Mode != config.ModeDeepThink {
			ref := agent.Model
			if modelID != "" {
				ref = modelID
			}
			model, ok := models.Get(ref)
			if !ok {
				return nil, fmt.Errorf("model '%s' not found", ref)
			}
			deps.Model = model
		}
		return executor.New(agent, deps), nil
	}

	srv := server.New(cfg.Server, resolve)
	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Shutdown failed", "error", err)
		}
	}()

	return srv.Start()
}

func buildModels(cfg *config.Config) (*registry.BaseRegistry[llms.Client], error) {
	models := registry.NewBaseRegistry[llms.Client]()
	for name, mc := range cfg.Models {
		provider, err := llms.NewOpenAIProvider(llms.OpenAIConfig{
			BaseURL:     mc.BaseURL,
			Model:       mc.Model,
			APIKey:      mc.APIKey,
			Temperature: mc.Temperature,
			MaxTokens:   mc.MaxTokens,
			Timeout:     time.Duration(mc.Timeout) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("model '%s': %w", name, err)
		}
		if err := models.Register(name, provider); err != nil {
			return nil, err
		}
	}
	return models, nil
}

func buildTools(ctx context.Context, cfg *config.Config) (*tools.Registry, error) {
	reg := tools.NewRegistry()

	for _, tc := range cfg.Tools {
		switch tc.Kind {
		case "local":
			tool, err := buildLocalTool(tc)
			if err != nil {
				return nil, err
			}
			if err := reg.Register(tool); err != nil {
				return nil, err
			}
		case "http":
			tool, err := tools.NewHTTPTool(tc.HTTPDescriptor())
			if err != nil {
				return nil, fmt.Errorf("tool '%s': %w", tc.Name, err)
			}
			if err := reg.Register(tool); err != nil {
				return nil, err
			}
		case "mcp":
			source, err := tools.NewMCPSource(*tc.MCP)
			if err != nil {
				return nil, fmt.Errorf("mcp '%s': %w", tc.MCP.Name, err)
			}
			discovered, err := source.Tools(ctx)
			if err != nil {
				return nil, fmt.Errorf("mcp '%s': %w", tc.MCP.Name, err)
			}
			for _, tool := range discovered {
				if err := reg.Register(tool); err != nil {
					return nil, err
				}
			}
		}
	}
	return reg, nil
}

// buildLocalTool wires a configured entry to one of the built-in local
// tools.
func buildLocalTool(tc config.ToolConfig) (tools.Tool, error) {
	switch tc.Name {
	case "get_time":
		return tools.NewGetTimeTool(nil), nil
	case "wallet_overview":
		if tc.Origin == "" {
			return nil, fmt.Errorf("tool 'wallet_overview': origin is required")
		}
		return tools.NewWalletOverviewTool(walletFetcher(tc.Origin, tc.Path)), nil
	default:
		return nil, fmt.Errorf("unknown local tool '%s'", tc.Name)
	}
}

// walletFetcher fetches a wallet overview from a JSON endpoint.
func walletFetcher(origin, path string) tools.WalletFetcher {
	client := httpclient.New()
	endpoint := strings.TrimRight(origin, "/") + path

	return func(ctx context.Context, address string) (any, error) {
		u := endpoint + "?address=" + url.QueryEscape(address)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}

		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("wallet endpoint returned status %d", resp.StatusCode)
		}

		var overview any
		if err := json.NewDecoder(resp.Body).Decode(&overview); err != nil {
			return nil, fmt.Errorf("failed to decode wallet overview: %w", err)
		}
		return overview, nil
	}
}

func main() {
	if err := config.LoadEnvFiles(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("parley"),
		kong.Description("Streaming conversational-agent runtime."),
		kong.UsageOnError(),
	)

	level, err := logger.ParseLevel(cli.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v, using info\n", err)
		level = slog.LevelInfo
	}

	output := os.Stderr
	if cli.LogFile != "" {
		file, closeFile, err := logger.OpenLogFile(cli.LogFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Could not open log file: %v\n", err)
			os.Exit(1)
		}
		defer closeFile()
		output = file
	}
	logger.Init(level, output, cli.LogFormat)

	kctx.FatalIfErrorf(kctx.Run(&cli))
}
