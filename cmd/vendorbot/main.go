// Vendorbot is a WhatsApp assistant for marketplace vendors.
//
// It receives Twilio WhatsApp webhooks, runs each message through a
// tool-using agent loop backed by the WooCommerce/Dokan REST API, and
// replies on the same channel. Configuration is loaded from a single
// YAML file discovered automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	vendorbot serve                          Start the webhook and API server
//	vendorbot init [dir]                     Initialize a working directory with defaults
//	vendorbot ask [-identity +E164] <text>   Run one message through the agent
//	vendorbot version                        Print version and build information
//	vendorbot -o json version                Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/nugget/vendorbot/internal/actionlog"
	"github.com/nugget/vendorbot/internal/agent"
	"github.com/nugget/vendorbot/internal/api"
	"github.com/nugget/vendorbot/internal/buildinfo"
	"github.com/nugget/vendorbot/internal/commerce"
	"github.com/nugget/vendorbot/internal/config"
	"github.com/nugget/vendorbot/internal/health"
	"github.com/nugget/vendorbot/internal/llm"
	"github.com/nugget/vendorbot/internal/marketing"
	"github.com/nugget/vendorbot/internal/memory"
	"github.com/nugget/vendorbot/internal/telemetry"
	"github.com/nugget/vendorbot/internal/tools"
	"github.com/nugget/vendorbot/internal/usage"
	"github.com/nugget/vendorbot/internal/whatsapp"
)

// defaultAskIdentity is the sender used by "vendorbot ask" when no
// -identity is given.
const defaultAskIdentity = "+10000000000"

// main constructs the OS-level environment and delegates to [run], so
// the whole lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the vendorbot command. Structured
// logs go to stdout, except for ask where stdout carries the reply and
// logs go to stderr. Arguments are parsed by hand to keep flag's
// package-level state out of tests.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "ask":
		identity, text, err := parseAskArgs(cmdArgs)
		if err != nil {
			return err
		}
		return runAsk(ctx, stdout, stderr, configPath, outputFmt, identity, text)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.BuildInfo()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Vendorbot - WhatsApp assistant for marketplace vendors")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: vendorbot [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Start the webhook and API server")
	fmt.Fprintln(w, "  init [dir]   Initialize working directory with defaults (default: .)")
	fmt.Fprintln(w, "  ask          Run one message through the agent (for testing)")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Ask flags:")
	fmt.Fprintln(w, "  -identity <+E164> Sender phone number (default: "+defaultAskIdentity+")")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/vendorbot/config.yaml, /etc/vendorbot/config.yaml")
	return nil
}

// parseAskArgs splits "ask" arguments into the sender identity and the
// message text.
func parseAskArgs(args []string) (identity, text string, err error) {
	identity = defaultAskIdentity
	var words []string
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-identity" && i+1 < len(args):
			identity = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-identity="):
			identity = strings.TrimPrefix(args[i], "-identity=")
		default:
			words = append(words, args[i])
		}
	}
	if len(words) == 0 {
		return "", "", errors.New("usage: vendorbot ask [-identity +E164] <message>")
	}
	identity = whatsapp.Identity(identity)
	if identity == "" {
		return "", "", errors.New("ask: -identity must not be empty")
	}
	return identity, strings.Join(words, " "), nil
}

// runAsk processes a single message for identity through the full
// bridge, printing the reply instead of sending it. The conversation is
// persisted like any other, so repeated asks share history.
func runAsk(ctx context.Context, stdout, stderr io.Writer, configPath, outputFmt, identity, text string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	// Logs go to stderr so stdout carries only the reply.
	logger := config.NewLogger(stderr, level, cfg.LogFormat)

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	reply, err := a.bridge.Handle(ctx, whatsapp.Message{Identity: identity, Text: text})
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}

	if outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(reply)
	}
	fmt.Fprintln(stdout, whatsapp.Format(reply.Text))
	return nil
}

// runServe is the primary operating mode: it loads config, opens the
// databases, wires the agent and the WhatsApp bridge, starts the HTTP
// server, and blocks until a shutdown signal arrives.
//
// The shutdown sequence is:
//  1. SIGINT or SIGTERM cancels the context
//  2. The HTTP server drains in-flight requests
//  3. Webhook deliveries still running are awaited
//  4. Dependency probes stop
//  5. Pending spans are flushed and databases closed via defers
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := config.NewLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting Vendorbot", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Validate has already vetted the level.
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	logger = config.NewLogger(stdout, level, cfg.LogFormat)

	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"model", cfg.Anthropic.Model,
		"commerce", cfg.Commerce.BaseURL,
		"whatsapp", cfg.WhatsApp.Enabled,
	)

	shutdownTracing, err := telemetry.Init(ctx, cfg.Telemetry, logger)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("trace flush failed", "error", err)
		}
	}()

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	monitor := health.NewMonitor(health.Options{}, logger)
	monitor.Watch(ctx, "commerce", a.commerce.Ping)

	var webhook *whatsapp.WebhookHandler
	if cfg.WhatsApp.Enabled {
		authToken := ""
		if cfg.WhatsApp.ValidateSignature {
			authToken = cfg.WhatsApp.AuthToken
		} else {
			logger.Warn("twilio signature validation disabled")
		}
		webhook = whatsapp.NewWebhookHandler(whatsapp.WebhookConfig{
			Bridge:         a.bridge,
			AuthToken:      authToken,
			PublicURL:      cfg.WhatsApp.PublicURL,
			ProcessTimeout: time.Duration(cfg.WhatsApp.ProcessTimeoutSec) * time.Second,
			Logger:         logger,
		})
		logger.Info("whatsapp webhook enabled", "from", cfg.WhatsApp.FromNumber)
	}

	srvCfg := api.Config{
		Address:       cfg.Listen.Address,
		Port:          cfg.Listen.Port,
		APIKey:        cfg.Listen.APIKey,
		Chat:          a.bridge,
		Actions:       a.actions,
		Usage:         a.usage,
		Conversations: a.store,
		Health:        monitor,
		Logger:        logger,
	}
	if webhook != nil {
		srvCfg.Webhook = webhook
	}
	if cfg.Listen.APIKey == "" {
		logger.Warn("listen.api_key not set, /v1 endpoints are unauthenticated")
	}
	server := api.NewServer(srvCfg)

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
	}()

	err = server.Start(ctx)
	if webhook != nil {
		logger.Info("waiting for in-flight deliveries")
		webhook.Wait()
	}
	stop()
	monitor.Wait()
	if err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	logger.Info("Vendorbot stopped")
	return nil
}

// app holds the components shared by serve and ask.
type app struct {
	store    *memory.SQLiteStore
	actions  *actionlog.Store
	usage    *usage.Store
	commerce *commerce.Client
	loop     *agent.Loop
	bridge   *whatsapp.Bridge
}

// newApp opens the databases and wires the agent behind a WhatsApp
// bridge. The bridge only sends when WhatsApp is enabled.
func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	store, err := memory.NewSQLiteStore(filepath.Join(cfg.DataDir, "vendorbot.db"))
	if err != nil {
		return nil, fmt.Errorf("open conversation store: %w", err)
	}
	a := &app{store: store}

	a.actions, err = actionlog.NewStore(store.DB())
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open action log: %w", err)
	}

	a.usage, err = usage.NewStore(filepath.Join(cfg.DataDir, "usage.db"))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open usage store: %w", err)
	}

	a.commerce = commerce.New(commerce.Config{
		BaseURL:        cfg.Commerce.BaseURL,
		ConsumerKey:    cfg.Commerce.ConsumerKey,
		ConsumerSecret: cfg.Commerce.ConsumerSecret,
		Timeout:        time.Duration(cfg.Commerce.TimeoutSec) * time.Second,
	}, logger)

	llmClient := llm.NewAnthropicClient(cfg.Anthropic.APIKey, logger,
		llm.WithBaseURL(cfg.Anthropic.BaseURL),
		llm.WithMaxTokens(cfg.Anthropic.MaxTokens),
		llm.WithPingModel(cfg.Anthropic.Model),
	)

	dispatcher, err := tools.NewDispatcher(tools.Deps{
		Commerce: a.commerce,
		Store:    store,
		Ads:      marketing.NewGenerator(llmClient, cfg.Anthropic.Model, logger),
		Log:      a.actions,
		Logger:   logger,
		Timeout:  cfg.Agent.ToolTimeout(),
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create tool dispatcher: %w", err)
	}

	a.loop = agent.NewLoop(agent.Config{
		Model:        cfg.Anthropic.Model,
		MaxRounds:    cfg.Agent.MaxRounds,
		ModelTimeout: cfg.Agent.ModelTimeout(),
		Pricing:      cfg.Pricing,
	}, memory.NewContextBuilder(store, cfg.Agent.HistoryWindow), llmClient, dispatcher, a.usage, logger)

	bcfg := whatsapp.BridgeConfig{
		Store:     store,
		Processor: a.loop,
		Limiter:   whatsapp.NewSlidingWindow(cfg.WhatsApp.RateLimitPerMinute),
		Serialize: cfg.WhatsApp.Serialize(),
		Logger:    logger,
	}
	if cfg.WhatsApp.Enabled {
		bcfg.Sender = whatsapp.NewTwilioSender(
			cfg.WhatsApp.AccountSID,
			cfg.WhatsApp.AuthToken,
			cfg.WhatsApp.FromNumber,
			cfg.WhatsApp.MaxMessageLength,
			logger,
		)
	}
	a.bridge = whatsapp.NewBridge(bcfg)

	logger.Info("agent initialized",
		"model", cfg.Anthropic.Model,
		"tools", len(tools.Definitions()),
		"catalog_version", tools.CatalogVersion,
		"max_rounds", cfg.Agent.MaxRounds,
		"history_window", cfg.Agent.HistoryWindow,
	)
	return a, nil
}

// Close releases the databases opened by newApp.
func (a *app) Close() {
	if a.usage != nil {
		_ = a.usage.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
}

// loadConfig locates, parses and validates the YAML configuration file.
// If explicit is non-empty, that exact path is used (and must exist).
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, cfgPath, fmt.Errorf("invalid config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}
