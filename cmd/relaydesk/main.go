// ABOUTME: Entry point for the relaydesk session manager
// ABOUTME: Wires store, credential store, broker transport, responder, and admin HTTP server

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/relaydesk/relaydesk/internal/blocklist"
	"github.com/relaydesk/relaydesk/internal/classify"
	"github.com/relaydesk/relaydesk/internal/config"
	"github.com/relaydesk/relaydesk/internal/creds"
	"github.com/relaydesk/relaydesk/internal/echo"
	"github.com/relaydesk/relaydesk/internal/history"
	"github.com/relaydesk/relaydesk/internal/httpapi"
	"github.com/relaydesk/relaydesk/internal/responder"
	"github.com/relaydesk/relaydesk/internal/session"
	"github.com/relaydesk/relaydesk/internal/store"
	"github.com/relaydesk/relaydesk/internal/transport"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
           _                _           _
  _ __ ___| | __ _ _   _ __| | ___  ___| | __
 | '__/ _ \ |/ _' | | | / _' |/ _ \/ __| |/ /
 | | |  __/ | (_| | |_| | (_| |  __/\__ \   <
 |_|  \___|_|\__,_|\__, |\__,_|\___||___/_|\_\
                   |___/
`

// getConfigPath returns the path to the config file.
// Priority: RELAYDESK_CONFIG env var > XDG_CONFIG_HOME/relaydesk/relaydesk.yaml > ~/.config/relaydesk/relaydesk.yaml
func getConfigPath() string {
	if envPath := os.Getenv("RELAYDESK_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "relaydesk.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "relaydesk", "relaydesk.yaml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: relaydesk <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve   Start the session manager")
		fmt.Println("  init    Create a new config file")
		fmt.Println("  health  Check server health")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "health":
		err = runHealth(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	// .env is optional; real deployments set the environment directly.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "warning: loading .env: %v\n", err)
	}

	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Broker:    %s\n", cfg.Transport.BrokerURL)
	green.Print("    ▶ ")
	fmt.Printf("Responder: %s\n", cfg.Responder.Kind)
	fmt.Println()

	logger.Info("starting relaydesk",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"broker_url", cfg.Transport.BrokerURL,
	)

	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer s.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}

	credStore, err := creds.NewRedisStore(creds.Config{
		Client:    redisClient,
		KeyPrefix: cfg.Redis.KeyPrefix,
		BackupDir: cfg.Redis.BackupDir,
	})
	if err != nil {
		return fmt.Errorf("creating credential store: %w", err)
	}

	var reply responder.Responder
	switch cfg.Responder.Kind {
	case "anthropic":
		reply = responder.NewAnthropic(cfg.Responder.APIKey, cfg.Responder.Model)
	default:
		reply = responder.NewHTTP(cfg.Responder.URL, cfg.Responder.Timeout, logger)
	}

	ledger := blocklist.New(s, logger)
	markers := echo.New(cfg.Sessions.EchoMarkerTTL, 10000)
	hist := history.New(cfg.Sessions.HistoryMaxTurns, cfg.Sessions.HistoryMaxIdle)

	registry := session.NewRegistry(session.Deps{
		Config:     cfg.Sessions,
		Transport:  transport.NewBroker(cfg.Transport.BrokerURL, logger),
		Store:      s,
		Creds:      credStore,
		Ledger:     ledger,
		Markers:    markers,
		History:    hist,
		Classifier: classify.New(ledger, markers, cfg.Sessions.BlockDefaultDuration, logger),
		Responder:  reply,
		Logger:     logger,
	})
	defer registry.Close()

	handler := httpapi.NewHandler(registry, ledger, logger)
	server := &http.Server{
		Addr:         cfg.Server.HTTPAddr,
		Handler:      handler.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go registry.RestoreAll(ctx)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("admin http server listening", "addr", cfg.Server.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}
	return nil
}

func runInit() error {
	configPath := getConfigPath()

	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config already exists: %s", configPath)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	configContent := `# relaydesk configuration
# Generated by relaydesk init

server:
  http_addr: "localhost:8080"

database:
  path: "relaydesk.db"

redis:
  addr: "localhost:6379"
  backup_dir: "backups"

transport:
  broker_url: "ws://localhost:9001/relay"

responder:
  kind: "http"
  url: "${RESPONDER_URL}"

logging:
  level: "info"
  format: "text"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("  ✓ Created config: %s\n", configPath)
	fmt.Println("  Edit it, then run: relaydesk serve")
	return nil
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/health", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	buf.WriteString(r.Message)

	// Handler-level attrs first (from WithAttrs), then record attrs.
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}
	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}
