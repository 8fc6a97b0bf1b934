package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/btouchard/courier/internal/api"
	"github.com/btouchard/courier/internal/broker"
	"github.com/btouchard/courier/internal/config"
	"github.com/btouchard/courier/internal/executor"
	couriermcp "github.com/btouchard/courier/internal/mcp"
	"github.com/btouchard/courier/internal/notify"
	"github.com/btouchard/courier/internal/store"
	"github.com/btouchard/courier/internal/stream"
	"github.com/btouchard/courier/internal/task"
)

var version = "dev"

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "loading .env: %v\n", err)
	}

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		cmdServe(os.Args[2:])
	case "version":
		fmt.Printf("courier %s\n", version)
	case "check":
		cmdCheck(os.Args[2:])
	case "watch":
		cmdWatch(os.Args[2:])
	case "send":
		cmdSend(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: courier <command> [flags]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  serve     Start the Courier server\n")
	fmt.Fprintf(os.Stderr, "  check     Validate configuration\n")
	fmt.Fprintf(os.Stderr, "  watch     Follow a session's messages\n")
	fmt.Fprintf(os.Stderr, "  send      Append one message to a session\n")
	fmt.Fprintf(os.Stderr, "  version   Print version\n")
}

func cmdServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	_ = fs.Parse(args) // ExitOnError handles errors

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	setupLogging(cfg)

	slog.Info("starting courier",
		"version", version,
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"storage", cfg.Storage.Driver)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func cmdCheck(args []string) {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	_ = fs.Parse(args) // ExitOnError handles errors

	_, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("configuration is valid")
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

func setupLogging(cfg *config.Config) {
	var level slog.Level
	switch cfg.Server.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	handlers := []slog.Handler{
		slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}),
	}

	if cfg.Server.LogFile != "" {
		f, err := os.OpenFile(cfg.Server.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
		if err != nil {
			slog.Warn("failed to open log file, using stdout only", "path", cfg.Server.LogFile, "error", err)
		} else {
			handlers = append(handlers, slog.NewJSONHandler(f, &slog.HandlerOptions{Level: level}))
		}
	}

	logger := slog.New(slog.NewMultiHandler(handlers...))
	slog.SetDefault(logger)
}

func run(ctx context.Context, cfg *config.Config) error {
	// --- Message log ---
	st, err := store.Open(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("opening message store: %w", err)
	}
	defer func() { _ = st.Close() }()

	slog.Info("message store opened",
		"driver", cfg.Storage.Driver,
		"path", cfg.Storage.Path)

	// --- Broker ---
	hub := notify.NewHub()
	bm := broker.NewManager(st, hub)

	// --- Task Manager ---
	script, err := processScript(cfg.Process.Steps)
	if err != nil {
		return fmt.Errorf("process steps: %w", err)
	}
	tm := task.NewManager(executor.NewScriptExecutor(script), bm, cfg.Process.MaxConcurrent, cfg.Process.MaxTimeout)
	tm.SetDelayScale(cfg.Process.DelayScale)
	tm.SetMaxPerSession(cfg.Process.MaxPerSession)
	tm.SetNotifyFunc(hub.Notify)

	// --- MCP Server ---
	var mcpHandler http.Handler
	if cfg.MCP.Enabled {
		mcpServer := couriermcp.NewServer(&couriermcp.Deps{
			Broker:  bm,
			Tasks:   tm,
			Version: version,
		})
		mcpHandler = couriermcp.NewHTTPHandler(mcpServer)
		if cfg.MCP.Notify {
			hub.Add(notify.NewMCPNotifier(mcpServer, 3*time.Second))
		}
	}

	// --- HTTP Router ---
	streams := stream.NewServer(bm, stream.Options{
		PollInterval: cfg.Stream.PollInterval,
		PingInterval: cfg.Stream.PingInterval,
		MaxLifetime:  cfg.Stream.MaxLifetime,
		Retry:        cfg.Stream.Retry,
		WriteBuffer:  cfg.Stream.WriteBuffer,
	})
	router := api.NewRouter(api.Deps{
		Broker: bm,
		Tasks:  tm,
		Stream: streams,
		MCP:    mcpHandler,
	})

	// --- HTTP Server ---
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  2 * time.Minute,
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		slog.Info("courier is ready", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		<-egCtx.Done()

		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		tm.Shutdown(shutdownCtx)
		return srv.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}

// processScript converts configured steps; nil keeps the demo script.
func processScript(steps []config.StepConfig) (executor.Script, error) {
	if len(steps) == 0 {
		return nil, nil
	}
	script := make(executor.Script, 0, len(steps))
	for _, st := range steps {
		msgType := st.Type
		if msgType == "" {
			msgType = "info"
		}
		script = append(script, executor.Step{Message: st.Message, Type: msgType, Delay: st.Delay})
	}
	if err := script.Validate(); err != nil {
		return nil, err
	}
	return script, nil
}
