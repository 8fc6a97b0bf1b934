package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/btouchard/courier/internal/config"
	"github.com/btouchard/courier/internal/message"
	"github.com/btouchard/courier/internal/poll"
	"github.com/btouchard/courier/internal/sink"
	"github.com/btouchard/courier/internal/stream"
)

// serverURL resolves the base URL: the flag, then $COURIER_URL, then the
// configured listen address with $COURIER_PORT taking precedence.
func serverURL(flagValue string, cfg *config.Config) string {
	if flagValue != "" {
		return strings.TrimRight(flagValue, "/")
	}
	if env := os.Getenv("COURIER_URL"); env != "" {
		return strings.TrimRight(env, "/")
	}

	host := cfg.Server.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	port := strconv.Itoa(cfg.Server.Port)
	if env := os.Getenv("COURIER_PORT"); env != "" {
		port = env
	}
	return "http://" + net.JoinHostPort(host, port)
}

// clientConfig loads the same configuration as serve so that client
// commands pick up its address and poll interval. A broken file only
// warns.
func clientConfig(path string) *config.Config {
	cfg, err := loadConfig(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v (using defaults)\n", err)
		return config.Defaults()
	}
	return cfg
}

// terminal prints every target to one writer, registering targets as
// they first appear. A reconnecting stream replays the whole log, so
// messages already printed are skipped.
type terminal struct {
	sink    *sink.Sink
	surface *sink.WriterSurface
	seen    map[string]bool
	printed map[string]bool
}

func (t *terminal) Display(m message.Message) {
	if t.printed[m.ID] {
		return
	}
	t.printed[m.ID] = true

	target := m.Target
	if target == "" {
		target = message.DefaultTarget
	}
	if !t.seen[target] {
		t.sink.Register(target, t.surface)
		t.seen[target] = true
	}
	t.sink.Display(m)
}

// cmdWatch follows one session and prints every message to stdout.
func cmdWatch(args []string) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	url := fs.String("url", "", "server base URL (default $COURIER_URL or configured address)")
	sessionID := fs.String("session", "", "session id (generated when empty)")
	target := fs.String("target", "", "only messages for this target")
	mode := fs.String("mode", "stream", "transport: stream or poll")
	interval := fs.Duration("interval", 0, "poll interval (default poll.interval from config)")
	format := fs.String("format", sink.TextFormat, "line template")
	process := fs.Bool("process", false, "start the demo process once connected")
	_ = fs.Parse(args) // ExitOnError handles errors

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	cfg := clientConfig(*configPath)
	if *interval <= 0 {
		*interval = cfg.Poll.Interval
	}

	if *sessionID == "" {
		*sessionID = poll.NewSessionID()
	}
	fmt.Fprintf(os.Stderr, "watching session %s\n", *sessionID)

	out := &terminal{
		sink:    sink.New(sink.WithTextFormat(*format)),
		surface: sink.NewWriterSurface(os.Stdout),
		seen:    make(map[string]bool),
		printed: make(map[string]bool),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	base := serverURL(*url, cfg)
	pc := poll.NewClient(poll.Options{
		BaseURL:   base,
		SessionID: *sessionID,
		Target:    *target,
		Interval:  *interval,
		Display:   out,
		OnError: func(err error) {
			fmt.Fprintf(os.Stderr, "poll error: %v\n", err)
		},
	})

	startProcess := func() {
		if !*process {
			return
		}
		started, err := pc.StartProcess(ctx, *target)
		if err != nil {
			fmt.Fprintf(os.Stderr, "starting process: %v\n", err)
			return
		}
		fmt.Fprintf(os.Stderr, "process %s started\n", started.TaskID)
	}

	switch *mode {
	case "poll":
		startProcess()
		_ = pc.Run(ctx)

	case "stream":
		connected := make(chan struct{}, 1)
		sc := stream.NewClient(stream.ClientOptions{
			BaseURL:   base,
			SessionID: *sessionID,
			Target:    *target,
			Display:   out,
			OnConnect: func(stream.Connected) {
				select {
				case connected <- struct{}{}:
				default:
				}
			},
			OnInfo: func(info stream.Info) {
				fmt.Fprintf(os.Stderr, "%s\n", info.Message)
			},
			OnError: func(err error) {
				fmt.Fprintf(os.Stderr, "stream error: %v\n", err)
			},
		})
		sc.Connect(ctx)
		defer sc.Disconnect()

		select {
		case <-connected:
			startProcess()
		case <-ctx.Done():
		}
		<-ctx.Done()

	default:
		fmt.Fprintf(os.Stderr, "unknown mode %q (want stream or poll)\n", *mode)
		os.Exit(1)
	}
}

// cmdSend appends one message, or clears a session with -clear.
func cmdSend(args []string) {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	url := fs.String("url", "", "server base URL (default $COURIER_URL or configured address)")
	sessionID := fs.String("session", "", "session id")
	target := fs.String("target", "", "message target")
	msgType := fs.String("type", "info", "message type: info, success, warning, error")
	clearLog := fs.Bool("clear", false, "clear the target (or the whole session) instead of sending")
	_ = fs.Parse(args) // ExitOnError handles errors

	if *sessionID == "" {
		fmt.Fprintln(os.Stderr, "send: -session is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c := poll.NewClient(poll.Options{BaseURL: serverURL(*url, clientConfig(*configPath)), SessionID: *sessionID})

	if *clearLog {
		if err := c.ClearMessages(ctx, *target); err != nil {
			fmt.Fprintf(os.Stderr, "clear failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("cleared")
		return
	}

	text := strings.Join(fs.Args(), " ")
	m, err := c.SendMessage(ctx, text, *msgType, *target)
	if err != nil {
		fmt.Fprintf(os.Stderr, "send failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("%s %d\n", m.ID, m.Timestamp)
}
