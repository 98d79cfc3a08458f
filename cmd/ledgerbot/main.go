// Ledgerbot is a conversational expense tracker.
//
// It exposes a chat endpoint, a websocket, an optional LINE webhook and
// a REST records API, all backed by one SQL ledger. Configuration is
// loaded from a single YAML file discovered automatically (see
// [config.DefaultSearchPaths]).
//
// Usage:
//
//	ledgerbot serve                 Start the API server
//	ledgerbot ask [-user id] <msg>  Run a single chat turn
//	ledgerbot sweep                 Delete expired conversations
//	ledgerbot version               Print version and build information
//	ledgerbot -o json version       Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/smartfinance/ledgerbot/internal/buildinfo"
	"github.com/smartfinance/ledgerbot/internal/config"
)

// shutdownTimeout bounds the graceful drain of servers and the broker.
const shutdownTimeout = 10 * time.Second

// main builds the OS-level environment and delegates to [run] so the
// whole lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// options are the parsed global flags.
type options struct {
	configPath string
	outputFmt  string
	command    string
	args       []string
}

// parseArgs parses the command line by hand. The flag package keeps
// global state that breaks concurrent calls from tests.
func parseArgs(args []string) (options, error) {
	var o options
	for i := 0; i < len(args); i++ {
		switch {
		case o.command == "" && args[i] == "-config" && i+1 < len(args):
			o.configPath = args[i+1]
			i++
		case o.command == "" && strings.HasPrefix(args[i], "-config="):
			o.configPath = strings.TrimPrefix(args[i], "-config=")
		case o.command == "" && (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			o.outputFmt = args[i+1]
			i++
		case o.command == "" && strings.HasPrefix(args[i], "-o="):
			o.outputFmt = strings.TrimPrefix(args[i], "-o=")
		case o.command == "" && strings.HasPrefix(args[i], "--output="):
			o.outputFmt = strings.TrimPrefix(args[i], "--output=")
		case o.command == "" && (args[i] == "-h" || args[i] == "-help" || args[i] == "--help"):
			o.command = "help"
		case !strings.HasPrefix(args[i], "-") && o.command == "":
			o.command = args[i]
		default:
			if o.command == "" {
				return o, fmt.Errorf("unknown flag: %s", args[i])
			}
			o.args = append(o.args, args[i])
		}
	}

	if o.outputFmt == "" {
		o.outputFmt = "text"
	}
	if o.outputFmt != "text" && o.outputFmt != "json" {
		return o, fmt.Errorf("unknown output format: %q (expected text or json)", o.outputFmt)
	}
	return o, nil
}

// run is the real entry point. Structured logs go to stdout; the caller
// prints the returned error to stderr.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	o, err := parseArgs(args)
	if err != nil {
		return err
	}

	switch o.command {
	case "serve":
		return runServe(ctx, stdout, o.configPath)
	case "ask":
		return runAsk(ctx, stdout, stderr, o)
	case "sweep":
		return runSweep(ctx, stdout, stderr, o)
	case "version":
		return runVersion(stdout, o.outputFmt)
	case "", "help":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", o.command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.BuildInfo()
	if outputFmt == "json" {
		return writeJSON(w, info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Ledgerbot - conversational expense tracker")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: ledgerbot [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve                  Start the API server")
	fmt.Fprintln(w, "  ask [-user id] <msg>   Run a single chat turn (default user: cli)")
	fmt.Fprintln(w, "  sweep                  Delete conversations past the retention window")
	fmt.Fprintln(w, "  version                Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/ledgerbot/config.yaml, /etc/ledgerbot/config.yaml")
	return nil
}

// runAsk runs one turn through the full agent and prints the reply.
// Logs go to stderr so stdout carries only the answer.
func runAsk(ctx context.Context, stdout, stderr io.Writer, o options) error {
	userID := "cli"
	words := o.args
	if len(words) >= 2 && words[0] == "-user" {
		userID = words[1]
		words = words[2:]
	}
	if len(words) == 0 {
		return fmt.Errorf("usage: ledgerbot ask [-user id] <message>")
	}

	cfg, _, err := loadConfig(o.configPath)
	if err != nil {
		return err
	}
	logger := configuredLogger(stderr, cfg)

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	res := a.loop.Run(ctx, userID, strings.Join(words, " "))
	if o.outputFmt == "json" {
		return writeJSON(stdout, res)
	}
	fmt.Fprintln(stdout, res.Reply)
	return nil
}

// runSweep deletes expired conversations once and reports the count.
func runSweep(ctx context.Context, stdout, stderr io.Writer, o options) error {
	cfg, _, err := loadConfig(o.configPath)
	if err != nil {
		return err
	}
	logger := configuredLogger(stderr, cfg)

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.history.Sweep(ctx)
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}
	if o.outputFmt == "json" {
		return writeJSON(stdout, map[string]any{
			"removed":        n,
			"retention_days": cfg.Conversation.RetentionDays,
		})
	}
	fmt.Fprintf(stdout, "removed %d expired conversations (retention %dd)\n", n, cfg.Conversation.RetentionDays)
	return nil
}

// runServe is the primary operating mode. SIGINT or SIGTERM cancels the
// context; servers then drain in-flight requests, the broker gets an
// offline status, and stores close via defers.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting ledgerbot", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger = configuredLogger(stdout, cfg)
	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"database", cfg.Database.Driver,
		"conversations", cfg.Conversation.Backend,
		"model", cfg.Models.Default,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	server := a.server()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := server.Start(gctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	if a.mqtt != nil {
		g.Go(func() error {
			if err := a.mqtt.Start(gctx); err != nil {
				// The ledger works without the broker.
				logger.Error("mqtt publisher failed", "error", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer shutdownCancel()

		if a.mqtt != nil {
			if err := a.mqtt.Stop(shutdownCtx); err != nil {
				logger.Error("mqtt shutdown failed", "error", err)
			}
		}
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("ledgerbot stopped")
	return nil
}

// newLogger creates a structured logger writing to w at the given level
// and format. Any format other than "json" yields text.
func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// configuredLogger applies the config's level and format. Invalid
// values fall back to info and text.
func configuredLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	format, _ := config.ParseLogFormat(cfg.LogFormat)
	return newLogger(w, level, format)
}

// loadConfig locates and parses the YAML configuration file.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	return cfg, cfgPath, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
