// Belabot controls a BELABOX streaming encoder from Twitch chat.
//
// It holds a persistent session to the BELABOX Cloud remote relay and
// a chat connection to a single Twitch channel, mapping chat commands
// (start, stop, bitrate, network toggles, ...) onto encoder actions
// and relaying encoder notifications back to chat. Configuration is
// loaded from a single YAML file discovered automatically (see
// [config.DefaultSearchPaths]).
//
// Usage:
//
//	belabot serve            Connect and run the bot
//	belabot version          Print version and build information
//	belabot -o json version  Output version information as JSON
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
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/715209/belabot/internal/belabox"
	"github.com/715209/belabot/internal/bot"
	"github.com/715209/belabot/internal/buildinfo"
	"github.com/715209/belabot/internal/config"
	"github.com/715209/belabot/internal/mqtt"
	"github.com/715209/belabot/internal/twitch"
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run]. This keeps
// os.Exit, os.Stdout, and os.Args out of the application logic so that
// the full startup-to-shutdown lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// options holds the parsed command line.
type options struct {
	configPath string
	outputFmt  string
	command    string
	showHelp   bool
}

// parseArgs parses the argument list by hand. The flag package relies
// on package-level globals (flag.CommandLine), which makes it
// impossible to call run() concurrently from tests. The argument
// surface is small enough that manual parsing is clearer than bringing
// in a CLI framework.
func parseArgs(args []string) (options, error) {
	var opts options

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			opts.configPath = args[i+1]
			i++ // skip the value
		case strings.HasPrefix(args[i], "-config="):
			opts.configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			opts.outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			opts.outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			opts.outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			opts.showHelp = true
		case !strings.HasPrefix(args[i], "-") && opts.command == "":
			opts.command = args[i]
		default:
			return opts, fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	// Default to human-readable text output.
	if opts.outputFmt == "" {
		opts.outputFmt = "text"
	}
	if opts.outputFmt != "text" && opts.outputFmt != "json" {
		return opts, fmt.Errorf("unknown output format: %q (expected text or json)", opts.outputFmt)
	}
	return opts, nil
}

// run is the real entry point for the belabot command. All OS-level
// dependencies are injected as parameters, and run returns nil on
// clean shutdown. The caller (main) is responsible for printing the
// error and exiting.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	opts, err := parseArgs(args)
	if err != nil {
		return err
	}
	if opts.showHelp {
		return printUsage(stdout)
	}

	switch opts.command {
	case "serve":
		return runServe(ctx, stdout, opts.configPath)
	case "version":
		return runVersion(stdout, opts.outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", opts.command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	// Print fields in a stable order for human readability.
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "belabot - BELABOX Twitch chat bot")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: belabot [flags] <command>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Connect to BELABOX Cloud and Twitch and run the bot")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	for _, p := range config.DefaultSearchPaths() {
		fmt.Fprintf(w, "  %s\n", p)
	}
	return nil
}

// encoderState adapts the session and state cache to the MQTT
// publisher without coupling those packages to each other.
type encoderState struct {
	session *belabox.Client
	state   *bot.State
}

func (e encoderState) Connected() bool        { return e.session.Connected() }
func (e encoderState) Online() bool           { return e.state.Online() }
func (e encoderState) Streaming() bool        { return e.state.Streaming() }
func (e encoderState) MaxBitrate() int        { return e.state.MaxBitrate() }
func (e encoderState) SoCTemperature() string { return e.state.SoCTemperature() }

// runServe is the primary operating mode: loads config, opens the
// relay session and the chat connection, and blocks until a shutdown
// signal arrives.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting belabot", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfgPath, err := config.FindConfig(configPath)
	if err != nil {
		return err
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	// Reconfigure the logger now that the desired level and format are
	// known. The initial Info-level text logger only covers the startup
	// banner.
	if cfg.LogLevel != "" || cfg.LogFormat != "" {
		level := slog.LevelInfo
		if cfg.LogLevel != "" {
			if level, err = config.ParseLogLevel(cfg.LogLevel); err != nil {
				return err
			}
		}
		logger = newLogger(stdout, level, cfg.LogFormat)
	}

	logger.Info("config loaded", "path", cfgPath, "channel", cfg.Twitch.Channel)

	// SIGINT/SIGTERM cancellation flows through the same ctx used by
	// all components.
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	session := belabox.NewClient(cfg.Belabox.Endpoint, cfg.Belabox.RemoteKey, logger)
	chat := twitch.NewClient(cfg.Twitch, logger)

	state := bot.NewState()
	handler := bot.NewHandler(session, chat, state, cfg, logger)
	monitor := bot.NewMonitor(state, chat, handler, cfg, logger)
	b := bot.New(state, session, chat, monitor, logger)

	// Subscribe before the session connects so the first snapshot after
	// auth is never missed.
	sub, err := session.Subscribe(64)
	if err != nil {
		return fmt.Errorf("subscribe to session events: %w", err)
	}
	defer sub.Cancel()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return session.Run(gctx) })
	g.Go(func() error { return chat.Run(gctx) })
	g.Go(func() error { return b.Run(gctx, sub.C) })
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case m, ok := <-chat.Messages():
				if !ok {
					return nil
				}
				handler.HandleMessage(gctx, bot.ChatMessage{
					Sender:      m.Sender,
					Text:        m.Text,
					Broadcaster: m.Broadcaster,
					Moderator:   m.Moderator,
					Vip:         m.Vip,
				})
			}
		}
	})

	if cfg.MQTT.Broker != "" {
		pub := mqtt.New(cfg.MQTT, encoderState{session: session, state: state}, logger)
		g.Go(func() error {
			if err := pub.Start(gctx); err != nil {
				return err
			}
			// Publish the offline status before disconnecting.
			offlineCtx, offlineCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer offlineCancel()
			if err := pub.Stop(offlineCtx); err != nil {
				logger.Error("mqtt shutdown failed", "error", err)
			}
			return nil
		})
		logger.Info("mqtt publishing enabled",
			"broker", cfg.MQTT.Broker,
			"device_name", cfg.MQTT.DeviceName,
			"interval", cfg.MQTT.IntervalSeconds,
		)
	} else {
		logger.Info("mqtt publishing disabled (not configured)")
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	logger.Info("belabot stopped")
	return err
}

// newLogger creates a structured logger that writes to w at the given
// level and format. Format must be "text" or "json"; any other value
// defaults to text.
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
