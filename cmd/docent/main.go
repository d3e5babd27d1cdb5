// Docent is a conversational assistant over a document knowledge base.
//
// It exposes an HTTP and WebSocket chat API, stores uploaded documents as
// embedded chunks in SQLite, and lets the model promote temporary
// uploads into the permanent knowledge base. Configuration is loaded from
// a single YAML file discovered automatically (see
// [config.DefaultSearchPaths]).
//
// Usage:
//
//	docent serve                   Start the API server
//	docent init [dir]              Initialize a working directory
//	docent ask <question>          Ask a single question
//	docent ingest <file|url>       Add a document to the knowledge base
//	docent sweep                   Delete expired temporary documents once
//	docent version                 Print version and build information
//	docent -o json version         Output version information as JSON
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

	"github.com/nugget/docent/internal/agent"
	"github.com/nugget/docent/internal/api"
	"github.com/nugget/docent/internal/buildinfo"
	"github.com/nugget/docent/internal/config"
	"github.com/nugget/docent/internal/ingest"
	"github.com/nugget/docent/internal/mqtt"
)

// main constructs the OS-level environment and delegates to [run], which
// keeps os.Exit, os.Stdout and os.Args out of the application logic.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. Structured logs go to stdout; fatal
// errors are returned to main. Arguments are parsed by hand so run can
// be called concurrently from tests without flag package globals.
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
			if command == "" {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
			// Remaining args, including subcommand flags, belong to the
			// command.
			cmdArgs = append(cmdArgs, args[i])
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
		opts, rest := parseAskArgs(cmdArgs)
		if len(rest) == 0 {
			return errors.New("usage: docent ask [-session id] [-model name] <question>")
		}
		opts.question = strings.Join(rest, " ")
		return runAsk(ctx, stdout, stderr, configPath, outputFmt, opts)
	case "ingest":
		opts, rest := parseIngestArgs(cmdArgs)
		if len(rest) != 1 {
			return errors.New("usage: docent ingest [-source label] <file|url>")
		}
		opts.target = rest[0]
		return runIngest(ctx, stdout, stderr, configPath, outputFmt, opts)
	case "sweep":
		return runSweep(ctx, stdout, stderr, configPath, outputFmt)
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
	info := buildinfo.Info()
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

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Docent - conversational assistant over your documents")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: docent [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve                Start the API server")
	fmt.Fprintln(w, "  init [dir]           Initialize working directory with defaults (default: .)")
	fmt.Fprintln(w, "  ask <question>       Ask a single question (-session id, -model name)")
	fmt.Fprintln(w, "  ingest <file|url>    Add a document to the permanent knowledge base (-source label)")
	fmt.Fprintln(w, "  sweep                Delete expired temporary documents and backfill embeddings")
	fmt.Fprintln(w, "  version              Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  "+strings.Join(config.DefaultSearchPaths(), ", "))
	return nil
}

type askOptions struct {
	session  string
	model    string
	question string
}

func parseAskArgs(args []string) (askOptions, []string) {
	opts := askOptions{session: "cli"}
	var rest []string
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-session" && i+1 < len(args):
			opts.session = args[i+1]
			i++
		case args[i] == "-model" && i+1 < len(args):
			opts.model = args[i+1]
			i++
		default:
			rest = append(rest, args[i])
		}
	}
	return opts, rest
}

// runAsk runs one turn against the configured stores, so the question
// lands in session history like any API turn.
func runAsk(ctx context.Context, stdout, stderr io.Writer, configPath, outputFmt string, opts askOptions) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	// Logs go to stderr so the answer is the only thing on stdout.
	logger := newLogger(stderr, slog.LevelWarn, cfg.LogFormat)

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	resp, err := a.loop.Run(ctx, &agent.Request{
		SessionID: opts.session,
		Message:   opts.question,
		Model:     opts.model,
	})
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}

	if outputFmt == "json" {
		return json.NewEncoder(stdout).Encode(resp)
	}
	fmt.Fprintln(stdout, resp.Content)
	return nil
}

type ingestOptions struct {
	source string
	target string
}

func parseIngestArgs(args []string) (ingestOptions, []string) {
	var opts ingestOptions
	var rest []string
	for i := 0; i < len(args); i++ {
		if args[i] == "-source" && i+1 < len(args) {
			opts.source = args[i+1]
			i++
			continue
		}
		rest = append(rest, args[i])
	}
	return opts, rest
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// runIngest adds a local file or a URL to the permanent knowledge base
// through the same scan, extract, chunk and embed pipeline as uploads.
func runIngest(ctx context.Context, stdout, stderr io.Writer, configPath, outputFmt string, opts ingestOptions) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(stderr, cfg.Level(), cfg.LogFormat)

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	iopts := ingest.Options{Source: opts.source}
	var res *ingest.Result
	if isURL(opts.target) {
		res, err = a.ingester.IngestURL(ctx, opts.target, iopts)
	} else {
		var data []byte
		data, err = os.ReadFile(opts.target)
		if err != nil {
			return fmt.Errorf("read %s: %w", opts.target, err)
		}
		if iopts.Source == "" {
			iopts.Source = "file:" + opts.target
		}
		res, err = a.ingester.IngestFile(ctx, ingest.File{Name: opts.target, Data: data}, iopts)
	}
	if err != nil {
		return fmt.Errorf("ingest %s: %w", opts.target, err)
	}

	if outputFmt == "json" {
		return json.NewEncoder(stdout).Encode(map[string]any{
			"document_group_id": res.GroupID,
			"title":             res.Title,
			"source":            res.Source,
			"content_type":      res.ContentType,
			"chunks":            len(res.Documents),
			"scan":              res.Verdict,
		})
	}
	fmt.Fprintf(stdout, "Ingested %q from %s: %d chunks (group %s)\n", res.Title, res.Source, len(res.Documents), res.GroupID)
	if res.Verdict.Inconclusive {
		fmt.Fprintf(stdout, "Warning: content scan inconclusive (%s)\n", res.Verdict.Reason)
	}
	return nil
}

// runSweep performs one cleanup pass and exits.
func runSweep(ctx context.Context, stdout, stderr io.Writer, configPath, outputFmt string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(stderr, cfg.Level(), cfg.LogFormat)

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.sweeper.RunOnce(ctx)
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}
	if outputFmt == "json" {
		return json.NewEncoder(stdout).Encode(res)
	}
	fmt.Fprintf(stdout, "Deleted %d expired documents, backfilled %d embeddings\n", res.Deleted, res.Backfilled)
	return nil
}

// runServe is the primary operating mode. The shutdown sequence is:
//  1. SIGINT or SIGTERM cancels the context
//  2. the MQTT bridge publishes offline and disconnects
//  3. the HTTP server drains in-flight requests
//  4. health watchers, the sweeper and the usage recorder stop and the
//     database closes via defers
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting Docent", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger = newLogger(stdout, cfg.Level(), cfg.LogFormat)
	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"model", cfg.Models.Default,
		"ollama_url", cfg.Models.OllamaURL,
	)

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a.sweeper.Start(ctx)
	defer a.sweeper.Stop()

	health := a.watchServices(ctx, cfg, logger)
	defer health.Stop()

	// --- MQTT bridge ---
	var bridge *mqtt.Bridge
	if cfg.MQTT.Configured() {
		instanceID, err := mqtt.LoadOrCreateInstanceID(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("load mqtt instance id: %w", err)
		}
		bridge = mqtt.New(cfg.MQTT, instanceID, a.bus, logger)
		go func() {
			if err := bridge.Start(ctx); err != nil {
				logger.Error("mqtt bridge failed", "error", err)
			}
		}()
		logger.Info("mqtt event bridge enabled", "broker", cfg.MQTT.Broker, "topic_prefix", cfg.MQTT.TopicPrefix)
	} else {
		logger.Info("mqtt event bridge disabled (not configured)")
	}

	// --- API server ---
	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, a.loop, logger)
	server.SetMemoryStore(a.mem)
	server.SetDocumentStore(a.docs, a.embedder)
	server.SetIngester(a.ingester, cfg.Documents.TemporaryTTLHours, cfg.Documents.MaxUploadBytes)
	server.SetUsageStore(a.usage)
	server.SetHealth(health)

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if bridge != nil {
			if err := bridge.Stop(shutdownCtx); err != nil {
				logger.Error("mqtt shutdown failed", "error", err)
			}
		}
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("api shutdown failed", "error", err)
		}
	}()

	if err := server.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}

	logger.Info("Docent stopped")
	return nil
}

// newLogger creates a structured logger that writes to w at the given
// level and format. Any format other than "json" yields text.
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

// loadConfig locates, parses and validates the YAML configuration file.
// It returns the parsed config and the path that was loaded.
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
