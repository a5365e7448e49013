// Package main is the callmind CLI entry point.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/callmind/internal/cli"
	"github.com/hyperjump/callmind/internal/config"
	"github.com/hyperjump/callmind/internal/correlator"
	"github.com/hyperjump/callmind/internal/infobip"
	"github.com/hyperjump/callmind/internal/mcp"
	"github.com/hyperjump/callmind/internal/models"
	"github.com/hyperjump/callmind/internal/search"
	"github.com/hyperjump/callmind/internal/server"
	"github.com/hyperjump/callmind/internal/storage"
	"github.com/hyperjump/callmind/internal/sweeper"
	"github.com/hyperjump/callmind/internal/watcher"
	"github.com/hyperjump/callmind/pkg/utils"
)

var version = "dev"

const (
	defaultConfigPath = "/usr/local/etc/callmind/config.yaml"
	defaultServerURL  = "http://localhost:8080"
)

// loadConfig loads config from path. When path is the default, config.yaml in the current
// directory takes precedence so commands run from a checkout use the project's config.
// A missing default config falls back to built-in defaults plus the environment.
// Returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, err := os.Getwd(); err == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, err := os.Stat(fallback); err == nil {
				cfg, err := config.Load(fallback)
				if err != nil {
					return nil, "", err
				}
				return cfg, fallback, nil
			}
		}
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			cfg := config.Default()
			return cfg, "", cfg.Validate()
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func newLogger(cfg *config.Config, debug bool) (*zap.Logger, error) {
	return utils.NewLogger(cfg.Debug || debug, utils.LogFile{
		Path:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
}

// setup loads config, builds the logger and wires the pipeline for commands that work on
// local storage.
func setup(ctx context.Context, configPath string, debug bool) (*Components, error) {
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := newLogger(cfg, debug)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	logger.Debug("config loaded", zap.String("config_path", resolved), zap.Bool("debug", cfg.Debug || debug))
	return initializeComponents(ctx, cfg, logger)
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	args := os.Args[2:]
	var err error
	switch command := os.Args[1]; command {
	case "server":
		err = runServer(args)
	case "deliver":
		err = runDeliver(args)
	case "search":
		err = runSearch(args)
	case "recent":
		err = runRecent(args)
	case "get":
		err = runGet(args)
	case "reindex":
		err = runReindex(args)
	case "sweep":
		err = runSweep(args)
	case "mcp":
		err = runMCP(args)
	case "status":
		err = runStatus(args)
	case "version", "--version", "-v":
		fmt.Printf("callmind version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServer(args []string) error {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(args)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := setup(ctx, *configPath, *debug)
	if err != nil {
		return err
	}
	defer c.Close()
	cfg, logger := c.Config, c.Logger
	defer logger.Sync()

	// Pick up transcripts whose indexing job was lost to a restart or a full queue.
	if ids, err := c.Correlator.Reindex(ctx, false); err != nil {
		logger.Warn("startup reindex failed", zap.Error(err))
	} else if len(ids) > 0 {
		logger.Info("re-enqueued pending transcripts", zap.Int("count", len(ids)))
	}

	sweep := sweeper.New(c.Correlator, cfg.Correlation.SweepSchedule, sweepPolicy(cfg), logger)
	if err := sweep.Start(ctx); err != nil {
		return err
	}
	defer sweep.Stop()

	if len(cfg.Spool.Directories) > 0 {
		inbox := watcher.NewInbox(c.Correlator, logger)
		spool := watcher.NewWatcher(cfg.Spool.Directories, cfg.Spool.Extensions,
			func(ctx context.Context, path string) { _ = inbox.ProcessFile(ctx, path) },
			watcher.WithLogger(logger), watcher.WithDebounce(cfg.Spool.Debounce))
		if err := spool.Start(ctx); err != nil {
			return fmt.Errorf("failed to start spool watcher: %w", err)
		}
		defer spool.Stop()
	}

	if cfg.MCP.SSEAddr != "" {
		agent := mcp.NewServer(cfg.MCP.Name, version, c.Engine, c.Correlator, logger)
		go func() {
			if err := agent.ServeSSE(cfg.MCP.SSEAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("MCP SSE server failed", zap.Error(err))
			}
		}()
	}

	var opts []server.Option
	if cfg.Telephony.Infobip.Enabled() {
		calls, err := infobip.NewClient(cfg.Telephony.Infobip)
		if err != nil {
			return fmt.Errorf("failed to create infobip client: %w", err)
		}
		opts = append(opts, server.WithCallControl(calls))
		logger.Info("infobip call control enabled", zap.String("base_url", cfg.Telephony.Infobip.BaseURL))
	}
	srv, err := server.NewServer(c.Correlator, c.Engine, c.Store, cfg, logger, c.Metrics, opts...)
	if err != nil {
		return err
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Stop(shutdownCtx)
}

// parsePayload converts key=value arguments into an event payload.
func parsePayload(args []string) (map[string]string, error) {
	payload := make(map[string]string, len(args))
	for _, a := range args {
		k, v, ok := strings.Cut(a, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid payload field %q (want key=value)", a)
		}
		payload[strings.TrimSpace(k)] = v
	}
	return payload, nil
}

func runDeliver(args []string) error {
	fs := flag.NewFlagSet("deliver", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	callID := fs.String("call-id", "", "call id the event belongs to")
	kind := fs.String("kind", "", "event kind: CALL_STARTED, RECORDING_READY or TRANSCRIPTION_READY")
	spoolDir := fs.String("spool", "", "deliver every envelope in this spool directory instead")
	output := fs.String("output", "text", "output format: text or json")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: callmind deliver --call-id ID --kind KIND [key=value ...]\n       callmind deliver --spool DIR\n\n")
		fs.PrintDefaults()
	}
	_ = fs.Parse(args)
	format, err := cli.ParseOutputFormat(*output)
	if err != nil {
		return err
	}

	ctx := context.Background()
	c, err := setup(ctx, *configPath, false)
	if err != nil {
		return err
	}
	defer c.Close()

	if *spoolDir != "" {
		n, err := watcher.NewInbox(c.Correlator, c.Logger).Drain(ctx, *spoolDir, c.Config.Spool.Extensions)
		fmt.Printf("Delivered %d envelopes from %s\n", n, *spoolDir)
		return err
	}

	k, err := models.ParseEventKind(*kind)
	if err != nil {
		return err
	}
	payload, err := parsePayload(fs.Args())
	if err != nil {
		return err
	}
	d, err := c.Correlator.Deliver(ctx, *callID, k, payload)
	if d != nil && d.Record != nil {
		if werr := cli.WriteCall(os.Stdout, d.Record, format); werr != nil {
			return werr
		}
		if d.Duplicate {
			fmt.Println("(duplicate event, record unchanged)")
		}
	}
	// Close drains the queue, so a TRANSCRIBED record is indexed before we exit.
	return err
}

// buildSearchQuery joins all args with spaces so multi-word queries work with or without quotes.
func buildSearchQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// searchArgsReorder moves any flags (and their values) that appear after the query
// to the front of the slice so that flag.Parse() sees them. Go's flag package
// stops at the first non-flag argument.
func searchArgsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

func runSearch(args []string) error {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = search local storage directly)")
	limit := fs.Int("limit", 5, "maximum number of results")
	mode := fs.String("mode", models.ModeSemantic, "semantic, keyword or hybrid")
	from := fs.String("from", "", "only calls from this number")
	to := fs.String("to", "", "only calls to this number")
	minScore := fs.Float64("min-score", 0, "drop results scoring at or below this value")
	output := fs.String("output", "text", "output format: text or json")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: callmind search [flags] <query>\n\n")
		fs.PrintDefaults()
	}
	_ = fs.Parse(searchArgsReorder(args))
	format, err := cli.ParseOutputFormat(*output)
	if err != nil {
		return err
	}
	q := &models.SearchQuery{
		Query:      buildSearchQuery(fs.Args()),
		Limit:      *limit,
		Mode:       *mode,
		FromNumber: *from,
		ToNumber:   *to,
		MinScore:   *minScore,
	}
	if q.Query == "" {
		fs.Usage()
		return errors.New("query is required")
	}

	ctx := context.Background()
	var resp *models.SearchResponse
	if *serverURL != "" {
		resp, err = newAPIClient(*serverURL).Search(ctx, q)
	} else {
		var c *Components
		if c, err = setup(ctx, *configPath, false); err != nil {
			return err
		}
		defer c.Close()
		resp, err = c.Engine.Query(ctx, q)
	}
	if err != nil {
		return err
	}
	return cli.WriteSearchResults(os.Stdout, resp, format)
}

func runRecent(args []string) error {
	fs := flag.NewFlagSet("recent", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = read local storage directly)")
	limit := fs.Int("limit", models.DefaultLimit, "maximum number of calls")
	output := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(args)
	format, err := cli.ParseOutputFormat(*output)
	if err != nil {
		return err
	}

	ctx := context.Background()
	var recs []*models.CallRecord
	if *serverURL != "" {
		recs, err = newAPIClient(*serverURL).Recent(ctx, *limit)
	} else {
		var c *Components
		if c, err = setup(ctx, *configPath, false); err != nil {
			return err
		}
		defer c.Close()
		recs, err = c.Engine.Recent(ctx, *limit)
	}
	if err != nil {
		return err
	}
	return cli.WriteCalls(os.Stdout, recs, format)
}

func runGet(args []string) error {
	fs := flag.NewFlagSet("get", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = read local storage directly)")
	output := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(searchArgsReorder(args))
	format, err := cli.ParseOutputFormat(*output)
	if err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: callmind get [flags] <call-id>")
	}

	ctx := context.Background()
	var rec *models.CallRecord
	if *serverURL != "" {
		rec, err = newAPIClient(*serverURL).Get(ctx, fs.Arg(0))
	} else {
		var c *Components
		if c, err = setup(ctx, *configPath, false); err != nil {
			return err
		}
		defer c.Close()
		rec, err = c.Correlator.Get(ctx, fs.Arg(0))
	}
	if err != nil {
		return err
	}
	return cli.WriteCall(os.Stdout, rec, format)
}

func runReindex(args []string) error {
	fs := flag.NewFlagSet("reindex", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	all := fs.Bool("all", false, "also re-embed calls that are already INDEXED")
	_ = fs.Parse(args)

	ctx := context.Background()
	c, err := setup(ctx, *configPath, false)
	if err != nil {
		return err
	}
	defer c.Close()

	// Index synchronously instead of through the bounded queue so nothing is dropped.
	var ids []string
	c.Correlator.OnTranscribed(func(callID string) { ids = append(ids, callID) })
	if _, err := c.Correlator.Reindex(ctx, *all); err != nil {
		return err
	}
	failed := 0
	for _, id := range ids {
		rec, err := c.Correlator.Get(ctx, id)
		if err == nil {
			_, err = c.Indexer.Index(ctx, rec)
		}
		if err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "  %s: %v\n", id, err)
		}
	}
	fmt.Printf("Re-indexed %d calls (%d failed)\n", len(ids)-failed, failed)
	return nil
}

func runSweep(args []string) error {
	fs := flag.NewFlagSet("sweep", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	timeout := fs.Duration("timeout", 0, "stage timeout (default: correlation.stage_timeout from config)")
	_ = fs.Parse(args)

	ctx := context.Background()
	c, err := setup(ctx, *configPath, false)
	if err != nil {
		return err
	}
	defer c.Close()
	policy := sweepPolicy(c.Config)
	if *timeout > 0 {
		policy.StageTimeout = *timeout
	}
	res := sweeper.New(c.Correlator, c.Config.Correlation.SweepSchedule, policy, c.Logger).RunOnce(ctx)
	if res == nil {
		return errors.New("sweep failed")
	}
	fmt.Printf("Failed %d stale calls, re-enqueued %d transcripts\n", len(res.Failed), len(res.Requeued))
	for _, id := range res.Failed {
		fmt.Printf("  %s %s\n", id, models.ReasonStageTimeout)
	}
	return nil
}

func sweepPolicy(cfg *config.Config) correlator.SweepPolicy {
	return correlator.SweepPolicy{
		StageTimeout: cfg.Correlation.StageTimeout,
		RequeueAfter: cfg.Correlation.RequeueAfter,
	}
}

func runMCP(args []string) error {
	fs := flag.NewFlagSet("mcp", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	sse := fs.String("sse", "", "serve over SSE on this address instead of stdio")
	_ = fs.Parse(args)

	ctx := context.Background()
	c, err := setup(ctx, *configPath, false)
	if err != nil {
		return err
	}
	defer c.Close()
	agent := mcp.NewServer(c.Config.MCP.Name, version, c.Engine, c.Correlator, c.Logger)
	if *sse != "" {
		c.Logger.Info("serving MCP over SSE", zap.String("addr", *sse), zap.Strings("tools", agent.Tools()))
		return agent.ServeSSE(*sse)
	}
	return agent.ServeStdio()
}

type statusResponse struct {
	Calls          int64             `json:"calls"`
	CallsByStatus  map[string]int64  `json:"calls_by_status"`
	Index          *search.IndexInfo `json:"index,omitempty"`
	DiskUsageBytes int64             `json:"disk_usage_bytes"`
}

func runStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = read local storage directly)")
	output := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(args)
	format, err := cli.ParseOutputFormat(*output)
	if err != nil {
		return err
	}

	ctx := context.Background()
	var res *statusResponse
	if *serverURL != "" {
		res, err = newAPIClient(*serverURL).Status(ctx)
	} else {
		var c *Components
		if c, err = setup(ctx, *configPath, false); err != nil {
			return err
		}
		defer c.Close()
		res, err = localStatus(ctx, c)
	}
	if err != nil {
		return err
	}
	if format == cli.OutputJSON {
		return writeJSON(res)
	}
	printStatus(res)
	return nil
}

func localStatus(ctx context.Context, c *Components) (*statusResponse, error) {
	counts, err := c.Store.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	res := &statusResponse{CallsByStatus: make(map[string]int64, len(counts))}
	for st, n := range counts {
		res.CallsByStatus[string(st)] = n
		res.Calls += n
	}
	if info, err := c.Engine.Info(ctx); err == nil {
		res.Index = info
	}
	s := c.Config.Storage
	res.DiskUsageBytes, _ = storage.DiskUsageBytes(s.DatabasePath, s.VectorIndexPath, s.BleveIndexPath)
	return res, nil
}

func printStatus(res *statusResponse) {
	fmt.Printf("Calls: %d\n", res.Calls)
	counts := make(map[models.Status]int64, len(res.CallsByStatus))
	for st, n := range res.CallsByStatus {
		counts[models.Status(st)] = n
	}
	cli.WriteStatusCounts(os.Stdout, counts)
	if res.Index != nil {
		fmt.Printf("Index: %s, %d documents (%d keyword), %d dimensions\n",
			res.Index.Backend, res.Index.Documents, res.Index.KeywordDocs, res.Index.Dimensions)
	}
	if res.DiskUsageBytes > 0 {
		fmt.Printf("Disk usage: %s\n", formatBytes(res.DiskUsageBytes))
	}
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func writeJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printUsage() {
	fmt.Println(`callmind - Phone call correlation and transcript search

Usage:
  callmind server [flags]                 Start webhooks, query API, indexer and sweeper
  callmind deliver [flags] [key=value...] Inject a provider event (or drain a spool directory)
  callmind search [flags] <query>         Search call transcripts
  callmind recent [flags]                 List recently indexed calls
  callmind get [flags] <call-id>          Show one call record
  callmind reindex [flags]                Re-embed TRANSCRIBED (or, with --all, every) call
  callmind sweep [flags]                  Fail stalled calls and requeue unindexed transcripts
  callmind mcp [flags]                    Serve the MCP tools over stdio (or SSE)
  callmind status [flags]                 Show call counts and index status
  callmind version                        Show version
  callmind help                           Show this help

Common Flags:
  --config string    Config file path (default: /usr/local/etc/callmind/config.yaml)
  --server string    Server URL for search, recent, get and status (default: http://localhost:8080).
                     Use --server "" to read local storage directly.
  --output string    Output format: text or json (default: text)

Examples:
  callmind server --debug
  callmind deliver --call-id CA123 --kind CALL_STARTED from_number=+15551234567 to_number=+15557654321
  callmind deliver --spool /var/spool/callmind
  callmind search "project deadline"
  callmind search --mode hybrid --from +15551234567 "invoice"
  callmind recent --limit 20
  callmind get CA123 --output json
  callmind reindex --all
  callmind sweep --timeout 30m
  callmind mcp`)
}
