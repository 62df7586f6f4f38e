package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/redarc/redarc/internal/api"
	"github.com/redarc/redarc/internal/archive"
	"github.com/redarc/redarc/internal/attach"
	"github.com/redarc/redarc/internal/config"
	"github.com/redarc/redarc/internal/fetch"
	"github.com/redarc/redarc/internal/logging"
	"github.com/redarc/redarc/internal/orchestrator"
	"github.com/redarc/redarc/internal/parser"
	"github.com/redarc/redarc/internal/progress"
	"github.com/redarc/redarc/internal/progress/sinks"
	"github.com/redarc/redarc/internal/ratelimit"
	"github.com/redarc/redarc/internal/render"
	"github.com/redarc/redarc/internal/storage/postgres"
	"github.com/redarc/redarc/internal/store"
)

type crawlFlags struct {
	cookie     string
	issuesFile string
	baseURL    string
	outputDir  string
	engine     string
	delayMs    int
	timeoutMs  int
	retries    int
}

func newCrawlCmd() *cobra.Command {
	flags := &crawlFlags{}
	cmd := &cobra.Command{
		Use:   "crawl [issue-id ...]",
		Short: "Fetch, archive and render the given issues",
		Long: `Processes each issue identifier through the full pipeline: fetch the
page with the session cookie, extract title, description, comments and
attachment links, download every attachment, and render the page to
<issueId>_<title>.pdf. Identifiers come from the arguments, from
--issues-file (one id per line), or both.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCrawl(cmd, args, flags)
		},
	}

	cmd.Flags().StringVar(&flags.cookie, "cookie", "", "session cookie value (or REDARC_SESSION_COOKIE)")
	cmd.Flags().StringVar(&flags.issuesFile, "issues-file", "", "file with one issue id per line")
	cmd.Flags().StringVar(&flags.baseURL, "base-url", "", "tracker base URL (overrides config)")
	cmd.Flags().StringVar(&flags.outputDir, "output", "", "output directory (overrides config)")
	cmd.Flags().StringVar(&flags.engine, "engine", "", "pdf engine: wkhtmltopdf or chromium")
	cmd.Flags().IntVar(&flags.delayMs, "delay-ms", 0, "inter-request delay override in milliseconds")
	cmd.Flags().IntVar(&flags.timeoutMs, "timeout-ms", 0, "per-request timeout override in milliseconds")
	cmd.Flags().IntVar(&flags.retries, "retries", -1, "max retry override for transient fetch failures")
	return cmd
}

func runCrawl(cmd *cobra.Command, args []string, flags *crawlFlags) error {
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}

	issueIDs, err := collectIssueIDs(args, flags.issuesFile)
	if err != nil {
		return err
	}
	if len(issueIDs) == 0 {
		return errors.New("no issue ids given; pass them as arguments or via --issues-file")
	}

	cookie := flags.cookie
	if cookie == "" {
		cookie = os.Getenv("REDARC_SESSION_COOKIE")
	}
	if cookie == "" {
		return errors.New("a session cookie is required (--cookie or REDARC_SESSION_COOKIE)")
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	overrides := archive.Overrides{
		Delay:   time.Duration(flags.delayMs) * time.Millisecond,
		Timeout: time.Duration(flags.timeoutMs) * time.Millisecond,
	}
	if flags.retries > 0 {
		overrides.MaxRetries = flags.retries
	}

	pipe, cleanup, err := buildPipeline(ctx, cfg, cookie, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	orch, err := orchestrator.New(orchestrator.Config{
		BaseURL:               cfg.Tracker.BaseURL,
		Concurrency:           cfg.Crawl.Concurrency,
		UnauthorizedThreshold: cfg.Crawl.UnauthorizedThreshold,
		PDFDir:                filepath.Join(cfg.Output.Dir, cfg.Output.PDFDir),
	}, pipe.deps)
	if err != nil {
		return fmt.Errorf("init orchestrator: %w", err)
	}

	runID := uuid.New()
	started := time.Now().UTC()
	if pipe.repo != nil {
		if err := pipe.repo.BeginRun(ctx, runID, started, len(issueIDs)); err != nil {
			logger.Warn("begin run not recorded", zap.Error(err))
		}
	}

	result, runErr := orch.Run(ctx, archive.CrawlRequest{
		IssueIDs:  issueIDs,
		OutputDir: cfg.Output.Dir,
		Overrides: overrides,
		RunID:     runID,
	})

	// Flush progress before completing the run so every outcome row exists.
	closeCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	pipe.closeHub(closeCtx)
	cancel()

	if pipe.repo != nil {
		completeRun(pipe.repo, runID, runErr, logger)
	}

	printSummary(result, logger)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return fmt.Errorf("run aborted: %w", runErr)
	}
	return nil
}

func loadConfig(flags *crawlFlags) (config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, err
	}
	if flags.baseURL != "" {
		cfg.Tracker.BaseURL = flags.baseURL
	}
	if flags.outputDir != "" {
		cfg.Output.Dir = flags.outputDir
	}
	if flags.engine != "" {
		cfg.PDF.Engine = flags.engine
	}
	if flags.delayMs > 0 {
		cfg.Crawl.DelayMs = flags.delayMs
	}
	if flags.retries >= 0 {
		cfg.HTTP.MaxRetries = flags.retries
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// pipeline bundles the composed stages plus their teardown hooks.
type pipeline struct {
	deps     orchestrator.Deps
	repo     store.ArchiveRepository
	closeHub func(context.Context)
}

func buildPipeline(
	ctx context.Context,
	cfg config.Config,
	cookie string,
	logger *zap.Logger,
) (*pipeline, func(), error) {
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	gate := ratelimit.New(cfg.Delay())

	client := fetch.New(fetch.Config{
		CookieName:     cfg.Tracker.CookieName,
		Cookie:         cookie,
		UserAgent:      cfg.Tracker.UserAgent,
		Timeout:        cfg.HTTPTimeout(),
		MaxRetries:     cfg.HTTP.MaxRetries,
		BackoffInitial: time.Duration(cfg.HTTP.BackoffInitialMs) * time.Millisecond,
		BackoffMax:     time.Duration(cfg.HTTP.BackoffMaxMs) * time.Millisecond,
	}, gate, logger.Named("fetch"))

	pageParser, err := parser.New(cfg.Tracker.BaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("init parser: %w", err)
	}

	attachRoot := filepath.Join(cfg.Output.Dir, cfg.Output.AttachmentsDir)
	coordinator := attach.New(client, attachRoot, cfg.Crawl.AttachmentParallel, logger.Named("attach"))

	renderer, err := buildRenderer(cfg, cookie, logger, &cleanups)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	var repo store.ArchiveRepository
	if cfg.DB.DSN != "" {
		archiveStore, storeErr := postgres.NewArchiveStore(ctx, cfg.DB.DSN)
		if storeErr != nil {
			cleanup()
			return nil, nil, fmt.Errorf("init archive store: %w", storeErr)
		}
		cleanups = append(cleanups, archiveStore.Close)
		repo = archiveStore
	}

	registry := prometheus.NewRegistry()
	hubSinks := []progress.Sink{sinks.NewLogSink(logger.Named("progress"))}
	if cfg.Metrics.Addr != "" {
		promSink, promErr := sinks.NewPrometheusSink(registry)
		if promErr != nil {
			cleanup()
			return nil, nil, fmt.Errorf("init metrics: %w", promErr)
		}
		hubSinks = append(hubSinks, promSink)
	}
	if repo != nil {
		hubSinks = append(hubSinks, sinks.NewStoreSink(repo, logger.Named("store")))
	}
	hub := progress.NewHub(progress.HubConfig{Logger: logger.Named("hub")}, hubSinks...)

	if cfg.Metrics.Addr != "" {
		startMetricsServer(cfg.Metrics.Addr, repo, registry, logger, &cleanups)
	}

	return &pipeline{
		deps: orchestrator.Deps{
			Fetcher:      client,
			Parser:       pageParser,
			Attachments:  coordinator,
			Renderer:     renderer,
			Emitter:      hub,
			Unauthorized: client,
			Logger:       logger.Named("orchestrator"),
		},
		repo: repo,
		closeHub: func(ctx context.Context) {
			if err := hub.Close(ctx); err != nil {
				logger.Warn("progress hub close", zap.Error(err))
			}
		},
	}, cleanup, nil
}

func buildRenderer(
	cfg config.Config,
	cookie string,
	logger *zap.Logger,
	cleanups *[]func(),
) (archive.Renderer, error) {
	switch cfg.PDF.Engine {
	case "chromium":
		chromium, err := render.NewChromium(render.ChromiumConfig{
			PageSize:    cfg.PDF.PageSize,
			Margin:      cfg.PDF.MarginInches,
			Timeout:     cfg.RenderTimeout(),
			MaxParallel: cfg.PDF.MaxParallel,
		}, logger.Named("render"))
		if err != nil {
			return nil, fmt.Errorf("init chromium renderer: %w", err)
		}
		*cleanups = append(*cleanups, chromium.Close)
		return chromium, nil
	default:
		return render.NewWKHTMLToPDF(render.WKConfig{
			BinaryPath: cfg.PDF.BinaryPath,
			PageSize:   cfg.PDF.PageSize,
			Margin:     cfg.PDF.MarginInches,
			Timeout:    cfg.RenderTimeout(),
			CookieName: cfg.Tracker.CookieName,
			Cookie:     cookie,
		}, logger.Named("render")), nil
	}
}

func startMetricsServer(
	addr string,
	repo store.ArchiveRepository,
	registry *prometheus.Registry,
	logger *zap.Logger,
	cleanups *[]func(),
) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.NewServer(repo, registry, logger.Named("api")).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics listener stopped", zap.Error(err))
		}
	}()
	*cleanups = append(*cleanups, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	})
}

func collectIssueIDs(args []string, issuesFile string) ([]string, error) {
	ids := make([]string, 0, len(args))
	for _, arg := range args {
		if id := strings.TrimSpace(arg); id != "" {
			ids = append(ids, id)
		}
	}
	if issuesFile == "" {
		return ids, nil
	}
	f, err := os.Open(issuesFile)
	if err != nil {
		return nil, fmt.Errorf("open issues file: %w", err)
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ids = append(ids, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read issues file: %w", err)
	}
	return ids, nil
}

func completeRun(
	repo store.ArchiveRepository,
	runID uuid.UUID,
	runErr error,
	logger *zap.Logger,
) {
	status := store.RunCompleted
	var msg *string
	if runErr != nil {
		status = store.RunAborted
		errText := runErr.Error()
		msg = &errText
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := repo.CompleteRun(ctx, runID, time.Now().UTC(), status, msg); err != nil {
		logger.Warn("complete run not recorded", zap.Error(err))
	}
}

func printSummary(result archive.CrawlResult, logger *zap.Logger) {
	logger.Info("run finished",
		zap.Int("requested", result.Requested),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("partially_failed", result.PartiallyFailed),
		zap.Int("failed", result.Failed),
		zap.Int("incomplete", result.Incomplete),
		zap.Duration("elapsed", result.Elapsed),
	)
	encoded, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return
	}
	fmt.Println(string(encoded))
}
