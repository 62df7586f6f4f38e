package render

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/redarc/redarc/internal/archive"
)

// paper dimensions in inches by page-size name.
var paperSizes = map[string][2]float64{
	"A4":     {8.27, 11.69},
	"Letter": {8.5, 11.0},
	"Legal":  {8.5, 14.0},
}

// ChromiumConfig controls the headless-Chrome PDF engine.
type ChromiumConfig struct {
	PageSize    string
	Margin      string
	Timeout     time.Duration
	MaxParallel int
}

// Chromium renders issue HTML through headless Chrome's print-to-PDF. It is
// the alternative to the wkhtmltopdf subprocess for hosts without that tool.
// A single browser process is shared; concurrent renders are bounded by a
// slot semaphore.
type Chromium struct {
	allocatorCancel context.CancelFunc
	browserCtx      context.Context
	browserCancel   context.CancelFunc
	sem             chan struct{}
	cfg             ChromiumConfig
	logger          *zap.Logger
}

// NewChromium starts the shared browser. The caller must Close it.
func NewChromium(cfg ChromiumConfig, logger *zap.Logger) (*Chromium, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	opts := chromedp.DefaultExecAllocatorOptions[:]
	opts = append(opts,
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
	)
	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocatorCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}

	return &Chromium{
		allocatorCancel: allocatorCancel,
		browserCtx:      browserCtx,
		browserCancel:   browserCancel,
		sem:             make(chan struct{}, cfg.MaxParallel),
		cfg:             cfg,
		logger:          logger,
	}, nil
}

// Close tears down the browser and allocator.
func (c *Chromium) Close() {
	if c == nil {
		return
	}
	c.browserCancel()
	c.allocatorCancel()
}

// Render prints html to a PDF at outputPath.
func (c *Chromium) Render(ctx context.Context, html []byte, outputPath string) error {
	select {
	case c.sem <- struct{}{}:
		defer func() { <-c.sem }()
	case <-ctx.Done():
		return &archive.RenderError{Kind: archive.RenderTimeout, ExitCode: -1, Err: ctx.Err()}
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o750); err != nil {
		return &archive.RenderError{Kind: archive.RenderToolFailure, ExitCode: -1, Err: err}
	}

	// Chrome needs a navigable URL; stage the document in a temp file.
	tmp, err := os.CreateTemp("", "redarc-*.html")
	if err != nil {
		return &archive.RenderError{Kind: archive.RenderToolFailure, ExitCode: -1, Err: err}
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(html); err != nil {
		_ = tmp.Close()
		return &archive.RenderError{Kind: archive.RenderToolFailure, ExitCode: -1, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &archive.RenderError{Kind: archive.RenderToolFailure, ExitCode: -1, Err: err}
	}

	tabCtx, cancelTab := chromedp.NewContext(c.browserCtx)
	defer cancelTab()
	taskCtx, cancelTask := context.WithTimeout(tabCtx, c.cfg.Timeout)
	defer cancelTask()
	stopForward := forwardCancel(ctx, cancelTask)
	defer stopForward()

	pdf, err := c.print(taskCtx, "file://"+tmp.Name())
	if err != nil {
		if taskCtx.Err() == context.DeadlineExceeded {
			return &archive.RenderError{
				Kind:     archive.RenderTimeout,
				ExitCode: -1,
				Err:      fmt.Errorf("chrome print exceeded %s", c.cfg.Timeout),
			}
		}
		return &archive.RenderError{Kind: archive.RenderToolFailure, ExitCode: -1, Err: err}
	}

	if err := os.WriteFile(outputPath, pdf, 0o600); err != nil {
		return &archive.RenderError{Kind: archive.RenderToolFailure, ExitCode: -1, Err: err}
	}
	c.logger.Debug("pdf rendered", zap.String("path", outputPath), zap.Int("bytes", len(pdf)))
	return nil
}

func (c *Chromium) print(ctx context.Context, url string) ([]byte, error) {
	size, ok := paperSizes[c.cfg.PageSize]
	if !ok {
		size = paperSizes["A4"]
	}
	margin := parseInches(c.cfg.Margin)

	var pdf []byte
	tasks := chromedp.Tasks{
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			pdf, _, err = page.PrintToPDF().
				WithPaperWidth(size[0]).
				WithPaperHeight(size[1]).
				WithMarginTop(margin).
				WithMarginBottom(margin).
				WithMarginLeft(margin).
				WithMarginRight(margin).
				WithPrintBackground(true).
				Do(ctx)
			return err
		}),
	}
	if err := chromedp.Run(ctx, tasks); err != nil {
		return nil, fmt.Errorf("chromedp run: %w", err)
	}
	return pdf, nil
}

// parseInches reads values like "0.75in"; anything unparsable yields 0.
func parseInches(margin string) float64 {
	margin = strings.TrimSuffix(strings.TrimSpace(margin), "in")
	if margin == "" {
		return 0
	}
	v, err := strconv.ParseFloat(margin, 64)
	if err != nil || v < 0 {
		return 0
	}
	return v
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
