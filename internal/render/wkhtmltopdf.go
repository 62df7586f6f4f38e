package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/redarc/redarc/internal/archive"
)

// WKConfig controls the wkhtmltopdf subprocess renderer.
type WKConfig struct {
	// BinaryPath locates the wkhtmltopdf executable; bare names resolve via
	// PATH.
	BinaryPath string
	PageSize   string
	Margin     string
	Timeout    time.Duration
	// CookieName/Cookie let the tool fetch session-protected assets
	// referenced by the page.
	CookieName string
	Cookie     string
}

// WKHTMLToPDF renders issue HTML by piping it to the external wkhtmltopdf
// tool. The renderer performs no retries; failures are reported to the
// orchestrator as *archive.RenderError.
type WKHTMLToPDF struct {
	cfg    WKConfig
	logger *zap.Logger
}

// NewWKHTMLToPDF builds the subprocess renderer.
func NewWKHTMLToPDF(cfg WKConfig, logger *zap.Logger) *WKHTMLToPDF {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BinaryPath == "" {
		cfg.BinaryPath = "wkhtmltopdf"
	}
	if cfg.PageSize == "" {
		cfg.PageSize = "A4"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &WKHTMLToPDF{cfg: cfg, logger: logger}
}

// Render writes html to the tool's stdin and expects a PDF at outputPath.
func (r *WKHTMLToPDF) Render(ctx context.Context, html []byte, outputPath string) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o750); err != nil {
		return &archive.RenderError{Kind: archive.RenderToolFailure, ExitCode: -1, Err: err}
	}

	runCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, r.cfg.BinaryPath, r.args(outputPath)...)
	cmd.Stdin = bytes.NewReader(html)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	if err != nil {
		if runCtx.Err() != nil {
			return &archive.RenderError{
				Kind:     archive.RenderTimeout,
				ExitCode: -1,
				Err:      fmt.Errorf("%s exceeded %s", r.cfg.BinaryPath, r.cfg.Timeout),
			}
		}
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		return &archive.RenderError{
			Kind:     archive.RenderToolFailure,
			ExitCode: exitCode,
			Err:      fmt.Errorf("%w: %s", err, bytes.TrimSpace(stderr.Bytes())),
		}
	}

	info, statErr := os.Stat(outputPath)
	if statErr != nil || info.Size() == 0 {
		return &archive.RenderError{
			Kind:     archive.RenderToolFailure,
			ExitCode: 0,
			Err:      fmt.Errorf("tool exited cleanly but produced no output at %s", outputPath),
		}
	}

	r.logger.Debug("pdf rendered",
		zap.String("path", outputPath),
		zap.Int64("bytes", info.Size()),
		zap.Duration("dur", time.Since(start)),
	)
	return nil
}

func (r *WKHTMLToPDF) args(outputPath string) []string {
	args := []string{
		"--quiet",
		"--encoding", "utf-8",
		"--page-size", r.cfg.PageSize,
	}
	if r.cfg.Margin != "" {
		args = append(args,
			"--margin-top", r.cfg.Margin,
			"--margin-right", r.cfg.Margin,
			"--margin-bottom", r.cfg.Margin,
			"--margin-left", r.cfg.Margin,
		)
	}
	if r.cfg.Cookie != "" {
		args = append(args, "--cookie", r.cfg.CookieName, r.cfg.Cookie)
	}
	// "-" reads the document from stdin.
	return append(args, "-", outputPath)
}
