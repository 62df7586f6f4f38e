package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCollectIssueIDsFromArgs(t *testing.T) {
	t.Parallel()

	ids, err := collectIssueIDs([]string{"31091", " 31092 ", ""}, "")
	require.NoError(t, err)
	require.Equal(t, []string{"31091", "31092"}, ids)
}

func TestCollectIssueIDsFromFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "issues.txt")
	require.NoError(t, os.WriteFile(path, []byte("100\n\n# skipped\n200\n  300  \n"), 0o600))

	ids, err := collectIssueIDs([]string{"1"}, path)
	require.NoError(t, err)
	require.Equal(t, []string{"1", "100", "200", "300"}, ids)
}

func TestCollectIssueIDsMissingFile(t *testing.T) {
	t.Parallel()

	_, err := collectIssueIDs(nil, filepath.Join(t.TempDir(), "absent.txt"))
	require.Error(t, err)
}

func TestLoadConfigAppliesFlagOverrides(t *testing.T) {
	flags := &crawlFlags{
		baseURL:   "https://tracker.example.com",
		outputDir: "archive_out",
		engine:    "chromium",
		delayMs:   250,
		retries:   1,
	}
	cfg, err := loadConfig(flags)
	require.NoError(t, err)
	require.Equal(t, "https://tracker.example.com", cfg.Tracker.BaseURL)
	require.Equal(t, "archive_out", cfg.Output.Dir)
	require.Equal(t, "chromium", cfg.PDF.Engine)
	require.Equal(t, 250, cfg.Crawl.DelayMs)
	require.Equal(t, 1, cfg.HTTP.MaxRetries)
}

func TestLoadConfigRejectsMissingBaseURL(t *testing.T) {
	_, err := loadConfig(&crawlFlags{retries: -1})
	require.Error(t, err)
}

func TestLoadConfigRejectsUnknownEngine(t *testing.T) {
	_, err := loadConfig(&crawlFlags{
		baseURL: "https://tracker.example.com",
		engine:  "ghostscript",
		retries: -1,
	})
	require.Error(t, err)
}
