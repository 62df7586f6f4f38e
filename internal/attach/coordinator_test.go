package attach

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/redarc/redarc/internal/archive"
)

// fakeFetcher serves canned bodies keyed by URL.
type fakeFetcher struct {
	mu     sync.Mutex
	bodies map[string][]byte
	fail   map[string]error
	// active tracks concurrent Fetch calls for the bound assertion.
	active    atomic.Int64
	maxActive atomic.Int64
	delay     time.Duration
}

func (f *fakeFetcher) Fetch(_ context.Context, url string, _ http.Header) ([]byte, error) {
	cur := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		prev := f.maxActive.Load()
		if cur <= prev || f.maxActive.CompareAndSwap(prev, cur) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.fail[url]; ok {
		return nil, err
	}
	return f.bodies[url], nil
}

func ref(issueID, url, name string) archive.AttachmentRef {
	return archive.AttachmentRef{URL: url, Filename: name, IssueID: issueID}
}

func TestDownloadAllWritesPerIssueSubdirectory(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	f := &fakeFetcher{bodies: map[string][]byte{
		"https://t/a/1": []byte("alpha"),
		"https://t/a/2": []byte("beta"),
	}}
	c := New(f, root, 2, zap.NewNop())

	results := c.DownloadAll(context.Background(), []archive.AttachmentRef{
		ref("31091", "https://t/a/1", "report.txt"),
		ref("31091", "https://t/a/2", "diagram.png"),
	})

	require.Len(t, results, 2)
	for _, r := range results {
		require.NoError(t, r.Err)
	}
	data, err := os.ReadFile(filepath.Join(root, "31091", "report.txt"))
	require.NoError(t, err)
	require.Equal(t, []byte("alpha"), data)
	require.FileExists(t, filepath.Join(root, "31091", "diagram.png"))
}

func TestDownloadAllFailureIsolation(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	f := &fakeFetcher{
		bodies: map[string][]byte{
			"https://t/a/1": []byte("one"),
			"https://t/a/3": []byte("three"),
		},
		fail: map[string]error{
			"https://t/a/2": &archive.FetchError{Kind: archive.FetchTimeout, URL: "https://t/a/2", Attempts: 3},
		},
	}
	c := New(f, root, 3, zap.NewNop())

	results := c.DownloadAll(context.Background(), []archive.AttachmentRef{
		ref("7", "https://t/a/1", "a.txt"),
		ref("7", "https://t/a/2", "b.txt"),
		ref("7", "https://t/a/3", "c.txt"),
	})

	require.Len(t, results, 3)
	require.NoError(t, results[0].Err)
	require.Error(t, results[1].Err)
	require.NoError(t, results[2].Err)
	require.FileExists(t, filepath.Join(root, "7", "a.txt"))
	require.FileExists(t, filepath.Join(root, "7", "c.txt"))
	require.NoFileExists(t, filepath.Join(root, "7", "b.txt"))
}

func TestDownloadAllRespectsParallelBound(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{bodies: map[string][]byte{}, delay: 20 * time.Millisecond}
	refs := make([]archive.AttachmentRef, 8)
	for i := range refs {
		refs[i] = ref("1", "https://t/a/x", "x.bin")
	}
	c := New(f, t.TempDir(), 2, zap.NewNop())
	c.DownloadAll(context.Background(), refs)

	require.LessOrEqual(t, f.maxActive.Load(), int64(2))
}

func TestDownloadAllOverwritesExisting(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	target := filepath.Join(root, "9", "data.bin")
	require.NoError(t, os.MkdirAll(filepath.Dir(target), 0o750))
	require.NoError(t, os.WriteFile(target, []byte("old"), 0o600))

	f := &fakeFetcher{bodies: map[string][]byte{"https://t/a/9": []byte("new")}}
	c := New(f, root, 1, zap.NewNop())
	results := c.DownloadAll(context.Background(), []archive.AttachmentRef{
		ref("9", "https://t/a/9", "data.bin"),
	})

	require.NoError(t, results[0].Err)
	data, err := os.ReadFile(target)
	require.NoError(t, err)
	require.Equal(t, []byte("new"), data)
}

func TestDownloadAllEmptyRefs(t *testing.T) {
	t.Parallel()

	c := New(&fakeFetcher{}, t.TempDir(), 2, zap.NewNop())
	require.Nil(t, c.DownloadAll(context.Background(), nil))
}

func TestSanitizeFilename(t *testing.T) {
	t.Parallel()

	require.Equal(t, "a_b_c", sanitizeFilename(`a/b\c`))
	require.Equal(t, "trace.txt", sanitizeFilename(" trace.txt "))
	require.Equal(t, "unnamed_file", sanitizeFilename(" . "))
	require.NotContains(t, sanitizeFilename(`x:y?z*`), ":")
}
