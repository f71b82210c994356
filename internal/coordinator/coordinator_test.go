package coordinator

import (
	"context"
	"os"
	"path/filepath"
	"sieve/internal/capsule"
	"sieve/internal/config"
	"sieve/internal/lock"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoTransformer turns any text into a capsule titled by its first line
type echoTransformer struct{}

func (echoTransformer) Text(ctx context.Context, content, sourceURL string, method capsule.CaptureMethod) (*capsule.Capsule, error) {
	title := strings.SplitN(strings.TrimSpace(content), "\n", 2)[0]
	c := capsule.New(title, "Notes", []string{"test"}, method, time.Now())
	c.Metadata.SourceURL = sourceURL
	c.ExecutiveSummary = "Summary"
	c.CoreInsight = "Insight"
	c.FullContent = content
	return c, nil
}

func (e echoTransformer) ImageFile(ctx context.Context, path string, method capsule.CaptureMethod) (*capsule.Capsule, error) {
	return e.Text(ctx, filepath.Base(path), "", method)
}

func (e echoTransformer) ImageBase64(ctx context.Context, data, sourceURL string, method capsule.CaptureMethod) (*capsule.Capsule, error) {
	return e.Text(ctx, "Screenshot", sourceURL, method)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.VaultRoot = t.TempDir()
	cfg.Server.Port = 0
	cfg.Processing.DebounceMS = 10
	cfg.Logging.FileEnabled = false
	return cfg
}

func capsuleFiles(t *testing.T, cfg *config.Config) []string {
	t.Helper()
	var out []string
	filepath.WalkDir(cfg.CapsulesPath(), func(path string, d os.DirEntry, err error) error {
		if err == nil && !d.IsDir() && strings.HasSuffix(path, ".md") && d.Name() != "INDEX.md" {
			out = append(out, path)
		}
		return nil
	})
	return out
}

func start(t *testing.T, c *Coordinator) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(ctx) }()
	return cancel, errCh
}

func waitStopped(t *testing.T, errCh <-chan error) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(15 * time.Second):
		t.Fatal("coordinator did not stop")
		return nil
	}
}

func TestRunProcessesInboxAndReleasesLock(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, cfg.EnsureVault())
	note := filepath.Join(cfg.InboxPath(), "note.txt")
	require.NoError(t, os.WriteFile(note, []byte("Queued Before Start\n\nSome text that was waiting in the inbox."), 0644))

	c, err := New(cfg, echoTransformer{}, nil)
	require.NoError(t, err)
	cancel, errCh := start(t, c)

	require.Eventually(t, func() bool { return len(capsuleFiles(t, cfg)) == 1 }, 10*time.Second, 20*time.Millisecond)

	// Files dropped while running are picked up by the watcher
	require.NoError(t, os.WriteFile(filepath.Join(cfg.InboxPath(), "later.md"), []byte("Dropped While Running\n\nMore text for the pipeline."), 0644))
	require.Eventually(t, func() bool { return len(capsuleFiles(t, cfg)) == 2 }, 10*time.Second, 20*time.Millisecond)

	assert.NoFileExists(t, note)
	assert.FileExists(t, cfg.IndexPath())

	l := lock.New(LockName, cfg.PIDDir(), nil)
	pid, ok := l.PID()
	require.True(t, ok)
	assert.Equal(t, os.Getpid(), pid)

	cancel()
	assert.NoError(t, waitStopped(t, errCh))
	assert.NoFileExists(t, l.Path())
}

func TestSecondCoordinatorRefused(t *testing.T) {
	cfg := testConfig(t)

	first, err := New(cfg, echoTransformer{}, nil)
	require.NoError(t, err)
	cancel, errCh := start(t, first)
	defer func() {
		cancel()
		waitStopped(t, errCh)
	}()

	pidFile := lock.New(LockName, cfg.PIDDir(), nil).Path()
	require.Eventually(t, func() bool {
		_, err := os.Stat(pidFile)
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)

	second, err := New(cfg, echoTransformer{}, nil)
	require.NoError(t, err)
	assert.ErrorIs(t, second.Run(context.Background()), lock.ErrHeld)
}
