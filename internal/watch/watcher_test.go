package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestIgnored(t *testing.T) {
	for _, name := range []string{"__pycache__", ".git", ".forge-deps", "x.pyc", "main.py~", "venv"} {
		assert.True(t, ignored(name), name)
	}
	for _, name := range []string{"main.py", "pkg", ".env", ".env.example", "."} {
		assert.False(t, ignored(name), name)
	}
}

func TestWatcher_BatchesSettledChanges(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "pkg"), 0755))

	batches := make(chan []string, 16)
	w, err := New(root, 50*time.Millisecond, func(_ context.Context, changed []string) {
		select {
		case batches <- changed:
		default:
		}
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		require.NoError(t, <-done)
	}()

	// Give the watcher time to register directories.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.py"), []byte("print(1)\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "pkg", "util.py"), []byte("X = 1\n"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "__pycache__"), 0755))

	seen := map[string]bool{}
	deadline := time.After(5 * time.Second)
	for !(seen["main.py"] && seen["pkg/util.py"]) {
		select {
		case got := <-batches:
			for _, p := range got {
				seen[p] = true
			}
		case <-deadline:
			t.Fatalf("changes not delivered, saw %v", seen)
		}
	}
	assert.False(t, seen["__pycache__"])
	assert.GreaterOrEqual(t, w.Stats().Batches, 1)
}

func TestSettled_WaitsForQuietPeriod(t *testing.T) {
	w := &Watcher{debounceDur: time.Hour, pending: map[string]time.Time{"a.py": time.Now()}}
	assert.Nil(t, w.settled())

	w.debounceDur = time.Nanosecond
	w.pending["b.py"] = time.Now().Add(-time.Second)
	time.Sleep(time.Millisecond)
	assert.Equal(t, []string{"a.py", "b.py"}, w.settled())
	assert.Empty(t, w.pending)
}
