package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/referwell/matcher/internal/calibration"
	"github.com/referwell/matcher/internal/config"
)

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0600)
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestWatcher_debouncesChangesToWatchedFile(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "calibration.yaml")
	if err := writeFile(target, "v1"); err != nil {
		t.Fatal(err)
	}

	var (
		mu      sync.Mutex
		changed []string
	)
	w := NewWatcher([]string{target}, func(path string) {
		mu.Lock()
		changed = append(changed, path)
		mu.Unlock()
	}, WithDebounce(100*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	for i := 0; i < 5; i++ {
		if err := writeFile(target, "v2"); err != nil {
			t.Fatal(err)
		}
	}
	if err := writeFile(filepath.Join(dir, "other.yaml"), "ignored"); err != nil {
		t.Fatal(err)
	}

	eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(changed) >= 1
	})
	time.Sleep(300 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if len(changed) != 1 {
		t.Errorf("expected one debounced callback, got %d: %v", len(changed), changed)
	}
	if filepath.Base(changed[0]) != "calibration.yaml" {
		t.Errorf("callback for unexpected file %q", changed[0])
	}
}

func TestWatcher_StopCancelsPending(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "a.yaml")
	if err := writeFile(target, "x"); err != nil {
		t.Fatal(err)
	}
	called := make(chan struct{}, 1)
	w := NewWatcher([]string{target}, func(string) { called <- struct{}{} }, WithDebounce(300*time.Millisecond))
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(target, "y"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)
	w.Stop()
	w.Stop()
	select {
	case <-called:
		t.Error("callback ran after Stop")
	case <-time.After(500 * time.Millisecond):
	}
}

func TestWatcher_StartFailsForMissingDirectory(t *testing.T) {
	w := NewWatcher([]string{filepath.Join(t.TempDir(), "missing", "a.yaml")}, func(string) {})
	if err := w.Start(context.Background()); err == nil {
		w.Stop()
		t.Fatal("expected error watching a missing directory")
	}
}

const isotonicV1 = "method: isotonic\nversion: v1\nisotonic:\n  x: [0, 1]\n  y: [0.1, 0.9]\n"
const isotonicV2 = "method: isotonic\nversion: v2\nisotonic:\n  x: [0, 1]\n  y: [0.2, 0.8]\n"

func TestWatchCalibration_reloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calibration.yaml")
	if err := writeFile(path, isotonicV1); err != nil {
		t.Fatal(err)
	}
	reg, err := calibration.NewRegistry(config.CalibrationConfig{Method: config.CalibrationIsotonic, ArtifactPath: path}, nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w, err := WatchCalibration(ctx, reg, nil, WithDebounce(50*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if err := writeFile(path, "method: isotonic\nisotonic: {x: [1, 0], y: [0, 1]}\n"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(300 * time.Millisecond)
	if v := reg.Current().Model.Version(); v != "v1" {
		t.Fatalf("rejected artifact replaced the model: version %q", v)
	}

	if err := writeFile(path, isotonicV2); err != nil {
		t.Fatal(err)
	}
	eventually(t, func() bool { return reg.Current().Model.Version() == "v2" })
}

func TestWatchCalibration_noArtifactPath(t *testing.T) {
	reg := calibration.NewStaticRegistry(calibration.Identity{})
	w, err := WatchCalibration(context.Background(), reg, nil)
	if err != nil || w != nil {
		t.Fatalf("expected no watcher, got %v, %v", w, err)
	}
}
