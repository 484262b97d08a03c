//go:build integration
// +build integration

package browser_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/odvcencio/greenlight/pkg/browser"
	"github.com/odvcencio/greenlight/pkg/browser/adapters/pw"
)

// TestPlaywrightLifecycle drives a real browser through the manager.
func TestPlaywrightLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	engine, err := browser.ParseEngine(os.Getenv("GREENLIGHT_BROWSER"))
	if err != nil {
		t.Fatalf("bad GREENLIGHT_BROWSER: %v", err)
	}

	launcher, err := pw.NewLauncher(pw.Config{Install: os.Getenv("GREENLIGHT_INSTALL") == "1"})
	if err != nil {
		t.Fatalf("failed to create launcher: %v", err)
	}
	manager := browser.NewManager(launcher, browser.WithMetrics(browser.NewMetrics()))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if _, err := manager.AcquireShared(ctx, browser.LaunchOptions{Engine: engine, Headless: true}); err != nil {
		t.Skipf("browser not available: %v", err)
	}
	defer manager.ReleaseShared(context.Background())

	videoDir := t.TempDir()
	sess, err := manager.AcquireScoped(ctx, browser.SessionOptions{VideoDir: videoDir, Trace: true})
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}

	t.Run("navigate", func(t *testing.T) {
		if err := sess.Navigate(ctx, "data:text/html,<main><h1>hello</h1><button>go</button></main>"); err != nil {
			t.Fatalf("navigate failed: %v", err)
		}
	})

	t.Run("evaluate", func(t *testing.T) {
		got, err := sess.Evaluate(ctx, "() => document.querySelector('h1').textContent", nil)
		if err != nil {
			t.Fatalf("evaluate failed: %v", err)
		}
		if got != "hello" {
			t.Errorf("expected heading text hello, got %v", got)
		}
	})

	t.Run("keyboard", func(t *testing.T) {
		if err := sess.PressKey(ctx, "Tab"); err != nil {
			t.Fatalf("press failed: %v", err)
		}
		tag, err := sess.Evaluate(ctx, "() => document.activeElement.tagName", nil)
		if err != nil {
			t.Fatalf("evaluate failed: %v", err)
		}
		t.Logf("focused element after Tab: %v", tag)
	})

	t.Run("screenshot", func(t *testing.T) {
		data, err := sess.Screenshot(ctx, browser.ScreenshotOptions{FullPage: true})
		if err != nil {
			t.Fatalf("screenshot failed: %v", err)
		}
		if len(data) < 8 || string(data[1:4]) != "PNG" {
			t.Error("expected PNG bytes")
		}
	})

	t.Run("trace", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "trace.zip")
		if err := sess.StopTrace(ctx, path); err != nil {
			t.Fatalf("stop trace failed: %v", err)
		}
		if _, err := os.Stat(path); err != nil {
			t.Errorf("trace not written: %v", err)
		}
	})

	if err := manager.ReleaseScoped(ctx, sess); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if !sess.Closed() {
		t.Error("expected session to be closed")
	}
	if _, err := sess.Screenshot(ctx, browser.ScreenshotOptions{}); err == nil {
		t.Error("expected screenshot on closed session to fail")
	}

	video, err := sess.VideoPath()
	if err != nil {
		t.Fatalf("video path: %v", err)
	}
	if _, err := os.Stat(video); err != nil {
		t.Errorf("video not finalized: %v", err)
	}

	if got := manager.Metrics().Snapshot(); got.SessionsCreated != 1 || got.SessionsClosed != 1 {
		t.Errorf("unexpected session counters: %+v", got)
	}
}
