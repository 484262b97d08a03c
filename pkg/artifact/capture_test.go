package artifact

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/odvcencio/greenlight/pkg/browser"
	"github.com/odvcencio/greenlight/pkg/browser/browsertest"
	gerrors "github.com/odvcencio/greenlight/pkg/errors"
	"github.com/odvcencio/greenlight/pkg/telemetry"
)

var fixedTime = time.Date(2024, 5, 1, 12, 30, 45, 123456789, time.UTC)

func TestLayout_Ensure(t *testing.T) {
	layout := NewLayout(t.TempDir())
	require.NoError(t, layout.Ensure())

	for _, dir := range []string{"screenshots", "videos", "traces", "a11y"} {
		info, err := os.Stat(filepath.Join(layout.Root, dir))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
	assert.Equal(t, DefaultRoot, NewLayout("").Root)
}

func TestCapture_WritesScreenshot(t *testing.T) {
	layout := NewLayout(t.TempDir())
	hub := telemetry.NewHub()
	defer hub.Close()
	events, unsub := hub.Subscribe()
	defer unsub()

	c := NewCapturer(layout, WithClock(func() time.Time { return fixedTime }), WithHub(hub))
	sess := browsertest.NewSession("s1")

	a, err := c.Capture(context.Background(), sess, "login fails")
	require.NoError(t, err)

	assert.Equal(t, KindScreenshot, a.Kind)
	assert.Equal(t, filepath.Join(layout.Root, "screenshots", "login_fails-2024-05-01_12-30-45.123456789.png"), a.Path)
	data, err := os.ReadFile(a.Path)
	require.NoError(t, err)
	assert.Equal(t, browsertest.PNG, data)
	assert.Equal(t, int64(len(data)), a.Size)

	ev := <-events
	assert.Equal(t, telemetry.EventArtifactCaptured, ev.Type)
	assert.Equal(t, a.Path, ev.Data["path"])
}

func TestCapture_ClosedSessionFailsFast(t *testing.T) {
	c := NewCapturer(NewLayout(t.TempDir()))
	sess := browsertest.NewSession("s1")
	require.NoError(t, sess.Close(context.Background()))

	a, err := c.Capture(context.Background(), sess, "unit")
	assert.Nil(t, a)
	require.Error(t, err)
	assert.True(t, gerrors.IsDiagnostic(err))
	assert.ErrorIs(t, err, browser.ErrSessionClosed)
	assert.NotContains(t, sess.Ops(), "screenshot", "driver must not be touched")

	_, err = c.Capture(context.Background(), nil, "unit")
	assert.ErrorIs(t, err, browser.ErrSessionClosed)
}

func TestCapture_DriverErrorIsDiagnostic(t *testing.T) {
	boom := errors.New("page crashed")
	sess := browsertest.NewSession("s1")
	sess.ScreenshotErr = boom

	_, err := NewCapturer(NewLayout(t.TempDir())).Capture(context.Background(), sess, "unit")
	require.Error(t, err)
	assert.True(t, gerrors.IsDiagnostic(err))
	assert.ErrorIs(t, err, boom)
}

func TestCapture_SameInstantNeverCollides(t *testing.T) {
	c := NewCapturer(NewLayout(t.TempDir()), WithClock(func() time.Time { return fixedTime }))
	sess := browsertest.NewSession("s1")

	seen := make(map[string]bool)
	for i := 0; i < 5; i++ {
		a, err := c.Capture(context.Background(), sess, "checkout")
		require.NoError(t, err)
		assert.False(t, seen[a.Path], "duplicate path %s", a.Path)
		seen[a.Path] = true
	}
	assert.True(t, seen[filepath.Join(c.Layout().Dir(KindScreenshot), "checkout-2024-05-01_12-30-45.123456789-4.png")])
}

func TestLayout_UniqueNamesProperty(t *testing.T) {
	root := t.TempDir()
	rapid.Check(t, func(rt *rapid.T) {
		layout := NewLayout(filepath.Join(root, rapid.StringMatching(`[a-z]{8}`).Draw(rt, "dir")))
		units := rapid.SliceOfN(rapid.SampledFrom([]string{"a", "b", "a/b", "ä", ""}), 1, 20).Draw(rt, "units")

		seen := make(map[string]bool)
		for _, unit := range units {
			path, err := layout.Write(KindScreenshot, unit, fixedTime, []byte("x"))
			if err != nil {
				rt.Fatalf("write: %v", err)
			}
			if seen[path] {
				rt.Fatalf("duplicate path %s", path)
			}
			if filepath.Dir(path) != layout.Dir(KindScreenshot) {
				rt.Fatalf("escaped layout: %s", path)
			}
			seen[path] = true
		}
	})
}

func TestCaptureTrace(t *testing.T) {
	c := NewCapturer(NewLayout(t.TempDir()), WithClock(func() time.Time { return fixedTime }))
	sess := browsertest.NewSession("s1")

	a, err := c.CaptureTrace(context.Background(), sess, "search")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(a.Path, ".zip"))
	assert.Equal(t, filepath.Join(c.Layout().Root, "traces"), filepath.Dir(a.Path))
	assert.Positive(t, a.Size)
}

func TestKeepVideo(t *testing.T) {
	layout := NewLayout(t.TempDir())
	c := NewCapturer(layout, WithClock(func() time.Time { return fixedTime }))
	ctx := context.Background()

	b := browsertest.NewBrowser(browser.EngineChromium)
	s, err := b.NewSession(ctx, browser.SessionOptions{ID: "v1", VideoDir: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, s.Close(ctx))

	src, _ := s.VideoPath()
	a, err := c.KeepVideo(s, "checkout")
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, layout.Dir(KindVideo), filepath.Dir(a.Path))
	assert.FileExists(t, a.Path)
	assert.NoFileExists(t, src)
}

func TestKeepVideo_NotRecording(t *testing.T) {
	c := NewCapturer(NewLayout(t.TempDir()))
	a, err := c.KeepVideo(browsertest.NewSession("s"), "unit")
	assert.NoError(t, err)
	assert.Nil(t, a)
	assert.NoError(t, c.DiscardVideo(browsertest.NewSession("s")))
}

func TestDiscardVideo(t *testing.T) {
	ctx := context.Background()
	b := browsertest.NewBrowser(browser.EngineChromium)
	s, err := b.NewSession(ctx, browser.SessionOptions{ID: "v1", VideoDir: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, s.Close(ctx))

	src, _ := s.VideoPath()
	require.FileExists(t, src)
	require.NoError(t, NewCapturer(NewLayout(t.TempDir())).DiscardVideo(s))
	assert.NoFileExists(t, src)
}

func TestSanitizeName(t *testing.T) {
	tests := map[string]string{
		"login works":           "login_works",
		"../../etc/passwd":      "_.._etc_passwd",
		"":                      "unit",
		"Scenario: add item #2": "Scenario__add_item__2",
	}
	for in, want := range tests {
		assert.Equal(t, want, SanitizeName(in), in)
	}
	assert.LessOrEqual(t, len(SanitizeName(strings.Repeat("x", 500))), maxNameLen)
}
