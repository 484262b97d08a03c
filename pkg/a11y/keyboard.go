package a11y

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/odvcencio/greenlight/pkg/browser"
	"github.com/odvcencio/greenlight/pkg/errors"
	"github.com/odvcencio/greenlight/pkg/logging"
	"github.com/odvcencio/greenlight/pkg/reliability"
)

const activeElementJS = `() => document.activeElement ? document.activeElement.tagName : null`

// FocusWait bounds how long CheckKeyboardNavigation waits for Tab to move focus.
var FocusWait = reliability.WaitOptions{Timeout: time.Second, PollInterval: 100 * time.Millisecond}

// CheckKeyboardNavigation presses Tab and reports the tag name that received
// focus. It returns "" without error when nothing on the page is focusable.
func CheckKeyboardNavigation(ctx context.Context, sess browser.Session, scope string, logger *logging.Logger) (string, error) {
	logger = logging.OrNop(logger).With(slog.String("scope", scope))
	if err := sess.PressKey(ctx, "Tab"); err != nil {
		return "", fmt.Errorf("keyboard navigation check failed: %w", err)
	}

	var focused string
	opts := FocusWait
	opts.Logger = logger
	err := reliability.WaitFor(ctx, "focus to leave body on "+scope, func(ctx context.Context) (bool, error) {
		v, err := sess.Evaluate(ctx, activeElementJS, nil)
		if err != nil {
			return false, err
		}
		tag, _ := v.(string)
		focused = tag
		return tag != "" && tag != "BODY", nil
	}, opts)

	switch {
	case err == nil:
		logger.Debug("tab navigation works", slog.String("focused", focused))
		return focused, nil
	case errors.IsTimeout(err):
		logger.Warn("no focusable elements found on page")
		return "", nil
	default:
		return "", err
	}
}

// Landmarks records which ARIA landmark regions a page has.
type Landmarks struct {
	Main        bool `json:"main"`
	Navigation  bool `json:"navigation"`
	ContentInfo bool `json:"contentinfo"`
}

const documentHTMLJS = `() => document.documentElement.outerHTML`

var landmarkSelectors = struct{ main, navigation, contentInfo string }{
	main:        `main, [role="main"]`,
	navigation:  `nav, [role="navigation"]`,
	contentInfo: `footer, [role="contentinfo"]`,
}

// ValidateLandmarks inspects the page landmark structure. A missing main
// landmark is logged as a warning, never returned as an error.
func ValidateLandmarks(ctx context.Context, sess browser.Session, scope string, logger *logging.Logger) (Landmarks, error) {
	logger = logging.OrNop(logger).With(slog.String("scope", scope))
	raw, err := sess.Evaluate(ctx, documentHTMLJS, nil)
	if err != nil {
		return Landmarks{}, fmt.Errorf("landmark validation failed: %w", err)
	}
	markup, _ := raw.(string)
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return Landmarks{}, fmt.Errorf("landmark validation failed: %w", err)
	}
	landmarks := Landmarks{
		Main:        doc.Find(landmarkSelectors.main).Length() > 0,
		Navigation:  doc.Find(landmarkSelectors.navigation).Length() > 0,
		ContentInfo: doc.Find(landmarkSelectors.contentInfo).Length() > 0,
	}
	logger.Info("landmarks",
		slog.Bool("main", landmarks.Main),
		slog.Bool("navigation", landmarks.Navigation),
		slog.Bool("contentinfo", landmarks.ContentInfo),
	)
	if !landmarks.Main {
		logger.Warn("missing main landmark")
	}
	return landmarks, nil
}
