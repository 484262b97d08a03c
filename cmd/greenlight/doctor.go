package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/odvcencio/greenlight/pkg/errors"
)

// runDoctorCommand verifies configuration, the artifact tree and the browser
// installation by launching the engine and opening one session.
func runDoctorCommand(args []string) error {
	fs := flag.NewFlagSet("doctor", flag.ContinueOnError)
	fs.SetOutput(stderr)
	url := fs.String("url", "", "optionally navigate the probe session to this URL")
	if err := fs.Parse(args); err != nil {
		return withExitCode(err, exitUsage)
	}

	cfg, err := loadConfigFn(globals.configPath)
	if err != nil {
		return err
	}
	check(stdout, "config", nil)
	for _, warning := range cfg.ValidationWarnings() {
		fmt.Fprintf(stdout, "  %s %s\n", skipStyle.Sprint("warn"), warning)
	}

	ctx, stop := signalContext()
	defer stop()

	rt, err := newRuntime(ctx, cfg, runtimeOptions{command: "doctor"})
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.layout.Ensure(); err != nil {
		check(stdout, "artifacts "+rt.layout.Root, err)
		return errors.Infrastructure(err, "artifact directories are not writable")
	}
	check(stdout, "artifacts "+rt.layout.Root, nil)

	manager, err := rt.newManager()
	if err != nil {
		check(stdout, "driver", err)
		return err
	}

	start := time.Now()
	b, err := manager.AcquireShared(ctx, cfg.LaunchOptions())
	if err != nil {
		check(stdout, "launch "+cfg.Browser.Engine, err)
		return err
	}
	defer func() { _ = manager.ReleaseShared(context.WithoutCancel(ctx)) }()
	check(stdout, fmt.Sprintf("launch %s %s (%s)", cfg.Browser.Engine, b.Version(), time.Since(start).Round(time.Millisecond)), nil)

	sess, err := manager.AcquireScoped(ctx, cfg.SessionOptions())
	if err != nil {
		check(stdout, "session", err)
		return err
	}
	defer func() { _ = manager.ReleaseScoped(context.WithoutCancel(ctx), sess) }()
	check(stdout, "session "+sess.ID(), nil)

	if *url != "" {
		_, err := navigationRetry(cfg, rt.logger).Do(ctx, "navigate to "+*url, func(ctx context.Context) error {
			return sess.Navigate(ctx, *url)
		})
		check(stdout, "navigate "+*url, err)
		if err != nil {
			return err
		}
	}
	return nil
}

func check(w io.Writer, what string, err error) {
	if err != nil {
		fmt.Fprintf(w, "%s %s: %v\n", failStyle.Sprint("✗"), what, err)
		return
	}
	fmt.Fprintf(w, "%s %s\n", passStyle.Sprint("✓"), what)
}
