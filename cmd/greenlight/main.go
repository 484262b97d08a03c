package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"

	"github.com/odvcencio/greenlight/pkg/config"
)

// Version information - set via ldflags during build
var (
	version   = "0.1.0-dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// globalOptions are flags accepted before the subcommand.
type globalOptions struct {
	configPath  string
	metricsAddr string
	noColor     bool
	quiet       bool
	args        []string
}

var globals globalOptions

// loadConfigFn allows tests to stub configuration loading.
var loadConfigFn = func(path string) (*config.Config, error) {
	if strings.TrimSpace(path) != "" {
		return config.LoadFromPath(path)
	}
	return config.Load()
}

// stdout and stderr are swapped by tests.
var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

func main() {
	opts, err := parseGlobalOptions(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	globals = *opts
	if globals.noColor {
		color.NoColor = true
	}

	os.Exit(dispatchSubcommand(globals.args))
}

func parseGlobalOptions(raw []string) (*globalOptions, error) {
	opts := &globalOptions{}
	if val, ok := parseBoolEnv("NO_COLOR"); ok {
		opts.noColor = val
	}
	if val, ok := parseBoolEnv("GREENLIGHT_QUIET"); ok {
		opts.quiet = val
	}

	fs := flag.NewFlagSet("greenlight", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&opts.configPath, "config", "", "path to a config file (default: .greenlight/config.yaml hierarchy)")
	fs.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve /metrics and /events on this address")
	fs.BoolVar(&opts.noColor, "no-color", opts.noColor, "disable colored output")
	fs.BoolVar(&opts.quiet, "quiet", opts.quiet, "only print the summary")
	if err := fs.Parse(raw); err != nil {
		return nil, err
	}
	opts.args = fs.Args()
	return opts, nil
}

func dispatchSubcommand(args []string) int {
	if len(args) == 0 {
		printHelp()
		return 2
	}
	switch args[0] {
	case "--version", "-v", "version":
		printVersion()
		return 0
	case "--help", "-h", "help":
		printHelp()
		return 0
	case "doctor":
		return runCommand(runDoctorCommand, args[1:])
	case "scan":
		return runCommand(runScanCommand, args[1:])
	case "runs":
		return runCommand(runRunsCommand, args[1:])
	default:
		fmt.Fprintf(stderr, "Error: unknown command %q\n\n", args[0])
		printHelp()
		return 2
	}
}

func runCommand(handler func([]string) error, args []string) int {
	if err := handler(args); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitCodeForError(err)
	}
	return 0
}

// signalContext is canceled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func printVersion() {
	fmt.Fprintf(stdout, "greenlight %s (commit %s, built %s)\n", version, commit, buildDate)
}

func printHelp() {
	fmt.Fprint(stdout, `greenlight - browser test lifecycle runner

Usage:
  greenlight [global flags] <command> [flags]

Commands:
  doctor                     launch the configured browser and open one session
  scan [flags] URL...        run an accessibility check per URL
  runs [-n 10]               list recent runs from the ledger
  version                    print version information

Global flags:
  -config path               config file (default: ~/.greenlight and ./.greenlight hierarchy)
  -metrics-addr addr         serve /metrics and /events while running
  -no-color                  disable colored output
  -quiet                     only print the summary
`)
}

func parseBoolEnv(key string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	default:
		return false, false
	}
}
