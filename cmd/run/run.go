// Package run implements `netgauge run`, one full measurement.
package run

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/saveenergy/netgauge/internal/app"
	"github.com/saveenergy/netgauge/internal/logging"
	"github.com/saveenergy/netgauge/internal/measure"
	"github.com/saveenergy/netgauge/internal/progress"
	"github.com/saveenergy/netgauge/internal/report"
	perrors "github.com/saveenergy/netgauge/pkg/errors"
)

const (
	exitSuccess   = 0
	exitFailure   = 1
	exitUsage     = 2
	exitInterrupt = 130
)

type options struct {
	configPath string
	publicKey  string
	json       bool
	plain      bool
	noColor    bool
	noProgress bool
	verbose    bool
	quiet      bool
	noStore    bool
}

// stdout and stderr are swapped out by tests.
var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

func parseFlags(args []string) (*options, int, bool) {
	o := &options{}
	flagSet := flag.NewFlagSet("netgauge run", flag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVar(&o.configPath, "config", "", "Config file path")
	flagSet.StringVar(&o.configPath, "c", "", "Config file path (short)")
	flagSet.StringVar(&o.publicKey, "pubkey", "", "Minisign public key the config must be signed with")
	flagSet.BoolVar(&o.json, "json", false, "Output results as JSON")
	flagSet.BoolVar(&o.plain, "plain", false, "Plain key=value output")
	flagSet.BoolVar(&o.noColor, "no-color", false, "Disable color output")
	flagSet.BoolVar(&o.noProgress, "no-progress", false, "Disable the progress bar")
	flagSet.BoolVar(&o.verbose, "verbose", false, "Debug logging")
	flagSet.BoolVar(&o.verbose, "v", false, "Debug logging (short)")
	flagSet.BoolVar(&o.quiet, "quiet", false, "Errors only")
	flagSet.BoolVar(&o.quiet, "q", false, "Errors only (short)")
	flagSet.BoolVar(&o.noStore, "no-store", false, "Do not store the result")
	help := flagSet.Bool("help", false, "Show help")
	flagSet.BoolVar(help, "h", false, "Show help (short)")

	if err := flagSet.Parse(args); err != nil {
		return nil, exitUsage, true
	}
	if *help {
		printUsage()
		return nil, exitSuccess, true
	}
	if flagSet.NArg() > 0 {
		fmt.Fprintf(stderr, "netgauge run: unexpected argument %q\n", flagSet.Arg(0))
		return nil, exitUsage, true
	}
	if o.json && o.plain {
		fmt.Fprintln(stderr, "netgauge run: --json and --plain are mutually exclusive")
		return nil, exitUsage, true
	}
	return o, 0, false
}

// Run parses args, performs one measurement and returns the exit code.
func Run(args []string, version string) int {
	opts, code, done := parseFlags(args)
	if done {
		return code
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig(ctx, opts.configPath, opts.publicKey)
	if err != nil {
		return fail(err)
	}
	if err := app.InitLogging(cfg, opts.verbose, opts.quiet); err != nil {
		return fail(err)
	}
	logging.Debug("netgauge run", logging.F("version", version))

	interactive := !opts.json && !opts.plain && progress.Enabled(os.Stdout)
	var prog measure.ProgressReporter
	if interactive && !opts.noProgress && !opts.quiet {
		prog = progress.NewBar(stdout, opts.noColor)
	}

	a, err := app.Build(ctx, cfg, app.Options{
		Out:       stdout,
		Formatter: formatter(opts, interactive),
		Progress:  prog,
		NoStore:   opts.noStore,
	})
	if err != nil {
		return fail(err)
	}
	defer a.Close()

	if _, err := a.Orchestrator.Run(ctx); err != nil {
		if prog != nil {
			fmt.Fprintln(stdout)
		}
		return fail(err)
	}
	return exitSuccess
}

func formatter(o *options, interactive bool) report.Formatter {
	switch {
	case o.json:
		return report.JSONFormatter{}
	case o.plain || !interactive:
		return report.PlainFormatter{}
	default:
		return report.InteractiveFormatter{NoColor: o.noColor}
	}
}

func fail(err error) int {
	logging.Debug("Run failed", logging.F("code", perrors.Code(err)))
	fmt.Fprintf(stderr, "netgauge: error: %v\n", err)
	return ExitCode(err)
}

// ExitCode maps an error to the process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return exitSuccess
	case perrors.IsCode(err, perrors.ErrCodeCancelled), perrors.IsContextError(err):
		return exitInterrupt
	case perrors.IsCode(err, perrors.ErrCodeInvalidConfig):
		return exitUsage
	default:
		return exitFailure
	}
}

func printUsage() {
	fmt.Fprint(stdout, `Usage: netgauge run [flags]

Measure latency, download and upload throughput with the configured tools.

Flags:
  -c, --config string   Config file (default: $NETGAUGE_CONFIG, ./netgauge.yaml,
                        ~/.config/netgauge/config.yaml)
  --pubkey string       Minisign public key; requires <config>.minisig
  --json                Output results as JSON
  --plain               Plain key=value output
  --no-color            Disable color output
  --no-progress         Disable the progress bar
  --no-store            Do not store the result
  -v, --verbose         Debug logging
  -q, --quiet           Errors only
  -h, --help            Show help

Exit codes:
  0    Measurement completed
  1    Measurement failed
  2    Usage or configuration error
  130  Interrupted
`)
}
