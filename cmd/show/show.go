// Package show implements `netgauge show <id>`.
package show

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/saveenergy/netgauge/internal/app"
	"github.com/saveenergy/netgauge/internal/config"
	"github.com/saveenergy/netgauge/internal/report"
	"github.com/saveenergy/netgauge/pkg/client"
	"github.com/saveenergy/netgauge/pkg/types"
)

const (
	exitSuccess  = 0
	exitFailure  = 1
	exitUsage    = 2
	exitNotFound = 3
)

var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

func Run(args []string, _ string) int {
	flagSet := flag.NewFlagSet("netgauge show", flag.ContinueOnError)
	flagSet.SetOutput(stderr)

	var (
		configPath string
		publicKey  string
		jsonOut    bool
		remote     bool
		noColor    bool
	)
	flagSet.StringVar(&configPath, "config", "", "Config file path")
	flagSet.StringVar(&configPath, "c", "", "Config file path (short)")
	flagSet.StringVar(&publicKey, "pubkey", "", "Minisign public key the config must be signed with")
	flagSet.BoolVar(&jsonOut, "json", false, "Output as JSON")
	flagSet.BoolVar(&remote, "remote", false, "Fetch from the results server instead of the local store")
	flagSet.BoolVar(&noColor, "no-color", false, "Disable color output")
	help := flagSet.Bool("help", false, "Show help")
	flagSet.BoolVar(help, "h", false, "Show help (short)")

	if err := flagSet.Parse(args); err != nil {
		return exitUsage
	}
	if *help {
		printUsage()
		return exitSuccess
	}
	if flagSet.NArg() != 1 {
		fmt.Fprintln(stderr, "netgauge show: exactly one result id is required")
		return exitUsage
	}
	id := flagSet.Arg(0)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cfg, err := app.LoadConfig(ctx, configPath, publicKey)
	if err != nil {
		fmt.Fprintf(stderr, "netgauge show: error: %v\n", err)
		return exitUsage
	}

	var rec *types.Record
	if remote {
		if cfg.Report.URL == "" {
			fmt.Fprintln(stderr, "netgauge show: --remote needs report.url")
			return exitUsage
		}
		opts := []client.Option{client.WithHTTPClient(&http.Client{Timeout: cfg.Report.Timeout})}
		if cfg.Report.APIKey != "" {
			opts = append(opts, client.WithAPIKey(cfg.Report.APIKey))
		}
		rec, err = client.New(cfg.Report.URL, opts...).Result(ctx, id)
		if errors.Is(err, client.ErrNotFound) {
			rec, err = nil, nil
		}
	} else {
		rec, err = lookupLocal(ctx, cfg, id)
	}
	if err != nil {
		fmt.Fprintf(stderr, "netgauge show: error: %v\n", err)
		return exitFailure
	}
	if rec == nil {
		fmt.Fprintf(stderr, "netgauge show: no result with id %q\n", id)
		return exitNotFound
	}

	var f report.Formatter = report.InteractiveFormatter{NoColor: noColor}
	if jsonOut {
		f = report.JSONFormatter{}
	}
	if err := report.Render(stdout, f, *rec); err != nil {
		fmt.Fprintf(stderr, "netgauge show: error: %v\n", err)
		return exitFailure
	}
	return exitSuccess
}

func lookupLocal(ctx context.Context, cfg *config.Config, id string) (*types.Record, error) {
	store, err := app.OpenStore(ctx, cfg, false)
	if err != nil {
		return nil, err
	}
	defer store.Close()
	return store.Get(ctx, id)
}

func printUsage() {
	fmt.Fprint(stdout, `Usage: netgauge show [flags] <id>

Print a stored measurement.

Flags:
  -c, --config string   Config file
  --pubkey string       Minisign public key; requires <config>.minisig
  --json                Output as JSON
  --remote              Fetch from report.url instead of the local store
  --no-color            Disable color output
  -h, --help            Show help

Exit codes:
  0   Found
  1   Error
  2   Usage or configuration error
  3   No result with that id
`)
}
