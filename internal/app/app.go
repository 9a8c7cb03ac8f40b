// Package app wires configuration to the measurement engine and its
// collaborators for the CLI and MCP front ends.
package app

import (
	"context"
	"io"
	"net/http"

	"github.com/saveenergy/netgauge/internal/config"
	"github.com/saveenergy/netgauge/internal/logging"
	"github.com/saveenergy/netgauge/internal/measure"
	"github.com/saveenergy/netgauge/internal/netinfo"
	"github.com/saveenergy/netgauge/internal/report"
	"github.com/saveenergy/netgauge/internal/results"
	"github.com/saveenergy/netgauge/internal/stream"
	"github.com/saveenergy/netgauge/pkg/client"
	perrors "github.com/saveenergy/netgauge/pkg/errors"
)

// LoadConfig resolves and loads the configuration file. Failures are
// INVALID_CONFIG.
func LoadConfig(ctx context.Context, path, publicKey string) (*config.Config, error) {
	resolved := config.ResolvePath(path)
	cfg, err := config.Load(ctx, resolved, config.LoadOptions{PublicKey: publicKey})
	if err != nil {
		return nil, perrors.ErrInvalidConfig("load configuration", err)
	}
	return cfg, nil
}

// InitLogging applies the configured level; verbose and quiet override it.
func InitLogging(cfg *config.Config, verbose, quiet bool) error {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return perrors.ErrInvalidConfig("log.level", err)
	}
	switch {
	case verbose:
		level = logging.LevelDebug
	case quiet:
		level = logging.LevelError
	}
	logging.Init(level)
	logging.GetLogger().SetLevel(level)
	return nil
}

type Options struct {
	// Out receives the rendered report; nil renders nothing.
	Out       io.Writer
	Formatter report.Formatter
	Progress  measure.ProgressReporter
	NoStore   bool
	// Store is a results store owned by the caller. When nil, Build opens
	// one for the lifetime of the App.
	Store *results.Store
}

// App is one fully wired measurement pipeline.
type App struct {
	Orchestrator *measure.Orchestrator
	Reporter     *report.Reporter
	Store        *results.Store
}

func Build(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	streamer := stream.New(stream.WithOptions(stream.Options{
		PollInterval: cfg.Stream.PollInterval,
		OpenRetries:  cfg.Stream.OpenRetries,
		ReadRetries:  cfg.Stream.ReadRetries,
	}))

	var submitter report.Submitter
	if cfg.Report.URL != "" {
		copts := []client.Option{client.WithHTTPClient(&http.Client{Timeout: cfg.Report.Timeout})}
		if cfg.Report.APIKey != "" {
			copts = append(copts, client.WithAPIKey(cfg.Report.APIKey))
		}
		submitter = client.New(cfg.Report.URL, copts...)
	}

	a := &App{Reporter: report.New(submitter, opts.Formatter, opts.Out)}

	var mopts []measure.Option
	if opts.Progress != nil {
		mopts = append(mopts, measure.WithProgress(opts.Progress))
	}
	switch {
	case opts.NoStore || cfg.Database.Disabled:
	case opts.Store != nil:
		mopts = append(mopts, measure.WithPersister(opts.Store))
	default:
		store, err := OpenStore(ctx, cfg, false)
		if err != nil {
			// storage never blocks a measurement
			logging.Warn("Results store unavailable", logging.F("driver", cfg.Database.Driver), logging.F("error", err))
		} else {
			a.Store = store
			mopts = append(mopts, measure.WithPersister(store))
		}
	}

	resolver := netinfo.NewResolver(cfg.Network.IPLookupURL, cfg.Network.Timeout)
	o, err := measure.New(cfg, streamer, resolver, a.Reporter, mopts...)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Orchestrator = o
	return a, nil
}

// OpenStore opens the configured results store. Long-lived callers pass
// background to keep retention trimming running until Close.
func OpenStore(ctx context.Context, cfg *config.Config, background bool) (*results.Store, error) {
	return results.Open(ctx, cfg.Database.Driver, cfg.Database.DSN, cfg.Database.MaxResults, background)
}

func (a *App) Close() {
	if a.Store != nil {
		a.Store.Close()
	}
}
