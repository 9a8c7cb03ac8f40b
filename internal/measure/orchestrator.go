// Package measure runs the three probes of a measurement in order and
// assembles the resulting record.
package measure

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/saveenergy/netgauge/internal/config"
	"github.com/saveenergy/netgauge/internal/logging"
	"github.com/saveenergy/netgauge/internal/parse"
	"github.com/saveenergy/netgauge/internal/stream"
	perrors "github.com/saveenergy/netgauge/pkg/errors"
	"github.com/saveenergy/netgauge/pkg/types"
)

const (
	ProbePing     = "ping"
	ProbeDownload = "download"
	ProbeUpload   = "upload"
)

// StreamRunner is satisfied by *stream.Streamer.
type StreamRunner interface {
	Stream(ctx context.Context, inv stream.Invocation, proc stream.LineProcessor) error
}

type ProgressReporter interface {
	Phase(p types.Phase, fraction float64)
}

// Persister stores a record and returns its key. Records arrive with an
// empty ID.
type Persister interface {
	Save(ctx context.Context, rec types.Record) (string, error)
}

type Reporter interface {
	Report(ctx context.Context, rec types.Record) error
}

type IPResolver interface {
	ExternalIP(ctx context.Context) (string, error)
}

type nopProgress struct{}

func (nopProgress) Phase(types.Phase, float64) {}

// Orchestrator owns one configuration and its collaborators. Run may be
// called repeatedly but never concurrently.
type Orchestrator struct {
	cfg       *config.Config
	streamer  StreamRunner
	ip        IPResolver
	reporter  Reporter
	persister Persister
	progress  ProgressReporter
	patterns  parse.ThroughputPatterns
	logger    *logging.Logger
	now       func() time.Time
	newID     func() string
}

type Option func(*Orchestrator)

// WithPersister enables storing records. Without it nothing is saved.
// The record's ID becomes the key the persister returns.
func WithPersister(p Persister) Option {
	return func(o *Orchestrator) { o.persister = p }
}

func WithProgress(p ProgressReporter) Option {
	return func(o *Orchestrator) { o.progress = p }
}

func WithLogger(l *logging.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithClock replaces time.Now for timestamps and phase durations.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func WithIDFunc(fn func() string) Option {
	return func(o *Orchestrator) { o.newID = fn }
}

// New checks that the configured patterns compile so a bad pattern fails
// before any tool is launched.
func New(cfg *config.Config, streamer StreamRunner, ip IPResolver, reporter Reporter, opts ...Option) (*Orchestrator, error) {
	o := &Orchestrator{
		cfg:      cfg,
		streamer: streamer,
		ip:       ip,
		reporter: reporter,
		progress: nopProgress{},
		patterns: throughputPatterns(cfg.Throughput),
		logger:   logging.NewLogger("measure"),
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	if _, err := parse.NewLatencyExtractor(ProbePing, cfg.Ping.Pattern); err != nil {
		return nil, perrors.ErrInvalidConfig("ping.pattern", err)
	}
	if _, err := parse.NewThroughputAggregator(o.patterns, nil); err != nil {
		return nil, perrors.ErrInvalidConfig("throughput patterns", err)
	}
	return o, nil
}

func throughputPatterns(tc config.ThroughputConfig) parse.ThroughputPatterns {
	p := parse.DefaultThroughputPatterns()
	if tc.InterimPattern != "" {
		p.Interim = tc.InterimPattern
	}
	if tc.TerminalPattern != "" {
		p.Terminal = tc.TerminalPattern
	}
	p.DoneMarker = tc.DoneMarker
	return p
}

func (o *Orchestrator) invocation(probe string, pc config.ProbeConfig) stream.Invocation {
	return stream.Invocation{
		Probe:          probe,
		CommandLine:    pc.Command,
		ArtifactPath:   o.cfg.ArtifactPath(pc),
		RedirectOutput: pc.Redirect,
		ReadRetries:    pc.ReadRetries,
	}
}

// Run performs ping, download and upload in that order, resolves the
// external address, stores the record and hands it to the reporter. Any
// probe failure aborts the run; a storage failure does not.
func (o *Orchestrator) Run(ctx context.Context) (*types.Record, error) {
	rec := types.Record{ID: o.newID()}
	runStart := o.now()
	o.logger.Info("Measurement started", logging.F("run_id", rec.ID))
	o.progress.Phase(types.PhaseStart, 0)

	latency, err := o.ping(ctx)
	if err != nil {
		return nil, err
	}
	rec.LatencyMs = latency
	o.progress.Phase(types.PhasePingDone, 0)

	down, err := o.throughput(ctx, ProbeDownload, o.cfg.Download,
		types.PhaseDownloadConnecting, types.PhaseDownload, types.PhaseDownloadDone)
	if err != nil {
		return nil, err
	}
	rec.DownloadTime, rec.DownloadDuration, rec.DownloadMbps = down.fields()

	up, err := o.throughput(ctx, ProbeUpload, o.cfg.Upload,
		types.PhaseUploadConnecting, types.PhaseUpload, types.PhaseUploadDone)
	if err != nil {
		return nil, err
	}
	rec.UploadTime, rec.UploadDuration, rec.UploadMbps = up.fields()

	ip, err := o.ip.ExternalIP(ctx)
	if err != nil {
		return nil, perrors.ErrDownstreamFailed("external ip lookup", err)
	}
	if ip == "" {
		return nil, perrors.ErrDownstreamFailed("external ip lookup returned nothing", nil)
	}
	rec.ExternalIP = ip
	rec.CreatedAt = o.now()

	if o.persister != nil {
		o.progress.Phase(types.PhasePersisting, 0)
		// the store picks the key; a stored record is reported under it
		stored := rec
		stored.ID = ""
		if id, err := o.persister.Save(ctx, stored); err != nil {
			o.logger.Warn("Storing results failed", logging.F("run_id", rec.ID), logging.F("error", err))
		} else {
			o.logger.Debug("Results stored", logging.F("run_id", rec.ID), logging.F("id", id))
			rec.ID = id
		}
	}

	o.progress.Phase(types.PhaseReporting, 0)
	if err := o.reporter.Report(ctx, rec); err != nil {
		return nil, err
	}
	o.progress.Phase(types.PhaseDone, 0)

	o.logger.Info("Measurement finished",
		logging.F("run_id", rec.ID),
		logging.F("latency_ms", rec.LatencyMs),
		logging.F("download_mbps", rec.DownloadMbps),
		logging.F("upload_mbps", rec.UploadMbps),
		logging.F("elapsed", o.now().Sub(runStart)))
	return &rec, nil
}

func (o *Orchestrator) ping(ctx context.Context) (int, error) {
	ext, err := parse.NewLatencyExtractor(ProbePing, o.cfg.Ping.Pattern)
	if err != nil {
		return 0, perrors.ErrInvalidConfig("ping.pattern", err)
	}
	if err := o.streamer.Stream(ctx, o.invocation(ProbePing, o.cfg.Ping), ext); err != nil {
		if perrors.IsCode(err, perrors.ErrCodeStreamStalled) {
			return 0, perrors.ErrNoData(ProbePing, err)
		}
		return 0, err
	}
	return ext.Result()
}

type throughputResult struct {
	start   time.Time
	elapsed time.Duration
	mbps    float64
}

func (r throughputResult) fields() (string, string, int) {
	return r.start.Format(types.TimestampLayout), types.FormatDuration(r.elapsed), int(math.Round(r.mbps))
}

func (o *Orchestrator) throughput(ctx context.Context, probe string, pc config.ProbeConfig, connecting, running, done types.Phase) (throughputResult, error) {
	expected := float64(o.cfg.Throughput.ExpectedSeconds)
	agg, err := parse.NewThroughputAggregator(o.patterns, func(s parse.Sample) {
		fraction := 0.0
		if expected > 0 {
			fraction = s.IntervalEnd / expected
		}
		o.progress.Phase(running, fraction)
		o.logger.Debug("Interval",
			logging.F("probe", probe),
			logging.F("end", s.IntervalEnd),
			logging.F("mbps", s.Mbps),
			logging.F("smoothed", s.Smoothed))
	})
	if err != nil {
		return throughputResult{}, perrors.ErrInvalidConfig("throughput patterns", err)
	}

	o.progress.Phase(connecting, 0)
	start := o.now()
	serr := o.streamer.Stream(ctx, o.invocation(probe, pc), agg)
	res := throughputResult{start: start, elapsed: o.now().Sub(start), mbps: agg.Sum()}

	switch {
	case perrors.IsCode(serr, perrors.ErrCodeCancelled):
		return throughputResult{}, serr
	case !agg.Success():
		if perrors.IsCode(serr, perrors.ErrCodeLaunchFailed) || perrors.IsCode(serr, perrors.ErrCodeArtifactTimeout) {
			return throughputResult{}, serr
		}
		return throughputResult{}, perrors.ErrAggregationIncomplete(probe, agg.Samples(), serr)
	case serr != nil:
		o.logger.Warn("Summary received before the stream failed; keeping result",
			logging.F("probe", probe),
			logging.F("error", serr))
	}

	o.progress.Phase(done, 0)
	o.logger.Info("Probe finished",
		logging.F("probe", probe),
		logging.F("mbps", res.mbps),
		logging.F("samples", agg.Samples()),
		logging.F("duration", types.FormatDuration(res.elapsed)))
	return res, nil
}
