// Package stream runs an external command detached from netgauge and feeds
// its output, line by line, to a LineProcessor. The command's only channel
// back to us is an artifact file that is polled at a fixed interval.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/saveenergy/netgauge/internal/logging"
	perrors "github.com/saveenergy/netgauge/pkg/errors"
)

const (
	DefaultPollInterval = 100 * time.Millisecond
	DefaultOpenRetries  = 50
	DefaultReadRetries  = 5000
)

type State string

const (
	StateIdle    State = "idle"
	StateOpening State = "opening"
	StateReading State = "reading"
	StateDone    State = "done"
	StateFailed  State = "failed"
)

// Options bounds the open and read phases. Zero fields take the defaults.
type Options struct {
	PollInterval time.Duration
	OpenRetries  int
	ReadRetries  int
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.OpenRetries <= 0 {
		o.OpenRetries = DefaultOpenRetries
	}
	if o.ReadRetries <= 0 {
		o.ReadRetries = DefaultReadRetries
	}
	return o
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

type Streamer struct {
	launcher Launcher
	store    ArtifactStore
	opts     Options
	sleep    SleepFunc
	logger   *logging.Logger
}

type Option func(*Streamer)

func WithOptions(opts Options) Option {
	return func(s *Streamer) { s.opts = opts.withDefaults() }
}

func WithLauncher(l Launcher) Option {
	return func(s *Streamer) { s.launcher = l }
}

func WithArtifactStore(store ArtifactStore) Option {
	return func(s *Streamer) { s.store = store }
}

func WithSleeper(fn SleepFunc) Option {
	return func(s *Streamer) { s.sleep = fn }
}

func WithLogger(l *logging.Logger) Option {
	return func(s *Streamer) { s.logger = l }
}

func New(opts ...Option) *Streamer {
	s := &Streamer{
		store: FileStore{},
		opts:  Options{}.withDefaults(),
		sleep: sleepContext,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.NewLogger("stream")
	}
	if s.launcher == nil {
		s.launcher = NewShellLauncher(s.logger)
	}
	return s
}

// session is the state of one Stream call and is never shared.
type session struct {
	inv             Invocation
	state           State
	openRetriesLeft int
	readRetriesLeft int
	lastLineSeen    bool
	lines           int
	artifact        Artifact
}

// Stream launches inv and delivers its output to proc until proc returns
// Stop, the read budget runs out, or a fatal error occurs. The artifact is
// closed and removed on every return path.
func (s *Streamer) Stream(ctx context.Context, inv Invocation, proc LineProcessor) (err error) {
	sess := &session{inv: inv, state: StateIdle}
	start := time.Now()

	if rmErr := s.store.Remove(inv.ArtifactPath); rmErr != nil {
		return perrors.ErrLaunchFailed(inv.Probe, fmt.Errorf("remove stale output: %w", rmErr))
	}

	defer func() {
		s.release(sess)
		if err != nil {
			sess.state = StateFailed
		}
		s.logger.Debug("Stream finished",
			logging.F("probe", inv.Probe),
			logging.F("state", string(sess.state)),
			logging.F("lines", sess.lines),
			logging.F("elapsed", time.Since(start)))
	}()

	if err := s.launcher.Launch(ctx, inv); err != nil {
		return perrors.ErrLaunchFailed(inv.Probe, err)
	}

	if err := s.open(ctx, sess); err != nil {
		return err
	}
	return s.read(ctx, sess, proc)
}

func (s *Streamer) open(ctx context.Context, sess *session) error {
	sess.state = StateOpening
	sess.openRetriesLeft = s.opts.OpenRetries

	art, err := s.store.Open(sess.inv.ArtifactPath)
	for err != nil && sess.openRetriesLeft > 0 {
		if serr := s.sleep(ctx, s.opts.PollInterval); serr != nil {
			return perrors.ErrCancelled(sess.inv.Probe, serr)
		}
		sess.openRetriesLeft--
		art, err = s.store.Open(sess.inv.ArtifactPath)
	}
	if err != nil {
		s.logger.Warn("Output never appeared",
			logging.F("probe", sess.inv.Probe),
			logging.F("path", sess.inv.ArtifactPath),
			logging.F("error", err))
		return perrors.ErrArtifactTimeout(sess.inv.Probe, sess.inv.ArtifactPath, s.opts.OpenRetries+1)
	}
	sess.artifact = art
	return nil
}

func (s *Streamer) read(ctx context.Context, sess *session, proc LineProcessor) error {
	sess.state = StateReading
	budget := s.opts.ReadRetries
	if sess.inv.ReadRetries > 0 {
		budget = sess.inv.ReadRetries
	}
	sess.readRetriesLeft = budget

	for sess.readRetriesLeft > 0 {
		line, err := sess.artifact.ReadLine()
		switch {
		case err == nil:
			sess.readRetriesLeft = budget
			sess.lastLineSeen = true
			sess.lines++
			if proc.Process(line) == Stop {
				sess.state = StateDone
				return nil
			}
		case errors.Is(err, io.EOF):
			if serr := s.sleep(ctx, s.opts.PollInterval); serr != nil {
				return perrors.ErrCancelled(sess.inv.Probe, serr)
			}
			sess.readRetriesLeft--
		default:
			return perrors.ErrStreamStalled(sess.inv.Probe, err)
		}
	}

	// an unterminated last line only counts once the command is silent
	if rest := sess.artifact.Remainder(); rest != "" {
		sess.lastLineSeen = true
		sess.lines++
		if proc.Process(rest) == Stop {
			sess.state = StateDone
			return nil
		}
	}

	s.logger.Warn("Command went silent",
		logging.F("probe", sess.inv.Probe),
		logging.F("lines", sess.lines),
		logging.F("silence", time.Duration(budget)*s.opts.PollInterval))
	var cause error
	if !sess.lastLineSeen {
		cause = errors.New("no output lines")
	}
	return perrors.ErrStreamStalled(sess.inv.Probe, cause)
}

func (s *Streamer) release(sess *session) {
	if sess.artifact != nil {
		if err := sess.artifact.Close(); err != nil {
			s.logger.Warn("Close output failed", logging.F("probe", sess.inv.Probe), logging.F("error", err))
		}
		sess.artifact = nil
	}
	if err := s.store.Remove(sess.inv.ArtifactPath); err != nil {
		s.logger.Warn("Remove output failed", logging.F("probe", sess.inv.Probe), logging.F("error", err))
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
