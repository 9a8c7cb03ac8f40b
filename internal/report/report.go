// Package report hands a finished record to the results server and prints
// the outcome.
package report

import (
	"context"
	"io"

	"github.com/saveenergy/netgauge/internal/logging"
	pkgclient "github.com/saveenergy/netgauge/pkg/client"
	"github.com/saveenergy/netgauge/pkg/diagnostic"
	perrors "github.com/saveenergy/netgauge/pkg/errors"
	"github.com/saveenergy/netgauge/pkg/types"
)

// Submitter is the results-server side of reporting.
type Submitter interface {
	Submit(ctx context.Context, rec types.Record) (*pkgclient.Submission, error)
}

// Reporter implements measure.Reporter. With no submitter the record's own
// ID is the test ID.
type Reporter struct {
	submitter Submitter
	formatter Formatter
	out       io.Writer
	logger    *logging.Logger
	last      *Output
}

func New(submitter Submitter, formatter Formatter, out io.Writer) *Reporter {
	if formatter == nil {
		formatter = PlainFormatter{}
	}
	return &Reporter{
		submitter: submitter,
		formatter: formatter,
		out:       out,
		logger:    logging.NewLogger("report"),
	}
}

func (r *Reporter) Report(ctx context.Context, rec types.Record) error {
	out := NewOutput(rec)
	if r.submitter != nil {
		sub, err := r.submitter.Submit(ctx, rec)
		if err != nil {
			return perrors.ErrDownstreamFailed("submit results", err)
		}
		out.TestID = sub.TestID
		out.URL = sub.URL
		r.logger.Info("results submitted", logging.F("test_id", sub.TestID))
	}
	r.last = &out
	if r.out == nil {
		return nil
	}
	if err := r.formatter.FormatReport(r.out, out); err != nil {
		return perrors.ErrDownstreamFailed("render report", err)
	}
	return nil
}

// Last returns the most recent report, or nil before the first one.
func (r *Reporter) Last() *Output { return r.last }

// NewOutput grades rec and uses its own ID as the test ID.
func NewOutput(rec types.Record) Output {
	return Output{
		TestID:         rec.ID,
		Record:         rec,
		Interpretation: diagnostic.Interpret(diagnostic.FromRecord(rec)),
	}
}

// Render formats a stored record without submitting it.
func Render(w io.Writer, f Formatter, rec types.Record) error {
	return f.FormatReport(w, NewOutput(rec))
}
