// Package parse holds the line processors that turn measurement tool output
// into numbers.
package parse

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/saveenergy/netgauge/internal/stream"
	perrors "github.com/saveenergy/netgauge/pkg/errors"
)

// DefaultLatencyPattern matches the summary line of the Windows ping tool.
const DefaultLatencyPattern = `Average = (\d+)ms`

// LatencyExtractor reads the single pre-filtered ping summary line.
type LatencyExtractor struct {
	probe   string
	re      *regexp.Regexp
	seen    bool
	line    string
	latency int
	matched bool
}

// NewLatencyExtractor compiles pattern, which must have exactly one capture
// group holding whole milliseconds. An empty pattern selects the default.
func NewLatencyExtractor(probe, pattern string) (*LatencyExtractor, error) {
	if pattern == "" {
		pattern = DefaultLatencyPattern
	}
	re, err := compileSingleGroup(pattern)
	if err != nil {
		return nil, err
	}
	return &LatencyExtractor{probe: probe, re: re}, nil
}

// Process stops after the first line whether it matched or not.
func (e *LatencyExtractor) Process(line string) stream.Action {
	e.seen = true
	e.line = line
	m := e.re.FindStringSubmatch(line)
	if len(m) < 2 {
		return stream.Stop
	}
	ms, err := strconv.Atoi(m[1])
	if err != nil {
		return stream.Stop
	}
	e.latency = ms
	e.matched = true
	return stream.Stop
}

// Result returns the latency, NO_DATA when no line arrived, or PARSE_ERROR
// when the line did not match.
func (e *LatencyExtractor) Result() (int, error) {
	switch {
	case !e.seen:
		return 0, perrors.ErrNoData(e.probe, nil)
	case !e.matched:
		return 0, perrors.ErrParse(e.probe, e.line)
	default:
		return e.latency, nil
	}
}

func (e *LatencyExtractor) Matched() bool { return e.matched }

func compileSingleGroup(pattern string) (*regexp.Regexp, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile pattern %q: %w", pattern, err)
	}
	if re.NumSubexp() != 1 {
		return nil, fmt.Errorf("pattern %q must have exactly one capture group, has %d", pattern, re.NumSubexp())
	}
	return re, nil
}

var _ stream.LineProcessor = (*LatencyExtractor)(nil)
