package parse

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/VividCortex/ewma"

	"github.com/saveenergy/netgauge/internal/stream"
)

// Default patterns read iperf3's human-readable report. Interim rows end
// right after the rate (plus optional Retr/Cwnd columns); summary rows carry
// a trailing "sender" or "receiver" tag and only the receiver row counts.
const (
	DefaultInterimPattern = `^\[\s*(?:\d+|SUM)\]\s+[\d.]+-(?P<end>[\d.]+)\s+sec\s+[\d.]+\s+[KMGT]?Bytes\s+` +
		`(?P<rate>[\d.]+)\s+(?P<unit>[KMGT]?)bits/sec(?:\s+\d+(?:\s+[\d.]+\s+[KMGT]?Bytes)?)?\s*$`
	DefaultTerminalPattern = `^\[\s*(?:\d+|SUM)\]\s+[\d.]+-[\d.]+\s+sec\s+[\d.]+\s+[KMGT]?Bytes\s+` +
		`(?P<rate>[\d.]+)\s+(?P<unit>[KMGT]?)bits/sec.*\breceiver\s*$`
	DefaultDoneMarker = "iperf Done."
)

// ThroughputPatterns selects the rows of a throughput report. Each pattern
// captures the rate in a group named "rate" (or its first group), and may
// capture a unit prefix in "unit" and the interval end in "end".
type ThroughputPatterns struct {
	Interim    string
	Terminal   string
	DoneMarker string
}

func DefaultThroughputPatterns() ThroughputPatterns {
	return ThroughputPatterns{
		Interim:    DefaultInterimPattern,
		Terminal:   DefaultTerminalPattern,
		DoneMarker: DefaultDoneMarker,
	}
}

// Sample is one interim row, as passed to the OnSample callback.
type Sample struct {
	IntervalEnd float64
	Mbps        float64
	Smoothed    float64
	Count       int
}

type rowPattern struct {
	re      *regexp.Regexp
	rateIdx int
	unitIdx int
	endIdx  int
}

func compileRow(pattern string) (*rowPattern, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile pattern %q: %w", pattern, err)
	}
	if re.NumSubexp() < 1 {
		return nil, fmt.Errorf("pattern %q has no capture group for the rate", pattern)
	}
	p := &rowPattern{re: re, rateIdx: 1, unitIdx: -1, endIdx: -1}
	if i := re.SubexpIndex("rate"); i > 0 {
		p.rateIdx = i
	}
	if i := re.SubexpIndex("unit"); i > 0 {
		p.unitIdx = i
	}
	if i := re.SubexpIndex("end"); i > 0 {
		p.endIdx = i
	}
	return p, nil
}

// match returns the row's rate in Mbit/s and the interval end (0 when not captured).
func (p *rowPattern) match(line string) (mbps, end float64, ok bool) {
	m := p.re.FindStringSubmatch(line)
	if m == nil {
		return 0, 0, false
	}
	rate, err := strconv.ParseFloat(m[p.rateIdx], 64)
	if err != nil {
		return 0, 0, false
	}
	unit := "M"
	if p.unitIdx > 0 {
		unit = m[p.unitIdx]
	}
	if p.endIdx > 0 {
		end, _ = strconv.ParseFloat(m[p.endIdx], 64)
	}
	return toMbps(rate, unit), end, true
}

func toMbps(rate float64, unit string) float64 {
	switch strings.ToUpper(unit) {
	case "":
		return rate / 1e6
	case "K":
		return rate / 1e3
	case "G":
		return rate * 1e3
	case "T":
		return rate * 1e6
	default:
		return rate
	}
}

// ThroughputAggregator drains a throughput report. Interim rows accumulate
// into a running sum; the terminal row replaces that sum and is the only
// thing that makes the probe succeed.
type ThroughputAggregator struct {
	interim    *rowPattern
	terminal   *rowPattern
	doneMarker string
	onSample   func(Sample)

	avg     ewma.MovingAverage
	sum     float64
	samples int
	success bool
	drained bool
}

func NewThroughputAggregator(p ThroughputPatterns, onSample func(Sample)) (*ThroughputAggregator, error) {
	interim, err := compileRow(p.Interim)
	if err != nil {
		return nil, fmt.Errorf("interim: %w", err)
	}
	terminal, err := compileRow(p.Terminal)
	if err != nil {
		return nil, fmt.Errorf("terminal: %w", err)
	}
	return &ThroughputAggregator{
		interim:    interim,
		terminal:   terminal,
		doneMarker: strings.TrimSpace(p.DoneMarker),
		onSample:   onSample,
		avg:        ewma.NewMovingAverage(),
	}, nil
}

// Process keeps reading through the whole report and stops only at the
// report trailer, after which nothing more is written.
func (a *ThroughputAggregator) Process(line string) stream.Action {
	if a.doneMarker != "" && strings.TrimSpace(line) == a.doneMarker {
		a.drained = true
		return stream.Stop
	}
	if mbps, _, ok := a.terminal.match(line); ok {
		a.sum = mbps
		a.success = true
		return stream.Continue
	}
	if mbps, end, ok := a.interim.match(line); ok {
		if !a.success {
			a.sum += mbps
		}
		a.samples++
		a.avg.Add(mbps)
		if a.onSample != nil {
			a.onSample(Sample{IntervalEnd: end, Mbps: mbps, Smoothed: a.avg.Value(), Count: a.samples})
		}
	}
	return stream.Continue
}

func (a *ThroughputAggregator) Sum() float64 { return a.sum }

func (a *ThroughputAggregator) Success() bool { return a.success }

func (a *ThroughputAggregator) Samples() int { return a.samples }

// Current is the smoothed interim rate, for live display only.
func (a *ThroughputAggregator) Current() float64 { return a.avg.Value() }

// Drained reports whether the report trailer was seen.
func (a *ThroughputAggregator) Drained() bool { return a.drained }

var _ stream.LineProcessor = (*ThroughputAggregator)(nil)
