package parse

import (
	"testing"

	"github.com/saveenergy/netgauge/internal/stream"
	perrors "github.com/saveenergy/netgauge/pkg/errors"
)

func TestLatencyExtractorMatches(t *testing.T) {
	tests := []struct {
		name string
		line string
		want int
	}{
		{name: "bare", line: "Average = 23ms", want: 23},
		{name: "windows summary", line: "    Minimum = 20ms, Maximum = 31ms, Average = 23ms", want: 23},
		{name: "zero", line: "Average = 0ms", want: 0},
		{name: "large", line: "Average = 1204ms", want: 1204},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := NewLatencyExtractor("ping", "")
			if err != nil {
				t.Fatalf("NewLatencyExtractor: %v", err)
			}
			if got := e.Process(tt.line); got != stream.Stop {
				t.Fatalf("Process returned %v, want stop", got)
			}
			ms, err := e.Result()
			if err != nil {
				t.Fatalf("Result: %v", err)
			}
			if ms != tt.want {
				t.Fatalf("latency = %d, want %d", ms, tt.want)
			}
		})
	}
}

func TestLatencyExtractorNoData(t *testing.T) {
	e, err := NewLatencyExtractor("ping", "")
	if err != nil {
		t.Fatal(err)
	}
	ms, err := e.Result()
	if !perrors.IsCode(err, perrors.ErrCodeNoData) {
		t.Fatalf("err = %v, want NO_DATA", err)
	}
	if ms != 0 {
		t.Fatalf("latency = %d on no data", ms)
	}
}

func TestLatencyExtractorParseError(t *testing.T) {
	e, err := NewLatencyExtractor("ping", "")
	if err != nil {
		t.Fatal(err)
	}
	if got := e.Process("Request timed out."); got != stream.Stop {
		t.Fatalf("Process returned %v, want stop", got)
	}
	if _, err := e.Result(); !perrors.IsCode(err, perrors.ErrCodeParseError) {
		t.Fatalf("err = %v, want PARSE_ERROR", err)
	}
	if e.Matched() {
		t.Fatal("Matched() true for unmatched line")
	}
}

func TestLatencyExtractorCustomPattern(t *testing.T) {
	e, err := NewLatencyExtractor("ping", `rtt min/avg/max/mdev = [\d.]+/(\d+)\.\d+/`)
	if err != nil {
		t.Fatalf("NewLatencyExtractor: %v", err)
	}
	e.Process("rtt min/avg/max/mdev = 9.812/11.204/14.010/1.301 ms")
	ms, err := e.Result()
	if err != nil || ms != 11 {
		t.Fatalf("Result = %d, %v; want 11", ms, err)
	}
}

func TestLatencyExtractorRejectsBadPatterns(t *testing.T) {
	for _, p := range []string{`Average = \d+ms`, `(\d+)/(\d+)`, `(`} {
		if _, err := NewLatencyExtractor("ping", p); err == nil {
			t.Errorf("pattern %q accepted", p)
		}
	}
}
