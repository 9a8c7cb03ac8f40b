// Package progress draws the single-line run progress bar.
package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"

	"github.com/saveenergy/netgauge/pkg/types"
)

const barWidth = 30

// span is the slice of the bar owned by each phase; fractions reported
// within a phase fill its slice.
var span = map[types.Phase][2]float64{
	types.PhaseStart:              {0, 0},
	types.PhasePingDone:           {10, 10},
	types.PhaseDownloadConnecting: {12, 12},
	types.PhaseDownload:           {12, 50},
	types.PhaseDownloadDone:       {50, 50},
	types.PhaseUploadConnecting:   {52, 52},
	types.PhaseUpload:             {52, 90},
	types.PhaseUploadDone:         {90, 90},
	types.PhasePersisting:         {93, 93},
	types.PhaseReporting:          {96, 96},
	types.PhaseDone:               {100, 100},
}

// Percent maps a phase and an in-phase fraction to overall completion.
func Percent(p types.Phase, fraction float64) float64 {
	s, ok := span[p]
	if !ok {
		return 0
	}
	fraction = max(0, min(1, fraction))
	return s[0] + (s[1]-s[0])*fraction
}

// Enabled reports whether f is a terminal worth drawing on.
func Enabled(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// Bar implements measure.ProgressReporter.
type Bar struct {
	mu      sync.Mutex
	w       io.Writer
	noColor bool
	last    float64
}

func NewBar(w io.Writer, noColor bool) *Bar {
	return &Bar{w: w, noColor: noColor, last: -1}
}

func (b *Bar) Phase(p types.Phase, fraction float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	pct := Percent(p, fraction)
	if pct < b.last {
		// interim samples can overshoot the expected duration
		pct = b.last
	}
	b.last = pct

	filled := int(pct / 100 * barWidth)
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)
	if !b.noColor {
		switch {
		case pct < 50:
			bar = "\033[33m" + bar + "\033[0m"
		case pct < 90:
			bar = "\033[36m" + bar + "\033[0m"
		default:
			bar = "\033[32m" + bar + "\033[0m"
		}
	}
	fmt.Fprintf(b.w, "\r[%s] %5.1f%% %-20s", bar, pct, p)
	if p == types.PhaseDone {
		fmt.Fprintln(b.w)
	}
}

// Nop discards progress.
type Nop struct{}

func (Nop) Phase(types.Phase, float64) {}
