package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/saveenergy/netgauge/pkg/diagnostic"
	"github.com/saveenergy/netgauge/pkg/types"
)

// Output is the final report of one run.
type Output struct {
	TestID         string                     `json:"test_id"`
	URL            string                     `json:"url,omitempty"`
	Record         types.Record               `json:"record"`
	Interpretation *diagnostic.Interpretation `json:"interpretation"`
}

// Formatter renders a finished report.
type Formatter interface {
	FormatReport(w io.Writer, out Output) error
}

type JSONFormatter struct{}

func (JSONFormatter) FormatReport(w io.Writer, out Output) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// PlainFormatter prints key=value lines for scripts.
type PlainFormatter struct{}

func (PlainFormatter) FormatReport(w io.Writer, out Output) error {
	r := out.Record
	var b strings.Builder
	fmt.Fprintf(&b, "test_id=%s\n", out.TestID)
	if out.URL != "" {
		fmt.Fprintf(&b, "url=%s\n", out.URL)
	}
	fmt.Fprintf(&b, "ext_ip=%s\n", r.ExternalIP)
	fmt.Fprintf(&b, "latency_ms=%d\n", r.LatencyMs)
	fmt.Fprintf(&b, "download_time=%s\n", r.DownloadTime)
	fmt.Fprintf(&b, "download_duration=%s\n", r.DownloadDuration)
	fmt.Fprintf(&b, "download_mbps=%d\n", r.DownloadMbps)
	fmt.Fprintf(&b, "upload_time=%s\n", r.UploadTime)
	fmt.Fprintf(&b, "upload_duration=%s\n", r.UploadDuration)
	fmt.Fprintf(&b, "upload_mbps=%d\n", r.UploadMbps)
	if out.Interpretation != nil {
		fmt.Fprintf(&b, "grade=%s\n", out.Interpretation.Grade)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// InteractiveFormatter is the human summary shown on a terminal.
type InteractiveFormatter struct {
	NoColor bool
}

func (f InteractiveFormatter) FormatReport(w io.Writer, out Output) error {
	r := out.Record
	var b strings.Builder
	b.WriteString("\nResults:\n")
	fmt.Fprintf(&b, " %s %d ms\n", f.label("33", "Latency:"), r.LatencyMs)
	fmt.Fprintf(&b, " %s %d Mbps (%ss, started %s)\n", f.label("36", "Download:"), r.DownloadMbps, r.DownloadDuration, r.DownloadTime)
	fmt.Fprintf(&b, " %s %d Mbps (%ss, started %s)\n", f.label("35", "Upload:"), r.UploadMbps, r.UploadDuration, r.UploadTime)
	fmt.Fprintf(&b, " %s %s\n", f.label("37", "External IP:"), r.ExternalIP)
	if in := out.Interpretation; in != nil {
		fmt.Fprintf(&b, " %s %s\n", f.label(gradeColor(in.Grade), "Grade "+in.Grade+":"), in.Summary)
		if len(in.Concerns) > 0 {
			fmt.Fprintf(&b, "  concerns: %s\n", strings.Join(in.Concerns, ", "))
		}
	}
	fmt.Fprintf(&b, "\nTest ID: %s\n", out.TestID)
	if out.URL != "" {
		fmt.Fprintf(&b, "View at: %s\n", out.URL)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func (f InteractiveFormatter) label(color, text string) string {
	if f.NoColor {
		return text
	}
	return "\033[" + color + "m" + text + "\033[0m"
}

func gradeColor(grade string) string {
	switch grade {
	case "A", "B":
		return "32"
	case "C":
		return "33"
	default:
		return "31"
	}
}
