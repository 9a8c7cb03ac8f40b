// Package diagnostic turns a measurement record into a letter grade and a
// short list of what the link is good for.
package diagnostic

import (
	"fmt"
	"strings"

	"github.com/saveenergy/netgauge/pkg/types"
)

// Interpretation is the graded reading of one record.
type Interpretation struct {
	Grade          string   `json:"grade"`
	Summary        string   `json:"summary"`
	LatencyRating  string   `json:"latency_rating"`
	DownloadRating string   `json:"download_rating"`
	UploadRating   string   `json:"upload_rating"`
	SuitableFor    []string `json:"suitable_for"`
	Concerns       []string `json:"concerns"`
}

// Params are the raw metrics to interpret.
type Params struct {
	LatencyMs    int
	DownloadMbps int
	UploadMbps   int
}

func FromRecord(r types.Record) Params {
	return Params{LatencyMs: r.LatencyMs, DownloadMbps: r.DownloadMbps, UploadMbps: r.UploadMbps}
}

func Interpret(p Params) *Interpretation {
	interp := &Interpretation{
		LatencyRating:  rateLatency(p.LatencyMs),
		DownloadRating: rateSpeed(p.DownloadMbps, 100, 25, 5),
		UploadRating:   rateSpeed(p.UploadMbps, 50, 10, 2),
		SuitableFor:    suitability(p),
		Concerns:       concerns(p),
	}
	interp.Grade = computeGrade(interp.LatencyRating, interp.DownloadRating, interp.UploadRating)
	interp.Summary = buildSummary(interp.Grade, p)
	return interp
}

func rateLatency(ms int) string {
	switch {
	case ms <= 0:
		return "unknown"
	case ms <= 20:
		return "excellent"
	case ms <= 50:
		return "good"
	case ms <= 100:
		return "fair"
	default:
		return "poor"
	}
}

func rateSpeed(mbps, fast, good, moderate int) string {
	switch {
	case mbps <= 0:
		return "unknown"
	case mbps >= fast:
		return "fast"
	case mbps >= good:
		return "good"
	case mbps >= moderate:
		return "moderate"
	default:
		return "slow"
	}
}

func suitability(p Params) []string {
	s := []string{}

	if (p.DownloadMbps >= 1 || p.UploadMbps >= 1) && p.LatencyMs < 200 {
		s = append(s, "web_browsing")
	}
	if p.DownloadMbps >= 5 && p.UploadMbps >= 2 && p.LatencyMs > 0 && p.LatencyMs < 100 {
		s = append(s, "video_conferencing")
	}
	if p.DownloadMbps >= 25 {
		s = append(s, "streaming_4k")
	} else if p.DownloadMbps >= 5 {
		s = append(s, "streaming_hd")
	}
	if p.LatencyMs > 0 && p.LatencyMs < 50 && p.DownloadMbps >= 5 {
		s = append(s, "gaming")
	}
	if p.DownloadMbps >= 50 || p.UploadMbps >= 50 {
		s = append(s, "large_transfers")
	}
	return s
}

func concerns(p Params) []string {
	c := []string{}
	if p.LatencyMs > 100 {
		c = append(c, "high_latency")
	}
	if p.DownloadMbps > 0 && p.DownloadMbps < 5 {
		c = append(c, "slow_download")
	}
	if p.UploadMbps > 0 && p.UploadMbps < 2 {
		c = append(c, "slow_upload")
	}
	// upload under a tenth of download starves video calls and backups
	if p.UploadMbps > 0 && p.DownloadMbps >= 10*p.UploadMbps {
		c = append(c, "asymmetric_link")
	}
	return c
}

var ratingScore = map[string]int{
	"excellent": 4,
	"fast":      4,
	"good":      3,
	"fair":      2,
	"moderate":  2,
	"poor":      0,
	"slow":      0,
	"unknown":   2,
}

func computeGrade(latency, download, upload string) string {
	// max 12
	score := ratingScore[latency] + ratingScore[download] + ratingScore[upload]
	switch {
	case score >= 11:
		return "A"
	case score >= 9:
		return "B"
	case score >= 6:
		return "C"
	case score >= 3:
		return "D"
	default:
		return "F"
	}
}

var gradeDesc = map[string]string{
	"A": "Excellent",
	"B": "Good",
	"C": "Fair",
	"D": "Poor",
	"F": "Very poor",
}

func buildSummary(grade string, p Params) string {
	parts := []string{}
	if p.DownloadMbps > 0 {
		parts = append(parts, fmt.Sprintf("%d Mbps down", p.DownloadMbps))
	}
	if p.UploadMbps > 0 {
		parts = append(parts, fmt.Sprintf("%d Mbps up", p.UploadMbps))
	}
	if p.LatencyMs > 0 {
		parts = append(parts, fmt.Sprintf("%dms latency", p.LatencyMs))
	}
	summary := gradeDesc[grade] + " connection"
	if len(parts) > 0 {
		summary += ": " + strings.Join(parts, ", ")
	}
	return summary
}
