package types

import (
	"strconv"
	"time"
)

// TimestampLayout is the start-time format stored with each throughput phase.
const TimestampLayout = "2006-01-02 15:04:05"

// Record is the aggregated output of one measurement run. It is built by the
// orchestrator and handed whole to the store and the reporter.
type Record struct {
	ID               string    `json:"id"`
	ExternalIP       string    `json:"ext_ip"`
	LatencyMs        int       `json:"latency_ms"`
	DownloadTime     string    `json:"download_time"`
	DownloadDuration string    `json:"download_duration"`
	DownloadMbps     int       `json:"download_mbps"`
	UploadTime       string    `json:"upload_time"`
	UploadDuration   string    `json:"upload_duration"`
	UploadMbps       int       `json:"upload_mbps"`
	CreatedAt        time.Time `json:"created_at"`
}

// Params renders the record as the flat key/value set consumed by the
// results server.
func (r Record) Params() map[string]string {
	return map[string]string{
		"EXT_IP":            r.ExternalIP,
		"LATENCY":           strconv.Itoa(r.LatencyMs),
		"DOWNLOAD_TIME":     r.DownloadTime,
		"DOWNLOAD_DURATION": r.DownloadDuration,
		"DOWNLOAD_SPEED":    strconv.Itoa(r.DownloadMbps),
		"UPLOAD_TIME":       r.UploadTime,
		"UPLOAD_DURATION":   r.UploadDuration,
		"UPLOAD_SPEED":      strconv.Itoa(r.UploadMbps),
	}
}

// FormatDuration renders an elapsed phase duration as seconds with two decimals.
func FormatDuration(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 2, 64)
}
