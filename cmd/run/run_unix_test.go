//go:build !windows

package run

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestRunEndToEnd(t *testing.T) {
	out, errOut := captureOutput(t)
	for _, key := range []string{"NETGAUGE_PING_CMD", "NETGAUGE_DOWNLOAD_CMD", "NETGAUGE_UPLOAD_CMD", "NETGAUGE_REPORT_URL", "NETGAUGE_IP_LOOKUP_URL", "NETGAUGE_CONFIG_PUBKEY", "NETGAUGE_DB_DSN"} {
		t.Setenv(key, "")
	}

	ipSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("198.51.100.20\n"))
	}))
	defer ipSrv.Close()

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "netgauge.yaml")
	cfgBody := fmt.Sprintf(`
ping:
  command: "printf 'Minimum = 9ms, Maximum = 14ms, Average = 11ms\\n'"
download:
  command: "printf '%%s\\n' 'Rate: 300' 'Total: 512.4' 'done' > {artifact}"
upload:
  command: "printf '%%s\\n' 'Rate: 20' 'Total: 48.6' 'done' > {artifact}"
throughput:
  interim_pattern: '^Rate: (?P<rate>[\d.]+)'
  terminal_pattern: '^Total: (?P<rate>[\d.]+)'
  done_marker: done
stream:
  poll_interval: 5ms
  open_retries: 400
  read_retries: 400
  work_dir: %q
database:
  dsn: %q
network:
  ip_lookup_url: %q
`, dir, filepath.Join(dir, "results.db"), ipSrv.URL)
	if err := os.WriteFile(cfgPath, []byte(cfgBody), 0o644); err != nil {
		t.Fatal(err)
	}

	code := Run([]string{"-c", cfgPath, "--json", "-q"}, "test")
	if code != exitSuccess {
		t.Fatalf("exit = %d, stderr:\n%s", code, errOut.String())
	}

	var got struct {
		TestID string `json:"test_id"`
		Record struct {
			ExtIP        string `json:"ext_ip"`
			LatencyMs    int    `json:"latency_ms"`
			DownloadMbps int    `json:"download_mbps"`
			UploadMbps   int    `json:"upload_mbps"`
		} `json:"record"`
	}
	if err := json.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatalf("stdout is not JSON: %v\n%s", err, out.String())
	}
	if got.TestID == "" || got.Record.ExtIP != "198.51.100.20" || got.Record.LatencyMs != 11 ||
		got.Record.DownloadMbps != 512 || got.Record.UploadMbps != 49 {
		t.Fatalf("report = %+v", got)
	}
	if _, err := os.Stat(filepath.Join(dir, "results.db")); err != nil {
		t.Fatalf("results database not created: %v", err)
	}
}
