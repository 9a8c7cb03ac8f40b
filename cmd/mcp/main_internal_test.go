package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/saveenergy/netgauge/internal/app"
	"github.com/saveenergy/netgauge/internal/config"
	"github.com/saveenergy/netgauge/internal/report"
	"github.com/saveenergy/netgauge/internal/results"
	"github.com/saveenergy/netgauge/pkg/types"
)

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) == 0 {
		t.Fatal("empty tool result")
	}
	text, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content type = %T, want mcp.TextContent", res.Content[0])
	}
	return text.Text
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Database.DSN = filepath.Join(t.TempDir(), "results.db")
	return cfg
}

func TestHandleGetResultFromStore(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	store, err := results.Open(ctx, cfg.Database.Driver, cfg.Database.DSN, cfg.Database.MaxResults, true)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()
	id, err := store.Save(ctx, types.Record{ExternalIP: "203.0.113.7", LatencyMs: 23, DownloadMbps: 941, UploadMbps: 87})
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	ts := newToolServer(cfg, store)
	req := mcp.CallToolRequest{Params: mcp.CallToolParams{Arguments: map[string]any{"id": id}}}
	res, err := ts.handleGetResult(ctx, req)
	if err != nil {
		t.Fatalf("unexpected handler error: %v", err)
	}
	if res.IsError {
		t.Fatalf("tool error: %s", resultText(t, res))
	}

	var out report.Output
	if err := json.Unmarshal([]byte(resultText(t, res)), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.TestID != id || out.Record.DownloadMbps != 941 {
		t.Fatalf("output = %+v", out)
	}
	if out.Interpretation == nil || out.Interpretation.Grade != "A" {
		t.Fatalf("interpretation = %+v", out.Interpretation)
	}
}

func TestHandleGetResultWithoutSharedStore(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()
	store, err := results.Open(ctx, cfg.Database.Driver, cfg.Database.DSN, 0, false)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if _, err := store.Save(ctx, types.Record{ID: "abc123", LatencyMs: 40}); err != nil {
		t.Fatalf("save: %v", err)
	}
	store.Close()

	res, err := newToolServer(cfg, nil).handleGetResult(ctx, mcp.CallToolRequest{Params: mcp.CallToolParams{Arguments: map[string]any{"id": "abc123"}}})
	if err != nil {
		t.Fatalf("unexpected handler error: %v", err)
	}
	if res.IsError || !strings.Contains(resultText(t, res), `"test_id": "abc123"`) {
		t.Fatalf("result = %s", resultText(t, res))
	}
}

func TestHandleGetResultErrors(t *testing.T) {
	ts := newToolServer(testConfig(t), nil)

	tests := []struct {
		name   string
		args   map[string]any
		lookup func(context.Context, string) (*types.Record, error)
		want   string
	}{
		{"missing id", map[string]any{}, nil, "id is required"},
		{"not found", map[string]any{"id": "nope1234"}, func(context.Context, string) (*types.Record, error) {
			return nil, nil
		}, "No result"},
		{"lookup error", map[string]any{"id": "abc"}, func(context.Context, string) (*types.Record, error) {
			return nil, errors.New("disk gone")
		}, "disk gone"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.lookup != nil {
				ts.lookup = tt.lookup
			}
			res, err := ts.handleGetResult(context.Background(), mcp.CallToolRequest{Params: mcp.CallToolParams{Arguments: tt.args}})
			if err != nil {
				t.Fatalf("unexpected handler error: %v", err)
			}
			if !res.IsError {
				t.Fatal("expected tool error")
			}
			if got := resultText(t, res); !strings.Contains(got, tt.want) {
				t.Fatalf("text = %q, want substring %q", got, tt.want)
			}
		})
	}
}

func TestHandleMeasurePassesStoreFlag(t *testing.T) {
	ts := newToolServer(testConfig(t), nil)
	var gotStore []bool
	ts.measure = func(_ context.Context, store bool) (*report.Output, error) {
		gotStore = append(gotStore, store)
		out := report.NewOutput(types.Record{ID: "run00001", LatencyMs: 12})
		return &out, nil
	}

	for _, args := range []map[string]any{{}, {"store": false}} {
		res, err := ts.handleMeasure(context.Background(), mcp.CallToolRequest{Params: mcp.CallToolParams{Arguments: args}})
		if err != nil {
			t.Fatalf("unexpected handler error: %v", err)
		}
		if res.IsError {
			t.Fatalf("tool error: %s", resultText(t, res))
		}
		if !strings.Contains(resultText(t, res), `"test_id": "run00001"`) {
			t.Fatalf("text = %s", resultText(t, res))
		}
	}
	if len(gotStore) != 2 || !gotStore[0] || gotStore[1] {
		t.Fatalf("store flags = %v, want [true false]", gotStore)
	}
}

func TestHandleMeasureFailure(t *testing.T) {
	ts := newToolServer(testConfig(t), nil)
	ts.measure = func(context.Context, bool) (*report.Output, error) {
		return nil, errors.New("ping probe produced no data")
	}
	res, err := ts.handleMeasure(context.Background(), mcp.CallToolRequest{})
	if err != nil {
		t.Fatalf("unexpected handler error: %v", err)
	}
	if !res.IsError || !strings.Contains(resultText(t, res), "no data") {
		t.Fatalf("result = %+v", res)
	}
}

func TestHandleMeasureRunsOneAtATime(t *testing.T) {
	ts := newToolServer(testConfig(t), nil)
	var active, peak atomic.Int32
	ts.measure = func(context.Context, bool) (*report.Output, error) {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		active.Add(-1)
		out := report.NewOutput(types.Record{ID: "x"})
		return &out, nil
	}

	var wg sync.WaitGroup
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := ts.handleMeasure(context.Background(), mcp.CallToolRequest{}); err != nil {
				t.Errorf("handler error: %v", err)
			}
		}()
	}
	wg.Wait()
	if peak.Load() != 1 {
		t.Fatalf("peak concurrent measurements = %d, want 1", peak.Load())
	}
}

func TestHandleMeasureKeepsCallerContext(t *testing.T) {
	ts := newToolServer(testConfig(t), nil)
	var hasDeadline bool
	ts.measure = func(ctx context.Context, _ bool) (*report.Output, error) {
		_, hasDeadline = ctx.Deadline()
		out := report.NewOutput(types.Record{ID: "x"})
		return &out, nil
	}
	if _, err := ts.handleMeasure(context.Background(), mcp.CallToolRequest{}); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if hasDeadline {
		t.Fatal("measurement ran under a deadline the caller did not set")
	}
}

func TestSharedStoreIsNotReopened(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()
	store, err := results.Open(ctx, cfg.Database.Driver, cfg.Database.DSN, 0, false)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	ts := newToolServer(cfg, store)
	a, err := app.Build(ctx, cfg, app.Options{Store: ts.store})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer a.Close()
	if a.Store != nil {
		t.Fatal("Build opened its own store although one was shared")
	}
}

func TestHandleMeasureCancelledWhileWaiting(t *testing.T) {
	ts := newToolServer(testConfig(t), nil)
	if !ts.runs.TryAcquire(1) {
		t.Fatal("semaphore unexpectedly held")
	}
	defer ts.runs.Release(1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := ts.handleMeasure(ctx, mcp.CallToolRequest{})
	if err != nil {
		t.Fatalf("unexpected handler error: %v", err)
	}
	if !res.IsError || !strings.Contains(resultText(t, res), "not started") {
		t.Fatalf("result = %+v", res)
	}
}
