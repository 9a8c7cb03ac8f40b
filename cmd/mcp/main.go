// Package mcp implements `netgauge mcp`, an MCP (Model Context Protocol)
// server over stdio. Agents spawn the process and call measurement tools
// directly.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"golang.org/x/sync/semaphore"

	"github.com/saveenergy/netgauge/internal/app"
	"github.com/saveenergy/netgauge/internal/config"
	"github.com/saveenergy/netgauge/internal/logging"
	"github.com/saveenergy/netgauge/internal/report"
	"github.com/saveenergy/netgauge/internal/results"
	"github.com/saveenergy/netgauge/pkg/types"
)

// toolServer holds what the tool handlers share. One measurement runs at a
// time; later calls wait for the semaphore.
type toolServer struct {
	cfg *config.Config
	// store is shared by every call; nil when persistence is off or the
	// database could not be opened.
	store   *results.Store
	runs    *semaphore.Weighted
	measure func(ctx context.Context, store bool) (*report.Output, error)
	lookup  func(ctx context.Context, id string) (*types.Record, error)
}

func newToolServer(cfg *config.Config, store *results.Store) *toolServer {
	ts := &toolServer{
		cfg:   cfg,
		store: store,
		runs:  semaphore.NewWeighted(1),
	}
	ts.measure = ts.runMeasurement
	ts.lookup = ts.lookupRecord
	return ts
}

// Run starts the MCP stdio server. Blocks until stdin closes.
func Run(version string) int {
	ctx := context.Background()
	cfg, err := app.LoadConfig(ctx, "", "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "netgauge mcp: error: %v\n", err)
		return 2
	}
	// stdout is the transport; keep logs to errors on stderr
	if err := app.InitLogging(cfg, false, true); err != nil {
		fmt.Fprintf(os.Stderr, "netgauge mcp: error: %v\n", err)
		return 2
	}

	var store *results.Store
	if !cfg.Database.Disabled {
		// retention keeps running for the whole agent session
		store, err = app.OpenStore(ctx, cfg, true)
		if err != nil {
			logging.Warn("Results store unavailable", logging.F("driver", cfg.Database.Driver), logging.F("error", err))
		} else {
			defer store.Close()
		}
	}

	ts := newToolServer(cfg, store)
	s := server.NewMCPServer(
		"netgauge",
		version,
		server.WithToolCapabilities(true),
	)

	measureTool := mcp.NewTool("measure_network",
		mcp.WithDescription("Run one full measurement with the configured tools: ping latency, then download and upload throughput. Returns the record, its test id and a diagnostic grade (A-F). Takes as long as the tools run, typically 25-40 seconds."),
		mcp.WithBoolean("store",
			mcp.Description("Store the result in the local results database (default: true)"),
		),
	)
	s.AddTool(measureTool, ts.handleMeasure)

	resultTool := mcp.NewTool("get_result",
		mcp.WithDescription("Fetch a stored measurement by id, with its diagnostic interpretation."),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("Result id as returned by measure_network"),
		),
	)
	s.AddTool(resultTool, ts.handleGetResult)

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "netgauge mcp: error: %v\n", err)
		return 1
	}
	return 0
}

func (ts *toolServer) handleMeasure(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	store := req.GetBool("store", true)

	// probes end on their own read budgets; only the caller's ctx cancels
	if err := ts.runs.Acquire(ctx, 1); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Measurement not started: %v", err)), nil
	}
	defer ts.runs.Release(1)

	out, err := ts.measure(ctx, store)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Measurement failed: %v", err)), nil
	}
	return jsonResult(out)
}

func (ts *toolServer) handleGetResult(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("id", "")
	if id == "" {
		return mcp.NewToolResultError("id is required"), nil
	}
	rec, err := ts.lookup(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Lookup failed: %v", err)), nil
	}
	if rec == nil {
		return mcp.NewToolResultError(fmt.Sprintf("No result with id %q", id)), nil
	}
	return jsonResult(report.NewOutput(*rec))
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("JSON encoding failed: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (ts *toolServer) runMeasurement(ctx context.Context, store bool) (*report.Output, error) {
	// without a shared store nothing is persisted
	a, err := app.Build(ctx, ts.cfg, app.Options{NoStore: !store || ts.store == nil, Store: ts.store})
	if err != nil {
		return nil, err
	}
	defer a.Close()
	if _, err := a.Orchestrator.Run(ctx); err != nil {
		return nil, err
	}
	return a.Reporter.Last(), nil
}

func (ts *toolServer) lookupRecord(ctx context.Context, id string) (*types.Record, error) {
	if ts.store != nil {
		return ts.store.Get(ctx, id)
	}
	store, err := app.OpenStore(ctx, ts.cfg, false)
	if err != nil {
		return nil, err
	}
	defer store.Close()
	return store.Get(ctx, id)
}
