package main

import (
	"fmt"
	"os"
	"strings"

	mcpcmd "github.com/saveenergy/netgauge/cmd/mcp"
	runcmd "github.com/saveenergy/netgauge/cmd/run"
	showcmd "github.com/saveenergy/netgauge/cmd/show"
)

var version = "dev"

var (
	runMeasure = runcmd.Run
	runShow    = showcmd.Run
	runMCP     = mcpcmd.Run
)

func main() {
	os.Exit(run(os.Args[1:], version))
}

func run(args []string, version string) int {
	if len(args) == 0 {
		return runMeasure(nil, version)
	}

	switch args[0] {
	case "run":
		return runMeasure(args[1:], version)
	case "show":
		return runShow(args[1:], version)
	case "mcp":
		return runMCP(version)
	case "help", "-h", "--help":
		printUsage()
		return 0
	case "version", "--version":
		fmt.Printf("netgauge %s\n", version)
		return 0
	default:
		if strings.HasPrefix(args[0], "-") {
			return runMeasure(args, version)
		}
		fmt.Fprintf(os.Stderr, "netgauge: unknown command %q\n\n", args[0])
		printUsage()
		return 2
	}
}

func printUsage() {
	fmt.Fprintf(os.Stdout, `Usage: netgauge <command> [args]

Commands:
  run       Measure latency, download and upload (default when no command provided)
  show      Print a stored result by id
  mcp       Run as MCP server (stdio transport, for AI agents)
  version   Print the version

Examples:
  netgauge
  netgauge run --json --no-store
  netgauge show 3kq9x2ab
  netgauge show --remote 3kq9x2ab
  netgauge mcp
`)
}
