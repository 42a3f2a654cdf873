package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	mcpcmd "github.com/saveenergy/speedgauge/cmd/mcp"
	runcmd "github.com/saveenergy/speedgauge/cmd/run"
	tuicmd "github.com/saveenergy/speedgauge/cmd/tui"
	webcmd "github.com/saveenergy/speedgauge/cmd/web"
)

var version = "dev"

var (
	runTUI = tuicmd.Run
	runWeb = webcmd.Run
	runRun = runcmd.Run
	runMCP = mcpcmd.Run
)

func main() {
	os.Exit(run(os.Args[1:], version))
}

func run(args []string, version string) int {
	if len(args) == 0 {
		return runTUI(nil, version)
	}

	switch args[0] {
	case "tui":
		return runTUI(args[1:], version)
	case "web":
		return runWeb(args[1:], version)
	case "run":
		return runRun(args[1:], version)
	case "mcp":
		return runMCP(args[1:], version)
	case "help", "-h", "--help":
		printUsage(os.Stdout)
		return 0
	case "version", "--version":
		fmt.Printf("speedgauge %s\n", version)
		return 0
	default:
		// Flags without a subcommand belong to the default front-end.
		if strings.HasPrefix(args[0], "-") {
			return runTUI(args, version)
		}
		fmt.Fprintf(os.Stderr, "speedgauge: unknown command %q\n\n", args[0])
		printUsage(os.Stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `Usage: speedgauge <command> [args]

Commands:
  tui       Show the gauge in the terminal (default when no command provided)
  web       Serve the gauge to browsers over HTTP and websocket
  run       Run one measurement and print the result
  mcp       Run as MCP server (stdio transport, for AI agents)

Examples:
  speedgauge
  speedgauge web --listen :8080
  speedgauge run --format json
  speedgauge tui --engine remote --remote-url ws://probe.local:9000/engine
`)
}
