package main

import (
	"fmt"
	"os"

	"github.com/manila-build/manila/internal/version"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "build":
		cmdBuild(os.Args[2:])
	case "graph":
		cmdGraph(os.Args[2:])
	case "jobs":
		cmdJobs(os.Args[2:])
	case "init-config":
		cmdInitConfig()
	case "version":
		fmt.Println(version.String())
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Usage: manila <command> [options]

Commands:
  build <target>   Run target's ancestor subgraph (e.g. "app/bin" or "app:test")
  graph            Print the execution graph in Mermaid flowchart syntax
  jobs             List every attached execution node as JSON
  init-config      Generate default manila.toml
  version          Print version information
  help             Show this help message

Options (build, graph, jobs):
  --config PATH      Path to manila.toml (default: search standard locations)
  --workspace PATH    Path to workspace.toml (default: "./workspace.toml")`)
}
