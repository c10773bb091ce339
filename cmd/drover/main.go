// Package main provides the drover CLI.
package main

import (
	"fmt"
	"os"
)

var (
	version = "dev"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "run":
		runCmd(args)
	case "worker":
		workerCmd(args)
	case "validate":
		validateCmd(args)
	case "version":
		fmt.Printf("drover %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Drover - Agent Task Orchestration

Usage:
  drover <command> [options]

Commands:
  run       Run the orchestrator from a config file
  worker    Run as a worker process (used by the orchestrator)
  validate  Validate a config file
  version   Print version information
  help      Show this help message

Examples:
  drover run drover.yaml
  drover validate drover.yaml

Run 'drover <command> --help' for more information on a command.`)
}
