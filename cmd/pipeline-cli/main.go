// Package main implements the pipeline operator CLI.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/darkace1998/video-pipeline/internal/cli/commands"
)

var registry = map[string]func([]string, io.Writer) error{
	"status":   commands.Status,
	"stats":    commands.Stats,
	"jobs":     commands.Jobs,
	"retry":    commands.Retry,
	"encoders": commands.Encoders,
	"apikey":   commands.APIKey,
	"token":    commands.Token,
	"validate": commands.Validate,
}

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(1)
	}

	cmd := os.Args[1]
	if cmd == "help" || cmd == "--help" || cmd == "-h" {
		printUsage(os.Stdout)
		return
	}

	run, ok := registry[cmd]
	if !ok {
		slog.Error("Unknown command", "command", cmd)
		printUsage(os.Stderr)
		os.Exit(1)
	}

	if err := run(os.Args[2:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		slog.Error("Command failed", "command", cmd, "error", err)
		os.Exit(1)
	}
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprint(w, `
Video Pipeline CLI

Usage:
  pipeline-cli <command> [options]

Commands:
  status                 Show liveness and readiness of the master
  stats                  Show job counts by status and enabled encoders
  jobs                   List encoding jobs (oldest first)
  retry                  Requeue a failed job
  encoders               List encoders, or --enable/--disable one
  apikey                 Mint a frontend API key
  token                  Sign an admin bearer token with the admin secret
  validate               Validate a master config file

Common Options:
  --master-url <url>     Master server URL (default: http://localhost:8080)
  --token <jwt>          Admin bearer token (default: $PIPELINE_ADMIN_TOKEN)
  --format <format>      Output format: table, json, csv

Examples:
  export PIPELINE_ADMIN_TOKEN=$(pipeline-cli token --ttl 8h)
  pipeline-cli stats
  pipeline-cli jobs --status failed --format json
  pipeline-cli retry --owner alice --permlink ab12cd34
  pipeline-cli encoders --disable encoder-2
  pipeline-cli apikey --app web --owner alice
  pipeline-cli validate --file config.yaml
`)
}
