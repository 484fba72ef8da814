package main

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// Version is set at build time via -ldflags.
// Example: go build -ldflags="-X main.Version=v0.1.0" ./cmd
var Version = "dev"

const usage = `wabot - WhatsApp session supervisor with a QR status page and auto-responder

Usage:
  wabot [run] [options]   Run the supervisor (default command)
  wabot history [options] Show recent lifecycle journal entries
  wabot version           Print the version

Run 'wabot <command> --help' for more information on a command.
`

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	// A bare invocation or leading flags run the supervisor, matching
	// how the bot is launched by process managers.
	if len(args) < 2 || strings.HasPrefix(args[1], "-") && !isHelpOrVersion(args[1]) {
		var rest []string
		if len(args) > 1 {
			rest = args[1:]
		}
		return runServe(rest, stdout, stderr)
	}

	switch args[1] {
	case "run":
		return runServe(args[2:], stdout, stderr)
	case "history":
		return runHistory(args[2:], stdout, stderr)
	case "--help", "-h", "help":
		fmt.Fprint(stdout, usage)
		return 0
	case "--version", "-v", "version":
		fmt.Fprintf(stdout, "wabot %s\n", Version)
		return 0
	default:
		fmt.Fprintf(stdout, "Unknown command: %s\n", args[1])
		fmt.Fprint(stdout, usage)
		return 1
	}
}

func isHelpOrVersion(arg string) bool {
	switch arg {
	case "--help", "-h", "--version", "-v":
		return true
	}
	return false
}
