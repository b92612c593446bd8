package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"
)

const usageText = `navtrace records navigation events of test sessions.

Usage:
  navtrace <command> [flags]

Commands:
  serve    run the local collector for in-page hooks
  track    follow a WebDriver or Appium session until interrupted
  report   render the HTML report from stored sessions
  upload   upload stored sessions to the ingestion API
  help     show help

Examples:
  navtrace serve --address 127.0.0.1:8123
  navtrace track --webdriver http://127.0.0.1:4723 --session 5f1c --framework appium
  navtrace report --open --theme dark test-results/url-tracking-results.json
  navtrace upload --build-id nightly-42
`

func printUsage(w io.Writer) {
	fmt.Fprint(w, usageText)
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		printUsage(stderr)
		return 2
	}
	switch args[0] {
	case "-h", "--help", "help":
		printUsage(stdout)
		return 0
	}

	commands := buildCommands(stdout, stderr)
	runner, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(stderr, "unknown command: %s\n\n", args[0])
		printUsage(stderr)
		return 2
	}
	if err := runner.Run(args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "navtrace %s: %v\n", args[0], err)
		return 1
	}
	return 0
}
