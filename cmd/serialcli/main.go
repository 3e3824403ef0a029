// cmd/serialcli/main.go
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"
)

const version = "1.0.0"

const usage = `Serial Debugger CLI

Usage:
  serialcli <command> [flags]

Commands:
  list      List available serial ports
  open      Open a port and start an interactive session
  send      Send data to a port and optionally wait for a reply
  monitor   Print everything received on a port
  version   Print the version

Common flags:
  -c, --config string   path to a config file
      --verbose         log engine activity to stderr
      --no-color        disable coloured output

Run 'serialcli <command> --help' for the flags of a command.
`

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout, buildApp); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		if isTerminal(os.Stderr) {
			fmt.Fprintf(os.Stderr, "%sError: %v%s\n", colorRed, err, colorReset)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

// run dispatches to the named command
func run(args []string, stdin io.Reader, out io.Writer, build builder) error {
	if len(args) == 0 {
		fmt.Fprint(out, usage)
		return nil
	}

	command, rest := args[0], args[1:]
	switch command {
	case "list":
		return runList(rest, out, build)
	case "open":
		return runOpen(rest, stdin, out, build)
	case "send":
		return runSend(rest, stdin, out, build)
	case "monitor":
		return runMonitor(rest, out, build)
	case "version", "--version":
		fmt.Fprintf(out, "serialcli %s\n", version)
		return nil
	case "help", "-h", "--help":
		fmt.Fprint(out, usage)
		return nil
	default:
		return fmt.Errorf("unknown command %q, run 'serialcli help'", command)
	}
}
