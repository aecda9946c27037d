// Command alquery runs active-learning query rounds over LiDAR detection
// results and keeps the labelling campaign's history.
//
// Usage:
//
//	alquery <command> [flags]
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/banshee-data/alquery/internal/monitoring"
	"github.com/banshee-data/alquery/internal/version"
)

var quiet = flag.Bool("quiet", false, "Mute diagnostic logging")

// errUsage marks a command line that was rejected after printing usage.
var errUsage = errors.New("invalid usage")

func main() {
	flag.Usage = func() { printUsage(os.Stderr) }
	flag.Parse()
	if *quiet {
		monitoring.SetLogger(nil)
	}

	if flag.NArg() < 1 {
		printUsage(os.Stderr)
		os.Exit(2)
	}
	if err := run(flag.Arg(0), flag.Args()[1:], os.Stdout); err != nil {
		os.Exit(exitCode(flag.Arg(0), err, os.Stderr))
	}
}

// exitCode reports err and returns the process status: 2 for a rejected
// command line, whose usage text has already been printed, 1 otherwise.
func exitCode(command string, err error, stderr io.Writer) int {
	if errors.Is(err, errUsage) {
		return 2
	}
	fmt.Fprintf(stderr, "alquery %s: %v\n", command, err)
	return 1
}

func run(command string, args []string, stdout io.Writer) error {
	switch command {
	case "query":
		return runQuery(args, stdout)
	case "rounds":
		return runRounds(args, stdout)
	case "migrate":
		return runMigrate(args, stdout)
	case "serve":
		return runServe(args)
	case "replay-server":
		return runReplayServer(args)
	case "version":
		fmt.Fprintln(stdout, version.String())
		return nil
	case "help":
		printUsage(stdout)
		return nil
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage(os.Stderr)
		return errUsage
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `alquery - active-learning frame selection for LiDAR detection

Usage: alquery [-quiet] <command> [options]

Commands:
  query          Run one query round over a pool file
  rounds         List stored rounds
  migrate        Manage the round database schema (up, down, version)
  serve          Serve the query API, round history, tailsql and /metrics
  replay-server  Serve saved detections as a gRPC detector
  version        Show version
  help           Show this help message

Examples:
  # Rule 12 round from a saved inference pass, persisted and reported
  alquery query -pool pool.json -detections dets.cbor -config query.json \
      -rule 12 -budget 100 -db rounds.db -report-dir reports -out pool.json

  # Round against a live detector
  alquery query -pool pool.json -inference-addr localhost:50051 -budget 50

Run 'alquery <command> -h' for the flags of a command.`)
}

// newFlagSet returns a flag set that reports errors instead of exiting.
func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	return fs
}

func parseFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return errUsage
		}
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	return nil
}
