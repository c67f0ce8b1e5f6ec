// Command camster-killport force-terminates whatever is listening on the
// surveillance web port so a fresh instance can bind it.
package main

import (
	"camster/internal/journal"
	"camster/internal/portkill"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	flag "github.com/spf13/pflag"
)

// newSignaler is replaced in tests.
var newSignaler = portkill.NewSignaler

func main() {
	os.Exit(run(os.Args[1:], os.Getenv, os.Stdout, os.Stderr))
}

func run(args []string, getenv func(string) string, stdout, stderr io.Writer) int {
	flags := flag.NewFlagSet("camster-killport", flag.ContinueOnError)
	flags.SetOutput(stderr)

	port := flags.IntP("port", "p", portkill.DefaultPort, "TCP port to free")
	dryRun := flags.Bool("dry-run", false, "List the processes without signalling them")
	journalPath := flags.String("journal", getenv("CAMSTER_JOURNAL"), "Append kill events to this JSON-lines file (overrides CAMSTER_JOURNAL)")
	procPath := flags.String("proc", "/proc", "Mount point of the proc filesystem")

	flags.Usage = func() {
		fmt.Fprintf(stderr, `camster-killport - free the camster web port

Usage:
  camster-killport [flags] [port]

Flags:
`)
		flags.PrintDefaults()
	}
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "camster-killport: %v\n", err)
		return 1
	}

	fail := func(format string, args ...any) int {
		fmt.Fprintf(stderr, "camster-killport: "+format+"\n", args...)
		return 1
	}

	if flags.NArg() > 1 {
		flags.Usage()
		return 1
	}
	if flags.NArg() == 1 {
		p, err := strconv.Atoi(flags.Arg(0))
		if err != nil {
			return fail("invalid port %q", flags.Arg(0))
		}
		*port = p
	}

	logger := log.New(stdout, "[killport] ", log.LstdFlags|log.Lmsgprefix)

	table, err := portkill.NewProcTable(*procPath, logger)
	if err != nil {
		return fail("%v", err)
	}

	j, err := journal.Open(*journalPath)
	if err != nil {
		logger.Printf("warning: %v, journaling disabled", err)
		j = nil
	}
	defer j.Close()

	killer, err := portkill.NewKiller(portkill.Config{
		Table:    table,
		Signaler: newSignaler(),
		Journal:  j,
		Logger:   logger,
		DryRun:   *dryRun,
	})
	if err != nil {
		return fail("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	report, err := killer.Kill(ctx, *port)
	if report != nil {
		printReport(stdout, report)
	}
	if err != nil {
		return fail("%v", err)
	}
	return 0
}

func printReport(w io.Writer, r *portkill.Report) {
	if !r.Found() {
		fmt.Fprintf(w, "no process found on port %d\n", r.Port)
		return
	}
	for _, t := range r.Targets {
		line := fmt.Sprintf("port %d: pid %d", r.Port, t.PID)
		if t.Command != "" {
			line += " (" + t.Command + ")"
		}
		line += ": " + string(t.Outcome)
		if t.Err != nil {
			line += ": " + t.Err.Error()
		}
		fmt.Fprintln(w, line)
	}
}
