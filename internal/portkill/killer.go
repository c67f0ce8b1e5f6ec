package portkill

import (
	"camster/internal/journal"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"strconv"
)

// DefaultPort is the port the surveillance web UI listens on.
const DefaultPort = 8000

// Listener is a process holding a listening TCP socket on a port.
type Listener struct {
	PID         int
	Port        int
	Inode       uint64
	Command     string
	ContainerID string // "" for host processes
}

// Table enumerates the processes listening on a TCP port.
type Table interface {
	Listeners(port int) ([]Listener, error)
}

// Signaler terminates a process.
type Signaler interface {
	Kill(pid int) error
}

// Outcome is what happened to one process.
type Outcome string

const (
	OutcomeKilled Outcome = "killed"
	OutcomeExited Outcome = "already exited"
	OutcomeFailed Outcome = "failed"
	OutcomeListed Outcome = "listed"
)

// Target is a process selected for termination and its outcome.
type Target struct {
	Listener
	Outcome Outcome
	Err     error
}

// Report summarizes a kill run.
type Report struct {
	Port    int
	DryRun  bool
	Targets []Target
}

// Found reports whether any process was listening.
func (r *Report) Found() bool {
	return len(r.Targets) > 0
}

// PIDs returns the PIDs that were terminated or had already exited.
func (r *Report) PIDs() []int {
	var pids []int
	for _, t := range r.Targets {
		if t.Outcome == OutcomeKilled || t.Outcome == OutcomeExited {
			pids = append(pids, t.PID)
		}
	}
	return pids
}

// Failed returns the targets whose signal could not be delivered.
func (r *Report) Failed() []Target {
	var failed []Target
	for _, t := range r.Targets {
		if t.Outcome == OutcomeFailed {
			failed = append(failed, t)
		}
	}
	return failed
}

// Config configures a Killer.
type Config struct {
	Table    Table
	Signaler Signaler
	Journal  *journal.Journal
	Logger   *log.Logger
	DryRun   bool
}

// Killer terminates whatever is listening on a port.
type Killer struct {
	table    Table
	signaler Signaler
	journal  *journal.Journal
	logger   *log.Logger
	dryRun   bool
}

// NewKiller creates a Killer. Signaler defaults to SIGKILL via kill(2).
func NewKiller(cfg Config) (*Killer, error) {
	if cfg.Table == nil {
		return nil, fmt.Errorf("no listener table")
	}
	if cfg.Signaler == nil {
		cfg.Signaler = NewSignaler()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stdout, "[killport] ", log.LstdFlags|log.Lmsgprefix)
	}
	return &Killer{
		table:    cfg.Table,
		signaler: cfg.Signaler,
		journal:  cfg.Journal,
		logger:   cfg.Logger,
		dryRun:   cfg.DryRun,
	}, nil
}

// Kill force-terminates every process listening on port. Finding no
// process is a success. The returned error is non-nil when enumeration
// fails or any signal could not be delivered; the report is returned in
// the latter case too.
//
// Enumeration and signalling are not atomic: a process may exit or a new
// one may bind in between.
func (k *Killer) Kill(ctx context.Context, port int) (*Report, error) {
	if port < 1 || port > 65535 {
		return nil, fmt.Errorf("invalid port %d", port)
	}

	listeners, err := k.table.Listeners(port)
	if err != nil {
		return nil, fmt.Errorf("list listeners on port %d: %w", port, err)
	}

	report := &Report{Port: port, DryRun: k.dryRun}
	for _, l := range uniquePIDs(listeners) {
		report.Targets = append(report.Targets, Target{Listener: l})
	}

	if !report.Found() {
		k.logger.Printf("no process found listening on port %d", port)
		return report, nil
	}

	var errs []error
	for i := range report.Targets {
		t := &report.Targets[i]

		if k.dryRun {
			t.Outcome = OutcomeListed
			k.logger.Printf("would kill pid %d (%s)%s", t.PID, t.Command, containerSuffix(t.ContainerID))
			continue
		}
		if err := ctx.Err(); err != nil {
			t.Outcome, t.Err = OutcomeFailed, err
			errs = append(errs, err)
			continue
		}

		err := k.signaler.Kill(t.PID)
		switch {
		case err == nil:
			t.Outcome = OutcomeKilled
			k.logger.Printf("killed pid %d (%s)%s", t.PID, t.Command, containerSuffix(t.ContainerID))
		case errors.Is(err, ErrProcessGone):
			t.Outcome = OutcomeExited
			k.logger.Printf("pid %d already exited", t.PID)
		default:
			t.Outcome, t.Err = OutcomeFailed, err
			errs = append(errs, fmt.Errorf("kill pid %d: %w", t.PID, err))
			k.logger.Printf("warning: kill pid %d: %v", t.PID, err)
		}
	}

	k.record(report, errs)

	if len(errs) > 0 {
		return report, errors.Join(errs...)
	}
	return report, nil
}

func (k *Killer) record(report *Report, errs []error) {
	if report.DryRun {
		return
	}
	entry := journal.Entry{
		Action: journal.ActionKill,
		Target: "tcp/" + strconv.Itoa(report.Port),
		PIDs:   report.PIDs(),
	}
	if len(errs) > 0 {
		entry.Error = errors.Join(errs...).Error()
	}
	if err := k.journal.Record(entry); err != nil {
		k.logger.Printf("warning: %v", err)
	}
}

// uniquePIDs keeps the first listener per PID, ordered by PID. A process
// listening on both IPv4 and IPv6 is signalled once.
func uniquePIDs(listeners []Listener) []Listener {
	seen := make(map[int]bool, len(listeners))
	var out []Listener
	for _, l := range listeners {
		if seen[l.PID] {
			continue
		}
		seen[l.PID] = true
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PID < out[j].PID })
	return out
}

func containerSuffix(id string) string {
	if id == "" {
		return ""
	}
	return " in container " + truncateID(id)
}

// truncateID returns the first 12 characters of a container ID, or "(host)".
func truncateID(id string) string {
	if id == "" {
		return "(host)"
	}
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
