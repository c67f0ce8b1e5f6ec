package launch

import (
	"camster/internal/config"
	"camster/internal/device"
	"camster/internal/journal"
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"sync"
)

// Config wires the launch pipeline together.
type Config struct {
	Profile   *config.Profile
	Prober    *device.Prober
	Assembler *Assembler
	Launcher  Launcher
	Journal   *journal.Journal
	Logger    *log.Logger
}

// Orchestrator runs probe -> assemble -> launch.
type Orchestrator struct {
	profile   *config.Profile
	prober    *device.Prober
	assembler *Assembler
	launcher  Launcher
	journal   *journal.Journal
	logger    *log.Logger

	mu       sync.Mutex
	lastArgs []string
}

// NewOrchestrator creates an orchestrator. Prober and Assembler default
// to the real filesystem and environment when nil.
func NewOrchestrator(cfg Config) (*Orchestrator, error) {
	if cfg.Profile == nil {
		return nil, fmt.Errorf("no launch profile")
	}
	if cfg.Launcher == nil {
		return nil, fmt.Errorf("no launcher")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stdout, "[launch] ", log.LstdFlags|log.Lmsgprefix)
	}
	if cfg.Prober == nil {
		cfg.Prober = device.NewProber(cfg.Logger)
	}
	if cfg.Assembler == nil {
		cfg.Assembler = NewAssembler(cfg.Logger)
	}

	return &Orchestrator{
		profile:   cfg.Profile,
		prober:    cfg.Prober,
		assembler: cfg.Assembler,
		launcher:  cfg.Launcher,
		journal:   cfg.Journal,
		logger:    cfg.Logger,
	}, nil
}

// Plan probes the candidate devices and assembles the launch parameters
// without starting anything.
func (o *Orchestrator) Plan() *Spec {
	results := o.prober.Probe(o.profile.Devices)
	return o.assembler.Assemble(o.profile, results)
}

// Run performs a single launch. Launch failures are returned and must be
// treated as fatal by the caller.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.launch(ctx, o.Plan(), journal.ActionLaunch)
}

// Relaunch re-probes and restarts the container only if the assembled
// parameters differ from the last successful launch.
func (o *Orchestrator) Relaunch(ctx context.Context) (*Result, bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	spec := o.Plan()
	if slices.Equal(spec.Args(), o.lastArgs) {
		o.logger.Printf("device set unchanged, not relaunching")
		return nil, false, nil
	}

	// The running container holds the old name
	spec.Replace = true
	res, err := o.launch(ctx, spec, journal.ActionRelaunch)
	return res, err == nil, err
}

func (o *Orchestrator) launch(ctx context.Context, spec *Spec, action string) (*Result, error) {
	entry := journal.Entry{
		Action:  action,
		Target:  spec.Name,
		Devices: spec.Devices,
		Args:    spec.Args(),
	}

	if len(spec.Devices) == 0 {
		o.logger.Printf("no video devices present, launching %s without device passthrough", spec.Name)
	}

	res, err := o.launcher.Launch(ctx, spec)
	if err != nil {
		entry.Error = err.Error()
		o.record(entry)
		return nil, fmt.Errorf("launch %s: %w", spec.Name, err)
	}

	entry.ID = res.ID
	o.record(entry)
	o.lastArgs = spec.Args()
	return res, nil
}

func (o *Orchestrator) record(entry journal.Entry) {
	if err := o.journal.Record(entry); err != nil {
		o.logger.Printf("warning: %v", err)
	}
}
