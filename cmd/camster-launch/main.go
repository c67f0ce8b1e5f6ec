// Command camster-launch starts the surveillance container with whichever
// video devices are currently attached.
package main

import (
	"camster/internal/config"
	"camster/internal/device"
	"camster/internal/journal"
	"camster/internal/launch"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	flag "github.com/spf13/pflag"
)

const defaultProfilePath = "camster.yaml"

func main() {
	os.Exit(run(os.Args[1:], os.Getenv, os.Stdout, os.Stderr))
}

func run(args []string, getenv func(string) string, stdout, stderr io.Writer) int {
	flags := flag.NewFlagSet("camster-launch", flag.ContinueOnError)
	flags.SetOutput(stderr)

	profilePath := flags.String("profile", envOr(getenv, "CAMSTER_PROFILE", defaultProfilePath), "Path to the launch profile (overrides CAMSTER_PROFILE)")
	image := flags.String("image", "", "Container image (overrides profile and CAMSTER_IMAGE)")
	engine := flags.String("engine", "", "Launch engine: docker-api, cli (overrides profile and CAMSTER_ENGINE)")
	runtime := flags.String("runtime", "", "Runtime binary for the cli engine, e.g. docker or podman")
	journalPath := flags.String("journal", "", "Append launch events to this JSON-lines file")
	devices := flags.StringArray("device", nil, "Candidate video device (can be repeated, replaces the profile list)")
	dryRun := flags.Bool("dry-run", false, "Print the launch command without starting anything")
	listDevices := flags.Bool("list-devices", false, "List video devices on this host and exit")
	watch := flags.BoolP("watch", "w", false, "Keep running and relaunch when video devices appear or disappear")

	flags.Usage = func() {
		fmt.Fprintf(stderr, `camster-launch - start the camster surveillance container

Usage:
  camster-launch [flags]

Flags:
`)
		flags.PrintDefaults()
	}
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "camster-launch: %v\n", err)
		return 1
	}

	fail := func(format string, args ...any) int {
		fmt.Fprintf(stderr, "camster-launch: "+format+"\n", args...)
		return 1
	}

	logger := log.New(stdout, "[launch] ", log.LstdFlags|log.Lmsgprefix)
	deviceLogger := log.New(stdout, "[device] ", log.LstdFlags|log.Lmsgprefix)

	explicit := flags.Changed("profile") || getenv("CAMSTER_PROFILE") != ""
	profile, err := loadProfile(*profilePath, explicit, logger)
	if err != nil {
		return fail("load profile: %v", err)
	}
	profile.ApplyEnv(getenv)
	if flags.Changed("image") {
		profile.Image = *image
	}
	if flags.Changed("engine") {
		profile.Engine = config.Engine(*engine)
	}
	if flags.Changed("runtime") {
		profile.Runtime = *runtime
	}
	if flags.Changed("journal") {
		profile.JournalPath = *journalPath
	}
	if len(*devices) > 0 {
		profile.Devices = *devices
	}
	if err := profile.Validate(); err != nil {
		return fail("invalid configuration: %v", err)
	}

	prober := device.NewProber(deviceLogger)

	if *listDevices {
		if err := printDevices(stdout, prober, profile); err != nil {
			return fail("%v", err)
		}
		return 0
	}

	launcher, err := launch.NewLauncher(profile.Engine, logger)
	if err != nil {
		return fail("%v", err)
	}

	j, err := journal.Open(profile.JournalPath)
	if err != nil {
		logger.Printf("warning: %v, journaling disabled", err)
		j = nil
	}
	defer j.Close()

	orch, err := launch.NewOrchestrator(launch.Config{
		Profile:   profile,
		Prober:    prober,
		Assembler: launch.NewAssembler(logger),
		Launcher:  launcher,
		Journal:   j,
		Logger:    logger,
	})
	if err != nil {
		return fail("%v", err)
	}

	if *dryRun {
		fmt.Fprintln(stdout, strings.Join(orch.Plan().Command(), " "))
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := orch.Run(ctx)
	if err != nil {
		return fail("launch failed: %v", err)
	}
	fmt.Fprintln(stdout, res.ID)

	if !*watch {
		return 0
	}

	watcher, err := launch.NewDeviceWatcher(profile.Devices, func(ctx context.Context) {
		res, relaunched, err := orch.Relaunch(ctx)
		if err != nil {
			logger.Printf("warning: relaunch failed: %v", err)
			return
		}
		if relaunched {
			fmt.Fprintln(stdout, res.ID)
		}
	}, log.New(stdout, "[watch] ", log.LstdFlags|log.Lmsgprefix))
	if err != nil {
		return fail("%v", err)
	}
	if err := watcher.Start(ctx); err != nil {
		watcher.Stop()
		return fail("container %s is running but device watching failed: %v", res.ID, err)
	}

	<-ctx.Done()
	logger.Printf("received signal, shutting down...")
	if err := watcher.Stop(); err != nil {
		logger.Printf("warning: stop watcher: %v", err)
	}
	return 0
}

// loadProfile reads the profile file. Only the implicit default path may
// be absent, in which case the built-in defaults are used; a profile the
// operator named, or one that fails to parse or validate, is an error.
func loadProfile(path string, explicit bool, logger *log.Logger) (*config.Profile, error) {
	profile, err := config.LoadProfile(path)
	if err == nil {
		logger.Printf("loaded profile %s", path)
		return profile, nil
	}
	if !explicit && errors.Is(err, fs.ErrNotExist) {
		logger.Printf("no profile at %s, using defaults", path)
		return config.DefaultProfile(), nil
	}
	return nil, err
}

func printDevices(w io.Writer, prober *device.Prober, profile *config.Profile) error {
	found, err := prober.Scan("/dev/video*")
	if err != nil {
		return fmt.Errorf("scan devices: %w", err)
	}
	fmt.Fprintln(w, "video devices on this host:")
	if len(found) == 0 {
		fmt.Fprintln(w, "  (none)")
	}
	for _, path := range found {
		fmt.Fprintf(w, "  %s\n", path)
	}

	fmt.Fprintln(w, "candidates:")
	for _, r := range prober.Probe(profile.Devices) {
		state := "absent"
		if r.Present() {
			state = "present"
		}
		fmt.Fprintf(w, "  %-16s %s\n", r.Path, state)
	}
	return nil
}

func envOr(getenv func(string) string, key, fallback string) string {
	if v := getenv(key); v != "" {
		return v
	}
	return fallback
}
