// Package launch assembles the camster launch parameters from the
// profile and the probed devices, and starts the surveillance container.
package launch

import (
	"camster/internal/config"
	"camster/internal/device"
	"errors"
	"io/fs"
	"log"
	"os"
	"sort"
)

// Spec holds the fully resolved launch parameters.
// Build it with an Assembler; it is consumed once by a Launcher.
type Spec struct {
	Runtime string
	Name    string
	Remove  bool
	Replace bool
	Pull    bool
	Groups  []string
	Ports   []string
	Binds   []string // "src:dst[:mode]"
	Env     []string // "KEY=VALUE", sorted by key
	Devices []string // present devices, probe order
	Image   string
}

// Args renders the ordered token sequence passed to the runtime binary:
// fixed parameters first, one --device per present device, image last.
func (s *Spec) Args() []string {
	args := []string{"run", "--detach"}
	if s.Remove {
		args = append(args, "--rm")
	}
	if s.Pull {
		args = append(args, "--pull", "always")
	}
	args = append(args, "--name", s.Name)
	for _, g := range s.Groups {
		args = append(args, "--group-add", g)
	}
	for _, p := range s.Ports {
		args = append(args, "--publish", p)
	}
	for _, b := range s.Binds {
		args = append(args, "--volume", b)
	}
	for _, e := range s.Env {
		args = append(args, "--env", e)
	}
	for _, d := range s.Devices {
		args = append(args, "--device", d)
	}
	return append(args, s.Image)
}

// Command returns the runtime binary followed by Args.
func (s *Spec) Command() []string {
	return append([]string{s.Runtime}, s.Args()...)
}

// Assembler turns a profile and probe results into a Spec.
type Assembler struct {
	getenv  func(string) string
	environ func() []string
	stat    func(string) (fs.FileInfo, error)
	logger  *log.Logger
}

// NewAssembler creates an assembler reading the process environment and filesystem.
func NewAssembler(logger *log.Logger) *Assembler {
	if logger == nil {
		logger = log.New(os.Stdout, "[launch] ", log.LstdFlags|log.Lmsgprefix)
	}
	return &Assembler{
		getenv:  os.Getenv,
		environ: os.Environ,
		stat:    os.Stat,
		logger:  logger,
	}
}

// Assemble builds the launch parameters. The same profile and probe
// results always yield the same Args.
func (a *Assembler) Assemble(p *config.Profile, results []device.Result) *Spec {
	spec := &Spec{
		Runtime: p.Runtime,
		Name:    p.Name,
		Remove:  p.Remove,
		Replace: p.Replace,
		Pull:    p.Pull,
		Groups:  append([]string(nil), p.Groups...),
		Ports:   append([]string(nil), p.Ports...),
		Image:   p.Image,
	}

	derived := config.DeriveFromEnv(a.getenv)
	for _, reason := range derived.Skipped {
		a.logger.Printf("skipping %s", reason)
	}

	binds := append(append([]config.Bind(nil), p.Binds...), derived.Binds...)
	for _, b := range binds {
		expanded, ok := config.ExpandBind(b, a.getenv)
		if !ok {
			a.logger.Printf("skipping bind %s: references an unset variable", b.String())
			continue
		}
		if expanded.Optional && !a.exists(expanded.Source) {
			a.logger.Printf("skipping bind %s: source not present", expanded.String())
			continue
		}
		spec.Binds = append(spec.Binds, expanded.String())
	}

	env := make(map[string]string)
	for k, v := range config.Passthrough(p.EnvPassthrough, a.environ()) {
		env[k] = v
	}
	for k, v := range derived.Env {
		env[k] = v
	}
	for k, v := range p.Env {
		env[k] = v
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		spec.Env = append(spec.Env, k+"="+env[k])
	}

	spec.Devices = device.Present(results)
	return spec
}

func (a *Assembler) exists(path string) bool {
	_, err := a.stat(path)
	return err == nil || !errors.Is(err, fs.ErrNotExist)
}
