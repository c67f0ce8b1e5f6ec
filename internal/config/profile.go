// Package config loads the camster launch profile.
// A profile describes the fixed launch parameters of the surveillance
// container (image, ports, bind mounts, groups) and the candidate devices
// to probe before launch.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/docker/go-connections/nat"
	"gopkg.in/yaml.v3"
)

// Engine selects how the container is started.
type Engine string

const (
	// EngineDockerAPI talks to the Docker Engine API directly.
	EngineDockerAPI Engine = "docker-api"
	// EngineCLI executes the rendered token sequence with a runtime binary (docker, podman).
	EngineCLI Engine = "cli"
)

func (e Engine) String() string {
	return string(e)
}

// Bind is a host path mounted into the container.
type Bind struct {
	Source   string `yaml:"source"`
	Target   string `yaml:"target"`
	Mode     string `yaml:"mode,omitempty"`     // e.g. "ro"
	Optional bool   `yaml:"optional,omitempty"` // skip when the source does not exist
}

// String renders the bind in "src:dst[:mode]" form.
func (b Bind) String() string {
	if b.Mode == "" {
		return b.Source + ":" + b.Target
	}
	return b.Source + ":" + b.Target + ":" + b.Mode
}

// Profile is the top-level launch configuration.
type Profile struct {
	Name           string            `yaml:"name"`
	Image          string            `yaml:"image"`
	Engine         Engine            `yaml:"engine"`
	Runtime        string            `yaml:"runtime"` // binary used by the cli engine
	Remove         bool              `yaml:"remove"`  // --rm
	Replace        bool              `yaml:"replace"` // remove an existing container with the same name first
	Pull           bool              `yaml:"pull"`
	Groups         []string          `yaml:"groups,omitempty"`
	Ports          []string          `yaml:"ports,omitempty"` // "host:container[/proto]"
	Binds          []Bind            `yaml:"binds,omitempty"`
	Env            map[string]string `yaml:"env,omitempty"`
	EnvPassthrough []string          `yaml:"env_passthrough,omitempty"`
	Devices        []string          `yaml:"devices,omitempty"`
	JournalPath    string            `yaml:"journal_path,omitempty"`
}

// Default candidate devices, probed in this order.
var defaultDevices = []string{"/dev/video0", "/dev/video1", "/dev/video2"}

// DefaultProfile returns the built-in launch profile.
// Audio socket and credential binds are derived from the environment,
// see DeriveFromEnv.
func DefaultProfile() *Profile {
	return &Profile{
		Name:    "camster",
		Image:   "camster:latest",
		Engine:  EngineDockerAPI,
		Runtime: "docker",
		Replace: true,
		Groups:  []string{"audio", "video"},
		Ports:   []string{"8000:8000"},
		Env:     map[string]string{},
		Devices: append([]string(nil), defaultDevices...),
	}
}

// LoadProfile reads a profile from a YAML file. Fields missing from the
// file keep their DefaultProfile values.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile file: %w", err)
	}

	p := DefaultProfile()
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("parse profile file: %w", err)
	}

	if p.Engine == "" {
		p.Engine = EngineDockerAPI
	}
	if p.Runtime == "" {
		p.Runtime = "docker"
	}
	if p.Env == nil {
		p.Env = map[string]string{}
	}

	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("validate profile %s: %w", path, err)
	}
	return p, nil
}

// ApplyEnv overrides profile fields from CAMSTER_* variables.
func (p *Profile) ApplyEnv(getenv func(string) string) {
	if v := getenv("CAMSTER_IMAGE"); v != "" {
		p.Image = v
	}
	if v := getenv("CAMSTER_ENGINE"); v != "" {
		p.Engine = Engine(v)
	}
	if v := getenv("CAMSTER_RUNTIME"); v != "" {
		p.Runtime = v
	}
	if v := getenv("CAMSTER_JOURNAL"); v != "" {
		p.JournalPath = v
	}
}

// Validate checks the profile for values that would produce an unusable launch.
func (p *Profile) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("name cannot be empty")
	}
	if strings.TrimSpace(p.Image) == "" {
		return fmt.Errorf("image cannot be empty")
	}

	switch p.Engine {
	case EngineDockerAPI, EngineCLI:
	default:
		return fmt.Errorf("unknown engine %q (want %s or %s)", p.Engine, EngineDockerAPI, EngineCLI)
	}

	if _, _, err := nat.ParsePortSpecs(p.Ports); err != nil {
		return fmt.Errorf("invalid port mapping: %w", err)
	}

	for _, dev := range p.Devices {
		if !filepath.IsAbs(dev) {
			return fmt.Errorf("device path %q is not absolute", dev)
		}
	}

	for _, b := range p.Binds {
		if b.Source == "" || b.Target == "" {
			return fmt.Errorf("bind %q needs both source and target", b.String())
		}
	}

	for _, k := range p.EnvKeys() {
		if IsBlocked(k) {
			return fmt.Errorf("env %s may not be set in the container", k)
		}
	}
	return nil
}

// EnvKeys returns the keys of Env in sorted order.
func (p *Profile) EnvKeys() []string {
	keys := make([]string, 0, len(p.Env))
	for k := range p.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
