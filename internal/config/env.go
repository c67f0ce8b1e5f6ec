package config

import (
	"os"
	"path/filepath"
	"strings"
)

// Container-side locations of the environment-derived mounts.
const (
	PulseSocketTarget  = "/run/pulse/native"
	CredentialsTarget  = "/app/credentials.json"
	credentialsRelPath = "camster/credentials.json"
)

// Derived holds the binds and variables computed from the host environment.
type Derived struct {
	Binds   []Bind
	Env     map[string]string
	Skipped []string // human-readable reasons for mounts that were left out
}

// DeriveFromEnv computes the audio socket and credential file mounts.
// The audio socket comes from XDG_RUNTIME_DIR, the credential file from
// XDG_CONFIG_HOME (falling back to $HOME/.config). Both are required mounts:
// they are emitted whether or not the source exists yet. Unset variables are
// not an error; the mount is recorded in Skipped.
func DeriveFromEnv(getenv func(string) string) Derived {
	d := Derived{Env: map[string]string{}}

	if runtimeDir := getenv("XDG_RUNTIME_DIR"); runtimeDir != "" {
		d.Binds = append(d.Binds, Bind{
			Source: filepath.Join(runtimeDir, "pulse", "native"),
			Target: PulseSocketTarget,
		})
		d.Env["PULSE_SERVER"] = "unix:" + PulseSocketTarget
	} else {
		d.Skipped = append(d.Skipped, "audio socket: XDG_RUNTIME_DIR is not set")
	}

	configDir := getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		if home := getenv("HOME"); home != "" {
			configDir = filepath.Join(home, ".config")
		}
	}
	if configDir != "" {
		d.Binds = append(d.Binds, Bind{
			Source: filepath.Join(configDir, credentialsRelPath),
			Target: CredentialsTarget,
			Mode:   "ro",
		})
	} else {
		d.Skipped = append(d.Skipped, "credential file: neither XDG_CONFIG_HOME nor HOME is set")
	}

	return d
}

// ExpandBind expands ${VAR} references in the bind source and target.
// It reports false when any referenced variable is unset.
func ExpandBind(b Bind, getenv func(string) string) (Bind, bool) {
	ok := true
	mapping := func(key string) string {
		v := getenv(key)
		if v == "" {
			ok = false
		}
		return v
	}
	b.Source = os.Expand(b.Source, mapping)
	b.Target = os.Expand(b.Target, mapping)
	return b, ok
}

// envBlocklist contains host variables that are never forwarded into the
// container, even when a profile lists them.
var envBlocklist = map[string]bool{
	"LD_PRELOAD":                     true,
	"LD_LIBRARY_PATH":                true,
	"DOCKER_HOST":                    true,
	"DOCKER_CERT_PATH":               true,
	"KUBECONFIG":                     true,
	"AWS_ACCESS_KEY_ID":              true,
	"AWS_SECRET_ACCESS_KEY":          true,
	"AWS_SESSION_TOKEN":              true,
	"GOOGLE_APPLICATION_CREDENTIALS": true,
	"SSH_AUTH_SOCK":                  true,
}

// Passthrough copies the named host variables, skipping unset and
// blocklisted ones. Names are matched exactly.
func Passthrough(names []string, environ []string) map[string]string {
	host := make(map[string]string, len(environ))
	for _, entry := range environ {
		if idx := strings.IndexByte(entry, '='); idx > 0 {
			host[entry[:idx]] = entry[idx+1:]
		}
	}

	out := make(map[string]string, len(names))
	for _, name := range names {
		if envBlocklist[name] {
			continue
		}
		if v, ok := host[name]; ok {
			out[name] = v
		}
	}
	return out
}

// IsBlocked reports whether a variable is never forwarded.
func IsBlocked(name string) bool {
	return envBlocklist[name]
}
