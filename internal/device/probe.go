// Package device probes the host for video device nodes that can be
// passed through to the surveillance container.
package device

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
)

// Result is the probe outcome for one candidate path.
type Result struct {
	Path       string `json:"path"`
	Exists     bool   `json:"exists"`
	CharDevice bool   `json:"char_device"`
}

// Present reports whether a character device node exists at Path.
func (r Result) Present() bool {
	return r.Exists && r.CharDevice
}

// StatFunc returns file info for a path, following symlinks.
type StatFunc func(name string) (fs.FileInfo, error)

// GlobFunc expands a shell pattern.
type GlobFunc func(pattern string) ([]string, error)

// Prober checks candidate device paths.
type Prober struct {
	stat   StatFunc
	glob   GlobFunc
	logger *log.Logger
}

// Option configures a Prober.
type Option func(*Prober)

// WithStat replaces os.Stat. Used by tests to fake device nodes.
func WithStat(stat StatFunc) Option {
	return func(p *Prober) { p.stat = stat }
}

// WithGlob replaces filepath.Glob.
func WithGlob(glob GlobFunc) Option {
	return func(p *Prober) { p.glob = glob }
}

// NewProber creates a prober backed by the real filesystem.
func NewProber(logger *log.Logger, opts ...Option) *Prober {
	if logger == nil {
		logger = log.New(os.Stdout, "[device] ", log.LstdFlags|log.Lmsgprefix)
	}
	p := &Prober{
		stat:   os.Stat,
		glob:   filepath.Glob,
		logger: logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Probe checks each path in order. A missing device is not an error:
// it is recorded as absent and logged.
func (p *Prober) Probe(paths []string) []Result {
	results := make([]Result, 0, len(paths))
	for _, path := range paths {
		r := p.probeOne(path)
		switch {
		case r.Present():
			p.logger.Printf("found %s", path)
		case r.Exists:
			p.logger.Printf("%s exists but is not a character device, skipping", path)
		default:
			p.logger.Printf("%s not present, skipping", path)
		}
		results = append(results, r)
	}
	return results
}

func (p *Prober) probeOne(path string) Result {
	r := Result{Path: path}

	info, err := p.stat(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			p.logger.Printf("warning: stat %s: %v", path, err)
		}
		return r
	}

	r.Exists = true
	r.CharDevice = info.Mode()&fs.ModeCharDevice != 0
	return r
}

// Present returns the paths of present devices, in probe order.
func Present(results []Result) []string {
	var paths []string
	for _, r := range results {
		if r.Present() {
			paths = append(paths, r.Path)
		}
	}
	return paths
}

// Scan expands pattern (e.g. "/dev/video*") and returns the character
// devices it matches, ordered by their trailing device number.
func (p *Prober) Scan(pattern string) ([]string, error) {
	matches, err := p.glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", pattern, err)
	}

	sort.SliceStable(matches, func(i, j int) bool {
		ni, nj := deviceNumber(matches[i]), deviceNumber(matches[j])
		if ni != nj {
			return ni < nj
		}
		return matches[i] < matches[j]
	})

	var devices []string
	for _, m := range matches {
		if p.probeOne(m).Present() {
			devices = append(devices, m)
		}
	}
	return devices, nil
}

var trailingNumber = regexp.MustCompile(`(\d+)$`)

// deviceNumber extracts N from paths like /dev/videoN. Paths without a
// number sort first.
func deviceNumber(path string) int {
	m := trailingNumber.FindStringSubmatch(path)
	if len(m) < 2 {
		return -1
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return -1
	}
	return n
}
