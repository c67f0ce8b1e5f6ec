package launch

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces the burst of events udev produces when a
// camera is plugged in.
const DefaultDebounce = 500 * time.Millisecond

// DeviceWatcher watches the directories holding candidate devices and
// invokes a callback when one of them appears or disappears.
type DeviceWatcher struct {
	paths    map[string]bool
	dirs     []string
	watcher  *fsnotify.Watcher
	debounce time.Duration
	onChange func(ctx context.Context)
	logger   *log.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDeviceWatcher creates a watcher for the given candidate device paths.
func NewDeviceWatcher(devices []string, onChange func(ctx context.Context), logger *log.Logger) (*DeviceWatcher, error) {
	if len(devices) == 0 {
		return nil, fmt.Errorf("no devices to watch")
	}
	if logger == nil {
		logger = log.New(os.Stdout, "[watch] ", log.LstdFlags|log.Lmsgprefix)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	paths := make(map[string]bool, len(devices))
	seen := make(map[string]bool)
	var dirs []string
	for _, d := range devices {
		d = filepath.Clean(d)
		paths[d] = true
		dir := filepath.Dir(d)
		if !seen[dir] {
			seen[dir] = true
			dirs = append(dirs, dir)
		}
	}

	return &DeviceWatcher{
		paths:    paths,
		dirs:     dirs,
		watcher:  watcher,
		debounce: DefaultDebounce,
		onChange: onChange,
		logger:   logger,
	}, nil
}

// Start begins watching. Device nodes are watched through their parent
// directories so that nodes created after start are seen. A parent that
// does not exist yet (udev creates /dev/v4l/by-id on first plug) is
// watched through its nearest existing ancestor until it appears.
func (dw *DeviceWatcher) Start(ctx context.Context) error {
	dw.ctx, dw.cancel = context.WithCancel(ctx)

	for _, dir := range dw.dirs {
		watched, err := dw.watchDir(dir)
		if err != nil {
			return err
		}
		if watched != dir {
			dw.logger.Printf("%s does not exist yet, watching %s", dir, watched)
		} else {
			dw.logger.Printf("watching %s for device changes", dir)
		}
	}

	dw.wg.Add(1)
	go func() {
		defer dw.wg.Done()
		dw.watchLoop()
	}()
	return nil
}

// Stop shuts the watcher down and waits for the event loop to exit.
func (dw *DeviceWatcher) Stop() error {
	if dw.cancel != nil {
		dw.cancel()
	}
	err := dw.watcher.Close()
	dw.wg.Wait()
	return err
}

func (dw *DeviceWatcher) watchLoop() {
	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-dw.ctx.Done():
			return

		case event, ok := <-dw.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			name := filepath.Clean(event.Name)
			if !dw.paths[name] && !dw.onDevicePath(name) {
				continue
			}

			dw.logger.Printf("device change: %s %s", event.Op, event.Name)

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(dw.debounce, func() {
				if dw.ctx.Err() != nil {
					return
				}
				dw.onChange(dw.ctx)
			})

		case err, ok := <-dw.watcher.Errors:
			if !ok {
				return
			}
			dw.logger.Printf("watcher error: %v", err)
		}
	}
}

// onDevicePath reports whether name is a watched directory or one of its
// ancestors. When such a directory appears or vanishes, the watches are
// moved to the deepest directory that now exists.
func (dw *DeviceWatcher) onDevicePath(name string) bool {
	matched := false
	for _, dir := range dw.dirs {
		if dir != name && !strings.HasPrefix(dir, name+string(filepath.Separator)) {
			continue
		}
		matched = true
		if _, err := dw.watchDir(dir); err != nil {
			dw.logger.Printf("warning: %v", err)
		}
	}
	return matched
}

// watchDir watches dir, or its nearest existing ancestor when dir has not
// been created yet. It returns the directory actually watched.
func (dw *DeviceWatcher) watchDir(dir string) (string, error) {
	for {
		target := nearestExisting(dir)
		if err := dw.watcher.Add(target); err != nil {
			return "", fmt.Errorf("watch %s: %w", target, err)
		}
		// A deeper level may have been created while the watch was added
		if target == dir || nearestExisting(dir) == target {
			return target, nil
		}
	}
}

// nearestExisting returns dir or its closest ancestor that is a directory.
func nearestExisting(dir string) string {
	for {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return dir
		}
		dir = parent
	}
}
