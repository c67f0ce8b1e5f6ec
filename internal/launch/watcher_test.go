package launch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewDeviceWatcherRequiresDevices(t *testing.T) {
	if _, err := NewDeviceWatcher(nil, func(context.Context) {}, quietLogger()); err == nil {
		t.Error("expected error without devices")
	}
}

func TestDeviceWatcherDirs(t *testing.T) {
	dw, err := NewDeviceWatcher([]string{"/dev/video0", "/dev/video1", "/dev/v4l/by-id/cam"}, func(context.Context) {}, quietLogger())
	if err != nil {
		t.Fatalf("NewDeviceWatcher: %v", err)
	}
	defer dw.Stop()

	if len(dw.dirs) != 2 || dw.dirs[0] != "/dev" || dw.dirs[1] != "/dev/v4l/by-id" {
		t.Errorf("dirs = %v, want [/dev /dev/v4l/by-id]", dw.dirs)
	}
}

func TestDeviceWatcherStartStop(t *testing.T) {
	dir := t.TempDir()
	dw, err := NewDeviceWatcher([]string{filepath.Join(dir, "video0")}, func(context.Context) {}, quietLogger())
	if err != nil {
		t.Fatalf("NewDeviceWatcher: %v", err)
	}

	if err := dw.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := dw.Stop(); err != nil {
		t.Errorf("Stop: %v", err)
	}
}

func TestDeviceWatcherTriggersOnCandidate(t *testing.T) {
	dir := t.TempDir()
	candidate := filepath.Join(dir, "video0")

	changed := make(chan struct{}, 4)
	dw, err := NewDeviceWatcher([]string{candidate}, func(context.Context) {
		changed <- struct{}{}
	}, quietLogger())
	if err != nil {
		t.Fatalf("NewDeviceWatcher: %v", err)
	}
	dw.debounce = 50 * time.Millisecond

	if err := dw.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer dw.Stop()

	// Unrelated files in the same directory are ignored.
	if err := os.WriteFile(filepath.Join(dir, "unrelated"), nil, 0644); err != nil {
		t.Fatalf("write unrelated: %v", err)
	}
	select {
	case <-changed:
		t.Fatal("callback fired for a non-candidate path")
	case <-time.After(300 * time.Millisecond):
	}

	// A regular file stands in for the device node; the watcher only
	// reacts to appearance, the prober decides what it is.
	if err := os.WriteFile(candidate, nil, 0644); err != nil {
		t.Fatalf("write candidate: %v", err)
	}
	select {
	case <-changed:
	case <-time.After(3 * time.Second):
		t.Fatal("callback did not fire after the candidate appeared")
	}

	if err := os.Remove(candidate); err != nil {
		t.Fatalf("remove candidate: %v", err)
	}
	select {
	case <-changed:
	case <-time.After(3 * time.Second):
		t.Fatal("callback did not fire after the candidate disappeared")
	}
}

func TestDeviceWatcherParentNotCreatedYet(t *testing.T) {
	root := t.TempDir()
	byID := filepath.Join(root, "v4l", "by-id")
	candidate := filepath.Join(byID, "usb-cam-video-index0")

	changed := make(chan struct{}, 16)
	dw, err := NewDeviceWatcher([]string{filepath.Join(root, "video0"), candidate}, func(context.Context) {
		changed <- struct{}{}
	}, quietLogger())
	if err != nil {
		t.Fatalf("NewDeviceWatcher: %v", err)
	}
	dw.debounce = 50 * time.Millisecond

	if err := dw.Start(context.Background()); err != nil {
		t.Fatalf("Start with a missing parent directory: %v", err)
	}
	defer dw.Stop()

	// udev creates the by-id directory on first plug.
	if err := os.MkdirAll(byID, 0755); err != nil {
		t.Fatalf("create by-id: %v", err)
	}
	select {
	case <-changed:
	case <-time.After(3 * time.Second):
		t.Fatal("callback did not fire after the by-id directory appeared")
	}
	drain(changed, 300*time.Millisecond)

	if err := os.WriteFile(candidate, nil, 0644); err != nil {
		t.Fatalf("write candidate: %v", err)
	}
	select {
	case <-changed:
	case <-time.After(3 * time.Second):
		t.Fatal("callback did not fire for a device in a newly created directory")
	}
}

func TestNearestExisting(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "v4l"), 0755); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		dir  string
		want string
	}{
		{root, root},
		{filepath.Join(root, "v4l"), filepath.Join(root, "v4l")},
		{filepath.Join(root, "v4l", "by-id"), filepath.Join(root, "v4l")},
		{filepath.Join(root, "a", "b", "c"), root},
	}
	for _, tt := range tests {
		if got := nearestExisting(tt.dir); got != tt.want {
			t.Errorf("nearestExisting(%q) = %q, want %q", tt.dir, got, tt.want)
		}
	}
}

// drain discards callbacks until none arrive for quiet.
func drain(ch <-chan struct{}, quiet time.Duration) {
	for {
		select {
		case <-ch:
		case <-time.After(quiet):
			return
		}
	}
}
