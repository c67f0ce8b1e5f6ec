package portkill

import (
	"regexp"
	"strings"
)

// containerIDPattern matches a 64-character hex string (Docker container ID).
var containerIDPattern = regexp.MustCompile(`[a-f0-9]{64}`)

// containerIDFromCgroups extracts a container ID from a process's cgroup
// paths. Returns "" for host processes.
func containerIDFromCgroups(paths []string) string {
	for _, path := range paths {
		// cgroup v1: /docker/<id>
		// cgroup v1/v2 with systemd: /system.slice/docker-<id>.scope
		// podman: /machine.slice/libpod-<id>.scope
		// kubernetes: /kubepods/.../<id>
		if !strings.Contains(path, "docker") && !strings.Contains(path, "libpod") && !strings.Contains(path, "kubepods") {
			continue
		}
		if id := containerIDPattern.FindString(path); id != "" {
			return id
		}
	}
	return ""
}
