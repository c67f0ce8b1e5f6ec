package portkill

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/prometheus/procfs"
)

// tcpListen is the TCP_LISTEN state in /proc/net/tcp.
const tcpListen = 0x0A

// ProcTable finds listeners by reading /proc/net/tcp{,6} and matching
// socket inodes against /proc/<pid>/fd.
type ProcTable struct {
	fs     procfs.FS
	logger *log.Logger
}

// NewProcTable opens the proc filesystem mounted at mountPoint.
func NewProcTable(mountPoint string, logger *log.Logger) (*ProcTable, error) {
	fs, err := procfs.NewFS(mountPoint)
	if err != nil {
		return nil, fmt.Errorf("open procfs %s: %w", mountPoint, err)
	}
	if logger == nil {
		logger = log.New(os.Stdout, "[killport] ", log.LstdFlags|log.Lmsgprefix)
	}
	return &ProcTable{fs: fs, logger: logger}, nil
}

// Listeners returns one entry per (process, socket) listening on port.
func (t *ProcTable) Listeners(port int) ([]Listener, error) {
	inodes, err := t.listenInodes(uint64(port))
	if err != nil {
		return nil, err
	}
	if len(inodes) == 0 {
		return nil, nil
	}

	procs, err := t.fs.AllProcs()
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}

	var listeners []Listener
	unreadable := 0
	for _, proc := range procs {
		targets, err := proc.FileDescriptorTargets()
		if err != nil {
			// Other users' processes, or exited since AllProcs
			unreadable++
			continue
		}
		for _, target := range targets {
			inode, ok := socketInode(target)
			if !ok || !inodes[inode] {
				continue
			}
			listeners = append(listeners, t.describe(proc, port, inode))
		}
	}

	if len(listeners) == 0 && unreadable > 0 {
		t.logger.Printf("warning: port %d is in use but its owner was not found; %d process(es) could not be inspected (try running as root)", port, unreadable)
	}
	return listeners, nil
}

// listenInodes returns the inodes of LISTEN sockets bound to port.
func (t *ProcTable) listenInodes(port uint64) (map[uint64]bool, error) {
	inodes := make(map[uint64]bool)

	tcp, err := t.fs.NetTCP()
	if err != nil {
		return nil, fmt.Errorf("read tcp sockets: %w", err)
	}
	for _, line := range tcp {
		if line.St == tcpListen && line.LocalPort == port {
			inodes[line.Inode] = true
		}
	}

	tcp6, err := t.fs.NetTCP6()
	if err != nil {
		// IPv6 may be disabled
		t.logger.Printf("warning: read tcp6 sockets: %v", err)
		return inodes, nil
	}
	for _, line := range tcp6 {
		if line.St == tcpListen && line.LocalPort == port {
			inodes[line.Inode] = true
		}
	}
	return inodes, nil
}

func (t *ProcTable) describe(proc procfs.Proc, port int, inode uint64) Listener {
	l := Listener{PID: proc.PID, Port: port, Inode: inode}

	if comm, err := proc.Comm(); err == nil {
		l.Command = comm
	}
	if cgroups, err := proc.Cgroups(); err == nil {
		paths := make([]string, 0, len(cgroups))
		for _, cg := range cgroups {
			paths = append(paths, cg.Path)
		}
		l.ContainerID = containerIDFromCgroups(paths)
	}
	return l
}

// socketInode parses an fd link target of the form "socket:[12345]".
func socketInode(target string) (uint64, bool) {
	rest, ok := strings.CutPrefix(target, "socket:[")
	if !ok {
		return 0, false
	}
	rest, ok = strings.CutSuffix(rest, "]")
	if !ok {
		return 0, false
	}
	inode, err := strconv.ParseUint(rest, 10, 64)
	if err != nil {
		return 0, false
	}
	return inode, true
}
