package main

import (
	"bytes"
	"camster/internal/journal"
	"camster/internal/portkill"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"testing"

	"golang.org/x/sys/unix"
)

const tcpHeader = "  sl  local_address rem_address   st tx_queue rx_queue tr tm->when retrnsmt   uid  timeout inode\n"

// listenLine renders a /proc/net/tcp LISTEN entry on 0.0.0.0:port.
func listenLine(port int, inode uint64) string {
	return "   0: 00000000:" + strings.ToUpper(strconv.FormatInt(int64(port), 16)) +
		" 00000000:0000 0A 00000000:00000000 00:00000000 00000000  1000        0 " +
		strconv.FormatUint(inode, 10) + " 1 0000000000000000 100 0 0 10 0\n"
}

// procTree builds a fake proc mount with the given tcp table and one
// process per pid owning socket inode pid*10.
func procTree(t *testing.T, tcp string, pids ...int) string {
	t.Helper()
	root := t.TempDir()
	write := func(rel, content string) {
		path := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	write("net/tcp", tcpHeader+tcp)
	write("net/tcp6", tcpHeader)

	for _, pid := range pids {
		dir := strconv.Itoa(pid)
		write(filepath.Join(dir, "comm"), "camster-web\n")
		write(filepath.Join(dir, "cgroup"), "0::/user.slice\n")
		fdDir := filepath.Join(root, dir, "fd")
		if err := os.MkdirAll(fdDir, 0755); err != nil {
			t.Fatal(err)
		}
		target := "socket:[" + strconv.Itoa(pid*10) + "]"
		if err := os.Symlink(target, filepath.Join(fdDir, "3")); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

type fakeSignaler struct {
	err    error
	killed []int
}

func (f *fakeSignaler) Kill(pid int) error {
	f.killed = append(f.killed, pid)
	return f.err
}

func useSignaler(t *testing.T, sig *fakeSignaler) {
	t.Helper()
	orig := newSignaler
	newSignaler = func() portkill.Signaler { return sig }
	t.Cleanup(func() { newSignaler = orig })
}

func envFunc(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestRunExitStatus(t *testing.T) {
	tests := []struct {
		name       string
		tcp        string
		pids       []int
		args       []string
		signalErr  error
		wantCode   int
		wantKilled []int
		wantOut    string
	}{
		{
			name:     "port already free",
			wantCode: 0,
			wantOut:  "no process found on port 8000",
		},
		{
			name:       "one listener killed",
			tcp:        listenLine(8000, 42420),
			pids:       []int{4242},
			wantCode:   0,
			wantKilled: []int{4242},
			wantOut:    "pid 4242 (camster-web): killed",
		},
		{
			name:      "listener already gone",
			tcp:       listenLine(8000, 42420),
			pids:      []int{4242},
			signalErr: portkill.ErrProcessGone,
			wantCode:  0,
			wantOut:   "already exited",
		},
		{
			name:      "signal not permitted",
			tcp:       listenLine(8000, 42420),
			pids:      []int{4242},
			signalErr: unix.EPERM,
			wantCode:  1,
			wantOut:   "failed",
		},
		{
			name:       "positional port",
			tcp:        listenLine(9000, 42420),
			pids:       []int{4242},
			args:       []string{"9000"},
			wantCode:   0,
			wantKilled: []int{4242},
		},
		{
			name:     "listener on another port",
			tcp:      listenLine(9000, 42420),
			pids:     []int{4242},
			wantCode: 0,
			wantOut:  "no process found on port 8000",
		},
		{
			name:     "dry run",
			tcp:      listenLine(8000, 42420),
			pids:     []int{4242},
			args:     []string{"--dry-run"},
			wantCode: 0,
			wantOut:  "listed",
		},
		{
			name:     "bad positional port",
			args:     []string{"http"},
			wantCode: 1,
		},
		{
			name:     "port out of range",
			args:     []string{"--port", "70000"},
			wantCode: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig := &fakeSignaler{err: tt.signalErr}
			useSignaler(t, sig)

			proc := procTree(t, tt.tcp, tt.pids...)
			args := append([]string{"--proc", proc}, tt.args...)

			var stdout, stderr bytes.Buffer
			code := run(args, envFunc(nil), &stdout, &stderr)
			if code != tt.wantCode {
				t.Fatalf("exit %d, want %d\nstdout: %s\nstderr: %s", code, tt.wantCode, stdout.String(), stderr.String())
			}
			if tt.wantKilled != nil && !slices.Equal(sig.killed, tt.wantKilled) {
				t.Errorf("signalled %v, want %v", sig.killed, tt.wantKilled)
			}
			if tt.wantOut != "" && !strings.Contains(stdout.String(), tt.wantOut) {
				t.Errorf("stdout = %q, want it to contain %q", stdout.String(), tt.wantOut)
			}
			if code != 0 && !strings.Contains(stderr.String(), "camster-killport") && !strings.Contains(stderr.String(), "Usage") {
				t.Errorf("stderr = %q, want a prefixed error", stderr.String())
			}
		})
	}
}

func TestRunJournalFromEnv(t *testing.T) {
	useSignaler(t, &fakeSignaler{})
	path := filepath.Join(t.TempDir(), "journal.log")
	proc := procTree(t, listenLine(8000, 42420), 4242)

	var stdout, stderr bytes.Buffer
	if code := run([]string{"--proc", proc}, envFunc(map[string]string{"CAMSTER_JOURNAL": path}), &stdout, &stderr); code != 0 {
		t.Fatalf("exit %d, stderr: %s", code, stderr.String())
	}

	entries, err := journal.Read(path)
	if err != nil {
		t.Fatalf("read journal: %v", err)
	}
	if len(entries) != 1 || entries[0].Action != journal.ActionKill || !slices.Equal(entries[0].PIDs, []int{4242}) {
		t.Errorf("journal = %+v", entries)
	}
}
