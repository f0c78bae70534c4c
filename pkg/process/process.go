// Package process is the ProcessController capability boundary: the only
// way the detection pipeline inspects or terminates a PID. It never
// iterates the process table on the per-event hot path — only when a
// confirmed alert needs a response record or a pid-less critical alert
// asks for a best-effort culprit guess.
package process

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/user"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// Info is a point-in-time snapshot of a running process.
type Info struct {
	PID      int
	Name     string
	Exe      string
	Cmdline  []string
	Username string
	Status   string
}

// Controller is the capability the RiskIntegrator uses to inspect and
// terminate processes. It is an interface so tests can substitute a fake
// without touching the real OS process table.
type Controller interface {
	Inspect(pid int) (*Info, error)
	Kill(pid int) error
}

// OSController implements Controller against /proc on Linux and
// signal-based termination via golang.org/x/sys/unix.
type OSController struct{}

// NewOSController returns the real, OS-backed ProcessController.
func NewOSController() *OSController {
	return &OSController{}
}

// Inspect reads process metadata from /proc/<pid>/. Missing or
// unreadable fields are left zero-valued rather than failing the whole
// call — a partial ResponseRecord is better than none.
func (OSController) Inspect(pid int) (*Info, error) {
	if _, err := os.Stat(fmt.Sprintf("/proc/%d", pid)); err != nil {
		return nil, fmt.Errorf("process: pid %d not found: %w", pid, err)
	}

	info := &Info{PID: pid}

	if comm, err := os.ReadFile(fmt.Sprintf("/proc/%d/comm", pid)); err == nil {
		info.Name = strings.TrimSpace(string(comm))
	}

	if exe, err := os.Readlink(fmt.Sprintf("/proc/%d/exe", pid)); err == nil {
		info.Exe = exe
	}

	if cmdline, err := os.ReadFile(fmt.Sprintf("/proc/%d/cmdline", pid)); err == nil {
		parts := strings.Split(strings.TrimRight(string(cmdline), "\x00"), "\x00")
		for _, p := range parts {
			if p != "" {
				info.Cmdline = append(info.Cmdline, p)
			}
		}
	}

	if status, err := readStatusState(pid); err == nil {
		info.Status = status
	}

	if username, err := readStatusUsername(pid); err == nil {
		info.Username = username
	}

	return info, nil
}

// Kill sends SIGKILL to pid. Failure (already exited, permission denied)
// is returned as an error — callers are expected to record
// ResponseRecord{Status: KillFailed} rather than treat this as fatal.
func (OSController) Kill(pid int) error {
	if err := unix.Kill(pid, unix.SIGKILL); err != nil {
		return fmt.Errorf("process: kill pid %d: %w", pid, err)
	}
	return nil
}

func readStatusState(pid int) (string, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/status", pid))
	if err != nil {
		return "", err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "State:") {
			return strings.TrimSpace(strings.TrimPrefix(line, "State:")), nil
		}
	}
	return "", fmt.Errorf("process: no State line for pid %d", pid)
}

func readStatusUsername(pid int) (string, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/status", pid))
	if err != nil {
		return "", err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "Uid:") {
			fields := strings.Fields(line)
			if len(fields) < 2 {
				continue
			}
			u, err := user.LookupId(fields[1])
			if err != nil {
				return fields[1], nil
			}
			return u.Username, nil
		}
	}
	return "", fmt.Errorf("process: no Uid line for pid %d", pid)
}

// ignoredNames excludes common kernel/system processes from the top-IO
// scan so a noisy system daemon never masquerades as the attacker.
var ignoredNames = map[string]bool{
	"kswapd0": true, "kthreadd": true, "systemd": true,
	"systemd-journal": true, "rsyslogd": true,
}

// FindTopIOWriter is a best-effort fallback: it samples every process's
// cumulative write-byte counter, waits window, samples again, and returns
// the process with the largest delta. It is never called from the event
// hot path — only when a critical alert carries no PID and the caller
// (RiskIntegrator/CLI) explicitly asks for a culprit guess.
func FindTopIOWriter(ctx context.Context, window time.Duration) (*Info, error) {
	before, err := snapshotWriteBytes()
	if err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(window):
	}

	after, err := snapshotWriteBytes()
	if err != nil {
		return nil, err
	}

	myPID := os.Getpid()
	bestPID, bestDelta := 0, int64(0)
	for pid, beforeBytes := range before {
		if pid == myPID {
			continue
		}
		afterBytes, ok := after[pid]
		if !ok {
			continue
		}
		delta := afterBytes - beforeBytes
		if delta > bestDelta {
			bestDelta = delta
			bestPID = pid
		}
	}

	if bestPID == 0 || bestDelta < 1024 {
		return nil, fmt.Errorf("process: no process exceeded the write-I/O floor")
	}

	return OSController{}.Inspect(bestPID)
}

func snapshotWriteBytes() (map[int]int64, error) {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return nil, fmt.Errorf("process: reading /proc: %w", err)
	}

	out := make(map[int]int64)
	for _, e := range entries {
		pid, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}

		name, _ := os.ReadFile(fmt.Sprintf("/proc/%d/comm", pid))
		if ignoredNames[strings.TrimSpace(string(name))] {
			continue
		}

		bytesWritten, err := readWriteBytes(pid)
		if err != nil {
			continue
		}
		out[pid] = bytesWritten
	}
	return out, nil
}

func readWriteBytes(pid int) (int64, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/io", pid))
	if err != nil {
		return 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "write_bytes:") {
			fields := strings.Fields(line)
			if len(fields) != 2 {
				continue
			}
			return strconv.ParseInt(fields[1], 10, 64)
		}
	}
	return 0, fmt.Errorf("process: no write_bytes field for pid %d", pid)
}
