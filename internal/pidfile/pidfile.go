// Package pidfile reads and writes single-integer PID files and checks
// whether the recorded process is still the one we expect.
package pidfile

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

var ErrNotFound = errors.New("pidfile: not found")

// Inspector answers questions about live processes and signals them.
type Inspector interface {
	Alive(pid int) bool
	CommandLine(pid int) (string, error)
	Signal(pid int, sig os.Signal) error
}

// OS inspects real processes with signal 0 and ps.
type OS struct{}

func (OS) Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = p.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}

func (OS) CommandLine(pid int) (string, error) {
	out, err := exec.Command("ps", "-p", strconv.Itoa(pid), "-o", "command=").Output()
	if err != nil {
		return "", fmt.Errorf("ps %d: %w", pid, err)
	}
	return strings.TrimSpace(string(out)), nil
}

func (OS) Signal(pid int, sig os.Signal) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return p.Signal(sig)
}

func Read(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	s := strings.TrimSpace(string(data))
	pid, err := strconv.Atoi(s)
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid PID in %s: %q", path, s)
	}
	return pid, nil
}

func Write(path string, pid int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(pid)+"\n"), 0o644)
}

// Remove deletes path only if it still records pid, so a successor's file
// is never removed.
func Remove(path string, pid int) error {
	current, err := Read(path)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	if current != pid {
		return nil
	}
	return os.Remove(path)
}

// Matches reports whether pid is alive and its command line contains every
// one of the words.
func Matches(in Inspector, pid int, words ...string) bool {
	if !in.Alive(pid) {
		return false
	}
	cmdline, err := in.CommandLine(pid)
	if err != nil {
		return false
	}
	for _, w := range words {
		if !strings.Contains(cmdline, w) {
			return false
		}
	}
	return true
}

// Fake is an in-memory Inspector for tests. Any signal delivered to a
// known pid ends that process.
type Fake struct {
	Procs   map[int]string
	Signals map[int][]os.Signal
}

func (f *Fake) Alive(pid int) bool {
	_, ok := f.Procs[pid]
	return ok
}

func (f *Fake) CommandLine(pid int) (string, error) {
	cmd, ok := f.Procs[pid]
	if !ok {
		return "", fmt.Errorf("no process %d", pid)
	}
	return cmd, nil
}

func (f *Fake) Signal(pid int, sig os.Signal) error {
	if _, ok := f.Procs[pid]; !ok {
		return os.ErrProcessDone
	}
	if f.Signals == nil {
		f.Signals = map[int][]os.Signal{}
	}
	f.Signals[pid] = append(f.Signals[pid], sig)
	delete(f.Procs, pid)
	return nil
}

func (f *Fake) Kill(pid int) { delete(f.Procs, pid) }
