// Package lockfile guards against two crawl processes mutating the same
// store files. The lock is a pid file; a stale lock left by a dead process
// is cleared automatically.
package lockfile

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// ErrLocked means another live instance holds the lock; startup must fail.
var ErrLocked = errors.New("another instance is already running")

// Acquire takes the lock at path, clearing a stale lock first. Returns
// ErrLocked when the recorded pid belongs to a live process.
func Acquire(path string) error {
	b, err := os.ReadFile(path)
	if err == nil {
		pid, perr := strconv.Atoi(strings.TrimSpace(string(b)))
		if perr == nil && pidAlive(pid) {
			return fmt.Errorf("%w (pid %d)", ErrLocked, pid)
		}
		// Stale or garbage lock: previous holder is gone.
		_ = os.Remove(path)
	} else if !os.IsNotExist(err) {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

// Release removes the lock file. Safe to call when the file is gone.
func Release(path string) {
	_ = os.Remove(path)
}

func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Signal 0 probes for existence without delivering anything.
	return proc.Signal(syscall.Signal(0)) == nil
}
