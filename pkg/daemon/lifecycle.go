package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// WritePIDFile writes the current process ID to a file.
func WritePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	pid := os.Getpid()
	return os.WriteFile(path, []byte(strconv.Itoa(pid)), 0o644)
}

// ReadPIDFile reads a PID from a file.
func ReadPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, err
	}

	return pid, nil
}

// RemovePIDFile removes the PID file.
func RemovePIDFile(path string) error {
	return os.Remove(path)
}

// IsDaemonRunning checks if a daemon is running based on PID file.
func IsDaemonRunning(pidPath string) bool {
	pid, err := ReadPIDFile(pidPath)
	if err != nil {
		return false
	}
	return IsProcessRunning(pid)
}

// IsProcessRunning checks if a process with the given PID is running.
func IsProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Signal 0 only checks that the process exists.
	return process.Signal(syscall.Signal(0)) == nil
}

// ErrDaemonAlreadyRunning is returned when trying to start a daemon that's already running.
var ErrDaemonAlreadyRunning = errors.New("daemon already running")

// AcquirePIDFile cleans up after a crashed daemon and claims the PID file
// for this process. The returned func removes it again.
func AcquirePIDFile(pidPath, historyPath, statusPath string) (func(), error) {
	if err := RecoverFromStaleDaemon(pidPath, historyPath, statusPath); err != nil {
		return nil, err
	}
	if err := WritePIDFile(pidPath); err != nil {
		return nil, fmt.Errorf("write pid file: %w", err)
	}
	return func() { _ = RemovePIDFile(pidPath) }, nil
}
