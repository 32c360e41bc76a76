package daemon

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// Status values written to the status file.
const (
	StatusStarting = "starting"
	StatusReady    = "ready"
	StatusError    = "error"
	StatusStopped  = "stopped"
)

// StatusFile is the daemon's last published state, read by the status
// command.
type StatusFile struct {
	Status    string    `json:"status"`
	PID       int       `json:"pid,omitempty"`
	Error     string    `json:"error,omitempty"`
	Updated   time.Time `json:"updated"`
	Source    string    `json:"source,omitempty"`
	Cache     string    `json:"cache,omitempty"`
	Entities  int       `json:"entities"`
	Watching  []string  `json:"watching,omitempty"`
	Halted    []string  `json:"halted,omitempty"`
	LastScan  time.Time `json:"last_scan,omitzero"`
	LastEvict time.Time `json:"last_evict,omitzero"`
}

// WriteStatus writes status atomically, stamping Updated.
func WriteStatus(path string, status *StatusFile) error {
	status.Updated = time.Now()
	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// WriteStatusError writes an error status file.
func WriteStatusError(path string, err error) error {
	return WriteStatus(path, &StatusFile{Status: StatusError, Error: err.Error()})
}

// ReadStatus reads a status file.
func ReadStatus(path string) (*StatusFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var status StatusFile
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// RemoveStatus removes the status file.
func RemoveStatus(path string) error {
	return os.Remove(path)
}

// StatusPath returns the status file path for a data directory.
func StatusPath(dataDir string) string {
	return filepath.Join(dataDir, "modcache.status")
}
