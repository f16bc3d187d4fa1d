// Package instance enforces that only one orchestrator process runs
// against a given data directory at a time: a JSON PID file records the
// owning process, and a stale file (owning process no longer alive) is
// reclaimed automatically rather than blocking startup forever.
// Grounded in the teacher's internal/instance/manager.go PID-file
// read/write/stale-detection shape, trimmed of its process-name and
// version-reporting detail (this process doesn't publish a version, and
// a PID match is enough — no separate binary to confuse it with).
package instance

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// PIDFile is the on-disk record of the owning process.
type PIDFile struct {
	PID       int       `json:"pid"`
	Port      int       `json:"port"`
	StartedAt time.Time `json:"started_at"`
}

// Guard owns the PID file at path.
type Guard struct {
	path string
}

// NewGuard wires a Guard to a PID file path.
func NewGuard(path string) *Guard {
	return &Guard{path: path}
}

// Acquire fails if another live process already owns the PID file, and
// reclaims (overwrites) a stale one whose process is no longer running.
func (g *Guard) Acquire(port int) error {
	existing, err := g.read()
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("read pid file: %w", err)
		}
	} else if isProcessRunning(existing.PID) {
		return fmt.Errorf("another orchestrator instance is already running (pid %d, port %d)", existing.PID, existing.Port)
	}

	data := PIDFile{PID: os.Getpid(), Port: port, StartedAt: time.Now()}
	encoded, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal pid file: %w", err)
	}
	if err := os.WriteFile(g.path, encoded, 0o644); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	return nil
}

// Release removes the PID file if it still names this process.
func (g *Guard) Release() {
	current, err := g.read()
	if err != nil || current.PID != os.Getpid() {
		return
	}
	_ = os.Remove(g.path)
}

func (g *Guard) read() (PIDFile, error) {
	data, err := os.ReadFile(g.path)
	if err != nil {
		return PIDFile{}, err
	}
	var pf PIDFile
	if err := json.Unmarshal(data, &pf); err != nil {
		return PIDFile{}, fmt.Errorf("parse pid file: %w", err)
	}
	return pf, nil
}
