// state/state.go
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"auto_kis_go/ledger"
)

// Snapshot is the top-level structure persisted to state.json. It is a
// dashboard artifact: the broker remains the source of truth on restart,
// and reconciliation rebuilds the in-memory books from it.
type Snapshot struct {
	UpdatedAt time.Time                      `json:"updated_at"`
	Positions map[string]ledger.Position     `json:"positions"`
	Pending   map[string]ledger.PendingOrder `json:"pending"`
}

// Manager writes end-of-cycle snapshots atomically and reads them back for
// external consumers.
type Manager struct {
	filePath string
}

// NewManager prepares the state directory and returns a manager for
// state.json inside it.
func NewManager(dir string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	return &Manager{filePath: filepath.Join(dir, "state.json")}, nil
}

// Save persists one snapshot via a temp file and rename so a crash
// mid-write never leaves a truncated state.json behind.
func (m *Manager) Save(positions map[string]ledger.Position, pending map[string]ledger.PendingOrder) error {
	snap := Snapshot{
		UpdatedAt: time.Now(),
		Positions: positions,
		Pending:   pending,
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(m.filePath), "state-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp state file: %w", err)
	}

	if err := os.Rename(tmpPath, m.filePath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

// Load reads the last snapshot. A missing file returns an empty snapshot.
func (m *Manager) Load() (*Snapshot, error) {
	data, err := os.ReadFile(m.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return &Snapshot{
				Positions: make(map[string]ledger.Position),
				Pending:   make(map[string]ledger.PendingOrder),
			}, nil
		}
		return nil, fmt.Errorf("read state file: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parse state file: %w", err)
	}
	if snap.Positions == nil {
		snap.Positions = make(map[string]ledger.Position)
	}
	if snap.Pending == nil {
		snap.Pending = make(map[string]ledger.PendingOrder)
	}
	return &snap, nil
}
