// Package statestore persists per-actuator position estimates across
// restarts. The snapshot is a single JSON file replaced atomically with
// write-temp-then-rename; the rename is the linearisation point, so a crash
// can never leave a truncated snapshot behind.
package statestore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/yasunorioi/uecs-actuatord/internal/actuator"
)

// Record is the persisted form of one actuator's state.
type Record struct {
	Position      int    `json:"position_pct"`
	Phase         string `json:"phase"`
	LastDirection string `json:"last_direction"`

	LastCalibratedAt time.Time  `json:"last_calibrated_at"`
	MotionStartedAt  *time.Time `json:"motion_started_at,omitempty"`
	MotionEndsAt     *time.Time `json:"motion_ends_at,omitempty"`
}

type snapshotFile struct {
	// CleanShutdown is written true only by Finalize. A snapshot restored
	// without it was left by a crash and all positions are stale.
	CleanShutdown bool              `json:"clean_shutdown"`
	SavedAt       time.Time         `json:"saved_at"`
	Actuators     map[string]Record `json:"actuators"`
}

// Store is the crash-durable snapshot store.
type Store struct {
	mu   sync.Mutex
	path string
	data snapshotFile
}

// Snapshot is the restored content handed to the controller at startup.
type Snapshot struct {
	// Clean reports whether the previous process shut down in an orderly
	// way. Unclean restores are treated as stale and trigger calibration.
	Clean     bool
	Actuators map[string]Record
}

// Open loads the snapshot at path. A missing file yields an empty snapshot.
func Open(path string) (*Store, Snapshot, error) {
	s := &Store{
		path: path,
		data: snapshotFile{Actuators: make(map[string]Record)},
	}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, Snapshot{Clean: true, Actuators: map[string]Record{}}, nil
	}
	if err != nil {
		return nil, Snapshot{}, fmt.Errorf("failed to read state snapshot: %w", err)
	}

	var loaded snapshotFile
	if err := json.Unmarshal(raw, &loaded); err != nil {
		// A snapshot we cannot parse is a schema change or corruption
		// either way: discard and recalibrate.
		log.Warn().Err(err).Str("path", path).Msg("State snapshot unreadable, discarding")
		return s, Snapshot{Clean: false, Actuators: map[string]Record{}}, nil
	}
	if loaded.Actuators == nil {
		loaded.Actuators = make(map[string]Record)
	}

	snap := Snapshot{
		Clean:     loaded.CleanShutdown,
		Actuators: make(map[string]Record, len(loaded.Actuators)),
	}
	for id, rec := range loaded.Actuators {
		snap.Actuators[id] = rec
	}

	// Running state resumes dirty: the next write marks the file unclean
	// until Finalize.
	loaded.CleanShutdown = false
	s.data = loaded
	return s, snap, nil
}

// Put records the post-transition state for one actuator and flushes.
func (s *Store) Put(id string, st actuator.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := Record{
		Position:         st.Position,
		Phase:            st.Phase.String(),
		LastDirection:    st.LastDirection.String(),
		LastCalibratedAt: st.LastCalibratedAt,
	}
	if st.Phase == actuator.PhaseMoving || st.Phase == actuator.PhaseCalibrating {
		started, ends := st.MotionStartedAt, st.MotionEndsAt
		rec.MotionStartedAt = &started
		rec.MotionEndsAt = &ends
	}
	s.data.Actuators[id] = rec

	return s.flushLocked()
}

// SnapshotView returns a consistent copy for operators.
func (s *Store) SnapshotView() map[string]Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]Record, len(s.data.Actuators))
	for id, rec := range s.data.Actuators {
		out[id] = rec
	}
	return out
}

// Finalize marks the snapshot as a clean shutdown and flushes one last time.
func (s *Store) Finalize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data.CleanShutdown = true
	return s.flushLocked()
}

func (s *Store) flushLocked() error {
	s.data.SavedAt = time.Now().UTC()

	payload, err := json.MarshalIndent(&s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state snapshot: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".actuator-state-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp snapshot: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace state snapshot: %w", err)
	}
	return nil
}

// ReadFile loads a snapshot read-only, for the status CLI.
func ReadFile(path string) (map[string]Record, bool, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, false, err
	}
	var loaded snapshotFile
	if err := json.Unmarshal(raw, &loaded); err != nil {
		return nil, false, err
	}
	return loaded.Actuators, loaded.CleanShutdown, nil
}
