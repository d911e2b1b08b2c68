package statestore

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/yasunorioi/uecs-actuatord/internal/actuator"
)

func TestOpenMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	_, snap, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	if !snap.Clean {
		t.Error("missing file must count as a clean start")
	}
	if len(snap.Actuators) != 0 {
		t.Errorf("expected empty snapshot, got %d entries", len(snap.Actuators))
	}
}

func TestPutAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store, _, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}

	calibrated := time.Date(2026, 8, 5, 0, 0, 12, 0, time.UTC)
	err = store.Put("VenSdWin", actuator.State{
		Position:         45,
		Phase:            actuator.PhaseIdle,
		LastDirection:    actuator.DirectionOpen,
		LastCalibratedAt: calibrated,
	})
	if err != nil {
		t.Fatal(err)
	}

	// Without Finalize the reload must be unclean.
	_, snap, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Clean {
		t.Error("reload without Finalize must be unclean")
	}
	rec, ok := snap.Actuators["VenSdWin"]
	if !ok {
		t.Fatal("VenSdWin missing from reloaded snapshot")
	}
	if rec.Position != 45 || rec.Phase != "idle" || rec.LastDirection != "open" {
		t.Errorf("reloaded record = %+v", rec)
	}
	if !rec.LastCalibratedAt.Equal(calibrated) {
		t.Errorf("LastCalibratedAt = %s, want %s", rec.LastCalibratedAt, calibrated)
	}
}

func TestFinalizeMarksClean(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store, _, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Put("Irri", actuator.State{Position: 0, Phase: actuator.PhaseIdle}); err != nil {
		t.Fatal(err)
	}
	if err := store.Finalize(); err != nil {
		t.Fatal(err)
	}

	_, snap, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if !snap.Clean {
		t.Error("snapshot after Finalize must be clean")
	}
}

func TestCorruptSnapshotDiscarded(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("{truncated"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, snap, err := Open(path)
	if err != nil {
		t.Fatalf("Open() must not fail on corruption: %v", err)
	}
	if snap.Clean {
		t.Error("corrupt snapshot must be treated as unclean")
	}
	if len(snap.Actuators) != 0 {
		t.Error("corrupt snapshot must be discarded")
	}
}

func TestNoTempFilesLeftBehind(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	store, _, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		if err := store.Put("VenFan", actuator.State{Position: 100 * (i % 2)}); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("expected only the snapshot in %s, found %v", dir, names)
	}
}

func TestMotionTimestampsOnlyWhileMoving(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store, _, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}

	now := time.Now()
	err = store.Put("VenSdWin", actuator.State{
		Position:        10,
		Phase:           actuator.PhaseMoving,
		MotionStartedAt: now,
		MotionEndsAt:    now.Add(18 * time.Second),
	})
	if err != nil {
		t.Fatal(err)
	}
	view := store.SnapshotView()
	if view["VenSdWin"].MotionStartedAt == nil || view["VenSdWin"].MotionEndsAt == nil {
		t.Error("moving state must persist motion timestamps")
	}

	if err := store.Put("VenSdWin", actuator.State{Position: 30, Phase: actuator.PhaseIdle}); err != nil {
		t.Fatal(err)
	}
	view = store.SnapshotView()
	if view["VenSdWin"].MotionStartedAt != nil {
		t.Error("idle state must not carry motion timestamps")
	}
}
