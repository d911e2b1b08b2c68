package arbiter

import (
	"testing"

	"github.com/yasunorioi/uecs-actuatord/internal/actuator"
)

func TestDecide(t *testing.T) {
	tests := []struct {
		name     string
		phase    actuator.Phase
		current  actuator.Level
		incoming actuator.Level
		same     bool
		expected Disposition
	}{
		// === IDLE: everything is admitted ===
		{"idle/l1", actuator.PhaseIdle, 0, actuator.LevelEmergency, true, Accept},
		{"idle/l2", actuator.PhaseIdle, 0, actuator.LevelSafety, true, Accept},
		{"idle/l3", actuator.PhaseIdle, 0, actuator.LevelManual, true, Accept},
		{"idle/l4", actuator.PhaseIdle, 0, actuator.LevelAutomatic, true, Accept},

		// === MOVING at L2 ===
		{"moving_l2/l1", actuator.PhaseMoving, actuator.LevelSafety, actuator.LevelEmergency, true, Preempt},
		// Safety-over-safety preempts: an updated weather response must
		// replace the running one, never be refused.
		{"moving_l2/l2", actuator.PhaseMoving, actuator.LevelSafety, actuator.LevelSafety, true, Preempt},
		{"moving_l2/l2_other", actuator.PhaseMoving, actuator.LevelSafety, actuator.LevelSafety, false, Preempt},
		{"moving_l2/l3", actuator.PhaseMoving, actuator.LevelSafety, actuator.LevelManual, true, Wait},
		{"moving_l2/l4", actuator.PhaseMoving, actuator.LevelSafety, actuator.LevelAutomatic, true, Wait},

		// === MOVING at L3 ===
		{"moving_l3/l1", actuator.PhaseMoving, actuator.LevelManual, actuator.LevelEmergency, true, Preempt},
		{"moving_l3/l2", actuator.PhaseMoving, actuator.LevelManual, actuator.LevelSafety, true, Preempt},
		// Operator override: same-actuator L3 over L3 preempts, against the
		// default same-level rule.
		{"moving_l3/l3_same", actuator.PhaseMoving, actuator.LevelManual, actuator.LevelManual, true, Preempt},
		{"moving_l3/l3_other", actuator.PhaseMoving, actuator.LevelManual, actuator.LevelManual, false, Lock},
		{"moving_l3/l4", actuator.PhaseMoving, actuator.LevelManual, actuator.LevelAutomatic, true, Wait},

		// === MOVING at L4 ===
		{"moving_l4/l1", actuator.PhaseMoving, actuator.LevelAutomatic, actuator.LevelEmergency, true, Preempt},
		{"moving_l4/l2", actuator.PhaseMoving, actuator.LevelAutomatic, actuator.LevelSafety, true, Preempt},
		{"moving_l4/l3", actuator.PhaseMoving, actuator.LevelAutomatic, actuator.LevelManual, true, Preempt},
		{"moving_l4/l4", actuator.PhaseMoving, actuator.LevelAutomatic, actuator.LevelAutomatic, true, Lock},

		// === COOLING ===
		{"cooling/l1", actuator.PhaseCooling, actuator.LevelManual, actuator.LevelEmergency, true, Preempt},
		{"cooling/l2", actuator.PhaseCooling, actuator.LevelManual, actuator.LevelSafety, true, Preempt},
		{"cooling/l3", actuator.PhaseCooling, actuator.LevelManual, actuator.LevelManual, true, RejectCooling},
		{"cooling/l4", actuator.PhaseCooling, actuator.LevelManual, actuator.LevelAutomatic, true, RejectCooling},

		// === CALIBRATING (runs at L2) ===
		{"calibrating/l1", actuator.PhaseCalibrating, actuator.LevelSafety, actuator.LevelEmergency, true, Preempt},
		{"calibrating/l2", actuator.PhaseCalibrating, actuator.LevelSafety, actuator.LevelSafety, true, Preempt},
		{"calibrating/l3", actuator.PhaseCalibrating, actuator.LevelSafety, actuator.LevelManual, true, RejectCalibrating},
		{"calibrating/l4", actuator.PhaseCalibrating, actuator.LevelSafety, actuator.LevelAutomatic, true, RejectCalibrating},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Decide(tt.phase, tt.current, tt.incoming, tt.same)
			if got != tt.expected {
				t.Errorf("Decide(%s, %d, %d, %v) = %s, want %s",
					tt.phase, tt.current, tt.incoming, tt.same, got, tt.expected)
			}
		})
	}
}

func TestRejected(t *testing.T) {
	for _, d := range []Disposition{Lock, RejectCooling, RejectCalibrating} {
		if !d.Rejected() {
			t.Errorf("%s must be Rejected", d)
		}
	}
	for _, d := range []Disposition{Accept, Preempt, Wait} {
		if d.Rejected() {
			t.Errorf("%s must not be Rejected", d)
		}
	}
}
