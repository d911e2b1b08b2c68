// Package arbiter decides how an incoming command interacts with whatever an
// actuator is currently doing. It is a pure function over the actuator phase
// and levels; all side effects live in the controller.
package arbiter

import (
	"github.com/yasunorioi/uecs-actuatord/internal/actuator"
)

// Disposition is what happens to an incoming command.
type Disposition int

const (
	// Accept starts the job immediately; the actuator was idle.
	Accept Disposition = iota
	// Preempt interrupts the running job and replaces it.
	Preempt
	// Wait enqueues behind the running job.
	Wait
	// Lock refuses: an equal-priority job owns the actuator.
	Lock
	// RejectCooling refuses: the motor is in its cooling window.
	RejectCooling
	// RejectCalibrating refuses: a calibration run owns the actuator.
	RejectCalibrating
)

// String returns a human-readable name for the disposition.
func (d Disposition) String() string {
	switch d {
	case Accept:
		return "accept"
	case Preempt:
		return "preempt"
	case Wait:
		return "wait"
	case Lock:
		return "lock"
	case RejectCooling:
		return "reject_cooling"
	case RejectCalibrating:
		return "reject_calibrating"
	default:
		return "unknown"
	}
}

// Rejected reports whether the disposition refuses the command outright.
func (d Disposition) Rejected() bool {
	return d == Lock || d == RejectCooling || d == RejectCalibrating
}

// Decide yields the disposition for a command at level arriving while the
// actuator is in phase, currently owned by current (valid when phase is not
// idle). sameActuator distinguishes the operator-override case: an L3
// command replacing the operator's own running L3 job preempts rather than
// locks.
func Decide(phase actuator.Phase, current actuator.Level, level actuator.Level, sameActuator bool) Disposition {
	switch phase {
	case actuator.PhaseIdle:
		return Accept

	case actuator.PhaseMoving:
		switch {
		case level < current:
			return Preempt
		case level == current:
			if level == actuator.LevelSafety {
				// Safety supersedes safety: the newer weather response
				// replaces the running one unconditionally.
				return Preempt
			}
			if level == actuator.LevelManual && sameActuator {
				// Operator override: the newer manual command wins.
				return Preempt
			}
			return Lock
		default:
			return Wait
		}

	case actuator.PhaseCooling:
		if level <= actuator.LevelSafety {
			return Preempt
		}
		return RejectCooling

	case actuator.PhaseCalibrating:
		// Calibration runs at safety priority; an equal-or-higher safety
		// command interrupts it.
		if level <= actuator.LevelSafety {
			return Preempt
		}
		return RejectCalibrating
	}

	return RejectCalibrating
}
