package actuator

import (
	"errors"
	"fmt"
	"time"
)

// The wire protocol only carries on/off: 1 energises the motor, 0 stops it.
// Direction is a property of which relay the far-side controller drives; the
// sender's responsibility is bounding how long the signal stays energised.
const (
	WireOn  = "1"
	WireOff = "0"
)

var (
	ErrNotIdle    = errors.New("actuator is not idle")
	ErrNotMoving  = errors.New("actuator is not moving")
	ErrBadTarget  = errors.New("target out of range")
	ErrWrongKind  = errors.New("target kind not valid for this actuator")
	ErrZeroTravel = errors.New("actuator has no travel time configured")
)

// Start describes what the controller must do after a transition into motion.
type Start struct {
	// NoOp means the target equals the current estimate; nothing was sent
	// and no state changed.
	NoOp bool

	// Value is the wire value for the initial send ("1" or "0").
	Value string

	Direction Direction

	// Duration is the energised interval to arm a timer for.
	// Zero for Immediate transitions.
	Duration time.Duration

	// PreWait must elapse between the preceding OFF and this job's ON
	// (reversal or cooling gap). Zero when starting from cold idle or at L1.
	PreWait time.Duration

	// Immediate marks a binary switch with no timed motion interval: the
	// value is sent once and the actuator goes straight to cooling.
	Immediate bool
}

// FSM is the per-actuator state machine. It is not internally synchronised;
// the controller serialises access per actuator.
type FSM struct {
	desc Descriptor
	st   State
}

// New creates an FSM from a descriptor and a (possibly restored) state.
func New(desc Descriptor, st State) *FSM {
	if st.Position < 0 {
		st.Position = 0
	}
	if st.Position > 100 {
		st.Position = 100
	}
	return &FSM{desc: desc, st: st}
}

// Descriptor returns the immutable descriptor.
func (f *FSM) Descriptor() Descriptor { return f.desc }

// State returns a copy of the current state.
func (f *FSM) State() State { return f.st }

// MarkStale flags the restored position as untrusted.
func (f *FSM) MarkStale() { f.st.Stale = true }

// Restore replaces the state wholesale. Used to roll back a transition whose
// initial send never made it onto the wire.
func (f *FSM) Restore(st State) { f.st = st }

// Stale reports whether the position estimate needs calibration.
func (f *FSM) Stale() bool { return f.st.Stale }

// Start begins a job from idle. The arbiter has already decided admission;
// this enforces only the structural guard.
func (f *FSM) Start(job Job, now time.Time) (Start, error) {
	if f.st.Phase != PhaseIdle {
		return Start{}, fmt.Errorf("%w: %s", ErrNotIdle, f.st.Phase)
	}
	return f.begin(job, now)
}

// StartAfterPreempt begins a replacement job immediately after Freeze.
// The returned PreWait is the gap the controller must hold between the OFF
// already sent and this job's ON.
func (f *FSM) StartAfterPreempt(job Job, prevDir Direction, now time.Time) (Start, error) {
	if f.st.Phase != PhaseIdle {
		return Start{}, fmt.Errorf("%w: %s", ErrNotIdle, f.st.Phase)
	}
	start, err := f.begin(job, now)
	if err != nil || start.NoOp || start.Immediate {
		return start, err
	}
	start.PreWait = f.restartGap(prevDir, start.Direction, job.Level)
	// The pre-wait shifts the actual energised window.
	f.st.MotionStartedAt = now.Add(start.PreWait)
	f.st.MotionEndsAt = f.st.MotionStartedAt.Add(start.Duration)
	return start, nil
}

func (f *FSM) begin(job Job, now time.Time) (Start, error) {
	switch job.TargetKind {
	case TargetPercent:
		return f.beginPercent(job, now)
	case TargetSeconds:
		return f.beginSeconds(job, now)
	case TargetBinary:
		return f.beginBinary(job, now)
	default:
		return Start{}, ErrWrongKind
	}
}

func (f *FSM) beginPercent(job Job, now time.Time) (Start, error) {
	if f.desc.Kind != KindDuration || !f.desc.HasLimit {
		return Start{}, fmt.Errorf("%w: percent target on %s actuator", ErrWrongKind, f.desc.Kind)
	}
	if job.TargetPct < 0 || job.TargetPct > 100 {
		return Start{}, fmt.Errorf("%w: %d%%", ErrBadTarget, job.TargetPct)
	}

	p, t := f.st.Position, job.TargetPct
	if t == p {
		return Start{NoOp: true}, nil
	}

	var dir Direction
	var dur time.Duration
	if t > p {
		if f.desc.FullOpen <= 0 {
			return Start{}, ErrZeroTravel
		}
		dir = DirectionOpen
		dur = f.desc.FullOpen * time.Duration(t-p) / 100
	} else {
		if f.desc.FullClose <= 0 {
			return Start{}, ErrZeroTravel
		}
		dir = DirectionClose
		dur = f.desc.FullClose * time.Duration(p-t) / 100
	}

	f.st.Phase = PhaseMoving
	f.st.LastDirection = dir
	f.st.CurrentLevel = job.Level
	f.st.MotionStartedAt = now
	f.st.MotionEndsAt = now.Add(dur)
	f.st.motionStartPos = p
	f.st.motionTarget = t
	f.st.plannedMotion = dur
	f.st.trackPosition = true

	return Start{Value: WireOn, Direction: dir, Duration: dur}, nil
}

func (f *FSM) beginSeconds(job Job, now time.Time) (Start, error) {
	if f.desc.Kind == KindDuration && f.desc.HasLimit {
		return Start{}, fmt.Errorf("%w: seconds target on position-controlled actuator", ErrWrongKind)
	}
	if job.RunFor <= 0 {
		return Start{}, fmt.Errorf("%w: %s", ErrBadTarget, job.RunFor)
	}

	dur := job.RunFor
	if f.desc.MaxDuration > 0 && dur > f.desc.MaxDuration {
		dur = f.desc.MaxDuration
	}

	f.st.Phase = PhaseMoving
	f.st.LastDirection = DirectionOpen
	f.st.CurrentLevel = job.Level
	f.st.MotionStartedAt = now
	f.st.MotionEndsAt = now.Add(dur)
	f.st.motionStartPos = f.st.Position
	f.st.motionTarget = f.st.Position
	f.st.plannedMotion = dur
	// Run-for-N-seconds actuators have no meaningful position estimate.
	f.st.trackPosition = false
	if f.desc.Kind == KindOnOff {
		f.st.Position = 100
	}

	return Start{Value: WireOn, Direction: DirectionOpen, Duration: dur}, nil
}

func (f *FSM) beginBinary(job Job, now time.Time) (Start, error) {
	if f.desc.Kind != KindOnOff {
		return Start{}, fmt.Errorf("%w: binary target on %s actuator", ErrWrongKind, f.desc.Kind)
	}

	target := 0
	value := WireOff
	if job.On {
		target = 100
		value = WireOn
	}
	if f.st.Position == target {
		return Start{NoOp: true}, nil
	}

	dir := DirectionClose
	if job.On {
		dir = DirectionOpen
	}

	f.st.Position = target
	f.st.LastDirection = dir
	f.st.CurrentLevel = job.Level
	f.st.Phase = PhaseCooling
	f.st.CoolingEndsAt = now.Add(f.desc.Cooling)
	if f.desc.Cooling <= 0 {
		f.st.Phase = PhaseIdle
		f.st.CurrentLevel = 0
	}

	return Start{Value: value, Direction: dir, Immediate: true}, nil
}

// Complete handles motor-time expiry. The position is computed from the wall
// elapsed time, not the planned duration, so a late tick still yields the
// true estimate. Returns the cooling interval to arm (zero means idle now).
func (f *FSM) Complete(now time.Time) (time.Duration, error) {
	if f.st.Phase != PhaseMoving {
		return 0, fmt.Errorf("%w: %s", ErrNotMoving, f.st.Phase)
	}

	if f.st.trackPosition {
		f.st.Position = f.interpolate(now)
	}
	if f.desc.Kind == KindOnOff {
		f.st.Position = 0
	}
	f.finishMotion(now, f.desc.Cooling)
	return f.coolingLeft(now), nil
}

// StopMotion halts a running motion or calibration where it is, with the
// normal cooling window. Unlike Freeze there is no replacement job coming;
// unlike EmergencyOff the motor still gets its cooling.
func (f *FSM) StopMotion(now time.Time) (time.Duration, error) {
	if f.st.Phase != PhaseMoving && f.st.Phase != PhaseCalibrating {
		return 0, fmt.Errorf("%w: %s", ErrNotMoving, f.st.Phase)
	}
	if f.st.trackPosition {
		f.st.Position = f.interpolate(now)
	}
	if f.desc.Kind == KindOnOff {
		f.st.Position = 0
	}
	f.finishMotion(now, f.desc.Cooling)
	return f.coolingLeft(now), nil
}

// Freeze interrupts a motion (or calibration) for preemption: the OFF has
// been decided, the position estimate is fixed at the interpolated point.
// Returns the direction the interrupted motion was travelling.
func (f *FSM) Freeze(now time.Time) (Direction, error) {
	if f.st.Phase != PhaseMoving && f.st.Phase != PhaseCalibrating {
		return DirectionNone, fmt.Errorf("%w: %s", ErrNotMoving, f.st.Phase)
	}

	dir := f.st.LastDirection
	if f.st.trackPosition {
		f.st.Position = f.interpolate(now)
	}
	if f.desc.Kind == KindOnOff {
		f.st.Position = 0
	}
	f.st.Phase = PhaseIdle
	f.st.CurrentLevel = 0
	f.st.MotionEndsAt = time.Time{}
	return dir, nil
}

// CancelCooling aborts a cooling window for an L1/L2 preemption.
func (f *FSM) CancelCooling() error {
	if f.st.Phase != PhaseCooling {
		return fmt.Errorf("actuator is not cooling: %s", f.st.Phase)
	}
	f.st.Phase = PhaseIdle
	f.st.CurrentLevel = 0
	f.st.CoolingEndsAt = time.Time{}
	return nil
}

// EmergencyOff is the L1 stop of a running motion: OFF is sent, cooling is
// skipped, and for untracked actuators the position estimate is left alone.
func (f *FSM) EmergencyOff(now time.Time) error {
	if f.st.Phase != PhaseMoving && f.st.Phase != PhaseCalibrating {
		return fmt.Errorf("%w: %s", ErrNotMoving, f.st.Phase)
	}
	if f.st.trackPosition {
		f.st.Position = f.interpolate(now)
	}
	if f.desc.Kind == KindOnOff {
		f.st.Position = 0
	}
	f.st.Phase = PhaseIdle
	f.st.CurrentLevel = 0
	f.st.MotionEndsAt = time.Time{}
	f.st.CoolingEndsAt = time.Time{}
	return nil
}

// Overrun is the watchdog path: the motor ran past MaxContinuous. The forced
// OFF has been decided; the estimate is clamped to the motion target.
func (f *FSM) Overrun(now time.Time) (time.Duration, error) {
	if f.st.Phase != PhaseMoving && f.st.Phase != PhaseCalibrating {
		return 0, fmt.Errorf("%w: %s", ErrNotMoving, f.st.Phase)
	}
	if f.st.trackPosition {
		f.st.Position = clampPct(f.st.motionTarget)
	}
	if f.desc.Kind == KindOnOff {
		f.st.Position = 0
	}
	f.finishMotion(now, f.desc.Cooling)
	return f.coolingLeft(now), nil
}

// CoolingDone moves COOLING to IDLE at cooling timer expiry.
func (f *FSM) CoolingDone() error {
	if f.st.Phase != PhaseCooling {
		return fmt.Errorf("actuator is not cooling: %s", f.st.Phase)
	}
	f.st.Phase = PhaseIdle
	f.st.CurrentLevel = 0
	f.st.CoolingEndsAt = time.Time{}
	return nil
}

// StartCalibration drives the actuator fully closed to reset the estimate.
// Only valid from idle; calibration runs at safety (L2) priority.
func (f *FSM) StartCalibration(now time.Time) (Start, error) {
	if f.st.Phase != PhaseIdle {
		return Start{}, fmt.Errorf("%w: %s", ErrNotIdle, f.st.Phase)
	}
	if f.desc.Kind != KindDuration || !f.desc.HasLimit {
		return Start{}, fmt.Errorf("%w: calibration on %s actuator", ErrWrongKind, f.desc.Kind)
	}

	dur := f.desc.CalibrationTravel()
	f.st.Phase = PhaseCalibrating
	f.st.LastDirection = DirectionClose
	f.st.CurrentLevel = LevelSafety
	f.st.MotionStartedAt = now
	f.st.MotionEndsAt = now.Add(dur)
	f.st.motionStartPos = f.st.Position
	f.st.motionTarget = 0
	f.st.plannedMotion = dur
	f.st.trackPosition = true

	return Start{Value: WireOn, Direction: DirectionClose, Duration: dur}, nil
}

// CompleteCalibration finishes the close travel: the mechanism is at its
// stop, the estimate is authoritative zero and no longer stale.
// wallNow is the wall-clock calibration timestamp recorded for operators.
func (f *FSM) CompleteCalibration(now time.Time, wallNow time.Time) (time.Duration, error) {
	if f.st.Phase != PhaseCalibrating {
		return 0, fmt.Errorf("actuator is not calibrating: %s", f.st.Phase)
	}
	f.st.Position = 0
	f.st.Stale = false
	f.st.LastCalibratedAt = wallNow
	f.finishMotion(now, f.desc.Cooling)
	return f.coolingLeft(now), nil
}

// CoolingRemaining reports how long until the cooling window ends.
func (f *FSM) CoolingRemaining(now time.Time) time.Duration {
	if f.st.Phase != PhaseCooling {
		return 0
	}
	left := f.st.CoolingEndsAt.Sub(now)
	if left < 0 {
		return 0
	}
	return left
}

// MotionRemaining reports how long until the current motion ends.
func (f *FSM) MotionRemaining(now time.Time) time.Duration {
	if f.st.Phase != PhaseMoving && f.st.Phase != PhaseCalibrating {
		return 0
	}
	left := f.st.MotionEndsAt.Sub(now)
	if left < 0 {
		return 0
	}
	return left
}

// restartGap computes the OFF-to-ON gap when a preempting job replaces an
// interrupted motion. Emergency commands never wait; reversals get the longer
// window.
func (f *FSM) restartGap(prev, next Direction, level Level) time.Duration {
	if level == LevelEmergency {
		return 0
	}
	if prev != DirectionNone && next != DirectionNone && prev != next {
		return f.desc.ReversalCooling
	}
	return f.desc.Cooling
}

// interpolate is the single source of truth for the estimate mid-motion:
// linear between the motion's start position and target by elapsed fraction,
// clamped so it can never cross the target or leave 0..100.
func (f *FSM) interpolate(now time.Time) int {
	if f.st.plannedMotion <= 0 {
		return clampPct(f.st.motionTarget)
	}
	elapsed := now.Sub(f.st.MotionStartedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	frac := float64(elapsed) / float64(f.st.plannedMotion)
	if frac > 1 {
		frac = 1
	}
	p0, t := float64(f.st.motionStartPos), float64(f.st.motionTarget)
	return clampPct(int(p0 + (t-p0)*frac + 0.5))
}

func (f *FSM) finishMotion(now time.Time, cooling time.Duration) {
	f.st.MotionEndsAt = time.Time{}
	if cooling > 0 {
		f.st.Phase = PhaseCooling
		f.st.CoolingEndsAt = now.Add(cooling)
	} else {
		f.st.Phase = PhaseIdle
		f.st.CurrentLevel = 0
		f.st.CoolingEndsAt = time.Time{}
	}
}

func (f *FSM) coolingLeft(now time.Time) time.Duration {
	if f.st.Phase != PhaseCooling {
		return 0
	}
	return f.st.CoolingEndsAt.Sub(now)
}

func clampPct(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
