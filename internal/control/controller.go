// Package control owns the actuator scheduling loop: it arbitrates incoming
// intents, drives the per-actuator state machines through their timers,
// enforces the watchdog, and drains wait queues. Scheduling is parallel
// across actuators and strictly serial per actuator.
package control

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/yasunorioi/uecs-actuatord/internal/actuator"
	"github.com/yasunorioi/uecs-actuatord/internal/arbiter"
	"github.com/yasunorioi/uecs-actuatord/internal/bus"
	"github.com/yasunorioi/uecs-actuatord/internal/clock"
	"github.com/yasunorioi/uecs-actuatord/internal/eventbus"
	"github.com/yasunorioi/uecs-actuatord/internal/guard"
	"github.com/yasunorioi/uecs-actuatord/internal/queue"
	"github.com/yasunorioi/uecs-actuatord/internal/registry"
	"github.com/yasunorioi/uecs-actuatord/internal/statestore"
)

// Disposition of a submitted intent, as reported to the caller.
const (
	DispositionAccepted = "accepted"
	DispositionQueued   = "queued"
	DispositionLocked   = "locked"
	DispositionRejected = "rejected"
)

// Error reasons reported to callers.
const (
	ReasonUnknownActuator = "UNKNOWN_ACTUATOR"
	ReasonOutOfRange      = "OUT_OF_RANGE"
	ReasonLocked          = "LOCKED"
	ReasonCooling         = "COOLING"
	ReasonCalibrating     = "CALIBRATING"
	ReasonRainInterlock   = "RAIN_INTERLOCK"
)

// Intent is one control request from any caller (API, rules, CLI).
type Intent struct {
	ActuatorID string
	TargetKind actuator.TargetKind
	TargetPct  int
	RunFor     time.Duration
	On         bool
	Level      actuator.Level
	Origin     string
}

// Result is the synchronous answer to an intent.
type Result struct {
	Disposition string
	Reason      string
	ETA         time.Duration
	JobID       string
}

// Options configures a Controller.
type Options struct {
	QueueDepth int
	QueueTTL   time.Duration
}

// Controller arbitrates and schedules every actuator.
type Controller struct {
	reg    *registry.Registry
	store  *statestore.Store
	sender bus.Sender
	guard  *guard.Guard
	events *eventbus.Bus
	clk    clock.Clock
	opts   Options

	units map[string]*unit

	stopMu  sync.Mutex
	stopped bool
}

// unit is the per-actuator scheduling context. Its mutex serialises every
// transition; it is held across FSM mutation and send decisions but never
// across the wall time of a motion.
type unit struct {
	mu   sync.Mutex
	fsm  *actuator.FSM
	wait *queue.Queue

	// gen invalidates timers: every transition that re-arms or cancels
	// bumps it, and a firing timer carrying an older gen is a no-op.
	gen         uint64
	motionTimer clock.Timer
	preTimer    clock.Timer
	coolTimer   clock.Timer
	watchdog    clock.Timer

	currentJob actuator.Job
}

// New builds a controller from restored state. Positions restored from an
// unclean snapshot are marked stale.
func New(
	reg *registry.Registry,
	store *statestore.Store,
	snap statestore.Snapshot,
	sender bus.Sender,
	g *guard.Guard,
	events *eventbus.Bus,
	clk clock.Clock,
	opts Options,
) *Controller {
	c := &Controller{
		reg:    reg,
		store:  store,
		sender: sender,
		guard:  g,
		events: events,
		clk:    clk,
		opts:   opts,
		units:  make(map[string]*unit),
	}

	for _, desc := range reg.All() {
		st := actuator.State{Phase: actuator.PhaseIdle}
		if rec, ok := snap.Actuators[desc.ID]; ok {
			st.Position = rec.Position
			st.LastCalibratedAt = rec.LastCalibratedAt
			st.LastDirection = parseDirection(rec.LastDirection)
			// Whatever was moving at crash time is long stopped by the
			// far-side controller's own timeout; only the estimate's
			// trustworthiness carries over.
			if !snap.Clean && desc.Kind == actuator.KindDuration && desc.HasLimit {
				st.Stale = true
			}
		}
		u := &unit{
			fsm:  actuator.New(desc, st),
			wait: queue.New(opts.QueueDepth, opts.QueueTTL, nil),
		}
		c.units[desc.ID] = u
	}

	return c
}

// Submit arbitrates and (where admitted) dispatches one intent.
func (c *Controller) Submit(intent Intent) Result {
	desc, ok := c.reg.Describe(intent.ActuatorID)
	if !ok {
		return Result{Disposition: DispositionRejected, Reason: ReasonUnknownActuator}
	}
	if !intent.Level.Valid() {
		return Result{Disposition: DispositionRejected, Reason: ReasonOutOfRange}
	}
	if err := validateTarget(desc, intent); err != nil {
		return Result{Disposition: DispositionRejected, Reason: ReasonOutOfRange}
	}

	u := c.units[intent.ActuatorID]
	now := c.clk.Now()

	job := actuator.Job{
		ID:         uuid.NewString(),
		ActuatorID: intent.ActuatorID,
		Level:      intent.Level,
		Origin:     intent.Origin,
		TargetKind: intent.TargetKind,
		TargetPct:  intent.TargetPct,
		RunFor:     intent.RunFor,
		On:         intent.On,
		EnqueuedAt: now,
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	// An OFF intent for a duration actuator means "stop the motor", not a
	// motion job. Emergencies stop unconditionally; lower levels still go
	// through arbitration so an L4 rule cannot cut an L2 safety motion.
	if isStop(desc, job) {
		if job.Level == actuator.LevelEmergency {
			return c.stopLocked(u, desc, job, now)
		}
		st := u.fsm.State()
		switch arbiter.Decide(st.Phase, st.CurrentLevel, job.Level, true) {
		case arbiter.Accept, arbiter.Preempt:
			return c.stopLocked(u, desc, job, now)
		case arbiter.Wait:
			u.wait.Push(job)
			return Result{Disposition: DispositionQueued, ETA: u.fsm.MotionRemaining(now), JobID: job.ID}
		case arbiter.Lock:
			return Result{Disposition: DispositionLocked, Reason: ReasonLocked, ETA: u.fsm.MotionRemaining(now)}
		case arbiter.RejectCooling:
			// The motor is already off; a stop during cooling is a no-op
			// success rather than an error.
			return Result{Disposition: DispositionAccepted, JobID: job.ID}
		default:
			return Result{Disposition: DispositionRejected, Reason: ReasonCalibrating, ETA: u.fsm.MotionRemaining(now)}
		}
	}

	st := u.fsm.State()

	// A stale estimate serves nobody: until calibration has run, only
	// emergency and safety commands get through.
	if u.fsm.Stale() && st.Phase == actuator.PhaseIdle && job.Level > actuator.LevelSafety {
		return Result{
			Disposition: DispositionRejected,
			Reason:      ReasonCalibrating,
			ETA:         desc.CalibrationTravel(),
		}
	}

	switch arbiter.Decide(st.Phase, st.CurrentLevel, job.Level, true) {
	case arbiter.Accept:
		return c.startLocked(u, desc, job, now)

	case arbiter.Preempt:
		return c.preemptLocked(u, desc, job, now)

	case arbiter.Wait:
		u.wait.Push(job)
		return Result{
			Disposition: DispositionQueued,
			ETA:         u.fsm.MotionRemaining(now),
			JobID:       job.ID,
		}

	case arbiter.Lock:
		return Result{
			Disposition: DispositionLocked,
			Reason:      ReasonLocked,
			ETA:         u.fsm.MotionRemaining(now),
		}

	case arbiter.RejectCooling:
		return Result{
			Disposition: DispositionRejected,
			Reason:      ReasonCooling,
			ETA:         u.fsm.CoolingRemaining(now),
		}

	default: // arbiter.RejectCalibrating
		return Result{
			Disposition: DispositionRejected,
			Reason:      ReasonCalibrating,
			ETA:         u.fsm.MotionRemaining(now),
		}
	}
}

// startLocked admits a job onto an idle actuator.
func (c *Controller) startLocked(u *unit, desc actuator.Descriptor, job actuator.Job, now time.Time) Result {
	verdict, clamped := c.guard.Check(desc, job)
	if verdict == guard.RejectRain {
		return Result{Disposition: DispositionRejected, Reason: ReasonRainInterlock}
	}
	if job.TargetKind == actuator.TargetSeconds && clamped > 0 {
		job.RunFor = clamped
	}

	prev := u.fsm.State()
	start, err := u.fsm.Start(job, now)
	if err != nil {
		return Result{Disposition: DispositionRejected, Reason: ReasonOutOfRange}
	}
	return c.dispatchLocked(u, desc, job, start, prev, now)
}

// preemptLocked interrupts the running job (or cooling window) and replaces
// it. OFF and the position freeze both complete before the replacement ON.
func (c *Controller) preemptLocked(u *unit, desc actuator.Descriptor, job actuator.Job, now time.Time) Result {
	verdict, clamped := c.guard.Check(desc, job)
	if verdict == guard.RejectRain {
		return Result{Disposition: DispositionRejected, Reason: ReasonRainInterlock}
	}
	if job.TargetKind == actuator.TargetSeconds && clamped > 0 {
		job.RunFor = clamped
	}

	st := u.fsm.State()
	prevDir := actuator.DirectionNone
	wasCalibrating := st.Phase == actuator.PhaseCalibrating
	fromCooling := st.Phase == actuator.PhaseCooling

	switch st.Phase {
	case actuator.PhaseMoving, actuator.PhaseCalibrating:
		interrupted := u.currentJob
		c.cancelTimersLocked(u)
		dir, err := u.fsm.Freeze(now)
		if err != nil {
			return Result{Disposition: DispositionRejected, Reason: ReasonOutOfRange}
		}
		prevDir = dir
		c.sendOff(desc.ID, job.Level)
		c.persistLocked(desc.ID, u)
		c.publishTransition(desc.ID, u.fsm.State(), "preempted")
		log.Info().
			Str("actuator", desc.ID).
			Str("interrupted", interrupted.ID).
			Str("by", job.ID).
			Int("level", int(job.Level)).
			Int("position", u.fsm.State().Position).
			Msg("Motion preempted")

	case actuator.PhaseCooling:
		c.cancelTimersLocked(u)
		if err := u.fsm.CancelCooling(); err != nil {
			return Result{Disposition: DispositionRejected, Reason: ReasonCooling}
		}
		prevDir = st.LastDirection
	}

	// An interrupted calibration never finished its travel; the estimate
	// is untrusted again once this job is done.
	if wasCalibrating {
		u.fsm.MarkStale()
	}

	prev := u.fsm.State()
	var start actuator.Start
	var err error
	if fromCooling {
		// A cancelled cooling window starts the new job directly; only
		// an interrupted motion needs the OFF-to-ON gap.
		start, err = u.fsm.Start(job, now)
	} else {
		start, err = u.fsm.StartAfterPreempt(job, prevDir, now)
	}
	if err != nil {
		return Result{Disposition: DispositionRejected, Reason: ReasonOutOfRange}
	}
	return c.dispatchLocked(u, desc, job, start, prev, now)
}

// stopLocked handles OFF-targeted intents for duration actuators: stop the
// motor where it is. At L1 the cooling window is skipped; other levels get
// the normal cooling window since the motor just ran.
func (c *Controller) stopLocked(u *unit, desc actuator.Descriptor, job actuator.Job, now time.Time) Result {
	st := u.fsm.State()

	switch st.Phase {
	case actuator.PhaseMoving, actuator.PhaseCalibrating:
		wasCalibrating := st.Phase == actuator.PhaseCalibrating
		c.cancelTimersLocked(u)

		var cooling time.Duration
		var err error
		if job.Level == actuator.LevelEmergency {
			err = u.fsm.EmergencyOff(now)
		} else {
			cooling, err = u.fsm.StopMotion(now)
		}
		if err != nil {
			return Result{Disposition: DispositionRejected, Reason: ReasonOutOfRange}
		}
		if wasCalibrating {
			u.fsm.MarkStale()
		}
		c.sendOff(desc.ID, job.Level)
		c.persistLocked(desc.ID, u)
		c.publishTransition(desc.ID, u.fsm.State(), "stopped")
		if cooling > 0 {
			c.armCoolingLocked(u, desc, cooling)
		} else {
			c.scheduleIdleWorkLocked(u, desc)
		}
		return Result{Disposition: DispositionAccepted, JobID: job.ID}

	default:
		// Nothing is running; the OFF is still sent for physical trust,
		// the estimate does not change.
		c.sendOff(desc.ID, job.Level)
		return Result{Disposition: DispositionAccepted, JobID: job.ID}
	}
}

// dispatchLocked performs the ON send and arms the timers for a started job.
func (c *Controller) dispatchLocked(u *unit, desc actuator.Descriptor, job actuator.Job, start actuator.Start, prev actuator.State, now time.Time) Result {
	if start.NoOp {
		// Target equals estimate: success without touching the bus. The
		// actuator is still idle, so pending work (a stale-recalibration
		// debt, queued jobs) runs now.
		c.scheduleIdleWorkLocked(u, desc)
		return Result{Disposition: DispositionAccepted, JobID: job.ID}
	}

	if start.Immediate {
		if err := c.sender.Send(context.Background(), desc.ID, start.Value, job.Level); err != nil {
			// The switch command never left: roll the estimate back.
			log.Error().Err(err).Str("actuator", desc.ID).Msg("Bus send failed, command not started")
			u.fsm.Restore(prev)
			return Result{Disposition: DispositionRejected, Reason: "BUS_IO"}
		}
		c.publishCommand(desc.ID, start.Value, job.Level)
		c.persistLocked(desc.ID, u)
		c.publishTransition(desc.ID, u.fsm.State(), "switched")
		c.armCoolingLocked(u, desc, u.fsm.CoolingRemaining(now))
		return Result{Disposition: DispositionAccepted, JobID: job.ID}
	}

	u.currentJob = job

	if start.PreWait > 0 {
		// Reversal/cooling gap between the preceding OFF and this ON.
		// The unit stays MOVING for arbitration purposes throughout.
		c.armMotionTimersLocked(u, desc, start.PreWait+start.Duration)
		gen := u.gen
		u.preTimer = c.clk.AfterFunc(start.PreWait, func() {
			c.fireOn(desc.ID, gen, start, job)
		})
		c.persistLocked(desc.ID, u)
		return Result{Disposition: DispositionAccepted, JobID: job.ID}
	}

	if err := c.sender.Send(context.Background(), desc.ID, start.Value, job.Level); err != nil {
		// The motion never started; the estimate must not drift.
		log.Error().Err(err).Str("actuator", desc.ID).Msg("Bus send failed, motion not started")
		u.fsm.Restore(prev)
		return Result{Disposition: DispositionRejected, Reason: "BUS_IO"}
	}
	c.publishCommand(desc.ID, start.Value, job.Level)
	c.armMotionTimersLocked(u, desc, start.Duration)
	c.persistLocked(desc.ID, u)
	c.publishTransition(desc.ID, u.fsm.State(), "started")
	return Result{Disposition: DispositionAccepted, JobID: job.ID}
}

// fireOn is the delayed ON after a reversal/cooling gap.
func (c *Controller) fireOn(id string, gen uint64, start actuator.Start, job actuator.Job) {
	u := c.units[id]
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.gen != gen {
		return // preempted while waiting
	}
	if err := c.sender.Send(context.Background(), id, start.Value, job.Level); err != nil {
		// The motion never started: cancel the armed window and freeze
		// the estimate at its pre-motion value (zero elapsed).
		log.Error().Err(err).Str("actuator", id).Msg("Bus send failed, delayed motion not started")
		c.cancelTimersLocked(u)
		if _, ferr := u.fsm.Freeze(c.clk.Now()); ferr == nil {
			c.persistLocked(id, u)
		}
		c.events.Publish(eventbus.Event{
			Type: eventbus.EventTypeFault,
			Data: map[string]interface{}{"actuator": id, "kind": "BUS_IO"},
		})
		return
	}
	c.publishCommand(id, start.Value, job.Level)
	c.publishTransition(id, u.fsm.State(), "started")
}

// armMotionTimersLocked arms the expiry timer and the watchdog for a window
// of length dur beginning now; after a preemption dur includes the pre-wait
// gap before the ON.
func (c *Controller) armMotionTimersLocked(u *unit, desc actuator.Descriptor, dur time.Duration) {
	u.gen++
	gen := u.gen

	u.motionTimer = c.clk.AfterFunc(dur, func() {
		c.fireMotionDone(desc.ID, gen)
	})

	if mc := desc.MaxContinuous(); mc > 0 {
		slack := mc
		if dur > slack {
			slack = dur
		}
		u.watchdog = c.clk.AfterFunc(slack+time.Second, func() {
			c.fireWatchdog(desc.ID, gen)
		})
	}
}

// fireMotionDone handles motor-time expiry: OFF, position update, cooling.
func (c *Controller) fireMotionDone(id string, gen uint64) {
	u := c.units[id]
	desc, _ := c.reg.Describe(id)

	u.mu.Lock()
	defer u.mu.Unlock()

	if u.gen != gen {
		return // cancelled or replaced
	}
	now := c.clk.Now()

	st := u.fsm.State()
	var cooling time.Duration
	var err error
	if st.Phase == actuator.PhaseCalibrating {
		cooling, err = u.fsm.CompleteCalibration(now, time.Now())
	} else {
		cooling, err = u.fsm.Complete(now)
	}
	if err != nil {
		log.Error().Err(err).Str("actuator", id).Msg("Motion completion in unexpected phase")
		return
	}

	c.cancelTimersLocked(u)
	c.sendOff(id, st.CurrentLevel)
	c.persistLocked(id, u)
	c.publishTransition(id, u.fsm.State(), "completed")

	log.Info().
		Str("actuator", id).
		Str("job", u.currentJob.ID).
		Int("position", u.fsm.State().Position).
		Msg("Motion completed")
	u.currentJob = actuator.Job{}

	if cooling > 0 {
		c.armCoolingLocked(u, desc, cooling)
	} else {
		c.scheduleIdleWorkLocked(u, desc)
	}
}

// fireWatchdog is the max-continuous overrun: forced OFF, clamped estimate.
func (c *Controller) fireWatchdog(id string, gen uint64) {
	u := c.units[id]
	desc, _ := c.reg.Describe(id)

	u.mu.Lock()
	defer u.mu.Unlock()

	if u.gen != gen {
		return
	}
	st := u.fsm.State()
	if st.Phase != actuator.PhaseMoving && st.Phase != actuator.PhaseCalibrating {
		return
	}

	now := c.clk.Now()
	cooling, err := u.fsm.Overrun(now)
	if err != nil {
		return
	}

	c.cancelTimersLocked(u)
	c.sendOff(id, actuator.LevelEmergency)
	c.persistLocked(id, u)

	log.Error().
		Str("actuator", id).
		Str("job", u.currentJob.ID).
		Dur("max_continuous", desc.MaxContinuous()).
		Msg("Watchdog forced motor off")
	c.events.Publish(eventbus.Event{
		Type: eventbus.EventTypeFault,
		Data: map[string]interface{}{
			"actuator": id,
			"kind":     "OVERRUN",
			"job_id":   u.currentJob.ID,
		},
	})
	u.currentJob = actuator.Job{}

	if cooling > 0 {
		c.armCoolingLocked(u, desc, cooling)
	} else {
		c.scheduleIdleWorkLocked(u, desc)
	}
}

// armCoolingLocked arms the cooling expiry timer.
func (c *Controller) armCoolingLocked(u *unit, desc actuator.Descriptor, cooling time.Duration) {
	if cooling <= 0 {
		return
	}
	u.gen++
	gen := u.gen
	u.coolTimer = c.clk.AfterFunc(cooling, func() {
		c.fireCoolingDone(desc.ID, gen)
	})
}

// fireCoolingDone moves the unit to idle and drains pending work.
func (c *Controller) fireCoolingDone(id string, gen uint64) {
	u := c.units[id]
	desc, _ := c.reg.Describe(id)

	u.mu.Lock()
	defer u.mu.Unlock()

	if u.gen != gen {
		return
	}
	if err := u.fsm.CoolingDone(); err != nil {
		return
	}
	c.persistLocked(id, u)
	c.publishTransition(id, u.fsm.State(), "idle")
	c.scheduleIdleWorkLocked(u, desc)
}

// scheduleIdleWorkLocked runs what the idle actuator owes: a pending
// calibration first, then the highest-level queued job.
func (c *Controller) scheduleIdleWorkLocked(u *unit, desc actuator.Descriptor) {
	if u.fsm.State().Phase != actuator.PhaseIdle {
		return
	}
	now := c.clk.Now()

	if u.fsm.Stale() && desc.Kind == actuator.KindDuration && desc.HasLimit {
		c.startCalibrationLocked(u, desc, now)
		return
	}

	job, ok := u.wait.Pop(now)
	if !ok {
		return
	}
	log.Debug().
		Str("actuator", desc.ID).
		Str("job", job.ID).
		Int("level", int(job.Level)).
		Msg("Draining queued job")
	res := c.startLocked(u, desc, job, now)
	if res.Disposition != DispositionAccepted {
		log.Warn().
			Str("actuator", desc.ID).
			Str("job", job.ID).
			Str("disposition", res.Disposition).
			Str("reason", res.Reason).
			Msg("Queued job could not start")
	}
}

// Calibrate drives an actuator to its closed stop, resetting the estimate.
// Busy actuators are retried once idle (the stale flag carries the debt).
func (c *Controller) Calibrate(id string) error {
	desc, ok := c.reg.Describe(id)
	if !ok {
		return fmt.Errorf("unknown actuator %q", id)
	}
	if desc.Kind != actuator.KindDuration || !desc.HasLimit {
		return nil // nothing to calibrate
	}

	u := c.units[id]
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.fsm.State().Phase != actuator.PhaseIdle {
		// Not idle: mark the debt, the idle transition pays it.
		u.fsm.MarkStale()
		return nil
	}
	return c.startCalibrationLocked(u, desc, c.clk.Now())
}

// CalibrateAll triggers calibration for every position-tracked actuator.
func (c *Controller) CalibrateAll() {
	for _, id := range c.reg.IDs() {
		if err := c.Calibrate(id); err != nil {
			log.Error().Err(err).Str("actuator", id).Msg("Calibration trigger failed")
		}
	}
}

func (c *Controller) startCalibrationLocked(u *unit, desc actuator.Descriptor, now time.Time) error {
	start, err := u.fsm.StartCalibration(now)
	if err != nil {
		return err
	}
	if err := c.sender.Send(context.Background(), desc.ID, start.Value, actuator.LevelSafety); err != nil {
		log.Error().Err(err).Str("actuator", desc.ID).Msg("Bus send failed, calibration not started")
		_, _ = u.fsm.Freeze(now)
		u.fsm.MarkStale()
		return err
	}
	c.publishCommand(desc.ID, start.Value, actuator.LevelSafety)
	c.armMotionTimersLocked(u, desc, start.Duration)
	c.persistLocked(desc.ID, u)
	c.publishTransition(desc.ID, u.fsm.State(), "calibrating")
	log.Info().
		Str("actuator", desc.ID).
		Dur("travel", start.Duration).
		Msg("Calibration started")
	return nil
}

// SweepQueues discards queued jobs past their TTL. Called periodically.
func (c *Controller) SweepQueues() {
	now := c.clk.Now()
	for _, u := range c.units {
		u.wait.Sweep(now)
	}
}

// States returns a copy of every actuator's current state.
func (c *Controller) States() map[string]actuator.State {
	out := make(map[string]actuator.State, len(c.units))
	for id, u := range c.units {
		u.mu.Lock()
		out[id] = u.fsm.State()
		u.mu.Unlock()
	}
	return out
}

// Shutdown stops every moving actuator (OFF on the wire, estimate frozen)
// and finalizes the snapshot as a clean shutdown.
func (c *Controller) Shutdown() {
	c.stopMu.Lock()
	if c.stopped {
		c.stopMu.Unlock()
		return
	}
	c.stopped = true
	c.stopMu.Unlock()

	now := c.clk.Now()
	for id, u := range c.units {
		u.mu.Lock()
		st := u.fsm.State()
		if st.Phase == actuator.PhaseMoving || st.Phase == actuator.PhaseCalibrating {
			c.cancelTimersLocked(u)
			if st.Phase == actuator.PhaseCalibrating {
				u.fsm.MarkStale()
			}
			if _, err := u.fsm.Freeze(now); err == nil {
				c.sendOff(id, actuator.LevelSafety)
				c.persistLocked(id, u)
				log.Info().Str("actuator", id).Msg("Stopped motion for shutdown")
			}
		}
		u.mu.Unlock()
	}

	if err := c.store.Finalize(); err != nil {
		log.Error().Err(err).Msg("Failed to finalize state snapshot")
	}
}

// cancelTimersLocked stops every armed timer and invalidates in-flight fires.
func (c *Controller) cancelTimersLocked(u *unit) {
	u.gen++
	for _, t := range []clock.Timer{u.motionTimer, u.preTimer, u.coolTimer, u.watchdog} {
		if t != nil {
			t.Stop()
		}
	}
	u.motionTimer, u.preTimer, u.coolTimer, u.watchdog = nil, nil, nil, nil
}

// sendOff emits the de-energise command. A failed OFF is logged but the
// state machine proceeds as stopped: the wire is fire-and-forget and the
// far side enforces its own limits.
func (c *Controller) sendOff(id string, level actuator.Level) {
	if level == 0 {
		level = actuator.LevelSafety
	}
	if err := c.sender.Send(context.Background(), id, actuator.WireOff, level); err != nil {
		log.Error().Err(err).Str("actuator", id).Msg("Bus send failed for OFF")
		c.events.Publish(eventbus.Event{
			Type: eventbus.EventTypeFault,
			Data: map[string]interface{}{"actuator": id, "kind": "BUS_IO"},
		})
	} else {
		c.publishCommand(id, actuator.WireOff, level)
	}
}

// persistLocked writes the post-transition state through to the snapshot.
// A failed write is logged and retried at the next transition.
func (c *Controller) persistLocked(id string, u *unit) {
	if err := c.store.Put(id, u.fsm.State()); err != nil {
		log.Error().Err(err).Str("actuator", id).Msg("State persist failed")
		c.events.Publish(eventbus.Event{
			Type: eventbus.EventTypeFault,
			Data: map[string]interface{}{"actuator": id, "kind": "PERSIST_IO"},
		})
	}
}

func (c *Controller) publishTransition(id string, st actuator.State, what string) {
	c.events.Publish(eventbus.Event{
		Type: eventbus.EventTypeTransition,
		Data: map[string]interface{}{
			"actuator":  id,
			"event":     what,
			"phase":     st.Phase.String(),
			"position":  st.Position,
			"direction": st.LastDirection.String(),
			"level":     int(st.CurrentLevel),
		},
	})
}

func (c *Controller) publishCommand(id, value string, level actuator.Level) {
	c.events.Publish(eventbus.Event{
		Type: eventbus.EventTypeCommand,
		Data: map[string]interface{}{
			"actuator": id,
			"value":    value,
			"level":    int(level),
		},
	})
}

// validateTarget applies the caller-facing range checks.
func validateTarget(desc actuator.Descriptor, intent Intent) error {
	switch intent.TargetKind {
	case actuator.TargetPercent:
		if intent.TargetPct < 0 || intent.TargetPct > 100 {
			return errors.New("percent out of range")
		}
		if desc.Kind != actuator.KindDuration || !desc.HasLimit {
			return errors.New("percent target needs a position-tracked actuator")
		}
	case actuator.TargetSeconds:
		if intent.RunFor <= 0 {
			return errors.New("seconds must be positive")
		}
		if desc.Kind == actuator.KindDuration && desc.HasLimit {
			return errors.New("seconds target on position-tracked actuator")
		}
	case actuator.TargetBinary:
		// Binary ON only makes sense on switches; binary OFF doubles as
		// the stop command for anything.
		if intent.On && desc.Kind != actuator.KindOnOff {
			return errors.New("binary target on duration actuator")
		}
	default:
		return errors.New("unknown target kind")
	}
	return nil
}

// isStop reports whether the intent is an OFF of a duration actuator, which
// is handled as "stop the motor", not as a motion job.
func isStop(desc actuator.Descriptor, job actuator.Job) bool {
	return job.TargetKind == actuator.TargetBinary && !job.On && desc.Kind == actuator.KindDuration
}

func parseDirection(s string) actuator.Direction {
	switch s {
	case "open":
		return actuator.DirectionOpen
	case "close":
		return actuator.DirectionClose
	default:
		return actuator.DirectionNone
	}
}
