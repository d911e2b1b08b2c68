// Package guard applies the absolute safety bounds that hold regardless of
// priority: duration caps on every energised interval and the rain interlock
// on roof openings. It runs after arbitration and before dispatch.
package guard

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/yasunorioi/uecs-actuatord/internal/actuator"
)

// Verdict is the guard's decision on a job about to be dispatched.
type Verdict int

const (
	// Allow passes the job through, possibly with a clamped duration.
	Allow Verdict = iota
	// RejectRain refuses an automatic roof opening while rain is detected.
	RejectRain
)

func (v Verdict) String() string {
	switch v {
	case Allow:
		return "allow"
	case RejectRain:
		return "reject_rain"
	default:
		return "unknown"
	}
}

// Guard holds the cross-cutting interlock state.
type Guard struct {
	mu   sync.RWMutex
	rain bool
}

// New creates a guard with no interlocks active.
func New() *Guard {
	return &Guard{}
}

// SetRain updates the rain interlock from the weather intake.
func (g *Guard) SetRain(active bool) {
	g.mu.Lock()
	changed := g.rain != active
	g.rain = active
	g.mu.Unlock()

	if changed {
		log.Info().Bool("active", active).Msg("Rain interlock changed")
	}
}

// Rain reports whether the rain interlock is active.
func (g *Guard) Rain() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.rain
}

// Check evaluates a job against the absolute bounds. The returned duration
// replaces job.RunFor for seconds-targeted jobs (it is the clamped value);
// for other targets it is zero and ignored.
func (g *Guard) Check(desc actuator.Descriptor, job actuator.Job) (Verdict, time.Duration) {
	// Rain interlock: automatic roof openings are refused while wet.
	// Manual and safety commands pass; the operator outranks the weather.
	if desc.RoofWindow && job.Level == actuator.LevelAutomatic && g.Rain() && opensRoof(job) {
		return RejectRain, 0
	}

	if job.TargetKind != actuator.TargetSeconds {
		return Allow, 0
	}

	dur := job.RunFor
	if desc.MaxDuration > 0 && dur > desc.MaxDuration {
		log.Warn().
			Str("actuator", desc.ID).
			Dur("requested", job.RunFor).
			Dur("clamped", desc.MaxDuration).
			Msg("Requested duration exceeds cap, clamping")
		dur = desc.MaxDuration
	}
	if mc := desc.MaxContinuous(); mc > 0 && dur > mc {
		dur = mc
	}
	return Allow, dur
}

func opensRoof(job actuator.Job) bool {
	switch job.TargetKind {
	case actuator.TargetPercent:
		return job.TargetPct > 0
	case actuator.TargetBinary:
		return job.On
	default:
		return true
	}
}
