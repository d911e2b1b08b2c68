// Package rules runs user automation scripts. A Lua script registers named
// rules; every tick each rule runs on the single VM and may submit intents
// at automatic (L4) priority, which travel the same arbitration path as
// every other caller.
package rules

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	glua "github.com/yuin/gopher-lua"

	"github.com/yasunorioi/uecs-actuatord/internal/actuator"
	"github.com/yasunorioi/uecs-actuatord/internal/control"
)

// Submitter is the slice of the controller the rules surface needs.
type Submitter interface {
	Submit(intent control.Intent) control.Result
	States() map[string]actuator.State
}

// Engine owns the Lua VM. gopher-lua states are not goroutine-safe; all
// execution happens on the tick goroutine.
type Engine struct {
	ctrl   Submitter
	script string
	tick   time.Duration

	state *glua.LState
	rules []rule
}

type rule struct {
	name string
	fn   *glua.LFunction
}

// New creates an engine for the given script path.
func New(ctrl Submitter, script string, tick time.Duration) *Engine {
	return &Engine{ctrl: ctrl, script: script, tick: tick}
}

// Load compiles the script and collects its rule registrations.
func (e *Engine) Load() error {
	L := glua.NewState()

	L.SetGlobal("rule", L.NewFunction(e.luaRule))
	L.SetGlobal("submit", L.NewFunction(e.luaSubmit))
	L.SetGlobal("state", L.NewFunction(e.luaState))
	L.SetGlobal("log_info", L.NewFunction(luaLogInfo))

	if err := L.DoFile(e.script); err != nil {
		L.Close()
		return fmt.Errorf("failed to load rules script: %w", err)
	}

	e.state = L
	log.Info().Str("script", e.script).Int("rules", len(e.rules)).Msg("Rules script loaded")
	return nil
}

// Run executes every rule once per tick until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.runAll()
		}
	}
}

// Close releases the VM.
func (e *Engine) Close() {
	if e.state != nil {
		e.state.Close()
	}
}

func (e *Engine) runAll() {
	for _, r := range e.rules {
		e.state.Push(r.fn)
		if err := e.state.PCall(0, 0, nil); err != nil {
			log.Error().Err(err).Str("rule", r.name).Msg("Rule failed")
		}
	}
}

// luaRule implements rule(name, fn).
func (e *Engine) luaRule(L *glua.LState) int {
	name := L.CheckString(1)
	fn := L.CheckFunction(2)
	e.rules = append(e.rules, rule{name: name, fn: fn})
	return 0
}

// luaSubmit implements submit{actuator=..., percent=|seconds=|on=, origin=...}.
// Returns disposition, reason.
func (e *Engine) luaSubmit(L *glua.LState) int {
	tbl := L.CheckTable(1)

	intent := control.Intent{
		ActuatorID: stringField(tbl, "actuator"),
		Level:      actuator.LevelAutomatic,
		Origin:     stringField(tbl, "origin"),
	}
	if intent.Origin == "" {
		intent.Origin = "rules"
	}

	switch {
	case tbl.RawGetString("percent") != glua.LNil:
		intent.TargetKind = actuator.TargetPercent
		intent.TargetPct = int(numberField(tbl, "percent"))
	case tbl.RawGetString("seconds") != glua.LNil:
		intent.TargetKind = actuator.TargetSeconds
		intent.RunFor = time.Duration(numberField(tbl, "seconds") * float64(time.Second))
	case tbl.RawGetString("on") != glua.LNil:
		intent.TargetKind = actuator.TargetBinary
		intent.On = glua.LVAsBool(tbl.RawGetString("on"))
	default:
		L.ArgError(1, "one of percent/seconds/on is required")
		return 0
	}

	res := e.ctrl.Submit(intent)
	L.Push(glua.LString(res.Disposition))
	L.Push(glua.LString(res.Reason))
	return 2
}

// luaState implements state(id) -> {position=, phase=, stale=} | nil.
func (e *Engine) luaState(L *glua.LState) int {
	id := L.CheckString(1)
	st, ok := e.ctrl.States()[id]
	if !ok {
		L.Push(glua.LNil)
		return 1
	}

	tbl := L.NewTable()
	tbl.RawSetString("position", glua.LNumber(st.Position))
	tbl.RawSetString("phase", glua.LString(st.Phase.String()))
	tbl.RawSetString("stale", glua.LBool(st.Stale))
	L.Push(tbl)
	return 1
}

func luaLogInfo(L *glua.LState) int {
	log.Info().Str("source", "rules").Msg(L.CheckString(1))
	return 0
}

func stringField(tbl *glua.LTable, key string) string {
	if v, ok := tbl.RawGetString(key).(glua.LString); ok {
		return string(v)
	}
	return ""
}

func numberField(tbl *glua.LTable, key string) float64 {
	if v, ok := tbl.RawGetString(key).(glua.LNumber); ok {
		return float64(v)
	}
	return 0
}
