package rules

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/yasunorioi/uecs-actuatord/internal/actuator"
	"github.com/yasunorioi/uecs-actuatord/internal/control"
)

// fakeSubmitter records intents without a real controller.
type fakeSubmitter struct {
	intents []control.Intent
	states  map[string]actuator.State
}

func (f *fakeSubmitter) Submit(intent control.Intent) control.Result {
	f.intents = append(f.intents, intent)
	return control.Result{Disposition: control.DispositionAccepted, JobID: "job-1"}
}

func (f *fakeSubmitter) States() map[string]actuator.State { return f.states }

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.lua")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRuleSubmitsIntent(t *testing.T) {
	sub := &fakeSubmitter{states: map[string]actuator.State{
		"VenSdWin": {Position: 10, Phase: actuator.PhaseIdle},
	}}

	script := writeScript(t, `
rule("open_window", function()
  local st = state("VenSdWin")
  if st ~= nil and st.phase == "idle" and st.position < 50 then
    submit{actuator = "VenSdWin", percent = 50, origin = "rule:open_window"}
  end
end)
`)

	e := New(sub, script, time.Minute)
	if err := e.Load(); err != nil {
		t.Fatal(err)
	}
	defer e.Close()

	e.runAll()

	if len(sub.intents) != 1 {
		t.Fatalf("intents = %d, want 1", len(sub.intents))
	}
	intent := sub.intents[0]
	if intent.ActuatorID != "VenSdWin" || intent.TargetPct != 50 {
		t.Errorf("intent = %+v", intent)
	}
	if intent.Level != actuator.LevelAutomatic {
		t.Errorf("rules must submit at L4, got %d", intent.Level)
	}
	if intent.Origin != "rule:open_window" {
		t.Errorf("origin = %q", intent.Origin)
	}
}

func TestSecondsAndBinaryTargets(t *testing.T) {
	sub := &fakeSubmitter{states: map[string]actuator.State{}}
	script := writeScript(t, `
rule("water", function()
  submit{actuator = "Irri", seconds = 300}
end)
rule("fan_on", function()
  submit{actuator = "VenFan", on = true}
end)
`)

	e := New(sub, script, time.Minute)
	if err := e.Load(); err != nil {
		t.Fatal(err)
	}
	defer e.Close()

	e.runAll()

	if len(sub.intents) != 2 {
		t.Fatalf("intents = %d, want 2", len(sub.intents))
	}
	if sub.intents[0].TargetKind != actuator.TargetSeconds || sub.intents[0].RunFor != 300*time.Second {
		t.Errorf("seconds intent = %+v", sub.intents[0])
	}
	if sub.intents[1].TargetKind != actuator.TargetBinary || !sub.intents[1].On {
		t.Errorf("binary intent = %+v", sub.intents[1])
	}
	if sub.intents[0].Origin != "rules" {
		t.Errorf("default origin = %q, want rules", sub.intents[0].Origin)
	}
}

func TestFailingRuleDoesNotStopOthers(t *testing.T) {
	sub := &fakeSubmitter{states: map[string]actuator.State{}}
	script := writeScript(t, `
rule("broken", function()
  error("boom")
end)
rule("working", function()
  submit{actuator = "VenFan", on = false}
end)
`)

	e := New(sub, script, time.Minute)
	if err := e.Load(); err != nil {
		t.Fatal(err)
	}
	defer e.Close()

	e.runAll()

	if len(sub.intents) != 1 {
		t.Fatalf("intents = %d, want 1 (working rule still ran)", len(sub.intents))
	}
}

func TestLoadFailsOnBadScript(t *testing.T) {
	e := New(&fakeSubmitter{}, writeScript(t, `rule(`), time.Minute)
	if err := e.Load(); err == nil {
		t.Error("Load must fail on a syntax error")
	}
}
