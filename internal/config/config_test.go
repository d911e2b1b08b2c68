package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const minimalConfig = `
actuators:
  - id: VenSdWin
    kind: duration
    full_open: 60s
    full_close: 55s
    has_limit: true
    cooling: 5s
    reversal_cooling: 10s
  - id: Irri
    kind: duration
    max_duration: 1h
    cooling: 3s
calibration:
  daily_reset_hour: 0
  on_startup: true
`

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatal(err)
	}

	if len(cfg.Actuators) != 2 {
		t.Fatalf("actuators = %d, want 2", len(cfg.Actuators))
	}
	if cfg.Actuators[0].FullOpen.Duration() != 60*time.Second {
		t.Errorf("full_open = %s", cfg.Actuators[0].FullOpen.Duration())
	}

	// Defaults
	if cfg.Bus.Room != 1 || cfg.Bus.Retransmit != 3 {
		t.Errorf("bus defaults: room=%d retransmit=%d", cfg.Bus.Room, cfg.Bus.Retransmit)
	}
	if cfg.Bus.RetransmitGap.Duration() != 50*time.Millisecond {
		t.Errorf("retransmit_gap = %s", cfg.Bus.RetransmitGap.Duration())
	}
	if cfg.Bus.Suffixes.L3 != "rcM" || cfg.Bus.Suffixes.L2 != "rcA" || cfg.Bus.Suffixes.L1 != "" {
		t.Errorf("suffix defaults: %+v", cfg.Bus.Suffixes)
	}
	if cfg.Queue.Depth != 16 || cfg.Queue.TTL.Duration() != 5*time.Minute {
		t.Errorf("queue defaults: %+v", cfg.Queue)
	}
	if cfg.Log.GetLevel() != "info" {
		t.Errorf("log level = %q", cfg.Log.GetLevel())
	}
	if !cfg.Calibration.OnStartup {
		t.Error("on_startup lost")
	}
}

func TestLoadRejectsEmptyActuators(t *testing.T) {
	_, err := Load(writeConfig(t, `calibration: {daily_reset_hour: 0}`))
	if err == nil {
		t.Error("empty actuator list must fail")
	}
}

func TestLoadRejectsBadHour(t *testing.T) {
	cfg := `
actuators:
  - id: X
    kind: onoff
calibration:
  daily_reset_hour: 25
`
	if _, err := Load(writeConfig(t, cfg)); err == nil {
		t.Error("daily_reset_hour 25 must fail")
	}
}

func TestEnvExpansion(t *testing.T) {
	t.Setenv("ACTUATORD_STATE", "/var/lib/actuatord/state.json")

	cfg, err := Load(writeConfig(t, minimalConfig+`
state:
  path: ${ACTUATORD_STATE}
mqtt:
  broker: ${NO_SUCH_VAR:tcp://localhost:1883}
`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.State.Path != "/var/lib/actuatord/state.json" {
		t.Errorf("state path = %q", cfg.State.Path)
	}
	if cfg.MQTT.Broker != "tcp://localhost:1883" {
		t.Errorf("broker default = %q", cfg.MQTT.Broker)
	}
}

func TestDurationUnmarshal(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig+`
bus:
  min_send_interval: 1500ms
`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Bus.MinSendInterval.Duration() != 1500*time.Millisecond {
		t.Errorf("min_send_interval = %s", cfg.Bus.MinSendInterval.Duration())
	}
}
