package bus

import (
	"context"
	"testing"

	"github.com/yasunorioi/uecs-actuatord/internal/actuator"
	"github.com/yasunorioi/uecs-actuatord/internal/config"
)

type recordedFrame struct {
	ccmType  string
	value    string
	priority int
}

type fakeFrameSender struct {
	frames []recordedFrame
}

func (f *fakeFrameSender) Send(_ context.Context, ccmType, value string, priority int) error {
	f.frames = append(f.frames, recordedFrame{ccmType, value, priority})
	return nil
}

func (f *fakeFrameSender) Close() error { return nil }

func TestLevelMapping(t *testing.T) {
	frames := &fakeFrameSender{}
	sender := NewCCMSender(frames, config.SuffixConfig{L1: "", L2: "rcA", L3: "rcM", L4: "rcA"})

	tests := []struct {
		level    actuator.Level
		wantType string
		wantPrio int
	}{
		{actuator.LevelEmergency, "VenSdWin", 1},
		{actuator.LevelSafety, "VenSdWinrcA", 5},
		{actuator.LevelManual, "VenSdWinrcM", 10},
		{actuator.LevelAutomatic, "VenSdWinrcA", 20},
	}

	for _, tt := range tests {
		if err := sender.Send(context.Background(), "VenSdWin", "1", tt.level); err != nil {
			t.Fatal(err)
		}
		got := frames.frames[len(frames.frames)-1]
		if got.ccmType != tt.wantType {
			t.Errorf("level %d: type = %q, want %q", tt.level, got.ccmType, tt.wantType)
		}
		if got.priority != tt.wantPrio {
			t.Errorf("level %d: priority = %d, want %d", tt.level, got.priority, tt.wantPrio)
		}
	}
}
