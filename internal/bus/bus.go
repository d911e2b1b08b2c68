// Package bus is the control core's view of the UECS-CCM transport: a send
// sink for actuator commands and a stream of operational-status readings.
// The core never assumes delivery; the wire is fire-and-forget.
package bus

import (
	"context"

	"github.com/yasunorioi/uecs-actuatord/internal/actuator"
	"github.com/yasunorioi/uecs-actuatord/internal/config"
)

// Sender emits one logical actuator command. Implementations retransmit
// internally and keep one command's burst atomic with respect to others.
type Sender interface {
	Send(ctx context.Context, actuatorID, value string, level actuator.Level) error
	Close() error
}

// FrameSender is the wire-level sender underneath: raw CCM type, value and
// priority. Implemented by ccm.Sender.
type FrameSender interface {
	Send(ctx context.Context, ccmType, value string, priority int) error
	Close() error
}

// CCMSender maps core commands onto UECS-CCM frames: the actuator id gains
// the per-level suffix and the level's CCM priority.
type CCMSender struct {
	sender   FrameSender
	suffixes config.SuffixConfig
}

// NewCCMSender wraps a frame sender with the level mapping.
func NewCCMSender(sender FrameSender, suffixes config.SuffixConfig) *CCMSender {
	return &CCMSender{sender: sender, suffixes: suffixes}
}

// Send implements Sender.
func (s *CCMSender) Send(ctx context.Context, actuatorID, value string, level actuator.Level) error {
	return s.sender.Send(ctx, actuatorID+s.suffix(level), value, level.SendPriority())
}

// Close implements Sender.
func (s *CCMSender) Close() error {
	return s.sender.Close()
}

func (s *CCMSender) suffix(level actuator.Level) string {
	switch level {
	case actuator.LevelEmergency:
		return s.suffixes.L1
	case actuator.LevelSafety:
		return s.suffixes.L2
	case actuator.LevelManual:
		return s.suffixes.L3
	case actuator.LevelAutomatic:
		return s.suffixes.L4
	default:
		return s.suffixes.L4
	}
}
