package control

import (
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/yasunorioi/uecs-actuatord/internal/actuator"
	"github.com/yasunorioi/uecs-actuatord/internal/ccm"
	"github.com/yasunorioi/uecs-actuatord/internal/eventbus"
	"github.com/yasunorioi/uecs-actuatord/internal/guard"
)

// IntakeReading routes one received bus packet into the core: operational
// status readings feed the divergence check, rainfall readings drive the
// rain interlock. Everything else is ignored.
//
// The observed status is a corroborator only. It never rewrites the
// estimate; a contradiction is logged and published for operators.
func (c *Controller) IntakeReading(pkt ccm.Packet, g *guard.Guard) {
	if pkt.Type == "WRainfall" && pkt.Numeric {
		g.SetRain(pkt.Value > 0)
		return
	}

	id, ok := strings.CutSuffix(pkt.Type, "opr")
	if !ok || !pkt.Numeric {
		return
	}
	u, known := c.units[id]
	if !known {
		return
	}

	u.mu.Lock()
	st := u.fsm.State()
	u.mu.Unlock()

	observedOn := pkt.Value > 0
	expectedOn := st.Phase == actuator.PhaseMoving || st.Phase == actuator.PhaseCalibrating
	if u.fsm.Descriptor().Kind == actuator.KindOnOff {
		// A switched-on on/off actuator stays energised at 100 after its ON.
		expectedOn = st.Position == 100
	}

	if observedOn == expectedOn {
		return
	}

	log.Warn().
		Str("actuator", id).
		Bool("observed_on", observedOn).
		Str("phase", st.Phase.String()).
		Int("position", st.Position).
		Str("source", pkt.SourceIP).
		Msg("Operational status diverges from estimate")
	c.events.Publish(eventbus.Event{
		Type: eventbus.EventTypeDivergence,
		Data: map[string]interface{}{
			"actuator":    id,
			"observed_on": observedOn,
			"phase":       st.Phase.String(),
			"position":    st.Position,
		},
	})
}
