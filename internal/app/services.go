package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/yasunorioi/uecs-actuatord/internal/api"
	"github.com/yasunorioi/uecs-actuatord/internal/bus"
	"github.com/yasunorioi/uecs-actuatord/internal/ccm"
	"github.com/yasunorioi/uecs-actuatord/internal/clock"
	"github.com/yasunorioi/uecs-actuatord/internal/config"
	"github.com/yasunorioi/uecs-actuatord/internal/control"
	"github.com/yasunorioi/uecs-actuatord/internal/db"
	"github.com/yasunorioi/uecs-actuatord/internal/eventbus"
	"github.com/yasunorioi/uecs-actuatord/internal/guard"
	"github.com/yasunorioi/uecs-actuatord/internal/ledger"
	"github.com/yasunorioi/uecs-actuatord/internal/mqtt"
	"github.com/yasunorioi/uecs-actuatord/internal/registry"
	"github.com/yasunorioi/uecs-actuatord/internal/rules"
	"github.com/yasunorioi/uecs-actuatord/internal/sched"
	"github.com/yasunorioi/uecs-actuatord/internal/statestore"
)

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	DB       *db.DB
	Ledger   *ledger.Ledger
	Store    *statestore.Store
	Registry *registry.Registry
	Guard    *guard.Guard
	Events   *eventbus.Bus

	// Transport
	Sender   *ccm.Sender
	Receiver *ccm.Receiver

	// Control core
	Controller *control.Controller

	// Optional surfaces
	API   *api.Server
	MQTT  mqtt.Publisher
	Rules *rules.Engine

	calibration *sched.Daily
	uncleanBoot bool
}

// NewServices creates all services with proper dependency injection.
func NewServices(cfg *config.Config) (*Services, error) {
	s := &Services{cfg: cfg}

	// Registry first: bad descriptors are fatal before anything runs.
	reg, err := registry.Build(cfg.Actuators)
	if err != nil {
		return nil, err
	}
	s.Registry = reg

	// Audit database
	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	s.DB = database
	s.Ledger = ledger.New(database.DB)

	// Persisted position snapshot
	store, snap, err := statestore.Open(cfg.State.Path)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.Store = store
	s.uncleanBoot = !snap.Clean
	if s.uncleanBoot {
		log.Warn().Msg("State snapshot from unclean shutdown, positions are stale")
	}

	s.Guard = guard.New()
	s.Events = eventbus.New()

	// Multicast transport
	sender, err := ccm.NewSender(ccm.SenderOptions{
		Room:            cfg.Bus.Room,
		Region:          cfg.Bus.Region,
		Order:           cfg.Bus.Order,
		MinSendInterval: cfg.Bus.MinSendInterval.Duration(),
		Retransmit:      cfg.Bus.Retransmit,
		RetransmitGap:   cfg.Bus.RetransmitGap.Duration(),
	})
	if err != nil {
		s.Close()
		return nil, err
	}
	s.Sender = sender

	// Control core
	s.Controller = control.New(
		reg, store, snap,
		bus.NewCCMSender(sender, cfg.Bus.Suffixes),
		s.Guard, s.Events, clock.Real{},
		control.Options{
			QueueDepth: cfg.Queue.Depth,
			QueueTTL:   cfg.Queue.TTL.Duration(),
		},
	)

	// Receiver feeds weather and operational-status readings to the core.
	receiver, err := ccm.NewReceiver(cfg.Bus.Interface, func(pkt ccm.Packet) {
		s.Controller.IntakeReading(pkt, s.Guard)
	})
	if err != nil {
		s.Close()
		return nil, err
	}
	s.Receiver = receiver

	s.calibration = sched.NewDaily(cfg.Calibration.DailyResetHour, cfg.Calibration.Timezone)

	// Observers
	s.wireLedger()
	if cfg.MQTT.Enabled {
		pub, err := mqtt.NewRealPublisher(cfg.MQTT.Broker, cfg.MQTT.ClientID, cfg.MQTT.TopicPrefix)
		if err != nil {
			// The broker being down must not keep the greenhouse offline.
			log.Error().Err(err).Msg("MQTT connect failed, status publishing disabled")
		} else {
			s.MQTT = pub
			s.wireMQTT()
		}
	}

	if cfg.API.Enabled {
		s.API = api.NewServer(cfg.API.Host, cfg.API.Port, s.Controller, reg, receiver)
	}

	if cfg.Rules.Enabled {
		s.Rules = rules.New(s.Controller, cfg.Rules.Script, cfg.Rules.Tick.Duration())
		if err := s.Rules.Load(); err != nil {
			s.Close()
			return nil, err
		}
	}

	return s, nil
}

// Start starts all services in the correct order.
func (s *Services) Start(ctx context.Context, onFatalError func(error)) error {
	go func() {
		if err := s.Receiver.Run(ctx); err != nil {
			onFatalError(err)
		}
	}()

	if s.API != nil {
		go func() {
			if err := s.API.Run(ctx, s.cfg.ShutdownTimeout.Duration()); err != nil {
				onFatalError(err)
			}
		}()
	}

	if s.Rules != nil {
		go s.Rules.Run(ctx)
	}

	// Startup calibration: configured, or forced by an unclean snapshot.
	if s.cfg.Calibration.OnStartup || s.uncleanBoot {
		log.Info().Bool("unclean_boot", s.uncleanBoot).Msg("Running startup calibration")
		s.Controller.CalibrateAll()
	}

	// Daily calibration reset.
	go s.calibration.Run(ctx, func() {
		log.Info().Int("hour", s.cfg.Calibration.DailyResetHour).Msg("Daily calibration reset")
		s.Controller.CalibrateAll()
	})

	// Queue TTL sweep and ledger retention.
	go s.runHousekeeping(ctx)

	return nil
}

// runHousekeeping sweeps expired queue entries and prunes the ledger.
func (s *Services) runHousekeeping(ctx context.Context) {
	sweep := time.NewTicker(30 * time.Second)
	defer sweep.Stop()
	cleanup := time.NewTicker(s.cfg.Database.CleanupInterval.Duration())
	defer cleanup.Stop()

	retention := time.Duration(s.cfg.Database.RetentionDays) * 24 * time.Hour

	for {
		select {
		case <-ctx.Done():
			return
		case <-sweep.C:
			s.Controller.SweepQueues()
		case <-cleanup.C:
			deleted, err := s.Ledger.DeleteOlderThan(retention)
			if err != nil {
				log.Error().Err(err).Msg("Failed to cleanup old ledger entries")
			} else if deleted > 0 {
				log.Info().Int64("deleted", deleted).Msg("Cleaned up old ledger entries")
			}
		}
	}
}

// wireLedger appends every published event to the audit history.
func (s *Services) wireLedger() {
	for _, eventType := range []eventbus.EventType{
		eventbus.EventTypeTransition,
		eventbus.EventTypeCommand,
		eventbus.EventTypeFault,
		eventbus.EventTypeDivergence,
	} {
		et := eventType
		s.Events.Subscribe(et, func(event eventbus.Event) {
			id, _ := event.Data["actuator"].(string)
			if err := s.Ledger.Append(string(et), id, event.Data); err != nil {
				log.Error().Err(err).Str("event_type", string(et)).Msg("Ledger append failed")
			}
		})
	}
}

// wireMQTT mirrors transitions and faults to the broker.
func (s *Services) wireMQTT() {
	for _, eventType := range []eventbus.EventType{
		eventbus.EventTypeTransition,
		eventbus.EventTypeFault,
		eventbus.EventTypeDivergence,
	} {
		et := eventType
		s.Events.Subscribe(et, func(event eventbus.Event) {
			id, _ := event.Data["actuator"].(string)
			err := s.MQTT.Publish(mqtt.Event{
				Timestamp: time.Now(),
				Actuator:  id,
				Kind:      string(et),
				Fields:    event.Data,
			})
			if err != nil {
				log.Warn().Err(err).Msg("MQTT publish failed")
			}
		})
	}
}

// Stop gracefully stops all services.
func (s *Services) Stop() error {
	// Stop motors first, then observers, then storage.
	if s.Controller != nil {
		s.Controller.Shutdown()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout.Duration())
	defer cancel()
	if s.Events != nil {
		s.Events.Close(shutdownCtx)
	}

	s.Close()
	return nil
}

// Close releases all resources.
func (s *Services) Close() {
	if s.Rules != nil {
		s.Rules.Close()
	}
	if s.MQTT != nil {
		s.MQTT.Close()
	}
	if s.Sender != nil {
		s.Sender.Close()
	}
	if s.DB != nil {
		s.DB.Close()
	}
}
