// Package registry loads and validates the actuator descriptor table.
// Validation failures are fatal at startup, never at runtime.
package registry

import (
	"fmt"
	"sort"

	"github.com/yasunorioi/uecs-actuatord/internal/actuator"
	"github.com/yasunorioi/uecs-actuatord/internal/config"
)

// Registry answers "what kind is X, what are its limits".
type Registry struct {
	descriptors map[string]actuator.Descriptor
}

// Build constructs a registry from configuration, validating every entry.
func Build(entries []config.ActuatorConfig) (*Registry, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("no actuators configured")
	}

	descriptors := make(map[string]actuator.Descriptor, len(entries))
	for _, e := range entries {
		desc, err := fromConfig(e)
		if err != nil {
			return nil, fmt.Errorf("actuator %q: %w", e.ID, err)
		}
		if _, dup := descriptors[desc.ID]; dup {
			return nil, fmt.Errorf("actuator %q: duplicate id", desc.ID)
		}
		descriptors[desc.ID] = desc
	}

	return &Registry{descriptors: descriptors}, nil
}

func fromConfig(e config.ActuatorConfig) (actuator.Descriptor, error) {
	var zero actuator.Descriptor

	if e.ID == "" {
		return zero, fmt.Errorf("missing id")
	}

	desc := actuator.Descriptor{
		ID:              e.ID,
		FullOpen:        e.FullOpen.Duration(),
		FullClose:       e.FullClose.Duration(),
		MaxDuration:     e.MaxDuration.Duration(),
		HasLimit:        e.HasLimit,
		Cooling:         e.Cooling.Duration(),
		ReversalCooling: e.ReversalCooling.Duration(),
		RoofWindow:      e.RoofWindow,
	}

	switch e.Kind {
	case "duration":
		desc.Kind = actuator.KindDuration
	case "onoff":
		desc.Kind = actuator.KindOnOff
	default:
		return zero, fmt.Errorf("unknown kind %q", e.Kind)
	}

	if desc.Cooling < 0 || desc.ReversalCooling < 0 || desc.MaxDuration < 0 {
		return zero, fmt.Errorf("negative duration")
	}

	switch desc.Kind {
	case actuator.KindDuration:
		if desc.HasLimit {
			if desc.FullOpen <= 0 || desc.FullClose <= 0 {
				return zero, fmt.Errorf("duration actuator needs positive full_open and full_close")
			}
		} else if desc.MaxDuration <= 0 {
			// No mechanical stop means nothing but the clock bounds the
			// motor; the cap is mandatory.
			return zero, fmt.Errorf("actuator without a physical limit needs max_duration")
		}
		if desc.ReversalCooling < desc.Cooling {
			desc.ReversalCooling = desc.Cooling
		}
	case actuator.KindOnOff:
		if desc.FullOpen != 0 || desc.FullClose != 0 {
			return zero, fmt.Errorf("onoff actuator must not set travel times")
		}
	}

	return desc, nil
}

// Describe returns the descriptor for id.
func (r *Registry) Describe(id string) (actuator.Descriptor, bool) {
	desc, ok := r.descriptors[id]
	return desc, ok
}

// IDs returns all actuator ids, sorted for stable iteration.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.descriptors))
	for id := range r.descriptors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// All returns every descriptor, sorted by id.
func (r *Registry) All() []actuator.Descriptor {
	out := make([]actuator.Descriptor, 0, len(r.descriptors))
	for _, id := range r.IDs() {
		out = append(out, r.descriptors[id])
	}
	return out
}
