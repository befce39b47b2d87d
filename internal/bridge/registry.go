// Package bridge implements the UDP command and telemetry endpoint used to
// exchange numeric data with a FlightGear/JSBSim flight-dynamics simulator.
//
// Each Endpoint pairs one inbound socket (simulator state) with one outbound
// socket (control commands) for a single simulated vehicle. Outbound values
// are named fields mapped to fixed wire positions by a FieldRegistry and
// transformed as scale*(setpoint+bias) before transmission.
package bridge

import (
	"fmt"
	"strings"
)

// FieldRegistry maps field names to dense wire-position indices. Indices are
// assigned in protocol-description order at construction and the registry is
// immutable afterwards, so lookups are safe from any goroutine.
type FieldRegistry struct {
	names   []string
	indices map[string]int
}

// NewFieldRegistry builds a registry from an ordered field list, typically
// the chunk names of a generic-protocol description. Duplicate or empty
// names are construction errors.
func NewFieldRegistry(fields []string) (*FieldRegistry, error) {
	r := &FieldRegistry{
		names:   make([]string, 0, len(fields)),
		indices: make(map[string]int, len(fields)),
	}
	for _, name := range fields {
		if strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("field %d: empty name", len(r.names))
		}
		if _, ok := r.indices[name]; ok {
			return nil, fmt.Errorf("duplicate field name %q", name)
		}
		r.indices[name] = len(r.names)
		r.names = append(r.names, name)
	}
	return r, nil
}

// Len returns the number of registered fields.
func (r *FieldRegistry) Len() int { return len(r.names) }

// Names returns the registered field names in wire order.
func (r *FieldRegistry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Has reports whether name was registered. It never fails.
func (r *FieldRegistry) Has(name string) bool {
	_, ok := r.indices[name]
	return ok
}

// IndexOf resolves a field name to its wire-position index. Unregistered
// names return an UnknownFieldError; there is no default index.
func (r *FieldRegistry) IndexOf(name string) (int, error) {
	i, ok := r.indices[name]
	if !ok {
		return 0, &UnknownFieldError{Name: name}
	}
	return i, nil
}
