// Package bundle maintains the persisted mapping from YubiKey serial
// numbers to the envelopes they protect, with pluggable persistence
// backends behind the Persistence interface.
package bundle

import (
	"sort"

	"github.com/clwhipp/yubikey-utils/internal/envelope"
)

// FormatVersion is the current persisted store format version.
const FormatVersion = 1

// DeviceInfo summarizes one registered device for listing.
type DeviceInfo struct {
	Serial   string
	Contexts []string
}

// Store is the in-memory bundle: each device serial maps to an ordered
// sequence of envelopes. The store itself does not enforce context
// uniqueness per device; that policy belongs to the workflow layer.
type Store struct {
	devices map[string][]envelope.Envelope
	// order preserves first-registration order of serials for stable
	// enumeration and serialization.
	order []string
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{devices: make(map[string][]envelope.Envelope)}
}

// Insert appends an envelope to the device's sequence. It never
// deduplicates by context.
func (s *Store) Insert(serial string, env envelope.Envelope) {
	if _, ok := s.devices[serial]; !ok {
		s.order = append(s.order, serial)
	}
	s.devices[serial] = append(s.devices[serial], env)
}

// Lookup returns the envelope for (serial, context). When several
// envelopes match the context, the most-recently-inserted one wins; older
// matches are never consulted.
func (s *Store) Lookup(serial, context string) (envelope.Envelope, bool) {
	envs := s.devices[serial]
	for i := len(envs) - 1; i >= 0; i-- {
		if envs[i].Context == context {
			return envs[i], true
		}
	}
	return envelope.Envelope{}, false
}

// Contains reports whether any envelope exists for (serial, context).
func (s *Store) Contains(serial, context string) bool {
	_, ok := s.Lookup(serial, context)
	return ok
}

// ReplaceContext removes every envelope matching context for the device
// and appends env in their place.
func (s *Store) ReplaceContext(serial, context string, env envelope.Envelope) {
	envs := s.devices[serial]
	kept := envs[:0]
	for _, e := range envs {
		if e.Context != context {
			kept = append(kept, e)
		}
	}
	s.devices[serial] = kept
	s.Insert(serial, env)
}

// Remove deletes the entire entry for a device. Removal is
// device-granular: all of the device's envelopes go with it. Reports
// whether the device was present.
func (s *Store) Remove(serial string) bool {
	if _, ok := s.devices[serial]; !ok {
		return false
	}
	delete(s.devices, serial)
	for i, sn := range s.order {
		if sn == serial {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// Devices enumerates registered devices and their contexts, sorted by
// serial. Contexts appear in envelope insertion order.
func (s *Store) Devices() []DeviceInfo {
	infos := make([]DeviceInfo, 0, len(s.devices))
	for serial, envs := range s.devices {
		contexts := make([]string, len(envs))
		for i, e := range envs {
			contexts[i] = e.Context
		}
		infos = append(infos, DeviceInfo{Serial: serial, Contexts: contexts})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Serial < infos[j].Serial })
	return infos
}

// Envelopes returns the device's envelope sequence in insertion order.
func (s *Store) Envelopes(serial string) []envelope.Envelope {
	return s.devices[serial]
}

// Merge imports envelopes from other, skipping any (serial, context) pair
// already present so existing enrollments stay authoritative.
func (s *Store) Merge(other *Store) {
	for _, serial := range other.serials() {
		for _, env := range other.devices[serial] {
			if s.Contains(serial, env.Context) {
				continue
			}
			s.Insert(serial, env)
		}
	}
}

// Empty reports whether the store holds no devices.
func (s *Store) Empty() bool {
	return len(s.devices) == 0
}

// serials returns device serials in first-registration order.
func (s *Store) serials() []string {
	return s.order
}
