package driver

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Factory creates a source for one device. device is source specific: a V4L2
// path for cameras, a display index for screens.
type Factory func(device string, p Property) (Source, error)

// FilterFn filters drivers by Info.
type FilterFn func(Info) bool

type manager struct {
	mu        sync.RWMutex
	factories map[string]registration
}

type registration struct {
	factory    Factory
	deviceType DeviceType
}

// Manager is a singleton holding the registered source kinds
var Manager = &manager{
	factories: make(map[string]registration),
}

// Register makes a source kind available under name. Source packages call it
// from init.
func (m *manager) Register(name string, t DeviceType, f Factory) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.factories[name] = registration{factory: f, deviceType: t}
}

// Kinds lists the registered source kinds whose device type passes filter, in
// lexical order. A nil filter lists everything.
func (m *manager) Kinds(filter FilterFn) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	kinds := make([]string, 0, len(m.factories))
	for name, r := range m.factories {
		if filter == nil || filter(Info{Label: name, DeviceType: r.deviceType}) {
			kinds = append(kinds, name)
		}
	}
	sort.Strings(kinds)
	return kinds
}

// New builds a source of the given kind, wrapped for state tracking. The
// source is not opened yet.
func (m *manager) New(kind, device string, p Property) (Driver, error) {
	m.mu.RLock()
	r, ok := m.factories[kind]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("driver: unknown source %q, have %s", kind, strings.Join(m.Kinds(nil), ", "))
	}

	s, err := r.factory(device, p)
	if err != nil {
		return nil, err
	}
	return wrapSource(s), nil
}

// FilterDeviceType keeps drivers of type t.
func FilterDeviceType(t DeviceType) FilterFn {
	return func(i Info) bool {
		return i.DeviceType == t
	}
}

// FilterNot negates filter.
func FilterNot(filter FilterFn) FilterFn {
	return func(i Info) bool {
		return !filter(i)
	}
}

// FilterAnd is true when every filter is.
func FilterAnd(filters ...FilterFn) FilterFn {
	return func(i Info) bool {
		for _, filter := range filters {
			if !filter(i) {
				return false
			}
		}
		return true
	}
}
