// Package drivers maps a device's netconf_driver property to the
// dialer that opens sessions for it.
package drivers

import (
	"fmt"
	"sync"

	"github.com/netfabd/netfabd/internal/netconf"
)

// Registry holds the named dialer factories. A device selects its
// dialer through the netconf_driver property; "default" is the
// fallback for devices that do not name one.
type Registry struct {
	mu      sync.RWMutex
	dialers map[string]netconf.Dialer
}

var (
	registryInstance *Registry
	registryOnce     sync.Once
)

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{dialers: make(map[string]netconf.Dialer)}
}

// GetRegistry returns the singleton driver registry.
func GetRegistry() *Registry {
	registryOnce.Do(func() {
		registryInstance = NewRegistry()
	})
	return registryInstance
}

// Register installs a dialer under a driver name, replacing any
// previous registration.
func (r *Registry) Register(name string, dialer netconf.Dialer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dialers[name] = dialer
}

// Get returns the dialer registered for the driver name, falling back
// to "default" when the name is unknown or empty.
func (r *Registry) Get(name string) (netconf.Dialer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if dialer, ok := r.dialers[name]; ok {
		return dialer, nil
	}
	if dialer, ok := r.dialers["default"]; ok {
		return dialer, nil
	}
	return nil, fmt.Errorf("no dialer registered for driver %q", name)
}

// Names lists the registered driver names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.dialers))
	for name := range r.dialers {
		names = append(names, name)
	}
	return names
}
