package bt

import (
	"strings"

	"github.com/lowaak/cable-trainer/internal/safe_map"
)

// MatchesNamePrefix reports whether an advertised name passes the discovery
// filter. An empty prefix matches every name.
func MatchesNamePrefix(name, prefix string) bool {
	return strings.HasPrefix(name, prefix)
}

// DiscoveryList is the deduplicated, insertion ordered set of peers whose
// advertised name matched the filter. Entries are never removed.
type DiscoveryList[D any] struct {
	prefix  string
	devices *safe_map.SafeMap[string, D]
}

func NewDiscoveryList[D any](namePrefix string) *DiscoveryList[D] {
	return &DiscoveryList[D]{
		prefix:  namePrefix,
		devices: safe_map.NewSafeMap[string, D](),
	}
}

// Observe records an advertisement. create is called only for the first
// matching advertisement of an address. It returns the stored device, whether
// it was added by this call and whether the name matched at all.
func (l *DiscoveryList[D]) Observe(address, name string, create func() D) (device D, added bool, matched bool) {
	if existing, ok := l.devices.Load(address); ok {
		return existing, false, true
	}
	if !MatchesNamePrefix(name, l.prefix) {
		var zero D
		return zero, false, false
	}
	device, loaded := l.devices.LoadOrStore(address, create)
	return device, !loaded, true
}

func (l *DiscoveryList[D]) Get(address string) (D, bool) {
	return l.devices.Load(address)
}

// Devices returns the discovered devices in discovery order.
func (l *DiscoveryList[D]) Devices() []D {
	return l.devices.Values()
}

func (l *DiscoveryList[D]) Len() int {
	return l.devices.Len()
}

func (l *DiscoveryList[D]) Prefix() string {
	return l.prefix
}
