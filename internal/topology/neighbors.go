// Package topology implements neighbor lookup over the link graph and
// text search over device configurations.
package topology

import (
	"github.com/netfabd/netfabd/internal/model"
	"github.com/netfabd/netfabd/internal/storage"
)

// Direction restricts which link endpoint the device may occupy.
type Direction string

const (
	DirectionSource      Direction = "source"
	DirectionDestination Direction = "destination"
	DirectionBoth        Direction = "both"
)

// NeighborLinks returns the links incident to the device in the given
// direction whose properties equal every entry of linkFilters.
func NeighborLinks(store storage.Store, device *model.Device, direction Direction, linkFilters map[string]string) ([]model.Link, error) {
	links, err := store.ListDeviceLinks(device.ID)
	if err != nil {
		return nil, err
	}

	var matched []model.Link
	for _, link := range links {
		switch direction {
		case DirectionSource:
			if link.SourceID != device.ID {
				continue
			}
		case DirectionDestination:
			if link.DestID != device.ID {
				continue
			}
		}
		if !linkMatches(&link, linkFilters) {
			continue
		}
		matched = append(matched, link)
	}
	return matched, nil
}

// NeighborDevices returns the distinct opposite endpoints of the
// matching links. A neighbor reachable over parallel links appears
// once, and the device itself never appears even on a self-loop.
func NeighborDevices(store storage.Store, device *model.Device, direction Direction, linkFilters map[string]string) ([]model.Device, error) {
	links, err := NeighborLinks(store, device, direction, linkFilters)
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{device.ID: true}
	var neighbors []model.Device
	for _, link := range links {
		for _, endpointID := range []string{link.SourceID, link.DestID} {
			if seen[endpointID] {
				continue
			}
			seen[endpointID] = true
			neighbor, err := store.GetDevice(endpointID)
			if err != nil {
				return nil, err
			}
			neighbors = append(neighbors, *neighbor)
		}
	}
	return neighbors, nil
}

func linkMatches(link *model.Link, filters map[string]string) bool {
	for property, want := range filters {
		got, ok := link.Property(property)
		if !ok || got != want {
			return false
		}
	}
	return true
}
