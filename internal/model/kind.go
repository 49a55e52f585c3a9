// Package model defines the inventory entities, the poolable kinds and
// their filterable property sets.
package model

// Kind identifies one of the poolable entity kinds.
type Kind string

const (
	KindDevice  Kind = "device"
	KindLink    Kind = "link"
	KindService Kind = "service"
	KindUser    Kind = "user"
)

// Kinds lists every poolable kind, in membership-table order.
var Kinds = []Kind{KindDevice, KindLink, KindService, KindUser}

// Poolable is an entity that can be a pool member. Property exposes the
// stringified filterable properties by name.
type Poolable interface {
	GetID() string
	GetName() string
	PoolKind() Kind
	Property(name string) (string, bool)
}

// PropertyDescriptor describes one filterable property of a kind.
type PropertyDescriptor struct {
	Name         string
	DefaultMatch MatchMode
}

var filterableProperties = map[Kind][]PropertyDescriptor{
	KindDevice: {
		{"name", MatchInclusion},
		{"description", MatchInclusion},
		{"subtype", MatchInclusion},
		{"model", MatchInclusion},
		{"location", MatchInclusion},
		{"vendor", MatchInclusion},
		{"operating_system", MatchInclusion},
		{"os_version", MatchInclusion},
		{"ip_address", MatchInclusion},
		{"longitude", MatchInclusion},
		{"latitude", MatchInclusion},
		{"port", MatchEquality},
		{"icon", MatchEquality},
		{"netconf_driver", MatchInclusion},
		{"napalm_driver", MatchInclusion},
		{"netmiko_driver", MatchInclusion},
		{"configuration", MatchInclusion},
	},
	KindLink: {
		{"name", MatchInclusion},
		{"description", MatchInclusion},
		{"subtype", MatchInclusion},
		{"model", MatchInclusion},
		{"location", MatchInclusion},
		{"vendor", MatchInclusion},
		{"color", MatchEquality},
		{"source_name", MatchInclusion},
		{"destination_name", MatchInclusion},
	},
	KindService: {
		{"name", MatchInclusion},
		{"description", MatchInclusion},
		{"subtype", MatchInclusion},
	},
	KindUser: {
		{"name", MatchInclusion},
		{"description", MatchInclusion},
	},
}

// FilterableProperties returns the descriptors of the properties a pool
// filter may reference for a kind.
func FilterableProperties(kind Kind) []PropertyDescriptor {
	return filterableProperties[kind]
}

// IsFilterable reports whether a property is a valid filter key for a
// kind.
func IsFilterable(kind Kind, property string) bool {
	for _, d := range filterableProperties[kind] {
		if d.Name == property {
			return true
		}
	}
	return false
}
