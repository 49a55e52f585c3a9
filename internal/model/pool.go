package model

import "time"

// MatchMode selects how a pool filter value is compared against an
// entity property.
type MatchMode string

const (
	MatchInclusion MatchMode = "inclusion" // substring
	MatchEquality  MatchMode = "equality"  // exact string equality
	MatchRegex     MatchMode = "regex"     // unanchored regular expression
)

// Operator combines the per-property match results of a pool.
const (
	OperatorAll = "all" // conjunction
	OperatorAny = "any" // disjunction
)

// FilterSpec is the configured filter for one (kind, property) pair.
type FilterSpec struct {
	Value  string    `json:"value"`
	Match  MatchMode `json:"match"`
	Invert bool      `json:"invert"`
}

// Pool is a named membership set over the four poolable kinds. When
// ManuallyDefined is false, membership per kind is fully determined by
// the configured filters and is recomputed, never hand-edited. When
// true, membership is whatever was explicitly assigned.
type Pool struct {
	ID                   string    `json:"id"`
	Name                 string    `json:"name"` // unique
	Description          string    `json:"description"`
	AdminOnly            bool      `json:"admin_only"`
	VisualizationDefault bool      `json:"visualization_default"`
	ManuallyDefined      bool      `json:"manually_defined"`
	Operator             string    `json:"operator"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`

	// Filters maps kind -> property -> filter. Only properties listed in
	// FilterableProperties(kind) are valid keys.
	Filters map[Kind]map[string]FilterSpec `json:"filters"`

	// Counts caches per-kind membership cardinality. The storage layer
	// keeps it equal to the true membership relation size on every
	// mutation path.
	Counts map[Kind]int `json:"counts"`
}

// NewPool returns an empty computed pool with defaults applied.
func NewPool(name string) *Pool {
	return &Pool{
		Name:     name,
		Operator: OperatorAll,
		Filters:  map[Kind]map[string]FilterSpec{},
		Counts:   map[Kind]int{},
	}
}

func (p *Pool) GetID() string   { return p.ID }
func (p *Pool) GetName() string { return p.Name }

// Filter returns the configured filter for (kind, property).
func (p *Pool) Filter(kind Kind, property string) (FilterSpec, bool) {
	spec, ok := p.Filters[kind][property]
	return spec, ok
}

// SetFilter configures the filter for (kind, property). An empty match
// mode falls back to the property's default.
func (p *Pool) SetFilter(kind Kind, property string, spec FilterSpec) {
	if p.Filters == nil {
		p.Filters = map[Kind]map[string]FilterSpec{}
	}
	if p.Filters[kind] == nil {
		p.Filters[kind] = map[string]FilterSpec{}
	}
	if spec.Match == "" {
		for _, d := range FilterableProperties(kind) {
			if d.Name == property {
				spec.Match = d.DefaultMatch
				break
			}
		}
	}
	p.Filters[kind][property] = spec
}

// HasFilters reports whether any filter value is set for a kind. A
// computed pool with no filters for a kind has empty membership for it.
func (p *Pool) HasFilters(kind Kind) bool {
	for _, d := range FilterableProperties(kind) {
		if spec, ok := p.Filters[kind][d.Name]; ok && spec.Value != "" {
			return true
		}
	}
	return false
}

// Count returns the cached membership count for a kind.
func (p *Pool) Count(kind Kind) int {
	if p.Counts == nil {
		return 0
	}
	return p.Counts[kind]
}
