// Package pool computes rule-based pool membership over devices, links,
// services and users.
package pool

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/netfabd/netfabd/internal/log"
	"github.com/netfabd/netfabd/internal/model"
	"github.com/netfabd/netfabd/internal/storage"
)

// AccessRecomputeFunc is notified for every user whose effective access
// may have changed after a pool update.
type AccessRecomputeFunc func(userID string)

// Engine recomputes pool membership and keeps the stored membership
// relation, including the cached counters, in sync with pool rules.
type Engine struct {
	store storage.Store

	// Per-pool serialization of recomputation. Two concurrent
	// recomputations of the same pool must not interleave.
	locks *xsync.Map[string, *sync.Mutex]

	onAccessChange AccessRecomputeFunc
}

// NewEngine creates a membership engine over the given store.
func NewEngine(store storage.Store) *Engine {
	return &Engine{
		store: store,
		locks: xsync.NewMap[string, *sync.Mutex](),
	}
}

// OnAccessChange registers the callback invoked for users whose pool
// membership changed during an update.
func (e *Engine) OnAccessChange(fn AccessRecomputeFunc) {
	e.onAccessChange = fn
}

func (e *Engine) lock(poolID string) *sync.Mutex {
	mu, _ := e.locks.LoadOrStore(poolID, &sync.Mutex{})
	return mu
}

// PropertyMatch compares one property value against a filter.
// Inclusion is substring containment, equality is exact string
// equality, regex is an unanchored search. Invert negates the result.
// A regex that fails to compile matches nothing and logs a warning;
// it never aborts the surrounding recomputation.
func PropertyMatch(spec model.FilterSpec, value string) bool {
	var matched bool
	switch spec.Match {
	case model.MatchEquality:
		matched = value == spec.Value
	case model.MatchRegex:
		re, err := regexp.Compile(spec.Value)
		if err != nil {
			log.Warn("Invalid pool regex, matching nothing", "pattern", spec.Value, "error", err)
			matched = false
		} else {
			matched = re.MatchString(value)
		}
	default:
		matched = strings.Contains(value, spec.Value)
	}
	return matched != spec.Invert
}

// ObjectMatch reports whether an entity belongs to a computed pool. A
// kind with no configured filter values yields no members, so a pool
// with an empty rule set is empty rather than all-encompassing.
func ObjectMatch(pool *model.Pool, obj model.Poolable) bool {
	kind := obj.PoolKind()
	if !pool.HasFilters(kind) {
		return false
	}

	disjunctive := pool.Operator == model.OperatorAny
	for _, descriptor := range model.FilterableProperties(kind) {
		spec, ok := pool.Filter(kind, descriptor.Name)
		if !ok || spec.Value == "" {
			continue
		}
		value, _ := obj.Property(descriptor.Name)
		matched := PropertyMatch(spec, value)
		if disjunctive && matched {
			return true
		}
		if !disjunctive && !matched {
			return false
		}
	}
	return !disjunctive
}

// ValidateFilters rejects a pool definition whose regex filters do not
// compile. Called on create and update, before anything is stored.
func ValidateFilters(pool *model.Pool) error {
	for kind, specs := range pool.Filters {
		for property, spec := range specs {
			if spec.Match != model.MatchRegex || spec.Value == "" {
				continue
			}
			if _, err := regexp.Compile(spec.Value); err != nil {
				return fmt.Errorf("invalid regex for %s property %q: %w", kind, property, err)
			}
		}
	}
	return nil
}

// Compute recomputes the full membership of one pool for every kind
// and stores it together with the counters. Manually defined pools are
// left untouched. Recomputations of the same pool are serialized.
func (e *Engine) Compute(poolID string) error {
	mu := e.lock(poolID)
	mu.Lock()
	defer mu.Unlock()
	return e.computeLocked(poolID)
}

func (e *Engine) computeLocked(poolID string) error {
	pool, err := e.store.GetPool(poolID)
	if err != nil {
		return err
	}
	if pool.ManuallyDefined {
		// Manual membership is never rewritten, only recounted.
		for _, kind := range model.Kinds {
			members, err := e.store.PoolMembers(pool.ID, kind)
			if err != nil {
				return err
			}
			if err := e.store.SetPoolMembers(pool.ID, kind, members); err != nil {
				return fmt.Errorf("recounting %s members of pool %q: %w", kind, pool.Name, err)
			}
		}
		return nil
	}

	for _, kind := range model.Kinds {
		members, err := e.computeKind(pool, kind)
		if err != nil {
			return err
		}
		if err := e.store.SetPoolMembers(pool.ID, kind, members); err != nil {
			return fmt.Errorf("storing %s members of pool %q: %w", kind, pool.Name, err)
		}
	}
	log.Info("Recomputed pool", "pool", pool.Name)
	return nil
}

func (e *Engine) computeKind(pool *model.Pool, kind model.Kind) ([]string, error) {
	if !pool.HasFilters(kind) {
		return nil, nil
	}
	universe, err := e.store.ListPoolables(kind)
	if err != nil {
		return nil, fmt.Errorf("listing %s universe: %w", kind, err)
	}
	var members []string
	for _, obj := range universe {
		if ObjectMatch(pool, obj) {
			members = append(members, obj.GetID())
		}
	}
	return members, nil
}

// ComputeAll recomputes every computed pool.
func (e *Engine) ComputeAll() error {
	pools, err := e.store.ListPools()
	if err != nil {
		return err
	}
	for _, pool := range pools {
		if pool.ManuallyDefined {
			continue
		}
		if err := e.Compute(pool.ID); err != nil {
			return err
		}
	}
	return nil
}

// Update validates, stores and recomputes a pool definition, then
// signals the access-recompute callback for the union of the user
// members before and after the change.
func (e *Engine) Update(pool *model.Pool) error {
	if err := ValidateFilters(pool); err != nil {
		return err
	}

	mu := e.lock(pool.ID)
	mu.Lock()
	defer mu.Unlock()

	before, err := e.store.PoolMembers(pool.ID, model.KindUser)
	if err != nil {
		return err
	}
	if err := e.store.UpdatePool(pool); err != nil {
		return err
	}
	if err := e.computeLocked(pool.ID); err != nil {
		return err
	}
	after, err := e.store.PoolMembers(pool.ID, model.KindUser)
	if err != nil {
		return err
	}
	e.signalAccessChange(before, after)
	return nil
}

// Create validates and stores a new pool, then computes its membership.
func (e *Engine) Create(pool *model.Pool) error {
	if err := ValidateFilters(pool); err != nil {
		return err
	}
	if err := e.store.CreatePool(pool); err != nil {
		return err
	}
	return e.Compute(pool.ID)
}

func (e *Engine) signalAccessChange(before, after []string) {
	if e.onAccessChange == nil {
		return
	}
	seen := make(map[string]bool, len(before)+len(after))
	for _, id := range before {
		seen[id] = true
	}
	for _, id := range after {
		seen[id] = true
	}
	for id := range seen {
		e.onAccessChange(id)
	}
}

// RefreshEntity re-evaluates a single entity against every computed
// pool after the entity was created or its properties changed, and
// adjusts memberships without a full recomputation.
func (e *Engine) RefreshEntity(obj model.Poolable) error {
	pools, err := e.store.ListPools()
	if err != nil {
		return err
	}
	kind := obj.PoolKind()
	for i := range pools {
		pool := &pools[i]
		if pool.ManuallyDefined {
			continue
		}

		mu := e.lock(pool.ID)
		mu.Lock()
		var opErr error
		if ObjectMatch(pool, obj) {
			opErr = e.store.AddPoolMember(pool.ID, kind, obj.GetID())
		} else {
			opErr = e.store.RemovePoolMember(pool.ID, kind, obj.GetID())
		}
		mu.Unlock()
		if opErr != nil {
			return fmt.Errorf("refreshing %s in pool %q: %w", kind, pool.Name, opErr)
		}
	}
	return nil
}
