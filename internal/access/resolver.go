// Package access resolves which credential a user may employ against a
// device, and hashes the secrets it guards.
package access

import (
	"errors"
	"fmt"

	"github.com/netfabd/netfabd/internal/log"
	"github.com/netfabd/netfabd/internal/model"
	"github.com/netfabd/netfabd/internal/storage"
)

// ErrNoCredentials is wrapped into every failed resolution.
var ErrNoCredentials = errors.New("no matching credentials")

// Resolver selects credentials through the pool membership relation.
type Resolver struct {
	store storage.Store
}

func NewResolver(store storage.Store) *Resolver {
	return &Resolver{store: store}
}

// GetCredentials returns the credential the user may employ against the
// device for the requested role. A credential qualifies when one of its
// user pools contains the user and one of its device pools contains the
// device. The highest priority wins; among equal priorities the
// lexicographically smallest ID wins, which with time-ordered IDs is
// the oldest credential. Role "any" disables the role filter.
func (r *Resolver) GetCredentials(device *model.Device, role, userID string) (*model.Credential, error) {
	userPools, err := r.poolIDSet(model.KindUser, userID)
	if err != nil {
		return nil, err
	}
	devicePools, err := r.poolIDSet(model.KindDevice, device.ID)
	if err != nil {
		return nil, err
	}

	credentials, err := r.store.ListCredentials()
	if err != nil {
		return nil, err
	}

	var best *model.Credential
	for i := range credentials {
		credential := &credentials[i]
		if role != model.RoleAny && role != "" && credential.Role != role {
			continue
		}
		if !intersects(credential.UserPoolIDs, userPools) {
			continue
		}
		if !intersects(credential.DevicePoolIDs, devicePools) {
			continue
		}
		if best == nil ||
			credential.Priority > best.Priority ||
			(credential.Priority == best.Priority && credential.ID < best.ID) {
			best = credential
		}
	}
	if best == nil {
		return nil, fmt.Errorf("%w for device %q", ErrNoCredentials, device.Name)
	}

	log.Debug("Resolved credential",
		"credential", best.Name, "device", device.Name, "user", userID, "role", role)
	return best, nil
}

func (r *Resolver) poolIDSet(kind model.Kind, memberID string) (map[string]bool, error) {
	pools, err := r.store.MemberPools(kind, memberID)
	if err != nil {
		return nil, fmt.Errorf("listing %s pools: %w", kind, err)
	}
	set := make(map[string]bool, len(pools))
	for _, pool := range pools {
		set[pool.ID] = true
	}
	return set, nil
}

func intersects(ids []string, set map[string]bool) bool {
	for _, id := range ids {
		if set[id] {
			return true
		}
	}
	return false
}
