// Package netconf executes configured NETCONF operations against a
// device over an abstract management session.
package netconf

import "context"

// EditOptions carries the optional modifiers of an edit-config call.
// An empty field means the modifier is not sent to the device.
type EditOptions struct {
	DefaultOperation string
	TestOption       string
	ErrorOption      string
}

// Session is one established NETCONF session. Implementations wrap a
// concrete transport; tests use stubs.
type Session interface {
	// GetConfig retrieves the full configuration of a datastore.
	GetConfig(ctx context.Context, source string) (string, error)
	// Get retrieves state and configuration matching a subtree filter.
	Get(ctx context.Context, filter string) (string, error)
	// EditConfig loads a configuration fragment into a datastore and
	// returns the device's reply markup.
	EditConfig(ctx context.Context, target, config string, opts EditOptions) (string, error)
	// CopyConfig replaces a whole datastore or URL target with the
	// source datastore or URL.
	CopyConfig(ctx context.Context, source, target string) (string, error)
	// RPC dispatches a raw RPC payload.
	RPC(ctx context.Context, content string) (string, error)

	Lock(ctx context.Context, target string) error
	Unlock(ctx context.Context, target string) error
	Commit(ctx context.Context) error
	Close() error
}

// DialParams is everything a dialer needs to reach a device.
type DialParams struct {
	Host       string
	Port       int
	Username   string
	Password   string
	PrivateKey string
	Timeout    int // seconds
}

// Dialer opens sessions. The driver registry maps a device's
// netconf_driver property to a Dialer.
type Dialer interface {
	Dial(ctx context.Context, params DialParams) (Session, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, params DialParams) (Session, error)

func (f DialerFunc) Dial(ctx context.Context, params DialParams) (Session, error) {
	return f(ctx, params)
}
