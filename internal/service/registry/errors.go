package registry

import "errors"

var (
	// ErrNotFound is returned when a party, token or version record does not
	// exist in the registry.
	ErrNotFound = errors.New("registry: not found")

	// ErrAlreadyRegistered is returned by the strict add when the
	// (remote identity, version) pair already exists.
	ErrAlreadyRegistered = errors.New("registry: remote party already registered")

	// ErrVersionMismatch is returned when two parties share no protocol
	// version.
	ErrVersionMismatch = errors.New("registry: no mutually supported version")

	// ErrTokenClaimed is returned when a local access token is already bound
	// to a different non-blocked remote party.
	ErrTokenClaimed = errors.New("registry: access token already claimed by another party")

	// ErrTokenBlocked is returned when an upsert would overwrite an explicitly
	// blocked token with an allowed one. Only SetStatus may lift a block.
	ErrTokenBlocked = errors.New("registry: access token is explicitly blocked")
)
