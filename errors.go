package morphz

import "errors"

// Engine-level error conditions. Errors returned by collaborator transform
// functions during Apply are never wrapped or replaced; these sentinels
// cover only the lookup and optimization failures that originate inside
// the engine itself. All are matched with errors.Is.
var (
	// ErrNotFound reports a registry lookup for a name with no entry.
	ErrNotFound = errors.New("unit not found")

	// ErrAlreadyRegistered reports a registration under a name that is
	// already taken. Use Replace to overwrite deliberately.
	ErrAlreadyRegistered = errors.New("unit already registered")

	// ErrUnknownShape reports a composition structure the flattener does
	// not recognize. The optimizer fails with it rather than silently
	// skipping structure it cannot order.
	ErrUnknownShape = errors.New("unrecognized shape")
)
