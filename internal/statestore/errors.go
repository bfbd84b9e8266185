package statestore

import "errors"

// Sentinel errors returned by Store methods. Callers should match with
// [errors.Is]; handlers translate these into the wire error codes of §7.
var (
	// ErrExperienceNotFound is returned when no configured experience
	// matches the requested experience_id.
	ErrExperienceNotFound = errors.New("statestore: experience not found")

	// ErrLockTimeout is returned when a write could not acquire its
	// exclusive file lock within the configured timeout. Transient:
	// handlers may retry.
	ErrLockTimeout = errors.New("statestore: lock wait timeout")

	// ErrInstanceNotFound is returned by operations that address a
	// specific instance_id that cannot be located.
	ErrInstanceNotFound = errors.New("statestore: instance not found")

	// ErrInvalidDelta is returned when an update tree is malformed (an
	// unknown operator key, a non-object $remove predicate, a non-array
	// $update operand, or a non-numeric $increment/$limit operand). A
	// current value of the wrong kind is not an error: list operators treat
	// it as an empty list and $increment treats it as zero.
	ErrInvalidDelta = errors.New("statestore: invalid delta")

	// ErrCorruptState is returned when a world or player-view file exists
	// but fails to parse as JSON. The store fails fast rather than risk a
	// partial write over corrupt data.
	ErrCorruptState = errors.New("statestore: corrupt state file")
)
