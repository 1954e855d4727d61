package bridge

import "errors"

// Sentinel errors for the device layer.
// Use errors.Is() to check for specific error conditions.
var (
	// ErrNotReady indicates the controller has no credential or snapshot
	// yet, so the requested operation cannot run.
	ErrNotReady = errors.New("bridge: not ready")

	// ErrNoStructures indicates a discovery snapshot carried no structures
	// collection. Discovery fails closed on such a snapshot.
	ErrNoStructures = errors.New("bridge: snapshot has no structures")

	// ErrNodeNotFound indicates a command addressed an unknown node.
	ErrNodeNotFound = errors.New("bridge: node not found")

	// ErrUnknownCommand indicates the node does not implement the command.
	ErrUnknownCommand = errors.New("bridge: unknown command")

	// ErrMissingValue indicates the command requires a value and none was
	// supplied.
	ErrMissingValue = errors.New("bridge: command value missing")

	// ErrDeviceOffline indicates the device is offline; all commands are
	// rejected until it reports online again.
	ErrDeviceOffline = errors.New("bridge: device is offline")

	// ErrEmergencyHeat indicates emergency heat is active; commands are
	// rejected until it clears.
	ErrEmergencyHeat = errors.New("bridge: emergency heat is active")

	// ErrLocked indicates the operator lock rejected a setpoint change.
	ErrLocked = errors.New("bridge: setpoint rejected by lock")

	// ErrSetpointRange indicates the requested setpoint violates the
	// device's absolute range, ordering, or minimum separation.
	ErrSetpointRange = errors.New("bridge: setpoint out of range")

	// ErrNoChange indicates the command would not change anything.
	ErrNoChange = errors.New("bridge: no change requested")

	// ErrModeMismatch indicates the command is not valid in the device's
	// current or requested mode.
	ErrModeMismatch = errors.New("bridge: command not valid for mode")

	// ErrNoFan indicates a fan command was issued to a device without a fan.
	ErrNoFan = errors.New("bridge: device has no fan")
)
