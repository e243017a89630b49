package agent

import "errors"

var (
	// ErrAgentNotFound is returned when no agent with the given name is registered
	ErrAgentNotFound = errors.New("agent not found")

	// ErrAgentExists is returned when adding an agent under a name already in use
	ErrAgentExists = errors.New("agent already exists")

	// ErrAgentNotRunning is returned when an operation is sent to an agent
	// whose worker is no longer accepting commands
	ErrAgentNotRunning = errors.New("agent is not running")

	// ErrAgentStopped is returned when the worker exits before replying to
	// an accepted command
	ErrAgentStopped = errors.New("agent stopped")

	// ErrAgentExited is returned when the agent subprocess has already exited
	ErrAgentExited = errors.New("agent process exited")

	// ErrPermissionNotFound is returned when responding to an unknown permission request ID
	ErrPermissionNotFound = errors.New("permission request ID not found")

	// ErrPermissionReceiverDropped is returned when the requester is no longer
	// waiting for the permission outcome
	ErrPermissionReceiverDropped = errors.New("permission receiver dropped")

	// ErrLoadSessionUnsupported is returned when session/load is requested from
	// an agent that does not advertise the capability
	ErrLoadSessionUnsupported = errors.New("agent does not support session loading")
)
