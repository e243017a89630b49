// Package events provides event types and payloads for the agentx event system.
package events

import (
	"encoding/json"
	"fmt"

	acp "github.com/coder/acp-go-sdk"

	"github.com/agentx/agentx/internal/events/bus"
)

// Event types for sessions
const (
	SessionUpdate = "session.update"
	SessionStatus = "session.status"
)

// Event types for permissions
const (
	PermissionRequested = "permission.requested"
	PermissionResolved  = "permission.resolved"
)

// Event types for agents
const (
	AgentStarted = "agent.started"
	AgentStopped = "agent.stopped"
)

// Session status values carried by SessionStatus events.
const (
	StatusActive    = "active"
	StatusIdle      = "idle"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Subjects. Session subjects carry the session ID as the final token so
// subscribers can filter with NATS wildcards.
const (
	SubjectSessionUpdateAll = "session.update.>"
	SubjectSessionStatusAll = "session.status.>"
	SubjectPermissionReq    = "permission.request"
	SubjectAgentLifecycle   = "agent.lifecycle"
)

// SubjectSessionUpdate returns the update subject for one session.
func SubjectSessionUpdate(sessionID string) string {
	return "session.update." + sessionID
}

// SubjectSessionStatus returns the status subject for one session.
func SubjectSessionStatus(sessionID string) string {
	return "session.status." + sessionID
}

// SessionUpdatePayload is the payload of a SessionUpdate event: one ACP
// session/update notification attributed to the agent that produced it.
type SessionUpdatePayload struct {
	SessionID string            `json:"session_id"`
	AgentName string            `json:"agent_name"`
	Update    acp.SessionUpdate `json:"update"`
}

// SessionStatusPayload is the payload of a SessionStatus event.
type SessionStatusPayload struct {
	SessionID string `json:"session_id"`
	AgentName string `json:"agent_name"`
	Status    string `json:"status"`
}

// PermissionRequestPayload is the payload of a PermissionRequested event.
// PermissionID is the handle clients use to respond.
type PermissionRequestPayload struct {
	PermissionID string                       `json:"permission_id"`
	SessionID    string                       `json:"session_id"`
	AgentName    string                       `json:"agent_name"`
	Request      acp.RequestPermissionRequest `json:"request"`
}

// AgentLifecyclePayload is the payload of agent start/stop events.
type AgentLifecyclePayload struct {
	AgentName string `json:"agent_name"`
}

// NewSessionUpdateEvent wraps a session update payload in a bus event.
func NewSessionUpdateEvent(source string, p SessionUpdatePayload) *bus.Event {
	return bus.NewEvent(SessionUpdate, source, toDataMap(p))
}

// NewSessionStatusEvent wraps a session status payload in a bus event.
func NewSessionStatusEvent(source string, p SessionStatusPayload) *bus.Event {
	return bus.NewEvent(SessionStatus, source, toDataMap(p))
}

// NewPermissionRequestEvent wraps a permission request payload in a bus event.
func NewPermissionRequestEvent(source string, p PermissionRequestPayload) *bus.Event {
	return bus.NewEvent(PermissionRequested, source, toDataMap(p))
}

// NewAgentLifecycleEvent wraps an agent lifecycle payload in a bus event.
func NewAgentLifecycleEvent(eventType, source string, p AgentLifecyclePayload) *bus.Event {
	return bus.NewEvent(eventType, source, toDataMap(p))
}

// SessionUpdateFromEvent decodes a SessionUpdate event payload.
func SessionUpdateFromEvent(e *bus.Event) (*SessionUpdatePayload, error) {
	var p SessionUpdatePayload
	if err := fromDataMap(e, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// SessionStatusFromEvent decodes a SessionStatus event payload.
func SessionStatusFromEvent(e *bus.Event) (*SessionStatusPayload, error) {
	var p SessionStatusPayload
	if err := fromDataMap(e, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// PermissionRequestFromEvent decodes a PermissionRequested event payload.
func PermissionRequestFromEvent(e *bus.Event) (*PermissionRequestPayload, error) {
	var p PermissionRequestPayload
	if err := fromDataMap(e, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// toDataMap converts a typed payload into the bus event data map. Payloads
// round-trip through JSON so in-memory and NATS delivery look identical to
// consumers.
func toDataMap(payload interface{}) map[string]interface{} {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	var data map[string]interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil
	}
	return data
}

// fromDataMap decodes a bus event data map into a typed payload.
func fromDataMap(e *bus.Event, out interface{}) error {
	if e == nil || e.Data == nil {
		return fmt.Errorf("event %q has no payload", eventType(e))
	}
	raw, err := json.Marshal(e.Data)
	if err != nil {
		return fmt.Errorf("failed to re-encode event payload: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode event payload: %w", err)
	}
	return nil
}

func eventType(e *bus.Event) string {
	if e == nil {
		return ""
	}
	return e.Type
}
