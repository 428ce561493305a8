// Package domain defines the persistent entities and value types shared by the
// praxis persistence engine and its callers.
package domain

import "time"

// EntityType identifies the type of record stored by the repository.
type EntityType string

// Supported entity type identifiers used in change events and table bindings.
const (
	// EntityProtocol identifies a protocol definition.
	EntityProtocol EntityType = "protocol"
	// EntityProtocolRun identifies an execution of a protocol.
	EntityProtocolRun EntityType = "protocol_run"
	// EntityResource identifies a labware or consumable resource.
	EntityResource EntityType = "resource"
	// EntityMachine identifies an instrument or liquid handler.
	EntityMachine EntityType = "machine"
)

// RunStatus enumerates protocol run lifecycle states.
type RunStatus string

// Canonical protocol run statuses.
const (
	RunStatusQueued    RunStatus = "QUEUED"
	RunStatusRunning   RunStatus = "RUNNING"
	RunStatusPaused    RunStatus = "PAUSED"
	RunStatusCompleted RunStatus = "COMPLETED"
	RunStatusFailed    RunStatus = "FAILED"
	RunStatusCancelled RunStatus = "CANCELLED"
)

// Protocol is a protocol definition available to the console.
type Protocol struct {
	AccessionID string         `json:"accession_id"`
	Name        string         `json:"name" validate:"required"`
	Description *string        `json:"description,omitempty"`
	IsTopLevel  bool           `json:"is_top_level"`
	Version     *string        `json:"version,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// ProtocolRun records one execution of a protocol. ProtocolAccessionID is a
// soft reference; the referenced protocol is not required to exist.
type ProtocolRun struct {
	AccessionID         string         `json:"accession_id"`
	ProtocolAccessionID *string        `json:"protocol_accession_id,omitempty"`
	Name                *string        `json:"name,omitempty"`
	Status              RunStatus      `json:"status" validate:"required"`
	CreatedAt           time.Time      `json:"created_at"`
	Parameters          map[string]any `json:"parameters,omitempty"`
	UserParams          map[string]any `json:"user_params,omitempty"`
}

// Resource is a piece of labware, a consumable or any other deck item.
type Resource struct {
	AccessionID string         `json:"accession_id"`
	Name        string         `json:"name" validate:"required"`
	Type        *string        `json:"type,omitempty"`
	Properties  map[string]any `json:"properties"`
}

// Machine is an instrument registered with the console.
type Machine struct {
	AccessionID string         `json:"accession_id"`
	Name        string         `json:"name" validate:"required"`
	Type        *string        `json:"type,omitempty"`
	Properties  map[string]any `json:"properties"`
}

// Change describes a committed mutation.
type Change struct {
	Entity      EntityType `json:"entity"`
	Action      Action     `json:"action"`
	AccessionID string     `json:"accession_id"`
	At          time.Time  `json:"at"`
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate supported CRUD operations.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated.
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// StringPtr returns a pointer to s. Handy for optional fields in literals.
func StringPtr(s string) *string { return &s }
