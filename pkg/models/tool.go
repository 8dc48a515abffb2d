package models

import "encoding/json"

// Capability tags a tool with the class of side effect it performs.
type Capability string

const (
	CapabilityFile      Capability = "file"
	CapabilityExec      Capability = "exec"
	CapabilityNetwork   Capability = "network"
	CapabilityHardware  Capability = "hardware"
	CapabilityMemory    Capability = "memory"
	CapabilitySchedule  Capability = "schedule"
	CapabilityMessaging Capability = "messaging"
)

// ToolSpec is the model-facing declaration of a tool.
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Schema      json.RawMessage `json:"schema"`
	Capability  Capability      `json:"capability,omitempty"`
}
