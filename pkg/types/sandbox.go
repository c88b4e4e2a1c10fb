package types

import "time"

// SandboxStatus represents the current state of a sandbox.
type SandboxStatus string

const (
	SandboxStatusRunning    SandboxStatus = "running"
	SandboxStatusTerminated SandboxStatus = "terminated"
)

// Sandbox represents a running sandbox instance.
type Sandbox struct {
	ID          string        `json:"sandboxID"`
	ImageHandle string        `json:"imageHandle,omitempty"`
	Status      SandboxStatus `json:"status"`
	StartedAt   time.Time     `json:"startedAt"`
	EndAt       time.Time     `json:"endAt"`
}

// SandboxConfig is the request body for creating a sandbox.
type SandboxConfig struct {
	ImageHandle string            `json:"imageHandle"`
	Workdir     string            `json:"workdir,omitempty"`
	Timeout     int               `json:"timeout,omitempty"` // seconds, default 3600
	Env         map[string]string `json:"envs,omitempty"`
	Secrets     []string          `json:"secrets,omitempty"` // names of backend-held secrets
}
