// Package agents holds the descriptor store for registered worker agents
// and the invoker that dispatches prepared prompts to them.
package agents

import (
	"fmt"
	"strings"
	"time"
)

// Agent statuses.
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// DefaultMaxContextLength applies when a descriptor omits the field.
const DefaultMaxContextLength = 1000

// Descriptor describes one registered worker agent. Descriptors are
// immutable once snapshotted into a session; the registry replaces them
// wholesale on re-registration.
type Descriptor struct {
	AgentID                string    `json:"agent_id"`
	Name                   string    `json:"name"`
	Model                  string    `json:"model,omitempty"`
	Capabilities           []string  `json:"capabilities"`
	Keywords               []string  `json:"keywords,omitempty"`
	Domain                 string    `json:"domain,omitempty"`
	Specialization         string    `json:"specialization,omitempty"`
	Status                 string    `json:"status"`
	BackendEndpoint        string    `json:"backend_endpoint"`
	MaxContextLength       int       `json:"max_context_length,omitempty"`
	PreferredContextFormat string    `json:"preferred_context_format,omitempty"`
	Priority               int       `json:"priority,omitempty"`
	RegisteredAt           time.Time `json:"registered_at,omitempty"`
}

// Validate checks the fields a registration must carry and fills
// defaults for the optional ones.
func (d *Descriptor) Validate() error {
	if strings.TrimSpace(d.AgentID) == "" {
		return fmt.Errorf("agent_id is required")
	}
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if len(d.Capabilities) == 0 {
		return fmt.Errorf("agent %s: at least one capability is required", d.AgentID)
	}
	switch d.Status {
	case "":
		d.Status = StatusActive
	case StatusActive, StatusInactive:
	default:
		return fmt.Errorf("agent %s: invalid status %q", d.AgentID, d.Status)
	}
	if d.MaxContextLength <= 0 {
		d.MaxContextLength = DefaultMaxContextLength
	}
	return nil
}

// HasCapability reports whether the agent advertises the capability
// (case-insensitive exact match).
func (d *Descriptor) HasCapability(capability string) bool {
	for _, c := range d.Capabilities {
		if strings.EqualFold(c, capability) {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers can hold descriptors across
// registry updates without aliasing.
func (d *Descriptor) Clone() *Descriptor {
	cp := *d
	cp.Capabilities = append([]string(nil), d.Capabilities...)
	cp.Keywords = append([]string(nil), d.Keywords...)
	return &cp
}
