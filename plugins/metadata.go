package plugins

import (
	"encoding/json"

	"github.com/mitchellh/mapstructure"
)

// Capability is one element of the closed capability taxonomy spec.md §3
// names. Declared by a plugin and checked against a host-imposed allowed
// set by the Security Validator at the Strict level.
type Capability string

const (
	CapabilityUI             Capability = "UI"
	CapabilityService        Capability = "Service"
	CapabilityNetwork        Capability = "Network"
	CapabilityDataProcessing Capability = "DataProcessing"
	CapabilityScripting      Capability = "Scripting"
	CapabilityFileSystem     Capability = "FileSystem"
	CapabilityDatabase       Capability = "Database"
	CapabilityAsyncInit      Capability = "AsyncInit"
	CapabilityHotReload      Capability = "HotReload"
	CapabilityConfiguration  Capability = "Configuration"
	CapabilityLogging        Capability = "Logging"
	CapabilitySecurity       Capability = "Security"
	CapabilityThreading      Capability = "Threading"
	CapabilityMonitoring     Capability = "Monitoring"
)

// Priority orders plugins for scheduling and diagnostics purposes; it does
// not participate in dependency ordering.
type Priority string

const (
	PriorityLowest   Priority = "Lowest"
	PriorityLow      Priority = "Low"
	PriorityNormal   Priority = "Normal"
	PriorityHigh     Priority = "High"
	PriorityHighest  Priority = "Highest"
	PriorityCritical Priority = "Critical"
)

// Metadata is the declarative descriptor attached to every plugin, matching
// the external JSON schema of spec.md §6 field-for-field.
type Metadata struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Version     string `json:"version"`
	Author      string `json:"author,omitempty"`
	License     string `json:"license,omitempty"`
	Homepage    string `json:"homepage,omitempty"`
	Category    string `json:"category,omitempty"`

	Tags []string `json:"tags,omitempty"`

	Dependencies         []string `json:"dependencies,omitempty"`
	OptionalDependencies []string `json:"optional_dependencies,omitempty"`

	Capabilities []Capability `json:"capabilities,omitempty"`
	Priority     Priority     `json:"priority,omitempty"`

	MinHostVersion string `json:"min_host_version,omitempty"`
	MaxHostVersion string `json:"max_host_version,omitempty"`

	CustomData map[string]any `json:"custom_data,omitempty"`
}

// Validate checks the required fields and that Version parses, per spec.md
// §3's field list ("id, name, version" required).
func (m *Metadata) Validate() error {
	if err := ValidateID(m.ID); err != nil {
		return err
	}
	if m.Name == "" {
		return New(InvalidFormat, "metadata name is required")
	}
	if m.Version == "" {
		return New(InvalidFormat, "metadata version is required")
	}
	if _, err := Parse(m.Version); err != nil {
		return Newf(InvalidFormat, "metadata version %q invalid: %v", m.Version, err)
	}
	return nil
}

// HasCapability reports whether the metadata declares the given capability.
func (m *Metadata) HasCapability(c Capability) bool {
	for _, have := range m.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// MarshalJSON / UnmarshalJSON round-trip through the schema unmodified;
// defined explicitly (rather than relying on the struct tags alone) so the
// round-trip invariant spec.md §3 requires is a named contract.
func (m *Metadata) MarshalJSON() ([]byte, error) {
	type alias Metadata
	return json.Marshal((*alias)(m))
}

func (m *Metadata) UnmarshalJSON(data []byte) error {
	type alias Metadata
	return json.Unmarshal(data, (*alias)(m))
}

// DecodeCustomData decodes the opaque custom_data blob into out, which must
// be a pointer. The runtime never interprets custom_data itself; this is a
// convenience for plugin authors and host code that know the shape.
func DecodeCustomData(m *Metadata, out any) error {
	if m.CustomData == nil {
		return nil
	}
	return mapstructure.Decode(m.CustomData, out)
}
