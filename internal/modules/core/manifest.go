package core

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Manifest defines the structure of a module manifest (inspired by subgraph manifests)
type Manifest struct {
	Name        string                 `yaml:"name"`
	Version     string                 `yaml:"version"`
	Description string                 `yaml:"description,omitempty"`
	Repository  string                 `yaml:"repository,omitempty"`
	DataSources []DataSource           `yaml:"dataSources"`
	Context     map[string]interface{} `yaml:"context,omitempty"` // Module-specific context
}

// DataSource defines a contract or set of contracts to watch
type DataSource struct {
	Kind    string            `yaml:"kind"`
	Name    string            `yaml:"name"`
	Network string            `yaml:"network"`
	Source  DataSourceSource  `yaml:"source"`
	Mapping DataSourceMapping `yaml:"mapping"`
}

// DataSourceSource defines the contract source information
type DataSourceSource struct {
	Address    *string `yaml:"address,omitempty"`    // Contract address (optional for templates)
	ABI        string  `yaml:"abi"`                  // ABI name
	StartBlock *uint64 `yaml:"startBlock,omitempty"` // Block to start indexing from
}

// DataSourceMapping defines how to handle events from this data source
type DataSourceMapping struct {
	Kind          string         `yaml:"kind"`     // "ethereum/events"
	Entities      []string       `yaml:"entities"` // Entities this mapping writes
	EventHandlers []EventHandler `yaml:"eventHandlers"`
}

// EventHandler defines how to handle a specific event
type EventHandler struct {
	Event   string `yaml:"event"`   // Event signature (e.g., "Transfer(indexed address,indexed address,uint256)")
	Handler string `yaml:"handler"` // Handler function name
}

// DecodeContext decodes the manifest's module-specific context into v.
func (m *Manifest) DecodeContext(v interface{}) error {
	if m.Context == nil {
		return nil
	}
	data, err := yaml.Marshal(m.Context)
	if err != nil {
		return fmt.Errorf("failed to encode manifest context: %w", err)
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode manifest context: %w", err)
	}
	return nil
}

// ValidateManifest validates a manifest structure
func (m *Manifest) ValidateManifest() error {
	if m.Name == "" {
		return ErrInvalidManifest{Field: "name", Reason: "name is required"}
	}

	if m.Version == "" {
		return ErrInvalidManifest{Field: "version", Reason: "version is required"}
	}

	if len(m.DataSources) == 0 {
		return ErrInvalidManifest{Field: "dataSources", Reason: "at least one data source is required"}
	}

	for i, ds := range m.DataSources {
		if err := ds.validate(); err != nil {
			return ErrInvalidManifest{Field: fmt.Sprintf("dataSources[%d]", i), Reason: err.Error()}
		}
	}

	return nil
}

func (ds *DataSource) validate() error {
	if ds.Kind == "" {
		return ErrInvalidManifest{Field: "kind", Reason: "kind is required"}
	}

	if ds.Name == "" {
		return ErrInvalidManifest{Field: "name", Reason: "name is required"}
	}

	if ds.Source.ABI == "" {
		return ErrInvalidManifest{Field: "source.abi", Reason: "ABI is required"}
	}

	if len(ds.Mapping.EventHandlers) == 0 {
		return ErrInvalidManifest{Field: "mapping.eventHandlers", Reason: "at least one event handler is required"}
	}

	for i, h := range ds.Mapping.EventHandlers {
		if _, err := ParseEventSignature(h.Event); err != nil {
			return ErrInvalidManifest{Field: fmt.Sprintf("mapping.eventHandlers[%d].event", i), Reason: err.Error()}
		}
	}

	return nil
}

// ErrInvalidManifest is returned when a manifest is invalid
type ErrInvalidManifest struct {
	Field  string
	Reason string
}

func (e ErrInvalidManifest) Error() string {
	return "invalid manifest field " + e.Field + ": " + e.Reason
}
