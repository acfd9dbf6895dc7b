package sbom

import (
	"encoding/json"
	"fmt"
)

// See https://cyclonedx.org/docs/1.6/json/

// BOM represents a minimal CycloneDX Bill of Materials with only the fields
// we need.
type BOM struct {
	BOMFormat   string      `json:"bomFormat"`
	SpecVersion string      `json:"specVersion"`
	Version     int         `json:"version,omitempty"`
	Components  []Component `json:"components,omitempty"`
}

// Component represents a minimal CycloneDX component with only the fields we
// need.
type Component struct {
	BOMRef     string     `json:"bom-ref,omitempty"`
	Type       string     `json:"type,omitempty"`
	Name       string     `json:"name"`
	Version    string     `json:"version,omitempty"`
	Purl       string     `json:"purl,omitempty"`
	Properties []Property `json:"properties,omitempty"`
}

// Property is a CycloneDX name-value property.
type Property struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// AddProperty appends a name-value property to the component. Duplicate
// names are appended, not replaced.
func (c *Component) AddProperty(name, value string) {
	c.Properties = append(c.Properties, Property{Name: name, Value: value})
}

// Parse parses CycloneDX JSON into a BOM.
func Parse(data []byte) (*BOM, error) {
	var bom BOM
	if err := json.Unmarshal(data, &bom); err != nil {
		return nil, fmt.Errorf("failed to parse CycloneDX JSON: %w", err)
	}
	return &bom, nil
}

// Marshal serializes the BOM back to indented CycloneDX JSON.
func (b *BOM) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal CycloneDX JSON: %w", err)
	}
	return data, nil
}
