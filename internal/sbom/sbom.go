// Package sbom provides the minimal CycloneDX document model the enrichment
// pipeline needs, plus ClearlyDefined coordinate helpers.
package sbom

import (
	"encoding/json"
	"errors"
	"fmt"
)

// DetectFormat analyzes the SBOM data and returns the detected format string,
// e.g. "CycloneDX-1.6", based on format-specific markers in the JSON data.
func DetectFormat(data []byte) (string, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return "", fmt.Errorf("invalid JSON: %w", err)
	}

	if bomFormat, ok := raw["bomFormat"].(string); ok && bomFormat == "CycloneDX" {
		if specVersion, versionOk := raw["specVersion"].(string); versionOk {
			return fmt.Sprintf("CycloneDX-%s", specVersion), nil
		}
		// Default to CycloneDX 1.4 if no version specified
		return "CycloneDX-1.4", nil
	}

	return "", errors.New("unknown SBOM format: could not detect CycloneDX markers")
}
