// Package tool defines the value types describing a callable tool exposed
// by a tool server: its name, human-readable description, and the JSON
// Schema of its input.
package tool

// MaxDescriptionLength is the upper bound on a stored tool description,
// including the truncation marker.
const MaxDescriptionLength = 1000

const truncationMarker = "..."

// Descriptor describes one tool offered by a server connection.
// Descriptors are immutable once built and are owned by the connection
// that fetched them.
type Descriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
}

// NewDescriptor builds a Descriptor from raw values received from a server,
// capping the description and normalizing the input schema.
func NewDescriptor(name, description string, schema any) Descriptor {
	return Descriptor{
		Name:        name,
		Description: CapDescription(description),
		InputSchema: NormalizeSchema(schema),
	}
}

// CapDescription truncates descriptions longer than MaxDescriptionLength
// so that the stored value is exactly MaxDescriptionLength characters,
// marker included.
func CapDescription(description string) string {
	if len(description) <= MaxDescriptionLength {
		return description
	}
	return description[:MaxDescriptionLength-len(truncationMarker)] + truncationMarker
}

// NormalizeSchema coerces a raw input schema into a valid JSON Schema
// object. A non-map value becomes an empty schema. A map without a "type"
// key is wrapped as an object schema with the original keys preserved
// under "properties".
func NormalizeSchema(schema any) map[string]any {
	m, ok := schema.(map[string]any)
	if !ok || m == nil {
		m = map[string]any{}
	}
	if _, ok := m["type"]; !ok {
		m = map[string]any{
			"type":       "object",
			"properties": m,
			"required":   []string{},
		}
	}
	return m
}
