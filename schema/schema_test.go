package schema_test

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/toolbridge-ai/toolbridge/schema"
)

type SearchType string

const (
	Web   SearchType = "web"
	Image SearchType = "image"
	Video SearchType = "video"
)

type Search struct {
	Topic string     `json:"topic,omitempty" jsonschema:"title=Topic,description=Topic of the search,example=golang"`
	Query string     `json:"query" jsonschema:"title=Query,description=Query to search for relevant content,example=what is golang"`
	Type  SearchType `json:"type"  jsonschema:"title=Type,description=Type of search,default=web,enum=web,enum=image,enum=video"`
}

type Filter struct {
	Language string `json:"language" jsonschema:"description=Language code"`
}

type NestedSearch struct {
	Query  string `json:"query"`
	Filter Filter `json:"filter,omitempty"`
}

func TestSchemaFlattens(t *testing.T) {
	s, err := schema.New(reflect.TypeOf(Search{}))
	require.NoError(t, err)
	require.NotNil(t, s.Parameters)

	params, err := s.InputMap()
	require.NoError(t, err)

	assert.Equal(t, "object", params["type"])
	assert.NotContains(t, params, "$defs")
	assert.NotContains(t, params, "$ref")

	props, ok := params["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "topic")
	assert.Contains(t, props, "query")
	assert.Contains(t, props, "type")

	typeProp := props["type"].(map[string]any)
	assert.Equal(t, []any{"web", "image", "video"}, typeProp["enum"])

	required, ok := params["required"].([]any)
	require.True(t, ok)
	assert.Contains(t, required, "query")
	assert.NotContains(t, required, "topic")
}

func TestSchemaResolvesNestedRefs(t *testing.T) {
	s, err := schema.New(reflect.TypeOf(NestedSearch{}))
	require.NoError(t, err)

	params, err := s.InputMap()
	require.NoError(t, err)

	props := params["properties"].(map[string]any)
	filter, ok := props["filter"].(map[string]any)
	require.True(t, ok)
	assert.NotContains(t, filter, "$ref")

	filterProps, ok := filter["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, filterProps, "language")
}

func TestSchemaCached(t *testing.T) {
	s1, err := schema.New(reflect.TypeOf(Search{}))
	require.NoError(t, err)
	s2, err := schema.New(reflect.TypeOf(Search{}))
	require.NoError(t, err)
	assert.Same(t, s1, s2)
}
