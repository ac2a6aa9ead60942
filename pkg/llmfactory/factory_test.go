package llmfactory_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/toolbridge-ai/toolbridge/pkg/llmfactory"
	"github.com/toolbridge-ai/toolbridge/pkg/llms"
	"github.com/toolbridge-ai/toolbridge/pkg/llms/anthropicclient"
	"github.com/toolbridge-ai/toolbridge/pkg/llms/googleclient"
	"github.com/toolbridge-ai/toolbridge/pkg/llms/openaiclient"
)

func TestVendorForModel(t *testing.T) {
	tcases := []struct {
		name    string
		model   string
		baseURL string
		exp     llmfactory.Vendor
	}{
		{"official_openai", "claude-3-5-sonnet", "https://api.openai.com/v1", llmfactory.VendorOpenAI},
		{"official_anthropic", "gpt-4o", "https://api.anthropic.com/v1", llmfactory.VendorAnthropic},
		{"official_claude_ai", "whatever", "https://claude.ai/api", llmfactory.VendorAnthropic},
		{"official_google", "gpt-4o", "https://generativelanguage.googleapis.com/v1beta", llmfactory.VendorGoogle},
		{"official_google_alt", "m", "https://ai.googleapis.com", llmfactory.VendorGoogle},
		{"endpoint_case_folded", "m", "https://API.ANTHROPIC.COM/v1", llmfactory.VendorAnthropic},
		{"proxy_endpoint", "claude-3-5-sonnet", "https://llm.corp.example.com/v1", llmfactory.VendorOpenAI},
		{"prefix_gpt", "gpt-4-turbo", "", llmfactory.VendorOpenAI},
		{"prefix_claude", "claude-3-opus", "", llmfactory.VendorAnthropic},
		{"prefix_gemini", "gemini-pro", "", llmfactory.VendorGoogle},
		{"prefix_text_bison", "text-bison-001", "", llmfactory.VendorGoogle},
		{"prefix_palm", "palm-2", "", llmfactory.VendorGoogle},
		{"prefix_case_folded", "Claude-3", "", llmfactory.VendorAnthropic},
		{"unknown_model", "llama-3-70b", "", llmfactory.VendorOpenAI},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.exp, llmfactory.VendorForModel(tc.model, tc.baseURL))
		})
	}
}

func TestProviderForModel(t *testing.T) {
	p := llmfactory.ProviderForModel("claude-3-5-sonnet", "", "sk-test")
	assert.IsType(t, &anthropicclient.Client{}, p)
	assert.Equal(t, llms.ProviderAnthropic, p.GetProviderType())

	p = llmfactory.ProviderForModel("gemini-pro", "", "g-key")
	assert.IsType(t, &googleclient.Client{}, p)

	p = llmfactory.ProviderForModel("gpt-4o", "", "sk-test")
	assert.IsType(t, &openaiclient.Client{}, p)

	// The endpoint outranks the model name.
	p = llmfactory.ProviderForModel("claude-3-5-sonnet", "https://llm.corp.example.com/v1", "sk-test")
	assert.IsType(t, &openaiclient.Client{}, p)
}

func TestProviderForModel_FactorySeam(t *testing.T) {
	orig := llmfactory.NewProvider
	t.Cleanup(func() { llmfactory.NewProvider = orig })

	var gotVendor llmfactory.Vendor
	llmfactory.NewProvider = func(vendor llmfactory.Vendor, token, baseURL string, httpClient *http.Client) llms.Provider {
		gotVendor = vendor
		return orig(vendor, token, baseURL, httpClient)
	}

	_ = llmfactory.ProviderForModel("gemini-1.5-flash", "", "g-key")
	assert.Equal(t, llmfactory.VendorGoogle, gotVendor)
}

func TestStripUnsupportedSchemaKeys(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"$defs": map[string]any{
			"City": map[string]any{"type": "string"},
		},
		"properties": map[string]any{
			"city": map[string]any{
				"$ref":    "#/$defs/City",
				"type":    "string",
				"default": "Oslo",
			},
			"tags": map[string]any{
				"type": "array",
				"items": []any{
					map[string]any{"type": "string", "default": "x"},
					"keep-me",
				},
			},
		},
	}

	stripped := llmfactory.StripUnsupportedSchemaKeys(schema)

	assert.NotContains(t, stripped, "$defs")
	props := stripped["properties"].(map[string]any)
	city := props["city"].(map[string]any)
	assert.NotContains(t, city, "$ref")
	assert.NotContains(t, city, "default")
	assert.Equal(t, "string", city["type"])

	items := props["tags"].(map[string]any)["items"].([]any)
	require.Len(t, items, 2)
	assert.NotContains(t, items[0].(map[string]any), "default")
	assert.Equal(t, "keep-me", items[1])

	// The input is not modified.
	assert.Contains(t, schema, "$defs")
	assert.Contains(t, schema["properties"].(map[string]any)["city"].(map[string]any), "$ref")

	assert.Nil(t, llmfactory.StripUnsupportedSchemaKeys(nil))
}
