// Package llmfactory selects the vendor adapter for a model name and
// endpoint. An explicitly configured endpoint outranks the model name: an
// official vendor domain selects that vendor, and any other endpoint is
// treated as an OpenAI-compatible proxy.
package llmfactory

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/effective-security/xlog"
	"github.com/toolbridge-ai/toolbridge/pkg/llms"
	"github.com/toolbridge-ai/toolbridge/pkg/llms/anthropicclient"
	"github.com/toolbridge-ai/toolbridge/pkg/llms/googleclient"
	"github.com/toolbridge-ai/toolbridge/pkg/llms/openaiclient"
)

var logger = xlog.NewPackageLogger("github.com/toolbridge-ai/toolbridge/pkg", "llmfactory")

// Vendor identifies one supported API family.
type Vendor string

const (
	VendorOpenAI    Vendor = "openai"
	VendorAnthropic Vendor = "anthropic"
	VendorGoogle    Vendor = "google"
)

var officialEndpoints = map[Vendor][]string{
	VendorOpenAI:    {"api.openai.com"},
	VendorAnthropic: {"api.anthropic.com", "claude.ai"},
	VendorGoogle:    {"generativelanguage.googleapis.com", "ai.googleapis.com"},
}

// modelPrefixes maps well-known model name prefixes to vendors. Order
// matters only for readability; prefixes do not overlap.
var modelPrefixes = []struct {
	prefix string
	vendor Vendor
}{
	{"gpt", VendorOpenAI},
	{"claude", VendorAnthropic},
	{"gemini", VendorGoogle},
	{"text-bison", VendorGoogle},
	{"palm", VendorGoogle},
}

// NewProvider creates the adapter for a vendor. A nil httpClient selects
// the adapter's default 60 second client. Swappable in tests.
var NewProvider = func(vendor Vendor, token, baseURL string, httpClient *http.Client) llms.Provider {
	switch vendor {
	case VendorAnthropic:
		if httpClient == nil {
			return anthropicclient.New(token, baseURL, nil)
		}
		return anthropicclient.New(token, baseURL, httpClient)
	case VendorGoogle:
		if httpClient == nil {
			return googleclient.New(token, baseURL, nil)
		}
		return googleclient.New(token, baseURL, httpClient)
	default:
		if httpClient == nil {
			return openaiclient.New(token, baseURL, nil)
		}
		return openaiclient.New(token, baseURL, httpClient)
	}
}

// ProviderForModel selects and creates the adapter for a model name and
// optional endpoint.
func ProviderForModel(modelName, baseURL, token string) llms.Provider {
	vendor := VendorForModel(modelName, baseURL)
	logger.KV(xlog.DEBUG, "model", modelName, "endpoint", baseURL, "vendor", vendor)
	return NewProvider(vendor, token, baseURL, nil)
}

// VendorForModel resolves the vendor. An endpoint whose host contains an
// official vendor domain wins; any other endpoint selects the
// OpenAI-compatible adapter; without an endpoint the model name prefix
// decides, defaulting to OpenAI.
func VendorForModel(modelName, baseURL string) Vendor {
	if baseURL != "" {
		if parsed, err := url.Parse(baseURL); err == nil && parsed.Host != "" {
			host := strings.ToLower(parsed.Host)
			for vendor, domains := range officialEndpoints {
				for _, domain := range domains {
					if strings.Contains(host, domain) {
						return vendor
					}
				}
			}
			// Unrecognized endpoints are almost always OpenAI-compatible
			// proxies.
			return VendorOpenAI
		}
	}

	lower := strings.ToLower(modelName)
	for _, rule := range modelPrefixes {
		if strings.HasPrefix(lower, rule.prefix) {
			return rule.vendor
		}
	}
	return VendorOpenAI
}

// StripUnsupportedSchemaKeys removes schema keywords the Gemini API
// rejects ($defs, $ref and default), descending into nested maps and
// lists. The input is not modified.
func StripUnsupportedSchemaKeys(schema map[string]any) map[string]any {
	if schema == nil {
		return nil
	}
	out := make(map[string]any, len(schema))
	for key, value := range schema {
		switch key {
		case "$defs", "$ref", "default":
			continue
		}
		out[key] = stripValue(value)
	}
	return out
}

func stripValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		return StripUnsupportedSchemaKeys(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			if m, ok := item.(map[string]any); ok {
				out[i] = StripUnsupportedSchemaKeys(m)
			} else {
				out[i] = item
			}
		}
		return out
	default:
		return value
	}
}
