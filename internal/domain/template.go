// SPDX-License-Identifier: Apache-2.0

package domain

// ScopeTemplate is an authoring preset for credential creation: it prefills
// scope tags and limits on the create form. The stored credential carries
// the materialized values; the matching engine never reads templates.
type ScopeTemplate struct {
	Name      string   `json:"name"`
	ScopeTags []string `json:"scope_tags"`
	Limits    Limits   `json:"limits"`
}

var builtinTemplates = []ScopeTemplate{
	{
		Name:      "text-generation",
		ScopeTags: []string{"text-generation", "code-completion", "conversation"},
		Limits:    Limits{MaxRequestsPerDay: 1000, MaxTokensPerDay: 500000, MaxPayloadKB: 256},
	},
	{
		Name:      "analysis",
		ScopeTags: []string{"text-analysis", "summarization", "sentiment"},
		Limits:    Limits{MaxRequestsPerDay: 2000, MaxTokensPerDay: 1000000, MaxPayloadKB: 512},
	},
	{
		Name:      "vision",
		ScopeTags: []string{"vision", "multimodal", "image-analysis"},
		Limits:    Limits{MaxRequestsPerDay: 500, MaxPayloadKB: 1024},
	},
	{
		Name:      "image-generation",
		ScopeTags: []string{"image-generation"},
		Limits:    Limits{MaxRequestsPerDay: 200, MaxPayloadKB: 2048},
	},
	{
		Name:      "embeddings",
		ScopeTags: []string{"embeddings", "semantic-search"},
		Limits:    Limits{MaxRequestsPerDay: 5000, MaxTokensPerDay: 2000000, MaxPayloadKB: 128},
	},
}

// Templates returns the built-in scope templates.
func Templates() []ScopeTemplate {
	out := make([]ScopeTemplate, len(builtinTemplates))
	copy(out, builtinTemplates)
	return out
}

// TemplateByName looks up a built-in template by its exact name.
func TemplateByName(name string) (ScopeTemplate, bool) {
	for _, tpl := range builtinTemplates {
		if tpl.Name == name {
			return tpl, true
		}
	}
	return ScopeTemplate{}, false
}
