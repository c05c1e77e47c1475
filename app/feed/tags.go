package feed

import (
	"strings"

	"github.com/lysyi3m/trustfetch/app/sources"
)

// Default tags per source category.
var categoryTags = map[string][]string{
	"newsletter": {"news", "agents"},
	"research":   {"research", "papers"},
	"blog":       {"blog"},
	"framework":  {"frameworks", "tooling"},
	"protocol":   {"protocols", "standards"},
	"vendor":     {"industry"},
	"podcast":    {"podcasts", "audio"},
	"security":   {"security"},
}

// Per-source tags keyed by lowercased source name; they replace the
// category defaults.
var sourceTags = map[string][]string{
	"hugging face blog":      {"open-source", "models"},
	"langchain blog":         {"frameworks", "agents"},
	"simon willison":         {"llm", "tooling"},
	"the batch":              {"news", "research"},
	"openai news":            {"industry", "models"},
	"anthropic news":         {"industry", "models"},
	"google deepmind":        {"research", "models"},
	"model context protocol": {"protocols", "agents"},
}

// TagsFor returns the tag set for a source: descriptor tags first, then
// the per-source table, then the category defaults.
func TagsFor(src sources.Descriptor) []string {
	if len(src.Tags) > 0 {
		return src.Tags
	}
	if tags, ok := sourceTags[strings.ToLower(strings.TrimSpace(src.Name))]; ok {
		return tags
	}
	return categoryTags[strings.ToLower(strings.TrimSpace(src.Category))]
}
