package feed

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/lysyi3m/trustfetch/app/sources"
)

type Filterer struct{}

func NewFilterer() *Filterer {
	return &Filterer{}
}

// Run returns the entries that pass every filter, in input order.
func (f *Filterer) Run(entries []Entry, filters []sources.Filter) []Entry {
	if len(filters) == 0 {
		return entries
	}

	kept := make([]Entry, 0, len(entries))
	for _, entry := range entries {
		if excluded, reason := f.applyFilters(entry, filters); excluded {
			slog.Debug("Entry filtered", "link", entry.Link, "reason", reason)
			continue
		}
		kept = append(kept, entry)
	}

	return kept
}

func (f *Filterer) applyFilters(entry Entry, filters []sources.Filter) (bool, string) {
	for _, filter := range filters {
		value := f.getFieldValue(entry, filter.Field)

		for _, exclude := range filter.Excludes {
			if f.matchesFilter(value, exclude) {
				return true, fmt.Sprintf("Excluded by %s filter: contains '%s'", filter.Field, exclude)
			}
		}

		if len(filter.Includes) > 0 {
			matched := false
			for _, include := range filter.Includes {
				if f.matchesFilter(value, include) {
					matched = true
					break
				}
			}
			if !matched {
				return true, fmt.Sprintf("Excluded by %s filter: does not contain any of %v", filter.Field, filter.Includes)
			}
		}
	}

	return false, ""
}

func (f *Filterer) matchesFilter(value, pattern string) bool {
	return strings.Contains(strings.ToLower(value), strings.ToLower(pattern))
}

func (f *Filterer) getFieldValue(entry Entry, field string) string {
	switch field {
	case "title":
		return entry.Title
	case "summary":
		return entry.Description + " " + entry.Content
	case "link":
		return entry.Link
	case "categories":
		return strings.Join(entry.Categories, " ")
	default:
		return ""
	}
}
