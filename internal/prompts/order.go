package prompts

import (
	"sort"
	"strings"
	"time"
)

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// parseDate accepts the formats gallery clients have written historically.
// Unparseable values map to the zero time.
func parseDate(value string) time.Time {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return time.Time{}
	}
	for _, layout := range dateLayouts {
		if parsed, err := time.Parse(layout, trimmed); err == nil {
			return parsed
		}
	}
	return time.Time{}
}

// sortByDateDescending orders prompts newest first. The sort is stable, so
// prompts with equal dates keep the order the store enumerated them in.
func sortByDateDescending(items []Prompt) {
	type datedPrompt struct {
		prompt Prompt
		date   time.Time
	}
	dated := make([]datedPrompt, len(items))
	for index, item := range items {
		dated[index] = datedPrompt{prompt: item, date: parseDate(item.Date)}
	}
	sort.SliceStable(dated, func(left, right int) bool {
		return dated[left].date.After(dated[right].date)
	})
	for index := range dated {
		items[index] = dated[index].prompt
	}
}
