package session

import (
	"sort"
	"strings"
	"time"

	"seeker/types"
)

// DeriveTitle turns the first query of a session into its title: queries
// longer than maxLen runes are cut to maxLen-3 runes plus "...".
func DeriveTitle(query string, maxLen int) string {
	query = strings.TrimSpace(query)
	runes := []rune(query)
	if maxLen <= 3 || len(runes) <= maxLen {
		return query
	}
	return string(runes[:maxLen-3]) + "..."
}

// CollectSources merges the sources cited by every bot message of a transcript.
// A repeated id keeps its first position and its latest value. The result is
// ordered newest date first; dates that cannot be read sort last.
func CollectSources(messages []types.Message) []types.Source {
	index := make(map[string]int)
	var merged []types.Source
	for _, m := range messages {
		if !m.IsBot() {
			continue
		}
		for _, src := range m.Sources {
			if i, ok := index[src.ID]; ok {
				merged[i] = src
				continue
			}
			index[src.ID] = len(merged)
			merged = append(merged, src)
		}
	}

	dates := make([]time.Time, len(merged))
	for i, src := range merged {
		dates[i], _ = parseSourceDate(src.Date)
	}
	order := make([]int, len(merged))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		da, db := dates[order[a]], dates[order[b]]
		if da.IsZero() || db.IsZero() {
			return !da.IsZero() && db.IsZero()
		}
		return da.After(db)
	})

	sorted := make([]types.Source, 0, len(merged))
	for _, i := range order {
		sorted = append(sorted, merged[i])
	}
	return sorted
}

var sourceDateLayouts = []string{
	time.RFC3339,
	"2006-01-02",
	"2006/01/02",
	"2006-01",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
	"2006",
}

func parseSourceDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" || s == types.NotAvailable {
		return time.Time{}, false
	}
	for _, layout := range sourceDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// LatestTrace returns the trace of the most recent bot message, or nil
func LatestTrace(messages []types.Message) *types.Trace {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].IsBot() {
			return messages[i].Trace
		}
	}
	return nil
}
