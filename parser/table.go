package parser

import (
	"regexp"
	"strings"

	"seeker/types"
)

// Column aliases, in priority order. The first alias present in the header wins.
var (
	idAliases    = []string{"sourceid", "id"}
	titleAliases = []string{"title"}
	dateAliases  = []string{"date"}
	typeAliases  = []string{"type"}
	urlAliases   = []string{"url", "link"}
)

var (
	separatorRowRe = regexp.MustCompile(`^[|\-:\s]+$`)
	whitespaceRe   = regexp.MustCompile(`\s+`)
	markdownLinkRe = regexp.MustCompile(`^\[[^\]]*\]\(([^)\s]+)[^)]*\)$`)
)

// ParseSourcesTable parses a Markdown pipe-table into source records.
//
// The header row and separator row are required; the id and title columns
// are mandatory and a table missing either yields no records at all.
// Returns nil when no valid row is recovered.
func ParseSourcesTable(text string) []types.Source {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if len(line) >= 2 && strings.HasPrefix(line, "|") && strings.HasSuffix(line, "|") {
			lines = append(lines, line)
		}
	}
	if len(lines) < 2 {
		return nil
	}

	// prose with stray pipes must not be read as a table
	if !separatorRowRe.MatchString(lines[1]) || !strings.Contains(lines[1], "-") {
		return nil
	}

	headers := splitRow(lines[0])
	for i, h := range headers {
		headers[i] = whitespaceRe.ReplaceAllString(strings.ToLower(h), "")
	}

	idIndex := findColumn(headers, idAliases)
	titleIndex := findColumn(headers, titleAliases)
	if idIndex == -1 || titleIndex == -1 {
		return nil
	}
	dateIndex := findColumn(headers, dateAliases)
	typeIndex := findColumn(headers, typeAliases)
	urlIndex := findColumn(headers, urlAliases)

	var sources []types.Source
	for _, line := range lines[2:] {
		cells := splitRow(line)
		if len(cells) < len(headers) {
			continue
		}

		source := types.Source{
			ID:    cells[idIndex],
			Title: cells[titleIndex],
			Date:  cellOrDefault(cells, dateIndex),
			Type:  cellOrDefault(cells, typeIndex),
		}
		if source.ID == "" || source.Title == "" {
			continue
		}
		if urlIndex != -1 {
			source.URL = cleanURL(cells[urlIndex])
		}
		sources = append(sources, source)
	}

	if len(sources) == 0 {
		return nil
	}
	return sources
}

// splitRow splits a table line into trimmed cells, dropping the empty slices
// produced by the bounding pipes
func splitRow(line string) []string {
	line = strings.TrimSpace(line)
	line = strings.TrimPrefix(line, "|")
	line = strings.TrimSuffix(line, "|")

	cells := strings.Split(line, "|")
	for i, c := range cells {
		cells[i] = strings.TrimSpace(c)
	}
	return cells
}

func findColumn(headers []string, aliases []string) int {
	for _, alias := range aliases {
		for i, h := range headers {
			if h == alias {
				return i
			}
		}
	}
	return -1
}

func cellOrDefault(cells []string, index int) string {
	if index == -1 || cells[index] == "" {
		return types.NotAvailable
	}
	return cells[index]
}

// cleanURL strips surrounding backticks and quotes and unwraps Markdown links
func cleanURL(cell string) string {
	url := strings.Trim(strings.TrimSpace(cell), "`\"'")
	if m := markdownLinkRe.FindStringSubmatch(url); m != nil {
		url = m[1]
	}
	url = strings.Trim(strings.TrimSpace(url), "<>`\"'")
	if url == types.NotAvailable || url == "-" {
		return ""
	}
	return url
}
