package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seeker/types"
)

func TestParseSourcesTableFullHeader(t *testing.T) {
	table := `| Source ID | Title | Date | Type | URL |
|---|---|---|---|---|
| S1 | Kesavananda Bharati v. State of Kerala | 1973-04-24 | Judgment | ` + "`https://example.org/kb`" + ` |
| S2 | Attention Is All You Need | 2017-06-12 | Paper | "https://arxiv.org/abs/1706.03762" |`

	sources := ParseSourcesTable(table)
	require.Len(t, sources, 2)

	assert.Equal(t, types.Source{
		ID:    "S1",
		Title: "Kesavananda Bharati v. State of Kerala",
		Date:  "1973-04-24",
		Type:  "Judgment",
		URL:   "https://example.org/kb",
	}, sources[0])
	assert.Equal(t, "https://arxiv.org/abs/1706.03762", sources[1].URL)
}

func TestParseSourcesTableMinimalHeaderDefaults(t *testing.T) {
	table := "| ID | Title |\n|----|-------|\n| 7 | Annual Report |"

	sources := ParseSourcesTable(table)
	require.Len(t, sources, 1)
	assert.Equal(t, "7", sources[0].ID)
	assert.Equal(t, "Annual Report", sources[0].Title)
	assert.Equal(t, "N/A", sources[0].Date)
	assert.Equal(t, "N/A", sources[0].Type)
	assert.Empty(t, sources[0].URL)
}

func TestParseSourcesTableMissingMandatoryColumn(t *testing.T) {
	tests := []struct {
		name  string
		table string
	}{
		{
			name:  "no title column",
			table: "| Source ID | Date | Type | URL |\n|---|---|---|---|\n| S1 | 2024-01-01 | News | http://x |",
		},
		{
			name:  "no id column",
			table: "| Title | Date |\n|---|---|\n| Something | 2024-01-01 |",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Nil(t, ParseSourcesTable(tt.table))
		})
	}
}

func TestParseSourcesTableColumnOrderAndAliases(t *testing.T) {
	table := `| Link | Type | Title | SourceID |
| :--- | :---: | ---: | --- |
| [site](https://example.com/a) | Web | Page A | W1 |`

	sources := ParseSourcesTable(table)
	require.Len(t, sources, 1)
	assert.Equal(t, "W1", sources[0].ID)
	assert.Equal(t, "Page A", sources[0].Title)
	assert.Equal(t, "Web", sources[0].Type)
	assert.Equal(t, "N/A", sources[0].Date)
	assert.Equal(t, "https://example.com/a", sources[0].URL)
}

func TestParseSourcesTableRejectsProseWithPipes(t *testing.T) {
	text := "| id | title |\n| this row is not a separator |\n| 1 | Something |"
	assert.Nil(t, ParseSourcesTable(text))
}

func TestParseSourcesTableSkipsBadRows(t *testing.T) {
	table := `Some intro text that is not part of the table.
| ID | Title | Date |
|---|---|---|
| 1 | Complete | 2020 |
| 2 | Too short |
|  | Missing id | 2021 |
| 3 |  | 2022 |
| 4 | Empty date |  |`

	sources := ParseSourcesTable(table)
	require.Len(t, sources, 2)
	assert.Equal(t, "1", sources[0].ID)
	assert.Equal(t, "4", sources[1].ID)
	assert.Equal(t, "N/A", sources[1].Date)
}

func TestParseSourcesTableTooFewLines(t *testing.T) {
	assert.Nil(t, ParseSourcesTable(""))
	assert.Nil(t, ParseSourcesTable("| ID | Title |"))
	assert.Nil(t, ParseSourcesTable("| ID | Title |\n|---|---|"))
}
