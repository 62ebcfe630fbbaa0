package session

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"seeker/types"
)

func TestDeriveTitle(t *testing.T) {
	tests := []struct {
		name  string
		query string
		max   int
		want  string
	}{
		{"short", "GDPR fines", 30, "GDPR fines"},
		{"exactly max", "123456789012345678901234567890", 30, "123456789012345678901234567890"},
		{"one over", "1234567890123456789012345678901", 30, "123456789012345678901234567..."},
		{"trims whitespace", "  padded query  ", 30, "padded query"},
		{"counts runes", "Überprüfung der Datenschutzgrundverordnung", 20, "Überprüfung der D..."},
		{"tiny max keeps query", "abcdef", 3, "abcdef"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveTitle(tt.query, tt.max))
		})
	}
}

func bot(sources ...types.Source) types.Message {
	return types.Message{Sender: types.SenderBot, Sources: sources}
}

func TestCollectSources(t *testing.T) {
	messages := []types.Message{
		bot(
			types.Source{ID: "1", Title: "Old policy", Date: "2021-06-01"},
			types.Source{ID: "2", Title: "Undated memo", Date: types.NotAvailable},
		),
		{Sender: types.SenderUser, Sources: []types.Source{{ID: "9", Date: "2030-01-01"}}},
		bot(
			types.Source{ID: "3", Title: "New ruling", Date: "2024-02-15"},
			types.Source{ID: "1", Title: "Old policy (rev)", Date: "2021-06-01"},
			types.Source{ID: "4", Title: "Garbled", Date: "sometime"},
			types.Source{ID: "5", Title: "Long date", Date: "March 3, 2023"},
		),
	}

	sources := CollectSources(messages)

	var ids []string
	for _, s := range sources {
		ids = append(ids, s.ID)
	}
	assert.Equal(t, []string{"3", "5", "1", "2", "4"}, ids)
	assert.Equal(t, "Old policy (rev)", sources[2].Title)
}

func TestCollectSourcesEmpty(t *testing.T) {
	assert.Empty(t, CollectSources(nil))
	assert.Empty(t, CollectSources([]types.Message{bot()}))
}

func TestLatestTrace(t *testing.T) {
	first := &types.Trace{Plan: []string{"first"}}
	messages := []types.Message{
		{Sender: types.SenderBot, Trace: first},
		{Sender: types.SenderUser, Text: "follow-up"},
	}
	assert.Same(t, first, LatestTrace(messages))

	messages = append(messages, types.Message{Sender: types.SenderBot})
	assert.Nil(t, LatestTrace(messages))
	assert.Nil(t, LatestTrace(nil))
}
