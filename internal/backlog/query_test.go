package backlog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractFromQuery(t *testing.T) {
	query := "Run this backlog:\n\n```json\n{\"stories\": [{\"id\": \"t1\", \"title\": \"x\", \"priority\": 1}]}\n```\n\nThanks."

	b, err := ExtractFromQuery(query)

	require.NoError(t, err)
	require.Len(t, b.Stories, 1)
	assert.Equal(t, "t1", b.Stories[0].ID)
}

func TestExtractFromQuery_NoBlock(t *testing.T) {
	_, err := ExtractFromQuery("no document here")
	require.ErrorIs(t, err, ErrNoPRDFound)
}

func TestExtractFromQuery_MalformedBlock(t *testing.T) {
	_, err := ExtractFromQuery("```json\n{broken\n```")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoPRDFound)
}

func TestExtractContext(t *testing.T) {
	query := "## PRD\nstuff\n\n## Additional Context\nUse the staging database.\n\n## Other\nmore"

	assert.Equal(t, "Use the staging database.", ExtractContext(query))
}

func TestExtractContext_LastSection(t *testing.T) {
	query := "intro\n## Additional Context\ntrailing context"

	assert.Equal(t, "trailing context", ExtractContext(query))
}

func TestExtractContext_Absent(t *testing.T) {
	assert.Equal(t, "", ExtractContext("nothing relevant"))
}
