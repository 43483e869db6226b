package backlog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Valid(t *testing.T) {
	data := []byte(`{
		"title": "Auth service",
		"stories": [
			{"id": "t1", "title": "Login endpoint", "priority": 1, "acceptanceCriteria": ["returns 200"]},
			{"id": "t2", "title": "Logout endpoint", "priority": 2}
		]
	}`)

	b, err := Parse(data)

	require.NoError(t, err)
	assert.Equal(t, "Auth service", b.Title)
	require.Len(t, b.Stories, 2)
	assert.Equal(t, "t1", b.Stories[0].ID)
	assert.False(t, b.Stories[0].Passes)
}

func TestParse_InvalidJSON(t *testing.T) {
	_, err := Parse([]byte(`{"stories": [`))
	require.Error(t, err)
}

func TestParse_EmptyBacklog(t *testing.T) {
	_, err := Parse([]byte(`{"stories": []}`))
	require.ErrorIs(t, err, ErrEmptyBacklog)
}

func TestParse_DuplicateIDs(t *testing.T) {
	data := []byte(`{"stories": [
		{"id": "t1", "title": "a", "priority": 1},
		{"id": "t1", "title": "b", "priority": 2}
	]}`)

	_, err := Parse(data)

	require.ErrorIs(t, err, ErrDuplicateStoryID)
}

func TestNext_LowestPriorityWins(t *testing.T) {
	b := &Backlog{Stories: []Story{
		{ID: "low", Priority: 5},
		{ID: "high", Priority: 1},
		{ID: "mid", Priority: 3},
	}}

	next := b.Next()

	require.NotNil(t, next)
	assert.Equal(t, "high", next.ID)
}

func TestNext_TiesPreserveOrder(t *testing.T) {
	b := &Backlog{Stories: []Story{
		{ID: "first", Priority: 1},
		{ID: "second", Priority: 1},
	}}

	next := b.Next()

	require.NotNil(t, next)
	assert.Equal(t, "first", next.ID)
}

func TestNext_SkipsPassingStories(t *testing.T) {
	b := &Backlog{Stories: []Story{
		{ID: "done", Priority: 1, Passes: true},
		{ID: "todo", Priority: 2},
	}}

	next := b.Next()

	require.NotNil(t, next)
	assert.Equal(t, "todo", next.ID)
}

func TestNext_AllPassing(t *testing.T) {
	b := &Backlog{Stories: []Story{
		{ID: "t1", Priority: 1, Passes: true},
	}}

	assert.Nil(t, b.Next())
}

func TestMark(t *testing.T) {
	b := &Backlog{Stories: []Story{{ID: "t1"}, {ID: "t2"}}}

	assert.True(t, b.Mark("t2", true))
	assert.True(t, b.Stories[1].Passes)
	assert.False(t, b.Mark("missing", true))
}

func TestMark_SameVerdictTwiceIsStable(t *testing.T) {
	b := &Backlog{Stories: []Story{{ID: "t1"}}}

	assert.True(t, b.Mark("t1", true))
	assert.True(t, b.Mark("t1", true))
	assert.True(t, b.Stories[0].Passes)
	assert.Equal(t, 1, b.CompletedCount())
}

func TestAllComplete(t *testing.T) {
	empty := &Backlog{}
	assert.False(t, empty.AllComplete(), "zero stories is never complete")

	partial := &Backlog{Stories: []Story{{ID: "t1", Passes: true}, {ID: "t2"}}}
	assert.False(t, partial.AllComplete())

	full := &Backlog{Stories: []Story{{ID: "t1", Passes: true}, {ID: "t2", Passes: true}}}
	assert.True(t, full.AllComplete())
}

func TestCompletedCount(t *testing.T) {
	b := &Backlog{Stories: []Story{
		{ID: "t1", Passes: true},
		{ID: "t2"},
		{ID: "t3", Passes: true},
	}}

	assert.Equal(t, 2, b.CompletedCount())
}

func TestClone_Independent(t *testing.T) {
	orig := &Backlog{Stories: []Story{
		{ID: "t1", AcceptanceCriteria: []string{"works"}},
	}}

	clone := orig.Clone()
	clone.Stories[0].Passes = true
	clone.Stories[0].AcceptanceCriteria[0] = "changed"

	assert.False(t, orig.Stories[0].Passes)
	assert.Equal(t, "works", orig.Stories[0].AcceptanceCriteria[0])
}
