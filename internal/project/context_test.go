package project

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/fieldnotes/internal/model"
)

var testProjects = []model.Project{
	{ID: "p1", Name: "Palmetto Fiber"},
	{ID: "p2", Name: "Okeechobee Rd"},
}

type change struct{ prev, next string }

func record(c *Context) *[]change {
	var got []change
	c.OnChange(func(prev, next *model.Project) {
		ch := change{}
		if prev != nil {
			ch.prev = prev.ID
		}
		if next != nil {
			ch.next = next.ID
		}
		got = append(got, ch)
	})
	return &got
}

func TestSelectAndDeselect(t *testing.T) {
	c := New(testProjects)
	got := record(c)

	_, ok := c.Selected()
	assert.False(t, ok)

	p, err := c.Select("p2")
	require.NoError(t, err)
	assert.Equal(t, "Okeechobee Rd", p.Name)

	_, err = c.Select("p2")
	require.NoError(t, err)

	_, err = c.Select("p1")
	require.NoError(t, err)

	c.Deselect()
	c.Deselect()

	assert.Equal(t, []change{{"", "p2"}, {"p2", "p1"}, {"p1", ""}}, *got)
}

func TestSelectUnknown(t *testing.T) {
	c := New(testProjects)
	got := record(c)

	_, err := c.Select("nope")
	assert.ErrorIs(t, err, ErrUnknownProject)
	_, ok := c.Selected()
	assert.False(t, ok)
	assert.Empty(t, *got)
}

func TestSetProjects(t *testing.T) {
	c := New(nil)
	got := record(c)

	c.SetProjects(testProjects)
	sel, ok := c.Selected()
	require.True(t, ok)
	assert.Equal(t, "p1", sel.ID, "first project is selected by default")

	_, err := c.Select("p2")
	require.NoError(t, err)
	c.SetProjects(testProjects)
	sel, _ = c.Selected()
	assert.Equal(t, "p2", sel.ID, "existing selection is kept")

	c.SetProjects(testProjects[:1])
	sel, _ = c.Selected()
	assert.Equal(t, "p1", sel.ID)

	c.SetProjects(nil)
	_, ok = c.Selected()
	assert.False(t, ok)

	assert.Equal(t, []change{{"", "p1"}, {"p1", "p2"}, {"p2", "p1"}, {"p1", ""}}, *got)
	assert.Empty(t, c.Projects())
}
