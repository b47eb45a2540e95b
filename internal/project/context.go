// Package project tracks which project the operator is working in.
package project

import (
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/fieldnotes/internal/model"
)

// ErrUnknownProject is returned when selecting an id that is not loaded.
var ErrUnknownProject = eris.New("project: unknown project")

// ChangeFunc is called after the selection changes. prev and next are nil
// when nothing was or is selected.
type ChangeFunc func(prev, next *model.Project)

// Context holds the loaded projects and at most one selection. Listeners run
// synchronously on the goroutine that changed the selection, after the
// internal lock is released.
type Context struct {
	mu        sync.RWMutex
	projects  []model.Project
	selected  *model.Project
	listeners []ChangeFunc
}

// New creates a Context over projects with nothing selected.
func New(projects []model.Project) *Context {
	return &Context{projects: append([]model.Project(nil), projects...)}
}

// OnChange registers fn for selection changes.
func (c *Context) OnChange(fn ChangeFunc) {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

// Projects returns the loaded projects.
func (c *Context) Projects() []model.Project {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]model.Project(nil), c.projects...)
}

// SetProjects replaces the loaded projects. A selection whose project is no
// longer listed is dropped; with nothing selected the first project is
// chosen.
func (c *Context) SetProjects(projects []model.Project) {
	c.mu.Lock()
	c.projects = append([]model.Project(nil), projects...)
	prev := c.selected
	var next *model.Project
	if prev != nil {
		next = c.find(prev.ID)
	}
	if next == nil && len(c.projects) > 0 {
		p := c.projects[0]
		next = &p
	}
	c.selected = next
	c.mu.Unlock()

	if !sameProject(prev, next) {
		c.notify(prev, next)
	}
}

// Select makes id the selected project. Re-selecting the current project
// does not notify listeners.
func (c *Context) Select(id string) (model.Project, error) {
	c.mu.Lock()
	next := c.find(id)
	if next == nil {
		c.mu.Unlock()
		return model.Project{}, eris.Wrapf(ErrUnknownProject, "project: %s", id)
	}
	prev := c.selected
	c.selected = next
	c.mu.Unlock()

	if !sameProject(prev, next) {
		c.notify(prev, next)
	}
	return *next, nil
}

// Deselect clears the selection.
func (c *Context) Deselect() {
	c.mu.Lock()
	prev := c.selected
	c.selected = nil
	c.mu.Unlock()

	if prev != nil {
		c.notify(prev, nil)
	}
}

// Selected returns the selected project.
func (c *Context) Selected() (model.Project, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.selected == nil {
		return model.Project{}, false
	}
	return *c.selected, true
}

func (c *Context) find(id string) *model.Project {
	for i := range c.projects {
		if c.projects[i].ID == id {
			p := c.projects[i]
			return &p
		}
	}
	return nil
}

func (c *Context) notify(prev, next *model.Project) {
	c.mu.RLock()
	listeners := append([]ChangeFunc(nil), c.listeners...)
	c.mu.RUnlock()
	for _, fn := range listeners {
		fn(prev, next)
	}
}

func sameProject(a, b *model.Project) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.ID == b.ID
}
