package mapcanvas

import (
	"sync"

	"go.uber.org/zap"

	"github.com/sells-group/fieldnotes/internal/model"
)

// Registry binds at most one Canvas per container id.
type Registry struct {
	mu       sync.Mutex
	canvases map[string]*Canvas
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{canvases: make(map[string]*Canvas)}
}

// Initialize creates the canvas for container. When one is already bound it
// is returned unchanged and nothing new is created.
func (r *Registry) Initialize(container string, center model.Coordinate, opts ViewOptions) *Canvas {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.canvases[container]; ok {
		zap.L().Debug("mapcanvas: container already initialized", zap.String("container", container))
		return c
	}

	c := newCanvas(r, container, center, opts.withDefaults())
	r.canvases[container] = c
	return c
}

// Get returns the canvas bound to container.
func (r *Registry) Get(container string) (*Canvas, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.canvases[container]
	return c, ok
}

// Len returns the number of bound canvases.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.canvases)
}

func (r *Registry) unbind(container string, c *Canvas) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.canvases[container] == c {
		delete(r.canvases, container)
	}
}
