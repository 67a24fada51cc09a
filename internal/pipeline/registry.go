package pipeline

import (
	"fmt"
	"sort"

	"usagerelay/pkg/errors"
)

// Constructor builds a handler instance for the consumer reading queue.
type Constructor func(queue string) (Handler, error)

// Registry maps stable handler names to constructors.
type Registry struct {
	constructors map[string]Constructor
}

func NewRegistry() *Registry {
	return &Registry{constructors: make(map[string]Constructor)}
}

func (r *Registry) Register(name string, c Constructor) {
	r.constructors[name] = c
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.constructors))
	for name := range r.constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build resolves an ordered list of handler names for queue. Any unknown name
// or constructor failure aborts the whole build.
func (r *Registry) Build(queue string, names []string) ([]Handler, error) {
	handlers := make([]Handler, 0, len(names))
	for _, name := range names {
		c, ok := r.constructors[name]
		if !ok {
			return nil, errors.ErrConfig.WithMessage("unknown handler %q (known: %v)", name, r.Names())
		}
		h, err := c(queue)
		if err != nil {
			return nil, fmt.Errorf("failed to build handler %s: %w", name, err)
		}
		handlers = append(handlers, h)
	}
	return handlers, nil
}
