package processor

import (
	"fmt"
	"sort"

	"github.com/nifyacorp/notification-worker/pkg/types"
)

// Registry maps processor tags to their capability. It is populated once at
// startup and read-only afterwards, so lookups take no lock.
type Registry struct {
	processors map[string]Processor
}

// NewRegistry builds a registry from the given processors. Duplicate tags
// are a programming error.
func NewRegistry(processors ...Processor) (*Registry, error) {
	r := &Registry{processors: make(map[string]Processor, len(processors))}
	for _, p := range processors {
		if _, exists := r.processors[p.Type()]; exists {
			return nil, fmt.Errorf("duplicate processor tag %q", p.Type())
		}
		r.processors[p.Type()] = p
	}
	return r, nil
}

// Get returns the processor for tag, or an UnknownProcessorTypeError.
func (r *Registry) Get(tag string) (Processor, error) {
	p, ok := r.processors[tag]
	if !ok {
		return nil, types.NewError(types.KindUnknownProcessor,
			fmt.Sprintf("no processor registered for tag %q", tag), nil).
			WithContext("processor_type", tag)
	}
	return p, nil
}

// Types returns the registered tags, sorted, for the diagnostics surface.
func (r *Registry) Types() []string {
	tags := make([]string, 0, len(r.processors))
	for tag := range r.processors {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}
