package plugcrawl

import (
	"context"
	"fmt"
)

// Processor transforms an extracted value before type conversion. It may
// block, so it receives the extraction context.
type Processor func(ctx context.Context, value any) (any, error)

// Processors maps field names to post-processing hooks. Element hooks run
// on each item of a list value; value hooks run once on the whole value,
// after any element hook.
type Processors struct {
	value   map[string]Processor
	element map[string]Processor
}

// NewProcessors returns an empty table.
func NewProcessors() *Processors {
	return &Processors{
		value:   make(map[string]Processor),
		element: make(map[string]Processor),
	}
}

// Value registers a whole-value hook for field.
func (p *Processors) Value(field string, fn Processor) *Processors {
	p.value[field] = fn
	return p
}

// Element registers a per-item hook for the list field.
func (p *Processors) Element(field string, fn Processor) *Processors {
	p.element[field] = fn
	return p
}

// Has reports whether any hook is registered for field.
func (p *Processors) Has(field string) bool {
	if p == nil {
		return false
	}
	_, v := p.value[field]
	_, e := p.element[field]
	return v || e
}

// Apply runs the hooks registered for field. On failure it returns the
// original value together with an error wrapping ErrProcessorFailure.
func (p *Processors) Apply(ctx context.Context, field string, value any) (any, error) {
	if p == nil {
		return value, nil
	}

	out := value
	if fn, ok := p.element[field]; ok {
		if list, isList := value.([]any); isList {
			items := make([]any, len(list))
			for i, item := range list {
				v, err := call(ctx, fn, item)
				if err != nil {
					return value, fmt.Errorf("%w: %s[%d]: %v", ErrProcessorFailure, field, i, err)
				}
				items[i] = v
			}
			out = items
		}
	}

	if fn, ok := p.value[field]; ok {
		v, err := call(ctx, fn, out)
		if err != nil {
			return value, fmt.Errorf("%w: %s: %v", ErrProcessorFailure, field, err)
		}
		out = v
	}

	return out, nil
}

// call invokes fn, turning a panic into an error.
func call(ctx context.Context, fn Processor, value any) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx, value)
}
