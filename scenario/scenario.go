// Package scenario decodes and validates declarative extraction scenarios.
//
// A scenario is JSON or YAML of the form
//
//	{
//	  "name": "products",
//	  "root": {"fields": [FieldSpec, ...]},
//	  "locators": [LocatorSpec, ...],
//	  "pagination": {"mode": "fixed", "selector": "a.next", "max_pages": 3}
//	}
//
// The colon-prefixed keys ":name", ":root" and ":locators" are accepted as
// aliases. Selectors may be a single object or a list and are always
// normalized to a list.
package scenario

import (
	"errors"
	"fmt"
	"time"

	"github.com/pevans/plugcrawl/convert"
)

// Custom errors for scenario validation
var (
	ErrScenarioInvalid = errors.New("scenario invalid")
	ErrLocatorShape    = errors.New("locator selector must be an object or a list")
)

// ValidationError describes what is wrong with a scenario and where.
type ValidationError struct {
	Path string
	Msg  string

	// kind is an extra sentinel matched by errors.Is, such as
	// convert.ErrUnsupportedFieldType or ErrLocatorShape.
	kind error
}

func (e *ValidationError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %s", ErrScenarioInvalid, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %s", ErrScenarioInvalid, e.Path, e.Msg)
}

// Unwrap returns ErrScenarioInvalid and, when set, the more specific kind.
func (e *ValidationError) Unwrap() []error {
	if e.kind != nil {
		return []error{ErrScenarioInvalid, e.kind}
	}
	return []error{ErrScenarioInvalid}
}

func invalid(path, format string, args ...any) *ValidationError {
	return &ValidationError{Path: path, Msg: fmt.Sprintf(format, args...)}
}

// Selector is one lookup alternative.
type Selector struct {
	CSS       string
	Attribute string
}

// Options controls how a field is resolved.
type Options struct {
	Many     bool
	Required bool
	Default  any
	Type     convert.Type
}

// Field is one named value to extract.
type Field struct {
	Name      string
	Selectors []Selector
	Options   Options
}

// LocatorOptions controls the output shape of a locator.
type LocatorOptions struct {
	Flat bool
}

// Locator is a repeated container with its own fields.
type Locator struct {
	Name      string
	Selectors []Selector
	Fields    []Field
	Options   LocatorOptions
}

// Pagination modes
const (
	ModeFixed    = "fixed"
	ModeInfinite = "infinite"
)

// Pagination describes how more containers are obtained. A cap of zero
// means unset.
type Pagination struct {
	Mode          string
	Next          Selector
	MaxPages      int
	MaxContainers int
	MaxLoads      int
	Wait          time.Duration
}

// Scenario is the validated form of a scenario document. It is immutable
// after parsing and safe to share.
type Scenario struct {
	Name       string
	Root       []Field
	Locators   []Locator
	Pagination *Pagination
}
