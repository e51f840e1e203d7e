// Package page defines the element-location capability the extraction engine
// consumes, together with a goquery-backed implementation for static HTML
// documents. Browser-backed pages live in the rodpage subpackage.
package page

import (
	"context"
	"errors"
	"time"
)

// AttrText is the attribute designator that reads an element's text content
// instead of a named attribute.
const AttrText = "text"

// Custom errors for page operations
var (
	ErrNoElement      = errors.New("no matching element")
	ErrForeignElement = errors.New("element does not belong to this page backend")
)

// Element is an opaque handle to one matched element subtree. Handles are
// produced by a Page and are only meaningful to the backend that made them.
type Element interface {
	Handle() any
}

// Query describes one element lookup.
//
// Attribute selects what is returned for each match: AttrText returns the
// element's text content, any other non-empty value returns that attribute
// (nil when absent), and an empty Attribute returns the Element handle
// itself. An empty CSS reads from Scope directly.
type Query struct {
	CSS       string
	Attribute string
	Scope     Element // nil means the whole page
	Timeout   time.Duration
}

// Page is the narrow lookup capability the engine depends on.
//
// LocateOne returns nil when nothing matches. LocateAll returns one entry
// per matched element; a failed read yields nil at that position and never
// aborts the batch. Errors are reserved for failures of the page itself,
// such as a cancelled context or a handle from another backend.
type Page interface {
	URL() string
	LocateOne(ctx context.Context, q Query) (any, error)
	LocateAll(ctx context.Context, q Query) ([]any, error)
}

// Navigator is a Page that can activate an affordance such as a "next" or
// "load more" control. Click returns an error wrapping ErrNoElement when the
// affordance is absent or does not appear within timeout.
type Navigator interface {
	Page
	Click(ctx context.Context, css string, timeout time.Duration) error
}

// Session is a Navigator bound to one opened URL.
type Session interface {
	Navigator
	Close() error
}

// Opener opens a Session for a URL. Navigation, cookies and evasion are the
// opener's concern; the engine only sees the resulting Session.
type Opener interface {
	Open(ctx context.Context, url string) (Session, error)
}
