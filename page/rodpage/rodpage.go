// Package rodpage adapts a go-rod browser tab to the page capability used by
// the extraction engine.
package rodpage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/pevans/plugcrawl/page"
	"golang.org/x/sync/errgroup"
)

// maxParallelReads bounds concurrent attribute reads in LocateAll.
const maxParallelReads = 16

// element is the Element handle produced by Page.
type element struct {
	el *rod.Element
}

// Handle returns the underlying *rod.Element.
func (e *element) Handle() any {
	return e.el
}

// Page implements page.Session on top of a rod tab.
type Page struct {
	page   *rod.Page
	settle time.Duration
	logger *slog.Logger
}

// Option configures a Page.
type Option func(*Page)

// WithSettle sets how long the network must be idle after a click before the
// page counts as settled.
func WithSettle(d time.Duration) Option {
	return func(p *Page) {
		p.settle = d
	}
}

// WithLogger sets the page logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Page) {
		p.logger = logger
	}
}

// New wraps a rod page.
func New(p *rod.Page, opts ...Option) *Page {
	rp := &Page{
		page:   p,
		settle: 500 * time.Millisecond,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(rp)
	}
	return rp
}

// Rod returns the underlying rod page.
func (p *Page) Rod() *rod.Page {
	return p.page
}

// URL returns the tab's current URL, or "" if it cannot be read.
func (p *Page) URL() string {
	info, err := p.page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

// LocateOne waits up to q.Timeout for the first match and reads it.
func (p *Page) LocateOne(ctx context.Context, q page.Query) (any, error) {
	target, err := p.first(ctx, q)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return nil, nil
	}
	return p.read(ctx, target, q.Attribute, q.Timeout), nil
}

// LocateAll reads every current match of q. Reads run concurrently; the
// returned slice keeps document order and holds nil where a read failed.
func (p *Page) LocateAll(ctx context.Context, q page.Query) ([]any, error) {
	els, err := p.all(ctx, q)
	if err != nil {
		return nil, err
	}

	values := make([]any, len(els))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelReads)
	for i, el := range els {
		g.Go(func() error {
			values[i] = p.read(gctx, el, q.Attribute, q.Timeout)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return values, nil
}

// Click waits for css, clicks it and waits for network activity to settle.
func (p *Page) Click(ctx context.Context, css string, timeout time.Duration) error {
	el, err := p.scoped(ctx, timeout).Element(css)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("click %q: %w", css, page.ErrNoElement)
	}
	el = el.CancelTimeout()

	if err := el.ScrollIntoView(); err != nil {
		p.logger.Debug("rodpage: scroll into view failed", "selector", css, "error", err)
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("click %q: %w", css, err)
	}

	// Don't hang on persistent connections (websockets, polling).
	p.scoped(ctx, timeout).WaitRequestIdle(p.settle, nil, nil, nil)()
	return nil
}

// scoped returns the page bound to ctx, with timeout applied when positive.
func (p *Page) scoped(ctx context.Context, timeout time.Duration) *rod.Page {
	rp := p.page.Context(ctx)
	if timeout > 0 {
		rp = rp.Timeout(timeout)
	}
	return rp
}

// Close closes the tab.
func (p *Page) Close() error {
	return p.page.Close()
}

// first resolves the first element matching q, or nil when none appears in
// time.
func (p *Page) first(ctx context.Context, q page.Query) (*rod.Element, error) {
	scope, err := scopeOf(q.Scope)
	if err != nil {
		return nil, err
	}
	if q.CSS == "" {
		if scope == nil {
			return nil, nil
		}
		return scope, nil
	}

	var el *rod.Element
	if scope != nil {
		scoped := scope.Context(ctx)
		if q.Timeout > 0 {
			scoped = scoped.Timeout(q.Timeout)
		}
		el, err = scoped.Element(q.CSS)
	} else {
		el, err = p.scoped(ctx, q.Timeout).Element(q.CSS)
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// Timeouts and "not found" both mean no value.
		return nil, nil
	}
	return el.CancelTimeout(), nil
}

// all resolves every element currently matching q without waiting.
func (p *Page) all(ctx context.Context, q page.Query) (rod.Elements, error) {
	scope, err := scopeOf(q.Scope)
	if err != nil {
		return nil, err
	}
	if q.CSS == "" {
		if scope == nil {
			return nil, nil
		}
		return rod.Elements{scope}, nil
	}

	var els rod.Elements
	if scope != nil {
		els, err = scope.Context(ctx).Elements(q.CSS)
	} else {
		els, err = p.page.Context(ctx).Elements(q.CSS)
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var notFound *rod.ElementNotFoundError
		if errors.As(err, &notFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("locate %q: %w", q.CSS, err)
	}
	return els, nil
}

// read extracts the requested value from el. Failures yield nil.
func (p *Page) read(ctx context.Context, el *rod.Element, attr string, timeout time.Duration) any {
	if attr == "" {
		return &element{el: el}
	}

	scoped := el.Context(ctx)
	if timeout > 0 {
		scoped = scoped.Timeout(timeout)
	}

	if attr == page.AttrText {
		text, err := scoped.Text()
		if err != nil {
			return nil
		}
		return text
	}

	v, err := scoped.Attribute(attr)
	if err != nil || v == nil {
		return nil
	}
	return *v
}

func scopeOf(scope page.Element) (*rod.Element, error) {
	if scope == nil {
		return nil, nil
	}
	e, ok := scope.(*element)
	if !ok {
		return nil, fmt.Errorf("scope %T: %w", scope, page.ErrForeignElement)
	}
	return e.el, nil
}
