package page

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// Selection is the Element handle produced by StaticPage.
type Selection struct {
	sel *goquery.Selection
}

// Handle returns the underlying *goquery.Selection.
func (s *Selection) Handle() any {
	return s.sel
}

// StaticPage implements Navigator over a parsed HTML document. Lookups never
// wait, so Query.Timeout is ignored. Click follows the href of the matched
// element through the page's Fetcher.
type StaticPage struct {
	mu      sync.RWMutex
	url     string
	doc     *goquery.Document
	fetcher *Fetcher

	// appendOnClick makes Click append the fetched body to the current one
	// instead of replacing the document ("load more" behavior).
	appendOnClick bool
}

// NewStaticPage wraps an already parsed document.
func NewStaticPage(pageURL string, doc *goquery.Document) *StaticPage {
	return &StaticPage{
		url: pageURL,
		doc: doc,
	}
}

// ParseHTML parses html and returns a StaticPage for it.
func ParseHTML(pageURL, html string) (*StaticPage, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return NewStaticPage(pageURL, doc), nil
}

// WithFetcher sets the fetcher used by Click.
func (p *StaticPage) WithFetcher(f *Fetcher) *StaticPage {
	p.fetcher = f
	return p
}

// WithAppend makes Click append fetched content rather than replace it.
func (p *StaticPage) WithAppend() *StaticPage {
	p.appendOnClick = true
	return p
}

// URL returns the URL of the current document.
func (p *StaticPage) URL() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.url
}

// Document returns the current document.
func (p *StaticPage) Document() *goquery.Document {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.doc
}

// LocateOne returns the value of the first match of q.
func (p *StaticPage) LocateOne(ctx context.Context, q Query) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	root, err := p.root(q.Scope)
	if err != nil {
		return nil, err
	}

	target := root
	if q.CSS != "" {
		target = root.Find(q.CSS).First()
	}
	if target.Length() == 0 {
		return nil, nil
	}

	return readSelection(target, q.Attribute), nil
}

// LocateAll returns the value of every match of q in document order.
func (p *StaticPage) LocateAll(ctx context.Context, q Query) ([]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	root, err := p.root(q.Scope)
	if err != nil {
		return nil, err
	}

	matches := root
	if q.CSS != "" {
		matches = root.Find(q.CSS)
	}

	values := make([]any, 0, matches.Length())
	matches.Each(func(_ int, s *goquery.Selection) {
		values = append(values, readSelection(s, q.Attribute))
	})
	return values, nil
}

// Click resolves the href of the first element matching css against the
// current URL, fetches it and swaps (or extends) the document.
func (p *StaticPage) Click(ctx context.Context, css string, timeout time.Duration) error {
	if p.fetcher == nil {
		return fmt.Errorf("click %q: %w", css, ErrNoElement)
	}

	p.mu.RLock()
	link := p.doc.Find(css).First()
	href, ok := link.Attr("href")
	base := p.url
	p.mu.RUnlock()

	href = strings.TrimSpace(href)
	if link.Length() == 0 || !ok || href == "" || strings.HasPrefix(href, "javascript:") {
		return fmt.Errorf("click %q: %w", css, ErrNoElement)
	}

	next := resolveHref(base, href)

	fetchCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	doc, err := p.fetcher.Fetch(fetchCtx, next)
	if err != nil {
		return fmt.Errorf("click %q: %w", css, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.appendOnClick {
		p.doc.Find("body").AppendSelection(doc.Find("body").Children())
		// The clicked control was consumed; the fetched page carries the
		// next one, if any.
		link.Remove()
		return nil
	}
	p.doc = doc
	p.url = next
	return nil
}

// Close is a no-op; static pages hold no external resources.
func (p *StaticPage) Close() error {
	return nil
}

func (p *StaticPage) root(scope Element) (*goquery.Selection, error) {
	if scope == nil {
		p.mu.RLock()
		defer p.mu.RUnlock()
		return p.doc.Selection, nil
	}
	s, ok := scope.(*Selection)
	if !ok {
		return nil, fmt.Errorf("scope %T: %w", scope, ErrForeignElement)
	}
	return s.sel, nil
}

func readSelection(s *goquery.Selection, attr string) any {
	switch attr {
	case "":
		return &Selection{sel: s}
	case AttrText:
		return s.Text()
	default:
		if v, ok := s.Attr(attr); ok {
			return v
		}
		return nil
	}
}

// resolveHref resolves href against base. If either is invalid, href is
// returned unchanged.
func resolveHref(base, href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	b, err := url.Parse(base)
	if err != nil || base == "" {
		return u.String()
	}
	return b.ResolveReference(u).String()
}
