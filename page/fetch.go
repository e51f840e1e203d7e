package page

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// DefaultUserAgent identifies plugcrawl when no user agent is configured.
const DefaultUserAgent = "plugcrawl/1.0 (scenario-driven extraction)"

// Fetcher retrieves HTML documents over HTTP and opens them as StaticPages.
type Fetcher struct {
	client    *http.Client
	userAgent string
	headers   map[string]string
	append    bool
}

// NewFetcher creates a Fetcher. If client is nil, a client with a 10 second
// timeout is used.
func NewFetcher(client *http.Client, userAgent string, headers map[string]string) *Fetcher {
	if client == nil {
		client = &http.Client{
			Timeout: 10 * time.Second,
		}
	}
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	return &Fetcher{
		client:    client,
		userAgent: userAgent,
		headers:   headers,
	}
}

// AppendOnClick makes pages opened by this fetcher accumulate content when
// clicked, which is how infinite-scroll listings behave.
func (f *Fetcher) AppendOnClick() *Fetcher {
	f.append = true
	return f
}

// Fetch performs a GET request and parses the response body.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", f.userAgent)
	for k, v := range f.headers {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP error: %d %s", resp.StatusCode, resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	return doc, nil
}

// Open fetches url and wraps it in a StaticPage that can follow links
// through this fetcher.
func (f *Fetcher) Open(ctx context.Context, url string) (Session, error) {
	doc, err := f.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}

	p := NewStaticPage(url, doc).WithFetcher(f)
	if f.append {
		p.WithAppend()
	}
	return p, nil
}
