package plugcrawl

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/pevans/plugcrawl/page"
	"github.com/pevans/plugcrawl/scenario"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const shopHTML = `<html><body>
<h1>Shop</h1>
<ul class="tags">
  <li class="tag"><b>a</b></li>
  <li class="tag"><b>b</b></li>
</ul>
<div class="product"><span class="p">1</span></div>
<div class="product"><span class="p">2</span></div>
<div class="promo"><span class="p">3</span></div>
</body></html>`

func textSel(css string) map[string]any {
	return map[string]any{"css": css, "attribute": "text"}
}

func shopScenario(name string, flat bool) map[string]any {
	locators := []any{
		map[string]any{
			"name":     "tags",
			"selector": map[string]any{"css": "li.tag", "attribute": "text"},
			"fields":   []any{map[string]any{"name": "t", "selector": textSel("b")}},
		},
	}
	if flat {
		locators = append(locators, map[string]any{
			"name": "products",
			"selector": []any{
				map[string]any{"css": "div.product", "attribute": "text"},
				map[string]any{"css": "div.promo", "attribute": "text"},
			},
			"fields": []any{map[string]any{
				"name":     "p",
				"selector": textSel(".p"),
				"options":  map[string]any{"type": "int"},
			}},
			"options": map[string]any{"flat": true},
		})
	}

	doc := map[string]any{
		"root": map[string]any{"fields": []any{
			map[string]any{"name": "title", "selector": textSel("h1")},
		}},
		"locators": locators,
	}
	if name != "" {
		doc["name"] = name
	}
	return doc
}

// TestPipeline_FlatDeepMerge verifies every flat record carries the full
// deep payload and the root fields
func TestPipeline_FlatDeepMerge(t *testing.T) {
	pg := mustPage(t, shopHTML)
	p := New(FromMap(shopScenario("shop", true)))

	r, err := p.Run(context.Background(), pg, nil)
	require.NoError(t, err)
	require.True(t, r.Flat)

	tags := []Record{{"t": "a"}, {"t": "b"}}
	want := []Record{
		{"p": 1, "index_products": 0, "tags": tags, "title": "Shop"},
		{"p": 2, "index_products": 1, "tags": tags, "title": "Shop"},
		{"p": 3, "index_products": 2, "tags": tags, "title": "Shop"},
	}
	assert.Equal(t, want, r.Records, "locator selectors are unioned in order")
	assert.Equal(t, Record{"shop": want}, r.Value())
	assert.Equal(t, 3, r.Len())
}

// TestPipeline_DeepOnly verifies a single merged record is returned when no
// locator is flat
func TestPipeline_DeepOnly(t *testing.T) {
	pg := mustPage(t, shopHTML)
	p := New(FromMap(shopScenario("shop", false)))

	r, err := p.Run(context.Background(), pg, Record{"url": "http://shop.example/"})
	require.NoError(t, err)
	assert.False(t, r.Flat)
	assert.Equal(t, Record{
		"title": "Shop",
		"url":   "http://shop.example/",
		"tags":  []Record{{"t": "a"}, {"t": "b"}},
	}, r.Value())
	assert.Equal(t, 1, r.Len())
}

func TestPipeline_InputWins(t *testing.T) {
	pg := mustPage(t, shopHTML)
	p := New(FromMap(shopScenario("shop", false)))

	r, err := p.Extract(context.Background(), pg, Record{"title": "from caller"})
	require.NoError(t, err)
	assert.Equal(t, "from caller", r.Record["title"])
}

// TestPipeline_RequiredFieldAborts verifies a missing required field inside a
// locator fails the whole run
func TestPipeline_RequiredFieldAborts(t *testing.T) {
	doc := shopScenario("shop", false)
	doc["locators"] = append(doc["locators"].([]any), map[string]any{
		"name":     "products",
		"selector": map[string]any{"css": "div.product", "attribute": "text"},
		"fields": []any{map[string]any{
			"name":     "sku",
			"selector": textSel(".sku"),
			"options":  map[string]any{"required": true},
		}},
	})

	r, err := New(FromMap(doc)).Run(context.Background(), mustPage(t, shopHTML), nil)
	assert.ErrorIs(t, err, ErrRequiredFieldMissing)
	assert.Equal(t, Result{}, r)
}

func TestPipeline_Identity(t *testing.T) {
	named := New(FromMap(shopScenario("shop", false)))
	assert.Equal(t, "shop", named.Identity())

	unnamed := New(FromMap(shopScenario("", false)))
	id := unnamed.Identity()
	assert.Regexp(t, regexp.MustCompile(`^UnnamedPipeline_[0-9a-f]{7}$`), id)
	assert.Equal(t, id, unnamed.Identity(), "identity is stable")
	assert.Equal(t, id, unnamed.String())

	r, err := unnamed.Run(context.Background(), mustPage(t, shopHTML), nil)
	require.NoError(t, err)
	assert.Equal(t, id, r.Identity)
}

func TestPipeline_InvalidScenario(t *testing.T) {
	calls := 0
	p := New(func() (*scenario.Scenario, error) {
		calls++
		return nil, errors.New("no scenario here")
	})
	_, err := p.Run(context.Background(), mustPage(t, shopHTML), nil)
	require.Error(t, err)
	_, err = p.Run(context.Background(), mustPage(t, shopHTML), nil)
	require.Error(t, err)
	assert.Equal(t, 1, calls, "source is consulted once")

	_, err = New(nil).Run(context.Background(), mustPage(t, shopHTML), nil)
	assert.ErrorIs(t, err, ErrScenarioInvalid)

	_, err = New(FromFile(filepath.Join(t.TempDir(), "missing.json"))).Scenario()
	assert.ErrorIs(t, err, ErrScenarioInvalid)

	_, err = New(FromScenario(nil)).Scenario()
	assert.ErrorIs(t, err, ErrScenarioInvalid)
}

func TestPipeline_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shop.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: shop-yaml
root:
  fields:
    - name: title
      selector: {css: h1, attribute: text}
`), 0o600))

	r, err := New(FromFile(path)).Run(context.Background(), mustPage(t, shopHTML), nil)
	require.NoError(t, err)
	assert.Equal(t, Record{"title": "Shop"}, r.Value())
	assert.Equal(t, "shop-yaml", r.Identity)
}

// TestPipeline_Hooks verifies prepare runs before extraction and finalize
// sees the merged result
func TestPipeline_Hooks(t *testing.T) {
	var preparedURL string
	p := New(FromMap(shopScenario("shop", true)),
		WithPrepare(func(_ context.Context, pg page.Page) error {
			preparedURL = pg.URL()
			return nil
		}),
		WithFinalize(func(r Result) Result {
			r.Records = r.Records[:1]
			return r
		}),
	)

	r, err := p.Run(context.Background(), mustPage(t, shopHTML), nil)
	require.NoError(t, err)
	assert.Equal(t, "http://shop.example/chair", preparedURL)
	assert.Equal(t, 1, r.Len())

	failing := New(FromMap(shopScenario("shop", true)),
		WithPrepare(func(context.Context, page.Page) error {
			return errors.New("captcha")
		}),
	)
	_, err = failing.Run(context.Background(), mustPage(t, shopHTML), nil)
	assert.ErrorContains(t, err, "captcha")
}

// TestPipeline_Unprocessed verifies fields without hooks are listed and logged
// at debug level
func TestPipeline_Unprocessed(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	procs := NewProcessors().Value("title", func(_ context.Context, v any) (any, error) {
		return v, nil
	})

	p := New(FromMap(shopScenario("shop", true)), WithProcessors(procs), WithLogger(logger))
	names, err := p.Unprocessed()
	require.NoError(t, err)
	assert.Equal(t, []string{"t", "p"}, names)
	assert.Contains(t, buf.String(), "no processing functions for fields")
	assert.Contains(t, buf.String(), "fields=\"[t p]\"")

	buf.Reset()
	bare := New(FromMap(shopScenario("shop", false)), WithLogger(logger))
	names, err = bare.Unprocessed()
	require.NoError(t, err)
	assert.Equal(t, []string{"title", "t"}, names)
	assert.Empty(t, buf.String(), "no hooks configured, nothing to report")

	_, err = New(nil).Unprocessed()
	assert.ErrorIs(t, err, ErrScenarioInvalid)
}

func TestPipeline_Count(t *testing.T) {
	pg := mustPage(t, shopHTML)

	n, err := New(FromMap(shopScenario("shop", true))).Count(context.Background(), pg)
	require.NoError(t, err)
	assert.Equal(t, 3, n, "only flat locators are counted when present")

	n, err = New(FromMap(shopScenario("shop", false))).Count(context.Background(), pg)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

// TestResolve_NonElementContainer verifies container lookups that do not
// yield element handles are rejected
func TestResolve_NonElementContainer(t *testing.T) {
	x := NewExtractor(ExtractorConfig{})
	fake := &textOnlyPage{Page: mustPage(t, shopHTML)}

	sc, err := New(FromMap(shopScenario("shop", false))).Scenario()
	require.NoError(t, err)

	_, err = x.Resolve(context.Background(), fake, sc.Locators[0])
	assert.ErrorIs(t, err, ErrLocatorShape)
}

// textOnlyPage returns strings where element handles are expected.
type textOnlyPage struct {
	page.Page
}

func (textOnlyPage) LocateAll(context.Context, page.Query) ([]any, error) {
	return []any{"not an element"}, nil
}
