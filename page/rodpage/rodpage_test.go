package rodpage

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-rod/rod/lib/launcher"
	"github.com/pevans/plugcrawl/page"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fixtureHTML = `<html><body>
<h1>Chairs</h1>
<ul>
  <li class="item" data-sku="a1"><span class="name">Alpha</span></li>
  <li class="item"><span class="name">Beta</span></li>
  <li class="item" data-sku="c3"><span class="name">Gamma</span></li>
</ul>
</body></html>`

// Test helper: open the fixture in a headless browser, skipping when no
// browser is available
func openFixture(t *testing.T) *Page {
	t.Helper()
	if _, ok := launcher.LookPath(); !ok {
		t.Skip("no Chrome/Chromium found")
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(fixtureHTML))
	}))
	t.Cleanup(srv.Close)

	b, err := Launch(Options{Headless: true, Settle: 100 * time.Millisecond})
	if err != nil {
		t.Skipf("browser could not be started: %v", err)
	}
	t.Cleanup(func() { b.Close() })

	sess, err := b.Open(context.Background(), srv.URL)
	require.NoError(t, err)
	t.Cleanup(func() { sess.Close() })

	p, ok := sess.(*Page)
	require.True(t, ok, "session should be a rod page")
	return p
}

// TestPage_LocateAll verifies results keep document order and hold nil where
// an element lacks the attribute
func TestPage_LocateAll(t *testing.T) {
	p := openFixture(t)
	ctx := context.Background()

	skus, err := p.LocateAll(ctx, page.Query{CSS: "li.item", Attribute: "data-sku", Timeout: time.Second})
	require.NoError(t, err)
	assert.Equal(t, []any{"a1", nil, "c3"}, skus)

	names, err := p.LocateAll(ctx, page.Query{CSS: "li.item .name", Attribute: page.AttrText, Timeout: time.Second})
	require.NoError(t, err)
	assert.Equal(t, []any{"Alpha", "Beta", "Gamma"}, names)

	none, err := p.LocateAll(ctx, page.Query{CSS: "li.missing", Attribute: page.AttrText})
	require.NoError(t, err)
	assert.Empty(t, none)
}

// TestPage_ScopedLookup verifies container handles scope nested lookups
func TestPage_ScopedLookup(t *testing.T) {
	p := openFixture(t)
	ctx := context.Background()

	handles, err := p.LocateAll(ctx, page.Query{CSS: "li.item"})
	require.NoError(t, err)
	require.Len(t, handles, 3)

	scope, ok := handles[1].(page.Element)
	require.True(t, ok)
	name, err := p.LocateOne(ctx, page.Query{CSS: ".name", Attribute: page.AttrText, Scope: scope, Timeout: time.Second})
	require.NoError(t, err)
	assert.Equal(t, "Beta", name)
}

func TestPage_LocateOneMissing(t *testing.T) {
	p := openFixture(t)

	v, err := p.LocateOne(context.Background(), page.Query{CSS: "h2", Attribute: page.AttrText, Timeout: 200 * time.Millisecond})
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestPage_ClickMissing(t *testing.T) {
	p := openFixture(t)

	err := p.Click(context.Background(), "a.next", 200*time.Millisecond)
	assert.ErrorIs(t, err, page.ErrNoElement)
}
