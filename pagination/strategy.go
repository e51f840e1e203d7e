package pagination

import (
	"context"
	"log/slog"
	"maps"
	"time"

	"github.com/pevans/plugcrawl"
	"github.com/pevans/plugcrawl/page"
)

// Defaults used when a strategy leaves a setting unset.
const (
	DefaultWait     = 5 * time.Second
	DefaultMaxLoads = 5
)

// PageKey is the record key holding the page number a record was found on.
const PageKey = "page"

// PositionKey is the record key holding the 1-based position of a record
// across all pages.
const PositionKey = "position"

// Extractor performs extraction passes over the current state of a page.
// *plugcrawl.Pipeline implements it.
type Extractor interface {
	Identity() string
	Prepare(ctx context.Context, pg page.Page) error
	Records(ctx context.Context, pg page.Page, input plugcrawl.Record) ([]plugcrawl.Record, error)
	Count(ctx context.Context, pg page.Page) (int, error)
	Finalize(r plugcrawl.Result) plugcrawl.Result
}

// Strategy obtains more containers and collects their records.
type Strategy interface {
	Collect(ctx context.Context, ex Extractor, nav page.Navigator, input plugcrawl.Record, log *slog.Logger) ([]plugcrawl.Record, State, error)
}

// Fixed follows a "next" affordance page by page, extracting each page.
type Fixed struct {
	Next          string
	Wait          time.Duration
	MaxPages      int
	MaxContainers int
}

// Collect runs the fixed pagination loop.
func (f Fixed) Collect(ctx context.Context, ex Extractor, nav page.Navigator, input plugcrawl.Record, log *slog.Logger) ([]plugcrawl.Record, State, error) {
	wait := f.Wait
	if wait <= 0 {
		wait = DefaultWait
	}

	st := NewState(f.MaxPages, f.MaxContainers)
	var out []plugcrawl.Record
	for {
		var ok bool
		if st, ok = st.Guard(); !ok {
			return out, st, nil
		}

		if !st.First() {
			if err := nav.Click(ctx, f.Next, wait); err != nil {
				if ctx.Err() != nil {
					return nil, st, ctx.Err()
				}
				log.Debug("pagination: next page unavailable", "selector", f.Next, "error", err)
				return out, st.Exhaust(), nil
			}
		}
		st = st.Advance()

		recs, err := ex.Records(ctx, nav, tagged(input, PageKey, st.CurrentPage))
		if err != nil {
			return nil, st, err
		}
		if len(recs) == 0 {
			return out, st.Exhaust(), nil
		}

		var keep int
		st, keep = st.Accept(len(recs))
		out = append(out, recs[:keep]...)

		log.Info("pagination: page scraped",
			"page", st.CurrentPage,
			"containers", keep,
			"total", st.ScrapedContainers,
		)
	}
}

// InfiniteScroll activates a "load more" affordance repeatedly, then
// extracts everything that is visible in one pass.
type InfiniteScroll struct {
	More          string
	Wait          time.Duration
	MaxLoads      int
	MaxContainers int
}

// Collect loads more content and runs a single extraction pass.
func (s InfiniteScroll) Collect(ctx context.Context, ex Extractor, nav page.Navigator, input plugcrawl.Record, log *slog.Logger) ([]plugcrawl.Record, State, error) {
	wait := s.Wait
	if wait <= 0 {
		wait = DefaultWait
	}
	maxLoads := s.MaxLoads
	if maxLoads <= 0 {
		maxLoads = DefaultMaxLoads
	}

	st := NewState(0, s.MaxContainers)
	exhausted := false
	for st.Loads < maxLoads {
		if s.MaxContainers > 0 {
			n, err := ex.Count(ctx, nav)
			if err != nil {
				return nil, st, err
			}
			if n >= s.MaxContainers {
				break
			}
		}

		if err := nav.Click(ctx, s.More, wait); err != nil {
			if ctx.Err() != nil {
				return nil, st, ctx.Err()
			}
			log.Debug("pagination: load more unavailable", "selector", s.More, "error", err)
			exhausted = true
			break
		}
		st = st.Loaded()
	}

	st = st.Advance()
	recs, err := ex.Records(ctx, nav, input)
	if err != nil {
		return nil, st, err
	}

	var keep int
	st, keep = st.Accept(len(recs))
	out := recs[:keep]

	log.Info("pagination: listing scraped",
		"loads", st.Loads,
		"containers", keep,
	)

	if exhausted && !st.CapReached() {
		return out, st.Exhaust(), nil
	}
	return out, st.Reach(), nil
}

func tagged(input plugcrawl.Record, key string, value any) plugcrawl.Record {
	out := make(plugcrawl.Record, len(input)+1)
	maps.Copy(out, input)
	out[key] = value
	return out
}
