package plugcrawl

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pevans/plugcrawl/convert"
	"github.com/pevans/plugcrawl/page"
	"github.com/pevans/plugcrawl/scenario"
)

// Timeouts controls how long each selector attempt may wait for a match.
type Timeouts struct {
	// Fallback applies to each attempt when a field has several alternative
	// selectors, so a miss falls through to the next one quickly.
	Fallback time.Duration
	// Single applies when a field has exactly one selector.
	Single time.Duration
}

// DefaultTimeouts returns the default selector tiers.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Fallback: 250 * time.Millisecond,
		Single:   2 * time.Second,
	}
}

// ExtractorConfig holds configuration for an Extractor. Zero values select
// the defaults.
type ExtractorConfig struct {
	Processors *Processors
	Logger     *slog.Logger
	Timeouts   Timeouts
}

// Extractor resolves fields and locators against a page.
type Extractor struct {
	processors *Processors
	logger     *slog.Logger
	timeouts   Timeouts
}

// NewExtractor creates an Extractor.
func NewExtractor(cfg ExtractorConfig) *Extractor {
	defaults := DefaultTimeouts()
	if cfg.Timeouts.Fallback <= 0 {
		cfg.Timeouts.Fallback = defaults.Fallback
	}
	if cfg.Timeouts.Single <= 0 {
		cfg.Timeouts.Single = defaults.Single
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Extractor{
		processors: cfg.Processors,
		logger:     cfg.Logger,
		timeouts:   cfg.Timeouts,
	}
}

// timeoutFor picks the per-attempt timeout for n alternative selectors.
func (x *Extractor) timeoutFor(n int) time.Duration {
	if n > 1 {
		return x.timeouts.Fallback
	}
	return x.timeouts.Single
}

// Extract resolves one field. scope limits lookups to a container; nil means
// the whole page.
func (x *Extractor) Extract(ctx context.Context, pg page.Page, f scenario.Field, scope page.Element) (any, error) {
	timeout := x.timeoutFor(len(f.Selectors))

	var value any
	for _, s := range f.Selectors {
		q := page.Query{
			CSS:       s.CSS,
			Attribute: s.Attribute,
			Scope:     scope,
			Timeout:   timeout,
		}

		if f.Options.Many {
			values, err := pg.LocateAll(ctx, q)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", f.Name, err)
			}
			value = values
		} else {
			v, err := pg.LocateOne(ctx, q)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", f.Name, err)
			}
			value = v
		}

		if !isEmpty(value) {
			break
		}
	}

	if isEmpty(value) {
		if f.Options.Required {
			return nil, &RequiredFieldError{Field: f.Name, URL: pg.URL()}
		}
		return defaultFor(f.Options), nil
	}

	processed, err := x.processors.Apply(ctx, f.Name, value)
	if err != nil {
		x.logger.Warn("processor failed, using unprocessed value",
			"field", f.Name,
			"url", pg.URL(),
			"error", err,
		)
	}

	out, err := convert.Convert(processed, f.Options.Type)
	if err != nil {
		return nil, fmt.Errorf("field %q: %w", f.Name, err)
	}
	return out, nil
}

// Fields extracts every field into one record, in declaration order.
func (x *Extractor) Fields(ctx context.Context, pg page.Page, fields []scenario.Field, scope page.Element) (Record, error) {
	rec := make(Record, len(fields))
	for _, f := range fields {
		v, err := x.Extract(ctx, pg, f, scope)
		if err != nil {
			return nil, err
		}
		rec[f.Name] = v
	}
	return rec, nil
}

// defaultFor returns the value of a field that matched nothing. Only a
// non-empty default is used.
func defaultFor(opts scenario.Options) any {
	if convert.Truthy(opts.Default) {
		return opts.Default
	}
	if opts.Many {
		return []any{}
	}
	return nil
}

// isEmpty reports whether a lookup result counts as "no match".
func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []any:
		return len(t) == 0
	}
	return false
}
