package plugcrawl

import (
	"context"
	"fmt"

	"github.com/pevans/plugcrawl/page"
	"github.com/pevans/plugcrawl/scenario"
)

// IndexKey returns the key under which flat records carry their position.
func IndexKey(locator string) string {
	return "index_" + locator
}

// LocatorOutput is the resolved form of one locator.
type LocatorOutput struct {
	Name    string
	Flat    bool
	Records []Record
}

// Containers returns container handles for every selector of loc. Results of
// all selectors are concatenated in order.
func (x *Extractor) Containers(ctx context.Context, pg page.Page, loc scenario.Locator) ([]page.Element, error) {
	var containers []page.Element
	for _, s := range loc.Selectors {
		// Always ask for element handles; the attribute has no meaning for a
		// container.
		values, err := pg.LocateAll(ctx, page.Query{CSS: s.CSS, Timeout: x.timeouts.Single})
		if err != nil {
			return nil, fmt.Errorf("locator %q: %w", loc.Name, err)
		}
		for i, v := range values {
			el, ok := v.(page.Element)
			if !ok {
				return nil, fmt.Errorf("%w: locator %q match %d is %T, not an element",
					ErrLocatorShape, loc.Name, i, v)
			}
			containers = append(containers, el)
		}
	}
	return containers, nil
}

// Resolve extracts one record per container of loc, in container order.
func (x *Extractor) Resolve(ctx context.Context, pg page.Page, loc scenario.Locator) (LocatorOutput, error) {
	containers, err := x.Containers(ctx, pg, loc)
	if err != nil {
		return LocatorOutput{}, err
	}

	records := make([]Record, 0, len(containers))
	for i, c := range containers {
		rec, err := x.Fields(ctx, pg, loc.Fields, c)
		if err != nil {
			return LocatorOutput{}, fmt.Errorf("locator %q container %d: %w", loc.Name, i, err)
		}
		if loc.Options.Flat {
			rec[IndexKey(loc.Name)] = i
		}
		records = append(records, rec)
	}

	return LocatorOutput{
		Name:    loc.Name,
		Flat:    loc.Options.Flat,
		Records: records,
	}, nil
}
