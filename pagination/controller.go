package pagination

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pevans/plugcrawl"
	"github.com/pevans/plugcrawl/page"
	"github.com/pevans/plugcrawl/scenario"
)

// ErrNoPagination is returned by FromScenario for scenarios without a
// pagination block.
var ErrNoPagination = errors.New("scenario has no pagination")

// Controller composes a Strategy over an Extractor. Each Run owns its own
// State, so one Controller may serve concurrent runs.
type Controller struct {
	ex       Extractor
	strategy Strategy
	logger   *slog.Logger
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the controller logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// New creates a Controller.
func New(ex Extractor, strategy Strategy, opts ...Option) *Controller {
	c := &Controller{
		ex:       ex,
		strategy: strategy,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FromScenario builds a Controller from the pipeline's pagination block.
func FromScenario(p *plugcrawl.Pipeline, opts ...Option) (*Controller, error) {
	sc, err := p.Scenario()
	if err != nil {
		return nil, err
	}
	if sc.Pagination == nil {
		return nil, fmt.Errorf("%s: %w", p.Identity(), ErrNoPagination)
	}

	cfg := sc.Pagination
	var strategy Strategy
	switch cfg.Mode {
	case scenario.ModeInfinite:
		strategy = InfiniteScroll{
			More:          cfg.Next.CSS,
			Wait:          cfg.Wait,
			MaxLoads:      cfg.MaxLoads,
			MaxContainers: cfg.MaxContainers,
		}
	default:
		strategy = Fixed{
			Next:          cfg.Next.CSS,
			Wait:          cfg.Wait,
			MaxPages:      cfg.MaxPages,
			MaxContainers: cfg.MaxContainers,
		}
	}

	return New(p, strategy, append([]Option{WithLogger(p.Logger())}, opts...)...), nil
}

// Identity returns the identity of the underlying extractor.
func (c *Controller) Identity() string {
	return c.ex.Identity()
}

// Paginate prepares the page, collects records with the strategy and
// numbers them. It also returns the final State.
func (c *Controller) Paginate(ctx context.Context, nav page.Navigator, input plugcrawl.Record) (plugcrawl.Result, State, error) {
	if err := c.ex.Prepare(ctx, nav); err != nil {
		return plugcrawl.Result{}, State{}, err
	}

	recs, st, err := c.strategy.Collect(ctx, c.ex, nav, input, c.logger)
	if err != nil {
		return plugcrawl.Result{}, st, err
	}

	for i, rec := range recs {
		rec[PositionKey] = i + 1
	}

	c.logger.Info("pagination: finished",
		"pipeline", c.ex.Identity(),
		"state", st.Phase.String(),
		"pages", st.CurrentPage,
		"records", len(recs),
	)

	r := plugcrawl.Result{
		Identity: c.ex.Identity(),
		Records:  recs,
		Flat:     true,
	}
	return c.ex.Finalize(r), st, nil
}

// Run is Paginate without the final State.
func (c *Controller) Run(ctx context.Context, nav page.Navigator, input plugcrawl.Record) (plugcrawl.Result, error) {
	r, _, err := c.Paginate(ctx, nav, input)
	return r, err
}
