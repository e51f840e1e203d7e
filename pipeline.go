package plugcrawl

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pevans/plugcrawl/page"
	"github.com/pevans/plugcrawl/scenario"
)

// Source produces the scenario of a pipeline. It is called at most once.
type Source func() (*scenario.Scenario, error)

// FromFile loads the scenario from a JSON or YAML file.
func FromFile(path string) Source {
	return func() (*scenario.Scenario, error) {
		return scenario.Load(path)
	}
}

// FromMap validates an in-memory scenario document.
func FromMap(doc map[string]any) Source {
	return func() (*scenario.Scenario, error) {
		return scenario.FromMap(doc)
	}
}

// FromScenario uses an already parsed scenario.
func FromScenario(sc *scenario.Scenario) Source {
	return func() (*scenario.Scenario, error) {
		if sc == nil {
			return nil, fmt.Errorf("%w: scenario is required", ErrScenarioInvalid)
		}
		return sc, nil
	}
}

// PrepareFunc readies a page before extraction, for example by dismissing
// a cookie banner.
type PrepareFunc func(ctx context.Context, pg page.Page) error

// FinalizeFunc post-processes the result of a run.
type FinalizeFunc func(Result) Result

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithProcessors sets the field post-processing table.
func WithProcessors(p *Processors) Option {
	return func(pl *Pipeline) {
		pl.cfg.Processors = p
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(pl *Pipeline) {
		pl.cfg.Logger = logger
	}
}

// WithTimeouts sets the selector timeout tiers.
func WithTimeouts(t Timeouts) Option {
	return func(pl *Pipeline) {
		pl.cfg.Timeouts = t
	}
}

// WithPrepare sets a hook run on the page before extraction.
func WithPrepare(fn PrepareFunc) Option {
	return func(pl *Pipeline) {
		pl.prepare = fn
	}
}

// WithFinalize sets a hook applied to every successful result.
func WithFinalize(fn FinalizeFunc) Option {
	return func(pl *Pipeline) {
		pl.finalize = fn
	}
}

// Pipeline runs one scenario against pages. The scenario is parsed on first
// use and shared read-only by all concurrent runs.
type Pipeline struct {
	source   Source
	cfg      ExtractorConfig
	x        *Extractor
	prepare  PrepareFunc
	finalize FinalizeFunc
	unnamed  string

	once sync.Once
	sc   *scenario.Scenario
	err  error
}

// New creates a pipeline for source.
func New(source Source, opts ...Option) *Pipeline {
	p := &Pipeline{
		source:  source,
		unnamed: "UnnamedPipeline_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:7],
	}
	for _, opt := range opts {
		opt(p)
	}
	p.x = NewExtractor(p.cfg)
	return p
}

// Scenario returns the parsed scenario, parsing it on first call.
func (p *Pipeline) Scenario() (*scenario.Scenario, error) {
	p.once.Do(func() {
		if p.source == nil {
			p.err = fmt.Errorf("%w: scenario is required", ErrScenarioInvalid)
			return
		}
		p.sc, p.err = p.source()
		if p.err != nil || p.cfg.Processors == nil {
			return
		}
		if names := p.unprocessed(); len(names) > 0 {
			name := p.sc.Name
			if name == "" {
				name = p.unnamed
			}
			p.x.logger.Debug("no processing functions for fields",
				"pipeline", name,
				"fields", names,
			)
		}
	})
	return p.sc, p.err
}

// Unprocessed lists the root fields, then the locator fields, that have no
// registered hook.
func (p *Pipeline) Unprocessed() ([]string, error) {
	if _, err := p.Scenario(); err != nil {
		return nil, err
	}
	return p.unprocessed(), nil
}

func (p *Pipeline) unprocessed() []string {
	var names []string
	add := func(fields []scenario.Field) {
		for _, f := range fields {
			if !p.cfg.Processors.Has(f.Name) {
				names = append(names, f.Name)
			}
		}
	}
	add(p.sc.Root)
	for _, loc := range p.sc.Locators {
		add(loc.Fields)
	}
	return names
}

// Identity names the pipeline in output: the scenario name, or a generated
// name fixed for the lifetime of the pipeline.
func (p *Pipeline) Identity() string {
	if sc, err := p.Scenario(); err == nil && sc.Name != "" {
		return sc.Name
	}
	return p.unnamed
}

func (p *Pipeline) String() string {
	return p.Identity()
}

// Extractor returns the field and locator resolver used by the pipeline.
func (p *Pipeline) Extractor() *Extractor {
	return p.x
}

// Logger returns the pipeline logger.
func (p *Pipeline) Logger() *slog.Logger {
	return p.x.logger
}

// Prepare runs the preparation hook, if any.
func (p *Pipeline) Prepare(ctx context.Context, pg page.Page) error {
	if p.prepare == nil {
		return nil
	}
	if err := p.prepare(ctx, pg); err != nil {
		return fmt.Errorf("failed to prepare page: %w", err)
	}
	return nil
}

// Finalize applies the finalize hook, if any.
func (p *Pipeline) Finalize(r Result) Result {
	if p.finalize == nil {
		return r
	}
	return p.finalize(r)
}

// Root extracts the root fields and merges input over them.
func (p *Pipeline) Root(ctx context.Context, pg page.Page, input Record) (Record, error) {
	sc, err := p.Scenario()
	if err != nil {
		return nil, err
	}
	base, err := p.x.Fields(ctx, pg, sc.Root, nil)
	if err != nil {
		return nil, err
	}
	maps.Copy(base, input)
	return base, nil
}

// Locators resolves every locator in scenario order.
func (p *Pipeline) Locators(ctx context.Context, pg page.Page) ([]LocatorOutput, error) {
	sc, err := p.Scenario()
	if err != nil {
		return nil, err
	}
	outs := make([]LocatorOutput, 0, len(sc.Locators))
	for _, loc := range sc.Locators {
		out, err := p.x.Resolve(ctx, pg, loc)
		if err != nil {
			return nil, err
		}
		outs = append(outs, out)
	}
	return outs, nil
}

// Merge combines root fields and locator outputs. When any flat locator
// produced records, each flat record receives every deep mapping and the
// root fields, and the result is a list. Otherwise the deep mappings are
// merged into base.
func (p *Pipeline) Merge(base Record, outs []LocatorOutput) Result {
	var flat []Record
	deep := Record{}
	for _, out := range outs {
		if out.Flat {
			flat = append(flat, out.Records...)
			continue
		}
		deep[out.Name] = out.Records
	}

	if len(flat) > 0 {
		for _, rec := range flat {
			maps.Copy(rec, deep)
			maps.Copy(rec, base)
		}
		return Result{Identity: p.Identity(), Records: flat, Flat: true}
	}

	maps.Copy(base, deep)
	return Result{Identity: p.Identity(), Record: base}
}

// Extract performs one extraction pass over the page's current state without
// running hooks.
func (p *Pipeline) Extract(ctx context.Context, pg page.Page, input Record) (Result, error) {
	base, err := p.Root(ctx, pg, input)
	if err != nil {
		return Result{}, err
	}
	outs, err := p.Locators(ctx, pg)
	if err != nil {
		return Result{}, err
	}
	return p.Merge(base, outs), nil
}

// Records performs one extraction pass and returns it as a list. Scenarios
// with flat locators yield their flat records, which may be none; others
// yield the single merged record.
func (p *Pipeline) Records(ctx context.Context, pg page.Page, input Record) ([]Record, error) {
	r, err := p.Extract(ctx, pg, input)
	if err != nil {
		return nil, err
	}
	if !r.Flat && p.hasFlat() {
		return nil, nil
	}
	return r.List(), nil
}

func (p *Pipeline) hasFlat() bool {
	sc, err := p.Scenario()
	if err != nil {
		return false
	}
	for _, loc := range sc.Locators {
		if loc.Options.Flat {
			return true
		}
	}
	return false
}

// Count returns how many containers the scenario's locators currently match.
// Flat locators are counted when present; otherwise all locators are.
func (p *Pipeline) Count(ctx context.Context, pg page.Page) (int, error) {
	sc, err := p.Scenario()
	if err != nil {
		return 0, err
	}

	locs := make([]scenario.Locator, 0, len(sc.Locators))
	for _, loc := range sc.Locators {
		if loc.Options.Flat {
			locs = append(locs, loc)
		}
	}
	if len(locs) == 0 {
		locs = sc.Locators
	}

	n := 0
	for _, loc := range locs {
		cs, err := p.x.Containers(ctx, pg, loc)
		if err != nil {
			return 0, err
		}
		n += len(cs)
	}
	return n, nil
}

// Run prepares the page, extracts it and finalizes the result. A failure
// yields no result.
func (p *Pipeline) Run(ctx context.Context, pg page.Page, input Record) (Result, error) {
	if _, err := p.Scenario(); err != nil {
		return Result{}, err
	}
	if err := p.Prepare(ctx, pg); err != nil {
		return Result{}, err
	}
	r, err := p.Extract(ctx, pg, input)
	if err != nil {
		return Result{}, err
	}
	return p.Finalize(r), nil
}
