// Package manager runs pipelines over many input URLs with a bounded pool
// of workers.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/pevans/plugcrawl"
	"github.com/pevans/plugcrawl/page"
	"github.com/pevans/plugcrawl/pagination"
	"golang.org/x/sync/errgroup"
)

// URLKey is the input key holding the address to open.
const URLKey = "url"

// Custom errors for manager operations
var (
	ErrInvalidInput = errors.New("input must be a non-empty record with a url")
	ErrNoPipelines  = errors.New("at least one pipeline is required")
)

// Runner runs one pipeline against an opened page.
type Runner interface {
	Identity() string
	Run(ctx context.Context, nav page.Navigator, input plugcrawl.Record) (plugcrawl.Result, error)
}

type pipelineRunner struct {
	*plugcrawl.Pipeline
}

func (r pipelineRunner) Run(ctx context.Context, nav page.Navigator, input plugcrawl.Record) (plugcrawl.Result, error) {
	return r.Pipeline.Run(ctx, nav, input)
}

// RunnerFor wraps p, paginating when its scenario declares pagination.
func RunnerFor(p *plugcrawl.Pipeline) (Runner, error) {
	sc, err := p.Scenario()
	if err != nil {
		return nil, err
	}
	if sc.Pagination != nil {
		return pagination.FromScenario(p)
	}
	return pipelineRunner{p}, nil
}

// Config holds configuration for a Manager.
type Config struct {
	// Maximum number of URLs processed in parallel
	Workers int
	// Timeout per URL, covering navigation and every pipeline. Zero means no
	// timeout.
	URLTimeout time.Duration

	// OnRecord is called after each URL that produced a record.
	OnRecord func(rec plugcrawl.Record)
	// OnComplete is called once with every record, in input order.
	OnComplete func(recs []plugcrawl.Record)
	// OnError decides the record of a failed URL. A nil return drops it.
	OnError func(input plugcrawl.Record, err error) plugcrawl.Record

	Logger *slog.Logger
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Workers: 3,
	}
}

// Manager opens each input URL and runs every pipeline on it.
type Manager struct {
	opener  page.Opener
	runners []Runner
	config  *Config
	logger  *slog.Logger

	mu sync.Mutex // serializes OnRecord
}

// New creates a Manager.
func New(opener page.Opener, runners []Runner, config *Config) *Manager {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Workers <= 0 {
		config.Workers = DefaultConfig().Workers
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		opener:  opener,
		runners: runners,
		config:  config,
		logger:  logger,
	}
}

// Run processes inputs and returns one record per URL that succeeded (or
// that OnError turned into a record), in input order.
func (m *Manager) Run(ctx context.Context, inputs []plugcrawl.Record) ([]plugcrawl.Record, error) {
	if len(m.runners) == 0 {
		return nil, ErrNoPipelines
	}
	for i, in := range inputs {
		if u, _ := in[URLKey].(string); u == "" {
			return nil, fmt.Errorf("input %d: %w", i, ErrInvalidInput)
		}
	}

	m.logger.Info("manager: starting", "urls", len(inputs), "pipelines", len(m.runners), "workers", m.config.Workers)
	start := time.Now()

	results := make([]plugcrawl.Record, len(inputs))
	var g errgroup.Group
	g.SetLimit(m.config.Workers)

	for i, in := range inputs {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			rec := m.handle(ctx, in)
			if rec == nil {
				return nil
			}
			results[i] = rec
			if m.config.OnRecord != nil {
				m.mu.Lock()
				m.config.OnRecord(rec)
				m.mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	out := make([]plugcrawl.Record, 0, len(results))
	for _, rec := range results {
		if rec != nil {
			out = append(out, rec)
		}
	}

	if m.config.OnComplete != nil {
		m.config.OnComplete(out)
	}

	m.logger.Info("manager: finished", "records", len(out), "failed", len(inputs)-len(out), "duration", time.Since(start))
	return out, ctx.Err()
}

// handle processes one input, returning nil when its record is dropped.
func (m *Manager) handle(ctx context.Context, input plugcrawl.Record) plugcrawl.Record {
	rec, err := m.process(ctx, input)
	if err == nil {
		return rec
	}

	m.logger.Error("manager: url failed", "url", input[URLKey], "error", err)
	if m.config.OnError == nil {
		return nil
	}
	return m.config.OnError(input, err)
}

func (m *Manager) process(ctx context.Context, input plugcrawl.Record) (plugcrawl.Record, error) {
	if m.config.URLTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.config.URLTimeout)
		defer cancel()
	}

	url := input[URLKey].(string)
	sess, err := m.opener.Open(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", url, err)
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			m.logger.Warn("manager: failed to close page", "url", url, "error", cerr)
		}
	}()

	out := make(plugcrawl.Record, len(input))
	maps.Copy(out, input)

	for _, r := range m.runners {
		// The input is already part of out, so pipelines see none.
		res, err := r.Run(ctx, sess, nil)
		if err != nil {
			return nil, fmt.Errorf("pipeline %s: %w", r.Identity(), err)
		}
		if res.Flat {
			out[res.Identity] = res.Records
		} else {
			maps.Copy(out, res.Record)
		}
	}

	m.logger.Debug("manager: url done", "url", url)
	return out, nil
}
