package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pevans/plugcrawl"
	"github.com/pevans/plugcrawl/config"
	"github.com/pevans/plugcrawl/manager"
	"github.com/pevans/plugcrawl/output"
	"github.com/pevans/plugcrawl/page"
	"github.com/pevans/plugcrawl/page/rodpage"
	"github.com/pevans/plugcrawl/scenario"
	"github.com/spf13/cobra"
)

type runFlags struct {
	scenarios []string
	urls      []string
	inputFile string
	useRod    bool
	workers   int
	outDir    string
	dbPath    string
	jsonOut   bool
}

func newRunCmd() *cobra.Command {
	var f runFlags

	cmd := &cobra.Command{
		Use:   "run --scenario FILE --url URL",
		Short: "Run scenarios against one or more URLs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("rod") {
				cfg.Browser.UseRod = f.useRod
			}
			if flags.Changed("workers") {
				cfg.Manager.Workers = f.workers
			}
			if flags.Changed("out") {
				cfg.Output.Dir = f.outDir
			}
			if flags.Changed("db") {
				cfg.Output.DB = f.dbPath
			}
			return runScenarios(cmd.Context(), cfg, f)
		},
	}

	cmd.Flags().StringArrayVarP(&f.scenarios, "scenario", "s", nil, "Scenario file (JSON or YAML); repeatable")
	cmd.Flags().StringArrayVarP(&f.urls, "url", "u", nil, "URL to extract; repeatable")
	cmd.Flags().StringVarP(&f.inputFile, "input", "i", "", "File of input records (JSON array, JSON lines, or one URL per line)")
	cmd.Flags().BoolVar(&f.useRod, "rod", false, "Drive a Chrome browser instead of plain HTTP")
	cmd.Flags().IntVarP(&f.workers, "workers", "w", 0, "URLs processed in parallel")
	cmd.Flags().StringVarP(&f.outDir, "out", "o", "", "Directory to write one JSON file per record")
	cmd.Flags().StringVar(&f.dbPath, "db", "", "SQLite database to record the run in")
	cmd.Flags().BoolVar(&f.jsonOut, "json", false, "Print records as JSON")
	_ = cmd.MarkFlagRequired("scenario")

	return cmd
}

func runScenarios(ctx context.Context, cfg *config.FileConfig, f runFlags) error {
	logger := slog.Default()

	inputs, err := buildInputs(f.urls, f.inputFile)
	if err != nil {
		return err
	}

	runners, infinite, err := loadRunners(cfg, f.scenarios, logger)
	if err != nil {
		return err
	}

	opener, closeOpener, err := newOpener(cfg, infinite, logger)
	if err != nil {
		return err
	}
	defer closeOpener()

	mcfg := &manager.Config{
		Workers:    cfg.Manager.Workers,
		URLTimeout: cfg.Manager.URLTimeout,
		Logger:     logger,
	}

	var files *output.FileStore
	if cfg.Output.Dir != "" {
		if files, err = output.NewFileStore(cfg.Output.Dir); err != nil {
			return err
		}
	}

	var runs *output.RunStore
	var run *output.Run
	if cfg.Output.DB != "" {
		if runs, err = output.NewRunStore(cfg.Output.DB); err != nil {
			return err
		}
		defer runs.Close()

		names := make([]string, len(runners))
		for i, r := range runners {
			names[i] = r.Identity()
		}
		if run, err = runs.CreateRun(names); err != nil {
			return err
		}
		logger.Info("run started", "run_id", run.RunID)
	}

	mcfg.OnRecord = func(rec plugcrawl.Record) {
		if files != nil {
			if _, err := files.Add(rec); err != nil {
				logger.Error("failed to write record", "url", rec[manager.URLKey], "error", err)
			}
		}
		if runs != nil {
			if _, err := runs.AddRecord(run.RunID, rec); err != nil {
				logger.Error("failed to store record", "url", rec[manager.URLKey], "error", err)
			}
		}
	}

	var errMu sync.Mutex
	failed := 0
	mcfg.OnError = func(input plugcrawl.Record, err error) plugcrawl.Record {
		errMu.Lock()
		failed++
		errMu.Unlock()
		if runs != nil {
			if serr := runs.AddError(run.RunID); serr != nil {
				logger.Error("failed to store error", "url", input[manager.URLKey], "error", serr)
			}
		}
		return nil
	}

	records, runErr := manager.New(opener, runners, mcfg).Run(ctx, inputs)

	if runs != nil {
		if _, err := runs.FinishRun(run.RunID); err != nil {
			logger.Error("failed to finish run", "run_id", run.RunID, "error", err)
		}
	}
	if runErr != nil {
		return runErr
	}

	if f.jsonOut {
		if err := printJSON(records); err != nil {
			return err
		}
	} else {
		printRecordsTable(records)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d URLs failed", failed, len(inputs))
	}
	return nil
}

// loadRunners parses every scenario up front so that an invalid file fails
// before any page is opened. It also reports whether any scenario scrolls.
func loadRunners(cfg *config.FileConfig, paths []string, logger *slog.Logger) ([]manager.Runner, bool, error) {
	timeouts := plugcrawl.Timeouts{
		Fallback: cfg.Extraction.FallbackTimeout,
		Single:   cfg.Extraction.SelectorTimeout,
	}

	infinite := false
	runners := make([]manager.Runner, 0, len(paths))
	for _, path := range paths {
		p := plugcrawl.New(plugcrawl.FromFile(path),
			plugcrawl.WithLogger(logger),
			plugcrawl.WithTimeouts(timeouts),
		)
		r, err := manager.RunnerFor(p)
		if err != nil {
			return nil, false, fmt.Errorf("scenario %s: %w", path, err)
		}
		sc, _ := p.Scenario()
		if sc.Pagination != nil && sc.Pagination.Mode == scenario.ModeInfinite {
			infinite = true
		}
		runners = append(runners, r)
	}
	return runners, infinite, nil
}

func newOpener(cfg *config.FileConfig, infinite bool, logger *slog.Logger) (page.Opener, func(), error) {
	if !cfg.Browser.UseRod {
		f := page.NewFetcher(nil, cfg.Browser.UserAgent, cfg.Browser.Headers)
		if infinite {
			f.AppendOnClick()
		}
		return f, func() {}, nil
	}

	b, err := rodpage.Launch(rodpage.Options{
		ControlURL:        cfg.Browser.ControlURL,
		Headless:          cfg.Browser.IsHeadless(),
		ProfileDir:        cfg.Browser.ProfileDir,
		UserAgent:         cfg.Browser.UserAgent,
		Headers:           cfg.Browser.Headers,
		Stealth:           cfg.Browser.Stealth,
		NavigationTimeout: cfg.Manager.NavigationTimeout,
		Logger:            logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	return b, func() {
		if err := b.Close(); err != nil {
			logger.Warn("failed to close browser", "error", err)
		}
	}, nil
}
