package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/pevans/plugcrawl/config"
	"github.com/pevans/plugcrawl/output"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var (
		addr   string
		dbPath string
		outDir string
	)

	cmd := &cobra.Command{
		Use:   "serve [--addr :8080] [--db PATH] [--out DIR]",
		Short: "Serve stored runs and records over a read-only HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("db") {
				cfg.Output.DB = dbPath
			}
			if cmd.Flags().Changed("out") {
				cfg.Output.Dir = outDir
			}
			return serve(cmd.Context(), addr, cfg)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "Address to listen on")
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite database written by run --db")
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "Directory written by run --out")

	return cmd
}

func serve(ctx context.Context, addr string, cfg *config.FileConfig) error {
	logger := slog.Default()

	var runs *output.RunStore
	if cfg.Output.DB != "" {
		var err error
		if runs, err = output.NewRunStore(cfg.Output.DB); err != nil {
			return err
		}
		defer runs.Close()
	}

	var files *output.FileStore
	if cfg.Output.Dir != "" {
		var err error
		if files, err = output.NewFileStore(cfg.Output.Dir); err != nil {
			return err
		}
	}

	if runs == nil && files == nil {
		return errors.New("--db or --out is required")
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           output.NewAPIServer(runs, files, logger).SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("serving results", "addr", addr, "db", cfg.Output.DB, "dir", cfg.Output.Dir)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("failed to serve: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
