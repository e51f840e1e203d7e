package main

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/pevans/plugcrawl/config"
	"github.com/pevans/plugcrawl/output"
	"github.com/spf13/cobra"
)

func newResultsCmd() *cobra.Command {
	var (
		dbPath  string
		runID   string
		limit   int
		jsonOut bool
	)

	cmd := &cobra.Command{
		Use:   "results --db PATH [--run ID]",
		Short: "List stored runs, or the records of one run",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dbPath == "" {
				cfg, err := config.Load(configPath)
				if err != nil {
					return err
				}
				dbPath = cfg.Output.DB
			}
			if dbPath == "" {
				return errors.New("--db is required")
			}

			store, err := output.NewRunStore(dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			if runID == "" {
				runs, err := store.ListRuns(limit)
				if err != nil {
					return err
				}
				if jsonOut {
					return printJSON(runs)
				}
				printRunsTable(runs)
				return nil
			}

			id, err := uuid.Parse(runID)
			if err != nil {
				return fmt.Errorf("invalid run ID: %w", err)
			}
			records, err := store.ListRecords(id)
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(records)
			}
			printStoredRecords(records)
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite database written by run --db")
	cmd.Flags().StringVar(&runID, "run", "", "Show the records of this run")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum runs to list (0 for all)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print as JSON")

	return cmd
}
