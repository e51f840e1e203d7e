package main

import (
	"fmt"

	"github.com/pevans/plugcrawl"
	"github.com/spf13/cobra"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE...",
		Short: "Check scenario files without running them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			invalid := 0
			for _, path := range args {
				p := plugcrawl.New(plugcrawl.FromFile(path))
				sc, err := p.Scenario()
				if err != nil {
					invalid++
					fmt.Printf("✗ %s: %v\n", path, err)
					continue
				}
				printScenarioSummary(path, p.Identity(), sc)
			}
			if invalid > 0 {
				return fmt.Errorf("%d of %d scenarios invalid", invalid, len(args))
			}
			return nil
		},
	}
}
