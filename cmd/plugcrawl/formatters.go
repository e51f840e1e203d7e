package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/pevans/plugcrawl"
	"github.com/pevans/plugcrawl/manager"
	"github.com/pevans/plugcrawl/output"
	"github.com/pevans/plugcrawl/scenario"
)

// printJSON prints v as indented JSON on stdout
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}

// printRecordsTable prints one block per record with its scalar fields and
// the size of any nested lists
func printRecordsTable(records []plugcrawl.Record) {
	if len(records) == 0 {
		fmt.Println("No records extracted.")
		return
	}

	fmt.Printf("Extracted %d records\n\n", len(records))
	for _, rec := range records {
		fmt.Printf("%v\n", rec[manager.URLKey])
		for _, key := range sortedKeys(rec) {
			if key == manager.URLKey {
				continue
			}
			fmt.Printf("   %s: %s\n", key, summarize(rec[key]))
		}
		fmt.Println()
	}
}

func summarize(v any) string {
	switch v := v.(type) {
	case nil:
		return "-"
	case []plugcrawl.Record:
		return fmt.Sprintf("[%d records]", len(v))
	case []any:
		return fmt.Sprintf("[%d items]", len(v))
	case map[string]any:
		return fmt.Sprintf("{%d keys}", len(v))
	default:
		return truncate(strings.ReplaceAll(fmt.Sprint(v), "\n", " "), 70)
	}
}

func sortedKeys(rec plugcrawl.Record) []string {
	keys := make([]string, 0, len(rec))
	for k := range rec {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// printScenarioSummary prints what a scenario extracts
func printScenarioSummary(path, identity string, sc *scenario.Scenario) {
	fmt.Printf("✓ %s\n", path)
	fmt.Printf("   Name: %s\n", identity)
	fmt.Printf("   Root fields: %d\n", len(sc.Root))
	for _, loc := range sc.Locators {
		shape := "deep"
		if loc.Options.Flat {
			shape = "flat"
		}
		fmt.Printf("   Locator %s: %d fields, %s\n", loc.Name, len(loc.Fields), shape)
	}
	if p := sc.Pagination; p != nil {
		fmt.Printf("   Pagination: %s via %s\n", p.Mode, p.Next.CSS)
	}
}

// printRunsTable prints stored runs, most recent first
func printRunsTable(runs []output.Run) {
	if len(runs) == 0 {
		fmt.Println("No runs recorded.")
		return
	}

	for _, run := range runs {
		status := "running"
		if run.IsFinished() {
			status = "finished " + run.FinishedAt.Local().Format("2006-01-02 15:04:05")
		}
		fmt.Printf("%s  %s\n", run.RunID, strings.Join(run.Scenarios, ", "))
		fmt.Printf("   Started: %s | %s | Records: %d | Errors: %d\n",
			run.StartedAt.Local().Format("2006-01-02 15:04:05"),
			status, run.Records, run.Errors,
		)
	}
}

// printStoredRecords prints the records of one run
func printStoredRecords(records []output.StoredRecord) {
	if len(records) == 0 {
		fmt.Println("No records in this run.")
		return
	}

	for _, rec := range records {
		fmt.Printf("%s  %s\n", rec.RecordID, rec.URL)
		for _, key := range sortedKeys(rec.Payload) {
			if key == manager.URLKey {
				continue
			}
			fmt.Printf("   %s: %s\n", key, summarize(rec.Payload[key]))
		}
	}
}
