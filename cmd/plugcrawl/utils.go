package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/pevans/plugcrawl"
	"github.com/pevans/plugcrawl/manager"
)

// buildInputs combines --url values and the records of inputFile.
func buildInputs(urls []string, inputFile string) ([]plugcrawl.Record, error) {
	inputs := make([]plugcrawl.Record, 0, len(urls))
	for _, u := range urls {
		inputs = append(inputs, plugcrawl.Record{manager.URLKey: u})
	}

	if inputFile != "" {
		data, err := os.ReadFile(inputFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read input file: %w", err)
		}
		recs, err := parseInputs(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse input file: %w", err)
		}
		inputs = append(inputs, recs...)
	}

	if len(inputs) == 0 {
		return nil, errors.New("at least one --url or --input is required")
	}
	return inputs, nil
}

// parseInputs accepts a JSON array of records, JSON lines, or plain URLs one
// per line. Blank lines and lines starting with # are skipped.
func parseInputs(data []byte) ([]plugcrawl.Record, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var recs []plugcrawl.Record
		if err := json.Unmarshal(trimmed, &recs); err != nil {
			return nil, err
		}
		return recs, nil
	}

	var recs []plugcrawl.Record
	scanner := bufio.NewScanner(bytes.NewReader(trimmed))
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		if strings.HasPrefix(text, "{") {
			var rec plugcrawl.Record
			if err := json.Unmarshal([]byte(text), &rec); err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			recs = append(recs, rec)
			continue
		}
		recs = append(recs, plugcrawl.Record{manager.URLKey: text})
	}
	return recs, scanner.Err()
}

// truncate shortens s to at most n runes, marking the cut with "...".
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}
