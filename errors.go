// Package plugcrawl extracts structured records from pages according to
// declarative scenarios.
//
// A Pipeline owns one scenario. Each run reads the scenario's root fields,
// resolves every locator against the page and merges the results: flat
// locators produce a list of records keyed by the pipeline identity, deep
// locators nest their records under the locator name inside one record.
package plugcrawl

import (
	"errors"
	"fmt"

	"github.com/pevans/plugcrawl/convert"
	"github.com/pevans/plugcrawl/scenario"
)

// Record is one extracted output mapping.
type Record = map[string]any

// Custom errors for extraction
var (
	ErrRequiredFieldMissing = errors.New("required field missing")
	ErrProcessorFailure     = errors.New("processor failed")

	ErrScenarioInvalid      = scenario.ErrScenarioInvalid
	ErrLocatorShape         = scenario.ErrLocatorShape
	ErrUnsupportedFieldType = convert.ErrUnsupportedFieldType
	ErrUnsupportedValue     = convert.ErrUnsupportedValue
)

// RequiredFieldError reports a required field that no selector matched.
type RequiredFieldError struct {
	Field string
	URL   string
}

func (e *RequiredFieldError) Error() string {
	return fmt.Sprintf("field %q not found in %s", e.Field, e.URL)
}

// Is matches ErrRequiredFieldMissing.
func (e *RequiredFieldError) Is(target error) bool {
	return target == ErrRequiredFieldMissing
}
