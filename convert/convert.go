// Package convert coerces raw values read from a page into typed values.
package convert

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pevans/plugcrawl/page"
)

// Type is a field type tag as written in a scenario.
type Type string

const (
	Str      Type = "str"
	Int      Type = "int"
	Float    Type = "float"
	Bool     Type = "bool"
	JSON     Type = "json"
	Datetime Type = "datetime"
	Locator  Type = "locator"

	// None disables conversion.
	None Type = ""
)

// DatetimeLayout is the only layout accepted by the datetime type
// (day.month.year hour:minute, 24h). Day, month, hour and minute may be written
// with or without a leading zero.
const DatetimeLayout = "2.1.2006 15:4"

// Custom errors for conversion
var (
	ErrUnsupportedFieldType = errors.New("unsupported field type")
	ErrUnsupportedValue     = errors.New("unsupported value")
)

var (
	intPattern   = regexp.MustCompile(`\d+`)
	floatPattern = regexp.MustCompile(`\d+\.\d+`)
)

// Known reports whether t is a supported type tag. None counts as known.
func Known(t Type) bool {
	switch t {
	case None, Str, Int, Float, Bool, JSON, Datetime, Locator:
		return true
	}
	return false
}

// Convert coerces value to t. Lists are converted element-wise. Values that
// already have the native type for t are returned unchanged.
func Convert(value any, t Type) (any, error) {
	if !Known(t) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFieldType, string(t))
	}
	if t == None {
		return value, nil
	}

	if list, ok := value.([]any); ok {
		out := make([]any, len(list))
		for i, v := range list {
			c, err := convertOne(v, t)
			if err != nil {
				return nil, fmt.Errorf("item %d: %w", i, err)
			}
			out[i] = c
		}
		return out, nil
	}
	return convertOne(value, t)
}

func convertOne(value any, t Type) (any, error) {
	if t == Bool {
		return Truthy(value), nil
	}
	if value == nil {
		return nil, nil
	}

	switch t {
	case Str:
		if s, ok := value.(string); ok {
			return strings.TrimSpace(s), nil
		}
		return strings.TrimSpace(fmt.Sprint(value)), nil

	case Int:
		switch v := value.(type) {
		case int:
			return v, nil
		case int64:
			return int(v), nil
		}
		m := intPattern.FindString(fmt.Sprint(value))
		if m == "" {
			return nil, nil
		}
		n, err := strconv.Atoi(m)
		if err != nil {
			return nil, fmt.Errorf("%w: %s overflows int", ErrUnsupportedValue, m)
		}
		return n, nil

	case Float:
		switch v := value.(type) {
		case float64:
			return v, nil
		case float32:
			return float64(v), nil
		}
		s := strings.ReplaceAll(fmt.Sprint(value), ",", ".")
		m := floatPattern.FindString(s)
		if m == "" {
			return nil, nil
		}
		f, err := strconv.ParseFloat(m, 64)
		if err != nil {
			return nil, nil
		}
		return f, nil

	case JSON:
		s, ok := value.(string)
		if !ok {
			return value, nil
		}
		var out any
		if err := json.Unmarshal([]byte(s), &out); err != nil {
			return nil, nil
		}
		return out, nil

	case Datetime:
		if tm, ok := value.(time.Time); ok {
			return tm, nil
		}
		s, ok := value.(string)
		if !ok {
			return nil, nil
		}
		tm, err := time.Parse(DatetimeLayout, strings.TrimSpace(s))
		if err != nil {
			return nil, nil
		}
		return tm, nil

	case Locator:
		if el, ok := value.(page.Element); ok {
			return el, nil
		}
		return nil, fmt.Errorf("%w: %T is not an element handle", ErrUnsupportedValue, value)
	}

	return nil, fmt.Errorf("%w: %q", ErrUnsupportedFieldType, string(t))
}

// Truthy reports whether value is set to something other than a zero or
// empty value.
func Truthy(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case string:
		return v != ""
	case bool:
		return v
	case []any:
		return len(v) > 0
	case map[string]any:
		return len(v) > 0
	case int:
		return v != 0
	case float64:
		return v != 0
	}
	return true
}
