package scenario

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pevans/plugcrawl/convert"
	"gopkg.in/yaml.v3"
)

// Formats accepted by Parse.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Load reads and parses a scenario file. Files ending in .yaml or .yml are
// decoded as YAML, anything else as JSON.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ValidationError{Path: path, Msg: "failed to read scenario file", kind: err}
	}

	format := FormatJSON
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		format = FormatYAML
	}

	sc, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return sc, nil
}

// Parse decodes data in the given format and validates it.
func Parse(data []byte, format string) (*Scenario, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, invalid("", "empty document")
	}

	var doc map[string]any
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, invalid("", "failed to parse YAML: %v", err)
		}
	case FormatJSON, "":
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, invalid("", "failed to parse JSON: %v", err)
		}
	default:
		return nil, invalid("", "unknown format %q", format)
	}
	if doc == nil {
		return nil, invalid("", "document must be an object")
	}

	return FromMap(doc)
}

// FromMap validates an already decoded scenario document.
func FromMap(doc map[string]any) (*Scenario, error) {
	if doc == nil {
		return nil, invalid("", "scenario is required")
	}

	sc := &Scenario{}

	if v, ok := lookup(doc, "name"); ok && v != nil {
		name, ok := v.(string)
		if !ok {
			return nil, invalid("name", "must be a string")
		}
		sc.Name = name
	}

	if v, ok := lookup(doc, "root"); ok && v != nil {
		root, ok := v.(map[string]any)
		if !ok {
			return nil, invalid("root", "must be an object")
		}
		fields, err := parseFields("root.fields", root["fields"])
		if err != nil {
			return nil, err
		}
		sc.Root = fields
	}

	if v, ok := lookup(doc, "locators"); ok && v != nil {
		list, ok := v.([]any)
		if !ok {
			return nil, invalid("locators", "must be a list")
		}
		for i, raw := range list {
			loc, err := parseLocator(fmt.Sprintf("locators[%d]", i), raw)
			if err != nil {
				return nil, err
			}
			sc.Locators = append(sc.Locators, loc)
		}
	}

	if v, ok := lookup(doc, "pagination"); ok && v != nil {
		p, err := parsePagination("pagination", v)
		if err != nil {
			return nil, err
		}
		sc.Pagination = p
	}

	return sc, nil
}

// lookup finds key or its colon-prefixed alias.
func lookup(doc map[string]any, key string) (any, bool) {
	if v, ok := doc[key]; ok {
		return v, true
	}
	v, ok := doc[":"+key]
	return v, ok
}

func parseFields(path string, raw any) ([]Field, error) {
	if raw == nil {
		return nil, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, invalid(path, "must be a list")
	}

	fields := make([]Field, 0, len(list))
	seen := make(map[string]bool, len(list))
	for i, item := range list {
		p := fmt.Sprintf("%s[%d]", path, i)
		f, err := parseField(p, item)
		if err != nil {
			return nil, err
		}
		if seen[f.Name] {
			return nil, invalid(p, "duplicate field name %q", f.Name)
		}
		seen[f.Name] = true
		fields = append(fields, f)
	}
	return fields, nil
}

func parseField(path string, raw any) (Field, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return Field{}, invalid(path, "field must be an object")
	}

	name, err := requireString(path+".name", m, "name")
	if err != nil {
		return Field{}, err
	}

	sels, err := parseSelectors(path+".selector", m["selector"])
	if err != nil {
		return Field{}, err
	}

	opts, err := parseOptions(path+".options", m["options"])
	if err != nil {
		return Field{}, err
	}

	return Field{Name: name, Selectors: sels, Options: opts}, nil
}

func parseOptions(path string, raw any) (Options, error) {
	opts := Options{Type: convert.Str}
	if raw == nil {
		return opts, nil
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return opts, invalid(path, "must be an object")
	}

	var err error
	if opts.Many, err = optBool(path+".many", m, "many"); err != nil {
		return opts, err
	}
	if opts.Required, err = optBool(path+".required", m, "required"); err != nil {
		return opts, err
	}
	opts.Default = m["default"]

	if v, present := m["type"]; present {
		// An explicit empty or null type disables conversion.
		switch t := v.(type) {
		case nil:
			opts.Type = convert.None
		case string:
			opts.Type = convert.Type(t)
		default:
			return opts, invalid(path+".type", "must be a string")
		}
	}
	if !convert.Known(opts.Type) {
		return opts, &ValidationError{
			Path: path + ".type",
			Msg:  fmt.Sprintf("unknown type %q", string(opts.Type)),
			kind: convert.ErrUnsupportedFieldType,
		}
	}

	return opts, nil
}

func parseLocator(path string, raw any) (Locator, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return Locator{}, invalid(path, "locator must be an object")
	}

	name, err := requireString(path+".name", m, "name")
	if err != nil {
		return Locator{}, err
	}

	switch m["selector"].(type) {
	case map[string]any, []any:
	default:
		return Locator{}, &ValidationError{
			Path: path + ".selector",
			Msg:  fmt.Sprintf("got %T", m["selector"]),
			kind: ErrLocatorShape,
		}
	}
	sels, err := parseSelectors(path+".selector", m["selector"])
	if err != nil {
		return Locator{}, err
	}

	fields, err := parseFields(path+".fields", m["fields"])
	if err != nil {
		return Locator{}, err
	}

	loc := Locator{Name: name, Selectors: sels, Fields: fields}
	if raw, ok := m["options"]; ok && raw != nil {
		om, ok := raw.(map[string]any)
		if !ok {
			return Locator{}, invalid(path+".options", "must be an object")
		}
		if loc.Options.Flat, err = optBool(path+".options.flat", om, "flat"); err != nil {
			return Locator{}, err
		}
	}
	return loc, nil
}

func parseSelectors(path string, raw any) ([]Selector, error) {
	switch v := raw.(type) {
	case map[string]any:
		s, err := parseSelector(path, v)
		if err != nil {
			return nil, err
		}
		return []Selector{s}, nil
	case []any:
		if len(v) == 0 {
			return nil, invalid(path, "must not be empty")
		}
		sels := make([]Selector, 0, len(v))
		for i, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, invalid(fmt.Sprintf("%s[%d]", path, i), "selector must be an object")
			}
			s, err := parseSelector(fmt.Sprintf("%s[%d]", path, i), m)
			if err != nil {
				return nil, err
			}
			sels = append(sels, s)
		}
		return sels, nil
	case nil:
		return nil, invalid(path, "is required")
	default:
		return nil, invalid(path, "must be an object or a list, got %T", raw)
	}
}

func parseSelector(path string, m map[string]any) (Selector, error) {
	css, err := requireString(path+".css", m, "css")
	if err != nil {
		return Selector{}, err
	}
	v, ok := m["attribute"]
	if !ok {
		return Selector{}, invalid(path+".attribute", "is required")
	}
	// A null attribute asks for the element handle itself.
	if v == nil {
		return Selector{CSS: css}, nil
	}
	attr, ok := v.(string)
	if !ok {
		return Selector{}, invalid(path+".attribute", "must be a string")
	}
	return Selector{CSS: css, Attribute: attr}, nil
}

func parsePagination(path string, raw any) (*Pagination, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, invalid(path, "must be an object")
	}

	p := &Pagination{Mode: ModeFixed}
	if v, ok := m["mode"]; ok && v != nil {
		mode, ok := v.(string)
		if !ok || (mode != ModeFixed && mode != ModeInfinite) {
			return nil, invalid(path+".mode", "must be %q or %q", ModeFixed, ModeInfinite)
		}
		p.Mode = mode
	}

	switch v := m["selector"].(type) {
	case string:
		if v == "" {
			return nil, invalid(path+".selector", "must not be empty")
		}
		p.Next = Selector{CSS: v}
	case map[string]any:
		css, err := requireString(path+".selector.css", v, "css")
		if err != nil {
			return nil, err
		}
		attr, _ := v["attribute"].(string)
		p.Next = Selector{CSS: css, Attribute: attr}
	case nil:
		return nil, invalid(path+".selector", "is required")
	default:
		return nil, invalid(path+".selector", "must be a string or an object")
	}

	var err error
	if p.MaxPages, err = optInt(path+".max_pages", m, "max_pages"); err != nil {
		return nil, err
	}
	if p.MaxContainers, err = optInt(path+".max_containers", m, "max_containers"); err != nil {
		return nil, err
	}
	if p.MaxLoads, err = optInt(path+".max_loads", m, "max_loads"); err != nil {
		return nil, err
	}
	if p.Wait, err = optDuration(path+".wait", m, "wait"); err != nil {
		return nil, err
	}
	return p, nil
}

func requireString(path string, m map[string]any, key string) (string, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return "", invalid(path, "is required")
	}
	s, ok := v.(string)
	if !ok {
		return "", invalid(path, "must be a string")
	}
	if s == "" {
		return "", invalid(path, "must not be empty")
	}
	return s, nil
}

func optBool(path string, m map[string]any, key string) (bool, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return false, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, invalid(path, "must be a boolean")
	}
	return b, nil
}

func optInt(path string, m map[string]any, key string) (int, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return 0, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case uint64:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, invalid(path, "must be an integer")
		}
		return int(n), nil
	}
	return 0, invalid(path, "must be an integer")
}

// optDuration accepts a Go duration string ("1.5s") or a number of seconds.
func optDuration(path string, m map[string]any, key string) (time.Duration, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return 0, nil
	}
	switch d := v.(type) {
	case string:
		parsed, err := time.ParseDuration(d)
		if err != nil {
			return 0, invalid(path, "invalid duration %q", d)
		}
		return parsed, nil
	case int:
		return time.Duration(d) * time.Second, nil
	case float64:
		return time.Duration(d * float64(time.Second)), nil
	}
	return 0, invalid(path, "must be a duration")
}
