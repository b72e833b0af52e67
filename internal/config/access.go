package config

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// GetPath retrieves a value from the configuration using a dot-notation path,
// for example "service.drain_timeout". An address of the form type:name
// resolves a first-class entity instead, see GetEntity.
func (f *Floor) GetPath(path string) (any, error) {
	if strings.Contains(path, ":") {
		return f.GetEntity(path)
	}

	data, err := yaml.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return getValue(m, path)
}

// GetEntity retrieves an office, team or function by address. Supported
// addresses are office:NAME, team:NAME and function:OFFICE/NAME. A name of
// "*" lists every entity of the type.
func (f *Floor) GetEntity(address string) (any, error) {
	entityType, name, ok := strings.Cut(address, ":")
	if !ok || name == "" {
		return nil, fmt.Errorf("invalid entity address format %q (expected type:name)", address)
	}

	switch entityType {
	case "office":
		if name == "*" {
			return f.Offices, nil
		}
		o, ok := f.Office(name)
		if !ok {
			return nil, fmt.Errorf("office %q not found", name)
		}
		return *o, nil

	case "team":
		if name == "*" {
			return f.Teams, nil
		}
		for _, t := range f.Teams {
			if t.Name == name {
				return t, nil
			}
		}
		return nil, fmt.Errorf("team %q not found", name)

	case "function":
		officeName, fn, ok := strings.Cut(name, "/")
		if !ok {
			return nil, fmt.Errorf("function address %q must be OFFICE/NAME", name)
		}
		o, found := f.Office(officeName)
		if !found {
			return nil, fmt.Errorf("office %q not found", officeName)
		}
		if fn == "*" {
			return o.Functions, nil
		}
		for _, c := range o.Functions {
			if c.Name == fn {
				return c, nil
			}
		}
		return nil, fmt.Errorf("function %q not found in office %s", fn, officeName)

	default:
		return nil, fmt.Errorf("unsupported entity type %q", entityType)
	}
}

func getValue(m map[string]any, path string) (any, error) {
	var current any = m
	for _, part := range strings.Split(path, ".") {
		if part == "" {
			continue
		}
		switch node := current.(type) {
		case map[string]any:
			val, exists := node[part]
			if !exists {
				return nil, fmt.Errorf("path %q: key %q not found", path, part)
			}
			current = val
		case []any:
			val, found := byName(node, part)
			if !found {
				return nil, fmt.Errorf("path %q: no entry named %q", path, part)
			}
			current = val
		default:
			return nil, fmt.Errorf("path %q breaks at %q (not a map)", path, part)
		}
	}
	return current, nil
}

// byName finds the list entry whose name field equals name.
func byName(list []any, name string) (any, bool) {
	for _, item := range list {
		if m, ok := item.(map[string]any); ok && m["name"] == name {
			return m, true
		}
	}
	return nil, false
}
