// Package metadata holds the free-form labels attached to archival records.
package metadata

import (
	"fmt"
	"strings"
)

// NameValue is a BigQuery-compatible "name"/"value" pair.
type NameValue struct {
	Name  string
	Value string
}

// Parse converts "name=value" strings into NameValue pairs, in order.
func Parse(pairs []string) ([]NameValue, error) {
	var out []NameValue
	for _, p := range pairs {
		name, value, ok := strings.Cut(p, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("metadata: %q is not of the form name=value", p)
		}
		out = append(out, NameValue{Name: name, Value: value})
	}
	return out, nil
}
