package config

import (
	"sort"
	"strings"
)

var sensitiveMarkers = []string{"KEY", "SECRET", "PASSWORD", "TOKEN"}

// IsSensitive reports whether a variable name looks like a credential.
func IsSensitive(name string) bool {
	upper := strings.ToUpper(name)
	for _, m := range sensitiveMarkers {
		if strings.Contains(upper, m) {
			return true
		}
	}
	return false
}

// Mask hides all but the last four characters of a value.
func Mask(value string) string {
	if len(value) <= 4 {
		return strings.Repeat("*", 8)
	}
	return strings.Repeat("*", 8) + value[len(value)-4:]
}

// EnvVar is one environment entry prepared for logging.
type EnvVar struct {
	Name  string
	Value string
}

// Environment returns environ sorted by name with credential values masked.
func Environment(environ []string) []EnvVar {
	vars := make([]EnvVar, 0, len(environ))
	for _, kv := range environ {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || name == "" {
			continue
		}
		if IsSensitive(name) {
			value = Mask(value)
		}
		vars = append(vars, EnvVar{Name: name, Value: value})
	}
	sort.Slice(vars, func(i, j int) bool { return vars[i].Name < vars[j].Name })
	return vars
}
