// Package environment provides helpers for loading configuration from environment variables.
//
// Values are read through a Source, which may carry a name prefix so that
// one binary's settings stay together (PREPMATE_DB_PATH, PREPMATE_LOG_LEVEL).
// The package-level functions read unprefixed names. Every helper returns
// the default when a variable is unset, empty or unparseable; required
// variables return an error rather than calling os.Exit, keeping business
// logic out of library code.
package environment

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Source reads environment variables under an optional prefix.
type Source struct {
	prefix string
	lookup func(string) (string, bool)
}

// New returns a Source that prepends prefix and an underscore to every
// name. An empty prefix reads names as given.
func New(prefix string) Source {
	return Source{prefix: strings.TrimSuffix(prefix, "_"), lookup: os.LookupEnv}
}

// FromMap returns a Source backed by m instead of the process environment.
func FromMap(prefix string, m map[string]string) Source {
	s := New(prefix)
	s.lookup = func(name string) (string, bool) {
		v, ok := m[name]
		return v, ok
	}
	return s
}

// Name returns the full variable name for name.
func (s Source) Name(name string) string {
	if s.prefix == "" {
		return name
	}
	return s.prefix + "_" + name
}

func (s Source) get(name string) string {
	lookup := s.lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	v, _ := lookup(s.Name(name))
	return strings.TrimSpace(v)
}

// String returns the value of the named variable and whether it was set
// (even if set to the empty string).
func (s Source) String(name string) (string, bool) {
	lookup := s.lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	return lookup(s.Name(name))
}

// StringOr returns the value of the named variable, or defaultValue if it
// is unset or empty.
func (s Source) StringOr(name, defaultValue string) string {
	if v := s.get(name); v != "" {
		return v
	}
	return defaultValue
}

// RequiredString returns the value of the named variable or an error if it
// is unset or empty.
func (s Source) RequiredString(name string) (string, error) {
	v := s.get(name)
	if v == "" {
		return "", fmt.Errorf("required environment variable %q is not set", s.Name(name))
	}
	return v, nil
}

// BoolOr parses the named variable with strconv.ParseBool.
func (s Source) BoolOr(name string, defaultValue bool) bool {
	return parseOr(s.get(name), defaultValue, strconv.ParseBool)
}

// IntOr parses the named variable as a decimal integer.
func (s Source) IntOr(name string, defaultValue int) int {
	return parseOr(s.get(name), defaultValue, strconv.Atoi)
}

// Float64Or parses the named variable as a floating-point number.
func (s Source) Float64Or(name string, defaultValue float64) float64 {
	return parseOr(s.get(name), defaultValue, func(v string) (float64, error) {
		return strconv.ParseFloat(v, 64)
	})
}

// DurationOr parses the named variable as a time.Duration ("30s", "10m").
func (s Source) DurationOr(name string, defaultValue time.Duration) time.Duration {
	return parseOr(s.get(name), defaultValue, time.ParseDuration)
}

// StringSliceOr parses the named variable as a comma-separated list,
// trimming whitespace and dropping empty elements.
func (s Source) StringSliceOr(name string, defaultValue []string) []string {
	v := s.get(name)
	if v == "" {
		return defaultValue
	}
	var result []string
	for _, p := range strings.Split(v, ",") {
		if t := strings.TrimSpace(p); t != "" {
			result = append(result, t)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}

func parseOr[T any](v string, defaultValue T, parse func(string) (T, error)) T {
	if v == "" {
		return defaultValue
	}
	parsed, err := parse(v)
	if err != nil {
		return defaultValue
	}
	return parsed
}

var unprefixed = New("")

// StringOr reads an unprefixed variable. See Source.StringOr.
func StringOr(name, defaultValue string) string { return unprefixed.StringOr(name, defaultValue) }

// RequiredString reads an unprefixed variable. See Source.RequiredString.
func RequiredString(name string) (string, error) { return unprefixed.RequiredString(name) }

// BoolOr reads an unprefixed variable. See Source.BoolOr.
func BoolOr(name string, defaultValue bool) bool { return unprefixed.BoolOr(name, defaultValue) }

// IntOr reads an unprefixed variable. See Source.IntOr.
func IntOr(name string, defaultValue int) int { return unprefixed.IntOr(name, defaultValue) }

// DurationOr reads an unprefixed variable. See Source.DurationOr.
func DurationOr(name string, defaultValue time.Duration) time.Duration {
	return unprefixed.DurationOr(name, defaultValue)
}
