package environment_test

import (
	"slices"
	"testing"
	"time"

	"github.com/bdobrica/prepmate/common/environment"
)

func TestSourcePrefix(t *testing.T) {
	t.Setenv("PREPMATE_DB_PATH", "/var/lib/prepmate.db")
	t.Setenv("DB_PATH", "/tmp/other.db")

	env := environment.New("PREPMATE_")
	if got := env.Name("DB_PATH"); got != "PREPMATE_DB_PATH" {
		t.Errorf("Name = %q", got)
	}
	if got := env.StringOr("DB_PATH", "default"); got != "/var/lib/prepmate.db" {
		t.Errorf("expected prefixed value, got %q", got)
	}
	if got := environment.StringOr("DB_PATH", "default"); got != "/tmp/other.db" {
		t.Errorf("expected unprefixed value, got %q", got)
	}
}

func TestRequiredString(t *testing.T) {
	env := environment.FromMap("APP", map[string]string{"APP_TOKEN": "value", "APP_BLANK": "  "})

	v, err := env.RequiredString("TOKEN")
	if err != nil || v != "value" {
		t.Fatalf("RequiredString = %q, %v", v, err)
	}
	for _, name := range []string{"BLANK", "MISSING"} {
		if _, err := env.RequiredString(name); err == nil {
			t.Errorf("expected error for %s", name)
		}
	}
	if v, ok := env.String("BLANK"); !ok || v != "  " {
		t.Errorf("String must report set-but-blank variables, got %q, %v", v, ok)
	}
}

func TestTypedHelpers(t *testing.T) {
	env := environment.FromMap("", map[string]string{
		"BOOL":     "true",
		"INT":      "42",
		"INT_BAD":  "notanint",
		"FLOAT":    "0.25",
		"DUR":      "30s",
		"DUR_BAD":  "soon",
		"SLICE":    "a, b , c",
		"SLICE_WS": " , ",
	})

	if !env.BoolOr("BOOL", false) || !env.BoolOr("MISSING", true) {
		t.Error("BoolOr")
	}
	if got := env.IntOr("INT", 0); got != 42 {
		t.Errorf("IntOr = %d", got)
	}
	if got := env.IntOr("INT_BAD", 7); got != 7 {
		t.Errorf("expected default 7 for bad value, got %d", got)
	}
	if got := env.Float64Or("FLOAT", 1); got != 0.25 {
		t.Errorf("Float64Or = %v", got)
	}
	if got := env.DurationOr("DUR", time.Minute); got != 30*time.Second {
		t.Errorf("DurationOr = %v", got)
	}
	if got := env.DurationOr("DUR_BAD", time.Minute); got != time.Minute {
		t.Errorf("expected default for bad duration, got %v", got)
	}
	if got := env.StringSliceOr("SLICE", nil); !slices.Equal(got, []string{"a", "b", "c"}) {
		t.Errorf("StringSliceOr = %v", got)
	}
	if got := env.StringSliceOr("SLICE_WS", []string{"x"}); !slices.Equal(got, []string{"x"}) {
		t.Errorf("expected fallback for empty elements, got %v", got)
	}
}
