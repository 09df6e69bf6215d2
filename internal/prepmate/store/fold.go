package store

import (
	"database/sql/driver"
	"fmt"
	"strings"

	"modernc.org/sqlite"
)

// lowerFunc is the SQL name of a Unicode-aware LOWER. SQLite's built-in
// LOWER only folds ASCII, while search keywords are lowered in Go, so the
// stored side has to be lowered the same way for "MÜLLER" to match "müller".
const lowerFunc = "lower_unicode"

func init() {
	sqlite.MustRegisterDeterministicScalarFunction(lowerFunc, 1, lowerUnicode)
}

func lowerUnicode(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	switch v := args[0].(type) {
	case nil:
		return nil, nil
	case string:
		return strings.ToLower(v), nil
	case []byte:
		return strings.ToLower(string(v)), nil
	default:
		return nil, fmt.Errorf("%s: unsupported argument type %T", lowerFunc, v)
	}
}
