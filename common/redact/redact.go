// Package redact strips secrets from log output.
//
// prepmate holds two kinds of secret: the LLM API key and the Matrix access
// token. Neither may appear in a log line, including inside wrapped errors
// from HTTP clients that echo request details. A Redactor is installed on
// the slog handler at startup and scrubs every string attribute.
package redact

import (
	"log/slog"
	"strings"
)

const placeholder = "[REDACTED]"

// minSecretLen skips values short enough to collide with ordinary text.
const minSecretLen = 4

// String replaces every occurrence of each sensitive value in s with
// [REDACTED].
func String(s string, sensitiveValues ...string) string {
	for _, v := range sensitiveValues {
		if len(v) < minSecretLen {
			continue
		}
		s = strings.ReplaceAll(s, v, placeholder)
	}
	return s
}

// Redactor scrubs a fixed set of secrets.
type Redactor struct {
	secrets []string
}

// New returns a Redactor for the given secrets. Empty and short values are
// ignored.
func New(secrets ...string) *Redactor {
	r := &Redactor{}
	for _, s := range secrets {
		if len(s) >= minSecretLen {
			r.secrets = append(r.secrets, s)
		}
	}
	return r
}

// String redacts s.
func (r *Redactor) String(s string) string {
	if r == nil {
		return s
	}
	return String(s, r.secrets...)
}

// ReplaceAttr is a slog.HandlerOptions.ReplaceAttr hook. String values and
// errors are redacted; attributes whose key names a secret ("token",
// "api_key", ...) are replaced outright.
func (r *Redactor) ReplaceAttr(_ []string, a slog.Attr) slog.Attr {
	if isSensitiveKey(a.Key) && a.Value.Kind() == slog.KindString && a.Value.String() != "" {
		return slog.String(a.Key, placeholder)
	}
	if r == nil || len(r.secrets) == 0 {
		return a
	}
	switch a.Value.Kind() {
	case slog.KindString:
		return slog.String(a.Key, r.String(a.Value.String()))
	case slog.KindAny:
		if err, ok := a.Value.Any().(error); ok {
			return slog.String(a.Key, r.String(err.Error()))
		}
	}
	return a
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, word := range []string{"password", "token", "secret", "api_key", "apikey", "credential"} {
		if strings.Contains(lower, word) {
			return true
		}
	}
	return false
}
