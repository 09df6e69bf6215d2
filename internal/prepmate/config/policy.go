// Package config holds the governance policy: rate and cost limits, window
// lengths, session timeout, continuation threshold and context budgets.
//
// The policy lives in a YAML file. Fields the file leaves out keep their
// built-in defaults, and a missing file means the defaults throughout.
//
//	limits:
//	  requests_per_minute: 5
//	  requests_per_hour: 20
//	  requests_per_day: 50
//	  cost_per_hour: 50
//	  cost_per_day: 200
//	session:
//	  inactivity_timeout: 10m
//	continuity:
//	  threshold: 0.6
//	  context_messages: 10
//	recall:
//	  max_context_tokens: 2000
//	  limit_per_keyword: 3
//	ledger_check: fail_open
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bdobrica/prepmate/internal/prepmate/continuity"
	"github.com/bdobrica/prepmate/internal/prepmate/governance"
	"github.com/bdobrica/prepmate/internal/prepmate/recall"
	"github.com/bdobrica/prepmate/internal/prepmate/session"
	"github.com/bdobrica/prepmate/internal/prepmate/usage"
)

// LimitsPolicy configures the usage ledger.
type LimitsPolicy struct {
	RequestsPerMinute int     `yaml:"requests_per_minute"`
	RequestsPerHour   int     `yaml:"requests_per_hour"`
	RequestsPerDay    int     `yaml:"requests_per_day"`
	CostPerHour       float64 `yaml:"cost_per_hour"`
	CostPerDay        float64 `yaml:"cost_per_day"`

	MinuteWindow time.Duration `yaml:"minute_window"`
	HourWindow   time.Duration `yaml:"hour_window"`
	DayWindow    time.Duration `yaml:"day_window"`
}

// SessionPolicy configures the session tracker.
type SessionPolicy struct {
	InactivityTimeout time.Duration `yaml:"inactivity_timeout"`
}

// ContinuityPolicy configures follow-up detection.
type ContinuityPolicy struct {
	Threshold       float64 `yaml:"threshold"`
	ContextMessages int     `yaml:"context_messages"`
}

// RecallPolicy configures long-term recall.
type RecallPolicy struct {
	MaxContextTokens int `yaml:"max_context_tokens"`
	LimitPerKeyword  int `yaml:"limit_per_keyword"`
}

// Policy is the whole governance policy file.
type Policy struct {
	Limits     LimitsPolicy     `yaml:"limits"`
	Session    SessionPolicy    `yaml:"session"`
	Continuity ContinuityPolicy `yaml:"continuity"`
	Recall     RecallPolicy     `yaml:"recall"`

	// LedgerCheck is "fail_open" or "fail_closed".
	LedgerCheck governance.FailurePolicy `yaml:"ledger_check"`
}

// DefaultPolicy returns the built-in policy.
func DefaultPolicy() *Policy {
	l := usage.DefaultLimits()
	return &Policy{
		Limits: LimitsPolicy{
			RequestsPerMinute: l.RequestsPerMinute,
			RequestsPerHour:   l.RequestsPerHour,
			RequestsPerDay:    l.RequestsPerDay,
			CostPerHour:       l.CostPerHour,
			CostPerDay:        l.CostPerDay,
			MinuteWindow:      l.MinuteWindow,
			HourWindow:        l.HourWindow,
			DayWindow:         l.DayWindow,
		},
		Session:     SessionPolicy{InactivityTimeout: session.DefaultInactivityTimeout},
		Continuity:  ContinuityPolicy{Threshold: continuity.DefaultThreshold, ContextMessages: continuity.DefaultContextMessages},
		Recall:      RecallPolicy{MaxContextTokens: recall.DefaultMaxContextTokens, LimitPerKeyword: recall.DefaultLimitPerKeyword},
		LedgerCheck: governance.LedgerCheckPolicy,
	}
}

// ParsePolicy decodes a YAML policy over the defaults and validates it.
// Unknown keys are rejected so that typos do not silently fall back to a
// default.
func ParsePolicy(data []byte) (*Policy, error) {
	p := DefaultPolicy()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(p); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse policy yaml: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}
	return p, nil
}

// LoadPolicyFile reads and parses path. A missing file yields the defaults.
func LoadPolicyFile(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return DefaultPolicy(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	return ParsePolicy(data)
}

// Validate reports every out-of-range value.
func (p *Policy) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	l := p.Limits
	check(l.RequestsPerMinute > 0, "limits.requests_per_minute must be positive, got %d", l.RequestsPerMinute)
	check(l.RequestsPerHour > 0, "limits.requests_per_hour must be positive, got %d", l.RequestsPerHour)
	check(l.RequestsPerDay > 0, "limits.requests_per_day must be positive, got %d", l.RequestsPerDay)
	check(l.CostPerHour > 0, "limits.cost_per_hour must be positive, got %v", l.CostPerHour)
	check(l.CostPerDay > 0, "limits.cost_per_day must be positive, got %v", l.CostPerDay)
	check(l.MinuteWindow > 0 && l.HourWindow > 0 && l.DayWindow > 0, "limits windows must be positive")

	check(p.Session.InactivityTimeout > 0, "session.inactivity_timeout must be positive, got %v", p.Session.InactivityTimeout)
	check(p.Continuity.Threshold >= 0 && p.Continuity.Threshold <= 1,
		"continuity.threshold must be within [0, 1], got %v", p.Continuity.Threshold)
	check(p.Continuity.ContextMessages > 0, "continuity.context_messages must be positive, got %d", p.Continuity.ContextMessages)
	check(p.Recall.MaxContextTokens > 0, "recall.max_context_tokens must be positive, got %d", p.Recall.MaxContextTokens)
	check(p.Recall.LimitPerKeyword > 0, "recall.limit_per_keyword must be positive, got %d", p.Recall.LimitPerKeyword)
	check(p.LedgerCheck == governance.FailOpen || p.LedgerCheck == governance.FailClosed,
		"ledger_check must be %q or %q, got %q", governance.FailOpen, governance.FailClosed, p.LedgerCheck)

	return errors.Join(errs...)
}

// UsageLimits converts the policy to ledger limits.
func (p *Policy) UsageLimits() usage.Limits {
	return usage.Limits{
		RequestsPerMinute: p.Limits.RequestsPerMinute,
		RequestsPerHour:   p.Limits.RequestsPerHour,
		RequestsPerDay:    p.Limits.RequestsPerDay,
		CostPerHour:       p.Limits.CostPerHour,
		CostPerDay:        p.Limits.CostPerDay,
		MinuteWindow:      p.Limits.MinuteWindow,
		HourWindow:        p.Limits.HourWindow,
		DayWindow:         p.Limits.DayWindow,
	}
}

// SessionConfig converts the policy to tracker settings.
func (p *Policy) SessionConfig() session.Config {
	return session.Config{InactivityTimeout: p.Session.InactivityTimeout}
}

// GovernanceConfig converts the policy to orchestrator settings.
func (p *Policy) GovernanceConfig() governance.Config {
	return governance.Config{
		ContextMessages:   p.Continuity.ContextMessages,
		MaxContextTokens:  p.Recall.MaxContextTokens,
		LimitPerKeyword:   p.Recall.LimitPerKeyword,
		LedgerCheckPolicy: p.LedgerCheck,
	}
}
