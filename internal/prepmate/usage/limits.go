package usage

import (
	"time"

	"github.com/bdobrica/prepmate/internal/prepmate/store"
)

// Default policy constants. They may be overridden from the policy file
// without changing how the ledger behaves.
const (
	DefaultRequestsPerMinute = 5
	DefaultRequestsPerHour   = 20
	DefaultRequestsPerDay    = 50
	DefaultCostPerHour       = 50.0
	DefaultCostPerDay        = 200.0
)

// Cost estimates, in abstract cost units, for the external calls a turn can
// trigger. These are coarse estimates, not exact bills.
const (
	CostReasoning  = 0.2  // full checklist generation
	CostFollowUp   = 0.01 // follow-up answer on the small model
	CostClassifier = 0.01 // continuity classification call
)

// Limits is the active rate and cost policy.
type Limits struct {
	RequestsPerMinute int
	RequestsPerHour   int
	RequestsPerDay    int
	CostPerHour       float64
	CostPerDay        float64

	MinuteWindow time.Duration
	HourWindow   time.Duration
	DayWindow    time.Duration
}

// DefaultLimits returns the built-in policy.
func DefaultLimits() Limits {
	return Limits{
		RequestsPerMinute: DefaultRequestsPerMinute,
		RequestsPerHour:   DefaultRequestsPerHour,
		RequestsPerDay:    DefaultRequestsPerDay,
		CostPerHour:       DefaultCostPerHour,
		CostPerDay:        DefaultCostPerDay,
		MinuteWindow:      time.Minute,
		HourWindow:        time.Hour,
		DayWindow:         24 * time.Hour,
	}
}

// Duration returns the length of window w.
func (l Limits) Duration(w store.UsageWindow) time.Duration {
	switch w {
	case store.WindowMinute:
		return l.MinuteWindow
	case store.WindowHour:
		return l.HourWindow
	default:
		return l.DayWindow
	}
}

// withDefaults fills zero fields from DefaultLimits.
func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.RequestsPerMinute <= 0 {
		l.RequestsPerMinute = d.RequestsPerMinute
	}
	if l.RequestsPerHour <= 0 {
		l.RequestsPerHour = d.RequestsPerHour
	}
	if l.RequestsPerDay <= 0 {
		l.RequestsPerDay = d.RequestsPerDay
	}
	if l.CostPerHour <= 0 {
		l.CostPerHour = d.CostPerHour
	}
	if l.CostPerDay <= 0 {
		l.CostPerDay = d.CostPerDay
	}
	if l.MinuteWindow <= 0 {
		l.MinuteWindow = d.MinuteWindow
	}
	if l.HourWindow <= 0 {
		l.HourWindow = d.HourWindow
	}
	if l.DayWindow <= 0 {
		l.DayWindow = d.DayWindow
	}
	return l
}
