package usage

import (
	"fmt"
	"math"
	"time"

	"github.com/bdobrica/prepmate/internal/prepmate/store"
)

// LimitKind names the limit that denied a request.
type LimitKind string

const (
	LimitBlocked     LimitKind = "blocked"
	LimitPerMinute   LimitKind = "per_minute"
	LimitPerHour     LimitKind = "per_hour"
	LimitPerDay      LimitKind = "per_day"
	LimitCostPerHour LimitKind = "cost_per_hour"
	LimitCostPerDay  LimitKind = "cost_per_day"

	// LimitUnavailable is used when the ledger could not be consulted and
	// the caller chose to refuse the request.
	LimitUnavailable LimitKind = "unavailable"
)

const defaultBlockedReason = "Your account has been temporarily blocked due to unusual activity. Please try again later."

// Decision is the outcome of a ledger check.
type Decision struct {
	Allowed bool

	// Set when Allowed is false.
	Limit             LimitKind
	Reason            string // user-facing explanation
	RetryAfterSeconds int

	// Degraded is true when the answer was not computed from storage and
	// the request was let through by default.
	Degraded bool
}

// Allow is the decision for a request within every limit.
func Allow() Decision {
	return Decision{Allowed: true}
}

// Unavailable is the refusal used when limits cannot be checked.
func Unavailable() Decision {
	return Decision{
		Limit:             LimitUnavailable,
		Reason:            "Sorry, I can't take requests right now. Please try again in a minute.",
		RetryAfterSeconds: 60,
	}
}

// Evaluate applies limits to an already-refreshed record. Checks run in a
// fixed order (block, minute, hour, day, hourly cost, daily cost) and the
// first one that trips decides the result.
func Evaluate(rec *store.UsageRecord, limits Limits, now time.Time) Decision {
	if rec.Blocked {
		reason := rec.BlockedReason
		if reason == "" {
			reason = defaultBlockedReason
		}
		return Decision{Limit: LimitBlocked, Reason: reason}
	}

	minuteLeft := retrySeconds(remaining(rec.Minute, now, limits.MinuteWindow))
	hourLeft := retrySeconds(remaining(rec.Hour, now, limits.HourWindow))
	dayLeft := retrySeconds(remaining(rec.Day, now, limits.DayWindow))

	switch {
	case rec.Minute.Requests >= limits.RequestsPerMinute:
		return Decision{
			Limit:             LimitPerMinute,
			RetryAfterSeconds: minuteLeft,
			Reason:            fmt.Sprintf("You're sending requests too quickly. Please wait %d seconds and try again.", minuteLeft),
		}
	case rec.Hour.Requests >= limits.RequestsPerHour:
		return Decision{
			Limit:             LimitPerHour,
			RetryAfterSeconds: hourLeft,
			Reason: fmt.Sprintf("You've reached the hourly limit of %d requests. Please try again in %d minutes.",
				limits.RequestsPerHour, minutesCeil(hourLeft)),
		}
	case rec.Day.Requests >= limits.RequestsPerDay:
		return Decision{
			Limit:             LimitPerDay,
			RetryAfterSeconds: dayLeft,
			Reason:            fmt.Sprintf("You've reached the daily limit of %d requests. Please try again tomorrow.", limits.RequestsPerDay),
		}
	case rec.Hour.Cost >= limits.CostPerHour:
		return Decision{
			Limit:             LimitCostPerHour,
			RetryAfterSeconds: hourLeft,
			Reason:            fmt.Sprintf("You've reached the hourly usage limit. Please try again in %d minutes.", minutesCeil(hourLeft)),
		}
	case rec.Day.Cost >= limits.CostPerDay:
		return Decision{
			Limit:             LimitCostPerDay,
			RetryAfterSeconds: dayLeft,
			Reason:            "You've reached the daily usage limit. Please try again tomorrow.",
		}
	}
	return Allow()
}

func retrySeconds(d time.Duration) int {
	return int(math.Ceil(d.Seconds()))
}

func minutesCeil(seconds int) int {
	return (seconds + 59) / 60
}
