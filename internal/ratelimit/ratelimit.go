package ratelimit

import (
	"github.com/ignite/mailrouter/internal/domain"
)

// Decision explains why an account was admitted or refused.
type Decision struct {
	Allowed bool
	Reason  string
}

// CanSend applies the account's own counters against its configured
// limits. A limit of zero means unconfigured and never refuses. The
// check reads the counters as loaded; the authoritative increment
// happens in SQL after a successful send.
func CanSend(a *domain.Account) Decision {
	if a.DailyLimit > 0 && a.SentToday >= a.DailyLimit {
		return Decision{Reason: "daily limit reached"}
	}
	if a.HourlyLimit > 0 && a.SentThisHour >= a.HourlyLimit {
		return Decision{Reason: "hourly limit reached"}
	}
	return Decision{Allowed: true}
}
