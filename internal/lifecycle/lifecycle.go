// Package lifecycle holds the time-driven account status rules. Every
// function here is pure over (record, now); callers decide when to persist.
package lifecycle

import (
	"fmt"
	"strings"
	"time"

	"accountgate/internal/models"
)

const (
	InactivityWindow  = 10 * 24 * time.Hour
	ReactivationDelay = 12 * time.Hour
)

type BanTier int

const (
	BanPermanent BanTier = iota
	BanDay
	BanWeek
)

func (t BanTier) Status() models.StatusCode {
	switch t {
	case BanDay:
		return models.StatusBanned24h
	case BanWeek:
		return models.StatusBannedExtended
	default:
		return models.StatusBannedPermanent
	}
}

func (t BanTier) Label() string {
	switch t {
	case BanDay:
		return "24 Hours"
	case BanWeek:
		return "7 Days"
	default:
		return "Permanent"
	}
}

// Duration is zero for permanent bans.
func (t BanTier) Duration() time.Duration {
	switch t {
	case BanDay:
		return 24 * time.Hour
	case BanWeek:
		return 7 * 24 * time.Hour
	default:
		return 0
	}
}

// ParseBanTier maps a duration label to a tier. Unrecognized labels are permanent.
func ParseBanTier(label string) BanTier {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "24 hours":
		return BanDay
	case "7 days":
		return BanWeek
	default:
		return BanPermanent
	}
}

// TierForStatus returns the tier of a ban status.
func TierForStatus(s models.StatusCode) (BanTier, bool) {
	switch s {
	case models.StatusBannedPermanent:
		return BanPermanent, true
	case models.StatusBanned24h:
		return BanDay, true
	case models.StatusBannedExtended:
		return BanWeek, true
	}
	return 0, false
}

func CustomBanLabel(hours int) string {
	return fmt.Sprintf("%d Hour(s)", hours)
}

// ApplyBan moves a to the tier's ban status stamped at now. Duration-bound
// tiers get an explicit unbanAt.
func ApplyBan(a *models.Account, tier BanTier, reason string, now time.Time) {
	a.Status = tier.Status()
	a.BanReason = models.StringPtr(reason)
	a.BanDuration = models.StringPtr(tier.Label())
	a.BannedAt = models.TimePtr(now)
	a.UnbanAt = nil
	if d := tier.Duration(); d > 0 {
		a.UnbanAt = models.TimePtr(now.Add(d))
	}
}

// ApplyCustomBan bans a for the given number of hours.
func ApplyCustomBan(a *models.Account, hours int, reason string, now time.Time) {
	a.Status = models.StatusBannedExtended
	a.BanReason = models.StringPtr(reason)
	a.BanDuration = models.StringPtr(CustomBanLabel(hours))
	a.BannedAt = models.TimePtr(now)
	a.UnbanAt = models.TimePtr(now.Add(time.Duration(hours) * time.Hour))
}

// BanExpiry returns when a duration-bound ban ends. Banned24h always runs
// 24h from bannedAt; BannedExtended honours unbanAt and falls back to 7 days.
func BanExpiry(a models.Account) (time.Time, bool) {
	if a.BannedAt == nil {
		return time.Time{}, false
	}
	switch a.Status {
	case models.StatusBanned24h:
		return a.BannedAt.Add(BanDay.Duration()), true
	case models.StatusBannedExtended:
		if a.UnbanAt != nil {
			return *a.UnbanAt, true
		}
		return a.BannedAt.Add(BanWeek.Duration()), true
	}
	return time.Time{}, false
}

type Rule string

const (
	RuleBanExpired  Rule = "ban_expired"
	RuleReactivated Rule = "reactivated"
	RuleInactivity  Rule = "inactivity"
)

type Transition struct {
	From models.StatusCode `json:"from"`
	To   models.StatusCode `json:"to"`
	Rule Rule              `json:"rule"`
}

func (t Transition) String() string {
	return fmt.Sprintf("%s:%s->%s", t.Rule, t.From, t.To)
}

// ExpireBan lifts an elapsed duration-bound ban.
func ExpireBan(a *models.Account, now time.Time) (Transition, bool) {
	expiry, ok := BanExpiry(*a)
	if !ok || !now.After(expiry) {
		return Transition{}, false
	}
	from := a.Status
	a.Status = models.StatusActive
	a.ClearBan()
	a.ClearUnbanRequest()
	return Transition{From: from, To: models.StatusActive, Rule: RuleBanExpired}, true
}

// Reactivate restores a deactivated account once its request has matured.
// lastLoginAt is refreshed so the inactivity rule cannot fire straight after.
func Reactivate(a *models.Account, now time.Time) (Transition, bool) {
	if a.Status != models.StatusDeactivated || a.ReactivationEligibleAt == nil || !now.After(*a.ReactivationEligibleAt) {
		return Transition{}, false
	}
	a.Status = models.StatusActive
	a.ClearReactivation()
	a.LastLoginAt = models.TimePtr(now)
	return Transition{From: models.StatusDeactivated, To: models.StatusActive, Rule: RuleReactivated}, true
}

// Deactivate marks an active account idle for longer than InactivityWindow.
func Deactivate(a *models.Account, now time.Time) (Transition, bool) {
	if a.Status != models.StatusActive || a.LastLoginAt == nil || now.Sub(*a.LastLoginAt) <= InactivityWindow {
		return Transition{}, false
	}
	a.Status = models.StatusDeactivated
	return Transition{From: models.StatusActive, To: models.StatusDeactivated, Rule: RuleInactivity}, true
}

// Reconcile applies every pending automatic transition in order: ban expiry,
// reactivation, inactivity. It returns what was applied.
func Reconcile(a *models.Account, now time.Time) []Transition {
	var out []Transition
	for _, rule := range []func(*models.Account, time.Time) (Transition, bool){ExpireBan, Reactivate, Deactivate} {
		if tr, ok := rule(a, now); ok {
			out = append(out, tr)
		}
	}
	return out
}

// Preview reports what Reconcile would do without touching a.
func Preview(a models.Account, now time.Time) []Transition {
	c := a.Clone()
	return Reconcile(&c, now)
}
