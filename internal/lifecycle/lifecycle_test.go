package lifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"accountgate/internal/models"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestParseBanTier(t *testing.T) {
	require.Equal(t, BanDay, ParseBanTier("24 Hours"))
	require.Equal(t, BanWeek, ParseBanTier(" 7 days "))
	require.Equal(t, BanPermanent, ParseBanTier("Permanent"))
	require.Equal(t, BanPermanent, ParseBanTier("3 Weeks"))
	require.Equal(t, BanPermanent, ParseBanTier(""))

	require.Equal(t, models.StatusBanned24h, BanDay.Status())
	require.Equal(t, models.StatusBannedExtended, BanWeek.Status())
	require.Equal(t, models.StatusBannedPermanent, BanPermanent.Status())
	require.Zero(t, BanPermanent.Duration())
}

func TestBanExpiry24hBoundary(t *testing.T) {
	a := models.Account{Status: models.StatusBanned24h, BannedAt: models.TimePtr(base)}

	before := a.Clone()
	_, ok := ExpireBan(&before, base.Add(24*time.Hour-time.Millisecond))
	require.False(t, ok)
	require.Equal(t, models.StatusBanned24h, before.Status)

	after := a.Clone()
	tr, ok := ExpireBan(&after, base.Add(24*time.Hour+time.Millisecond))
	require.True(t, ok)
	require.Equal(t, RuleBanExpired, tr.Rule)
	require.Equal(t, models.StatusActive, after.Status)
	require.Nil(t, after.BannedAt)
	require.Nil(t, after.BanReason)
}

func TestBanExpiryExtendedHonoursUnbanAt(t *testing.T) {
	unban := base.Add(3 * time.Hour)
	a := models.Account{Status: models.StatusBannedExtended, BannedAt: models.TimePtr(base), UnbanAt: models.TimePtr(unban)}
	exp, ok := BanExpiry(a)
	require.True(t, ok)
	require.True(t, exp.Equal(unban))

	a.UnbanAt = nil
	exp, ok = BanExpiry(a)
	require.True(t, ok)
	require.True(t, exp.Equal(base.Add(7*24*time.Hour)))
}

func TestBanExpiryPermanentOrUnstamped(t *testing.T) {
	_, ok := BanExpiry(models.Account{Status: models.StatusBannedPermanent, BannedAt: models.TimePtr(base)})
	require.False(t, ok)
	_, ok = BanExpiry(models.Account{Status: models.StatusBanned24h})
	require.False(t, ok)
}

func TestReactivateRefreshesLastLogin(t *testing.T) {
	eligible := base.Add(12 * time.Hour)
	a := models.Account{
		Status:                 models.StatusDeactivated,
		LastLoginAt:            models.TimePtr(base.Add(-30 * 24 * time.Hour)),
		ReactivationRequest:    true,
		ReactivationReason:     models.StringPtr("back from holiday"),
		ReactivationEligibleAt: models.TimePtr(eligible),
	}
	now := eligible.Add(time.Millisecond)
	trs := Reconcile(&a, now)
	require.Len(t, trs, 1)
	require.Equal(t, RuleReactivated, trs[0].Rule)
	require.Equal(t, models.StatusActive, a.Status)
	require.False(t, a.ReactivationRequest)
	require.Nil(t, a.ReactivationEligibleAt)
	require.Nil(t, a.ReactivationReason)
	require.True(t, a.LastLoginAt.Equal(now))
}

func TestReactivateNotYetEligible(t *testing.T) {
	a := models.Account{Status: models.StatusDeactivated, ReactivationRequest: true, ReactivationEligibleAt: models.TimePtr(base)}
	require.Empty(t, Reconcile(&a, base))
	require.Equal(t, models.StatusDeactivated, a.Status)
}

func TestDeactivateAfterInactivityWindow(t *testing.T) {
	a := models.Account{Status: models.StatusActive, LastLoginAt: models.TimePtr(base)}

	edge := a.Clone()
	require.Empty(t, Reconcile(&edge, base.Add(InactivityWindow)))

	past := a.Clone()
	trs := Reconcile(&past, base.Add(InactivityWindow+time.Millisecond))
	require.Equal(t, []Transition{{From: models.StatusActive, To: models.StatusDeactivated, Rule: RuleInactivity}}, trs)
	require.Equal(t, models.StatusDeactivated, past.Status)
}

func TestReconcileUnbanThenDeactivateStaleLogin(t *testing.T) {
	a := models.Account{
		Status:      models.StatusBanned24h,
		BannedAt:    models.TimePtr(base),
		LastLoginAt: models.TimePtr(base.Add(-20 * 24 * time.Hour)),
	}
	trs := Reconcile(&a, base.Add(25*time.Hour))
	require.Len(t, trs, 2)
	require.Equal(t, RuleBanExpired, trs[0].Rule)
	require.Equal(t, RuleInactivity, trs[1].Rule)
	require.Equal(t, models.StatusDeactivated, a.Status)
}

func TestPreviewDoesNotMutate(t *testing.T) {
	a := models.Account{Status: models.StatusBanned24h, BannedAt: models.TimePtr(base)}
	trs := Preview(a, base.Add(48*time.Hour))
	require.Len(t, trs, 1)
	require.Equal(t, models.StatusBanned24h, a.Status)
	require.NotNil(t, a.BannedAt)
}

func TestApplyBanAndCustomBan(t *testing.T) {
	var a models.Account
	ApplyBan(&a, BanDay, "spam", base)
	require.Equal(t, models.StatusBanned24h, a.Status)
	require.Equal(t, "24 Hours", *a.BanDuration)
	require.True(t, a.UnbanAt.Equal(base.Add(24*time.Hour)))

	ApplyBan(&a, BanPermanent, "fraud", base)
	require.Equal(t, models.StatusBannedPermanent, a.Status)
	require.Nil(t, a.UnbanAt)

	ApplyCustomBan(&a, 5, "spam", base)
	require.Equal(t, models.StatusBannedExtended, a.Status)
	require.Equal(t, "5 Hour(s)", *a.BanDuration)
	exp, ok := BanExpiry(a)
	require.True(t, ok)
	require.True(t, exp.Equal(base.Add(5*time.Hour)))
}
