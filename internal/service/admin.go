package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"accountgate/internal/lifecycle"
	"accountgate/internal/models"
)

// AccountView is an account as stored plus the automatic transitions that
// would apply if it were accessed now.
type AccountView struct {
	Account      models.Account
	Pending      []lifecycle.Transition
	BanExpiresAt *time.Time
}

var lastLoginLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// SetStatus overwrites an account's status. Moving to Active resets ban,
// unban-request and reactivation state in the same write.
func (s *Service) SetStatus(ctx context.Context, username string, status models.StatusCode) (models.Account, error) {
	key := normalizeUsername(username)
	if key == "" || !status.Known() {
		return models.Account{}, ErrInvalidInput
	}
	now := s.clock()
	var from models.StatusCode
	acc, err := s.st.MutateAccount(ctx, key, func(a *models.Account) (bool, error) {
		from = a.Status
		applyStatus(a, status, now)
		return true, nil
	})
	if err = storeErr("set_status", key, err); err != nil {
		return models.Account{}, err
	}
	log.Printf("account_status_set username=%s from=%s to=%s", key, from, status)
	return acc, nil
}

func applyStatus(a *models.Account, status models.StatusCode, now time.Time) {
	from := a.Status
	a.Status = status
	switch {
	case status == models.StatusActive:
		a.ClearBan()
		a.ClearUnbanRequest()
		a.ClearReactivation()
		// Restart the inactivity clock.
		if from == models.StatusDeactivated {
			a.LastLoginAt = models.TimePtr(now)
		}
	case status.IsBanTier():
		if from == status && a.BannedAt != nil {
			return
		}
		tier, _ := lifecycle.TierForStatus(status)
		a.BanDuration = models.StringPtr(tier.Label())
		a.BannedAt = models.TimePtr(now)
		a.UnbanAt = nil
	case from.IsBanTier():
		a.ClearBan()
		a.ClearUnbanRequest()
	}
}

// ApplyCustomBan bans an account for a fixed number of hours.
func (s *Service) ApplyCustomBan(ctx context.Context, username string, hours int, reason string) (models.Account, error) {
	key := normalizeUsername(username)
	if key == "" || hours <= 0 {
		return models.Account{}, ErrInvalidInput
	}
	reason = strings.TrimSpace(reason)
	now := s.clock()
	acc, err := s.st.MutateAccount(ctx, key, func(a *models.Account) (bool, error) {
		lifecycle.ApplyCustomBan(a, hours, reason, now)
		if reason == "" {
			a.BanReason = nil
		}
		return true, nil
	})
	if err = storeErr("custom_ban", key, err); err != nil {
		return models.Account{}, err
	}
	log.Printf("account_custom_ban username=%s hours=%d", key, hours)
	s.notify(ctx, acc.Email, banNotice(acc))
	return acc, nil
}

func parseLastLogin(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	for _, layout := range lastLoginLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: unparseable date %q", ErrInvalidInput, v)
}

func (s *Service) SetLastLogin(ctx context.Context, username, isoDate string) (models.Account, error) {
	key := normalizeUsername(username)
	if key == "" {
		return models.Account{}, ErrInvalidInput
	}
	at, err := parseLastLogin(isoDate)
	if err != nil {
		return models.Account{}, err
	}
	acc, err := s.st.MutateAccount(ctx, key, func(a *models.Account) (bool, error) {
		a.LastLoginAt = models.TimePtr(at)
		return true, nil
	})
	if err = storeErr("set_last_login", key, err); err != nil {
		return models.Account{}, err
	}
	return acc, nil
}

// GetAccount returns the stored record without reconciling it.
func (s *Service) GetAccount(ctx context.Context, username string) (AccountView, error) {
	key := normalizeUsername(username)
	if key == "" {
		return AccountView{}, ErrInvalidInput
	}
	acc, err := s.st.GetAccount(ctx, key)
	if err = storeErr("get_account", key, err); err != nil {
		return AccountView{}, err
	}
	view := AccountView{Account: acc, Pending: lifecycle.Preview(acc, s.clock())}
	if expiry, ok := lifecycle.BanExpiry(acc); ok {
		view.BanExpiresAt = models.TimePtr(expiry)
	}
	return view, nil
}

func (s *Service) ListAccounts(ctx context.Context, query models.AccountQuery) ([]models.Account, error) {
	if query.Status != nil && !query.Status.Known() {
		return nil, ErrInvalidInput
	}
	if query.Limit < 0 || query.Offset < 0 {
		return nil, ErrInvalidInput
	}
	out, err := s.st.ListAccounts(ctx, query)
	if err = storeErr("list_accounts", "", err); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) ListModeratorRequests(ctx context.Context, limit, offset int) ([]models.ModeratorRequest, error) {
	if limit < 0 || offset < 0 {
		return nil, ErrInvalidInput
	}
	out, err := s.st.ListModeratorRequests(ctx, limit, offset)
	if err = storeErr("list_moderator_requests", "", err); err != nil {
		return nil, err
	}
	return out, nil
}
