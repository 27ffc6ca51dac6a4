package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"accountgate/internal/lifecycle"
	"accountgate/internal/models"
	"accountgate/internal/notify"
	"accountgate/internal/oracle"
)

type OutcomeStatus string

const (
	OutcomeApproved           OutcomeStatus = "approved"
	OutcomePending            OutcomeStatus = "pending"
	OutcomeBanned             OutcomeStatus = "banned"
	OutcomeDeleted            OutcomeStatus = "deleted"
	OutcomeError              OutcomeStatus = "error"
	OutcomeCrashed            OutcomeStatus = "crashed"
	OutcomeDeactivated        OutcomeStatus = "deactivated"
	OutcomeInQueue            OutcomeStatus = "in_queue"
	OutcomeAppSold            OutcomeStatus = "app_sold"
	OutcomeNotFound           OutcomeStatus = "not_found"
	OutcomeInvalidCredentials OutcomeStatus = "invalid_credentials"
	OutcomeInvalidInput       OutcomeStatus = "invalid_input"
)

type UserData struct {
	Username string `json:"username"`
	Email    string `json:"email"`
}

type BanDetails struct {
	Username    string     `json:"username"`
	BanReason   string     `json:"banReason"`
	BanDuration string     `json:"banDuration"`
	UnbanAt     *time.Time `json:"unbanAt,omitempty"`
}

// Outcome is the result of a login attempt. It is always populated; store and
// oracle failures surface as OutcomeError rather than as Go errors.
type Outcome struct {
	Success bool          `json:"success"`
	Status  OutcomeStatus `json:"status"`
	Message string        `json:"message"`
	User    *UserData     `json:"user,omitempty"`
	Ban     *BanDetails   `json:"ban,omitempty"`
}

const (
	msgInvalidLogin  = "Invalid username or email."
	msgServerError   = "A server error occurred with your account. Please contact support."
	msgUnknownStatus = "Unknown account status. Please contact support."
	msgFinalizeError = "Failed to finalize login."
)

func failed(status OutcomeStatus, msg string) Outcome {
	return Outcome{Status: status, Message: msg}
}

// Login reconciles the account's time-driven state and then decides whether
// the user may proceed.
func (s *Service) Login(ctx context.Context, username, email string) Outcome {
	key := normalizeUsername(username)
	email = strings.TrimSpace(email)
	if key == "" || email == "" {
		return failed(OutcomeInvalidInput, "Username and email are required.")
	}
	now := s.clock()

	var applied []lifecycle.Transition
	acc, err := s.st.MutateAccount(ctx, key, func(a *models.Account) (bool, error) {
		if !sameEmail(a.Email, email) {
			return false, ErrInvalidCredentials
		}
		applied = lifecycle.Reconcile(a, now)
		return len(applied) > 0, nil
	})
	switch err = storeErr("login", key, err); {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrInvalidCredentials):
		status := OutcomeNotFound
		if errors.Is(err, ErrInvalidCredentials) {
			status = OutcomeInvalidCredentials
		}
		return failed(status, msgInvalidLogin)
	case err != nil:
		return failed(OutcomeError, msgServerError)
	}
	logTransitions("login", key, applied)

	return s.dispatch(ctx, acc, now)
}

func (s *Service) dispatch(ctx context.Context, acc models.Account, now time.Time) Outcome {
	user := &UserData{Username: acc.Username, Email: acc.Email}
	switch acc.Status {
	case models.StatusPending:
		return failed(OutcomePending, "This account is pending for approval.")
	case models.StatusActive:
		return s.admit(ctx, acc, now)
	case models.StatusBannedPermanent, models.StatusBanned24h, models.StatusBannedExtended:
		return bannedOutcome(acc)
	case models.StatusDeleted:
		return failed(OutcomeDeleted, "This account has been deleted.")
	case models.StatusError:
		return failed(OutcomeError, msgServerError)
	case models.StatusCrashed:
		return failed(OutcomeCrashed, "Your account has encountered a critical issue.")
	case models.StatusDeactivated:
		return failed(OutcomeDeactivated, "Your account has been deactivated due to inactivity.")
	case models.StatusInQueue:
		return Outcome{Success: true, Status: OutcomeInQueue, Message: "Login in queue.", User: user}
	case models.StatusSold:
		return failed(OutcomeAppSold, "This app has been sold.")
	default:
		log.Printf("login_unknown_status username=%s status=%d", acc.Username, int(acc.Status))
		return failed(OutcomeError, msgUnknownStatus)
	}
}

// admit consults the oracle for an active account and records either the
// resulting ban or the successful login.
func (s *Service) admit(ctx context.Context, acc models.Account, now time.Time) Outcome {
	verdict, err := s.oracle.Evaluate(ctx, oracle.Input{
		Username:    acc.Username,
		Email:       acc.Email,
		ActivityLog: fmt.Sprintf("User %s logged in from a new device.", acc.Username),
	})
	if err != nil {
		log.Printf("oracle_failed username=%s fail_open=%t err=%q", acc.Username, s.cfg.OracleFailOpen, err.Error())
		if !s.cfg.OracleFailOpen {
			return failed(OutcomeError, msgServerError)
		}
		verdict = oracle.Verdict{}
	}

	var banned bool
	updated, err := s.st.MutateAccount(ctx, acc.Username, func(a *models.Account) (bool, error) {
		banned = false
		if a.Status != models.StatusActive {
			return false, nil
		}
		if verdict.Banned {
			reason := strings.TrimSpace(verdict.Reason)
			if reason == "" {
				reason = defaultBanReason(models.StatusBannedPermanent)
			}
			lifecycle.ApplyBan(a, lifecycle.ParseBanTier(verdict.Duration), reason, now)
			banned = true
			return true, nil
		}
		a.LastLoginAt = models.TimePtr(now)
		return true, nil
	})
	if err = storeErr("login_admit", acc.Username, err); err != nil {
		return failed(OutcomeError, msgServerError)
	}

	switch {
	case banned:
		log.Printf("oracle_ban username=%s status=%s duration=%q", updated.Username, updated.Status, deref(updated.BanDuration))
		s.notify(ctx, updated.Email, banNotice(updated))
		return bannedOutcome(updated)
	case updated.Status != models.StatusActive:
		return s.dispatch(ctx, updated, now)
	}
	return Outcome{
		Success: true,
		Status:  OutcomeApproved,
		Message: "Credentials verified.",
		User:    &UserData{Username: updated.Username, Email: updated.Email},
	}
}

func bannedOutcome(acc models.Account) Outcome {
	details := &BanDetails{
		Username:    acc.Username,
		BanReason:   deref(acc.BanReason),
		BanDuration: deref(acc.BanDuration),
	}
	if details.BanReason == "" {
		details.BanReason = defaultBanReason(acc.Status)
	}
	out := Outcome{Status: OutcomeBanned, Ban: details}
	switch acc.Status {
	case models.StatusBannedPermanent:
		out.Message = "Your account is permanently banned."
		details.BanDuration = lifecycle.BanPermanent.Label()
	case models.StatusBanned24h:
		out.Message = "Your account is banned for 24 hours."
		details.BanDuration = lifecycle.BanDay.Label()
	default:
		out.Message = "Your account is banned."
		if details.BanDuration == "" {
			details.BanDuration = "Temporary"
		}
	}
	if expiry, ok := lifecycle.BanExpiry(acc); ok {
		details.UnbanAt = models.TimePtr(expiry)
	}
	return out
}

func defaultBanReason(status models.StatusCode) string {
	switch status {
	case models.StatusBanned24h:
		return "Temporary suspension"
	case models.StatusBannedExtended:
		return "Extended suspension"
	default:
		return "Violation of terms"
	}
}

func banNotice(acc models.Account) notify.Notice {
	body := fmt.Sprintf("Your account %s has been banned.\r\nReason: %s\r\nDuration: %s\r\n",
		acc.Username, deref(acc.BanReason), deref(acc.BanDuration))
	if expiry, ok := lifecycle.BanExpiry(acc); ok {
		body += fmt.Sprintf("The ban ends at %s.\r\n", expiry.Format(time.RFC1123))
	}
	return notify.Notice{
		Kind:     notify.KindBanned,
		Username: acc.Username,
		Subject:  "Your account has been banned",
		Body:     body,
	}
}

// FinalizeQueuedLogin completes a login that was parked in the queue. It
// trusts the caller and does not re-check status or credentials, so the
// outcome only echoes what the caller sent and never the stored email.
func (s *Service) FinalizeQueuedLogin(ctx context.Context, username, email string) Outcome {
	key := normalizeUsername(username)
	email = strings.TrimSpace(email)
	if key == "" || email == "" {
		return failed(OutcomeInvalidInput, "Username and email are required.")
	}
	now := s.clock()
	_, err := s.st.MutateAccount(ctx, key, func(a *models.Account) (bool, error) {
		a.LastLoginAt = models.TimePtr(now)
		return true, nil
	})
	if err = storeErr("login_finalize", key, err); err != nil {
		return failed(OutcomeError, msgFinalizeError)
	}
	return Outcome{
		Success: true,
		Status:  OutcomeApproved,
		Message: "Credentials verified.",
		User:    &UserData{Username: strings.TrimSpace(username), Email: email},
	}
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
