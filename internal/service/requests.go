package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"accountgate/internal/auth"
	"accountgate/internal/lifecycle"
	"accountgate/internal/models"
	"accountgate/internal/notify"
	"accountgate/internal/store"
)

const ModeratorStatusPendingReview = "pending_review"

var usernamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_.-]{0,63}$`)

type UnbanResult struct {
	AutoUnbanned bool   `json:"autoUnbanned"`
	Message      string `json:"message"`
}

// RequestUnban lifts an elapsed ban on the spot, or records a pending unban
// request for an operator. Accounts that are not banned still get the
// request recorded.
func (s *Service) RequestUnban(ctx context.Context, username string) (UnbanResult, error) {
	key := normalizeUsername(username)
	if key == "" {
		return UnbanResult{}, ErrInvalidInput
	}
	now := s.clock()
	var lifted *lifecycle.Transition
	_, err := s.st.MutateAccount(ctx, key, func(a *models.Account) (bool, error) {
		lifted = nil
		if tr, ok := lifecycle.ExpireBan(a, now); ok {
			lifted = &tr
			return true, nil
		}
		a.UnbanRequest = true
		a.UnbanRequestAt = models.TimePtr(now)
		return true, nil
	})
	if err = storeErr("unban_request", key, err); err != nil {
		return UnbanResult{}, err
	}
	if lifted != nil {
		logTransitions("unban_request", key, []lifecycle.Transition{*lifted})
		return UnbanResult{AutoUnbanned: true, Message: "Your ban has expired and your account has been unbanned. You can now log in."}, nil
	}
	log.Printf("unban_requested username=%s", key)
	return UnbanResult{Message: "Your unban request has been submitted and will be reviewed."}, nil
}

type ReactivationResult struct {
	EligibleAt time.Time `json:"eligibleAt"`
	Message    string    `json:"message"`
}

// RequestReactivation schedules a deactivated account to come back after
// lifecycle.ReactivationDelay. A second request is refused until the first
// one has been consumed.
func (s *Service) RequestReactivation(ctx context.Context, username, email, reason string) (ReactivationResult, error) {
	key := normalizeUsername(username)
	email = strings.TrimSpace(email)
	if key == "" || email == "" {
		return ReactivationResult{}, ErrInvalidInput
	}
	reason = strings.TrimSpace(reason)
	now := s.clock()
	acc, err := s.st.MutateAccount(ctx, key, func(a *models.Account) (bool, error) {
		if !sameEmail(a.Email, email) {
			return false, ErrInvalidCredentials
		}
		if a.Status != models.StatusDeactivated {
			return false, ErrNotDeactivated
		}
		if a.ReactivationRequest {
			return false, ErrAlreadyRequested
		}
		a.ReactivationRequest = true
		a.ReactivationReason = models.StringPtr(reason)
		a.ReactivationRequestedAt = models.TimePtr(now)
		a.ReactivationEligibleAt = models.TimePtr(now.Add(lifecycle.ReactivationDelay))
		return true, nil
	})
	if err = storeErr("reactivation_request", key, err); err != nil {
		return ReactivationResult{}, err
	}
	eligible := *acc.ReactivationEligibleAt
	log.Printf("reactivation_requested username=%s eligible_at=%s", key, eligible.Format(time.RFC3339))
	s.notify(ctx, acc.Email, notify.Notice{
		Kind:     notify.KindReactivationRequested,
		Username: acc.Username,
		Subject:  "Reactivation request received",
		Body:     fmt.Sprintf("Your account %s will be reactivated after %s.\r\n", acc.Username, eligible.Format(time.RFC1123)),
	})
	return ReactivationResult{
		EligibleAt: eligible,
		Message:    "Your reactivation request has been submitted. Your account will be reactivated within 12 hours.",
	}, nil
}

type SignupRequest struct {
	Username     string `json:"username"`
	Email        string `json:"email"`
	ChatUsername string `json:"chatUsername"`
}

// Signup registers a new account in the Pending state.
func (s *Service) Signup(ctx context.Context, req SignupRequest) (models.Account, error) {
	key := normalizeUsername(req.Username)
	if !usernamePattern.MatchString(key) {
		return models.Account{}, fmt.Errorf("%w: invalid username", ErrInvalidInput)
	}
	addr, err := mail.ParseAddress(strings.TrimSpace(req.Email))
	if err != nil {
		return models.Account{}, fmt.Errorf("%w: invalid email", ErrInvalidInput)
	}

	_, err = s.st.GetAccount(ctx, key)
	switch {
	case err == nil:
		return models.Account{}, ErrAlreadyExists
	case !errors.Is(err, store.ErrNotFound):
		return models.Account{}, storeErr("signup", key, err)
	}

	acc := models.Account{
		Username:  key,
		Email:     addr.Address,
		Status:    models.StatusPending,
		CreatedAt: s.clock(),
	}
	if chat := strings.TrimSpace(req.ChatUsername); chat != "" {
		acc.ChatUsername = models.StringPtr(chat)
	}
	if err := s.st.CreateAccount(ctx, acc); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return models.Account{}, ErrAlreadyExists
		}
		return models.Account{}, storeErr("signup", key, err)
	}
	acc.Version = 1
	log.Printf("account_requested username=%s", key)
	s.notify(ctx, acc.Email, notify.Notice{
		Kind:     notify.KindAccountRequested,
		Username: key,
		Subject:  "Account request received",
		Body:     fmt.Sprintf("Your account request for %s is pending approval.\r\n", key),
	})
	return acc, nil
}

type ModeratorRequestInput struct {
	ModeratorID       string `json:"moderatorId"`
	ModeratorUsername string `json:"moderatorUsername"`
	ServerID          string `json:"serverId"`
	GithubLink        string `json:"githubLink"`
	APIKey            string `json:"apiKey"`
}

// RequestModeratorAccount files a moderator account request. The API key is
// kept only as an argon2id hash.
func (s *Service) RequestModeratorAccount(ctx context.Context, in ModeratorRequestInput) (models.ModeratorRequest, error) {
	r := models.ModeratorRequest{
		ModeratorID:       strings.TrimSpace(in.ModeratorID),
		ModeratorUsername: strings.TrimSpace(in.ModeratorUsername),
		ServerID:          strings.TrimSpace(in.ServerID),
		GithubLink:        strings.TrimSpace(in.GithubLink),
		Status:            ModeratorStatusPendingReview,
		RequestedAt:       s.clock(),
	}
	if r.ModeratorID == "" || r.ModeratorUsername == "" || r.ServerID == "" || r.GithubLink == "" {
		return models.ModeratorRequest{}, fmt.Errorf("%w: all fields are required", ErrInvalidInput)
	}
	hash, err := auth.HashSecret(in.APIKey)
	if err != nil {
		if errors.Is(err, auth.ErrEmptySecret) {
			return models.ModeratorRequest{}, fmt.Errorf("%w: all fields are required", ErrInvalidInput)
		}
		return models.ModeratorRequest{}, err
	}
	r.APIKeyHash = hash

	_, err = s.st.GetModeratorRequest(ctx, r.ModeratorID)
	switch {
	case err == nil:
		return models.ModeratorRequest{}, ErrAlreadyExists
	case !errors.Is(err, store.ErrNotFound):
		return models.ModeratorRequest{}, storeErr("moderator_request", r.ModeratorUsername, err)
	}

	r.ID = uuid.NewString()
	if err := s.st.CreateModeratorRequest(ctx, r); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return models.ModeratorRequest{}, ErrAlreadyExists
		}
		return models.ModeratorRequest{}, storeErr("moderator_request", r.ModeratorUsername, err)
	}
	log.Printf("moderator_requested id=%s moderator_id=%s", r.ID, r.ModeratorID)
	return r, nil
}

// VerifyModeratorKey checks a key presented by a moderator against the hash
// stored with their request.
func (s *Service) VerifyModeratorKey(ctx context.Context, moderatorID, apiKey string) (bool, error) {
	moderatorID = strings.TrimSpace(moderatorID)
	if moderatorID == "" || strings.TrimSpace(apiKey) == "" {
		return false, ErrInvalidInput
	}
	r, err := s.st.GetModeratorRequest(ctx, moderatorID)
	if err = storeErr("moderator_key_check", moderatorID, err); err != nil {
		return false, err
	}
	ok := auth.VerifySecret(r.APIKeyHash, apiKey)
	log.Printf("moderator_key_checked moderator_id=%s match=%t", moderatorID, ok)
	return ok, nil
}
