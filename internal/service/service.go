package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"accountgate/internal/config"
	"accountgate/internal/lifecycle"
	"accountgate/internal/models"
	"accountgate/internal/notify"
	"accountgate/internal/oracle"
	"accountgate/internal/store"
)

var (
	ErrNotFound           = errors.New("account not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidInput       = errors.New("invalid input")
	ErrAlreadyExists      = errors.New("already exists")
	ErrAlreadyRequested   = errors.New("already requested")
	ErrNotDeactivated     = errors.New("account is not deactivated")
	ErrStoreUnavailable   = errors.New("store unavailable")
)

// AccountStore is the record store the service reads and writes through.
// MutateAccount must apply fn atomically against the current version of the
// record.
type AccountStore interface {
	Ping(ctx context.Context) error
	GetAccount(ctx context.Context, username string) (models.Account, error)
	CreateAccount(ctx context.Context, a models.Account) error
	MutateAccount(ctx context.Context, username string, fn store.MutateFunc) (models.Account, error)
	ListAccounts(ctx context.Context, query models.AccountQuery) ([]models.Account, error)
	CreateModeratorRequest(ctx context.Context, r models.ModeratorRequest) error
	GetModeratorRequest(ctx context.Context, moderatorID string) (models.ModeratorRequest, error)
	ListModeratorRequests(ctx context.Context, limit, offset int) ([]models.ModeratorRequest, error)
}

type Service struct {
	cfg    config.Config
	st     AccountStore
	oracle oracle.Oracle
	sender notify.Sender
	now    func() time.Time
}

type Option func(*Service)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(cfg config.Config, st AccountStore, o oracle.Oracle, sender notify.Sender, opts ...Option) *Service {
	if o == nil {
		o = oracle.Noop{}
	}
	if sender == nil {
		sender = notify.NopSender{}
	}
	s := &Service{cfg: cfg, st: st, oracle: o, sender: sender, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ready reports whether the backing store answers.
func (s *Service) Ready(ctx context.Context) error {
	if err := s.st.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *Service) clock() time.Time { return s.now().UTC() }

func normalizeUsername(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

func sameEmail(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// storeErr translates store errors into service sentinels. Domain errors
// returned from inside a mutation pass through untouched.
func storeErr(op, username string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, ErrInvalidCredentials),
		errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrAlreadyExists),
		errors.Is(err, ErrAlreadyRequested),
		errors.Is(err, ErrNotDeactivated):
		return err
	}
	log.Printf("store_failed op=%s username=%s err=%q", op, username, err.Error())
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

func (s *Service) notify(ctx context.Context, to string, n notify.Notice) {
	if strings.TrimSpace(to) == "" {
		return
	}
	if err := s.sender.Send(ctx, to, n); err != nil {
		log.Printf("notice_failed kind=%s username=%s err=%q", n.Kind, n.Username, err.Error())
	}
}

func logTransitions(op, username string, trs []lifecycle.Transition) {
	for _, tr := range trs {
		log.Printf("account_transition op=%s username=%s rule=%s from=%s to=%s", op, username, tr.Rule, tr.From, tr.To)
	}
}
