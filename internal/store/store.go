package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"accountgate/internal/db"
	"accountgate/internal/models"
)

var ErrNotFound = errors.New("not found")
var ErrConflict = errors.New("conflict")

// MutateFunc edits a in place and reports whether anything changed. Returning
// an error aborts the mutation without writing.
type MutateFunc func(a *models.Account) (bool, error)

const accountColumns = `username,email,chat_username,status,created_at,last_login_at,ban_reason,ban_duration,banned_at,unban_at,` +
	`reactivation_request,reactivation_reason,reactivation_requested_at,reactivation_eligible_at,unban_request,unban_request_at,version`

type Store struct {
	db         *sql.DB
	dialect    db.Dialect
	casRetries int
}

func New(sqdb *sql.DB, dialect db.Dialect, casRetries int) *Store {
	if casRetries <= 0 {
		casRetries = 5
	}
	return &Store{db: sqdb, dialect: dialect, casRetries: casRetries}
}

func (s *Store) q(query string) string { return s.dialect.Rebind(query) }

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) GetAccount(ctx context.Context, username string) (models.Account, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+accountColumns+` FROM accounts WHERE username=?`), username)
	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return models.Account{}, ErrNotFound
	}
	return a, err
}

func (s *Store) CreateAccount(ctx context.Context, a models.Account) error {
	a.Version = 1
	_, err := s.db.ExecContext(ctx,
		s.q(`INSERT INTO accounts(`+accountColumns+`) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`),
		accountArgs(a)...,
	)
	if db.IsUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

// MutateAccount is an optimistic read-modify-write: the row is only written
// if its version is unchanged since the read, otherwise fn runs again on a
// fresh copy.
func (s *Store) MutateAccount(ctx context.Context, username string, fn MutateFunc) (models.Account, error) {
	for attempt := 0; attempt < s.casRetries; attempt++ {
		cur, err := s.GetAccount(ctx, username)
		if err != nil {
			return models.Account{}, err
		}
		next := cur.Clone()
		changed, err := fn(&next)
		if err != nil {
			return cur, err
		}
		if !changed {
			return cur, nil
		}
		next.Username = cur.Username
		next.Version = cur.Version + 1
		args := append(accountArgs(next)[1:], cur.Username, cur.Version)
		res, err := s.db.ExecContext(ctx, s.q(`UPDATE accounts SET
			email=?,chat_username=?,status=?,created_at=?,last_login_at=?,ban_reason=?,ban_duration=?,banned_at=?,unban_at=?,
			reactivation_request=?,reactivation_reason=?,reactivation_requested_at=?,reactivation_eligible_at=?,
			unban_request=?,unban_request_at=?,version=?
			WHERE username=? AND version=?`), args...)
		if err != nil {
			return cur, err
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return cur, err
		}
		if rows == 1 {
			return next, nil
		}
	}
	return models.Account{}, ErrConflict
}

func (s *Store) ListAccounts(ctx context.Context, query models.AccountQuery) ([]models.Account, error) {
	sqlText := `SELECT ` + accountColumns + ` FROM accounts`
	var args []any
	if query.Status != nil {
		sqlText += ` WHERE status=?`
		args = append(args, int(*query.Status))
	}
	sqlText += ` ORDER BY created_at DESC, username ASC LIMIT ? OFFSET ?`
	limit := query.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit, max(query.Offset, 0))

	rows, err := s.db.QueryContext(ctx, s.q(sqlText), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) CreateModeratorRequest(ctx context.Context, r models.ModeratorRequest) error {
	_, err := s.db.ExecContext(ctx,
		s.q(`INSERT INTO moderator_requests(id,moderator_id,moderator_username,server_id,github_link,api_key_hash,status,requested_at) VALUES(?,?,?,?,?,?,?,?)`),
		r.ID, r.ModeratorID, r.ModeratorUsername, r.ServerID, r.GithubLink, r.APIKeyHash, r.Status, r.RequestedAt.UTC().UnixMilli(),
	)
	if db.IsUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func (s *Store) GetModeratorRequest(ctx context.Context, moderatorID string) (models.ModeratorRequest, error) {
	var r models.ModeratorRequest
	var requestedAt int64
	err := s.db.QueryRowContext(ctx,
		s.q(`SELECT id,moderator_id,moderator_username,server_id,github_link,api_key_hash,status,requested_at FROM moderator_requests WHERE moderator_id=?`),
		moderatorID,
	).Scan(&r.ID, &r.ModeratorID, &r.ModeratorUsername, &r.ServerID, &r.GithubLink, &r.APIKeyHash, &r.Status, &requestedAt)
	if err == sql.ErrNoRows {
		return models.ModeratorRequest{}, ErrNotFound
	}
	if err != nil {
		return models.ModeratorRequest{}, err
	}
	r.RequestedAt = time.UnixMilli(requestedAt).UTC()
	return r, nil
}

func (s *Store) ListModeratorRequests(ctx context.Context, limit, offset int) ([]models.ModeratorRequest, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		s.q(`SELECT id,moderator_id,moderator_username,server_id,github_link,api_key_hash,status,requested_at FROM moderator_requests ORDER BY requested_at ASC LIMIT ? OFFSET ?`),
		limit, max(offset, 0),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ModeratorRequest
	for rows.Next() {
		var r models.ModeratorRequest
		var requestedAt int64
		if err := rows.Scan(&r.ID, &r.ModeratorID, &r.ModeratorUsername, &r.ServerID, &r.GithubLink, &r.APIKeyHash, &r.Status, &requestedAt); err != nil {
			return nil, err
		}
		r.RequestedAt = time.UnixMilli(requestedAt).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (models.Account, error) {
	var a models.Account
	var status int
	var createdAt int64
	var chatUsername, banReason, banDuration, reactivationReason sql.NullString
	var lastLogin, bannedAt, unbanAt, reqAt, eligibleAt, unbanReqAt sql.NullInt64
	var reactivationReq, unbanReq int
	err := row.Scan(
		&a.Username, &a.Email, &chatUsername, &status, &createdAt, &lastLogin,
		&banReason, &banDuration, &bannedAt, &unbanAt,
		&reactivationReq, &reactivationReason, &reqAt, &eligibleAt,
		&unbanReq, &unbanReqAt, &a.Version,
	)
	if err != nil {
		return models.Account{}, err
	}
	a.Status = models.StatusCode(status)
	a.CreatedAt = time.UnixMilli(createdAt).UTC()
	a.ChatUsername = nullString(chatUsername)
	a.LastLoginAt = nullMillis(lastLogin)
	a.BanReason = nullString(banReason)
	a.BanDuration = nullString(banDuration)
	a.BannedAt = nullMillis(bannedAt)
	a.UnbanAt = nullMillis(unbanAt)
	a.ReactivationRequest = reactivationReq == 1
	a.ReactivationReason = nullString(reactivationReason)
	a.ReactivationRequestedAt = nullMillis(reqAt)
	a.ReactivationEligibleAt = nullMillis(eligibleAt)
	a.UnbanRequest = unbanReq == 1
	a.UnbanRequestAt = nullMillis(unbanReqAt)
	return a, nil
}

// accountArgs follows accountColumns order; username first, version last.
func accountArgs(a models.Account) []any {
	return []any{
		strings.ToLower(strings.TrimSpace(a.Username)),
		a.Email,
		a.ChatUsername,
		int(a.Status),
		a.CreatedAt.UTC().UnixMilli(),
		millis(a.LastLoginAt),
		a.BanReason,
		a.BanDuration,
		millis(a.BannedAt),
		millis(a.UnbanAt),
		boolToInt(a.ReactivationRequest),
		a.ReactivationReason,
		millis(a.ReactivationRequestedAt),
		millis(a.ReactivationEligibleAt),
		boolToInt(a.UnbanRequest),
		millis(a.UnbanRequestAt),
		a.Version,
	}
}

func millis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().UnixMilli()
}

func nullMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
