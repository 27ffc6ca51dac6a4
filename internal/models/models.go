package models

import "time"

type StatusCode int

const (
	StatusPending         StatusCode = 1
	StatusActive          StatusCode = 2
	StatusBannedPermanent StatusCode = 3
	StatusBanned24h       StatusCode = 4
	StatusBannedExtended  StatusCode = 5
	StatusDeleted         StatusCode = 6
	StatusError           StatusCode = 7
	StatusCrashed         StatusCode = 8
	StatusDeactivated     StatusCode = 9
	StatusInQueue         StatusCode = 10
	StatusSold            StatusCode = 15
)

var statusNames = map[StatusCode]string{
	StatusPending:         "pending",
	StatusActive:          "active",
	StatusBannedPermanent: "banned_permanent",
	StatusBanned24h:       "banned_24h",
	StatusBannedExtended:  "banned_extended",
	StatusDeleted:         "deleted",
	StatusError:           "error",
	StatusCrashed:         "crashed",
	StatusDeactivated:     "deactivated",
	StatusInQueue:         "in_queue",
	StatusSold:            "sold",
}

// Known reports whether s is one of the enumerated account states.
func (s StatusCode) Known() bool {
	_, ok := statusNames[s]
	return ok
}

func (s StatusCode) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return "unknown"
}

// IsBanTier reports whether s is one of the three ban states.
func (s StatusCode) IsBanTier() bool {
	return s == StatusBannedPermanent || s == StatusBanned24h || s == StatusBannedExtended
}

// Account is one record per normalized username.
type Account struct {
	Username     string
	Email        string
	ChatUsername *string
	Status       StatusCode
	CreatedAt    time.Time
	LastLoginAt  *time.Time

	BanReason   *string
	BanDuration *string
	BannedAt    *time.Time
	UnbanAt     *time.Time

	ReactivationRequest     bool
	ReactivationReason      *string
	ReactivationRequestedAt *time.Time
	ReactivationEligibleAt  *time.Time

	UnbanRequest   bool
	UnbanRequestAt *time.Time

	Version int64
}

// Clone returns a deep copy; no pointer field is shared with a.
func (a Account) Clone() Account {
	out := a
	out.ChatUsername = cloneString(a.ChatUsername)
	out.LastLoginAt = cloneTime(a.LastLoginAt)
	out.BanReason = cloneString(a.BanReason)
	out.BanDuration = cloneString(a.BanDuration)
	out.BannedAt = cloneTime(a.BannedAt)
	out.UnbanAt = cloneTime(a.UnbanAt)
	out.ReactivationReason = cloneString(a.ReactivationReason)
	out.ReactivationRequestedAt = cloneTime(a.ReactivationRequestedAt)
	out.ReactivationEligibleAt = cloneTime(a.ReactivationEligibleAt)
	out.UnbanRequestAt = cloneTime(a.UnbanRequestAt)
	return out
}

func (a *Account) ClearBan() {
	a.BanReason = nil
	a.BanDuration = nil
	a.BannedAt = nil
	a.UnbanAt = nil
}

func (a *Account) ClearUnbanRequest() {
	a.UnbanRequest = false
	a.UnbanRequestAt = nil
}

func (a *Account) ClearReactivation() {
	a.ReactivationRequest = false
	a.ReactivationReason = nil
	a.ReactivationRequestedAt = nil
	a.ReactivationEligibleAt = nil
}

type ModeratorRequest struct {
	ID                string    `json:"id"`
	ModeratorID       string    `json:"moderatorId"`
	ModeratorUsername string    `json:"moderatorUsername"`
	ServerID          string    `json:"serverId"`
	GithubLink        string    `json:"githubLink"`
	APIKeyHash        string    `json:"-"`
	Status            string    `json:"status"`
	RequestedAt       time.Time `json:"requestedAt"`
}

type AccountQuery struct {
	Status *StatusCode
	Limit  int
	Offset int
}

func StringPtr(v string) *string { return &v }

func TimePtr(v time.Time) *time.Time {
	v = v.UTC()
	return &v
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	s := *v
	return &s
}

func cloneTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	t := *v
	return &t
}
