package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"accountgate/internal/lifecycle"
	"accountgate/internal/middleware"
	"accountgate/internal/models"
	"accountgate/internal/util"
)

type accountDTO struct {
	Username                string            `json:"username"`
	Email                   string            `json:"email"`
	ChatUsername            *string           `json:"chatUsername,omitempty"`
	Status                  models.StatusCode `json:"status"`
	StatusName              string            `json:"statusName"`
	CreatedAt               time.Time         `json:"createdAt"`
	LastLoginAt             *time.Time        `json:"lastLoginAt,omitempty"`
	BanReason               *string           `json:"banReason,omitempty"`
	BanDuration             *string           `json:"banDuration,omitempty"`
	BannedAt                *time.Time        `json:"bannedAt,omitempty"`
	UnbanAt                 *time.Time        `json:"unbanAt,omitempty"`
	ReactivationRequest     bool              `json:"reactivationRequest"`
	ReactivationReason      *string           `json:"reactivationReason,omitempty"`
	ReactivationRequestedAt *time.Time        `json:"reactivationRequestedAt,omitempty"`
	ReactivationEligibleAt  *time.Time        `json:"reactivationEligibleAt,omitempty"`
	UnbanRequest            bool              `json:"unbanRequest"`
	UnbanRequestAt          *time.Time        `json:"unbanRequestAt,omitempty"`
	Version                 int64             `json:"version"`
}

func toDTO(a models.Account) accountDTO {
	return accountDTO{
		Username:                a.Username,
		Email:                   a.Email,
		ChatUsername:            a.ChatUsername,
		Status:                  a.Status,
		StatusName:              a.Status.String(),
		CreatedAt:               a.CreatedAt,
		LastLoginAt:             a.LastLoginAt,
		BanReason:               a.BanReason,
		BanDuration:             a.BanDuration,
		BannedAt:                a.BannedAt,
		UnbanAt:                 a.UnbanAt,
		ReactivationRequest:     a.ReactivationRequest,
		ReactivationReason:      a.ReactivationReason,
		ReactivationRequestedAt: a.ReactivationRequestedAt,
		ReactivationEligibleAt:  a.ReactivationEligibleAt,
		UnbanRequest:            a.UnbanRequest,
		UnbanRequestAt:          a.UnbanRequestAt,
		Version:                 a.Version,
	}
}

func (h *Handlers) AdminListAccounts(w http.ResponseWriter, r *http.Request) {
	page, pageSize := parsePagination(r)
	q := models.AccountQuery{Limit: pageSize, Offset: (page - 1) * pageSize}
	if v := r.URL.Query().Get("status"); v != "" {
		code, err := strconv.Atoi(v)
		if err != nil {
			util.WriteError(w, 400, "invalid_input", "status must be a numeric code", middleware.RequestID(r.Context()))
			return
		}
		status := models.StatusCode(code)
		q.Status = &status
	}
	accounts, err := h.svc.ListAccounts(r.Context(), q)
	if err != nil {
		writeServiceError(w, r, "admin_list_accounts", err)
		return
	}
	out := make([]accountDTO, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, toDTO(a))
	}
	util.WriteJSON(w, 200, map[string]any{"items": out, "page": page, "page_size": pageSize})
}

func (h *Handlers) AdminGetAccount(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.GetAccount(r.Context(), chi.URLParam(r, "username"))
	if err != nil {
		writeServiceError(w, r, "admin_get_account", err)
		return
	}
	pending := view.Pending
	if pending == nil {
		pending = []lifecycle.Transition{}
	}
	util.WriteJSON(w, 200, map[string]any{
		"account":      toDTO(view.Account),
		"pending":      pending,
		"banExpiresAt": view.BanExpiresAt,
	})
}

func (h *Handlers) AdminSetStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status int `json:"status"`
	}
	if err := util.DecodeJSON(w, r, &req); err != nil {
		badJSON(w, r)
		return
	}
	acc, err := h.svc.SetStatus(r.Context(), chi.URLParam(r, "username"), models.StatusCode(req.Status))
	if err != nil {
		writeServiceError(w, r, "admin_set_status", err)
		return
	}
	util.WriteJSON(w, 200, toDTO(acc))
}

func (h *Handlers) AdminCustomBan(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Hours  int    `json:"hours"`
		Reason string `json:"reason"`
	}
	if err := util.DecodeJSON(w, r, &req); err != nil {
		badJSON(w, r)
		return
	}
	acc, err := h.svc.ApplyCustomBan(r.Context(), chi.URLParam(r, "username"), req.Hours, req.Reason)
	if err != nil {
		writeServiceError(w, r, "admin_custom_ban", err)
		return
	}
	util.WriteJSON(w, 200, toDTO(acc))
}

func (h *Handlers) AdminSetLastLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		LastLoginAt string `json:"lastLoginAt"`
	}
	if err := util.DecodeJSON(w, r, &req); err != nil {
		badJSON(w, r)
		return
	}
	acc, err := h.svc.SetLastLogin(r.Context(), chi.URLParam(r, "username"), req.LastLoginAt)
	if err != nil {
		writeServiceError(w, r, "admin_set_last_login", err)
		return
	}
	util.WriteJSON(w, 200, toDTO(acc))
}

func (h *Handlers) AdminVerifyModeratorKey(w http.ResponseWriter, r *http.Request) {
	var req struct {
		APIKey string `json:"apiKey"`
	}
	if err := util.DecodeJSON(w, r, &req); err != nil {
		badJSON(w, r)
		return
	}
	ok, err := h.svc.VerifyModeratorKey(r.Context(), chi.URLParam(r, "moderatorID"), req.APIKey)
	if err != nil {
		writeServiceError(w, r, "admin_verify_moderator_key", err)
		return
	}
	util.WriteJSON(w, 200, map[string]bool{"valid": ok})
}

func (h *Handlers) AdminListModeratorRequests(w http.ResponseWriter, r *http.Request) {
	page, pageSize := parsePagination(r)
	items, err := h.svc.ListModeratorRequests(r.Context(), pageSize, (page-1)*pageSize)
	if err != nil {
		writeServiceError(w, r, "admin_list_moderator_requests", err)
		return
	}
	if items == nil {
		items = []models.ModeratorRequest{}
	}
	util.WriteJSON(w, 200, map[string]any{"items": items, "page": page, "page_size": pageSize})
}
