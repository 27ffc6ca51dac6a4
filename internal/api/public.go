package api

import (
	"net/http"

	"accountgate/internal/service"
	"accountgate/internal/util"
)

type loginRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
}

// Login always answers 200 with the outcome body; the outcome's status field
// carries the decision.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := util.DecodeJSON(w, r, &req); err != nil {
		badJSON(w, r)
		return
	}
	out := h.svc.Login(r.Context(), req.Username, req.Email)
	status := http.StatusOK
	if out.Status == service.OutcomeInvalidInput {
		status = http.StatusBadRequest
	}
	util.WriteJSON(w, status, out)
}

func (h *Handlers) FinalizeLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := util.DecodeJSON(w, r, &req); err != nil {
		badJSON(w, r)
		return
	}
	out := h.svc.FinalizeQueuedLogin(r.Context(), req.Username, req.Email)
	status := http.StatusOK
	if out.Status == service.OutcomeInvalidInput {
		status = http.StatusBadRequest
	}
	util.WriteJSON(w, status, out)
}

type signupRequest struct {
	service.SignupRequest
	CaptchaToken string `json:"captchaToken"`
}

func (h *Handlers) Signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := util.DecodeJSON(w, r, &req); err != nil {
		badJSON(w, r)
		return
	}
	if !h.verifyCaptcha(w, r, req.CaptchaToken) {
		return
	}
	acc, err := h.svc.Signup(r.Context(), req.SignupRequest)
	if err != nil {
		writeServiceError(w, r, "signup", err)
		return
	}
	util.WriteJSON(w, 201, map[string]any{
		"success":  true,
		"message":  "Account request submitted. It is pending approval.",
		"username": acc.Username,
		"status":   acc.Status.String(),
	})
}

func (h *Handlers) RequestUnban(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
	}
	if err := util.DecodeJSON(w, r, &req); err != nil {
		badJSON(w, r)
		return
	}
	res, err := h.svc.RequestUnban(r.Context(), req.Username)
	if err != nil {
		writeServiceError(w, r, "unban_request", err)
		return
	}
	util.WriteJSON(w, 200, res)
}

func (h *Handlers) RequestReactivation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Reason   string `json:"reason"`
	}
	if err := util.DecodeJSON(w, r, &req); err != nil {
		badJSON(w, r)
		return
	}
	res, err := h.svc.RequestReactivation(r.Context(), req.Username, req.Email, req.Reason)
	if err != nil {
		writeServiceError(w, r, "reactivation_request", err)
		return
	}
	util.WriteJSON(w, 200, res)
}

type moderatorRequest struct {
	service.ModeratorRequestInput
	CaptchaToken string `json:"captchaToken"`
}

func (h *Handlers) RequestModeratorAccount(w http.ResponseWriter, r *http.Request) {
	var req moderatorRequest
	if err := util.DecodeJSON(w, r, &req); err != nil {
		badJSON(w, r)
		return
	}
	if !h.verifyCaptcha(w, r, req.CaptchaToken) {
		return
	}
	mr, err := h.svc.RequestModeratorAccount(r.Context(), req.ModeratorRequestInput)
	if err != nil {
		writeServiceError(w, r, "moderator_request", err)
		return
	}
	util.WriteJSON(w, 201, map[string]any{
		"success": true,
		"message": "Moderator account request submitted for review.",
		"id":      mr.ID,
		"status":  mr.Status,
	})
}
