package api

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"accountgate/internal/captcha"
	"accountgate/internal/config"
	"accountgate/internal/middleware"
	"accountgate/internal/rate"
	"accountgate/internal/service"
	"accountgate/internal/util"
	"accountgate/internal/version"
)

type Handlers struct {
	cfg             config.Config
	svc             *service.Service
	limiter         *rate.Limiter
	captchaVerifier captcha.Verifier
}

func NewRouter(cfg config.Config, svc *service.Service) http.Handler {
	h := &Handlers{
		cfg:             cfg,
		svc:             svc,
		limiter:         rate.NewLimiter(),
		captchaVerifier: captcha.NewVerifier(cfg),
	}
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestIDMiddleware)
	r.Use(middleware.RequestLogger(cfg.TrustProxy))
	r.Use(middleware.SecurityHeaders)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.CORSAllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type", "X-Request-ID"},
			ExposedHeaders: []string{"X-Request-ID", "Retry-After"},
		}))
	}

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		util.WriteJSON(w, 200, map[string]any{"status": "ok", "version": version.Current()})
	})
	r.Get("/health/ready", h.Ready)

	limit := func(route string, n int) func(http.Handler) http.Handler {
		return middleware.RateLimit(h.limiter, route, n, time.Minute, h.cfg.TrustProxy)
	}
	r.Route("/api/v1", func(r chi.Router) {
		r.With(limit("signup", 10)).Post("/signup", h.Signup)
		r.With(limit("login", 20)).Post("/login", h.Login)
		r.With(limit("login_finalize", 20)).Post("/login/finalize", h.FinalizeLogin)
		r.With(limit("unban_request", 10)).Post("/unban-requests", h.RequestUnban)
		r.With(limit("reactivation_request", 10)).Post("/reactivation-requests", h.RequestReactivation)
		r.With(limit("moderator_request", 5)).Post("/moderator-requests", h.RequestModeratorAccount)

		if cfg.AdminAPIEnabled {
			r.Route("/admin", func(r chi.Router) {
				r.Get("/accounts", h.AdminListAccounts)
				r.Get("/accounts/{username}", h.AdminGetAccount)
				r.Post("/accounts/{username}/status", h.AdminSetStatus)
				r.Post("/accounts/{username}/ban", h.AdminCustomBan)
				r.Post("/accounts/{username}/last-login", h.AdminSetLastLogin)
				r.Get("/moderator-requests", h.AdminListModeratorRequests)
				r.Post("/moderator-requests/{moderatorID}/verify-key", h.AdminVerifyModeratorKey)
			})
		}
	})

	return r
}

func (h *Handlers) Ready(w http.ResponseWriter, r *http.Request) {
	ready := map[string]any{
		"checked_at": time.Now().UTC().Format(time.RFC3339),
		"version":    version.Current(),
	}
	if err := h.svc.Ready(r.Context()); err != nil {
		ready["status"] = "degraded"
		ready["components"] = map[string]any{"store": map[string]any{"ok": false, "error": err.Error()}}
		util.WriteJSON(w, 503, ready)
		return
	}
	ready["status"] = "ready"
	ready["components"] = map[string]any{"store": map[string]any{"ok": true}}
	util.WriteJSON(w, 200, ready)
}

// writeServiceError maps service sentinels onto HTTP responses.
func writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	rid := middleware.RequestID(r.Context())
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		util.WriteError(w, 400, "invalid_input", err.Error(), rid)
	case errors.Is(err, service.ErrInvalidCredentials):
		util.WriteError(w, 401, "invalid_credentials", "Invalid username or email.", rid)
	case errors.Is(err, service.ErrNotFound):
		util.WriteError(w, 404, "not_found", "account not found", rid)
	case errors.Is(err, service.ErrAlreadyExists):
		util.WriteError(w, 409, "already_exists", "already exists", rid)
	case errors.Is(err, service.ErrAlreadyRequested):
		util.WriteError(w, 409, "already_requested", "A reactivation request is already pending.", rid)
	case errors.Is(err, service.ErrNotDeactivated):
		util.WriteError(w, 409, "not_deactivated", "This account is not deactivated.", rid)
	case errors.Is(err, service.ErrStoreUnavailable):
		util.WriteError(w, 503, "store_unavailable", "The account store is unavailable. Please try again later.", rid)
	default:
		log.Printf("request_failed op=%s request_id=%s err=%q", op, rid, err.Error())
		util.WriteError(w, 500, "internal_error", "internal error", rid)
	}
}

func badJSON(w http.ResponseWriter, r *http.Request) {
	util.WriteError(w, 400, "bad_request", "invalid json", middleware.RequestID(r.Context()))
}

// verifyCaptcha writes the error response itself and reports whether the
// handler may continue.
func (h *Handlers) verifyCaptcha(w http.ResponseWriter, r *http.Request, token string) bool {
	if !h.cfg.CaptchaEnabled {
		return true
	}
	err := h.captchaVerifier.Verify(r.Context(), token, middleware.ClientIP(r, h.cfg.TrustProxy))
	switch {
	case err == nil:
		return true
	case errors.Is(err, captcha.ErrUnavailable):
		log.Printf("captcha_unavailable request_id=%s err=%q", middleware.RequestID(r.Context()), err.Error())
		util.WriteError(w, 503, "captcha_unavailable", "captcha verification is temporarily unavailable", middleware.RequestID(r.Context()))
	default:
		util.WriteError(w, 400, "captcha_required", "captcha validation failed", middleware.RequestID(r.Context()))
	}
	return false
}

func parsePagination(r *http.Request) (int, int) {
	page := 1
	pageSize := 25
	if v := r.URL.Query().Get("page"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			page = p
		}
	}
	if v := r.URL.Query().Get("page_size"); v != "" {
		if ps, err := strconv.Atoi(v); err == nil {
			pageSize = min(max(ps, 1), 100)
		}
	}
	return page, pageSize
}
