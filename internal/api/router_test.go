package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"accountgate/internal/config"
	"accountgate/internal/db"
	"accountgate/internal/notify"
	"accountgate/internal/oracle"
	"accountgate/internal/service"
	"accountgate/internal/store"
	"accountgate/internal/util"
)

func newTestRouter(t *testing.T, cfg config.Config, o oracle.Oracle) (http.Handler, *sql.DB) {
	t.Helper()
	sqdb, err := db.OpenSQLite(filepath.Join(t.TempDir(), "accounts.db"), 1, 1, time.Minute)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = sqdb.Close() })
	if err := db.ApplyMigrations(context.Background(), sqdb); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	st := store.New(sqdb, db.DialectSQLite, 5)
	svc := service.New(cfg, st, o, notify.NopSender{})
	return NewRouter(cfg, svc), sqdb
}

func baseConfig() config.Config {
	return config.Config{ListenAddr: ":8080", DBDriver: "sqlite", AdminAPIEnabled: true, StoreCASRetries: 5}
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeOutcome(t *testing.T, rec *httptest.ResponseRecorder) service.Outcome {
	t.Helper()
	var out service.Outcome
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode outcome: %v body=%s", err, rec.Body.String())
	}
	return out
}

func decodeAPIError(t *testing.T, rec *httptest.ResponseRecorder) util.APIError {
	t.Helper()
	var apiErr util.APIError
	if err := json.Unmarshal(rec.Body.Bytes(), &apiErr); err != nil {
		t.Fatalf("decode error: %v body=%s", err, rec.Body.String())
	}
	return apiErr
}

func signupAndActivate(t *testing.T, h http.Handler, username string) {
	t.Helper()
	rec := doJSON(t, h, http.MethodPost, "/api/v1/signup", map[string]string{"username": username, "email": username + "@example.com"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("signup %s: expected 201, got %d body=%s", username, rec.Code, rec.Body.String())
	}
	rec = doJSON(t, h, http.MethodPost, "/api/v1/admin/accounts/"+username+"/status", map[string]int{"status": 2})
	if rec.Code != http.StatusOK {
		t.Fatalf("activate %s: expected 200, got %d body=%s", username, rec.Code, rec.Body.String())
	}
}

func TestSignupThenPendingLogin(t *testing.T) {
	h, _ := newTestRouter(t, baseConfig(), oracle.Noop{})

	rec := doJSON(t, h, http.MethodPost, "/api/v1/signup", map[string]string{"username": "bob", "email": "bob@example.com"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodPost, "/api/v1/login", map[string]string{"username": "bob", "email": "bob@example.com"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	out := decodeOutcome(t, rec)
	if out.Success || out.Status != service.OutcomePending {
		t.Fatalf("expected pending outcome, got %+v", out)
	}

	rec = doJSON(t, h, http.MethodPost, "/api/v1/signup", map[string]string{"username": "BOB", "email": "other@example.com"})
	if rec.Code != http.StatusConflict || decodeAPIError(t, rec).Code != "already_exists" {
		t.Fatalf("expected 409 already_exists, got %d body=%s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodPost, "/api/v1/signup", map[string]string{"username": "bad name", "email": "x@example.com"})
	if rec.Code != http.StatusBadRequest || decodeAPIError(t, rec).Code != "invalid_input" {
		t.Fatalf("expected 400 invalid_input, got %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestLoginApprovedAndCredentialOutcomes(t *testing.T) {
	h, _ := newTestRouter(t, baseConfig(), oracle.Noop{})
	signupAndActivate(t, h, "alice")

	out := decodeOutcome(t, doJSON(t, h, http.MethodPost, "/api/v1/login", map[string]string{"username": "Alice", "email": "ALICE@example.com"}))
	if !out.Success || out.Status != service.OutcomeApproved || out.User == nil || out.User.Username != "alice" {
		t.Fatalf("expected approved outcome, got %+v", out)
	}

	rec := doJSON(t, h, http.MethodPost, "/api/v1/login", map[string]string{"username": "alice", "email": "mallory@example.com"})
	if rec.Code != http.StatusOK || decodeOutcome(t, rec).Status != service.OutcomeInvalidCredentials {
		t.Fatalf("expected invalid_credentials outcome, got %d body=%s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodPost, "/api/v1/login", map[string]string{"username": "ghost", "email": "ghost@example.com"})
	if decodeOutcome(t, rec).Status != service.OutcomeNotFound {
		t.Fatalf("expected not_found outcome, got body=%s", rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodPost, "/api/v1/login", map[string]string{"username": "", "email": ""})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty input, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/login", bytes.NewBufferString("{"))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest || decodeAPIError(t, rec).Code != "bad_request" {
		t.Fatalf("expected bad_request for malformed json, got %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestOracleBanPersistsAndBlocksNextLogin(t *testing.T) {
	o := oracle.Func(func(ctx context.Context, in oracle.Input) (oracle.Verdict, error) {
		return oracle.Verdict{Banned: true, Reason: "suspicious device", Duration: "7 Days"}, nil
	})
	h, sqdb := newTestRouter(t, baseConfig(), o)
	signupAndActivate(t, h, "mike")

	out := decodeOutcome(t, doJSON(t, h, http.MethodPost, "/api/v1/login", map[string]string{"username": "mike", "email": "mike@example.com"}))
	if out.Status != service.OutcomeBanned || out.Ban == nil || out.Ban.BanReason != "suspicious device" || out.Ban.UnbanAt == nil {
		t.Fatalf("expected banned outcome with details, got %+v", out)
	}

	var status int
	if err := sqdb.QueryRow(`SELECT status FROM accounts WHERE username='mike'`).Scan(&status); err != nil {
		t.Fatalf("read status: %v", err)
	}
	if status != 5 {
		t.Fatalf("expected status 5 persisted, got %d", status)
	}
}

func TestFinalizeLoginDoesNotDiscloseStoredEmail(t *testing.T) {
	h, _ := newTestRouter(t, baseConfig(), oracle.Noop{})
	rec := doJSON(t, h, http.MethodPost, "/api/v1/signup", map[string]string{"username": "vic", "email": "secret.vic@example.com"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("signup: expected 201, got %d", rec.Code)
	}
	doJSON(t, h, http.MethodPost, "/api/v1/admin/accounts/vic/status", map[string]int{"status": 3})

	rec = doJSON(t, h, http.MethodPost, "/api/v1/login/finalize", map[string]string{"username": "vic"})
	if rec.Code != http.StatusBadRequest || bytes.Contains(rec.Body.Bytes(), []byte("secret.vic")) {
		t.Fatalf("expected 400 without stored email, got %d body=%s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodPost, "/api/v1/login/finalize", map[string]string{"username": "vic", "email": "guess@example.com"})
	if bytes.Contains(rec.Body.Bytes(), []byte("secret.vic")) {
		t.Fatalf("finalize disclosed stored email: %s", rec.Body.String())
	}
	out := decodeOutcome(t, rec)
	if out.User == nil || out.User.Email != "guess@example.com" {
		t.Fatalf("expected caller email echoed, got %+v", out)
	}
}

func TestFinalizeHasItsOwnRateLimit(t *testing.T) {
	h, _ := newTestRouter(t, baseConfig(), oracle.Noop{})
	body := map[string]string{"username": "nobody", "email": "nobody@example.com"}
	for i := 0; i < 20; i++ {
		doJSON(t, h, http.MethodPost, "/api/v1/login/finalize", body)
	}
	rec := doJSON(t, h, http.MethodPost, "/api/v1/login/finalize", body)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected finalize to be limited, got %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodPost, "/api/v1/login", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected login allowance untouched, got %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestCustomBanThroughAdminAPI(t *testing.T) {
	h, _ := newTestRouter(t, baseConfig(), oracle.Noop{})
	signupAndActivate(t, h, "dave")

	rec := doJSON(t, h, http.MethodPost, "/api/v1/admin/accounts/dave/ban", map[string]any{"hours": 5, "reason": "spam"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}

	out := decodeOutcome(t, doJSON(t, h, http.MethodPost, "/api/v1/login", map[string]string{"username": "dave", "email": "dave@example.com"}))
	if out.Status != service.OutcomeBanned || out.Ban.BanDuration != "5 Hour(s)" || out.Ban.BanReason != "spam" {
		t.Fatalf("expected 5 hour ban, got %+v", out)
	}

	rec = doJSON(t, h, http.MethodPost, "/api/v1/admin/accounts/dave/ban", map[string]any{"hours": 0, "reason": "spam"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for zero hours, got %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPost, "/api/v1/unban-requests", map[string]string{"username": "dave"})
	var res service.UnbanResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil || rec.Code != http.StatusOK || res.AutoUnbanned {
		t.Fatalf("expected pending unban request, got %d body=%s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodGet, "/api/v1/admin/accounts/dave", nil)
	var view struct {
		Account struct {
			Status       int  `json:"status"`
			UnbanRequest bool `json:"unbanRequest"`
		} `json:"account"`
		BanExpiresAt *time.Time `json:"banExpiresAt"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode view: %v", err)
	}
	if view.Account.Status != 5 || !view.Account.UnbanRequest || view.BanExpiresAt == nil {
		t.Fatalf("unexpected admin view %s", rec.Body.String())
	}
}

func TestReactivationRequestRequiresDeactivation(t *testing.T) {
	h, _ := newTestRouter(t, baseConfig(), oracle.Noop{})
	signupAndActivate(t, h, "nora")

	body := map[string]string{"username": "nora", "email": "nora@example.com", "reason": "back"}
	rec := doJSON(t, h, http.MethodPost, "/api/v1/reactivation-requests", body)
	if rec.Code != http.StatusConflict || decodeAPIError(t, rec).Code != "not_deactivated" {
		t.Fatalf("expected 409 not_deactivated, got %d body=%s", rec.Code, rec.Body.String())
	}

	if rec := doJSON(t, h, http.MethodPost, "/api/v1/admin/accounts/nora/status", map[string]int{"status": 9}); rec.Code != http.StatusOK {
		t.Fatalf("deactivate: %d", rec.Code)
	}
	if rec := doJSON(t, h, http.MethodPost, "/api/v1/reactivation-requests", body); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, h, http.MethodPost, "/api/v1/reactivation-requests", body)
	if rec.Code != http.StatusConflict || decodeAPIError(t, rec).Code != "already_requested" {
		t.Fatalf("expected 409 already_requested, got %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestAdminEndpoints(t *testing.T) {
	h, _ := newTestRouter(t, baseConfig(), oracle.Noop{})
	signupAndActivate(t, h, "olive")
	if rec := doJSON(t, h, http.MethodPost, "/api/v1/signup", map[string]string{"username": "pete", "email": "pete@example.com"}); rec.Code != http.StatusCreated {
		t.Fatalf("signup pete: %d", rec.Code)
	}

	rec := doJSON(t, h, http.MethodGet, "/api/v1/admin/accounts?status=1", nil)
	var list struct {
		Items []struct {
			Username string `json:"username"`
		} `json:"items"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Items) != 1 || list.Items[0].Username != "pete" {
		t.Fatalf("expected only pete pending, got %s", rec.Body.String())
	}

	if rec := doJSON(t, h, http.MethodGet, "/api/v1/admin/accounts?status=abc", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-numeric status, got %d", rec.Code)
	}
	if rec := doJSON(t, h, http.MethodPost, "/api/v1/admin/accounts/olive/status", map[string]int{"status": 12}); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", rec.Code)
	}
	if rec := doJSON(t, h, http.MethodPost, "/api/v1/admin/accounts/ghost/status", map[string]int{"status": 2}); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown account, got %d", rec.Code)
	}
	if rec := doJSON(t, h, http.MethodPost, "/api/v1/admin/accounts/olive/last-login", map[string]string{"lastLoginAt": "not a date"}); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad date, got %d", rec.Code)
	}
	if rec := doJSON(t, h, http.MethodPost, "/api/v1/admin/accounts/olive/last-login", map[string]string{"lastLoginAt": "2020-01-01T00:00:00Z"}); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}

	out := decodeOutcome(t, doJSON(t, h, http.MethodPost, "/api/v1/login", map[string]string{"username": "olive", "email": "olive@example.com"}))
	if out.Status != service.OutcomeDeactivated {
		t.Fatalf("expected stale login to deactivate, got %+v", out)
	}
}

func TestAdminRoutesCanBeDisabled(t *testing.T) {
	cfg := baseConfig()
	cfg.AdminAPIEnabled = false
	h, _ := newTestRouter(t, cfg, oracle.Noop{})
	if rec := doJSON(t, h, http.MethodGet, "/api/v1/admin/accounts", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 with admin api disabled, got %d", rec.Code)
	}
}

func TestModeratorRequests(t *testing.T) {
	h, _ := newTestRouter(t, baseConfig(), oracle.Noop{})
	body := map[string]string{
		"moderatorId":       "998877",
		"moderatorUsername": "modsam",
		"serverId":          "guild-1",
		"githubLink":        "https://github.com/modsam",
		"apiKey":            "ura-secret",
	}
	rec := doJSON(t, h, http.MethodPost, "/api/v1/moderator-requests", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", rec.Code, rec.Body.String())
	}
	if rec := doJSON(t, h, http.MethodPost, "/api/v1/moderator-requests", body); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate moderator id, got %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/v1/admin/moderator-requests", nil)
	if rec.Code != http.StatusOK || bytes.Contains(rec.Body.Bytes(), []byte("ura-secret")) {
		t.Fatalf("unexpected list response %d body=%s", rec.Code, rec.Body.String())
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte(`"moderatorUsername":"modsam"`)) {
		t.Fatalf("expected modsam in list, got %s", rec.Body.String())
	}

	for key, want := range map[string]string{"ura-secret": `"valid":true`, "ura-wrong": `"valid":false`} {
		rec = doJSON(t, h, http.MethodPost, "/api/v1/admin/moderator-requests/998877/verify-key", map[string]string{"apiKey": key})
		if rec.Code != http.StatusOK || !bytes.Contains(rec.Body.Bytes(), []byte(want)) {
			t.Fatalf("verify %s: expected %s, got %d body=%s", key, want, rec.Code, rec.Body.String())
		}
	}
	rec = doJSON(t, h, http.MethodPost, "/api/v1/admin/moderator-requests/000/verify-key", map[string]string{"apiKey": "ura-secret"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown moderator, got %d", rec.Code)
	}
}

func TestSignupCaptcha(t *testing.T) {
	verify := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.PostForm.Get("response") == "good" {
			_, _ = w.Write([]byte(`{"success":true}`))
			return
		}
		_, _ = w.Write([]byte(`{"success":false,"error-codes":["invalid-input-response"]}`))
	}))
	defer verify.Close()

	cfg := baseConfig()
	cfg.CaptchaEnabled = true
	cfg.CaptchaProvider = "turnstile"
	cfg.CaptchaVerifyURL = verify.URL
	cfg.CaptchaSecret = "s3cret"
	h, _ := newTestRouter(t, cfg, oracle.Noop{})

	rec := doJSON(t, h, http.MethodPost, "/api/v1/signup", map[string]string{"username": "quinn", "email": "quinn@example.com"})
	if rec.Code != http.StatusBadRequest || decodeAPIError(t, rec).Code != "captcha_required" {
		t.Fatalf("expected captcha_required, got %d body=%s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, h, http.MethodPost, "/api/v1/signup", map[string]string{"username": "quinn", "email": "quinn@example.com", "captchaToken": "good"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 with valid captcha, got %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestStoreUnavailable(t *testing.T) {
	h, sqdb := newTestRouter(t, baseConfig(), oracle.Noop{})
	if rec := doJSON(t, h, http.MethodGet, "/health/ready", nil); rec.Code != http.StatusOK {
		t.Fatalf("expected ready, got %d body=%s", rec.Code, rec.Body.String())
	}
	_ = sqdb.Close()

	if rec := doJSON(t, h, http.MethodGet, "/health/ready", nil); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 from ready, got %d", rec.Code)
	}
	rec := doJSON(t, h, http.MethodPost, "/api/v1/unban-requests", map[string]string{"username": "anyone"})
	if rec.Code != http.StatusServiceUnavailable || decodeAPIError(t, rec).Code != "store_unavailable" {
		t.Fatalf("expected 503 store_unavailable, got %d body=%s", rec.Code, rec.Body.String())
	}
	out := decodeOutcome(t, doJSON(t, h, http.MethodPost, "/api/v1/login", map[string]string{"username": "anyone", "email": "a@example.com"}))
	if out.Status != service.OutcomeError {
		t.Fatalf("expected error outcome, got %+v", out)
	}
}

func TestHealthLiveIncludesVersion(t *testing.T) {
	h, _ := newTestRouter(t, baseConfig(), oracle.Noop{})
	rec := doJSON(t, h, http.MethodGet, "/health/live", nil)
	if rec.Code != http.StatusOK || !bytes.Contains(rec.Body.Bytes(), []byte(`"version"`)) {
		t.Fatalf("unexpected live response %d body=%s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected X-Request-ID header")
	}
}
