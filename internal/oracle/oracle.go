package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"accountgate/internal/config"
)

var ErrUnavailable = errors.New("security oracle unavailable")

type Input struct {
	Username    string `json:"username"`
	Email       string `json:"email"`
	ActivityLog string `json:"activityLog"`
}

type Verdict struct {
	Banned   bool
	Reason   string
	Duration string
}

type Oracle interface {
	Evaluate(ctx context.Context, in Input) (Verdict, error)
}

// Func adapts a plain function to Oracle.
type Func func(ctx context.Context, in Input) (Verdict, error)

func (f Func) Evaluate(ctx context.Context, in Input) (Verdict, error) { return f(ctx, in) }

// Noop never bans.
type Noop struct{}

func (Noop) Evaluate(ctx context.Context, in Input) (Verdict, error) { return Verdict{}, nil }

type HTTPOracle struct {
	url    string
	token  string
	client *http.Client
}

func New(cfg config.Config) Oracle {
	if strings.TrimSpace(cfg.OracleURL) == "" {
		return Noop{}
	}
	return &HTTPOracle{
		url:    strings.TrimSpace(cfg.OracleURL),
		token:  strings.TrimSpace(cfg.OracleToken),
		client: &http.Client{Timeout: cfg.OracleTimeout()},
	}
}

type evaluateResponse struct {
	IsBanned    json.RawMessage `json:"isBanned"`
	BanReason   string          `json:"banReason"`
	BanDuration string          `json:"banDuration"`
}

func (o *HTTPOracle) Evaluate(ctx context.Context, in Input) (Verdict, error) {
	raw, err := json.Marshal(in)
	if err != nil {
		return Verdict{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.url, bytes.NewReader(raw))
	if err != nil {
		return Verdict{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if o.token != "" {
		req.Header.Set("Authorization", "Bearer "+o.token)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return Verdict{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return Verdict{}, fmt.Errorf("%w: oracle HTTP %d", ErrUnavailable, resp.StatusCode)
	}

	var out evaluateResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&out); err != nil {
		return Verdict{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(out.IsBanned) == 0 {
		return Verdict{}, fmt.Errorf("%w: response missing isBanned", ErrUnavailable)
	}
	return Verdict{
		Banned:   !isFalse(out.IsBanned),
		Reason:   strings.TrimSpace(out.BanReason),
		Duration: strings.TrimSpace(out.BanDuration),
	}, nil
}

// isFalse reports whether v is the JSON literal false. Anything else,
// including null, counts as a ban verdict.
func isFalse(v json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(v), []byte("false"))
}
