package restapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lotline/bidsession"
)

const maxBodyBytes = 1 << 20

// Client defines a public type used by bidsession APIs.
//
// Client instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Client struct {
	base   *url.URL
	http   *http.Client
	logger *zap.Logger
	token  func() string
}

// Option configures a Client during construction.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTokenSource supplies the access token attached as a bearer header on
// authenticated requests. An empty return means no header.
func WithTokenSource(fn func() string) Option {
	return func(c *Client) { c.token = fn }
}

// WithLogger attaches a logger for request-level diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// NewClient describes the newclient operation and its observable behavior.
//
// NewClient may return an error when input validation, dependency calls, or security checks fail.
// NewClient does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("restapi: parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("restapi: base url %q missing scheme or host", baseURL)
	}

	c := &Client{
		base:   base,
		http:   &http.Client{Timeout: 30 * time.Second},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type loginBody struct {
	Email        string `json:"email"`
	Password     string `json:"password"`
	OTP          string `json:"otp,omitempty"`
	RecoveryCode string `json:"recovery_code,omitempty"`
}

type verifyBody struct {
	ChallengeID string `json:"challenge_id"`
	Code        string `json:"code"`
	Mode        string `json:"mode"`
}

// challengeBody is the rejection shape the backend uses when a login needs a
// second factor.
type challengeBody struct {
	ChallengeID string `json:"challenge_id"`
	Email       string `json:"email"`
	RedirectTo  string `json:"redirect_to"`
}

// Login describes the login operation and its observable behavior.
//
// Login may return an error when input validation, dependency calls, or security checks fail.
// Login does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (c *Client) Login(ctx context.Context, req bidsession.LoginRequest) (*bidsession.LoginPayload, error) {
	body := loginBody{
		Email:        req.Email,
		Password:     req.Password,
		OTP:          req.OTP,
		RecoveryCode: req.RecoveryCode,
	}
	status, data, err := c.do(ctx, http.MethodPost, "/login", nil, body)
	if err != nil {
		return nil, err
	}
	if status < 200 || status > 299 {
		// A rejection carrying a challenge id is a second-factor demand, not
		// a credential failure.
		var challenge challengeBody
		if jsonErr := json.Unmarshal(data, &challenge); jsonErr == nil && challenge.ChallengeID != "" {
			return nil, &bidsession.ChallengeRequiredError{
				ChallengeID: challenge.ChallengeID,
				Email:       challenge.Email,
				RedirectTo:  challenge.RedirectTo,
			}
		}
		return nil, &bidsession.APIError{Status: status, Body: string(data)}
	}
	return bidsession.DecodeLoginPayload(data)
}

// SessionRemaining describes the sessionremaining operation and its observable behavior.
//
// SessionRemaining may return an error when input validation, dependency calls, or security checks fail.
// SessionRemaining does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (c *Client) SessionRemaining(ctx context.Context, sessionTokenID string) (*bidsession.KeepAlivePayload, error) {
	query := url.Values{"session_token_id": {sessionTokenID}}
	status, data, err := c.do(ctx, http.MethodGet, "/session/remaining", query, nil)
	if err != nil {
		return nil, err
	}
	if status < 200 || status > 299 {
		return nil, &bidsession.APIError{Status: status, Body: string(data)}
	}
	return bidsession.DecodeKeepAlivePayload(data)
}

// VerifyChallenge describes the verifychallenge operation and its observable behavior.
//
// VerifyChallenge may return an error when input validation, dependency calls, or security checks fail.
// VerifyChallenge does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (c *Client) VerifyChallenge(ctx context.Context, req bidsession.VerifyRequest) (*bidsession.LoginPayload, error) {
	body := verifyBody{
		ChallengeID: req.ChallengeID,
		Code:        req.Code,
		Mode:        string(req.Mode),
	}
	status, data, err := c.do(ctx, http.MethodPost, "/2fa/verify", nil, body)
	if err != nil {
		return nil, err
	}
	if status < 200 || status > 299 {
		return nil, &bidsession.APIError{Status: status, Body: string(data)}
	}
	return bidsession.DecodeLoginPayload(data)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any) (int, []byte, error) {
	target := *c.base
	target.Path = strings.TrimRight(target.Path, "/") + path
	if query != nil {
		target.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("restapi: encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return 0, nil, fmt.Errorf("restapi: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != nil {
		if token := c.token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("restapi: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return 0, nil, fmt.Errorf("restapi: read response: %w", err)
	}

	c.logger.Debug("request completed",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode))
	return resp.StatusCode, data, nil
}
