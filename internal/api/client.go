package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"referral-client/internal/model"
	"referral-client/internal/util"

	"go.uber.org/zap"
)

// Client is the thin adapter in front of the referral REST API. It attaches
// the bearer token to outgoing requests, decodes the API's response
// envelopes into typed values, and reports 401s out-of-band through the
// OnUnauthorized hook. It never owns session policy; that lives with the
// session manager.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger

	mu    sync.RWMutex
	token string

	// OnUnauthorized is invoked once per 401 response, before the call
	// returns its AuthError. Set by the session manager at wiring time.
	OnUnauthorized func()
}

// NewClient creates an API client for the given base URL.
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// SetToken installs the bearer token attached to subsequent requests.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// ClearToken removes the bearer token.
func (c *Client) ClearToken() {
	c.SetToken("")
}

// Token returns the currently installed bearer token.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// -------------------- endpoint methods --------------------

// Login requests OTP delivery for an existing account.
func (c *Client) Login(ctx context.Context, target string) error {
	body := map[string]string{"phone": target}
	if util.IsEmail(target) {
		body = map[string]string{"email": target}
	}
	return c.do(ctx, http.MethodPost, "/login", body, nil)
}

// Register creates an account and triggers OTP delivery. It never issues a
// token; session establishment always goes through VerifyOTP.
func (c *Client) Register(ctx context.Context, reg *model.Registration) error {
	return c.do(ctx, http.MethodPost, "/register", reg, nil)
}

// VerifyOTP consumes a one-time code and returns the issued token plus user
// record.
func (c *Client) VerifyOTP(ctx context.Context, target, otp string) (*model.VerifyOTPData, error) {
	body := map[string]string{"phone": target, "otp": otp}
	if util.IsEmail(target) {
		body = map[string]string{"email": target, "otp": otp}
	}
	var data model.VerifyOTPData
	if err := c.do(ctx, http.MethodPost, "/verify-otp", body, &data); err != nil {
		return nil, err
	}
	if data.Token == "" {
		return nil, &APIError{StatusCode: http.StatusOK, Message: "verify-otp response missing token"}
	}
	return &data, nil
}

// UpdateSettings submits a partial profile update and returns the user
// record as the server now sees it.
func (c *Client) UpdateSettings(ctx context.Context, update *model.SettingsUpdate) (*model.APIUser, error) {
	var user model.APIUser
	if err := c.do(ctx, http.MethodPut, "/customer/settings", update, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// DashboardAnalytics fetches the aggregate metrics array.
func (c *Client) DashboardAnalytics(ctx context.Context) ([]model.AnalyticsMetric, error) {
	var metrics []model.AnalyticsMetric
	if err := c.do(ctx, http.MethodGet, "/dashboard/analytics", nil, &metrics); err != nil {
		return nil, err
	}
	return metrics, nil
}

// ActivityFeed fetches one page of the live activity feed.
func (c *Client) ActivityFeed(ctx context.Context, page int) (*model.Page[model.ActivityEntry], error) {
	var out model.Page[model.ActivityEntry]
	path := fmt.Sprintf("/dashboard/activity-feeds?page=%d", page)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Transactions fetches one page of transaction history.
func (c *Client) Transactions(ctx context.Context, page int) (*model.Page[model.Transaction], error) {
	var out model.Page[model.Transaction]
	path := fmt.Sprintf("/transactions?page=%d", page)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// WithdrawalRequests fetches the full withdrawal history. This path is not
// paginated.
func (c *Client) WithdrawalRequests(ctx context.Context) ([]model.WithdrawalRequest, error) {
	var out []model.WithdrawalRequest
	if err := c.do(ctx, http.MethodGet, "/withdrawal-requests", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateWithdrawal submits a withdrawal and returns the server's record with
// its assigned ID and status.
func (c *Client) CreateWithdrawal(ctx context.Context, req *model.WithdrawalRequest) (*model.WithdrawalRequest, error) {
	var out model.WithdrawalRequest
	if err := c.do(ctx, http.MethodPost, "/withdrawal-requests", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// -------------------- transport --------------------

// do executes one API call: marshal body, attach headers and token, decode
// the success envelope into out (when non-nil) or map the failure envelope
// to a typed error.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("API request failed",
			util.String("method", method),
			util.String("path", path),
			util.ErrorField(err),
		)
		return &NetworkError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &NetworkError{Op: method + " " + path, Err: err}
	}

	c.logger.Debug("API request completed",
		util.String("method", method),
		util.String("path", path),
		util.Int("status", resp.StatusCode),
		util.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode == http.StatusUnauthorized {
		if c.OnUnauthorized != nil {
			c.OnUnauthorized()
		}
		return &AuthError{Message: extractErrorMessage(respBody, "session expired")}
	}
	if resp.StatusCode >= 400 {
		return errorFromResponse(resp.StatusCode, respBody)
	}

	if out == nil {
		return nil
	}

	var env model.Envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return fmt.Errorf("decode response envelope: %w", err)
	}
	if len(env.Data) == 0 {
		return fmt.Errorf("response envelope has no data")
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode response data: %w", err)
	}
	return nil
}

// errorFromResponse maps a non-401 failure body to the error taxonomy:
// field-level validation errors become ValidationError, anything else an
// APIError carrying the extracted message.
func errorFromResponse(status int, body []byte) error {
	var env model.ErrorEnvelope
	if err := json.Unmarshal(body, &env); err == nil {
		if len(env.Errors) > 0 {
			field := firstField(env.Errors)
			return &ValidationError{Field: field, Message: env.FirstError()}
		}
		if env.Message != "" {
			return &APIError{StatusCode: status, Message: env.Message}
		}
	}
	return &APIError{StatusCode: status}
}

func extractErrorMessage(body []byte, fallback string) string {
	var env model.ErrorEnvelope
	if err := json.Unmarshal(body, &env); err == nil {
		if msg := env.FirstError(); msg != "" {
			return msg
		}
	}
	return fallback
}

func firstField(errs map[string][]string) string {
	first := ""
	for f, msgs := range errs {
		if len(msgs) == 0 || msgs[0] == "" {
			continue
		}
		if first == "" || f < first {
			first = f
		}
	}
	return first
}
