package model

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// -------------------- SESSION --------------------

// Session is the authenticated actor as the client tracks it. A non-nil
// Session always has a matching bearer token in durable storage; the two
// are written and cleared together.
type Session struct {
	ID           string `json:"id"`
	FullName     string `json:"full_name"`
	Email        string `json:"email"`
	Phone        string `json:"phone"`
	GroupName    string `json:"group_name"`
	Country      string `json:"country,omitempty"`
	Username     string `json:"username,omitempty"`
	ReferralLink string `json:"referral_link,omitempty"`
}

// APIUser is the user record as the referral API returns it.
type APIUser struct {
	ID           int64   `json:"id"`
	Email        string  `json:"email"`
	FirstName    string  `json:"first_name"`
	LastName     string  `json:"last_name"`
	Phone        string  `json:"phone"`
	AccountType  string  `json:"account_type"`
	GroupName    string  `json:"group_name"`
	Username     string  `json:"username"`
	ProfileImage *string `json:"profile_image"`
	CreatedAt    string  `json:"created_at"`
	UpdatedAt    string  `json:"updated_at"`
}

// FullName joins first and last name, tolerating either being empty.
func (u *APIUser) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// VerifyOTPData is the payload issued when an OTP is consumed.
type VerifyOTPData struct {
	Token     string  `json:"token"`
	TokenType string  `json:"token_type"`
	User      APIUser `json:"user"`
}

// PendingChallenge is an in-flight OTP login or registration awaiting a
// 6-digit code. Never persisted.
type PendingChallenge struct {
	Target      string    `json:"target"` // phone or email the code was sent to
	IssuedAt    time.Time `json:"issued_at"`
	ResendAfter time.Time `json:"resend_after"`
}

// CanResend reports whether the resend cooldown has elapsed.
func (c *PendingChallenge) CanResend(now time.Time) bool {
	return !now.Before(c.ResendAfter)
}

// -------------------- ANALYTICS --------------------

// Metric names as the dashboard analytics endpoint emits them.
const (
	MetricTotalReferrals = "total referrals"
	MetricTotalPoints    = "total points"
	MetricConversionRate = "conversion rate"
	MetricTotalAmount    = "total amount"
)

// AnalyticsMetric is one aggregate counter with month-over-month growth.
type AnalyticsMetric struct {
	Metric      string  `json:"metric"`
	Value       float64 `json:"value"`
	MonthGrowth float64 `json:"month_growth"`
}

// AnalyticsSnapshot is the full set of dashboard counters. Replaced in full
// on every successful fetch, never merged.
type AnalyticsSnapshot struct {
	TotalReferrals AnalyticsMetric
	TotalPoints    AnalyticsMetric
	ConversionRate AnalyticsMetric
	TotalAmount    AnalyticsMetric
	FetchedAt      time.Time
}

// SnapshotFromMetrics folds the API's metric array into a snapshot. Unknown
// metric names are ignored so new server-side counters do not break clients.
func SnapshotFromMetrics(metrics []AnalyticsMetric, now time.Time) AnalyticsSnapshot {
	snap := AnalyticsSnapshot{FetchedAt: now}
	for _, m := range metrics {
		switch m.Metric {
		case MetricTotalReferrals:
			snap.TotalReferrals = m
		case MetricTotalPoints:
			snap.TotalPoints = m
		case MetricConversionRate:
			snap.ConversionRate = m
		case MetricTotalAmount:
			snap.TotalAmount = m
		}
	}
	return snap
}

// -------------------- PAGINATED RECORDS --------------------

// ActivityEntry is one row of the dashboard live activity feed.
type ActivityEntry struct {
	ID          string    `json:"id"`
	UserName    string    `json:"user_name"`
	Description string    `json:"description"`
	Points      int64     `json:"points"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

// Transaction is one row of the referral transaction history.
type Transaction struct {
	ID           string    `json:"id"`
	UserName     string    `json:"user_name"`
	Amount       float64   `json:"amount"`
	PointsEarned int64     `json:"points_earned"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
}

// Withdrawal request lifecycle statuses.
const (
	WithdrawalPending   = "pending"
	WithdrawalCompleted = "completed"
	WithdrawalRejected  = "rejected"
)

// Withdrawal methods.
const (
	MethodBank        = "bank"
	MethodMobileMoney = "mobile"
)

// WithdrawalRequest is a cash-out of accumulated points. Client-created
// requests carry a client-generated idempotency key; the server assigns the
// ID and status.
type WithdrawalRequest struct {
	ID             string    `json:"id"`
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
	Currency       string    `json:"currency"`
	Amount         float64   `json:"amount"`
	Points         int64     `json:"points"`
	Method         string    `json:"method"`
	PayeeName      string    `json:"payee_name"`
	PayeeAccount   string    `json:"payee_account"` // bank account or mobile money number
	BankName       string    `json:"bank_name,omitempty"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
}

// Pagination carries the cursor fields the API returns on every list
// endpoint.
type Pagination struct {
	CurrentPage int `json:"current_page"`
	LastPage    int `json:"last_page"`
	PerPage     int `json:"per_page"`
	Total       int `json:"total"`
}

// HasMore reports whether further pages exist past the current one.
func (p Pagination) HasMore() bool {
	return p.CurrentPage < p.LastPage
}

// Page couples one page of records with its pagination cursors.
type Page[T any] struct {
	Items []T        `json:"data"`
	Meta  Pagination `json:"meta"`
}

// -------------------- API ENVELOPE --------------------

// Envelope is the success wrapper every referral API response uses.
type Envelope struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// ErrorEnvelope is the failure wrapper: a top-level message and/or
// field-keyed validation errors.
type ErrorEnvelope struct {
	Message string              `json:"message"`
	Errors  map[string][]string `json:"errors"`
}

// FirstError extracts the top-level message, or else the first entry of the
// first field in Errors. Field iteration order is stabilized by sorting so
// the extracted message is deterministic.
func (e *ErrorEnvelope) FirstError() string {
	if e.Message != "" {
		return e.Message
	}
	fields := make([]string, 0, len(e.Errors))
	for f := range e.Errors {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	for _, f := range fields {
		if msgs := e.Errors[f]; len(msgs) > 0 && msgs[0] != "" {
			return msgs[0]
		}
	}
	return ""
}

// SettingsUpdate is a partial profile mutation. Nil fields are left
// untouched server-side and absent from the request body.
type SettingsUpdate struct {
	FullName  *string `json:"name,omitempty"`
	Email     *string `json:"email,omitempty"`
	Phone     *string `json:"phone,omitempty"`
	GroupName *string `json:"group_name,omitempty"`
	Country   *string `json:"country,omitempty"`
}

// Registration is the payload for account creation.
type Registration struct {
	Name      string `json:"name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	GroupName string `json:"group_name"`
	Country   string `json:"country,omitempty"`
}

// Validate checks the locally enforceable invariants before the payload is
// sent anywhere.
func (r *Registration) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if !strings.Contains(r.Email, "@") {
		return fmt.Errorf("a valid email is required")
	}
	if len(r.Phone) < 10 || len(r.Phone) > 16 {
		return fmt.Errorf("phone number must be between 10 and 16 characters")
	}
	if strings.TrimSpace(r.GroupName) == "" {
		return fmt.Errorf("group name is required")
	}
	return nil
}
