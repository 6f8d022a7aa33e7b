// Package apitest runs an in-process fake of the referral REST API for
// tests: same envelopes, same endpoints, scriptable OTPs and canned data.
// It speaks CORS like the staging API does, since the real consumers are
// browsers.
package apitest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"

	"referral-client/internal/model"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
)

// Server is a scriptable fake referral API. Exported state fields may be
// mutated between requests; Server serializes access internally.
type Server struct {
	mu sync.Mutex

	// Scripted behavior.
	OTP          string        // the one code /verify-otp accepts
	Token        string        // bearer token issued on verification
	User         model.APIUser // the account the fake knows about
	Metrics      []model.AnalyticsMetric
	Activity     []model.ActivityEntry
	Transactions []model.Transaction
	Withdrawals  []model.WithdrawalRequest
	PerPage      int

	// ForceStatus short-circuits every authenticated endpoint with the
	// given status. Zero disables it.
	ForceStatus int

	// Hook runs before each request is handled. Tests use it to delay or
	// observe specific calls.
	Hook func(r *http.Request)

	// Counts tracks requests per method+path.
	Counts map[string]int

	srv *httptest.Server
}

// New starts the fake API with sensible defaults: one known user, OTP
// "123456", token "test-token".
func New() *Server {
	s := &Server{
		OTP:   "123456",
		Token: "test-token",
		User: model.APIUser{
			ID:        42,
			Email:     "ada@example.com",
			FirstName: "Ada",
			LastName:  "Okafor",
			Phone:     "+2348012345678",
			GroupName: "Lagos Deals",
			Username:  "ada",
		},
		PerPage: 10,
		Counts:  make(map[string]int),
	}

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"https://*", "http://*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))
	r.Use(s.observe)

	r.Post("/login", s.handleLogin)
	r.Post("/register", s.handleRegister)
	r.Post("/verify-otp", s.handleVerifyOTP)

	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Put("/customer/settings", s.handleSettings)
		r.Get("/dashboard/analytics", s.handleAnalytics)
		r.Get("/dashboard/activity-feeds", s.handleActivity)
		r.Get("/transactions", s.handleTransactions)
		r.Get("/withdrawal-requests", s.handleListWithdrawals)
		r.Post("/withdrawal-requests", s.handleCreateWithdrawal)
	})

	s.srv = httptest.NewServer(r)
	return s
}

// URL is the base URL clients should be pointed at.
func (s *Server) URL() string {
	return s.srv.URL
}

// Close shuts the fake down.
func (s *Server) Close() {
	s.srv.Close()
}

// Count returns how many times method+path was hit, e.g. "POST /login".
func (s *Server) Count(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Counts[key]
}

// -------------------- middleware --------------------

func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.Counts[r.Method+" "+r.URL.Path]++
		hook := s.Hook
		s.mu.Unlock()
		if hook != nil {
			hook(r)
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		forced := s.ForceStatus
		token := s.Token
		s.mu.Unlock()

		if forced != 0 {
			writeError(w, forced, "forced failure", nil)
			return
		}
		if r.Header.Get("Authorization") != "Bearer "+token {
			writeError(w, http.StatusUnauthorized, "Unauthenticated.", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// -------------------- handlers --------------------

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Phone string `json:"phone"`
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || (body.Phone == "" && body.Email == "") {
		writeError(w, http.StatusUnprocessableEntity, "", map[string][]string{
			"phone": {"The phone field is required."},
		})
		return
	}
	writeEnvelope(w, http.StatusOK, "OTP sent successfully", map[string]string{"phone": body.Phone})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var reg model.Registration
	if err := json.NewDecoder(r.Body).Decode(&reg); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", nil)
		return
	}
	if reg.Email == "" {
		writeError(w, http.StatusUnprocessableEntity, "", map[string][]string{
			"email": {"The email field is required."},
		})
		return
	}
	if reg.Phone == "" {
		writeError(w, http.StatusUnprocessableEntity, "", map[string][]string{
			"phone": {"The phone field is required."},
		})
		return
	}
	writeEnvelope(w, http.StatusOK, "OTP sent successfully", map[string]string{"phone": reg.Phone})
}

func (s *Server) handleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Phone string `json:"phone"`
		Email string `json:"email"`
		OTP   string `json:"otp"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", nil)
		return
	}

	s.mu.Lock()
	otp, token, user := s.OTP, s.Token, s.User
	s.mu.Unlock()

	if body.OTP != otp {
		writeError(w, http.StatusUnauthorized, "Invalid OTP", nil)
		return
	}
	writeEnvelope(w, http.StatusOK, "Success", model.VerifyOTPData{
		Token:     token,
		TokenType: "Bearer",
		User:      user,
	})
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	var update model.SettingsUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", nil)
		return
	}

	s.mu.Lock()
	if update.FullName != nil {
		s.User.FirstName = *update.FullName
		s.User.LastName = ""
	}
	if update.Email != nil {
		s.User.Email = *update.Email
	}
	if update.Phone != nil {
		s.User.Phone = *update.Phone
	}
	if update.GroupName != nil {
		s.User.GroupName = *update.GroupName
	}
	user := s.User
	s.mu.Unlock()

	writeEnvelope(w, http.StatusOK, "Settings updated", user)
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	metrics := append([]model.AnalyticsMetric(nil), s.Metrics...)
	s.mu.Unlock()
	writeEnvelope(w, http.StatusOK, "Analytics retrieved successfully", metrics)
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	items := append([]model.ActivityEntry(nil), s.Activity...)
	perPage := s.PerPage
	s.mu.Unlock()

	page := pageParam(r)
	chunk, meta := paginate(items, page, perPage)
	writeEnvelope(w, http.StatusOK, "Activity retrieved", model.Page[model.ActivityEntry]{Items: chunk, Meta: meta})
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	items := append([]model.Transaction(nil), s.Transactions...)
	perPage := s.PerPage
	s.mu.Unlock()

	page := pageParam(r)
	chunk, meta := paginate(items, page, perPage)
	writeEnvelope(w, http.StatusOK, "Transactions retrieved", model.Page[model.Transaction]{Items: chunk, Meta: meta})
}

func (s *Server) handleListWithdrawals(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	list := append([]model.WithdrawalRequest(nil), s.Withdrawals...)
	s.mu.Unlock()
	writeEnvelope(w, http.StatusOK, "Withdrawals retrieved", list)
}

func (s *Server) handleCreateWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req model.WithdrawalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", nil)
		return
	}
	if req.Amount <= 0 {
		writeError(w, http.StatusUnprocessableEntity, "", map[string][]string{
			"amount": {"The amount must be greater than zero."},
		})
		return
	}

	req.ID = "wd-" + uuid.NewString()
	req.Status = model.WithdrawalPending
	req.CreatedAt = time.Now().UTC()

	s.mu.Lock()
	s.Withdrawals = append([]model.WithdrawalRequest{req}, s.Withdrawals...)
	s.mu.Unlock()

	writeEnvelope(w, http.StatusCreated, "Withdrawal request created", req)
}

// -------------------- helpers --------------------

func pageParam(r *http.Request) int {
	page, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || page < 1 {
		return 1
	}
	return page
}

func paginate[T any](items []T, page, perPage int) ([]T, model.Pagination) {
	if perPage < 1 {
		perPage = 10
	}
	total := len(items)
	lastPage := (total + perPage - 1) / perPage
	if lastPage < 1 {
		lastPage = 1
	}

	start := (page - 1) * perPage
	if start > total {
		start = total
	}
	end := start + perPage
	if end > total {
		end = total
	}

	return items[start:end], model.Pagination{
		CurrentPage: page,
		LastPage:    lastPage,
		PerPage:     perPage,
		Total:       total,
	}
}

func writeEnvelope(w http.ResponseWriter, status int, message string, data interface{}) {
	raw, _ := json.Marshal(data)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(model.Envelope{
		Status:  status,
		Message: message,
		Data:    raw,
	})
}

func writeError(w http.ResponseWriter, status int, message string, fieldErrors map[string][]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(model.ErrorEnvelope{
		Message: message,
		Errors:  fieldErrors,
	})
}
