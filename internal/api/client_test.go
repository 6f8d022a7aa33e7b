package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestClient(url string) *Client {
	return NewClient(url, 5*time.Second, zap.NewNop())
}

func TestBearerTokenAttached(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"status":200,"message":"ok","data":[]}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	c.SetToken("tok-123")

	if _, err := c.DashboardAnalytics(context.Background()); err != nil {
		t.Fatalf("DashboardAnalytics: %v", err)
	}
	if gotAuth != "Bearer tok-123" {
		t.Errorf("Authorization = %q, want %q", gotAuth, "Bearer tok-123")
	}
}

func TestNoTokenNoHeader(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"status":200,"message":"ok","data":{"phone":"+1"}}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	if err := c.Login(context.Background(), "+15551234567"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if gotAuth != "" {
		t.Errorf("Authorization = %q, want empty", gotAuth)
	}
}

func TestValidationErrorExtraction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"errors":{"phone":["The phone has already been taken."],"email":["The email is invalid."]}}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	err := c.Login(context.Background(), "+15551234567")

	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error = %v, want ValidationError", err)
	}
	// First field alphabetically wins, matching the sorted extraction.
	if verr.Field != "email" || verr.Message != "The email is invalid." {
		t.Errorf("ValidationError = %+v", verr)
	}
}

func TestTopLevelMessagePreferred(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"message":"Something went wrong"}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	err := c.Login(context.Background(), "+15551234567")

	var aerr *APIError
	if !errors.As(err, &aerr) {
		t.Fatalf("error = %v, want APIError", err)
	}
	if aerr.Message != "Something went wrong" {
		t.Errorf("Message = %q", aerr.Message)
	}
}

func TestUnauthorizedFiresHook(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"Unauthenticated."}`))
	}))
	defer srv.Close()

	var fired int32
	c := newTestClient(srv.URL)
	c.OnUnauthorized = func() { atomic.AddInt32(&fired, 1) }

	_, err := c.DashboardAnalytics(context.Background())
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("error = %v, want ErrUnauthorized via errors.Is", err)
	}
	var aerr *AuthError
	if !errors.As(err, &aerr) || aerr.Message != "Unauthenticated." {
		t.Errorf("error = %v, want AuthError with server message", err)
	}
	if got := atomic.LoadInt32(&fired); got != 1 {
		t.Errorf("OnUnauthorized fired %d times, want 1", got)
	}
}

func TestNetworkErrorTyped(t *testing.T) {
	c := newTestClient("http://127.0.0.1:1") // nothing listens here

	err := c.Login(context.Background(), "+15551234567")
	var nerr *NetworkError
	if !errors.As(err, &nerr) {
		t.Fatalf("error = %v, want NetworkError", err)
	}
}

func TestVerifyOTPDecodesPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":200,"message":"Success","data":{
			"token":"tok-1","token_type":"Bearer",
			"user":{"id":7,"email":"ada@example.com","first_name":"Ada","last_name":"Okafor",
				"phone":"+2348012345678","group_name":"Lagos Deals","username":"ada"}}}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	data, err := c.VerifyOTP(context.Background(), "+2348012345678", "123456")
	if err != nil {
		t.Fatalf("VerifyOTP: %v", err)
	}
	if data.Token != "tok-1" || data.User.ID != 7 || data.User.FullName() != "Ada Okafor" {
		t.Errorf("payload = %+v", data)
	}
}

func TestVerifyOTPMissingToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":200,"message":"Success","data":{"token":"","user":{"id":7}}}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	if _, err := c.VerifyOTP(context.Background(), "+2348012345678", "123456"); err == nil {
		t.Fatal("expected error for response without token")
	}
}

func TestPageDecoding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") != "2" {
			t.Errorf("page = %q, want 2", r.URL.Query().Get("page"))
		}
		w.Write([]byte(`{"status":200,"message":"ok","data":{
			"data":[{"id":"t1","user_name":"Sarah M.","amount":200,"points_earned":50,"status":"completed"}],
			"meta":{"current_page":2,"last_page":3,"per_page":1,"total":3}}}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	page, err := c.Transactions(context.Background(), 2)
	if err != nil {
		t.Fatalf("Transactions: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].ID != "t1" {
		t.Errorf("Items = %+v", page.Items)
	}
	if !page.Meta.HasMore() {
		t.Error("HasMore() = false, want true for page 2 of 3")
	}
}
