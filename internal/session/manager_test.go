package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"referral-client/internal/api"
	"referral-client/internal/apitest"
	"referral-client/internal/model"
	"referral-client/internal/store"

	"go.uber.org/zap"
)

const linkBase = "https://optisage.com/ref"

func newTestManager(t *testing.T, srv *apitest.Server) (*Manager, *api.Client, store.Store) {
	t.Helper()
	st := store.NewFileStore(filepath.Join(t.TempDir(), "session.json"), "")
	return newManagerWithStore(srv, st)
}

func newManagerWithStore(srv *apitest.Server, st store.Store) (*Manager, *api.Client, store.Store) {
	client := api.NewClient(srv.URL(), 5*time.Second, zap.NewNop())
	return NewManager(client, st, linkBase, zap.NewNop()), client, st
}

// countingStore wraps a store and counts Clear calls.
type countingStore struct {
	store.Store
	clears int64
}

func (c *countingStore) Clear(ctx context.Context) error {
	atomic.AddInt64(&c.clears, 1)
	return c.Store.Clear(ctx)
}

func login(t *testing.T, ctx context.Context, m *Manager, srv *apitest.Server) *model.Session {
	t.Helper()
	if _, err := m.RequestOTP(ctx, srv.User.Phone); err != nil {
		t.Fatalf("RequestOTP: %v", err)
	}
	sess, err := m.VerifyOTP(ctx, srv.User.Phone, srv.OTP)
	if err != nil {
		t.Fatalf("VerifyOTP: %v", err)
	}
	return sess
}

func TestRestoreEmpty(t *testing.T) {
	srv := apitest.New()
	defer srv.Close()
	m, _, _ := newTestManager(t, srv)

	sess, err := m.Restore(context.Background())
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if sess != nil {
		t.Errorf("Restore = %+v, want nil", sess)
	}
	if got := srv.Count("POST /login"); got != 0 {
		t.Errorf("restore made %d network calls", got)
	}
}

func TestVerifyThenRestoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	srv := apitest.New()
	defer srv.Close()

	st := store.NewFileStore(filepath.Join(t.TempDir(), "session.json"), "")
	m1, _, _ := newManagerWithStore(srv, st)
	established := login(t, ctx, m1, srv)

	if established.FullName != "Ada Okafor" {
		t.Errorf("FullName = %q", established.FullName)
	}
	if established.Country != "nigeria" {
		t.Errorf("Country = %q, want nigeria (from +234 prefix)", established.Country)
	}
	if established.ReferralLink == "" {
		t.Error("ReferralLink not derived")
	}

	// A fresh manager over the same store simulates a restart.
	m2, client2, _ := newManagerWithStore(srv, st)
	restored, err := m2.Restore(ctx)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if restored == nil {
		t.Fatal("Restore = nil after verified login")
	}
	if *restored != *established {
		t.Errorf("restored session %+v != established %+v", *restored, *established)
	}
	if client2.Token() != srv.Token {
		t.Errorf("restored token = %q, want %q", client2.Token(), srv.Token)
	}
}

func TestVerifyWrongCodeKeepsChallenge(t *testing.T) {
	ctx := context.Background()
	srv := apitest.New()
	defer srv.Close()
	m, _, _ := newTestManager(t, srv)

	if _, err := m.RequestOTP(ctx, srv.User.Phone); err != nil {
		t.Fatal(err)
	}

	_, err := m.VerifyOTP(ctx, srv.User.Phone, "000000")
	var aerr *api.AuthError
	if !errors.As(err, &aerr) {
		t.Fatalf("VerifyOTP = %v, want AuthError", err)
	}
	if aerr.Message != "Invalid OTP" {
		t.Errorf("message = %q, want %q", aerr.Message, "Invalid OTP")
	}
	if m.Current() != nil {
		t.Error("session established despite rejected OTP")
	}
	if m.Challenge() == nil {
		t.Error("challenge dropped on rejected OTP; retry impossible")
	}

	// Retrying with the right code still works.
	if _, err := m.VerifyOTP(ctx, srv.User.Phone, srv.OTP); err != nil {
		t.Fatalf("retry VerifyOTP: %v", err)
	}
}

func TestVerifyRejectsMalformedCode(t *testing.T) {
	srv := apitest.New()
	defer srv.Close()
	m, _, _ := newTestManager(t, srv)

	for _, code := range []string{"", "12345", "1234567", "12a456"} {
		if _, err := m.VerifyOTP(context.Background(), srv.User.Phone, code); !errors.Is(err, ErrInvalidCode) {
			t.Errorf("VerifyOTP(%q) = %v, want ErrInvalidCode", code, err)
		}
	}
	if got := srv.Count("POST /verify-otp"); got != 0 {
		t.Errorf("malformed codes reached the network %d times", got)
	}
}

func TestRestoreCorruptRecordClearsIt(t *testing.T) {
	ctx := context.Background()
	srv := apitest.New()
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "session.json")
	if err := os.WriteFile(path, []byte("garbage"), 0o600); err != nil {
		t.Fatal(err)
	}
	m, _, st := newManagerWithStore(srv, store.NewFileStore(path, ""))

	sess, err := m.Restore(ctx)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if sess != nil {
		t.Errorf("Restore = %+v, want nil for corrupt record", sess)
	}
	if _, err := st.Load(ctx); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("corrupt record not cleared: %v", err)
	}
}

func TestRequestOTPResendCooldown(t *testing.T) {
	ctx := context.Background()
	srv := apitest.New()
	defer srv.Close()
	m, _, _ := newTestManager(t, srv)

	base := time.Now()
	m.now = func() time.Time { return base }

	if _, err := m.RequestOTP(ctx, srv.User.Phone); err != nil {
		t.Fatal(err)
	}
	if _, err := m.RequestOTP(ctx, srv.User.Phone); !errors.Is(err, ErrResendCooldown) {
		t.Fatalf("immediate resend = %v, want ErrResendCooldown", err)
	}

	m.now = func() time.Time { return base.Add(ResendCooldown) }
	if _, err := m.RequestOTP(ctx, srv.User.Phone); err != nil {
		t.Fatalf("resend after cooldown: %v", err)
	}
}

func TestRegisterDoesNotEstablishSession(t *testing.T) {
	ctx := context.Background()
	srv := apitest.New()
	defer srv.Close()
	m, client, _ := newTestManager(t, srv)

	challenge, err := m.Register(ctx, &model.Registration{
		Name:      "Ada Okafor",
		Email:     "ada@example.com",
		Phone:     "+234 801 234 5678",
		GroupName: "Lagos Deals",
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if challenge.Target != "+2348012345678" {
		t.Errorf("challenge target = %q, want normalized phone", challenge.Target)
	}
	if m.Current() != nil {
		t.Error("Register established a session; only VerifyOTP may")
	}
	if client.Token() != "" {
		t.Error("Register installed a token")
	}
}

func TestUpdateSettingsMerges(t *testing.T) {
	ctx := context.Background()
	srv := apitest.New()
	defer srv.Close()

	st := store.NewFileStore(filepath.Join(t.TempDir(), "session.json"), "")
	m, _, _ := newManagerWithStore(srv, st)
	before := login(t, ctx, m, srv)

	email := "new@example.com"
	after, err := m.UpdateSettings(ctx, &model.SettingsUpdate{Email: &email})
	if err != nil {
		t.Fatalf("UpdateSettings: %v", err)
	}

	if after.Email != email {
		t.Errorf("Email = %q, want %q", after.Email, email)
	}
	if after.Phone != before.Phone || after.GroupName != before.GroupName {
		t.Errorf("untouched fields changed: before %+v after %+v", before, after)
	}

	// The merged record must be what a reload sees.
	m2, _, _ := newManagerWithStore(srv, st)
	restored, err := m2.Restore(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if restored.Email != email {
		t.Errorf("restored Email = %q, want %q", restored.Email, email)
	}
}

func TestLogoutIdempotent(t *testing.T) {
	ctx := context.Background()
	srv := apitest.New()
	defer srv.Close()

	m, client, st := newTestManager(t, srv)
	login(t, ctx, m, srv)

	if err := m.Logout(ctx); err != nil {
		t.Fatalf("first Logout: %v", err)
	}
	if err := m.Logout(ctx); err != nil {
		t.Fatalf("second Logout: %v", err)
	}
	if m.Current() != nil {
		t.Error("session survives logout")
	}
	if client.Token() != "" {
		t.Error("token survives logout")
	}
	if _, err := st.Load(ctx); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("store not cleared: %v", err)
	}
}

func TestUnauthorizedClearsExactlyOnce(t *testing.T) {
	ctx := context.Background()
	srv := apitest.New()
	defer srv.Close()

	cs := &countingStore{Store: store.NewFileStore(filepath.Join(t.TempDir(), "session.json"), "")}
	m, client, _ := newManagerWithStore(srv, cs)
	login(t, ctx, m, srv)

	// Every authenticated endpoint now fails with 401.
	srv.ForceStatus = 401

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = client.DashboardAnalytics(ctx)
		}()
	}
	wg.Wait()

	if m.Current() != nil {
		t.Error("session survives 401")
	}
	if got := atomic.LoadInt64(&cs.clears); got != 1 {
		t.Errorf("storage cleared %d times, want exactly 1", got)
	}

	select {
	case <-m.Expired():
	default:
		t.Error("no expiry signal emitted")
	}
	select {
	case <-m.Expired():
		t.Error("expiry signaled more than once")
	default:
	}

	// The next restore observes a logged-out client (scenario 5).
	srv.ForceStatus = 0
	m2, _, _ := newManagerWithStore(srv, cs)
	if sess, err := m2.Restore(ctx); err != nil || sess != nil {
		t.Errorf("Restore after 401 = (%+v, %v), want (nil, nil)", sess, err)
	}
}

func TestUpdateSettingsRequiresLogin(t *testing.T) {
	srv := apitest.New()
	defer srv.Close()
	m, _, _ := newTestManager(t, srv)

	email := "x@example.com"
	if _, err := m.UpdateSettings(context.Background(), &model.SettingsUpdate{Email: &email}); !errors.Is(err, ErrNotLoggedIn) {
		t.Fatalf("UpdateSettings = %v, want ErrNotLoggedIn", err)
	}
}
