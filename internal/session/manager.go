// Package session owns all identity and credential state on the client:
// the current user, the in-flight OTP challenge, the bearer token, and
// their durable persistence.
package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"referral-client/internal/api"
	"referral-client/internal/currency"
	"referral-client/internal/model"
	"referral-client/internal/referral"
	"referral-client/internal/store"
	"referral-client/internal/util"

	"go.uber.org/zap"
)

var (
	ErrNotLoggedIn    = errors.New("not logged in")
	ErrNoChallenge    = errors.New("no OTP has been requested")
	ErrResendCooldown = errors.New("wait before requesting another code")
	ErrInvalidCode    = errors.New("OTP must be a 6-digit code")
	ErrEmptyTarget    = errors.New("a phone number or email is required")
)

// ResendCooldown is how long a pending challenge blocks another OTP request
// for the same target.
const ResendCooldown = 60 * time.Second

// clearTimeout bounds the storage write performed during a 401-triggered
// invalidation, which runs outside any caller-supplied context.
const clearTimeout = 5 * time.Second

// Manager mediates identity state. All mutating operations are serialized
// internally; the storage write is always the last step of the already
// locked section, so the token and user record can never diverge.
type Manager struct {
	api      *api.Client
	store    store.Store
	logger   *zap.Logger
	linkBase string

	mu         sync.Mutex
	current    *model.Session
	challenge  *model.PendingChallenge
	loggingOut bool

	// generation increments each time a session is established. The 401
	// handler records the generation it invalidated so concurrent failures
	// from parallel requests clear state exactly once.
	generation     uint64
	invalidatedGen uint64

	expired chan struct{}
	now     func() time.Time
}

// NewManager wires a session manager to its API client and durable store.
// It registers itself as the client's 401 handler.
func NewManager(client *api.Client, st store.Store, linkBase string, logger *zap.Logger) *Manager {
	m := &Manager{
		api:      client,
		store:    st,
		logger:   logger,
		linkBase: linkBase,
		expired:  make(chan struct{}, 1),
		now:      time.Now,
	}
	client.OnUnauthorized = m.handleUnauthorized
	return m
}

// Expired signals once per session invalidated by a 401. The presentation
// layer decides what to do about it; the manager only clears state.
func (m *Manager) Expired() <-chan struct{} {
	return m.expired
}

// Current returns a copy of the active session, or nil when logged out.
func (m *Manager) Current() *model.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil
	}
	s := *m.current
	return &s
}

// Challenge returns a copy of the pending OTP challenge, if any.
func (m *Manager) Challenge() *model.PendingChallenge {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.challenge == nil {
		return nil
	}
	c := *m.challenge
	return &c
}

// LoggingOut reports whether a logout is in progress.
func (m *Manager) LoggingOut() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loggingOut
}

// Restore reads the persisted session on startup. A missing record resolves
// to a nil session; a malformed record is deleted and likewise resolves to
// nil rather than failing startup. No network call is made.
func (m *Manager) Restore(ctx context.Context) (*model.Session, error) {
	rec, err := m.store.Load(ctx)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, nil
	case errors.Is(err, store.ErrCorrupt):
		m.logger.Warn("Discarding corrupt session record", util.ErrorField(err))
		if clearErr := m.store.Clear(ctx); clearErr != nil {
			return nil, fmt.Errorf("clear corrupt session: %w", clearErr)
		}
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("restore session: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	s := rec.User
	m.current = &s
	m.generation++
	m.api.SetToken(rec.Token)

	m.logger.Info("Session restored",
		util.String("user_id", s.ID),
		util.String("country", s.Country),
	)
	out := s
	return &out, nil
}

// RequestOTP asks the API to deliver a one-time code to target (phone or
// email) and opens a pending challenge. An existing challenge for any
// target enforces the resend cooldown. Session state is never touched.
func (m *Manager) RequestOTP(ctx context.Context, target string) (*model.PendingChallenge, error) {
	target = util.NormalizeTarget(target)
	if target == "" {
		return nil, ErrEmptyTarget
	}

	m.mu.Lock()
	if c := m.challenge; c != nil && c.Target == target && !c.CanResend(m.now()) {
		m.mu.Unlock()
		return nil, ErrResendCooldown
	}
	m.mu.Unlock()

	if err := m.api.Login(ctx, target); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	m.challenge = &model.PendingChallenge{
		Target:      target,
		IssuedAt:    now,
		ResendAfter: now.Add(ResendCooldown),
	}
	m.logger.Info("OTP requested", util.String("target", target))
	c := *m.challenge
	return &c, nil
}

// Register creates an account and opens an OTP challenge for its phone
// number. Registration never establishes a session; the caller must follow
// up with VerifyOTP against the real server-issued code.
func (m *Manager) Register(ctx context.Context, reg *model.Registration) (*model.PendingChallenge, error) {
	reg.Phone = util.NormalizePhone(reg.Phone)
	if err := reg.Validate(); err != nil {
		return nil, &api.ValidationError{Message: err.Error()}
	}

	if err := m.api.Register(ctx, reg); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	m.challenge = &model.PendingChallenge{
		Target:      reg.Phone,
		IssuedAt:    now,
		ResendAfter: now.Add(ResendCooldown),
	}
	m.logger.Info("Account registered, OTP pending", util.String("phone", reg.Phone))
	c := *m.challenge
	return &c, nil
}

// VerifyOTP consumes the pending challenge. On success the server-issued
// token and user are persisted and the session is established; the parsed
// session is returned. On failure the typed error propagates and the
// challenge stays active so the caller can retry with another code.
func (m *Manager) VerifyOTP(ctx context.Context, target, code string) (*model.Session, error) {
	target = util.NormalizeTarget(target)
	if target == "" {
		return nil, ErrEmptyTarget
	}
	if !validOTP(code) {
		return nil, ErrInvalidCode
	}

	data, err := m.api.VerifyOTP(ctx, target, code)
	if err != nil {
		return nil, err
	}

	sess := m.sessionFromAPIUser(&data.User)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = &sess
	m.challenge = nil
	m.generation++
	m.api.SetToken(data.Token)

	// Storage write last, under the same lock that sequenced the state
	// change: token and user land together or not at all.
	if err := m.store.Save(ctx, &store.Record{Token: data.Token, User: sess}); err != nil {
		m.current = nil
		m.api.ClearToken()
		return nil, fmt.Errorf("persist session: %w", err)
	}

	m.logger.Info("OTP verified, session established",
		util.String("user_id", sess.ID),
		util.String("country", sess.Country),
	)
	out := sess
	return &out, nil
}

// UpdateSettings submits a partial profile update and merges the server's
// response into the session: response fields win, existing fields are the
// fallback. The merged record is re-persisted.
func (m *Manager) UpdateSettings(ctx context.Context, update *model.SettingsUpdate) (*model.Session, error) {
	if m.Current() == nil {
		return nil, ErrNotLoggedIn
	}
	if update.Phone != nil {
		normalized := util.NormalizePhone(*update.Phone)
		update.Phone = &normalized
	}

	user, err := m.api.UpdateSettings(ctx, update)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		// A concurrent 401 cleared the session while the update was in
		// flight; do not resurrect it.
		return nil, ErrNotLoggedIn
	}

	merged := mergeSession(*m.current, m.sessionFromAPIUser(user))
	m.current = &merged

	if err := m.store.Save(ctx, &store.Record{Token: m.api.Token(), User: merged}); err != nil {
		return nil, fmt.Errorf("persist updated session: %w", err)
	}

	m.logger.Info("Settings updated", util.String("user_id", merged.ID))
	out := merged
	return &out, nil
}

// Logout clears the session and both durable keys. It is idempotent:
// logging out while logged out is a no-op.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	m.loggingOut = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.loggingOut = false
		m.mu.Unlock()
	}()

	m.mu.Lock()
	m.current = nil
	m.challenge = nil
	m.api.ClearToken()
	err := m.store.Clear(ctx)
	m.mu.Unlock()

	if err != nil {
		return fmt.Errorf("clear session storage: %w", err)
	}
	m.logger.Info("Logged out")
	return nil
}

// handleUnauthorized is invoked by the API client on every 401. State is
// cleared exactly once per established session, no matter how many
// concurrent requests fail; later 401s from the same dead session are
// swallowed. It never navigates; it only clears and signals.
func (m *Manager) handleUnauthorized() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil || m.invalidatedGen == m.generation {
		return
	}
	m.invalidatedGen = m.generation

	userID := m.current.ID
	m.current = nil
	m.challenge = nil
	m.api.ClearToken()

	ctx, cancel := context.WithTimeout(context.Background(), clearTimeout)
	defer cancel()
	if err := m.store.Clear(ctx); err != nil {
		m.logger.Error("Failed to clear session storage after 401", util.ErrorField(err))
	}

	m.logger.Warn("Session invalidated by 401", util.String("user_id", userID))

	select {
	case m.expired <- struct{}{}:
	default:
	}
}

// sessionFromAPIUser maps the API's user record into the client session,
// inferring the country from the phone prefix and deriving the referral
// link.
func (m *Manager) sessionFromAPIUser(u *model.APIUser) model.Session {
	id := strconv.FormatInt(u.ID, 10)
	refID := u.Username
	if refID == "" {
		refID = id
	}
	return model.Session{
		ID:           id,
		FullName:     u.FullName(),
		Email:        u.Email,
		Phone:        u.Phone,
		GroupName:    u.GroupName,
		Country:      currency.CountryForPhone(u.Phone),
		Username:     u.Username,
		ReferralLink: referral.BuildLink(m.linkBase, refID),
	}
}

// mergeSession overlays next onto base field by field. Empty fields in next
// keep their existing values, so a partial settings response never wipes
// untouched fields.
func mergeSession(base, next model.Session) model.Session {
	merged := base
	if next.ID != "" && next.ID != "0" {
		merged.ID = next.ID
	}
	if next.FullName != "" {
		merged.FullName = next.FullName
	}
	if next.Email != "" {
		merged.Email = next.Email
	}
	if next.Phone != "" {
		merged.Phone = next.Phone
		merged.Country = currency.CountryForPhone(next.Phone)
	}
	if next.GroupName != "" {
		merged.GroupName = next.GroupName
	}
	if next.Username != "" {
		merged.Username = next.Username
	}
	if next.ReferralLink != "" {
		merged.ReferralLink = next.ReferralLink
	}
	return merged
}

func validOTP(code string) bool {
	if len(code) != 6 {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
