// Package referral owns the read-mostly referral data shown across the
// dashboard, transactions, and withdrawal views: the analytics snapshot,
// the paginated activity feed and transaction history, and the withdrawal
// history with its single mutating operation.
package referral

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"referral-client/internal/api"
	"referral-client/internal/currency"
	"referral-client/internal/model"
	"referral-client/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

var (
	ErrBelowMinimum        = errors.New("amount is below the minimum withdrawal")
	ErrInsufficientBalance = errors.New("amount exceeds the available balance")
	ErrMissingPayee        = errors.New("payee details are incomplete")
	ErrMethodUnavailable   = errors.New("withdrawal method not available in this country")
	ErrNoMorePages         = errors.New("no more transaction pages")
)

// resource tracks monotonic tickets for one replace-style fetch target.
// Responses that resolve after a newer fetch has already applied are
// discarded instead of clobbering fresher data.
type resource struct {
	next    uint64
	applied uint64
}

func (r *resource) ticket() uint64 {
	return atomic.AddUint64(&r.next, 1)
}

// tryApply reports whether a response holding ticket t is still current.
// Must be called with the manager lock held.
func (r *resource) tryApply(t uint64) bool {
	if t <= r.applied {
		return false
	}
	r.applied = t
	return true
}

// Manager fetches and caches referral data. Fetches never touch durable
// storage; everything here is rebuilt from the API on demand.
type Manager struct {
	api    *api.Client
	logger *zap.Logger

	mu           sync.Mutex
	analytics    *model.AnalyticsSnapshot
	activity     []model.ActivityEntry
	activityMeta model.Pagination
	withdrawals  []model.WithdrawalRequest
	lastError    string

	// Transactions use the append ("load more") policy: pages accumulate,
	// the page counter only moves forward, and txMu serializes loads so two
	// concurrent calls cannot append the same page twice.
	txMu      sync.Mutex
	txList    []model.Transaction
	txSeen    map[string]struct{}
	txPage    int
	txHasMore bool

	analyticsRes  resource
	activityRes   resource
	withdrawalRes resource

	inflight int64
	group    singleflight.Group
	now      func() time.Time
}

// NewManager creates a referral data manager on top of the API client.
func NewManager(client *api.Client, logger *zap.Logger) *Manager {
	return &Manager{
		api:       client,
		logger:    logger,
		txSeen:    make(map[string]struct{}),
		txHasMore: true,
		now:       time.Now,
	}
}

// IsLoading reports whether any fetch is in flight.
func (m *Manager) IsLoading() bool {
	return atomic.LoadInt64(&m.inflight) > 0
}

// LastError returns the message of the most recent failed fetch. It is
// cleared by the next successful call of any kind.
func (m *Manager) LastError() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastError
}

func (m *Manager) begin() {
	atomic.AddInt64(&m.inflight, 1)
}

func (m *Manager) end(err error) {
	atomic.AddInt64(&m.inflight, -1)
	m.mu.Lock()
	if err != nil {
		m.lastError = err.Error()
	} else {
		m.lastError = ""
	}
	m.mu.Unlock()
}

// -------------------- analytics --------------------

// Analytics returns the current snapshot, or nil before the first
// successful fetch.
func (m *Manager) Analytics() *model.AnalyticsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.analytics == nil {
		return nil
	}
	snap := *m.analytics
	return &snap
}

// RefreshAnalytics fetches the analytics snapshot and replaces it in full.
// Concurrent callers share one request. On failure the previous snapshot is
// preserved (stale-but-available) and the error is surfaced.
func (m *Manager) RefreshAnalytics(ctx context.Context) (*model.AnalyticsSnapshot, error) {
	ticket := m.analyticsRes.ticket()
	m.begin()

	v, err, _ := m.group.Do("analytics", func() (interface{}, error) {
		return m.api.DashboardAnalytics(ctx)
	})
	m.end(err)
	if err != nil {
		m.logger.Warn("Analytics refresh failed, keeping stale snapshot", util.ErrorField(err))
		return nil, err
	}

	snap := model.SnapshotFromMetrics(v.([]model.AnalyticsMetric), m.now())

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.analyticsRes.tryApply(ticket) {
		out := *m.analytics
		return &out, nil
	}
	m.analytics = &snap

	m.logger.Debug("Analytics refreshed",
		util.Float64("total_referrals", snap.TotalReferrals.Value),
		util.Float64("total_points", snap.TotalPoints.Value),
	)
	out := snap
	return &out, nil
}

// AvailablePoints is the point balance from the last analytics snapshot.
func (m *Manager) AvailablePoints() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.analytics == nil {
		return 0
	}
	return int64(m.analytics.TotalPoints.Value)
}

// -------------------- activity feed --------------------

// Activity returns the current activity page and its pagination cursors.
func (m *Manager) Activity() ([]model.ActivityEntry, model.Pagination) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.ActivityEntry, len(m.activity))
	copy(out, m.activity)
	return out, m.activityMeta
}

// RefreshActivityFeed fetches one page of the activity feed and replaces
// the visible list and cursors. Stale responses from older calls are
// discarded.
func (m *Manager) RefreshActivityFeed(ctx context.Context, page int) error {
	if page < 1 {
		page = 1
	}
	ticket := m.activityRes.ticket()
	m.begin()

	result, err := m.api.ActivityFeed(ctx, page)
	m.end(err)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.activityRes.tryApply(ticket) {
		return nil
	}
	m.activity = result.Items
	m.activityMeta = result.Meta
	return nil
}

// -------------------- transactions --------------------

// Transactions returns the accumulated transaction list.
func (m *Manager) Transactions() []model.Transaction {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	out := make([]model.Transaction, len(m.txList))
	copy(out, m.txList)
	return out
}

// HasMoreTransactions reports whether another page can be loaded.
func (m *Manager) HasMoreTransactions() bool {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	return m.txHasMore
}

// FetchMoreTransactions loads the next transaction page and appends it to
// the accumulated list. The page counter is monotonic and duplicate IDs
// across pages are dropped, so the list length always equals the sum of
// distinct records returned. Returns ErrNoMorePages once exhausted.
func (m *Manager) FetchMoreTransactions(ctx context.Context) ([]model.Transaction, error) {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	if !m.txHasMore {
		return nil, ErrNoMorePages
	}

	page := m.txPage + 1
	m.begin()
	result, err := m.api.Transactions(ctx, page)
	m.end(err)
	if err != nil {
		return nil, err
	}

	for _, tx := range result.Items {
		if _, dup := m.txSeen[tx.ID]; dup {
			continue
		}
		m.txSeen[tx.ID] = struct{}{}
		m.txList = append(m.txList, tx)
	}
	m.txPage = page
	m.txHasMore = result.Meta.HasMore()

	m.logger.Debug("Transactions page loaded",
		util.Int("page", page),
		util.Int("total_loaded", len(m.txList)),
		util.Bool("has_more", m.txHasMore),
	)

	out := make([]model.Transaction, len(m.txList))
	copy(out, m.txList)
	return out, nil
}

// ResetTransactions discards the accumulated list so the next fetch starts
// over from page one.
func (m *Manager) ResetTransactions() {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	m.txList = nil
	m.txSeen = make(map[string]struct{})
	m.txPage = 0
	m.txHasMore = true
}

// -------------------- withdrawals --------------------

// Withdrawals returns the current withdrawal history, newest first.
func (m *Manager) Withdrawals() []model.WithdrawalRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.WithdrawalRequest, len(m.withdrawals))
	copy(out, m.withdrawals)
	return out
}

// RefreshWithdrawals fetches the full withdrawal history. This path is not
// paginated.
func (m *Manager) RefreshWithdrawals(ctx context.Context) error {
	ticket := m.withdrawalRes.ticket()
	m.begin()

	list, err := m.api.WithdrawalRequests(ctx)
	m.end(err)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.withdrawalRes.tryApply(ticket) {
		return nil
	}
	m.withdrawals = list
	return nil
}

// WithdrawalInput is what a caller supplies to request a cash-out. The
// point cost is computed here, not by the caller.
type WithdrawalInput struct {
	Country      string
	Amount       float64
	Method       string
	PayeeName    string
	PayeeAccount string
	BankName     string
}

// RequestWithdrawal validates the input against the currency rules and the
// available balance, then submits it with a client-generated idempotency
// key. Validation failures reject before any network call; the request is
// never auto-retried. On success the server's record is prepended to the
// withdrawal history.
func (m *Manager) RequestWithdrawal(ctx context.Context, input *WithdrawalInput) (*model.WithdrawalRequest, error) {
	info, err := currency.Lookup(input.Country)
	if err != nil {
		return nil, err
	}

	// The balance check needs a point total; refresh it if the dashboard
	// was never mounted. This read may hit the network, the withdrawal POST
	// itself still only happens after validation passes.
	if m.Analytics() == nil {
		if _, err := m.RefreshAnalytics(ctx); err != nil {
			return nil, fmt.Errorf("fetch balance before withdrawal: %w", err)
		}
	}

	if err := m.validateWithdrawal(input, info); err != nil {
		return nil, err
	}

	req := &model.WithdrawalRequest{
		IdempotencyKey: uuid.NewString(),
		Currency:       info.Code,
		Amount:         input.Amount,
		Points:         info.PointsNeeded(input.Amount),
		Method:         input.Method,
		PayeeName:      input.PayeeName,
		PayeeAccount:   input.PayeeAccount,
		BankName:       input.BankName,
	}

	m.begin()
	created, err := m.api.CreateWithdrawal(ctx, req)
	m.end(err)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.withdrawals = append([]model.WithdrawalRequest{*created}, m.withdrawals...)
	m.mu.Unlock()

	m.logger.Info("Withdrawal submitted",
		util.String("id", created.ID),
		util.String("currency", created.Currency),
		util.Float64("amount", created.Amount),
	)
	return created, nil
}

func (m *Manager) validateWithdrawal(input *WithdrawalInput, info currency.Info) error {
	if input.Amount < info.MinWithdrawal() {
		return fmt.Errorf("%w: minimum is %s", ErrBelowMinimum, info.Format(info.MinWithdrawal()))
	}
	if balance := info.CashValue(m.AvailablePoints()); input.Amount > balance {
		return fmt.Errorf("%w: available is %s", ErrInsufficientBalance, info.Format(balance))
	}

	switch input.Method {
	case model.MethodBank:
		if input.PayeeName == "" || input.PayeeAccount == "" || input.BankName == "" {
			return fmt.Errorf("%w: bank withdrawals need payee name, account and bank", ErrMissingPayee)
		}
	case model.MethodMobileMoney:
		if !info.MobileMoney {
			return fmt.Errorf("%w: mobile money is not supported in %s", ErrMethodUnavailable, info.Country)
		}
		if input.PayeeAccount == "" {
			return fmt.Errorf("%w: mobile money withdrawals need a mobile number", ErrMissingPayee)
		}
	default:
		return fmt.Errorf("%w: unknown method %q", ErrMissingPayee, input.Method)
	}
	return nil
}

// -------------------- bulk refresh --------------------

// RefreshAll fans out the dashboard's initial fetches concurrently:
// analytics, the first activity page, and the withdrawal history. The first
// error cancels the rest.
func (m *Manager) RefreshAll(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		_, err := m.RefreshAnalytics(ctx)
		return err
	})
	g.Go(func() error {
		return m.RefreshActivityFeed(ctx, 1)
	})
	g.Go(func() error {
		return m.RefreshWithdrawals(ctx)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("refresh referral data: %w", err)
	}
	return nil
}
