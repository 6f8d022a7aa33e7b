// Package factory wires the client's dependencies together: config, logger,
// durable store, API client, and the two state managers.
package factory

import (
	"context"
	"fmt"
	"io"
	"sync"

	"referral-client/internal/api"
	"referral-client/internal/config"
	"referral-client/internal/referral"
	"referral-client/internal/session"
	"referral-client/internal/store"
	"referral-client/internal/util"
)

// Factory manages the lifecycle of all application dependencies.
type Factory struct {
	config *config.Config

	apiClient *api.Client
	store     store.Store

	sessionManager  *session.Manager
	referralManager *referral.Manager

	closeOnce sync.Once
}

// New loads configuration and initializes every dependency. The store
// backend is chosen by config; opening it may touch disk or the network
// (Redis), hence the context.
func New(ctx context.Context) (*Factory, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}

	f := &Factory{
		config:    cfg,
		store:     st,
		apiClient: api.NewClient(cfg.API.BaseURL, cfg.API.Timeout, util.Get()),
	}
	f.sessionManager = session.NewManager(f.apiClient, st, cfg.ReferralLinkBase, util.Get())
	f.referralManager = referral.NewManager(f.apiClient, util.Get())

	util.Info("Client initialized",
		util.String("environment", cfg.Environment),
		util.String("api_base_url", cfg.API.BaseURL),
		util.String("store_backend", cfg.Store.Backend),
	)

	return f, nil
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Backend {
	case config.StoreFile:
		return store.NewFileStore(cfg.Store.Path, cfg.Store.Passphrase), nil
	case config.StoreSQLite:
		return store.OpenSQLite(cfg.Store.DBPath, cfg.Store.Profile)
	case config.StoreRedis:
		return store.NewRedisStore(ctx, cfg.Store.RedisURL, cfg.Store.Namespace)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) APIClient() *api.Client {
	return f.apiClient
}

func (f *Factory) SessionManager() *session.Manager {
	return f.sessionManager
}

func (f *Factory) ReferralManager() *referral.Manager {
	return f.referralManager
}

// Close releases backends that hold connections and flushes the logger.
func (f *Factory) Close() error {
	var err error
	f.closeOnce.Do(func() {
		if closer, ok := f.store.(io.Closer); ok {
			if cerr := closer.Close(); cerr != nil {
				util.Error("Failed to close session store", util.ErrorField(cerr))
				err = cerr
			}
		}
		util.Sync()
	})
	return err
}
