// Package app assembles the service from configuration. Both the HTTP server
// and the operator CLI build their dependencies through it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"voucher_backend/internal/browser"
	"voucher_backend/internal/config"
	"voucher_backend/internal/domain"
	"voucher_backend/internal/events"
	"voucher_backend/internal/fraud"
	"voucher_backend/internal/payout"
	"voucher_backend/internal/repository"
	"voucher_backend/internal/usecase"
	"voucher_backend/internal/verifier"
)

type App struct {
	Repo      *repository.SQLiteRepo
	Service   *usecase.Service
	Verifiers *verifier.Factory
	Events    events.Publisher

	rdb    *redis.Client
	logger *slog.Logger
}

// Build opens storage and external clients and wires the service.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	a := &App{logger: logger}

	repo, err := repository.NewSQLiteRepo(cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	a.Repo = repo

	if cfg.Fraud.Mode == "redis" {
		a.rdb = redis.NewClient(&redis.Options{Addr: cfg.Fraud.RedisAddr})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := a.rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("redis %s: %w", cfg.Fraud.RedisAddr, err)
		}
	}

	gate, err := a.buildGate(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Verifiers, err = a.buildVerifiers(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	var exec interface {
		payout.Executor
		payout.HolderLookup
	}
	if cfg.Payout.Mode == "live" {
		exec = payout.NewPortOne(payout.PortOneConfig{
			BaseURL:      cfg.Payout.BaseURL,
			TransferPath: cfg.Payout.TransferPath,
			APIKey:       cfg.Payout.APIKey,
			APISecret:    cfg.Payout.APISecret,
			Timeout:      cfg.Payout.Timeout,
			Logger:       logger,
		})
	} else {
		logger.Warn("payout running in mock mode, no money will move")
		exec = &payout.Mock{}
	}

	if len(cfg.Events.Brokers) > 0 {
		a.Events = events.NewKafka(cfg.Events.Brokers, cfg.Events.Topic, logger)
	} else {
		a.Events = &events.Log{Logger: logger}
	}

	rates, err := cfg.BuyRates()
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Service = usecase.NewService(usecase.Deps{
		Repo:      repo,
		Verifiers: a.Verifiers,
		Payouts:   exec,
		Holders:   exec,
		Gate:      gate,
		Events:    a.Events,
		Logger:    logger,
	}, usecase.Options{
		Rates:         rates,
		TransferFee:   cfg.Payout.TransferFee,
		VerifyTimeout: cfg.Verifier.Timeout,
		PayoutTimeout: cfg.Payout.Timeout,
		Retries:       cfg.Verifier.Retries,
		RetryDelay:    cfg.Verifier.RetryDelay,
	})
	return a, nil
}

func (a *App) buildGate(ctx context.Context, cfg config.Config) (fraud.Gate, error) {
	if a.rdb == nil {
		return fraud.NewStatic(cfg.Fraud.Blacklist, cfg.Fraud.RiskyIPs), nil
	}

	g := fraud.NewRedis(a.rdb, cfg.Fraud.IPWindow, cfg.Fraud.IPThreshold)
	// configured entries are seeded under both kinds; a phone number never
	// collides with an account number in practice
	for _, id := range cfg.Fraud.Blacklist {
		if err := g.Add(ctx, id, fraud.KindPhone); err != nil {
			return nil, fmt.Errorf("seed blacklist: %w", err)
		}
		if err := g.Add(ctx, id, fraud.KindAccount); err != nil {
			return nil, fmt.Errorf("seed blacklist: %w", err)
		}
	}
	for _, ip := range cfg.Fraud.RiskyIPs {
		if err := g.FlagIP(ctx, ip); err != nil {
			return nil, fmt.Errorf("seed risky ips: %w", err)
		}
	}
	return g, nil
}

func (a *App) buildVerifiers(cfg config.Config) (*verifier.Factory, error) {
	if cfg.Verifier.Mode == "mock" {
		a.logger.Warn("verifier running in mock mode, PINs are not checked against issuers")
		return verifier.NewMockFactory(&verifier.Mock{Delay: cfg.Verifier.MockDelay, Logger: a.logger}, a.logger), nil
	}

	var limiter verifier.Limiter = verifier.NewLocalLimiter(cfg.Verifier.Concurrency)
	if a.rdb != nil {
		// shared across replicas; the ttl releases slots held by a crashed process
		limiter = verifier.NewRedisLimiter(a.rdb, cfg.Verifier.Concurrency, 2*cfg.Verifier.Timeout, a.logger)
	}
	launcher := &browser.Launcher{
		Headless:  cfg.Verifier.Headless,
		ExecPath:  cfg.Verifier.ChromePath,
		OpTimeout: cfg.Verifier.Timeout,
		Logger:    a.logger,
	}

	disabled, err := cfg.DisabledTypes()
	if err != nil {
		return nil, err
	}

	byProvider := map[domain.Provider]verifier.Verifier{}
	if cfg.Verifier.Degraded {
		// no issuer flow exists for happy money; its rule check is only
		// acceptable when the operator has opted out of strict verification
		byProvider[domain.ProviderHappyMoney] = &verifier.HappyMoney{}
	}
	for p, portal := range verifier.Portals() {
		c := cfg.Verifier.Credentials[string(p)]
		creds := verifier.Credentials{Username: c.Username, Password: c.Password}
		if !creds.Complete() {
			a.logger.Warn("provider has no credentials, leaving it unbound", "provider", string(p))
			continue
		}
		byProvider[p] = verifier.NewPortalVerifier(portal, creds, launcher, verifier.PortalOptions{
			Limiter:     limiter,
			SettleDelay: cfg.Verifier.SettleDelay,
			Logger:      a.logger,
		})
	}

	f := verifier.NewFactory(byProvider, verifier.FactoryOptions{
		Degraded: cfg.Verifier.Degraded,
		Disabled: disabled,
		Logger:   a.logger,
	})
	if cfg.Verifier.Degraded {
		a.logger.Warn("verifier factory is degraded, unbound types fall back to the mock")
		return f, nil
	}
	if err := f.AssertLive(verifier.LiveTypes()); err != nil {
		return nil, err
	}
	return f, nil
}

// Close releases everything Build opened.
func (a *App) Close() error {
	var errs []error
	if a.Events != nil {
		errs = append(errs, a.Events.Close())
	}
	if a.rdb != nil {
		errs = append(errs, a.rdb.Close())
	}
	if a.Repo != nil {
		errs = append(errs, a.Repo.Close())
	}
	return errors.Join(errs...)
}
