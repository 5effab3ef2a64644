package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"voucher_backend/internal/config"
	"voucher_backend/internal/domain"
	"voucher_backend/internal/usecase"
	"voucher_backend/internal/verifier"
)

func testConfig() config.Config {
	return config.Config{
		Database: config.DatabaseConfig{DSN: "file::memory:"},
		Verifier: config.VerifierConfig{Mode: "mock", Timeout: time.Second, Concurrency: 1},
		Payout:   config.PayoutConfig{Mode: "mock", TransferFee: 500},
		Fraud: config.FraudConfig{
			Mode:        "static",
			IPWindow:    time.Minute,
			IPThreshold: 30,
			Blacklist:   []string{"010-0000-0000"},
			RiskyIPs:    []string{"192.168.0.100"},
		},
	}
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func purchase(phone, ip string) usecase.PurchaseInput {
	return usecase.PurchaseInput{
		CustomerName:  "김철수",
		CustomerPhone: phone,
		VoucherType:   string(domain.VoucherCultureLand),
		Pins:          []string{"1234-5678-1234-5678"},
		BankName:      "kakao",
		AccountNumber: "3333-01-1234567",
		AccountHolder: "김철수",
		ClientIP:      ip,
	}
}

func TestBuildMock(t *testing.T) {
	ctx := context.Background()
	a, err := Build(ctx, testConfig(), discard())
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	tx, err := a.Service.Submit(ctx, purchase("010-1234-5678", "10.0.0.1"))
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Service.Process(ctx, tx.ID); err != nil {
		t.Fatal(err)
	}
	got, _, err := a.Service.Transaction(ctx, tx.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.StatusCompleted || got.PayoutAmount != 44500 {
		t.Fatalf("status %s payout %d", got.Status, got.PayoutAmount)
	}

	if _, err := a.Service.Submit(ctx, purchase("01000000000", "10.0.0.1")); !errors.Is(err, usecase.ErrBlocked) {
		t.Fatalf("expected ErrBlocked, got %v", err)
	}
}

func TestBuildLiveRequiresCredentials(t *testing.T) {
	cfg := testConfig()
	cfg.Verifier.Mode = "live"

	if _, err := Build(context.Background(), cfg, discard()); err == nil {
		t.Fatal("expected live mode without credentials to fail")
	}

	cfg.Verifier.Degraded = true
	a, err := Build(context.Background(), cfg, discard())
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	if _, err := a.Verifiers.Resolve(domain.VoucherHappyMoney); err != nil {
		t.Fatalf("happy money must stay bound: %v", err)
	}
	v := a.Verifiers.Get(string(domain.VoucherCultureLand))
	if _, ok := v.(*verifier.Mock); !ok {
		t.Fatalf("degraded factory returned %T", v)
	}
}

func TestBuildLiveRefusesRuleBasedHappyMoney(t *testing.T) {
	cfg := testConfig()
	cfg.Verifier.Mode = "live"
	cfg.Verifier.Credentials = map[string]config.Credential{}
	for p := range verifier.Portals() {
		cfg.Verifier.Credentials[string(p)] = config.Credential{Username: "ops", Password: "secret"}
	}

	_, err := Build(context.Background(), cfg, discard())
	if err == nil || !strings.Contains(err.Error(), string(domain.VoucherHappyMoney)) {
		t.Fatalf("live build with happy money enabled: got %v", err)
	}

	cfg.Verifier.Disabled = []string{"HAPPY_MONEY", "HAPPY_EXCH"}
	a, err := Build(context.Background(), cfg, discard())
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	for _, vt := range []domain.VoucherType{domain.VoucherHappyMoney, domain.VoucherHappyExch} {
		if _, err := a.Service.Submit(context.Background(), usecase.PurchaseInput{VoucherType: string(vt), Pins: []string{"1234-5678-1234"}}); !errors.Is(err, verifier.ErrUnregisteredType) {
			t.Fatalf("%s purchasable while disabled: %v", vt, err)
		}
	}
	v, err := a.Verifiers.Resolve(domain.VoucherCultureLand)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := v.(*verifier.PortalVerifier); !ok {
		t.Fatalf("culture land bound to %T", v)
	}
}

func TestBuildRedisGate(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig()
	cfg.Fraud.Mode = "redis"
	cfg.Fraud.RedisAddr = mr.Addr()

	ctx := context.Background()
	a, err := Build(ctx, cfg, discard())
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	if _, err := a.Service.Submit(ctx, purchase("010-0000-0000", "10.0.0.1")); !errors.Is(err, usecase.ErrBlocked) {
		t.Fatalf("blacklisted phone: got %v", err)
	}
	if _, err := a.Service.Submit(ctx, purchase("010-1234-5678", "192.168.0.100")); !errors.Is(err, usecase.ErrBlocked) {
		t.Fatalf("flagged ip: got %v", err)
	}
	if _, err := a.Service.Submit(ctx, purchase("010-1234-5678", "10.0.0.2")); err != nil {
		t.Fatal(err)
	}
}

func TestBuildRedisUnreachable(t *testing.T) {
	cfg := testConfig()
	cfg.Fraud.Mode = "redis"
	cfg.Fraud.RedisAddr = "127.0.0.1:1"
	if _, err := Build(context.Background(), cfg, discard()); err == nil {
		t.Fatal("expected unreachable redis to fail")
	}
}
