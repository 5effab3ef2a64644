package verifier

import (
	"context"
	"errors"
	"strings"
	"testing"

	"voucher_backend/internal/domain"
)

type namedVerifier string

func (n namedVerifier) Verify(context.Context, domain.VoucherType, string) domain.VerificationResult {
	return domain.VerificationResult{Message: string(n)}
}

func (namedVerifier) Live() bool { return true }

func liveBindings() map[domain.Provider]Verifier {
	m := map[domain.Provider]Verifier{}
	for _, p := range domain.Providers {
		m[p] = namedVerifier(p)
	}
	return m
}

func TestFactoryResolveCatalogue(t *testing.T) {
	f := NewFactory(liveBindings(), FactoryOptions{Logger: quietLogger()})
	for _, info := range domain.Catalogue() {
		v, err := f.Resolve(info.Type)
		if info.Provider == domain.ProviderNone {
			if !errors.Is(err, ErrUnregisteredType) {
				t.Fatalf("%s: expected ErrUnregisteredType, got %v", info.Type, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: %v", info.Type, err)
		}
		if got := v.Verify(context.Background(), info.Type, "").Message; got != string(info.Provider) {
			t.Fatalf("%s resolved to %s, want %s", info.Type, got, info.Provider)
		}
	}
}

func TestFactoryGetKeywordOrder(t *testing.T) {
	f := NewFactory(liveBindings(), FactoryOptions{Logger: quietLogger()})
	cases := map[string]domain.Provider{
		"culture_land":        domain.ProviderCultureLand,
		"happy money voucher": domain.ProviderHappyMoney,
		"TEENCASH":            domain.ProviderTeencash,
		"google play":         domain.ProviderGoogle,
		"starbucks":           domain.ProviderStarbucks,
		"LOTTE_GIFT":          domain.ProviderLotte,
		"shinsegae":           domain.ProviderShinsegae,
		"bookpin":             domain.ProviderBooknLife,
		// CULTURE precedes BOOK in the order.
		"CULTURE_BOOK": domain.ProviderCultureLand,
	}
	for raw, want := range cases {
		got := f.Get(raw).Verify(context.Background(), "", "").Message
		if got != string(want) {
			t.Errorf("Get(%q) = %s, want %s", raw, got, want)
		}
	}
}

func TestFactoryGetIsTotal(t *testing.T) {
	strict := NewFactory(liveBindings(), FactoryOptions{Logger: quietLogger()})
	degraded := NewFactory(liveBindings(), FactoryOptions{Degraded: true, Logger: quietLogger()})

	for _, raw := range []string{"", "XYZ_UNKNOWN", "NAVER_PAY", "   "} {
		for name, f := range map[string]*Factory{"strict": strict, "degraded": degraded} {
			v := f.Get(raw)
			if v == nil {
				t.Fatalf("%s Get(%q) returned nil", name, raw)
			}
			res := v.Verify(context.Background(), domain.VoucherType(raw), "ABCDEFGHIJKL")
			if name == "strict" && (res.IsValid || res.Outcome != domain.OutcomeRejected) {
				t.Fatalf("strict Get(%q) should refuse, got %+v", raw, res)
			}
			if name == "degraded" && !res.IsValid {
				t.Fatalf("degraded Get(%q) should fall back to mock, got %+v", raw, res)
			}
		}
	}
}

func TestAssertLive(t *testing.T) {
	f := NewFactory(liveBindings(), FactoryOptions{Logger: quietLogger()})
	if err := f.AssertLive(LiveTypes()); err != nil {
		t.Fatalf("all live types bound, got %v", err)
	}

	bindings := liveBindings()
	delete(bindings, domain.ProviderStarbucks)
	bindings[domain.ProviderGoogle] = &Mock{}
	err := NewFactory(bindings, FactoryOptions{Logger: quietLogger()}).AssertLive(LiveTypes())
	if !errors.Is(err, ErrUnregisteredType) {
		t.Fatalf("expected unregistered error, got %v", err)
	}
	if !strings.Contains(err.Error(), "GOOGLE_GIFT is bound to the mock verifier") {
		t.Fatalf("mock binding not reported: %v", err)
	}

	mock := NewMockFactory(&Mock{}, quietLogger())
	if err := mock.AssertLive(LiveTypes()); err == nil {
		t.Fatal("mock factory must not pass the live assertion")
	}
}

func TestAssertLiveRefusesRuleBasedVerifiers(t *testing.T) {
	bindings := liveBindings()
	bindings[domain.ProviderHappyMoney] = &HappyMoney{}
	f := NewFactory(bindings, FactoryOptions{Logger: quietLogger()})

	err := f.AssertLive(LiveTypes())
	if err == nil {
		t.Fatal("rule-based happy money binding passed the live assertion")
	}
	for _, vt := range []string{"HAPPY_MONEY", "HAPPY_EXCH"} {
		if !strings.Contains(err.Error(), vt+" is bound to *verifier.HappyMoney") {
			t.Errorf("%s not reported: %v", vt, err)
		}
	}

	bindings[domain.ProviderGoogle] = Func(func(context.Context, domain.VoucherType, string) domain.VerificationResult {
		return domain.VerificationResult{IsValid: true, FaceValue: 1, Outcome: domain.OutcomeConfirmed}
	})
	err = NewFactory(bindings, FactoryOptions{Logger: quietLogger()}).AssertLive([]domain.VoucherType{domain.VoucherGoogleGift})
	if err == nil {
		t.Fatal("plain Func binding passed the live assertion")
	}

	bindings[domain.ProviderGoogle] = NewPortalVerifier(GooglePortal(), Credentials{}, nil, PortalOptions{Logger: quietLogger()})
	err = NewFactory(bindings, FactoryOptions{Logger: quietLogger()}).AssertLive([]domain.VoucherType{domain.VoucherGoogleGift})
	if err != nil {
		t.Fatalf("portal binding refused: %v", err)
	}
}

func TestDisabledTypes(t *testing.T) {
	bindings := liveBindings()
	delete(bindings, domain.ProviderHappyMoney)
	f := NewFactory(bindings, FactoryOptions{
		Disabled: []domain.VoucherType{domain.VoucherHappyMoney, domain.VoucherHappyExch},
		Logger:   quietLogger(),
	})

	if err := f.AssertLive(LiveTypes()); err != nil {
		t.Fatalf("disabled types must be skipped, got %v", err)
	}
	if _, err := f.Resolve(domain.VoucherHappyMoney); !errors.Is(err, ErrUnregisteredType) {
		t.Fatalf("expected disabled type to be unregistered, got %v", err)
	}
	if _, err := f.Resolve(domain.VoucherCultureLand); err != nil {
		t.Fatalf("enabled type: %v", err)
	}
	if err := f.Accepts(domain.VoucherHappyExch); !errors.Is(err, ErrUnregisteredType) {
		t.Fatalf("disabled type accepted: %v", err)
	}
	res := f.Get(string(domain.VoucherHappyMoney)).Verify(context.Background(), domain.VoucherHappyMoney, "1234-5678-1234")
	if res.Outcome != domain.OutcomeRejected {
		t.Fatalf("disabled type must be refused, got %+v", res)
	}
}

func TestFactoryAccepts(t *testing.T) {
	bindings := liveBindings()
	delete(bindings, domain.ProviderHappyMoney)

	strict := NewFactory(bindings, FactoryOptions{Logger: quietLogger()})
	if err := strict.Accepts(domain.VoucherCultureLand); err != nil {
		t.Fatalf("bound type: %v", err)
	}
	if err := strict.Accepts(domain.VoucherHappyMoney); !errors.Is(err, ErrUnregisteredType) {
		t.Fatalf("unbound type accepted in strict mode: %v", err)
	}
	if err := strict.Accepts(domain.VoucherNaverPay); !errors.Is(err, ErrUnregisteredType) {
		t.Fatalf("providerless type accepted: %v", err)
	}

	degraded := NewFactory(bindings, FactoryOptions{
		Degraded: true,
		Disabled: []domain.VoucherType{domain.VoucherHappyExch},
		Logger:   quietLogger(),
	})
	if err := degraded.Accepts(domain.VoucherHappyMoney); err != nil {
		t.Fatalf("degraded factory must take unbound issuer types: %v", err)
	}
	if err := degraded.Accepts(domain.VoucherHappyExch); !errors.Is(err, ErrUnregisteredType) {
		t.Fatalf("disabled type accepted while degraded: %v", err)
	}
	if err := degraded.Accepts(domain.VoucherNaverPay); !errors.Is(err, ErrUnregisteredType) {
		t.Fatalf("providerless type accepted while degraded: %v", err)
	}
}

func TestLiveTypesExcludeUnboundCatalogue(t *testing.T) {
	for _, vt := range LiveTypes() {
		if vt == domain.VoucherNaverPay {
			t.Fatal("NAVER_PAY has no provider and must not be live")
		}
	}
}
