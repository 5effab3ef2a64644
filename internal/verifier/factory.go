package verifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"voucher_backend/internal/domain"
)

// ErrUnregisteredType means no verifier is bound to a voucher type.
var ErrUnregisteredType = errors.New("unregistered voucher type")

// keywordOrder is the resolution order for free-form type strings; the first
// keyword contained in the input wins.
var keywordOrder = []struct {
	keyword  string
	provider domain.Provider
}{
	{"CULTURE", domain.ProviderCultureLand},
	{"HAPPY", domain.ProviderHappyMoney},
	{"TEEN", domain.ProviderTeencash},
	{"GOOGLE", domain.ProviderGoogle},
	{"STARBUCKS", domain.ProviderStarbucks},
	{"LOTTE", domain.ProviderLotte},
	{"SHINSEGAE", domain.ProviderShinsegae},
	{"BOOK", domain.ProviderBooknLife},
}

// Factory maps voucher types to verifiers.
type Factory struct {
	byProvider map[domain.Provider]Verifier
	// degraded routes unknown types to the mock verifier instead of refusing
	// them. It is an explicit operator choice, never the default.
	degraded bool
	disabled map[domain.VoucherType]bool
	mock     Verifier
	logger   *slog.Logger
}

type FactoryOptions struct {
	Degraded bool
	// Disabled types are not purchasable and are skipped by AssertLive.
	Disabled []domain.VoucherType
	Logger   *slog.Logger
}

func NewFactory(byProvider map[domain.Provider]Verifier, opts FactoryOptions) *Factory {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	m := make(map[domain.Provider]Verifier, len(byProvider))
	for p, v := range byProvider {
		m[p] = v
	}
	disabled := make(map[domain.VoucherType]bool, len(opts.Disabled))
	for _, t := range opts.Disabled {
		disabled[t] = true
	}
	return &Factory{byProvider: m, degraded: opts.Degraded, disabled: disabled, mock: &Mock{}, logger: opts.Logger}
}

// NewMockFactory binds every provider to the same mock verifier.
func NewMockFactory(mock *Mock, logger *slog.Logger) *Factory {
	m := make(map[domain.Provider]Verifier, len(domain.Providers))
	for _, p := range domain.Providers {
		m[p] = mock
	}
	f := NewFactory(m, FactoryOptions{Logger: logger})
	f.mock = mock
	return f
}

// Resolve returns the verifier bound to a catalogue type.
func (f *Factory) Resolve(voucherType domain.VoucherType) (Verifier, error) {
	info, ok := domain.Lookup(voucherType)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnregisteredType, voucherType)
	}
	if f.disabled[voucherType] {
		return nil, fmt.Errorf("%w: %s is disabled", ErrUnregisteredType, voucherType)
	}
	v, ok := f.byProvider[info.Provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s has no provider binding", ErrUnregisteredType, voucherType)
	}
	return v, nil
}

// Accepts reports whether purchases of a catalogue type can be taken: the type
// must resolve, or be unbound with an issuer provider while degraded.
// Disabled types are never accepted.
func (f *Factory) Accepts(voucherType domain.VoucherType) error {
	_, err := f.Resolve(voucherType)
	if err == nil || !f.degraded || f.disabled[voucherType] {
		return err
	}
	if info, ok := domain.Lookup(voucherType); ok && info.Provider != domain.ProviderNone {
		return nil
	}
	return err
}

// Get always returns a verifier. Catalogue types resolve directly; other
// strings are matched by keyword. Anything left over gets the mock in
// degraded mode and a refusing verifier otherwise.
func (f *Factory) Get(raw string) Verifier {
	if vt, ok := domain.ParseVoucherType(raw); ok {
		if f.disabled[vt] {
			f.logger.Error("voucher type is disabled", "type", raw)
			return unregistered(raw)
		}
		if v, err := f.Resolve(vt); err == nil {
			return v
		}
	}

	upper := strings.ToUpper(raw)
	for _, k := range keywordOrder {
		if !strings.Contains(upper, k.keyword) {
			continue
		}
		if v, ok := f.byProvider[k.provider]; ok {
			return v
		}
		break
	}

	if f.degraded {
		f.logger.Warn("DEGRADED MODE: unregistered voucher type routed to mock verifier", "type", raw)
		return f.mock
	}
	f.logger.Error("no verifier registered for voucher type", "type", raw)
	return unregistered(raw)
}

func unregistered(raw string) Verifier {
	return Func(func(context.Context, domain.VoucherType, string) domain.VerificationResult {
		return domain.Rejected(fmt.Sprintf("지원하지 않는 상품권 종류입니다: %s", raw))
	})
}

// AssertLive fails unless every listed type that is not disabled resolves to
// a verifier that asks the issuer. Live startup calls it so a missing or
// rule-based binding stops the process instead of accepting PINs unchecked.
func (f *Factory) AssertLive(types []domain.VoucherType) error {
	var errs []error
	for _, t := range types {
		if f.disabled[t] {
			continue
		}
		v, err := f.Resolve(t)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if _, isMock := v.(*Mock); isMock {
			errs = append(errs, fmt.Errorf("%s is bound to the mock verifier", t))
			continue
		}
		if ib, ok := v.(IssuerBacked); !ok || !ib.Live() {
			errs = append(errs, fmt.Errorf("%s is bound to %T, which does not query the issuer", t, v))
		}
	}
	return errors.Join(errs...)
}

// LiveTypes lists the catalogue types that have an issuer provider.
func LiveTypes() []domain.VoucherType {
	var out []domain.VoucherType
	for _, info := range domain.Catalogue() {
		if info.Provider != domain.ProviderNone {
			out = append(out, info.Type)
		}
	}
	return out
}
