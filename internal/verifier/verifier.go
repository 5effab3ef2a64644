// Package verifier decides whether a voucher PIN is genuine and what it is
// worth by asking the issuer. Every implementation turns its own failures
// into a domain.VerificationResult; none of them returns an error.
package verifier

import (
	"context"

	"voucher_backend/internal/domain"
)

// Verifier checks one PIN against its issuer.
type Verifier interface {
	Verify(ctx context.Context, voucherType domain.VoucherType, pin string) domain.VerificationResult
}

// IssuerBacked is implemented by verifiers whose verdict comes from the
// issuer itself. Live startup refuses any binding that does not report true.
type IssuerBacked interface {
	Live() bool
}

// Func adapts a plain function to Verifier.
type Func func(ctx context.Context, voucherType domain.VoucherType, pin string) domain.VerificationResult

func (f Func) Verify(ctx context.Context, voucherType domain.VoucherType, pin string) domain.VerificationResult {
	return f(ctx, voucherType, pin)
}

// Credentials is the operator account a provider logs in with.
type Credentials struct {
	Username string
	Password string
}

func (c Credentials) Complete() bool {
	return c.Username != "" && c.Password != ""
}
