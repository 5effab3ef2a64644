package verifier

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"voucher_backend/internal/domain"
	"voucher_backend/internal/pinformat"
)

// MockFaceValue is what the mock verifier reports for every valid PIN.
const MockFaceValue int64 = 50000

// Mock is a deterministic stand-in for the issuer portals. PINs ending in
// 0000 are already used, PINs ending in 9999 do not exist, everything else is
// worth MockFaceValue.
type Mock struct {
	Delay  time.Duration
	Logger *slog.Logger
}

func (m *Mock) Verify(ctx context.Context, voucherType domain.VoucherType, pin string) domain.VerificationResult {
	if m.Logger != nil {
		m.Logger.Debug("mock verification", "type", string(voucherType), "pin", pinformat.Mask(pin))
	}
	if err := sleepCtx(ctx, m.Delay); err != nil {
		return domain.Failed(err.Error())
	}
	switch {
	case strings.HasSuffix(pin, "0000"):
		return domain.Rejected("이미 사용된 핀번호입니다. (Code: 201)")
	case strings.HasSuffix(pin, "9999"):
		return domain.Rejected("유효하지 않은 핀번호 형식입니다. (Code: 404)")
	}
	return domain.VerificationResult{
		IsValid:       true,
		FaceValue:     MockFaceValue,
		Message:       "정상",
		TransactionID: "MOCK-" + strings.ToUpper(uuid.NewString()[:8]),
		Outcome:       domain.OutcomeConfirmed,
	}
}

// HappyMoney applies the issuer's PIN rules without contacting it: a 16 digit
// PIN is required and the 9999 range is void. It is not IssuerBacked, so live
// startup refuses it; it serves mock and degraded runs only.
type HappyMoney struct {
	Delay time.Duration
}

func (h *HappyMoney) Verify(ctx context.Context, _ domain.VoucherType, pin string) domain.VerificationResult {
	if err := sleepCtx(ctx, h.Delay); err != nil {
		return domain.Failed(err.Error())
	}
	digits := pinformat.Digits(pin)
	if len(digits) < 16 {
		return domain.Rejected("해피머니 핀번호 형식이 올바르지 않습니다.")
	}
	if strings.HasSuffix(digits, "9999") {
		return domain.Rejected("유효하지 않은 상품권입니다. (Code: H-404)")
	}
	return domain.VerificationResult{
		IsValid:       true,
		FaceValue:     MockFaceValue,
		Message:       "정상 (Happy Money)",
		TransactionID: "HM-" + strings.ToUpper(uuid.NewString()[:8]),
		Outcome:       domain.OutcomeConfirmed,
	}
}
