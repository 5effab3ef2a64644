// Package payout moves money to the customer's bank account and looks up
// account holders.
package payout

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"voucher_backend/internal/domain"
)

// Executor performs one transfer. Like verifiers, executors report failure in
// the result instead of returning an error.
type Executor interface {
	Execute(ctx context.Context, req domain.PayoutRequest) domain.PayoutResult
}

// HolderLookup returns the registered holder name of an account.
type HolderLookup interface {
	VerifyHolder(ctx context.Context, bank, accountNumber string) (string, error)
}

var (
	ErrUnsupportedBank = errors.New("지원되지 않는 금융기관 코드입니다.")
	ErrNotConfigured   = errors.New("payout credentials not configured")
)

// Mock succeeds for every account except the literal "INVALID".
type Mock struct {
	Delay  time.Duration
	Logger *slog.Logger
}

func (m *Mock) Execute(ctx context.Context, req domain.PayoutRequest) domain.PayoutResult {
	if m.Logger != nil {
		m.Logger.Info("mock payout", "transaction", req.TransactionID, "bank", req.BankName, "amount", req.Amount)
	}
	if m.Delay > 0 {
		select {
		case <-ctx.Done():
			return domain.PayoutResult{Error: ctx.Err().Error()}
		case <-time.After(m.Delay):
		}
	}
	if req.AccountNumber == "INVALID" {
		return domain.PayoutResult{Error: "계좌번호 오류"}
	}
	return domain.PayoutResult{Success: true, TxID: "PAY-" + strings.ToUpper(uuid.NewString()[:8])}
}

func (m *Mock) VerifyHolder(_ context.Context, bank, accountNumber string) (string, error) {
	if _, ok := LookupBank(bank); !ok {
		return "", ErrUnsupportedBank
	}
	if accountNumber == "INVALID" {
		return "", errors.New("예금주 조회에 실패했습니다.")
	}
	return "홍길동", nil
}
