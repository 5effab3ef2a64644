package usecase

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"

	"voucher_backend/internal/domain"
	"voucher_backend/internal/payout"
	"voucher_backend/internal/pinformat"
	"voucher_backend/internal/repository"
)

// VerifySingle checks one PIN without creating a transaction.
func (s *Service) VerifySingle(ctx context.Context, rawType, pin string) domain.VerificationResult {
	vt := domain.VoucherType(strings.ToUpper(strings.TrimSpace(rawType)))
	if parsed, ok := domain.ParseVoucherType(rawType); ok {
		vt = parsed
	}
	pin = strings.TrimSpace(pin)
	if !pinformat.ValidateFormat(vt, pin) {
		return domain.Rejected("핀번호 형식이 올바르지 않습니다.")
	}
	v := s.verifiers.Get(rawType)
	res := s.verify(context.WithoutCancel(ctx), v, vt, pin)
	s.logger.Info("single verification", "type", string(vt), "pin", pinformat.Mask(pin), "outcome", string(res.Outcome))
	return res
}

// VerifyHolder returns the registered holder of a bank account.
func (s *Service) VerifyHolder(ctx context.Context, bank, account string) (string, error) {
	if s.holders == nil {
		return "", payout.ErrNotConfigured
	}
	if _, ok := payout.LookupBank(bank); !ok {
		return "", payout.ErrUnsupportedBank
	}
	ctx, cancel := context.WithTimeout(ctx, s.payoutTimeout)
	defer cancel()
	return s.holders.VerifyHolder(ctx, bank, strings.TrimSpace(account))
}

// LookupOrders returns a customer's orders from the last year.
func (s *Service) LookupOrders(ctx context.Context, name, phone string) ([]domain.Transaction, error) {
	name = strings.TrimSpace(name)
	digits := pinformat.Digits(phone)
	if name == "" || digits == "" {
		return nil, errors.New("name and phone are required")
	}
	return s.repo.LookupOrders(ctx, name, digits, s.now().AddDate(-1, 0, 0))
}

// Transaction returns a transaction with items and status history.
func (s *Service) Transaction(ctx context.Context, id string) (*domain.Transaction, []domain.Event, error) {
	tx, err := s.repo.GetTransaction(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	history, err := s.repo.Events(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return tx, history, nil
}

func (s *Service) List(ctx context.Context, f repository.TxFilter, limit, offset int) ([]domain.Transaction, error) {
	return s.repo.ListTransactions(ctx, f, limit, offset)
}

type Rate struct {
	Type        domain.VoucherType `json:"type"`
	DisplayName string             `json:"displayName"`
	Rate        decimal.Decimal    `json:"rate"`
	Available   bool               `json:"available"`
}

// Rates lists the buy rate of every catalogue type. A type is available when
// purchases of it are accepted.
func (s *Service) Rates() []Rate {
	var out []Rate
	for _, info := range domain.Catalogue() {
		out = append(out, Rate{
			Type:        info.Type,
			DisplayName: info.DisplayName,
			Rate:        s.rate(info.Type),
			Available:   s.verifiers.Accepts(info.Type) == nil,
		})
	}
	return out
}
