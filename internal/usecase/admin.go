package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"voucher_backend/internal/domain"
	"voucher_backend/internal/repository"
)

// Complete records that an operator paid a MANUAL_REVIEW transaction out of
// band. The reference identifies that payment.
func (s *Service) Complete(ctx context.Context, id, reference, note string) (*domain.Transaction, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, errors.New("payout reference is required")
	}
	tx, err := s.repo.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if note == "" {
		note = "수동 송금 처리"
	}
	err = s.transition(ctx, tx, domain.StatusCompleted, domain.ActorOperator, repository.StatusChange{
		PayoutReference: &reference, Completed: true, Note: note,
	})
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// RetryPayout is the explicit operator request to send the transfer for a
// MANUAL_REVIEW transaction again. It makes one attempt and returns the
// resulting state.
func (s *Service) RetryPayout(ctx context.Context, id string) (*domain.Transaction, error) {
	ctx = context.WithoutCancel(ctx)
	tx, err := s.repo.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	switch tx.Status {
	case domain.StatusTransferPending:
		return nil, fmt.Errorf("%w: %s", ErrPayoutInFlight, id)
	case domain.StatusManualReview:
	default:
		return nil, fmt.Errorf("%w: retry-payout needs %s, transaction is %s", domain.ErrIllegalTransition, domain.StatusManualReview, tx.Status)
	}
	if len(tx.ValidItems()) == 0 {
		return nil, fmt.Errorf("%w: no valid items to pay", domain.ErrIllegalTransition)
	}

	s.logger.Info("operator retrying payout", "tx_id", id, "amount", tx.PayoutAmount)
	if err := s.disburse(ctx, tx, domain.ActorOperator); err != nil {
		if errors.Is(err, repository.ErrStatusConflict) {
			return nil, fmt.Errorf("%w: %v", ErrPayoutInFlight, err)
		}
		return nil, err
	}
	return tx, nil
}

// Cancel terminates a transaction that has not started a transfer.
func (s *Service) Cancel(ctx context.Context, id, note string) (*domain.Transaction, error) {
	tx, err := s.repo.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if tx.Status == domain.StatusTransferPending {
		return nil, fmt.Errorf("%w: %s", ErrPayoutInFlight, id)
	}
	if note == "" {
		note = "관리자 취소"
	}
	if err := s.transition(ctx, tx, domain.StatusCancelled, domain.ActorOperator, repository.StatusChange{Note: note}); err != nil {
		return nil, err
	}
	return tx, nil
}
