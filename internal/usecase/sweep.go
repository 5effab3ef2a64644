package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"voucher_backend/internal/domain"
	"voucher_backend/internal/repository"
)

// SweepReport counts what one recovery sweep did.
type SweepReport struct {
	Requeued  int `json:"requeued"`
	Resumed   int `json:"resumed"`
	Escalated int `json:"escalated"`
}

// Sweep recovers transactions a crash or restart left behind. PENDING rows
// older than threshold are handed to requeue. VERIFIED rows never reached a
// transfer attempt, so they are paid now. VERIFYING and TRANSFER_PENDING rows
// have an unknown outcome and go to MANUAL_REVIEW; a VERIFYING row carries the
// totals of its VALID items along.
func (s *Service) Sweep(ctx context.Context, threshold time.Duration, requeue func(id string) error) (SweepReport, error) {
	ctx = context.WithoutCancel(ctx)
	cutoff := s.now().Add(-threshold)
	var report SweepReport
	var errs []error

	stale := func(status domain.TxStatus) []domain.Transaction {
		txs, err := s.repo.Stale(ctx, status, cutoff)
		if err != nil {
			errs = append(errs, fmt.Errorf("list stale %s: %w", status, err))
		}
		return txs
	}

	for _, tx := range stale(domain.StatusPending) {
		if err := requeue(tx.ID); err != nil {
			errs = append(errs, fmt.Errorf("requeue %s: %w", tx.ID, err))
			continue
		}
		report.Requeued++
	}

	for _, tx := range stale(domain.StatusVerified) {
		s.logger.Warn("resuming payout of verified transaction", "tx_id", tx.ID)
		if err := s.disburse(ctx, &tx, domain.ActorSystem); err != nil {
			if !errors.Is(err, repository.ErrStatusConflict) {
				errs = append(errs, fmt.Errorf("resume %s: %w", tx.ID, err))
			}
			continue
		}
		report.Resumed++
	}

	escalate := map[domain.TxStatus]string{
		domain.StatusVerifying:       "검증 중단 (결과 불명) - 수동 확인 필요",
		domain.StatusTransferPending: "송금 결과 불명 - 수동 확인 필요",
	}
	for _, status := range []domain.TxStatus{domain.StatusVerifying, domain.StatusTransferPending} {
		for _, tx := range stale(status) {
			ch := repository.StatusChange{Note: escalate[status]}
			if status == domain.StatusVerifying {
				// verification never settled; fix what the finished items are worth
				totals, _, err := s.storedTotals(ctx, &tx)
				if err != nil {
					errs = append(errs, fmt.Errorf("escalate %s: %w", tx.ID, err))
					continue
				}
				ch.Totals = totals
			}
			err := s.transition(ctx, &tx, domain.StatusManualReview, domain.ActorSystem, ch)
			if err != nil {
				if !errors.Is(err, repository.ErrStatusConflict) {
					errs = append(errs, fmt.Errorf("escalate %s: %w", tx.ID, err))
				}
				continue
			}
			s.logger.Warn("stale transaction moved to manual review", "tx_id", tx.ID, "from", string(status))
			report.Escalated++
		}
	}

	s.logger.Info("recovery sweep finished", "requeued", report.Requeued, "resumed", report.Resumed, "escalated", report.Escalated)
	return report, errors.Join(errs...)
}
