package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"voucher_backend/internal/domain"
	"voucher_backend/internal/events"
	"voucher_backend/internal/fees"
	"voucher_backend/internal/fraud"
	"voucher_backend/internal/payout"
	"voucher_backend/internal/pinformat"
	"voucher_backend/internal/repository"
	"voucher_backend/internal/verifier"
)

var (
	// ErrBlocked is the sentinel behind every BlockedError.
	ErrBlocked = errors.New("blocked by fraud gate")
	// ErrPayoutInFlight means a transfer for the transaction may be running.
	ErrPayoutInFlight = errors.New("payout already in flight")
)

// BlockedError is a gate refusal; Reason is shown to the customer.
type BlockedError struct {
	Reason string
}

func (e *BlockedError) Error() string { return e.Reason }
func (e *BlockedError) Unwrap() error { return ErrBlocked }

const (
	formatErrorMessage  = "Format Error"
	noTransferReference = "NO-TRANSFER"

	defaultVerifyTimeout = 60 * time.Second
	defaultPayoutTimeout = 60 * time.Second
	publishTimeout       = 3 * time.Second
)

// Deps are the collaborators of the orchestrator.
type Deps struct {
	Repo      *repository.SQLiteRepo
	Verifiers *verifier.Factory
	Payouts   payout.Executor
	Holders   payout.HolderLookup
	Gate      fraud.Gate
	Events    events.Publisher
	Logger    *slog.Logger
}

type Options struct {
	Rates         map[domain.VoucherType]decimal.Decimal
	TransferFee   int64
	VerifyTimeout time.Duration
	PayoutTimeout time.Duration
	// Retries is how many extra attempts an automation failure gets.
	Retries    int
	RetryDelay time.Duration
}

// Service drives transactions through verification and payout.
type Service struct {
	repo      *repository.SQLiteRepo
	verifiers *verifier.Factory
	payouts   payout.Executor
	holders   payout.HolderLookup
	gate      fraud.Gate
	events    events.Publisher
	logger    *slog.Logger

	rates         map[domain.VoucherType]decimal.Decimal
	transferFee   int64
	verifyTimeout time.Duration
	payoutTimeout time.Duration
	retries       int
	retryDelay    time.Duration

	publishTimeout time.Duration
	now            func() time.Time
	newID          func() string
}

func NewService(d Deps, opts Options) *Service {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Events == nil {
		d.Events = &events.Log{Logger: d.Logger}
	}
	if opts.VerifyTimeout <= 0 {
		opts.VerifyTimeout = defaultVerifyTimeout
	}
	if opts.PayoutTimeout <= 0 {
		opts.PayoutTimeout = defaultPayoutTimeout
	}
	rates := make(map[domain.VoucherType]decimal.Decimal)
	for _, info := range domain.Catalogue() {
		rates[info.Type] = info.BuyRate
	}
	for t, r := range opts.Rates {
		rates[t] = r
	}
	return &Service{
		repo:          d.Repo,
		verifiers:     d.Verifiers,
		payouts:       d.Payouts,
		holders:       d.Holders,
		gate:          d.Gate,
		events:        d.Events,
		logger:        d.Logger,
		rates:         rates,
		transferFee:   opts.TransferFee,
		verifyTimeout: opts.VerifyTimeout,
		payoutTimeout: opts.PayoutTimeout,
		retries:       opts.Retries,
		retryDelay:    opts.RetryDelay,

		publishTimeout: publishTimeout,
		now:            time.Now,
		newID:          uuid.NewString,
	}
}

// PurchaseInput is one customer submission.
type PurchaseInput struct {
	CustomerName  string
	CustomerPhone string
	VoucherType   string
	Pins          []string
	BankName      string
	AccountNumber string
	AccountHolder string
	ClientIP      string
}

// Submit runs the fraud gate and records a PENDING transaction. Nothing is
// stored when the gate refuses.
func (s *Service) Submit(ctx context.Context, in PurchaseInput) (*domain.Transaction, error) {
	vt, ok := domain.ParseVoucherType(in.VoucherType)
	if !ok {
		return nil, fmt.Errorf("%w: %q", verifier.ErrUnregisteredType, in.VoucherType)
	}
	if err := s.verifiers.Accepts(vt); err != nil {
		return nil, err
	}
	if len(in.Pins) == 0 {
		return nil, errors.New("no pins submitted")
	}
	if err := s.checkGate(ctx, in); err != nil {
		return nil, err
	}

	now := s.now()
	tx := &domain.Transaction{
		ID:            s.newID(),
		CustomerName:  strings.TrimSpace(in.CustomerName),
		CustomerPhone: strings.TrimSpace(in.CustomerPhone),
		VoucherType:   vt,
		BankName:      strings.TrimSpace(in.BankName),
		AccountNumber: strings.TrimSpace(in.AccountNumber),
		AccountHolder: strings.TrimSpace(in.AccountHolder),
		TransferFee:   s.transferFee,
		FeeRate:       s.rate(vt).String(),
		Status:        domain.StatusPending,
		ClientIP:      in.ClientIP,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	for i, pin := range in.Pins {
		tx.Items = append(tx.Items, domain.Item{Seq: i, PinCode: strings.TrimSpace(pin), Status: domain.ItemPending})
	}

	if err := s.repo.InsertTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("create transaction: %w", err)
	}
	s.logger.Info("transaction created", "tx_id", tx.ID, "type", string(vt), "items", len(tx.Items))
	return tx, nil
}

func (s *Service) checkGate(ctx context.Context, in PurchaseInput) error {
	if s.gate == nil {
		return nil
	}
	for _, check := range []struct {
		id   string
		kind fraud.Kind
	}{
		{in.CustomerPhone, fraud.KindPhone},
		{in.AccountNumber, fraud.KindAccount},
	} {
		listed, err := s.gate.CheckBlacklist(ctx, check.id, check.kind)
		if err != nil {
			return fmt.Errorf("blacklist check: %w", err)
		}
		if listed {
			s.logger.Warn("purchase blocked by blacklist", "kind", string(check.kind))
			return &BlockedError{Reason: "서비스 이용이 제한된 사용자입니다."}
		}
	}

	risk, err := s.gate.CheckFraudRisk(ctx, in.ClientIP, in.CustomerPhone)
	if err != nil {
		return fmt.Errorf("fraud check: %w", err)
	}
	if risk.IsRisky {
		s.logger.Warn("purchase blocked by fraud check", "ip", in.ClientIP, "reason", risk.Reason)
		return &BlockedError{Reason: "거래 차단: " + risk.Reason}
	}
	return nil
}

func (s *Service) rate(vt domain.VoucherType) decimal.Decimal {
	if r, ok := s.rates[vt]; ok {
		return r
	}
	return decimal.Zero
}

// Process verifies every item of a PENDING transaction in order, settles the
// totals and pays out. A transaction another worker already picked up is
// left alone.
func (s *Service) Process(ctx context.Context, id string) error {
	// request cancellation must not abandon a session or a transfer midway
	ctx = context.WithoutCancel(ctx)

	tx, err := s.repo.GetTransaction(ctx, id)
	if err != nil {
		return err
	}
	if err := s.transition(ctx, tx, domain.StatusVerifying, domain.ActorSystem, repository.StatusChange{}); err != nil {
		if errors.Is(err, repository.ErrStatusConflict) || errors.Is(err, domain.ErrIllegalTransition) {
			s.logger.Info("transaction not pending, skipping", "tx_id", id, "status", string(tx.Status))
			return nil
		}
		return err
	}

	v := s.verifiers.Get(string(tx.VoucherType))
	rate := s.rate(tx.VoucherType)
	for i := range tx.Items {
		if i > 0 && !s.stillVerifying(ctx, id) {
			s.logger.Warn("transaction left VERIFYING, stopping", "tx_id", id, "done", i)
			return nil
		}
		if err := s.verifyItem(ctx, tx, &tx.Items[i], v, rate); err != nil {
			if errors.Is(err, repository.ErrStatusConflict) {
				s.logger.Warn("transaction left VERIFYING, result discarded", "tx_id", id, "item", tx.Items[i].Seq)
				return nil
			}
			return err
		}
	}

	return s.settle(ctx, tx, rate)
}

func (s *Service) stillVerifying(ctx context.Context, id string) bool {
	cur, err := s.repo.GetTransaction(ctx, id)
	return err == nil && cur.Status == domain.StatusVerifying
}

func (s *Service) verifyItem(ctx context.Context, tx *domain.Transaction, it *domain.Item, v verifier.Verifier, rate decimal.Decimal) error {
	log := s.logger.With("tx_id", tx.ID, "item", it.Seq, "pin", pinformat.Mask(it.PinCode))

	if !pinformat.ValidateFormat(tx.VoucherType, it.PinCode) {
		it.Status = domain.ItemInvalid
		it.FailureKind = domain.FailureFormat
		it.ErrorMessage = formatErrorMessage
		log.Info("item rejected on format")
		return s.repo.UpdateItem(ctx, *it)
	}

	it.Status = domain.ItemVerifying
	if err := s.repo.UpdateItem(ctx, *it); err != nil {
		return err
	}

	res := s.verify(ctx, v, tx.VoucherType, it.PinCode)
	applyResult(it, res, rate)
	log.Info("item verified", "outcome", string(res.Outcome), "status", string(it.Status), "face_value", it.FaceValue)
	return s.repo.UpdateItem(ctx, *it)
}

// applyResult maps a verification outcome onto an item. Only a confirmed
// result with a known amount counts towards the payout.
func applyResult(it *domain.Item, res domain.VerificationResult, rate decimal.Decimal) {
	it.ProviderRef = res.TransactionID
	it.FaceValue, it.PayoutShare = 0, 0
	it.ErrorMessage = res.Message

	switch res.Outcome {
	case domain.OutcomeConfirmed:
		if res.FaceValue <= 0 {
			it.Status, it.FailureKind = domain.ItemReview, domain.FailureUnknownAmount
			return
		}
		it.Status, it.FailureKind = domain.ItemValid, domain.FailureNone
		it.FaceValue = res.FaceValue
		it.PayoutShare = fees.Share(res.FaceValue, rate)
		it.ErrorMessage = ""
	case domain.OutcomeRejected:
		it.Status, it.FailureKind = domain.ItemInvalid, domain.FailureRejected
	case domain.OutcomeFailed:
		it.Status, it.FailureKind = domain.ItemInvalid, domain.FailureAutomation
	case domain.OutcomeProvisional:
		it.Status, it.FailureKind = domain.ItemReview, domain.FailureProvisional
	default:
		it.Status, it.FailureKind = domain.ItemReview, domain.FailureIndeterminate
	}
}

// verify calls the verifier under its own timeout and retries automation
// failures up to the configured count. Rejections are final.
func (s *Service) verify(ctx context.Context, v verifier.Verifier, vt domain.VoucherType, pin string) domain.VerificationResult {
	var res domain.VerificationResult
	for attempt := 0; attempt <= s.retries; attempt++ {
		if attempt > 0 {
			s.logger.Warn("retrying verification after automation failure", "type", string(vt), "attempt", attempt, "message", res.Message)
			if s.retryDelay > 0 {
				time.Sleep(s.retryDelay)
			}
		}
		res = s.verifyOnce(ctx, v, vt, pin)
		if res.Outcome != domain.OutcomeFailed {
			return res
		}
	}
	return res
}

func (s *Service) verifyOnce(ctx context.Context, v verifier.Verifier, vt domain.VoucherType, pin string) (res domain.VerificationResult) {
	vctx, cancel := context.WithTimeout(ctx, s.verifyTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("verifier panicked", "type", string(vt), "panic", r)
			res = domain.Failed(fmt.Sprint(r))
		}
	}()

	res = v.Verify(vctx, vt, pin)
	if res.Outcome == "" {
		res.Outcome = domain.OutcomeIndeterminate
	}
	// a page read cut short by the deadline is a timeout, not an unknown answer
	if vctx.Err() != nil && res.Outcome == domain.OutcomeIndeterminate {
		res = domain.Failed("시간 초과")
	}
	return res
}

// tally sums the VALID items of tx into payout totals. The fee is taken once
// and only when something is payable.
func tally(tx *domain.Transaction, feeRate string, transferFee int64) (totals *repository.Totals, valid, review int) {
	var total, gross int64
	for _, it := range tx.Items {
		switch it.Status {
		case domain.ItemValid:
			valid++
			total += it.FaceValue
			gross += it.PayoutShare
		case domain.ItemReview:
			review++
		}
	}

	totals = &repository.Totals{FeeRate: feeRate, TransferFee: transferFee}
	if valid > 0 {
		totals.TotalFaceValue = total
		totals.PayoutAmount = fees.Net(gross, transferFee)
	}
	return totals, valid, review
}

// settle fixes the totals and routes the transaction after the last item.
func (s *Service) settle(ctx context.Context, tx *domain.Transaction, rate decimal.Decimal) error {
	totals, valid, review := tally(tx, rate.String(), s.transferFee)
	ch := repository.StatusChange{Totals: totals, Processed: true}

	switch {
	case review > 0:
		ch.Note = fmt.Sprintf("검증 결과 수동 확인 필요 (%d건)", review)
		return s.ignoreConflict(tx.ID, s.transition(ctx, tx, domain.StatusManualReview, domain.ActorSystem, ch))
	case valid > 0:
		if err := s.transition(ctx, tx, domain.StatusVerified, domain.ActorSystem, ch); err != nil {
			return s.ignoreConflict(tx.ID, err)
		}
		return s.disburse(ctx, tx, domain.ActorSystem)
	default:
		ch.Note = "유효한 상품권이 없습니다."
		return s.ignoreConflict(tx.ID, s.transition(ctx, tx, domain.StatusFailed, domain.ActorSystem, ch))
	}
}

// storedTotals recomputes the totals of a transaction from its stored items,
// using the rate and fee fixed at submission.
func (s *Service) storedTotals(ctx context.Context, tx *domain.Transaction) (*repository.Totals, int, error) {
	if tx.Items == nil {
		full, err := s.repo.GetTransaction(ctx, tx.ID)
		if err != nil {
			return nil, 0, err
		}
		tx.Items = full.Items
	}
	rate := tx.FeeRate
	if rate == "" {
		rate = s.rate(tx.VoucherType).String()
	}
	totals, valid, _ := tally(tx, rate, tx.TransferFee)
	return totals, valid, nil
}

// ignoreConflict treats a lost compare-and-set as an operator having acted
// first, which is not an error for the automated path.
func (s *Service) ignoreConflict(id string, err error) error {
	if errors.Is(err, repository.ErrStatusConflict) {
		s.logger.Warn("transaction changed concurrently", "tx_id", id, "err", err)
		return nil
	}
	return err
}

// disburse moves a VERIFIED (or, for an operator, MANUAL_REVIEW) transaction
// to TRANSFER_PENDING and makes exactly one transfer attempt.
func (s *Service) disburse(ctx context.Context, tx *domain.Transaction, actor domain.Actor) error {
	var ch repository.StatusChange
	if tx.PayoutAmount <= 0 {
		// a zero payout is only trusted when the VALID items also net to zero
		totals, valid, err := s.storedTotals(ctx, tx)
		if err != nil {
			return err
		}
		if valid > 0 && totals.PayoutAmount > 0 {
			s.logger.Warn("stored payout disagrees with valid items, using recomputed totals", "tx_id", tx.ID, "amount", totals.PayoutAmount)
			ch.Totals = totals
		}
	}
	if err := s.transition(ctx, tx, domain.StatusTransferPending, actor, ch); err != nil {
		return err
	}

	if tx.PayoutAmount <= 0 {
		ref := noTransferReference
		return s.transition(ctx, tx, domain.StatusCompleted, domain.ActorSystem, repository.StatusChange{
			PayoutReference: &ref, Completed: true, Note: "송금액 없음",
		})
	}

	res := s.execute(ctx, domain.PayoutRequest{
		TransactionID: tx.ID,
		BankName:      tx.BankName,
		AccountNumber: tx.AccountNumber,
		HolderName:    tx.AccountHolder,
		Amount:        tx.PayoutAmount,
	})
	if !res.Success {
		s.logger.Error("payout failed, holding for manual review", "tx_id", tx.ID, "amount", tx.PayoutAmount, "err", res.Error)
		return s.transition(ctx, tx, domain.StatusManualReview, domain.ActorSystem, repository.StatusChange{
			Note: "송금 실패: " + res.Error,
		})
	}

	ref := res.TxID
	return s.transition(ctx, tx, domain.StatusCompleted, domain.ActorSystem, repository.StatusChange{
		PayoutReference: &ref, Completed: true, Note: "송금 완료",
	})
}

func (s *Service) execute(ctx context.Context, req domain.PayoutRequest) (res domain.PayoutResult) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.payoutTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("payout executor panicked", "tx_id", req.TransactionID, "panic", r)
			res = domain.PayoutResult{Error: fmt.Sprint(r)}
		}
	}()
	return s.payouts.Execute(pctx, req)
}

// transition checks the edge, writes it with compare-and-set and publishes
// the event. tx is updated in place on success.
func (s *Service) transition(ctx context.Context, tx *domain.Transaction, to domain.TxStatus, actor domain.Actor, ch repository.StatusChange) error {
	if err := domain.CheckTransition(tx.Status, to, actor); err != nil {
		return err
	}
	ch.From, ch.To, ch.Actor = tx.Status, to, actor

	ev, err := s.repo.UpdateStatus(ctx, tx.ID, ch)
	if err != nil {
		return err
	}

	tx.Status = to
	tx.UpdatedAt = ev.At
	if ch.Note != "" {
		tx.Note = ch.Note
	}
	if ch.Totals != nil {
		tx.TotalFaceValue = ch.Totals.TotalFaceValue
		tx.FeeRate = ch.Totals.FeeRate
		tx.TransferFee = ch.Totals.TransferFee
		tx.PayoutAmount = ch.Totals.PayoutAmount
	}
	if ch.PayoutReference != nil {
		tx.PayoutReference = *ch.PayoutReference
	}
	if ch.Processed {
		tx.ProcessedAt = &ev.At
	}
	if ch.Completed {
		tx.CompletedAt = &ev.At
	}

	s.logger.Info("transaction status changed", "tx_id", tx.ID, "from", string(ev.From), "to", string(to), "actor", string(actor))
	s.publish(ctx, ev)
	return nil
}

// publish emits ev under its own deadline. A failure is logged and does not
// undo the committed transition.
func (s *Service) publish(ctx context.Context, ev domain.Event) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.publishTimeout)
	defer cancel()
	if err := s.events.Publish(pctx, ev); err != nil {
		s.logger.Error("publish transaction event", "tx_id", ev.TransactionID, "to", string(ev.To), "err", err)
	}
}
