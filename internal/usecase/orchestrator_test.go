package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"voucher_backend/internal/domain"
	"voucher_backend/internal/events"
	"voucher_backend/internal/fraud"
	"voucher_backend/internal/payout"
	"voucher_backend/internal/repository"
	"voucher_backend/internal/verifier"
)

type fakeExecutor struct {
	mu    sync.Mutex
	calls []domain.PayoutRequest
	fail  string
}

func (f *fakeExecutor) Execute(_ context.Context, req domain.PayoutRequest) domain.PayoutResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	if f.fail != "" {
		return domain.PayoutResult{Error: f.fail}
	}
	return domain.PayoutResult{Success: true, TxID: "PAY-TEST"}
}

func (f *fakeExecutor) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeExecutor) setFail(msg string) {
	f.mu.Lock()
	f.fail = msg
	f.mu.Unlock()
}

type harness struct {
	svc    *Service
	repo   *repository.SQLiteRepo
	pay    *fakeExecutor
	events *events.Recorder
}

type harnessOpts struct {
	verifiers *verifier.Factory
	gate      fraud.Gate
	retries   int
	rates     map[domain.VoucherType]decimal.Decimal
	// publisher replaces the recorder as the event sink.
	publisher events.Publisher
}

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newHarness(t *testing.T, o harnessOpts) *harness {
	t.Helper()
	repo, err := repository.NewSQLiteRepo("file::memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { repo.Close() })

	logger := discardLogger()
	if o.verifiers == nil {
		o.verifiers = verifier.NewMockFactory(&verifier.Mock{}, logger)
	}
	if o.gate == nil {
		o.gate = fraud.NewStatic(nil, nil)
	}
	h := &harness{repo: repo, pay: &fakeExecutor{}, events: events.NewRecorder(64)}
	var sink events.Publisher = h.events
	if o.publisher != nil {
		sink = o.publisher
	}
	h.svc = NewService(Deps{
		Repo:      repo,
		Verifiers: o.verifiers,
		Payouts:   h.pay,
		Holders:   &payout.Mock{},
		Gate:      o.gate,
		Events:    sink,
		Logger:    logger,
	}, Options{
		Rates:         o.rates,
		TransferFee:   500,
		VerifyTimeout: 5 * time.Second,
		PayoutTimeout: 5 * time.Second,
		Retries:       o.retries,
	})
	return h
}

// singleProvider binds every provider to v.
func singleProvider(v verifier.Verifier) *verifier.Factory {
	m := map[domain.Provider]verifier.Verifier{}
	for _, p := range domain.Providers {
		m[p] = v
	}
	return verifier.NewFactory(m, verifier.FactoryOptions{Logger: discardLogger()})
}

func (h *harness) submit(t *testing.T, vt domain.VoucherType, pins ...string) *domain.Transaction {
	t.Helper()
	tx, err := h.svc.Submit(context.Background(), PurchaseInput{
		CustomerName:  "김철수",
		CustomerPhone: "010-1234-5678",
		VoucherType:   string(vt),
		Pins:          pins,
		BankName:      "kakao",
		AccountNumber: "3333-01-1234567",
		AccountHolder: "김철수",
		ClientIP:      "10.0.0.1",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return tx
}

func (h *harness) process(t *testing.T, id string) *domain.Transaction {
	t.Helper()
	if err := h.svc.Process(context.Background(), id); err != nil {
		t.Fatalf("process: %v", err)
	}
	tx, err := h.repo.GetTransaction(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	return tx
}

func statuses(evs []domain.Event) []domain.TxStatus {
	var out []domain.TxStatus
	for _, ev := range evs {
		out = append(out, ev.To)
	}
	return out
}

func equalStatuses(a, b []domain.TxStatus) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestMixedSubmissionCompletes(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	tx := h.submit(t, domain.VoucherCultureLand, "1234-5678-1234-5678", "1111-2222-3333-4444", "12-34")

	got := h.process(t, tx.ID)

	wantItems := []domain.ItemStatus{domain.ItemValid, domain.ItemValid, domain.ItemInvalid}
	for i, it := range got.Items {
		if it.Status != wantItems[i] {
			t.Errorf("item %d status = %s, want %s", i, it.Status, wantItems[i])
		}
	}
	if got.Items[2].FailureKind != domain.FailureFormat || got.Items[2].ErrorMessage != formatErrorMessage {
		t.Errorf("format failure not recorded: %+v", got.Items[2])
	}
	if got.TotalFaceValue != 100000 {
		t.Fatalf("TotalFaceValue = %d, want 100000", got.TotalFaceValue)
	}
	if got.PayoutAmount != 90000-500 {
		t.Fatalf("PayoutAmount = %d, want 89500", got.PayoutAmount)
	}
	if got.Status != domain.StatusCompleted || got.PayoutReference != "PAY-TEST" || got.CompletedAt == nil {
		t.Fatalf("unexpected final state %+v", got)
	}

	want := []domain.TxStatus{domain.StatusVerifying, domain.StatusVerified, domain.StatusTransferPending, domain.StatusCompleted}
	if got := statuses(h.events.Drain()); !equalStatuses(got, want) {
		t.Fatalf("published %v, want %v", got, want)
	}
	history, _ := h.repo.Events(context.Background(), tx.ID)
	if !equalStatuses(statuses(history), want) {
		t.Fatalf("history %v, want %v", statuses(history), want)
	}
	if h.pay.count() != 1 || h.pay.calls[0].Amount != 89500 || h.pay.calls[0].TransactionID != tx.ID {
		t.Fatalf("unexpected payout calls %+v", h.pay.calls)
	}
}

func TestFormatFailureNeverCallsVerifier(t *testing.T) {
	var calls atomic.Int32
	counting := verifier.Func(func(context.Context, domain.VoucherType, string) domain.VerificationResult {
		calls.Add(1)
		return domain.VerificationResult{IsValid: true, FaceValue: 10000, Outcome: domain.OutcomeConfirmed}
	})
	h := newHarness(t, harnessOpts{verifiers: singleProvider(counting)})

	tx := h.submit(t, domain.VoucherHappyMoney, "1234", "abcd-efgh-ijkl-mnop", "1234-5678-1234")
	got := h.process(t, tx.ID)

	if n := calls.Load(); n != 0 {
		t.Fatalf("verifier called %d times", n)
	}
	if got.Status != domain.StatusFailed || got.TotalFaceValue != 0 || got.PayoutAmount != 0 {
		t.Fatalf("unexpected state %+v", got)
	}
	if h.pay.count() != 0 {
		t.Fatal("payout attempted for failed transaction")
	}
}

func TestTransferFeeChargedOncePerTransaction(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	one := h.process(t, h.submit(t, domain.VoucherCultureLand, "1234-5678-1234-5678").ID)
	three := h.process(t, h.submit(t, domain.VoucherCultureLand,
		"1234-5678-1234-5671", "1234-5678-1234-5672", "1234-5678-1234-5673").ID)

	if one.PayoutAmount != 45000-500 {
		t.Fatalf("single item payout = %d", one.PayoutAmount)
	}
	if three.PayoutAmount != 3*45000-500 {
		t.Fatalf("three item payout = %d, want one fee deducted", three.PayoutAmount)
	}
	if one.TransferFee != 500 || three.TransferFee != 500 {
		t.Fatal("transfer fee not recorded")
	}
}

func TestAllInvalidFails(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	tx := h.submit(t, domain.VoucherCultureLand, "1234-5678-1234-0000", "1234-5678-1234-9999")
	got := h.process(t, tx.ID)

	if got.Status != domain.StatusFailed || got.TotalFaceValue != 0 || got.PayoutAmount != 0 {
		t.Fatalf("unexpected state %+v", got)
	}
	for _, it := range got.Items {
		if it.Status != domain.ItemInvalid || it.FailureKind != domain.FailureRejected || it.ErrorMessage == "" {
			t.Errorf("unexpected item %+v", it)
		}
	}
}

func TestPayoutFailureHoldsForReview(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	h.pay.setFail("계좌번호 오류")
	tx := h.submit(t, domain.VoucherCultureLand, "1234-5678-1234-5678")

	got := h.process(t, tx.ID)
	if got.Status != domain.StatusManualReview {
		t.Fatalf("status = %s, want MANUAL_REVIEW", got.Status)
	}
	if got.PayoutAmount != 44500 || got.CompletedAt != nil {
		t.Fatalf("payout amount must stay computed and unpaid: %+v", got)
	}
	if !strings.Contains(got.Note, "계좌번호 오류") {
		t.Fatalf("note = %q", got.Note)
	}

	// nothing automated may finish it
	h.pay.setFail("")
	if err := h.svc.Process(context.Background(), tx.ID); err != nil {
		t.Fatal(err)
	}
	h.svc.now = func() time.Time { return time.Now().Add(time.Hour) }
	if _, err := h.svc.Sweep(context.Background(), time.Minute, func(string) error { return nil }); err != nil {
		t.Fatal(err)
	}
	after, _ := h.repo.GetTransaction(context.Background(), tx.ID)
	if after.Status != domain.StatusManualReview {
		t.Fatalf("automation moved review to %s", after.Status)
	}
	if h.pay.count() != 1 {
		t.Fatalf("transfer attempted %d times, want 1", h.pay.count())
	}
	for _, st := range statuses(h.events.Drain()) {
		if st == domain.StatusCompleted {
			t.Fatal("COMPLETED published")
		}
	}
}

func TestIndeterminateAndProvisionalGoToReview(t *testing.T) {
	cases := []struct {
		name string
		res  domain.VerificationResult
		kind domain.FailureKind
	}{
		{"indeterminate", domain.VerificationResult{Message: "검증 결과 확인 불가", Outcome: domain.OutcomeIndeterminate}, domain.FailureIndeterminate},
		{"provisional", domain.VerificationResult{IsValid: true, Message: "수동 확인 요망", Outcome: domain.OutcomeProvisional}, domain.FailureProvisional},
		{"confirmed without amount", domain.VerificationResult{IsValid: true, Message: "정상 (금액 확인 불가)", Outcome: domain.OutcomeConfirmed}, domain.FailureUnknownAmount},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := verifier.Func(func(context.Context, domain.VoucherType, string) domain.VerificationResult { return tc.res })
			h := newHarness(t, harnessOpts{verifiers: singleProvider(v)})
			got := h.process(t, h.submit(t, domain.VoucherLotte, "123456789012").ID)

			if got.Status != domain.StatusManualReview {
				t.Fatalf("status = %s", got.Status)
			}
			if it := got.Items[0]; it.Status != domain.ItemReview || it.FailureKind != tc.kind {
				t.Fatalf("item = %+v", it)
			}
			if h.pay.count() != 0 {
				t.Fatal("payout attempted for unconfirmed voucher")
			}
		})
	}
}

func TestReviewItemHoldsValidPayout(t *testing.T) {
	v := verifier.Func(func(_ context.Context, _ domain.VoucherType, pin string) domain.VerificationResult {
		if strings.HasSuffix(pin, "1") {
			return domain.VerificationResult{IsValid: true, FaceValue: 10000, Outcome: domain.OutcomeConfirmed}
		}
		return domain.VerificationResult{Outcome: domain.OutcomeIndeterminate, Message: "?"}
	})
	h := newHarness(t, harnessOpts{verifiers: singleProvider(v)})
	got := h.process(t, h.submit(t, domain.VoucherCultureLand, "1234-5678-1234-0001", "1234-5678-1234-0002").ID)

	if got.Status != domain.StatusManualReview || got.TotalFaceValue != 10000 || got.PayoutAmount != 9000-500 {
		t.Fatalf("unexpected state %+v", got)
	}
}

func TestAutomationFailuresRetried(t *testing.T) {
	var calls atomic.Int32
	v := verifier.Func(func(_ context.Context, _ domain.VoucherType, pin string) domain.VerificationResult {
		n := calls.Add(1)
		if strings.HasSuffix(pin, "0000") {
			return domain.Rejected("used")
		}
		if n < 3 {
			return domain.Failed("timeout")
		}
		return domain.VerificationResult{IsValid: true, FaceValue: 10000, Outcome: domain.OutcomeConfirmed}
	})

	h := newHarness(t, harnessOpts{verifiers: singleProvider(v), retries: 2})
	got := h.process(t, h.submit(t, domain.VoucherCultureLand, "1234-5678-1234-5678").ID)
	if got.Items[0].Status != domain.ItemValid || calls.Load() != 3 {
		t.Fatalf("item %+v after %d calls", got.Items[0], calls.Load())
	}

	calls.Store(10)
	h.process(t, h.submit(t, domain.VoucherCultureLand, "1234-5678-1234-0000").ID)
	if calls.Load() != 11 {
		t.Fatalf("rejection retried: %d calls", calls.Load()-10)
	}
}

func TestAutomationFailureWithoutRetries(t *testing.T) {
	v := verifier.Func(func(context.Context, domain.VoucherType, string) domain.VerificationResult {
		return domain.Failed("로그인 세션 실패")
	})
	h := newHarness(t, harnessOpts{verifiers: singleProvider(v)})
	got := h.process(t, h.submit(t, domain.VoucherCultureLand, "1234-5678-1234-5678").ID)
	if it := got.Items[0]; it.Status != domain.ItemInvalid || it.FailureKind != domain.FailureAutomation || !strings.HasPrefix(it.ErrorMessage, "검증 실패: ") {
		t.Fatalf("item = %+v", it)
	}
	if got.Status != domain.StatusFailed {
		t.Fatalf("status = %s", got.Status)
	}
}

func TestVerifierPanicIsContained(t *testing.T) {
	v := verifier.Func(func(context.Context, domain.VoucherType, string) domain.VerificationResult {
		panic("selector exploded")
	})
	h := newHarness(t, harnessOpts{verifiers: singleProvider(v)})
	got := h.process(t, h.submit(t, domain.VoucherCultureLand, "1234-5678-1234-5678").ID)
	if got.Items[0].FailureKind != domain.FailureAutomation || got.Status != domain.StatusFailed {
		t.Fatalf("unexpected state %+v", got)
	}
}

func TestZeroPayoutCompletesWithoutTransfer(t *testing.T) {
	h := newHarness(t, harnessOpts{rates: map[domain.VoucherType]decimal.Decimal{
		domain.VoucherCultureLand: decimal.RequireFromString("0.01"),
	}})
	got := h.process(t, h.submit(t, domain.VoucherCultureLand, "1234-5678-1234-5678").ID)
	if got.Status != domain.StatusCompleted || got.PayoutAmount != 0 || got.PayoutReference != noTransferReference {
		t.Fatalf("unexpected state %+v", got)
	}
	if h.pay.count() != 0 {
		t.Fatal("zero transfer sent")
	}
}

func TestProcessIsIdempotent(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	tx := h.submit(t, domain.VoucherCultureLand, "1234-5678-1234-5678")
	h.process(t, tx.ID)
	h.process(t, tx.ID)
	if h.pay.count() != 1 {
		t.Fatalf("transfer sent %d times", h.pay.count())
	}
}

// stalledBroker accepts no messages until the caller gives up.
type stalledBroker struct {
	calls atomic.Int32
}

func (b *stalledBroker) Publish(ctx context.Context, _ domain.Event) error {
	b.calls.Add(1)
	<-ctx.Done()
	return ctx.Err()
}

func (b *stalledBroker) Close() error { return nil }

func TestStalledBrokerDoesNotHoldPayout(t *testing.T) {
	broker := &stalledBroker{}
	h := newHarness(t, harnessOpts{publisher: broker})
	h.svc.publishTimeout = 20 * time.Millisecond

	tx := h.submit(t, domain.VoucherCultureLand, "1234-5678-1234-5678")
	done := make(chan error, 1)
	go func() { done <- h.svc.Process(context.Background(), tx.ID) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("processing blocked on the event broker")
	}
	got, _ := h.repo.GetTransaction(context.Background(), tx.ID)
	if got.Status != domain.StatusCompleted || h.pay.count() != 1 {
		t.Fatalf("status %s after %d transfers", got.Status, h.pay.count())
	}
	// VERIFYING, VERIFIED, TRANSFER_PENDING, COMPLETED
	if broker.calls.Load() != 4 {
		t.Fatalf("publish attempted %d times", broker.calls.Load())
	}
}

func TestGateBlocksBeforeCreation(t *testing.T) {
	gate := fraud.NewStatic([]string{"010-1234-5678"}, []string{"10.0.0.9"})
	h := newHarness(t, harnessOpts{gate: gate})

	_, err := h.svc.Submit(context.Background(), PurchaseInput{
		CustomerPhone: "01012345678", VoucherType: "CULTURE_LAND", Pins: []string{"1234-5678-1234-5678"},
		BankName: "kakao", AccountNumber: "1", ClientIP: "10.0.0.1",
	})
	var blocked *BlockedError
	if !errors.As(err, &blocked) || !errors.Is(err, ErrBlocked) || blocked.Reason != "서비스 이용이 제한된 사용자입니다." {
		t.Fatalf("expected blacklist block, got %v", err)
	}

	_, err = h.svc.Submit(context.Background(), PurchaseInput{
		CustomerPhone: "010-5555-5555", VoucherType: "CULTURE_LAND", Pins: []string{"1234-5678-1234-5678"},
		BankName: "kakao", AccountNumber: "1", ClientIP: "10.0.0.9",
	})
	if !errors.As(err, &blocked) || !strings.HasPrefix(blocked.Reason, "거래 차단: ") {
		t.Fatalf("expected risk block, got %v", err)
	}

	list, _ := h.repo.ListTransactions(context.Background(), repository.TxFilter{}, 10, 0)
	if len(list) != 0 {
		t.Fatalf("blocked submissions stored %d transactions", len(list))
	}
}

func TestSubmitRejectsUnknownType(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	for _, raw := range []string{"XYZ_UNKNOWN", string(domain.VoucherNaverPay)} {
		_, err := h.svc.Submit(context.Background(), PurchaseInput{VoucherType: raw, Pins: []string{"123456789012"}})
		if !errors.Is(err, verifier.ErrUnregisteredType) {
			t.Fatalf("%s: expected ErrUnregisteredType, got %v", raw, err)
		}
	}
}

func TestSubmitRejectsUnboundAndDisabledTypes(t *testing.T) {
	bound := verifier.Func(func(context.Context, domain.VoucherType, string) domain.VerificationResult {
		return domain.VerificationResult{IsValid: true, FaceValue: 10000, Outcome: domain.OutcomeConfirmed}
	})
	f := verifier.NewFactory(map[domain.Provider]verifier.Verifier{
		domain.ProviderCultureLand: bound,
		domain.ProviderGoogle:      bound,
	}, verifier.FactoryOptions{
		Disabled: []domain.VoucherType{domain.VoucherGoogleGift},
		Logger:   discardLogger(),
	})
	h := newHarness(t, harnessOpts{verifiers: f})

	for _, vt := range []domain.VoucherType{domain.VoucherHappyMoney, domain.VoucherGoogleGift} {
		_, err := h.svc.Submit(context.Background(), PurchaseInput{VoucherType: string(vt), Pins: []string{"1234-5678-1234"}})
		if !errors.Is(err, verifier.ErrUnregisteredType) {
			t.Fatalf("%s: expected ErrUnregisteredType, got %v", vt, err)
		}
	}
	h.submit(t, domain.VoucherCultureLand, "1234-5678-1234-5678")

	for _, r := range h.svc.Rates() {
		info, _ := domain.Lookup(r.Type)
		want := info.Provider == domain.ProviderCultureLand
		if r.Available != want {
			t.Errorf("%s available = %t", r.Type, r.Available)
		}
	}
}

func TestVerifySingle(t *testing.T) {
	happy := verifier.NewFactory(map[domain.Provider]verifier.Verifier{
		domain.ProviderHappyMoney: &verifier.HappyMoney{},
	}, verifier.FactoryOptions{Logger: discardLogger()})
	h := newHarness(t, harnessOpts{verifiers: happy})
	ctx := context.Background()

	res := h.svc.VerifySingle(ctx, "HAPPY_MONEY", "1234-5678-1234-5678")
	if !res.IsValid || res.FaceValue != 50000 || !strings.Contains(res.Message, "정상") {
		t.Fatalf("valid pin: %+v", res)
	}

	res = h.svc.VerifySingle(ctx, "HAPPY_MONEY", "1234-5678-1234-9999")
	if res.IsValid || res.FaceValue != 0 || !strings.Contains(res.Message, "유효하지 않은") {
		t.Fatalf("void pin: %+v", res)
	}

	res = h.svc.VerifySingle(ctx, "HAPPY_MONEY", "1234")
	if res.IsValid || res.Outcome != domain.OutcomeRejected {
		t.Fatalf("format failure: %+v", res)
	}
}

func TestVerifySingleUnknownType(t *testing.T) {
	strict := newHarness(t, harnessOpts{})
	res := strict.svc.VerifySingle(context.Background(), "XYZ_UNKNOWN", "ABCDEF123456")
	if res.IsValid || res.Outcome != domain.OutcomeRejected {
		t.Fatalf("strict mode accepted unknown type: %+v", res)
	}

	degraded := verifier.NewFactory(nil, verifier.FactoryOptions{Degraded: true, Logger: discardLogger()})
	lenient := newHarness(t, harnessOpts{verifiers: degraded})
	res = lenient.svc.VerifySingle(context.Background(), "XYZ_UNKNOWN", "ABCDEF123456")
	if res.Outcome == "" || res.Message == "" {
		t.Fatalf("degraded mode returned an empty result: %+v", res)
	}
}

func TestVerifyHolderAndLookup(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := context.Background()

	name, err := h.svc.VerifyHolder(ctx, "kakao", "3333-01-1234567")
	if err != nil || name != "홍길동" {
		t.Fatalf("VerifyHolder = %q, %v", name, err)
	}
	if _, err := h.svc.VerifyHolder(ctx, "nowhere", "1"); !errors.Is(err, payout.ErrUnsupportedBank) {
		t.Fatalf("expected ErrUnsupportedBank, got %v", err)
	}

	tx := h.submit(t, domain.VoucherCultureLand, "1234-5678-1234-5678")
	orders, err := h.svc.LookupOrders(ctx, "김철수", "010 1234 5678")
	if err != nil || len(orders) != 1 || orders[0].ID != tx.ID {
		t.Fatalf("LookupOrders = %+v, %v", orders, err)
	}
	if _, err := h.svc.LookupOrders(ctx, "", "010"); err == nil {
		t.Fatal("expected missing name error")
	}
}

func TestRates(t *testing.T) {
	h := newHarness(t, harnessOpts{rates: map[domain.VoucherType]decimal.Decimal{
		domain.VoucherLotte: decimal.RequireFromString("0.95"),
	}})
	rates := h.svc.Rates()
	if len(rates) != len(domain.Catalogue()) {
		t.Fatalf("got %d rates", len(rates))
	}
	for _, r := range rates {
		if r.Type == domain.VoucherLotte && r.Rate.String() != "0.95" {
			t.Fatalf("lotte rate = %s", r.Rate)
		}
		if r.Type == domain.VoucherNaverPay && r.Available {
			t.Fatal("naver pay has no provider")
		}
	}
}
