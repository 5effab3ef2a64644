package verifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"voucher_backend/internal/domain"
	"voucher_backend/internal/pinformat"
)

// ErrElementNotFound is returned by a Session when a selector matches nothing.
var ErrElementNotFound = errors.New("element not found")

// Device is the browser fingerprint a portal expects.
type Device struct {
	UserAgent string
	Width     int
	Height    int
	Mobile    bool
}

// Session is one isolated browser context. A Session is never shared between
// verifications.
type Session interface {
	Navigate(ctx context.Context, url string) error
	CurrentURL(ctx context.Context) (string, error)
	// Type fills the first element matching selector.
	Type(ctx context.Context, selector, text string) error
	// FillSegments fills the first len(values) visible inputs matching
	// selector, in document order. ErrElementNotFound when there are fewer.
	FillSegments(ctx context.Context, selector string, values []string) error
	// Click reports false when nothing matches selector.
	Click(ctx context.Context, selector string) (bool, error)
	// ClickText clicks the first button or link whose label contains one of
	// labels and is shorter than maxLen (0 = no limit).
	ClickText(ctx context.Context, labels []string, maxLen int) (bool, error)
	PressEnter(ctx context.Context, selector string) error
	// Text returns the text of selector, or of the whole body when empty.
	Text(ctx context.Context, selector string) (string, error)
	// Dialog returns the message of the last JavaScript dialog, if any.
	Dialog() string
	Close() error
}

// Browser opens fresh sessions.
type Browser interface {
	Open(ctx context.Context, device Device) (Session, error)
}

// Stage is where in the portal protocol a run is.
type Stage string

const (
	StageAuthenticating Stage = "authenticating"
	StageNavigating     Stage = "navigating"
	StageSubmitting     Stage = "submitting"
	StageClassifying    Stage = "classifying"
	StageDone           Stage = "done"
	StageFailed         Stage = "failed"
)

// StageError records which stage of the protocol broke.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("%s: %v", e.Stage, e.Err) }
func (e *StageError) Unwrap() error { return e.Err }

// LoginForm describes how to authenticate on a portal.
type LoginForm struct {
	URL              string
	UserSelector     string
	PasswordSelector string
	// SubmitSelector is clicked after filling; empty presses Enter in the
	// password field.
	SubmitSelector string
	// TwoStep submits the user field before the password field appears.
	TwoStep bool
	// FailURLMarkers mean the login did not take when the browser is still on
	// a URL containing one of them.
	FailURLMarkers []string
	// OnlyWhenRedirected skips login unless visiting the target URL lands on
	// a URL containing this marker.
	OnlyWhenRedirected string
}

// PinForm describes where the PIN goes.
type PinForm struct {
	// Segments splits the normalised PIN across several inputs; nil or a
	// single entry uses one input.
	Segments []int
	Selector string
	// FallbackSelector is a single input tried when the segmented fields are
	// missing.
	FallbackSelector string
	// Alphanumeric keeps letters when normalising.
	Alphanumeric bool
	// ExactDigits rejects PINs of any other normalised length before a
	// browser is opened.
	ExactDigits int
	// MinDigits does the same for PINs that are too short.
	MinDigits int
	// MinDigitsMessage is the rejection text for MinDigits.
	MinDigitsMessage string
}

// SubmitControl is the button that sends the PIN.
type SubmitControl struct {
	Selector   string
	Labels     []string
	MaxLen     int
	PressEnter bool
}

// BalanceLookup reads the face value from a second page after confirmation.
type BalanceLookup struct {
	URL      string
	Selector string
}

// SoftFallback is the degraded path for portals whose bot detection blocks
// the automation once logged in: the PIN shape is accepted provisionally and
// the item is held for manual confirmation.
type SoftFallback struct {
	Message string
}

// Portal is the whole per-provider profile. Everything that differs between
// issuers is data here; the protocol in PortalVerifier is shared.
type Portal struct {
	Provider     domain.Provider
	Device       Device
	Login        LoginForm
	TargetURL    string
	Pin          PinForm
	Submit       SubmitControl
	Markers      Markers
	ReadDialog   bool
	Balance      *BalanceLookup
	SoftFallback *SoftFallback
	RefPrefix    string
}

// PortalVerifier drives an issuer's web portal through the generic protocol:
// authenticate, navigate, submit, classify.
type PortalVerifier struct {
	portal  Portal
	creds   Credentials
	browser Browser
	limiter Limiter
	settle  time.Duration
	logger  *slog.Logger
	sleep   func(context.Context, time.Duration) error
}

type PortalOptions struct {
	Limiter     Limiter
	SettleDelay time.Duration
	Logger      *slog.Logger
}

func NewPortalVerifier(portal Portal, creds Credentials, browser Browser, opts PortalOptions) *PortalVerifier {
	if opts.Limiter == nil {
		opts.Limiter = NoLimit{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &PortalVerifier{
		portal:  portal,
		creds:   creds,
		browser: browser,
		limiter: opts.Limiter,
		settle:  opts.SettleDelay,
		logger:  opts.Logger.With("provider", string(portal.Provider)),
		sleep:   sleepCtx,
	}
}

func (v *PortalVerifier) Provider() domain.Provider { return v.portal.Provider }

func (v *PortalVerifier) Live() bool { return true }

func (v *PortalVerifier) Verify(ctx context.Context, voucherType domain.VoucherType, pin string) (res domain.VerificationResult) {
	log := v.logger.With("type", string(voucherType), "pin", pinformat.Mask(pin))
	code := v.normalise(pin)

	if r, stop := v.precheck(code); stop {
		log.Info("pin rejected before automation", "message", r.Message)
		return r
	}

	started := time.Now()
	res, stage, err := v.run(ctx, log, code)
	if err != nil {
		log.Warn("portal automation failed", "stage", string(stage), "err", err, "elapsed", time.Since(started))
		res = domain.Failed(err.Error())
	}

	if fb := v.portal.SoftFallback; fb != nil && blockedAfterLogin(ctx, res, err) {
		log.Warn("falling back to provisional verification", "stage", string(stage), "cause", res.Message)
		msg := fb.Message
		if res.Message != "" {
			msg += " / " + res.Message
		}
		return domain.VerificationResult{
			IsValid:       true,
			Message:       msg,
			TransactionID: v.ref(),
			Outcome:       domain.OutcomeProvisional,
		}
	}
	log.Info("portal verification finished", "outcome", string(res.Outcome), "faceValue", res.FaceValue, "elapsed", time.Since(started))
	return res
}

// blockedAfterLogin is the case a SoftFallback covers: the session was
// authenticated but the page gave no usable answer. Credential and login
// failures, and anything cut short by the deadline, stay Failed.
func blockedAfterLogin(ctx context.Context, res domain.VerificationResult, err error) bool {
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	if err == nil {
		return res.Outcome == domain.OutcomeIndeterminate
	}
	var se *StageError
	return errors.As(err, &se) && se.Stage != StageAuthenticating
}

func (v *PortalVerifier) normalise(pin string) string {
	if v.portal.Pin.Alphanumeric {
		return pinformat.Compact(pin)
	}
	return pinformat.Digits(pin)
}

func (v *PortalVerifier) precheck(code string) (domain.VerificationResult, bool) {
	p := v.portal.Pin
	if p.ExactDigits > 0 && len(code) != p.ExactDigits {
		return domain.Rejected(fmt.Sprintf("핀번호 형식이 올바르지 않습니다 (%d자리 필요)", p.ExactDigits)), true
	}
	if p.MinDigits > 0 && len(code) < p.MinDigits {
		msg := p.MinDigitsMessage
		if msg == "" {
			msg = fmt.Sprintf("핀번호 길이가 너무 짧습니다 (%d자리 이상 필요)", p.MinDigits)
		}
		return domain.Rejected(msg), true
	}
	if code == "" {
		return domain.Rejected("핀번호가 비어 있습니다."), true
	}
	return domain.VerificationResult{}, false
}

// run owns the session: it is released on every path, including panics in
// the browser driver.
func (v *PortalVerifier) run(ctx context.Context, log *slog.Logger, code string) (res domain.VerificationResult, stage Stage, err error) {
	stage = StageAuthenticating
	if !v.creds.Complete() {
		return res, stage, &StageError{Stage: stage, Err: errors.New("credentials not configured")}
	}

	release, err := v.limiter.Acquire(ctx, v.portal.Provider)
	if err != nil {
		return res, stage, &StageError{Stage: stage, Err: err}
	}
	defer release()

	sess, err := v.browser.Open(ctx, v.portal.Device)
	if err != nil {
		return res, stage, &StageError{Stage: stage, Err: fmt.Errorf("open browser: %w", err)}
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			log.Warn("closing browser session", "err", cerr)
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			res, err = domain.VerificationResult{}, &StageError{Stage: stage, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	if err = v.authenticate(ctx, sess); err != nil {
		return res, stage, &StageError{Stage: stage, Err: err}
	}

	stage = StageNavigating
	log.Debug("portal stage", "stage", string(stage))
	if err = v.navigate(ctx, sess); err != nil {
		return res, stage, &StageError{Stage: stage, Err: err}
	}

	stage = StageSubmitting
	log.Debug("portal stage", "stage", string(stage))
	if err = v.submit(ctx, sess, code); err != nil {
		return res, stage, &StageError{Stage: stage, Err: err}
	}
	if err = v.sleep(ctx, v.settle); err != nil {
		return res, stage, &StageError{Stage: stage, Err: err}
	}

	stage = StageClassifying
	log.Debug("portal stage", "stage", string(stage))
	res, err = v.classify(ctx, sess)
	if err != nil {
		return res, stage, &StageError{Stage: stage, Err: err}
	}
	return res, StageDone, nil
}

func (v *PortalVerifier) authenticate(ctx context.Context, sess Session) error {
	lf := v.portal.Login
	if lf.OnlyWhenRedirected != "" {
		if err := sess.Navigate(ctx, v.portal.TargetURL); err != nil {
			return err
		}
		u, err := sess.CurrentURL(ctx)
		if err != nil {
			return err
		}
		if !strings.Contains(u, lf.OnlyWhenRedirected) {
			return nil
		}
	} else if err := sess.Navigate(ctx, lf.URL); err != nil {
		return err
	}

	if err := sess.Type(ctx, lf.UserSelector, v.creds.Username); err != nil {
		return fmt.Errorf("user field: %w", err)
	}
	if lf.TwoStep {
		if err := sess.PressEnter(ctx, lf.UserSelector); err != nil {
			return err
		}
	}
	if err := sess.Type(ctx, lf.PasswordSelector, v.creds.Password); err != nil {
		return fmt.Errorf("password field: %w", err)
	}
	if lf.SubmitSelector != "" {
		ok, err := sess.Click(ctx, lf.SubmitSelector)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("login button: %w", ErrElementNotFound)
		}
	} else if err := sess.PressEnter(ctx, lf.PasswordSelector); err != nil {
		return err
	}
	if err := v.sleep(ctx, v.settle); err != nil {
		return err
	}

	u, err := sess.CurrentURL(ctx)
	if err != nil {
		return err
	}
	for _, m := range lf.FailURLMarkers {
		if strings.Contains(u, m) {
			return errors.New("로그인 세션 실패")
		}
	}
	return nil
}

func (v *PortalVerifier) navigate(ctx context.Context, sess Session) error {
	if v.portal.Login.OnlyWhenRedirected != "" {
		u, err := sess.CurrentURL(ctx)
		if err == nil && strings.HasPrefix(u, v.portal.TargetURL) {
			return nil
		}
	}
	return sess.Navigate(ctx, v.portal.TargetURL)
}

func (v *PortalVerifier) submit(ctx context.Context, sess Session, code string) error {
	pf := v.portal.Pin
	last := pf.Selector
	if len(pf.Segments) > 1 {
		err := sess.FillSegments(ctx, pf.Selector, pinformat.Split(code, pf.Segments...))
		switch {
		case err == nil:
		case errors.Is(err, ErrElementNotFound) && pf.FallbackSelector != "":
			if err := sess.Type(ctx, pf.FallbackSelector, code); err != nil {
				return fmt.Errorf("pin input: %w", err)
			}
			last = pf.FallbackSelector
		default:
			return fmt.Errorf("pin inputs: %w", err)
		}
	} else {
		err := sess.Type(ctx, pf.Selector, code)
		if errors.Is(err, ErrElementNotFound) && pf.FallbackSelector != "" {
			err = sess.Type(ctx, pf.FallbackSelector, code)
			last = pf.FallbackSelector
		}
		if err != nil {
			return fmt.Errorf("pin input: %w", err)
		}
	}

	sc := v.portal.Submit
	if sc.Selector != "" {
		ok, err := sess.Click(ctx, sc.Selector)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	if len(sc.Labels) > 0 {
		ok, err := sess.ClickText(ctx, sc.Labels, sc.MaxLen)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	if sc.PressEnter {
		return sess.PressEnter(ctx, last)
	}
	return fmt.Errorf("submit button: %w", ErrElementNotFound)
}

func (v *PortalVerifier) classify(ctx context.Context, sess Session) (domain.VerificationResult, error) {
	var text string
	if v.portal.ReadDialog {
		text = sess.Dialog()
	}
	if text == "" {
		body, err := sess.Text(ctx, "")
		if err != nil {
			return domain.VerificationResult{}, err
		}
		text = body
	}

	c := v.portal.Markers.Classify(text)
	res := domain.VerificationResult{Message: c.Message, Outcome: c.Outcome, FaceValue: c.FaceValue}
	if c.Outcome != domain.OutcomeConfirmed {
		return res, nil
	}

	res.IsValid = true
	res.TransactionID = v.ref()
	if res.FaceValue == 0 && v.portal.Balance != nil {
		res.FaceValue = v.lookupBalance(ctx, sess)
	}
	if res.FaceValue > 0 {
		res.Message = fmt.Sprintf("%s (%s원)", c.Message, FormatWon(res.FaceValue))
	} else {
		res.Message = c.Message + " (금액 확인 불가)"
	}
	return res, nil
}

func (v *PortalVerifier) lookupBalance(ctx context.Context, sess Session) int64 {
	b := v.portal.Balance
	if err := sess.Navigate(ctx, b.URL); err != nil {
		v.logger.Warn("balance page", "err", err)
		return 0
	}
	txt, err := sess.Text(ctx, b.Selector)
	if err != nil {
		v.logger.Warn("balance text", "err", err)
		return 0
	}
	return ExtractAmount(anyAmount, txt)
}

func (v *PortalVerifier) ref() string {
	prefix := v.portal.RefPrefix
	if prefix == "" {
		prefix = strings.ToUpper(string(v.portal.Provider))
	}
	return prefix + "-" + strings.ToUpper(uuid.NewString()[:8])
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
