// Package browser runs issuer portal sessions in headless Chrome.
package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"

	"voucher_backend/internal/verifier"
)

// Launcher starts one Chrome process per session, each with its own
// throwaway profile directory.
type Launcher struct {
	Headless bool
	ExecPath string
	// OpTimeout bounds a single page action when the caller has no deadline.
	OpTimeout time.Duration
	Logger    *slog.Logger
}

func (l *Launcher) Open(ctx context.Context, device verifier.Device) (verifier.Session, error) {
	dir, err := os.MkdirTemp("", "voucher-chrome-*")
	if err != nil {
		return nil, fmt.Errorf("profile dir: %w", err)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", l.Headless),
		chromedp.NoSandbox,
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.UserDataDir(dir),
		chromedp.UserAgent(device.UserAgent),
		chromedp.WindowSize(device.Width, device.Height),
	)
	if l.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(l.ExecPath))
	}

	// The browser outlives individual page actions; each action is bounded by
	// the caller's context instead.
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.WithoutCancel(ctx), opts...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)

	s := &session{
		tab:       tabCtx,
		cancel:    func() { cancelTab(); cancelAlloc() },
		dir:       dir,
		opTimeout: l.OpTimeout,
		logger:    l.Logger,
	}
	if s.opTimeout <= 0 {
		s.opTimeout = 30 * time.Second
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		e, ok := ev.(*page.EventJavascriptDialogOpening)
		if !ok {
			return
		}
		s.mu.Lock()
		s.dialog = e.Message
		s.mu.Unlock()
		go func() {
			if err := chromedp.Run(tabCtx, page.HandleJavaScriptDialog(true)); err != nil {
				s.logger.Debug("dismiss dialog", "err", err)
			}
		}()
	})

	viewport := []chromedp.EmulateViewportOption{}
	if device.Mobile {
		viewport = append(viewport, chromedp.EmulateMobile, chromedp.EmulateTouch)
	}
	if err := s.run(ctx, chromedp.EmulateViewport(int64(device.Width), int64(device.Height), viewport...)); err != nil {
		s.Close()
		return nil, fmt.Errorf("start chrome: %w", err)
	}
	return s, nil
}

type session struct {
	tab       context.Context
	cancel    func()
	dir       string
	opTimeout time.Duration
	logger    *slog.Logger

	mu     sync.Mutex
	dialog string
	closed bool
}

// run executes actions on the tab, bounded by ctx's deadline and
// cancellation.
func (s *session) run(ctx context.Context, actions ...chromedp.Action) error {
	timeout := s.opTimeout
	if dl, ok := ctx.Deadline(); ok {
		timeout = time.Until(dl)
	}
	if timeout <= 0 {
		return context.DeadlineExceeded
	}
	opCtx, cancel := context.WithTimeout(s.tab, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	if err := chromedp.Run(opCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

func (s *session) Navigate(ctx context.Context, url string) error {
	return s.run(ctx, chromedp.Navigate(url), chromedp.WaitReady("body", chromedp.ByQuery))
}

func (s *session) CurrentURL(ctx context.Context) (string, error) {
	var u string
	err := s.run(ctx, chromedp.Location(&u))
	return u, err
}

func (s *session) exists(ctx context.Context, selector string) (bool, error) {
	var ok bool
	err := s.run(ctx, chromedp.Evaluate(fmt.Sprintf("document.querySelector(%s) !== null", jsString(selector)), &ok))
	return ok, err
}

func (s *session) Type(ctx context.Context, selector, text string) error {
	ok, err := s.exists(ctx, selector)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s: %w", selector, verifier.ErrElementNotFound)
	}
	return s.run(ctx,
		chromedp.Clear(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, text, chromedp.ByQuery),
	)
}

// markVisible tags the visible elements matching selector with a sequential
// data attribute and returns how many there are.
const markVisible = `(function(sel){
  var n = 0;
  document.querySelectorAll(sel).forEach(function(el){
    var r = el.getBoundingClientRect();
    if (el.type === 'hidden' || r.width === 0 || r.height === 0) { return; }
    el.setAttribute('data-voucher-seg', String(n));
    n++;
  });
  return n;
})(%s)`

func (s *session) FillSegments(ctx context.Context, selector string, values []string) error {
	var n int
	if err := s.run(ctx, chromedp.Evaluate(fmt.Sprintf(markVisible, jsString(selector)), &n)); err != nil {
		return err
	}
	if n < len(values) {
		return fmt.Errorf("%d of %d inputs: %w", n, len(values), verifier.ErrElementNotFound)
	}
	actions := make([]chromedp.Action, 0, len(values))
	for i, v := range values {
		actions = append(actions, chromedp.SendKeys(fmt.Sprintf("[data-voucher-seg='%d']", i), v, chromedp.ByQuery))
	}
	return s.run(ctx, actions...)
}

func (s *session) Click(ctx context.Context, selector string) (bool, error) {
	ok, err := s.exists(ctx, selector)
	if err != nil || !ok {
		return false, err
	}
	return true, s.run(ctx, chromedp.Click(selector, chromedp.ByQuery))
}

const clickByText = `(function(labels, maxLen){
  var els = document.querySelectorAll("a, button, input[type='button'], input[type='submit']");
  for (var i = 0; i < els.length; i++) {
    var t = (els[i].innerText || els[i].value || '').trim();
    if (!t || (maxLen > 0 && t.length >= maxLen)) { continue; }
    for (var j = 0; j < labels.length; j++) {
      if (t.indexOf(labels[j]) !== -1) { els[i].click(); return true; }
    }
  }
  return false;
})(%s, %d)`

func (s *session) ClickText(ctx context.Context, labels []string, maxLen int) (bool, error) {
	raw, err := json.Marshal(labels)
	if err != nil {
		return false, err
	}
	var clicked bool
	err = s.run(ctx, chromedp.Evaluate(fmt.Sprintf(clickByText, raw, maxLen), &clicked))
	return clicked, err
}

func (s *session) PressEnter(ctx context.Context, selector string) error {
	return s.run(ctx, chromedp.SendKeys(selector, kb.Enter, chromedp.ByQuery))
}

func (s *session) Text(ctx context.Context, selector string) (string, error) {
	var txt string
	if selector == "" {
		err := s.run(ctx, chromedp.Evaluate(`document.body ? document.body.innerText : ""`, &txt))
		return txt, err
	}
	ok, err := s.exists(ctx, selector)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%s: %w", selector, verifier.ErrElementNotFound)
	}
	err = s.run(ctx, chromedp.Text(selector, &txt, chromedp.ByQuery))
	return txt, err
}

func (s *session) Dialog() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dialog
}

// Close kills the browser and removes its profile. Safe to call twice.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	return os.RemoveAll(s.dir)
}

func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
