package browser

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"voucher_backend/internal/verifier"
)

var _ verifier.Browser = (*Launcher)(nil)

func TestJSStringEscapes(t *testing.T) {
	got := jsString(`input[name='a"b']`)
	if got != `"input[name='a\"b']"` {
		t.Fatalf("jsString = %s", got)
	}
}

// TestSessionAgainstLocalPage drives a real Chrome against an httptest page.
// It runs only when VOUCHER_CHROME_TEST is set.
func TestSessionAgainstLocalPage(t *testing.T) {
	if os.Getenv("VOUCHER_CHROME_TEST") == "" {
		t.Skip("set VOUCHER_CHROME_TEST=1 to run against a local Chrome")
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<html><body>
<input type="text" id="a"><input type="text" id="b"><input type="hidden" id="h">
<button onclick="document.getElementById('out').innerText='사용가능 ' + document.getElementById('a').value + document.getElementById('b').value + '원'">조회</button>
<div id="out"></div>
</body></html>`))
	}))
	defer srv.Close()

	l := &Launcher{Headless: true, ExecPath: os.Getenv("VOUCHER_CHROME_PATH")}
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	sess, err := l.Open(ctx, verifier.Device{UserAgent: "test", Width: 375, Height: 812, Mobile: true})
	if err != nil {
		t.Fatal(err)
	}
	defer sess.Close()

	if err := sess.Navigate(ctx, srv.URL); err != nil {
		t.Fatal(err)
	}
	if err := sess.FillSegments(ctx, "input", []string{"10", "000"}); err != nil {
		t.Fatal(err)
	}
	if err := sess.FillSegments(ctx, "input", []string{"1", "2", "3"}); err == nil {
		t.Fatal("hidden input must not count as a segment")
	}
	ok, err := sess.ClickText(ctx, []string{"조회"}, 10)
	if err != nil || !ok {
		t.Fatalf("ClickText = %v, %v", ok, err)
	}
	body, err := sess.Text(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(body, "사용가능 10000원") {
		t.Fatalf("body = %q", body)
	}
	if _, err := sess.Text(ctx, "#missing"); err == nil {
		t.Fatal("expected not found")
	}
}
