package payout

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"sync"
	"time"

	"voucher_backend/internal/domain"
)

const (
	portoneBaseURL      = "https://api.iamport.kr"
	portoneTransferPath = "/transfers/bank"
	portoneMaxRetries   = 3
	portoneInitialDelay = 500 * time.Millisecond
	// tokenSkew renews the access token this long before it expires.
	tokenSkew = time.Minute
)

// PortOne talks to the PortOne (I'mport) REST API.
type PortOne struct {
	baseURL      string
	transferPath string
	apiKey       string
	apiSecret    string
	client       *http.Client
	logger       *slog.Logger
	now          func() time.Time
	retryDelay   time.Duration

	mu      sync.Mutex
	token   string
	expires time.Time
}

type PortOneConfig struct {
	BaseURL      string
	TransferPath string
	APIKey       string
	APISecret    string
	Timeout      time.Duration
	Logger       *slog.Logger
}

func NewPortOne(cfg PortOneConfig) *PortOne {
	if cfg.BaseURL == "" {
		cfg.BaseURL = portoneBaseURL
	}
	if cfg.TransferPath == "" {
		cfg.TransferPath = portoneTransferPath
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &PortOne{
		baseURL:      cfg.BaseURL,
		transferPath: cfg.TransferPath,
		apiKey:       cfg.APIKey,
		apiSecret:    cfg.APISecret,
		client:       &http.Client{Timeout: cfg.Timeout},
		logger:       cfg.Logger,
		now:          time.Now,
		retryDelay:   portoneInitialDelay,
	}
}

type envelope struct {
	Code     int             `json:"code"`
	Message  string          `json:"message"`
	Response json.RawMessage `json:"response"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiredAt   int64  `json:"expired_at"`
	Now         int64  `json:"now"`
}

type holderResponse struct {
	BankHolder string `json:"bank_holder"`
}

type transferRequest struct {
	BankCode    string `json:"bank_code"`
	BankNum     string `json:"bank_num"`
	Amount      int64  `json:"amount"`
	Holder      string `json:"holder"`
	MerchantUID string `json:"merchant_uid"`
}

type transferResponse struct {
	TransferID string `json:"transfer_id"`
}

// APIError is a non-zero PortOne result code or an HTTP failure.
type APIError struct {
	Status  int
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("portone error (http %d, code %d): %s", e.Status, e.Code, e.Message)
}

func (e *APIError) retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// accessToken returns the cached token or exchanges the API key for a new one.
func (c *PortOne) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && c.now().Add(tokenSkew).Before(c.expires) {
		return c.token, nil
	}
	if c.apiKey == "" || c.apiSecret == "" {
		return "", ErrNotConfigured
	}

	body, err := json.Marshal(map[string]string{"imp_key": c.apiKey, "imp_secret": c.apiSecret})
	if err != nil {
		return "", fmt.Errorf("failed to marshal token request: %w", err)
	}
	var tr tokenResponse
	if err := c.call(ctx, http.MethodPost, "/users/getToken", body, "", true, &tr); err != nil {
		return "", fmt.Errorf("인증 토큰 발급 실패: %w", err)
	}
	c.token = tr.AccessToken
	// expired_at is in the server's clock; keep only the remaining lifetime.
	c.expires = c.now().Add(time.Duration(tr.ExpiredAt-tr.Now) * time.Second)
	return c.token, nil
}

// VerifyHolder resolves the account holder name for a bank and account.
func (c *PortOne) VerifyHolder(ctx context.Context, bank, accountNumber string) (string, error) {
	b, ok := LookupBank(bank)
	if !ok {
		return "", ErrUnsupportedBank
	}
	token, err := c.accessToken(ctx)
	if err != nil {
		return "", err
	}
	q := url.Values{"bank_code": {b.Code}, "bank_num": {accountNumber}}
	var hr holderResponse
	if err := c.call(ctx, http.MethodGet, "/vbanks/holder?"+q.Encode(), nil, token, true, &hr); err != nil {
		return "", err
	}
	return hr.BankHolder, nil
}

// Execute sends one bank transfer. The transfer request is never retried; a
// transport error leaves the outcome unknown and is reported as a failure.
func (c *PortOne) Execute(ctx context.Context, req domain.PayoutRequest) domain.PayoutResult {
	b, ok := LookupBank(req.BankName)
	if !ok {
		return domain.PayoutResult{Error: ErrUnsupportedBank.Error()}
	}
	token, err := c.accessToken(ctx)
	if err != nil {
		return domain.PayoutResult{Error: err.Error()}
	}
	body, err := json.Marshal(transferRequest{
		BankCode:    b.Code,
		BankNum:     req.AccountNumber,
		Amount:      req.Amount,
		Holder:      req.HolderName,
		MerchantUID: req.TransactionID,
	})
	if err != nil {
		return domain.PayoutResult{Error: err.Error()}
	}

	var tr transferResponse
	if err := c.call(ctx, http.MethodPost, c.transferPath, body, token, false, &tr); err != nil {
		c.logger.Error("payout transfer failed", "transaction", req.TransactionID, "err", err)
		return domain.PayoutResult{Error: err.Error()}
	}
	c.logger.Info("payout transfer sent", "transaction", req.TransactionID, "transfer", tr.TransferID, "amount", req.Amount)
	return domain.PayoutResult{Success: true, TxID: tr.TransferID}
}

func (c *PortOne) call(ctx context.Context, method, path string, body []byte, token string, retry bool, out any) error {
	attempts := 1
	if retry {
		attempts = portoneMaxRetries
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := time.Duration(math.Pow(2, float64(attempt-1))) * c.retryDelay
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		var rdr io.Reader
		if body != nil {
			rdr = bytes.NewReader(body)
		}
		httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		if token != "" {
			httpReq.Header.Set("Authorization", "Bearer "+token)
		}

		resp, err := c.client.Do(httpReq)
		if err != nil {
			lastErr = fmt.Errorf("HTTP request failed: %w", err)
			continue
		}
		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("failed to read response body: %w", err)
			continue
		}

		var env envelope
		if jerr := json.Unmarshal(respBody, &env); jerr != nil {
			lastErr = &APIError{Status: resp.StatusCode, Code: -1, Message: string(respBody)}
		} else if resp.StatusCode != http.StatusOK || env.Code != 0 {
			lastErr = &APIError{Status: resp.StatusCode, Code: env.Code, Message: env.Message}
		} else {
			if out == nil || len(env.Response) == 0 {
				return nil
			}
			if err := json.Unmarshal(env.Response, out); err != nil {
				return fmt.Errorf("failed to decode response: %w", err)
			}
			return nil
		}

		if apiErr, ok := lastErr.(*APIError); ok && !apiErr.retryable() {
			return lastErr
		}
	}
	return lastErr
}
