package httpd

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"

	"voucher_backend/internal/domain"
	"voucher_backend/internal/payout"
	"voucher_backend/internal/repository"
	"voucher_backend/internal/usecase"
	"voucher_backend/internal/verifier"
)

// Enqueuer hands a created transaction to background processing.
type Enqueuer interface {
	Enqueue(id string) error
}

// Pinger reports storage health.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	svc      *usecase.Service
	queue    Enqueuer
	health   Pinger
	validate *validator.Validate
	logger   *slog.Logger
}

func NewHandler(svc *usecase.Service, queue Enqueuer, health Pinger, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		svc:      svc,
		queue:    queue,
		health:   health,
		validate: validator.New(),
		logger:   logger,
	}
}

func (h *Handler) Routes(sig SigConfig, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", "X-Timestamp", "X-Signature"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", h.Healthz)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/rates", h.Rates)
		r.Post("/purchases", h.Purchase)
		r.Get("/transactions/{id}", h.GetTransaction)
		r.Post("/verify", h.VerifyPin)
		r.Post("/accounts/verify", h.VerifyAccount)
		r.Get("/orders/lookup", h.LookupOrders)

		r.Route("/admin", func(r chi.Router) {
			r.Use(SignatureMiddleware(sig))
			r.Get("/transactions", h.ListTransactions)
			r.Get("/transactions/{id}", h.AdminTransaction)
			r.Post("/transactions/{id}/complete", h.Complete)
			r.Post("/transactions/{id}/retry-payout", h.RetryPayout)
			r.Post("/transactions/{id}/cancel", h.Cancel)
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

type apiErr struct {
	Status int
	Msg    string
}

func (e *apiErr) Error() string { return e.Msg }

// toAPIErr maps service errors to a status code and a message safe to show.
func toAPIErr(err error) *apiErr {
	var blocked *usecase.BlockedError
	switch {
	case errors.As(err, &blocked):
		return &apiErr{Status: http.StatusForbidden, Msg: blocked.Reason}
	case errors.Is(err, repository.ErrNotFound):
		return &apiErr{Status: http.StatusNotFound, Msg: "transaction not found"}
	case errors.Is(err, verifier.ErrUnregisteredType):
		return &apiErr{Status: http.StatusBadRequest, Msg: "지원하지 않는 상품권 종류입니다."}
	case errors.Is(err, payout.ErrUnsupportedBank):
		return &apiErr{Status: http.StatusBadRequest, Msg: err.Error()}
	case errors.Is(err, usecase.ErrPayoutInFlight),
		errors.Is(err, domain.ErrIllegalTransition),
		errors.Is(err, repository.ErrStatusConflict):
		return &apiErr{Status: http.StatusConflict, Msg: err.Error()}
	case errors.Is(err, payout.ErrNotConfigured):
		return &apiErr{Status: http.StatusServiceUnavailable, Msg: "payout provider not configured"}
	}
	return &apiErr{Status: http.StatusInternalServerError, Msg: "internal error"}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	e := toAPIErr(err)
	if e.Status >= 500 {
		h.logger.Error("request failed", "path", r.URL.Path, "err", err)
	}
	writeJSON(w, e.Status, map[string]string{"error": e.Msg})
}

// decode reads and validates a JSON body. An empty body is allowed when
// optional is set.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any, optional bool) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !(optional && errors.Is(err, io.EOF)) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return false
	}
	return true
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// POST /api/v1/purchases
func (h *Handler) Purchase(w http.ResponseWriter, r *http.Request) {
	var req PurchaseReq
	if !h.decode(w, r, &req, false) {
		return
	}

	tx, err := h.svc.Submit(r.Context(), usecase.PurchaseInput{
		CustomerName:  req.CustomerName,
		CustomerPhone: req.CustomerPhone,
		VoucherType:   req.VoucherType,
		Pins:          req.Pins,
		BankName:      req.BankName,
		AccountNumber: req.AccountNumber,
		AccountHolder: req.AccountHolder,
		ClientIP:      clientIP(r),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	if err := h.queue.Enqueue(tx.ID); err != nil {
		// the recovery sweep picks up PENDING transactions
		h.logger.Warn("transaction not queued", "tx_id", tx.ID, "err", err)
	}

	writeJSON(w, http.StatusAccepted, PurchaseResp{
		TransactionID: tx.ID,
		Status:        string(tx.Status),
		ItemCount:     len(tx.Items),
		Message:       "매입 신청이 접수되었습니다.",
	})
}

// GET /api/v1/transactions/{id}
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	tx, _, err := h.svc.Transaction(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCustomerTx(*tx))
}

// POST /api/v1/verify
func (h *Handler) VerifyPin(w http.ResponseWriter, r *http.Request) {
	var req VerifyReq
	if !h.decode(w, r, &req, false) {
		return
	}
	writeJSON(w, http.StatusOK, h.svc.VerifySingle(r.Context(), req.VoucherType, req.Pin))
}

// POST /api/v1/accounts/verify
func (h *Handler) VerifyAccount(w http.ResponseWriter, r *http.Request) {
	var req AccountVerifyReq
	if !h.decode(w, r, &req, false) {
		return
	}

	name, err := h.svc.VerifyHolder(r.Context(), req.BankName, req.AccountNumber)
	if err != nil {
		if errors.Is(err, payout.ErrUnsupportedBank) || errors.Is(err, payout.ErrNotConfigured) {
			h.fail(w, r, err)
			return
		}
		h.logger.Warn("holder lookup failed", "bank", req.BankName, "err", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "예금주 조회에 실패했습니다."})
		return
	}
	writeJSON(w, http.StatusOK, AccountVerifyResp{HolderName: name})
}

// GET /api/v1/orders/lookup?name=&phone=
func (h *Handler) LookupOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	name, phone := q.Get("name"), q.Get("phone")
	if name == "" || phone == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name and phone are required"})
		return
	}

	txs, err := h.svc.LookupOrders(r.Context(), name, phone)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	out := make([]TxItem, 0, len(txs))
	for _, t := range txs {
		out = append(out, toTxItem(t))
	}
	writeJSON(w, http.StatusOK, out)
}

// GET /api/v1/rates
func (h *Handler) Rates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Rates())
}

// GET /api/v1/admin/transactions?status=&voucherType=&customer=&limit=&offset=
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repository.TxFilter{Customer: q.Get("customer")}
	if st := q.Get("status"); st != "" {
		filter.Status = domain.TxStatus(st)
		if !filter.Status.Valid() {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown status"})
			return
		}
	}
	if vt := q.Get("voucherType"); vt != "" {
		parsed, ok := domain.ParseVoucherType(vt)
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown voucher type"})
			return
		}
		filter.VoucherType = parsed
	}

	limit := 50
	offset := 0
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	items, err := h.svc.List(r.Context(), filter, limit, offset)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	out := make([]AdminTxItem, 0, len(items))
	for _, t := range items {
		out = append(out, toAdminTx(t, nil))
	}
	writeJSON(w, http.StatusOK, out)
}

// GET /api/v1/admin/transactions/{id}
func (h *Handler) AdminTransaction(w http.ResponseWriter, r *http.Request) {
	h.writeAdminTx(w, r, chi.URLParam(r, "id"))
}

func (h *Handler) writeAdminTx(w http.ResponseWriter, r *http.Request, id string) {
	tx, history, err := h.svc.Transaction(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAdminTx(*tx, history))
}

// POST /api/v1/admin/transactions/{id}/complete
func (h *Handler) Complete(w http.ResponseWriter, r *http.Request) {
	var req CompleteReq
	if !h.decode(w, r, &req, false) {
		return
	}
	id := chi.URLParam(r, "id")
	if _, err := h.svc.Complete(r.Context(), id, req.Reference, req.Note); err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeAdminTx(w, r, id)
}

// POST /api/v1/admin/transactions/{id}/retry-payout
func (h *Handler) RetryPayout(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.svc.RetryPayout(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeAdminTx(w, r, id)
}

// POST /api/v1/admin/transactions/{id}/cancel
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req NoteReq
	if !h.decode(w, r, &req, true) {
		return
	}
	id := chi.URLParam(r, "id")
	if _, err := h.svc.Cancel(r.Context(), id, req.Note); err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeAdminTx(w, r, id)
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.health.Ping(ctx); err != nil {
			h.logger.Error("health probe failed", "err", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
