package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"voucher_backend/internal/domain"

	_ "modernc.org/sqlite"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrStatusConflict means the row was no longer in the expected status.
	ErrStatusConflict = errors.New("status changed concurrently")
)

// timeLayout is fixed width so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

type SQLiteRepo struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteRepo(dsn string) (*SQLiteRepo, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// every connection to :memory: is a separate database
	if strings.Contains(dsn, ":memory:") {
		db.SetMaxOpenConns(1)
	}

	db.Exec("PRAGMA foreign_keys = ON;")
	db.Exec("PRAGMA journal_mode = WAL;")
	db.Exec("PRAGMA busy_timeout = 5000;")

	r := &SQLiteRepo{db: db, now: time.Now}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return r, nil
}

func (r *SQLiteRepo) Close() error {
	return r.db.Close()
}

// Ping is used by the health check.
func (r *SQLiteRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLiteRepo) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS transactions(
			id TEXT PRIMARY KEY,
			customer_name TEXT NOT NULL,
			customer_phone TEXT NOT NULL,
			voucher_type TEXT NOT NULL,
			bank_name TEXT NOT NULL,
			account_number TEXT NOT NULL,
			account_holder TEXT NOT NULL,
			total_face_value INTEGER NOT NULL DEFAULT 0,
			fee_rate TEXT NOT NULL DEFAULT '',
			transfer_fee INTEGER NOT NULL DEFAULT 0,
			payout_amount INTEGER NOT NULL DEFAULT 0,
			payout_reference TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			note TEXT NOT NULL DEFAULT '',
			client_ip TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			processed_at TEXT,
			completed_at TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_tx_status_updated ON transactions(status, updated_at);
		CREATE INDEX IF NOT EXISTS idx_tx_phone ON transactions(customer_phone);

		CREATE TABLE IF NOT EXISTS transaction_items(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			transaction_id TEXT NOT NULL REFERENCES transactions(id),
			seq INTEGER NOT NULL,
			pin_code TEXT NOT NULL,
			status TEXT NOT NULL,
			face_value INTEGER NOT NULL DEFAULT 0,
			payout_share INTEGER NOT NULL DEFAULT 0,
			failure_kind TEXT NOT NULL DEFAULT '',
			error_message TEXT NOT NULL DEFAULT '',
			provider_ref TEXT NOT NULL DEFAULT '',
			UNIQUE(transaction_id, seq)
		);

		CREATE TABLE IF NOT EXISTS transaction_events(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			transaction_id TEXT NOT NULL REFERENCES transactions(id),
			from_status TEXT NOT NULL,
			to_status TEXT NOT NULL,
			actor TEXT NOT NULL,
			note TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_events_tx ON transaction_events(transaction_id);
	`
	_, err := r.db.Exec(schema)
	return err
}

// InsertTransaction stores a new transaction and its items in one database
// transaction and fills in the item ids.
func (r *SQLiteRepo) InsertTransaction(ctx context.Context, t *domain.Transaction) error {
	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer dbTx.Rollback()

	q := `
		INSERT INTO transactions(
			id,
			customer_name,
			customer_phone,
			voucher_type,
			bank_name,
			account_number,
			account_holder,
			total_face_value,
			fee_rate,
			transfer_fee,
			payout_amount,
			payout_reference,
			status,
			note,
			client_ip,
			created_at,
			updated_at,
			processed_at,
			completed_at
		)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
	`
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}
	if _, err := dbTx.ExecContext(
		ctx, q,
		t.ID,
		t.CustomerName,
		t.CustomerPhone,
		string(t.VoucherType),
		t.BankName,
		t.AccountNumber,
		t.AccountHolder,
		t.TotalFaceValue,
		t.FeeRate,
		t.TransferFee,
		t.PayoutAmount,
		t.PayoutReference,
		string(t.Status),
		t.Note,
		t.ClientIP,
		formatTime(t.CreatedAt),
		formatTime(t.UpdatedAt),
		formatTimePtr(t.ProcessedAt),
		formatTimePtr(t.CompletedAt),
	); err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}

	itemQ := `
		INSERT INTO transaction_items(
			transaction_id, seq, pin_code, status, face_value, payout_share, failure_kind, error_message, provider_ref
		)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?);
	`
	for i := range t.Items {
		it := &t.Items[i]
		res, err := dbTx.ExecContext(ctx, itemQ,
			t.ID, it.Seq, it.PinCode, string(it.Status), it.FaceValue, it.PayoutShare,
			string(it.FailureKind), it.ErrorMessage, it.ProviderRef,
		)
		if err != nil {
			return fmt.Errorf("insert item %d: %w", it.Seq, err)
		}
		if it.ID, err = res.LastInsertId(); err != nil {
			return err
		}
	}

	return dbTx.Commit()
}

const txColumns = `
	id,
	customer_name,
	customer_phone,
	voucher_type,
	bank_name,
	account_number,
	account_holder,
	total_face_value,
	fee_rate,
	transfer_fee,
	payout_amount,
	payout_reference,
	status,
	note,
	client_ip,
	created_at,
	updated_at,
	processed_at,
	completed_at
`

// GetTransaction returns a transaction with its items in submission order.
func (r *SQLiteRepo) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+txColumns+" FROM transactions WHERE id = ?", id)
	t, err := scanTx(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if t.Items, err = r.items(ctx, id); err != nil {
		return nil, err
	}
	return t, nil
}

func (r *SQLiteRepo) items(ctx context.Context, txID string) ([]domain.Item, error) {
	q := `
		SELECT id, seq, pin_code, status, face_value, payout_share, failure_kind, error_message, provider_ref
		FROM transaction_items WHERE transaction_id = ? ORDER BY seq
	`
	rows, err := r.db.QueryContext(ctx, q, txID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []domain.Item
	for rows.Next() {
		var it domain.Item
		var status, kind string
		if err := rows.Scan(&it.ID, &it.Seq, &it.PinCode, &status, &it.FaceValue, &it.PayoutShare, &kind, &it.ErrorMessage, &it.ProviderRef); err != nil {
			return nil, err
		}
		it.Status = domain.ItemStatus(status)
		it.FailureKind = domain.FailureKind(kind)
		res = append(res, it)
	}
	return res, rows.Err()
}

// UpdateItem writes the verification outcome of one item and touches the
// parent's updated_at. Items are only writable while the parent is VERIFYING;
// otherwise it fails with ErrStatusConflict.
func (r *SQLiteRepo) UpdateItem(ctx context.Context, it domain.Item) error {
	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer dbTx.Rollback()

	q := `
		UPDATE transaction_items
		SET status = ?, face_value = ?, payout_share = ?, failure_kind = ?, error_message = ?, provider_ref = ?
		WHERE id = ?
		AND (SELECT status FROM transactions WHERE id = transaction_items.transaction_id) = ?
	`
	res, err := dbTx.ExecContext(ctx, q,
		string(it.Status), it.FaceValue, it.PayoutShare, string(it.FailureKind), it.ErrorMessage, it.ProviderRef,
		it.ID, string(domain.StatusVerifying),
	)
	if err != nil {
		return fmt.Errorf("update item %d: %w", it.ID, err)
	}

	aff, _ := res.RowsAffected()
	if aff == 0 {
		var status string
		err := dbTx.QueryRowContext(ctx, `
			SELECT t.status FROM transaction_items i JOIN transactions t ON t.id = i.transaction_id
			WHERE i.id = ?
		`, it.ID).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: item %d belongs to a %s transaction", ErrStatusConflict, it.ID, status)
	}

	if _, err := dbTx.ExecContext(ctx,
		`UPDATE transactions SET updated_at = ? WHERE id = (SELECT transaction_id FROM transaction_items WHERE id = ?)`,
		formatTime(r.now()), it.ID,
	); err != nil {
		return fmt.Errorf("touch transaction of item %d: %w", it.ID, err)
	}
	return dbTx.Commit()
}

// Totals are the payout figures fixed when verification finishes.
type Totals struct {
	TotalFaceValue int64
	FeeRate        string
	TransferFee    int64
	PayoutAmount   int64
}

// StatusChange describes one compare-and-set status update and the columns
// written with it.
type StatusChange struct {
	From  domain.TxStatus
	To    domain.TxStatus
	Actor domain.Actor
	Note  string

	Totals          *Totals
	PayoutReference *string
	Processed       bool
	Completed       bool
}

// UpdateStatus moves a transaction from ch.From to ch.To and records the
// event. It fails with ErrStatusConflict when the stored status is not
// ch.From, so concurrent writers cannot both advance the same transaction.
func (r *SQLiteRepo) UpdateStatus(ctx context.Context, id string, ch StatusChange) (domain.Event, error) {
	at := r.now()
	ev := domain.Event{TransactionID: id, From: ch.From, To: ch.To, Actor: ch.Actor, Note: ch.Note, At: at}

	sets := []string{"status = ?", "updated_at = ?"}
	args := []any{string(ch.To), formatTime(at)}
	if ch.Note != "" {
		sets = append(sets, "note = ?")
		args = append(args, ch.Note)
	}
	if ch.Totals != nil {
		sets = append(sets, "total_face_value = ?", "fee_rate = ?", "transfer_fee = ?", "payout_amount = ?")
		args = append(args, ch.Totals.TotalFaceValue, ch.Totals.FeeRate, ch.Totals.TransferFee, ch.Totals.PayoutAmount)
	}
	if ch.PayoutReference != nil {
		sets = append(sets, "payout_reference = ?")
		args = append(args, *ch.PayoutReference)
	}
	if ch.Processed {
		sets = append(sets, "processed_at = ?")
		args = append(args, formatTime(at))
	}
	if ch.Completed {
		sets = append(sets, "completed_at = ?")
		args = append(args, formatTime(at))
	}
	args = append(args, id, string(ch.From))

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return ev, err
	}
	defer dbTx.Rollback()

	q := "UPDATE transactions SET " + strings.Join(sets, ", ") + " WHERE id = ? AND status = ?"
	res, err := dbTx.ExecContext(ctx, q, args...)
	if err != nil {
		return ev, fmt.Errorf("update status %s: %w", id, err)
	}

	aff, _ := res.RowsAffected()
	if aff == 0 {
		var current string
		err := dbTx.QueryRowContext(ctx, "SELECT status FROM transactions WHERE id = ?", id).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return ev, ErrNotFound
		}
		if err != nil {
			return ev, err
		}
		return ev, fmt.Errorf("%w: %s is %s, expected %s", ErrStatusConflict, id, current, ch.From)
	}

	if _, err := dbTx.ExecContext(ctx,
		`INSERT INTO transaction_events(transaction_id, from_status, to_status, actor, note, created_at) VALUES(?, ?, ?, ?, ?, ?)`,
		id, string(ch.From), string(ch.To), string(ch.Actor), ch.Note, formatTime(at),
	); err != nil {
		return ev, fmt.Errorf("insert event: %w", err)
	}

	return ev, dbTx.Commit()
}

// Events returns the status history of a transaction, oldest first.
func (r *SQLiteRepo) Events(ctx context.Context, id string) ([]domain.Event, error) {
	q := `
		SELECT transaction_id, from_status, to_status, actor, note, created_at
		FROM transaction_events WHERE transaction_id = ? ORDER BY id
	`
	rows, err := r.db.QueryContext(ctx, q, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []domain.Event
	for rows.Next() {
		var ev domain.Event
		var from, to, actor, at string
		if err := rows.Scan(&ev.TransactionID, &from, &to, &actor, &ev.Note, &at); err != nil {
			return nil, err
		}
		ev.From, ev.To, ev.Actor = domain.TxStatus(from), domain.TxStatus(to), domain.Actor(actor)
		if ev.At, err = time.Parse(time.RFC3339Nano, at); err != nil {
			return nil, fmt.Errorf("parse event time: %w", err)
		}
		res = append(res, ev)
	}
	return res, rows.Err()
}

type TxFilter struct {
	Status      domain.TxStatus
	VoucherType domain.VoucherType
	// Customer matches the customer name or phone exactly.
	Customer string
}

func (r *SQLiteRepo) ListTransactions(ctx context.Context, f TxFilter, limit, offset int) ([]domain.Transaction, error) {
	q := "SELECT " + txColumns + " FROM transactions WHERE 1 = 1"
	args := []any{}

	if f.Status != "" {
		q += " AND status = ?"
		args = append(args, string(f.Status))
	}

	if f.VoucherType != "" {
		q += " AND voucher_type = ?"
		args = append(args, string(f.VoucherType))
	}

	if f.Customer != "" {
		q += " AND (customer_name = ? OR customer_phone = ?)"
		args = append(args, f.Customer, f.Customer)
	}

	q += " ORDER BY created_at DESC, id LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	return r.query(ctx, q, args...)
}

// LookupOrders finds a customer's transactions created since the given time,
// newest first. The name may match either the customer or the account
// holder; the phone is compared on digits only.
func (r *SQLiteRepo) LookupOrders(ctx context.Context, name, phoneDigits string, since time.Time) ([]domain.Transaction, error) {
	q := "SELECT " + txColumns + ` FROM transactions
		WHERE (customer_name = ? OR account_holder = ?)
		AND REPLACE(REPLACE(customer_phone, '-', ''), ' ', '') = ?
		AND created_at >= ?
		ORDER BY created_at DESC`
	return r.query(ctx, q, name, name, phoneDigits, formatTime(since))
}

// Stale lists transactions left in status since before the cutoff.
func (r *SQLiteRepo) Stale(ctx context.Context, status domain.TxStatus, before time.Time) ([]domain.Transaction, error) {
	q := "SELECT " + txColumns + " FROM transactions WHERE status = ? AND updated_at < ? ORDER BY updated_at"
	return r.query(ctx, q, string(status), formatTime(before))
}

func (r *SQLiteRepo) query(ctx context.Context, q string, args ...any) ([]domain.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []domain.Transaction
	for rows.Next() {
		t, err := scanTx(rows)
		if err != nil {
			return nil, err
		}

		res = append(res, *t)
	}

	return res, rows.Err()
}

func scanTx(scanner interface {
	Scan(dest ...any) error
}) (*domain.Transaction, error) {
	var t domain.Transaction
	var voucherType, status string
	var createdStr, updatedStr string
	var processedStr, completedStr *string

	if err := scanner.Scan(
		&t.ID,
		&t.CustomerName,
		&t.CustomerPhone,
		&voucherType,
		&t.BankName,
		&t.AccountNumber,
		&t.AccountHolder,
		&t.TotalFaceValue,
		&t.FeeRate,
		&t.TransferFee,
		&t.PayoutAmount,
		&t.PayoutReference,
		&status,
		&t.Note,
		&t.ClientIP,
		&createdStr,
		&updatedStr,
		&processedStr,
		&completedStr,
	); err != nil {
		return nil, err
	}

	t.VoucherType = domain.VoucherType(voucherType)
	t.Status = domain.TxStatus(status)

	var err error
	if t.CreatedAt, err = time.Parse(time.RFC3339Nano, createdStr); err != nil {
		return nil, fmt.Errorf("parse created time: %w", err)
	}
	if t.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedStr); err != nil {
		return nil, fmt.Errorf("parse updated time: %w", err)
	}
	if t.ProcessedAt, err = parseTimePtr(processedStr); err != nil {
		return nil, fmt.Errorf("parse processed time: %w", err)
	}
	if t.CompletedAt, err = parseTimePtr(completedStr); err != nil {
		return nil, fmt.Errorf("parse completed time: %w", err)
	}

	return &t, nil
}

func parseTimePtr(s *string) (*time.Time, error) {
	if s == nil {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, *s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
