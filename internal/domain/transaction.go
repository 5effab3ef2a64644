package domain

import "time"

type TxStatus string

const (
	StatusPending         TxStatus = "PENDING"
	StatusVerifying       TxStatus = "VERIFYING"
	StatusVerified        TxStatus = "VERIFIED"
	StatusFailed          TxStatus = "FAILED"
	StatusTransferPending TxStatus = "TRANSFER_PENDING"
	StatusCompleted       TxStatus = "COMPLETED"
	StatusManualReview    TxStatus = "MANUAL_REVIEW"
	StatusCancelled       TxStatus = "CANCELLED"
)

// Terminal reports whether no transition leaves s.
func (s TxStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

func (s TxStatus) Valid() bool {
	switch s {
	case StatusPending, StatusVerifying, StatusVerified, StatusFailed,
		StatusTransferPending, StatusCompleted, StatusManualReview, StatusCancelled:
		return true
	}
	return false
}

type ItemStatus string

const (
	ItemPending   ItemStatus = "PENDING"
	ItemVerifying ItemStatus = "VERIFYING"
	ItemValid     ItemStatus = "VALID"
	ItemInvalid   ItemStatus = "INVALID"
	// ItemReview holds an item the issuer did not clearly confirm or reject.
	ItemReview ItemStatus = "REVIEW"
)

// FailureKind keeps the operator-facing reason an item was not accepted.
type FailureKind string

const (
	FailureNone          FailureKind = ""
	FailureFormat        FailureKind = "FORMAT"
	FailureRejected      FailureKind = "REJECTED"
	FailureAutomation    FailureKind = "AUTOMATION"
	FailureIndeterminate FailureKind = "INDETERMINATE"
	FailureProvisional   FailureKind = "PROVISIONAL"
	FailureUnknownAmount FailureKind = "UNKNOWN_AMOUNT"
)

// Item is one PIN submitted inside a Transaction. Amounts are in KRW.
type Item struct {
	ID           int64
	Seq          int
	PinCode      string
	Status       ItemStatus
	FaceValue    int64
	PayoutShare  int64
	FailureKind  FailureKind
	ErrorMessage string
	ProviderRef  string
}

// Transaction is the unit of payout: every PIN sold together to one account.
type Transaction struct {
	ID              string
	CustomerName    string
	CustomerPhone   string
	VoucherType     VoucherType
	BankName        string
	AccountNumber   string
	AccountHolder   string
	TotalFaceValue  int64
	FeeRate         string
	TransferFee     int64
	PayoutAmount    int64
	PayoutReference string
	Status          TxStatus
	Note            string
	ClientIP        string
	Items           []Item
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ProcessedAt     *time.Time
	CompletedAt     *time.Time
}

// ValidItems returns the items accepted for payout.
func (t *Transaction) ValidItems() []Item {
	var out []Item
	for _, it := range t.Items {
		if it.Status == ItemValid {
			out = append(out, it)
		}
	}
	return out
}

// Event is one row of a transaction's status history.
type Event struct {
	TransactionID string    `json:"transactionId"`
	From          TxStatus  `json:"from"`
	To            TxStatus  `json:"to"`
	Actor         Actor     `json:"actor"`
	Note          string    `json:"note,omitempty"`
	At            time.Time `json:"at"`
}
