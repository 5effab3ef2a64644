package httpd

import (
	"time"

	"voucher_backend/internal/domain"
	"voucher_backend/internal/pinformat"
)

type PurchaseReq struct {
	CustomerName  string   `json:"customerName" validate:"required,max=50"`
	CustomerPhone string   `json:"customerPhone" validate:"required,min=9,max=20"`
	VoucherType   string   `json:"voucherType" validate:"required"`
	Pins          []string `json:"pins" validate:"required,min=1,max=50,dive,required,max=64"`
	BankName      string   `json:"bankName" validate:"required"`
	AccountNumber string   `json:"accountNumber" validate:"required,max=32"`
	AccountHolder string   `json:"accountHolder" validate:"required,max=50"`
}

type PurchaseResp struct {
	TransactionID string `json:"transactionId"`
	Status        string `json:"status"`
	ItemCount     int    `json:"itemCount"`
	Message       string `json:"message"`
}

type VerifyReq struct {
	VoucherType string `json:"voucherType" validate:"required"`
	Pin         string `json:"pin" validate:"required,max=64"`
}

type AccountVerifyReq struct {
	BankName      string `json:"bankName" validate:"required"`
	AccountNumber string `json:"accountNumber" validate:"required,max=32"`
}

type AccountVerifyResp struct {
	HolderName string `json:"holderName"`
}

type CompleteReq struct {
	Reference string `json:"reference" validate:"required,max=100"`
	Note      string `json:"note" validate:"max=500"`
}

type NoteReq struct {
	Note string `json:"note" validate:"max=500"`
}

type ItemResp struct {
	Seq         int    `json:"seq"`
	Pin         string `json:"pin"`
	Status      string `json:"status"`
	FaceValue   int64  `json:"faceValue"`
	PayoutShare int64  `json:"payoutShare"`
	Message     string `json:"message,omitempty"`
	FailureKind string `json:"failureKind,omitempty"`
	ProviderRef string `json:"providerRef,omitempty"`
}

type TxItem struct {
	ID             string     `json:"id"`
	CustomerName   string     `json:"customerName"`
	VoucherType    string     `json:"voucherType"`
	BankName       string     `json:"bankName"`
	AccountNumber  string     `json:"accountNumber"`
	AccountHolder  string     `json:"accountHolder"`
	TotalFaceValue int64      `json:"totalFaceValue"`
	FeeRate        string     `json:"feeRate"`
	TransferFee    int64      `json:"transferFee"`
	PayoutAmount   int64      `json:"payoutAmount"`
	Status         string     `json:"status"`
	CreatedAt      time.Time  `json:"createdAt"`
	ProcessedAt    *time.Time `json:"processedAt,omitempty"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
	Items          []ItemResp `json:"items,omitempty"`
}

// AdminTxItem is the operator view: nothing masked, failure kinds and
// history included.
type AdminTxItem struct {
	TxItem
	CustomerPhone   string         `json:"customerPhone"`
	PayoutReference string         `json:"payoutReference,omitempty"`
	Note            string         `json:"note,omitempty"`
	ClientIP        string         `json:"clientIp,omitempty"`
	History         []domain.Event `json:"history,omitempty"`
}

func toTxItem(t domain.Transaction) TxItem {
	return TxItem{
		ID:             t.ID,
		CustomerName:   t.CustomerName,
		VoucherType:    string(t.VoucherType),
		BankName:       t.BankName,
		AccountNumber:  pinformat.Mask(t.AccountNumber),
		AccountHolder:  t.AccountHolder,
		TotalFaceValue: t.TotalFaceValue,
		FeeRate:        t.FeeRate,
		TransferFee:    t.TransferFee,
		PayoutAmount:   t.PayoutAmount,
		Status:         string(t.Status),
		CreatedAt:      t.CreatedAt,
		ProcessedAt:    t.ProcessedAt,
		CompletedAt:    t.CompletedAt,
	}
}

// toCustomerTx masks PINs and collapses the operator-only failure detail
// into accepted/rejected wording.
func toCustomerTx(t domain.Transaction) TxItem {
	out := toTxItem(t)
	for _, it := range t.Items {
		out.Items = append(out.Items, ItemResp{
			Seq:         it.Seq,
			Pin:         pinformat.Mask(it.PinCode),
			Status:      string(it.Status),
			FaceValue:   it.FaceValue,
			PayoutShare: it.PayoutShare,
			Message:     customerMessage(it),
		})
	}
	return out
}

func customerMessage(it domain.Item) string {
	switch it.Status {
	case domain.ItemValid:
		return "정상"
	case domain.ItemReview:
		return "확인 중"
	case domain.ItemInvalid:
		switch it.FailureKind {
		case domain.FailureFormat:
			return "핀번호 형식 오류"
		case domain.FailureRejected:
			return it.ErrorMessage
		}
		return "인증 실패"
	}
	return ""
}

func toAdminTx(t domain.Transaction, history []domain.Event) AdminTxItem {
	base := toTxItem(t)
	base.AccountNumber = t.AccountNumber
	for _, it := range t.Items {
		base.Items = append(base.Items, ItemResp{
			Seq:         it.Seq,
			Pin:         it.PinCode,
			Status:      string(it.Status),
			FaceValue:   it.FaceValue,
			PayoutShare: it.PayoutShare,
			Message:     it.ErrorMessage,
			FailureKind: string(it.FailureKind),
			ProviderRef: it.ProviderRef,
		})
	}
	return AdminTxItem{
		TxItem:          base,
		CustomerPhone:   t.CustomerPhone,
		PayoutReference: t.PayoutReference,
		Note:            t.Note,
		ClientIP:        t.ClientIP,
		History:         history,
	}
}
