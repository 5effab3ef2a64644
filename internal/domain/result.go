package domain

// Outcome classifies what an issuer said about a PIN.
type Outcome string

const (
	// OutcomeConfirmed means the issuer recognised the PIN as redeemable.
	OutcomeConfirmed Outcome = "CONFIRMED"
	// OutcomeRejected means the issuer said used, wrong or not found.
	OutcomeRejected Outcome = "REJECTED"
	// OutcomeIndeterminate means the automation ran but the page matched no
	// known marker.
	OutcomeIndeterminate Outcome = "INDETERMINATE"
	// OutcomeProvisional is the soft-verification path: the issuer portal
	// could not be driven and only the PIN shape was checked.
	OutcomeProvisional Outcome = "PROVISIONAL"
	// OutcomeFailed is an automation or transport failure.
	OutcomeFailed Outcome = "FAILED"
)

// VerificationResult is what a verifier reports for one PIN.
type VerificationResult struct {
	IsValid       bool    `json:"isValid"`
	FaceValue     int64   `json:"faceValue"`
	Message       string  `json:"message"`
	TransactionID string  `json:"transactionId,omitempty"`
	Outcome       Outcome `json:"outcome"`
}

// Rejected builds a result for a PIN the issuer refused.
func Rejected(msg string) VerificationResult {
	return VerificationResult{Message: msg, Outcome: OutcomeRejected}
}

// Failed builds a result for a verification that could not run to completion.
func Failed(detail string) VerificationResult {
	return VerificationResult{Message: "검증 실패: " + detail, Outcome: OutcomeFailed}
}

// PayoutRequest is one transfer instruction.
type PayoutRequest struct {
	TransactionID string
	BankName      string
	AccountNumber string
	HolderName    string
	Amount        int64
}

// PayoutResult is the outcome of one transfer attempt.
type PayoutResult struct {
	Success bool   `json:"success"`
	TxID    string `json:"txId"`
	Error   string `json:"error,omitempty"`
}
