// Package fees holds the buy-rate and transfer-fee arithmetic. Amounts are
// whole KRW.
package fees

import (
	"github.com/shopspring/decimal"
)

const DefaultTransferFee int64 = 500

// Result breaks a payout down into its parts.
type Result struct {
	FaceValue      int64           `json:"faceValue"`
	Rate           decimal.Decimal `json:"rate"`
	PurchaseAmount int64           `json:"purchaseAmount"`
	TransferFee    int64           `json:"transferFee"`
	FinalPayout    int64           `json:"finalPayout"`
}

// CalculatePayout returns max(0, floor(faceValue*rate) - transferFee).
func CalculatePayout(faceValue int64, rate decimal.Decimal, transferFee int64) Result {
	purchase := Share(faceValue, rate)
	return Result{
		FaceValue:      faceValue,
		Rate:           rate,
		PurchaseAmount: purchase,
		TransferFee:    transferFee,
		FinalPayout:    Net(purchase, transferFee),
	}
}

// Share is the gross amount paid for one voucher: floor(faceValue*rate).
func Share(faceValue int64, rate decimal.Decimal) int64 {
	if faceValue <= 0 {
		return 0
	}
	return decimal.NewFromInt(faceValue).Mul(rate).Floor().IntPart()
}

// Net subtracts the transfer fee once, clamping at zero.
func Net(gross, transferFee int64) int64 {
	if gross <= transferFee {
		return 0
	}
	return gross - transferFee
}

// ParseRate reads a buy rate and checks it lies in [0, 1].
func ParseRate(s string) (decimal.Decimal, error) {
	r, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, err
	}
	if r.IsNegative() || r.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.Zero, &RateError{Value: s}
	}
	return r, nil
}

type RateError struct {
	Value string
}

func (e *RateError) Error() string { return "buy rate out of range [0,1]: " + e.Value }
