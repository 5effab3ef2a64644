package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"voucher_backend/internal/pinformat"
	"voucher_backend/internal/verifier"
)

var (
	verifyType string
	verifyPin  string
	verifyJSON bool
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check one PIN against its issuer",
	Long: `Run a single PIN through the configured verifier without creating a
transaction.

Examples:
  voucherctl verify --type CULTURE_LAND --pin 1234-5678-1234-5678
  voucherctl verify --type HAPPY_MONEY --pin 1234567812345678 --json`,
	RunE: runVerify,
}

func init() {
	verifyCmd.Flags().StringVarP(&verifyType, "type", "t", "", "voucher type")
	verifyCmd.Flags().StringVarP(&verifyPin, "pin", "p", "", "PIN code")
	verifyCmd.Flags().BoolVar(&verifyJSON, "json", false, "output as JSON")
	verifyCmd.MarkFlagRequired("type")
	verifyCmd.MarkFlagRequired("pin")
}

func runVerify(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	res := a.Service.VerifySingle(ctx, verifyType, verifyPin)
	if verifyJSON {
		return printJSON(res)
	}

	fmt.Printf("PIN:      %s\n", pinformat.Mask(verifyPin))
	fmt.Printf("Outcome:  %s\n", res.Outcome)
	fmt.Printf("Valid:    %t\n", res.IsValid)
	if res.FaceValue > 0 {
		fmt.Printf("Amount:   %s\n", verifier.FormatWon(res.FaceValue))
	}
	fmt.Printf("Message:  %s\n", res.Message)
	if res.TransactionID != "" {
		fmt.Printf("Ref:      %s\n", res.TransactionID)
	}
	return nil
}
