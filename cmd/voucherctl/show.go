package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"voucher_backend/internal/domain"
	"voucher_backend/internal/repository"
)

var showJSON bool

var showCmd = &cobra.Command{
	Use:   "show [transaction-id]",
	Short: "Print a transaction with its items and status history",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

var (
	listStatus string
	listLimit  int
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent transactions",
	RunE:  runList,
}

var ratesCmd = &cobra.Command{
	Use:   "rates",
	Short: "Print the buy rate of every voucher type",
	RunE:  runRates,
}

func init() {
	showCmd.Flags().BoolVar(&showJSON, "json", false, "output as JSON")
	listCmd.Flags().StringVarP(&listStatus, "status", "s", "", "filter by status")
	listCmd.Flags().IntVarP(&listLimit, "limit", "n", 20, "maximum results")
}

func runShow(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	tx, history, err := a.Service.Transaction(ctx, args[0])
	if err != nil {
		return err
	}
	if showJSON {
		return printJSON(struct {
			*domain.Transaction
			History []domain.Event `json:"history"`
		}{tx, history})
	}

	fmt.Printf("ID:        %s\n", tx.ID)
	fmt.Printf("Status:    %s\n", tx.Status)
	fmt.Printf("Customer:  %s (%s)\n", tx.CustomerName, tx.CustomerPhone)
	fmt.Printf("Account:   %s %s %s\n", tx.BankName, tx.AccountNumber, tx.AccountHolder)
	fmt.Printf("Totals:    face=%d rate=%s fee=%d payout=%d\n", tx.TotalFaceValue, tx.FeeRate, tx.TransferFee, tx.PayoutAmount)
	if tx.PayoutReference != "" {
		fmt.Printf("Reference: %s\n", tx.PayoutReference)
	}
	if tx.Note != "" {
		fmt.Printf("Note:      %s\n", tx.Note)
	}

	fmt.Println("\nItems:")
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  SEQ\tPIN\tSTATUS\tKIND\tFACE\tSHARE\tMESSAGE")
	for _, it := range tx.Items {
		fmt.Fprintf(w, "  %d\t%s\t%s\t%s\t%d\t%d\t%s\n", it.Seq, it.PinCode, it.Status, it.FailureKind, it.FaceValue, it.PayoutShare, it.ErrorMessage)
	}
	w.Flush()

	fmt.Println("\nHistory:")
	for _, ev := range history {
		fmt.Printf("  %s  %s -> %s  (%s) %s\n", ev.At.Format("2006-01-02 15:04:05"), ev.From, ev.To, ev.Actor, ev.Note)
	}
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	var filter repository.TxFilter
	if listStatus != "" {
		st := domain.TxStatus(strings.ToUpper(listStatus))
		if !st.Valid() {
			return fmt.Errorf("unknown status %q", listStatus)
		}
		filter.Status = st
	}

	ctx := context.Background()
	a, err := open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	txs, err := a.Service.List(ctx, filter, listLimit, 0)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCREATED\tTYPE\tSTATUS\tPAYOUT\tCUSTOMER")
	for _, tx := range txs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n", tx.ID, tx.CreatedAt.Local().Format("01-02 15:04"), tx.VoucherType, tx.Status, tx.PayoutAmount, tx.CustomerName)
	}
	return w.Flush()
}

func runRates(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TYPE\tNAME\tRATE\tAVAILABLE")
	for _, r := range a.Service.Rates() {
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\n", r.Type, r.DisplayName, r.Rate.StringFixed(2), r.Available)
	}
	return w.Flush()
}
