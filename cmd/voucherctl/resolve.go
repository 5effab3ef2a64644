package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"voucher_backend/internal/domain"
)

func resolveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Operator actions on transactions in manual review",
	}

	var ref, note string
	complete := &cobra.Command{
		Use:   "complete [transaction-id]",
		Short: "Mark a transaction paid after a transfer made outside the service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return resolve(func(ctx context.Context, a appService) (*domain.Transaction, error) {
				return a.Complete(ctx, args[0], ref, note)
			})
		},
	}
	complete.Flags().StringVar(&ref, "ref", "", "bank transfer reference")
	complete.Flags().StringVar(&note, "note", "", "operator note")
	complete.MarkFlagRequired("ref")

	var cancelNote string
	cancel := &cobra.Command{
		Use:   "cancel [transaction-id]",
		Short: "Cancel a transaction that has not started a transfer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return resolve(func(ctx context.Context, a appService) (*domain.Transaction, error) {
				return a.Cancel(ctx, args[0], cancelNote)
			})
		},
	}
	cancel.Flags().StringVar(&cancelNote, "note", "", "operator note")

	retry := &cobra.Command{
		Use:   "retry-payout [transaction-id]",
		Short: "Attempt the transfer of a reviewed transaction again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return resolve(func(ctx context.Context, a appService) (*domain.Transaction, error) {
				return a.RetryPayout(ctx, args[0])
			})
		},
	}

	cmd.AddCommand(complete, cancel, retry)
	return cmd
}

type appService interface {
	Complete(ctx context.Context, id, reference, note string) (*domain.Transaction, error)
	Cancel(ctx context.Context, id, note string) (*domain.Transaction, error)
	RetryPayout(ctx context.Context, id string) (*domain.Transaction, error)
}

func resolve(action func(context.Context, appService) (*domain.Transaction, error)) error {
	ctx := context.Background()
	a, err := open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	tx, err := action(ctx, a.Service)
	if err != nil {
		return err
	}
	fmt.Printf("%s %s", tx.ID, tx.Status)
	if tx.PayoutReference != "" {
		fmt.Printf(" ref=%s", tx.PayoutReference)
	}
	fmt.Println()
	return nil
}
