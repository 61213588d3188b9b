package main

import (
	"errors"
	"fmt"

	"github.com/Veraticus/the-fees-must-flow/internal/billing"
	"github.com/Veraticus/the-fees-must-flow/internal/cli"
	"github.com/Veraticus/the-fees-must-flow/internal/common"
	"github.com/spf13/cobra"
)

func paymentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "payments",
		Short: "Record payments against billing periods",
	}
	cmd.AddCommand(paymentsRecordCmd(), paymentsDeleteCmd(), paymentsListCmd())
	return cmd
}

func paymentsRecordCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record <period-id>",
		Short: "Record a payment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			amountStr, _ := cmd.Flags().GetString("amount")
			method, _ := cmd.Flags().GetString("method")
			dateStr, _ := cmd.Flags().GetString("date")
			reference, _ := cmd.Flags().GetString("reference")
			notes, _ := cmd.Flags().GetString("notes")

			amount, err := parseAmount(amountStr)
			if err != nil {
				return err
			}
			date, err := parseDate(dateStr, cfg.Location())
			if err != nil {
				return err
			}

			store, err := initStorage(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			payment, err := billing.NewPaymentLedger(store).Record(cmd.Context(), billing.RecordPaymentInput{
				PeriodID:    args[0],
				Amount:      amount,
				Method:      method,
				PaymentDate: date,
				Reference:   reference,
				RecordedBy:  currentUser(),
				Notes:       notes,
			})
			if errors.Is(err, common.ErrPeriodVoided) {
				return common.NewUserError("Cannot record a payment against a void period", err)
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Recorded payment %s of %s", payment.ID, cli.FormatMoney(payment.Amount))))
			return nil
		},
	}
	cmd.Flags().String("amount", "", "amount paid, e.g. 600.00")
	cmd.Flags().String("method", billing.DefaultPaymentMethod, "payment method (pix, transfer, cash, ...)")
	cmd.Flags().String("date", "", "payment date, YYYY-MM-DD (default: today)")
	cmd.Flags().String("reference", "", "external reference")
	cmd.Flags().String("notes", "", "free-form notes")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func paymentsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <payment-id>",
		Short: "Delete a payment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			store, err := initStorage(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			existed, err := billing.NewPaymentLedger(store).Delete(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !existed {
				fmt.Fprintln(cmd.OutOrStdout(), cli.FormatWarning("No payment "+args[0]))
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("Deleted payment "+args[0]))
			return nil
		},
	}
}

func paymentsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <period-id>",
		Short: "List a period's payments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			store, err := initStorage(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			payments, err := billing.NewPaymentLedger(store).List(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.RenderPayments(payments))
			return nil
		},
	}
}
