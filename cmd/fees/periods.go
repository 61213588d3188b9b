package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/Veraticus/the-fees-must-flow/internal/billing"
	"github.com/Veraticus/the-fees-must-flow/internal/cli"
	"github.com/Veraticus/the-fees-must-flow/internal/common"
	"github.com/spf13/cobra"
)

func periodsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "periods",
		Short: "Process and manage monthly billing periods",
	}
	cmd.AddCommand(
		periodsProcessCmd(),
		periodsSummaryCmd(),
		periodsShowCmd(),
		periodsVoidCmd(),
		periodsMarkPaidCmd(),
	)
	return cmd
}

func periodsProcessCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Snapshot a patient's sessions for a month",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			therapistID, _ := cmd.Flags().GetString("therapist")
			patientID, _ := cmd.Flags().GetString("patient")
			monthStr, _ := cmd.Flags().GetString("month")
			year, month, err := parseMonth(monthStr)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			store, err := initStorage(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			cal, err := newCalendar(ctx, cfg)
			if err != nil {
				return common.NewUserError("Calendar is not configured", err)
			}

			manager := billing.NewManager(store, cal)
			period, err := manager.Process(ctx, therapistID, patientID, year, month, currentUser())
			switch {
			case errors.Is(err, common.ErrAlreadyProcessed):
				return common.NewUserError(fmt.Sprintf("%04d-%02d is already processed for %s; void it first to reprocess", year, int(month), patientID), err)
			case errors.Is(err, common.ErrBillingNotStarted):
				return common.NewUserError(fmt.Sprintf("%s is not billable in %04d-%02d", patientID, year, int(month)), err)
			case err != nil:
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), cli.RenderPeriod(period, nil))
			return nil
		},
	}
	cmd.Flags().String("therapist", "", "therapist id")
	cmd.Flags().String("patient", "", "patient id")
	cmd.Flags().String("month", "", "month to process, YYYY-MM")
	_ = cmd.MarkFlagRequired("therapist")
	_ = cmd.MarkFlagRequired("patient")
	_ = cmd.MarkFlagRequired("month")
	return cmd
}

func periodsSummaryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Show every patient's billing state for a month",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			therapistID, _ := cmd.Flags().GetString("therapist")
			monthStr, _ := cmd.Flags().GetString("month")
			year, month, err := parseMonth(monthStr)
			if err != nil {
				return err
			}

			store, err := initStorage(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			summaries, err := billing.NewManager(store, nil).Summarize(cmd.Context(), therapistID, year, month)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.RenderPeriodSummaries(year, month, summaries))
			return nil
		},
	}
	cmd.Flags().String("therapist", "", "therapist id")
	cmd.Flags().String("month", "", "month, YYYY-MM")
	_ = cmd.MarkFlagRequired("therapist")
	_ = cmd.MarkFlagRequired("month")
	return cmd
}

func periodsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <period-id>",
		Short: "Show a billing period with its snapshot and payments",
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

			period, err := billing.NewManager(store, nil).Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			payments, err := billing.NewPaymentLedger(store).List(cmd.Context(), period.ID)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.RenderPeriod(period, payments))
			return nil
		},
	}
}

func periodsVoidCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "void <period-id>",
		Short: "Void a billing period so its month can be reprocessed",
		Long: `Void a billing period so its month can be reprocessed.

Only periods without payments can be voided, and voiding cannot be undone.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			therapistID, _ := cmd.Flags().GetString("therapist")
			reason, _ := cmd.Flags().GetString("reason")
			yes, _ := cmd.Flags().GetBool("yes")

			ctx := cmd.Context()
			if !yes {
				confirmed, err := cli.NewConfirmer(os.Stdin, cmd.OutOrStdout()).
					Confirm(ctx, fmt.Sprintf("Void billing period %s? This cannot be undone.", args[0]))
				if err != nil {
					return err
				}
				if !confirmed {
					fmt.Fprintln(cmd.OutOrStdout(), cli.FormatInfo("Nothing voided"))
					return nil
				}
			}

			store, err := initStorage(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			voided, err := billing.NewManager(store, nil).Void(ctx, args[0], therapistID, currentUser(), reason)
			if err != nil {
				return err
			}
			if !voided {
				fmt.Fprintln(cmd.OutOrStdout(), cli.FormatWarning("Cannot void "+args[0]+": it is missing, already void, or has payments"))
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("Voided "+args[0]))
			return nil
		},
	}
	cmd.Flags().String("therapist", "", "therapist id owning the period")
	cmd.Flags().String("reason", "", "why the period is voided")
	cmd.Flags().BoolP("yes", "y", false, "skip the confirmation prompt")
	_ = cmd.MarkFlagRequired("therapist")
	return cmd
}

func periodsMarkPaidCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mark-paid <period-id>",
		Short: "Mark a billing period as paid",
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

			if err := billing.NewManager(store, nil).MarkPaid(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("Marked "+args[0]+" as paid"))
			return nil
		},
	}
}
