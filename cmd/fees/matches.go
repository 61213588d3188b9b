package main

import (
	"fmt"

	"github.com/Veraticus/the-fees-must-flow/internal/cli"
	"github.com/Veraticus/the-fees-must-flow/internal/reconcile"
	"github.com/spf13/cobra"
)

func matchesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "matches",
		Short: "Review reconciliation matches",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List a therapist's matched transactions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			therapistID, _ := cmd.Flags().GetString("therapist")

			store, err := initStorage(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			events, err := reconcile.NewMatchedEventStore(store).List(cmd.Context(), therapistID)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.RenderMatchedEvents(events))
			return nil
		},
	}
	list.Flags().String("therapist", "", "therapist id")
	_ = list.MarkFlagRequired("therapist")

	dispute := &cobra.Command{
		Use:   "dispute <match-id>",
		Short: "Flag a match as disputed",
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

			if err := reconcile.NewMatchedEventStore(store).Dispute(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("Disputed "+args[0]))
			return nil
		},
	}

	cmd.AddCommand(list, dispute)
	return cmd
}
