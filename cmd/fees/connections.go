package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Veraticus/the-fees-must-flow/internal/cli"
	"github.com/Veraticus/the-fees-must-flow/internal/common"
	"github.com/Veraticus/the-fees-must-flow/internal/model"
	"github.com/Veraticus/the-fees-must-flow/internal/plaid"
	"github.com/Veraticus/the-fees-must-flow/internal/simplefin"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func connectionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "connections",
		Short: "Manage linked bank accounts",
	}
	cmd.AddCommand(connectionsAddCmd(), connectionsListCmd(), connectionsLinkTokenCmd())
	return cmd
}

func connectionsAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Link a bank account to a therapist",
		Long: `Link a bank account to a therapist.

For plaid, pass the public token returned by Plaid Link with --public-token;
it is exchanged for an access token. For simplefin, pass a bridge setup
token with --setup-token; it is claimed once for an access URL. For ofx,
--account is the statement file or directory. For simulated, --account
names an account in the fixtures file.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			id, _ := cmd.Flags().GetString("id")
			therapistID, _ := cmd.Flags().GetString("therapist")
			provider, _ := cmd.Flags().GetString("provider")
			account, _ := cmd.Flags().GetString("account")
			publicToken, _ := cmd.Flags().GetString("public-token")
			setupToken, _ := cmd.Flags().GetString("setup-token")

			conn := &model.BankConnection{
				ID:                id,
				TherapistID:       therapistID,
				Provider:          model.Provider(provider),
				ProviderAccountID: account,
				Status:            model.ConnectionActive,
			}
			if conn.ID == "" {
				conn.ID = uuid.NewString()
			}

			switch conn.Provider {
			case model.ProviderPlaid:
				client, err := newPlaidClient(cfg)
				if err != nil {
					return common.NewUserError("Plaid is not configured", err)
				}
				if err := linkPlaid(cmd.Context(), client, conn, publicToken); err != nil {
					return err
				}
			case model.ProviderSimpleFIN:
				if setupToken == "" {
					return common.NewUserError("simplefin connections need --setup-token", common.ErrMissingConfig)
				}
				accessURL, err := simplefin.NewClient(nil).ClaimAccessURL(cmd.Context(), setupToken)
				if err != nil {
					return err
				}
				conn.ProviderAccountID = accessURL
			case model.ProviderOFX, model.ProviderSimulated:
				if account == "" {
					return common.NewUserError(provider+" connections need --account", common.ErrMissingConfig)
				}
			default:
				return common.NewUserError(fmt.Sprintf("Unknown provider %q (plaid, simplefin, ofx, simulated)", provider), common.ErrInvalidConfig)
			}

			store, err := initStorage(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if err := store.CreateConnection(cmd.Context(), conn); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("Linked connection "+conn.ID))
			return nil
		},
	}
	cmd.Flags().String("id", "", "connection id (default: generated)")
	cmd.Flags().String("therapist", "", "therapist id")
	cmd.Flags().String("provider", string(model.ProviderPlaid), "provider (plaid, simplefin, ofx, simulated)")
	cmd.Flags().String("account", "", "account reference for ofx and simulated providers")
	cmd.Flags().String("public-token", "", "Plaid Link public token")
	cmd.Flags().String("setup-token", "", "SimpleFIN Bridge setup token")
	_ = cmd.MarkFlagRequired("therapist")
	return cmd
}

// linkPlaid exchanges a Link public token and stores the resulting access
// token as the connection's account reference.
func linkPlaid(ctx context.Context, linker plaid.Linker, conn *model.BankConnection, publicToken string) error {
	if publicToken == "" {
		return common.NewUserError("plaid connections need --public-token", common.ErrMissingConfig)
	}
	accessToken, itemID, err := linker.ExchangePublicToken(ctx, publicToken)
	if err != nil {
		return err
	}
	conn.ProviderAccountID = accessToken
	slog.Info("exchanged plaid public token", "connection_id", conn.ID, "item_id", itemID)
	return nil
}

func connectionsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List bank connections",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			status, _ := cmd.Flags().GetString("status")

			store, err := initStorage(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			conns, err := store.ListConnections(cmd.Context(), model.ConnectionStatus(status))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.RenderConnections(conns))
			return nil
		},
	}
	cmd.Flags().String("status", "", "filter by status (active, revoked)")
	return cmd
}

func connectionsLinkTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "link-token",
		Short: "Create a Plaid Link token for a therapist",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			therapistID, _ := cmd.Flags().GetString("therapist")

			client, err := newPlaidClient(cfg)
			if err != nil {
				return common.NewUserError("Plaid is not configured", err)
			}
			token, err := client.CreateLinkToken(cmd.Context(), therapistID)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().String("therapist", "", "therapist id")
	_ = cmd.MarkFlagRequired("therapist")
	return cmd
}
