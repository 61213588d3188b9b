package main

import (
	"fmt"

	"github.com/Veraticus/the-fees-must-flow/internal/cli"
	"github.com/Veraticus/the-fees-must-flow/internal/model"
	"github.com/Veraticus/the-fees-must-flow/internal/reconcile"
	"github.com/spf13/cobra"
)

func reconcileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Match incoming bank transactions to unpaid sessions",
	}

	run := &cobra.Command{
		Use:   "run",
		Short: "Reconcile every active connection, or one with --connection",
		RunE:  runReconcile,
	}
	run.Flags().String("connection", "", "reconcile only this connection")
	run.Flags().Bool("no-progress", false, "disable the progress bar")

	cmd.AddCommand(run)
	return cmd
}

func runReconcile(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	connectionID, _ := cmd.Flags().GetString("connection")
	noProgress, _ := cmd.Flags().GetBool("no-progress")

	handler := cli.NewInterruptHandler(cmd.OutOrStdout(), "Reconciliation",
		"Processed transactions are saved. Run fees reconcile run again to continue.")
	ctx, cancel := handler.HandleInterrupts(cmd.Context())
	defer cancel()

	store, err := initStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	router, err := newBankRouter(cfg)
	if err != nil {
		return err
	}
	pipeline := reconcile.NewPipeline(store, router, pipelineOptions(cfg.Reconcile, cfg.Location()))

	var progress *cli.ReconcileProgress
	if !noProgress {
		total := 1
		if connectionID == "" {
			conns, err := store.ListConnections(ctx, model.ConnectionActive)
			if err != nil {
				return err
			}
			total = len(conns)
		}
		progress = cli.NewReconcileProgress(cmd.OutOrStdout(), total)
		pipeline.OnProgress(progress.Advance)
	}

	var summary *reconcile.RunSummary
	if connectionID != "" {
		summary, err = pipeline.RunConnection(ctx, connectionID)
	} else {
		summary, err = pipeline.Run(ctx)
	}
	if err != nil {
		return err
	}
	if handler.WasInterrupted() {
		return nil
	}

	fmt.Fprintln(cmd.OutOrStdout(), cli.RenderRunSummary(summary))
	return nil
}
