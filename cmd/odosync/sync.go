package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/langchou/odosync/internal/models"
	"github.com/langchou/odosync/internal/service"
)

func syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one sync of all authorized vehicles",
		RunE:  runSync,
	}
}

func runSync(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(true)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := newApp(cfg, logger, service.NewConsolePrompter(os.Stdin, os.Stdout))
	defer a.close()

	locker, err := a.locker(ctx)
	if err != nil {
		return err
	}

	syncer := service.NewSyncer(a.reconciler(), locker, logger)
	report, err := syncer.RunOnce(ctx)
	if report != nil {
		printReport(report)
	}
	if err != nil {
		logger.Error("Sync failed", zap.Error(err))
		return err
	}
	return nil
}

func printReport(r *models.SyncReport) {
	for _, res := range r.Results {
		line := fmt.Sprintf("%-10s %s", res.Outcome, res.SourceID)
		if res.TargetID != "" {
			line += " -> fleetio " + string(res.TargetID)
		}
		if res.Miles != nil {
			line += fmt.Sprintf(" (%.1f mi)", *res.Miles)
		}
		if res.Error != "" {
			line += ": " + res.Error
		}
		fmt.Println(line)
	}
	fmt.Printf("created=%d updated=%d skipped=%d failed=%d\n",
		r.Count(models.OutcomeCreated),
		r.Count(models.OutcomeUpdated),
		r.Count(models.OutcomeSkipped),
		r.Count(models.OutcomeFailed),
	)
}

func authCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "auth",
		Short: "Authorize with Smartcar and store a new token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(true)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a := newApp(cfg, logger, service.NewConsolePrompter(os.Stdin, os.Stdout))
			defer a.close()

			if _, err := a.tokens.Authorize(ctx); err != nil {
				return err
			}
			fmt.Printf("Token saved to %s\n", cfg.CredentialFile)
			return nil
		},
	}
}

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify Fleetio API credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(false)
			if err != nil {
				return err
			}

			a := newApp(cfg, logger, nil)
			defer a.close()

			if err := a.fleet.Ping(cmd.Context()); err != nil {
				fmt.Println("Fleetio: FAILED")
				return err
			}
			fmt.Printf("Fleetio: OK (%s, breaker %s)\n", cfg.Fleetio.APIHost, a.fleet.State())
			return nil
		},
	}
}
