package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"group-adder/handler"
	"group-adder/internal/governor"
	"group-adder/internal/integrations/paramstore"
	"group-adder/internal/integrations/telegram"
	"group-adder/internal/repository"
	"group-adder/internal/usecase"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bot: long-poll for operator messages and execute batches",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx)
		},
	}
}

func serve(ctx context.Context) error {
	// ---- Configuration (read only here) ----
	cfg := loadConfig()
	paramPrefix := mustEnv("PARAM_PREFIX")
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	// ---- AWS SDK config ----
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return fmt.Errorf("load AWS config: %w", err)
	}

	// ---- Clients ----
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
	if err != nil {
		return fmt.Errorf("create SSM client: %w", err)
	}
	var tgOpts []telegram.Option
	if cfg.TelegramAPIURL != "" {
		tgOpts = append(tgOpts, telegram.WithBaseURL(cfg.TelegramAPIURL))
	}
	tg, err := telegram.NewClient(ssmClient, paramPrefix, tgOpts...)
	if err != nil {
		return fmt.Errorf("create telegram client: %w", err)
	}
	selfID, err := tg.Self(ctx)
	if err != nil {
		return fmt.Errorf("verify bot token: %w", err)
	}

	var archive usecase.ReportArchive
	if cfg.ReportTable != "" {
		repo, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.ReportTable)
		if err != nil {
			return fmt.Errorf("create report archive: %w", err)
		}
		archive = repo
	}

	// ---- Use cases ----
	gov, err := governor.New(cfg.Limits)
	if err != nil {
		return fmt.Errorf("create governor: %w", err)
	}
	executor, err := usecase.NewExecutor(tg, gov, archive, cfg.Cooldown, logger)
	if err != nil {
		return fmt.Errorf("create executor: %w", err)
	}
	notifier, err := handler.NewNotifier(tg)
	if err != nil {
		return fmt.Errorf("create notifier: %w", err)
	}
	conv, err := usecase.NewConversation(tg, executor, notifier, cfg.Limits.MeanDelay(), logger)
	if err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}

	// ---- Transport ----
	h, err := handler.NewHandler(conv, tg, logger)
	if err != nil {
		return fmt.Errorf("create handler: %w", err)
	}
	disp := handler.NewDispatcher(ctx, logger)
	poller, err := handler.NewPoller(tg, h, disp, cfg.PollTimeout, logger)
	if err != nil {
		return fmt.Errorf("create poller: %w", err)
	}

	logger.Info("bot started",
		"bot_id", selfID,
		"max_per_hour", cfg.Limits.MaxPerHour,
		"max_per_day", cfg.Limits.MaxPerDay,
		"archive", cfg.ReportTable != "",
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return poller.Run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		// Running batches observe ctx and stop before their next target.
		return disp.Close()
	})
	err = g.Wait()
	logger.Info("bot stopped", "err", err)
	return err
}
