package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/spf13/cobra"

	"group-adder/internal/domain"
	"group-adder/internal/repository"
)

type batchReader interface {
	GetBatch(ctx context.Context, batchID string) (domain.Report, error)
}

type archiveOpener func(ctx context.Context) (batchReader, error)

func openArchive(ctx context.Context) (batchReader, error) {
	table := strings.TrimSpace(os.Getenv("REPORT_TABLE"))
	if table == "" {
		return nil, errors.New("REPORT_TABLE is not set")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	repo, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), table)
	if err != nil {
		return nil, err
	}
	return repo, nil
}

func newReportCmd(open archiveOpener) *cobra.Command {
	return &cobra.Command{
		Use:   "report <batch-id>",
		Short: "Print an archived batch report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			archive, err := open(cmd.Context())
			if err != nil {
				return err
			}
			report, err := archive.GetBatch(cmd.Context(), args[0])
			if errors.Is(err, domain.ErrNotFound) {
				return fmt.Errorf("batch %s not found", args[0])
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Batch: %s\nDestination: %d\n", report.BatchID, report.DestinationID)
			if report.OperatorContact != "" {
				fmt.Fprintf(out, "Operator: %s\n", report.OperatorContact)
			}
			if !report.StartedAt.IsZero() {
				fmt.Fprintf(out, "Started: %s\n", report.StartedAt.Format(time.RFC3339))
			}
			if !report.FinishedAt.IsZero() {
				fmt.Fprintf(out, "Finished: %s\n", report.FinishedAt.Format(time.RFC3339))
			}
			_, err = fmt.Fprintf(out, "\n%s\n", report.Text())
			return err
		},
	}
}
