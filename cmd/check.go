package main

import (
	"fmt"
	"os"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"group-adder/internal/domain"
)

func newCheckCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "check <file>",
		Short: "Validate a username list offline and print the counts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}
			if !utf8.Valid(content) {
				return fmt.Errorf("%s is not valid UTF-8", args[0])
			}
			valid, invalid := domain.ParseTargetFile(content)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Valid: %d\nInvalid: %d\n", len(valid), len(invalid))
			if len(invalid) == 0 {
				return nil
			}
			n := domain.PreviewLen
			if all {
				n = len(invalid)
			}
			_, err = fmt.Fprintf(out, "\nInvalid entries:\n%s\n", domain.Preview(invalid, n))
			return err
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "list every invalid entry")
	return cmd
}
