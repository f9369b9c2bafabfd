package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// StatsView is the JSON shape of the stats output.
type StatsView struct {
	Total     int64 `json:"total"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	Retried   int64 `json:"retried"`
}

// NewStatsCommand creates the stats command.
func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:           "stats",
		Short:         "Summarize the save-attempt journal",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(rootOpts, dbPath, cmd)
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "path to the journal database (required)")
	_ = cmd.MarkFlagRequired("db")
	return cmd
}

func runStats(opts *RootOptions, dbPath string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	j, err := openJournal(dbPath)
	if err != nil {
		return err
	}
	defer j.Close()

	s, err := j.Stats(cmd.Context())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read stats", err)
	}

	if formatter.Format == "json" {
		return formatter.Success(StatsView{
			Total:     s.Total,
			Succeeded: s.Succeeded,
			Failed:    s.Failed,
			Retried:   s.Retried,
		})
	}

	fmt.Fprintf(formatter.Writer, "attempts:  %d\n", s.Total)
	fmt.Fprintf(formatter.Writer, "succeeded: %d\n", s.Succeeded)
	fmt.Fprintf(formatter.Writer, "failed:    %d\n", s.Failed)
	fmt.Fprintf(formatter.Writer, "retried:   %d\n", s.Retried)
	return nil
}
