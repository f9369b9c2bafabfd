package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/scribe/internal/record"
)

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Reconstruct the confirmed baseline from the journal",
		Long: `Reconstruct the last confirmed-persisted record state from the
journal's baseline table and print it as canonical JSON. Useful for
verifying what the remote side should hold after a crash.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(rootOpts, dbPath, cmd)
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "path to the journal database (required)")
	_ = cmd.MarkFlagRequired("db")
	return cmd
}

func runReplay(opts *RootOptions, dbPath string, cmd *cobra.Command) error {
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

	base, err := j.Baseline(cmd.Context())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read baseline", err)
	}
	if len(base) == 0 {
		_ = formatter.Error("E001", "journal holds no confirmed baseline", nil)
		return NewExitError(ExitFailure, "journal holds no confirmed baseline")
	}
	formatter.VerboseLog("Reconstructed %d baseline field(s)", len(base))

	data, err := record.MarshalCanonical(base)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to render baseline", err)
	}

	if formatter.Format == "json" {
		return formatter.Success(record.ToGo(base))
	}
	fmt.Fprintln(formatter.Writer, string(data))
	return nil
}
