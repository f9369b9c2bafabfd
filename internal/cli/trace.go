package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/scribe/internal/journal"
	"github.com/roach88/scribe/internal/record"
)

// openJournal opens the journal database, mapping missing files to
// command errors.
func openJournal(path string) (*journal.Journal, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("journal database not found: %s", path))
	}
	j, err := journal.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	return j, nil
}

// AttemptView is the JSON shape of one attempt row.
type AttemptView struct {
	Seq        int64  `json:"seq"`
	Token      string `json:"token"`
	At         string `json:"at"`
	RetryCount int    `json:"retry_count"`
	Status     string `json:"status"`
	Code       string `json:"code,omitempty"`
	Error      string `json:"error,omitempty"`
	Fields     int    `json:"fields"`
	Payload    any    `json:"payload,omitempty"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	var dbPath string
	var showPayloads bool

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "List recorded save attempts",
		Long: `List every settled save attempt in the journal in sequence order:
attempt token, timestamp, retry count, and outcome.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(rootOpts, dbPath, showPayloads, cmd)
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "path to the journal database (required)")
	cmd.Flags().BoolVar(&showPayloads, "payloads", false, "include attempted field values")
	_ = cmd.MarkFlagRequired("db")
	return cmd
}

func runTrace(opts *RootOptions, dbPath string, showPayloads bool, cmd *cobra.Command) error {
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

	atts, err := j.Attempts(cmd.Context())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read attempts", err)
	}
	formatter.VerboseLog("Loaded %d attempt(s) from %s", len(atts), dbPath)

	if formatter.Format == "json" {
		views := make([]AttemptView, len(atts))
		for i, att := range atts {
			views[i] = attemptView(att, showPayloads)
		}
		return formatter.Success(views)
	}

	if len(atts) == 0 {
		fmt.Fprintln(formatter.Writer, "no attempts recorded")
		return nil
	}
	for _, att := range atts {
		mark := "✓"
		if att.Status == journal.StatusFailed {
			mark = "✗"
		}
		fmt.Fprintf(formatter.Writer, "%s [%d] %s  %s  retries=%d  fields=%d",
			mark, att.Seq, att.At.Format(time.RFC3339), att.Token, att.RetryCount, len(att.Payload))
		if att.Status == journal.StatusFailed {
			fmt.Fprintf(formatter.Writer, "  %s: %s", att.Code, att.Error)
		}
		fmt.Fprintln(formatter.Writer)
	}
	return nil
}

func attemptView(att journal.Attempt, showPayloads bool) AttemptView {
	v := AttemptView{
		Seq:        att.Seq,
		Token:      att.Token,
		At:         att.At.Format(time.RFC3339Nano),
		RetryCount: att.RetryCount,
		Status:     att.Status,
		Code:       att.Code,
		Error:      att.Error,
		Fields:     len(att.Payload),
	}
	if showPayloads {
		v.Payload = record.ToGo(att.Payload)
	}
	return v
}
