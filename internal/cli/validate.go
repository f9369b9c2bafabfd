package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/scribe/internal/schema"
)

// SchemaIssue is one schema load or compile problem.
type SchemaIssue struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
}

// ValidationResult holds schema validation results.
type ValidationResult struct {
	Valid   bool          `json:"valid"`
	Records []string      `json:"records,omitempty"`
	Errors  []SchemaIssue `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <schema-dir>",
		Short: "Validate CUE record schemas",
		Long: `Validate CUE record schemas without running the engine.

Checks field declarations: kinds, required flags, string length bounds,
and list identity keys.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runValidate(opts *RootOptions, schemaDir string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	set, loadErrors := schema.Load(schemaDir, schema.LoadModeCollectAll)

	// Directory-level failures (not found, no files) are command errors.
	if set == nil && len(loadErrors) > 0 {
		var loadErr *schema.LoadError
		if errors.As(loadErrors[0], &loadErr) {
			_ = formatter.Error(loadErr.Code, loadErr.Message, nil)
			return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", loadErr.Code, loadErr.Message))
		}
		_ = formatter.Error(schema.ErrCodeGeneric, loadErrors[0].Error(), nil)
		return NewExitError(ExitCommandError, loadErrors[0].Error())
	}

	formatter.VerboseLog("Found %d CUE file(s) in %s", set.FileCount, schemaDir)

	var issues []SchemaIssue
	for _, err := range loadErrors {
		var loadErr *schema.LoadError
		if errors.As(err, &loadErr) {
			issue := SchemaIssue{Code: loadErr.Code, Message: loadErr.Message}
			if loadErr.Pos.IsValid() {
				issue.Line = loadErr.Pos.Line()
			}
			issues = append(issues, issue)
			continue
		}
		issues = append(issues, SchemaIssue{Code: schema.ErrCodeGeneric, Message: err.Error()})
	}

	names := make([]string, 0, len(set.Schemas))
	for name := range set.Schemas {
		names = append(names, name)
		formatter.VerboseLog("Compiled record schema: %s", name)
	}

	if len(issues) > 0 {
		return outputSchemaIssues(formatter, names, issues)
	}

	if formatter.Format == "json" {
		return formatter.Success(ValidationResult{Valid: true, Records: names})
	}
	fmt.Fprintf(formatter.Writer, "✓ %d record schema(s) valid\n", len(names))
	return nil
}

// outputSchemaIssues reports validation failures with exit code 1.
func outputSchemaIssues(formatter *OutputFormatter, names []string, issues []SchemaIssue) error {
	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data:   ValidationResult{Valid: false, Records: names, Errors: issues},
			Error: &CLIError{
				Code:    issues[0].Code,
				Message: issues[0].Message,
			},
		}
		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(issues)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)
	for _, issue := range issues {
		if issue.Line > 0 {
			fmt.Fprintf(formatter.Writer, "line %d\n", issue.Line)
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", issue.Code, issue.Message)
	}
	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(issues)))
}
