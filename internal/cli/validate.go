package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/c29m/webhttp/internal/config"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid      bool                     `json:"valid"`
	Service    string                   `json:"service,omitempty"`
	Tables     int                      `json:"tables"`
	Operations int                      `json:"operations"`
	Errors     []config.ValidationError `json:"errors,omitempty"`
}

func (r ValidationResult) String() string {
	if r.Valid {
		return fmt.Sprintf("✓ %s is valid (%d tables, %d operations)", r.Service, r.Tables, r.Operations)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "✗ %d validation error(s):", len(r.Errors))
	for _, e := range r.Errors {
		b.WriteString("\n  ")
		b.WriteString(e.Error())
	}
	return b.String()
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <service-file>",
		Short: "Validate a service description",
		Long: `Validate a YAML or CUE service description without opening the
database. All problems are reported, not just the first.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	svc, err := config.Load(path)
	if err != nil {
		exit := ExitFailure
		var le *config.LoadError
		if errors.As(err, &le) && le.Code == config.ErrCodeRead {
			exit = ExitCommandError
		}
		return formatter.Fail(exit, ErrCodeGeneric, "cannot load service description", err)
	}
	formatter.VerboseLog("Loaded %s: %d table(s)", path, len(svc.Tables))

	result := ValidationResult{Service: svc.Name, Tables: len(svc.Tables)}
	result.Errors = config.Validate(svc)
	result.Valid = len(result.Errors) == 0
	for _, t := range svc.Tables {
		result.Operations += len(tableOperations(t))
	}

	if !result.Valid {
		if formatter.Format == "json" {
			if err := formatter.Error(result.Errors[0].Code, fmt.Sprintf("%d validation error(s)", len(result.Errors)), result.Errors); err != nil {
				return err
			}
		} else if err := formatter.Success(result); err != nil {
			return err
		}
		return NewExitError(ExitFailure, "validation failed")
	}
	return formatter.Success(result)
}
