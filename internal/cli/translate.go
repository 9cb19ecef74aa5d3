package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/c29m/webhttp/internal/query"
	"github.com/c29m/webhttp/internal/querysql"
)

// TranslateOptions holds flags for the translate command.
type TranslateOptions struct {
	*RootOptions
	Service string
	Table   string
	Columns []string
}

// TranslateResult shows a query string in normalized form and, when a
// table is known, as SQL.
type TranslateResult struct {
	Query  string `json:"query"`
	SQL    string `json:"sql,omitempty"`
	Params []any  `json:"params,omitempty"`
}

func (r TranslateResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "query:  %s", r.Query)
	if r.SQL != "" {
		fmt.Fprintf(&b, "\nsql:    %s", r.SQL)
		fmt.Fprintf(&b, "\nparams: %v", r.Params)
	}
	return b.String()
}

// NewTranslateCommand creates the translate command.
func NewTranslateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TranslateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "translate <query-string>",
		Short: "Parse a query string and show its SQL translation",
		Long: `Parse a $filter/$orderby/$skip/$top/$select query string, print it in
normalized form and, with --table, the parameterized SQL it is pushed down
as. Columns come from --columns or from the table's declaration in
--service.

Example:
  webhttp translate '$filter=Price gt 3&$orderby=Name' --table products --columns name,price
  webhttp translate '$top=5' --service shop.yaml --table products`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTranslate(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Service, "service", "", "service description declaring the table")
	cmd.Flags().StringVar(&opts.Table, "table", "", "table to translate against")
	cmd.Flags().StringSliceVar(&opts.Columns, "columns", nil, "table columns (id is implied)")

	return cmd
}

func runTranslate(opts *TranslateOptions, raw string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	parsed, err := query.Parse(strings.TrimPrefix(raw, "?"))
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeTranslate, "cannot parse query", err)
	}
	normalized, err := parsed.Encode()
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeTranslate, "cannot encode query", err)
	}
	result := TranslateResult{Query: normalized}

	if opts.Table != "" {
		columns := opts.Columns
		if opts.Service != "" {
			if columns, err = serviceColumns(opts.Service, opts.Table); err != nil {
				return formatter.Fail(ExitFailure, ErrCodeGeneric, "cannot resolve table", err)
			}
		}
		compiler, err := querysql.NewCompiler(opts.Table, columns)
		if err != nil {
			return formatter.Fail(ExitFailure, ErrCodeTranslate, "invalid table", err)
		}
		if result.SQL, result.Params, err = compiler.Compile(parsed, nil); err != nil {
			return formatter.Fail(ExitFailure, ErrCodeTranslate, "cannot translate query", err)
		}
	}
	return formatter.Success(result)
}

// serviceColumns returns the declared columns of table in the service
// description at path.
func serviceColumns(path, table string) ([]string, error) {
	cfg, err := loadService(path)
	if err != nil {
		return nil, err
	}
	for _, t := range cfg.Tables {
		if strings.EqualFold(t.Name, table) {
			cols := make([]string, len(t.Columns))
			for i, c := range t.Columns {
				cols[i] = c.Name
			}
			return cols, nil
		}
	}
	return nil, fmt.Errorf("table %q is not declared in %s", table, path)
}
