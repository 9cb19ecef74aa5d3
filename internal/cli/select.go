package cli

import (
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/c29m/webhttp/internal/content"
)

// SelectResult describes how a request would be dispatched.
type SelectResult struct {
	Method           string            `json:"method"`
	URI              string            `json:"uri"`
	Operation        string            `json:"operation,omitempty"`
	Matched          bool              `json:"matched"`
	Template         string            `json:"template,omitempty"`
	Variables        map[string]string `json:"variables,omitempty"`
	MethodNotAllowed bool              `json:"method_not_allowed,omitempty"`
	Allowed          []string          `json:"allowed,omitempty"`
}

func (r SelectResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", r.Method, r.URI)
	switch {
	case r.Matched:
		fmt.Fprintf(&b, "  operation: %s\n  template:  %s", r.Operation, r.Template)
		names := make([]string, 0, len(r.Variables))
		for name := range r.Variables {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(&b, "\n  %s = %q", name, r.Variables[name])
		}
	case r.Operation != "":
		fmt.Fprintf(&b, "  operation: %s (catch-all)", r.Operation)
	case r.MethodNotAllowed:
		fmt.Fprintf(&b, "  405 method not allowed (allow: %s)", strings.Join(r.Allowed, ", "))
	default:
		b.WriteString("  404 no operation matches")
	}
	return b.String()
}

// NewSelectCommand creates the select command.
func NewSelectCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "select <service-file> <method> <uri>",
		Short: "Show which operation a request dispatches to",
		Long: `Show which operation a request dispatches to and the template
variables it binds. uri is either absolute or relative to the service base.

Example:
  webhttp select shop.yaml GET 'products/3'
  webhttp select shop.yaml DELETE http://localhost:8080/shop/products`,
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSelect(rootOpts, args, cmd)
		},
	}
	return cmd
}

func runSelect(opts *RootOptions, args []string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	path, method, raw := args[0], strings.ToUpper(args[1]), args[2]

	cfg, err := loadService(path)
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeGeneric, "invalid service description", err)
	}
	svc, err := buildService(cfg, nil, opts.logger(cmd))
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeGeneric, "failed to build service", err)
	}

	uri := raw
	if u, err := url.Parse(raw); err != nil || !u.IsAbs() {
		uri = content.CombineURI(cfg.Base, raw)
	}
	req, err := http.NewRequest(method, uri, nil)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeBadURI, "invalid request", err)
	}

	_, sel, err := svc.Selector().SelectOperation(req)
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeNoMatch, "selection failed", err)
	}

	result := SelectResult{
		Method:           method,
		URI:              uri,
		Operation:        sel.Operation,
		Matched:          sel.Matched(),
		MethodNotAllowed: sel.MethodNotAllowed,
		Allowed:          sel.Allowed,
	}
	if sel.Matched() {
		result.Template = sel.Match.Template.String()
		result.Variables = sel.Match.BoundVariables
	}
	if err := formatter.Success(result); err != nil {
		return err
	}
	if !result.Matched && result.Operation == "" {
		return NewExitError(ExitFailure, "no operation matches")
	}
	return nil
}
