package cli

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// RouteInfo is one row of the routes listing.
type RouteInfo struct {
	Method    string `json:"method"`
	Template  string `json:"template"`
	Operation string `json:"operation"`
}

// RoutesResult lists the dispatch table of a service.
type RoutesResult struct {
	Service  string      `json:"service"`
	Base     string      `json:"base"`
	CatchAll string      `json:"catch_all,omitempty"`
	Routes   []RouteInfo `json:"routes"`
}

func (r RoutesResult) String() string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s at %s\n", r.Service, r.Base)
	tw := tabwriter.NewWriter(&buf, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "METHOD\tTEMPLATE\tOPERATION")
	for _, rt := range r.Routes {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", rt.Method, rt.Template, rt.Operation)
	}
	tw.Flush()
	if r.CatchAll != "" {
		fmt.Fprintf(&buf, "catch-all: %s\n", r.CatchAll)
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n"))
}

// NewRoutesCommand creates the routes command.
func NewRoutesCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "routes <service-file>",
		Short: "List the operations a service description dispatches to",
		Long: `List the dispatch table of a service description: one row per
operation, grouped by HTTP method.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRoutes(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runRoutes(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	cfg, err := loadService(path)
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeGeneric, "invalid service description", err)
	}
	svc, err := buildService(cfg, nil, quietLogger())
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeGeneric, "failed to build service", err)
	}

	result := RoutesResult{Service: cfg.Name, Base: cfg.Base, CatchAll: svc.Selector().CatchAll(), Routes: []RouteInfo{}}
	for _, rt := range svc.Selector().Routes() {
		result.Routes = append(result.Routes, RouteInfo{Method: rt.Method, Template: rt.Template, Operation: rt.Operation})
	}
	return formatter.Success(result)
}

// quietLogger discards logs of services that are only inspected.
func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
