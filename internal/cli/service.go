package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"reflect"
	"strings"

	"github.com/c29m/webhttp/internal/config"
	"github.com/c29m/webhttp/internal/dispatch"
	"github.com/c29m/webhttp/internal/host"
	"github.com/c29m/webhttp/internal/query"
	"github.com/c29m/webhttp/internal/store"
)

var rowType = reflect.TypeOf(map[string]any{})

// loadService loads and validates a service description. Validation
// problems are returned as one aggregated error.
func loadService(path string) (*config.Service, error) {
	svc, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := config.Check(svc); err != nil {
		return nil, err
	}
	return svc, nil
}

// tableOperations lists the operations exposing t: a list over the table
// template, a row lookup below it and, when enabled, an insert.
func tableOperations(t config.Table) []dispatch.Operation {
	names := t.OperationNames()
	tmpl := strings.TrimSuffix(t.Template, "/")
	ops := []dispatch.Operation{
		{Name: names.List, Method: http.MethodGet, Template: tmpl},
		{Name: names.Get, Method: http.MethodGet, Template: tmpl + "/{id}"},
	}
	if t.Insert {
		ops = append(ops, dispatch.Operation{
			Name:     names.Add,
			Method:   http.MethodPost,
			Template: tmpl,
			Inputs:   []dispatch.Parameter{{Name: "row", Type: rowType}},
		})
	}
	return ops
}

// buildService wires the described tables to st. st may be nil when the
// service is only inspected and never serves a request.
func buildService(cfg *config.Service, st host.TableStore, logger *slog.Logger) (*host.Service, error) {
	base, err := url.Parse(cfg.Base)
	if err != nil {
		return nil, fmt.Errorf("parse base: %w", err)
	}

	selectorOpts := []dispatch.Option{}
	if cfg.MatchMode == "multi" {
		selectorOpts = append(selectorOpts, dispatch.WithMatchMode(dispatch.MultiMatch))
	}
	if cfg.CatchAll != "" {
		selectorOpts = append(selectorOpts, dispatch.WithCatchAll(cfg.CatchAll))
	}

	b := host.NewBuilder(base,
		host.WithLogger(logger),
		host.WithFormatters(cfg.Formatters...),
		host.WithSelectorOptions(selectorOpts...))

	for _, t := range cfg.Tables {
		for _, op := range tableOperations(t) {
			var h host.Handler
			switch {
			case op.Method == http.MethodPost:
				h = host.TableInsertHandler(st, t.Name)
			case strings.HasSuffix(op.Template, "/{id}"):
				h = host.TableRowHandler(st, t.Name)
			default:
				h = host.TableHandler(st, t.Name)
			}
			// Problems are collected by the builder and reported by Build.
			_ = b.Handle(op, h)
		}
	}
	return b.Build()
}

// openStore opens the database and creates the described tables. Seed
// rows are inserted only into tables that are still empty.
func openStore(ctx context.Context, cfg *config.Service, path string, logger *slog.Logger) (*store.Store, error) {
	st, err := store.Open(path)
	if err != nil {
		return nil, err
	}
	for _, t := range cfg.Tables {
		if err := prepareTable(ctx, st, t, logger); err != nil {
			st.Close()
			return nil, err
		}
	}
	return st, nil
}

func prepareTable(ctx context.Context, st *store.Store, t config.Table, logger *slog.Logger) error {
	cols, err := t.StoreColumns()
	if err != nil {
		return err
	}
	if err := st.EnsureTable(ctx, t.Name, cols); err != nil {
		return fmt.Errorf("table %s: %w", t.Name, err)
	}
	if len(t.Rows) == 0 {
		return nil
	}

	one := 1
	existing, err := st.Find(ctx, t.Name, query.Options{Top: &one}, nil)
	if err != nil {
		return fmt.Errorf("table %s: %w", t.Name, err)
	}
	if len(existing) > 0 {
		logger.Debug("table already populated, skipping seed rows", "table", t.Name)
		return nil
	}
	for i, row := range t.Rows {
		if _, err := st.Insert(ctx, t.Name, row); err != nil {
			return fmt.Errorf("table %s: seed row %d: %w", t.Name, i, err)
		}
	}
	logger.Info("seeded table", "table", t.Name, "rows", len(t.Rows))
	return nil
}
