package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Database string
	Listen   string

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration

	// Ready, when set, receives the bound address once the listener is
	// open (for testing).
	Ready func(addr string)
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve <service-file>",
		Short: "Serve the tables of a service description over HTTP",
		Long: `Serve the tables of a service description over HTTP.

The description is loaded and validated, the sqlite database is opened
(created if it doesn't exist), declared tables are created and seeded,
and every table is exposed below the service base path:

  GET  <template>        list rows ($filter, $orderby, $skip, $top, $select)
  GET  <template>/{id}   one row
  POST <template>        insert a row (tables with insert: true)

Example:
  webhttp serve shop.yaml
  webhttp serve --db /tmp/shop.db --listen :9090 shop.cue --verbose`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides the description)")
	cmd.Flags().StringVar(&opts.Listen, "listen", "", "listen address (overrides the description)")
	cmd.Flags().DurationVar(&opts.ShutdownTimeout, "shutdown-timeout", 10*time.Second, "graceful shutdown timeout")

	return cmd
}

func runServe(opts *ServeOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	logger := opts.logger(cmd)

	cfg, err := loadService(path)
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeGeneric, "invalid service description", err)
	}
	dbPath := cfg.Database
	if opts.Database != "" {
		dbPath = opts.Database
	}
	addr := cfg.Listen
	if opts.Listen != "" {
		addr = opts.Listen
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	logger.Info("opening database", "path", dbPath)
	st, err := openStore(ctx, cfg, dbPath, logger)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeDatabase, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Error("error closing database", "error", closeErr)
		}
	}()

	svc, err := buildService(cfg, st, logger)
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeGeneric, "failed to build service", err)
	}

	router := mux.NewRouter()
	svc.Mount(router)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeServe, "failed to listen", err)
	}
	srv := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	logger.Info("service listening", "service", cfg.Name, "addr", ln.Addr().String(), "base", cfg.Base, "operations", len(svc.Selector().Operations()))
	fmt.Fprintf(cmd.OutOrStdout(), "Serving %s on %s. Press Ctrl-C to stop.\n", cfg.Name, ln.Addr())
	if opts.Ready != nil {
		opts.Ready(ln.Addr().String())
	}

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return formatter.Fail(ExitCommandError, ErrCodeServe, "server error", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), opts.ShutdownTimeout)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeServe, "shutdown failed", err)
	}
	logger.Info("service stopped gracefully", "served", svc.Served())
	return nil
}
