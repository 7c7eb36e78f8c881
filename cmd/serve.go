package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/taskwire/taskwire/internal/backend"
	"github.com/taskwire/taskwire/internal/bridge"
	"github.com/taskwire/taskwire/internal/history"
	"github.com/taskwire/taskwire/internal/integration"
	"github.com/taskwire/taskwire/internal/log"
	"github.com/taskwire/taskwire/internal/mcp"
	"github.com/taskwire/taskwire/internal/mcpconfig"
	"github.com/taskwire/taskwire/internal/session"
	"github.com/taskwire/taskwire/internal/syncer"
	"github.com/taskwire/taskwire/internal/tracing"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the MCP bridge server",
	Long: `Run the MCP server the coding agent connects to. By default it speaks
newline-delimited JSON-RPC over stdin/stdout, which is what IDE MCP configs
expect. With --http it listens on an address instead and accepts JSON-RPC
over HTTP POST.

A background synchronizer keeps the local task snapshot fresh for the
lifetime of the process.

Example:
  taskwire serve                     # stdio transport (for mcp.json)
  taskwire serve --http :8135       # HTTP transport
  taskwire serve --ensure-ide-config # repair .cursor/mcp.json first`,
	RunE: runServe,
}

var (
	serveHTTPAddr  string
	ensureIDEEntry bool
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveHTTPAddr, "http", "",
		"serve JSON-RPC over HTTP on this address instead of stdio")
	serveCmd.Flags().BoolVar(&ensureIDEEntry, "ensure-ide-config", false,
		"write or repair the taskwire entry in the IDE's mcp.json before serving")
}

func runServe(_ *cobra.Command, _ []string) error {
	cleanup, err := initLogging("serve")
	if err != nil {
		return err
	}
	defer cleanup()

	if err := requireSession(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tracer, err := tracing.NewProvider(cfg.Tracing)
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			log.ErrorErr(log.CatConfig, "Tracing shutdown failed", err)
		}
	}()

	store := session.NewStore(session.ProjectSession{
		ProjectID: cfg.ProjectID,
		PlanID:    cfg.PlanID,
		BaseURL:   cfg.BaseURL,
		AgentName: cfg.AgentName,
	})
	defer store.Close()

	client := backend.NewClient(cfg, store)
	sync := syncer.New(store, client, cfg.Sync)
	go sync.Run(ctx)

	checker := ideChecker()
	if ensureIDEEntry {
		if err := checker.Ensure(); err != nil {
			return fmt.Errorf("ensuring IDE config: %w", err)
		}
	}
	if st := checker.Check(); st != mcpconfig.StatusOK {
		log.Warn(log.CatConfig, "IDE MCP config not pointing at taskwire",
			"path", checker.Path(), "status", string(st))
	}

	statusSvc := integration.New(store, cfg, client, checker)

	server := mcp.NewServer("taskwire", version, mcp.WithInstructions(bridge.Instructions))
	bridge.New(store, client, sync, statusSvc, cfg).Register(server)
	defer server.Stop()

	if cfg.History.IsEnabled() && cfg.History.Path != "" {
		db, err := history.NewDB(cfg.History.Path)
		if err != nil {
			// The bridge works without its journal; don't refuse to serve.
			log.ErrorErr(log.CatHistory, "Invocation history disabled", err, "path", cfg.History.Path)
		} else {
			defer db.Close()
			history.NewRecorder(history.NewRepository(db)).Start(ctx, server.Broker())
		}
	}

	if serveHTTPAddr != "" {
		return serveHTTP(ctx, server)
	}
	return serveStdio(ctx, server)
}

func serveStdio(ctx context.Context, server *mcp.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(os.Stdin, os.Stdout)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info(log.CatMCP, "Shutting down on signal", "signal", sig.String())
		server.Stop()
		return nil
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serving MCP: %w", err)
		}
		return nil
	case <-ctx.Done():
		server.Stop()
		return nil
	}
}

func serveHTTP(ctx context.Context, server *mcp.Server) error {
	httpServer := &http.Server{
		Addr:              serveHTTPAddr,
		Handler:           server.ServeHTTP(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	fmt.Fprintf(os.Stderr, "taskwire MCP server listening on %s\n", serveHTTPAddr)

	select {
	case sig := <-sigCh:
		fmt.Fprintf(os.Stderr, "\nReceived %s, shutting down...\n", sig)
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// ideChecker points at ./.cursor/mcp.json when the project has one,
// otherwise the user-level config in the home directory.
func ideChecker() *mcpconfig.Checker {
	path := mcpconfig.DefaultRelPath
	if _, err := os.Stat(path); err != nil {
		if home, homeErr := os.UserHomeDir(); homeErr == nil {
			path = filepath.Join(home, mcpconfig.DefaultRelPath)
		}
	}

	command, err := os.Executable()
	if err != nil {
		command = "taskwire"
	}
	return mcpconfig.NewChecker(path, command, []string{"serve"})
}

// one-shot commands reuse this to build the gateway stack without a sync loop
func newSessionStack() (*session.Store, *backend.Client, *integration.Service) {
	store := session.NewStore(session.ProjectSession{
		ProjectID: cfg.ProjectID,
		PlanID:    cfg.PlanID,
		BaseURL:   cfg.BaseURL,
		AgentName: cfg.AgentName,
	})
	client := backend.NewClient(cfg, store)
	return store, client, integration.New(store, cfg, client, ideChecker())
}
