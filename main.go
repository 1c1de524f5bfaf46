package main

import (
	"context"
	"embed"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/peterje/obsidianki-mcp/internal/control"
	"github.com/peterje/obsidianki-mcp/internal/db"
	"github.com/peterje/obsidianki-mcp/internal/mcpserver"
	"github.com/peterje/obsidianki-mcp/internal/preflight"
	"github.com/peterje/obsidianki-mcp/internal/registry"
	httpserver "github.com/peterje/obsidianki-mcp/internal/server"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const version = "0.2.0"

var (
	flagCommand     string
	flagHTTP        string
	flagDB          string
	flagGrace       time.Duration
	flagPollGrace   time.Duration
	flagStopGrace   time.Duration
	flagRunTimeout  time.Duration
	flagIdleTimeout time.Duration
)

var rootCmd = &cobra.Command{
	Use:          "obsidianki-mcp",
	Short:        "MCP server that supervises an interactive obsidianki process",
	RunE:         run,
	SilenceUsage: true,
}

func init() {
	rootCmd.Flags().StringVar(&flagCommand, "command", "obsidianki", "wrapped executable name")
	rootCmd.Flags().StringVar(&flagHTTP, "http", "", "also serve the HTTP control surface on this address (e.g. 127.0.0.1:8800)")
	rootCmd.Flags().StringVar(&flagDB, "db", "", "run-history database path (default ~/.obsidianki-mcp/history.db)")
	rootCmd.Flags().DurationVar(&flagGrace, "grace", control.DefaultGrace, "best-effort wait for output after start/input")
	rootCmd.Flags().DurationVar(&flagPollGrace, "poll-grace", control.DefaultPollGrace, "best-effort wait before an output snapshot")
	rootCmd.Flags().DurationVar(&flagStopGrace, "stop-grace", control.DefaultStopGrace, "how long a graceful stop waits before SIGKILL")
	rootCmd.Flags().DurationVar(&flagRunTimeout, "run-timeout", control.DefaultRunTimeout, "default one-shot deadline")
	rootCmd.Flags().DurationVar(&flagIdleTimeout, "idle-timeout", 0, "reclaim interactive sessions untouched for this long (0 disables)")
}

func run(_ *cobra.Command, _ []string) error {
	// Stdout belongs to the MCP stdio transport; everything else goes to
	// stderr via log.
	tool := preflight.Check(flagCommand)

	dbPath := flagDB
	if dbPath == "" {
		dataDir, err := db.DataDir()
		if err != nil {
			return fmt.Errorf("data dir: %w", err)
		}
		dbPath = filepath.Join(dataDir, "history.db")
	}
	database, err := db.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open history database: %w", err)
	}
	defer database.Close()

	migrationSQL, err := migrationsFS.ReadFile("migrations/001_initial.sql")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	if err := db.Migrate(database, string(migrationSQL)); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	history := db.NewHistory(database)
	if n, err := history.MarkStale(); err != nil {
		log.Printf("reconcile stale runs: %v", err)
	} else if n > 0 {
		log.Printf("marked %d stale runs as stopped", n)
	}

	reg := registry.New()
	ctrl := control.New(control.Config{
		Command:    flagCommand,
		Grace:      flagGrace,
		PollGrace:  flagPollGrace,
		StopGrace:  flagStopGrace,
		RunTimeout: flagRunTimeout,
	}, reg, history)

	if flagIdleTimeout > 0 {
		log.Printf("idle watchdog enabled (%s)", flagIdleTimeout)
		stopReaper := reg.StartReaper(flagIdleTimeout, flagStopGrace)
		defer stopReaper()
	}

	var httpSrv *http.Server
	if flagHTTP != "" {
		srv := httpserver.New(ctrl, history, tool)
		httpSrv = &http.Server{Addr: flagHTTP, Handler: httpserver.Middleware(srv)}
		go func() {
			log.Printf("http control surface on %s", flagHTTP)
			if err := httpSrv.ListenAndServe(); err != http.ErrServerClosed {
				log.Printf("http server: %v", err)
			}
		}()
	}

	// A signal or stdin EOF both mean the supervisor is going away; the
	// child must not outlive it.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("received %s, shutting down", sig)
		shutdown(reg, httpSrv)
		os.Exit(0)
	}()

	mcpSrv := mcpserver.New(ctrl, version, flagRunTimeout)
	log.Printf("obsidianki-mcp %s serving MCP over stdio (wrapping %q)", version, flagCommand)
	err = server.ServeStdio(mcpSrv)

	shutdown(reg, httpSrv)
	if err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}

func shutdown(reg *registry.Registry, httpSrv *http.Server) {
	if sess := reg.Current(); sess != nil {
		sess.Stop(flagStopGrace)
	}
	if httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpSrv.Shutdown(ctx)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Failed to run: %v", err)
	}
}
