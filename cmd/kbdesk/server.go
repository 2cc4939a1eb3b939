package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/kbdesk/internal/api"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP console (foreground)",
	Long: `Run the JSON console on server.host:server.port.

Clients sign in with POST /auth/signin and send the returned token as
"Authorization: Bearer <token>" on every other route.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		return runServer(cmd.Context(), addr)
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the catalog and questions as MCP tools over stdio",
	Long: `Serve MCP over stdin/stdout. Tools act as the user signed in with
"kbdesk signin".`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCP(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (default server.host:server.port)")
	rootCmd.AddCommand(serveCmd, mcpCmd)
}

func runServer(ctx context.Context, addr string) error {
	fmt.Fprintf(os.Stderr, "kbdesk version %s\n", version)

	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	secret, err := jwtSecret(a.cfg.Auth.JWTSecret)
	if err != nil {
		return err
	}
	if a.cfg.Auth.JWTSecret == "" {
		a.logger.Warn("no JWT secret configured, tokens will not survive a restart", "env", "KBDESK_JWT_SECRET")
	}

	handler := api.NewConsoleHandler(api.ConsoleDeps{
		Desk:   a.desk,
		Tokens: api.NewTokens(secret, a.cfg.Auth.TokenTTL),
		Logger: a.logger,
	})

	if addr == "" {
		addr = a.cfg.ServerAddr()
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		printStatus("Console", "http://%s", addr)
		printStatus("Backend", "%s", a.client.BaseURL())
		printStatus("Storage", "%s", a.cfg.Storage.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// jwtSecret returns the configured signing key, or a random one for this
// process when none is set.
func jwtSecret(configured string) ([]byte, error) {
	if configured != "" {
		return []byte(configured), nil
	}
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("generating JWT secret: %w", err)
	}
	return b, nil
}

func runMCP(ctx context.Context) error {
	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	mcpSrv := api.NewMCPServer(api.MCPDeps{Desk: a.desk, Version: version})
	a.logger.Info("MCP server started (stdio transport)")
	if err := server.NewStdioServer(mcpSrv).Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("MCP stdio server: %w", err)
	}
	return nil
}
