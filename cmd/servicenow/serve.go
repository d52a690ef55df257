package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/anguspalmer/servicenow/internal/adminserver"
	"github.com/anguspalmer/servicenow/internal/mcpserver"
)

// newServeCmd wires the admin REST surface and the MCP tool surface onto
// one listening port, the optional surface described in SPEC_FULL.md:
// everything a sync/get-table invocation needs,
// reachable by a dashboard or an agent instead of a shell.
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the admin REST + MCP HTTP surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}

			logLevel := slog.LevelInfo
			if viper.GetBool("debug") {
				logLevel = slog.LevelDebug
			}
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

			jwtSecret := viper.GetString("jwt_secret")
			if jwtSecret == "" {
				return fmt.Errorf("serve: --jwt-secret (or SERVICENOW_JWT_SECRET) is required")
			}

			cfg := adminserver.DefaultConfig()
			cfg.Host = viper.GetString("host")
			cfg.Port = viper.GetInt("port")
			cfg.ShutdownTimeout = viper.GetDuration("shutdown_timeout")
			cfg.JWTSecret = []byte(jwtSecret)
			cfg.RateLimitPerMin = viper.GetInt("rate_limit")

			if viper.GetBool("mcp") {
				mcp := mcpserver.New(client)
				cfg.MCPHandler = mcp.HTTPHandler()
			}

			srv := adminserver.New(cfg, client, logger)
			return srv.ListenAndServe()
		},
	}

	cmd.Flags().String("host", "0.0.0.0", "listen host")
	cmd.Flags().Int("port", 8090, "listen port")
	cmd.Flags().String("jwt-secret", "", "HMAC secret for admin bearer tokens (required)")
	cmd.Flags().Int("rate-limit", 120, "requests per minute per caller IP")
	cmd.Flags().Bool("mcp", true, "also mount the MCP tool surface at /mcp")
	cmd.Flags().Duration("shutdown-timeout", 30*time.Second, "grace period for in-flight requests on shutdown")

	viper.BindPFlag("host", cmd.Flags().Lookup("host"))
	viper.BindPFlag("port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("jwt_secret", cmd.Flags().Lookup("jwt-secret"))
	viper.BindPFlag("rate_limit", cmd.Flags().Lookup("rate-limit"))
	viper.BindPFlag("mcp", cmd.Flags().Lookup("mcp"))
	viper.BindPFlag("shutdown_timeout", cmd.Flags().Lookup("shutdown-timeout"))

	return cmd
}
