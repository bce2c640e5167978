package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ferragate/ferragate/pkg/gateway"
)

// newRootCommand builds the ferragate CLI (§6): start, validate, init,
// gen-certs, mirroring caddy's cmd/cobra.go pattern of a package-level
// factory returning *cobra.Command.
func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "ferragate",
		Short: "A declarative reverse-proxy gateway",
		Long: `ferragate is a reverse-proxy gateway that matches incoming
requests against a static, file-defined route table and forwards them
to upstream origins.

Configuration is loaded once at startup from a TOML file; there is no
dynamic reload. Use 'ferragate init' to generate a starter config and
'ferragate validate' to check one before deploying it.`,
	}

	root.AddCommand(newStartCommand())
	root.AddCommand(newValidateCommand())
	root.AddCommand(newInitCommand())
	root.AddCommand(newGenCertsCommand())

	return root
}

func newStartCommand() *cobra.Command {
	var configPath, host string
	var port int

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Load the config and run the gateway until signalled",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := gateway.Load(configPath)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}

			cfg.ApplyEnv()
			if cmd.Flags().Changed("host") {
				cfg.Server.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}

			if err := cfg.Validate(); err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}

			if err := runGateway(cfg); err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(2)
			}
			// server.Run only returns nil after a signal-initiated
			// shutdown completed cleanly (§6 exit code 130).
			os.Exit(130)
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", envOr("FERRAGATE_CONFIG", "ferragate.toml"), "path to the TOML config file")
	cmd.Flags().StringVar(&host, "host", "", "override server.host")
	cmd.Flags().IntVar(&port, "port", 0, "override server.port")

	return cmd
}

func newValidateCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Parse and validate a config file without starting the gateway",
		Run: func(cmd *cobra.Command, args []string) {
			_, err := gateway.Load(configPath)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
			fmt.Println("configuration is valid")
		},
	}

	cmd.Flags().StringVar(&configPath, "config", envOr("FERRAGATE_CONFIG", "ferragate.toml"), "path to the TOML config file")
	return cmd
}

func newInitCommand() *cobra.Command {
	var outputPath string
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a richly-commented starter config",
		Run: func(cmd *cobra.Command, args []string) {
			if !force {
				if _, err := os.Stat(outputPath); err == nil {
					fmt.Fprintf(os.Stderr, "%s already exists; use --force to overwrite\n", outputPath)
					os.Exit(1)
				}
			}

			if dir := filepath.Dir(outputPath); dir != "." {
				_ = os.MkdirAll(dir, 0755)
			}

			if err := os.WriteFile(outputPath, []byte(gateway.Example()), 0644); err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
			fmt.Printf("wrote %s\n", outputPath)
		},
	}

	cmd.Flags().StringVar(&outputPath, "output", "ferragate.toml", "path to write the starter config")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite the output file if it exists")
	return cmd
}

func newGenCertsCommand() *cobra.Command {
	var hostname, outputDir string
	var force bool

	cmd := &cobra.Command{
		Use:   "gen-certs",
		Short: "Generate a self-signed certificate/key pair",
		Run: func(cmd *cobra.Command, args []string) {
			certPath := filepath.Join(outputDir, "server.crt")
			keyPath := filepath.Join(outputDir, "server.key")

			if !force {
				if _, err := os.Stat(certPath); err == nil {
					fmt.Fprintf(os.Stderr, "%s already exists; use --force to overwrite\n", certPath)
					os.Exit(1)
				}
			}

			cert, key, err := gateway.GenerateSelfSigned(hostname, outputDir)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
			fmt.Printf("wrote %s and %s\n", cert, key)
		},
	}

	cmd.Flags().StringVar(&hostname, "hostname", "localhost", "hostname the certificate is issued for")
	cmd.Flags().StringVar(&outputDir, "output-dir", "certs", "directory to write server.crt/server.key into")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing cert/key files")
	return cmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// runGateway builds the logger, proxy, health checker and listener
// supervisor from cfg and runs until SIGINT/SIGTERM, giving in-flight
// requests the supervisor's grace period before returning (§4.7, §6
// exit code 130 on signal-initiated shutdown).
func runGateway(cfg *gateway.Config) error {
	logger, err := gateway.NewLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Sync()

	table, err := gateway.NewRouteTable(cfg.Routes)
	if err != nil {
		return err
	}

	upstream, err := gateway.NewUpstreamClient()
	if err != nil {
		return err
	}

	proxy := gateway.NewProxy(cfg, table, upstream, logger)

	health := gateway.NewHealthChecker(version, logger)
	registerDefaultChecks(health, cfg)

	server := gateway.NewServer(cfg, proxy, health, logger, version)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return server.Run(ctx)
}

// registerDefaultChecks wires the one readiness check every gateway
// gets for free: "is the route table non-empty". Operators extending
// ferragate as a library can Register additional checks before
// calling Start.
func registerDefaultChecks(health *gateway.HealthChecker, cfg *gateway.Config) {
	health.Register("routes_loaded", func(ctx context.Context) error {
		if len(cfg.Routes) == 0 {
			return fmt.Errorf("no routes configured")
		}
		return nil
	})
}
