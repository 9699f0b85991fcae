// Package main provides the CLI entry point for the TUIC server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/fbzhong/tuic/internal/certutil"
	"github.com/fbzhong/tuic/internal/config"
	"github.com/fbzhong/tuic/internal/health"
	"github.com/fbzhong/tuic/internal/logging"
	"github.com/fbzhong/tuic/internal/metrics"
	"github.com/fbzhong/tuic/internal/server"
)

var (
	// Version is set at build time
	Version = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "tuic-server",
		Short: "TUIC server - UDP relay over QUIC",
		Long: `tuic-server accepts TUIC v5 clients over QUIC and relays their
UDP associations to remote hosts from dual-stack sockets.`,
		Version: Version,
	}

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(certCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the server",
		Long:  "Start the TUIC server with the specified configuration.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			logger := logging.NewLogger(cfg.Log.Level, cfg.Log.Format)

			connCfg, err := cfg.ConnectionConfig()
			if err != nil {
				return err
			}

			tlsConfig, err := server.LoadTLSConfig(cfg.Server.TLS.Cert, cfg.Server.TLS.Key, cfg.Server.ALPN)
			if err != nil {
				return err
			}
			warnExpiringCert(cfg.Server.TLS.Cert, cfg.Server.TLS.Key)

			srv := server.New(server.Config{
				Listen:                cfg.Server.Listen,
				TLS:                   tlsConfig,
				MaxIdleTimeout:        cfg.QUIC.MaxIdleTime,
				KeepAlivePeriod:       cfg.QUIC.KeepAlivePeriod,
				MaxIncomingUniStreams: cfg.QUIC.MaxUniStreams,
				Connection:            connCfg,
			}, logger, metrics.Default())

			if err := srv.Listen(); err != nil {
				return err
			}

			fmt.Printf("Starting TUIC server...\n")
			fmt.Printf("Listening on: %s\n", srv.Addr())
			fmt.Printf("Users: %d\n", len(connCfg.Users))
			fmt.Printf("Max external packet: %s\n", humanize.Bytes(uint64(cfg.UDP.MaxExternalPacketSize)))
			fmt.Printf("IPv6 relay: %v\n", cfg.UDP.RelayIPv6)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return srv.Serve(gctx)
			})
			g.Go(func() error {
				<-gctx.Done()
				fmt.Println("\nShutting down...")
				return srv.Close()
			})

			if cfg.Health.Enabled {
				healthSrv := health.NewServer(health.ServerConfig{
					Address:      cfg.Health.Address,
					ReadTimeout:  cfg.Health.ReadTimeout,
					WriteTimeout: cfg.Health.WriteTimeout,
					Version:      Version,
				}, srv)
				g.Go(func() error {
					if err := healthSrv.Run(gctx); err != nil {
						return fmt.Errorf("health server: %w", err)
					}
					return nil
				})
				fmt.Printf("Health server: %s\n", cfg.Health.Address)
			}

			if err := g.Wait(); err != nil {
				fmt.Printf("Shutdown error: %v\n", err)
				return err
			}

			fmt.Println("Server stopped.")
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "./config.yaml", "Path to configuration file")

	return cmd
}

func certCmd() *cobra.Command {
	var (
		certPath string
		keyPath  string
		hosts    []string
		validFor time.Duration
	)

	cmd := &cobra.Command{
		Use:   "cert <common-name>",
		Short: "Generate a self-signed certificate",
		Long:  "Generate a self-signed ECDSA server certificate for testing deployments.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := certutil.DefaultOptions(args[0])
			opts.Hosts = append(opts.Hosts, hosts...)
			if validFor > 0 {
				opts.ValidFor = validFor
			}

			cert, err := certutil.GenerateSelfSigned(opts)
			if err != nil {
				return fmt.Errorf("failed to generate certificate: %w", err)
			}
			if err := cert.SaveToFiles(certPath, keyPath); err != nil {
				return err
			}

			fmt.Printf("Certificate: %s\n", certPath)
			fmt.Printf("Private key: %s\n", keyPath)
			fmt.Printf("Fingerprint: %s\n", cert.Fingerprint())
			fmt.Printf("Expires: %s (%s)\n",
				cert.Certificate.NotAfter.Format(time.RFC3339),
				humanize.Time(cert.Certificate.NotAfter))
			return nil
		},
	}

	cmd.Flags().StringVar(&certPath, "out-cert", "./server.crt", "Certificate output path")
	cmd.Flags().StringVar(&keyPath, "out-key", "./server.key", "Private key output path")
	cmd.Flags().StringSliceVar(&hosts, "host", nil, "Additional DNS name or IP address (repeatable)")
	cmd.Flags().DurationVar(&validFor, "valid-for", 0, "Certificate validity (default 90 days)")

	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("tuic-server %s\n", Version)
		},
	}
}

// warnExpiringCert only handles ECDSA keys; other key types are skipped.
func warnExpiringCert(certPath, keyPath string) {
	cert, err := certutil.LoadCert(certPath, keyPath)
	if err != nil {
		return
	}
	if certutil.IsExpiringSoon(cert.Certificate, 7*24*time.Hour) {
		fmt.Fprintf(os.Stderr, "Warning: certificate expires %s\n", humanize.Time(cert.Certificate.NotAfter))
	}
}
