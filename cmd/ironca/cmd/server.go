package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/jmcleod/ironca/audit"
	"github.com/jmcleod/ironca/config"
	"github.com/jmcleod/ironca/manager"
	"github.com/jmcleod/ironca/responder"
	"github.com/jmcleod/ironca/server"
)

var (
	address   string
	accessLog bool
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the CA REST server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if address != "" {
			cfg.Server.Address = address
		}
		logger, err := newLogger()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runServer(ctx, cfg, logger)
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.Flags().StringVarP(&address, "address", "a", "", "Address to listen on (overrides server.address)")
	serverCmd.Flags().BoolVar(&accessLog, "access-log", false, "Log every HTTP request")
}

func runServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	repo, repoCloser, err := manager.OpenRepository(ctx, cfg)
	if err != nil {
		return err
	}
	defer repoCloser.Close()

	sealKey, err := manager.LoadSealKey(cfg.Resolve(cfg.Storage.SealKeyFile))
	if err != nil {
		return err
	}
	keyStore, ksCloser, err := manager.OpenKeyStore(cfg)
	if err != nil {
		return err
	}
	defer ksCloser.Close()

	m, err := manager.Build(ctx, cfg, manager.Deps{
		Repo:     repo,
		KeyStore: keyStore,
		SealKey:  sealKey,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("failed to start CAs: %w", err)
	}

	sinks := audit.MultiSink{audit.NewSlogSink(logger)}
	if cfg.Audit.Store {
		sinks = append(sinks, audit.NewStoreSink(repo))
	}
	if cfg.Audit.WebhookURL != "" {
		webhook := audit.NewWebhookSink(cfg.Audit.WebhookURL, cfg.Audit.WebhookAuthHeader, logger)
		defer webhook.Close()
		sinks = append(sinks, webhook)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	resp := responder.New(m,
		responder.WithLogger(logger),
		responder.WithAuditSink(sinks),
		responder.WithRegisterer(reg),
		responder.WithMaxBodyBytes(cfg.Server.MaxBodyBytes),
	)
	router := server.NewRouter(server.RouterConfig{
		PathPrefix:  cfg.Server.PathPrefix,
		Responder:   resp,
		Gatherer:    reg,
		CANames:     m.Names,
		DisableDocs: cfg.Server.DisableDocs,
		AccessLog:   accessLog,
	})

	tlsCfg, selfSigned, err := server.TLSConfig(cfg)
	if err != nil {
		return err
	}

	printBanner()
	if selfSigned {
		fmt.Println("Using self-signed runtime generated certificate for TLS")
	}
	fmt.Printf("Starting server on %s (CAs: %v, storage: %s)...\n", cfg.Server.Address, m.Names(), cfg.Storage.Driver)

	if err := server.New(cfg, router, tlsCfg, logger).Run(ctx, nil); err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, "Server stopped")
	return nil
}
