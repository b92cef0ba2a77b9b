package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/n9te9/kinabalu/accounts"
	"github.com/n9te9/kinabalu/auth"
	"github.com/n9te9/kinabalu/catalog"
	"github.com/n9te9/kinabalu/checkout"
	"github.com/n9te9/kinabalu/config"
	"github.com/n9te9/kinabalu/gateway"
	"github.com/n9te9/kinabalu/server"
	"github.com/n9te9/kinabalu/store"
	"github.com/n9te9/kinabalu/subgraph"
	"github.com/n9te9/kinabalu/tracing"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"gorm.io/gorm"
)

func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Serve the federated graph. SIGHUP reloads the subgraph schemas",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig("gateway")
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			settings := cfg.Gateway

			shutdown, err := setupTracing(ctx, settings.ServiceName, settings.Opentelemetry)
			if err != nil {
				return err
			}
			defer shutdown()

			verifier, err := newVerifier(settings.Auth)
			if err != nil {
				return err
			}

			gw, err := gateway.NewGateway(ctx, settings, verifier)
			if err != nil {
				return fmt.Errorf("start gateway: %w", err)
			}

			ctx, stop := context.WithCancel(ctx)
			defer stop()
			go reloadOnHangup(ctx, gw)

			return server.Run(ctx, settings.ServiceName, settings.Port, server.NewRouter(settings.ServiceName, gw.Endpoint(), gw))
		},
	}
}

// newVerifier returns nil when no public key is configured; the gateway then treats
// every request as anonymous.
func newVerifier(s gateway.AuthSetting) (*auth.Verifier, error) {
	if s.PublicKeyFile == "" {
		slog.Warn("no public key configured, every request is anonymous", "module", "cli", "operation", "verifier")
		return nil, nil
	}

	key, err := auth.LoadPublicKey(s.PublicKeyFile)
	if err != nil {
		return nil, err
	}

	var opts []auth.VerifierOption
	if s.Leeway != "" {
		leeway, err := time.ParseDuration(s.Leeway)
		if err != nil {
			return nil, fmt.Errorf("parse leeway %q: %w", s.Leeway, err)
		}
		opts = append(opts, auth.WithLeeway(leeway))
	}
	return auth.NewVerifier(key, s.Audience, s.Issuer, opts...)
}

func reloadOnHangup(ctx context.Context, gw *gateway.Gateway) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := gw.Reload(ctx); err != nil {
				slog.ErrorContext(ctx, "reload failed, keeping the current schema",
					"module", "cli",
					"operation", "reload",
					"outcome", "failure",
					"error", err.Error(),
				)
			}
		}
	}
}

func catalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Serve the catalog subgraph",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig("catalog")
			if err != nil {
				return err
			}
			return serveSubgraph(cmd.Context(), "catalog", cfg.Catalog.ServiceSetting, catalog.Models(), func(db *gorm.DB) (*subgraph.Schema, error) {
				return catalog.NewSchema(catalog.NewService(db))
			})
		},
	}
	cmd.AddCommand(addProductCmd())
	return cmd
}

func checkoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "checkout",
		Short: "Serve the checkout subgraph",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig("checkout")
			if err != nil {
				return err
			}
			s := cfg.Checkout

			httpClient := &http.Client{Timeout: parseDuration(s.CatalogTimeout, 5*time.Second)}
			if s.Opentelemetry.TracingSetting.Enable {
				httpClient.Transport = otelhttp.NewTransport(http.DefaultTransport)
			}
			lookup := checkout.NewCatalogClient(s.CatalogEndpoint, httpClient)

			return serveSubgraph(cmd.Context(), "checkout", s.ServiceSetting, checkout.Models(), func(db *gorm.DB) (*subgraph.Schema, error) {
				return checkout.NewSchema(checkout.NewLinker(db, lookup))
			})
		},
	}
}

func accountsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Serve the accounts subgraph",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig("accounts")
			if err != nil {
				return err
			}

			signer, err := newSigner(cfg.Accounts)
			if err != nil {
				return err
			}

			return serveSubgraph(cmd.Context(), "accounts", cfg.Accounts.ServiceSetting, accounts.Models(), func(db *gorm.DB) (*subgraph.Schema, error) {
				return accounts.NewSchema(newAccounts(db, signer, cfg.Accounts))
			})
		},
	}
	cmd.AddCommand(createUserCmd())
	return cmd
}

func newSigner(s config.AccountsSetting) (*auth.Signer, error) {
	key, err := auth.LoadPrivateKey(s.PrivateKeyFile)
	if err != nil {
		return nil, err
	}
	return auth.NewSigner(key, auth.SignerSettings{
		KeyID:         s.KeyID,
		Audience:      s.Audience,
		Issuer:        s.Issuer,
		TTL:           parseDuration(s.TokenTTL, auth.DefaultTokenTTL),
		NotBeforeSkew: auth.DefaultNotBeforeSkew,
	})
}

func newAccounts(db *gorm.DB, signer *auth.Signer, s config.AccountsSetting) *accounts.Service {
	opts := []accounts.Option{}
	if len(s.Roles) > 0 {
		opts = append(opts, accounts.WithRoles(s.Roles))
	}
	if s.BcryptCost > 0 {
		opts = append(opts, accounts.WithHashCost(s.BcryptCost))
	}
	return accounts.NewService(db, signer, opts...)
}

// serveSubgraph opens the store of a subgraph, builds its schema and serves it until
// the process is told to stop.
func serveSubgraph(ctx context.Context, name string, s config.ServiceSetting, models []any, build func(*gorm.DB) (*subgraph.Schema, error)) error {
	shutdown, err := setupTracing(ctx, name, s.Opentelemetry)
	if err != nil {
		return err
	}
	defer shutdown()

	db, err := openStore(ctx, s.Store, models)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close(db) }()

	schema, err := build(db)
	if err != nil {
		return fmt.Errorf("build %s schema: %w", name, err)
	}

	return server.Run(ctx, name, s.Port, server.NewRouter(name, s.Path, subgraph.NewHandler(schema)))
}

func openStore(ctx context.Context, s store.Config, models []any) (*gorm.DB, error) {
	db, err := store.Open(ctx, s)
	if err != nil {
		return nil, err
	}
	if s.AutoMigrate {
		if err := store.Migrate(ctx, db, models...); err != nil {
			_ = store.Close(db)
			return nil, err
		}
	}
	return db, nil
}

func setupTracing(ctx context.Context, name string, s gateway.OpentelemetrySetting) (func(), error) {
	shutdown, err := tracing.Setup(ctx, name, tracing.Setting{
		Enable:   s.TracingSetting.Enable,
		Endpoint: s.TracingSetting.Endpoint,
		Insecure: s.TracingSetting.Insecure,
	})
	if err != nil {
		return nil, err
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(ctx); err != nil {
			slog.Error("tracing shutdown failed", "module", "cli", "operation", "tracing_shutdown", "error", err.Error())
		}
	}, nil
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
