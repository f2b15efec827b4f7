package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/easyauth-k8s/easyauth/pkg/auth"
	"github.com/easyauth-k8s/easyauth/pkg/config"
	"github.com/easyauth-k8s/easyauth/pkg/gateway"
	"github.com/easyauth-k8s/easyauth/pkg/graph"
	"github.com/easyauth-k8s/easyauth/pkg/keys"
	"github.com/easyauth-k8s/easyauth/pkg/logger"
	"github.com/easyauth-k8s/easyauth/pkg/networking"
	"github.com/easyauth-k8s/easyauth/pkg/oidc"
	"github.com/easyauth-k8s/easyauth/pkg/session"
	"github.com/easyauth-k8s/easyauth/pkg/state"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the auth gateway",
	Long: `Start the gateway that answers the ingress controller's auth subrequests
and hosts the browser-visible sign-in, callback, and sign-out endpoints.`,
	RunE: runServe,
}

const (
	defaultGracefulTimeout = 30 * time.Second
	serverReadTimeout      = 10 * time.Second
	serverWriteTimeout     = 35 * time.Second
	serverIdleTimeout      = 60 * time.Second
)

func init() {
	serveCmd.Flags().String("config", "", "Path to an optional YAML configuration file")
	if err := viper.BindPFlag("config", serveCmd.Flags().Lookup("config")); err != nil {
		logger.Fatalf("failed to bind config flag: %v", err)
	}
}

func runServe(_ *cobra.Command, _ []string) error {
	ctx := context.Background()

	cfg, err := config.Load(viper.GetString("config"))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	material, err := keys.Load(cfg.DataProtectionPath)
	if err != nil {
		return fmt.Errorf("failed to load cookie key material: %w", err)
	}

	httpClient, err := networking.NewHttpClientBuilder().Build()
	if err != nil {
		return fmt.Errorf("failed to build HTTP client: %w", err)
	}

	sessions := session.NewManager(material.HashKey, material.BlockKey,
		time.Duration(cfg.SessionTTLHours)*time.Hour, cfg.CompressSessionClaims)
	states := state.NewCodec(material.HashKey, material.BlockKey)

	var bearer *auth.TokenValidator
	if cfg.AllowBearerToken {
		bearer, err = auth.NewTokenValidator(ctx, auth.TokenValidatorConfig{
			Issuer:   cfg.Issuer,
			Audience: cfg.BearerAudience,
		})
		if err != nil {
			return fmt.Errorf("failed to create bearer token validator: %w", err)
		}
	}
	resolver := auth.NewResolver(sessions, bearer)

	providerCfg := oidc.Config{
		Issuer:       cfg.Issuer,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		CallbackPath: cfg.CallbackPath,
		DomainHint:   cfg.TenantDomainHint,
		HTTPClient:   httpClient,
	}
	if cfg.GraphEnabled {
		retriever := graph.NewRetriever(httpClient, graph.RetrieverConfig{
			Issuer:       cfg.Issuer,
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
		})
		providerCfg.Manifests = graph.NewManifestCache(retriever, 0)
		providerCfg.Graph = graph.NewService(httpClient, "")
	}

	provider, err := oidc.NewProvider(ctx, providerCfg, material.HashKey, material.BlockKey)
	if err != nil {
		return fmt.Errorf("failed to initialize identity provider: %w", err)
	}

	gw := gateway.New(cfg, resolver, states, sessions, provider)

	server := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      gw.Router(),
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
		IdleTimeout:  serverIdleTimeout,
	}

	go func() {
		logger.Infof("gateway listening on %s", cfg.ListenAddress)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultGracefulTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server forced to shutdown: %v", err)
		return err
	}

	logger.Info("server shutdown complete")
	return nil
}
