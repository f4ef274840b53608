package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	oauth "github.com/veupathdb/oauth-server"
	echoapi "github.com/veupathdb/oauth-server/api/echo"
	_ "github.com/veupathdb/oauth-server/authenticators"
	"github.com/veupathdb/oauth-server/config"
)

func main() {
	configPath := flag.String("config", "", "path to the configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	initLogger(cfg)
	log.Info().
		Str("issuer", cfg.Issuer).
		Str("http_port", cfg.HTTPPort).
		Str("authenticator", cfg.Authenticator.Name).
		Int("allowed_clients", len(cfg.AllowedClients)).
		Msg("Configuration loaded, starting oauth-server")

	authenticator, err := oauth.NewAuthenticator(cfg.Authenticator.Name, cfg.Authenticator.Settings)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize authenticator")
	}
	defer authenticator.Close()

	keys, err := oauth.NewSigningKeyStore(cfg.KeySeed)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build signing keys from configured seed")
	}

	allowed := make([]oauth.AllowedClient, len(cfg.AllowedClients))
	for i, client := range cfg.AllowedClients {
		allowed[i] = oauth.AllowedClient{
			ID:               client.ClientID,
			Secret:           client.ClientSecret,
			Domains:          client.ClientDomains,
			AllowGuestTokens: client.AllowGuestTokens,
		}
		if err := keys.AddClientSecret(client.ClientID, client.ClientSecret); err != nil {
			log.Fatal().Err(err).Str("client_id", client.ClientID).Msg("Rejecting configured client secret")
		}
	}
	validator, err := oauth.NewClientValidator(allowed, cfg.ValidateDomains)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid client configuration")
	}

	tokens := oauth.NewTokenStore()
	tokenTTL := time.Duration(cfg.TokenTTLSecs) * time.Second
	tokens.StartSweeper(time.Duration(cfg.SweepIntervalSecs)*time.Second, tokenTTL)
	defer tokens.Close()

	sessions := oauth.NewSessionManager(time.Duration(cfg.SessionTTLSecs)*time.Second, tokens)
	defer sessions.Close()

	idSigner, err := oauth.SignerForAlgorithm(cfg.IDTokenSigning)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid id_token_signing setting")
	}
	bearerSigner, err := oauth.SignerForAlgorithm(cfg.BearerTokenSigning)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid bearer_token_signing setting")
	}

	service := oauth.NewOAuthService(oauth.OAuthServiceConfig{
		Issuer:                   cfg.Issuer,
		TokenTTL:                 tokenTTL,
		BearerTokenTTL:           time.Duration(cfg.BearerTokenTTLSecs) * time.Second,
		IncludeUserInfoWithToken: cfg.IncludeUserInfoWithToken,
		Validator:                validator,
		Sessions:                 sessions,
		Tokens:                   tokens,
		Factory:                  oauth.NewTokenFactory(authenticator),
		Keys:                     keys,
		Authenticator:            authenticator,
		IDTokenSigner:            idSigner,
		BearerTokenSigner:        bearerSigner,
	})

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogMethod: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			log.Debug().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Msg("request")
			return nil
		},
	}))

	echoapi.NewOAuth2API(service, oauth.NewJWKSService(keys)).RegisterRoutes(e)

	go func() {
		if err := e.Start(":" + cfg.HTTPPort); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()
	log.Info().Str("port", cfg.HTTPPort).Msg("HTTP server listening")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
}

func initLogger(cfg *config.ServerConfig) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.LogPretty {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	}
	log.Logger = logger
}
