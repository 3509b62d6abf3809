package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/goliatone/go-esim/adapters/gocommand"
	"github.com/goliatone/go-esim/adapters/gologger"
	esimcommand "github.com/goliatone/go-esim/command"
	"github.com/goliatone/go-esim/core"
	"github.com/goliatone/go-esim/internal/app"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "esimd: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig(os.Environ())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := gologger.NewJSONLogger(os.Getenv("ESIM_LOG_LEVEL"))

	command := "serve"
	if len(args) > 0 {
		command, args = args[0], args[1:]
	}
	switch command {
	case "serve":
		return serve(ctx, cfg, logger)
	case "migrate":
		if err := app.Migrate(ctx, cfg); err != nil {
			return err
		}
		logger.Info("migrations applied", "driver", cfg.Database.Driver)
		return nil
	case "provider-config":
		return putProviderConfig(ctx, cfg, logger, args)
	default:
		return fmt.Errorf("unknown command %q (serve, migrate, provider-config)", command)
	}
}

func serve(ctx context.Context, cfg core.Config, logger *gologger.SlogLogger) error {
	application, err := app.New(ctx, cfg, app.Options{Logger: logger})
	if err != nil {
		return err
	}
	defer func() {
		if err := application.Close(); err != nil {
			logger.Warn("shutdown incomplete", "error", err)
		}
	}()
	return application.Run(ctx)
}

// putProviderConfig stores partner credentials and webhook secrets in the
// provider config table.
func putProviderConfig(ctx context.Context, cfg core.Config, logger *gologger.SlogLogger, args []string) error {
	flags := flag.NewFlagSet("provider-config", flag.ContinueOnError)
	provider := flags.String("provider", cfg.Provider.Name, "provider or payment processor name")
	clientID := flags.String("client-id", "", "partner API client id")
	clientSecret := flags.String("client-secret", "", "partner API client secret")
	environment := flags.String("environment", string(core.EnvironmentSandbox), "sandbox or production")
	baseURL := flags.String("base-url", "", "partner API base url override")
	webhookSecret := flags.String("webhook-secret", "", "webhook signing secret")
	if err := flags.Parse(args); err != nil {
		return err
	}

	application, err := app.New(ctx, cfg, app.Options{Logger: logger})
	if err != nil {
		return err
	}
	defer application.Close()

	return gocommand.Dispatch(ctx, esimcommand.PutProviderConfigMessage{Document: core.ProviderConfigDocument{
		Provider:      *provider,
		ClientID:      *clientID,
		ClientSecret:  *clientSecret,
		Environment:   core.Environment(*environment),
		BaseURL:       *baseURL,
		WebhookSecret: *webhookSecret,
	}})
}
