package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/spf13/cobra"

	"shop-assistant/handler"
	"shop-assistant/internal/config"
	"shop-assistant/internal/keywords"
	"shop-assistant/internal/observability"
)

func main() {
	root := newRootCmd()
	// The Lambda runtime starts the binary without arguments.
	if len(os.Args) == 1 && os.Getenv("AWS_LAMBDA_RUNTIME_API") != "" {
		root.SetArgs([]string{"lambda"})
	}
	if err := root.Execute(); err != nil {
		slog.Error("command failed", "err", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "shop-assistant",
		Short:         "Telegram shopping assistant backed by a Shopify catalog",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("CONFIG_FILE"), "path to YAML config file")

	load := func() (*config.Config, error) {
		config.LoadDotEnv()
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		observability.Configure(os.Stdout, cfg.Log.Level)
		return cfg, nil
	}

	root.AddCommand(
		newServeCmd(load),
		newLambdaCmd(load),
		newMatchCmd(load),
		newImportKeywordsCmd(load),
	)
	return root
}

type loader func() (*config.Config, error)

func newServeCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			a, err := buildApp(ctx, cfg)
			if err != nil {
				return err
			}
			h, err := a.webhookHandler(ctx)
			if err != nil {
				return err
			}
			go a.catalog.Run(ctx, time.Now)

			return serve(cfg.Server, handler.NewRouter(h))
		},
	}
}

// serve blocks until SIGINT or SIGTERM, then drains in-flight requests.
func serve(cfg config.ServerConfig, routes http.Handler) error {
	log := observability.Logger()
	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      routes,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  2 * cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	case sig := <-quit:
		log.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.GracefulShutdown)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("graceful shutdown failed", "err", err)
		_ = srv.Close()
		return err
	}
	log.Info("server stopped")
	return nil
}

func newLambdaCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "lambda",
		Short: "Run as an AWS Lambda behind API Gateway",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			a, err := buildApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			h, err := a.webhookHandler(cmd.Context())
			if err != nil {
				return err
			}
			lambda.Start(h.Handle)
			return nil
		},
	}
}

func newMatchCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "match <text>",
		Short: "Show which products a message matches and the catalog excerpt it produces",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			a, err := buildApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			if _, err := a.catalog.RefreshIfDue(cmd.Context(), time.Now()); err != nil {
				return fmt.Errorf("fetch catalog: %w", err)
			}

			text := strings.Join(args, " ")
			out := cmd.OutOrStdout()
			matched := a.keywords.MatchesText(text)
			fmt.Fprintf(out, "matched %d of %d products\n", len(matched), a.keywords.Len())
			for _, title := range matched {
				fmt.Fprintf(out, "  %s\n", title)
			}
			payload := a.assembler.BuildContext(nil, text, nil, a.catalog.Get())
			fmt.Fprintf(out, "\n%s\n", payload.Catalog)
			return nil
		},
	}
}

func newImportKeywordsCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "import-keywords <file.yaml>",
		Short: "Write a keyword YAML file into the DynamoDB keyword table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			entries, err := keywords.LoadFile(args[0])
			if err != nil {
				return err
			}
			// Reject duplicates before writing anything.
			if _, err := keywords.NewIndex(entries); err != nil {
				return err
			}
			repo, err := newKeywordTable(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			if err := repo.PutKeywords(cmd.Context(), entries); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d keyword entries into %s\n", len(entries), cfg.Keywords.Table)
			return nil
		},
	}
}
