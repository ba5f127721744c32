package main

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"shop-assistant/handler"
	"shop-assistant/internal/catalog"
	"shop-assistant/internal/config"
	"shop-assistant/internal/domain"
	"shop-assistant/internal/integrations/gemini"
	"shop-assistant/internal/integrations/openai"
	"shop-assistant/internal/integrations/paramstore"
	"shop-assistant/internal/integrations/shopify"
	"shop-assistant/internal/integrations/telegram"
	"shop-assistant/internal/keywords"
	"shop-assistant/internal/repository"
	"shop-assistant/internal/session"
	"shop-assistant/internal/usecase"
)

// app holds the components shared by every subcommand. The webhook pipeline
// is built separately because it needs the bot and LLM credentials.
type app struct {
	cfg       *config.Config
	secrets   *config.Secrets
	catalog   *catalog.Cache
	keywords  *keywords.Index
	assembler *usecase.ContextAssembler
}

var loadAWSConfig = sync.OnceValues(func() (aws.Config, error) {
	return awsconfig.LoadDefaultConfig(context.Background())
})

func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	var source config.TokenSource
	if cfg.Secrets.ParamPrefix != "" {
		awsCfg, err := loadAWSConfig()
		if err != nil {
			return nil, fmt.Errorf("load AWS config: %w", err)
		}
		ps, err := paramstore.New(awsssm.NewFromConfig(awsCfg), cfg.Secrets.ParamPrefix)
		if err != nil {
			return nil, err
		}
		source = ps
	}
	secrets := config.NewSecrets(source)

	shopToken, err := secrets.Resolve(ctx, config.ShopifyAccessToken)
	if err != nil {
		return nil, err
	}
	shop, err := shopify.NewClient(cfg.ShopifyDomain(), shopToken, shopify.WithAPIVersion(cfg.Store.APIVersion))
	if err != nil {
		return nil, err
	}
	cache, err := catalog.New(shop, cfg.Catalog.RefreshInterval, catalog.WithFetchTimeout(cfg.Catalog.FetchTimeout))
	if err != nil {
		return nil, err
	}

	entries, err := loadKeywords(ctx, cfg)
	if err != nil {
		return nil, err
	}
	index, err := keywords.NewIndex(entries)
	if err != nil {
		return nil, err
	}

	assembler, err := usecase.NewContextAssembler(index, usecase.AssemblerConfig{
		Mode:                usecase.CatalogMode(cfg.Catalog.Mode),
		Instructions:        cfg.LLM.Instructions,
		MaxCatalogItems:     cfg.Catalog.MaxItems,
		MaxDescriptionRunes: cfg.Catalog.MaxDescriptionRunes,
	})
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:       cfg,
		secrets:   secrets,
		catalog:   cache,
		keywords:  index,
		assembler: assembler,
	}, nil
}

func loadKeywords(ctx context.Context, cfg *config.Config) ([]domain.KeywordEntry, error) {
	if cfg.Keywords.Source != config.KeywordsFromDynamoDB {
		return keywords.LoadFile(cfg.Keywords.File)
	}
	repo, err := newKeywordTable(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return repo.LoadKeywords(ctx)
}

func newKeywordTable(_ context.Context, cfg *config.Config) (*repository.Client, error) {
	if cfg.Keywords.Table == "" {
		return nil, errors.New("keywords.table is not configured")
	}
	awsCfg, err := loadAWSConfig()
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.Keywords.Table)
}

func (a *app) webhookHandler(ctx context.Context) (*handler.Handler, error) {
	botToken, err := a.secrets.Resolve(ctx, config.TelegramBotToken)
	if err != nil {
		return nil, err
	}
	var tgOpts []telegram.Option
	if a.cfg.Telegram.BaseURL != "" {
		tgOpts = append(tgOpts, telegram.WithBaseURL(a.cfg.Telegram.BaseURL))
	}
	bot, err := telegram.NewClient(botToken, tgOpts...)
	if err != nil {
		return nil, err
	}

	gen, err := a.generator(ctx)
	if err != nil {
		return nil, err
	}

	sessions := session.NewStore(
		session.WithMaxTurns(a.cfg.Session.MaxTurns),
		session.WithTTL(a.cfg.Session.TTL),
	)

	replies, err := usecase.NewReplyService(gen, bot, bot, a.catalog, sessions, a.assembler, usecase.ReplyConfig{
		StoreDomain:     a.cfg.Store.Domain,
		GenerateTimeout: a.cfg.LLM.Timeout,
		ImageTimeout:    a.cfg.Telegram.ImageTimeout,
		DeliverTimeout:  a.cfg.Telegram.SendTimeout,
	})
	if err != nil {
		return nil, err
	}

	webhookSecret, err := a.secrets.ResolveOptional(ctx, config.TelegramWebhookSecret)
	if err != nil {
		return nil, err
	}
	return handler.NewHandler(replies, handler.WithWebhookSecret(webhookSecret))
}

func (a *app) generator(ctx context.Context) (usecase.Generator, error) {
	llm := a.cfg.LLM
	switch llm.Backend {
	case config.BackendOpenAI:
		key, err := a.secrets.Resolve(ctx, config.OpenAIAPIKey)
		if err != nil {
			return nil, err
		}
		opts := []openai.Option{openai.WithModeration(llm.Moderation)}
		if llm.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(llm.BaseURL))
		}
		return openai.NewClient(key, llm.Model, opts...)
	default:
		key, err := a.secrets.Resolve(ctx, config.GeminiAPIKey)
		if err != nil {
			return nil, err
		}
		return gemini.NewClient(ctx, gemini.Config{
			APIKey:      key,
			Model:       llm.Model,
			Temperature: llm.Temperature,
			BaseURL:     llm.BaseURL,
		})
	}
}
