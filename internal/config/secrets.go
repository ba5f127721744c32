package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Secret names a credential by its environment variable and its key under
// the SSM parameter prefix.
type Secret struct {
	Env   string
	Param string
}

var (
	TelegramBotToken      = Secret{Env: "TELEGRAM_BOT_TOKEN", Param: "telegram-bot-token"}
	TelegramWebhookSecret = Secret{Env: "TELEGRAM_WEBHOOK_SECRET", Param: "telegram-webhook-secret"}
	ShopifyAccessToken    = Secret{Env: "SHOPIFY_ACCESS_TOKEN", Param: "shopify-access-token"}
	GeminiAPIKey          = Secret{Env: "GEMINI_API_KEY", Param: "gemini-api-key"}
	OpenAIAPIKey          = Secret{Env: "OPENAI_API_KEY", Param: "open-ai-token"}
)

var ErrSecretNotFound = errors.New("config: secret not found")

// TokenSource resolves a secret by key. *paramstore.Client satisfies it.
type TokenSource interface {
	Token(ctx context.Context, key string) (string, error)
}

// Secrets resolves credentials from the environment first and then from the
// optional token source.
type Secrets struct {
	source TokenSource
	lookup lookupFunc
}

// NewSecrets accepts a nil source, in which case only the environment is read.
func NewSecrets(source TokenSource) *Secrets {
	return &Secrets{source: source, lookup: os.LookupEnv}
}

func (s *Secrets) Resolve(ctx context.Context, secret Secret) (string, error) {
	if v, ok := s.lookup(secret.Env); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v), nil
	}
	if s.source == nil {
		return "", fmt.Errorf("%w: set %s", ErrSecretNotFound, secret.Env)
	}
	v, err := s.source.Token(ctx, secret.Param)
	if err != nil {
		return "", fmt.Errorf("config: resolve %s: %w", secret.Param, err)
	}
	return v, nil
}

// ResolveOptional is Resolve for secrets that may legitimately be unset. It
// returns "" only when no source is configured; source errors are returned.
func (s *Secrets) ResolveOptional(ctx context.Context, secret Secret) (string, error) {
	v, err := s.Resolve(ctx, secret)
	if errors.Is(err, ErrSecretNotFound) {
		return "", nil
	}
	return v, err
}
