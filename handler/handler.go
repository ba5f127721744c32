// Package handler exposes the Telegram webhook both as an AWS Lambda API
// Gateway handler and as a chi HTTP route.
package handler

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"shop-assistant/internal/domain"
	"shop-assistant/internal/integrations/telegram"
	"shop-assistant/internal/observability"
	"shop-assistant/internal/usecase"
)

const (
	correlationHeader = "X-Correlation-Id"
	maxBodyBytes      = 1 << 20

	errorUnauthorized = "UNAUTHORIZED"
	errorInternal     = "INTERNAL_ERROR"
)

type ReplyUseCase interface {
	HandleMessage(ctx context.Context, in domain.IncomingMessage) (domain.OutboundReply, error)
}

type statusResponse struct {
	Status string `json:"status"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

type Handler struct {
	replies ReplyUseCase
	secret  string
}

type Option func(*Handler)

// WithWebhookSecret requires the Telegram secret token header on every
// request. An empty secret disables the check.
func WithWebhookSecret(secret string) Option {
	return func(h *Handler) {
		h.secret = strings.TrimSpace(secret)
	}
}

func NewHandler(uc ReplyUseCase, opts ...Option) (*Handler, error) {
	if uc == nil {
		return nil, errors.New("handler: reply use case must not be nil")
	}
	h := &Handler{replies: uc}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Handle is the Lambda entrypoint for API Gateway proxy events.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	body := []byte(req.Body)
	if req.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(req.Body)
		if err != nil {
			decoded = nil
		}
		body = decoded
	}

	correlationID := headerValue(req.Headers, correlationHeader)
	status, payload, correlationID := h.process(ctx, correlationID, headerValue(req.Headers, telegram.SecretHeaderName), body)

	raw, _ := json.Marshal(payload)
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: correlationID,
		},
		Body: string(raw),
	}, nil
}

// ServeWebhook is the net/http variant of Handle.
func (h *Handler) ServeWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		body = nil
	}
	status, payload, correlationID := h.process(r.Context(), r.Header.Get(correlationHeader), r.Header.Get(telegram.SecretHeaderName), body)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(correlationHeader, correlationID)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (h *Handler) process(ctx context.Context, correlationID, secret string, body []byte) (int, any, string) {
	if correlationID = strings.TrimSpace(correlationID); correlationID == "" {
		correlationID = newUUID()
	}
	ctx = observability.WithCorrelationID(ctx, correlationID)
	log := observability.LoggerFromContext(ctx)

	if h.secret != "" && subtle.ConstantTimeCompare([]byte(secret), []byte(h.secret)) != 1 {
		log.Warn("webhook secret mismatch")
		return http.StatusUnauthorized, errorResponse{Error: errorUnauthorized}, correlationID
	}

	if body == nil {
		return http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Message: "unreadable body"}, correlationID
	}
	msg, ok, err := telegram.ParseUpdate(body)
	if err != nil {
		log.Warn("invalid webhook body", "err", err)
		return http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Message: "invalid update"}, correlationID
	}
	if !ok {
		return http.StatusOK, statusResponse{Status: "no message"}, correlationID
	}

	if _, err := h.replies.HandleMessage(ctx, msg); err != nil {
		var ucErr *usecase.Error
		if errors.As(err, &ucErr) && ucErr.Code == usecase.ErrorInvalidInput {
			log.Info("message ignored", "reason", ucErr.Reason)
			return http.StatusOK, statusResponse{Status: "ignored"}, correlationID
		}
		log.Error("message handling failed", "err", err)
		return http.StatusInternalServerError, errorResponse{Error: errorInternal}, correlationID
	}
	return http.StatusOK, statusResponse{Status: "ok"}, correlationID
}

// headerValue looks a header up case-insensitively; API Gateway preserves
// the client's casing.
func headerValue(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return v
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

var newUUID = func() string {
	return uuid.NewString()
}
