package usecase

import (
	"context"
	"errors"
	"fmt"

	"shop-assistant/internal/domain"
)

type ErrorCode string

const (
	ErrorInvalidInput    ErrorCode = "INVALID_INPUT"
	ErrorAttachmentFetch ErrorCode = "ATTACHMENT_FETCH_ERROR"
	ErrorContentRejected ErrorCode = "CONTENT_REJECTED"
	ErrorBackend         ErrorCode = "BACKEND_ERROR"
	ErrorNoReply         ErrorCode = "NO_REPLY_PRODUCED"
)

// FallbackReplies holds the fixed customer-facing text sent in place of a
// generated reply. Codes absent from the table fall back to the backend text.
var FallbackReplies = map[ErrorCode]string{
	ErrorContentRejected: "عذرًا، لا يمكنني المساعدة في هذا الطلب.",
	ErrorBackend:         "حدث خطأ أثناء معالجة الطلب. يرجى المحاولة لاحقًا.",
	ErrorNoReply:         "عذرًا، لم أتمكن من إنشاء رد مناسب.",
}

func FallbackReply(code ErrorCode) string {
	if r, ok := FallbackReplies[code]; ok {
		return r
	}
	return FallbackReplies[ErrorBackend]
}

type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}

// classifyGenerateError maps a generator failure onto the error taxonomy.
func classifyGenerateError(err error) *Error {
	switch {
	case errors.Is(err, domain.ErrContentRejected):
		return newError(ErrorContentRejected, "safety_blocked", err)
	case errors.Is(err, domain.ErrNoReply):
		return newError(ErrorNoReply, "empty_response", err)
	case errors.Is(err, context.DeadlineExceeded):
		return newError(ErrorBackend, "generator_timeout", err)
	}
	if status, ok := upstreamStatusCode(err); ok && status == 429 {
		return newError(ErrorBackend, "generator_rate_limited", err)
	}
	return newError(ErrorBackend, "generator_error", err)
}
