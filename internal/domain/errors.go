package domain

import "errors"

var (
	// ErrContentRejected is wrapped by generative backends when a safety
	// filter blocks the prompt or the answer.
	ErrContentRejected = errors.New("content rejected by safety filter")

	// ErrNoReply is wrapped when the backend answered without usable text.
	ErrNoReply = errors.New("no reply text produced")
)
