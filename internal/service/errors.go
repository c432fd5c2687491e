package service

import (
	"errors"

	"github.com/marketplace_support/backend/internal/db"
)

var (
	ErrNotFound        = db.ErrNotFound
	ErrAlreadyResolved = db.ErrAlreadyResolved
	ErrSessionClosed   = db.ErrSessionClosed

	ErrFingerprintRequired = errors.New("visitor fingerprint is required")
	ErrEmptyContent        = errors.New("message content is empty")
	ErrContentTooLong      = errors.New("message content is too long")
	ErrInvalidSender       = errors.New("invalid sender type")
	ErrInvalidMode         = errors.New("invalid chat mode")
	ErrRateLimited         = errors.New("too many messages, slow down")
	ErrForbidden           = errors.New("not a participant of this conversation")
	ErrInvalidSplit        = errors.New("buyer percentage must be between 0 and 100")
	ErrInvalidAmount       = errors.New("order amount is out of range")
	ErrResolutionRequired  = errors.New("resolution text is required")
)

// MaxMessageLength bounds the content of a single chat or conversation message.
const MaxMessageLength = 4000
