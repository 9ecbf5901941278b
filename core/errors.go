package core

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the services is joined with exactly
// one of these so callers can classify it with errors.Is.
var (
	ErrIdentity    = errors.New("identity error")
	ErrNetwork     = errors.New("network error")
	ErrGating      = errors.New("gating error")
	ErrPersistence = errors.New("persistence error")
)

var (
	ErrNotConnected          = errors.New("session is not connected")
	ErrAlreadyConnected      = errors.New("session is already connected with another signer")
	ErrSignatureRejected     = errors.New("signer rejected the signature request")
	ErrInvalidAddress        = errors.New("invalid ethereum address")
	ErrInvalidSignature      = errors.New("invalid signature")
	ErrKeyMaterialNotFound   = errors.New("key material not found")
	ErrKeyMaterialExists     = errors.New("key material already exists")
	ErrInvalidKeyMaterial    = errors.New("invalid key material")
	ErrStreamTerminated      = errors.New("stream terminated unexpectedly")
	ErrConversationNotFound  = errors.New("conversation not found")
	ErrStaleSession          = errors.New("session changed while the operation was in flight")
	ErrInvalidCondition      = errors.New("invalid access condition")
	ErrConditionNotMet       = errors.New("access condition not met")
	ErrAuthorizationRejected = errors.New("authorization rejected")
	ErrInvalidToken          = errors.New("invalid authorization token")
	ErrTokenExpired          = errors.New("authorization token has expired")
	ErrRecordNotFound        = errors.New("content record not found")
	ErrInvalidRecord         = errors.New("invalid content record")
	ErrEncryption            = errors.New("encryption service failure")
	ErrUploadFailed          = errors.New("content upload failed")
	ErrGatingDisabled        = errors.New("content gating is not configured")
)

// Classify joins err with kind unless it already carries it.
func Classify(kind, err error) error {
	if err == nil || errors.Is(err, kind) {
		return err
	}
	return fmt.Errorf("%w: %w", kind, err)
}
