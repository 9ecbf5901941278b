package murmur

import "github.com/layer-3/murmur/core"

// Error kinds. Every error returned by a Client matches one of them with
// errors.Is.
var (
	ErrIdentity    = core.ErrIdentity
	ErrNetwork     = core.ErrNetwork
	ErrGating      = core.ErrGating
	ErrPersistence = core.ErrPersistence
)

var (
	// ErrNotConnected is returned when an operation needs a session.
	ErrNotConnected = core.ErrNotConnected

	// ErrAlreadyConnected is returned when connecting a second wallet.
	ErrAlreadyConnected = core.ErrAlreadyConnected

	// ErrSignatureRejected is returned when the wallet refused to sign.
	ErrSignatureRejected = core.ErrSignatureRejected

	ErrInvalidAddress       = core.ErrInvalidAddress
	ErrConversationNotFound = core.ErrConversationNotFound
	ErrStreamTerminated     = core.ErrStreamTerminated
	ErrStaleSession         = core.ErrStaleSession

	// ErrConditionNotMet is returned when unlocking content whose access
	// condition the wallet does not satisfy.
	ErrConditionNotMet = core.ErrConditionNotMet

	ErrInvalidCondition      = core.ErrInvalidCondition
	ErrAuthorizationRejected = core.ErrAuthorizationRejected
	ErrRecordNotFound        = core.ErrRecordNotFound
	ErrUploadFailed          = core.ErrUploadFailed

	// ErrGatingDisabled is returned by gated operations when no encryption
	// service or content store is configured.
	ErrGatingDisabled = core.ErrGatingDisabled
)
